package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/talgya/macrosim/internal/metrics"
	"github.com/talgya/macrosim/internal/persistence"
	"github.com/talgya/macrosim/internal/scenario"
)

func newScenariosCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "scenarios",
		Short: "List the scenario presets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			lib, err := g.library()
			if err != nil {
				return err
			}
			if g.asJSON {
				return writeJSON(cmd.OutOrStdout(), lib.List())
			}
			return printScenarios(cmd.OutOrStdout(), lib.List())
		},
	}
}

func printScenarios(w io.Writer, presets []scenario.Preset) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tNAME\tTAX\tRATE\tWELFARE\tSPENDING\tAUTO\tCRISIS")
	for _, p := range presets {
		crisis := p.Crisis
		if crisis == "" {
			crisis = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%.0f%%\t%.1f%%\t$%s\t$%s\t%v\t%s\n",
			p.Key, p.Name, p.TaxRate*100, p.InterestRate*100,
			humanize.Comma(int64(p.Welfare)), humanize.Comma(int64(p.GovtSpending)),
			p.AutoPolicy, crisis)
	}
	return tw.Flush()
}

func newHistoryCmd(g *globals) *cobra.Command {
	var (
		dbPath string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List archived runs, or print the steps of one run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if dbPath == "" {
				cfg, err := g.load(cmd)
				if err != nil {
					return err
				}
				dbPath = cfg.Storage.Path
			}
			db, err := persistence.Open(dbPath)
			if err != nil {
				return err
			}
			defer db.Close()

			out := cmd.OutOrStdout()
			if len(args) == 0 {
				runs, err := db.ListRuns(limit)
				if err != nil {
					return err
				}
				if g.asJSON {
					return writeJSON(out, runs)
				}
				return printRuns(out, runs, time.Now())
			}

			snaps, err := db.LoadHistory(args[0])
			if err != nil {
				return err
			}
			if g.asJSON {
				return writeJSON(out, snaps)
			}
			return printSnapshots(out, snaps)
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite archive (defaults to the configured storage path)")
	cmd.Flags().IntVar(&limit, "limit", 20, "runs to list")
	return cmd
}

func printRuns(w io.Writer, runs []persistence.Run, now time.Time) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSEED\tSCENARIO\tSTEPS\tCREATED")
	for _, r := range runs {
		sc := r.Scenario
		if sc == "" {
			sc = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%d\t%s\n",
			r.ID, r.Name, r.Seed, sc, r.Steps, humanize.RelTime(r.Created(), now, "ago", "from now"))
	}
	return tw.Flush()
}

func printSnapshots(w io.Writer, snaps []metrics.Snapshot) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "step\tgdp\tunemployment\tinflation\trate\tgini\tdebt\t")
	for _, s := range snaps {
		fmt.Fprintf(tw, "%d\t$%s\t%.2f%%\t%.2f%%\t%.2f%%\t%.3f\t$%s\t\n",
			s.Step, humanize.Comma(int64(s.GDP)), s.Unemployment, s.Inflation,
			s.InterestRate, s.Gini, humanize.Comma(int64(s.GovtDebt)))
	}
	return tw.Flush()
}
