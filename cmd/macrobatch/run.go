package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/talgya/macrosim/internal/batch"
	"github.com/talgya/macrosim/internal/persistence"
	"github.com/talgya/macrosim/internal/scenario"
)

var defaultSummaryMetrics = []string{"gdp", "unemployment", "inflation", "gini", "interest_rate", "govt_debt"}

func newRunCmd(g *globals) *cobra.Command {
	var (
		seeds      int
		steps      int
		workers    int
		presetName string
		archive    string
		metricList []string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the economy over consecutive seeds and summarize the final values",
		RunE: func(cmd *cobra.Command, args []string) error {
			if seeds <= 0 || steps <= 0 {
				return fmt.Errorf("--seeds and --steps must be positive")
			}
			cfg, err := g.load(cmd)
			if err != nil {
				return err
			}

			var preset *scenario.Preset
			if presetName != "" {
				lib, err := g.library()
				if err != nil {
					return err
				}
				p, err := lib.Get(presetName)
				if err != nil {
					return err
				}
				preset = &p
			}

			jobs := batch.SeedJobs(cfg, seeds, steps, preset)
			results, err := batch.NewRunner(workers).Run(cmd.Context(), jobs)
			if err != nil {
				return err
			}

			summaries, err := batch.SummarizeAll(results, metricList)
			if err != nil {
				return err
			}

			if archive != "" {
				db, err := persistence.Open(archive)
				if err != nil {
					return err
				}
				defer db.Close()
				if err := archiveResults(db, results); err != nil {
					return err
				}
				slog.Info("batch archived", "path", archive, "runs", len(results))
			}

			if g.asJSON {
				return writeJSON(cmd.OutOrStdout(), summaries)
			}
			label := "none"
			if preset != nil {
				label = preset.Key
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d runs x %d steps, seeds %d-%d, scenario %s\n\n",
				seeds, steps, cfg.Simulation.Seed, cfg.Simulation.Seed+int64(seeds)-1, label)
			return printSummaries(cmd.OutOrStdout(), summaries)
		},
	}
	cmd.Flags().IntVarP(&seeds, "seeds", "n", 10, "number of runs, seeded consecutively from the configured seed")
	cmd.Flags().IntVarP(&steps, "steps", "s", 50, "steps per run")
	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "parallel runs (0 = one per CPU)")
	cmd.Flags().StringVar(&presetName, "scenario", "", "apply this preset to every run")
	cmd.Flags().StringVar(&archive, "archive", "", "SQLite file to record every run into")
	cmd.Flags().StringSliceVarP(&metricList, "metric", "m", defaultSummaryMetrics, "indicators to summarize")
	return cmd
}

// archiveResults stores each result as its own run.
func archiveResults(db *persistence.DB, results []batch.Result) error {
	for _, r := range results {
		cfgJSON, err := json.Marshal(r.Job.Config)
		if err != nil {
			return fmt.Errorf("encode config for %s: %w", r.Job.Name, err)
		}
		run := persistence.Run{
			Name:       r.Job.Name,
			Seed:       r.Job.Config.Simulation.Seed,
			ConfigJSON: string(cfgJSON),
		}
		if r.Job.Preset != nil {
			run.Scenario = r.Job.Preset.Key
		}
		run, err = db.CreateRun(run)
		if err != nil {
			return err
		}
		if err := db.SaveSnapshots(run.ID, r.History); err != nil {
			return err
		}
	}
	return nil
}

func printSummaries(w io.Writer, summaries []batch.Summary) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "metric\tmean\tstddev\tmedian\tp5\tp95\tmin\tmax\t")
	for _, s := range summaries {
		cells := []string{s.Metric}
		for _, v := range []float64{s.Mean, s.StdDev, s.Median, s.P5, s.P95, s.Min, s.Max} {
			cells = append(cells, formatValue(v))
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t")+"\t")
	}
	return tw.Flush()
}

// formatValue prints large magnitudes as grouped integers and small ones
// with two decimals.
func formatValue(v float64) string {
	if math.Abs(v) >= 10_000 {
		return humanize.Comma(int64(math.Round(v)))
	}
	return fmt.Sprintf("%.2f", v)
}
