package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/talgya/macrosim/internal/batch"
)

func newSearchCmd(g *globals) *cobra.Command {
	var (
		targets batch.Targets
		opts    batch.SearchOptions
	)
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search fiscal and monetary levers for a policy that meets the targets",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load(cmd)
			if err != nil {
				return err
			}
			opts.Config = cfg
			if !cmd.Flags().Changed("seed") {
				opts.Seed = cfg.Simulation.Seed
			}
			opts.OnOutcome = func(p batch.Policy, o batch.Outcome, score float64) {
				slog.Debug("candidate evaluated",
					"tax_rate", p.TaxRate,
					"interest_rate", p.InterestRate,
					"gdp", o.GDP,
					"unemployment", o.Unemployment,
					"inflation", o.Inflation,
					"score", score,
				)
			}

			rec, err := batch.Search(cmd.Context(), targets, opts)
			if err != nil {
				return err
			}
			if g.asJSON {
				return writeJSON(cmd.OutOrStdout(), rec)
			}
			printRecommendation(cmd.OutOrStdout(), targets, rec)
			return nil
		},
	}
	cmd.Flags().Float64Var(&targets.GDP, "gdp", 0, "minimum GDP")
	cmd.Flags().Float64Var(&targets.Unemployment, "unemployment", 5, "maximum unemployment, percent")
	cmd.Flags().Float64Var(&targets.Inflation, "inflation", 2, "maximum inflation, percent")
	cmd.Flags().IntVarP(&opts.Steps, "steps", "s", 25, "steps per candidate run")
	cmd.Flags().IntVar(&opts.Samples, "samples", 60, "random candidates")
	cmd.Flags().IntVar(&opts.Refine, "refine", 30, "neighbours of the best candidate (negative disables)")
	cmd.Flags().Float64Var(&opts.Scale, "scale", 0.05, "neighbour radius as a share of each lever's range")
	cmd.Flags().Int64Var(&opts.Seed, "seed", 0, "search seed (defaults to the configured seed)")
	cmd.Flags().IntVarP(&opts.Workers, "workers", "w", 0, "parallel runs (0 = one per CPU)")
	cmd.MarkFlagRequired("gdp")
	return cmd
}

func printRecommendation(w io.Writer, t batch.Targets, rec batch.Recommendation) {
	fmt.Fprintf(w, "Targets: GDP >= $%s, unemployment <= %.1f%%, inflation <= %.1f%%\n",
		humanize.Comma(int64(t.GDP)), t.Unemployment, t.Inflation)
	fmt.Fprintf(w, "Evaluated %d candidates (score %.4f, feasible %v)\n\n", rec.Evaluated, rec.Score, rec.Feasible)

	fmt.Fprintln(w, "Recommended policy:")
	fmt.Fprintf(w, "  tax rate       %5.1f%%\n", rec.Policy.TaxRate*100)
	fmt.Fprintf(w, "  interest rate  %5.2f%%\n", rec.Policy.InterestRate*100)
	fmt.Fprintf(w, "  welfare        $%s\n", humanize.Comma(int64(rec.Policy.Welfare)))
	fmt.Fprintf(w, "  govt spending  $%s\n\n", humanize.Comma(int64(rec.Policy.GovtSpending)))

	fmt.Fprintf(w, "  %-12s %14s %14s\n", "", "search", "confirmation")
	fmt.Fprintf(w, "  %-12s %14s %14s\n", "gdp", "$"+humanize.Comma(int64(rec.Predicted.GDP)), "$"+humanize.Comma(int64(rec.Actual.GDP)))
	fmt.Fprintf(w, "  %-12s %13.2f%% %13.2f%%\n", "unemployment", rec.Predicted.Unemployment, rec.Actual.Unemployment)
	fmt.Fprintf(w, "  %-12s %13.2f%% %13.2f%%\n", "inflation", rec.Predicted.Inflation, rec.Actual.Inflation)
	if rec.Note != "" {
		fmt.Fprintf(w, "\n%s\n", rec.Note)
	}
}
