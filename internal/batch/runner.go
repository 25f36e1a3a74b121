// Package batch runs many independent economies in parallel for Monte-Carlo
// studies and policy search.
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/talgya/macrosim/internal/config"
	"github.com/talgya/macrosim/internal/engine"
	"github.com/talgya/macrosim/internal/metrics"
	"github.com/talgya/macrosim/internal/scenario"
)

// Policy is a set of fiscal and monetary levers applied before the first
// step. InterestRate is a fraction.
type Policy struct {
	TaxRate      float64 `json:"tax_rate"`
	InterestRate float64 `json:"interest_rate"`
	Welfare      float64 `json:"welfare"`
	GovtSpending float64 `json:"govt_spending"`
}

func (p Policy) apply(e *engine.Economy) {
	e.SetTaxRate(p.TaxRate)
	e.SetInterestRate(p.InterestRate)
	e.SetWelfarePayment(p.Welfare)
	e.SetGovtSpending(p.GovtSpending)
}

// Job describes one independent run. Preset is applied first, then Policy.
type Job struct {
	Name   string
	Config config.Config
	Steps  int
	Preset *scenario.Preset
	Policy *Policy
}

// Result is the complete record of a finished job.
type Result struct {
	Job     Job
	History []metrics.Snapshot
	Final   metrics.Snapshot
}

// Runner executes jobs on a bounded number of goroutines.
type Runner struct {
	workers int
}

// NewRunner returns a runner with the given parallelism. Zero or negative
// means one worker per CPU.
func NewRunner(workers int) *Runner {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Runner{workers: workers}
}

// Run executes every job and returns results in job order. The first
// failing job cancels the rest.
func (r *Runner) Run(ctx context.Context, jobs []Job) ([]Result, error) {
	start := time.Now()
	results := make([]Result, len(jobs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for i, job := range jobs {
		g.Go(func() error {
			res, err := runJob(ctx, job)
			if err != nil {
				return fmt.Errorf("job %d (%s): %w", i, job.Name, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	slog.Info("batch complete",
		"jobs", len(jobs),
		"workers", r.workers,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return results, nil
}

func runJob(ctx context.Context, job Job) (Result, error) {
	econ, err := engine.New(job.Config)
	if err != nil {
		return Result{}, err
	}
	if job.Preset != nil {
		if err := scenario.Apply(econ, *job.Preset); err != nil {
			return Result{}, err
		}
	}
	if job.Policy != nil {
		job.Policy.apply(econ)
	}

	for s := 0; s < job.Steps; s++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		econ.Step()
	}

	return Result{
		Job:     job,
		History: econ.History().Snapshots(),
		Final:   econ.CurrentState(),
	}, nil
}

// SeedJobs clones base into n jobs seeded base.Simulation.Seed, +1, +2, ...
func SeedJobs(base config.Config, n, steps int, preset *scenario.Preset) []Job {
	jobs := make([]Job, n)
	for i := range jobs {
		cfg := base
		cfg.Simulation.Seed = base.Simulation.Seed + int64(i)
		jobs[i] = Job{
			Name:   fmt.Sprintf("seed-%d", cfg.Simulation.Seed),
			Config: cfg,
			Steps:  steps,
			Preset: preset,
		}
	}
	return jobs
}
