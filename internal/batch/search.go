package batch

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"

	"github.com/talgya/macrosim/internal/config"
)

// Targets are the outcomes a policy search aims for. Unemployment and
// inflation are percentages; a policy is feasible when it reaches at least
// GDP and at most Unemployment and Inflation.
type Targets struct {
	GDP          float64 `json:"gdp"`
	Unemployment float64 `json:"unemployment"`
	Inflation    float64 `json:"inflation"`
}

// Outcome is the final reading of one searched run.
type Outcome struct {
	GDP          float64 `json:"gdp"`
	Unemployment float64 `json:"unemployment"`
	Inflation    float64 `json:"inflation"`
}

type bounds struct{ lo, hi float64 }

var (
	taxRange      = bounds{0, 0.5}
	rateRange     = bounds{0, 0.1}
	welfareRange  = bounds{0, 2000}
	spendingRange = bounds{0, 50000}
)

// SearchOptions tunes the search. Zero values take the defaults noted.
type SearchOptions struct {
	Config    config.Config
	Steps     int     // default 25
	Samples   int     // random candidates, default 60
	Refine    int     // neighbours of the best candidate, default 30, negative disables
	Scale     float64 // neighbour radius as a share of each range, default 0.05
	Seed      int64   // drives candidate sampling and run seeds
	Workers   int
	OnOutcome func(Policy, Outcome, float64)
}

func (o *SearchOptions) defaults() {
	if o.Steps <= 0 {
		o.Steps = 25
	}
	if o.Samples <= 0 {
		o.Samples = 60
	}
	if o.Refine < 0 {
		o.Refine = 0
	} else if o.Refine == 0 {
		o.Refine = 30
	}
	if o.Scale <= 0 {
		o.Scale = 0.05
	}
}

// Recommendation is the outcome of Search.
type Recommendation struct {
	Policy    Policy  `json:"policy"`
	Predicted Outcome `json:"predicted"`
	Actual    Outcome `json:"actual"`
	Score     float64 `json:"score"`
	Feasible  bool    `json:"feasible"`
	Evaluated int     `json:"evaluated"`
	Note      string  `json:"note,omitempty"`
}

// Score is the distance from targets: the relative GDP shortfall plus
// weighted absolute misses on unemployment and inflation. Lower is better.
func Score(o Outcome, t Targets) float64 {
	gdpTarget := math.Max(t.GDP, 1)
	shortfall := math.Max(0, t.GDP-o.GDP) / gdpTarget
	return shortfall +
		0.5*math.Abs(o.Unemployment-t.Unemployment) +
		0.3*math.Abs(o.Inflation-t.Inflation)
}

func feasible(o Outcome, t Targets) bool {
	return o.GDP >= t.GDP && o.Unemployment <= t.Unemployment && o.Inflation <= t.Inflation
}

type candidate struct {
	policy  Policy
	outcome Outcome
	score   float64
	ok      bool
}

// Search samples random policies, refines around the best one and confirms
// the winner with a run twice as long. Feasible candidates are preferred
// over closer infeasible ones.
func Search(ctx context.Context, targets Targets, opts SearchOptions) (Recommendation, error) {
	opts.defaults()
	rng := rand.New(rand.NewSource(opts.Seed))
	runner := NewRunner(opts.Workers)

	policies := make([]Policy, opts.Samples)
	for i := range policies {
		policies[i] = samplePolicy(rng)
	}
	sampled, err := evaluate(ctx, runner, policies, targets, opts, rng)
	if err != nil {
		return Recommendation{}, fmt.Errorf("sample policies: %w", err)
	}
	best := pick(sampled)

	if opts.Refine > 0 {
		near := make([]Policy, opts.Refine)
		for i := range near {
			near[i] = samplePolicyNear(best.policy, opts.Scale, rng)
		}
		refined, err := evaluate(ctx, runner, near, targets, opts, rng)
		if err != nil {
			return Recommendation{}, fmt.Errorf("refine policies: %w", err)
		}
		if c := pick(refined); better(c, best) {
			best = c
		}
	}

	cfg := opts.Config
	cfg.Simulation.Seed = rng.Int63()
	confirm, err := runner.Run(ctx, []Job{{Name: "confirm", Config: cfg, Steps: opts.Steps * 2, Policy: &best.policy}})
	if err != nil {
		return Recommendation{}, fmt.Errorf("confirm policy: %w", err)
	}
	actual := outcomeOf(confirm[0])

	rec := Recommendation{
		Policy:    best.policy,
		Predicted: best.outcome,
		Actual:    actual,
		Score:     best.score,
		Feasible:  best.ok,
		Evaluated: opts.Samples + opts.Refine,
	}
	switch {
	case !best.ok:
		rec.Note = "Could not meet all targets exactly; showing closest match."
	case actual.GDP < targets.GDP:
		rec.Note = "Confirmation run under-delivers on GDP; consider manual tuning."
	case actual.Unemployment > targets.Unemployment || actual.Inflation > targets.Inflation:
		rec.Note = "Confirmation run exceeds target bounds; consider manual tuning."
	}

	slog.Info("policy search complete",
		"evaluated", rec.Evaluated,
		"score", rec.Score,
		"feasible", rec.Feasible,
	)
	return rec, nil
}

func evaluate(ctx context.Context, runner *Runner, policies []Policy, targets Targets, opts SearchOptions, rng *rand.Rand) ([]candidate, error) {
	jobs := make([]Job, len(policies))
	for i := range policies {
		cfg := opts.Config
		cfg.Simulation.Seed = rng.Int63()
		jobs[i] = Job{
			Name:   fmt.Sprintf("candidate-%d", i),
			Config: cfg,
			Steps:  opts.Steps,
			Policy: &policies[i],
		}
	}

	results, err := runner.Run(ctx, jobs)
	if err != nil {
		return nil, err
	}

	out := make([]candidate, len(results))
	for i, r := range results {
		o := outcomeOf(r)
		out[i] = candidate{policy: policies[i], outcome: o, score: Score(o, targets), ok: feasible(o, targets)}
		if opts.OnOutcome != nil {
			opts.OnOutcome(policies[i], o, out[i].score)
		}
	}
	return out, nil
}

// pick returns the lowest-scoring feasible candidate, or the lowest-scoring
// candidate overall when none is feasible.
func pick(cs []candidate) candidate {
	best := cs[0]
	for _, c := range cs[1:] {
		if better(c, best) {
			best = c
		}
	}
	return best
}

func better(c, than candidate) bool {
	if c.ok != than.ok {
		return c.ok
	}
	return c.score < than.score
}

func outcomeOf(r Result) Outcome {
	return Outcome{
		GDP:          r.Final.GDP,
		Unemployment: r.Final.Unemployment,
		Inflation:    r.Final.Inflation,
	}
}

func samplePolicy(rng *rand.Rand) Policy {
	return Policy{
		TaxRate:      uniform(rng, taxRange),
		InterestRate: uniform(rng, rateRange),
		Welfare:      uniform(rng, welfareRange),
		GovtSpending: uniform(rng, spendingRange),
	}
}

func samplePolicyNear(p Policy, scale float64, rng *rand.Rand) Policy {
	return Policy{
		TaxRate:      perturb(rng, p.TaxRate, scale, taxRange),
		InterestRate: perturb(rng, p.InterestRate, scale, rateRange),
		Welfare:      perturb(rng, p.Welfare, scale, welfareRange),
		GovtSpending: perturb(rng, p.GovtSpending, scale, spendingRange),
	}
}

func uniform(rng *rand.Rand, b bounds) float64 {
	return b.lo + rng.Float64()*(b.hi-b.lo)
}

func perturb(rng *rand.Rand, center, scale float64, b bounds) float64 {
	span := (b.hi - b.lo) * scale
	v := center + (rng.Float64()*2-1)*span
	return math.Min(b.hi, math.Max(b.lo, v))
}
