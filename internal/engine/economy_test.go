package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/macrosim/internal/agents"
	"github.com/talgya/macrosim/internal/config"
	"github.com/talgya/macrosim/internal/metrics"
	"github.com/talgya/macrosim/internal/policy"
)

func newEconomy(t *testing.T, seed int64, mutate ...func(*config.Config)) *Economy {
	t.Helper()
	cfg := config.Defaults()
	cfg.Simulation.Seed = seed
	for _, m := range mutate {
		m(&cfg)
	}
	e, err := New(cfg)
	require.NoError(t, err)
	return e
}

func rollingTail(xs []float64, window int) float64 {
	return metrics.RollingMean(xs, len(xs), window)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.Defaults()
	cfg.Simulation.Households = -1
	_, err := New(cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestDeterminism(t *testing.T) {
	play := func() []metrics.Snapshot {
		e := newEconomy(t, 42, func(c *config.Config) { c.Noise.Amplitude = 0.1 })
		out := e.Run(10)
		e.SetInterestRate(0.07)
		e.SetTaxRate(0.2)
		out = append(out, e.Run(10)...)
		require.NoError(t, e.TriggerCrisis(policy.Recession))
		return append(out, e.Run(10)...)
	}
	assert.Equal(t, play(), play())
}

func TestDifferentSeedsDiverge(t *testing.T) {
	a := newEconomy(t, 1).Run(5)
	b := newEconomy(t, 2).Run(5)
	assert.NotEqual(t, a, b)
}

func checkInvariants(t *testing.T, e *Economy, s metrics.Snapshot) {
	t.Helper()
	cfg := e.Config()

	assert.GreaterOrEqual(t, s.Unemployment, 0.0)
	assert.LessOrEqual(t, s.Unemployment, 100.0)
	assert.GreaterOrEqual(t, s.Gini, 0.0)
	assert.LessOrEqual(t, s.Gini, 1.0)
	assert.GreaterOrEqual(t, s.GovtDebt, 0.0)
	assert.GreaterOrEqual(t, s.InterestRate, 0.0)
	assert.LessOrEqual(t, s.InterestRate, 20.0+1e-9)
	assert.Equal(t, s.TaxRevenue-(s.WelfarePaid+s.GovtSpending), s.BudgetBalance, "budget identity at step %d", s.Step)

	seen := make(map[agents.HouseholdID]agents.FirmID)
	for _, f := range e.Firms {
		assert.GreaterOrEqual(t, f.Price, cfg.Firm.PriceFloor)
		assert.GreaterOrEqual(t, f.Wage, cfg.Labor.MinimumWage)
		assert.GreaterOrEqual(t, f.Capital, 0.0)
		assert.GreaterOrEqual(t, f.Inventory, 0.0)
		assert.GreaterOrEqual(t, f.Cash, cfg.Firm.CashFloor)
		assert.LessOrEqual(t, f.Workers(), f.LaborDemand, "firm %d overfilled", f.ID)
		for _, id := range f.Employees {
			_, dup := seen[id]
			assert.False(t, dup, "household %d has two employers", id)
			seen[id] = f.ID
		}
	}
	for _, h := range e.Households {
		assert.GreaterOrEqual(t, h.Wealth, cfg.Household.WealthFloor)
		if h.Employed {
			assert.Equal(t, seen[h.ID], h.Employer)
		} else {
			assert.Equal(t, agents.NoEmployer, h.Employer)
		}
	}
}

func TestInvariantsHoldThroughShocks(t *testing.T) {
	e := newEconomy(t, 7, func(c *config.Config) { c.Monetary.AutoPolicy = true })
	schedule := map[int]func(){
		10: func() { require.NoError(t, e.TriggerCrisis(policy.Recession)) },
		25: func() { e.SetInterestRate(0.2); e.SetTaxRate(0.9) },
		35: func() { require.NoError(t, e.TriggerCrisis(policy.Inflation)) },
		45: func() { e.SetWelfarePayment(5000); e.SetGovtSpending(0) },
	}
	for i := 1; i <= 60; i++ {
		if fn, ok := schedule[i]; ok {
			fn()
		}
		s := e.Step()
		checkInvariants(t, e, s)
	}
}

func TestCurrentStateIsIdempotent(t *testing.T) {
	e := newEconomy(t, 5)
	assert.Equal(t, metrics.Snapshot{}, e.CurrentState())
	e.Run(10)

	first := e.CurrentState()
	assert.Equal(t, first, e.CurrentState())
	assert.Equal(t, 10, e.StepCount())

	h := e.History()
	assert.InDelta(t, first.GDP, h.Series("gdp")[9], 1e-9)
	assert.InDelta(t, first.Unemployment, h.Series("unemployment")[9], 1e-9)
	assert.InDelta(t, first.Inflation, h.Series("inflation")[9], 1e-9)
}

func TestResetReproducesFreshRun(t *testing.T) {
	fresh := newEconomy(t, 13).Run(15)

	e := newEconomy(t, 13)
	e.Run(8)
	e.SetInterestRate(0.15)
	require.NoError(t, e.TriggerCrisis(policy.Inflation))
	e.Run(4)
	e.Reset()

	assert.Zero(t, e.StepCount())
	assert.Zero(t, e.History().Len())
	assert.Equal(t, fresh, e.Run(15))
}

func TestEmptyPopulations(t *testing.T) {
	tests := []struct {
		name       string
		households int
		firms      int
		jobless    float64
	}{
		{"no firms", 50, 0, 100},
		{"no households", 0, 5, 0},
		{"nobody", 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEconomy(t, 3, func(c *config.Config) {
				c.Simulation.Households = tt.households
				c.Simulation.Firms = tt.firms
			})
			for _, s := range e.Run(5) {
				checkInvariants(t, e, s)
				assert.Equal(t, tt.jobless, s.Unemployment)
				assert.Zero(t, s.Employment)
			}
			require.NoError(t, e.TriggerCrisis(policy.Recession))
			require.NoError(t, e.TriggerCrisis(policy.Inflation))
			e.Run(3)
		})
	}
}

func TestTighteningRaisesUnemployment(t *testing.T) {
	loose := func(c *config.Config) { c.Monetary.InterestRate = 0.03 }
	base := newEconomy(t, 42, loose)
	tight := newEconomy(t, 42, loose)
	base.Run(20)
	tight.Run(20)

	tight.SetInterestRate(0.12)
	base.Run(20)
	tight.Run(20)

	baseAvg := rollingTail(base.History().Series("unemployment"), 5)
	tightAvg := rollingTail(tight.History().Series("unemployment"), 5)
	assert.GreaterOrEqual(t, tightAvg, baseAvg+5, "base %.2f tight %.2f", baseAvg, tightAvg)
}

func TestRecessionCrisis(t *testing.T) {
	e := newEconomy(t, 11)
	e.Run(25)
	h := e.History()
	preJobless := rollingTail(h.Series("unemployment"), 5)
	preGDP := rollingTail(h.Series("gdp"), 5)

	require.NoError(t, e.TriggerCrisis(policy.Recession))
	window := e.Run(6)

	maxJobless, minGDP := window[0].Unemployment, window[0].GDP
	for _, s := range window {
		maxJobless = max(maxJobless, s.Unemployment)
		minGDP = min(minGDP, s.GDP)
	}
	assert.GreaterOrEqual(t, maxJobless, preJobless+7)
	assert.LessOrEqual(t, minGDP, 0.85*preGDP)
	assert.NotEmpty(t, window[0].Narrative, "a crisis is always narrated")
}

func TestInflationCrisis(t *testing.T) {
	e := newEconomy(t, 19)
	e.Run(20)
	pre := rollingTail(e.History().Series("inflation"), 5)

	require.NoError(t, e.TriggerCrisis(policy.Inflation))
	e.Run(5)
	post := rollingTail(e.History().Series("inflation"), 5)
	assert.GreaterOrEqual(t, post, pre+2, "pre %.2f post %.2f", pre, post)
}

func TestCrisisMagnitudesFromConfig(t *testing.T) {
	tests := []struct {
		name          string
		kind          policy.Crisis
		mutate        func(*config.Config)
		wealth, price float64
	}{
		{"default recession", policy.Recession, func(*config.Config) {}, 0.6, 1},
		{"milder recession", policy.Recession, func(c *config.Config) { c.Crisis.Recession.Wealth = 0.9 }, 0.9, 1},
		{"default inflation", policy.Inflation, func(*config.Config) {}, 1.2, 1.12},
		{"sharper inflation", policy.Inflation, func(c *config.Config) {
			c.Crisis.Inflation.Wealth = 2
			c.Crisis.Inflation.Price = 1.5
		}, 2, 1.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEconomy(t, 4, tt.mutate)
			e.Run(5)
			wealth := make([]float64, len(e.Households))
			for i, h := range e.Households {
				wealth[i] = h.Wealth
			}
			prices := make([]float64, len(e.Firms))
			for i, f := range e.Firms {
				prices[i] = f.Price
			}

			require.NoError(t, e.TriggerCrisis(tt.kind))
			for i, h := range e.Households {
				assert.InDelta(t, wealth[i]*tt.wealth, h.Wealth, 1e-6)
			}
			for i, f := range e.Firms {
				assert.InDelta(t, prices[i]*tt.price, f.Price, 1e-6)
			}
		})
	}
}

func TestTriggerUnknownCrisis(t *testing.T) {
	e := newEconomy(t, 1)
	err := e.TriggerCrisis(policy.Crisis("stagflation"))
	assert.ErrorIs(t, err, ErrUnknownCrisis)

	_, err = ParseCrisis("boom")
	assert.ErrorIs(t, err, ErrUnknownCrisis)
	kind, err := ParseCrisis("INFLATION")
	require.NoError(t, err)
	assert.Equal(t, policy.Inflation, kind)
}

func TestPolicySettersClamp(t *testing.T) {
	e := newEconomy(t, 1)
	e.SetInterestRate(0.9)
	e.SetTaxRate(-1)
	e.SetPayrollRate(2)
	e.SetCorporateRate(0.3)
	e.SetWelfarePayment(-5)
	e.SetGovtSpending(1234)
	e.EnableAutoMonetaryPolicy(true)

	m := e.Monetary()
	assert.Equal(t, 0.20, m.InterestRate)
	assert.True(t, m.AutoPolicy)

	f := e.Fiscal()
	assert.Equal(t, 0.0, f.VATRate)
	assert.Equal(t, 1.0, f.PayrollRate)
	assert.Equal(t, 0.3, f.CorporateRate)
	assert.Equal(t, 0.0, f.WelfarePayment)
	assert.Equal(t, 1234.0, f.Spending)
}

type failingNarrator struct{ panics bool }

func (n failingNarrator) Narrate(context.Context, metrics.Snapshot, map[string][]float64) (string, error) {
	if n.panics {
		panic("narrator exploded")
	}
	return "", errors.New("upstream unavailable")
}

func TestNarratorFailuresFallBack(t *testing.T) {
	crisisStep := func(opts ...Option) metrics.Snapshot {
		cfg := config.Defaults()
		e, err := New(cfg, opts...)
		require.NoError(t, err)
		e.Run(5)
		require.NoError(t, e.TriggerCrisis(policy.Recession))
		return e.Step()
	}

	want := crisisStep()
	require.NotEmpty(t, want.Narrative)

	tests := []struct {
		name     string
		narrator Narrator
	}{
		{"error", failingNarrator{}},
		{"panic", failingNarrator{panics: true}},
		{"empty", NarratorFunc(func(context.Context, metrics.Snapshot, map[string][]float64) (string, error) {
			return "", nil
		})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := crisisStep(WithNarrator(tt.narrator))
			assert.Equal(t, want, got, "failure must not change the economy or the fallback text")
		})
	}
}

func TestNarratorReceivesHistory(t *testing.T) {
	var seenStep, seenLen int
	n := NarratorFunc(func(_ context.Context, cur metrics.Snapshot, h map[string][]float64) (string, error) {
		seenStep = cur.Step
		seenLen = len(h["gdp"])
		return "Markets reel.", nil
	})
	e, err := New(config.Defaults(), WithNarrator(n))
	require.NoError(t, err)
	e.Run(3)
	require.NoError(t, e.TriggerCrisis(policy.Inflation))
	s := e.Step()

	assert.Equal(t, "Markets reel.", s.Narrative)
	assert.Equal(t, 4, seenStep)
	assert.Equal(t, 4, seenLen)
	assert.Equal(t, "Markets reel.", e.History().Tail(1)[0].Narrative)
}

func TestNarrateOnDemand(t *testing.T) {
	calls := 0
	n := NarratorFunc(func(context.Context, metrics.Snapshot, map[string][]float64) (string, error) {
		calls++
		return "Shoppers hesitate.", nil
	})
	e, err := New(config.Defaults(), WithNarrator(n))
	require.NoError(t, err)

	assert.Empty(t, e.Narrate())
	assert.Zero(t, calls)

	e.Step()
	assert.Equal(t, "Shoppers hesitate.", e.Narrate())
	assert.Equal(t, "Shoppers hesitate.", e.CurrentState().Narrative)
	assert.Equal(t, "Shoppers hesitate.", e.History().Tail(1)[0].Narrative)
}

func TestNarrationDisabled(t *testing.T) {
	e := newEconomy(t, 1, func(c *config.Config) { c.Narration.Enabled = false })
	require.NoError(t, e.TriggerCrisis(policy.Recession))
	assert.Empty(t, e.Step().Narrative)
}

func TestNarrationGate(t *testing.T) {
	cfg := config.Defaults().Narration
	calm := metrics.Snapshot{GDP: 100, Unemployment: 10, Inflation: 1}
	slump := metrics.Snapshot{GDP: 80, Unemployment: 10, Inflation: 1}

	g := narrationGate{cooldown: 2}
	assert.False(t, g.observe(calm, calm, true, cfg))
	assert.True(t, g.observe(calm, slump, true, cfg), "20% GDP drop")
	assert.False(t, g.observe(slump, calm, true, cfg), "cooling down")
	g.force()
	assert.True(t, g.observe(calm, calm, true, cfg), "forced ignores cooldown")
	assert.False(t, g.observe(calm, calm, true, cfg))
	assert.False(t, g.observe(calm, calm, true, cfg))
	assert.True(t, g.observe(calm, metrics.Snapshot{GDP: 100, Unemployment: 16}, true, cfg), "jobless jump")
}

func TestLargeMove(t *testing.T) {
	cfg := config.Defaults().Narration
	prev := metrics.Snapshot{GDP: 1000, Unemployment: 10}
	tests := []struct {
		name    string
		cur     metrics.Snapshot
		hasPrev bool
		want    bool
	}{
		{"quiet", metrics.Snapshot{GDP: 1050, Unemployment: 12, Inflation: 2}, true, false},
		{"gdp boom", metrics.Snapshot{GDP: 1100, Unemployment: 10}, true, true},
		{"jobless", metrics.Snapshot{GDP: 1000, Unemployment: 5}, true, true},
		{"deflation", metrics.Snapshot{GDP: 1000, Unemployment: 10, Inflation: -6}, true, true},
		{"first step", metrics.Snapshot{GDP: 9999}, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, largeMove(prev, tt.cur, tt.hasPrev, cfg))
		})
	}
}

type indexExtension struct{ calls int }

func (x *indexExtension) Name() string { return "equity" }

func (x *indexExtension) Step(v View) map[string]float64 {
	x.calls++
	return map[string]float64{"stock_index": float64(v.Step) * 10}
}

// cumulativeExtension compounds GDP into an index, so its output depends on
// every step it has seen.
type cumulativeExtension struct{ level float64 }

func (x *cumulativeExtension) Name() string { return "cumulative" }

func (x *cumulativeExtension) Step(v View) map[string]float64 {
	x.level += v.Metrics.GDP
	return map[string]float64{"cumulative_gdp": x.level}
}

func (x *cumulativeExtension) Reset() { x.level = 0 }

// stickyExtension compounds the same way but has no reset hook.
type stickyExtension struct{ level float64 }

func (x *stickyExtension) Name() string { return "sticky" }

func (x *stickyExtension) Step(v View) map[string]float64 {
	x.level += v.Metrics.GDP
	return map[string]float64{"cumulative_gdp": x.level}
}

func TestResetReplaysStatefulExtensions(t *testing.T) {
	tests := []struct {
		name string
		ext  MarketExtension
		same bool
	}{
		{"resettable", &cumulativeExtension{}, true},
		{"no reset hook", &stickyExtension{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := New(config.Defaults(), WithExtension(tt.ext))
			require.NoError(t, err)
			first := e.Run(4)

			e.Reset()
			second := e.Run(4)

			require.Len(t, second, len(first))
			for i := range first {
				assert.Equal(t, first[i].GDP, second[i].GDP)
				if tt.same {
					assert.Equal(t, first[i].Extensions, second[i].Extensions)
				} else {
					assert.NotEqual(t, first[i].Extensions, second[i].Extensions)
				}
			}
		})
	}
}

func TestExtensionsAttachOutputs(t *testing.T) {
	x := &indexExtension{}
	e, err := New(config.Defaults(), WithExtension(x))
	require.NoError(t, err)
	e.Run(3)

	assert.Equal(t, 3, x.calls)
	assert.Equal(t, 30.0, e.CurrentState().Extensions["stock_index"])
	assert.Equal(t, []float64{10, 20, 30}, e.History().Series("stock_index"))
}

func TestTFPField(t *testing.T) {
	assert.Zero(t, newTFPField(1, config.NoiseConfig{}).at(3, 9), "disabled field is flat")

	f := newTFPField(1, config.NoiseConfig{Amplitude: 0.1, Frequency: 0.15})
	varied := false
	for step := 0; step < 50; step++ {
		v := f.at(2, step)
		assert.LessOrEqual(t, v, 0.1+1e-9)
		assert.GreaterOrEqual(t, v, -0.1-1e-9)
		if v != f.at(2, 0) {
			varied = true
		}
	}
	assert.True(t, varied)

	distinct := false
	for step := 0; step < 50; step++ {
		if f.at(1, step) != f.at(2, step) {
			distinct = true
		}
	}
	assert.True(t, distinct, "firms draw separate series")
	assert.Equal(t, f.at(4, 7), newTFPField(1, config.NoiseConfig{Amplitude: 0.1, Frequency: 0.15}).at(4, 7))
}
