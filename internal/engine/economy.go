// Package engine owns the economy: it builds the agent population, runs the
// fixed per-step pipeline, exposes policy controls and crisis triggers, and
// paces stepping for long-running services.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/talgya/macrosim/internal/agents"
	"github.com/talgya/macrosim/internal/config"
	"github.com/talgya/macrosim/internal/economy"
	"github.com/talgya/macrosim/internal/llm"
	"github.com/talgya/macrosim/internal/metrics"
	"github.com/talgya/macrosim/internal/policy"
)

// Economy holds the complete model state and wires the markets and
// authorities together. It is not safe for concurrent use; wrap it in an
// Engine when more than one goroutine needs it.
type Economy struct {
	cfg config.Config
	rng *rand.Rand

	Households  []*agents.Household
	Firms       []*agents.Firm
	Government  *policy.Government
	CentralBank *policy.CentralBank
	Labor       *economy.LaborMarket
	Goods       *economy.GoodsMarket

	metrics    *metrics.Aggregator
	narrator   Narrator
	extensions []MarketExtension
	noise      *tfpField
	gate       narrationGate

	stepCount         int
	recessionCooldown int
	inflationCooldown int
}

// Option customizes an Economy at construction.
type Option func(*Economy)

// WithNarrator installs the collaborator that writes narrative text when the
// narration gate opens. Without one the built-in template is used.
func WithNarrator(n Narrator) Option {
	return func(e *Economy) { e.narrator = n }
}

// WithExtension appends a market extension. Extensions run in the order
// they were added.
func WithExtension(x MarketExtension) Option {
	return func(e *Economy) { e.extensions = append(e.extensions, x) }
}

// New validates cfg and builds an economy seeded from cfg.Simulation.Seed.
func New(cfg config.Config, opts ...Option) (*Economy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("new economy: %w", err)
	}
	e := &Economy{cfg: cfg}
	for _, opt := range opts {
		opt(e)
	}
	e.build()
	slog.Info("economy created",
		"households", len(e.Households),
		"firms", len(e.Firms),
		"seed", cfg.Simulation.Seed,
	)
	return e, nil
}

// build (re)creates every agent, market and authority from the stored
// configuration. All draws come from a freshly seeded rng so that a rebuild
// is indistinguishable from a fresh construction.
func (e *Economy) build() {
	cfg := e.cfg
	e.rng = rand.New(rand.NewSource(cfg.Simulation.Seed))

	e.Households = make([]*agents.Household, cfg.Simulation.Households)
	for i := range e.Households {
		wealth := e.rng.NormFloat64()*cfg.Household.WealthStd + cfg.Household.WealthMean
		wealth = math.Max(cfg.Household.WealthMin, wealth)
		e.Households[i] = agents.NewHousehold(agents.HouseholdID(i), wealth, cfg.Household.PropensityToConsume)
	}

	e.Firms = make([]*agents.Firm, cfg.Simulation.Firms)
	for i := range e.Firms {
		capital := e.rng.NormFloat64()*cfg.Firm.CapitalStd + cfg.Firm.CapitalMean
		capital = math.Max(cfg.Firm.CapitalMin, capital)
		e.Firms[i] = agents.NewFirm(agents.FirmID(i), capital, cfg.Labor.InitialWage, cfg.Firm)
	}

	e.Government = policy.NewGovernment(cfg.Fiscal)
	e.CentralBank = policy.NewCentralBank(cfg.Monetary)
	e.Labor = economy.NewLaborMarket(cfg.Labor, e.rng)
	e.Goods = economy.NewGoodsMarket(cfg.Goods, cfg.Household, cfg.Firm)

	e.metrics = metrics.NewAggregator()
	e.noise = newTFPField(cfg.Simulation.Seed, cfg.Noise)
	e.gate = narrationGate{cooldown: cfg.Narration.Cooldown}
	e.stepCount = 0
	e.recessionCooldown = 0
	e.inflationCooldown = 0
}

// Step advances the economy one period and returns its snapshot.
func (e *Economy) Step() metrics.Snapshot {
	rate := e.CentralBank.InterestRate

	// 1. Labor demand from firm-level or market-wide expectations.
	e.planLabor(rate)

	// 2. Labor clearing. The fiscal rule and goods-market expectations read
	// only the unemployment it produces.
	labor := e.Labor.ClearMarket(e.Households, e.Firms)
	e.Government.ApplyCountercyclicalPolicy(labor.UnemploymentRate * 100)
	e.Goods.AdjustDemandExpectations(labor.UnemploymentRate)

	// 3. Transfers.
	e.Government.DistributeWelfare(e.Households)

	// 4. Goods clearing.
	e.applyTFPShocks()
	goods := e.Goods.ClearMarket(e.Households, e.Firms, e.Government.Spending)

	// 5. Households commit what they actually bought.
	for i, h := range e.Households {
		h.FinalizeConsumption(goods.Spending[i], goods.Quantity[i], e.cfg.Household.WealthFloor)
	}

	// 6. Firm bookkeeping and investment.
	for _, f := range e.Firms {
		f.PayWages()
		f.CalculateProfit()
		f.MakeInvestmentDecision(rate)
	}

	// 7. Taxes on the realized flows.
	e.Government.CollectTaxes(e.Households, e.Firms)

	// 8. Wages respond to this period's shortages, and chase prices while an
	// inflation shock is running.
	e.Labor.AdjustWages(e.Firms)
	if e.inflationCooldown > 0 {
		e.Labor.IndexWages(e.Firms, goods.Inflation*e.cfg.Crisis.WageIndexation)
	}

	// 9. Monetary rule.
	if e.CentralBank.AutoPolicy {
		e.CentralBank.TaylorRule(goods.Inflation, labor.UnemploymentRate)
	}

	// 10. Budget.
	e.Government.CalculateBudgetBalance()

	// 11. Metrics.
	e.stepCount++
	prev, hasPrev := e.latest()
	snap := e.snapshot(labor, goods)
	snap.Extensions = e.runExtensions(snap)
	e.metrics.Update(snap)

	// 12. Narrative hook.
	if e.cfg.Narration.Enabled && e.gate.observe(prev, snap, hasPrev, e.cfg.Narration) {
		e.metrics.SetNarrative(e.narrate())
	}

	// 13. Time advances; agents reset their transient fields.
	e.activate()
	if e.recessionCooldown > 0 {
		e.recessionCooldown--
	}
	if e.inflationCooldown > 0 {
		e.inflationCooldown--
	}

	latest := e.metrics.Latest()
	slog.Debug("step",
		"step", latest.Step,
		"gdp", fmt.Sprintf("%.1f", latest.GDP),
		"unemployment", fmt.Sprintf("%.2f", latest.Unemployment),
		"inflation", fmt.Sprintf("%.2f", latest.Inflation),
		"rate", fmt.Sprintf("%.2f", latest.InterestRate),
	)
	return latest
}

// Run advances steps periods and returns their snapshots in order.
func (e *Economy) Run(steps int) []metrics.Snapshot {
	out := make([]metrics.Snapshot, 0, max(steps, 0))
	for i := 0; i < steps; i++ {
		out = append(out, e.Step())
	}
	return out
}

// CurrentState returns the latest snapshot without advancing time.
func (e *Economy) CurrentState() metrics.Snapshot { return e.metrics.Latest() }

// History exposes the recorded indicator series.
func (e *Economy) History() *metrics.History { return e.metrics.History() }

// StepCount is the number of completed steps since construction or reset.
func (e *Economy) StepCount() int { return e.stepCount }

// Config returns the configuration the economy was built from.
func (e *Economy) Config() config.Config { return e.cfg }

// Fiscal returns the government's current position.
func (e *Economy) Fiscal() policy.FiscalSummary { return e.Government.Summary() }

// Monetary returns the central bank's current position.
func (e *Economy) Monetary() policy.MonetarySummary { return e.CentralBank.Summary() }

// Reset discards all agents, markets and history and rebuilds them from the
// configuration, reseeding the rng. The narrator is kept; extensions stay
// installed and those implementing Resetter are cleared.
func (e *Economy) Reset() {
	e.build()
	e.resetExtensions()
	slog.Info("economy reset", "seed", e.cfg.Simulation.Seed)
}

// SetTaxRate sets the VAT rate, the headline consumption tax.
func (e *Economy) SetTaxRate(rate float64) {
	e.Government.SetVATRate(rate)
	slog.Info("policy change", "vat_rate", e.Government.VATRate)
}

// SetPayrollRate sets the employer payroll tax rate.
func (e *Economy) SetPayrollRate(rate float64) {
	e.Government.SetPayrollRate(rate)
	slog.Info("policy change", "payroll_rate", e.Government.PayrollRate)
}

// SetCorporateRate sets the tax rate on positive firm profit.
func (e *Economy) SetCorporateRate(rate float64) {
	e.Government.SetCorporateRate(rate)
	slog.Info("policy change", "corporate_rate", e.Government.CorporateRate)
}

// SetInterestRate fixes the policy rate. The Taylor rule, when enabled,
// moves it again on the next step.
func (e *Economy) SetInterestRate(rate float64) {
	e.CentralBank.SetInterestRate(rate)
	slog.Info("policy change", "interest_rate", e.CentralBank.InterestRate)
}

// SetWelfarePayment sets the transfer paid to each unemployed household.
func (e *Economy) SetWelfarePayment(amount float64) {
	e.Government.SetWelfarePayment(amount)
	slog.Info("policy change", "welfare_payment", e.Government.WelfarePayment)
}

// SetGovtSpending sets per-step government purchases.
func (e *Economy) SetGovtSpending(amount float64) {
	e.Government.SetSpending(amount)
	slog.Info("policy change", "govt_spending", e.Government.Spending)
}

// EnableAutoMonetaryPolicy hands the policy rate to the Taylor rule.
func (e *Economy) EnableAutoMonetaryPolicy(on bool) {
	e.CentralBank.EnableAutoPolicy(on)
	slog.Info("policy change", "auto_monetary_policy", on)
}

func (e *Economy) planLabor(rate float64) {
	baseline := e.Goods.ExpectedDemandPerFirm(len(e.Firms))
	plan := agents.LaborPlan{
		InterestRate: rate,
		Households:   len(e.Households),
		Firms:        len(e.Firms),
		BaselineWage: e.cfg.Labor.InitialWage,
	}
	for _, f := range e.Firms {
		expected := f.ExpectedDemand
		if expected <= 0 {
			expected = baseline
		}
		if e.recessionCooldown > 0 {
			expected *= e.cfg.Crisis.RecessionDemand
		}
		if e.inflationCooldown > 0 {
			expected *= e.cfg.Crisis.InflationDemand
		}
		f.DetermineLaborDemand(expected, plan)
	}
}

func (e *Economy) applyTFPShocks() {
	for i, f := range e.Firms {
		f.TFPShock = e.noise.at(i, e.stepCount)
	}
}

func (e *Economy) snapshot(labor economy.LaborResult, goods economy.GoodsResult) metrics.Snapshot {
	var gdp, priceSum float64
	for _, f := range e.Firms {
		gdp += f.Revenue
		priceSum += f.Price
	}
	avgPrice := 0.0
	if len(e.Firms) > 0 {
		avgPrice = priceSum / float64(len(e.Firms))
	}

	wealth := make([]float64, len(e.Households))
	var income float64
	employed := 0
	for i, h := range e.Households {
		wealth[i] = h.Wealth
		if h.Employed {
			income += h.Income
			employed++
		}
	}
	avgWage := 0.0
	if employed > 0 {
		avgWage = income / float64(employed)
	}

	g := e.Government
	return metrics.Snapshot{
		Step:          e.stepCount,
		GDP:           gdp,
		Unemployment:  labor.UnemploymentRate * 100,
		Inflation:     goods.Inflation * 100,
		Gini:          metrics.Gini(wealth),
		AvgWage:       avgWage,
		AvgPrice:      avgPrice,
		CPI:           goods.CPI,
		GovtDebt:      g.Debt,
		BudgetBalance: g.BudgetBalance,
		TaxRevenue:    g.TaxRevenue,
		WelfarePaid:   g.WelfarePaid,
		GovtSpending:  g.Spending,
		GovtPurchases: goods.GovtPurchases,
		InterestRate:  e.CentralBank.InterestRate * 100,
		MoneySupply:   e.CentralBank.MoneySupply,
		Employment:    float64(labor.Employment),
		TotalDemand:   goods.TotalDemand,
		TotalSupply:   goods.TotalSupply,
		UnitsSold:     goods.UnitsSold,
	}
}

func (e *Economy) latest() (metrics.Snapshot, bool) {
	if e.metrics.History().Len() == 0 {
		return metrics.Snapshot{}, false
	}
	return e.metrics.Latest(), true
}

// Narrate writes a fresh narrative for the latest snapshot and attaches it.
// Before the first step there is nothing to describe.
func (e *Economy) Narrate() string {
	if e.stepCount == 0 {
		return ""
	}
	text := e.narrate()
	e.metrics.SetNarrative(text)
	return text
}

// narrate asks the narrator for text and falls back to the template when
// none is installed or it fails or panics.
func (e *Economy) narrate() string {
	current := e.metrics.Latest()
	history := e.metrics.History().All()
	if e.narrator == nil {
		return llm.Fallback(current, history)
	}

	timeout := time.Duration(e.cfg.Narration.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	text, err := safeNarrate(ctx, e.narrator, current, history)
	if err != nil || text == "" {
		if err != nil {
			slog.Warn("narrator failed, using template", "step", current.Step, "error", err)
		}
		return llm.Fallback(current, history)
	}
	return text
}
