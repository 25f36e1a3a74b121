// Package policy provides the fiscal and monetary authorities.
package policy

import (
	"math"

	"github.com/talgya/macrosim/internal/agents"
	"github.com/talgya/macrosim/internal/config"
)

// Government taxes, pays welfare to the unemployed and buys goods.
type Government struct {
	cfg config.FiscalConfig

	VATRate        float64 `json:"vat_rate"`
	PayrollRate    float64 `json:"payroll_rate"`
	CorporateRate  float64 `json:"corporate_rate"`
	WelfarePayment float64 `json:"welfare_payment"`
	Spending       float64 `json:"spending"`
	Debt           float64 `json:"debt"`

	// Levels the countercyclical rule returns to. Explicit setters move them.
	BaselineWelfare  float64 `json:"baseline_welfare"`
	BaselineSpending float64 `json:"baseline_spending"`

	// Flows of the current step.
	VATRevenue       float64 `json:"vat_revenue"`
	PayrollRevenue   float64 `json:"payroll_revenue"`
	CorporateRevenue float64 `json:"corporate_revenue"`
	TaxRevenue       float64 `json:"tax_revenue"`
	WelfarePaid      float64 `json:"welfare_paid"`
	BudgetBalance    float64 `json:"budget_balance"`
}

// NewGovernment creates a fiscal authority with zero debt.
func NewGovernment(cfg config.FiscalConfig) *Government {
	return &Government{
		cfg:              cfg,
		VATRate:          clampUnit(cfg.VATRate),
		PayrollRate:      clampUnit(cfg.PayrollRate),
		CorporateRate:    clampUnit(cfg.CorporateRate),
		WelfarePayment:   math.Max(0, cfg.WelfarePayment),
		Spending:         math.Max(0, cfg.Spending),
		BaselineWelfare:  math.Max(0, cfg.WelfarePayment),
		BaselineSpending: math.Max(0, cfg.Spending),
	}
}

// SetVATRate sets the consumption tax rate, clamped to [0, 1].
func (g *Government) SetVATRate(rate float64) { g.VATRate = clampUnit(rate) }

// SetPayrollRate sets the payroll tax rate, clamped to [0, 1].
func (g *Government) SetPayrollRate(rate float64) { g.PayrollRate = clampUnit(rate) }

// SetCorporateRate sets the profit tax rate, clamped to [0, 1].
func (g *Government) SetCorporateRate(rate float64) { g.CorporateRate = clampUnit(rate) }

// SetWelfarePayment sets the per-household transfer and its baseline.
func (g *Government) SetWelfarePayment(amount float64) {
	g.WelfarePayment = math.Max(0, amount)
	g.BaselineWelfare = g.WelfarePayment
}

// SetSpending sets purchases per step and their baseline.
func (g *Government) SetSpending(amount float64) {
	g.Spending = math.Max(0, amount)
	g.BaselineSpending = g.Spending
}

// ScaleSpending multiplies current purchases without moving the baseline.
func (g *Government) ScaleSpending(factor float64) {
	g.Spending = math.Max(0, g.Spending*factor)
}

// CollectTaxes levies VAT on realized household consumption, payroll tax on
// each firm's wage bill and corporate tax on positive profit. VAT is
// remitted by sellers in proportion to their household sales; payroll and
// corporate tax are paid from firm cash.
func (g *Government) CollectTaxes(households []*agents.Household, firms []*agents.Firm) float64 {
	var vat, consumption float64
	for _, h := range households {
		due := h.Consumption * g.VATRate
		h.TaxesPaid += due
		vat += due
		consumption += h.Consumption
	}

	var householdSales float64
	for _, f := range firms {
		householdSales += f.HouseholdSales
	}

	var payroll, corporate float64
	for _, f := range firms {
		if householdSales > 0 {
			f.PayTax(vat * f.HouseholdSales / householdSales)
		}

		p := f.WageBill() * g.PayrollRate
		f.PayTax(p)
		payroll += p

		if f.Profit > 0 {
			c := f.Profit * g.CorporateRate
			f.PayTax(c)
			corporate += c
		}
	}

	g.VATRevenue = vat
	g.PayrollRevenue = payroll
	g.CorporateRevenue = corporate
	g.TaxRevenue = vat + payroll + corporate
	return g.TaxRevenue
}

// DistributeWelfare pays the transfer to every unemployed household.
func (g *Government) DistributeWelfare(households []*agents.Household) float64 {
	var paid float64
	for _, h := range households {
		if !h.Employed {
			h.ReceiveWelfare(g.WelfarePayment)
			paid += g.WelfarePayment
		}
	}
	g.WelfarePaid = paid
	return paid
}

// CalculateBudgetBalance books the step's surplus or deficit against debt.
// Debt never goes negative.
func (g *Government) CalculateBudgetBalance() float64 {
	g.BudgetBalance = g.TaxRevenue - (g.WelfarePaid + g.Spending)
	if g.BudgetBalance < 0 {
		g.Debt += -g.BudgetBalance
	} else {
		g.Debt = math.Max(0, g.Debt-g.BudgetBalance)
	}
	return g.BudgetBalance
}

// ApplyCountercyclicalPolicy moves spending and welfare toward targets set
// by labor-market slack. unemploymentPct is in percent. Above the high-slack
// threshold both targets rise with the distance to full unemployment; below
// the low-slack threshold they fall toward a trimmed baseline. The approach
// is exponential, faster when slack is high.
func (g *Government) ApplyCountercyclicalPolicy(unemploymentPct float64) {
	if !g.cfg.Countercyclical {
		return
	}
	high := math.Max(0, unemploymentPct-g.cfg.HighSlack) / math.Max(100-g.cfg.HighSlack, 1)
	low := math.Max(0, g.cfg.LowSlack-unemploymentPct) / math.Max(g.cfg.LowSlack, 1)

	spendingTarget := g.BaselineSpending
	welfareTarget := g.BaselineWelfare
	switch {
	case high > 0:
		spendingTarget *= 1 + 2*high
		welfareTarget *= 1 + 1.5*high
	case low > 0:
		spendingTarget *= 1 - 0.5*low
		welfareTarget *= 1 - 0.3*low
	}

	speed := 0.15
	if high > 0 {
		speed = 0.25
	}
	g.Spending = math.Max(0, g.Spending+(spendingTarget-g.Spending)*speed)
	g.WelfarePayment = math.Max(0, g.WelfarePayment+(welfareTarget-g.WelfarePayment)*speed)
}

// FiscalSummary is a read-only view for reporting.
type FiscalSummary struct {
	VATRate        float64 `json:"vat_rate"`
	PayrollRate    float64 `json:"payroll_rate"`
	CorporateRate  float64 `json:"corporate_rate"`
	WelfarePayment float64 `json:"welfare_payment"`
	Spending       float64 `json:"spending"`
	Debt           float64 `json:"debt"`
	TaxRevenue     float64 `json:"tax_revenue"`
	WelfarePaid    float64 `json:"welfare_paid"`
	BudgetBalance  float64 `json:"budget_balance"`
}

// Summary returns the current fiscal position.
func (g *Government) Summary() FiscalSummary {
	return FiscalSummary{
		VATRate:        g.VATRate,
		PayrollRate:    g.PayrollRate,
		CorporateRate:  g.CorporateRate,
		WelfarePayment: g.WelfarePayment,
		Spending:       g.Spending,
		Debt:           g.Debt,
		TaxRevenue:     g.TaxRevenue,
		WelfarePaid:    g.WelfarePaid,
		BudgetBalance:  g.BudgetBalance,
	}
}

// Step clears the per-step revenue flows. Budget balance and welfare paid
// persist so the last step stays inspectable.
func (g *Government) Step() {
	g.VATRevenue = 0
	g.PayrollRevenue = 0
	g.CorporateRevenue = 0
}

func clampUnit(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
