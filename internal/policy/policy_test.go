package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/macrosim/internal/agents"
	"github.com/talgya/macrosim/internal/config"
)

func TestGovernmentSettersClamp(t *testing.T) {
	g := NewGovernment(config.Defaults().Fiscal)
	g.SetVATRate(1.7)
	assert.Equal(t, 1.0, g.VATRate)
	g.SetPayrollRate(-0.2)
	assert.Equal(t, 0.0, g.PayrollRate)
	g.SetWelfarePayment(-10)
	assert.Equal(t, 0.0, g.WelfarePayment)
	g.SetSpending(2500)
	assert.Equal(t, 2500.0, g.Spending)
	assert.Equal(t, 2500.0, g.BaselineSpending)
}

func TestCollectTaxes(t *testing.T) {
	cfg := config.Defaults()
	g := NewGovernment(cfg.Fiscal)

	h := agents.NewHousehold(0, 100, 0.7)
	h.Consumption = 1000

	winner := agents.NewFirm(0, 50000, 1000, cfg.Firm)
	winner.Hire(0)
	winner.Profit = 500
	winner.HouseholdSales = 1000

	loser := agents.NewFirm(1, 50000, 1000, cfg.Firm)
	loser.Profit = -300

	total := g.CollectTaxes([]*agents.Household{h}, []*agents.Firm{winner, loser})

	assert.InDelta(t, 150, g.VATRevenue, 1e-9)
	assert.InDelta(t, 100, g.PayrollRevenue, 1e-9)
	assert.InDelta(t, 100, g.CorporateRevenue, 1e-9, "losses are not subsidized")
	assert.InDelta(t, 350, total, 1e-9)
	assert.InDelta(t, 5000-350, winner.Cash, 1e-9)
	assert.InDelta(t, 5000, loser.Cash, 1e-9)
}

func TestWelfareOnlyToUnemployed(t *testing.T) {
	g := NewGovernment(config.Defaults().Fiscal)
	employed := agents.NewHousehold(0, 0, 0.7)
	employed.GetEmployed(0, 1000)
	idle := agents.NewHousehold(1, 0, 0.7)

	paid := g.DistributeWelfare([]*agents.Household{employed, idle})
	assert.InDelta(t, 500, paid, 1e-9)
	assert.Zero(t, employed.WelfareReceived)
	assert.InDelta(t, 500, idle.WelfareReceived, 1e-9)
}

func TestBudgetBalanceAndDebt(t *testing.T) {
	g := NewGovernment(config.Defaults().Fiscal)
	g.TaxRevenue = 4000
	g.WelfarePaid = 1000
	g.Spending = 10000
	bal := g.CalculateBudgetBalance()
	assert.Equal(t, g.TaxRevenue-(g.WelfarePaid+g.Spending), bal)
	assert.InDelta(t, 7000, g.Debt, 1e-9)

	g.TaxRevenue = 50000
	g.CalculateBudgetBalance()
	assert.Zero(t, g.Debt, "surplus pays debt down but not below zero")
}

func TestCountercyclicalApproach(t *testing.T) {
	tests := []struct {
		name  string
		u     float64
		moves func(t *testing.T, before, after float64)
	}{
		{"high slack loosens", 40, func(t *testing.T, b, a float64) { assert.Greater(t, a, b) }},
		{"tight market trims", 2, func(t *testing.T, b, a float64) { assert.Less(t, a, b) }},
		{"neutral zone holds", 11, func(t *testing.T, b, a float64) { assert.InDelta(t, b, a, 1e-9) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGovernment(config.Defaults().Fiscal)
			before := g.Spending
			g.ApplyCountercyclicalPolicy(tt.u)
			tt.moves(t, before, g.Spending)
		})
	}
}

func TestCountercyclicalIsGradual(t *testing.T) {
	g := NewGovernment(config.Defaults().Fiscal)
	g.ApplyCountercyclicalPolicy(100)
	// target is 3x baseline, first move covers a quarter of the gap
	assert.InDelta(t, 10000+0.25*20000, g.Spending, 1e-6)
}

func TestInterestRateClamp(t *testing.T) {
	cb := NewCentralBank(config.Defaults().Monetary)
	cb.SetInterestRate(0.5)
	assert.Equal(t, 0.20, cb.InterestRate)
	cb.SetInterestRate(-1)
	assert.Equal(t, 0.0, cb.InterestRate)
}

func TestTaylorRule(t *testing.T) {
	cb := NewCentralBank(config.Defaults().Monetary)
	assert.Equal(t, 0.05, cb.TaylorRule(0.10, 0.05), "inactive without auto policy")

	cb.EnableAutoPolicy(true)
	// target = 0.02 + 0.5*(0.10-0.02) - 0 = 0.06, move 30% of 0.01
	assert.InDelta(t, 0.053, cb.TaylorRule(0.10, 0.05), 1e-12)

	for i := 0; i < 200; i++ {
		cb.TaylorRule(5, 0)
	}
	assert.Equal(t, 0.20, cb.InterestRate)
}

func TestQuantitativeTighteningCap(t *testing.T) {
	cb := NewCentralBank(config.Defaults().Monetary)
	cb.QuantitativeTightening(1e9)
	assert.InDelta(t, 900000, cb.MoneySupply, 1e-6)
	cb.QuantitativeEasing(100000)
	assert.InDelta(t, 1000000, cb.MoneySupply, 1e-6)
}

func TestCrisisResponse(t *testing.T) {
	cb := NewCentralBank(config.Defaults().Monetary)
	cb.CrisisResponse(Recession)
	assert.Equal(t, 0.02, cb.InterestRate)
	assert.InDelta(t, 1100000, cb.MoneySupply, 1e-6)

	cb.CrisisResponse(Inflation)
	assert.Equal(t, 0.08, cb.InterestRate)
	assert.InDelta(t, 1100000*0.95, cb.MoneySupply, 1e-6)
}

func TestParseCrisis(t *testing.T) {
	k, err := ParseCrisis(" Recession ")
	require.NoError(t, err)
	assert.Equal(t, Recession, k)
	_, err = ParseCrisis("stagflation")
	assert.Error(t, err)
}
