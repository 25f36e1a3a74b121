package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/talgya/macrosim/internal/agents"
	"github.com/talgya/macrosim/internal/policy"
)

// ErrUnknownCrisis is returned for crisis names other than recession and
// inflation.
var ErrUnknownCrisis = errors.New("unknown crisis")

// ParseCrisis resolves a crisis name.
func ParseCrisis(s string) (policy.Crisis, error) {
	kind, err := policy.ParseCrisis(s)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrUnknownCrisis, s)
	}
	return kind, nil
}

// TriggerCrisis applies a scripted shock, engages the central bank's preset
// response and forces a narration on the next step.
func (e *Economy) TriggerCrisis(kind policy.Crisis) error {
	switch kind {
	case policy.Recession:
		e.triggerRecession()
	case policy.Inflation:
		e.triggerInflation()
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCrisis, kind)
	}
	e.CentralBank.CrisisResponse(kind)
	e.gate.force()

	slog.Info("crisis triggered",
		"kind", string(kind),
		"step", e.stepCount,
		"interest_rate", e.CentralBank.InterestRate,
		"money_supply", e.CentralBank.MoneySupply,
	)
	return nil
}

// triggerRecession wipes out wealth and capital, collapses hiring plans and
// demand expectations, and makes households more cautious.
func (e *Economy) triggerRecession() {
	r := e.cfg.Crisis.Recession
	for _, h := range e.Households {
		h.Wealth *= r.Wealth
		h.PropensityToConsume = math.Max(r.MPCFloor, h.PropensityToConsume-r.MPCDrop)
	}

	depressed := math.Max(1, e.Goods.ExpectedDemandPerFirm(len(e.Firms))*r.ExpectedDemand)
	for _, f := range e.Firms {
		f.ApplyShock(agents.FirmShock{
			Capital:      r.Capital,
			Inventory:    r.Inventory,
			Wage:         r.Wage,
			Productivity: r.Productivity,
		})
		f.FloorWage(e.cfg.Labor.MinimumWage)
		f.ExpectedDemand = depressed
		f.LaborDemand = max(1, int(float64(f.LaborDemand)*r.LaborDemand))
	}

	e.Goods.ScaleDemand(r.MarketDemand)
	e.Goods.ScaleSensitivity(r.Sensitivity, 0, r.SensitivityCap)
	e.Government.ScaleSpending(r.SpendingCut)
	e.recessionCooldown = max(e.recessionCooldown, e.cfg.Crisis.RecessionCooldown)
}

// triggerInflation floods the economy with money and demand while
// inventories shrink and prices jump. Wages follow the price jump and are
// indexed to inflation for the cooldown, so the shock does not unwind
// through falling real demand alone.
func (e *Economy) triggerInflation() {
	s := e.cfg.Crisis.Inflation
	e.CentralBank.ScaleMoneySupply(s.MoneySupply)
	e.Government.ScaleSpending(s.Spending)
	for _, h := range e.Households {
		h.Wealth *= s.Wealth
	}
	e.Goods.ScaleDemand(s.MarketDemand)
	e.Goods.ScaleSensitivity(s.Sensitivity, s.SensitivityFloor, math.Inf(1))

	uplift := e.Goods.ExpectedDemandPerFirm(len(e.Firms))
	if uplift <= 0 {
		uplift = 1
	}
	for _, f := range e.Firms {
		f.ApplyShock(agents.FirmShock{Inventory: s.Inventory, Price: s.Price, Wage: s.Wage})
		if f.ExpectedDemand <= 0 {
			f.ExpectedDemand = uplift
		}
		f.ExpectedDemand = math.Min(s.DemandCap*uplift, f.ExpectedDemand*s.DemandGrowth+s.DemandBoost)
	}
	e.inflationCooldown = max(e.inflationCooldown, e.cfg.Crisis.InflationCooldown)
}
