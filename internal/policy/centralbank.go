package policy

import (
	"fmt"
	"math"
	"strings"

	"github.com/talgya/macrosim/internal/config"
)

// Crisis names a scripted shock.
type Crisis string

const (
	Recession Crisis = "recession"
	Inflation Crisis = "inflation"
)

// ParseCrisis accepts a crisis name in any case.
func ParseCrisis(s string) (Crisis, error) {
	switch Crisis(strings.ToLower(strings.TrimSpace(s))) {
	case Recession:
		return Recession, nil
	case Inflation:
		return Inflation, nil
	}
	return "", fmt.Errorf("unknown crisis %q", s)
}

// CentralBank sets the policy rate and tracks the money supply.
type CentralBank struct {
	cfg config.MonetaryConfig

	InterestRate float64 `json:"interest_rate"`
	MoneySupply  float64 `json:"money_supply"`
	ReserveRatio float64 `json:"reserve_ratio"`
	AutoPolicy   bool    `json:"auto_policy"`
	TargetRate   float64 `json:"target_rate"`
}

// NewCentralBank creates a monetary authority at the configured rate.
func NewCentralBank(cfg config.MonetaryConfig) *CentralBank {
	cb := &CentralBank{
		cfg:          cfg,
		MoneySupply:  math.Max(0, cfg.MoneySupply),
		ReserveRatio: cfg.ReserveRatio,
		AutoPolicy:   cfg.AutoPolicy,
	}
	cb.SetInterestRate(cfg.InterestRate)
	cb.TargetRate = cb.InterestRate
	return cb
}

// SetInterestRate clamps to [0, MaxRate].
func (cb *CentralBank) SetInterestRate(rate float64) {
	cb.InterestRate = math.Max(0, math.Min(cb.cfg.MaxRate, rate))
}

// EnableAutoPolicy toggles the Taylor rule.
func (cb *CentralBank) EnableAutoPolicy(on bool) { cb.AutoPolicy = on }

// TaylorRule moves the rate part of the way toward
// neutral + a·(π - π*) - b·(u - u*). Inputs are fractions. It does nothing
// while auto policy is off.
func (cb *CentralBank) TaylorRule(inflation, unemployment float64) float64 {
	if !cb.AutoPolicy {
		return cb.InterestRate
	}
	c := cb.cfg
	target := c.NeutralRate +
		c.InflationWeight*(inflation-c.InflationTarget) -
		c.UnemploymentWeight*(unemployment-c.NaturalUnemployment)
	cb.TargetRate = math.Max(0, math.Min(c.MaxRate, target))
	cb.SetInterestRate(cb.InterestRate + (target-cb.InterestRate)*c.Smoothing)
	return cb.InterestRate
}

// QuantitativeEasing adds to the money supply.
func (cb *CentralBank) QuantitativeEasing(amount float64) {
	cb.MoneySupply += math.Max(0, amount)
}

// QuantitativeTightening removes from the money supply, at most a tenth of
// it per call.
func (cb *CentralBank) QuantitativeTightening(amount float64) {
	cut := math.Min(math.Max(0, amount), 0.1*cb.MoneySupply)
	cb.MoneySupply -= cut
}

// ScaleMoneySupply multiplies the money supply.
func (cb *CentralBank) ScaleMoneySupply(factor float64) {
	cb.MoneySupply = math.Max(0, cb.MoneySupply*factor)
}

// CrisisResponse applies the preset for a crisis: a rate cut plus easing in
// a recession, a hike plus tightening against inflation.
func (cb *CentralBank) CrisisResponse(kind Crisis) {
	switch kind {
	case Recession:
		cb.SetInterestRate(0.02)
		cb.QuantitativeEasing(cb.MoneySupply * 0.10)
	case Inflation:
		cb.SetInterestRate(0.08)
		cb.QuantitativeTightening(cb.MoneySupply * 0.05)
	}
}

// MonetarySummary is a read-only view for reporting.
type MonetarySummary struct {
	InterestRate float64 `json:"interest_rate"`
	TargetRate   float64 `json:"target_rate"`
	MoneySupply  float64 `json:"money_supply"`
	ReserveRatio float64 `json:"reserve_ratio"`
	AutoPolicy   bool    `json:"auto_policy"`
}

// Summary reports the current monetary stance.
func (cb *CentralBank) Summary() MonetarySummary {
	return MonetarySummary{
		InterestRate: cb.InterestRate,
		TargetRate:   cb.TargetRate,
		MoneySupply:  cb.MoneySupply,
		ReserveRatio: cb.ReserveRatio,
		AutoPolicy:   cb.AutoPolicy,
	}
}

// Step is a no-op; the bank carries no per-step flows.
func (cb *CentralBank) Step() {}
