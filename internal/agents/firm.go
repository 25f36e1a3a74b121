package agents

import (
	"math"

	"github.com/talgya/macrosim/internal/config"
)

// Firm hires households, produces a single homogeneous good and sets its own
// price and wage.
type Firm struct {
	ID           FirmID        `json:"id"`
	Capital      float64       `json:"capital"`
	Cash         float64       `json:"cash"`
	Productivity float64       `json:"productivity"`
	Price        float64       `json:"price"`
	Wage         float64       `json:"wage"`
	Inventory    float64       `json:"inventory"`
	Employees    []HouseholdID `json:"employees"`
	LaborDemand  int           `json:"labor_demand"`

	ExpectedDemand   float64 `json:"expected_demand"`
	PreviousUnitCost float64 `json:"previous_unit_cost"`
	// TFPShock scales productivity for the current step only.
	TFPShock float64 `json:"tfp_shock"`

	// Flows of the current step.
	Production float64 `json:"production"`
	Demand     float64 `json:"demand"`
	UnitsSold  float64 `json:"units_sold"`
	Revenue    float64 `json:"revenue"`
	Costs      float64 `json:"costs"`
	Profit     float64 `json:"profit"`
	Investment float64 `json:"investment"`

	// HouseholdSales is the part of Revenue paid by households.
	HouseholdSales float64 `json:"household_sales"`

	rules config.FirmConfig
}

// NewFirm creates a firm with no workers. Cash starts as a fixed share of
// capital.
func NewFirm(id FirmID, capital, wage float64, rules config.FirmConfig) *Firm {
	return &Firm{
		ID:           id,
		Capital:      capital,
		Cash:         capital * rules.CashRatio,
		Productivity: rules.Productivity,
		Price:        rules.InitialPrice,
		Wage:         wage,
		rules:        rules,
	}
}

// Workers is the current headcount.
func (f *Firm) Workers() int { return len(f.Employees) }

// WageBill is what the current roster costs per step.
func (f *Firm) WageBill() float64 { return float64(len(f.Employees)) * f.Wage }

// Hire adds a worker to the roster.
func (f *Firm) Hire(h HouseholdID) { f.Employees = append(f.Employees, h) }

// ReleaseAll empties the roster ahead of labor-market clearing.
func (f *Firm) ReleaseAll() { f.Employees = f.Employees[:0] }

// LaborPlan carries the economy-wide inputs to a firm's hiring decision.
type LaborPlan struct {
	InterestRate float64
	Households   int
	Firms        int
	BaselineWage float64
}

// DetermineLaborDemand sets LaborDemand from the expected demand in units.
// The production function is inverted for the workforce that would meet the
// expectation, then scaled by the cost of credit, the inventory position and
// the wage relative to baseline. The result is capped at a share of the
// labor force and may move by at most MaxLaborChange of the previous plan.
func (f *Firm) DetermineLaborDemand(expected float64, plan LaborPlan) int {
	r := f.rules
	target := math.Max(expected, 1)
	desired := math.Pow(target/math.Max(f.Productivity, 0.1), 1/r.Gamma)

	ratePenalty := math.Max(r.MinRatePenalty, 1-r.InterestPenalty*plan.InterestRate)

	inventoryFactor := 1.0
	if f.Inventory > target {
		inventoryFactor = math.Max(r.MaxInventoryTrim, target/f.Inventory)
	} else {
		shortage := target - f.Inventory
		inventoryFactor = 1 + math.Min(r.MaxInventoryPush, shortage/target)
	}

	wageFactor := 1.0
	if f.Wage > 0 && plan.BaselineWage > 0 {
		wageFactor = clamp(plan.BaselineWage/f.Wage, 0.7, 1.5)
	}

	adjusted := desired * ratePenalty * inventoryFactor * wageFactor

	firms := plan.Firms
	if firms < 1 {
		firms = 1
	}
	maxWorkers := int(float64(plan.Households) / float64(firms) * r.LaborShareCap)
	if maxWorkers < 1 {
		maxWorkers = 1
	}

	next := int(math.Round(adjusted))
	if next > maxWorkers {
		next = maxWorkers
	}
	if next < 1 {
		next = 1
	}

	if current := f.LaborDemand; current > 0 {
		maxDelta := int(float64(current) * r.MaxLaborChange)
		if maxDelta < 1 {
			maxDelta = 1
		}
		if next > current+maxDelta {
			next = current + maxDelta
		}
		if next < current-maxDelta {
			next = current - maxDelta
		}
		if next < 1 {
			next = 1
		}
	}

	f.LaborDemand = next
	return next
}

// Produce runs the Cobb-Douglas technology over the current roster and adds
// the output to inventory.
func (f *Firm) Produce() float64 {
	n := len(f.Employees)
	if n == 0 {
		f.Production = 0
		return 0
	}
	tfp := f.Productivity * math.Max(0, 1+f.TFPShock)
	f.Production = tfp * math.Pow(float64(n), f.rules.Gamma)
	f.Inventory += f.Production
	return f.Production
}

// SetPrice moves the price toward market pressure and unit-cost drift.
// demand and supply are this step's planned purchases and output in units.
func (f *Firm) SetPrice(demand, supply float64) {
	r := f.rules

	excess := (demand - supply) / math.Max(supply, 1)
	excess = clamp(excess, -1, 1)
	if math.Abs(excess) < r.PriceTolerance {
		excess = 0
	}

	unitCost := f.PreviousUnitCost
	if f.Production > 0 {
		unitCost = f.WageBill() / f.Production
	}
	costChange := 0.0
	if f.PreviousUnitCost > 0 && unitCost > 0 {
		costChange = clamp((unitCost-f.PreviousUnitCost)/f.PreviousUnitCost, -1, 1)
	}
	if unitCost > 0 {
		f.PreviousUnitCost = unitCost
	}

	adj := clamp(r.DemandWeight*excess+r.CostWeight*costChange, -r.MaxPriceMove, r.MaxPriceMove)
	f.Price = math.Max(r.PriceFloor, f.Price*(1+adj))
}

// SellGoods fills as much of quantity as inventory allows at the current
// price and returns the units sold.
func (f *Firm) SellGoods(quantity float64) float64 {
	sold := math.Min(math.Max(0, quantity), f.Inventory)
	f.Inventory -= sold
	f.UnitsSold += sold
	f.Revenue += sold * f.Price
	return sold
}

// UpdateExpectations smooths expected demand toward realized sales plus a
// weight on demand that went unmet.
func (f *Firm) UpdateExpectations(sold, backlog float64) {
	r := f.rules
	target := sold + r.BacklogWeight*math.Max(0, backlog)
	lower := math.Max(1, 0.5*sold)
	if f.ExpectedDemand <= 0 {
		f.ExpectedDemand = math.Max(lower, target)
		return
	}
	next := (1-r.DemandSmoothing)*f.ExpectedDemand + r.DemandSmoothing*target
	f.ExpectedDemand = math.Max(lower, next)
}

// PayWages debits the wage bill from cash and books it as cost.
func (f *Firm) PayWages() float64 {
	bill := f.WageBill()
	f.Costs += bill
	f.Cash -= bill
	return bill
}

// CalculateProfit books this step's profit and credits revenue to cash.
func (f *Firm) CalculateProfit() float64 {
	f.Profit = f.Revenue - f.Costs
	f.Cash += f.Revenue
	return f.Profit
}

// PayTax debits a tax from cash, floored at the configured cash floor, and
// returns the amount actually collected.
func (f *Firm) PayTax(amount float64) float64 {
	if amount <= 0 {
		return 0
	}
	before := f.Cash
	f.Cash -= amount
	if f.Cash < f.rules.CashFloor {
		f.Cash = f.rules.CashFloor
	}
	return math.Max(0, before-f.Cash)
}

// MakeInvestmentDecision depreciates capital, then invests a share of
// positive profit when credit is cheap enough and cash allows. Investment
// raises productivity in proportion to the capital it adds.
func (f *Firm) MakeInvestmentDecision(interestRate float64) float64 {
	r := f.rules
	f.Capital = math.Max(0, f.Capital*(1-r.Depreciation))
	f.Investment = 0

	if f.Profit > 0 && interestRate < r.InvestmentMaxRate && f.Cash > 0 {
		inv := math.Min(r.InvestmentShare*f.Profit, r.InvestmentCashCap*f.Cash)
		f.Cash -= inv
		f.Capital += inv
		f.Productivity *= 1 + r.CapitalElasticity*inv/math.Max(f.Capital, 1)
		f.Investment = inv
	}

	if f.Cash < r.CashFloor {
		f.Cash = r.CashFloor
	}
	return f.Investment
}

// ApplyShock scales balance-sheet and planning state. Used by crisis
// triggers; factors of 1 leave a field unchanged.
func (f *Firm) ApplyShock(s FirmShock) {
	if s.Capital > 0 {
		f.Capital *= s.Capital
	}
	if s.Inventory > 0 {
		f.Inventory *= s.Inventory
	}
	if s.Wage > 0 {
		f.Wage *= s.Wage
	}
	if s.Productivity > 0 {
		f.Productivity *= s.Productivity
	}
	if s.Price > 0 {
		f.Price = math.Max(f.rules.PriceFloor, f.Price*s.Price)
	}
}

// FirmShock lists multiplicative shocks. Zero means no change.
type FirmShock struct {
	Capital      float64
	Inventory    float64
	Wage         float64
	Productivity float64
	Price        float64
}

// FloorWage enforces the minimum wage.
func (f *Firm) FloorWage(minimum float64) {
	if f.Wage < minimum {
		f.Wage = minimum
	}
}

// Step clears the per-step flows.
func (f *Firm) Step() {
	f.Production = 0
	f.Demand = 0
	f.UnitsSold = 0
	f.Revenue = 0
	f.HouseholdSales = 0
	f.Costs = 0
	f.Profit = 0
	f.Investment = 0
}
