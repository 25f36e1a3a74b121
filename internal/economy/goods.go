package economy

import (
	"math"

	"github.com/talgya/macrosim/internal/agents"
	"github.com/talgya/macrosim/internal/config"
)

// GoodsMarket clears household and government demand against firm
// inventories and keeps the price index.
type GoodsMarket struct {
	cfg            config.GoodsConfig
	wealthDrawRate float64
	priceFloor     float64

	PriceSensitivity   float64 `json:"price_sensitivity"`
	SmoothedDemand     float64 `json:"smoothed_demand"`
	MinExpectedPerFirm float64 `json:"min_expected_per_firm"`
	CPI                float64 `json:"cpi"`
	PreviousCPI        float64 `json:"previous_cpi"`
	Inflation          float64 `json:"inflation"` // fraction per step

	TotalDemand   float64 `json:"total_demand"`
	TotalSupply   float64 `json:"total_supply"`
	UnitsSold     float64 `json:"units_sold"`
	GovtPurchases float64 `json:"govt_purchases"`
}

// GoodsResult reports one clearing. Spending and Quantity are indexed like
// the household slice passed to ClearMarket.
type GoodsResult struct {
	Spending      []float64
	Quantity      []float64
	TotalDemand   float64
	TotalSupply   float64
	UnitsSold     float64
	SalesValue    float64
	GovtPurchases float64
	CPI           float64
	Inflation     float64
}

// NewGoodsMarket creates a goods market with the price index at the initial
// firm price.
func NewGoodsMarket(goods config.GoodsConfig, household config.HouseholdConfig, firm config.FirmConfig) *GoodsMarket {
	return &GoodsMarket{
		cfg:                goods,
		wealthDrawRate:     household.WealthDrawRate,
		priceFloor:         firm.PriceFloor,
		PriceSensitivity:   goods.PriceSensitivity,
		SmoothedDemand:     goods.InitialDemand,
		MinExpectedPerFirm: goods.MinExpectedPerFirm,
		CPI:                firm.InitialPrice,
		PreviousCPI:        firm.InitialPrice,
	}
}

// ExpectedDemandPerFirm is the planning baseline for firms without a sales
// history.
func (m *GoodsMarket) ExpectedDemandPerFirm(nFirms int) float64 {
	if nFirms <= 0 {
		return m.SmoothedDemand
	}
	return math.Max(m.MinExpectedPerFirm, m.SmoothedDemand/float64(nFirms))
}

// ClearMarket runs production, demand collection, short-side rationing,
// repricing and the index update for one step. Households are not mutated;
// the caller finalizes them from the result.
func (m *GoodsMarket) ClearMarket(households []*agents.Household, firms []*agents.Firm, govtSpending float64) GoodsResult {
	res := GoodsResult{
		Spending: make([]float64, len(households)),
		Quantity: make([]float64, len(households)),
	}

	var totalSupply float64
	for _, f := range firms {
		totalSupply += f.Produce()
	}

	offers := make([]agents.Offer, len(firms))
	for i, f := range firms {
		offers[i] = agents.Offer{Firm: agents.FirmID(i), Price: f.Price}
	}

	planned := make([][]float64, len(households))
	householdDemand := make([]float64, len(firms))
	for i, h := range households {
		planned[i] = h.AllocateBudget(offers, m.PriceSensitivity, m.wealthDrawRate, m.priceFloor)
		for j, q := range planned[i] {
			householdDemand[j] += q
		}
	}

	govtDemand := make([]float64, len(firms))
	if govtSpending > 0 && len(firms) > 0 && totalSupply > 0 {
		var priceSum float64
		for _, f := range firms {
			priceSum += f.Price
		}
		avgPrice := priceSum / float64(len(firms))
		govtQuantity := govtSpending / math.Max(avgPrice, 1)
		for j, f := range firms {
			govtDemand[j] = govtQuantity * f.Production / totalSupply
		}
	}

	fulfilment := make([]float64, len(firms))
	soldBy := make([]float64, len(firms))
	salePrice := make([]float64, len(firms))
	var totalDemand, unitsSold, salesValue, govtPurchases float64
	for j, f := range firms {
		demand := householdDemand[j] + govtDemand[j]
		f.Demand = demand
		salePrice[j] = f.Price
		sold := f.SellGoods(demand)
		soldBy[j] = sold

		ratio := 1.0
		if demand > 0 && sold < demand {
			ratio = sold / demand
		}
		fulfilment[j] = ratio

		totalDemand += demand
		unitsSold += sold
		salesValue += sold * salePrice[j]
		govtPurchases += govtDemand[j] * ratio * salePrice[j]
		f.HouseholdSales += householdDemand[j] * ratio * salePrice[j]
	}

	for i := range households {
		for j, q := range planned[i] {
			if q == 0 {
				continue
			}
			got := q * fulfilment[j]
			res.Quantity[i] += got
			res.Spending[i] += got * salePrice[j]
		}
	}

	for j, f := range firms {
		f.UpdateExpectations(soldBy[j], f.Demand-soldBy[j])
		f.SetPrice(f.Demand, f.Production)
	}

	m.updateIndex(firms)

	observed := unitsSold + m.cfg.UnmetDemandWeight*math.Max(totalDemand-unitsSold, 0)
	s := m.cfg.DemandSmoothing
	if observed > 0 {
		m.SmoothedDemand = (1-s)*m.SmoothedDemand + s*observed
	} else {
		m.SmoothedDemand = (1 - s) * m.SmoothedDemand
	}
	m.SmoothedDemand = clamp(m.SmoothedDemand, m.cfg.DemandFloor, m.cfg.DemandCeiling)

	m.TotalDemand = totalDemand
	m.TotalSupply = totalSupply
	m.UnitsSold = unitsSold
	m.GovtPurchases = govtPurchases

	res.TotalDemand = totalDemand
	res.TotalSupply = totalSupply
	res.UnitsSold = unitsSold
	res.SalesValue = salesValue
	res.GovtPurchases = govtPurchases
	res.CPI = m.CPI
	res.Inflation = m.Inflation
	return res
}

// updateIndex recomputes CPI as the production-weighted price, or the plain
// mean when nothing was produced. With no firms the index holds.
func (m *GoodsMarket) updateIndex(firms []*agents.Firm) {
	if len(firms) > 0 {
		var production, weighted, sum float64
		for _, f := range firms {
			production += f.Production
			weighted += f.Price * f.Production
			sum += f.Price
		}
		if production > 0 {
			m.CPI = weighted / production
		} else {
			m.CPI = sum / float64(len(firms))
		}
	}

	if m.PreviousCPI > 0 {
		m.Inflation = (m.CPI - m.PreviousCPI) / m.PreviousCPI
	} else {
		m.Inflation = 0
	}
	m.PreviousCPI = m.CPI
}

// AdjustDemandExpectations adapts price sensitivity and the cold-start
// demand floor to labor-market slack. u is a fraction.
func (m *GoodsMarket) AdjustDemandExpectations(u float64) {
	if !m.cfg.AdaptiveExpectation {
		return
	}
	target := 1.0
	switch {
	case u > 0.25:
		target = math.Max(m.cfg.SensitivityFloor, 1-(u-0.25)*0.8)
	case u < 0.08:
		target = math.Min(m.cfg.SensitivityCeiling, 1+(0.08-u)*1.5)
	}
	drift := m.cfg.ExpectationDrift
	m.PriceSensitivity += (target - m.PriceSensitivity) * drift

	minTarget := m.cfg.MinExpectedBase + u*m.cfg.MinExpectedSlope
	m.MinExpectedPerFirm += (minTarget - m.MinExpectedPerFirm) * drift
	m.MinExpectedPerFirm = math.Min(m.MinExpectedPerFirm, m.cfg.MinExpectedCeiling)
}

// ScaleDemand multiplies the smoothed demand estimate, keeping it within
// the configured bounds.
func (m *GoodsMarket) ScaleDemand(factor float64) {
	m.SmoothedDemand = clamp(m.SmoothedDemand*factor, m.cfg.DemandFloor, m.cfg.DemandCeiling)
}

// ScaleSensitivity multiplies the price sensitivity and clamps it to [lo, hi].
func (m *GoodsMarket) ScaleSensitivity(factor, lo, hi float64) {
	m.PriceSensitivity = clamp(m.PriceSensitivity*factor, lo, hi)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
