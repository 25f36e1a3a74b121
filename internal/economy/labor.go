// Package economy provides the labor and goods markets that clear each step
// between households and firms.
package economy

import (
	"math"
	"math/rand"

	"github.com/talgya/macrosim/internal/agents"
	"github.com/talgya/macrosim/internal/config"
)

// LaborMarket matches unemployed households to firm openings and moves
// wages with each firm's hiring shortfall.
type LaborMarket struct {
	cfg config.LaborConfig
	rng *rand.Rand

	MarketWage       float64 `json:"market_wage"`
	Employment       int     `json:"employment"`
	Openings         int     `json:"openings"`
	UnemploymentRate float64 `json:"unemployment_rate"` // fraction, [0, 1]
}

// LaborResult summarizes one clearing.
type LaborResult struct {
	Employment       int
	Openings         int
	UnemploymentRate float64
	MarketWage       float64
}

// NewLaborMarket creates a labor market drawing from the shared rng.
func NewLaborMarket(cfg config.LaborConfig, rng *rand.Rand) *LaborMarket {
	return &LaborMarket{
		cfg:        cfg,
		rng:        rng,
		MarketWage: cfg.InitialWage,
	}
}

// ClearMarket resets every employment relation and rebuilds them from this
// step's labor demand. Openings are interleaved across firms so a shortfall
// is shared rather than landing on whichever firm posts last. Each opening
// draws against the matching efficiency; a failed draw still consumes the
// candidate, standing in for search friction.
func (m *LaborMarket) ClearMarket(households []*agents.Household, firms []*agents.Firm) LaborResult {
	for _, h := range households {
		h.SeekEmployment()
	}

	openings := make([]agents.FirmID, 0)
	remaining := make([]int, len(firms))
	maxDemand := 0
	for i, f := range firms {
		f.ReleaseAll()
		remaining[i] = f.LaborDemand
		if f.LaborDemand > maxDemand {
			maxDemand = f.LaborDemand
		}
	}
	for round := 0; round < maxDemand; round++ {
		for i := range firms {
			if remaining[i] > 0 {
				openings = append(openings, agents.FirmID(i))
				remaining[i]--
			}
		}
	}

	pool := make([]*agents.Household, 0, len(households))
	for _, h := range households {
		if !h.Employed {
			pool = append(pool, h)
		}
	}
	m.rng.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })

	matches := 0
	next := 0
	for _, fid := range openings {
		if next >= len(pool) {
			break
		}
		candidate := pool[next]
		next++
		if m.rng.Float64() > m.cfg.MatchingEfficiency {
			continue
		}
		firm := firms[fid]
		firm.Hire(candidate.ID)
		candidate.GetEmployed(fid, firm.Wage)
		matches++
	}

	m.Employment = matches
	m.Openings = len(openings)
	if len(households) > 0 {
		m.UnemploymentRate = 1 - float64(matches)/float64(len(households))
	} else {
		m.UnemploymentRate = 0
	}
	m.UnemploymentRate = math.Max(0, math.Min(1, m.UnemploymentRate))

	if len(firms) > 0 {
		var sum float64
		for _, f := range firms {
			sum += f.Wage
		}
		m.MarketWage = sum / float64(len(firms))
	}

	return LaborResult{
		Employment:       m.Employment,
		Openings:         m.Openings,
		UnemploymentRate: m.UnemploymentRate,
		MarketWage:       m.MarketWage,
	}
}

// AdjustWages raises the wage of every firm that could not fill its
// openings in proportion to the unfilled share. Fully staffed firms ease
// wages down while unemployment sits above the slack threshold. Wages never
// fall below the minimum.
func (m *LaborMarket) AdjustWages(firms []*agents.Firm) {
	eta := m.cfg.AdjustmentSpeed
	for _, f := range firms {
		vacancies := f.LaborDemand
		unfilled := vacancies - f.Workers()
		if unfilled < 0 {
			unfilled = 0
		}
		shortage := 0.0
		if vacancies > 0 {
			shortage = float64(unfilled) / float64(vacancies)
		}

		switch {
		case shortage > 0:
			f.Wage *= 1 + eta*shortage
		case m.UnemploymentRate > m.cfg.SlackThreshold:
			cut := math.Min(eta, m.cfg.MaxWageCut) * math.Min(0.5, m.UnemploymentRate)
			f.Wage *= 1 - cut
		}
		f.FloorWage(m.cfg.MinimumWage)
	}
}

// IndexWages passes positive price inflation (a fraction) through to every
// firm's wage. Deflation leaves wages alone.
func (m *LaborMarket) IndexWages(firms []*agents.Firm, inflation float64) {
	if inflation <= 0 {
		return
	}
	for _, f := range firms {
		f.Wage *= 1 + inflation
	}
}
