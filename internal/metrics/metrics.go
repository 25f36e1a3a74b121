// Package metrics aggregates per-step indicators of the economy and keeps
// their history.
package metrics

import (
	"math"
	"sort"
)

// Snapshot is the set of indicators recorded at the end of one step.
// Unemployment, inflation and interest rate are in percent.
type Snapshot struct {
	Step          int     `json:"step"`
	GDP           float64 `json:"gdp"`
	Unemployment  float64 `json:"unemployment"`
	Inflation     float64 `json:"inflation"`
	Gini          float64 `json:"gini"`
	AvgWage       float64 `json:"avg_wage"`
	AvgPrice      float64 `json:"avg_price"`
	CPI           float64 `json:"cpi"`
	GovtDebt      float64 `json:"govt_debt"`
	BudgetBalance float64 `json:"budget_balance"`
	TaxRevenue    float64 `json:"tax_revenue"`
	WelfarePaid   float64 `json:"welfare_paid"`
	GovtSpending  float64 `json:"govt_spending"`
	GovtPurchases float64 `json:"govt_purchases"`
	InterestRate  float64 `json:"interest_rate"`
	MoneySupply   float64 `json:"money_supply"`
	Employment    float64 `json:"employment"`
	TotalDemand   float64 `json:"total_demand"`
	TotalSupply   float64 `json:"total_supply"`
	UnitsSold     float64 `json:"units_sold"`

	Narrative  string             `json:"narrative,omitempty"`
	Extensions map[string]float64 `json:"extensions,omitempty"`
}

// Names lists the numeric indicators in reporting order.
var Names = []string{
	"gdp", "unemployment", "inflation", "gini", "avg_wage", "avg_price", "cpi",
	"govt_debt", "budget_balance", "tax_revenue", "welfare_paid",
	"govt_spending", "govt_purchases", "interest_rate", "money_supply",
	"employment", "total_demand", "total_supply", "units_sold",
}

// Values flattens the snapshot to indicator name -> value. Extension
// outputs are included under their own names.
func (s Snapshot) Values() map[string]float64 {
	v := map[string]float64{
		"step":           float64(s.Step),
		"gdp":            s.GDP,
		"unemployment":   s.Unemployment,
		"inflation":      s.Inflation,
		"gini":           s.Gini,
		"avg_wage":       s.AvgWage,
		"avg_price":      s.AvgPrice,
		"cpi":            s.CPI,
		"govt_debt":      s.GovtDebt,
		"budget_balance": s.BudgetBalance,
		"tax_revenue":    s.TaxRevenue,
		"welfare_paid":   s.WelfarePaid,
		"govt_spending":  s.GovtSpending,
		"govt_purchases": s.GovtPurchases,
		"interest_rate":  s.InterestRate,
		"money_supply":   s.MoneySupply,
		"employment":     s.Employment,
		"total_demand":   s.TotalDemand,
		"total_supply":   s.TotalSupply,
		"units_sold":     s.UnitsSold,
	}
	for k, x := range s.Extensions {
		v[k] = x
	}
	return v
}

// Clone returns a deep copy.
func (s Snapshot) Clone() Snapshot {
	if s.Extensions != nil {
		ext := make(map[string]float64, len(s.Extensions))
		for k, v := range s.Extensions {
			ext[k] = v
		}
		s.Extensions = ext
	}
	return s
}

// Gini computes the Gini coefficient of a wealth distribution, clamped to
// [0, 1]. Empty or all-zero distributions yield 0.
func Gini(wealth []float64) float64 {
	n := len(wealth)
	if n == 0 {
		return 0
	}
	sorted := make([]float64, n)
	copy(sorted, wealth)
	sort.Float64s(sorted)

	var total, weighted float64
	for i, w := range sorted {
		w = math.Max(0, w)
		total += w
		weighted += float64(i+1) * w
	}
	if total <= 0 {
		return 0
	}
	nf := float64(n)
	g := 2*weighted/(nf*total) - (nf+1)/nf
	return math.Max(0, math.Min(1, g))
}

// History holds one series per indicator, aligned by step.
type History struct {
	steps  []Snapshot
	series map[string][]float64
}

// NewHistory creates an empty history.
func NewHistory() *History {
	return &History{series: make(map[string][]float64)}
}

// Append records a snapshot.
func (h *History) Append(s Snapshot) {
	h.steps = append(h.steps, s.Clone())
	for k, v := range s.Values() {
		if k == "step" {
			continue
		}
		col := h.series[k]
		// extensions that appear late are back-filled so series stay aligned
		for len(col) < len(h.steps)-1 {
			col = append(col, 0)
		}
		h.series[k] = append(col, v)
	}
	// and those that drop out are padded with zero
	for k, col := range h.series {
		if len(col) < len(h.steps) {
			h.series[k] = append(col, 0)
		}
	}
}

// Len is the number of recorded steps.
func (h *History) Len() int { return len(h.steps) }

// Series returns a copy of one indicator's history.
func (h *History) Series(name string) []float64 {
	col := h.series[name]
	out := make([]float64, len(col))
	copy(out, col)
	return out
}

// All returns a copy of every series keyed by indicator name.
func (h *History) All() map[string][]float64 {
	out := make(map[string][]float64, len(h.series))
	for k := range h.series {
		out[k] = h.Series(k)
	}
	return out
}

// Snapshots returns copies of the recorded snapshots, oldest first.
func (h *History) Snapshots() []Snapshot {
	out := make([]Snapshot, len(h.steps))
	for i, s := range h.steps {
		out[i] = s.Clone()
	}
	return out
}

// Tail returns the last n snapshots, or fewer when history is shorter.
func (h *History) Tail(n int) []Snapshot {
	if n > len(h.steps) {
		n = len(h.steps)
	}
	if n <= 0 {
		return nil
	}
	out := make([]Snapshot, n)
	for i, s := range h.steps[len(h.steps)-n:] {
		out[i] = s.Clone()
	}
	return out
}

// Aggregator records snapshots and serves the latest one.
type Aggregator struct {
	history *History
	latest  *Snapshot
}

// NewAggregator creates an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{history: NewHistory()}
}

// Update records s as the newest snapshot.
func (a *Aggregator) Update(s Snapshot) {
	c := s.Clone()
	a.latest = &c
	a.history.Append(s)
}

// Latest returns a copy of the newest snapshot, or a zero snapshot before
// the first step.
func (a *Aggregator) Latest() Snapshot {
	if a.latest == nil {
		return Snapshot{}
	}
	return a.latest.Clone()
}

// SetNarrative attaches narrative text to the newest snapshot.
func (a *Aggregator) SetNarrative(text string) {
	if a.latest == nil {
		return
	}
	a.latest.Narrative = text
	if n := len(a.history.steps); n > 0 {
		a.history.steps[n-1].Narrative = text
	}
}

// History exposes the recorded history.
func (a *Aggregator) History() *History { return a.history }

// Reset discards all history.
func (a *Aggregator) Reset() {
	a.history = NewHistory()
	a.latest = nil
}

// RollingMean averages the last window values of xs ending at index end
// (exclusive). Fewer values are averaged near the start.
func RollingMean(xs []float64, end, window int) float64 {
	if end > len(xs) {
		end = len(xs)
	}
	start := end - window
	if start < 0 {
		start = 0
	}
	if end <= start {
		return 0
	}
	var sum float64
	for _, x := range xs[start:end] {
		sum += x
	}
	return sum / float64(end-start)
}
