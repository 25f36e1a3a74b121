package engine

import (
	"log/slog"

	"github.com/talgya/macrosim/internal/metrics"
)

// View is the read-only picture of a step handed to market extensions.
type View struct {
	Step         int
	Metrics      metrics.Snapshot
	InterestRate float64 // fraction
	Inflation    float64 // fraction per step
	MoneySupply  float64
	Households   int
	Firms        int
}

// MarketExtension is an optional market that runs alongside the core, such
// as an equity or commodity market. It reads the step's indicators and
// reports its own, which are attached to the snapshot under their names.
type MarketExtension interface {
	Name() string
	Step(v View) map[string]float64
}

// Resetter is implemented by extensions that carry state across steps.
// Economy.Reset calls it so a reset run replays the original.
type Resetter interface {
	Reset()
}

func (e *Economy) resetExtensions() {
	for _, x := range e.extensions {
		if r, ok := x.(Resetter); ok {
			r.Reset()
		}
	}
}

// runExtensions steps every extension in order. An output name already
// produced by an earlier extension is overwritten and logged.
func (e *Economy) runExtensions(snap metrics.Snapshot) map[string]float64 {
	if len(e.extensions) == 0 {
		return nil
	}
	v := View{
		Step:         snap.Step,
		Metrics:      snap.Clone(),
		InterestRate: e.CentralBank.InterestRate,
		Inflation:    e.Goods.Inflation,
		MoneySupply:  e.CentralBank.MoneySupply,
		Households:   len(e.Households),
		Firms:        len(e.Firms),
	}
	out := make(map[string]float64)
	for _, x := range e.extensions {
		for k, val := range x.Step(v) {
			if _, dup := out[k]; dup {
				slog.Warn("extension output overwritten", "extension", x.Name(), "metric", k)
			}
			out[k] = val
		}
	}
	return out
}
