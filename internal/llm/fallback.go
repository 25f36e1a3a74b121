package llm

import (
	"fmt"

	"github.com/talgya/macrosim/internal/metrics"
)

// Fallback is the templated narrative used when no model is configured or
// the model call fails. It depends only on its inputs.
func Fallback(current metrics.Snapshot, history map[string][]float64) string {
	move := "holds at"
	if prev, ok := previous(history, "unemployment"); ok {
		switch {
		case current.Unemployment < prev:
			move = "eases to"
		case current.Unemployment > prev:
			move = "ticks up to"
		}
	}
	return fmt.Sprintf(
		"Firms navigate a GDP print near $%s as unemployment %s %.1f%%. "+
			"The central bank keeps policy at %.2f%% while inflation runs %.2f%%.",
		money(current.GDP), move, current.Unemployment,
		current.InterestRate, current.Inflation,
	)
}
