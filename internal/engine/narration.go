package engine

import (
	"context"
	"fmt"
	"math"

	"github.com/talgya/macrosim/internal/config"
	"github.com/talgya/macrosim/internal/metrics"
)

// Narrator turns the latest indicators into prose. history maps indicator
// name to its full series, oldest first.
type Narrator interface {
	Narrate(ctx context.Context, current metrics.Snapshot, history map[string][]float64) (string, error)
}

// NarratorFunc adapts a plain function to Narrator.
type NarratorFunc func(ctx context.Context, current metrics.Snapshot, history map[string][]float64) (string, error)

// Narrate calls f.
func (f NarratorFunc) Narrate(ctx context.Context, current metrics.Snapshot, history map[string][]float64) (string, error) {
	return f(ctx, current, history)
}

// narrationGate decides when a step deserves a narrative: after a crisis
// trigger, or when an indicator moves sharply. Sharp moves are rate-limited
// by a cooldown in steps; a forced narration ignores the cooldown.
type narrationGate struct {
	cooldown  int
	remaining int
	forced    bool
}

func (g *narrationGate) force() { g.forced = true }

// observe is called once per step with the previous and current snapshots.
func (g *narrationGate) observe(prev, cur metrics.Snapshot, hasPrev bool, cfg config.NarrationConfig) bool {
	if g.remaining > 0 {
		g.remaining--
	}

	fire := g.forced
	if !fire && g.remaining == 0 {
		fire = largeMove(prev, cur, hasPrev, cfg)
	}
	if !fire {
		return false
	}
	g.forced = false
	g.remaining = g.cooldown
	return true
}

func largeMove(prev, cur metrics.Snapshot, hasPrev bool, cfg config.NarrationConfig) bool {
	if math.Abs(cur.Inflation) >= cfg.InflationCap {
		return true
	}
	if !hasPrev {
		return false
	}
	gdpMove := math.Abs(cur.GDP-prev.GDP) / math.Max(math.Abs(prev.GDP), 1) * 100
	if gdpMove >= cfg.GDPMove {
		return true
	}
	return math.Abs(cur.Unemployment-prev.Unemployment) >= cfg.JoblessMove
}

// safeNarrate calls n and converts a panic into an error.
func safeNarrate(ctx context.Context, n Narrator, current metrics.Snapshot, history map[string][]float64) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("narrator panic: %v", r)
		}
	}()
	return n.Narrate(ctx, current, history)
}
