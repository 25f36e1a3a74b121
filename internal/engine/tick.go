package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/talgya/macrosim/internal/metrics"
)

// Engine drives an Economy forward in real time. Every access to the
// economy goes through the engine's lock, so handlers can inspect or poke
// the economy while the loop runs.
type Engine struct {
	mu       sync.Mutex
	econ     *Economy
	speed    float64       // multiplier: 1.0 = one step per Interval, 0 = paused
	interval time.Duration // base step interval
	running  bool
	stop     chan struct{}

	// Commit is called after every step with the lock still held, so it
	// observes steps in the same order as any Do. It must not call back into
	// the engine.
	Commit func(s metrics.Snapshot)

	// OnStep is called after every step with the lock released.
	OnStep func(s metrics.Snapshot)
}

// NewEngine wraps econ at a pace of one step per second.
func NewEngine(econ *Economy) *Engine {
	return &Engine{
		econ:     econ,
		speed:    1.0,
		interval: time.Second,
	}
}

// SetSpeed changes the pace. Zero or negative pauses the loop.
func (e *Engine) SetSpeed(speed float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.speed = speed
	slog.Info("engine speed changed", "speed", speed)
}

// Speed returns the current pace multiplier.
func (e *Engine) Speed() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.speed
}

// SetInterval changes the base step interval.
func (e *Engine) SetInterval(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if d > 0 {
		e.interval = d
	}
}

// Running reports whether the loop is active.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Do runs fn with exclusive access to the economy.
func (e *Engine) Do(fn func(*Economy)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e.econ)
}

// StepOnce advances one period outside the loop's pacing.
func (e *Engine) StepOnce() metrics.Snapshot {
	e.mu.Lock()
	s := e.econ.Step()
	if e.Commit != nil {
		e.Commit(s)
	}
	cb := e.OnStep
	e.mu.Unlock()

	if cb != nil {
		cb(s)
	}
	return s
}

// Run starts the stepping loop. Blocks until ctx is done or Stop is called.
func (e *Engine) Run(ctx context.Context) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.stop = make(chan struct{})
	stop := e.stop
	step := e.econ.StepCount()
	e.mu.Unlock()

	slog.Info("simulation engine started", "step", step, "speed", e.Speed())
	defer func() {
		e.mu.Lock()
		e.running = false
		step = e.econ.StepCount()
		e.mu.Unlock()
		slog.Info("simulation engine stopped", "step", step)
	}()

	for {
		e.mu.Lock()
		speed, interval := e.speed, e.interval
		e.mu.Unlock()

		if speed <= 0 {
			// Paused; check again shortly.
			if !sleep(ctx, stop, 100*time.Millisecond) {
				return
			}
			continue
		}

		start := time.Now()
		e.StepOnce()

		// Sleep for the remainder of the interval, adjusted for speed.
		elapsed := time.Since(start)
		target := time.Duration(float64(interval) / speed)
		wait := time.Duration(0)
		if elapsed < target {
			wait = target - elapsed
		}
		if !sleep(ctx, stop, wait) {
			return
		}
	}
}

// Stop halts the loop after the current step.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running && e.stop != nil {
		close(e.stop)
		e.stop = nil
	}
}

// sleep waits for d and reports false if the loop should exit instead.
func sleep(ctx context.Context, stop <-chan struct{}, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-stop:
		return false
	case <-t.C:
		return true
	}
}
