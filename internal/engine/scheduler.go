package engine

import "github.com/talgya/macrosim/internal/agents"

// activate runs every agent's Step once in an order drawn from the shared
// rng. The authorities are scheduled alongside households and firms.
func (e *Economy) activate() {
	order := make([]agents.Stepper, 0, len(e.Households)+len(e.Firms)+2)
	for _, h := range e.Households {
		order = append(order, h)
	}
	for _, f := range e.Firms {
		order = append(order, f)
	}
	order = append(order, e.Government, e.CentralBank)

	e.rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	for _, s := range order {
		s.Step()
	}
}
