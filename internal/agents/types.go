// Package agents provides the household and firm data model and the
// per-agent decision rules of the economy.
package agents

// HouseholdID indexes a household in the economy's household slice.
type HouseholdID int

// FirmID indexes a firm in the economy's firm slice.
type FirmID int

// NoEmployer marks an unemployed household.
const NoEmployer FirmID = -1

// Stepper is implemented by every agent the scheduler activates at the end
// of a step.
type Stepper interface {
	Step()
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
