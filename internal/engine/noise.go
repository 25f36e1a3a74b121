package engine

import (
	opensimplex "github.com/ojrac/opensimplex-go"

	"github.com/talgya/macrosim/internal/config"
)

// tfpField is a smooth productivity-shock field over (firm, step). Nearby
// steps get correlated shocks, so a firm drifts through good and bad spells
// instead of flickering. A nil field yields zero everywhere.
type tfpField struct {
	noise     opensimplex.Noise
	amplitude float64
	frequency float64
}

func newTFPField(seed int64, cfg config.NoiseConfig) *tfpField {
	if cfg.Amplitude <= 0 {
		return nil
	}
	return &tfpField{
		noise:     opensimplex.New(seed),
		amplitude: cfg.Amplitude,
		frequency: cfg.Frequency,
	}
}

const (
	tfpOctaves     = 3
	tfpPersistence = 0.5
	// firms sit this far apart on the noise plane so their series are
	// independent
	firmSpacing = 17.3
)

// at returns the shock for a firm at a step, in [-amplitude, amplitude].
// Each octave doubles the speed along the step axis at half the weight, so
// slow spells carry faster wiggles. Octaves read offset rows.
func (f *tfpField) at(firm, step int) float64 {
	if f == nil {
		return 0
	}
	row := float64(firm) * firmSpacing
	t := float64(step) * f.frequency

	var sum, norm float64
	weight := 1.0
	for o := 0; o < tfpOctaves; o++ {
		sum += weight * f.noise.Eval2(row+float64(o)*firmSpacing/tfpOctaves, t)
		norm += weight
		weight *= tfpPersistence
		t *= 2
	}
	return f.amplitude * sum / norm
}
