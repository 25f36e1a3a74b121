// Package calibration loads parameter files produced by the offline
// calibration pipeline and folds them into a config.Config.
package calibration

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"os"

	"github.com/talgya/macrosim/internal/config"
)

// ErrNotFound is returned when the calibration file does not exist.
var ErrNotFound = errors.New("calibration file not found")

// File mirrors the JSON written by the calibration pipeline.
type File struct {
	Country     string                        `json:"country"`
	Year        int                           `json:"year"`
	Parameters  Params                        `json:"parameters"`
	Diagnostics map[string]map[string]float64 `json:"diagnostics"`
}

// Params are the fitted parameters. Absent keys stay nil and leave the
// corresponding config value alone.
type Params struct {
	MPC              *float64 `json:"mpc,omitempty"`
	TFP              *float64 `json:"tfp_a,omitempty"`
	Gamma            *float64 `json:"gamma,omitempty"`
	Depreciation     *float64 `json:"depreciation,omitempty"`
	WealthMean       *float64 `json:"wealth_mean,omitempty"`
	WealthStd        *float64 `json:"wealth_std,omitempty"`
	UnemploymentRate *float64 `json:"unemployment_rate,omitempty"`
	GDPPerCapita     *float64 `json:"gdp_per_capita,omitempty"`
}

// Load reads and decodes a calibration file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("read calibration: %w", err)
	}

	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode calibration %s: %w", path, err)
	}
	return &f, nil
}

// Apply overwrites the calibrated fields of cfg, clamping each to the range
// the pipeline is allowed to produce. TFP is relative: 1.0 keeps the
// configured productivity.
func (p Params) Apply(cfg *config.Config) {
	if p.MPC != nil {
		cfg.Household.PropensityToConsume = clamp(*p.MPC, 0.45, 0.95)
	}
	if p.TFP != nil {
		cfg.Firm.Productivity *= clamp(*p.TFP, 0.1, 5.0)
	}
	if p.Gamma != nil {
		cfg.Firm.Gamma = clamp(*p.Gamma, 0.45, 0.9)
	}
	if p.Depreciation != nil {
		cfg.Firm.Depreciation = clamp(*p.Depreciation, 0.02, 0.12)
	}
	if p.WealthMean != nil && *p.WealthMean > 0 {
		cfg.Household.WealthMean = *p.WealthMean
	}
	if p.WealthStd != nil && *p.WealthStd >= 0 {
		cfg.Household.WealthStd = *p.WealthStd
	}
}

// LoadInto applies the calibration at path to cfg when the file exists. A
// missing or unreadable file is logged and leaves cfg untouched.
func LoadInto(path string, cfg *config.Config) bool {
	if path == "" {
		return false
	}
	f, err := Load(path)
	if err != nil {
		slog.Warn("calibration unavailable, using defaults", "path", path, "error", err)
		return false
	}
	f.Parameters.Apply(cfg)
	slog.Info("calibration applied",
		"country", f.Country,
		"year", f.Year,
		"mpc", cfg.Household.PropensityToConsume,
		"gamma", cfg.Firm.Gamma,
		"productivity", cfg.Firm.Productivity,
	)
	return true
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
