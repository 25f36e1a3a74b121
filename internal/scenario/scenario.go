// Package scenario holds named policy presets and applies them to a running
// economy.
package scenario

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/sahilm/fuzzy"

	"github.com/talgya/macrosim/internal/policy"
)

// ErrUnknownScenario is returned by Library.Get for names it does not hold.
var ErrUnknownScenario = errors.New("unknown scenario")

// Preset is a bundle of policy settings plus an optional scripted shock.
type Preset struct {
	Key          string  `yaml:"key" json:"key"`
	Name         string  `yaml:"name" json:"name"`
	Description  string  `yaml:"description" json:"description"`
	TaxRate      float64 `yaml:"tax_rate" json:"tax_rate"`
	InterestRate float64 `yaml:"interest_rate" json:"interest_rate"`
	Welfare      float64 `yaml:"welfare" json:"welfare"`
	GovtSpending float64 `yaml:"govt_spending" json:"govt_spending"`
	AutoPolicy   bool    `yaml:"auto_policy" json:"auto_policy"`
	Crisis       string  `yaml:"trigger_crisis,omitempty" json:"trigger_crisis,omitempty"`
}

// Validate checks ranges and the crisis name.
func (p Preset) Validate() error {
	switch {
	case p.Key == "":
		return fmt.Errorf("scenario without key")
	case p.TaxRate < 0 || p.TaxRate > 1:
		return fmt.Errorf("scenario %s: tax_rate %v outside [0, 1]", p.Key, p.TaxRate)
	case p.InterestRate < 0:
		return fmt.Errorf("scenario %s: negative interest_rate", p.Key)
	case p.Welfare < 0:
		return fmt.Errorf("scenario %s: negative welfare", p.Key)
	case p.GovtSpending < 0:
		return fmt.Errorf("scenario %s: negative govt_spending", p.Key)
	}
	if p.Crisis != "" {
		if _, err := policy.ParseCrisis(p.Crisis); err != nil {
			return fmt.Errorf("scenario %s: %w", p.Key, err)
		}
	}
	return nil
}

// Builtin returns the stock presets in display order.
func Builtin() []Preset {
	return []Preset{
		{
			Key: "baseline", Name: "Baseline Economy",
			Description: "Stable, moderate growth economy",
			TaxRate:     0.20, InterestRate: 0.05, Welfare: 500, GovtSpending: 10000,
		},
		{
			Key: "high_tax", Name: "High Tax Welfare State",
			Description: "High taxes, generous welfare",
			TaxRate:     0.40, InterestRate: 0.03, Welfare: 1500, GovtSpending: 30000,
		},
		{
			Key: "low_tax", Name: "Low Tax Economy",
			Description: "Minimal government intervention",
			TaxRate:     0.10, InterestRate: 0.02, Welfare: 100, GovtSpending: 5000,
		},
		{
			Key: "recession_2008", Name: "2008 Financial Crisis",
			Description: "Great Recession with near-zero rates and stimulus",
			TaxRate:     0.20, InterestRate: 0.001, Welfare: 1000, GovtSpending: 50000,
			Crisis: string(policy.Recession),
		},
		{
			Key: "covid_2020", Name: "COVID-19 Pandemic Response",
			Description: "Demand shock with fiscal and monetary response",
			TaxRate:     0.15, InterestRate: 0.001, Welfare: 2000, GovtSpending: 60000,
			Crisis: string(policy.Recession),
		},
		{
			Key: "inflation_1970s", Name: "1970s Stagflation",
			Description: "High inflation requiring tight monetary policy",
			TaxRate:     0.25, InterestRate: 0.10, Welfare: 500, GovtSpending: 15000,
			Crisis: string(policy.Inflation),
		},
		{
			Key: "taylor_rule", Name: "Automatic Monetary Policy",
			Description: "Central bank follows the Taylor rule",
			TaxRate:     0.20, InterestRate: 0.05, Welfare: 500, GovtSpending: 10000,
			AutoPolicy: true,
		},
		{
			Key: "ubi_experiment", Name: "Universal Basic Income",
			Description: "High flat welfare payments",
			TaxRate:     0.30, InterestRate: 0.03, Welfare: 1800, GovtSpending: 10000,
		},
	}
}

// Library is an ordered set of presets keyed by Preset.Key.
type Library struct {
	presets []Preset
	index   map[string]int
}

// NewLibrary returns a library holding the built-in presets.
func NewLibrary() *Library {
	l := &Library{index: make(map[string]int)}
	for _, p := range Builtin() {
		l.put(p)
	}
	return l
}

// LoadFile reads a YAML list of presets and merges it over the built-ins.
// Entries whose key matches a built-in replace it.
func LoadFile(path string) (*Library, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenarios: %w", err)
	}

	var presets []Preset
	if err := yaml.Unmarshal(data, &presets); err != nil {
		return nil, fmt.Errorf("parse scenarios %s: %w", path, err)
	}

	l := NewLibrary()
	for _, p := range presets {
		p.Key = normalize(p.Key)
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		l.put(p)
	}
	return l, nil
}

func (l *Library) put(p Preset) {
	if i, ok := l.index[p.Key]; ok {
		l.presets[i] = p
		return
	}
	l.index[p.Key] = len(l.presets)
	l.presets = append(l.presets, p)
}

// List returns the presets in order.
func (l *Library) List() []Preset {
	out := make([]Preset, len(l.presets))
	copy(out, l.presets)
	return out
}

// Names returns the preset keys in order.
func (l *Library) Names() []string {
	names := make([]string, len(l.presets))
	for i, p := range l.presets {
		names[i] = p.Key
	}
	return names
}

// NotFoundError reports a missing preset along with close matches.
type NotFoundError struct {
	Name        string
	Suggestions []string
}

func (e *NotFoundError) Error() string {
	if len(e.Suggestions) == 0 {
		return fmt.Sprintf("%s %q", ErrUnknownScenario, e.Name)
	}
	return fmt.Sprintf("%s %q (did you mean %s?)", ErrUnknownScenario, e.Name, strings.Join(e.Suggestions, ", "))
}

// Unwrap lets errors.Is match ErrUnknownScenario.
func (e *NotFoundError) Unwrap() error { return ErrUnknownScenario }

// Get looks a preset up by key, ignoring case and surrounding space.
func (l *Library) Get(name string) (Preset, error) {
	key := normalize(name)
	if i, ok := l.index[key]; ok {
		return l.presets[i], nil
	}
	return Preset{}, &NotFoundError{Name: name, Suggestions: l.suggest(key, 3)}
}

func (l *Library) suggest(key string, limit int) []string {
	if key == "" {
		return nil
	}
	matches := fuzzy.Find(key, l.Names())
	if len(matches) > limit {
		matches = matches[:limit]
	}
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = m.Str
	}
	return out
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Target is the policy surface a preset drives.
type Target interface {
	SetTaxRate(rate float64)
	SetInterestRate(rate float64)
	SetWelfarePayment(amount float64)
	SetGovtSpending(amount float64)
	EnableAutoMonetaryPolicy(on bool)
	TriggerCrisis(kind policy.Crisis) error
}

// Apply sets every policy lever in p and then triggers its crisis, if any.
func Apply(t Target, p Preset) error {
	if err := p.Validate(); err != nil {
		return err
	}
	t.SetTaxRate(p.TaxRate)
	t.SetInterestRate(p.InterestRate)
	t.SetWelfarePayment(p.Welfare)
	t.SetGovtSpending(p.GovtSpending)
	t.EnableAutoMonetaryPolicy(p.AutoPolicy)

	if p.Crisis == "" {
		return nil
	}
	kind, err := policy.ParseCrisis(p.Crisis)
	if err != nil {
		return err
	}
	if err := t.TriggerCrisis(kind); err != nil {
		return fmt.Errorf("scenario %s: %w", p.Key, err)
	}
	return nil
}
