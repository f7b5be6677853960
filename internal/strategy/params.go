// Package strategy implements the breakout candidate selector: scoring each
// symbol from its recent daily bars, ranking the universe and deriving the
// entry bands and bracket prices for the day's picks.
package strategy

import (
	"errors"
	"fmt"
	"sort"
)

// Params configures selection and bracket placement. Multipliers and the
// selection threshold differ between variants, so none of them is fixed.
type Params struct {
	Name string `yaml:"name"`

	BarsetRecords int     `yaml:"barset_records"` // bars required per symbol
	MovedDays     int     `yaml:"moved_days"`     // lookback for moved_pct
	MinPrice      float64 `yaml:"min_price"`      // inclusive band on the latest close
	MaxPrice      float64 `yaml:"max_price"`

	// ChangeThreshold is the minimum yesterday change (percent, exclusive).
	ChangeThreshold float64 `yaml:"change_threshold"`
	// MinWeightage drops picks scoring at or below it. Zero disables it.
	MinWeightage float64 `yaml:"min_weightage"`
	MaxNumStocks int     `yaml:"max_num_stocks"`

	StepFraction     float64 `yaml:"step_fraction"` // of yesterday's high-low range
	StopMultiplier   float64 `yaml:"stop_multiplier"`
	TargetMultiplier float64 `yaml:"target_multiplier"`
	AllowShort       bool    `yaml:"allow_short"`
}

// DefaultParams is the long and short breakout: threshold 5%, stop 2 steps,
// target 4 steps, at most 40 picks.
func DefaultParams() Params {
	return Params{
		Name:             "lw-breakout",
		BarsetRecords:    5,
		MovedDays:        3,
		MinPrice:         20,
		MaxPrice:         1000,
		ChangeThreshold:  5,
		MaxNumStocks:     40,
		StepFraction:     0.25,
		StopMultiplier:   2,
		TargetMultiplier: 4,
		AllowShort:       true,
	}
}

// Validate rejects parameter sets the selector cannot run with.
func (p Params) Validate() error {
	var errs []error
	if p.BarsetRecords < 2 {
		errs = append(errs, fmt.Errorf("barset_records must be at least 2, got %d", p.BarsetRecords))
	}
	if p.MovedDays < 1 || p.MovedDays > p.BarsetRecords {
		errs = append(errs, fmt.Errorf("moved_days must be in [1, barset_records], got %d", p.MovedDays))
	}
	if p.MinPrice < 0 || p.MaxPrice <= p.MinPrice {
		errs = append(errs, fmt.Errorf("price band [%g, %g] is empty", p.MinPrice, p.MaxPrice))
	}
	if p.MaxNumStocks < 1 {
		errs = append(errs, fmt.Errorf("max_num_stocks must be positive, got %d", p.MaxNumStocks))
	}
	if p.StepFraction <= 0 {
		errs = append(errs, fmt.Errorf("step_fraction must be positive, got %g", p.StepFraction))
	}
	if p.StopMultiplier <= 0 || p.TargetMultiplier <= 0 {
		errs = append(errs, fmt.Errorf("stop and target multipliers must be positive, got %g/%g", p.StopMultiplier, p.TargetMultiplier))
	}
	return errors.Join(errs...)
}

// Registry holds named parameter presets.
type Registry struct {
	presets map[string]Params
}

// NewRegistry creates an empty preset Registry.
func NewRegistry() *Registry {
	return &Registry{
		presets: make(map[string]Params),
	}
}

// Register adds p keyed by p.Name.
func (r *Registry) Register(p Params) {
	r.presets[p.Name] = p
}

// Get retrieves a preset by name. The second return value indicates whether
// the preset was found.
func (r *Registry) Get(name string) (Params, bool) {
	p, ok := r.presets[name]
	return p, ok
}

// List returns a sorted slice of all registered preset names.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.presets))
	for name := range r.presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
