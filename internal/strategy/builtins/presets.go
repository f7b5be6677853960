// Package builtins provides the parameter presets that ship with the
// breakout trader.
package builtins

import (
	"breakout/internal/strategy"
)

// Preset names.
const (
	Breakout        = "lw-breakout"
	BreakoutLong    = "lw-breakout-long"
	BreakoutClassic = "lw-breakout-classic"
)

// LongOnly trades upside breakouts only: stop 2 steps, target 3 steps.
func LongOnly() strategy.Params {
	p := strategy.DefaultParams()
	p.Name = BreakoutLong
	p.TargetMultiplier = 3
	p.AllowShort = false
	return p
}

// Classic is the earlier long-only variant: threshold 4%, a weightage floor
// of 10, at most 20 picks, stop 1 step, target 3 steps.
func Classic() strategy.Params {
	p := strategy.DefaultParams()
	p.Name = BreakoutClassic
	p.ChangeThreshold = 4
	p.MinWeightage = 10
	p.MaxNumStocks = 20
	p.StopMultiplier = 1
	p.TargetMultiplier = 3
	p.AllowShort = false
	return p
}

// Register adds every built-in preset to r.
func Register(r *strategy.Registry) {
	r.Register(strategy.DefaultParams())
	r.Register(LongOnly())
	r.Register(Classic())
}

// NewRegistry returns a registry holding the built-in presets.
func NewRegistry() *strategy.Registry {
	r := strategy.NewRegistry()
	Register(r)
	return r
}
