// Package risk checks a revaluation run against book limits.
package risk

import (
	"fmt"
	"math"
	"sort"

	"OptionSentinel/internal/model"
)

// Limits are absolute caps; zero disables a check.
type Limits struct {
	Delta        float64 // net delta per underlying, in units of the underlying
	Vega         float64 // net vega per underlying, per vol point × 100
	ValueDropPct float64 // book MTM drop versus the previous run, in percent
}

// Level grades how close a measure is to its limit.
type Level struct {
	Label       string
	Utilization float64 // minimum |value|/limit for this level
}

// Levels is ordered from most to least severe.
var Levels = []Level{
	{Label: "BREACH", Utilization: 1.0},
	{Label: "WARNING", Utilization: 0.9},
	{Label: "WATCH", Utilization: 0.75},
}

// Breach is one limit observation worth reporting.
type Breach struct {
	Kind        string // "DELTA", "VEGA", "VALUE_DROP"
	Subject     string // underlying, or "BOOK"
	Value       float64
	Limit       float64
	Utilization float64
	Level       string
}

func (b Breach) String() string {
	return fmt.Sprintf("%s %s %s: %.2f / %.2f (%.0f%%)", b.Level, b.Kind, b.Subject, b.Value, b.Limit, b.Utilization*100)
}

// mapLevel returns the level for a utilization, or false if it is below all levels.
func mapLevel(utilization float64) (Level, bool) {
	for _, l := range Levels {
		if utilization >= l.Utilization {
			return l, true
		}
	}
	return Level{}, false
}

// Exposure is the aggregated Greeks of one underlying.
type Exposure struct {
	Underlying string
	Delta      float64
	Vega       float64
}

// Aggregate sums position exposures per underlying, sorted by name.
func Aggregate(run *model.Run) []Exposure {
	byName := make(map[string]*Exposure)
	for _, v := range run.Valuations {
		e, ok := byName[v.Underlying]
		if !ok {
			e = &Exposure{Underlying: v.Underlying}
			byName[v.Underlying] = e
		}
		e.Delta += v.Exposure
		e.Vega += v.VegaTotal
	}
	out := make([]Exposure, 0, len(byName))
	for _, e := range byName {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Underlying < out[j].Underlying })
	return out
}

// Check evaluates run against limits and returns every observation at or
// above the lowest level, most severe first.
func Check(run *model.Run, limits Limits) []Breach {
	var out []Breach
	add := func(kind, subject string, value, limit float64) {
		if limit <= 0 {
			return
		}
		u := math.Abs(value) / limit
		if l, ok := mapLevel(u); ok {
			out = append(out, Breach{Kind: kind, Subject: subject, Value: value, Limit: limit, Utilization: u, Level: l.Label})
		}
	}

	for _, e := range Aggregate(run) {
		add("DELTA", e.Underlying, e.Delta, limits.Delta)
		// Vega is per unit vol; report per vol point.
		add("VEGA", e.Underlying, e.Vega/100, limits.Vega)
	}

	if limits.ValueDropPct > 0 {
		if drop, ok := valueDropPct(run); ok && drop > 0 {
			add("VALUE_DROP", "BOOK", drop, limits.ValueDropPct)
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Utilization > out[j].Utilization })
	return out
}

// valueDropPct is the percentage fall of the MTM of lines that were also
// valued by the previous run.
func valueDropPct(run *model.Run) (float64, bool) {
	var prev, pnl float64
	var seen bool
	for _, v := range run.Valuations {
		if !v.HasPrior {
			continue
		}
		seen = true
		p := v.MTM.Sub(v.PnL).InexactFloat64()
		prev += math.Abs(p)
		pnl += v.PnL.InexactFloat64()
	}
	if !seen || prev == 0 {
		return 0, false
	}
	return -pnl * 100 / prev, true
}
