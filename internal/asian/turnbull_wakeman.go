// Package asian prices average-price options on futures with the
// Turnbull-Wakeman moment-matching approximation, following Haug's treatment
// for options on commodity futures. Every calendar day is assumed to fix.
package asian

import (
	"errors"
	"fmt"
	"math"
	"time"

	"OptionSentinel/internal/daycount"
	"OptionSentinel/internal/model"
	"OptionSentinel/internal/pricing"
)

// ErrInvertedWindow is returned when the averaging window starts after it ends.
var ErrInvertedWindow = errors.New("averaging start date is after end date")

// Regime says how much of the averaging window has elapsed.
type Regime int

const (
	NotStarted Regime = iota
	InProgress
	Finished
)

func (r Regime) String() string {
	switch r {
	case NotStarted:
		return "NOT_STARTED"
	case InProgress:
		return "IN_PROGRESS"
	case Finished:
		return "FINISHED"
	default:
		return fmt.Sprintf("Regime(%d)", int(r))
	}
}

// Inputs describes one Asian option valuation.
type Inputs struct {
	Type        model.OptionType
	PricingDate time.Time
	StartDate   time.Time
	EndDate     time.Time
	BulletVol   float64
	Forward     float64
	Realized    float64 // average of the fixings published so far
	Strike      float64
	Rate        float64
}

// Detail is the full breakdown of a Turnbull-Wakeman valuation.
type Detail struct {
	Regime     Regime
	OpenRatio  float64
	Swap       float64 // underlying handed to the vanilla pricer
	TEnd       float64
	TStart     float64
	TAveraging float64
	TOpen      float64
	Moment     float64
	Vol        float64 // effective volatility of the average
	AdjStrike  float64
	Multiplier float64
	Equivalent pricing.Result // vanilla result before the multiplier
	Value      float64
}

// Greeks returns the equivalent vanilla Greeks scaled by the payoff multiplier.
// Delta and gamma are with respect to Swap.
func (d Detail) Greeks() model.Greeks {
	return d.Equivalent.Scale(d.Multiplier).Greeks()
}

// FloatingRatio is the share of the averaging window still to fix: 1 before
// the window opens, 0 once the last fixing is in, and the fraction of days
// left (the pricing day included) in between.
func FloatingRatio(pricingDate, startDate, endDate time.Time) float64 {
	pd, sd, ed := daycount.Truncate(pricingDate), daycount.Truncate(startDate), daycount.Truncate(endDate)
	if pd.After(ed) {
		return 0
	}
	if sd.Before(pd) {
		total := daycount.Days(sd, ed) + 1
		open := daycount.Days(pd, ed) + 1
		return float64(open) / float64(total)
	}
	return 1
}

// Swap blends the forward for the open part of the window with the realized
// average for the part that has already fixed.
func Swap(forward, realized float64, pricingDate, startDate, endDate time.Time) float64 {
	ratio := FloatingRatio(pricingDate, startDate, endDate)
	return ratio*forward + (1-ratio)*realized
}

// Moment is the normalised second moment of the arithmetic average for a
// window running from tStart to tEnd (both in years from today). Zero means
// the average carries no volatility.
//
// The closed form
//
//	[2e^{v²T} - 2e^{v²τ}(1 + v²(T-τ))] / (v⁴(T-τ)²)
//
// is evaluated as e^{v²τ}·2(e^x-1-x)/x² with x = v²(T-τ), switching to the
// Taylor series for small x where the difference cancels.
func Moment(bulletVol, tEnd, tStart float64) float64 {
	if bulletVol == 0 {
		return 0
	}
	v2 := bulletVol * bulletVol
	if tEnd == tStart {
		return math.Exp(v2 * tEnd)
	}
	x := v2 * (tEnd - tStart)
	var g float64
	if math.Abs(x) < seriesCutoff {
		g = 1 + x/3 + x*x/12
	} else {
		g = 2 * (math.Expm1(x) - x) / (x * x)
	}
	m := math.Exp(v2*tStart) * g
	if m < 0 || math.IsNaN(m) {
		return 0
	}
	return m
}

const seriesCutoff = 1e-5

// EffectiveVol converts a second moment into the Black volatility of the
// average over tEnd years.
func EffectiveVol(m, tEnd float64) float64 {
	if m == 0 || tEnd <= 0 {
		return 0
	}
	lm := math.Log(m)
	if lm <= 0 {
		return 0
	}
	return math.Sqrt(lm / tEnd)
}

// Price returns the Turnbull-Wakeman value of an Asian option on a future.
func Price(in Inputs) (float64, error) {
	d, err := Evaluate(in)
	if err != nil {
		return 0, err
	}
	return d.Value, nil
}

// Evaluate prices an Asian option and returns every intermediate quantity.
func Evaluate(in Inputs) (Detail, error) {
	pd := daycount.Truncate(in.PricingDate)
	sd := daycount.Truncate(in.StartDate)
	ed := daycount.Truncate(in.EndDate)
	if sd.After(ed) {
		return Detail{}, fmt.Errorf("%w: %s > %s", ErrInvertedWindow, sd.Format("2006-01-02"), ed.Format("2006-01-02"))
	}

	d := Detail{
		OpenRatio:  FloatingRatio(pd, sd, ed),
		TEnd:       daycount.TimeToMaturity(pd, ed),
		TStart:     math.Max(0, daycount.TimeToMaturity(pd, sd)),
		TAveraging: daycount.AveragingPeriod(sd, ed),
	}
	d.Swap = d.OpenRatio*in.Forward + (1-d.OpenRatio)*in.Realized

	// The open period counts today, so it runs one day longer than TEnd:
	// today's volatility is spent but today's fixing is still outstanding.
	d.TOpen = math.Min(d.TAveraging, daycount.AveragingPeriod(pd, ed))

	d.Moment = Moment(in.BulletVol, d.TEnd, d.TStart)
	d.Vol = EffectiveVol(d.Moment, d.TEnd)

	switch {
	case !pd.Before(ed):
		d.Regime = Finished
		d.AdjStrike, d.Multiplier = in.Strike, 1
	case pd.After(sd):
		d.Regime = InProgress
		d.AdjStrike = in.Strike*d.TAveraging/d.TOpen - in.Realized*(d.TAveraging-d.TOpen)/d.TOpen
		if d.AdjStrike > 0 {
			// Price only the open leg against the forward.
			d.Swap = in.Forward
			d.Multiplier = d.TOpen / d.TAveraging
		} else {
			// Fixings so far already put the average through the strike.
			d.AdjStrike, d.Multiplier = in.Strike, 1
		}
	default:
		d.Regime = NotStarted
		d.AdjStrike, d.Multiplier = in.Strike, 1
	}

	eq, err := pricing.Price(in.Type, d.Swap, d.AdjStrike, d.TEnd, in.Rate, 0, d.Vol)
	if err != nil {
		return Detail{}, err
	}
	d.Equivalent = eq
	d.Value = eq.Value * d.Multiplier
	return d, nil
}
