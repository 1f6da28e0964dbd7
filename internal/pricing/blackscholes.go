package pricing

import (
	"errors"
	"fmt"
	"math"

	"OptionSentinel/internal/model"

	"gonum.org/v1/gonum/stat/distuv"
)

// ErrInvalidOptionType is returned when the option type is neither call nor put.
var ErrInvalidOptionType = errors.New("invalid option type: must be CALL or PUT")

// norm is the shared standard normal distribution.
var norm = distuv.UnitNormal

// Result holds a generalized Black-Scholes value and its Greeks.
// Theta is the derivative with respect to calendar time in years.
type Result struct {
	Value float64
	Delta float64
	Gamma float64
	Theta float64
	Vega  float64
	Rho   float64
}

// Greeks returns the sensitivities without the value.
func (r Result) Greeks() model.Greeks {
	return model.Greeks{Delta: r.Delta, Gamma: r.Gamma, Theta: r.Theta, Vega: r.Vega, Rho: r.Rho}
}

// Scale multiplies the value and every Greek by k.
func (r Result) Scale(k float64) Result {
	return Result{
		Value: r.Value * k,
		Delta: r.Delta * k,
		Gamma: r.Gamma * k,
		Theta: r.Theta * k,
		Vega:  r.Vega * k,
		Rho:   r.Rho * k,
	}
}

// Price values a European option with the generalized Black-Scholes-Merton
// model.
//
//	s: spot (or futures) price
//	x: strike
//	t: time to expiry in years
//	r: risk-free rate
//	b: cost of carry (r for stock, r-q with dividend yield q, 0 for futures)
//	v: volatility
//
// With no time or no volatility left the option is worth its discounted
// intrinsic value and the Greeks are the v→0 limits of the general formulas.
func Price(optionType model.OptionType, s, x, t, r, b, v float64) (Result, error) {
	if !optionType.Valid() {
		return Result{}, fmt.Errorf("%w: got %s", ErrInvalidOptionType, optionType)
	}
	if t <= 0 || v == 0 {
		return intrinsic(optionType, s, x, t, r, b), nil
	}

	carry := math.Exp((b - r) * t)
	discount := math.Exp(-r * t)
	sqrtT := math.Sqrt(t)

	d1 := (math.Log(s/x) + (b+v*v/2)*t) / (v * sqrtT)
	d2 := d1 - v*sqrtT
	pdf := norm.Prob(d1)

	res := Result{
		Gamma: carry * pdf / (s * v * sqrtT),
		Vega:  carry * s * sqrtT * pdf,
	}
	decay := -(s * v * carry * pdf) / (2 * sqrtT)

	switch optionType {
	case model.Call:
		nd1, nd2 := norm.CDF(d1), norm.CDF(d2)
		res.Value = s*carry*nd1 - x*discount*nd2
		res.Delta = carry * nd1
		res.Theta = decay - (b-r)*s*carry*nd1 - r*x*discount*nd2
		res.Rho = x * t * discount * nd2
	case model.Put:
		nd1, nd2 := norm.CDF(-d1), norm.CDF(-d2)
		res.Value = x*discount*nd2 - s*carry*nd1
		res.Delta = -carry * nd1
		res.Theta = decay + (b-r)*s*carry*nd1 + r*x*discount*nd2
		res.Rho = -x * t * discount * nd2
	}
	return res, nil
}

// intrinsic prices the degenerate t<=0 or v=0 case. Gamma and vega vanish;
// delta, theta and rho are non-zero only when the option is in the money.
func intrinsic(optionType model.OptionType, s, x, t, r, b float64) Result {
	cp := optionType.Sign()
	fwd := s * math.Exp((b-r)*t)
	pv := x * math.Exp(-r*t)

	value := math.Max(0, cp*(fwd-pv))
	if value <= 0 {
		return Result{}
	}
	return Result{
		Value: value,
		Delta: cp * math.Exp((b-r)*t),
		Theta: -cp * ((b-r)*fwd + r*pv),
		Rho:   cp * x * t * math.Exp(-r*t),
	}
}
