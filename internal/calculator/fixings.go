package calculator

import (
	"errors"
	"time"

	"OptionSentinel/internal/daycount"
	"OptionSentinel/internal/model"
)

// ErrNoFixings is returned when no bar falls inside the requested window.
var ErrNoFixings = errors.New("no fixings in window")

// CalculateSMA computes the simple moving average of the given prices over the specified period.
func CalculateSMA(prices []float64, period int) (float64, error) {
	if period <= 0 {
		return 0, errors.New("period must be positive")
	}
	if len(prices) < period {
		return 0, errors.New("not enough data for SMA calculation")
	}
	sum := 0.0
	for i := len(prices) - period; i < len(prices); i++ {
		sum += prices[i]
	}
	return sum / float64(period), nil
}

// CalculateRealizedAverage averages the closes of bars dated within
// [from, to], both inclusive. Bars are matched on calendar date.
func CalculateRealizedAverage(bars []model.OHLCV, from, to time.Time) (avg float64, n int, err error) {
	if to.Before(from) {
		return 0, 0, ErrNoFixings
	}
	closes := windowCloses(bars, daycount.Truncate(from), daycount.Truncate(to))
	if len(closes) == 0 {
		return 0, 0, ErrNoFixings
	}
	avg, err = CalculateSMA(closes, len(closes))
	return avg, len(closes), err
}

// LastClose returns the most recent close on or before date.
func LastClose(bars []model.OHLCV, date time.Time) (float64, error) {
	d := daycount.Truncate(date)
	for i := len(bars) - 1; i >= 0; i-- {
		if !daycount.Truncate(bars[i].Time).After(d) {
			return bars[i].Close, nil
		}
	}
	return 0, ErrNoFixings
}

func windowCloses(bars []model.OHLCV, from, to time.Time) []float64 {
	var closes []float64
	for _, b := range bars {
		d := daycount.Truncate(b.Time)
		if d.Before(from) || d.After(to) || b.Close <= 0 {
			continue
		}
		closes = append(closes, b.Close)
	}
	return closes
}
