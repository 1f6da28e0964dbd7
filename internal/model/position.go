package model

import "time"

// Position is one option line in the book.
type Position struct {
	ID         string
	Underlying string // futures symbol used to fetch market data
	Style      Style
	Type       OptionType
	Strike     float64
	Quantity   float64 // signed: negative for short
	LotSize    float64
	Volatility float64 // bullet vol for Asian, Black vol for European

	// European only.
	Expiry time.Time
	Carry  float64 // cost of carry b; 0 for futures

	// Asian only.
	AverageStart time.Time
	AverageEnd   time.Time
}

// LastFixing is the date after which the position has no remaining exposure.
func (p *Position) LastFixing() time.Time {
	if p.Style == StyleAsian {
		return p.AverageEnd
	}
	return p.Expiry
}
