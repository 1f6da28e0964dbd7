package model

import "time"

// OHLCV represents a single daily bar of the underlying future.
type OHLCV struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// MarketSnapshot is the market state a position is priced against.
type MarketSnapshot struct {
	Symbol   string
	Forward  float64
	Realized float64 // average of fixings already published in the window
	Fixings  int
	AsOf     time.Time
}
