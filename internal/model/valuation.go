package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Greeks are first and second order sensitivities per unit of underlying.
type Greeks struct {
	Delta float64
	Gamma float64
	Theta float64
	Vega  float64
	Rho   float64
}

// Valuation is the priced state of one position.
type Valuation struct {
	PositionID string
	Underlying string
	Style      Style
	Type       OptionType
	Market     MarketSnapshot

	UnitValue float64 // per unit of underlying
	Greeks    Greeks  // per unit; for Asian lines, scaled equivalent-vanilla Greeks

	// Asian breakdown; zero for European lines.
	Swap         float64
	EffectiveVol float64
	AdjStrike    float64
	Multiplier   float64
	Regime       string

	MTM       decimal.Decimal // UnitValue × Quantity × LotSize
	PnL       decimal.Decimal // MTM change since the previous run
	HasPrior  bool
	Exposure  float64 // Delta × Quantity × LotSize
	VegaTotal float64 // Vega × Quantity × LotSize
}

// Run is the result of one book revaluation.
type Run struct {
	ID          string
	PricingDate time.Time
	StartedAt   time.Time
	Duration    time.Duration
	Valuations  []Valuation
	Failures    map[string]string // position id -> error
	Skipped     []string
	TotalMTM    decimal.Decimal
	TotalPnL    decimal.Decimal
}
