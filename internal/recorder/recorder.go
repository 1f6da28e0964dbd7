package recorder

import (
	"time"

	"OptionSentinel/internal/model"
	"OptionSentinel/internal/risk"

	"github.com/shopspring/decimal"
)

// ExpiryEvent records a position reaching its last fixing.
type ExpiryEvent struct {
	PositionID string
	Underlying string
	Date       time.Time
	Settlement float64 // realized average (Asian) or last forward (European)
	UnitValue  float64 // intrinsic value at expiry
}

// RunSummary is one row of revaluation history.
type RunSummary struct {
	ID          string
	PricingDate time.Time
	Timestamp   time.Time
	Positions   int
	Failures    int
	TotalMTM    decimal.Decimal
	TotalPnL    decimal.Decimal
}

// Recorder persists revaluation history for analysis.
type Recorder interface {
	RecordRun(run *model.Run) error
	RecordBreaches(runID string, breaches []risk.Breach) error
	RecordExpiry(evt *ExpiryEvent) error
	RecentRuns(limit int) ([]RunSummary, error)
	Close() error
}
