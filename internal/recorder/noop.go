package recorder

import (
	"OptionSentinel/internal/model"
	"OptionSentinel/internal/risk"
)

// NoopRecorder is a no-op implementation used when SQLite is not configured.
type NoopRecorder struct{}

func NewNoopRecorder() *NoopRecorder { return &NoopRecorder{} }

func (n *NoopRecorder) RecordRun(_ *model.Run) error                   { return nil }
func (n *NoopRecorder) RecordBreaches(_ string, _ []risk.Breach) error { return nil }
func (n *NoopRecorder) RecordExpiry(_ *ExpiryEvent) error              { return nil }
func (n *NoopRecorder) RecentRuns(_ int) ([]RunSummary, error)         { return nil, nil }
func (n *NoopRecorder) Close() error                                   { return nil }
