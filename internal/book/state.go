package book

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"OptionSentinel/internal/model"

	"github.com/shopspring/decimal"
)

// State is what survives between revaluations.
type State struct {
	LastRunID   string                     `json:"last_run_id"`
	LastRunAt   time.Time                  `json:"last_run_at"`
	PricingDate time.Time                  `json:"pricing_date"`
	TotalMTM    decimal.Decimal            `json:"total_mtm"`
	MTM         map[string]decimal.Decimal `json:"mtm"`
	Expired     map[string]time.Time       `json:"expired"` // expiry notices already sent
	UpdatedAt   time.Time                  `json:"updated_at"`
}

// LoadState reads the state from a JSON file. Returns a zero state if the file doesn't exist.
func LoadState(filePath string) (*State, error) {
	state := &State{}
	data, err := os.ReadFile(filePath)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, state); err != nil {
			return nil, err
		}
	}
	if state.MTM == nil {
		state.MTM = make(map[string]decimal.Decimal)
	}
	if state.Expired == nil {
		state.Expired = make(map[string]time.Time)
	}
	return state, nil
}

// SaveState writes the state to a JSON file.
func SaveState(filePath string, state *State) error {
	state.UpdatedAt = time.Now()
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(filePath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return os.WriteFile(filePath, data, 0644)
}

// StateManager guards the persisted state.
type StateManager struct {
	mu       sync.Mutex
	state    *State
	filePath string
}

// NewStateManager loads or initialises state from disk.
func NewStateManager(filePath string) (*StateManager, error) {
	state, err := LoadState(filePath)
	if err != nil {
		return nil, err
	}
	return &StateManager{state: state, filePath: filePath}, nil
}

// GetState returns a copy of the current state.
func (m *StateManager) GetState() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := *m.state
	s.MTM = make(map[string]decimal.Decimal, len(m.state.MTM))
	for k, v := range m.state.MTM {
		s.MTM[k] = v
	}
	s.Expired = make(map[string]time.Time, len(m.state.Expired))
	for k, v := range m.state.Expired {
		s.Expired[k] = v
	}
	return s
}

// PreviousMTM returns the MTM recorded for id by the last run.
func (m *StateManager) PreviousMTM(id string) (decimal.Decimal, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.state.MTM[id]
	return v, ok
}

// Commit stores the MTMs of a completed run.
func (m *StateManager) Commit(run *model.Run) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mtm := make(map[string]decimal.Decimal, len(run.Valuations))
	for _, v := range run.Valuations {
		mtm[v.PositionID] = v.MTM
	}
	m.state.LastRunID = run.ID
	m.state.LastRunAt = run.StartedAt
	m.state.PricingDate = run.PricingDate
	m.state.TotalMTM = run.TotalMTM
	m.state.MTM = mtm

	if err := m.save(); err != nil {
		log.Printf("[ERROR] failed to save book state: %v", err)
	}
}

// IsExpired reports whether id has already been settled.
func (m *StateManager) IsExpired(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, done := m.state.Expired[id]
	return done
}

// MarkExpired records that an expiry notice was sent for id. It reports
// false if one had already been sent.
func (m *StateManager) MarkExpired(id string, date time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, done := m.state.Expired[id]; done {
		return false
	}
	m.state.Expired[id] = date
	if err := m.save(); err != nil {
		log.Printf("[ERROR] failed to save book state after expiry: %v", err)
	}
	return true
}

func (m *StateManager) save() error {
	return SaveState(m.filePath, m.state)
}
