package recorder

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"OptionSentinel/internal/model"
	"OptionSentinel/internal/risk"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

// SQLiteRecorder persists revaluation history to a SQLite database.
type SQLiteRecorder struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteRecorder opens (or creates) the SQLite database and runs migrations.
func NewSQLiteRecorder(dbPath string) (*SQLiteRecorder, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL lets dashboards read while a run is being written.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	r := &SQLiteRecorder{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Printf("[INFO] sqlite recorder opened: %s", dbPath)
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS revaluation_runs (
			id           TEXT PRIMARY KEY,
			timestamp    INTEGER NOT NULL,
			pricing_date TEXT NOT NULL,
			duration_ms  INTEGER,
			positions    INTEGER,
			failures     INTEGER,
			skipped      INTEGER,
			total_mtm    TEXT,
			total_pnl    TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_ts ON revaluation_runs(timestamp)`,

		`CREATE TABLE IF NOT EXISTS position_valuations (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id        TEXT NOT NULL,
			position_id   TEXT NOT NULL,
			underlying    TEXT,
			style         TEXT,
			option_type   TEXT,
			forward       REAL,
			realized      REAL,
			fixings       INTEGER,
			unit_value    REAL,
			delta         REAL,
			gamma         REAL,
			theta         REAL,
			vega          REAL,
			rho           REAL,
			swap          REAL,
			effective_vol REAL,
			adj_strike    REAL,
			multiplier    REAL,
			regime        TEXT,
			mtm           TEXT,
			pnl           TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_valuations_run ON position_valuations(run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_valuations_pos ON position_valuations(position_id)`,

		`CREATE TABLE IF NOT EXISTS limit_breaches (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id      TEXT NOT NULL,
			timestamp   INTEGER NOT NULL,
			kind        TEXT,
			subject     TEXT,
			level       TEXT,
			value       REAL,
			limit_value REAL,
			utilization REAL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_breaches_ts ON limit_breaches(timestamp)`,

		`CREATE TABLE IF NOT EXISTS expiries (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp   INTEGER NOT NULL,
			position_id TEXT NOT NULL,
			underlying  TEXT,
			expiry_date TEXT,
			settlement  REAL,
			unit_value  REAL
		)`,
	}

	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

// RecordRun writes the run header and every valuation in one transaction.
func (r *SQLiteRecorder) RecordRun(run *model.Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT INTO revaluation_runs
		(id, timestamp, pricing_date, duration_ms, positions, failures, skipped, total_mtm, total_pnl)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		run.ID, run.StartedAt.Unix(), run.PricingDate.Format("2006-01-02"), run.Duration.Milliseconds(),
		len(run.Valuations), len(run.Failures), len(run.Skipped),
		run.TotalMTM.String(), run.TotalPnL.String(),
	); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO position_valuations
		(run_id, position_id, underlying, style, option_type, forward, realized, fixings,
		 unit_value, delta, gamma, theta, vega, rho,
		 swap, effective_vol, adj_strike, multiplier, regime, mtm, pnl)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return fmt.Errorf("prepare valuation: %w", err)
	}
	defer stmt.Close()

	for _, v := range run.Valuations {
		g := v.Greeks
		if _, err := stmt.Exec(
			run.ID, v.PositionID, v.Underlying, string(v.Style), v.Type.String(),
			v.Market.Forward, v.Market.Realized, v.Market.Fixings,
			v.UnitValue, g.Delta, g.Gamma, g.Theta, g.Vega, g.Rho,
			v.Swap, v.EffectiveVol, v.AdjStrike, v.Multiplier, v.Regime,
			v.MTM.String(), v.PnL.String(),
		); err != nil {
			return fmt.Errorf("insert valuation %s: %w", v.PositionID, err)
		}
	}
	return tx.Commit()
}

func (r *SQLiteRecorder) RecordBreaches(runID string, breaches []risk.Breach) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().Unix()
	for _, b := range breaches {
		if _, err := r.db.Exec(`INSERT INTO limit_breaches
			(run_id, timestamp, kind, subject, level, value, limit_value, utilization)
			VALUES (?,?,?,?,?,?,?,?)`,
			runID, now, b.Kind, b.Subject, b.Level, b.Value, b.Limit, b.Utilization,
		); err != nil {
			return err
		}
	}
	return nil
}

func (r *SQLiteRecorder) RecordExpiry(evt *ExpiryEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`INSERT INTO expiries
		(timestamp, position_id, underlying, expiry_date, settlement, unit_value)
		VALUES (?,?,?,?,?,?)`,
		time.Now().Unix(), evt.PositionID, evt.Underlying,
		evt.Date.Format("2006-01-02"), evt.Settlement, evt.UnitValue,
	)
	return err
}

// RecentRuns returns the latest runs, newest first.
func (r *SQLiteRecorder) RecentRuns(limit int) ([]RunSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows, err := r.db.Query(`SELECT id, pricing_date, timestamp, positions, failures, total_mtm, total_pnl
		FROM revaluation_runs ORDER BY timestamp DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var (
			s        RunSummary
			pd       string
			ts       int64
			mtm, pnl string
			err      error
		)
		if err = rows.Scan(&s.ID, &pd, &ts, &s.Positions, &s.Failures, &mtm, &pnl); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		s.Timestamp = time.Unix(ts, 0)
		if s.PricingDate, err = time.Parse("2006-01-02", pd); err != nil {
			return nil, fmt.Errorf("parse pricing date: %w", err)
		}
		if s.TotalMTM, err = decimal.NewFromString(mtm); err != nil {
			return nil, fmt.Errorf("parse total mtm: %w", err)
		}
		if s.TotalPnL, err = decimal.NewFromString(pnl); err != nil {
			return nil, fmt.Errorf("parse total pnl: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *SQLiteRecorder) Close() error {
	log.Println("[INFO] closing sqlite recorder")
	return r.db.Close()
}
