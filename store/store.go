// Package store persists coupled runs, their step records and end-of-run
// reports in SQLite
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/maseology/dualdrain"
	"github.com/maseology/dualdrain/ledger"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// ErrNoRun is returned when steps or reports arrive before BeginRun
var ErrNoRun = errors.New("store: no run started")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	label TEXT,
	config TEXT NOT NULL,
	started DATETIME NOT NULL,
	finished DATETIME,
	steps INTEGER,
	sim_time REAL,
	injected REAL,
	boundary REAL,
	flooding REAL,
	outfall REAL,
	final_loss REAL,
	max_abs_loss REAL,
	drift INTEGER
);
CREATE TABLE IF NOT EXISTS steps (
	run_id TEXT NOT NULL REFERENCES runs(id),
	step INTEGER NOT NULL,
	t REAL NOT NULL,
	loss REAL NOT NULL,
	PRIMARY KEY(run_id, step)
);
CREATE TABLE IF NOT EXISTS exchanges (
	run_id TEXT NOT NULL REFERENCES runs(id),
	step INTEGER NOT NULL,
	point TEXT NOT NULL,
	regime TEXT NOT NULL,
	dh REAL,
	raw REAL,
	smoothed REAL,
	commanded REAL,
	realized REAL,
	clamped INTEGER,
	PRIMARY KEY(run_id, step, point)
);
CREATE TABLE IF NOT EXISTS points (
	run_id TEXT NOT NULL REFERENCES runs(id),
	point TEXT NOT NULL,
	commanded REAL,
	realized REAL,
	rmse REAL,
	clamps INTEGER,
	PRIMARY KEY(run_id, point)
);
CREATE INDEX IF NOT EXISTS idx_exchanges_point ON exchanges(run_id, point);`

// Run summarises a stored run
type Run struct {
	ID, Label         string
	Started, Finished time.Time
	Steps             int
	FinalLoss         float64
	Drift             bool
}

// Store is a SQLite sink for coupled runs. It implements dualdrain.Observer;
// one Store records one run at a time.
type Store struct {
	db     *sql.DB
	DBPath string
	run    string
	log    *logrus.Entry
}

// Open creates or opens the database at dbPath, creating its directory and tables
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return &Store{
		db:     db,
		DBPath: dbPath,
		log:    logrus.WithField("component", "store"),
	}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// RunID is the identifier of the run being recorded
func (s *Store) RunID() string { return s.run }

// BeginRun registers a new run with its configuration and returns its id
func (s *Store) BeginRun(cfg dualdrain.Config, label string) (string, error) {
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("BeginRun: %w", err)
	}
	id := uuid.NewString()
	if _, err := s.db.Exec(`INSERT INTO runs(id, label, config, started) VALUES(?, ?, ?, ?)`,
		id, label, string(b), time.Now().UTC()); err != nil {
		return "", fmt.Errorf("failed to insert run: %w", err)
	}
	s.run = id
	s.log.WithFields(logrus.Fields{"run": id, "label": label}).Debug("run registered")
	return id, nil
}

// Observe stores one step record and its exchange rows in a single transaction
func (s *Store) Observe(rec dualdrain.StepRecord) error {
	if s.run == "" {
		return ErrNoRun
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if _, err := tx.Exec(`INSERT INTO steps(run_id, step, t, loss) VALUES(?, ?, ?, ?)`, s.run, rec.Step, rec.Time, rec.Loss); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to insert step %d: %w", rec.Step, err)
	}
	stmt, err := tx.Prepare(`
		INSERT INTO exchanges(run_id, step, point, regime, dh, raw, smoothed, commanded, realized, clamped)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()
	for _, p := range rec.Points {
		if _, err := stmt.Exec(s.run, rec.Step, p.Name, p.Regime.String(), p.Dh, p.Raw, p.Smoothed, p.Commanded, p.Realized, p.Clamped); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to insert exchange for %s at step %d: %w", p.Name, rec.Step, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// SaveReport closes the current run with its end-of-run report
func (s *Store) SaveReport(r dualdrain.Report) error {
	if s.run == "" {
		return ErrNoRun
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	l := r.Ledger
	if _, err := tx.Exec(`
		UPDATE runs SET finished = ?, steps = ?, sim_time = ?, injected = ?, boundary = ?, flooding = ?,
			outfall = ?, final_loss = ?, max_abs_loss = ?, drift = ?
		WHERE id = ?`,
		time.Now().UTC(), r.Steps, r.Time, l.Injected, l.Boundary, l.Flooding,
		l.Outfall, l.FinalLoss, l.MaxAbsLoss, r.Drift != nil, s.run); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to update run: %w", err)
	}
	for _, p := range r.Points {
		if _, err := tx.Exec(`
			INSERT INTO points(run_id, point, commanded, realized, rmse, clamps) VALUES(?, ?, ?, ?, ?, ?)
			ON CONFLICT(run_id, point) DO UPDATE SET
			commanded=excluded.commanded, realized=excluded.realized, rmse=excluded.rmse, clamps=excluded.clamps`,
			s.run, p.Name, p.Commanded, p.Realized, p.RMSE, p.Clamps); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to insert point %s: %w", p.Name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.WithFields(logrus.Fields{"run": s.run, "steps": r.Steps, "loss": l.FinalLoss}).Info("run saved")
	return nil
}

// Samples returns the stored ledger loss series of a run
func (s *Store) Samples(runID string) ([]ledger.Sample, error) {
	rows, err := s.db.Query(`SELECT t, loss FROM steps WHERE run_id = ? ORDER BY step`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query steps: %w", err)
	}
	defer rows.Close()
	var ss []ledger.Sample
	for rows.Next() {
		var smp ledger.Sample
		if err := rows.Scan(&smp.T, &smp.Loss); err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		ss = append(ss, smp)
	}
	return ss, rows.Err()
}

// Exchanges returns one point's commanded and realised series
func (s *Store) Exchanges(runID, point string) (commanded, realized []float64, err error) {
	rows, err := s.db.Query(`SELECT commanded, realized FROM exchanges WHERE run_id = ? AND point = ? ORDER BY step`, runID, point)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query exchanges: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var c, r float64
		if err := rows.Scan(&c, &r); err != nil {
			return nil, nil, fmt.Errorf("failed to scan exchange: %w", err)
		}
		commanded = append(commanded, c)
		realized = append(realized, r)
	}
	return commanded, realized, rows.Err()
}

// Runs lists stored runs, most recent first
func (s *Store) Runs() ([]Run, error) {
	rows, err := s.db.Query(`
		SELECT id, COALESCE(label, ''), started, finished, COALESCE(steps, 0), COALESCE(final_loss, 0), COALESCE(drift, 0)
		FROM runs ORDER BY started DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()
	var rs []Run
	for rows.Next() {
		var (
			r   Run
			fin sql.NullTime
		)
		if err := rows.Scan(&r.ID, &r.Label, &r.Started, &fin, &r.Steps, &r.FinalLoss, &r.Drift); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if fin.Valid {
			r.Finished = fin.Time
		}
		rs = append(rs, r)
	}
	return rs, rows.Err()
}
