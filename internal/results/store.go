package results

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// TrialRecord is a persisted sweep trial: the configuration it ran with,
// its outcome, and the aggregate metrics parsed from its output file.
type TrialRecord struct {
	ID        string    `json:"id"`
	RunID     string    `json:"run_id"`
	Timestamp time.Time `json:"timestamp"`

	Backend     string  `json:"backend"`
	Model       string  `json:"model,omitempty"`
	Device      string  `json:"device,omitempty"`
	NumPrompts  int     `json:"num_prompts"`
	RequestRate float64 `json:"request_rate"`
	OutputFile  string  `json:"output_file"`

	// Outcome is one of "passed", "failed", "timeout"
	Outcome string `json:"outcome"`
	Error   string `json:"error,omitempty"`

	Summary TrialSummary `json:"summary"`
}

// OpenDB opens (creating if needed) the trial database with WAL mode
// for better concurrency.
func OpenDB(dbPath string) (*sql.DB, error) {
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// SQLite doesn't handle concurrent writes well
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return db, nil
}

// Store provides persistence for sweep trial results.
type Store struct {
	db *sql.DB
}

// NewStore creates a new trial store.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate trial tables: %w", err)
	}
	return s, nil
}

// migrate creates the trial tables if they don't exist.
func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS trials (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			timestamp DATETIME NOT NULL,

			-- Trial config
			backend TEXT NOT NULL,
			model TEXT,
			device TEXT,
			num_prompts INTEGER NOT NULL,
			request_rate REAL NOT NULL,
			output_file TEXT NOT NULL,

			-- Outcome
			outcome TEXT NOT NULL,
			error TEXT,

			-- Aggregate metrics
			total_requests INTEGER NOT NULL DEFAULT 0,
			total_errors INTEGER NOT NULL DEFAULT 0,
			total_tokens INTEGER NOT NULL DEFAULT 0,
			duration_seconds REAL,
			request_throughput REAL,
			output_throughput REAL,
			avg_latency_ms REAL,
			p50_latency_ms REAL,
			p90_latency_ms REAL,
			p99_latency_ms REAL,
			avg_ttft_ms REAL,
			p50_ttft_ms REAL,
			p90_ttft_ms REAL,
			p99_ttft_ms REAL,

			-- Full JSON for detailed data
			full_record_json TEXT,

			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);

		CREATE INDEX IF NOT EXISTS idx_trials_run ON trials(run_id);
		CREATE INDEX IF NOT EXISTS idx_trials_backend ON trials(backend);
		CREATE INDEX IF NOT EXISTS idx_trials_timestamp ON trials(timestamp);
	`)
	return err
}

// Save stores a trial record.
func (s *Store) Save(ctx context.Context, rec *TrialRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	fullJSON, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal trial record: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO trials (
			id, run_id, timestamp,
			backend, model, device, num_prompts, request_rate, output_file,
			outcome, error,
			total_requests, total_errors, total_tokens,
			duration_seconds, request_throughput, output_throughput,
			avg_latency_ms, p50_latency_ms, p90_latency_ms, p99_latency_ms,
			avg_ttft_ms, p50_ttft_ms, p90_ttft_ms, p99_ttft_ms,
			full_record_json
		) VALUES (
			?, ?, ?,
			?, ?, ?, ?, ?, ?,
			?, ?,
			?, ?, ?,
			?, ?, ?,
			?, ?, ?, ?,
			?, ?, ?, ?,
			?
		)
	`,
		rec.ID, rec.RunID, rec.Timestamp,
		rec.Backend, rec.Model, rec.Device, rec.NumPrompts, rec.RequestRate, rec.OutputFile,
		rec.Outcome, rec.Error,
		rec.Summary.TotalRequests, rec.Summary.TotalErrors, rec.Summary.TotalTokens,
		rec.Summary.DurationSeconds, rec.Summary.RequestThroughput, rec.Summary.OutputThroughput,
		rec.Summary.AvgLatencyMs, rec.Summary.P50LatencyMs, rec.Summary.P90LatencyMs, rec.Summary.P99LatencyMs,
		rec.Summary.AvgTTFTMs, rec.Summary.P50TTFTMs, rec.Summary.P90TTFTMs, rec.Summary.P99TTFTMs,
		string(fullJSON),
	)
	return err
}

// Get retrieves a trial by ID.
func (s *Store) Get(ctx context.Context, id string) (*TrialRecord, error) {
	var fullJSON string
	err := s.db.QueryRowContext(ctx, `
		SELECT full_record_json FROM trials WHERE id = ?
	`, id).Scan(&fullJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var rec TrialRecord
	if err := json.Unmarshal([]byte(fullJSON), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListByRun returns all trials of one sweep run, slowest rate last.
func (s *Store) ListByRun(ctx context.Context, runID string) ([]*TrialRecord, error) {
	return s.query(ctx, `
		SELECT full_record_json FROM trials
		WHERE run_id = ?
		ORDER BY request_rate ASC
	`, runID)
}

// ListByBackend returns all trials for a specific backend.
func (s *Store) ListByBackend(ctx context.Context, backend string) ([]*TrialRecord, error) {
	return s.query(ctx, `
		SELECT full_record_json FROM trials
		WHERE backend = ?
		ORDER BY timestamp DESC
	`, backend)
}

// ListRecent returns the most recent trials.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]*TrialRecord, error) {
	return s.query(ctx, `
		SELECT full_record_json FROM trials
		ORDER BY timestamp DESC
		LIMIT ?
	`, limit)
}

// BestThroughput returns the trial with the highest output token
// throughput for a backend, or nil when none passed.
func (s *Store) BestThroughput(ctx context.Context, backend string) (*TrialRecord, error) {
	recs, err := s.query(ctx, `
		SELECT full_record_json FROM trials
		WHERE backend = ? AND outcome = 'passed'
		ORDER BY output_throughput DESC
		LIMIT 1
	`, backend)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return recs[0], nil
}

func (s *Store) query(ctx context.Context, q string, args ...interface{}) ([]*TrialRecord, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []*TrialRecord
	for rows.Next() {
		var fullJSON string
		if err := rows.Scan(&fullJSON); err != nil {
			return nil, err
		}
		var rec TrialRecord
		if err := json.Unmarshal([]byte(fullJSON), &rec); err != nil {
			return nil, err
		}
		recs = append(recs, &rec)
	}
	return recs, rows.Err()
}
