package report

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/awaistahir/gridloop/internal/loop"
)

// Store persists cycle summaries in SQLite so the control API can serve run
// history across restarts.
type Store struct {
	db *sql.DB
}

// NewStore opens (and if needed creates) the history database at dbPath.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	store := &Store{db: db}
	if err := store.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS cycles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		started_at TEXT NOT NULL,
		outcome TEXT NOT NULL,
		duration_ms INTEGER NOT NULL,
		step_s INTEGER,
		grid_drawn_kwh REAL,
		grid_returned_kwh REAL,
		pv_produced_kwh REAL,
		storage_soc REAL,
		temp_outdoor REAL,
		input TEXT,
		result TEXT,
		error TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_cycles_started ON cycles(started_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Record implements loop.Sink by inserting one row per cycle.
func (s *Store) Record(ctx context.Context, sum loop.Summary) error {
	var (
		stepS                         sql.NullInt64
		drawn, returned, pv, soc, out sql.NullFloat64
		inputJSON, resultJSON         sql.NullString
	)

	if in := sum.Input; in != nil {
		stepS = sql.NullInt64{Int64: int64(in.StepSeconds), Valid: true}
		drawn = sql.NullFloat64{Float64: in.GridDrawnKWh, Valid: true}
		returned = sql.NullFloat64{Float64: in.GridReturnedKWh, Valid: true}
		pv = sql.NullFloat64{Float64: in.PVProducedKWh, Valid: true}
		soc = sql.NullFloat64{Float64: in.StorageSOC, Valid: true}
		out = sql.NullFloat64{Float64: in.OutdoorTempC, Valid: true}
		if b, err := json.Marshal(in); err == nil {
			inputJSON = sql.NullString{String: string(b), Valid: true}
		}
	}
	if res := sum.Result; res != nil {
		if b, err := json.Marshal(res); err == nil {
			resultJSON = sql.NullString{String: string(b), Valid: true}
		}
	}

	query := `INSERT INTO cycles
		(started_at, outcome, duration_ms, step_s, grid_drawn_kwh, grid_returned_kwh,
		 pv_produced_kwh, storage_soc, temp_outdoor, input, result, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		sum.Start.UTC().Format(time.RFC3339Nano), sum.Outcome, sum.Duration.Milliseconds(),
		stepS, drawn, returned, pv, soc, out, inputJSON, resultJSON, sum.Err)
	return err
}

// ListRecent returns up to n summaries, most recent first.
func (s *Store) ListRecent(ctx context.Context, n int) ([]loop.Summary, error) {
	query := `SELECT started_at, outcome, duration_ms, input, result, error
		FROM cycles ORDER BY id DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summaries := []loop.Summary{}
	for rows.Next() {
		var (
			startedAt             string
			durationMs            int64
			inputJSON, resultJSON sql.NullString
			errText               sql.NullString
			sum                   loop.Summary
		)
		if err := rows.Scan(&startedAt, &sum.Outcome, &durationMs, &inputJSON, &resultJSON, &errText); err != nil {
			return nil, err
		}
		if t, err := time.Parse(time.RFC3339Nano, startedAt); err == nil {
			sum.Start = t
		}
		sum.Duration = time.Duration(durationMs) * time.Millisecond
		if inputJSON.Valid {
			var in loop.CycleInput
			if err := json.Unmarshal([]byte(inputJSON.String), &in); err == nil {
				sum.Input = &in
			}
		}
		if resultJSON.Valid {
			var res loop.CycleResult
			if err := json.Unmarshal([]byte(resultJSON.String), &res); err == nil {
				sum.Result = &res
			}
		}
		if errText.Valid {
			sum.Err = errText.String
		}
		summaries = append(summaries, sum)
	}
	return summaries, rows.Err()
}
