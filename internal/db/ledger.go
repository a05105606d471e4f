package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusPartial   = "completed_with_errors"
	StatusFailed    = "failed"
)

// RunSummary is what a finished stage reports to the ledger.
type RunSummary struct {
	Considered int
	Updated    int
	Skipped    int
	Failed     int
	Duration   time.Duration
	Err        error
}

// Run is one row of stage_runs.
type Run struct {
	ID         uuid.UUID `json:"run_id"`
	Stage      string    `json:"stage"`
	Document   string    `json:"document"`
	Status     string    `json:"status"`
	Considered int       `json:"considered"`
	Updated    int       `json:"updated"`
	Skipped    int       `json:"skipped"`
	Failed     int       `json:"failed"`
	DurationMS int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	// FinishedAt equals StartedAt while the run is still going.
	FinishedAt time.Time `json:"finished_at"`
}

// RunLedger records pipeline stage runs in Postgres. A nil ledger, or one
// without a database, accepts every call and records nothing.
type RunLedger struct {
	db    Querier
	now   func() time.Time
	newID func() uuid.UUID
}

func NewRunLedger(db Querier) *RunLedger {
	return &RunLedger{db: db, now: time.Now, newID: uuid.New}
}

func (l *RunLedger) Enabled() bool {
	return l != nil && l.db != nil
}

// Start inserts a running row and returns its id, or uuid.Nil when disabled.
func (l *RunLedger) Start(ctx context.Context, stage, document string) (uuid.UUID, error) {
	if !l.Enabled() {
		return uuid.Nil, nil
	}
	id := l.newID()
	_, err := l.db.Exec(ctx,
		`INSERT INTO stage_runs (run_id, stage, document, status, started_at) VALUES ($1, $2, $3, $4, $5)`,
		id, stage, document, StatusRunning, l.now())
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert stage run: %w", err)
	}
	return id, nil
}

// Finish stores the summary on a run started with Start.
func (l *RunLedger) Finish(ctx context.Context, id uuid.UUID, s RunSummary) error {
	if !l.Enabled() || id == uuid.Nil {
		return nil
	}
	status := StatusCompleted
	var errText *string
	switch {
	case s.Err != nil:
		status = StatusFailed
		msg := s.Err.Error()
		errText = &msg
	case s.Failed > 0:
		status = StatusPartial
	}

	_, err := l.db.Exec(ctx,
		`UPDATE stage_runs SET
			status = $1,
			considered = $2,
			updated = $3,
			skipped = $4,
			failed = $5,
			duration_ms = $6,
			error = $7,
			finished_at = $8
		WHERE run_id = $9`,
		status, s.Considered, s.Updated, s.Skipped, s.Failed,
		s.Duration.Milliseconds(), errText, l.now(), id)
	if err != nil {
		return fmt.Errorf("update stage run %s: %w", id, err)
	}
	return nil
}

// ListRecent returns the latest runs, newest first.
func (l *RunLedger) ListRecent(ctx context.Context, limit int) ([]Run, error) {
	if !l.Enabled() {
		return []Run{}, nil
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := l.db.Query(ctx, `
		SELECT run_id::text, stage, document, status, considered, updated, skipped, failed,
			COALESCE(duration_ms, 0), COALESCE(error, ''), started_at, COALESCE(finished_at, started_at)
		FROM stage_runs
		ORDER BY started_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list stage runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		var (
			r     Run
			rawID string
		)
		if err := rows.Scan(&rawID, &r.Stage, &r.Document, &r.Status,
			&r.Considered, &r.Updated, &r.Skipped, &r.Failed,
			&r.DurationMS, &r.Error, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan stage run: %w", err)
		}
		if r.ID, err = uuid.Parse(rawID); err != nil {
			return nil, fmt.Errorf("parse run id %q: %w", rawID, err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
