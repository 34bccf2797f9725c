package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PipelineState is the overall run state of the singleton pipeline row.
type PipelineState string

const (
	PipelineIdle    PipelineState = "idle"
	PipelineRunning PipelineState = "running"
	PipelineFailed  PipelineState = "failed"
)

// PipelineStatus is the single process-wide row (id = 1) describing the
// current or most recent pipeline run.
type PipelineStatus struct {
	Status           PipelineState `json:"status"`
	CurrentPhase     string        `json:"current_phase,omitempty"`
	ProgressPercent  float64       `json:"progress_percent"`
	TotalSchemes     int           `json:"total_schemes"`
	CompletedSchemes int           `json:"completed_schemes"`
	FailedSchemes    int           `json:"failed_schemes"`
	StartedAt        *time.Time    `json:"started_at,omitempty"`
	CompletedAt      *time.Time    `json:"completed_at,omitempty"`
	LastError        string        `json:"last_error,omitempty"`
}

// PipelineStatusStore owns the singleton row. Only the pipeline orchestrator
// writes it; readers are unrestricted.
type PipelineStatusStore struct {
	db *sql.DB
}

func NewPipelineStatusStore(db *sql.DB) *PipelineStatusStore {
	return &PipelineStatusStore{db: db}
}

// Get reads the singleton row.
func (s *PipelineStatusStore) Get(ctx context.Context) (*PipelineStatus, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT status, COALESCE(current_phase, ''), progress_percent,
		       total_schemes, completed_schemes, failed_schemes,
		       started_at, completed_at, COALESCE(last_error, '')
		FROM pipeline_status
		WHERE id = 1
	`)

	var st PipelineStatus
	var startedAt, completedAt sql.NullTime
	err := row.Scan(&st.Status, &st.CurrentPhase, &st.ProgressPercent,
		&st.TotalSchemes, &st.CompletedSchemes, &st.FailedSchemes,
		&startedAt, &completedAt, &st.LastError)
	if err != nil {
		return nil, fmt.Errorf("failed to read pipeline status: %w", err)
	}
	if startedAt.Valid {
		st.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		st.CompletedAt = &completedAt.Time
	}
	return &st, nil
}

// Start marks the row running at the given phase and clears the previous
// run's error, completion mark, and counters.
func (s *PipelineStatusStore) Start(ctx context.Context, phase string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE pipeline_status
		SET status = 'running',
		    current_phase = ?,
		    progress_percent = 0,
		    total_schemes = 0,
		    completed_schemes = 0,
		    failed_schemes = 0,
		    started_at = NOW(),
		    completed_at = NULL,
		    last_error = NULL
		WHERE id = 1
	`, phase)
	if err != nil {
		return fmt.Errorf("failed to start pipeline status: %w", err)
	}
	return nil
}

// Progress updates phase, percent, and the scheme counters mid-run.
func (s *PipelineStatusStore) Progress(ctx context.Context, phase string, percent float64, total, completed, failed int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE pipeline_status
		SET current_phase = ?,
		    progress_percent = ?,
		    total_schemes = ?,
		    completed_schemes = ?,
		    failed_schemes = ?
		WHERE id = 1
	`, phase, percent, total, completed, failed)
	if err != nil {
		return fmt.Errorf("failed to update pipeline progress: %w", err)
	}
	return nil
}

// Complete marks a successful run: idle at 100%.
func (s *PipelineStatusStore) Complete(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE pipeline_status
		SET status = 'idle',
		    progress_percent = 100,
		    completed_at = NOW()
		WHERE id = 1
	`)
	if err != nil {
		return fmt.Errorf("failed to complete pipeline status: %w", err)
	}
	return nil
}

// Fail records the terminal error of a run.
func (s *PipelineStatusStore) Fail(ctx context.Context, message string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE pipeline_status
		SET status = 'failed',
		    last_error = ?,
		    completed_at = NOW()
		WHERE id = 1
	`, message)
	if err != nil {
		return fmt.Errorf("failed to fail pipeline status: %w", err)
	}
	return nil
}

// ResetStale returns the row to idle when a previous process died mid-run
// and left it running. Called once at startup; per-scheme resume is handled
// by sync_state.
func (s *PipelineStatusStore) ResetStale(ctx context.Context) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE pipeline_status
		SET status = 'idle',
		    last_error = 'reset after interrupted run'
		WHERE id = 1 AND status = 'running'
	`)
	if err != nil {
		return false, fmt.Errorf("failed to reset stale pipeline status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
