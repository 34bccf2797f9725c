package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SyncType distinguishes the two ingestion phases tracked per scheme.
type SyncType string

const (
	SyncBackfill    SyncType = "backfill"
	SyncIncremental SyncType = "incremental"
)

// SyncStatus is the lifecycle of one (scheme, sync_type) row:
// pending → in_progress → (completed | failed), with re-entry into
// in_progress on retry.
type SyncStatus string

const (
	SyncPending    SyncStatus = "pending"
	SyncInProgress SyncStatus = "in_progress"
	SyncCompleted  SyncStatus = "completed"
	SyncFailed     SyncStatus = "failed"
)

// SyncState is the durable per-scheme progress record that makes ingestion
// resumable across restarts.
type SyncState struct {
	SchemeCode     string     `json:"scheme_code"`
	SyncType       SyncType   `json:"sync_type"`
	Status         SyncStatus `json:"status"`
	LastSyncedDate *time.Time `json:"last_synced_date,omitempty"`
	TotalRecords   int        `json:"total_records"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// SyncStateStore persists sync progress.
type SyncStateStore struct {
	db *sql.DB
}

func NewSyncStateStore(db *sql.DB) *SyncStateStore {
	return &SyncStateStore{db: db}
}

// Get returns the row for (scheme, type) or ErrNotFound.
func (s *SyncStateStore) Get(ctx context.Context, schemeCode string, syncType SyncType) (*SyncState, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT scheme_code, sync_type, status, last_synced_date, total_records,
		       COALESCE(error_message, ''), started_at, completed_at
		FROM sync_state
		WHERE scheme_code = ? AND sync_type = ?
	`, schemeCode, string(syncType))

	var st SyncState
	var lastSynced, startedAt, completedAt sql.NullTime
	err := row.Scan(&st.SchemeCode, &st.SyncType, &st.Status, &lastSynced, &st.TotalRecords,
		&st.ErrorMessage, &startedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync state %s/%s: %w", schemeCode, syncType, err)
	}
	if lastSynced.Valid {
		st.LastSyncedDate = &lastSynced.Time
	}
	if startedAt.Valid {
		st.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		st.CompletedAt = &completedAt.Time
	}
	return &st, nil
}

// MarkInProgress transitions the row to in_progress, creating it lazily on
// first processing, and clears any previous error and completion marks.
func (s *SyncStateStore) MarkInProgress(ctx context.Context, schemeCode string, syncType SyncType) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_state (scheme_code, sync_type, status, started_at)
		VALUES (?, ?, 'in_progress', NOW())
		ON DUPLICATE KEY UPDATE
			status = 'in_progress',
			error_message = NULL,
			started_at = NOW(),
			completed_at = NULL
	`, schemeCode, string(syncType))
	if err != nil {
		return fmt.Errorf("failed to mark %s/%s in_progress: %w", schemeCode, syncType, err)
	}
	return nil
}

// MarkCompleted records a successful sync with its high-water mark.
func (s *SyncStateStore) MarkCompleted(ctx context.Context, schemeCode string, syncType SyncType, lastSynced time.Time, totalRecords int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sync_state
		SET status = 'completed',
		    last_synced_date = ?,
		    total_records = ?,
		    error_message = NULL,
		    completed_at = NOW()
		WHERE scheme_code = ? AND sync_type = ?
	`, lastSynced.Format(dateLayout), totalRecords, schemeCode, string(syncType))
	if err != nil {
		return fmt.Errorf("failed to mark %s/%s completed: %w", schemeCode, syncType, err)
	}
	return nil
}

// MarkFailed records the failure message; the next run reprocesses the
// scheme from scratch.
func (s *SyncStateStore) MarkFailed(ctx context.Context, schemeCode string, syncType SyncType, message string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sync_state
		SET status = 'failed',
		    error_message = ?,
		    completed_at = NOW()
		WHERE scheme_code = ? AND sync_type = ?
	`, message, schemeCode, string(syncType))
	if err != nil {
		return fmt.Errorf("failed to mark %s/%s failed: %w", schemeCode, syncType, err)
	}
	return nil
}

// CompletedSchemes returns the codes whose sync of the given type has
// completed; incremental sync uses it to scope its work.
func (s *SyncStateStore) CompletedSchemes(ctx context.Context, syncType SyncType) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT scheme_code
		FROM sync_state
		WHERE sync_type = ? AND status = 'completed'
		ORDER BY scheme_code
	`, string(syncType))
	if err != nil {
		return nil, fmt.Errorf("failed to list completed %s schemes: %w", syncType, err)
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}

// StatusCount is one cell of the sync-state histogram.
type StatusCount struct {
	SyncType SyncType   `json:"sync_type"`
	Status   SyncStatus `json:"status"`
	Count    int        `json:"count"`
}

// Histogram summarizes sync states for the status endpoint.
func (s *SyncStateStore) Histogram(ctx context.Context) ([]StatusCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sync_type, status, COUNT(*)
		FROM sync_state
		GROUP BY sync_type, status
		ORDER BY sync_type, status
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to build sync histogram: %w", err)
	}
	defer rows.Close()

	var counts []StatusCount
	for rows.Next() {
		var c StatusCount
		if err := rows.Scan(&c.SyncType, &c.Status, &c.Count); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}
