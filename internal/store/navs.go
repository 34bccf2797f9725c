package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// NavPoint is one persisted NAV observation.
type NavPoint struct {
	Date time.Time `json:"date"`
	NAV  float64   `json:"nav"`
}

// navUpsertBatch bounds the number of rows per multi-row INSERT so statements
// stay well under MySQL packet limits.
const navUpsertBatch = 500

// NAVStore persists the per-scheme NAV history. The invariant is at most one
// NAV per scheme per calendar date; re-inserting a date overwrites the price.
type NAVStore struct {
	db *sql.DB
}

func NewNAVStore(db *sql.DB) *NAVStore {
	return &NAVStore{db: db}
}

// BulkUpsert writes the given points idempotently: duplicates by
// (scheme_code, nav_date) overwrite the stored NAV.
func (s *NAVStore) BulkUpsert(ctx context.Context, schemeCode string, points []NavPoint) error {
	for start := 0; start < len(points); start += navUpsertBatch {
		end := min(start+navUpsertBatch, len(points))
		if err := s.upsertBatch(ctx, schemeCode, points[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *NAVStore) upsertBatch(ctx context.Context, schemeCode string, points []NavPoint) error {
	var sb strings.Builder
	sb.WriteString("INSERT INTO nav_history (scheme_code, nav_date, nav) VALUES ")

	args := make([]any, 0, len(points)*3)
	for i, p := range points {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(?, ?, ?)")
		args = append(args, schemeCode, p.Date.Format(dateLayout), p.NAV)
	}
	sb.WriteString(" ON DUPLICATE KEY UPDATE nav = VALUES(nav)")

	if _, err := s.db.ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("failed to upsert %d nav points for %s: %w", len(points), schemeCode, err)
	}
	return nil
}

// History returns the full series for a scheme, ascending by date.
func (s *NAVStore) History(ctx context.Context, schemeCode string) ([]NavPoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT nav_date, nav
		FROM nav_history
		WHERE scheme_code = ?
		ORDER BY nav_date
	`, schemeCode)
	if err != nil {
		return nil, fmt.Errorf("failed to read nav history for %s: %w", schemeCode, err)
	}
	defer rows.Close()

	var points []NavPoint
	for rows.Next() {
		var p NavPoint
		if err := rows.Scan(&p.Date, &p.NAV); err != nil {
			return nil, fmt.Errorf("failed to scan nav point: %w", err)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// Latest returns the most recent point for a scheme, or ErrNotFound.
func (s *NAVStore) Latest(ctx context.Context, schemeCode string) (*NavPoint, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT nav_date, nav
		FROM nav_history
		WHERE scheme_code = ?
		ORDER BY nav_date DESC
		LIMIT 1
	`, schemeCode)

	var p NavPoint
	err := row.Scan(&p.Date, &p.NAV)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read latest nav for %s: %w", schemeCode, err)
	}
	return &p, nil
}

// MaxDate returns the latest persisted date for a scheme; ok is false when
// the scheme has no history yet.
func (s *NAVStore) MaxDate(ctx context.Context, schemeCode string) (time.Time, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT MAX(nav_date)
		FROM nav_history
		WHERE scheme_code = ?
	`, schemeCode)

	var maxDate sql.NullTime
	if err := row.Scan(&maxDate); err != nil {
		return time.Time{}, false, fmt.Errorf("failed to read max nav date for %s: %w", schemeCode, err)
	}
	if !maxDate.Valid {
		return time.Time{}, false, nil
	}
	return maxDate.Time, true, nil
}
