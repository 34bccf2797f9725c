package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/prashant21b/kreditbee/internal/analytics"
)

// AnalyticsRow is the persisted form of one (scheme, window) computation.
type AnalyticsRow struct {
	SchemeCode          string    `json:"scheme_code"`
	WindowType          string    `json:"window_type"`
	RollingReturnMin    float64   `json:"rolling_return_min"`
	RollingReturnMax    float64   `json:"rolling_return_max"`
	RollingReturnMedian float64   `json:"rolling_return_median"`
	RollingReturnP25    float64   `json:"rolling_return_p25"`
	RollingReturnP75    float64   `json:"rolling_return_p75"`
	MaxDrawdown         float64   `json:"max_drawdown"`
	CagrMin             float64   `json:"cagr_min"`
	CagrMax             float64   `json:"cagr_max"`
	CagrMedian          float64   `json:"cagr_median"`
	DataStartDate       time.Time `json:"data_start_date"`
	DataEndDate         time.Time `json:"data_end_date"`
	ComputedAt          time.Time `json:"computed_at"`
}

// AnalyticsStore persists computed analytics rows.
type AnalyticsStore struct {
	db *sql.DB
}

func NewAnalyticsStore(db *sql.DB) *AnalyticsStore {
	return &AnalyticsStore{db: db}
}

// Upsert overwrites the row for (scheme, window) with a fresh computation.
func (s *AnalyticsStore) Upsert(ctx context.Context, schemeCode string, r analytics.WindowResult) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fund_analytics (
			scheme_code, window_type,
			rolling_return_min, rolling_return_max, rolling_return_median,
			rolling_return_p25, rolling_return_p75,
			max_drawdown, cagr_min, cagr_max, cagr_median,
			data_start_date, data_end_date, computed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NOW())
		ON DUPLICATE KEY UPDATE
			rolling_return_min = VALUES(rolling_return_min),
			rolling_return_max = VALUES(rolling_return_max),
			rolling_return_median = VALUES(rolling_return_median),
			rolling_return_p25 = VALUES(rolling_return_p25),
			rolling_return_p75 = VALUES(rolling_return_p75),
			max_drawdown = VALUES(max_drawdown),
			cagr_min = VALUES(cagr_min),
			cagr_max = VALUES(cagr_max),
			cagr_median = VALUES(cagr_median),
			data_start_date = VALUES(data_start_date),
			data_end_date = VALUES(data_end_date),
			computed_at = NOW()
	`,
		schemeCode, string(r.Window),
		r.RollingReturns.Min, r.RollingReturns.Max, r.RollingReturns.Median,
		r.RollingReturns.P25, r.RollingReturns.P75,
		r.MaxDrawdown, r.CAGR.Min, r.CAGR.Max, r.CAGR.Median,
		r.DataStart.Format(dateLayout), r.DataEnd.Format(dateLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert analytics %s/%s: %w", schemeCode, r.Window, err)
	}
	return nil
}

// Get returns the row for (scheme, window) or ErrNotFound.
func (s *AnalyticsStore) Get(ctx context.Context, schemeCode, windowType string) (*AnalyticsRow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT scheme_code, window_type,
		       rolling_return_min, rolling_return_max, rolling_return_median,
		       rolling_return_p25, rolling_return_p75,
		       max_drawdown, cagr_min, cagr_max, cagr_median,
		       data_start_date, data_end_date, computed_at
		FROM fund_analytics
		WHERE scheme_code = ? AND window_type = ?
	`, schemeCode, windowType)

	var a AnalyticsRow
	err := row.Scan(&a.SchemeCode, &a.WindowType,
		&a.RollingReturnMin, &a.RollingReturnMax, &a.RollingReturnMedian,
		&a.RollingReturnP25, &a.RollingReturnP75,
		&a.MaxDrawdown, &a.CagrMin, &a.CagrMax, &a.CagrMedian,
		&a.DataStartDate, &a.DataEndDate, &a.ComputedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get analytics %s/%s: %w", schemeCode, windowType, err)
	}
	return &a, nil
}

// RankEntry is one row of the ranking endpoint.
type RankEntry struct {
	SchemeCode   string  `json:"scheme_code"`
	SchemeName   string  `json:"scheme_name"`
	AMC          string  `json:"amc"`
	Category     string  `json:"category"`
	MedianReturn float64 `json:"median_return"`
	MaxDrawdown  float64 `json:"max_drawdown"`
}

// Rank orders funds of a category within a window: returns descend, drawdown
// ascends (less negative is better last), ties broken by scheme code.
func (s *AnalyticsStore) Rank(ctx context.Context, category, windowType, sortBy string, limit int) ([]RankEntry, error) {
	order := "a.rolling_return_median DESC"
	if sortBy == "max_drawdown" {
		order = "a.max_drawdown ASC"
	}

	query := fmt.Sprintf(`
		SELECT f.scheme_code, f.scheme_name, f.amc, f.category,
		       a.rolling_return_median, a.max_drawdown
		FROM fund_analytics a
		JOIN funds f ON f.scheme_code = a.scheme_code
		WHERE a.window_type = ? AND LOWER(f.category) LIKE ?
		ORDER BY %s, f.scheme_code
		LIMIT ?
	`, order)

	rows, err := s.db.QueryContext(ctx, query, windowType, "%"+likePattern(category)+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to rank funds: %w", err)
	}
	defer rows.Close()

	var entries []RankEntry
	for rows.Next() {
		var e RankEntry
		if err := rows.Scan(&e.SchemeCode, &e.SchemeName, &e.AMC, &e.Category, &e.MedianReturn, &e.MaxDrawdown); err != nil {
			return nil, fmt.Errorf("failed to scan rank entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
