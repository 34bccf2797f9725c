package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Fund is one mutual-fund scheme. Rows are created on first appearance in
// discovery, refreshed with authoritative upstream values on every ingestion,
// and never deleted.
type Fund struct {
	SchemeCode string    `json:"scheme_code"`
	SchemeName string    `json:"scheme_name"`
	AMC        string    `json:"amc"`
	Category   string    `json:"category"`
	SchemeType string    `json:"scheme_type,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// FundStore persists funds.
type FundStore struct {
	db *sql.DB
}

func NewFundStore(db *sql.DB) *FundStore {
	return &FundStore{db: db}
}

// Upsert creates the fund or refreshes its mutable attributes.
func (s *FundStore) Upsert(ctx context.Context, fund Fund) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO funds (scheme_code, scheme_name, amc, category, scheme_type)
		VALUES (?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			scheme_name = VALUES(scheme_name),
			amc = VALUES(amc),
			category = VALUES(category),
			scheme_type = VALUES(scheme_type)
	`, fund.SchemeCode, fund.SchemeName, fund.AMC, fund.Category, nullString(fund.SchemeType))
	if err != nil {
		return fmt.Errorf("failed to upsert fund %s: %w", fund.SchemeCode, err)
	}
	return nil
}

// Get returns one fund or ErrNotFound.
func (s *FundStore) Get(ctx context.Context, schemeCode string) (*Fund, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT scheme_code, scheme_name, amc, category, COALESCE(scheme_type, ''), created_at, updated_at
		FROM funds
		WHERE scheme_code = ?
	`, schemeCode)

	var f Fund
	err := row.Scan(&f.SchemeCode, &f.SchemeName, &f.AMC, &f.Category, &f.SchemeType, &f.CreatedAt, &f.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get fund %s: %w", schemeCode, err)
	}
	return &f, nil
}

// List returns funds, optionally narrowed by case-insensitive substring
// filters on category and AMC.
func (s *FundStore) List(ctx context.Context, category, amc string) ([]Fund, error) {
	query := `
		SELECT scheme_code, scheme_name, amc, category, COALESCE(scheme_type, ''), created_at, updated_at
		FROM funds
		WHERE 1 = 1`
	var args []any
	if category != "" {
		query += " AND LOWER(category) LIKE ?"
		args = append(args, "%"+likePattern(category)+"%")
	}
	if amc != "" {
		query += " AND LOWER(amc) LIKE ?"
		args = append(args, "%"+likePattern(amc)+"%")
	}
	query += " ORDER BY scheme_code"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list funds: %w", err)
	}
	defer rows.Close()

	var funds []Fund
	for rows.Next() {
		var f Fund
		if err := rows.Scan(&f.SchemeCode, &f.SchemeName, &f.AMC, &f.Category, &f.SchemeType, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan fund: %w", err)
		}
		funds = append(funds, f)
	}
	return funds, rows.Err()
}

// ListCodes returns every known scheme code.
func (s *FundStore) ListCodes(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT scheme_code FROM funds ORDER BY scheme_code`)
	if err != nil {
		return nil, fmt.Errorf("failed to list scheme codes: %w", err)
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
