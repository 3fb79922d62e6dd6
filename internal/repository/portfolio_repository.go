package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/apperrors"
	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/model"
)

// PortfolioRepository provides data access methods for the portfolio table.
type PortfolioRepository struct {
	db *sql.DB
	tx *sql.Tx
}

// NewPortfolioRepository creates a new PortfolioRepository with the provided database connection.
func NewPortfolioRepository(db *sql.DB) *PortfolioRepository {
	return &PortfolioRepository{db: db}
}

// WithTx returns a new PortfolioRepository scoped to the provided transaction.
func (r *PortfolioRepository) WithTx(tx *sql.Tx) *PortfolioRepository {
	return &PortfolioRepository{
		db: r.db,
		tx: tx,
	}
}

// getQuerier returns the active transaction if one is set, otherwise the database connection.
func (r *PortfolioRepository) getQuerier() querier {
	if r.tx != nil {
		return r.tx
	}
	return r.db
}

const portfolioColumns = `
	id, user_id, name, start_date, monthly_contribution, rebalance_frequency,
	tracking_started, last_suggestions_generated_at, version, created_at
`

func scanPortfolio(scan func(dest ...any) error) (model.Portfolio, error) {
	var p model.Portfolio
	var startDateStr, lastGeneratedStr sql.NullString
	var createdAtStr string

	err := scan(
		&p.ID,
		&p.UserID,
		&p.Name,
		&startDateStr,
		&p.MonthlyContribution,
		&p.RebalanceFrequency,
		&p.TrackingStarted,
		&lastGeneratedStr,
		&p.Version,
		&createdAtStr,
	)
	if err != nil {
		return model.Portfolio{}, err
	}

	if p.StartDate, err = parseNullableTime(startDateStr); err != nil {
		return model.Portfolio{}, err
	}
	if p.LastSuggestionsGeneratedAt, err = parseNullableTime(lastGeneratedStr); err != nil {
		return model.Portfolio{}, err
	}
	if p.CreatedAt, err = ParseTime(createdAtStr); err != nil {
		return model.Portfolio{}, err
	}

	return p, nil
}

// GetPortfolio retrieves a portfolio by ID regardless of owner.
// Returns ErrPortfolioNotFound if no portfolio with the given ID exists.
func (r *PortfolioRepository) GetPortfolio(ctx context.Context, portfolioID string) (model.Portfolio, error) {
	query := `SELECT ` + portfolioColumns + ` FROM portfolio WHERE id = ?`

	p, err := scanPortfolio(r.getQuerier().QueryRowContext(ctx, query, portfolioID).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Portfolio{}, apperrors.ErrPortfolioNotFound
	}
	if err != nil {
		return model.Portfolio{}, fmt.Errorf("failed to query portfolio: %w", err)
	}

	return p, nil
}

// GetPortfolioForUser retrieves a portfolio owned by userID.
// A portfolio owned by someone else is reported as ErrPortfolioNotFound.
func (r *PortfolioRepository) GetPortfolioForUser(ctx context.Context, userID, portfolioID string) (model.Portfolio, error) {
	query := `SELECT ` + portfolioColumns + ` FROM portfolio WHERE id = ? AND user_id = ?`

	p, err := scanPortfolio(r.getQuerier().QueryRowContext(ctx, query, portfolioID, userID).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Portfolio{}, apperrors.ErrPortfolioNotFound
	}
	if err != nil {
		return model.Portfolio{}, fmt.Errorf("failed to query portfolio: %w", err)
	}

	return p, nil
}

// ListPortfolios retrieves all portfolios owned by userID ordered by creation time.
// Returns an empty slice if the user owns none.
func (r *PortfolioRepository) ListPortfolios(ctx context.Context, userID string) ([]model.Portfolio, error) {
	query := `SELECT ` + portfolioColumns + ` FROM portfolio WHERE user_id = ? ORDER BY created_at ASC`

	rows, err := r.getQuerier().QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query portfolio table: %w", err)
	}
	defer rows.Close()

	portfolios := []model.Portfolio{}
	for rows.Next() {
		p, err := scanPortfolio(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan portfolio table results: %w", err)
		}
		portfolios = append(portfolios, p)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating portfolio table: %w", err)
	}

	return portfolios, nil
}

// CountPortfolios returns the number of portfolios owned by userID.
func (r *PortfolioRepository) CountPortfolios(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.getQuerier().QueryRowContext(ctx, `SELECT COUNT(*) FROM portfolio WHERE user_id = ?`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count portfolios: %w", err)
	}
	return count, nil
}

// InsertPortfolio creates a new portfolio row.
func (r *PortfolioRepository) InsertPortfolio(ctx context.Context, p *model.Portfolio) error {
	query := `
		INSERT INTO portfolio (` + portfolioColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.getQuerier().ExecContext(ctx, query,
		p.ID,
		p.UserID,
		p.Name,
		nullableDate(p.StartDate),
		p.MonthlyContribution,
		p.RebalanceFrequency,
		p.TrackingStarted,
		nullableTimestamp(p.LastSuggestionsGeneratedAt),
		p.Version,
		FormatTimestamp(p.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert portfolio: %w", err)
	}

	return nil
}

// UpdatePortfolio writes the editable fields of p and bumps its version.
// Returns ErrPortfolioNotFound if no record with the given ID exists.
func (r *PortfolioRepository) UpdatePortfolio(ctx context.Context, p *model.Portfolio) error {
	query := `
		UPDATE portfolio
		SET name = ?, start_date = ?, monthly_contribution = ?, rebalance_frequency = ?,
		    tracking_started = ?, version = version + 1
		WHERE id = ?
	`

	result, err := r.getQuerier().ExecContext(ctx, query,
		p.Name,
		nullableDate(p.StartDate),
		p.MonthlyContribution,
		p.RebalanceFrequency,
		p.TrackingStarted,
		p.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update portfolio: %w", err)
	}

	return requireRow(result, apperrors.ErrPortfolioNotFound)
}

// DeletePortfolio removes a portfolio. Allocations, transactions, metrics and queued
// regeneration tasks are removed by ON DELETE CASCADE.
// Returns ErrPortfolioNotFound if no record with the given ID exists.
func (r *PortfolioRepository) DeletePortfolio(ctx context.Context, portfolioID string) error {
	result, err := r.getQuerier().ExecContext(ctx, `DELETE FROM portfolio WHERE id = ?`, portfolioID)
	if err != nil {
		return fmt.Errorf("failed to delete portfolio: %w", err)
	}

	return requireRow(result, apperrors.ErrPortfolioNotFound)
}

// BumpVersion increments the version of a portfolio only when it still equals expected.
// Returns ErrConcurrentModification when another writer got there first.
func (r *PortfolioRepository) BumpVersion(ctx context.Context, portfolioID string, expected int64) error {
	result, err := r.getQuerier().ExecContext(ctx,
		`UPDATE portfolio SET version = version + 1 WHERE id = ? AND version = ?`,
		portfolioID, expected,
	)
	if err != nil {
		return fmt.Errorf("failed to bump portfolio version: %w", err)
	}

	return requireRow(result, apperrors.ErrConcurrentModification)
}

// SetLastSuggestionsGeneratedAt stores the regeneration anchor. A nil value resets it.
func (r *PortfolioRepository) SetLastSuggestionsGeneratedAt(ctx context.Context, portfolioID string, at *time.Time) error {
	result, err := r.getQuerier().ExecContext(ctx,
		`UPDATE portfolio SET last_suggestions_generated_at = ? WHERE id = ?`,
		nullableTimestamp(at), portfolioID,
	)
	if err != nil {
		return fmt.Errorf("failed to update last_suggestions_generated_at: %w", err)
	}

	return requireRow(result, apperrors.ErrPortfolioNotFound)
}

// requireRow converts a zero-row result into notFound.
func requireRow(result sql.Result, notFound error) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return notFound
	}
	return nil
}
