package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/apperrors"
	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/model"
)

// AllocationRepository provides data access methods for the asset_allocation table.
type AllocationRepository struct {
	db *sql.DB
	tx *sql.Tx
}

// NewAllocationRepository creates a new AllocationRepository with the provided database connection.
func NewAllocationRepository(db *sql.DB) *AllocationRepository {
	return &AllocationRepository{db: db}
}

// WithTx returns a new AllocationRepository scoped to the provided transaction.
func (r *AllocationRepository) WithTx(tx *sql.Tx) *AllocationRepository {
	return &AllocationRepository{
		db: r.db,
		tx: tx,
	}
}

func (r *AllocationRepository) getQuerier() querier {
	if r.tx != nil {
		return r.tx
	}
	return r.db
}

// GetAllocations retrieves the target allocation of a portfolio ordered by ticker.
// Returns an empty slice if the portfolio has no allocations.
func (r *AllocationRepository) GetAllocations(ctx context.Context, portfolioID string) ([]model.AssetAllocation, error) {
	query := `
		SELECT id, portfolio_id, ticker, target_weight
		FROM asset_allocation
		WHERE portfolio_id = ?
		ORDER BY ticker ASC
	`

	rows, err := r.getQuerier().QueryContext(ctx, query, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("failed to query asset_allocation table: %w", err)
	}
	defer rows.Close()

	allocations := []model.AssetAllocation{}
	for rows.Next() {
		var a model.AssetAllocation
		if err := rows.Scan(&a.ID, &a.PortfolioID, &a.Ticker, &a.TargetWeight); err != nil {
			return nil, fmt.Errorf("failed to scan asset_allocation table results: %w", err)
		}
		allocations = append(allocations, a)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating asset_allocation table: %w", err)
	}

	return allocations, nil
}

// InsertAllocation adds a ticker to a portfolio.
// Returns ErrDuplicateEntry if the portfolio already targets the ticker.
func (r *AllocationRepository) InsertAllocation(ctx context.Context, a *model.AssetAllocation) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}

	query := `
		INSERT INTO asset_allocation (id, portfolio_id, ticker, target_weight)
		VALUES (?, ?, ?, ?)
	`

	_, err := r.getQuerier().ExecContext(ctx, query, a.ID, a.PortfolioID, a.Ticker, a.TargetWeight)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", apperrors.ErrDuplicateEntry, a.Ticker)
		}
		return fmt.Errorf("failed to insert asset_allocation: %w", err)
	}

	return nil
}

// UpdateWeight sets the target weight of one ticker.
// Returns ErrAssetNotFound if the portfolio does not target the ticker.
func (r *AllocationRepository) UpdateWeight(ctx context.Context, portfolioID, ticker string, weight float64) error {
	result, err := r.getQuerier().ExecContext(ctx,
		`UPDATE asset_allocation SET target_weight = ? WHERE portfolio_id = ? AND ticker = ?`,
		weight, portfolioID, ticker,
	)
	if err != nil {
		return fmt.Errorf("failed to update asset_allocation: %w", err)
	}

	return requireRow(result, apperrors.ErrAssetNotFound)
}

// DeleteAllocation removes one ticker from a portfolio.
// Returns ErrAssetNotFound if the portfolio does not target the ticker.
func (r *AllocationRepository) DeleteAllocation(ctx context.Context, portfolioID, ticker string) error {
	result, err := r.getQuerier().ExecContext(ctx,
		`DELETE FROM asset_allocation WHERE portfolio_id = ? AND ticker = ?`,
		portfolioID, ticker,
	)
	if err != nil {
		return fmt.Errorf("failed to delete asset_allocation: %w", err)
	}

	return requireRow(result, apperrors.ErrAssetNotFound)
}

// DeleteAllAllocations removes every allocation of a portfolio.
func (r *AllocationRepository) DeleteAllAllocations(ctx context.Context, portfolioID string) error {
	if _, err := r.getQuerier().ExecContext(ctx, `DELETE FROM asset_allocation WHERE portfolio_id = ?`, portfolioID); err != nil {
		return fmt.Errorf("failed to delete asset_allocation: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
