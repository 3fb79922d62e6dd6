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

// MetricsRepository provides data access methods for the portfolio_metrics table.
// The table is a cache: rows are overwritten on every recalculation.
type MetricsRepository struct {
	db *sql.DB
}

// NewMetricsRepository creates a new repository instance.
func NewMetricsRepository(db *sql.DB) *MetricsRepository {
	return &MetricsRepository{db: db}
}

// GetMetrics retrieves the cached metrics of a portfolio.
// Returns ErrMetricsNotFound if nothing has been calculated yet.
func (r *MetricsRepository) GetMetrics(ctx context.Context, portfolioID string) (model.PortfolioMetrics, error) {
	query := `
		SELECT portfolio_id, current_value, holdings_value, cash_balance, total_invested,
		       total_return, total_return_pct, last_calculated_at
		FROM portfolio_metrics
		WHERE portfolio_id = ?
	`

	var m model.PortfolioMetrics
	var calculatedAtStr string
	err := r.db.QueryRowContext(ctx, query, portfolioID).Scan(
		&m.PortfolioID,
		&m.CurrentValue,
		&m.HoldingsValue,
		&m.CashBalance,
		&m.TotalInvested,
		&m.TotalReturn,
		&m.TotalReturnPct,
		&calculatedAtStr,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return model.PortfolioMetrics{}, apperrors.ErrMetricsNotFound
	}
	if err != nil {
		return model.PortfolioMetrics{}, fmt.Errorf("failed to query portfolio_metrics: %w", err)
	}

	m.LastCalculatedAt, err = ParseTime(calculatedAtStr)
	if err != nil {
		return model.PortfolioMetrics{}, err
	}

	return m, nil
}

// UpsertMetrics stores m, replacing any previous row of the portfolio.
func (r *MetricsRepository) UpsertMetrics(ctx context.Context, m model.PortfolioMetrics) error {
	query := `
		INSERT INTO portfolio_metrics (
			portfolio_id, current_value, holdings_value, cash_balance, total_invested,
			total_return, total_return_pct, last_calculated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(portfolio_id) DO UPDATE SET
			current_value = excluded.current_value,
			holdings_value = excluded.holdings_value,
			cash_balance = excluded.cash_balance,
			total_invested = excluded.total_invested,
			total_return = excluded.total_return,
			total_return_pct = excluded.total_return_pct,
			last_calculated_at = excluded.last_calculated_at
	`

	_, err := r.db.ExecContext(ctx, query,
		m.PortfolioID,
		m.CurrentValue,
		m.HoldingsValue,
		m.CashBalance,
		m.TotalInvested,
		m.TotalReturn,
		m.TotalReturnPct,
		FormatTimestamp(m.LastCalculatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert portfolio_metrics: %w", err)
	}

	return nil
}

// ListStalePortfolioIDs returns tracked portfolios whose metrics are missing or older than cutoff.
func (r *MetricsRepository) ListStalePortfolioIDs(ctx context.Context, cutoff time.Time) ([]string, error) {
	query := `
		SELECT p.id
		FROM portfolio p
		LEFT JOIN portfolio_metrics m ON m.portfolio_id = p.id
		WHERE p.tracking_started = TRUE
		  AND (m.portfolio_id IS NULL OR m.last_calculated_at < ?)
		ORDER BY p.id
	`

	rows, err := r.db.QueryContext(ctx, query, FormatTimestamp(cutoff))
	if err != nil {
		return nil, fmt.Errorf("failed to query stale metrics: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan portfolio id: %w", err)
		}
		ids = append(ids, id)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stale metrics: %w", err)
	}

	return ids, nil
}
