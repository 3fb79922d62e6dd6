package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/apperrors"
	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/model"
	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/repository"
)

const (
	// MoneyPlaces is the number of decimal places money amounts are rounded to.
	MoneyPlaces = 2

	// WeightTolerance is how far the sum of target weights may stray from 1.0.
	WeightTolerance = 0.01

	// maxVersionRetries bounds optimistic concurrency retries of a portfolio write.
	maxVersionRetries = 3
)

// roundMoney rounds a monetary value to cents, half away from zero.
//
// Example:
//
//	roundMoney(decimal.RequireFromString("123.456"))  // 123.46
//	roundMoney(decimal.RequireFromString("0.005"))    // 0.01
func roundMoney(value decimal.Decimal) decimal.Decimal {
	return value.Round(MoneyPlaces)
}

// roundWeight rounds a weight to four decimal places for API responses.
func roundWeight(value float64) float64 {
	return math.Round(value*10000) / 10000
}

// floorShares returns the number of whole shares of price that budget can buy.
// A non-positive price yields zero.
func floorShares(budget, price decimal.Decimal) decimal.Decimal {
	if !price.IsPositive() || !budget.IsPositive() {
		return decimal.Zero
	}
	return budget.Div(price).Floor()
}

// ratio converts a decimal fraction to float64, returning 0 when the denominator is zero.
func ratio(numerator, denominator decimal.Decimal) float64 {
	if denominator.IsZero() {
		return 0
	}
	f, _ := numerator.Div(denominator).Float64()
	return f
}

// withTx runs fn inside a database transaction, retrying on ErrConcurrentModification.
//
// fn must only use repositories scoped to the tx it receives. The transaction is committed
// when fn returns nil and rolled back otherwise.
func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	var err error
	for attempt := 0; attempt < maxVersionRetries; attempt++ {
		err = runTx(ctx, db, fn)
		if !errors.Is(err, apperrors.ErrConcurrentModification) {
			return err
		}
	}
	return err
}

func runTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// markPortfolioChanged bumps the portfolio version, resets the regeneration anchor and queues a
// regeneration task. Both repositories must be scoped to the same transaction.
func markPortfolioChanged(
	ctx context.Context,
	portfolioRepo *repository.PortfolioRepository,
	outboxRepo *repository.OutboxRepository,
	portfolio model.Portfolio,
	reason model.RegenerationReason,
	now time.Time,
) error {
	if err := portfolioRepo.BumpVersion(ctx, portfolio.ID, portfolio.Version); err != nil {
		return err
	}
	if err := portfolioRepo.SetLastSuggestionsGeneratedAt(ctx, portfolio.ID, nil); err != nil {
		return err
	}
	return outboxRepo.Enqueue(ctx, portfolio.ID, reason, now)
}
