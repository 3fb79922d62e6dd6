package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/apperrors"
	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/model"
)

// TransactionRepository provides data access methods for the transaction table.
// Rows are always returned in ledger order: date ascending, then insertion sequence.
type TransactionRepository struct {
	db *sql.DB
	tx *sql.Tx
}

// NewTransactionRepository creates a new TransactionRepository with the provided database connection.
func NewTransactionRepository(db *sql.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// WithTx returns a new TransactionRepository scoped to the provided transaction.
func (r *TransactionRepository) WithTx(tx *sql.Tx) *TransactionRepository {
	return &TransactionRepository{
		db: r.db,
		tx: tx,
	}
}

func (r *TransactionRepository) getQuerier() querier {
	if r.tx != nil {
		return r.tx
	}
	return r.db
}

const transactionColumns = `
	id, portfolio_id, seq, date, type, ticker, amount, price, quantity, status,
	is_auto_suggested, cash_balance_before, cash_balance_after, notes, created_at, updated_at
`

func scanTransaction(scan func(dest ...any) error) (model.Transaction, error) {
	var t model.Transaction
	var dateStr, createdAtStr, updatedAtStr string
	var ticker sql.NullString

	err := scan(
		&t.ID,
		&t.PortfolioID,
		&t.Seq,
		&dateStr,
		&t.Type,
		&ticker,
		&t.Amount,
		&t.Price,
		&t.Quantity,
		&t.Status,
		&t.IsAutoSuggested,
		&t.CashBalanceBefore,
		&t.CashBalanceAfter,
		&t.Notes,
		&createdAtStr,
		&updatedAtStr,
	)
	if err != nil {
		return model.Transaction{}, err
	}

	t.Ticker = ticker.String
	if t.Date, err = ParseTime(dateStr); err != nil {
		return model.Transaction{}, err
	}
	if t.CreatedAt, err = ParseTime(createdAtStr); err != nil {
		return model.Transaction{}, err
	}
	if t.UpdatedAt, err = ParseTime(updatedAtStr); err != nil {
		return model.Transaction{}, err
	}

	return t, nil
}

func (r *TransactionRepository) queryTransactions(ctx context.Context, query string, args ...any) ([]model.Transaction, error) {
	rows, err := r.getQuerier().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transaction table: %w", err)
	}
	defer rows.Close()

	transactions := []model.Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction table results: %w", err)
		}
		transactions = append(transactions, t)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transaction table: %w", err)
	}

	return transactions, nil
}

// GetTransaction retrieves a single transaction by its ID.
// Returns ErrTransactionNotFound if no record with the given ID exists.
func (r *TransactionRepository) GetTransaction(ctx context.Context, transactionID string) (model.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM "transaction" WHERE id = ?`

	t, err := scanTransaction(r.getQuerier().QueryRowContext(ctx, query, transactionID).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Transaction{}, apperrors.ErrTransactionNotFound
	}
	if err != nil {
		return model.Transaction{}, fmt.Errorf("failed to query transaction: %w", err)
	}

	return t, nil
}

// ListTransactions retrieves the transactions of a portfolio matching filter.
// Returns an empty slice if none match.
func (r *TransactionRepository) ListTransactions(ctx context.Context, portfolioID string, filter model.TransactionFilter) ([]model.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM "transaction" WHERE portfolio_id = ?`
	args := []any{portfolioID}

	if filter.Status != nil {
		query += ` AND status = ?`
		args = append(args, *filter.Status)
	}
	if len(filter.Types) > 0 {
		placeholders := make([]string, len(filter.Types))
		for i, typ := range filter.Types {
			placeholders[i] = "?"
			args = append(args, typ)
		}
		query += ` AND type IN (` + strings.Join(placeholders, ",") + `)`
	}
	if filter.AutoSuggested != nil {
		query += ` AND is_auto_suggested = ?`
		args = append(args, *filter.AutoSuggested)
	}
	if filter.Ticker != "" {
		query += ` AND ticker = ?`
		args = append(args, filter.Ticker)
	}
	query += ` ORDER BY date ASC, seq ASC`

	return r.queryTransactions(ctx, query, args...)
}

// ListSettledTransactions retrieves CONFIRMED and EXECUTED rows of a portfolio in ledger order.
func (r *TransactionRepository) ListSettledTransactions(ctx context.Context, portfolioID string) ([]model.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM "transaction"
		WHERE portfolio_id = ? AND status IN (?, ?)
		ORDER BY date ASC, seq ASC
	`
	return r.queryTransactions(ctx, query, portfolioID, model.StatusConfirmed, model.StatusExecuted)
}

// SumSettledCash aggregates the signed cash effect of every settled row.
// Amounts are summed in decimal to avoid floating point drift.
func (r *TransactionRepository) SumSettledCash(ctx context.Context, portfolioID string) (decimal.Decimal, error) {
	query := `
		SELECT type, amount
		FROM "transaction"
		WHERE portfolio_id = ? AND status IN (?, ?)
	`

	rows, err := r.getQuerier().QueryContext(ctx, query, portfolioID, model.StatusConfirmed, model.StatusExecuted)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to query transaction table: %w", err)
	}
	defer rows.Close()

	balance := decimal.Zero
	for rows.Next() {
		var t model.Transaction
		if err := rows.Scan(&t.Type, &t.Amount); err != nil {
			return decimal.Zero, fmt.Errorf("failed to scan transaction amount: %w", err)
		}
		balance = balance.Add(t.SignedAmount())
	}

	if err = rows.Err(); err != nil {
		return decimal.Zero, fmt.Errorf("error iterating transaction table: %w", err)
	}

	return balance, nil
}

// HasPendingAutoSuggested reports whether the portfolio has a PENDING auto-suggested row of any of types.
func (r *TransactionRepository) HasPendingAutoSuggested(ctx context.Context, portfolioID string, types ...model.TransactionType) (bool, error) {
	query := `
		SELECT COUNT(*)
		FROM "transaction"
		WHERE portfolio_id = ? AND status = ? AND is_auto_suggested = TRUE
	`
	args := []any{portfolioID, model.StatusPending}
	if len(types) > 0 {
		placeholders := make([]string, len(types))
		for i, typ := range types {
			placeholders[i] = "?"
			args = append(args, typ)
		}
		query += ` AND type IN (` + strings.Join(placeholders, ",") + `)`
	}

	var count int
	if err := r.getQuerier().QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to count pending transactions: %w", err)
	}
	return count > 0, nil
}

// InsertTransaction appends a row to the ledger, assigning the next sequence number of the portfolio.
func (r *TransactionRepository) InsertTransaction(ctx context.Context, t *model.Transaction) error {
	inserted, err := r.insert(ctx, t, false)
	if err != nil {
		return err
	}
	if !inserted {
		return apperrors.ErrDuplicateEntry
	}
	return nil
}

// InsertSuggestedTransaction inserts a PENDING auto-suggested row unless one with the same
// (portfolio, date, type, ticker) is already pending. In that case the existing id is stored
// in t.ID and inserted is false.
func (r *TransactionRepository) InsertSuggestedTransaction(ctx context.Context, t *model.Transaction) (bool, error) {
	t.Status = model.StatusPending
	t.IsAutoSuggested = true

	inserted, err := r.insert(ctx, t, true)
	if err != nil || inserted {
		return inserted, err
	}

	query := `
		SELECT id FROM "transaction"
		WHERE portfolio_id = ? AND date = ? AND type = ? AND IFNULL(ticker, '') = ?
		  AND status = ? AND is_auto_suggested = TRUE
	`
	err = r.getQuerier().QueryRowContext(ctx, query,
		t.PortfolioID, FormatDate(t.Date), t.Type, t.Ticker, model.StatusPending,
	).Scan(&t.ID)
	if err != nil {
		return false, fmt.Errorf("failed to find existing suggestion: %w", err)
	}

	return false, nil
}

func (r *TransactionRepository) insert(ctx context.Context, t *model.Transaction, ignoreConflict bool) (bool, error) {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	query := `
		INSERT INTO "transaction" (` + transactionColumns + `)
		VALUES (?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM "transaction" WHERE portfolio_id = ?),
		        ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	if ignoreConflict {
		query += ` ON CONFLICT DO NOTHING`
	}
	query += ` RETURNING seq`

	err := r.getQuerier().QueryRowContext(ctx, query,
		t.ID,
		t.PortfolioID,
		t.PortfolioID,
		FormatDate(t.Date),
		t.Type,
		nullableString(t.Ticker),
		t.Amount,
		t.Price,
		t.Quantity,
		t.Status,
		t.IsAutoSuggested,
		t.CashBalanceBefore,
		t.CashBalanceAfter,
		t.Notes,
		FormatTimestamp(t.CreatedAt),
		FormatTimestamp(t.UpdatedAt),
	).Scan(&t.Seq)
	if errors.Is(err, sql.ErrNoRows) && ignoreConflict {
		return false, nil
	}
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to insert transaction: %w", err)
	}

	return true, nil
}

// SettleTransaction moves a PENDING row to its final status, writing the execution values of t.
// Returns ErrTransactionNotPending when the row already left PENDING.
func (r *TransactionRepository) SettleTransaction(ctx context.Context, t *model.Transaction) error {
	t.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE "transaction"
		SET status = ?, date = ?, amount = ?, price = ?, quantity = ?,
		    cash_balance_before = ?, cash_balance_after = ?, notes = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`

	result, err := r.getQuerier().ExecContext(ctx, query,
		t.Status,
		FormatDate(t.Date),
		t.Amount,
		t.Price,
		t.Quantity,
		t.CashBalanceBefore,
		t.CashBalanceAfter,
		t.Notes,
		FormatTimestamp(t.UpdatedAt),
		t.ID,
		model.StatusPending,
	)
	if err != nil {
		return fmt.Errorf("failed to update transaction: %w", err)
	}

	return requireRow(result, apperrors.ErrTransactionNotPending)
}

// UpdateBalanceSnapshot rewrites the advisory before/after balances of a row.
func (r *TransactionRepository) UpdateBalanceSnapshot(ctx context.Context, transactionID string, before, after decimal.Decimal) error {
	_, err := r.getQuerier().ExecContext(ctx,
		`UPDATE "transaction" SET cash_balance_before = ?, cash_balance_after = ? WHERE id = ?`,
		before, after, transactionID,
	)
	if err != nil {
		return fmt.Errorf("failed to update balance snapshot: %w", err)
	}
	return nil
}

// DeletePendingTransactions hard-deletes PENDING rows of a portfolio.
// When autoOnly is set, user-entered pending rows are kept.
func (r *TransactionRepository) DeletePendingTransactions(ctx context.Context, portfolioID string, autoOnly bool) (int64, error) {
	query := `DELETE FROM "transaction" WHERE portfolio_id = ? AND status = ?`
	args := []any{portfolioID, model.StatusPending}
	if autoOnly {
		query += ` AND is_auto_suggested = TRUE`
	}

	result, err := r.getQuerier().ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete pending transactions: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return deleted, nil
}
