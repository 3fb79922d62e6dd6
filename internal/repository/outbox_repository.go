package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/model"
)

// OutboxRepository provides data access methods for the regeneration_task table.
// The table holds at most one task per portfolio; enqueueing again refreshes the task id so
// that a worker finishing an older claim does not delete the newer request.
type OutboxRepository struct {
	db *sql.DB
	tx *sql.Tx
}

// NewOutboxRepository creates a new OutboxRepository with the provided database connection.
func NewOutboxRepository(db *sql.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// WithTx returns a new OutboxRepository scoped to the provided transaction.
func (r *OutboxRepository) WithTx(tx *sql.Tx) *OutboxRepository {
	return &OutboxRepository{
		db: r.db,
		tx: tx,
	}
}

func (r *OutboxRepository) getQuerier() querier {
	if r.tx != nil {
		return r.tx
	}
	return r.db
}

// Enqueue records that the portfolio needs its suggestions regenerated.
func (r *OutboxRepository) Enqueue(ctx context.Context, portfolioID string, reason model.RegenerationReason, availableAt time.Time) error {
	query := `
		INSERT INTO regeneration_task (id, portfolio_id, reason, attempts, available_at, created_at)
		VALUES (?, ?, ?, 0, ?, ?)
		ON CONFLICT(portfolio_id) DO UPDATE SET
			id = excluded.id,
			reason = excluded.reason,
			attempts = 0,
			last_error = NULL,
			available_at = excluded.available_at
	`

	_, err := r.getQuerier().ExecContext(ctx, query,
		uuid.New().String(),
		portfolioID,
		reason,
		FormatTimestamp(availableAt),
		FormatTimestamp(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue regeneration task: %w", err)
	}

	return nil
}

// ListDue returns up to limit tasks that are available at now and below maxAttempts, oldest first.
func (r *OutboxRepository) ListDue(ctx context.Context, now time.Time, maxAttempts, limit int) ([]model.RegenerationTask, error) {
	query := `
		SELECT id, portfolio_id, reason, attempts, last_error, available_at, created_at
		FROM regeneration_task
		WHERE available_at <= ? AND attempts < ?
		ORDER BY available_at ASC
		LIMIT ?
	`

	rows, err := r.getQuerier().QueryContext(ctx, query, FormatTimestamp(now), maxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query regeneration_task table: %w", err)
	}
	defer rows.Close()

	tasks := []model.RegenerationTask{}
	for rows.Next() {
		var task model.RegenerationTask
		var lastError sql.NullString
		var availableAtStr, createdAtStr string

		err := rows.Scan(
			&task.ID,
			&task.PortfolioID,
			&task.Reason,
			&task.Attempts,
			&lastError,
			&availableAtStr,
			&createdAtStr,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan regeneration_task table results: %w", err)
		}

		task.LastError = lastError.String
		if task.AvailableAt, err = ParseTime(availableAtStr); err != nil {
			return nil, err
		}
		if task.CreatedAt, err = ParseTime(createdAtStr); err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating regeneration_task table: %w", err)
	}

	return tasks, nil
}

// Complete removes a processed task. A task re-enqueued since the claim has a new id and survives.
func (r *OutboxRepository) Complete(ctx context.Context, taskID string) error {
	if _, err := r.getQuerier().ExecContext(ctx, `DELETE FROM regeneration_task WHERE id = ?`, taskID); err != nil {
		return fmt.Errorf("failed to delete regeneration task: %w", err)
	}
	return nil
}

// Fail records a failed attempt and postpones the task until retryAt.
func (r *OutboxRepository) Fail(ctx context.Context, taskID string, cause error, retryAt time.Time) error {
	query := `
		UPDATE regeneration_task
		SET attempts = attempts + 1, last_error = ?, available_at = ?
		WHERE id = ?
	`
	if _, err := r.getQuerier().ExecContext(ctx, query, cause.Error(), FormatTimestamp(retryAt), taskID); err != nil {
		return fmt.Errorf("failed to update regeneration task: %w", err)
	}
	return nil
}

// CountPending returns the number of queued tasks, including exhausted ones.
func (r *OutboxRepository) CountPending(ctx context.Context) (int, error) {
	var count int
	if err := r.getQuerier().QueryRowContext(ctx, `SELECT COUNT(*) FROM regeneration_task`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count regeneration tasks: %w", err)
	}
	return count, nil
}
