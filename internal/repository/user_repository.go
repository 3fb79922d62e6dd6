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

// UserRepository provides data access methods for the app_user table.
type UserRepository struct {
	db *sql.DB
}

// NewUserRepository creates a new UserRepository with the provided database connection.
func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

// GetUser retrieves a user by ID.
// Returns ErrUserNotFound if no user with the given ID exists.
func (r *UserRepository) GetUser(ctx context.Context, userID string) (model.User, error) {
	query := `SELECT id, is_premium, created_at FROM app_user WHERE id = ?`

	var u model.User
	var createdAtStr string
	err := r.db.QueryRowContext(ctx, query, userID).Scan(&u.ID, &u.IsPremium, &createdAtStr)
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, apperrors.ErrUserNotFound
	}
	if err != nil {
		return model.User{}, fmt.Errorf("failed to query app_user: %w", err)
	}

	u.CreatedAt, err = ParseTime(createdAtStr)
	if err != nil {
		return model.User{}, err
	}
	return u, nil
}

// EnsureUser registers the user on first sight and returns the stored record.
// Identity is owned by the auth gateway, so unknown ids are created as non-premium.
func (r *UserRepository) EnsureUser(ctx context.Context, userID string) (model.User, error) {
	query := `
		INSERT INTO app_user (id, is_premium, created_at)
		VALUES (?, FALSE, ?)
		ON CONFLICT(id) DO NOTHING
	`
	if _, err := r.db.ExecContext(ctx, query, userID, FormatTimestamp(time.Now())); err != nil {
		return model.User{}, fmt.Errorf("failed to insert app_user: %w", err)
	}
	return r.GetUser(ctx, userID)
}

// SetPremium updates the premium flag of a user.
func (r *UserRepository) SetPremium(ctx context.Context, userID string, premium bool) error {
	result, err := r.db.ExecContext(ctx, `UPDATE app_user SET is_premium = ? WHERE id = ?`, premium, userID)
	if err != nil {
		return fmt.Errorf("failed to update app_user: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperrors.ErrUserNotFound
	}
	return nil
}
