package postgres

import (
	"context"
	"errors"
	"fmt"

	"payment-reconciler/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// UserRepo implements ports.UserRepository over the user rows this service
// owns: identity, credit balance and the active flag.
type UserRepo struct {
	pool Pool
}

// NewUserRepo creates a new UserRepo.
func NewUserRepo(pool Pool) *UserRepo {
	return &UserRepo{pool: pool}
}

const userSelect = `SELECT id, email, credits, active, created_at, updated_at FROM users`

// GetByID fetches a user by UUID.
func (r *UserRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	query := userSelect + ` WHERE id = $1`

	return r.scanUser(r.pool.QueryRow(ctx, query, id))
}

// GetByIDForUpdate fetches a user with pessimistic locking.
// This MUST be called within a transaction.
func (r *UserRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.User, error) {
	query := userSelect + ` WHERE id = $1 FOR UPDATE`

	return r.scanUser(tx.QueryRow(ctx, query, id))
}

// AdjustCredits applies a delta to the balance atomically and returns the
// new value. Positive deltas grant, negative deltas reverse.
func (r *UserRepo) AdjustCredits(ctx context.Context, tx pgx.Tx, userID uuid.UUID, delta int64) (int64, error) {
	query := `UPDATE users SET credits = credits + $1, updated_at = NOW() WHERE id = $2 RETURNING credits`

	var balance int64
	err := tx.QueryRow(ctx, query, delta, userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("user not found: %s", userID)
		}
		return 0, fmt.Errorf("adjust credits: %w", err)
	}
	return balance, nil
}

// SetActive flips the account's active flag within a transaction.
func (r *UserRepo) SetActive(ctx context.Context, tx pgx.Tx, userID uuid.UUID, active bool) error {
	query := `UPDATE users SET active = $1, updated_at = NOW() WHERE id = $2`

	tag, err := tx.Exec(ctx, query, active, userID)
	if err != nil {
		return fmt.Errorf("set user active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user not found: %s", userID)
	}
	return nil
}

func (r *UserRepo) scanUser(row pgx.Row) (*domain.User, error) {
	u := &domain.User{}
	err := row.Scan(&u.ID, &u.Email, &u.Credits, &u.Active, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return u, nil
}
