package postgres

import (
	"context"
	"errors"
	"fmt"

	"payment-reconciler/internal/core/domain"

	"github.com/jackc/pgx/v5"
)

// SettingRepo implements ports.SettingRepository as a key-value table with
// upsert semantics on the primary key.
type SettingRepo struct {
	pool Pool
}

// NewSettingRepo creates a new SettingRepo.
func NewSettingRepo(pool Pool) *SettingRepo {
	return &SettingRepo{pool: pool}
}

// Get fetches a setting by key, nil when no row exists.
func (r *SettingRepo) Get(ctx context.Context, key string) (*domain.Setting, error) {
	query := `SELECT key, value, updated_at FROM settings WHERE key = $1`

	s := &domain.Setting{}
	err := r.pool.QueryRow(ctx, query, key).Scan(&s.Key, &s.Value, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get setting: %w", err)
	}
	return s, nil
}

// Set upserts a setting.
func (r *SettingRepo) Set(ctx context.Context, key string, value string) error {
	query := `INSERT INTO settings (key, value, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`

	if _, err := r.pool.Exec(ctx, query, key, value); err != nil {
		return fmt.Errorf("set setting: %w", err)
	}
	return nil
}
