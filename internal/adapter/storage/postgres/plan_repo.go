package postgres

import (
	"context"
	"errors"
	"fmt"

	"payment-reconciler/internal/core/domain"

	"github.com/jackc/pgx/v5"
)

// PlanRepo implements ports.PlanRepository over the purchasable catalog.
// Plans and credit packages are reference data seeded by migrations.
type PlanRepo struct {
	pool Pool
}

// NewPlanRepo creates a new PlanRepo.
func NewPlanRepo(pool Pool) *PlanRepo {
	return &PlanRepo{pool: pool}
}

// GetPlan fetches a plan by its string id ("pro_monthly").
func (r *PlanRepo) GetPlan(ctx context.Context, id string) (*domain.Plan, error) {
	query := `SELECT id, name, billing_period, credits_per_period, price_cents, currency
		FROM plans WHERE id = $1`

	p := &domain.Plan{}
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&p.ID, &p.Name, &p.BillingPeriod, &p.CreditsPerPeriod, &p.PriceCents, &p.Currency,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get plan: %w", err)
	}
	return p, nil
}

// GetCreditPackage fetches a one-time credit package by its string id.
func (r *PlanRepo) GetCreditPackage(ctx context.Context, id string) (*domain.CreditPackage, error) {
	query := `SELECT id, name, credits, price_cents, currency
		FROM credit_packages WHERE id = $1`

	p := &domain.CreditPackage{}
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&p.ID, &p.Name, &p.Credits, &p.PriceCents, &p.Currency,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get credit package: %w", err)
	}
	return p, nil
}
