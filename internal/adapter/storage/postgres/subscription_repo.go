package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"payment-reconciler/internal/core/domain"
	"payment-reconciler/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// SubscriptionRepo implements ports.SubscriptionRepository. One row per
// user, enforced by a unique index on user_id.
type SubscriptionRepo struct {
	pool Pool
}

// NewSubscriptionRepo creates a new SubscriptionRepo.
func NewSubscriptionRepo(pool Pool) *SubscriptionRepo {
	return &SubscriptionRepo{pool: pool}
}

const subscriptionSelect = `SELECT id, user_id, plan_id, status, current_period_start, current_period_end,
	cancel_at_period_end, stripe_subscription_id, razorpay_subscription_id, paypal_subscription_id,
	paystack_subscription_id, mercadopago_subscription_id, created_at, updated_at
	FROM user_subscriptions`

// Create inserts a new subscription within a database transaction.
func (r *SubscriptionRepo) Create(ctx context.Context, tx pgx.Tx, sub *domain.UserSubscription) error {
	query := `INSERT INTO user_subscriptions (id, user_id, plan_id, status, current_period_start, current_period_end,
		cancel_at_period_end, stripe_subscription_id, razorpay_subscription_id, paypal_subscription_id,
		paystack_subscription_id, mercadopago_subscription_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := tx.Exec(ctx, query,
		sub.ID, sub.UserID, sub.PlanID, sub.Status,
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.CancelAtPeriodEnd,
		sub.StripeSubscriptionID, sub.RazorpaySubscriptionID, sub.PayPalSubscriptionID,
		sub.PaystackSubscriptionID, sub.MercadoPagoSubscriptionID,
		sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.ErrDuplicate(sub.UserID.String())
		}
		return fmt.Errorf("insert subscription: %w", err)
	}
	return nil
}

// Update rewrites the mutable subscription columns within a database
// transaction.
func (r *SubscriptionRepo) Update(ctx context.Context, tx pgx.Tx, sub *domain.UserSubscription) error {
	query := `UPDATE user_subscriptions SET plan_id = $1, status = $2, current_period_start = $3,
		current_period_end = $4, cancel_at_period_end = $5, stripe_subscription_id = $6,
		razorpay_subscription_id = $7, paypal_subscription_id = $8, paystack_subscription_id = $9,
		mercadopago_subscription_id = $10, updated_at = $11
		WHERE id = $12`

	tag, err := tx.Exec(ctx, query,
		sub.PlanID, sub.Status, sub.CurrentPeriodStart, sub.CurrentPeriodEnd,
		sub.CancelAtPeriodEnd, sub.StripeSubscriptionID, sub.RazorpaySubscriptionID,
		sub.PayPalSubscriptionID, sub.PaystackSubscriptionID, sub.MercadoPagoSubscriptionID,
		time.Now(), sub.ID,
	)
	if err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("subscription not found: %s", sub.ID)
	}
	return nil
}

// GetByUserID fetches a user's subscription.
func (r *SubscriptionRepo) GetByUserID(ctx context.Context, userID uuid.UUID) (*domain.UserSubscription, error) {
	query := subscriptionSelect + ` WHERE user_id = $1`

	return r.scanSubscription(r.pool.QueryRow(ctx, query, userID))
}

// GetByExternalID resolves a subscription by the id the provider issued.
// Each gateway stores its id in its own column, so the lookup picks the
// column by gateway.
func (r *SubscriptionRepo) GetByExternalID(ctx context.Context, gateway domain.Gateway, externalID string) (*domain.UserSubscription, error) {
	column, ok := externalIDColumn(gateway)
	if !ok {
		return nil, nil
	}
	query := fmt.Sprintf("%s WHERE %s = $1", subscriptionSelect, column)

	return r.scanSubscription(r.pool.QueryRow(ctx, query, externalID))
}

func externalIDColumn(gateway domain.Gateway) (string, bool) {
	switch gateway {
	case domain.GatewayStripe:
		return "stripe_subscription_id", true
	case domain.GatewayRazorpay:
		return "razorpay_subscription_id", true
	case domain.GatewayPayPal:
		return "paypal_subscription_id", true
	case domain.GatewayPaystack:
		return "paystack_subscription_id", true
	case domain.GatewayMercadoPago:
		return "mercadopago_subscription_id", true
	}
	return "", false
}

func (r *SubscriptionRepo) scanSubscription(row pgx.Row) (*domain.UserSubscription, error) {
	sub := &domain.UserSubscription{}
	err := row.Scan(
		&sub.ID, &sub.UserID, &sub.PlanID, &sub.Status,
		&sub.CurrentPeriodStart, &sub.CurrentPeriodEnd, &sub.CancelAtPeriodEnd,
		&sub.StripeSubscriptionID, &sub.RazorpaySubscriptionID, &sub.PayPalSubscriptionID,
		&sub.PaystackSubscriptionID, &sub.MercadoPagoSubscriptionID,
		&sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan subscription: %w", err)
	}
	return sub, nil
}
