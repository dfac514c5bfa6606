package postgres

import (
	"context"
	"testing"
	"time"

	"payment-reconciler/internal/core/domain"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSubscription(userID uuid.UUID) *domain.UserSubscription {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &domain.UserSubscription{
		ID:                   uuid.New(),
		UserID:               userID,
		PlanID:               "pro_monthly",
		Status:               domain.SubscriptionStatusActive,
		CurrentPeriodStart:   now,
		CurrentPeriodEnd:     now.AddDate(0, 1, 0),
		StripeSubscriptionID: strPtr("sub_stripe_1"),
		CreatedAt:            now,
		UpdatedAt:            now,
	}
}

func subColumns() []string {
	return []string{"id", "user_id", "plan_id", "status", "current_period_start", "current_period_end",
		"cancel_at_period_end", "stripe_subscription_id", "razorpay_subscription_id", "paypal_subscription_id",
		"paystack_subscription_id", "mercadopago_subscription_id", "created_at", "updated_at"}
}

func subRow(s *domain.UserSubscription) *pgxmock.Rows {
	return pgxmock.NewRows(subColumns()).AddRow(
		s.ID, s.UserID, s.PlanID, s.Status,
		s.CurrentPeriodStart, s.CurrentPeriodEnd, s.CancelAtPeriodEnd,
		s.StripeSubscriptionID, s.RazorpaySubscriptionID, s.PayPalSubscriptionID,
		s.PaystackSubscriptionID, s.MercadoPagoSubscriptionID,
		s.CreatedAt, s.UpdatedAt,
	)
}

func TestSubscriptionRepo_Create(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewSubscriptionRepo(mock)
	sub := newTestSubscription(uuid.New())

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO user_subscriptions").
		WithArgs(
			sub.ID, sub.UserID, sub.PlanID, sub.Status,
			sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.CancelAtPeriodEnd,
			sub.StripeSubscriptionID, sub.RazorpaySubscriptionID, sub.PayPalSubscriptionID,
			sub.PaystackSubscriptionID, sub.MercadoPagoSubscriptionID,
			sub.CreatedAt, sub.UpdatedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	dbTx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	err = repo.Create(context.Background(), dbTx, sub)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubscriptionRepo_Update(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewSubscriptionRepo(mock)
	sub := newTestSubscription(uuid.New())
	sub.Status = domain.SubscriptionStatusPastDue

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE user_subscriptions SET").
		WithArgs(
			sub.PlanID, sub.Status, sub.CurrentPeriodStart, sub.CurrentPeriodEnd,
			sub.CancelAtPeriodEnd, sub.StripeSubscriptionID, sub.RazorpaySubscriptionID,
			sub.PayPalSubscriptionID, sub.PaystackSubscriptionID, sub.MercadoPagoSubscriptionID,
			pgxmock.AnyArg(), sub.ID,
		).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	dbTx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	err = repo.Update(context.Background(), dbTx, sub)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubscriptionRepo_Update_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewSubscriptionRepo(mock)
	sub := newTestSubscription(uuid.New())

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE user_subscriptions SET").
		WithArgs(
			sub.PlanID, sub.Status, sub.CurrentPeriodStart, sub.CurrentPeriodEnd,
			sub.CancelAtPeriodEnd, sub.StripeSubscriptionID, sub.RazorpaySubscriptionID,
			sub.PayPalSubscriptionID, sub.PaystackSubscriptionID, sub.MercadoPagoSubscriptionID,
			pgxmock.AnyArg(), sub.ID,
		).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	dbTx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	err = repo.Update(context.Background(), dbTx, sub)
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubscriptionRepo_GetByUserID(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewSubscriptionRepo(mock)
	sub := newTestSubscription(uuid.New())

	mock.ExpectQuery("SELECT .+ FROM user_subscriptions WHERE user_id").
		WithArgs(sub.UserID).
		WillReturnRows(subRow(sub))

	result, err := repo.GetByUserID(context.Background(), sub.UserID)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, sub.ID, result.ID)
	assert.Equal(t, sub.PlanID, result.PlanID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubscriptionRepo_GetByUserID_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewSubscriptionRepo(mock)

	mock.ExpectQuery("SELECT .+ FROM user_subscriptions WHERE user_id").
		WithArgs(pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows(subColumns()))

	result, err := repo.GetByUserID(context.Background(), uuid.New())
	assert.NoError(t, err)
	assert.Nil(t, result)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubscriptionRepo_GetByExternalID_PicksGatewayColumn(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewSubscriptionRepo(mock)
	sub := newTestSubscription(uuid.New())
	sub.StripeSubscriptionID = nil
	sub.RazorpaySubscriptionID = strPtr("rzp_sub_9")

	mock.ExpectQuery("SELECT .+ FROM user_subscriptions WHERE razorpay_subscription_id").
		WithArgs("rzp_sub_9").
		WillReturnRows(subRow(sub))

	result, err := repo.GetByExternalID(context.Background(), domain.GatewayRazorpay, "rzp_sub_9")
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, sub.ID, result.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubscriptionRepo_GetByExternalID_UnknownGateway(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewSubscriptionRepo(mock)

	// No query expected: an unmapped gateway has no column to search.
	result, err := repo.GetByExternalID(context.Background(), domain.Gateway("skrill"), "sub_1")
	assert.NoError(t, err)
	assert.Nil(t, result)
	assert.NoError(t, mock.ExpectationsWereMet())
}
