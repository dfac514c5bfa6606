package postgres

import (
	"context"
	"errors"
	"fmt"

	"payment-reconciler/internal/core/domain"
	"payment-reconciler/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// RefundRepo implements ports.RefundRepository. The unique index on
// transaction_id enforces at most one refund per transaction.
type RefundRepo struct {
	pool Pool
}

// NewRefundRepo creates a new RefundRepo.
func NewRefundRepo(pool Pool) *RefundRepo {
	return &RefundRepo{pool: pool}
}

const refundSelect = `SELECT id, transaction_id, gateway, amount, currency, reason, initiated_by,
	status, gateway_refund_id, credits_reversed, user_suspended, created_at, completed_at
	FROM refunds`

// Create inserts a refund within a database transaction.
func (r *RefundRepo) Create(ctx context.Context, tx pgx.Tx, refund *domain.Refund) error {
	query := `INSERT INTO refunds (id, transaction_id, gateway, amount, currency, reason, initiated_by,
		status, gateway_refund_id, credits_reversed, user_suspended, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := tx.Exec(ctx, query,
		refund.ID, refund.TransactionID, refund.Gateway, refund.Amount, refund.Currency,
		refund.Reason, refund.InitiatedBy, refund.Status, refund.GatewayRefundID,
		refund.CreditsReversed, refund.UserSuspended, refund.CreatedAt, refund.CompletedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.ErrDuplicate(refund.TransactionID.String())
		}
		return fmt.Errorf("insert refund: %w", err)
	}
	return nil
}

// GetByID fetches a refund by UUID.
func (r *RefundRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Refund, error) {
	query := refundSelect + ` WHERE id = $1`

	return r.scanRefund(r.pool.QueryRow(ctx, query, id))
}

// GetByTransactionID fetches the refund recorded for a transaction, if any.
func (r *RefundRepo) GetByTransactionID(ctx context.Context, transactionID uuid.UUID) (*domain.Refund, error) {
	query := refundSelect + ` WHERE transaction_id = $1`

	return r.scanRefund(r.pool.QueryRow(ctx, query, transactionID))
}

func (r *RefundRepo) scanRefund(row pgx.Row) (*domain.Refund, error) {
	refund := &domain.Refund{}
	err := row.Scan(
		&refund.ID, &refund.TransactionID, &refund.Gateway, &refund.Amount, &refund.Currency,
		&refund.Reason, &refund.InitiatedBy, &refund.Status, &refund.GatewayRefundID,
		&refund.CreditsReversed, &refund.UserSuspended, &refund.CreatedAt, &refund.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan refund: %w", err)
	}
	return refund, nil
}
