package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"payment-reconciler/internal/core/domain"
	"payment-reconciler/internal/core/ports"
	"payment-reconciler/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// TransactionRepo implements ports.TransactionRepository.
type TransactionRepo struct {
	pool Pool
}

// NewTransactionRepo creates a new TransactionRepo.
func NewTransactionRepo(pool Pool) *TransactionRepo {
	return &TransactionRepo{pool: pool}
}

// Create inserts a new transaction within a database transaction. The unique
// index on (gateway, gateway_transaction_id) surfaces replays as a duplicate
// error, which callers treat as "the event was already committed".
func (r *TransactionRepo) Create(ctx context.Context, tx pgx.Tx, t *domain.Transaction) error {
	query := `INSERT INTO transactions (id, user_id, type, gateway, gateway_transaction_id, amount, currency,
		status, plan_id, credit_package_id, subscription_id, credits_awarded, description, completed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	_, err := tx.Exec(ctx, query,
		t.ID, t.UserID, t.Type, t.Gateway, t.GatewayTransactionID,
		t.Amount, t.Currency, t.Status, t.PlanID, t.CreditPackageID,
		t.SubscriptionID, t.CreditsAwarded, t.Description,
		t.CompletedAt, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			ref := ""
			if t.GatewayTransactionID != nil {
				ref = *t.GatewayTransactionID
			}
			return apperror.ErrDuplicate(ref)
		}
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// GetByID fetches a transaction by UUID.
func (r *TransactionRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	query := transactionSelect + ` WHERE id = $1`

	return r.scanTransaction(r.pool.QueryRow(ctx, query, id))
}

// GetByGatewayTransactionID fetches a transaction by its provider reference.
// This is the idempotency pre-check lookup, so it must see committed rows
// from concurrent deliveries.
func (r *TransactionRepo) GetByGatewayTransactionID(ctx context.Context, gateway domain.Gateway, gatewayTxnID string) (*domain.Transaction, error) {
	query := transactionSelect + ` WHERE gateway = $1 AND gateway_transaction_id = $2`

	return r.scanTransaction(r.pool.QueryRow(ctx, query, gateway, gatewayTxnID))
}

// UpdateStatus updates a transaction's status within a database transaction.
func (r *TransactionRepo) UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status domain.TransactionStatus) error {
	now := time.Now()
	query := `UPDATE transactions SET status = $1, updated_at = $2,
		completed_at = CASE WHEN $1 = 'completed' THEN $2 ELSE completed_at END
		WHERE id = $3`

	tag, err := tx.Exec(ctx, query, status, now, id)
	if err != nil {
		return fmt.Errorf("update transaction status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("transaction not found: %s", id)
	}
	return nil
}

// List fetches transactions with filtering and pagination.
func (r *TransactionRepo) List(ctx context.Context, params ports.TransactionListParams) ([]domain.Transaction, int64, error) {
	var conditions []string
	var args []any
	argIdx := 1

	if params.UserID != nil {
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", argIdx))
		args = append(args, *params.UserID)
		argIdx++
	}
	if params.Gateway != nil {
		conditions = append(conditions, fmt.Sprintf("gateway = $%d", argIdx))
		args = append(args, *params.Gateway)
		argIdx++
	}
	if params.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, *params.Status)
		argIdx++
	}
	if params.Type != nil {
		conditions = append(conditions, fmt.Sprintf("type = $%d", argIdx))
		args = append(args, *params.Type)
		argIdx++
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	// Count total
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM transactions %s", where)
	var total int64
	err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count transactions: %w", err)
	}

	// Fetch page
	offset := (params.Page - 1) * params.PageSize
	dataQuery := fmt.Sprintf(`%s %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		transactionSelect, where, argIdx, argIdx+1)
	args = append(args, params.PageSize, offset)

	rows, err := r.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var txns []domain.Transaction
	for rows.Next() {
		t := domain.Transaction{}
		err := rows.Scan(
			&t.ID, &t.UserID, &t.Type, &t.Gateway, &t.GatewayTransactionID,
			&t.Amount, &t.Currency, &t.Status, &t.PlanID, &t.CreditPackageID,
			&t.SubscriptionID, &t.CreditsAwarded, &t.Description,
			&t.CompletedAt, &t.CreatedAt, &t.UpdatedAt,
		)
		if err != nil {
			return nil, 0, fmt.Errorf("scan transaction row: %w", err)
		}
		txns = append(txns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate transaction rows: %w", err)
	}
	return txns, total, nil
}

const transactionSelect = `SELECT id, user_id, type, gateway, gateway_transaction_id, amount, currency,
	status, plan_id, credit_package_id, subscription_id, credits_awarded, description, completed_at, created_at, updated_at
	FROM transactions`

// scanTransaction is a helper to scan a single row into a Transaction.
func (r *TransactionRepo) scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	t := &domain.Transaction{}
	err := row.Scan(
		&t.ID, &t.UserID, &t.Type, &t.Gateway, &t.GatewayTransactionID,
		&t.Amount, &t.Currency, &t.Status, &t.PlanID, &t.CreditPackageID,
		&t.SubscriptionID, &t.CreditsAwarded, &t.Description,
		&t.CompletedAt, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan transaction: %w", err)
	}
	return t, nil
}
