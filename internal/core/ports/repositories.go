package ports

import (
	"context"
	"time"

	"payment-reconciler/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// TransactionRepository defines persistence for the payment ledger.
// Methods accepting pgx.Tx run inside transaction blocks; the unique index
// on (gateway, gateway_transaction_id) is the authoritative idempotency
// guard, surfaced by Create as an apperror duplicate.
type TransactionRepository interface {
	Create(ctx context.Context, tx pgx.Tx, transaction *domain.Transaction) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	GetByGatewayTransactionID(ctx context.Context, gateway domain.Gateway, gatewayTxnID string) (*domain.Transaction, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status domain.TransactionStatus) error
	List(ctx context.Context, params TransactionListParams) ([]domain.Transaction, int64, error)
}

// TransactionListParams holds filter + pagination for listing transactions.
type TransactionListParams struct {
	UserID   *uuid.UUID
	Gateway  *domain.Gateway
	Status   *domain.TransactionStatus
	Type     *domain.TransactionType
	Page     int
	PageSize int
}

// SubscriptionRepository defines persistence for user subscriptions.
type SubscriptionRepository interface {
	Create(ctx context.Context, tx pgx.Tx, sub *domain.UserSubscription) error
	Update(ctx context.Context, tx pgx.Tx, sub *domain.UserSubscription) error
	GetByUserID(ctx context.Context, userID uuid.UUID) (*domain.UserSubscription, error)
	// GetByExternalID resolves a subscription by the id the provider issued,
	// the lookup subscription lifecycle webhooks key on.
	GetByExternalID(ctx context.Context, gateway domain.Gateway, externalID string) (*domain.UserSubscription, error)
}

// RefundRepository defines persistence for refunds.
type RefundRepository interface {
	Create(ctx context.Context, tx pgx.Tx, refund *domain.Refund) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Refund, error)
	GetByTransactionID(ctx context.Context, transactionID uuid.UUID) (*domain.Refund, error)
}

// UserRepository defines persistence for the user slice this service owns.
type UserRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.User, error)
	// AdjustCredits applies a delta to the balance and returns the new value.
	AdjustCredits(ctx context.Context, tx pgx.Tx, userID uuid.UUID, delta int64) (int64, error)
	SetActive(ctx context.Context, tx pgx.Tx, userID uuid.UUID, active bool) error
}

// PlanRepository defines lookups for purchasable plans and credit packages.
type PlanRepository interface {
	GetPlan(ctx context.Context, id string) (*domain.Plan, error)
	GetCreditPackage(ctx context.Context, id string) (*domain.CreditPackage, error)
}

// WebhookQueueRepository defines persistence for the dead-letter queue.
type WebhookQueueRepository interface {
	Create(ctx context.Context, item *domain.WebhookQueueItem) error
	Update(ctx context.Context, item *domain.WebhookQueueItem) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.WebhookQueueItem, error)
	GetByEventID(ctx context.Context, gateway domain.Gateway, eventID string) (*domain.WebhookQueueItem, error)
	// GetRetryable returns items due for a sweep: pending or failed, retry
	// due, attempts left, lifetime not exceeded.
	GetRetryable(ctx context.Context, now time.Time, limit int) ([]domain.WebhookQueueItem, error)
	// MarkProcessing claims an item for one sweeper pass. Returns false when
	// another pass already claimed it.
	MarkProcessing(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
	// ReleaseStale returns processing items older than the lease back to
	// failed so a crashed sweeper cannot strand them.
	ReleaseStale(ctx context.Context, olderThan time.Time) (int64, error)
	List(ctx context.Context, params QueueListParams) ([]domain.WebhookQueueItem, int64, error)
}

// QueueListParams holds filter + pagination for dead-letter inspection.
type QueueListParams struct {
	Status   *domain.QueueStatus
	Gateway  *domain.Gateway
	Page     int
	PageSize int
}

// AuditRepository defines persistence for the append-only audit trail.
type AuditRepository interface {
	Create(ctx context.Context, entry *domain.AuditLogEntry) error
	List(ctx context.Context, params AuditListParams) ([]domain.AuditLogEntry, int64, error)
}

// AuditListParams holds filter + pagination for audit queries.
type AuditListParams struct {
	Action   *domain.AuditAction
	UserID   *uuid.UUID
	Gateway  *domain.Gateway
	Page     int
	PageSize int
}

// SettingRepository defines the generic key-value configuration store.
type SettingRepository interface {
	Get(ctx context.Context, key string) (*domain.Setting, error)
	Set(ctx context.Context, key string, value string) error
}

// DBTransactor provides database transaction management.
type DBTransactor interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}
