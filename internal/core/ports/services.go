package ports

import (
	"context"
	"net/http"
	"time"

	"payment-reconciler/internal/core/domain"

	"github.com/google/uuid"
)

// GatewayAdapter is the capability surface each payment provider implements.
// Verify and Normalize serve the webhook path; Initiate, FetchStatus and
// CancelSubscription wrap the provider's synchronous API.
type GatewayAdapter interface {
	Name() domain.Gateway
	// Verify authenticates a raw webhook. nil means authentic. It fails
	// closed: a missing webhook secret is an authentication error, checked
	// before the payload is touched.
	Verify(ctx context.Context, rawBody []byte, headers http.Header) error
	Normalize(rawBody []byte) (*domain.CanonicalEvent, error)
	Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error)
	FetchStatus(ctx context.Context, externalRef string) (*GatewayStatus, error)
	CancelSubscription(ctx context.Context, externalSubID string) error
}

// InitiateRequest holds validated input for creating a provider order.
type InitiateRequest struct {
	UserID          uuid.UUID
	Email           string // some providers require the payer email up front
	Type            domain.TransactionType
	PlanID          string
	BillingPeriod   domain.BillingPeriod
	CreditPackageID string
	Credits         int64
	Amount          int64
	Currency        string
	Description     string
	Reference       string // our order reference, passed through provider metadata
	SuccessURL      string
	CancelURL       string
}

// InitiateResult is the provider-side order handle returned to the client.
type InitiateResult struct {
	ProviderRef string // provider order/session id
	CheckoutURL string
}

// GatewayStatus is the provider's view of a payment, used by the
// verify/reconcile read path and to enrich thin notifications that carry
// only an object id.
type GatewayStatus struct {
	ExternalRef string
	Status      string // provider-native status string
	Paid        bool
	Amount      int64
	Currency    string
	Data        domain.EventData
}

// GatewayRegistry resolves configured adapters by gateway name.
type GatewayRegistry interface {
	Get(name string) (GatewayAdapter, bool)
	All() []GatewayAdapter
}

// Dispatcher maps a canonical event to its semantic handler. Unknown event
// types are acknowledged with action "unhandled" and no error.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev *domain.CanonicalEvent) (*domain.HandlerResult, error)
}

// WebhookIngestService orchestrates one webhook delivery end to end:
// adapter resolution, verification, normalization, dispatch, and retry
// enqueueing for retryable failures.
type WebhookIngestService interface {
	HandleWebhook(ctx context.Context, gateway string, rawBody []byte, headers http.Header) (*domain.HandlerResult, error)
}

// LedgerService owns the durable commit point of the pipeline.
type LedgerService interface {
	// Commit records a completed transaction and grants credits atomically.
	// A reference already committed surfaces as an apperror duplicate; the
	// ledger is untouched in that case.
	Commit(ctx context.Context, params CommitParams) (*domain.Transaction, error)
	GetByGatewayRef(ctx context.Context, gateway domain.Gateway, ref string) (*domain.Transaction, error)
	ListTransactions(ctx context.Context, params TransactionListParams) ([]domain.Transaction, int64, error)
}

// CommitParams holds the ledger write input.
type CommitParams struct {
	UserID          uuid.UUID
	Type            domain.TransactionType
	Gateway         domain.Gateway
	ExternalRef     string
	Amount          int64
	Currency        string
	Credits         int64
	PlanID          *string
	CreditPackageID *string
	SubscriptionID  *uuid.UUID
	Description     string
}

// SubscriptionService owns the subscription state machine. Activate (when
// a payment reference is attached) and Renew write the cycle's ledger row
// inside their own transaction, so the state change and the money record
// land or fail together; a replayed reference surfaces as a duplicate with
// nothing changed.
type SubscriptionService interface {
	Activate(ctx context.Context, params ActivateParams) (*domain.UserSubscription, error)
	Renew(ctx context.Context, params RenewParams) (*domain.UserSubscription, error)
	// MarkPastDue applies the uniform payment-failed policy: flag and
	// notify, never downgrade in the webhook path.
	MarkPastDue(ctx context.Context, gateway domain.Gateway, externalSubID string) error
	CancelByExternalID(ctx context.Context, gateway domain.Gateway, externalSubID string) error
	CancelForUser(ctx context.Context, userID uuid.UUID, immediate bool) error
	GetForUser(ctx context.Context, userID uuid.UUID) (*domain.UserSubscription, error)
}

// ActivateParams holds input for initial activation (or gateway switch).
type ActivateParams struct {
	UserID        uuid.UUID
	PlanID        string
	Gateway       domain.Gateway
	ExternalSubID string
	PaymentRef    string // gateway transaction id of the activating payment
	Amount        int64
	Currency      string
}

// RenewParams holds input for a renewal cycle.
type RenewParams struct {
	Gateway       domain.Gateway
	ExternalSubID string
	RenewalRef    string // fresh gateway transaction id for this cycle
	Amount        int64
	Currency      string
}

// RefundService owns refunds and the chargeback compensation path.
type RefundService interface {
	CreateRefund(ctx context.Context, params RefundParams) (*domain.Refund, error)
	// HandleChargeback runs the cross-cutting dispute compensation: reverse
	// granted credits clamped at the current balance, mark the transaction
	// disputed, deactivate the user.
	HandleChargeback(ctx context.Context, params ChargebackParams) (*domain.Refund, error)
}

// RefundParams holds input for an admin/customer-initiated refund.
type RefundParams struct {
	TransactionID uuid.UUID
	Amount        *int64 // nil = full amount
	Reason        domain.RefundReason
	InitiatedBy   domain.RefundInitiator
	AdminID       *uuid.UUID
}

// ChargebackParams holds input for a gateway-initiated dispute.
type ChargebackParams struct {
	Gateway     domain.Gateway
	ExternalRef string // gateway transaction id under dispute
	DisputeID   string
	Reason      string
}

// RetryService owns the dead-letter queue and its sweep.
type RetryService interface {
	Enqueue(ctx context.Context, gateway domain.Gateway, eventType, eventID string, payload []byte, cause error) error
	// ProcessDue re-dispatches items due at now and returns how many were
	// attempted.
	ProcessDue(ctx context.Context, now time.Time) (int, error)
	Requeue(ctx context.Context, id uuid.UUID) (*domain.WebhookQueueItem, error)
	List(ctx context.Context, params QueueListParams) ([]domain.WebhookQueueItem, int64, error)
}

// AuditService records the append-only audit trail. Record is
// fire-and-forget: it must never block or fail the primary operation.
type AuditService interface {
	Record(ctx context.Context, entry domain.AuditLogEntry)
	List(ctx context.Context, params AuditListParams) ([]domain.AuditLogEntry, int64, error)
}

// SettingsService resolves configuration with store-over-environment
// precedence and audits writes.
type SettingsService interface {
	Resolve(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, adminID *uuid.UUID) error
	// Gateway merges the stored and configured credential set for one
	// provider.
	Gateway(ctx context.Context, g domain.Gateway) (GatewayCredentials, error)
}

// GatewayCredentials is the resolved credential set for one provider.
type GatewayCredentials struct {
	Enabled       bool
	APIKey        string
	APISecret     string
	WebhookSecret string
	Currency      string
	BaseURL       string
}

// CheckoutService serves the synchronous client-facing flow. It converges
// with the webhook path through the same ledger commit.
type CheckoutService interface {
	CreateOrder(ctx context.Context, params OrderParams) (*InitiateResult, error)
	// VerifyPayment confirms a client-reported payment against the provider
	// and commits it through the ledger; a racing webhook and this call
	// produce one transaction between them.
	VerifyPayment(ctx context.Context, params VerifyParams) (*domain.Transaction, error)
}

// OrderParams holds input for creating a checkout order.
type OrderParams struct {
	UserID          uuid.UUID
	Gateway         domain.Gateway
	Type            domain.TransactionType
	PlanID          string
	CreditPackageID string
	SuccessURL      string
	CancelURL       string
}

// VerifyParams holds input for client-side payment confirmation.
type VerifyParams struct {
	UserID      uuid.UUID
	Gateway     domain.Gateway
	ExternalRef string
}

// TokenService handles JWT bearer tokens on the client/admin surface.
type TokenService interface {
	Generate(userID uuid.UUID, role string) (string, time.Time, error)
	Validate(tokenString string) (*TokenClaims, error)
}

// TokenClaims holds the parsed JWT claims.
type TokenClaims struct {
	UserID uuid.UUID
	Role   string
}

// Notifier fires best-effort post-commit hooks (confirmation email,
// past-due notice). Failures are logged by implementations and never
// propagate.
type Notifier interface {
	PaymentConfirmed(ctx context.Context, userID uuid.UUID, transactionID uuid.UUID)
	SubscriptionPastDue(ctx context.Context, userID uuid.UUID)
	AccountDeactivated(ctx context.Context, userID uuid.UUID)
}
