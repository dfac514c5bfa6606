package domain

import (
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of audited action.
type AuditAction string

const (
	AuditPaymentInitiated AuditAction = "payment_initiated"
	AuditPaymentCompleted AuditAction = "payment_completed"
	AuditPaymentFailed    AuditAction = "payment_failed"

	AuditSubscriptionCreated       AuditAction = "subscription_created"
	AuditSubscriptionRenewed       AuditAction = "subscription_renewed"
	AuditSubscriptionCancelled     AuditAction = "subscription_cancelled"
	AuditSubscriptionPaymentFailed AuditAction = "subscription_payment_failed"

	AuditRefundInitiated AuditAction = "refund_initiated"
	AuditRefundCompleted AuditAction = "refund_completed"
	AuditDisputeOpened   AuditAction = "dispute_opened"
	AuditDisputeResolved AuditAction = "dispute_resolved"

	AuditCreditsAwarded  AuditAction = "credits_awarded"
	AuditCreditsReversed AuditAction = "credits_reversed"

	AuditWebhookReceived AuditAction = "webhook_received"
	AuditWebhookRejected AuditAction = "webhook_rejected"

	AuditConfigChanged          AuditAction = "configuration_changed"
	AuditReconciliationRequired AuditAction = "reconciliation_required"
)

// AuditLogEntry records a single state-changing action. Entries are
// append-only: never updated, never deleted.
type AuditLogEntry struct {
	ID             uuid.UUID      `json:"id"`
	Action         AuditAction    `json:"action"`
	Gateway        *Gateway       `json:"gateway,omitempty"`
	UserID         *uuid.UUID     `json:"user_id,omitempty"`
	TransactionID  *uuid.UUID     `json:"transaction_id,omitempty"`
	SubscriptionID *uuid.UUID     `json:"subscription_id,omitempty"`
	RefundID       *uuid.UUID     `json:"refund_id,omitempty"`
	DisputeID      *string        `json:"dispute_id,omitempty"`
	AdminID        *uuid.UUID     `json:"admin_id,omitempty"`
	Details        map[string]any `json:"details,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}
