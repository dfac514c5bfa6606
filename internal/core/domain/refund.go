package domain

import (
	"time"

	"github.com/google/uuid"
)

// RefundReason categorizes why money went back.
type RefundReason string

const (
	RefundReasonAdminRequest    RefundReason = "admin_request"
	RefundReasonChargeback      RefundReason = "chargeback"
	RefundReasonCustomerRequest RefundReason = "customer_request"
	RefundReasonDuplicate       RefundReason = "duplicate"
	RefundReasonFraudulent      RefundReason = "fraudulent"
)

// RefundInitiator identifies who started the refund.
type RefundInitiator string

const (
	RefundInitiatorAdmin    RefundInitiator = "admin"
	RefundInitiatorCustomer RefundInitiator = "customer"
	RefundInitiatorGateway  RefundInitiator = "gateway"
)

// RefundStatus is the refund lifecycle state.
type RefundStatus string

const (
	RefundStatusPending   RefundStatus = "pending"
	RefundStatusCompleted RefundStatus = "completed"
	RefundStatusFailed    RefundStatus = "failed"
)

// Refund records a reversal against a committed transaction. At most one
// completed refund exists per transaction; completed refunds are immutable.
type Refund struct {
	ID              uuid.UUID       `json:"id"`
	TransactionID   uuid.UUID       `json:"transaction_id"`
	Gateway         Gateway         `json:"gateway"`
	Amount          int64           `json:"amount"`
	Currency        string          `json:"currency"`
	Reason          RefundReason    `json:"reason"`
	InitiatedBy     RefundInitiator `json:"initiated_by"`
	Status          RefundStatus    `json:"status"`
	GatewayRefundID *string         `json:"gateway_refund_id,omitempty"`
	CreditsReversed int64           `json:"credits_reversed"`
	UserSuspended   bool            `json:"user_suspended"`
	CreatedAt       time.Time       `json:"created_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
}

// IsCompleted reports whether the refund reached its immutable final state.
func (r *Refund) IsCompleted() bool {
	return r.Status == RefundStatusCompleted
}
