package domain

import (
	"time"

	"github.com/google/uuid"
)

// Gateway identifies one of the supported payment providers.
type Gateway string

const (
	GatewayStripe      Gateway = "stripe"
	GatewayRazorpay    Gateway = "razorpay"
	GatewayPayPal      Gateway = "paypal"
	GatewayPaystack    Gateway = "paystack"
	GatewayMercadoPago Gateway = "mercadopago"
)

// AllGateways lists every supported provider.
var AllGateways = []Gateway{
	GatewayStripe,
	GatewayRazorpay,
	GatewayPayPal,
	GatewayPaystack,
	GatewayMercadoPago,
}

// ValidGateway reports whether name is a supported provider.
func ValidGateway(name string) bool {
	for _, g := range AllGateways {
		if string(g) == name {
			return true
		}
	}
	return false
}

// TransactionType represents what a payment bought.
type TransactionType string

const (
	TransactionTypeSubscription TransactionType = "subscription"
	TransactionTypeCredits      TransactionType = "credits"
	TransactionTypeOneTime      TransactionType = "one_time"
)

// TransactionStatus represents the lifecycle state of a ledger entry.
type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusFailed    TransactionStatus = "failed"
	TransactionStatusRefunded  TransactionStatus = "refunded"
	TransactionStatusDisputed  TransactionStatus = "disputed"
	TransactionStatusCancelled TransactionStatus = "cancelled"
)

// Transaction is one committed ledger entry. At most one row exists per
// (gateway, gateway_transaction_id); rows are never deleted and status
// moves forward only.
type Transaction struct {
	ID                   uuid.UUID         `json:"id"`
	UserID               uuid.UUID         `json:"user_id"`
	Type                 TransactionType   `json:"type"`
	Gateway              Gateway           `json:"gateway"`
	GatewayTransactionID *string           `json:"gateway_transaction_id,omitempty"`
	Amount               int64             `json:"amount"` // smallest currency unit
	Currency             string            `json:"currency"`
	Status               TransactionStatus `json:"status"`
	PlanID               *string           `json:"plan_id,omitempty"`
	CreditPackageID      *string           `json:"credit_package_id,omitempty"`
	SubscriptionID       *uuid.UUID        `json:"subscription_id,omitempty"`
	CreditsAwarded       int64             `json:"credits_awarded"`
	Description          string            `json:"description,omitempty"`
	CompletedAt          *time.Time        `json:"completed_at,omitempty"`
	CreatedAt            time.Time         `json:"created_at"`
	UpdatedAt            time.Time         `json:"updated_at"`
}

// CanTransitionTo reports whether the status may move to next. Transitions
// run forward only: a completed transaction can only become refunded or
// disputed, and refunded/disputed/failed/cancelled are terminal.
func (t *Transaction) CanTransitionTo(next TransactionStatus) bool {
	switch t.Status {
	case TransactionStatusPending:
		return next == TransactionStatusCompleted ||
			next == TransactionStatusFailed ||
			next == TransactionStatusCancelled
	case TransactionStatusCompleted:
		return next == TransactionStatusRefunded ||
			next == TransactionStatusDisputed
	}
	return false
}

// IsTerminal returns true if the transaction is in a final state.
func (t *Transaction) IsTerminal() bool {
	return t.Status != TransactionStatusPending &&
		t.Status != TransactionStatusCompleted
}

// IsRefundable returns true if this transaction can still be refunded.
func (t *Transaction) IsRefundable() bool {
	return t.Status == TransactionStatusCompleted
}
