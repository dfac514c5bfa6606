package domain

import (
	"time"

	"github.com/google/uuid"
)

// SubscriptionStatus represents the lifecycle state of a subscription.
type SubscriptionStatus string

const (
	SubscriptionStatusTrialing   SubscriptionStatus = "trialing"
	SubscriptionStatusActive     SubscriptionStatus = "active"
	SubscriptionStatusPastDue    SubscriptionStatus = "past_due"
	SubscriptionStatusCancelled  SubscriptionStatus = "cancelled"
	SubscriptionStatusSuspended  SubscriptionStatus = "suspended"
	SubscriptionStatusIncomplete SubscriptionStatus = "incomplete"
)

// UserSubscription is the single subscription row a user holds. Exactly one
// gateway subscription id is populated at a time; switching gateways clears
// the others so a user cannot be billed by two providers at once.
type UserSubscription struct {
	ID                 uuid.UUID          `json:"id"`
	UserID             uuid.UUID          `json:"user_id"`
	PlanID             string             `json:"plan_id"`
	Status             SubscriptionStatus `json:"status"`
	CurrentPeriodStart time.Time          `json:"current_period_start"`
	CurrentPeriodEnd   time.Time          `json:"current_period_end"`
	CancelAtPeriodEnd  bool               `json:"cancel_at_period_end"`

	StripeSubscriptionID      *string `json:"stripe_subscription_id,omitempty"`
	RazorpaySubscriptionID    *string `json:"razorpay_subscription_id,omitempty"`
	PayPalSubscriptionID      *string `json:"paypal_subscription_id,omitempty"`
	PaystackSubscriptionID    *string `json:"paystack_subscription_id,omitempty"`
	MercadoPagoSubscriptionID *string `json:"mercadopago_subscription_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CanTransitionTo encodes the state machine:
// trialing -> active <-> past_due -> cancelled (terminal), with
// suspended/incomplete as side branches that can recover to active.
func (s *UserSubscription) CanTransitionTo(next SubscriptionStatus) bool {
	switch s.Status {
	case SubscriptionStatusTrialing:
		return next == SubscriptionStatusActive ||
			next == SubscriptionStatusIncomplete ||
			next == SubscriptionStatusCancelled
	case SubscriptionStatusActive:
		return next == SubscriptionStatusPastDue ||
			next == SubscriptionStatusSuspended ||
			next == SubscriptionStatusCancelled ||
			next == SubscriptionStatusActive // renewal keeps the state
	case SubscriptionStatusPastDue:
		return next == SubscriptionStatusActive ||
			next == SubscriptionStatusSuspended ||
			next == SubscriptionStatusCancelled
	case SubscriptionStatusSuspended:
		return next == SubscriptionStatusActive ||
			next == SubscriptionStatusCancelled
	case SubscriptionStatusIncomplete:
		return next == SubscriptionStatusActive ||
			next == SubscriptionStatusCancelled
	}
	return false
}

// IsActive reports whether the subscription currently grants access.
func (s *UserSubscription) IsActive() bool {
	return s.Status == SubscriptionStatusActive ||
		s.Status == SubscriptionStatusTrialing
}

// ExternalID returns the provider-issued subscription id for the gateway.
func (s *UserSubscription) ExternalID(g Gateway) *string {
	switch g {
	case GatewayStripe:
		return s.StripeSubscriptionID
	case GatewayRazorpay:
		return s.RazorpaySubscriptionID
	case GatewayPayPal:
		return s.PayPalSubscriptionID
	case GatewayPaystack:
		return s.PaystackSubscriptionID
	case GatewayMercadoPago:
		return s.MercadoPagoSubscriptionID
	}
	return nil
}

// ClearExternalIDs drops every provider-issued subscription id.
func (s *UserSubscription) ClearExternalIDs() {
	s.StripeSubscriptionID = nil
	s.RazorpaySubscriptionID = nil
	s.PayPalSubscriptionID = nil
	s.PaystackSubscriptionID = nil
	s.MercadoPagoSubscriptionID = nil
}

// SetExternalID stores the provider-issued subscription id. When clearOthers
// is true (initial activation, not renewal) the other gateways' ids are
// reset so only one provider bills this user.
func (s *UserSubscription) SetExternalID(g Gateway, id string, clearOthers bool) {
	if clearOthers {
		s.ClearExternalIDs()
	}
	switch g {
	case GatewayStripe:
		s.StripeSubscriptionID = &id
	case GatewayRazorpay:
		s.RazorpaySubscriptionID = &id
	case GatewayPayPal:
		s.PayPalSubscriptionID = &id
	case GatewayPaystack:
		s.PaystackSubscriptionID = &id
	case GatewayMercadoPago:
		s.MercadoPagoSubscriptionID = &id
	}
}

// ExtendPeriod moves the billing window forward: the new period starts at
// from and ends one billing period later. Renewals extend from "now", not
// from the previous period end.
func (s *UserSubscription) ExtendPeriod(from time.Time, period BillingPeriod) {
	s.CurrentPeriodStart = from
	s.CurrentPeriodEnd = period.AddTo(from)
}
