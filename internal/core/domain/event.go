package domain

// Handler result actions shared across the pipeline.
const (
	ActionProcessed        = "processed"
	ActionAlreadyProcessed = "already_processed"
	ActionUnhandled        = "unhandled"
)

// CanonicalEvent is a verified webhook parsed into provider-independent
// shape. EventType keeps the provider's native string; dispatch tables map
// it to semantics per gateway.
type CanonicalEvent struct {
	Gateway     Gateway   `json:"gateway"`
	EventType   string    `json:"event_type"`
	EventID     string    `json:"event_id"`
	ExternalRef string    `json:"external_ref"` // provider transaction/order id
	Data        EventData `json:"data"`
	Raw         []byte    `json:"-"`
}

// EventData carries the normalized payload fields handlers consume. Fields
// are populated best-effort per provider; handlers validate what they need.
type EventData struct {
	UserID          string        `json:"user_id,omitempty"` // platform user id from provider metadata
	Type            string        `json:"type,omitempty"`    // metadata purchase type: subscription|credits|one_time
	Credits         int64         `json:"credits,omitempty"`
	PlanID          string        `json:"plan_id,omitempty"`
	CreditPackageID string        `json:"credit_package_id,omitempty"`
	SubscriptionRef string        `json:"subscription_ref,omitempty"` // provider subscription id
	Amount          int64         `json:"amount,omitempty"`
	Currency        string        `json:"currency,omitempty"`
	BillingPeriod   BillingPeriod `json:"billing_period,omitempty"`
	Reason          string        `json:"reason,omitempty"`
	DisputeID       string        `json:"dispute_id,omitempty"`
}

// HandlerResult is what a dispatched handler reports back to the webhook
// endpoint.
type HandlerResult struct {
	Success       bool    `json:"success"`
	Action        string  `json:"action"`
	UserID        *string `json:"user_id,omitempty"`
	TransactionID *string `json:"transaction_id,omitempty"`
}
