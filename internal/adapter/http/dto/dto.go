package dto

// CreateOrderRequest is the request body for starting a checkout flow.
// Exactly one of plan_id / credit_package_id is consumed, chosen by type.
type CreateOrderRequest struct {
	Gateway         string `json:"gateway" binding:"required,gateway_name"`
	Type            string `json:"type" binding:"required,oneof=subscription credits"`
	PlanID          string `json:"plan_id,omitempty" binding:"omitempty,safe_id,max=64"`
	CreditPackageID string `json:"credit_package_id,omitempty" binding:"omitempty,safe_id,max=64"`
	SuccessURL      string `json:"success_url,omitempty" binding:"omitempty,safe_url,max=2048"`
	CancelURL       string `json:"cancel_url,omitempty" binding:"omitempty,safe_url,max=2048"`
}

// VerifyPaymentRequest is the request body for client-side payment
// confirmation after the provider redirects back.
type VerifyPaymentRequest struct {
	Gateway     string `json:"gateway" binding:"required,gateway_name"`
	ExternalRef string `json:"external_ref" binding:"required,max=200"`
}

// CancelSubscriptionRequest is the request body for cancelling the
// caller's subscription. Omitting immediate means cancel at period end.
type CancelSubscriptionRequest struct {
	Immediate bool `json:"immediate"`
}

// RefundRequest is the request body for an admin-initiated refund.
// A nil amount refunds the full transaction.
type RefundRequest struct {
	TransactionID string `json:"transaction_id" binding:"required,uuid"`
	Amount        *int64 `json:"amount,omitempty" binding:"omitempty,gt=0"`
	Reason        string `json:"reason" binding:"required,oneof=admin_request customer_request duplicate fraudulent"`
}

// SettingRequest is the request body for writing one configuration key.
type SettingRequest struct {
	Value string `json:"value" binding:"required,max=1024"`
}

// OrderResponse is the provider-side order handle returned to the client.
type OrderResponse struct {
	Gateway     string `json:"gateway"`
	ProviderRef string `json:"provider_ref"`
	CheckoutURL string `json:"checkout_url,omitempty"`
}

// TransactionResponse is the client view of one ledger entry.
type TransactionResponse struct {
	ID                   string  `json:"id"`
	Type                 string  `json:"type"`
	Gateway              string  `json:"gateway"`
	GatewayTransactionID *string `json:"gateway_transaction_id,omitempty"`
	Amount               int64   `json:"amount"`
	Currency             string  `json:"currency"`
	Status               string  `json:"status"`
	PlanID               *string `json:"plan_id,omitempty"`
	CreditPackageID      *string `json:"credit_package_id,omitempty"`
	CreditsAwarded       int64   `json:"credits_awarded"`
	Description          string  `json:"description,omitempty"`
	CreatedAt            string  `json:"created_at"`
	CompletedAt          *string `json:"completed_at,omitempty"`
}

// SubscriptionResponse is the client view of the caller's subscription.
type SubscriptionResponse struct {
	ID                 string `json:"id"`
	PlanID             string `json:"plan_id"`
	Status             string `json:"status"`
	Gateway            string `json:"gateway,omitempty"`
	CurrentPeriodStart string `json:"current_period_start"`
	CurrentPeriodEnd   string `json:"current_period_end"`
	CancelAtPeriodEnd  bool   `json:"cancel_at_period_end"`
	CreatedAt          string `json:"created_at"`
}

// RefundResponse is the admin view of one refund.
type RefundResponse struct {
	ID              string  `json:"id"`
	TransactionID   string  `json:"transaction_id"`
	Gateway         string  `json:"gateway"`
	GatewayRefundID *string `json:"gateway_refund_id,omitempty"`
	Amount          int64   `json:"amount"`
	Currency        string  `json:"currency"`
	Reason          string  `json:"reason"`
	InitiatedBy     string  `json:"initiated_by"`
	Status          string  `json:"status"`
	CreditsReversed int64   `json:"credits_reversed"`
	CreatedAt       string  `json:"created_at"`
	CompletedAt     *string `json:"completed_at,omitempty"`
}

// QueueItemResponse is the admin view of one dead-letter item. The raw
// payload is deliberately omitted; it may hold provider PII.
type QueueItemResponse struct {
	ID           string  `json:"id"`
	Gateway      string  `json:"gateway"`
	EventType    string  `json:"event_type"`
	EventID      string  `json:"event_id"`
	Status       string  `json:"status"`
	AttemptCount int     `json:"attempt_count"`
	MaxAttempts  int     `json:"max_attempts"`
	LastError    *string `json:"last_error,omitempty"`
	ReceivedAt   string  `json:"received_at"`
	NextRetryAt  string  `json:"next_retry_at"`
	ExpiresAt    string  `json:"expires_at"`
}

// AuditEntryResponse is the admin view of one audit trail entry.
type AuditEntryResponse struct {
	ID            string         `json:"id"`
	Action        string         `json:"action"`
	Gateway       string         `json:"gateway,omitempty"`
	UserID        *string        `json:"user_id,omitempty"`
	TransactionID *string        `json:"transaction_id,omitempty"`
	Details       map[string]any `json:"details,omitempty"`
	CreatedAt     string         `json:"created_at"`
}

// SettingResponse is the resolved value of one configuration key.
type SettingResponse struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// TransactionListResponse wraps a paginated transaction list.
type TransactionListResponse struct {
	Items      []TransactionResponse `json:"items"`
	Total      int64                 `json:"total"`
	Page       int                   `json:"page"`
	PageSize   int                   `json:"page_size"`
	TotalPages int                   `json:"total_pages"`
}

// QueueListResponse wraps a paginated dead-letter list.
type QueueListResponse struct {
	Items      []QueueItemResponse `json:"items"`
	Total      int64               `json:"total"`
	Page       int                 `json:"page"`
	PageSize   int                 `json:"page_size"`
	TotalPages int                 `json:"total_pages"`
}

// AuditListResponse wraps a paginated audit trail query.
type AuditListResponse struct {
	Items      []AuditEntryResponse `json:"items"`
	Total      int64                `json:"total"`
	Page       int                  `json:"page"`
	PageSize   int                  `json:"page_size"`
	TotalPages int                  `json:"total_pages"`
}
