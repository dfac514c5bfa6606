package gateway

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"payment-reconciler/internal/core/domain"
	"payment-reconciler/internal/core/ports"
	"payment-reconciler/pkg/apperror"
)

const razorpayDefaultBaseURL = "https://api.razorpay.com"

// RazorpayAdapter verifies and normalizes Razorpay webhook events and
// drives the Orders and Subscriptions APIs.
type RazorpayAdapter struct {
	settings ports.SettingsService
	client   *http.Client
	log      zerolog.Logger
}

func NewRazorpayAdapter(settings ports.SettingsService, client *http.Client, log zerolog.Logger) *RazorpayAdapter {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &RazorpayAdapter{
		settings: settings,
		client:   client,
		log:      log.With().Str("gateway", string(domain.GatewayRazorpay)).Logger(),
	}
}

func (a *RazorpayAdapter) Name() domain.Gateway { return domain.GatewayRazorpay }

// Verify checks X-Razorpay-Signature: HMAC-SHA256 over the raw body with
// the webhook secret.
func (a *RazorpayAdapter) Verify(ctx context.Context, rawBody []byte, headers http.Header) error {
	creds, err := a.settings.Gateway(ctx, domain.GatewayRazorpay)
	if err != nil {
		return err
	}
	if creds.WebhookSecret == "" {
		return apperror.ErrSecretNotConfigured(string(domain.GatewayRazorpay))
	}

	signature := headers.Get("X-Razorpay-Signature")
	if signature == "" {
		return apperror.ErrInvalidSignature()
	}
	if !verifyHMAC(sha256.New, []byte(creds.WebhookSecret), rawBody, signature) {
		return apperror.ErrInvalidSignature()
	}
	return nil
}

type razorpayPayment struct {
	ID       string           `json:"id"`
	Amount   int64            `json:"amount"`
	Currency string           `json:"currency"`
	OrderID  string           `json:"order_id"`
	Notes    providerMetadata `json:"notes"`
}

type razorpaySubscription struct {
	ID     string           `json:"id"`
	PlanID string           `json:"plan_id"`
	Status string           `json:"status"`
	Notes  providerMetadata `json:"notes"`
}

type razorpayRefund struct {
	ID        string `json:"id"`
	PaymentID string `json:"payment_id"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
}

type razorpayDispute struct {
	ID         string `json:"id"`
	PaymentID  string `json:"payment_id"`
	Amount     int64  `json:"amount"`
	ReasonCode string `json:"reason_code"`
}

type razorpayEvent struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity razorpayPayment `json:"entity"`
		} `json:"payment"`
		Subscription struct {
			Entity razorpaySubscription `json:"entity"`
		} `json:"subscription"`
		Refund struct {
			Entity razorpayRefund `json:"entity"`
		} `json:"refund"`
		Dispute struct {
			Entity razorpayDispute `json:"entity"`
		} `json:"dispute"`
	} `json:"payload"`
}

// Normalize maps a Razorpay event. Razorpay does not put an event id in
// the body, so the canonical id is derived from the event type and the
// primary entity reference.
func (a *RazorpayAdapter) Normalize(rawBody []byte) (*domain.CanonicalEvent, error) {
	var ev razorpayEvent
	if err := json.Unmarshal(rawBody, &ev); err != nil {
		return nil, apperror.Validation("malformed razorpay event payload")
	}
	if ev.Event == "" {
		return nil, apperror.Validation("razorpay event missing event type")
	}

	out := &domain.CanonicalEvent{
		Gateway:   domain.GatewayRazorpay,
		EventType: ev.Event,
		Raw:       rawBody,
	}
	pay := ev.Payload.Payment.Entity
	sub := ev.Payload.Subscription.Entity

	switch ev.Event {
	case "payment.captured":
		out.ExternalRef = firstNonEmpty(pay.OrderID, pay.ID)
		out.Data.Amount = pay.Amount
		out.Data.Currency = pay.Currency
		pay.Notes.apply(&out.Data)
	case "payment.failed":
		out.ExternalRef = firstNonEmpty(pay.OrderID, pay.ID)
		out.Data.Amount = pay.Amount
		out.Data.Currency = pay.Currency
		out.Data.SubscriptionRef = sub.ID
		pay.Notes.apply(&out.Data)
	case "subscription.charged":
		out.ExternalRef = pay.ID
		out.Data.SubscriptionRef = sub.ID
		out.Data.Amount = pay.Amount
		out.Data.Currency = pay.Currency
	case "subscription.activated":
		out.ExternalRef = sub.ID
		out.Data.SubscriptionRef = sub.ID
		out.Data.PlanID = sub.PlanID
		sub.Notes.apply(&out.Data)
	case "subscription.cancelled", "subscription.halted":
		out.ExternalRef = sub.ID
		out.Data.SubscriptionRef = sub.ID
	case "refund.processed":
		ref := ev.Payload.Refund.Entity
		out.ExternalRef = firstNonEmpty(pay.OrderID, ref.PaymentID)
		out.Data.Amount = ref.Amount
		out.Data.Currency = ref.Currency
	case "payment.dispute.created":
		d := ev.Payload.Dispute.Entity
		out.ExternalRef = firstNonEmpty(pay.OrderID, d.PaymentID)
		out.Data.DisputeID = d.ID
		out.Data.Amount = d.Amount
		out.Data.Reason = d.ReasonCode
	default:
		out.ExternalRef = firstNonEmpty(pay.OrderID, pay.ID, sub.ID)
	}
	out.EventID = ev.Event + ":" + out.ExternalRef
	return out, nil
}

// Initiate creates an order for one-time payments or a subscription for
// recurring plans. Subscriptions assume the Razorpay plan id matches ours.
func (a *RazorpayAdapter) Initiate(ctx context.Context, req ports.InitiateRequest) (*ports.InitiateResult, error) {
	creds, err := a.settings.Gateway(ctx, domain.GatewayRazorpay)
	if err != nil {
		return nil, err
	}

	meta := metadataFor(req)
	if req.Credits > 0 {
		meta.Credits = json.Number(fmt.Sprintf("%d", req.Credits))
	}

	var path string
	var payload any
	if req.Type == domain.TransactionTypeSubscription {
		path = "/v1/subscriptions"
		payload = map[string]any{
			"plan_id":     req.PlanID,
			"total_count": 120,
			"notes":       meta,
		}
	} else {
		path = "/v1/orders"
		payload = map[string]any{
			"amount":   req.Amount,
			"currency": req.Currency,
			"receipt":  req.Reference,
			"notes":    meta,
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	respBody, status, err := doRequest(ctx, a.client, domain.GatewayRazorpay, http.MethodPost,
		a.baseURL(creds)+path, a.authHeader(creds), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, gatewayStatusErr(domain.GatewayRazorpay, fmt.Errorf("initiate returned %d", status))
	}

	var out struct {
		ID       string `json:"id"`
		ShortURL string `json:"short_url"`
	}
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, gatewayStatusErr(domain.GatewayRazorpay, err)
	}
	return &ports.InitiateResult{ProviderRef: out.ID, CheckoutURL: out.ShortURL}, nil
}

// FetchStatus reads back an order by id.
func (a *RazorpayAdapter) FetchStatus(ctx context.Context, externalRef string) (*ports.GatewayStatus, error) {
	creds, err := a.settings.Gateway(ctx, domain.GatewayRazorpay)
	if err != nil {
		return nil, err
	}

	body, status, err := doRequest(ctx, a.client, domain.GatewayRazorpay, http.MethodGet,
		a.baseURL(creds)+"/v1/orders/"+url.PathEscape(externalRef), a.authHeader(creds), nil)
	if err != nil {
		return nil, err
	}
	switch {
	case status == http.StatusNotFound || status == http.StatusBadRequest:
		return nil, apperror.ErrNotFound("order")
	case status != http.StatusOK:
		return nil, gatewayStatusErr(domain.GatewayRazorpay, fmt.Errorf("fetch order returned %d", status))
	}

	var out struct {
		ID       string           `json:"id"`
		Status   string           `json:"status"`
		Amount   int64            `json:"amount"`
		Currency string           `json:"currency"`
		Notes    providerMetadata `json:"notes"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, gatewayStatusErr(domain.GatewayRazorpay, err)
	}

	st := &ports.GatewayStatus{
		ExternalRef: out.ID,
		Status:      out.Status,
		Paid:        out.Status == "paid",
		Amount:      out.Amount,
		Currency:    out.Currency,
	}
	out.Notes.apply(&st.Data)
	st.Data.Amount = out.Amount
	st.Data.Currency = out.Currency
	return st, nil
}

// CancelSubscription cancels a Razorpay subscription immediately.
func (a *RazorpayAdapter) CancelSubscription(ctx context.Context, externalSubID string) error {
	creds, err := a.settings.Gateway(ctx, domain.GatewayRazorpay)
	if err != nil {
		return err
	}

	payload := bytes.NewReader([]byte(`{"cancel_at_cycle_end":0}`))
	header := a.authHeader(creds)
	header.Set("Content-Type", "application/json")

	_, status, err := doRequest(ctx, a.client, domain.GatewayRazorpay, http.MethodPost,
		a.baseURL(creds)+"/v1/subscriptions/"+url.PathEscape(externalSubID)+"/cancel", header, payload)
	if err != nil {
		return err
	}
	switch {
	case status == http.StatusNotFound || status == http.StatusBadRequest:
		return apperror.ErrNotFound("subscription")
	case status != http.StatusOK:
		return gatewayStatusErr(domain.GatewayRazorpay, fmt.Errorf("cancel subscription returned %d", status))
	}
	return nil
}

func (a *RazorpayAdapter) authHeader(creds ports.GatewayCredentials) http.Header {
	header := http.Header{}
	basic := base64.StdEncoding.EncodeToString([]byte(creds.APIKey + ":" + creds.APISecret))
	header.Set("Authorization", "Basic "+basic)
	header.Set("Content-Type", "application/json")
	return header
}

func (a *RazorpayAdapter) baseURL(creds ports.GatewayCredentials) string {
	if creds.BaseURL != "" {
		return creds.BaseURL
	}
	return razorpayDefaultBaseURL
}
