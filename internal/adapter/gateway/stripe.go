package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"payment-reconciler/internal/core/domain"
	"payment-reconciler/internal/core/ports"
	"payment-reconciler/pkg/apperror"
)

const (
	stripeDefaultBaseURL = "https://api.stripe.com"

	// stripeTolerance bounds how old a signed timestamp may be before the
	// event is rejected as a possible replay.
	stripeTolerance = 5 * time.Minute
)

// StripeAdapter verifies and normalizes Stripe webhook events and drives
// the Checkout Sessions API.
type StripeAdapter struct {
	settings ports.SettingsService
	client   *http.Client
	log      zerolog.Logger
}

func NewStripeAdapter(settings ports.SettingsService, client *http.Client, log zerolog.Logger) *StripeAdapter {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &StripeAdapter{
		settings: settings,
		client:   client,
		log:      log.With().Str("gateway", string(domain.GatewayStripe)).Logger(),
	}
}

func (a *StripeAdapter) Name() domain.Gateway { return domain.GatewayStripe }

// Verify checks the Stripe-Signature header: HMAC-SHA256 over
// "<timestamp>.<raw body>" with the endpoint secret, any v1 candidate may
// match. The timestamp must be within tolerance.
func (a *StripeAdapter) Verify(ctx context.Context, rawBody []byte, headers http.Header) error {
	creds, err := a.settings.Gateway(ctx, domain.GatewayStripe)
	if err != nil {
		return err
	}
	if creds.WebhookSecret == "" {
		return apperror.ErrSecretNotConfigured(string(domain.GatewayStripe))
	}

	header := headers.Get("Stripe-Signature")
	if header == "" {
		return apperror.ErrInvalidSignature()
	}

	var ts string
	var candidates []string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts = v
		case "v1":
			candidates = append(candidates, v)
		}
	}
	if ts == "" || len(candidates) == 0 {
		return apperror.ErrInvalidSignature()
	}

	tsUnix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return apperror.ErrInvalidSignature()
	}
	age := time.Since(time.Unix(tsUnix, 0))
	if age > stripeTolerance || age < -stripeTolerance {
		return apperror.ErrInvalidSignature()
	}

	signed := make([]byte, 0, len(ts)+1+len(rawBody))
	signed = append(signed, ts...)
	signed = append(signed, '.')
	signed = append(signed, rawBody...)
	for _, candidate := range candidates {
		if verifyHMAC(sha256.New, []byte(creds.WebhookSecret), signed, candidate) {
			return nil
		}
	}
	return apperror.ErrInvalidSignature()
}

type stripeEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object stripeObject `json:"object"`
	} `json:"data"`
}

// stripeObject is the superset of the event payload fields we read across
// sessions, invoices, subscriptions, charges, and disputes.
type stripeObject struct {
	ID             string           `json:"id"`
	PaymentIntent  string           `json:"payment_intent"`
	Subscription   string           `json:"subscription"`
	Charge         string           `json:"charge"`
	AmountTotal    int64            `json:"amount_total"`
	AmountPaid     int64            `json:"amount_paid"`
	AmountRefunded int64            `json:"amount_refunded"`
	Currency       string           `json:"currency"`
	BillingReason  string           `json:"billing_reason"`
	Reason         string           `json:"reason"`
	Metadata       providerMetadata `json:"metadata"`
}

func (a *StripeAdapter) Normalize(rawBody []byte) (*domain.CanonicalEvent, error) {
	var ev stripeEvent
	if err := json.Unmarshal(rawBody, &ev); err != nil {
		return nil, apperror.Validation("malformed stripe event payload")
	}
	if ev.ID == "" || ev.Type == "" {
		return nil, apperror.Validation("stripe event missing id or type")
	}

	obj := ev.Data.Object
	out := &domain.CanonicalEvent{
		Gateway:   domain.GatewayStripe,
		EventType: ev.Type,
		EventID:   ev.ID,
		Raw:       rawBody,
	}

	switch ev.Type {
	case "checkout.session.completed":
		out.ExternalRef = firstNonEmpty(obj.PaymentIntent, obj.ID)
		out.Data.SubscriptionRef = obj.Subscription
		out.Data.Amount = obj.AmountTotal
		out.Data.Currency = obj.Currency
		obj.Metadata.apply(&out.Data)
	case "invoice.paid", "invoice.payment_failed":
		out.ExternalRef = obj.ID
		out.Data.SubscriptionRef = obj.Subscription
		out.Data.Amount = obj.AmountPaid
		out.Data.Currency = obj.Currency
		out.Data.Reason = obj.BillingReason
	case "customer.subscription.deleted":
		out.ExternalRef = obj.ID
		out.Data.SubscriptionRef = obj.ID
	case "charge.refunded":
		out.ExternalRef = firstNonEmpty(obj.PaymentIntent, obj.ID)
		out.Data.Amount = obj.AmountRefunded
		out.Data.Currency = obj.Currency
	case "charge.dispute.created":
		out.ExternalRef = firstNonEmpty(obj.PaymentIntent, obj.Charge)
		out.Data.DisputeID = obj.ID
		out.Data.Amount = obj.AmountTotal
		out.Data.Reason = obj.Reason
	default:
		out.ExternalRef = obj.ID
	}
	return out, nil
}

// Initiate creates a Checkout Session and returns its id plus the hosted
// payment page URL.
func (a *StripeAdapter) Initiate(ctx context.Context, req ports.InitiateRequest) (*ports.InitiateResult, error) {
	creds, err := a.settings.Gateway(ctx, domain.GatewayStripe)
	if err != nil {
		return nil, err
	}

	mode := "payment"
	if req.Type == domain.TransactionTypeSubscription {
		mode = "subscription"
	}
	meta := metadataFor(req)

	form := url.Values{}
	form.Set("mode", mode)
	form.Set("client_reference_id", firstNonEmpty(req.Reference, req.UserID.String()))
	form.Set("success_url", req.SuccessURL)
	form.Set("cancel_url", req.CancelURL)
	form.Set("line_items[0][quantity]", "1")
	form.Set("line_items[0][price_data][currency]", req.Currency)
	form.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(req.Amount, 10))
	form.Set("line_items[0][price_data][product_data][name]", req.Description)
	form.Set("metadata[user_id]", meta.UserID)
	form.Set("metadata[type]", meta.Type)
	if meta.PlanID != "" {
		form.Set("metadata[plan_id]", meta.PlanID)
	}
	if meta.CreditPackageID != "" {
		form.Set("metadata[credit_package_id]", meta.CreditPackageID)
	}
	if req.Credits > 0 {
		form.Set("metadata[credits]", strconv.FormatInt(req.Credits, 10))
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+creds.APISecret)
	header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, status, err := doRequest(ctx, a.client, domain.GatewayStripe, http.MethodPost,
		a.baseURL(creds)+"/v1/checkout/sessions", header, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, gatewayStatusErr(domain.GatewayStripe, fmt.Errorf("create checkout session returned %d", status))
	}

	var out struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, gatewayStatusErr(domain.GatewayStripe, err)
	}
	return &ports.InitiateResult{ProviderRef: out.ID, CheckoutURL: out.URL}, nil
}

// FetchStatus reads back a Checkout Session by id.
func (a *StripeAdapter) FetchStatus(ctx context.Context, externalRef string) (*ports.GatewayStatus, error) {
	creds, err := a.settings.Gateway(ctx, domain.GatewayStripe)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+creds.APISecret)

	body, status, err := doRequest(ctx, a.client, domain.GatewayStripe, http.MethodGet,
		a.baseURL(creds)+"/v1/checkout/sessions/"+url.PathEscape(externalRef), header, nil)
	if err != nil {
		return nil, err
	}
	switch {
	case status == http.StatusNotFound:
		return nil, apperror.ErrNotFound("checkout session")
	case status != http.StatusOK:
		return nil, gatewayStatusErr(domain.GatewayStripe, fmt.Errorf("fetch checkout session returned %d", status))
	}

	var out struct {
		ID            string           `json:"id"`
		PaymentIntent string           `json:"payment_intent"`
		PaymentStatus string           `json:"payment_status"`
		AmountTotal   int64            `json:"amount_total"`
		Currency      string           `json:"currency"`
		Subscription  string           `json:"subscription"`
		Metadata      providerMetadata `json:"metadata"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, gatewayStatusErr(domain.GatewayStripe, err)
	}

	st := &ports.GatewayStatus{
		ExternalRef: firstNonEmpty(out.PaymentIntent, out.ID),
		Status:      out.PaymentStatus,
		Paid:        out.PaymentStatus == "paid",
		Amount:      out.AmountTotal,
		Currency:    out.Currency,
	}
	out.Metadata.apply(&st.Data)
	st.Data.SubscriptionRef = out.Subscription
	st.Data.Amount = out.AmountTotal
	st.Data.Currency = out.Currency
	return st, nil
}

// CancelSubscription cancels a Stripe subscription immediately.
func (a *StripeAdapter) CancelSubscription(ctx context.Context, externalSubID string) error {
	creds, err := a.settings.Gateway(ctx, domain.GatewayStripe)
	if err != nil {
		return err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+creds.APISecret)

	_, status, err := doRequest(ctx, a.client, domain.GatewayStripe, http.MethodDelete,
		a.baseURL(creds)+"/v1/subscriptions/"+url.PathEscape(externalSubID), header, nil)
	if err != nil {
		return err
	}
	switch {
	case status == http.StatusNotFound:
		return apperror.ErrNotFound("subscription")
	case status != http.StatusOK:
		return gatewayStatusErr(domain.GatewayStripe, fmt.Errorf("cancel subscription returned %d", status))
	}
	return nil
}

func (a *StripeAdapter) baseURL(creds ports.GatewayCredentials) string {
	if creds.BaseURL != "" {
		return creds.BaseURL
	}
	return stripeDefaultBaseURL
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
