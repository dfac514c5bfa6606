package gateway

import (
	"bytes"
	"context"
	"crypto/sha512"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"payment-reconciler/internal/core/domain"
	"payment-reconciler/internal/core/ports"
	"payment-reconciler/pkg/apperror"
)

const paystackDefaultBaseURL = "https://api.paystack.co"

// PaystackAdapter verifies and normalizes Paystack webhook events and
// drives the Transactions and Subscriptions APIs. Paystack signs webhooks
// with the account secret key, which is configured as the webhook secret.
type PaystackAdapter struct {
	settings ports.SettingsService
	client   *http.Client
	log      zerolog.Logger
}

func NewPaystackAdapter(settings ports.SettingsService, client *http.Client, log zerolog.Logger) *PaystackAdapter {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &PaystackAdapter{
		settings: settings,
		client:   client,
		log:      log.With().Str("gateway", string(domain.GatewayPaystack)).Logger(),
	}
}

func (a *PaystackAdapter) Name() domain.Gateway { return domain.GatewayPaystack }

// Verify checks x-paystack-signature: HMAC-SHA512 over the raw body.
func (a *PaystackAdapter) Verify(ctx context.Context, rawBody []byte, headers http.Header) error {
	creds, err := a.settings.Gateway(ctx, domain.GatewayPaystack)
	if err != nil {
		return err
	}
	if creds.WebhookSecret == "" {
		return apperror.ErrSecretNotConfigured(string(domain.GatewayPaystack))
	}

	signature := headers.Get("x-paystack-signature")
	if signature == "" {
		return apperror.ErrInvalidSignature()
	}
	if !verifyHMAC(sha512.New, []byte(creds.WebhookSecret), rawBody, signature) {
		return apperror.ErrInvalidSignature()
	}
	return nil
}

type paystackEvent struct {
	Event string `json:"event"`
	Data  struct {
		ID               int64           `json:"id"`
		Reference        string          `json:"reference"`
		Amount           int64           `json:"amount"`
		Currency         string          `json:"currency"`
		Status           string          `json:"status"`
		Metadata         json.RawMessage `json:"metadata"`
		SubscriptionCode string          `json:"subscription_code"`
		Plan             struct {
			PlanCode string `json:"plan_code"`
			Interval string `json:"interval"`
		} `json:"plan"`
		Subscription struct {
			SubscriptionCode string `json:"subscription_code"`
		} `json:"subscription"`
		Transaction struct {
			Reference string `json:"reference"`
		} `json:"transaction"`
		TransactionReference string `json:"transaction_reference"`
		Category             string `json:"category"`
	} `json:"data"`
}

// paystackMetadata parses the metadata block, which Paystack delivers as
// an object normally but as an empty string when it was never set.
func paystackMetadata(raw json.RawMessage, d *domain.EventData) {
	if len(raw) == 0 || raw[0] != '{' {
		return
	}
	var meta providerMetadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return
	}
	meta.apply(d)
}

func paystackPeriod(interval string) domain.BillingPeriod {
	switch interval {
	case "annually", "yearly":
		return domain.BillingPeriodYearly
	case "monthly":
		return domain.BillingPeriodMonthly
	default:
		return ""
	}
}

func (a *PaystackAdapter) Normalize(rawBody []byte) (*domain.CanonicalEvent, error) {
	var ev paystackEvent
	if err := json.Unmarshal(rawBody, &ev); err != nil {
		return nil, apperror.Validation("malformed paystack event payload")
	}
	if ev.Event == "" {
		return nil, apperror.Validation("paystack event missing event type")
	}

	d := ev.Data
	out := &domain.CanonicalEvent{
		Gateway:   domain.GatewayPaystack,
		EventType: ev.Event,
		Raw:       rawBody,
	}

	switch ev.Event {
	case "charge.success":
		out.ExternalRef = d.Reference
		out.Data.Amount = d.Amount
		out.Data.Currency = d.Currency
		paystackMetadata(d.Metadata, &out.Data)
		if d.Plan.PlanCode != "" {
			out.Data.SubscriptionRef = d.SubscriptionCode
			if out.Data.PlanID == "" {
				out.Data.PlanID = d.Plan.PlanCode
			}
			if out.Data.BillingPeriod == "" {
				out.Data.BillingPeriod = paystackPeriod(d.Plan.Interval)
			}
		}
	case "subscription.create":
		out.ExternalRef = d.SubscriptionCode
		out.Data.SubscriptionRef = d.SubscriptionCode
		paystackMetadata(d.Metadata, &out.Data)
		if out.Data.PlanID == "" {
			out.Data.PlanID = d.Plan.PlanCode
		}
		if out.Data.BillingPeriod == "" {
			out.Data.BillingPeriod = paystackPeriod(d.Plan.Interval)
		}
	case "invoice.payment_succeeded":
		out.ExternalRef = firstNonEmpty(d.Transaction.Reference, d.TransactionReference, d.Reference)
		out.Data.SubscriptionRef = firstNonEmpty(d.Subscription.SubscriptionCode, d.SubscriptionCode)
		out.Data.Amount = d.Amount
		out.Data.Currency = d.Currency
	case "invoice.payment_failed":
		out.ExternalRef = d.Reference
		out.Data.SubscriptionRef = firstNonEmpty(d.Subscription.SubscriptionCode, d.SubscriptionCode)
	case "subscription.disable", "subscription.not_renew":
		out.ExternalRef = d.SubscriptionCode
		out.Data.SubscriptionRef = d.SubscriptionCode
	case "refund.processed":
		out.ExternalRef = firstNonEmpty(d.TransactionReference, d.Transaction.Reference)
		out.Data.Amount = d.Amount
		out.Data.Currency = d.Currency
	case "charge.dispute.create":
		out.ExternalRef = d.Transaction.Reference
		out.Data.DisputeID = strconv.FormatInt(d.ID, 10)
		out.Data.Reason = d.Category
		out.Data.Amount = d.Amount
	default:
		out.ExternalRef = firstNonEmpty(d.Reference, d.SubscriptionCode)
	}
	out.EventID = ev.Event + ":" + out.ExternalRef
	return out, nil
}

type paystackEnvelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Initiate starts a transaction via the initialize API. Subscription plans
// ride along as the Paystack plan code; Paystack then charges on schedule.
func (a *PaystackAdapter) Initiate(ctx context.Context, req ports.InitiateRequest) (*ports.InitiateResult, error) {
	creds, err := a.settings.Gateway(ctx, domain.GatewayPaystack)
	if err != nil {
		return nil, err
	}

	meta := metadataFor(req)
	if req.Credits > 0 {
		meta.Credits = json.Number(strconv.FormatInt(req.Credits, 10))
	}

	payload := map[string]any{
		"email":        req.Email,
		"amount":       req.Amount,
		"currency":     req.Currency,
		"reference":    req.Reference,
		"callback_url": req.SuccessURL,
		"metadata":     meta,
	}
	if req.Type == domain.TransactionTypeSubscription {
		payload["plan"] = req.PlanID
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	respBody, status, err := doRequest(ctx, a.client, domain.GatewayPaystack, http.MethodPost,
		a.baseURL(creds)+"/transaction/initialize", a.authHeader(creds), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, gatewayStatusErr(domain.GatewayPaystack, fmt.Errorf("initialize returned %d", status))
	}

	var env paystackEnvelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return nil, gatewayStatusErr(domain.GatewayPaystack, err)
	}
	if !env.Status {
		return nil, gatewayStatusErr(domain.GatewayPaystack, fmt.Errorf("initialize rejected: %s", env.Message))
	}

	var data struct {
		AuthorizationURL string `json:"authorization_url"`
		Reference        string `json:"reference"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, gatewayStatusErr(domain.GatewayPaystack, err)
	}
	return &ports.InitiateResult{
		ProviderRef: firstNonEmpty(data.Reference, req.Reference),
		CheckoutURL: data.AuthorizationURL,
	}, nil
}

// FetchStatus verifies a transaction by reference.
func (a *PaystackAdapter) FetchStatus(ctx context.Context, externalRef string) (*ports.GatewayStatus, error) {
	creds, err := a.settings.Gateway(ctx, domain.GatewayPaystack)
	if err != nil {
		return nil, err
	}

	respBody, status, err := doRequest(ctx, a.client, domain.GatewayPaystack, http.MethodGet,
		a.baseURL(creds)+"/transaction/verify/"+url.PathEscape(externalRef), a.authHeader(creds), nil)
	if err != nil {
		return nil, err
	}
	switch {
	case status == http.StatusNotFound:
		return nil, apperror.ErrNotFound("transaction")
	case status != http.StatusOK:
		return nil, gatewayStatusErr(domain.GatewayPaystack, fmt.Errorf("verify returned %d", status))
	}

	var env paystackEnvelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return nil, gatewayStatusErr(domain.GatewayPaystack, err)
	}
	if !env.Status {
		return nil, apperror.ErrNotFound("transaction")
	}

	var data struct {
		Reference string          `json:"reference"`
		Status    string          `json:"status"`
		Amount    int64           `json:"amount"`
		Currency  string          `json:"currency"`
		Metadata  json.RawMessage `json:"metadata"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, gatewayStatusErr(domain.GatewayPaystack, err)
	}

	st := &ports.GatewayStatus{
		ExternalRef: data.Reference,
		Status:      data.Status,
		Paid:        data.Status == "success",
		Amount:      data.Amount,
		Currency:    data.Currency,
	}
	paystackMetadata(data.Metadata, &st.Data)
	st.Data.Amount = data.Amount
	st.Data.Currency = data.Currency
	return st, nil
}

// CancelSubscription disables a Paystack subscription by code.
func (a *PaystackAdapter) CancelSubscription(ctx context.Context, externalSubID string) error {
	creds, err := a.settings.Gateway(ctx, domain.GatewayPaystack)
	if err != nil {
		return err
	}

	body, err := json.Marshal(map[string]string{"code": externalSubID})
	if err != nil {
		return err
	}

	respBody, status, err := doRequest(ctx, a.client, domain.GatewayPaystack, http.MethodPost,
		a.baseURL(creds)+"/subscription/disable", a.authHeader(creds), bytes.NewReader(body))
	if err != nil {
		return err
	}
	switch {
	case status == http.StatusNotFound:
		return apperror.ErrNotFound("subscription")
	case status != http.StatusOK:
		return gatewayStatusErr(domain.GatewayPaystack, fmt.Errorf("subscription disable returned %d", status))
	}

	var env paystackEnvelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return gatewayStatusErr(domain.GatewayPaystack, err)
	}
	if !env.Status {
		return apperror.ErrNotFound("subscription")
	}
	return nil
}

func (a *PaystackAdapter) authHeader(creds ports.GatewayCredentials) http.Header {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+creds.APISecret)
	header.Set("Content-Type", "application/json")
	return header
}

func (a *PaystackAdapter) baseURL(creds ports.GatewayCredentials) string {
	if creds.BaseURL != "" {
		return creds.BaseURL
	}
	return paystackDefaultBaseURL
}
