package gateway

import (
	"bytes"
	"context"
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

const paypalDefaultBaseURL = "https://api-m.paypal.com"

// PayPalAdapter verifies webhooks through PayPal's remote verification API
// and drives the Orders and Billing Subscriptions APIs. All calls carry
// the pooled OAuth2 bearer token; a 401 invalidates the pool and the call
// is retried once with a fresh token.
type PayPalAdapter struct {
	settings ports.SettingsService
	pool     *ClientPool
	client   *http.Client
	log      zerolog.Logger
}

func NewPayPalAdapter(settings ports.SettingsService, pool *ClientPool, client *http.Client, log zerolog.Logger) *PayPalAdapter {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &PayPalAdapter{
		settings: settings,
		pool:     pool,
		client:   client,
		log:      log.With().Str("gateway", string(domain.GatewayPayPal)).Logger(),
	}
}

func (a *PayPalAdapter) Name() domain.Gateway { return domain.GatewayPayPal }

// Verify posts the transmission headers and raw event to PayPal's
// verify-webhook-signature endpoint. The configured webhook id plays the
// role of the shared secret; without it verification refuses up front.
func (a *PayPalAdapter) Verify(ctx context.Context, rawBody []byte, headers http.Header) error {
	creds, err := a.settings.Gateway(ctx, domain.GatewayPayPal)
	if err != nil {
		return err
	}
	if creds.WebhookSecret == "" {
		return apperror.ErrSecretNotConfigured(string(domain.GatewayPayPal))
	}

	transmissionID := headers.Get("Paypal-Transmission-Id")
	transmissionSig := headers.Get("Paypal-Transmission-Sig")
	transmissionTime := headers.Get("Paypal-Transmission-Time")
	certURL := headers.Get("Paypal-Cert-Url")
	authAlgo := headers.Get("Paypal-Auth-Algo")
	if transmissionID == "" || transmissionSig == "" || transmissionTime == "" {
		return apperror.ErrInvalidSignature()
	}

	payload, err := json.Marshal(map[string]any{
		"auth_algo":         authAlgo,
		"cert_url":          certURL,
		"transmission_id":   transmissionID,
		"transmission_sig":  transmissionSig,
		"transmission_time": transmissionTime,
		"webhook_id":        creds.WebhookSecret,
		"webhook_event":     json.RawMessage(rawBody),
	})
	if err != nil {
		return err
	}

	body, status, err := a.doAuthed(ctx, creds, http.MethodPost,
		a.baseURL(creds)+"/v1/notification/verify-webhook-signature", payload)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return gatewayStatusErr(domain.GatewayPayPal, fmt.Errorf("verify-webhook-signature returned %d", status))
	}

	var out struct {
		VerificationStatus string `json:"verification_status"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return gatewayStatusErr(domain.GatewayPayPal, err)
	}
	if out.VerificationStatus != "SUCCESS" {
		return apperror.ErrInvalidSignature()
	}
	return nil
}

type paypalAmount struct {
	Value        string `json:"value"`
	CurrencyCode string `json:"currency_code"`
	Total        string `json:"total"`
	Currency     string `json:"currency"`
}

func (amt paypalAmount) minor() int64 {
	return parseDecimalMinor(firstNonEmpty(amt.Value, amt.Total))
}

func (amt paypalAmount) currency() string {
	return firstNonEmpty(amt.CurrencyCode, amt.Currency)
}

type paypalResource struct {
	ID                 string       `json:"id"`
	Amount             paypalAmount `json:"amount"`
	CustomID           string       `json:"custom_id"`
	Custom             string       `json:"custom"`
	BillingAgreementID string       `json:"billing_agreement_id"`
	PlanID             string       `json:"plan_id"`
	Reason             string       `json:"reason"`
	DisputeID          string       `json:"dispute_id"`
	SupplementaryData  struct {
		RelatedIDs struct {
			OrderID string `json:"order_id"`
		} `json:"related_ids"`
	} `json:"supplementary_data"`
	DisputedTransactions []struct {
		SellerTransactionID string `json:"seller_transaction_id"`
	} `json:"disputed_transactions"`
}

type paypalEvent struct {
	ID        string         `json:"id"`
	EventType string         `json:"event_type"`
	Resource  paypalResource `json:"resource"`
}

func (a *PayPalAdapter) Normalize(rawBody []byte) (*domain.CanonicalEvent, error) {
	var ev paypalEvent
	if err := json.Unmarshal(rawBody, &ev); err != nil {
		return nil, apperror.Validation("malformed paypal event payload")
	}
	if ev.ID == "" || ev.EventType == "" {
		return nil, apperror.Validation("paypal event missing id or event_type")
	}

	res := ev.Resource
	out := &domain.CanonicalEvent{
		Gateway:   domain.GatewayPayPal,
		EventType: ev.EventType,
		EventID:   ev.ID,
		Raw:       rawBody,
	}

	switch ev.EventType {
	case "PAYMENT.CAPTURE.COMPLETED":
		out.ExternalRef = firstNonEmpty(res.SupplementaryData.RelatedIDs.OrderID, res.ID)
		out.Data.Amount = res.Amount.minor()
		out.Data.Currency = res.Amount.currency()
		decodePackedMetadata(firstNonEmpty(res.CustomID, res.Custom), &out.Data)
	case "PAYMENT.SALE.COMPLETED":
		out.ExternalRef = res.ID
		out.Data.SubscriptionRef = res.BillingAgreementID
		out.Data.Amount = res.Amount.minor()
		out.Data.Currency = res.Amount.currency()
		decodePackedMetadata(firstNonEmpty(res.CustomID, res.Custom), &out.Data)
	case "BILLING.SUBSCRIPTION.ACTIVATED":
		out.ExternalRef = res.ID
		out.Data.SubscriptionRef = res.ID
		out.Data.PlanID = res.PlanID
		decodePackedMetadata(firstNonEmpty(res.CustomID, res.Custom), &out.Data)
	case "BILLING.SUBSCRIPTION.CANCELLED", "BILLING.SUBSCRIPTION.SUSPENDED":
		out.ExternalRef = res.ID
		out.Data.SubscriptionRef = res.ID
	case "BILLING.SUBSCRIPTION.PAYMENT.FAILED":
		out.ExternalRef = res.ID
		out.Data.SubscriptionRef = res.ID
	case "PAYMENT.CAPTURE.REFUNDED":
		out.ExternalRef = firstNonEmpty(res.SupplementaryData.RelatedIDs.OrderID, res.ID)
		out.Data.Amount = res.Amount.minor()
		out.Data.Currency = res.Amount.currency()
	case "CUSTOMER.DISPUTE.CREATED":
		ref := ""
		if len(res.DisputedTransactions) > 0 {
			ref = res.DisputedTransactions[0].SellerTransactionID
		}
		out.ExternalRef = ref
		out.Data.DisputeID = firstNonEmpty(res.DisputeID, res.ID)
		out.Data.Reason = res.Reason
	default:
		out.ExternalRef = res.ID
	}
	return out, nil
}

// Initiate creates a checkout order, or a billing subscription for
// recurring plans, and returns the approval link.
func (a *PayPalAdapter) Initiate(ctx context.Context, req ports.InitiateRequest) (*ports.InitiateResult, error) {
	creds, err := a.settings.Gateway(ctx, domain.GatewayPayPal)
	if err != nil {
		return nil, err
	}

	meta := metadataFor(req)
	if req.Credits > 0 {
		meta.Credits = json.Number(fmt.Sprintf("%d", req.Credits))
	}
	customID, err := json.Marshal(meta)
	if err != nil {
		return nil, err
	}

	var path string
	var payload map[string]any
	if req.Type == domain.TransactionTypeSubscription {
		path = "/v1/billing/subscriptions"
		payload = map[string]any{
			"plan_id":   req.PlanID,
			"custom_id": string(customID),
			"application_context": map[string]any{
				"return_url": req.SuccessURL,
				"cancel_url": req.CancelURL,
			},
		}
	} else {
		path = "/v2/checkout/orders"
		payload = map[string]any{
			"intent": "CAPTURE",
			"purchase_units": []map[string]any{{
				"amount": map[string]string{
					"currency_code": req.Currency,
					"value":         formatDecimal(req.Amount),
				},
				"custom_id":   string(customID),
				"description": req.Description,
			}},
			"application_context": map[string]any{
				"return_url": req.SuccessURL,
				"cancel_url": req.CancelURL,
			},
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	respBody, status, err := a.doAuthed(ctx, creds, http.MethodPost, a.baseURL(creds)+path, body)
	if err != nil {
		return nil, err
	}
	if status != http.StatusCreated && status != http.StatusOK {
		return nil, gatewayStatusErr(domain.GatewayPayPal, fmt.Errorf("initiate returned %d", status))
	}

	var out struct {
		ID    string `json:"id"`
		Links []struct {
			Rel  string `json:"rel"`
			Href string `json:"href"`
		} `json:"links"`
	}
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, gatewayStatusErr(domain.GatewayPayPal, err)
	}

	result := &ports.InitiateResult{ProviderRef: out.ID}
	for _, link := range out.Links {
		if link.Rel == "approve" {
			result.CheckoutURL = link.Href
			break
		}
	}
	return result, nil
}

// FetchStatus reads back a checkout order by id.
func (a *PayPalAdapter) FetchStatus(ctx context.Context, externalRef string) (*ports.GatewayStatus, error) {
	creds, err := a.settings.Gateway(ctx, domain.GatewayPayPal)
	if err != nil {
		return nil, err
	}

	body, status, err := a.doAuthed(ctx, creds, http.MethodGet,
		a.baseURL(creds)+"/v2/checkout/orders/"+url.PathEscape(externalRef), nil)
	if err != nil {
		return nil, err
	}
	switch {
	case status == http.StatusNotFound:
		return nil, apperror.ErrNotFound("order")
	case status != http.StatusOK:
		return nil, gatewayStatusErr(domain.GatewayPayPal, fmt.Errorf("fetch order returned %d", status))
	}

	var out struct {
		ID            string `json:"id"`
		Status        string `json:"status"`
		PurchaseUnits []struct {
			Amount   paypalAmount `json:"amount"`
			CustomID string       `json:"custom_id"`
		} `json:"purchase_units"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, gatewayStatusErr(domain.GatewayPayPal, err)
	}

	st := &ports.GatewayStatus{
		ExternalRef: out.ID,
		Status:      out.Status,
		Paid:        out.Status == "COMPLETED",
	}
	if len(out.PurchaseUnits) > 0 {
		unit := out.PurchaseUnits[0]
		st.Amount = unit.Amount.minor()
		st.Currency = unit.Amount.currency()
		decodePackedMetadata(unit.CustomID, &st.Data)
		st.Data.Amount = st.Amount
		st.Data.Currency = st.Currency
	}
	return st, nil
}

// CancelSubscription cancels a billing subscription immediately.
func (a *PayPalAdapter) CancelSubscription(ctx context.Context, externalSubID string) error {
	creds, err := a.settings.Gateway(ctx, domain.GatewayPayPal)
	if err != nil {
		return err
	}

	payload := []byte(`{"reason":"cancelled by account holder"}`)
	_, status, err := a.doAuthed(ctx, creds, http.MethodPost,
		a.baseURL(creds)+"/v1/billing/subscriptions/"+url.PathEscape(externalSubID)+"/cancel", payload)
	if err != nil {
		return err
	}
	switch {
	case status == http.StatusNotFound:
		return apperror.ErrNotFound("subscription")
	case status != http.StatusNoContent && status != http.StatusOK:
		return gatewayStatusErr(domain.GatewayPayPal, fmt.Errorf("cancel subscription returned %d", status))
	}
	return nil
}

// doAuthed performs one API call with the pooled bearer token, refreshing
// it once if the provider answers 401.
func (a *PayPalAdapter) doAuthed(ctx context.Context, creds ports.GatewayCredentials, method, callURL string, payload []byte) ([]byte, int, error) {
	for attempt := 0; attempt < 2; attempt++ {
		token, err := a.pool.Token(ctx)
		if err != nil {
			return nil, 0, err
		}

		header := http.Header{}
		header.Set("Authorization", "Bearer "+token)
		header.Set("Content-Type", "application/json")

		var body *bytes.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		} else {
			body = bytes.NewReader(nil)
		}

		respBody, status, err := doRequest(ctx, a.client, domain.GatewayPayPal, method, callURL, header, body)
		if err != nil {
			return nil, 0, err
		}
		if status == http.StatusUnauthorized && attempt == 0 {
			a.log.Warn().Msg("paypal token rejected, refreshing")
			a.pool.Invalidate()
			continue
		}
		return respBody, status, nil
	}
	return nil, 0, gatewayStatusErr(domain.GatewayPayPal, fmt.Errorf("authorization retry exhausted"))
}

func (a *PayPalAdapter) baseURL(creds ports.GatewayCredentials) string {
	if creds.BaseURL != "" {
		return creds.BaseURL
	}
	return paypalDefaultBaseURL
}
