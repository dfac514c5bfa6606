package gateway

import (
	"bytes"
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

const mercadoPagoDefaultBaseURL = "https://api.mercadopago.com"

// MercadoPagoAdapter verifies and normalizes Mercado Pago notifications
// and drives the Preferences, Payments and Preapproval APIs. Mercado Pago
// notifications are thin (object id only), so the dispatcher enriches them
// through FetchStatus before routing.
type MercadoPagoAdapter struct {
	settings ports.SettingsService
	client   *http.Client
	log      zerolog.Logger
}

func NewMercadoPagoAdapter(settings ports.SettingsService, client *http.Client, log zerolog.Logger) *MercadoPagoAdapter {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &MercadoPagoAdapter{
		settings: settings,
		client:   client,
		log:      log.With().Str("gateway", string(domain.GatewayMercadoPago)).Logger(),
	}
}

func (a *MercadoPagoAdapter) Name() domain.Gateway { return domain.GatewayMercadoPago }

// Verify checks x-signature: HMAC-SHA256 over the manifest
// "id:<data.id>;request-id:<x-request-id>;ts:<ts>;" where ts and v1 come
// from the x-signature header itself.
func (a *MercadoPagoAdapter) Verify(ctx context.Context, rawBody []byte, headers http.Header) error {
	creds, err := a.settings.Gateway(ctx, domain.GatewayMercadoPago)
	if err != nil {
		return err
	}
	if creds.WebhookSecret == "" {
		return apperror.ErrSecretNotConfigured(string(domain.GatewayMercadoPago))
	}

	header := headers.Get("x-signature")
	requestID := headers.Get("x-request-id")
	if header == "" || requestID == "" {
		return apperror.ErrInvalidSignature()
	}

	var ts, v1 string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "ts":
			ts = v
		case "v1":
			v1 = v
		}
	}
	if ts == "" || v1 == "" {
		return apperror.ErrInvalidSignature()
	}

	var body struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rawBody, &body); err != nil || body.Data.ID == "" {
		return apperror.ErrInvalidSignature()
	}

	manifest := fmt.Sprintf("id:%s;request-id:%s;ts:%s;", strings.ToLower(body.Data.ID), requestID, ts)
	if !verifyHMAC(sha256.New, []byte(creds.WebhookSecret), []byte(manifest), v1) {
		return apperror.ErrInvalidSignature()
	}
	return nil
}

type mercadoPagoEvent struct {
	ID     int64  `json:"id"`
	Type   string `json:"type"`
	Action string `json:"action"`
	Data   struct {
		ID string `json:"id"`
	} `json:"data"`
}

func (a *MercadoPagoAdapter) Normalize(rawBody []byte) (*domain.CanonicalEvent, error) {
	var ev mercadoPagoEvent
	if err := json.Unmarshal(rawBody, &ev); err != nil {
		return nil, apperror.Validation("malformed mercadopago notification payload")
	}
	if ev.Type == "" || ev.Data.ID == "" {
		return nil, apperror.Validation("mercadopago notification missing type or data.id")
	}

	out := &domain.CanonicalEvent{
		Gateway:     domain.GatewayMercadoPago,
		EventType:   ev.Type,
		ExternalRef: ev.Data.ID,
		Raw:         rawBody,
	}
	out.Data.Reason = ev.Action
	if ev.Type == "subscription_preapproval" || ev.Type == "chargebacks" {
		out.Data.SubscriptionRef = ev.Data.ID
	}
	if ev.Type == "chargebacks" {
		out.Data.DisputeID = ev.Data.ID
	}
	if ev.ID != 0 {
		out.EventID = strconv.FormatInt(ev.ID, 10)
	} else {
		out.EventID = ev.Type + ":" + ev.Data.ID
	}
	return out, nil
}

// Initiate creates a checkout preference, or a preapproval for recurring
// plans, and returns the init point URL. Metadata for preapprovals rides
// in external_reference since the Preapproval API has no metadata field.
func (a *MercadoPagoAdapter) Initiate(ctx context.Context, req ports.InitiateRequest) (*ports.InitiateResult, error) {
	creds, err := a.settings.Gateway(ctx, domain.GatewayMercadoPago)
	if err != nil {
		return nil, err
	}

	meta := metadataFor(req)
	if req.Credits > 0 {
		meta.Credits = json.Number(strconv.FormatInt(req.Credits, 10))
	}

	var path string
	var payload map[string]any
	if req.Type == domain.TransactionTypeSubscription {
		metaJSON, err := json.Marshal(meta)
		if err != nil {
			return nil, err
		}
		frequencyType := "months"
		if req.BillingPeriod == domain.BillingPeriodYearly {
			frequencyType = "years"
		}
		path = "/preapproval"
		payload = map[string]any{
			"reason":             req.Description,
			"external_reference": string(metaJSON),
			"payer_email":        req.Email,
			"back_url":           req.SuccessURL,
			"auto_recurring": map[string]any{
				"frequency":          1,
				"frequency_type":     frequencyType,
				"transaction_amount": float64(req.Amount) / 100,
				"currency_id":        strings.ToUpper(req.Currency),
			},
		}
	} else {
		path = "/checkout/preferences"
		payload = map[string]any{
			"items": []map[string]any{{
				"title":       req.Description,
				"quantity":    1,
				"unit_price":  float64(req.Amount) / 100,
				"currency_id": strings.ToUpper(req.Currency),
			}},
			"external_reference": req.Reference,
			"metadata":           meta,
			"payer":              map[string]string{"email": req.Email},
			"back_urls": map[string]string{
				"success": req.SuccessURL,
				"failure": req.CancelURL,
			},
			"auto_return": "approved",
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	respBody, status, err := doRequest(ctx, a.client, domain.GatewayMercadoPago, http.MethodPost,
		a.baseURL(creds)+path, a.authHeader(creds), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if status != http.StatusCreated && status != http.StatusOK {
		return nil, gatewayStatusErr(domain.GatewayMercadoPago, fmt.Errorf("initiate returned %d", status))
	}

	var out struct {
		ID        json.Number `json:"id"`
		InitPoint string      `json:"init_point"`
	}
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, gatewayStatusErr(domain.GatewayMercadoPago, err)
	}
	return &ports.InitiateResult{ProviderRef: out.ID.String(), CheckoutURL: out.InitPoint}, nil
}

// FetchStatus reads a payment by id, falling back to the preapproval API
// so subscription notifications can be enriched through the same call.
func (a *MercadoPagoAdapter) FetchStatus(ctx context.Context, externalRef string) (*ports.GatewayStatus, error) {
	creds, err := a.settings.Gateway(ctx, domain.GatewayMercadoPago)
	if err != nil {
		return nil, err
	}

	st, err := a.fetchPayment(ctx, creds, externalRef)
	if err == nil {
		return st, nil
	}
	if !apperror.IsNotFound(err) {
		return nil, err
	}
	return a.fetchPreapproval(ctx, creds, externalRef)
}

func (a *MercadoPagoAdapter) fetchPayment(ctx context.Context, creds ports.GatewayCredentials, id string) (*ports.GatewayStatus, error) {
	body, status, err := doRequest(ctx, a.client, domain.GatewayMercadoPago, http.MethodGet,
		a.baseURL(creds)+"/v1/payments/"+url.PathEscape(id), a.authHeader(creds), nil)
	if err != nil {
		return nil, err
	}
	switch {
	case status == http.StatusNotFound:
		return nil, apperror.ErrNotFound("payment")
	case status != http.StatusOK:
		return nil, gatewayStatusErr(domain.GatewayMercadoPago, fmt.Errorf("fetch payment returned %d", status))
	}

	var out struct {
		ID                json.Number      `json:"id"`
		Status            string           `json:"status"`
		TransactionAmount json.Number      `json:"transaction_amount"`
		CurrencyID        string           `json:"currency_id"`
		ExternalReference string           `json:"external_reference"`
		Metadata          providerMetadata `json:"metadata"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, gatewayStatusErr(domain.GatewayMercadoPago, err)
	}

	ref := out.ExternalReference
	if ref == "" || strings.HasPrefix(ref, "{") {
		ref = out.ID.String()
	}
	st := &ports.GatewayStatus{
		ExternalRef: ref,
		Status:      out.Status,
		Paid:        out.Status == "approved",
		Amount:      parseDecimalMinor(out.TransactionAmount.String()),
		Currency:    out.CurrencyID,
	}
	out.Metadata.apply(&st.Data)
	if st.Data.UserID == "" && strings.HasPrefix(out.ExternalReference, "{") {
		decodePackedMetadata(out.ExternalReference, &st.Data)
	}
	st.Data.Amount = st.Amount
	st.Data.Currency = st.Currency
	return st, nil
}

func (a *MercadoPagoAdapter) fetchPreapproval(ctx context.Context, creds ports.GatewayCredentials, id string) (*ports.GatewayStatus, error) {
	body, status, err := doRequest(ctx, a.client, domain.GatewayMercadoPago, http.MethodGet,
		a.baseURL(creds)+"/preapproval/"+url.PathEscape(id), a.authHeader(creds), nil)
	if err != nil {
		return nil, err
	}
	switch {
	case status == http.StatusNotFound:
		return nil, apperror.ErrNotFound("preapproval")
	case status != http.StatusOK:
		return nil, gatewayStatusErr(domain.GatewayMercadoPago, fmt.Errorf("fetch preapproval returned %d", status))
	}

	var out struct {
		ID                string `json:"id"`
		Status            string `json:"status"`
		ExternalReference string `json:"external_reference"`
		AutoRecurring     struct {
			TransactionAmount json.Number `json:"transaction_amount"`
			CurrencyID        string      `json:"currency_id"`
			FrequencyType     string      `json:"frequency_type"`
		} `json:"auto_recurring"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, gatewayStatusErr(domain.GatewayMercadoPago, err)
	}

	st := &ports.GatewayStatus{
		ExternalRef: out.ID,
		Status:      out.Status,
		Paid:        out.Status == "authorized",
		Amount:      parseDecimalMinor(out.AutoRecurring.TransactionAmount.String()),
		Currency:    out.AutoRecurring.CurrencyID,
	}
	decodePackedMetadata(out.ExternalReference, &st.Data)
	st.Data.SubscriptionRef = out.ID
	st.Data.Amount = st.Amount
	st.Data.Currency = st.Currency
	if st.Data.BillingPeriod == "" && out.AutoRecurring.FrequencyType == "years" {
		st.Data.BillingPeriod = domain.BillingPeriodYearly
	}
	return st, nil
}

// CancelSubscription cancels a preapproval.
func (a *MercadoPagoAdapter) CancelSubscription(ctx context.Context, externalSubID string) error {
	creds, err := a.settings.Gateway(ctx, domain.GatewayMercadoPago)
	if err != nil {
		return err
	}

	payload := bytes.NewReader([]byte(`{"status":"cancelled"}`))
	_, status, err := doRequest(ctx, a.client, domain.GatewayMercadoPago, http.MethodPut,
		a.baseURL(creds)+"/preapproval/"+url.PathEscape(externalSubID), a.authHeader(creds), payload)
	if err != nil {
		return err
	}
	switch {
	case status == http.StatusNotFound:
		return apperror.ErrNotFound("subscription")
	case status != http.StatusOK:
		return gatewayStatusErr(domain.GatewayMercadoPago, fmt.Errorf("cancel preapproval returned %d", status))
	}
	return nil
}

func (a *MercadoPagoAdapter) authHeader(creds ports.GatewayCredentials) http.Header {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+creds.APISecret)
	header.Set("Content-Type", "application/json")
	return header
}

func (a *MercadoPagoAdapter) baseURL(creds ports.GatewayCredentials) string {
	if creds.BaseURL != "" {
		return creds.BaseURL
	}
	return mercadoPagoDefaultBaseURL
}
