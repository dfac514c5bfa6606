package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"payment-reconciler/internal/core/domain"
	"payment-reconciler/internal/core/ports"
	"payment-reconciler/pkg/apperror"
)

func mercadoPagoHeaders(secret, dataID, requestID, ts string) http.Header {
	manifest := fmt.Sprintf("id:%s;request-id:%s;ts:%s;", dataID, requestID, ts)
	headers := http.Header{}
	headers.Set("x-signature", fmt.Sprintf("ts=%s,v1=%s", ts, hmacSHA256Hex([]byte(secret), []byte(manifest))))
	headers.Set("x-request-id", requestID)
	return headers
}

func TestMercadoPagoAdapter_Verify(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	settings := settingsWith(ctrl, ports.GatewayCredentials{WebhookSecret: "mp_secret"})
	adapter := NewMercadoPagoAdapter(settings, nil, newTestLogger())

	body := []byte(`{"id":12345,"type":"payment","data":{"id":"999001"}}`)
	headers := mercadoPagoHeaders("mp_secret", "999001", "req-abc", "1756116000")

	require.NoError(t, adapter.Verify(context.Background(), body, headers))
}

// data.id is lowercased before it enters the manifest, so alphanumeric ids
// signed by MercadoPago in lowercase still verify.
func TestMercadoPagoAdapter_Verify_LowercasesDataID(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	settings := settingsWith(ctrl, ports.GatewayCredentials{WebhookSecret: "mp_secret"})
	adapter := NewMercadoPagoAdapter(settings, nil, newTestLogger())

	body := []byte(`{"type":"payment","data":{"id":"ABC123"}}`)
	headers := mercadoPagoHeaders("mp_secret", "abc123", "req-abc", "1756116000")

	require.NoError(t, adapter.Verify(context.Background(), body, headers))
}

func TestMercadoPagoAdapter_Verify_WrongSecret(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	settings := settingsWith(ctrl, ports.GatewayCredentials{WebhookSecret: "mp_secret"})
	adapter := NewMercadoPagoAdapter(settings, nil, newTestLogger())

	body := []byte(`{"type":"payment","data":{"id":"999001"}}`)
	headers := mercadoPagoHeaders("other_secret", "999001", "req-abc", "1756116000")

	err := adapter.Verify(context.Background(), body, headers)
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "SEC_002", appErr.Code)
}

func TestMercadoPagoAdapter_Verify_MissingRequestID(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	settings := settingsWith(ctrl, ports.GatewayCredentials{WebhookSecret: "mp_secret"})
	adapter := NewMercadoPagoAdapter(settings, nil, newTestLogger())

	body := []byte(`{"type":"payment","data":{"id":"999001"}}`)
	headers := mercadoPagoHeaders("mp_secret", "999001", "req-abc", "1756116000")
	headers.Del("x-request-id")

	err := adapter.Verify(context.Background(), body, headers)
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "SEC_002", appErr.Code)
}

func TestMercadoPagoAdapter_Verify_NoSecret(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	settings := settingsWith(ctrl, ports.GatewayCredentials{})
	adapter := NewMercadoPagoAdapter(settings, nil, newTestLogger())

	err := adapter.Verify(context.Background(), []byte(`{"data":{"id":"1"}}`), http.Header{})
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "SEC_003", appErr.Code)
}

func TestMercadoPagoAdapter_Normalize_Payment(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	adapter := NewMercadoPagoAdapter(settingsWith(ctrl, ports.GatewayCredentials{}), nil, newTestLogger())

	body := []byte(`{"id":12345,"type":"payment","action":"payment.created","data":{"id":"999001"}}`)
	ev, err := adapter.Normalize(body)
	require.NoError(t, err)
	assert.Equal(t, domain.GatewayMercadoPago, ev.Gateway)
	assert.Equal(t, "payment", ev.EventType)
	assert.Equal(t, "12345", ev.EventID)
	assert.Equal(t, "999001", ev.ExternalRef)
	assert.Equal(t, "payment.created", ev.Data.Reason)
	assert.Empty(t, ev.Data.SubscriptionRef)
}

func TestMercadoPagoAdapter_Normalize_Preapproval(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	adapter := NewMercadoPagoAdapter(settingsWith(ctrl, ports.GatewayCredentials{}), nil, newTestLogger())

	body := []byte(`{"type":"subscription_preapproval","action":"updated","data":{"id":"preap-77"}}`)
	ev, err := adapter.Normalize(body)
	require.NoError(t, err)
	assert.Equal(t, "preap-77", ev.Data.SubscriptionRef)
	assert.Equal(t, "subscription_preapproval:preap-77", ev.EventID)
}

func TestMercadoPagoAdapter_Normalize_MissingDataID(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	adapter := NewMercadoPagoAdapter(settingsWith(ctrl, ports.GatewayCredentials{}), nil, newTestLogger())

	_, err := adapter.Normalize([]byte(`{"type":"payment","data":{}}`))
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "VAL_001", appErr.Code)
}

func TestMercadoPagoAdapter_FetchStatus_Payment(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payments/999001", r.URL.Path)
		assert.Equal(t, "Bearer mp_token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"id": 999001,
			"status": "approved",
			"transaction_amount": 10.50,
			"currency_id": "ARS",
			"external_reference": "order-55",
			"metadata": {"user_id": "u-7", "type": "credits", "credits": 500}
		}`)
	}))
	defer server.Close()

	settings := settingsWith(ctrl, ports.GatewayCredentials{APISecret: "mp_token", BaseURL: server.URL})
	adapter := NewMercadoPagoAdapter(settings, server.Client(), newTestLogger())

	status, err := adapter.FetchStatus(context.Background(), "999001")
	require.NoError(t, err)
	assert.True(t, status.Paid)
	assert.Equal(t, "order-55", status.ExternalRef)
	assert.Equal(t, int64(1050), status.Amount)
	assert.Equal(t, "ARS", status.Currency)
	assert.Equal(t, "u-7", status.Data.UserID)
	assert.Equal(t, int64(500), status.Data.Credits)
}

// A packed external_reference is metadata transport, not a merchant order
// id, so the payment id becomes the ledger reference instead.
func TestMercadoPagoAdapter_FetchStatus_PackedReference(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"id": 999002,
			"status": "approved",
			"transaction_amount": 25,
			"currency_id": "ARS",
			"external_reference": "{\"user_id\":\"u-8\",\"type\":\"subscription\",\"plan_id\":\"pro\"}"
		}`)
	}))
	defer server.Close()

	settings := settingsWith(ctrl, ports.GatewayCredentials{APISecret: "mp_token", BaseURL: server.URL})
	adapter := NewMercadoPagoAdapter(settings, server.Client(), newTestLogger())

	status, err := adapter.FetchStatus(context.Background(), "999002")
	require.NoError(t, err)
	assert.Equal(t, "999002", status.ExternalRef)
	assert.Equal(t, "u-8", status.Data.UserID)
	assert.Equal(t, "pro", status.Data.PlanID)
}

func TestMercadoPagoAdapter_FetchStatus_FallsBackToPreapproval(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	var paymentCalled, preapprovalCalled bool
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/payments/", func(w http.ResponseWriter, r *http.Request) {
		paymentCalled = true
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/preapproval/preap-77", func(w http.ResponseWriter, r *http.Request) {
		preapprovalCalled = true
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"id": "preap-77",
			"status": "authorized",
			"external_reference": "{\"user_id\":\"u-8\",\"type\":\"subscription\",\"plan_id\":\"pro\"}",
			"auto_recurring": {"transaction_amount": 120, "currency_id": "ARS", "frequency_type": "years"}
		}`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	settings := settingsWith(ctrl, ports.GatewayCredentials{APISecret: "mp_token", BaseURL: server.URL})
	adapter := NewMercadoPagoAdapter(settings, server.Client(), newTestLogger())

	status, err := adapter.FetchStatus(context.Background(), "preap-77")
	require.NoError(t, err)
	assert.True(t, paymentCalled)
	assert.True(t, preapprovalCalled)
	assert.True(t, status.Paid)
	assert.Equal(t, "preap-77", status.ExternalRef)
	assert.Equal(t, "preap-77", status.Data.SubscriptionRef)
	assert.Equal(t, int64(12000), status.Amount)
	assert.Equal(t, "u-8", status.Data.UserID)
	assert.Equal(t, domain.BillingPeriodYearly, status.Data.BillingPeriod)
}

func TestMercadoPagoAdapter_CancelSubscription(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/preapproval/preap-77", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"preap-77","status":"cancelled"}`)
	}))
	defer server.Close()

	settings := settingsWith(ctrl, ports.GatewayCredentials{APISecret: "mp_token", BaseURL: server.URL})
	adapter := NewMercadoPagoAdapter(settings, server.Client(), newTestLogger())

	require.NoError(t, adapter.CancelSubscription(context.Background(), "preap-77"))
}
