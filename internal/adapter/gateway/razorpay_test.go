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

func TestRazorpayAdapter_Verify(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	secret := "rzp_webhook_secret"
	settings := settingsWith(ctrl, ports.GatewayCredentials{Enabled: true, WebhookSecret: secret})
	adapter := NewRazorpayAdapter(settings, nil, newTestLogger())

	body := []byte(`{"event":"payment.captured","payload":{}}`)
	headers := http.Header{}
	headers.Set("X-Razorpay-Signature", hmacSHA256Hex([]byte(secret), body))

	assert.NoError(t, adapter.Verify(context.Background(), body, headers))

	headers.Set("X-Razorpay-Signature", hmacSHA256Hex([]byte("wrong-secret"), body))
	err := adapter.Verify(context.Background(), body, headers)
	require.Error(t, err)
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "SEC_002", appErr.Code)
}

func TestRazorpayAdapter_Verify_NoSecret(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	settings := settingsWith(ctrl, ports.GatewayCredentials{Enabled: true})
	adapter := NewRazorpayAdapter(settings, nil, newTestLogger())

	err := adapter.Verify(context.Background(), []byte(`{}`), http.Header{})
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "SEC_003", appErr.Code)
}

func TestRazorpayAdapter_Normalize_PaymentCaptured(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	settings := settingsWith(ctrl, ports.GatewayCredentials{})
	adapter := NewRazorpayAdapter(settings, nil, newTestLogger())

	body := []byte(`{
		"event": "payment.captured",
		"payload": {"payment": {"entity": {
			"id": "pay_abc",
			"amount": 50000,
			"currency": "INR",
			"order_id": "order_xyz",
			"notes": {"user_id": "u-1", "type": "one_time"}
		}}}
	}`)

	ev, err := adapter.Normalize(body)
	require.NoError(t, err)
	assert.Equal(t, domain.GatewayRazorpay, ev.Gateway)
	assert.Equal(t, "order_xyz", ev.ExternalRef)
	assert.Equal(t, "payment.captured:order_xyz", ev.EventID)
	assert.Equal(t, int64(50000), ev.Data.Amount)
	assert.Equal(t, "u-1", ev.Data.UserID)
}

func TestRazorpayAdapter_Normalize_SubscriptionCharged(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	settings := settingsWith(ctrl, ports.GatewayCredentials{})
	adapter := NewRazorpayAdapter(settings, nil, newTestLogger())

	body := []byte(`{
		"event": "subscription.charged",
		"payload": {
			"subscription": {"entity": {"id": "sub_123", "plan_id": "plan_pro", "status": "active"}},
			"payment": {"entity": {"id": "pay_cycle2", "amount": 2900, "currency": "INR"}}
		}
	}`)

	ev, err := adapter.Normalize(body)
	require.NoError(t, err)
	assert.Equal(t, "pay_cycle2", ev.ExternalRef)
	assert.Equal(t, "sub_123", ev.Data.SubscriptionRef)
	assert.Equal(t, int64(2900), ev.Data.Amount)
}

func TestRazorpayAdapter_Initiate_Order(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/orders", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "rzp_key", user)
		assert.Equal(t, "rzp_secret", pass)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"order_new","amount":50000,"currency":"INR"}`)
	}))
	defer server.Close()

	settings := settingsWith(ctrl, ports.GatewayCredentials{
		APIKey:    "rzp_key",
		APISecret: "rzp_secret",
		BaseURL:   server.URL,
	})
	adapter := NewRazorpayAdapter(settings, server.Client(), newTestLogger())

	res, err := adapter.Initiate(context.Background(), ports.InitiateRequest{
		Type:     domain.TransactionTypeOneTime,
		Amount:   50000,
		Currency: "INR",
	})
	require.NoError(t, err)
	assert.Equal(t, "order_new", res.ProviderRef)
}

func TestRazorpayAdapter_CancelSubscription_NotFound(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	settings := settingsWith(ctrl, ports.GatewayCredentials{APIKey: "k", APISecret: "s", BaseURL: server.URL})
	adapter := NewRazorpayAdapter(settings, server.Client(), newTestLogger())

	err := adapter.CancelSubscription(context.Background(), "sub_gone")
	assert.True(t, apperror.IsNotFound(err))
}
