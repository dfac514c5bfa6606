package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"payment-reconciler/internal/adapter/http/dto"
	"payment-reconciler/internal/adapter/http/middleware"
	"payment-reconciler/internal/core/domain"
	"payment-reconciler/internal/core/ports"
	"payment-reconciler/internal/core/ports/mocks"
	"payment-reconciler/pkg/apperror"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// --- Webhook Handler Tests ---

func TestWebhook_Processed(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockIngest := mocks.NewMockWebhookIngestService(ctrl)
	h := NewWebhookHandler(mockIngest)

	payload := []byte(`{"type":"checkout.session.completed","id":"evt_1"}`)
	mockIngest.EXPECT().
		HandleWebhook(gomock.Any(), "stripe", payload, gomock.Any()).
		Return(&domain.HandlerResult{Success: true, Action: domain.ActionProcessed}, nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/api/stripe/webhook", bytes.NewReader(payload))
	c.Params = gin.Params{{Key: "gateway", Value: "stripe"}}

	h.Handle(c)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "processed", resp["status"])
}

func TestWebhook_DuplicateDeliveryIsAcknowledged(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockIngest := mocks.NewMockWebhookIngestService(ctrl)
	h := NewWebhookHandler(mockIngest)

	mockIngest.EXPECT().
		HandleWebhook(gomock.Any(), "razorpay", gomock.Any(), gomock.Any()).
		Return(&domain.HandlerResult{Success: true, Action: domain.ActionAlreadyProcessed}, nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/api/razorpay/webhook", bytes.NewReader([]byte(`{}`)))
	c.Params = gin.Params{{Key: "gateway", Value: "razorpay"}}

	h.Handle(c)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "already_processed", resp["status"])
}

func TestWebhook_InvalidSignature(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockIngest := mocks.NewMockWebhookIngestService(ctrl)
	h := NewWebhookHandler(mockIngest)

	mockIngest.EXPECT().
		HandleWebhook(gomock.Any(), "stripe", gomock.Any(), gomock.Any()).
		Return(nil, apperror.ErrInvalidSignature())

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/api/stripe/webhook", bytes.NewReader([]byte(`{}`)))
	c.Params = gin.Params{{Key: "gateway", Value: "stripe"}}

	h.Handle(c)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "rejected", resp["status"])
	assert.Equal(t, "SEC_002", resp["error_code"])
	assert.NotContains(t, w.Body.String(), "secret")
}

func TestWebhook_UnknownGateway(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockIngest := mocks.NewMockWebhookIngestService(ctrl)
	h := NewWebhookHandler(mockIngest)

	mockIngest.EXPECT().
		HandleWebhook(gomock.Any(), "visa", gomock.Any(), gomock.Any()).
		Return(nil, apperror.ErrUnknownGateway("visa"))

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/api/visa/webhook", bytes.NewReader([]byte(`{}`)))
	c.Params = gin.Params{{Key: "gateway", Value: "visa"}}

	h.Handle(c)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestWebhook_MalformedPayload(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockIngest := mocks.NewMockWebhookIngestService(ctrl)
	h := NewWebhookHandler(mockIngest)

	mockIngest.EXPECT().
		HandleWebhook(gomock.Any(), "paypal", gomock.Any(), gomock.Any()).
		Return(nil, apperror.Validation("unparseable payload"))

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/api/paypal/webhook", bytes.NewReader([]byte("not json")))
	c.Params = gin.Params{{Key: "gateway", Value: "paypal"}}

	h.Handle(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebhook_TransientFailureAfterEnqueue(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockIngest := mocks.NewMockWebhookIngestService(ctrl)
	h := NewWebhookHandler(mockIngest)

	mockIngest.EXPECT().
		HandleWebhook(gomock.Any(), "stripe", gomock.Any(), gomock.Any()).
		Return(nil, errors.New("ledger commit: connection refused"))

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/api/stripe/webhook", bytes.NewReader([]byte(`{}`)))
	c.Params = gin.Params{{Key: "gateway", Value: "stripe"}}

	h.Handle(c)

	// 500 asks the provider to redeliver; the body stays opaque.
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "connection refused")
}

// --- Checkout Handler Tests ---

func TestCreateOrder_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockCheckout := mocks.NewMockCheckoutService(ctrl)
	h := NewCheckoutHandler(mockCheckout)

	userID := uuid.New()
	mockCheckout.EXPECT().CreateOrder(gomock.Any(), ports.OrderParams{
		UserID:  userID,
		Gateway: domain.GatewayStripe,
		Type:    domain.TransactionTypeSubscription,
		PlanID:  "pro_monthly",
	}).Return(&ports.InitiateResult{
		ProviderRef: "cs_test_123",
		CheckoutURL: "https://checkout.stripe.com/pay/cs_test_123",
	}, nil)

	body, _ := json.Marshal(dto.CreateOrderRequest{
		Gateway: "stripe",
		Type:    "subscription",
		PlanID:  "pro_monthly",
	})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")
	c.Set(middleware.CtxUserID, userID)

	h.CreateOrder(c)

	assert.Equal(t, http.StatusCreated, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp["data"].(map[string]interface{})
	assert.Equal(t, "cs_test_123", data["provider_ref"])
	assert.Equal(t, "https://checkout.stripe.com/pay/cs_test_123", data["checkout_url"])
}

func TestCreateOrder_UnknownGatewayRejectedByBinding(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockCheckout := mocks.NewMockCheckoutService(ctrl)
	h := NewCheckoutHandler(mockCheckout)

	body, _ := json.Marshal(dto.CreateOrderRequest{
		Gateway: "visa",
		Type:    "subscription",
		PlanID:  "pro_monthly",
	})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")
	c.Set(middleware.CtxUserID, uuid.New())

	h.CreateOrder(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateOrder_MissingUser(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockCheckout := mocks.NewMockCheckoutService(ctrl)
	h := NewCheckoutHandler(mockCheckout)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", nil)

	h.CreateOrder(c)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestVerifyPayment_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockCheckout := mocks.NewMockCheckoutService(ctrl)
	h := NewCheckoutHandler(mockCheckout)

	userID := uuid.New()
	txID := uuid.New()
	now := time.Now()
	extRef := "pay_R1x2y3"

	mockCheckout.EXPECT().VerifyPayment(gomock.Any(), ports.VerifyParams{
		UserID:      userID,
		Gateway:     domain.GatewayRazorpay,
		ExternalRef: extRef,
	}).Return(&domain.Transaction{
		ID:                   txID,
		UserID:               userID,
		Type:                 domain.TransactionTypeCredits,
		Gateway:              domain.GatewayRazorpay,
		GatewayTransactionID: &extRef,
		Amount:               49900,
		Currency:             "INR",
		Status:               domain.TransactionStatusCompleted,
		CreditsAwarded:       500,
		CreatedAt:            now,
		CompletedAt:          &now,
	}, nil)

	body, _ := json.Marshal(dto.VerifyPaymentRequest{
		Gateway:     "razorpay",
		ExternalRef: extRef,
	})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")
	c.Set(middleware.CtxUserID, userID)

	h.VerifyPayment(c)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp["data"].(map[string]interface{})
	assert.Equal(t, txID.String(), data["id"])
	assert.Equal(t, "completed", data["status"])
	assert.Equal(t, float64(500), data["credits_awarded"])
}

func TestVerifyPayment_NotCompleted(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockCheckout := mocks.NewMockCheckoutService(ctrl)
	h := NewCheckoutHandler(mockCheckout)

	userID := uuid.New()
	mockCheckout.EXPECT().VerifyPayment(gomock.Any(), gomock.Any()).
		Return(nil, apperror.Validation(`payment not completed, provider status "created"`))

	body, _ := json.Marshal(dto.VerifyPaymentRequest{
		Gateway:     "razorpay",
		ExternalRef: "pay_unpaid",
	})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")
	c.Set(middleware.CtxUserID, userID)

	h.VerifyPayment(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// --- Account Handler Tests ---

func TestGetSubscription_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockSubs := mocks.NewMockSubscriptionService(ctrl)
	mockLedger := mocks.NewMockLedgerService(ctrl)
	h := NewAccountHandler(mockSubs, mockLedger)

	userID := uuid.New()
	subID := uuid.New()
	extID := "sub_razor_1"
	now := time.Now()

	mockSubs.EXPECT().GetForUser(gomock.Any(), userID).Return(&domain.UserSubscription{
		ID:                     subID,
		UserID:                 userID,
		PlanID:                 "pro_monthly",
		Status:                 domain.SubscriptionStatusActive,
		CurrentPeriodStart:     now,
		CurrentPeriodEnd:       now.AddDate(0, 1, 0),
		RazorpaySubscriptionID: &extID,
		CreatedAt:              now,
	}, nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Set(middleware.CtxUserID, userID)

	h.GetSubscription(c)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp["data"].(map[string]interface{})
	assert.Equal(t, subID.String(), data["id"])
	assert.Equal(t, "pro_monthly", data["plan_id"])
	assert.Equal(t, "active", data["status"])
	assert.Equal(t, "razorpay", data["gateway"])
}

func TestGetSubscription_NotFound(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockSubs := mocks.NewMockSubscriptionService(ctrl)
	mockLedger := mocks.NewMockLedgerService(ctrl)
	h := NewAccountHandler(mockSubs, mockLedger)

	userID := uuid.New()
	mockSubs.EXPECT().GetForUser(gomock.Any(), userID).Return(nil, apperror.ErrNotFound("subscription"))

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Set(middleware.CtxUserID, userID)

	h.GetSubscription(c)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCancelSubscription_AtPeriodEnd(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockSubs := mocks.NewMockSubscriptionService(ctrl)
	mockLedger := mocks.NewMockLedgerService(ctrl)
	h := NewAccountHandler(mockSubs, mockLedger)

	userID := uuid.New()
	now := time.Now()

	mockSubs.EXPECT().CancelForUser(gomock.Any(), userID, false).Return(nil)
	mockSubs.EXPECT().GetForUser(gomock.Any(), userID).Return(&domain.UserSubscription{
		ID:                 uuid.New(),
		UserID:             userID,
		PlanID:             "pro_monthly",
		Status:             domain.SubscriptionStatusActive,
		CancelAtPeriodEnd:  true,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   now.AddDate(0, 1, 0),
		CreatedAt:          now,
	}, nil)

	body, _ := json.Marshal(dto.CancelSubscriptionRequest{Immediate: false})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")
	c.Set(middleware.CtxUserID, userID)

	h.CancelSubscription(c)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp["data"].(map[string]interface{})
	assert.Equal(t, true, data["cancel_at_period_end"])
	assert.Equal(t, "active", data["status"])
}

func TestCancelSubscription_EmptyBodyDefaultsToPeriodEnd(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockSubs := mocks.NewMockSubscriptionService(ctrl)
	mockLedger := mocks.NewMockLedgerService(ctrl)
	h := NewAccountHandler(mockSubs, mockLedger)

	userID := uuid.New()
	now := time.Now()

	// No body at all defaults to a period-end cancel.
	mockSubs.EXPECT().CancelForUser(gomock.Any(), userID, false).Return(nil)
	mockSubs.EXPECT().GetForUser(gomock.Any(), userID).Return(&domain.UserSubscription{
		ID:                 uuid.New(),
		UserID:             userID,
		PlanID:             "pro_monthly",
		Status:             domain.SubscriptionStatusActive,
		CancelAtPeriodEnd:  true,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   now.AddDate(0, 1, 0),
		CreatedAt:          now,
	}, nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", nil)
	c.Set(middleware.CtxUserID, userID)

	h.CancelSubscription(c)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestListTransactions_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockSubs := mocks.NewMockSubscriptionService(ctrl)
	mockLedger := mocks.NewMockLedgerService(ctrl)
	h := NewAccountHandler(mockSubs, mockLedger)

	userID := uuid.New()
	now := time.Now()
	extRef := "pi_123"

	mockLedger.EXPECT().ListTransactions(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, params ports.TransactionListParams) ([]domain.Transaction, int64, error) {
			require.NotNil(t, params.UserID)
			assert.Equal(t, userID, *params.UserID)
			assert.Equal(t, 1, params.Page)
			assert.Equal(t, 20, params.PageSize)
			return []domain.Transaction{
				{
					ID:                   uuid.New(),
					UserID:               userID,
					Type:                 domain.TransactionTypeSubscription,
					Gateway:              domain.GatewayStripe,
					GatewayTransactionID: &extRef,
					Amount:               1999,
					Currency:             "USD",
					Status:               domain.TransactionStatusCompleted,
					CreatedAt:            now,
				},
			}, 1, nil
		})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/?page=1&page_size=20", nil)
	c.Set(middleware.CtxUserID, userID)

	h.ListTransactions(c)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp["data"].(map[string]interface{})
	items := data["items"].([]interface{})
	assert.Len(t, items, 1)
	assert.Equal(t, float64(1), data["total"])
	assert.Equal(t, float64(1), data["total_pages"])
}

func TestListTransactions_BadGatewayFilter(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockSubs := mocks.NewMockSubscriptionService(ctrl)
	mockLedger := mocks.NewMockLedgerService(ctrl)
	h := NewAccountHandler(mockSubs, mockLedger)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/?gateway=visa", nil)
	c.Set(middleware.CtxUserID, uuid.New())

	h.ListTransactions(c)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

// --- Admin Handler Tests ---

func TestCreateRefund_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockRefund := mocks.NewMockRefundService(ctrl)
	h := NewAdminHandler(mockRefund, nil, nil, nil)

	adminID := uuid.New()
	txID := uuid.New()
	refundID := uuid.New()
	now := time.Now()

	mockRefund.EXPECT().CreateRefund(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, params ports.RefundParams) (*domain.Refund, error) {
			assert.Equal(t, txID, params.TransactionID)
			assert.Equal(t, domain.RefundReasonAdminRequest, params.Reason)
			assert.Equal(t, domain.RefundInitiatorAdmin, params.InitiatedBy)
			require.NotNil(t, params.AdminID)
			assert.Equal(t, adminID, *params.AdminID)
			return &domain.Refund{
				ID:            refundID,
				TransactionID: txID,
				Gateway:       domain.GatewayStripe,
				Amount:        1999,
				Currency:      "USD",
				Reason:        domain.RefundReasonAdminRequest,
				InitiatedBy:   domain.RefundInitiatorAdmin,
				Status:        domain.RefundStatusCompleted,
				CreatedAt:     now,
				CompletedAt:   &now,
			}, nil
		})

	body, _ := json.Marshal(dto.RefundRequest{
		TransactionID: txID.String(),
		Reason:        "admin_request",
	})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")
	c.Set(middleware.CtxUserID, adminID)

	h.CreateRefund(c)

	assert.Equal(t, http.StatusCreated, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp["data"].(map[string]interface{})
	assert.Equal(t, refundID.String(), data["id"])
	assert.Equal(t, "completed", data["status"])
}

func TestCreateRefund_InvalidReason(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockRefund := mocks.NewMockRefundService(ctrl)
	h := NewAdminHandler(mockRefund, nil, nil, nil)

	body, _ := json.Marshal(dto.RefundRequest{
		TransactionID: uuid.New().String(),
		Reason:        "because",
	})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")
	c.Set(middleware.CtxUserID, uuid.New())

	h.CreateRefund(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateRefund_NotRefundable(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockRefund := mocks.NewMockRefundService(ctrl)
	h := NewAdminHandler(mockRefund, nil, nil, nil)

	mockRefund.EXPECT().CreateRefund(gomock.Any(), gomock.Any()).Return(nil, apperror.ErrNotRefundable())

	body, _ := json.Marshal(dto.RefundRequest{
		TransactionID: uuid.New().String(),
		Reason:        "customer_request",
	})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")
	c.Set(middleware.CtxUserID, uuid.New())

	h.CreateRefund(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "PAY_001", resp["error_code"])
}

func TestListQueue_FiltersByStatus(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockRetry := mocks.NewMockRetryService(ctrl)
	h := NewAdminHandler(nil, mockRetry, nil, nil)

	now := time.Now()
	item := domain.NewQueueItem(domain.GatewayPayPal, "PAYMENT.SALE.COMPLETED", "WH-1", []byte(`{}`), now)

	mockRetry.EXPECT().List(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, params ports.QueueListParams) ([]domain.WebhookQueueItem, int64, error) {
			require.NotNil(t, params.Status)
			assert.Equal(t, domain.QueueStatusPending, *params.Status)
			return []domain.WebhookQueueItem{*item}, 1, nil
		})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/?status=pending", nil)

	h.ListQueue(c)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp["data"].(map[string]interface{})
	items := data["items"].([]interface{})
	require.Len(t, items, 1)
	first := items[0].(map[string]interface{})
	assert.Equal(t, "paypal", first["gateway"])
	assert.Equal(t, "WH-1", first["event_id"])
	// Raw payload must not leak into the admin view.
	assert.NotContains(t, w.Body.String(), "payload")
}

func TestRequeueItem_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockRetry := mocks.NewMockRetryService(ctrl)
	h := NewAdminHandler(nil, mockRetry, nil, nil)

	id := uuid.New()
	now := time.Now()
	item := domain.NewQueueItem(domain.GatewayStripe, "invoice.paid", "evt_9", []byte(`{}`), now)
	item.ID = id

	mockRetry.EXPECT().Requeue(gomock.Any(), id).Return(item, nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", nil)
	c.Params = gin.Params{{Key: "id", Value: id.String()}}

	h.RequeueItem(c)

	assert.Equal(t, http.StatusAccepted, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp["data"].(map[string]interface{})
	assert.Equal(t, id.String(), data["id"])
	assert.Equal(t, "pending", data["status"])
}

func TestRequeueItem_BadID(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockRetry := mocks.NewMockRetryService(ctrl)
	h := NewAdminHandler(nil, mockRetry, nil, nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", nil)
	c.Params = gin.Params{{Key: "id", Value: "not-a-uuid"}}

	h.RequeueItem(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListAudit_FiltersByAction(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockAudit := mocks.NewMockAuditService(ctrl)
	h := NewAdminHandler(nil, nil, mockAudit, nil)

	gw := domain.GatewayStripe
	userID := uuid.New()
	mockAudit.EXPECT().List(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, params ports.AuditListParams) ([]domain.AuditLogEntry, int64, error) {
			require.NotNil(t, params.Action)
			assert.Equal(t, domain.AuditPaymentCompleted, *params.Action)
			return []domain.AuditLogEntry{
				{
					ID:        uuid.New(),
					Action:    domain.AuditPaymentCompleted,
					Gateway:   &gw,
					UserID:    &userID,
					Details:   map[string]any{"amount": float64(1999)},
					CreatedAt: time.Now(),
				},
			}, 1, nil
		})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/?action=payment_completed", nil)

	h.ListAudit(c)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp["data"].(map[string]interface{})
	items := data["items"].([]interface{})
	require.Len(t, items, 1)
	first := items[0].(map[string]interface{})
	assert.Equal(t, "payment_completed", first["action"])
	assert.Equal(t, "stripe", first["gateway"])
}

func TestGetSetting_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockSettings := mocks.NewMockSettingsService(ctrl)
	h := NewAdminHandler(nil, nil, nil, mockSettings)

	mockSettings.EXPECT().Resolve(gomock.Any(), "gateway.stripe.currency").Return("USD", nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Params = gin.Params{{Key: "key", Value: "gateway.stripe.currency"}}

	h.GetSetting(c)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp["data"].(map[string]interface{})
	assert.Equal(t, "gateway.stripe.currency", data["key"])
	assert.Equal(t, "USD", data["value"])
}

func TestPutSetting_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockSettings := mocks.NewMockSettingsService(ctrl)
	h := NewAdminHandler(nil, nil, nil, mockSettings)

	adminID := uuid.New()
	mockSettings.EXPECT().
		Set(gomock.Any(), "gateway.paypal.enabled", "false", gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, _ string, aid *uuid.UUID) error {
			require.NotNil(t, aid)
			assert.Equal(t, adminID, *aid)
			return nil
		})

	body, _ := json.Marshal(dto.SettingRequest{Value: "false"})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPut, "/", bytes.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")
	c.Params = gin.Params{{Key: "key", Value: "gateway.paypal.enabled"}}
	c.Set(middleware.CtxUserID, adminID)

	h.PutSetting(c)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestPutSetting_EmptyValueRejected(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockSettings := mocks.NewMockSettingsService(ctrl)
	h := NewAdminHandler(nil, nil, nil, mockSettings)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPut, "/", bytes.NewReader([]byte(`{}`)))
	c.Request.Header.Set("Content-Type", "application/json")
	c.Params = gin.Params{{Key: "key", Value: "gateway.paypal.enabled"}}
	c.Set(middleware.CtxUserID, uuid.New())

	h.PutSetting(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// --- Health Check Tests ---

type stubChecker struct {
	name string
	err  error
}

func (s stubChecker) Ping(ctx context.Context) error { return s.err }
func (s stubChecker) Name() string                   { return s.name }

func TestHealthCheck_AllHealthy(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/health", nil)

	HealthCheck(stubChecker{name: "postgresql"}, stubChecker{name: "redis"})(c)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp["status"])
	deps := resp["dependencies"].(map[string]interface{})
	assert.Len(t, deps, 2)
}

func TestHealthCheck_Degraded(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/health", nil)

	HealthCheck(
		stubChecker{name: "postgresql"},
		stubChecker{name: "redis", err: errors.New("connection refused")},
	)(c)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp["status"])
}

// --- Swagger Tests ---

func TestSwaggerUI(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/swagger", nil)

	SwaggerUI(c)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), "swagger-ui")
	assert.Contains(t, w.Body.String(), "/swagger/spec")
}

func TestSwaggerSpec_Loaded(t *testing.T) {
	SetSwaggerSpec([]byte("openapi: '3.0.0'\ninfo:\n  title: Test"))

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/swagger/spec", nil)

	SwaggerSpec(c)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "openapi")
}

func TestSwaggerSpec_NotLoaded(t *testing.T) {
	SetSwaggerSpec(nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/swagger/spec", nil)

	SwaggerSpec(c)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
