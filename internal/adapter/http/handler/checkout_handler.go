package handler

import (
	"payment-reconciler/internal/adapter/http/dto"
	"payment-reconciler/internal/adapter/http/middleware"
	"payment-reconciler/internal/core/domain"
	"payment-reconciler/internal/core/ports"
	"payment-reconciler/pkg/apperror"
	"payment-reconciler/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// CheckoutHandler handles the synchronous client-facing payment flow.
type CheckoutHandler struct {
	checkoutSvc ports.CheckoutService
}

// NewCheckoutHandler creates a new CheckoutHandler.
func NewCheckoutHandler(checkoutSvc ports.CheckoutService) *CheckoutHandler {
	return &CheckoutHandler{checkoutSvc: checkoutSvc}
}

// CreateOrder handles POST /api/v1/checkout/order.
func (h *CheckoutHandler) CreateOrder(c *gin.Context) {
	userID, ok := c.Get(middleware.CtxUserID)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	var req dto.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	txType := domain.TransactionTypeSubscription
	if req.Type == "credits" {
		txType = domain.TransactionTypeCredits
	}

	result, err := h.checkoutSvc.CreateOrder(c.Request.Context(), ports.OrderParams{
		UserID:          userID.(uuid.UUID),
		Gateway:         domain.Gateway(req.Gateway),
		Type:            txType,
		PlanID:          req.PlanID,
		CreditPackageID: req.CreditPackageID,
		SuccessURL:      req.SuccessURL,
		CancelURL:       req.CancelURL,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, dto.OrderResponse{
		Gateway:     req.Gateway,
		ProviderRef: result.ProviderRef,
		CheckoutURL: result.CheckoutURL,
	})
}

// VerifyPayment handles POST /api/v1/checkout/verify. The client reports
// a completed provider payment; the outcome is confirmed against the
// provider, never trusted from the request.
func (h *CheckoutHandler) VerifyPayment(c *gin.Context) {
	userID, ok := c.Get(middleware.CtxUserID)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	var req dto.VerifyPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	// A racing webhook surfaces here as the already committed row, not as
	// an error; the client sees the same 200 either way.
	txn, err := h.checkoutSvc.VerifyPayment(c.Request.Context(), ports.VerifyParams{
		UserID:      userID.(uuid.UUID),
		Gateway:     domain.Gateway(req.Gateway),
		ExternalRef: req.ExternalRef,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, toTransactionResponse(txn))
}

// toTransactionResponse converts domain.Transaction to DTO.
func toTransactionResponse(tx *domain.Transaction) dto.TransactionResponse {
	resp := dto.TransactionResponse{
		ID:                   tx.ID.String(),
		Type:                 string(tx.Type),
		Gateway:              string(tx.Gateway),
		GatewayTransactionID: tx.GatewayTransactionID,
		Amount:               tx.Amount,
		Currency:             tx.Currency,
		Status:               string(tx.Status),
		PlanID:               tx.PlanID,
		CreditPackageID:      tx.CreditPackageID,
		CreditsAwarded:       tx.CreditsAwarded,
		Description:          tx.Description,
		CreatedAt:            tx.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
	if tx.CompletedAt != nil {
		s := tx.CompletedAt.Format("2006-01-02T15:04:05Z07:00")
		resp.CompletedAt = &s
	}
	return resp
}
