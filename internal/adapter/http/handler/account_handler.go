package handler

import (
	"math"
	"strconv"

	"payment-reconciler/internal/adapter/http/dto"
	"payment-reconciler/internal/adapter/http/middleware"
	"payment-reconciler/internal/core/domain"
	"payment-reconciler/internal/core/ports"
	"payment-reconciler/pkg/apperror"
	"payment-reconciler/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// AccountHandler handles the authenticated user's own subscription and
// transaction history.
type AccountHandler struct {
	subscriptionSvc ports.SubscriptionService
	ledgerSvc       ports.LedgerService
}

// NewAccountHandler creates a new AccountHandler.
func NewAccountHandler(subscriptionSvc ports.SubscriptionService, ledgerSvc ports.LedgerService) *AccountHandler {
	return &AccountHandler{
		subscriptionSvc: subscriptionSvc,
		ledgerSvc:       ledgerSvc,
	}
}

// GetSubscription handles GET /api/v1/subscription.
func (h *AccountHandler) GetSubscription(c *gin.Context) {
	userID, ok := c.Get(middleware.CtxUserID)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	sub, err := h.subscriptionSvc.GetForUser(c.Request.Context(), userID.(uuid.UUID))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, toSubscriptionResponse(sub))
}

// CancelSubscription handles POST /api/v1/subscription/cancel.
func (h *AccountHandler) CancelSubscription(c *gin.Context) {
	userID, ok := c.Get(middleware.CtxUserID)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	// An empty body means cancel at period end.
	var req dto.CancelSubscriptionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, apperror.Validation(err.Error()))
			return
		}
	}

	if err := h.subscriptionSvc.CancelForUser(c.Request.Context(), userID.(uuid.UUID), req.Immediate); err != nil {
		response.Error(c, err)
		return
	}

	sub, err := h.subscriptionSvc.GetForUser(c.Request.Context(), userID.(uuid.UUID))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, toSubscriptionResponse(sub))
}

// ListTransactions handles GET /api/v1/transactions.
func (h *AccountHandler) ListTransactions(c *gin.Context) {
	userID, ok := c.Get(middleware.CtxUserID)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	page, pageSize := parsePagination(c)

	uid := userID.(uuid.UUID)
	params := ports.TransactionListParams{
		UserID:   &uid,
		Page:     page,
		PageSize: pageSize,
	}

	if g := c.Query("gateway"); g != "" {
		if !domain.ValidGateway(g) {
			response.Error(c, apperror.ErrUnknownGateway(g))
			return
		}
		gw := domain.Gateway(g)
		params.Gateway = &gw
	}
	if s := c.Query("status"); s != "" {
		status := domain.TransactionStatus(s)
		params.Status = &status
	}
	if t := c.Query("type"); t != "" {
		txType := domain.TransactionType(t)
		params.Type = &txType
	}

	txns, total, err := h.ledgerSvc.ListTransactions(c.Request.Context(), params)
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]dto.TransactionResponse, 0, len(txns))
	for i := range txns {
		items = append(items, toTransactionResponse(&txns[i]))
	}

	response.OK(c, dto.TransactionListResponse{
		Items:      items,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages(total, pageSize),
	})
}

// parsePagination reads page/page_size query params with sane bounds.
func parsePagination(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return page, pageSize
}

func totalPages(total int64, pageSize int) int {
	return int(math.Ceil(float64(total) / float64(pageSize)))
}

// toSubscriptionResponse converts domain.UserSubscription to DTO.
func toSubscriptionResponse(sub *domain.UserSubscription) dto.SubscriptionResponse {
	resp := dto.SubscriptionResponse{
		ID:                 sub.ID.String(),
		PlanID:             sub.PlanID,
		Status:             string(sub.Status),
		CurrentPeriodStart: sub.CurrentPeriodStart.Format("2006-01-02T15:04:05Z07:00"),
		CurrentPeriodEnd:   sub.CurrentPeriodEnd.Format("2006-01-02T15:04:05Z07:00"),
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
		CreatedAt:          sub.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
	for _, g := range domain.AllGateways {
		if sub.ExternalID(g) != nil {
			resp.Gateway = string(g)
			break
		}
	}
	return resp
}
