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

// AdminHandler handles the operator surface: refunds, dead-letter
// inspection, audit queries, and runtime settings.
type AdminHandler struct {
	refundSvc   ports.RefundService
	retrySvc    ports.RetryService
	auditSvc    ports.AuditService
	settingsSvc ports.SettingsService
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(
	refundSvc ports.RefundService,
	retrySvc ports.RetryService,
	auditSvc ports.AuditService,
	settingsSvc ports.SettingsService,
) *AdminHandler {
	return &AdminHandler{
		refundSvc:   refundSvc,
		retrySvc:    retrySvc,
		auditSvc:    auditSvc,
		settingsSvc: settingsSvc,
	}
}

// CreateRefund handles POST /api/v1/refunds.
func (h *AdminHandler) CreateRefund(c *gin.Context) {
	adminID, ok := c.Get(middleware.CtxUserID)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	var req dto.RefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	txID, err := uuid.Parse(req.TransactionID)
	if err != nil {
		response.Error(c, apperror.Validation("transaction_id is not a valid UUID"))
		return
	}

	aid := adminID.(uuid.UUID)
	refund, err := h.refundSvc.CreateRefund(c.Request.Context(), ports.RefundParams{
		TransactionID: txID,
		Amount:        req.Amount,
		Reason:        domain.RefundReason(req.Reason),
		InitiatedBy:   domain.RefundInitiatorAdmin,
		AdminID:       &aid,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, toRefundResponse(refund))
}

// ListQueue handles GET /api/v1/admin/queue.
func (h *AdminHandler) ListQueue(c *gin.Context) {
	page, pageSize := parsePagination(c)

	params := ports.QueueListParams{
		Page:     page,
		PageSize: pageSize,
	}
	if s := c.Query("status"); s != "" {
		status := domain.QueueStatus(s)
		params.Status = &status
	}
	if g := c.Query("gateway"); g != "" {
		if !domain.ValidGateway(g) {
			response.Error(c, apperror.ErrUnknownGateway(g))
			return
		}
		gw := domain.Gateway(g)
		params.Gateway = &gw
	}

	items, total, err := h.retrySvc.List(c.Request.Context(), params)
	if err != nil {
		response.Error(c, err)
		return
	}

	out := make([]dto.QueueItemResponse, 0, len(items))
	for i := range items {
		out = append(out, toQueueItemResponse(&items[i]))
	}

	response.OK(c, dto.QueueListResponse{
		Items:      out,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages(total, pageSize),
	})
}

// RequeueItem handles POST /api/v1/admin/queue/:id/requeue. It resets a
// failed or expired item to pending with a fresh attempt budget.
func (h *AdminHandler) RequeueItem(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("id is not a valid UUID"))
		return
	}

	item, err := h.retrySvc.Requeue(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Accepted(c, toQueueItemResponse(item))
}

// ListAudit handles GET /api/v1/admin/audit.
func (h *AdminHandler) ListAudit(c *gin.Context) {
	page, pageSize := parsePagination(c)

	params := ports.AuditListParams{
		Page:     page,
		PageSize: pageSize,
	}
	if a := c.Query("action"); a != "" {
		action := domain.AuditAction(a)
		params.Action = &action
	}
	if u := c.Query("user_id"); u != "" {
		uid, err := uuid.Parse(u)
		if err != nil {
			response.Error(c, apperror.Validation("user_id is not a valid UUID"))
			return
		}
		params.UserID = &uid
	}
	if g := c.Query("gateway"); g != "" {
		if !domain.ValidGateway(g) {
			response.Error(c, apperror.ErrUnknownGateway(g))
			return
		}
		gw := domain.Gateway(g)
		params.Gateway = &gw
	}

	entries, total, err := h.auditSvc.List(c.Request.Context(), params)
	if err != nil {
		response.Error(c, err)
		return
	}

	out := make([]dto.AuditEntryResponse, 0, len(entries))
	for i := range entries {
		out = append(out, toAuditEntryResponse(&entries[i]))
	}

	response.OK(c, dto.AuditListResponse{
		Items:      out,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages(total, pageSize),
	})
}

// GetSetting handles GET /api/v1/admin/settings/:key.
func (h *AdminHandler) GetSetting(c *gin.Context) {
	key := c.Param("key")

	value, err := h.settingsSvc.Resolve(c.Request.Context(), key)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.SettingResponse{Key: key, Value: value})
}

// PutSetting handles PUT /api/v1/admin/settings/:key.
func (h *AdminHandler) PutSetting(c *gin.Context) {
	adminID, ok := c.Get(middleware.CtxUserID)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	key := c.Param("key")

	var req dto.SettingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	aid := adminID.(uuid.UUID)
	if err := h.settingsSvc.Set(c.Request.Context(), key, req.Value, &aid); err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.SettingResponse{Key: key, Value: req.Value})
}

// toRefundResponse converts domain.Refund to DTO.
func toRefundResponse(r *domain.Refund) dto.RefundResponse {
	resp := dto.RefundResponse{
		ID:              r.ID.String(),
		TransactionID:   r.TransactionID.String(),
		Gateway:         string(r.Gateway),
		GatewayRefundID: r.GatewayRefundID,
		Amount:          r.Amount,
		Currency:        r.Currency,
		Reason:          string(r.Reason),
		InitiatedBy:     string(r.InitiatedBy),
		Status:          string(r.Status),
		CreditsReversed: r.CreditsReversed,
		CreatedAt:       r.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
	if r.CompletedAt != nil {
		s := r.CompletedAt.Format("2006-01-02T15:04:05Z07:00")
		resp.CompletedAt = &s
	}
	return resp
}

// toQueueItemResponse converts domain.WebhookQueueItem to DTO.
func toQueueItemResponse(item *domain.WebhookQueueItem) dto.QueueItemResponse {
	return dto.QueueItemResponse{
		ID:           item.ID.String(),
		Gateway:      string(item.Gateway),
		EventType:    item.EventType,
		EventID:      item.EventID,
		Status:       string(item.Status),
		AttemptCount: item.AttemptCount,
		MaxAttempts:  item.MaxAttempts,
		LastError:    item.LastError,
		ReceivedAt:   item.ReceivedAt.Format("2006-01-02T15:04:05Z07:00"),
		NextRetryAt:  item.NextRetryAt.Format("2006-01-02T15:04:05Z07:00"),
		ExpiresAt:    item.ExpiresAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

// toAuditEntryResponse converts domain.AuditLogEntry to DTO.
func toAuditEntryResponse(e *domain.AuditLogEntry) dto.AuditEntryResponse {
	resp := dto.AuditEntryResponse{
		ID:        e.ID.String(),
		Action:    string(e.Action),
		Details:   e.Details,
		CreatedAt: e.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
	if e.Gateway != nil {
		resp.Gateway = string(*e.Gateway)
	}
	if e.UserID != nil {
		s := e.UserID.String()
		resp.UserID = &s
	}
	if e.TransactionID != nil {
		s := e.TransactionID.String()
		resp.TransactionID = &s
	}
	return resp
}
