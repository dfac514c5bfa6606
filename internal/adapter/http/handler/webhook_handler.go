package handler

import (
	"errors"
	"io"
	"net/http"

	"payment-reconciler/internal/core/ports"
	"payment-reconciler/pkg/apperror"

	"github.com/gin-gonic/gin"
)

// WebhookHandler handles provider webhook deliveries.
type WebhookHandler struct {
	ingestSvc ports.WebhookIngestService
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(ingestSvc ports.WebhookIngestService) *WebhookHandler {
	return &WebhookHandler{ingestSvc: ingestSvc}
}

// Handle handles POST /api/:gateway/webhook. The raw body is read before
// any binding; signature schemes hash the exact bytes the provider sent.
// Responses are accept/reject only and never carry internal detail: the
// provider's retry machinery is the only consumer.
func (h *WebhookHandler) Handle(c *gin.Context) {
	gateway := c.Param("gateway")

	rawBody, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "rejected"})
		return
	}

	result, err := h.ingestSvc.HandleWebhook(c.Request.Context(), gateway, rawBody, c.Request.Header)
	if err != nil {
		var appErr *apperror.AppError
		if errors.As(err, &appErr) {
			c.JSON(appErr.HTTPStatus, gin.H{
				"status":     "rejected",
				"error_code": appErr.Code,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": result.Action})
}
