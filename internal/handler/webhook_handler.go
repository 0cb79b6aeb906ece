package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sst-nyc/registration-api/internal/service"
	appErrors "github.com/sst-nyc/registration-api/pkg/errors"
	"github.com/sst-nyc/registration-api/pkg/response"
)

// WebhookHandler lets admins verify the outbound webhook configuration.
type WebhookHandler struct {
	zapier *service.ZapierService
}

// NewWebhookHandler constructs WebhookHandler.
func NewWebhookHandler(zapier *service.ZapierService) *WebhookHandler {
	return &WebhookHandler{zapier: zapier}
}

type webhookTestRequest struct {
	URL string `json:"url"`
}

// Test godoc
// @Summary Send a sample payload to the configured or given webhook URL
// @Tags Webhooks
// @Accept json
// @Produce json
// @Param payload body webhookTestRequest false "Optional override URL"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /admin/webhooks/test [post]
func (h *WebhookHandler) Test(c *gin.Context) {
	var req webhookTestRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	if err := h.zapier.Test(c.Request.Context(), req.URL); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, http.StatusBadGateway, "webhook test failed"))
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"delivered": true}, nil)
}
