package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/sst-nyc/registration-api/internal/models"
	"github.com/sst-nyc/registration-api/internal/service"
	"github.com/sst-nyc/registration-api/pkg/response"
)

// ExportHandler serves roster downloads for admins.
type ExportHandler struct {
	exports *service.ExportService
}

// NewExportHandler constructs ExportHandler.
func NewExportHandler(exports *service.ExportService) *ExportHandler {
	return &ExportHandler{exports: exports}
}

// Export godoc
// @Summary Export the registration roster
// @Tags Registrations
// @Produce octet-stream
// @Param format query string false "csv or pdf (default csv)"
// @Param status query string false "Filter by status"
// @Param class query string false "Filter by class name"
// @Success 200
// @Security BearerAuth
// @Router /admin/registrations/export [get]
func (h *ExportHandler) Export(c *gin.Context) {
	format := service.ExportFormat(strings.ToLower(c.DefaultQuery("format", "csv")))
	filter := models.RegistrationFilter{
		Status:    models.RegistrationStatus(c.Query("status")),
		ClassName: c.Query("class"),
	}

	data, contentType, filename, err := h.exports.Render(c.Request.Context(), filter, format)
	if err != nil {
		response.Error(c, err)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, contentType, data)
}
