package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sst-nyc/registration-api/internal/models"
	"github.com/sst-nyc/registration-api/internal/service"
	appErrors "github.com/sst-nyc/registration-api/pkg/errors"
	"github.com/sst-nyc/registration-api/pkg/response"
)

// DocumentHandler serves card documents through signed download tokens.
type DocumentHandler struct {
	documents *service.DocumentService
}

// NewDocumentHandler constructs DocumentHandler.
func NewDocumentHandler(documents *service.DocumentService) *DocumentHandler {
	return &DocumentHandler{documents: documents}
}

// SignedToken godoc
// @Summary Issue a signed download token for a registration document
// @Tags Documents
// @Produce json
// @Param id path string true "Registration ID"
// @Param kind path string true "Document kind (osha or sst)"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /admin/registrations/{id}/documents/{kind}/token [post]
func (h *DocumentHandler) SignedToken(c *gin.Context) {
	kind := models.DocumentKind(c.Param("kind"))
	if kind != models.DocumentOSHACard && kind != models.DocumentSSTCard {
		response.Error(c, appErrors.Validation("kind", "must be osha or sst"))
		return
	}
	token, expiresAt, err := h.documents.SignedToken(c.Request.Context(), c.Param("id"), kind)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{
		"token":      token,
		"expires_at": expiresAt,
	}, nil)
}

// Download godoc
// @Summary Download a document using a signed token
// @Tags Documents
// @Produce octet-stream
// @Param token query string true "Signed download token"
// @Success 200
// @Router /documents/download [get]
func (h *DocumentHandler) Download(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		response.Error(c, appErrors.Validation("token", "is required"))
		return
	}
	file, contentType, err := h.documents.OpenByToken(c.Request.Context(), token)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Close() //nolint:errcheck

	info, err := file.Stat()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to stat document"))
		return
	}

	c.Header("Content-Disposition", `attachment; filename="`+info.Name()+`"`)
	c.Header("X-Content-Type-Options", "nosniff")
	c.DataFromReader(http.StatusOK, info.Size(), contentType, file, nil)
}
