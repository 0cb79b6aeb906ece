package handler

import (
	"errors"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sst-nyc/registration-api/internal/middleware"
	"github.com/sst-nyc/registration-api/internal/models"
	"github.com/sst-nyc/registration-api/internal/service"
	appErrors "github.com/sst-nyc/registration-api/pkg/errors"
	"github.com/sst-nyc/registration-api/pkg/response"
)

// RegistrationHandler exposes the public intake endpoint and the admin
// registration surface.
type RegistrationHandler struct {
	registrations *service.RegistrationService
	documents     *service.DocumentService
	enrollments   *service.EnrollmentService
	logger        *zap.Logger
}

// NewRegistrationHandler constructs RegistrationHandler.
func NewRegistrationHandler(registrations *service.RegistrationService, documents *service.DocumentService,
	enrollments *service.EnrollmentService, logger *zap.Logger) *RegistrationHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RegistrationHandler{
		registrations: registrations,
		documents:     documents,
		enrollments:   enrollments,
		logger:        logger,
	}
}

// Create godoc
// @Summary Submit a class registration
// @Tags Registrations
// @Accept multipart/form-data
// @Produce json
// @Param first_name formData string true "First name"
// @Param last_name formData string true "Last name"
// @Param email formData string true "Email"
// @Param phone formData string true "Phone"
// @Param sst_number formData string false "SST number"
// @Param class_name formData string true "Class name"
// @Param osha_card formData file false "OSHA card image or PDF"
// @Param sst_card formData file false "SST card image or PDF"
// @Success 201 {object} response.Envelope
// @Router /registrations [post]
func (h *RegistrationHandler) Create(c *gin.Context) {
	input := models.RegistrationInput{
		FirstName: c.PostForm("first_name"),
		LastName:  c.PostForm("last_name"),
		Email:     c.PostForm("email"),
		Phone:     c.PostForm("phone"),
		SSTNumber: c.PostForm("sst_number"),
		ClassName: c.PostForm("class_name"),
	}

	// A rejected file never blocks the registration itself; the
	// submission proceeds without the attachment and admins can request
	// a re-upload later.
	warnings := make([]string, 0, 2)
	input.OSHACardPath = h.storeUpload(c, models.DocumentOSHACard, "osha_card", &warnings)
	input.SSTCardPath = h.storeUpload(c, models.DocumentSSTCard, "sst_card", &warnings)

	reg, err := h.registrations.Create(c.Request.Context(), input)
	if err != nil {
		response.Error(c, err)
		return
	}

	var meta map[string]interface{}
	if len(warnings) > 0 {
		meta = map[string]interface{}{"warnings": warnings}
	}
	response.JSON(c, http.StatusCreated, reg, nil, meta)
}

func (h *RegistrationHandler) storeUpload(c *gin.Context, kind models.DocumentKind, field string, warnings *[]string) string {
	header, err := c.FormFile(field)
	if err != nil {
		if !errors.Is(err, http.ErrMissingFile) && !errors.Is(err, multipart.ErrMessageTooLarge) {
			h.logger.Warn("failed to read upload field", zap.String("field", field), zap.Error(err))
		}
		return ""
	}
	stored, err := h.documents.Save(kind, header)
	if err != nil {
		h.logger.Warn("upload rejected", zap.String("field", field), zap.Error(err))
		*warnings = append(*warnings, field+": "+appErrors.FromError(err).Message)
		return ""
	}
	return stored
}

// List godoc
// @Summary List registrations
// @Tags Registrations
// @Produce json
// @Param status query string false "Filter by status"
// @Param enrollment_status query string false "Filter by enrollment status"
// @Param class query string false "Filter by class name"
// @Param search query string false "Search name, email or registration id"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /admin/registrations [get]
func (h *RegistrationHandler) List(c *gin.Context) {
	var filter models.RegistrationFilter
	filter.Status = models.RegistrationStatus(c.Query("status"))
	filter.EnrollmentStatus = models.EnrollmentStatus(c.Query("enrollment_status"))
	filter.ClassName = c.Query("class")
	filter.Search = strings.TrimSpace(c.Query("search"))
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}
	filter.SortBy = c.Query("sort")
	filter.SortOrder = c.Query("order")

	registrations, pagination, err := h.registrations.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, registrations, pagination)
}

// Get godoc
// @Summary Get registration detail
// @Tags Registrations
// @Produce json
// @Param id path string true "Registration ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /admin/registrations/{id} [get]
func (h *RegistrationHandler) Get(c *gin.Context) {
	reg, err := h.registrations.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, reg, nil)
}

// Lookup godoc
// @Summary Find the latest registration for an email
// @Tags Registrations
// @Produce json
// @Param email query string true "Submitter email"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /admin/registrations/lookup [get]
func (h *RegistrationHandler) Lookup(c *gin.Context) {
	reg, err := h.registrations.GetByEmail(c.Request.Context(), c.Query("email"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, reg, nil)
}

// Counts godoc
// @Summary Registration counts per status
// @Tags Registrations
// @Produce json
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /admin/registrations/counts [get]
func (h *RegistrationHandler) Counts(c *gin.Context) {
	counts, err := h.registrations.Counts(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, counts, nil)
}

type updateStatusRequest struct {
	Status models.RegistrationStatus `json:"status"`
}

// UpdateStatus godoc
// @Summary Mark a registration processed or cancelled
// @Tags Registrations
// @Accept json
// @Produce json
// @Param id path string true "Registration ID"
// @Param payload body updateStatusRequest true "Status payload"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /admin/registrations/{id}/status [put]
func (h *RegistrationHandler) UpdateStatus(c *gin.Context) {
	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	registrationID := c.Param("id")
	var err error
	switch req.Status {
	case models.RegistrationStatusProcessed:
		err = h.registrations.MarkProcessed(c.Request.Context(), registrationID, middleware.CurrentUser(c))
	case models.RegistrationStatusCancelled:
		err = h.registrations.Cancel(c.Request.Context(), registrationID)
	default:
		err = appErrors.Validation("status", "must be processed or cancelled")
	}
	if err != nil {
		response.Error(c, err)
		return
	}
	h.Get(c)
}

type updateNotesRequest struct {
	Notes string `json:"notes"`
}

// UpdateNotes godoc
// @Summary Update admin notes on a registration
// @Tags Registrations
// @Accept json
// @Produce json
// @Param id path string true "Registration ID"
// @Param payload body updateNotesRequest true "Notes payload"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /admin/registrations/{id}/notes [put]
func (h *RegistrationHandler) UpdateNotes(c *gin.Context) {
	var req updateNotesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	if err := h.registrations.UpdateNotes(c.Request.Context(), c.Param("id"), req.Notes); err != nil {
		response.Error(c, err)
		return
	}
	h.Get(c)
}

// Delete godoc
// @Summary Delete a registration and its documents
// @Tags Registrations
// @Param id path string true "Registration ID"
// @Success 204
// @Security BearerAuth
// @Router /admin/registrations/{id} [delete]
func (h *RegistrationHandler) Delete(c *gin.Context) {
	if err := h.registrations.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// RetryEnrollment godoc
// @Summary Retry account linkage for a registration
// @Tags Registrations
// @Produce json
// @Param id path string true "Registration ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /admin/registrations/{id}/enroll [post]
func (h *RegistrationHandler) RetryEnrollment(c *gin.Context) {
	user, err := h.enrollments.Retry(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{
		"registration_id": c.Param("id"),
		"user_id":         user.ID,
	}, nil)
}
