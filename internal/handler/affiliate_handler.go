package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/sst-nyc/registration-api/internal/models"
	"github.com/sst-nyc/registration-api/internal/service"
	appErrors "github.com/sst-nyc/registration-api/pkg/errors"
	"github.com/sst-nyc/registration-api/pkg/response"
)

// AffiliateHandler exposes affiliate application endpoints.
type AffiliateHandler struct {
	affiliates *service.AffiliateService
}

// NewAffiliateHandler constructs AffiliateHandler.
func NewAffiliateHandler(affiliates *service.AffiliateService) *AffiliateHandler {
	return &AffiliateHandler{affiliates: affiliates}
}

// Apply godoc
// @Summary Submit an affiliate application
// @Tags Affiliates
// @Accept json
// @Produce json
// @Param payload body models.AffiliateInput true "Application payload"
// @Success 201 {object} response.Envelope
// @Router /affiliates [post]
func (h *AffiliateHandler) Apply(c *gin.Context) {
	var input models.AffiliateInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	aff, err := h.affiliates.Apply(c.Request.Context(), input)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, aff)
}

// List godoc
// @Summary List affiliate applications
// @Tags Affiliates
// @Produce json
// @Param status query string false "Filter by status"
// @Param search query string false "Search name or email"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /admin/affiliates [get]
func (h *AffiliateHandler) List(c *gin.Context) {
	var filter models.AffiliateFilter
	filter.Status = models.AffiliateStatus(c.Query("status"))
	filter.Search = strings.TrimSpace(c.Query("search"))
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}
	filter.SortBy = c.Query("sort")
	filter.SortOrder = c.Query("order")

	affiliates, pagination, err := h.affiliates.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, affiliates, pagination)
}

// Get godoc
// @Summary Get affiliate application detail
// @Tags Affiliates
// @Produce json
// @Param id path string true "Affiliate ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /admin/affiliates/{id} [get]
func (h *AffiliateHandler) Get(c *gin.Context) {
	aff, err := h.affiliates.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, aff, nil)
}

type reviewAffiliateRequest struct {
	Status models.AffiliateStatus `json:"status"`
}

// Review godoc
// @Summary Approve or reject an affiliate application
// @Tags Affiliates
// @Accept json
// @Produce json
// @Param id path string true "Affiliate ID"
// @Param payload body reviewAffiliateRequest true "Review payload"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /admin/affiliates/{id}/status [put]
func (h *AffiliateHandler) Review(c *gin.Context) {
	var req reviewAffiliateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	if err := h.affiliates.Review(c.Request.Context(), c.Param("id"), req.Status); err != nil {
		response.Error(c, err)
		return
	}
	h.Get(c)
}
