package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/course-eligibility-api/internal/dto"
	"github.com/noah-isme/course-eligibility-api/internal/models"
	appErrors "github.com/noah-isme/course-eligibility-api/pkg/errors"
	"github.com/noah-isme/course-eligibility-api/pkg/response"
)

type approvalService interface {
	RequestOverride(ctx context.Context, req dto.CreateOverrideRequest, claims *models.JWTClaims) (*models.PrerequisiteOverride, error)
	GetOverride(ctx context.Context, id string) (*models.PrerequisiteOverride, error)
	DecideStep(ctx context.Context, overrideID, stepID string, req dto.StepDecisionRequest, claims *models.JWTClaims) (*models.PrerequisiteOverride, error)
	RecordReview(ctx context.Context, overrideID string, req dto.ReviewOverrideRequest, claims *models.JWTClaims) (*models.PrerequisiteOverride, error)
	RequestWaiver(ctx context.Context, req dto.CreateWaiverRequest, claims *models.JWTClaims) (*models.PrerequisiteWaiver, error)
	DecideWaiver(ctx context.Context, id string, req dto.WaiverDecisionRequest, claims *models.JWTClaims) (*models.PrerequisiteWaiver, error)
}

// ExceptionHandler exposes override and waiver workflows to registrar staff.
type ExceptionHandler struct {
	service approvalService
}

// NewExceptionHandler builds a new handler.
func NewExceptionHandler(service approvalService) *ExceptionHandler {
	return &ExceptionHandler{service: service}
}

// RequestOverride godoc
// @Summary Request a prerequisite override
// @Tags Exceptions
// @Accept json
// @Produce json
// @Param payload body dto.CreateOverrideRequest true "Override payload"
// @Success 201 {object} response.Envelope
// @Router /overrides [post]
func (h *ExceptionHandler) RequestOverride(c *gin.Context) {
	var req dto.CreateOverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid override payload"))
		return
	}
	override, err := h.service.RequestOverride(c.Request.Context(), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, override)
}

// GetOverride godoc
// @Summary Get an override with its approval steps
// @Tags Exceptions
// @Produce json
// @Param id path string true "Override ID"
// @Success 200 {object} response.Envelope
// @Router /overrides/{id} [get]
func (h *ExceptionHandler) GetOverride(c *gin.Context) {
	override, err := h.service.GetOverride(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, override, nil)
}

// DecideStep godoc
// @Summary Approve, reject or delegate an approval step
// @Tags Exceptions
// @Accept json
// @Produce json
// @Param id path string true "Override ID"
// @Param stepId path string true "Step ID"
// @Param payload body dto.StepDecisionRequest true "Decision"
// @Success 200 {object} response.Envelope
// @Router /overrides/{id}/steps/{stepId}/decision [post]
func (h *ExceptionHandler) DecideStep(c *gin.Context) {
	var req dto.StepDecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid step decision"))
		return
	}
	override, err := h.service.DecideStep(c.Request.Context(), c.Param("id"), c.Param("stepId"), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, override, nil)
}

// RecordReview godoc
// @Summary Record a periodic review of an approved override
// @Tags Exceptions
// @Accept json
// @Produce json
// @Param id path string true "Override ID"
// @Param payload body dto.ReviewOverrideRequest true "Next review date"
// @Success 200 {object} response.Envelope
// @Router /overrides/{id}/review [post]
func (h *ExceptionHandler) RecordReview(c *gin.Context) {
	var req dto.ReviewOverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid review payload"))
		return
	}
	override, err := h.service.RecordReview(c.Request.Context(), c.Param("id"), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, override, nil)
}

// RequestWaiver godoc
// @Summary Request a prerequisite waiver
// @Tags Exceptions
// @Accept json
// @Produce json
// @Param payload body dto.CreateWaiverRequest true "Waiver payload"
// @Success 201 {object} response.Envelope
// @Router /waivers [post]
func (h *ExceptionHandler) RequestWaiver(c *gin.Context) {
	var req dto.CreateWaiverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid waiver payload"))
		return
	}
	waiver, err := h.service.RequestWaiver(c.Request.Context(), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, waiver)
}

// DecideWaiver godoc
// @Summary Approve or reject a waiver
// @Tags Exceptions
// @Accept json
// @Produce json
// @Param id path string true "Waiver ID"
// @Param payload body dto.WaiverDecisionRequest true "Decision"
// @Success 200 {object} response.Envelope
// @Router /waivers/{id}/decision [post]
func (h *ExceptionHandler) DecideWaiver(c *gin.Context) {
	var req dto.WaiverDecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid waiver decision"))
		return
	}
	waiver, err := h.service.DecideWaiver(c.Request.Context(), c.Param("id"), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, waiver, nil)
}
