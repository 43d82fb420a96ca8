package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/course-eligibility-api/internal/dto"
	"github.com/noah-isme/course-eligibility-api/internal/models"
	"github.com/noah-isme/course-eligibility-api/internal/service"
	appErrors "github.com/noah-isme/course-eligibility-api/pkg/errors"
	"github.com/noah-isme/course-eligibility-api/pkg/response"
)

type validationService interface {
	Validate(ctx context.Context, req dto.ValidateEnrollmentRequest, claims *models.JWTClaims) (*models.ValidationOutcome, error)
	Current(ctx context.Context, query dto.ValidationKeyQuery, claims *models.JWTClaims) (*models.PrerequisiteValidationResult, error)
	History(ctx context.Context, query dto.ValidationKeyQuery, claims *models.JWTClaims) ([]models.PrerequisiteValidationResult, error)
	Get(ctx context.Context, id string, claims *models.JWTClaims) (*models.PrerequisiteValidationResult, error)
	Export(ctx context.Context, id, format string, claims *models.JWTClaims) (*service.ExportFile, error)
}

// ValidationHandler exposes enrollment eligibility validation.
type ValidationHandler struct {
	service validationService
}

// NewValidationHandler builds a new handler.
func NewValidationHandler(service validationService) *ValidationHandler {
	return &ValidationHandler{service: service}
}

// Validate godoc
// @Summary Validate enrollment eligibility
// @Description Evaluates prerequisites, corequisites and restrictions and stores a new result version.
// @Tags Validations
// @Accept json
// @Produce json
// @Param payload body dto.ValidateEnrollmentRequest true "Student, course and term"
// @Success 201 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /validations [post]
func (h *ValidationHandler) Validate(c *gin.Context) {
	var req dto.ValidateEnrollmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid validation payload"))
		return
	}
	outcome, err := h.service.Validate(c.Request.Context(), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, outcome)
}

// Current godoc
// @Summary Current validation result
// @Tags Validations
// @Produce json
// @Param studentId query string true "Student ID"
// @Param courseId query string true "Course ID"
// @Param termId query string true "Term ID"
// @Success 200 {object} response.Envelope
// @Router /validations/current [get]
func (h *ValidationHandler) Current(c *gin.Context) {
	var query dto.ValidationKeyQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid validation query"))
		return
	}
	result, err := h.service.Current(c.Request.Context(), query, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// History godoc
// @Summary Validation history
// @Tags Validations
// @Produce json
// @Param studentId query string true "Student ID"
// @Param courseId query string true "Course ID"
// @Param termId query string true "Term ID"
// @Param limit query int false "Maximum versions (default 20)"
// @Success 200 {object} response.Envelope
// @Router /validations/history [get]
func (h *ValidationHandler) History(c *gin.Context) {
	var query dto.ValidationKeyQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid validation query"))
		return
	}
	results, err := h.service.History(c.Request.Context(), query, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, results, map[string]interface{}{"count": len(results)})
}

// Get godoc
// @Summary Get a validation result
// @Tags Validations
// @Produce json
// @Param id path string true "Validation result ID"
// @Success 200 {object} response.Envelope
// @Router /validations/{id} [get]
func (h *ValidationHandler) Get(c *gin.Context) {
	result, err := h.service.Get(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Export godoc
// @Summary Download a validation report
// @Tags Validations
// @Produce application/pdf
// @Produce text/csv
// @Param id path string true "Validation result ID"
// @Param format query string false "csv or pdf (default pdf)"
// @Success 200 {file} file
// @Router /validations/{id}/export [get]
func (h *ValidationHandler) Export(c *gin.Context) {
	var query dto.ExportValidationQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid export query"))
		return
	}
	file, err := h.service.Export(c.Request.Context(), c.Param("id"), query.Format, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.File(c, file.Filename, file.ContentType, file.Data)
}
