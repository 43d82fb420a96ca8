package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/course-eligibility-api/internal/dto"
	"github.com/noah-isme/course-eligibility-api/internal/models"
	"github.com/noah-isme/course-eligibility-api/internal/service"
	appErrors "github.com/noah-isme/course-eligibility-api/pkg/errors"
	"github.com/noah-isme/course-eligibility-api/pkg/response"
)

type dependencyService interface {
	Latest(ctx context.Context, courseID string) (*models.CircularDependencyResult, error)
	Scan(ctx context.Context, courseID string) (*models.CircularDependencyResult, error)
	ScanAll(ctx context.Context) (*service.ScanSummary, error)
	ScheduleAll() error
	Resolve(ctx context.Context, id, actorID string, note *string) (*models.CircularDependencyResult, error)
}

// DependencyHandler exposes circular dependency detection.
type DependencyHandler struct {
	service dependencyService
}

// NewDependencyHandler builds a new handler.
func NewDependencyHandler(service dependencyService) *DependencyHandler {
	return &DependencyHandler{service: service}
}

// Latest godoc
// @Summary Latest dependency detection for a course
// @Tags Dependencies
// @Produce json
// @Param id path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Router /courses/{id}/dependency [get]
func (h *DependencyHandler) Latest(c *gin.Context) {
	result, err := h.service.Latest(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Scan godoc
// @Summary Detect circular prerequisites for a course now
// @Tags Dependencies
// @Produce json
// @Param id path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Router /courses/{id}/dependency-scan [post]
func (h *DependencyHandler) Scan(c *gin.Context) {
	result, err := h.service.Scan(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// ScanAll godoc
// @Summary Scan the whole catalog for circular prerequisites
// @Description Queued in the background when the scanner runs; otherwise scanned inline.
// @Tags Dependencies
// @Produce json
// @Success 200 {object} response.Envelope
// @Success 202 {object} response.Envelope
// @Router /dependency-scans [post]
func (h *DependencyHandler) ScanAll(c *gin.Context) {
	err := h.service.ScheduleAll()
	if err == nil {
		response.Accepted(c, gin.H{"status": "queued"})
		return
	}
	if !errors.Is(err, appErrors.ErrPreconditionFailed) {
		response.Error(c, err)
		return
	}
	summary, err := h.service.ScanAll(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summary, nil)
}

// Resolve godoc
// @Summary Resolve a circular dependency finding
// @Tags Dependencies
// @Accept json
// @Produce json
// @Param id path string true "Detection ID"
// @Param payload body dto.ResolveDependencyRequest false "Resolution note"
// @Success 200 {object} response.Envelope
// @Router /circular-dependencies/{id}/resolve [post]
func (h *DependencyHandler) Resolve(c *gin.Context) {
	claims, ok := actingUser(c)
	if !ok {
		return
	}
	var req dto.ResolveDependencyRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid resolution payload"))
			return
		}
	}
	result, err := h.service.Resolve(c.Request.Context(), c.Param("id"), claims.UserID, req.Note)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
