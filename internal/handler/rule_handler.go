package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/course-eligibility-api/internal/middleware"
	"github.com/noah-isme/course-eligibility-api/internal/models"
	appErrors "github.com/noah-isme/course-eligibility-api/pkg/errors"
	"github.com/noah-isme/course-eligibility-api/pkg/response"
)

type ruleService interface {
	Lookup(ctx context.Context, courseID string, asOf time.Time) (*models.RuleSet, bool, error)
	ActivateRequirement(ctx context.Context, requirementID, actorID string) (*models.CircularDependencyResult, error)
}

// RuleHandler exposes course rules and rule activation.
type RuleHandler struct {
	service ruleService
	now     func() time.Time
}

// NewRuleHandler builds a new handler.
func NewRuleHandler(service ruleService) *RuleHandler {
	return &RuleHandler{service: service, now: time.Now}
}

// List godoc
// @Summary Rules gating a course
// @Tags Rules
// @Produce json
// @Param id path string true "Course ID"
// @Param asOf query string false "Evaluation date (RFC3339 or YYYY-MM-DD, default now)"
// @Success 200 {object} response.Envelope
// @Router /courses/{id}/rules [get]
func (h *RuleHandler) List(c *gin.Context) {
	asOf := h.now().UTC()
	if raw := strings.TrimSpace(c.Query("asOf")); raw != "" {
		parsed, err := parseAsOf(raw)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "asOf must be RFC3339 or YYYY-MM-DD"))
			return
		}
		asOf = parsed
	}
	set, cacheHit, err := h.service.Lookup(c.Request.Context(), c.Param("id"), asOf)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, cacheHit)
	response.JSON(c, http.StatusOK, set, middleware.ExtractMeta(c))
}

// Activate godoc
// @Summary Activate a prerequisite requirement
// @Description Refuses activation when the requirement would make a course transitively require itself.
// @Tags Rules
// @Produce json
// @Param id path string true "Requirement ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /requirements/{id}/activate [post]
func (h *RuleHandler) Activate(c *gin.Context) {
	claims, ok := actingUser(c)
	if !ok {
		return
	}
	check, err := h.service.ActivateRequirement(c.Request.Context(), c.Param("id"), claims.UserID)
	if err != nil {
		if errors.Is(err, appErrors.ErrCircularDependency) && check != nil {
			appErr := appErrors.FromError(err)
			_ = c.Error(err)
			c.Header("Cache-Control", "no-store")
			c.JSON(appErr.Status, response.Envelope{Data: check, Error: appErr})
			return
		}
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"requirement_id": c.Param("id"), "active": true, "dependency_check": check}, nil)
}

func parseAsOf(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
