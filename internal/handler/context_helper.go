package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/course-eligibility-api/internal/middleware"
	"github.com/noah-isme/course-eligibility-api/internal/models"
	appErrors "github.com/noah-isme/course-eligibility-api/pkg/errors"
	"github.com/noah-isme/course-eligibility-api/pkg/response"
)

// claimsFromContext hands the caller to services that decide access themselves,
// such as students validating their own enrollment.
func claimsFromContext(c *gin.Context) *models.JWTClaims {
	return middleware.ClaimsFromContext(c)
}

// actingUser returns the caller recorded as actor on rule and dependency changes.
// It answers 401 when the request carries no usable identity.
func actingUser(c *gin.Context) (*models.JWTClaims, bool) {
	claims := middleware.ClaimsFromContext(c)
	if claims == nil || claims.UserID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return nil, false
	}
	return claims, true
}
