package middleware

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/course-eligibility-api/internal/models"
	appErrors "github.com/noah-isme/course-eligibility-api/pkg/errors"
	"github.com/noah-isme/course-eligibility-api/pkg/middleware/requestid"
	"github.com/noah-isme/course-eligibility-api/pkg/response"
)

// ClaimsFromContext returns the verified caller stored by JWT, or nil.
func ClaimsFromContext(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}

// RequireRoles admits callers holding one of roles. Students are never admitted
// implicitly; self-service routes check ownership in the service layer. Denials
// are logged so registrars can trace refused rule and exception changes.
func RequireRoles(logger *zap.Logger, roles ...models.UserRole) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	allowed := make(map[models.UserRole]struct{}, len(roles))
	names := make([]string, 0, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
		names = append(names, string(r))
	}

	return func(c *gin.Context) {
		claims := ClaimsFromContext(c)
		if claims == nil {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		if _, ok := allowed[claims.Role]; ok {
			c.Next()
			return
		}

		logger.Info("role denied",
			zap.String("user_id", claims.UserID),
			zap.String("role", string(claims.Role)),
			zap.Strings("allowed", names),
			zap.String("route", c.FullPath()),
			zap.String("request_id", requestid.Value(c)),
		)
		response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "role "+string(claims.Role)+" may not perform this action"))
		c.Abort()
	}
}
