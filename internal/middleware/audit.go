package middleware

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/course-eligibility-api/internal/models"
	"github.com/noah-isme/course-eligibility-api/pkg/middleware/requestid"
)

// AuditWriter stores audit entries.
type AuditWriter interface {
	Create(ctx context.Context, log *models.AuditLog) error
}

// Audit records successful requests against resource. The resource id is read
// from the :id path parameter when present. Write failures are logged only.
func Audit(writer AuditWriter, logger *zap.Logger, action, resource string) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		start := time.Now().UTC()
		c.Next()

		if writer == nil || c.Writer.Status() >= 400 {
			return
		}

		entry := &models.AuditLog{
			Action:    action,
			Resource:  resource,
			RequestID: requestid.Value(c),
			IPAddress: c.ClientIP(),
			UserAgent: c.GetHeader("User-Agent"),
			CreatedAt: start,
		}
		if claims := ClaimsFromContext(c); claims != nil {
			userID, role := claims.UserID, string(claims.Role)
			entry.UserID = &userID
			entry.Role = &role
		}
		if id := c.Param("id"); id != "" {
			entry.ResourceID = &id
		}
		details := map[string]interface{}{
			"path":       c.FullPath(),
			"method":     c.Request.Method,
			"status":     c.Writer.Status(),
			"latency_ms": time.Since(start).Milliseconds(),
		}
		if stepID := c.Param("stepId"); stepID != "" {
			details["step_id"] = stepID
		}
		entry.Details, _ = json.Marshal(details)

		if err := writer.Create(c.Request.Context(), entry); err != nil {
			logger.Warn("failed to write audit log", zap.String("action", action), zap.Error(err))
		}
	}
}
