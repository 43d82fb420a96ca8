package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
)

const (
	responseMetaKey = "response_meta"
	cacheHitKey     = "cache_hit"
	processingKey   = "processing_time_ms"
)

// WithResponseMeta attaches a metadata map to the request. Handlers fill it via
// SetCacheHit and pass ExtractMeta to the response envelope.
func WithResponseMeta() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(responseMetaKey, map[string]interface{}{})
		c.Set(processingKey, time.Now())
		c.Next()
	}
}

// SetCacheHit records whether the payload was served from the rule cache.
func SetCacheHit(c *gin.Context, hit bool) {
	ensureMeta(c)[cacheHitKey] = hit
}

// ExtractMeta returns the metadata gathered so far, stamped with the elapsed
// processing time. It returns nil when nothing was recorded.
func ExtractMeta(c *gin.Context) map[string]interface{} {
	if c == nil {
		return nil
	}
	value, exists := c.Get(responseMetaKey)
	if !exists {
		return nil
	}
	meta, ok := value.(map[string]interface{})
	if !ok || len(meta) == 0 {
		return nil
	}
	if started, ok := c.Get(processingKey); ok {
		if t, ok := started.(time.Time); ok {
			meta[processingKey] = time.Since(t).Milliseconds()
		}
	}
	return meta
}

func ensureMeta(c *gin.Context) map[string]interface{} {
	if value, exists := c.Get(responseMetaKey); exists {
		if meta, ok := value.(map[string]interface{}); ok {
			return meta
		}
	}
	meta := make(map[string]interface{})
	c.Set(responseMetaKey, meta)
	return meta
}
