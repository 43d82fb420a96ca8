package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/course-eligibility-api/internal/service"
)

func TestMetricsLabelsByRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	metricsSvc := service.NewMetricsService()
	router := gin.New()
	router.Use(Metrics(metricsSvc))
	router.GET("/courses/:id/rules", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/metrics", gin.WrapH(metricsSvc.Handler()))

	for _, path := range []string{"/courses/cs201/rules", "/courses/cs301/rules", "/wp-login.php", "/metrics"} {
		req, _ := http.NewRequest(http.MethodGet, path, nil)
		router.ServeHTTP(httptest.NewRecorder(), req)
	}

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/metrics", nil)
	router.ServeHTTP(w, req)

	body := w.Body.String()
	assert.Contains(t, body, `http_requests_total{method="GET",path="/courses/:id/rules",status="200"} 2`)
	assert.Contains(t, body, `http_requests_total{method="GET",path="unmatched",status="404"} 1`)
	assert.NotContains(t, body, `path="/wp-login.php"`)
	assert.NotContains(t, body, `path="/metrics"`)
}
