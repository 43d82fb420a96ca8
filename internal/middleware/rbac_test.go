package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/noah-isme/course-eligibility-api/internal/models"
)

func rbacRouter(claims *models.JWTClaims, roles ...models.UserRole) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(func(c *gin.Context) {
		if claims != nil {
			c.Set(ContextUserKey, claims)
		}
		c.Next()
	})
	router.POST("/requirements/:id/activate", RequireRoles(nil, roles...), func(c *gin.Context) { c.Status(http.StatusOK) })
	return router
}

func TestRequireRoles(t *testing.T) {
	cases := []struct {
		name   string
		claims *models.JWTClaims
		want   int
	}{
		{"registrar allowed", &models.JWTClaims{UserID: "r1", Role: models.RoleRegistrar}, http.StatusOK},
		{"student forbidden", &models.JWTClaims{UserID: "stu-1", Role: models.RoleStudent}, http.StatusForbidden},
		{"anonymous unauthorized", nil, http.StatusUnauthorized},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := rbacRouter(tc.claims, models.RoleAdmin, models.RoleRegistrar)
			w := httptest.NewRecorder()
			req, _ := http.NewRequest(http.MethodPost, "/requirements/req-1/activate", nil)
			router.ServeHTTP(w, req)
			assert.Equal(t, tc.want, w.Code)
		})
	}
}

func TestRequireRolesLogsDenial(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zapcore.InfoLevel)
	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set(ContextUserKey, &models.JWTClaims{UserID: "advisor-1", Role: models.RoleAdvisor})
		c.Next()
	})
	router.POST("/waivers/:id/decision", RequireRoles(zap.New(core), models.RoleAdmin, models.RoleRegistrar),
		func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/waivers/wvr-1/decision", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "role ADVISOR may not perform this action")
	entries := logs.FilterMessage("role denied").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "advisor-1", fields["user_id"])
	assert.Equal(t, "ADVISOR", fields["role"])
	assert.Equal(t, "/waivers/:id/decision", fields["route"])
}

func TestResponseMeta(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(WithResponseMeta())

	var withHit, without map[string]interface{}
	router.GET("/hit", func(c *gin.Context) {
		SetCacheHit(c, true)
		withHit = ExtractMeta(c)
		c.Status(http.StatusOK)
	})
	router.GET("/plain", func(c *gin.Context) {
		without = ExtractMeta(c)
		c.Status(http.StatusOK)
	})

	for _, path := range []string{"/hit", "/plain"} {
		req, _ := http.NewRequest(http.MethodGet, path, nil)
		router.ServeHTTP(httptest.NewRecorder(), req)
	}

	assert.Equal(t, true, withHit["cache_hit"])
	assert.Contains(t, withHit, "processing_time_ms")
	assert.Nil(t, without)
}
