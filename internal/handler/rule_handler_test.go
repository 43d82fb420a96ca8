package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-eligibility-api/internal/middleware"
	"github.com/noah-isme/course-eligibility-api/internal/models"
	appErrors "github.com/noah-isme/course-eligibility-api/pkg/errors"
)

type ruleServiceMock struct {
	set      *models.RuleSet
	cacheHit bool
	asOf     time.Time
	check    *models.CircularDependencyResult
	err      error
	actor    string
}

func (m *ruleServiceMock) Lookup(ctx context.Context, courseID string, asOf time.Time) (*models.RuleSet, bool, error) {
	m.asOf = asOf
	return m.set, m.cacheHit, m.err
}

func (m *ruleServiceMock) ActivateRequirement(ctx context.Context, requirementID, actorID string) (*models.CircularDependencyResult, error) {
	m.actor = actorID
	return m.check, m.err
}

type envelopeBody struct {
	Data  json.RawMessage        `json:"data"`
	Error *appErrors.Error       `json:"error"`
	Meta  map[string]interface{} `json:"meta"`
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) envelopeBody {
	t.Helper()
	var body envelopeBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func registrarContext(w *httptest.ResponseRecorder, method, target string) *gin.Context {
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest(method, target, nil)
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "registrar-1", Role: models.RoleRegistrar})
	return c
}

func TestRuleHandlerListReportsCacheHit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := &ruleServiceMock{set: &models.RuleSet{CourseID: "cs201"}, cacheHit: true}
	handler := NewRuleHandler(svc)

	router := gin.New()
	router.Use(middleware.WithResponseMeta())
	router.GET("/courses/:id/rules", handler.List)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/courses/cs201/rules?asOf=2026-08-01", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), svc.asOf)
	body := decodeEnvelope(t, w)
	assert.Equal(t, true, body.Meta["cache_hit"])
	assert.Contains(t, body.Meta, "processing_time_ms")
}

func TestRuleHandlerListRejectsBadDate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewRuleHandler(&ruleServiceMock{})
	w := httptest.NewRecorder()
	c := registrarContext(w, http.MethodGet, "/courses/cs201/rules?asOf=yesterday")
	c.Params = gin.Params{{Key: "id", Value: "cs201"}}

	handler.List(c)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRuleHandlerActivateRefusedReturnsCycle(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := &ruleServiceMock{
		check: &models.CircularDependencyResult{CourseID: "cs201", HasCircularDependency: true, DependencyPath: []string{"CS201", "CS101", "CS201"}},
		err:   appErrors.Clone(appErrors.ErrCircularDependency, "activating requirement req-1 would close the cycle"),
	}
	handler := NewRuleHandler(svc)
	w := httptest.NewRecorder()
	c := registrarContext(w, http.MethodPost, "/requirements/req-1/activate")
	c.Params = gin.Params{{Key: "id", Value: "req-1"}}

	handler.Activate(c)

	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "registrar-1", svc.actor)
	body := decodeEnvelope(t, w)
	require.NotNil(t, body.Error)
	assert.Equal(t, appErrors.ErrCircularDependency.Code, body.Error.Code)
	var check models.CircularDependencyResult
	require.NoError(t, json.Unmarshal(body.Data, &check))
	assert.True(t, check.HasCircularDependency)
}

func TestRuleHandlerActivateRequiresAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewRuleHandler(&ruleServiceMock{})
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest(http.MethodPost, "/requirements/req-1/activate", nil)

	handler.Activate(c)

	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest(http.MethodPost, "/requirements/req-1/activate", nil)
	c.Set(middleware.ContextUserKey, &models.JWTClaims{Role: models.RoleRegistrar})

	handler.Activate(c)

	require.Equal(t, http.StatusUnauthorized, w.Code)
}
