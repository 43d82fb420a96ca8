package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-eligibility-api/internal/models"
	"github.com/noah-isme/course-eligibility-api/internal/service"
	appErrors "github.com/noah-isme/course-eligibility-api/pkg/errors"
)

type dependencyServiceMock struct {
	scheduleErr error
	scanned     bool
	note        *string
}

func (m *dependencyServiceMock) Latest(ctx context.Context, courseID string) (*models.CircularDependencyResult, error) {
	return nil, appErrors.Clone(appErrors.ErrNotFound, "no dependency detection recorded for course")
}

func (m *dependencyServiceMock) Scan(ctx context.Context, courseID string) (*models.CircularDependencyResult, error) {
	return &models.CircularDependencyResult{CourseID: courseID}, nil
}

func (m *dependencyServiceMock) ScanAll(ctx context.Context) (*service.ScanSummary, error) {
	m.scanned = true
	return &service.ScanSummary{Scanned: 4, Courses: []string{}}, nil
}

func (m *dependencyServiceMock) ScheduleAll() error {
	return m.scheduleErr
}

func (m *dependencyServiceMock) Resolve(ctx context.Context, id, actorID string, note *string) (*models.CircularDependencyResult, error) {
	m.note = note
	return &models.CircularDependencyResult{ID: id, IsResolved: true, ResolvedBy: &actorID}, nil
}

func TestDependencyHandlerScanAllQueues(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := &dependencyServiceMock{}
	w := httptest.NewRecorder()
	c := registrarContext(w, http.MethodPost, "/dependency-scans")

	NewDependencyHandler(svc).ScanAll(c)

	require.Equal(t, http.StatusAccepted, w.Code)
	assert.False(t, svc.scanned)
}

func TestDependencyHandlerScanAllRunsInlineWhenQueueDisabled(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := &dependencyServiceMock{scheduleErr: appErrors.Clone(appErrors.ErrPreconditionFailed, "background dependency scans are disabled")}
	w := httptest.NewRecorder()
	c := registrarContext(w, http.MethodPost, "/dependency-scans")

	NewDependencyHandler(svc).ScanAll(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, svc.scanned)
	assert.Contains(t, w.Body.String(), `"scanned":4`)
}

func TestDependencyHandlerLatestNotFound(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c := registrarContext(w, http.MethodGet, "/courses/cs201/dependency")
	c.Params = gin.Params{{Key: "id", Value: "cs201"}}

	NewDependencyHandler(&dependencyServiceMock{}).Latest(c)

	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestDependencyHandlerResolveReadsNote(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := &dependencyServiceMock{}
	w := httptest.NewRecorder()
	c := registrarContext(w, http.MethodPost, "/circular-dependencies/dep-1/resolve")
	c.Request, _ = http.NewRequest(http.MethodPost, "/circular-dependencies/dep-1/resolve", strings.NewReader(`{"note":"rule retired"}`))
	c.Request.Header.Set("Content-Type", "application/json")
	c.Params = gin.Params{{Key: "id", Value: "dep-1"}}

	NewDependencyHandler(svc).Resolve(c)

	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, svc.note)
	assert.Equal(t, "rule retired", *svc.note)
}
