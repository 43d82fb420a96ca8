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

	"github.com/noah-isme/course-eligibility-api/internal/dto"
	"github.com/noah-isme/course-eligibility-api/internal/models"
	appErrors "github.com/noah-isme/course-eligibility-api/pkg/errors"
)

type approvalServiceMock struct {
	overrideReq dto.CreateOverrideRequest
	overrideID  string
	stepID      string
	decision    dto.StepDecisionRequest
	decideErr   error
}

func (m *approvalServiceMock) RequestOverride(ctx context.Context, req dto.CreateOverrideRequest, claims *models.JWTClaims) (*models.PrerequisiteOverride, error) {
	m.overrideReq = req
	return &models.PrerequisiteOverride{ID: "ovr-1", Status: models.ExceptionPending, RequestedBy: claims.UserID}, nil
}

func (m *approvalServiceMock) GetOverride(ctx context.Context, id string) (*models.PrerequisiteOverride, error) {
	return &models.PrerequisiteOverride{ID: id}, nil
}

func (m *approvalServiceMock) DecideStep(ctx context.Context, overrideID, stepID string, req dto.StepDecisionRequest, claims *models.JWTClaims) (*models.PrerequisiteOverride, error) {
	m.overrideID, m.stepID, m.decision = overrideID, stepID, req
	if m.decideErr != nil {
		return nil, m.decideErr
	}
	return &models.PrerequisiteOverride{ID: overrideID, Status: models.ExceptionApproved}, nil
}

func (m *approvalServiceMock) RecordReview(ctx context.Context, overrideID string, req dto.ReviewOverrideRequest, claims *models.JWTClaims) (*models.PrerequisiteOverride, error) {
	return &models.PrerequisiteOverride{ID: overrideID}, nil
}

func (m *approvalServiceMock) RequestWaiver(ctx context.Context, req dto.CreateWaiverRequest, claims *models.JWTClaims) (*models.PrerequisiteWaiver, error) {
	return &models.PrerequisiteWaiver{ID: "wvr-1"}, nil
}

func (m *approvalServiceMock) DecideWaiver(ctx context.Context, id string, req dto.WaiverDecisionRequest, claims *models.JWTClaims) (*models.PrerequisiteWaiver, error) {
	return &models.PrerequisiteWaiver{ID: id}, nil
}

func jsonContext(w *httptest.ResponseRecorder, method, target, body string) *gin.Context {
	c := registrarContext(w, method, target)
	c.Request, _ = http.NewRequest(method, target, strings.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")
	return c
}

func TestExceptionHandlerRequestOverride(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := &approvalServiceMock{}
	w := httptest.NewRecorder()
	c := jsonContext(w, http.MethodPost, "/overrides",
		`{"studentId":"stu-1","courseId":"cs201","targetType":"ALL_PREREQUISITES","scope":"COMPLETE","reason":"transfer evidence reviewed"}`)

	NewExceptionHandler(svc).RequestOverride(c)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, models.TargetAllPrerequisites, svc.overrideReq.TargetType)
	assert.Contains(t, w.Body.String(), `"requested_by":"registrar-1"`)
}

func TestExceptionHandlerDecideStepPassesPathParams(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := &approvalServiceMock{}
	w := httptest.NewRecorder()
	c := jsonContext(w, http.MethodPost, "/overrides/ovr-1/steps/s2/decision", `{"decision":"APPROVE","comment":"ok"}`)
	c.Params = gin.Params{{Key: "id", Value: "ovr-1"}, {Key: "stepId", Value: "s2"}}

	NewExceptionHandler(svc).DecideStep(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ovr-1", svc.overrideID)
	assert.Equal(t, "s2", svc.stepID)
	assert.Equal(t, "APPROVE", svc.decision.Decision)
}

func TestExceptionHandlerDecideStepClosedWorkflow(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := &approvalServiceMock{decideErr: appErrors.Clone(appErrors.ErrWorkflowClosed, "override is already rejected")}
	w := httptest.NewRecorder()
	c := jsonContext(w, http.MethodPost, "/overrides/ovr-1/steps/s2/decision", `{"decision":"APPROVE"}`)
	c.Params = gin.Params{{Key: "id", Value: "ovr-1"}, {Key: "stepId", Value: "s2"}}

	NewExceptionHandler(svc).DecideStep(c)

	require.Equal(t, http.StatusConflict, w.Code)
	body := decodeEnvelope(t, w)
	require.NotNil(t, body.Error)
	assert.Equal(t, appErrors.ErrWorkflowClosed.Code, body.Error.Code)
}
