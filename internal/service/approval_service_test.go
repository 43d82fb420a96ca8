package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-eligibility-api/internal/dto"
	"github.com/noah-isme/course-eligibility-api/internal/models"
	"github.com/noah-isme/course-eligibility-api/internal/repository"
	appErrors "github.com/noah-isme/course-eligibility-api/pkg/errors"
)

type approvalRepoStub struct {
	overrides map[string]*models.PrerequisiteOverride
	waivers   map[string]*models.PrerequisiteWaiver
	decisions []repository.StepDecision
	reviews   []time.Time
	applyErr  error
	seq       int
}

func newApprovalRepoStub() *approvalRepoStub {
	return &approvalRepoStub{
		overrides: map[string]*models.PrerequisiteOverride{},
		waivers:   map[string]*models.PrerequisiteWaiver{},
	}
}

func (s *approvalRepoStub) FindOverride(ctx context.Context, id string) (*models.PrerequisiteOverride, error) {
	o, ok := s.overrides[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *o
	cp.Steps = append([]models.OverrideApprovalStep(nil), o.Steps...)
	return &cp, nil
}

func (s *approvalRepoStub) CreateOverride(ctx context.Context, override *models.PrerequisiteOverride) error {
	s.seq++
	override.ID = fmt.Sprintf("ovr-%d", s.seq)
	for i := range override.Steps {
		override.Steps[i].ID = fmt.Sprintf("%s-s%d", override.ID, i+1)
		override.Steps[i].OverrideID = override.ID
	}
	cp := *override
	cp.Steps = append([]models.OverrideApprovalStep(nil), override.Steps...)
	s.overrides[override.ID] = &cp
	return nil
}

func (s *approvalRepoStub) ApplyStepDecision(ctx context.Context, d repository.StepDecision) error {
	if s.applyErr != nil {
		return s.applyErr
	}
	s.decisions = append(s.decisions, d)
	o := s.overrides[d.OverrideID]
	for i := range o.Steps {
		if o.Steps[i].ID == d.StepID {
			o.Steps[i].Status = d.ToStatus
			o.Steps[i].DecidedBy = d.DecidedBy
			o.Steps[i].DelegatedTo = d.DelegatedTo
		}
	}
	if d.OverrideStatus != "" {
		o.Status = d.OverrideStatus
	}
	return nil
}

func (s *approvalRepoStub) RecordReview(ctx context.Context, overrideID, reviewer string, nextReview time.Time) error {
	s.reviews = append(s.reviews, nextReview)
	o := s.overrides[overrideID]
	o.NextReviewDate = &nextReview
	o.LastReviewedBy = &reviewer
	return nil
}

func (s *approvalRepoStub) FindWaiver(ctx context.Context, id string) (*models.PrerequisiteWaiver, error) {
	w, ok := s.waivers[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *w
	return &cp, nil
}

func (s *approvalRepoStub) CreateWaiver(ctx context.Context, waiver *models.PrerequisiteWaiver) error {
	s.seq++
	waiver.ID = fmt.Sprintf("wvr-%d", s.seq)
	cp := *waiver
	s.waivers[waiver.ID] = &cp
	return nil
}

func (s *approvalRepoStub) DecideWaiver(ctx context.Context, id string, status models.ExceptionStatus, decidedBy string, decidedAt time.Time) error {
	w := s.waivers[id]
	w.Status = status
	w.ApprovedBy = &decidedBy
	w.ApprovedAt = &decidedAt
	return nil
}

var approvalNow = time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)

func newTestApprovalService(repo *approvalRepoStub) *ApprovalService {
	svc := NewApprovalService(repo, courseFinderStub{}, nil, nil)
	svc.now = func() time.Time { return approvalNow }
	return svc
}

func claimsFor(userID string, role models.UserRole) *models.JWTClaims {
	return &models.JWTClaims{UserID: userID, Role: role}
}

func overrideRequest(steps ...dto.ApprovalStepRequest) dto.CreateOverrideRequest {
	return dto.CreateOverrideRequest{
		StudentID:  "stu-1",
		CourseID:   "cs201",
		TargetType: models.TargetPrerequisiteRule,
		TargetID:   strPtr("rule-core"),
		Scope:      models.ScopeComplete,
		Reason:     "completed equivalent coursework abroad",
		Steps:      steps,
	}
}

func twoStepOverride(t *testing.T, svc *ApprovalService) *models.PrerequisiteOverride {
	t.Helper()
	override, err := svc.RequestOverride(context.Background(), overrideRequest(
		dto.ApprovalStepRequest{ApproverRole: models.RoleAdvisor, AssignedTo: strPtr("advisor-1")},
		dto.ApprovalStepRequest{ApproverRole: models.RoleRegistrar},
	), claimsFor("advisor-9", models.RoleAdvisor))
	require.NoError(t, err)
	require.Len(t, override.Steps, 2)
	return override
}

func approve() dto.StepDecisionRequest {
	return dto.StepDecisionRequest{Decision: DecisionApprove}
}

func TestRequestOverrideDefaultsToRegistrarStep(t *testing.T) {
	repo := newApprovalRepoStub()
	svc := newTestApprovalService(repo)

	override, err := svc.RequestOverride(context.Background(), overrideRequest(), claimsFor("advisor-9", models.RoleAdvisor))
	require.NoError(t, err)
	assert.Equal(t, models.ExceptionPending, override.Status)
	assert.Equal(t, "advisor-9", override.RequestedBy)
	assert.Equal(t, approvalNow, override.EffectiveFrom)
	require.Len(t, override.Steps, 1)
	assert.Equal(t, models.RoleRegistrar, override.Steps[0].ApproverRole)
	assert.True(t, override.Steps[0].IsMandatory)
	assert.Equal(t, models.StepPending, override.Steps[0].Status)
	assert.Equal(t, 1, override.Steps[0].StepOrder)
}

func TestRequestOverrideRejectsInvalidInput(t *testing.T) {
	past := approvalNow.AddDate(0, 0, -1)
	optional := false

	cases := map[string]struct {
		mutate func(*dto.CreateOverrideRequest)
		target error
	}{
		"short reason": {func(r *dto.CreateOverrideRequest) { r.Reason = "no" }, appErrors.ErrValidation},
		"partial without conditions": {func(r *dto.CreateOverrideRequest) { r.Scope = models.ScopePartial }, appErrors.ErrValidation},
		"missing target id": {func(r *dto.CreateOverrideRequest) { r.TargetID = nil }, appErrors.ErrValidation},
		"partial requirement": {func(r *dto.CreateOverrideRequest) {
			r.TargetType = models.TargetPrerequisiteRequirement
			r.Scope = models.ScopePartial
			r.Conditions = []string{"req-cs101"}
		}, appErrors.ErrValidation},
		"expires before effective": {func(r *dto.CreateOverrideRequest) { r.ExpiresAt = &past }, appErrors.ErrValidation},
		"review without date":      {func(r *dto.CreateOverrideRequest) { r.RequiresPeriodicReview = true }, appErrors.ErrValidation},
		"only optional steps": {func(r *dto.CreateOverrideRequest) {
			r.Steps = []dto.ApprovalStepRequest{{ApproverRole: models.RoleRegistrar, IsMandatory: &optional}}
		}, appErrors.ErrValidation},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			svc := newTestApprovalService(newApprovalRepoStub())
			req := overrideRequest()
			tc.mutate(&req)
			_, err := svc.RequestOverride(context.Background(), req, claimsFor("advisor-9", models.RoleAdvisor))
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.target))
		})
	}
}

func TestRequestOverrideUnknownCourse(t *testing.T) {
	svc := NewApprovalService(newApprovalRepoStub(), courseFinderStub{err: sql.ErrNoRows}, nil, nil)

	_, err := svc.RequestOverride(context.Background(), overrideRequest(), claimsFor("advisor-9", models.RoleAdvisor))
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}

func TestRequestOverrideRequiresClaims(t *testing.T) {
	svc := newTestApprovalService(newApprovalRepoStub())

	_, err := svc.RequestOverride(context.Background(), overrideRequest(), nil)
	assert.True(t, errors.Is(err, appErrors.ErrUnauthorized))
}

func TestDecideStepsInOrderApprovesOverride(t *testing.T) {
	repo := newApprovalRepoStub()
	svc := newTestApprovalService(repo)
	override := twoStepOverride(t, svc)
	ctx := context.Background()

	updated, err := svc.DecideStep(ctx, override.ID, override.Steps[0].ID, approve(), claimsFor("advisor-1", models.RoleAdvisor))
	require.NoError(t, err)
	assert.Equal(t, models.ExceptionPending, updated.Status)
	assert.Equal(t, models.StepApproved, updated.Steps[0].Status)
	require.Len(t, repo.decisions, 1)
	assert.Empty(t, repo.decisions[0].OverrideStatus)
	assert.Equal(t, models.StepPending, repo.decisions[0].FromStatus)

	updated, err = svc.DecideStep(ctx, override.ID, override.Steps[1].ID, approve(), claimsFor("registrar-1", models.RoleRegistrar))
	require.NoError(t, err)
	assert.Equal(t, models.ExceptionApproved, updated.Status)
	require.Len(t, repo.decisions, 2)
	assert.Equal(t, models.ExceptionApproved, repo.decisions[1].OverrideStatus)
	require.NotNil(t, repo.decisions[1].DecidedAt)
	assert.Equal(t, approvalNow, *repo.decisions[1].DecidedAt)
}

func TestDecideStepOutOfOrder(t *testing.T) {
	repo := newApprovalRepoStub()
	svc := newTestApprovalService(repo)
	override := twoStepOverride(t, svc)

	_, err := svc.DecideStep(context.Background(), override.ID, override.Steps[1].ID, approve(), claimsFor("registrar-1", models.RoleRegistrar))
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrPreconditionFailed))
	assert.Empty(t, repo.decisions)
}

func TestDecideStepForbidsRequesterAndWrongApprover(t *testing.T) {
	repo := newApprovalRepoStub()
	svc := newTestApprovalService(repo)
	ctx := context.Background()

	override, err := svc.RequestOverride(ctx, overrideRequest(), claimsFor("registrar-1", models.RoleRegistrar))
	require.NoError(t, err)

	_, err = svc.DecideStep(ctx, override.ID, override.Steps[0].ID, approve(), claimsFor("registrar-1", models.RoleRegistrar))
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))

	_, err = svc.DecideStep(ctx, override.ID, override.Steps[0].ID, approve(), claimsFor("advisor-1", models.RoleAdvisor))
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))

	updated, err := svc.DecideStep(ctx, override.ID, override.Steps[0].ID, approve(), claimsFor("admin-1", models.RoleAdmin))
	require.NoError(t, err)
	assert.Equal(t, models.ExceptionApproved, updated.Status)
}

func TestDecideStepRejectClosesWorkflow(t *testing.T) {
	repo := newApprovalRepoStub()
	svc := newTestApprovalService(repo)
	override := twoStepOverride(t, svc)
	ctx := context.Background()

	updated, err := svc.DecideStep(ctx, override.ID, override.Steps[0].ID,
		dto.StepDecisionRequest{Decision: DecisionReject, Comment: strPtr("  insufficient evidence ")}, claimsFor("advisor-1", models.RoleAdvisor))
	require.NoError(t, err)
	assert.Equal(t, models.ExceptionRejected, updated.Status)
	require.NotNil(t, repo.decisions[0].Comment)
	assert.Equal(t, "insufficient evidence", *repo.decisions[0].Comment)

	_, err = svc.DecideStep(ctx, override.ID, override.Steps[1].ID, approve(), claimsFor("registrar-1", models.RoleRegistrar))
	assert.True(t, errors.Is(err, appErrors.ErrWorkflowClosed))
}

func TestDecideStepDelegation(t *testing.T) {
	repo := newApprovalRepoStub()
	svc := newTestApprovalService(repo)
	ctx := context.Background()
	override, err := svc.RequestOverride(ctx, overrideRequest(), claimsFor("advisor-9", models.RoleAdvisor))
	require.NoError(t, err)
	stepID := override.Steps[0].ID

	_, err = svc.DecideStep(ctx, override.ID, stepID, dto.StepDecisionRequest{Decision: DecisionDelegate}, claimsFor("registrar-1", models.RoleRegistrar))
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	_, err = svc.DecideStep(ctx, override.ID, stepID, dto.StepDecisionRequest{Decision: DecisionDelegate, DelegateTo: strPtr("advisor-9")}, claimsFor("registrar-1", models.RoleRegistrar))
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	updated, err := svc.DecideStep(ctx, override.ID, stepID, dto.StepDecisionRequest{Decision: DecisionDelegate, DelegateTo: strPtr("registrar-2")}, claimsFor("registrar-1", models.RoleRegistrar))
	require.NoError(t, err)
	assert.Equal(t, models.StepDelegated, updated.Steps[0].Status)
	assert.Equal(t, models.ExceptionPending, updated.Status)

	_, err = svc.DecideStep(ctx, override.ID, stepID, approve(), claimsFor("registrar-1", models.RoleRegistrar))
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))

	updated, err = svc.DecideStep(ctx, override.ID, stepID, approve(), claimsFor("registrar-2", models.RoleRegistrar))
	require.NoError(t, err)
	assert.Equal(t, models.ExceptionApproved, updated.Status)
	assert.Equal(t, models.StepDelegated, repo.decisions[len(repo.decisions)-1].FromStatus)
}

func TestDecideStepErrors(t *testing.T) {
	repo := newApprovalRepoStub()
	svc := newTestApprovalService(repo)
	ctx := context.Background()
	override, err := svc.RequestOverride(ctx, overrideRequest(), claimsFor("advisor-9", models.RoleAdvisor))
	require.NoError(t, err)

	_, err = svc.DecideStep(ctx, "missing", "step", approve(), claimsFor("registrar-1", models.RoleRegistrar))
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))

	_, err = svc.DecideStep(ctx, override.ID, "missing", approve(), claimsFor("registrar-1", models.RoleRegistrar))
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))

	_, err = svc.DecideStep(ctx, override.ID, override.Steps[0].ID, dto.StepDecisionRequest{Decision: "MAYBE"}, claimsFor("registrar-1", models.RoleRegistrar))
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	repo.applyErr = sql.ErrNoRows
	_, err = svc.DecideStep(ctx, override.ID, override.Steps[0].ID, approve(), claimsFor("registrar-1", models.RoleRegistrar))
	assert.True(t, errors.Is(err, appErrors.ErrConflict))
}

func TestRecordReview(t *testing.T) {
	repo := newApprovalRepoStub()
	svc := newTestApprovalService(repo)
	ctx := context.Background()

	firstReview := approvalNow.AddDate(0, 3, 0)
	req := overrideRequest()
	req.RequiresPeriodicReview = true
	req.NextReviewDate = &firstReview
	override, err := svc.RequestOverride(ctx, req, claimsFor("advisor-9", models.RoleAdvisor))
	require.NoError(t, err)

	next := approvalNow.AddDate(0, 6, 0)
	_, err = svc.RecordReview(ctx, override.ID, dto.ReviewOverrideRequest{NextReviewDate: next}, claimsFor("registrar-1", models.RoleRegistrar))
	assert.True(t, errors.Is(err, appErrors.ErrPreconditionFailed))

	_, err = svc.DecideStep(ctx, override.ID, override.Steps[0].ID, approve(), claimsFor("registrar-1", models.RoleRegistrar))
	require.NoError(t, err)

	_, err = svc.RecordReview(ctx, override.ID, dto.ReviewOverrideRequest{NextReviewDate: approvalNow.AddDate(0, 0, -1)}, claimsFor("registrar-1", models.RoleRegistrar))
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	updated, err := svc.RecordReview(ctx, override.ID, dto.ReviewOverrideRequest{NextReviewDate: next}, claimsFor("registrar-1", models.RoleRegistrar))
	require.NoError(t, err)
	require.NotNil(t, updated.NextReviewDate)
	assert.Equal(t, next, *updated.NextReviewDate)
	require.NotNil(t, updated.LastReviewedBy)
	assert.Equal(t, "registrar-1", *updated.LastReviewedBy)
}

func TestWaiverLifecycle(t *testing.T) {
	repo := newApprovalRepoStub()
	svc := newTestApprovalService(repo)
	ctx := context.Background()

	waiver, err := svc.RequestWaiver(ctx, dto.CreateWaiverRequest{
		StudentID:  "stu-1",
		CourseID:   "cs201",
		TargetType: models.TargetPrerequisiteRequirement,
		TargetID:   strPtr("req-cs101"),
		Scope:      models.ScopeComplete,
		Reason:     "AP credit verified",
	}, claimsFor("advisor-9", models.RoleAdvisor))
	require.NoError(t, err)
	assert.Equal(t, models.ExceptionPending, waiver.Status)

	_, err = svc.DecideWaiver(ctx, waiver.ID, dto.WaiverDecisionRequest{Decision: DecisionApprove}, claimsFor("advisor-9", models.RoleAdvisor))
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))

	decided, err := svc.DecideWaiver(ctx, waiver.ID, dto.WaiverDecisionRequest{Decision: DecisionApprove}, claimsFor("registrar-1", models.RoleRegistrar))
	require.NoError(t, err)
	assert.Equal(t, models.ExceptionApproved, decided.Status)
	require.NotNil(t, decided.ApprovedBy)
	assert.Equal(t, "registrar-1", *decided.ApprovedBy)

	_, err = svc.DecideWaiver(ctx, waiver.ID, dto.WaiverDecisionRequest{Decision: DecisionReject}, claimsFor("registrar-2", models.RoleRegistrar))
	assert.True(t, errors.Is(err, appErrors.ErrWorkflowClosed))

	_, err = svc.DecideWaiver(ctx, "missing", dto.WaiverDecisionRequest{Decision: DecisionReject}, claimsFor("registrar-2", models.RoleRegistrar))
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}

func TestRequestWaiverExpiryMustBeFuture(t *testing.T) {
	svc := newTestApprovalService(newApprovalRepoStub())
	past := approvalNow.Add(-time.Hour)

	_, err := svc.RequestWaiver(context.Background(), dto.CreateWaiverRequest{
		StudentID:  "stu-1",
		CourseID:   "cs201",
		TargetType: models.TargetAllPrerequisites,
		Scope:      models.ScopeComplete,
		Reason:     "transfer student",
		ExpiresAt:  &past,
	}, claimsFor("advisor-9", models.RoleAdvisor))
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}
