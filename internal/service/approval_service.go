package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/course-eligibility-api/internal/dto"
	"github.com/noah-isme/course-eligibility-api/internal/models"
	"github.com/noah-isme/course-eligibility-api/internal/repository"
	appErrors "github.com/noah-isme/course-eligibility-api/pkg/errors"
)

// Step decisions accepted by DecideStep.
const (
	DecisionApprove  = "APPROVE"
	DecisionReject   = "REJECT"
	DecisionDelegate = "DELEGATE"
)

type approvalStore interface {
	FindOverride(ctx context.Context, id string) (*models.PrerequisiteOverride, error)
	CreateOverride(ctx context.Context, override *models.PrerequisiteOverride) error
	ApplyStepDecision(ctx context.Context, d repository.StepDecision) error
	RecordReview(ctx context.Context, overrideID, reviewer string, nextReview time.Time) error
	FindWaiver(ctx context.Context, id string) (*models.PrerequisiteWaiver, error)
	CreateWaiver(ctx context.Context, waiver *models.PrerequisiteWaiver) error
	DecideWaiver(ctx context.Context, id string, status models.ExceptionStatus, decidedBy string, decidedAt time.Time) error
}

type courseFinder interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
}

// ApprovalService runs the override approval workflow and waiver decisions.
// Workflows advance only through explicit calls; due dates are never enforced.
type ApprovalService struct {
	repo      approvalStore
	courses   courseFinder
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewApprovalService constructs the service.
func NewApprovalService(repo approvalStore, courses courseFinder, validate *validator.Validate, logger *zap.Logger) *ApprovalService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ApprovalService{repo: repo, courses: courses, validator: validate, logger: logger, now: time.Now}
}

// RequestOverride opens an override and its approval workflow. Without explicit
// steps a single mandatory registrar step is created.
func (s *ApprovalService) RequestOverride(ctx context.Context, req dto.CreateOverrideRequest, claims *models.JWTClaims) (*models.PrerequisiteOverride, error) {
	if claims == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid override payload")
	}
	if err := validateTarget(req.TargetType, req.TargetID, req.Scope, req.Conditions); err != nil {
		return nil, err
	}
	if err := s.ensureCourse(ctx, req.CourseID); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	effective := now
	if req.EffectiveFrom != nil {
		effective = req.EffectiveFrom.UTC()
	}
	if req.ExpiresAt != nil && !req.ExpiresAt.After(effective) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "expiresAt must be after effectiveFrom")
	}
	if req.RequiresPeriodicReview && req.NextReviewDate == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "nextReviewDate is required when periodic review is required")
	}

	steps, err := buildSteps(req.Steps)
	if err != nil {
		return nil, err
	}
	override := &models.PrerequisiteOverride{
		StudentID:              req.StudentID,
		CourseID:               req.CourseID,
		TermID:                 trimmed(req.TermID),
		TargetType:             req.TargetType,
		TargetID:               trimmed(req.TargetID),
		Scope:                  req.Scope,
		Conditions:             req.Conditions,
		Status:                 models.ExceptionPending,
		Reason:                 strings.TrimSpace(req.Reason),
		RequestedBy:            claims.UserID,
		EffectiveFrom:          effective,
		ExpiresAt:              req.ExpiresAt,
		RequiresPeriodicReview: req.RequiresPeriodicReview,
		NextReviewDate:         req.NextReviewDate,
		Steps:                  steps,
	}
	if err := s.repo.CreateOverride(ctx, override); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create override")
	}
	s.logger.Info("override requested",
		zap.String("override_id", override.ID),
		zap.String("student_id", override.StudentID),
		zap.String("course_id", override.CourseID),
		zap.String("requested_by", claims.UserID),
	)
	return override, nil
}

// GetOverride returns an override with its workflow.
func (s *ApprovalService) GetOverride(ctx context.Context, id string) (*models.PrerequisiteOverride, error) {
	override, err := s.repo.FindOverride(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "override not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load override")
	}
	return override, nil
}

// DecideStep approves, rejects or delegates one workflow step. Steps are
// sequential: every earlier mandatory step must already be approved. A rejection
// closes the override permanently; approving the last mandatory step approves it.
func (s *ApprovalService) DecideStep(ctx context.Context, overrideID, stepID string, req dto.StepDecisionRequest, claims *models.JWTClaims) (*models.PrerequisiteOverride, error) {
	if claims == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid step decision")
	}
	override, err := s.GetOverride(ctx, overrideID)
	if err != nil {
		return nil, err
	}
	if override.Status != models.ExceptionPending {
		return nil, appErrors.Clone(appErrors.ErrWorkflowClosed, "override is already "+strings.ToLower(string(override.Status)))
	}

	idx := -1
	for i, step := range override.Steps {
		if step.ID == stepID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "approval step not found")
	}
	step := override.Steps[idx]
	if step.Status != models.StepPending && step.Status != models.StepDelegated {
		return nil, appErrors.Clone(appErrors.ErrConflict, "approval step already decided")
	}
	if claims.UserID == override.RequestedBy {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "requesters cannot approve their own override")
	}
	if !canActOnStep(step, claims) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not an approver for this step")
	}
	for _, earlier := range override.Steps {
		if earlier.StepOrder < step.StepOrder && earlier.IsMandatory && earlier.Status != models.StepApproved {
			return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "earlier approval steps are still pending")
		}
	}

	now := s.now().UTC()
	decision := repository.StepDecision{
		OverrideID: override.ID,
		StepID:     step.ID,
		FromStatus: step.Status,
		DecidedBy:  &claims.UserID,
		DecidedAt:  &now,
		Comment:    trimmed(req.Comment),
	}
	switch req.Decision {
	case DecisionApprove:
		decision.ToStatus = models.StepApproved
		override.Steps[idx].Status = models.StepApproved
		if stepsApproved(override.Steps) {
			decision.OverrideStatus = models.ExceptionApproved
		}
	case DecisionReject:
		decision.ToStatus = models.StepRejected
		decision.OverrideStatus = models.ExceptionRejected
	case DecisionDelegate:
		delegate := trimmed(req.DelegateTo)
		if delegate == nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "delegateTo is required to delegate a step")
		}
		if *delegate == claims.UserID || *delegate == override.RequestedBy {
			return nil, appErrors.Clone(appErrors.ErrValidation, "step cannot be delegated to the requester or to yourself")
		}
		decision.ToStatus = models.StepDelegated
		decision.DelegatedTo = delegate
	}

	if err := s.repo.ApplyStepDecision(ctx, decision); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "override changed concurrently")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record step decision")
	}
	s.logger.Info("override step decided",
		zap.String("override_id", override.ID),
		zap.String("step_id", step.ID),
		zap.String("decision", req.Decision),
		zap.String("decided_by", claims.UserID),
		zap.String("override_status", string(decision.OverrideStatus)),
	)
	return s.GetOverride(ctx, override.ID)
}

// RecordReview re-validates an approved override that requires periodic review.
func (s *ApprovalService) RecordReview(ctx context.Context, overrideID string, req dto.ReviewOverrideRequest, claims *models.JWTClaims) (*models.PrerequisiteOverride, error) {
	if claims == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid review payload")
	}
	override, err := s.GetOverride(ctx, overrideID)
	if err != nil {
		return nil, err
	}
	if override.Status != models.ExceptionApproved || !override.RequiresPeriodicReview {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "only approved overrides requiring periodic review can be reviewed")
	}
	if !req.NextReviewDate.After(s.now()) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "nextReviewDate must be in the future")
	}
	if err := s.repo.RecordReview(ctx, overrideID, claims.UserID, req.NextReviewDate.UTC()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "override changed concurrently")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record review")
	}
	return s.GetOverride(ctx, overrideID)
}

// RequestWaiver opens a waiver awaiting a single decision.
func (s *ApprovalService) RequestWaiver(ctx context.Context, req dto.CreateWaiverRequest, claims *models.JWTClaims) (*models.PrerequisiteWaiver, error) {
	if claims == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid waiver payload")
	}
	if err := validateTarget(req.TargetType, req.TargetID, req.Scope, req.Conditions); err != nil {
		return nil, err
	}
	if err := s.ensureCourse(ctx, req.CourseID); err != nil {
		return nil, err
	}
	if req.ExpiresAt != nil && !req.ExpiresAt.After(s.now()) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "expiresAt must be in the future")
	}

	waiver := &models.PrerequisiteWaiver{
		StudentID:   req.StudentID,
		CourseID:    req.CourseID,
		TermID:      trimmed(req.TermID),
		TargetType:  req.TargetType,
		TargetID:    trimmed(req.TargetID),
		Scope:       req.Scope,
		Conditions:  req.Conditions,
		Status:      models.ExceptionPending,
		Reason:      strings.TrimSpace(req.Reason),
		RequestedBy: claims.UserID,
		ExpiresAt:   req.ExpiresAt,
	}
	if err := s.repo.CreateWaiver(ctx, waiver); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create waiver")
	}
	s.logger.Info("waiver requested", zap.String("waiver_id", waiver.ID), zap.String("student_id", waiver.StudentID), zap.String("course_id", waiver.CourseID))
	return waiver, nil
}

// DecideWaiver approves or rejects a pending waiver.
func (s *ApprovalService) DecideWaiver(ctx context.Context, id string, req dto.WaiverDecisionRequest, claims *models.JWTClaims) (*models.PrerequisiteWaiver, error) {
	if claims == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid waiver decision")
	}
	waiver, err := s.findWaiver(ctx, id)
	if err != nil {
		return nil, err
	}
	if waiver.Status != models.ExceptionPending {
		return nil, appErrors.Clone(appErrors.ErrWorkflowClosed, "waiver is already "+strings.ToLower(string(waiver.Status)))
	}
	if waiver.RequestedBy == claims.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "requesters cannot decide their own waiver")
	}

	status := models.ExceptionRejected
	if req.Decision == DecisionApprove {
		status = models.ExceptionApproved
	}
	if err := s.repo.DecideWaiver(ctx, id, status, claims.UserID, s.now().UTC()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "waiver changed concurrently")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to decide waiver")
	}
	s.logger.Info("waiver decided", zap.String("waiver_id", id), zap.String("status", string(status)), zap.String("decided_by", claims.UserID))
	return s.findWaiver(ctx, id)
}

func (s *ApprovalService) findWaiver(ctx context.Context, id string) (*models.PrerequisiteWaiver, error) {
	waiver, err := s.repo.FindWaiver(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "waiver not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load waiver")
	}
	return waiver, nil
}

func (s *ApprovalService) ensureCourse(ctx context.Context, courseID string) error {
	if s.courses == nil {
		return nil
	}
	if _, err := s.courses.FindByID(ctx, courseID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	return nil
}

// validateTarget checks that the exception names what it covers.
func validateTarget(target models.ExceptionTarget, targetID *string, scope models.ExceptionScope, conditions []string) error {
	if !target.Valid() {
		return appErrors.Clone(appErrors.ErrValidation, "unknown targetType")
	}
	if scope == models.ScopePartial && len(conditions) == 0 {
		return appErrors.Clone(appErrors.ErrValidation, "partial scope requires conditions")
	}
	if target == models.TargetPrerequisiteRequirement && scope == models.ScopePartial {
		return appErrors.Clone(appErrors.ErrValidation, "a single requirement can only be covered completely")
	}
	needsID := target != models.TargetAllPrerequisites && !(target == models.TargetRestriction && scope == models.ScopePartial)
	if needsID && trimmed(targetID) == nil {
		return appErrors.Clone(appErrors.ErrValidation, "targetId is required for "+string(target))
	}
	return nil
}

func buildSteps(reqs []dto.ApprovalStepRequest) ([]models.OverrideApprovalStep, error) {
	if len(reqs) == 0 {
		reqs = []dto.ApprovalStepRequest{{ApproverRole: models.RoleRegistrar}}
	}
	steps := make([]models.OverrideApprovalStep, 0, len(reqs))
	mandatory := 0
	for i, r := range reqs {
		isMandatory := r.IsMandatory == nil || *r.IsMandatory
		if isMandatory {
			mandatory++
		}
		steps = append(steps, models.OverrideApprovalStep{
			StepOrder:    i + 1,
			ApproverRole: r.ApproverRole,
			AssignedTo:   trimmed(r.AssignedTo),
			IsMandatory:  isMandatory,
			Status:       models.StepPending,
			DueDate:      r.DueDate,
		})
	}
	if mandatory == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "at least one approval step must be mandatory")
	}
	return steps, nil
}

// canActOnStep decides whether the caller may decide a step. Delegated steps belong
// to the delegate; assigned steps to the assignee; otherwise the approver role acts.
// Admins may act on any step.
func canActOnStep(step models.OverrideApprovalStep, claims *models.JWTClaims) bool {
	if claims.Role == models.RoleAdmin {
		return true
	}
	if step.Status == models.StepDelegated && step.DelegatedTo != nil {
		return *step.DelegatedTo == claims.UserID
	}
	if step.AssignedTo != nil {
		return *step.AssignedTo == claims.UserID
	}
	return step.ApproverRole == claims.Role
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
