package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/course-eligibility-api/internal/models"
	"github.com/noah-isme/course-eligibility-api/pkg/cache"
	appErrors "github.com/noah-isme/course-eligibility-api/pkg/errors"
)

type ruleStore interface {
	LoadApplicableRules(ctx context.Context, courseID string, asOf time.Time) (*models.RuleSet, error)
	FindRequirement(ctx context.Context, id string) (*models.PrerequisiteRequirement, string, error)
	ActivateRequirement(ctx context.Context, id string) (bool, error)
}

type ruleCycleGuard interface {
	WouldCreateCycle(ctx context.Context, courseID, requiredCourseID string) (*models.CircularDependencyResult, error)
	Record(ctx context.Context, result *models.CircularDependencyResult) error
	Schedule(courseID string) error
}

// RuleService loads the rules gating a course and guards rule authoring.
type RuleService struct {
	repo   ruleStore
	cache  *CacheService
	guard  ruleCycleGuard
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time
}

// refusedActivationNote marks detections of cycles that were prevented, not built.
const refusedActivationNote = "activation refused"


// NewRuleService constructs the service. cache and guard are optional.
func NewRuleService(repo ruleStore, cacheSvc *CacheService, guard ruleCycleGuard, ttl time.Duration, logger *zap.Logger) *RuleService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RuleService{repo: repo, cache: cacheSvc, guard: guard, ttl: ttl, logger: logger, now: time.Now}
}

// LoadApplicableRules returns active rules for the course effective on the UTC
// calendar day of asOf. Rule windows are day granular, so sets are cached per day.
func (s *RuleService) LoadApplicableRules(ctx context.Context, courseID string, asOf time.Time) (*models.RuleSet, error) {
	set, _, err := s.Lookup(ctx, courseID, asOf)
	return set, err
}

// Lookup is LoadApplicableRules that also reports whether the set came from cache.
func (s *RuleService) Lookup(ctx context.Context, courseID string, asOf time.Time) (*models.RuleSet, bool, error) {
	if strings.TrimSpace(courseID) == "" {
		return nil, false, appErrors.Clone(appErrors.ErrValidation, "course id is required")
	}
	day := ruleDay(asOf)
	key := cache.RuleSetKey(courseID, day)
	var cached models.RuleSet
	if hit, err := s.cache.Get(ctx, key, &cached); err == nil && hit {
		return &cached, true, nil
	}

	set, err := s.repo.LoadApplicableRules(ctx, courseID, day)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course rules")
	}
	_ = s.cache.Set(ctx, key, set, s.ttl)
	return set, false, nil
}

// InvalidateCourse drops cached rule sets of a course after rule changes.
func (s *RuleService) InvalidateCourse(ctx context.Context, courseID string) error {
	return s.cache.Invalidate(ctx, cache.RuleSetPattern(courseID))
}

// ActivateRequirement activates an authored requirement unless it would make a
// course transitively require itself. A refused activation is recorded as an
// already resolved detection, since the edge never exists, and returned
// alongside ErrCircularDependency.
func (s *RuleService) ActivateRequirement(ctx context.Context, requirementID, actorID string) (*models.CircularDependencyResult, error) {
	req, courseID, err := s.repo.FindRequirement(ctx, requirementID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "requirement not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load requirement")
	}
	if req.IsActive {
		return nil, appErrors.Clone(appErrors.ErrConflict, "requirement is already active")
	}

	var check *models.CircularDependencyResult
	if req.Type == models.RequirementCompletedCourse {
		params, err := req.CourseCompletion()
		if err != nil {
			return nil, appErrors.Clone(appErrors.ErrRuleConfiguration, err.Error())
		}
		if s.guard != nil {
			check, err = s.guard.WouldCreateCycle(ctx, courseID, params.CourseID)
			if err != nil {
				return nil, err
			}
			if check.HasCircularDependency {
				markRefused(check, actorID, s.now().UTC())
				if err := s.guard.Record(ctx, check); err != nil {
					return nil, err
				}
				s.logger.Warn("requirement activation refused",
					zap.String("requirement_id", requirementID),
					zap.String("actor_id", actorID),
					zap.Strings("path", check.DependencyPath),
				)
				return check, appErrors.Clone(appErrors.ErrCircularDependency,
					fmt.Sprintf("activating requirement %s would close the cycle %s", requirementID, strings.Join(check.DependencyPath, " -> ")))
			}
		}
	}

	activated, err := s.repo.ActivateRequirement(ctx, requirementID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to activate requirement")
	}
	if !activated {
		return nil, appErrors.Clone(appErrors.ErrConflict, "requirement changed concurrently")
	}
	s.logger.Info("requirement activated", zap.String("requirement_id", requirementID), zap.String("course_id", courseID), zap.String("actor_id", actorID))

	if err := s.InvalidateCourse(ctx, courseID); err != nil {
		s.logger.Warn("failed to invalidate rule cache", zap.String("course_id", courseID), zap.Error(err))
	}
	if s.guard != nil {
		if err := s.guard.Schedule(courseID); err != nil {
			s.logger.Debug("dependency scan not scheduled", zap.String("course_id", courseID), zap.Error(err))
		}
	}
	return check, nil
}

func ruleDay(asOf time.Time) time.Time {
	y, m, d := asOf.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func markRefused(check *models.CircularDependencyResult, actorID string, at time.Time) {
	note := refusedActivationNote
	check.IsResolved = true
	check.ResolutionDate = &at
	check.ResolutionNote = &note
	if actorID != "" {
		check.ResolvedBy = &actorID
	}
}
