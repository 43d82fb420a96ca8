package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-eligibility-api/internal/dto"
	"github.com/noah-isme/course-eligibility-api/internal/models"
	appErrors "github.com/noah-isme/course-eligibility-api/pkg/errors"
)

type memoryCacheRepo struct {
	items   map[string][]byte
	deleted []string
}

func newMemoryCacheRepo() *memoryCacheRepo {
	return &memoryCacheRepo{items: map[string][]byte{}}
}

func (m *memoryCacheRepo) Get(ctx context.Context, key string, dest interface{}) error {
	raw, ok := m.items[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (m *memoryCacheRepo) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.items[key] = raw
	return nil
}

func (m *memoryCacheRepo) DeleteByPattern(ctx context.Context, pattern string) error {
	m.deleted = append(m.deleted, pattern)
	prefix := strings.TrimSuffix(pattern, "*")
	for key := range m.items {
		if strings.HasPrefix(key, prefix) {
			delete(m.items, key)
		}
	}
	return nil
}

type ruleRepoStub struct {
	set         *models.RuleSet
	loads       int
	asOf        []time.Time
	requirement *models.PrerequisiteRequirement
	courseID    string
	findErr     error
	activated   bool
	activations []string
}

func (s *ruleRepoStub) LoadApplicableRules(ctx context.Context, courseID string, asOf time.Time) (*models.RuleSet, error) {
	s.loads++
	s.asOf = append(s.asOf, asOf)
	return s.set, nil
}

func (s *ruleRepoStub) FindRequirement(ctx context.Context, id string) (*models.PrerequisiteRequirement, string, error) {
	if s.findErr != nil {
		return nil, "", s.findErr
	}
	return s.requirement, s.courseID, nil
}

func (s *ruleRepoStub) ActivateRequirement(ctx context.Context, id string) (bool, error) {
	s.activations = append(s.activations, id)
	return s.activated, nil
}

type cycleGuardStub struct {
	result    *models.CircularDependencyResult
	recorded  []*models.CircularDependencyResult
	scheduled []string
}

func (g *cycleGuardStub) WouldCreateCycle(ctx context.Context, courseID, requiredCourseID string) (*models.CircularDependencyResult, error) {
	if g.result != nil {
		return g.result, nil
	}
	return &models.CircularDependencyResult{CourseID: courseID, Severity: models.SeverityNone}, nil
}

func (g *cycleGuardStub) Record(ctx context.Context, result *models.CircularDependencyResult) error {
	g.recorded = append(g.recorded, result)
	return nil
}

func (g *cycleGuardStub) Schedule(courseID string) error {
	g.scheduled = append(g.scheduled, courseID)
	return nil
}

func inactiveCourseRequirement() *models.PrerequisiteRequirement {
	req := courseRequirement("req-new", "cs101", "CS101", "C")
	req.IsActive = false
	return &req
}

func TestLookupCachesPerCourseAndDay(t *testing.T) {
	repo := &ruleRepoStub{set: cs201RuleSet()}
	cacheRepo := newMemoryCacheRepo()
	svc := NewRuleService(repo, NewCacheService(cacheRepo, nil, time.Minute, nil, true), nil, time.Minute, nil)
	ctx := context.Background()
	morning := time.Date(2026, 8, 1, 8, 0, 0, 0, time.UTC)

	set, hit, err := svc.Lookup(ctx, "cs201", morning)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, "cs201", set.CourseID)

	set, hit, err = svc.Lookup(ctx, "cs201", morning.Add(6*time.Hour))
	require.NoError(t, err)
	assert.True(t, hit)
	require.Len(t, set.PrerequisiteRules, 1)
	assert.Equal(t, "rule-core", set.PrerequisiteRules[0].ID)
	assert.Equal(t, 1, repo.loads)

	_, hit, err = svc.Lookup(ctx, "cs201", morning.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 2, repo.loads)
	assert.Equal(t, []time.Time{
		time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 8, 2, 0, 0, 0, 0, time.UTC),
	}, repo.asOf)
}

func TestLookupQueriesByUTCDay(t *testing.T) {
	repo := &ruleRepoStub{set: cs201RuleSet()}
	svc := NewRuleService(repo, nil, nil, 0, nil)
	jakarta := time.FixedZone("WIB", 7*60*60)

	_, _, err := svc.Lookup(context.Background(), "cs201", time.Date(2026, 8, 2, 5, 30, 0, 0, jakarta))
	require.NoError(t, err)
	require.Len(t, repo.asOf, 1)
	assert.Equal(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), repo.asOf[0])
}

func TestLookupWithoutCache(t *testing.T) {
	repo := &ruleRepoStub{set: cs201RuleSet()}
	svc := NewRuleService(repo, nil, nil, 0, nil)

	_, hit, err := svc.Lookup(context.Background(), "cs201", time.Now())
	require.NoError(t, err)
	assert.False(t, hit)

	_, _, err = svc.Lookup(context.Background(), " ", time.Now())
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}

func TestActivateRequirementRefusedByCycle(t *testing.T) {
	cycle := &models.CircularDependencyResult{
		CourseID:              "cs201",
		HasCircularDependency: true,
		DependencyPath:        []string{"CS201", "CS101", "CS201"},
		InvolvedCourses:       []string{"CS101", "CS201"},
		Severity:              models.SeverityLow,
	}
	repo := &ruleRepoStub{requirement: inactiveCourseRequirement(), courseID: "cs201", activated: true}
	guard := &cycleGuardStub{result: cycle}
	svc := NewRuleService(repo, nil, guard, 0, nil)

	check, err := svc.ActivateRequirement(context.Background(), "req-new", "registrar-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrCircularDependency))
	assert.Contains(t, err.Error(), "CS201 -> CS101 -> CS201")
	assert.Same(t, cycle, check)
	require.Len(t, guard.recorded, 1)
	recorded := guard.recorded[0]
	assert.True(t, recorded.IsResolved)
	assert.False(t, recorded.Blocking())
	require.NotNil(t, recorded.ResolutionNote)
	assert.Equal(t, "activation refused", *recorded.ResolutionNote)
	require.NotNil(t, recorded.ResolvedBy)
	assert.Equal(t, "registrar-1", *recorded.ResolvedBy)
	assert.Empty(t, repo.activations)
	assert.Empty(t, guard.scheduled)
}

func TestRefusedActivationDoesNotBlockValidation(t *testing.T) {
	store := newDetectionStoreStub()
	deps, _ := newTestDependencyService(store, edge("A", "B"))
	req := courseRequirement("req-b-needs-a", "id-A", "A", "C")
	req.IsActive = false
	repo := &ruleRepoStub{requirement: &req, courseID: "id-B", activated: true}
	rules := NewRuleService(repo, nil, deps, 0, nil)
	ctx := context.Background()

	check, err := rules.ActivateRequirement(ctx, "req-b-needs-a", "registrar-1")
	require.True(t, errors.Is(err, appErrors.ErrCircularDependency))
	require.NotNil(t, check)
	assert.Equal(t, []string{"A", "B", "A"}, []string(check.DependencyPath))
	assert.Empty(t, repo.activations)
	assert.Equal(t, 1, store.count())

	latest, err := deps.Latest(ctx, "id-B")
	require.NoError(t, err)
	assert.True(t, latest.HasCircularDependency)
	assert.True(t, latest.IsResolved)

	f := newValidationFixture(nil, nil, func(p *ValidationServiceParams) { p.Cycles = deps })
	outcome, err := f.svc.Validate(ctx, dto.ValidateEnrollmentRequest{StudentID: "stu-1", CourseID: "id-B", TermID: "2026-fall"}, registrarClaims())
	require.NoError(t, err)
	assert.True(t, outcome.CanEnroll)
	assert.Equal(t, models.StatusEligible, outcome.OverallStatus)
	assert.Empty(t, outcome.FailureReasons)
}

func TestActivateRequirementInvalidatesCacheAndSchedulesScan(t *testing.T) {
	repo := &ruleRepoStub{requirement: inactiveCourseRequirement(), courseID: "cs201", activated: true}
	guard := &cycleGuardStub{}
	cacheRepo := newMemoryCacheRepo()
	svc := NewRuleService(repo, NewCacheService(cacheRepo, nil, time.Minute, nil, true), guard, time.Minute, nil)

	check, err := svc.ActivateRequirement(context.Background(), "req-new", "registrar-1")
	require.NoError(t, err)
	require.NotNil(t, check)
	assert.False(t, check.HasCircularDependency)
	assert.Equal(t, []string{"req-new"}, repo.activations)
	assert.Equal(t, []string{"eligibility:rules:cs201:*"}, cacheRepo.deleted)
	assert.Equal(t, []string{"cs201"}, guard.scheduled)
}

func TestActivateRequirementErrors(t *testing.T) {
	ctx := context.Background()

	svc := NewRuleService(&ruleRepoStub{findErr: sql.ErrNoRows}, nil, nil, 0, nil)
	_, err := svc.ActivateRequirement(ctx, "missing", "registrar-1")
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))

	active := inactiveCourseRequirement()
	active.IsActive = true
	svc = NewRuleService(&ruleRepoStub{requirement: active, courseID: "cs201"}, nil, nil, 0, nil)
	_, err = svc.ActivateRequirement(ctx, "req-new", "registrar-1")
	assert.True(t, errors.Is(err, appErrors.ErrConflict))

	broken := inactiveCourseRequirement()
	broken.RequiredCourseCode = nil
	svc = NewRuleService(&ruleRepoStub{requirement: broken, courseID: "cs201"}, nil, &cycleGuardStub{}, 0, nil)
	_, err = svc.ActivateRequirement(ctx, "req-new", "registrar-1")
	assert.True(t, errors.Is(err, appErrors.ErrRuleConfiguration))

	svc = NewRuleService(&ruleRepoStub{requirement: inactiveCourseRequirement(), courseID: "cs201", activated: false}, nil, nil, 0, nil)
	_, err = svc.ActivateRequirement(ctx, "req-new", "registrar-1")
	assert.True(t, errors.Is(err, appErrors.ErrConflict))
}
