package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/course-eligibility-api/internal/dto"
	"github.com/noah-isme/course-eligibility-api/internal/models"
	appErrors "github.com/noah-isme/course-eligibility-api/pkg/errors"
	"github.com/noah-isme/course-eligibility-api/pkg/export"
)

type studentRecordProvider interface {
	GetStudentRecord(ctx context.Context, studentID string) (*models.StudentRecord, error)
}

type ruleLoader interface {
	LoadApplicableRules(ctx context.Context, courseID string, asOf time.Time) (*models.RuleSet, error)
}

type cycleBlockReader interface {
	Blocking(ctx context.Context, courseID string) ([]models.CircularDependencyResult, error)
}

type exceptionApplier interface {
	Apply(ctx context.Context, key models.ValidationKey, asOf time.Time, checks *CheckSet) (*CheckSet, []models.AppliedException, []models.AppliedException, error)
}

type validationStore interface {
	CreateVersioned(ctx context.Context, result *models.PrerequisiteValidationResult) error
	GetCurrent(ctx context.Context, key models.ValidationKey) (*models.PrerequisiteValidationResult, error)
	GetByID(ctx context.Context, id string) (*models.PrerequisiteValidationResult, error)
	ListHistory(ctx context.Context, key models.ValidationKey, limit int) ([]models.PrerequisiteValidationResult, error)
}

// ValidationServiceConfig tunes the orchestrator.
type ValidationServiceConfig struct {
	ExportsEnabled bool
}

// ValidationServiceParams groups constructor dependencies.
type ValidationServiceParams struct {
	Courses    courseFinder
	Records    studentRecordProvider
	Rules      ruleLoader
	Cycles     cycleBlockReader
	Evaluator  *RequirementEvaluator
	Exceptions exceptionApplier
	Store      validationStore
	Metrics    *MetricsService
	Validator  *validator.Validate
	Logger     *zap.Logger
	CSV        csvRenderer
	PDF        pdfRenderer
	Config     ValidationServiceConfig
}

// ValidationService orchestrates an eligibility validation: load, evaluate,
// combine, resolve exceptions and persist a new result version.
type ValidationService struct {
	courses    courseFinder
	records    studentRecordProvider
	rules      ruleLoader
	cycles     cycleBlockReader
	evaluator  *RequirementEvaluator
	exceptions exceptionApplier
	store      validationStore
	metrics    *MetricsService
	validator  *validator.Validate
	logger     *zap.Logger
	csv        csvRenderer
	pdf        pdfRenderer
	cfg        ValidationServiceConfig
	now        func() time.Time
}

// NewValidationService constructs a ValidationService.
func NewValidationService(params ValidationServiceParams) *ValidationService {
	svc := &ValidationService{
		courses:    params.Courses,
		records:    params.Records,
		rules:      params.Rules,
		cycles:     params.Cycles,
		evaluator:  params.Evaluator,
		exceptions: params.Exceptions,
		store:      params.Store,
		metrics:    params.Metrics,
		validator:  params.Validator,
		logger:     params.Logger,
		csv:        params.CSV,
		pdf:        params.PDF,
		cfg:        params.Config,
		now:        time.Now,
	}
	if svc.evaluator == nil {
		svc.evaluator = NewRequirementEvaluator(NewGradeScale(""))
	}
	if svc.validator == nil {
		svc.validator = validator.New()
	}
	if svc.logger == nil {
		svc.logger = zap.NewNop()
	}
	if svc.csv == nil {
		svc.csv = export.NewCSVExporter()
	}
	if svc.pdf == nil {
		svc.pdf = export.NewPDFExporter()
	}
	return svc
}

// Validate evaluates whether the student may enroll and persists the outcome as the
// newest result version for (student, course, term).
func (s *ValidationService) Validate(ctx context.Context, req dto.ValidateEnrollmentRequest, claims *models.JWTClaims) (*models.ValidationOutcome, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid validation payload")
	}
	if err := authorizeStudent(claims, req.StudentID); err != nil {
		return nil, err
	}
	key := models.ValidationKey{
		StudentID: strings.TrimSpace(req.StudentID),
		CourseID:  strings.TrimSpace(req.CourseID),
		TermID:    strings.TrimSpace(req.TermID),
	}
	asOf := s.now().UTC()
	if req.AsOf != nil {
		asOf = req.AsOf.UTC()
	}
	start := time.Now()
	log := s.logger.With(zap.String("student_id", key.StudentID), zap.String("course_id", key.CourseID), zap.String("term_id", key.TermID))

	if _, err := s.courses.FindByID(ctx, key.CourseID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}

	log.Debug("validation stage", zap.String("stage", "loading"))
	var (
		record   *models.StudentRecord
		rules    *models.RuleSet
		blocking []models.CircularDependencyResult
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rec, err := s.records.GetStudentRecord(gctx, key.StudentID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "student record not found")
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student record")
		}
		record = rec
		return nil
	})
	g.Go(func() error {
		set, err := s.rules.LoadApplicableRules(gctx, key.CourseID, asOf)
		if err != nil {
			return err
		}
		rules = set
		return nil
	})
	g.Go(func() error {
		if s.cycles == nil {
			return nil
		}
		found, err := s.cycles.Blocking(gctx, key.CourseID)
		if err != nil {
			return err
		}
		blocking = found
		return nil
	})
	if err := g.Wait(); err != nil {
		log.Error("validation inputs could not be loaded", zap.Error(err))
		return nil, err
	}

	log.Debug("validation stage", zap.String("stage", "evaluating"), zap.Int("prerequisite_rules", len(rules.PrerequisiteRules)),
		zap.Int("corequisite_rules", len(rules.CorequisiteRules)), zap.Int("restrictions", len(rules.Restrictions)))
	checks := s.evaluate(rules, EvaluationContext{Record: record, CourseID: key.CourseID, TermID: key.TermID, AsOf: asOf})

	log.Debug("validation stage", zap.String("stage", "exception_resolution"))
	adjusted, overrides, waivers := checks, []models.AppliedException(nil), []models.AppliedException(nil)
	if s.exceptions != nil {
		var err error
		adjusted, overrides, waivers, err = s.exceptions.Apply(ctx, key, asOf, checks)
		if err != nil {
			log.Error("exception resolution failed", zap.Error(err))
			return nil, err
		}
	}

	gate := adjusted.Gate()
	status := overallStatus(gate, len(blocking) > 0)
	result := &models.PrerequisiteValidationResult{
		StudentID:          key.StudentID,
		CourseID:           key.CourseID,
		TermID:             key.TermID,
		CanEnroll:          len(blocking) == 0 && !gate.Blocked,
		OverallStatus:      status,
		AsOf:               asOf,
		ValidatedAt:        s.now().UTC(),
		PrerequisiteChecks: adjusted.Prerequisites,
		CorequisiteChecks:  adjusted.Corequisites,
		RestrictionChecks:  adjusted.Restrictions,
		Overrides:          overrides,
		Waivers:            waivers,
		SetupIssues:        adjusted.SetupIssues(),
	}
	if claims != nil && claims.UserID != "" {
		actor := claims.UserID
		result.ValidatedBy = &actor
	}
	if len(result.SetupIssues) > 0 {
		log.Warn("course rules are misconfigured", zap.Int("issues", len(result.SetupIssues)), zap.Any("setup_issues", result.SetupIssues))
	}

	log.Debug("validation stage", zap.String("stage", "persisting"))
	if err := s.store.CreateVersioned(ctx, result); err != nil {
		log.Error("failed to persist validation result", zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store validation result")
	}
	result.IsCurrent = true
	s.metrics.ObserveValidation(result, time.Since(start))
	log.Info("enrollment validated",
		zap.String("status", string(status)),
		zap.Bool("can_enroll", result.CanEnroll),
		zap.Int("version", result.Version),
		zap.Int("applied_overrides", len(overrides)),
		zap.Int("applied_waivers", len(waivers)),
	)

	return &models.ValidationOutcome{
		CanEnroll:      result.CanEnroll,
		OverallStatus:  status,
		FailureReasons: failureReasons(result, blocking),
		Result:         result,
	}, nil
}

// evaluate runs every requirement and restriction and combines the rule results.
func (s *ValidationService) evaluate(rules *models.RuleSet, ec EvaluationContext) *CheckSet {
	reqByRule := make(map[string][]models.RequirementCheckResult, len(rules.PrerequisiteRules))
	for _, rule := range rules.PrerequisiteRules {
		results := make([]models.RequirementCheckResult, 0, len(rule.Requirements))
		for _, req := range rule.Requirements {
			results = append(results, s.evaluator.Evaluate(req, ec))
		}
		reqByRule[rule.ID] = results
	}
	coByRule := make(map[string][]models.RequirementCheckResult, len(rules.CorequisiteRules))
	for _, rule := range rules.CorequisiteRules {
		results := make([]models.RequirementCheckResult, 0, len(rule.Requirements))
		for _, req := range rule.Requirements {
			results = append(results, s.evaluator.EvaluateCorequisite(req, ec))
		}
		coByRule[rule.ID] = results
	}
	restrictions := make([]models.RestrictionCheckResult, 0, len(rules.Restrictions))
	for _, restriction := range rules.Restrictions {
		restrictions = append(restrictions, s.evaluator.EvaluateRestriction(restriction, ec))
	}
	return newCheckSet(newRuleTree(rules.PrerequisiteRules), rules.CorequisiteRules, reqByRule, coByRule, restrictions)
}

// overallStatus ranks outcomes: a frozen course first, then setup problems, then
// student failures, then passes that relied on exceptions or carry warnings.
func overallStatus(g Gate, frozen bool) models.ValidationStatus {
	switch {
	case frozen:
		return models.StatusBlockedCircular
	case g.ConfigError:
		return models.StatusConfigurationError
	case g.Blocked:
		return models.StatusNotEligible
	case g.Exceptions:
		return models.StatusEligibleWithExceptions
	case g.Warnings:
		return models.StatusEligibleWithWarnings
	default:
		return models.StatusEligible
	}
}

func failureReasons(result *models.PrerequisiteValidationResult, blocking []models.CircularDependencyResult) []string {
	reasons := make([]string, 0)
	for _, finding := range blocking {
		reasons = append(reasons, fmt.Sprintf("enrollment in this course is frozen by the circular prerequisite chain %s",
			strings.Join(finding.DependencyPath, " -> ")))
	}
	if !result.CanEnroll {
		reasons = append(reasons, result.FailureReasons()...)
	}
	return reasons
}

// Current returns the current result for the key.
func (s *ValidationService) Current(ctx context.Context, query dto.ValidationKeyQuery, claims *models.JWTClaims) (*models.PrerequisiteValidationResult, error) {
	key, err := s.keyFromQuery(query, claims)
	if err != nil {
		return nil, err
	}
	result, err := s.store.GetCurrent(ctx, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no validation result for student, course and term")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load validation result")
	}
	return result, nil
}

// History lists result versions for the key, newest first.
func (s *ValidationService) History(ctx context.Context, query dto.ValidationKeyQuery, claims *models.JWTClaims) ([]models.PrerequisiteValidationResult, error) {
	key, err := s.keyFromQuery(query, claims)
	if err != nil {
		return nil, err
	}
	results, err := s.store.ListHistory(ctx, key, query.Limit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list validation history")
	}
	if results == nil {
		results = []models.PrerequisiteValidationResult{}
	}
	return results, nil
}

// Get returns one stored result.
func (s *ValidationService) Get(ctx context.Context, id string, claims *models.JWTClaims) (*models.PrerequisiteValidationResult, error) {
	result, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "validation result not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load validation result")
	}
	if err := authorizeStudent(claims, result.StudentID); err != nil {
		return nil, err
	}
	return result, nil
}

// Export renders a stored result as a CSV or PDF eligibility report.
func (s *ValidationService) Export(ctx context.Context, id, format string, claims *models.JWTClaims) (*ExportFile, error) {
	if !s.cfg.ExportsEnabled {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "validation exports are disabled")
	}
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = FormatPDF
	}
	if format != FormatCSV && format != FormatPDF {
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}
	result, err := s.Get(ctx, id, claims)
	if err != nil {
		return nil, err
	}

	data := validationReport(result)
	file := &ExportFile{Filename: reportFilename(result, format)}
	switch format {
	case FormatCSV:
		file.ContentType = "text/csv"
		file.Data, err = s.csv.Render(data)
	case FormatPDF:
		file.ContentType = "application/pdf"
		file.Data, err = s.pdf.Render(data, fmt.Sprintf("Enrollment eligibility: %s / %s", result.CourseID, result.TermID))
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render validation report")
	}
	return file, nil
}

func (s *ValidationService) keyFromQuery(query dto.ValidationKeyQuery, claims *models.JWTClaims) (models.ValidationKey, error) {
	if err := s.validator.Struct(query); err != nil {
		return models.ValidationKey{}, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid validation query")
	}
	if err := authorizeStudent(claims, query.StudentID); err != nil {
		return models.ValidationKey{}, err
	}
	return models.ValidationKey{
		StudentID: strings.TrimSpace(query.StudentID),
		CourseID:  strings.TrimSpace(query.CourseID),
		TermID:    strings.TrimSpace(query.TermID),
	}, nil
}

// authorizeStudent lets staff act on any student and students only on themselves.
func authorizeStudent(claims *models.JWTClaims, studentID string) error {
	if claims == nil {
		return appErrors.ErrUnauthorized
	}
	if claims.Role.IsStaff() {
		return nil
	}
	if claims.Role == models.RoleStudent && claims.UserID == strings.TrimSpace(studentID) {
		return nil
	}
	return appErrors.Clone(appErrors.ErrForbidden, "students may only access their own eligibility")
}
