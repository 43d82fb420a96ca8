package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/course-eligibility-api/internal/models"
	appErrors "github.com/noah-isme/course-eligibility-api/pkg/errors"
	"github.com/noah-isme/course-eligibility-api/pkg/jobs"
)

const (
	jobScanCourse = "dependency_scan"
	jobScanAll    = "dependency_scan_all"
	scanAllKey    = "dependency_scan:*"
)

type dependencyDetector interface {
	Detect(ctx context.Context, courseID string) (*models.CircularDependencyResult, error)
	DetectAll(ctx context.Context) ([]models.CircularDependencyResult, error)
	WouldCreateCycle(ctx context.Context, courseID, requiredCourseID string) (*models.CircularDependencyResult, error)
}

type dependencyStore interface {
	Create(ctx context.Context, result *models.CircularDependencyResult) error
	FindByID(ctx context.Context, id string) (*models.CircularDependencyResult, error)
	Latest(ctx context.Context, courseID string) (*models.CircularDependencyResult, error)
	FindBlocking(ctx context.Context, courseID string) ([]models.CircularDependencyResult, error)
	Resolve(ctx context.Context, id, resolvedBy string, note *string, at time.Time) error
}

// ScanSummary reports a full-catalog detection run.
type ScanSummary struct {
	Scanned int      `json:"scanned"`
	Cycles  int      `json:"cycles"`
	Courses []string `json:"courses_with_cycles"`
}

// ScanConfig tunes the background detector.
type ScanConfig struct {
	Workers  int
	Retries  int
	Interval time.Duration
}

// DependencyService runs circular dependency detection out of band from validation.
type DependencyService struct {
	detector dependencyDetector
	store    dependencyStore
	metrics  *MetricsService
	logger   *zap.Logger
	now      func() time.Time

	mu     sync.Mutex
	queue  *jobs.Queue
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDependencyService constructs the service.
func NewDependencyService(detector dependencyDetector, store dependencyStore, metrics *MetricsService, logger *zap.Logger) *DependencyService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DependencyService{detector: detector, store: store, metrics: metrics, logger: logger, now: time.Now}
}

// Scan detects and records the cycle state of one course.
func (s *DependencyService) Scan(ctx context.Context, courseID string) (*models.CircularDependencyResult, error) {
	if strings.TrimSpace(courseID) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "course id is required")
	}
	start := time.Now()
	result, err := s.detector.Detect(ctx, courseID)
	if err != nil {
		s.metrics.ObserveDependencyScan(nil, time.Since(start))
		return nil, err
	}
	if err := s.Record(ctx, result); err != nil {
		s.metrics.ObserveDependencyScan(nil, time.Since(start))
		return nil, err
	}
	s.metrics.ObserveDependencyScan(result, time.Since(start))
	return result, nil
}

// ScanAll detects and records every course of the prerequisite graph.
func (s *DependencyService) ScanAll(ctx context.Context) (*ScanSummary, error) {
	start := time.Now()
	results, err := s.detector.DetectAll(ctx)
	if err != nil {
		s.metrics.ObserveDependencyScan(nil, time.Since(start))
		return nil, err
	}
	summary := &ScanSummary{Courses: []string{}}
	for i := range results {
		if err := s.Record(ctx, &results[i]); err != nil {
			return nil, err
		}
		summary.Scanned++
		if results[i].HasCircularDependency {
			summary.Cycles++
			summary.Courses = append(summary.Courses, results[i].CourseID)
		}
	}
	s.metrics.ObserveDependencyScan(&models.CircularDependencyResult{HasCircularDependency: summary.Cycles > 0}, time.Since(start))
	s.logger.Info("dependency scan completed", zap.Int("scanned", summary.Scanned), zap.Int("cycles", summary.Cycles))
	return summary, nil
}

// Record persists a detection computed elsewhere.
func (s *DependencyService) Record(ctx context.Context, result *models.CircularDependencyResult) error {
	if err := s.store.Create(ctx, result); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store dependency detection")
	}
	if result.Blocking() {
		s.logger.Warn("circular prerequisite chain detected",
			zap.String("course_id", result.CourseID),
			zap.Strings("path", result.DependencyPath),
			zap.String("severity", string(result.Severity)),
		)
	}
	return nil
}

// WouldCreateCycle checks a prerequisite edge before it is activated.
func (s *DependencyService) WouldCreateCycle(ctx context.Context, courseID, requiredCourseID string) (*models.CircularDependencyResult, error) {
	return s.detector.WouldCreateCycle(ctx, courseID, requiredCourseID)
}

// Latest returns the most recent detection for a course.
func (s *DependencyService) Latest(ctx context.Context, courseID string) (*models.CircularDependencyResult, error) {
	result, err := s.store.Latest(ctx, courseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no dependency detection recorded for course")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load dependency detection")
	}
	return result, nil
}

// Blocking returns unresolved cycle findings that freeze enrollment in a course.
func (s *DependencyService) Blocking(ctx context.Context, courseID string) ([]models.CircularDependencyResult, error) {
	results, err := s.store.FindBlocking(ctx, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check circular dependencies")
	}
	return results, nil
}

// Resolve marks a cycle finding resolved so enrollment can resume.
func (s *DependencyService) Resolve(ctx context.Context, id, actorID string, note *string) (*models.CircularDependencyResult, error) {
	current, err := s.store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "dependency detection not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load dependency detection")
	}
	if !current.HasCircularDependency {
		return nil, appErrors.Clone(appErrors.ErrValidation, "detection did not find a cycle")
	}
	if err := s.store.Resolve(ctx, id, actorID, note, s.now().UTC()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "dependency detection already resolved")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve dependency detection")
	}
	s.logger.Info("circular dependency resolved", zap.String("id", id), zap.String("course_id", current.CourseID), zap.String("resolved_by", actorID))
	return s.store.FindByID(ctx, id)
}

// Start launches the background queue and, when interval is positive, a periodic full scan.
func (s *DependencyService) Start(ctx context.Context, cfg ScanConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue != nil {
		return
	}
	queue := jobs.NewQueue("dependency-scan", s.handleJob, jobs.QueueConfig{
		Workers:    cfg.Workers,
		MaxRetries: cfg.Retries,
		RetryDelay: 5 * time.Second,
		Logger:     s.logger,
	})
	runCtx, cancel := context.WithCancel(ctx)
	queue.Start(runCtx)
	s.queue = queue
	s.cancel = cancel

	if cfg.Interval <= 0 {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				if err := s.ScheduleAll(); err != nil {
					s.logger.Warn("failed to schedule periodic dependency scan", zap.Error(err))
				}
			}
		}
	}()
}

// Stop halts the periodic scan and drains the queue workers.
func (s *DependencyService) Stop() {
	s.mu.Lock()
	queue, cancel := s.queue, s.cancel
	s.queue, s.cancel = nil, nil
	s.mu.Unlock()
	if queue == nil {
		return
	}
	cancel()
	s.wg.Wait()
	queue.Stop()
}

// Schedule queues a background scan of one course. Duplicate requests coalesce.
func (s *DependencyService) Schedule(courseID string) error {
	return s.enqueue(jobs.Job{Type: jobScanCourse, Key: "dependency_scan:" + courseID, Payload: courseID})
}

// ScheduleAll queues a background scan of the whole catalog.
func (s *DependencyService) ScheduleAll() error {
	return s.enqueue(jobs.Job{Type: jobScanAll, Key: scanAllKey})
}

func (s *DependencyService) enqueue(job jobs.Job) error {
	s.mu.Lock()
	queue := s.queue
	s.mu.Unlock()
	if queue == nil {
		return appErrors.Clone(appErrors.ErrPreconditionFailed, "background dependency scans are disabled")
	}
	if err := queue.Enqueue(job); err != nil && !errors.Is(err, jobs.ErrDuplicate) {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to queue dependency scan")
	}
	return nil
}

func (s *DependencyService) handleJob(ctx context.Context, job jobs.Job) error {
	switch job.Type {
	case jobScanCourse:
		courseID, _ := job.Payload.(string)
		_, err := s.Scan(ctx, courseID)
		return err
	case jobScanAll:
		_, err := s.ScanAll(ctx)
		return err
	default:
		return fmt.Errorf("unknown job type %q", job.Type)
	}
}
