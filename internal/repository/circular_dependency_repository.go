package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/course-eligibility-api/internal/models"
	"github.com/noah-isme/course-eligibility-api/pkg/database"
)

const (
	circularDependencyColumns = `id, course_id, has_circular_dependency, dependency_path, involved_courses, severity, detection_date,
        is_resolved, resolution_date, resolved_by, resolution_note`
	// ScanResolver is recorded as the resolver when a scan finds a previously reported cycle gone.
	ScanResolver = "dependency-scan"
)

// CircularDependencyRepository stores detector runs.
type CircularDependencyRepository struct {
	db *sqlx.DB
}

// NewCircularDependencyRepository constructs the repository.
func NewCircularDependencyRepository(db *sqlx.DB) *CircularDependencyRepository {
	return &CircularDependencyRepository{db: db}
}

// Create stores a detection. A clean detection also closes earlier unresolved
// findings for the course since the cycle no longer exists. Detections stored
// already resolved never block enrollment.
func (r *CircularDependencyRepository) Create(ctx context.Context, result *models.CircularDependencyResult) error {
	if result.ID == "" {
		result.ID = uuid.NewString()
	}
	return database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		const insert = `INSERT INTO circular_dependency_results (id, course_id, has_circular_dependency, dependency_path, involved_courses,
        severity, detection_date, is_resolved, resolution_date, resolved_by, resolution_note)
        VALUES (:id, :course_id, :has_circular_dependency, :dependency_path, :involved_courses, :severity, :detection_date, :is_resolved,
        :resolution_date, :resolved_by, :resolution_note)`
		if _, err := tx.NamedExecContext(ctx, insert, result); err != nil {
			return fmt.Errorf("insert circular dependency result: %w", err)
		}
		if result.HasCircularDependency {
			return nil
		}
		const closeStale = `UPDATE circular_dependency_results SET is_resolved = TRUE, resolution_date = $1, resolved_by = $2,
        resolution_note = 'cycle no longer present'
        WHERE course_id = $3 AND has_circular_dependency = TRUE AND is_resolved = FALSE`
		if _, err := tx.ExecContext(ctx, closeStale, result.DetectionDate, ScanResolver, result.CourseID); err != nil {
			return fmt.Errorf("close stale circular dependencies: %w", err)
		}
		return nil
	})
}

// FindByID returns a detection by id.
func (r *CircularDependencyRepository) FindByID(ctx context.Context, id string) (*models.CircularDependencyResult, error) {
	query := fmt.Sprintf(`SELECT %s FROM circular_dependency_results WHERE id = $1`, circularDependencyColumns)
	var result models.CircularDependencyResult
	if err := r.db.GetContext(ctx, &result, query, id); err != nil {
		return nil, err
	}
	return &result, nil
}

// Latest returns the most recent detection for a course.
func (r *CircularDependencyRepository) Latest(ctx context.Context, courseID string) (*models.CircularDependencyResult, error) {
	query := fmt.Sprintf(`SELECT %s FROM circular_dependency_results WHERE course_id = $1 ORDER BY detection_date DESC, id DESC LIMIT 1`, circularDependencyColumns)
	var result models.CircularDependencyResult
	if err := r.db.GetContext(ctx, &result, query, courseID); err != nil {
		return nil, err
	}
	return &result, nil
}

// FindBlocking returns the unresolved cycle findings freezing enrollment in a course.
func (r *CircularDependencyRepository) FindBlocking(ctx context.Context, courseID string) ([]models.CircularDependencyResult, error) {
	query := fmt.Sprintf(`SELECT %s FROM circular_dependency_results
        WHERE course_id = $1 AND has_circular_dependency = TRUE AND is_resolved = FALSE
        ORDER BY detection_date DESC, id DESC`, circularDependencyColumns)
	var results []models.CircularDependencyResult
	if err := r.db.SelectContext(ctx, &results, query, courseID); err != nil {
		return nil, fmt.Errorf("list blocking circular dependencies: %w", err)
	}
	return results, nil
}

// Resolve marks an unresolved finding resolved. Already resolved findings yield sql.ErrNoRows.
func (r *CircularDependencyRepository) Resolve(ctx context.Context, id, resolvedBy string, note *string, at time.Time) error {
	const query = `UPDATE circular_dependency_results SET is_resolved = TRUE, resolution_date = $1, resolved_by = $2, resolution_note = $3
        WHERE id = $4 AND is_resolved = FALSE`
	res, err := r.db.ExecContext(ctx, query, at, resolvedBy, note, id)
	if err != nil {
		return fmt.Errorf("resolve circular dependency: %w", err)
	}
	return expectRow(res)
}
