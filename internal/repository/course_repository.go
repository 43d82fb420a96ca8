package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/course-eligibility-api/internal/models"
)

// CourseRepository reads the course catalog and its prerequisite graph.
type CourseRepository struct {
	db *sqlx.DB
}

// NewCourseRepository constructs the repository.
func NewCourseRepository(db *sqlx.DB) *CourseRepository {
	return &CourseRepository{db: db}
}

// FindByID returns a course by id.
func (r *CourseRepository) FindByID(ctx context.Context, id string) (*models.Course, error) {
	const query = `SELECT id, code, title, subject_area, credit_hours FROM courses WHERE id = $1`
	var course models.Course
	if err := r.db.GetContext(ctx, &course, query, id); err != nil {
		return nil, err
	}
	return &course, nil
}

// ListIDs returns every course id in code order.
func (r *CourseRepository) ListIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, `SELECT id FROM courses ORDER BY code`); err != nil {
		return nil, fmt.Errorf("list course ids: %w", err)
	}
	return ids, nil
}

// ListPrerequisiteEdges returns every active completed-course requirement as an edge
// from the gated course to the course it requires.
func (r *CourseRepository) ListPrerequisiteEdges(ctx context.Context) ([]models.CourseEdge, error) {
	const query = `SELECT DISTINCT pr.course_id, c.code AS course_code, req.required_course_id, rc.code AS required_course_code
        FROM prerequisite_requirements req
        JOIN prerequisite_rules pr ON pr.id = req.rule_id
        JOIN courses c ON c.id = pr.course_id
        JOIN courses rc ON rc.id = req.required_course_id
        WHERE req.is_active = TRUE AND pr.is_active = TRUE AND req.requirement_type = 'COMPLETED_COURSE'
        AND (pr.expiration_date IS NULL OR pr.expiration_date >= NOW())
        ORDER BY c.code, rc.code`
	var edges []models.CourseEdge
	if err := r.db.SelectContext(ctx, &edges, query); err != nil {
		return nil, fmt.Errorf("list prerequisite edges: %w", err)
	}
	return edges, nil
}
