package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/course-eligibility-api/internal/models"
)

// StudentRecordRepository assembles the academic record snapshot of a student.
type StudentRecordRepository struct {
	db *sqlx.DB
}

// NewStudentRecordRepository constructs the repository.
func NewStudentRecordRepository(db *sqlx.DB) *StudentRecordRepository {
	return &StudentRecordRepository{db: db}
}

// GetStudentRecord loads every part of the record concurrently. A student without
// an academic summary yields sql.ErrNoRows.
func (r *StudentRecordRepository) GetStudentRecord(ctx context.Context, studentID string) (*models.StudentRecord, error) {
	record := &models.StudentRecord{SubjectGPAs: map[string]float64{}}
	var subjectGPAs []models.SubjectGPA

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		const query = `SELECT student_id, major, level, cumulative_gpa, major_gpa, total_credit_hours FROM student_academic_summaries WHERE student_id = $1`
		if err := r.db.GetContext(gctx, &record.StudentSummary, query, studentID); err != nil {
			return fmt.Errorf("load student summary: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		const query = `SELECT subject_area, gpa FROM student_subject_gpas WHERE student_id = $1`
		if err := r.db.SelectContext(gctx, &subjectGPAs, query, studentID); err != nil {
			return fmt.Errorf("load subject gpas: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		const query = `SELECT h.course_id, c.code AS course_code, c.subject_area, h.grade, h.credit_hours, h.term_id, h.completed_at
        FROM student_course_history h
        JOIN courses c ON c.id = h.course_id
        WHERE h.student_id = $1
        ORDER BY h.completed_at`
		if err := r.db.SelectContext(gctx, &record.CompletedCourses, query, studentID); err != nil {
			return fmt.Errorf("load course history: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		const query = `SELECT equivalent_course_id, institution, grade, credit_hours FROM transfer_credits WHERE student_id = $1 AND equivalent_course_id IS NOT NULL`
		if err := r.db.SelectContext(gctx, &record.TransferCredits, query, studentID); err != nil {
			return fmt.Errorf("load transfer credits: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		const query = `SELECT equivalent_course_id, test_name, score, awarded_at FROM test_equivalencies WHERE student_id = $1`
		if err := r.db.SelectContext(gctx, &record.TestEquivalencies, query, studentID); err != nil {
			return fmt.Errorf("load test equivalencies: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		const query = `SELECT test_name, score, taken_at FROM test_scores WHERE student_id = $1`
		if err := r.db.SelectContext(gctx, &record.TestScores, query, studentID); err != nil {
			return fmt.Errorf("load test scores: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		const query = `SELECT id, permission, course_id, document_id, granted_by, granted_at, expires_at FROM permission_grants WHERE student_id = $1 AND revoked_at IS NULL`
		if err := r.db.SelectContext(gctx, &record.PermissionGrants, query, studentID); err != nil {
			return fmt.Errorf("load permission grants: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		const query = `SELECT id, document_type, verified FROM student_documents WHERE student_id = $1`
		if err := r.db.SelectContext(gctx, &record.Documents, query, studentID); err != nil {
			return fmt.Errorf("load student documents: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		const query = `SELECT course_id, term_id FROM course_enrollments WHERE student_id = $1 AND status = 'ENROLLED'`
		if err := r.db.SelectContext(gctx, &record.CurrentEnrollments, query, studentID); err != nil {
			return fmt.Errorf("load current enrollments: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, s := range subjectGPAs {
		record.SubjectGPAs[strings.ToUpper(strings.TrimSpace(s.SubjectArea))] = s.GPA
	}
	return record, nil
}
