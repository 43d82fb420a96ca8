package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/course-eligibility-api/internal/models"
	"github.com/noah-isme/course-eligibility-api/pkg/database"
)

const (
	overrideColumns = `id, student_id, course_id, term_id, target_type, target_id, scope, conditions, status, reason, requested_by,
        effective_from, expires_at, requires_periodic_review, next_review_date, last_reviewed_by, created_at, updated_at`
	stepColumns   = `id, override_id, step_order, approver_role, assigned_to, delegated_to, is_mandatory, status, due_date, decided_by, decided_at, comment`
	waiverColumns = `id, student_id, course_id, term_id, target_type, target_id, scope, conditions, status, reason, requested_by,
        approved_by, approved_at, expires_at, created_at`
)

// ExceptionRepository persists overrides, their approval steps, and waivers.
type ExceptionRepository struct {
	db *sqlx.DB
}

// NewExceptionRepository constructs the repository.
func NewExceptionRepository(db *sqlx.DB) *ExceptionRepository {
	return &ExceptionRepository{db: db}
}

// ListForStudentCourse returns every override (with steps) and waiver of a student for a course.
func (r *ExceptionRepository) ListForStudentCourse(ctx context.Context, studentID, courseID string) (*models.StudentExceptions, error) {
	out := &models.StudentExceptions{}
	overrideQuery := fmt.Sprintf(`SELECT %s FROM prerequisite_overrides WHERE student_id = $1 AND course_id = $2 ORDER BY created_at, id`, overrideColumns)
	if err := r.db.SelectContext(ctx, &out.Overrides, overrideQuery, studentID, courseID); err != nil {
		return nil, fmt.Errorf("list overrides: %w", err)
	}
	if err := r.attachSteps(ctx, out.Overrides); err != nil {
		return nil, err
	}
	waiverQuery := fmt.Sprintf(`SELECT %s FROM prerequisite_waivers WHERE student_id = $1 AND course_id = $2 ORDER BY created_at, id`, waiverColumns)
	if err := r.db.SelectContext(ctx, &out.Waivers, waiverQuery, studentID, courseID); err != nil {
		return nil, fmt.Errorf("list waivers: %w", err)
	}
	return out, nil
}

func (r *ExceptionRepository) attachSteps(ctx context.Context, overrides []models.PrerequisiteOverride) error {
	if len(overrides) == 0 {
		return nil
	}
	ids := make([]string, 0, len(overrides))
	for _, o := range overrides {
		ids = append(ids, o.ID)
	}
	query := fmt.Sprintf(`SELECT %s FROM override_approval_steps WHERE override_id = ANY($1) ORDER BY override_id, step_order`, stepColumns)
	var steps []models.OverrideApprovalStep
	if err := r.db.SelectContext(ctx, &steps, query, pq.Array(ids)); err != nil {
		return fmt.Errorf("list approval steps: %w", err)
	}
	byOverride := make(map[string][]models.OverrideApprovalStep, len(ids))
	for _, step := range steps {
		byOverride[step.OverrideID] = append(byOverride[step.OverrideID], step)
	}
	for i := range overrides {
		overrides[i].Steps = byOverride[overrides[i].ID]
	}
	return nil
}

// FindOverride returns an override with its approval steps.
func (r *ExceptionRepository) FindOverride(ctx context.Context, id string) (*models.PrerequisiteOverride, error) {
	query := fmt.Sprintf(`SELECT %s FROM prerequisite_overrides WHERE id = $1`, overrideColumns)
	var override models.PrerequisiteOverride
	if err := r.db.GetContext(ctx, &override, query, id); err != nil {
		return nil, err
	}
	list := []models.PrerequisiteOverride{override}
	if err := r.attachSteps(ctx, list); err != nil {
		return nil, err
	}
	return &list[0], nil
}

// CreateOverride inserts an override and its approval steps in one transaction.
func (r *ExceptionRepository) CreateOverride(ctx context.Context, override *models.PrerequisiteOverride) error {
	if override.ID == "" {
		override.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	override.CreatedAt = now
	override.UpdatedAt = now

	const insertOverride = `INSERT INTO prerequisite_overrides (id, student_id, course_id, term_id, target_type, target_id, scope, conditions, status, reason,
        requested_by, effective_from, expires_at, requires_periodic_review, next_review_date, created_at, updated_at)
        VALUES (:id, :student_id, :course_id, :term_id, :target_type, :target_id, :scope, :conditions, :status, :reason,
        :requested_by, :effective_from, :expires_at, :requires_periodic_review, :next_review_date, :created_at, :updated_at)`
	const insertStep = `INSERT INTO override_approval_steps (id, override_id, step_order, approver_role, assigned_to, is_mandatory, status, due_date)
        VALUES (:id, :override_id, :step_order, :approver_role, :assigned_to, :is_mandatory, :status, :due_date)`

	return database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if _, err := tx.NamedExecContext(ctx, insertOverride, override); err != nil {
			return fmt.Errorf("insert override: %w", err)
		}
		for i := range override.Steps {
			step := &override.Steps[i]
			if step.ID == "" {
				step.ID = uuid.NewString()
			}
			step.OverrideID = override.ID
			if _, err := tx.NamedExecContext(ctx, insertStep, step); err != nil {
				return fmt.Errorf("insert approval step: %w", err)
			}
		}
		return nil
	})
}

// StepDecision is a guarded approval-step update plus the override transition it triggers.
type StepDecision struct {
	OverrideID     string
	StepID         string
	FromStatus     models.StepStatus
	ToStatus       models.StepStatus
	DecidedBy      *string
	DecidedAt      *time.Time
	DelegatedTo    *string
	Comment        *string
	OverrideStatus models.ExceptionStatus
}

// ApplyStepDecision updates a step only if it still has FromStatus and the override
// is still pending. Either guard failing yields sql.ErrNoRows.
func (r *ExceptionRepository) ApplyStepDecision(ctx context.Context, d StepDecision) error {
	return database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		const updateStep = `UPDATE override_approval_steps SET status = $1, decided_by = $2, decided_at = $3, delegated_to = COALESCE($4, delegated_to), comment = $5
        WHERE id = $6 AND override_id = $7 AND status = $8`
		res, err := tx.ExecContext(ctx, updateStep, d.ToStatus, d.DecidedBy, d.DecidedAt, d.DelegatedTo, d.Comment, d.StepID, d.OverrideID, d.FromStatus)
		if err != nil {
			return fmt.Errorf("update approval step: %w", err)
		}
		if err := expectRow(res); err != nil {
			return err
		}

		status := d.OverrideStatus
		if status == "" {
			status = models.ExceptionPending
		}
		const updateOverride = `UPDATE prerequisite_overrides SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3`
		res, err = tx.ExecContext(ctx, updateOverride, status, d.OverrideID, models.ExceptionPending)
		if err != nil {
			return fmt.Errorf("update override status: %w", err)
		}
		return expectRow(res)
	})
}

// RecordReview stores a periodic review of an approved override.
func (r *ExceptionRepository) RecordReview(ctx context.Context, overrideID, reviewer string, nextReview time.Time) error {
	const query = `UPDATE prerequisite_overrides SET last_reviewed_by = $1, next_review_date = $2, updated_at = NOW()
        WHERE id = $3 AND status = $4 AND requires_periodic_review = TRUE`
	res, err := r.db.ExecContext(ctx, query, reviewer, nextReview, overrideID, models.ExceptionApproved)
	if err != nil {
		return fmt.Errorf("record override review: %w", err)
	}
	return expectRow(res)
}

// FindWaiver returns a waiver by id.
func (r *ExceptionRepository) FindWaiver(ctx context.Context, id string) (*models.PrerequisiteWaiver, error) {
	query := fmt.Sprintf(`SELECT %s FROM prerequisite_waivers WHERE id = $1`, waiverColumns)
	var waiver models.PrerequisiteWaiver
	if err := r.db.GetContext(ctx, &waiver, query, id); err != nil {
		return nil, err
	}
	return &waiver, nil
}

// CreateWaiver inserts a waiver request.
func (r *ExceptionRepository) CreateWaiver(ctx context.Context, waiver *models.PrerequisiteWaiver) error {
	if waiver.ID == "" {
		waiver.ID = uuid.NewString()
	}
	waiver.CreatedAt = time.Now().UTC()
	const query = `INSERT INTO prerequisite_waivers (id, student_id, course_id, term_id, target_type, target_id, scope, conditions, status, reason,
        requested_by, expires_at, created_at)
        VALUES (:id, :student_id, :course_id, :term_id, :target_type, :target_id, :scope, :conditions, :status, :reason,
        :requested_by, :expires_at, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, waiver); err != nil {
		return fmt.Errorf("insert waiver: %w", err)
	}
	return nil
}

// DecideWaiver moves a pending waiver to status. A waiver no longer pending yields sql.ErrNoRows.
func (r *ExceptionRepository) DecideWaiver(ctx context.Context, id string, status models.ExceptionStatus, decidedBy string, decidedAt time.Time) error {
	const query = `UPDATE prerequisite_waivers SET status = $1, approved_by = $2, approved_at = $3 WHERE id = $4 AND status = $5`
	res, err := r.db.ExecContext(ctx, query, status, decidedBy, decidedAt, id, models.ExceptionPending)
	if err != nil {
		return fmt.Errorf("decide waiver: %w", err)
	}
	return expectRow(res)
}

func expectRow(res sql.Result) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check affected rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
