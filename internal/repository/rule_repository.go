package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/course-eligibility-api/internal/models"
)

const (
	prerequisiteRuleColumns = `id, course_id, name, logic_operator, minimum_satisfied, priority, parent_rule_id, is_mandatory, is_active, effective_date, expiration_date`
	requirementColumns      = `r.id, r.rule_id, r.requirement_type, r.sequence_order, r.must_be_completed, r.is_active,
        r.required_course_id, c.code AS required_course_code, r.minimum_grade, r.allow_transfer_credit, r.allow_test_equivalency,
        r.minimum_credit_hours, r.subject_area, r.required_class_standing, r.minimum_gpa, r.gpa_scope, r.required_permission,
        r.requires_documentation, r.test_name, r.minimum_test_score, r.test_score_validity_months`
	corequisiteRuleColumns = `id, course_id, name, logic_operator, minimum_satisfied, priority, is_mandatory, is_active, effective_date, expiration_date`
	restrictionColumns     = `id, course_id, restriction_type, mode, restriction_values, required_permission, priority, enforcement_level, is_active, effective_date, expiration_date, message`
	applicableWindow       = `course_id = $1 AND is_active = TRUE AND effective_date <= $2::date AND (expiration_date IS NULL OR expiration_date >= $2::date)`
)

// RuleRepository reads prerequisite rules, corequisite rules and restrictions.
type RuleRepository struct {
	db *sqlx.DB
}

// NewRuleRepository constructs the repository.
func NewRuleRepository(db *sqlx.DB) *RuleRepository {
	return &RuleRepository{db: db}
}

// LoadApplicableRules returns the rules gating courseID on the calendar day of asOf,
// ordered by priority. Effective and expiration dates are DATE columns, both ends
// inclusive. A course without rules yields an empty set.
func (r *RuleRepository) LoadApplicableRules(ctx context.Context, courseID string, asOf time.Time) (*models.RuleSet, error) {
	set := &models.RuleSet{
		CourseID:          courseID,
		AsOf:              asOf,
		PrerequisiteRules: []models.PrerequisiteRule{},
		CorequisiteRules:  []models.CorequisiteRule{},
		Restrictions:      []models.EnrollmentRestriction{},
	}

	rulesQuery := fmt.Sprintf(`SELECT %s FROM prerequisite_rules WHERE %s ORDER BY priority ASC, id ASC`, prerequisiteRuleColumns, applicableWindow)
	if err := r.db.SelectContext(ctx, &set.PrerequisiteRules, rulesQuery, courseID, asOf); err != nil {
		return nil, fmt.Errorf("list prerequisite rules: %w", err)
	}
	if len(set.PrerequisiteRules) > 0 {
		ids := make([]string, 0, len(set.PrerequisiteRules))
		for _, rule := range set.PrerequisiteRules {
			ids = append(ids, rule.ID)
		}
		reqQuery := fmt.Sprintf(`SELECT %s FROM prerequisite_requirements r
        LEFT JOIN courses c ON c.id = r.required_course_id
        WHERE r.rule_id = ANY($1) AND r.is_active = TRUE
        ORDER BY r.rule_id, r.sequence_order, r.id`, requirementColumns)
		var reqs []models.PrerequisiteRequirement
		if err := r.db.SelectContext(ctx, &reqs, reqQuery, pq.Array(ids)); err != nil {
			return nil, fmt.Errorf("list prerequisite requirements: %w", err)
		}
		byRule := make(map[string][]models.PrerequisiteRequirement, len(ids))
		for _, req := range reqs {
			byRule[req.RuleID] = append(byRule[req.RuleID], req)
		}
		for i := range set.PrerequisiteRules {
			set.PrerequisiteRules[i].Requirements = byRule[set.PrerequisiteRules[i].ID]
		}
	}

	coQuery := fmt.Sprintf(`SELECT %s FROM corequisite_rules WHERE %s ORDER BY priority ASC, id ASC`, corequisiteRuleColumns, applicableWindow)
	if err := r.db.SelectContext(ctx, &set.CorequisiteRules, coQuery, courseID, asOf); err != nil {
		return nil, fmt.Errorf("list corequisite rules: %w", err)
	}
	if len(set.CorequisiteRules) > 0 {
		ids := make([]string, 0, len(set.CorequisiteRules))
		for _, rule := range set.CorequisiteRules {
			ids = append(ids, rule.ID)
		}
		const coReqQuery = `SELECT r.id, r.rule_id, r.required_course_id, c.code AS required_course_code, r.relationship, r.allow_prior_completion, r.sequence_order
        FROM corequisite_requirements r
        LEFT JOIN courses c ON c.id = r.required_course_id
        WHERE r.rule_id = ANY($1)
        ORDER BY r.rule_id, r.sequence_order, r.id`
		var reqs []models.CorequisiteRequirement
		if err := r.db.SelectContext(ctx, &reqs, coReqQuery, pq.Array(ids)); err != nil {
			return nil, fmt.Errorf("list corequisite requirements: %w", err)
		}
		byRule := make(map[string][]models.CorequisiteRequirement, len(ids))
		for _, req := range reqs {
			byRule[req.RuleID] = append(byRule[req.RuleID], req)
		}
		for i := range set.CorequisiteRules {
			set.CorequisiteRules[i].Requirements = byRule[set.CorequisiteRules[i].ID]
		}
	}

	restrictionQuery := fmt.Sprintf(`SELECT %s FROM enrollment_restrictions WHERE %s ORDER BY priority ASC, id ASC`, restrictionColumns, applicableWindow)
	if err := r.db.SelectContext(ctx, &set.Restrictions, restrictionQuery, courseID, asOf); err != nil {
		return nil, fmt.Errorf("list enrollment restrictions: %w", err)
	}
	return set, nil
}

// FindRequirement returns a requirement, active or not, with the course its rule gates.
func (r *RuleRepository) FindRequirement(ctx context.Context, id string) (*models.PrerequisiteRequirement, string, error) {
	query := fmt.Sprintf(`SELECT %s, pr.course_id AS gated_course_id FROM prerequisite_requirements r
        JOIN prerequisite_rules pr ON pr.id = r.rule_id
        LEFT JOIN courses c ON c.id = r.required_course_id
        WHERE r.id = $1`, requirementColumns)
	var row struct {
		models.PrerequisiteRequirement
		GatedCourseID string `db:"gated_course_id"`
	}
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		return nil, "", err
	}
	req := row.PrerequisiteRequirement
	return &req, row.GatedCourseID, nil
}

// ActivateRequirement flips an inactive requirement to active. It reports false when
// the requirement was already active or does not exist.
func (r *RuleRepository) ActivateRequirement(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE prerequisite_requirements SET is_active = TRUE, updated_at = NOW() WHERE id = $1 AND is_active = FALSE`, id)
	if err != nil {
		return false, fmt.Errorf("activate requirement: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("activate requirement rows: %w", err)
	}
	return affected > 0, nil
}
