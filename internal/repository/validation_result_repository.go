package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"

	"github.com/noah-isme/course-eligibility-api/internal/models"
	"github.com/noah-isme/course-eligibility-api/pkg/database"
)

const (
	validationResultColumns = `id, student_id, course_id, term_id, version, can_enroll, overall_status, as_of, validated_at, validated_by,
        applied_overrides, applied_waivers, setup_issues`
	currentOrder = `ORDER BY version DESC, validated_at DESC, id DESC`
)

// ValidationResultRepository persists validation results as an append-only, versioned history.
type ValidationResultRepository struct {
	db *sqlx.DB
}

// NewValidationResultRepository constructs the repository.
func NewValidationResultRepository(db *sqlx.DB) *ValidationResultRepository {
	return &ValidationResultRepository{db: db}
}

// CreateVersioned inserts the result and its check rows. The version is computed in
// the insert itself as one more than the highest version stored for the key. Rows
// are never updated, so a concurrent writer for the same key only adds history.
func (r *ValidationResultRepository) CreateVersioned(ctx context.Context, result *models.PrerequisiteValidationResult) error {
	if result.ID == "" {
		result.ID = uuid.NewString()
	}
	if err := encodeResult(result); err != nil {
		return err
	}

	return database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		const insertResult = `INSERT INTO prerequisite_validation_results (id, student_id, course_id, term_id, version, can_enroll, overall_status,
        as_of, validated_at, validated_by, applied_overrides, applied_waivers, setup_issues)
        SELECT $1, $2, $3, $4, COALESCE(MAX(v.version), 0) + 1, $5::boolean, $6, $7::timestamptz, $8::timestamptz, $9, $10::jsonb, $11::jsonb, $12::jsonb
        FROM prerequisite_validation_results v
        WHERE v.student_id = $2 AND v.course_id = $3 AND v.term_id = $4
        RETURNING version`
		if err := tx.QueryRowxContext(ctx, insertResult,
			result.ID, result.StudentID, result.CourseID, result.TermID,
			result.CanEnroll, result.OverallStatus, result.AsOf, result.ValidatedAt, result.ValidatedBy,
			result.AppliedOverrides, result.AppliedWaivers, result.SetupIssuesJSON,
		).Scan(&result.Version); err != nil {
			return fmt.Errorf("insert validation result: %w", err)
		}

		const insertPrerequisite = `INSERT INTO prerequisite_check_results (id, validation_result_id, rule_id, rule_name, parent_rule_id, priority,
        logic_operator, is_mandatory, is_satisfied, status, satisfaction_percentage, failure_reason, exception_id, details)
        VALUES (:id, :validation_result_id, :rule_id, :rule_name, :parent_rule_id, :priority,
        :logic_operator, :is_mandatory, :is_satisfied, :status, :satisfaction_percentage, :failure_reason, :exception_id, :details)`
		for i := range result.PrerequisiteChecks {
			check := &result.PrerequisiteChecks[i]
			if _, err := tx.NamedExecContext(ctx, insertPrerequisite, check); err != nil {
				return fmt.Errorf("insert prerequisite check: %w", err)
			}
		}

		const insertCorequisite = `INSERT INTO corequisite_check_results (id, validation_result_id, rule_id, rule_name,
        logic_operator, is_mandatory, is_satisfied, status, satisfaction_percentage, failure_reason, exception_id, details)
        VALUES (:id, :validation_result_id, :rule_id, :rule_name,
        :logic_operator, :is_mandatory, :is_satisfied, :status, :satisfaction_percentage, :failure_reason, :exception_id, :details)`
		for i := range result.CorequisiteChecks {
			check := &result.CorequisiteChecks[i]
			if _, err := tx.NamedExecContext(ctx, insertCorequisite, check); err != nil {
				return fmt.Errorf("insert corequisite check: %w", err)
			}
		}

		const insertRestriction = `INSERT INTO restriction_check_results (id, validation_result_id, restriction_id, restriction_type, enforcement_level,
        priority, is_violated, status, actual_value, required_value, failure_reason, exception_id)
        VALUES (:id, :validation_result_id, :restriction_id, :restriction_type, :enforcement_level,
        :priority, :is_violated, :status, :actual_value, :required_value, :failure_reason, :exception_id)`
		for i := range result.RestrictionChecks {
			check := &result.RestrictionChecks[i]
			if _, err := tx.NamedExecContext(ctx, insertRestriction, check); err != nil {
				return fmt.Errorf("insert restriction check: %w", err)
			}
		}
		return nil
	})
}

// GetCurrent returns the current result for the key with its checks.
func (r *ValidationResultRepository) GetCurrent(ctx context.Context, key models.ValidationKey) (*models.PrerequisiteValidationResult, error) {
	query := fmt.Sprintf(`SELECT %s FROM prerequisite_validation_results WHERE student_id = $1 AND course_id = $2 AND term_id = $3 %s LIMIT 1`,
		validationResultColumns, currentOrder)
	var result models.PrerequisiteValidationResult
	if err := r.db.GetContext(ctx, &result, query, key.StudentID, key.CourseID, key.TermID); err != nil {
		return nil, err
	}
	result.IsCurrent = true
	if err := r.loadChecks(ctx, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetByID returns a result with its checks, flagging whether it is current for its key.
func (r *ValidationResultRepository) GetByID(ctx context.Context, id string) (*models.PrerequisiteValidationResult, error) {
	query := fmt.Sprintf(`SELECT %s FROM prerequisite_validation_results WHERE id = $1`, validationResultColumns)
	var result models.PrerequisiteValidationResult
	if err := r.db.GetContext(ctx, &result, query, id); err != nil {
		return nil, err
	}

	currentQuery := fmt.Sprintf(`SELECT id FROM prerequisite_validation_results WHERE student_id = $1 AND course_id = $2 AND term_id = $3 %s LIMIT 1`, currentOrder)
	var currentID string
	if err := r.db.GetContext(ctx, &currentID, currentQuery, result.StudentID, result.CourseID, result.TermID); err != nil {
		return nil, fmt.Errorf("resolve current validation result: %w", err)
	}
	result.IsCurrent = currentID == result.ID

	if err := r.loadChecks(ctx, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListHistory returns result headers for the key, newest first.
func (r *ValidationResultRepository) ListHistory(ctx context.Context, key models.ValidationKey, limit int) ([]models.PrerequisiteValidationResult, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	query := fmt.Sprintf(`SELECT %s FROM prerequisite_validation_results WHERE student_id = $1 AND course_id = $2 AND term_id = $3 %s LIMIT %d`,
		validationResultColumns, currentOrder, limit)
	var results []models.PrerequisiteValidationResult
	if err := r.db.SelectContext(ctx, &results, query, key.StudentID, key.CourseID, key.TermID); err != nil {
		return nil, fmt.Errorf("list validation history: %w", err)
	}
	for i := range results {
		results[i].IsCurrent = i == 0
		if err := decodeApplied(&results[i]); err != nil {
			return nil, err
		}
	}
	return results, nil
}

func (r *ValidationResultRepository) loadChecks(ctx context.Context, result *models.PrerequisiteValidationResult) error {
	const prerequisiteQuery = `SELECT id, validation_result_id, rule_id, rule_name, parent_rule_id, priority, logic_operator, is_mandatory,
        is_satisfied, status, satisfaction_percentage, failure_reason, exception_id, details
        FROM prerequisite_check_results WHERE validation_result_id = $1 ORDER BY priority, rule_id`
	if err := r.db.SelectContext(ctx, &result.PrerequisiteChecks, prerequisiteQuery, result.ID); err != nil {
		return fmt.Errorf("list prerequisite checks: %w", err)
	}
	const corequisiteQuery = `SELECT id, validation_result_id, rule_id, rule_name, logic_operator, is_mandatory,
        is_satisfied, status, satisfaction_percentage, failure_reason, exception_id, details
        FROM corequisite_check_results WHERE validation_result_id = $1 ORDER BY rule_id`
	if err := r.db.SelectContext(ctx, &result.CorequisiteChecks, corequisiteQuery, result.ID); err != nil {
		return fmt.Errorf("list corequisite checks: %w", err)
	}
	const restrictionQuery = `SELECT id, validation_result_id, restriction_id, restriction_type, enforcement_level, priority,
        is_violated, status, actual_value, required_value, failure_reason, exception_id
        FROM restriction_check_results WHERE validation_result_id = $1 ORDER BY priority, restriction_id`
	if err := r.db.SelectContext(ctx, &result.RestrictionChecks, restrictionQuery, result.ID); err != nil {
		return fmt.Errorf("list restriction checks: %w", err)
	}

	for i := range result.PrerequisiteChecks {
		if err := unmarshalText(result.PrerequisiteChecks[i].Details, &result.PrerequisiteChecks[i].Requirements); err != nil {
			return fmt.Errorf("decode prerequisite check details: %w", err)
		}
	}
	for i := range result.CorequisiteChecks {
		if err := unmarshalText(result.CorequisiteChecks[i].Details, &result.CorequisiteChecks[i].Requirements); err != nil {
			return fmt.Errorf("decode corequisite check details: %w", err)
		}
	}
	return decodeApplied(result)
}

// encodeResult assigns child ids and serialises the JSON columns.
func encodeResult(result *models.PrerequisiteValidationResult) error {
	var err error
	if result.AppliedOverrides, err = marshalText(nonNil(result.Overrides)); err != nil {
		return fmt.Errorf("encode applied overrides: %w", err)
	}
	if result.AppliedWaivers, err = marshalText(nonNil(result.Waivers)); err != nil {
		return fmt.Errorf("encode applied waivers: %w", err)
	}
	issues := result.SetupIssues
	if issues == nil {
		issues = []models.SetupIssue{}
	}
	if result.SetupIssuesJSON, err = marshalText(issues); err != nil {
		return fmt.Errorf("encode setup issues: %w", err)
	}

	for i := range result.PrerequisiteChecks {
		check := &result.PrerequisiteChecks[i]
		check.ID = uuid.NewString()
		check.ValidationResultID = result.ID
		if check.Details, err = marshalText(check.Requirements); err != nil {
			return fmt.Errorf("encode prerequisite check details: %w", err)
		}
	}
	for i := range result.CorequisiteChecks {
		check := &result.CorequisiteChecks[i]
		check.ID = uuid.NewString()
		check.ValidationResultID = result.ID
		if check.Details, err = marshalText(check.Requirements); err != nil {
			return fmt.Errorf("encode corequisite check details: %w", err)
		}
	}
	for i := range result.RestrictionChecks {
		check := &result.RestrictionChecks[i]
		check.ID = uuid.NewString()
		check.ValidationResultID = result.ID
	}
	return nil
}

func decodeApplied(result *models.PrerequisiteValidationResult) error {
	if err := unmarshalText(result.AppliedOverrides, &result.Overrides); err != nil {
		return fmt.Errorf("decode applied overrides: %w", err)
	}
	if err := unmarshalText(result.AppliedWaivers, &result.Waivers); err != nil {
		return fmt.Errorf("decode applied waivers: %w", err)
	}
	if err := unmarshalText(result.SetupIssuesJSON, &result.SetupIssues); err != nil {
		return fmt.Errorf("decode setup issues: %w", err)
	}
	return nil
}

func nonNil(applied []models.AppliedException) []models.AppliedException {
	if applied == nil {
		return []models.AppliedException{}
	}
	return applied
}

func marshalText(v interface{}) (types.JSONText, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return types.JSONText(raw), nil
}

func unmarshalText(raw types.JSONText, dest interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dest)
}
