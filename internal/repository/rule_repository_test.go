package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-eligibility-api/internal/models"
)

var (
	prerequisiteRuleRowColumns = []string{"id", "course_id", "name", "logic_operator", "minimum_satisfied", "priority", "parent_rule_id",
		"is_mandatory", "is_active", "effective_date", "expiration_date"}
	requirementRowColumns = []string{"id", "rule_id", "requirement_type", "sequence_order", "must_be_completed", "is_active",
		"required_course_id", "required_course_code", "minimum_grade", "allow_transfer_credit", "allow_test_equivalency",
		"minimum_credit_hours", "subject_area", "required_class_standing", "minimum_gpa", "gpa_scope", "required_permission",
		"requires_documentation", "test_name", "minimum_test_score", "test_score_validity_months"}
	corequisiteRuleRowColumns = []string{"id", "course_id", "name", "logic_operator", "minimum_satisfied", "priority", "is_mandatory",
		"is_active", "effective_date", "expiration_date"}
	corequisiteRequirementRowColumns = []string{"id", "rule_id", "required_course_id", "required_course_code", "relationship",
		"allow_prior_completion", "sequence_order"}
	restrictionRowColumns = []string{"id", "course_id", "restriction_type", "mode", "restriction_values", "required_permission", "priority",
		"enforcement_level", "is_active", "effective_date", "expiration_date", "message"}
)

const applicableWindowSQL = "WHERE course_id = $1 AND is_active = TRUE AND effective_date <= $2::date AND (expiration_date IS NULL OR expiration_date >= $2::date) ORDER BY priority ASC, id ASC"

func TestRuleRepositoryLoadApplicableRules(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewRuleRepository(db)
	asOf := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	effective := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	expires := time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("FROM prerequisite_rules " + applicableWindowSQL)).
		WithArgs("cs301", asOf).
		WillReturnRows(sqlmock.NewRows(prerequisiteRuleRowColumns).
			AddRow("rule-core", "cs301", "Core", "AND", 0, 0, nil, true, true, effective, nil).
			AddRow("rule-math", "cs301", "Math", "N_OF", 1, 1, "rule-core", true, true, effective, expires))
	mock.ExpectQuery(regexp.QuoteMeta("FROM prerequisite_requirements r")).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(requirementRowColumns).
			AddRow("req-cs201", "rule-core", "COMPLETED_COURSE", 1, true, true, "cs201", "CS201", "C", false, false,
				nil, nil, nil, nil, nil, nil, false, nil, nil, nil).
			AddRow("req-ghost", "rule-core", "COMPLETED_COURSE", 2, true, true, "ghost", nil, nil, false, false,
				nil, nil, nil, nil, nil, nil, false, nil, nil, nil).
			AddRow("req-ma201", "rule-math", "COMPLETED_COURSE", 1, true, true, "ma201", "MA201", nil, true, true,
				nil, nil, nil, nil, nil, nil, false, nil, nil, nil))
	mock.ExpectQuery(regexp.QuoteMeta("FROM corequisite_rules " + applicableWindowSQL)).
		WithArgs("cs301", asOf).
		WillReturnRows(sqlmock.NewRows(corequisiteRuleRowColumns).
			AddRow("co-lab", "cs301", "Lab", "AND", 0, 0, true, true, effective, nil))
	mock.ExpectQuery(regexp.QuoteMeta("FROM corequisite_requirements r")).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(corequisiteRequirementRowColumns).
			AddRow("coreq-lab", "co-lab", "cs301l", "CS301L", "MUST_TAKE_TOGETHER", true, 1))
	mock.ExpectQuery(regexp.QuoteMeta("FROM enrollment_restrictions " + applicableWindowSQL)).
		WithArgs("cs301", asOf).
		WillReturnRows(sqlmock.NewRows(restrictionRowColumns).
			AddRow("res-major", "cs301", "MAJOR", "INCLUDE", "{CS,SE}", nil, 0, "HARD", true, effective, nil, "CS majors only"))

	set, err := repo.LoadApplicableRules(context.Background(), "cs301", asOf)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	require.Len(t, set.PrerequisiteRules, 2)
	core, math := set.PrerequisiteRules[0], set.PrerequisiteRules[1]
	assert.Equal(t, "rule-core", core.ID)
	assert.Nil(t, core.ParentRuleID)
	assert.Nil(t, core.ExpirationDate)
	require.Len(t, core.Requirements, 2)
	assert.Equal(t, "req-cs201", core.Requirements[0].ID)
	assert.Nil(t, core.Requirements[1].RequiredCourseCode)

	assert.Equal(t, models.LogicNOf, math.LogicOperator)
	assert.Equal(t, 1, math.MinimumSatisfied)
	require.NotNil(t, math.ParentRuleID)
	assert.Equal(t, "rule-core", *math.ParentRuleID)
	require.NotNil(t, math.ExpirationDate)
	require.Len(t, math.Requirements, 1)
	assert.True(t, math.Requirements[0].AllowTransferCredit)

	require.Len(t, set.CorequisiteRules, 1)
	require.Len(t, set.CorequisiteRules[0].Requirements, 1)
	assert.Equal(t, models.CorequisiteMust, set.CorequisiteRules[0].Requirements[0].Relationship)

	require.Len(t, set.Restrictions, 1)
	assert.Equal(t, []string{"CS", "SE"}, []string(set.Restrictions[0].Values))
	assert.Equal(t, asOf, set.AsOf)
}

func TestRuleRepositoryLoadApplicableRulesEmpty(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewRuleRepository(db)
	asOf := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("FROM prerequisite_rules")).
		WithArgs("cs101", asOf).
		WillReturnRows(sqlmock.NewRows(prerequisiteRuleRowColumns))
	mock.ExpectQuery(regexp.QuoteMeta("FROM corequisite_rules")).
		WithArgs("cs101", asOf).
		WillReturnRows(sqlmock.NewRows(corequisiteRuleRowColumns))
	mock.ExpectQuery(regexp.QuoteMeta("FROM enrollment_restrictions")).
		WithArgs("cs101", asOf).
		WillReturnRows(sqlmock.NewRows(restrictionRowColumns))

	set, err := repo.LoadApplicableRules(context.Background(), "cs101", asOf)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
	assert.NotNil(t, set.PrerequisiteRules)
	assert.Empty(t, set.PrerequisiteRules)
	assert.NotNil(t, set.CorequisiteRules)
	assert.Empty(t, set.CorequisiteRules)
	assert.NotNil(t, set.Restrictions)
	assert.Empty(t, set.Restrictions)
}

func TestRuleRepositoryLoadApplicableRulesError(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewRuleRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("FROM prerequisite_rules")).
		WillReturnError(errors.New("connection reset"))

	_, err := repo.LoadApplicableRules(context.Background(), "cs101", time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list prerequisite rules")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRuleRepositoryFindRequirement(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewRuleRepository(db)
	columns := append(append([]string{}, requirementRowColumns...), "gated_course_id")
	mock.ExpectQuery(regexp.QuoteMeta("JOIN prerequisite_rules pr ON pr.id = r.rule_id")).
		WithArgs("req-new").
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("req-new", "rule-core", "COMPLETED_COURSE", 3, true, false, "cs101", "CS101", "C", false, false,
				nil, nil, nil, nil, nil, nil, false, nil, nil, nil, "cs201"))
	mock.ExpectQuery(regexp.QuoteMeta("JOIN prerequisite_rules pr ON pr.id = r.rule_id")).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	req, gated, err := repo.FindRequirement(context.Background(), "req-new")
	require.NoError(t, err)
	assert.Equal(t, "cs201", gated)
	assert.False(t, req.IsActive)
	require.NotNil(t, req.RequiredCourseID)
	assert.Equal(t, "cs101", *req.RequiredCourseID)

	_, _, err = repo.FindRequirement(context.Background(), "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRuleRepositoryActivateRequirement(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewRuleRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE prerequisite_requirements SET is_active = TRUE")).
		WithArgs("req-new").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE prerequisite_requirements SET is_active = TRUE")).
		WithArgs("req-new").
		WillReturnResult(sqlmock.NewResult(0, 0))

	activated, err := repo.ActivateRequirement(context.Background(), "req-new")
	require.NoError(t, err)
	assert.True(t, activated)

	activated, err = repo.ActivateRequirement(context.Background(), "req-new")
	require.NoError(t, err)
	assert.False(t, activated)
	require.NoError(t, mock.ExpectationsWereMet())
}
