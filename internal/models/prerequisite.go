package models

import (
	"fmt"
	"strings"
	"time"
)

// LogicOperator combines the requirements (and child rules) of a rule.
type LogicOperator string

const (
	LogicAnd LogicOperator = "AND"
	LogicOr  LogicOperator = "OR"
	// LogicNOf is satisfied when at least MinimumSatisfied operands are satisfied.
	LogicNOf LogicOperator = "N_OF"
)

// Valid reports whether the operator is one the combinator understands.
func (o LogicOperator) Valid() bool {
	switch o {
	case LogicAnd, LogicOr, LogicNOf:
		return true
	}
	return false
}

// RequirementType tags the variant of a PrerequisiteRequirement.
type RequirementType string

const (
	RequirementCompletedCourse RequirementType = "COMPLETED_COURSE"
	RequirementCreditHours     RequirementType = "CREDIT_HOURS"
	RequirementClassStanding   RequirementType = "CLASS_STANDING"
	RequirementGPA             RequirementType = "GPA"
	RequirementPermission      RequirementType = "PERMISSION"
	RequirementTestScore       RequirementType = "TEST_SCORE"
	// RequirementConcurrentEnrollment is only produced by corequisite evaluation.
	RequirementConcurrentEnrollment RequirementType = "CONCURRENT_ENROLLMENT"
)

// GPAScope selects which GPA a GPA requirement reads.
type GPAScope string

const (
	GPAScopeCumulative  GPAScope = "CUMULATIVE"
	GPAScopeMajor       GPAScope = "MAJOR"
	GPAScopeSubjectArea GPAScope = "SUBJECT_AREA"
)

// PrerequisiteRule groups requirements a student must meet before enrolling in a course.
type PrerequisiteRule struct {
	ID               string        `db:"id" json:"id"`
	CourseID         string        `db:"course_id" json:"course_id"`
	Name             string        `db:"name" json:"name"`
	LogicOperator    LogicOperator `db:"logic_operator" json:"logic_operator"`
	MinimumSatisfied int           `db:"minimum_satisfied" json:"minimum_satisfied,omitempty"`
	Priority         int           `db:"priority" json:"priority"`
	ParentRuleID     *string       `db:"parent_rule_id" json:"parent_rule_id,omitempty"`
	IsMandatory      bool          `db:"is_mandatory" json:"is_mandatory"`
	IsActive         bool          `db:"is_active" json:"is_active"`
	EffectiveDate    time.Time     `db:"effective_date" json:"effective_date"`
	ExpirationDate   *time.Time    `db:"expiration_date" json:"expiration_date,omitempty"`

	Requirements []PrerequisiteRequirement `db:"-" json:"requirements"`
}

// PrerequisiteRequirement is one atomic condition. Only the columns relevant to
// Type are meaningful; the typed accessors below extract them.
type PrerequisiteRequirement struct {
	ID              string          `db:"id" json:"id"`
	RuleID          string          `db:"rule_id" json:"rule_id"`
	Type            RequirementType `db:"requirement_type" json:"requirement_type"`
	SequenceOrder   int             `db:"sequence_order" json:"sequence_order"`
	MustBeCompleted bool            `db:"must_be_completed" json:"must_be_completed"`
	IsActive        bool            `db:"is_active" json:"is_active"`

	RequiredCourseID        *string  `db:"required_course_id" json:"required_course_id,omitempty"`
	RequiredCourseCode      *string  `db:"required_course_code" json:"required_course_code,omitempty"`
	MinimumGrade            *string  `db:"minimum_grade" json:"minimum_grade,omitempty"`
	AllowTransferCredit     bool     `db:"allow_transfer_credit" json:"allow_transfer_credit"`
	AllowTestEquivalency    bool     `db:"allow_test_equivalency" json:"allow_test_equivalency"`
	MinimumCreditHours      *float64 `db:"minimum_credit_hours" json:"minimum_credit_hours,omitempty"`
	SubjectArea             *string  `db:"subject_area" json:"subject_area,omitempty"`
	RequiredClassStanding   *string  `db:"required_class_standing" json:"required_class_standing,omitempty"`
	MinimumGPA              *float64 `db:"minimum_gpa" json:"minimum_gpa,omitempty"`
	GPAScope                *string  `db:"gpa_scope" json:"gpa_scope,omitempty"`
	RequiredPermission      *string  `db:"required_permission" json:"required_permission,omitempty"`
	RequiresDocumentation   bool     `db:"requires_documentation" json:"requires_documentation"`
	TestName                *string  `db:"test_name" json:"test_name,omitempty"`
	MinimumTestScore        *float64 `db:"minimum_test_score" json:"minimum_test_score,omitempty"`
	TestScoreValidityMonths *int     `db:"test_score_validity_months" json:"test_score_validity_months,omitempty"`
}

// CourseCompletionParams parameterises COMPLETED_COURSE requirements.
type CourseCompletionParams struct {
	CourseID             string
	CourseCode           string
	MinimumGrade         string
	AllowTransferCredit  bool
	AllowTestEquivalency bool
}

// CreditHoursParams parameterises CREDIT_HOURS requirements.
type CreditHoursParams struct {
	Minimum     float64
	SubjectArea string
}

// ClassStandingParams parameterises CLASS_STANDING requirements.
type ClassStandingParams struct {
	Required ClassStanding
}

// GPAParams parameterises GPA requirements.
type GPAParams struct {
	Minimum     float64
	Scope       GPAScope
	SubjectArea string
}

// PermissionParams parameterises PERMISSION requirements.
type PermissionParams struct {
	Permission            string
	RequiresDocumentation bool
}

// TestScoreParams parameterises TEST_SCORE requirements.
type TestScoreParams struct {
	TestName       string
	Minimum        float64
	ValidityMonths int
}

// CourseCompletion returns the completed-course parameters. A missing course
// code means the referenced course does not exist in the catalog.
func (r PrerequisiteRequirement) CourseCompletion() (CourseCompletionParams, error) {
	if r.RequiredCourseID == nil || strings.TrimSpace(*r.RequiredCourseID) == "" {
		return CourseCompletionParams{}, fmt.Errorf("requirement %s: required_course_id is not set", r.ID)
	}
	if r.RequiredCourseCode == nil || *r.RequiredCourseCode == "" {
		return CourseCompletionParams{}, fmt.Errorf("requirement %s: references unknown course %s", r.ID, *r.RequiredCourseID)
	}
	p := CourseCompletionParams{
		CourseID:             *r.RequiredCourseID,
		CourseCode:           *r.RequiredCourseCode,
		AllowTransferCredit:  r.AllowTransferCredit,
		AllowTestEquivalency: r.AllowTestEquivalency,
	}
	if r.MinimumGrade != nil {
		p.MinimumGrade = strings.ToUpper(strings.TrimSpace(*r.MinimumGrade))
	}
	return p, nil
}

// CreditHours returns the credit-hours parameters.
func (r PrerequisiteRequirement) CreditHours() (CreditHoursParams, error) {
	if r.MinimumCreditHours == nil || *r.MinimumCreditHours < 0 {
		return CreditHoursParams{}, fmt.Errorf("requirement %s: minimum_credit_hours is not set", r.ID)
	}
	return CreditHoursParams{Minimum: *r.MinimumCreditHours, SubjectArea: deref(r.SubjectArea)}, nil
}

// ClassStanding returns the class-standing parameters.
func (r PrerequisiteRequirement) ClassStanding() (ClassStandingParams, error) {
	standing := ClassStanding(strings.ToUpper(deref(r.RequiredClassStanding)))
	if !standing.Valid() {
		return ClassStandingParams{}, fmt.Errorf("requirement %s: invalid required_class_standing %q", r.ID, deref(r.RequiredClassStanding))
	}
	return ClassStandingParams{Required: standing}, nil
}

// GPA returns the GPA parameters. Scope defaults to cumulative.
func (r PrerequisiteRequirement) GPA() (GPAParams, error) {
	if r.MinimumGPA == nil {
		return GPAParams{}, fmt.Errorf("requirement %s: minimum_gpa is not set", r.ID)
	}
	scope := GPAScope(strings.ToUpper(deref(r.GPAScope)))
	if scope == "" {
		scope = GPAScopeCumulative
	}
	p := GPAParams{Minimum: *r.MinimumGPA, Scope: scope, SubjectArea: deref(r.SubjectArea)}
	switch scope {
	case GPAScopeCumulative, GPAScopeMajor:
	case GPAScopeSubjectArea:
		if p.SubjectArea == "" {
			return GPAParams{}, fmt.Errorf("requirement %s: subject-area GPA without subject_area", r.ID)
		}
	default:
		return GPAParams{}, fmt.Errorf("requirement %s: invalid gpa_scope %q", r.ID, scope)
	}
	return p, nil
}

// Permission returns the permission parameters.
func (r PrerequisiteRequirement) Permission() (PermissionParams, error) {
	if strings.TrimSpace(deref(r.RequiredPermission)) == "" {
		return PermissionParams{}, fmt.Errorf("requirement %s: required_permission is not set", r.ID)
	}
	return PermissionParams{Permission: *r.RequiredPermission, RequiresDocumentation: r.RequiresDocumentation}, nil
}

// TestScore returns the test-score parameters. Zero validity means scores never expire.
func (r PrerequisiteRequirement) TestScore() (TestScoreParams, error) {
	if strings.TrimSpace(deref(r.TestName)) == "" || r.MinimumTestScore == nil {
		return TestScoreParams{}, fmt.Errorf("requirement %s: test_name and minimum_test_score are required", r.ID)
	}
	p := TestScoreParams{TestName: *r.TestName, Minimum: *r.MinimumTestScore}
	if r.TestScoreValidityMonths != nil {
		p.ValidityMonths = *r.TestScoreValidityMonths
	}
	return p, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}
