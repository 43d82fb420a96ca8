package models

import "time"

// CorequisiteRelationship states whether the paired course must or may be taken together.
type CorequisiteRelationship string

const (
	CorequisiteMust CorequisiteRelationship = "MUST_TAKE_TOGETHER"
	CorequisiteMay  CorequisiteRelationship = "MAY_TAKE_TOGETHER"
)

// CorequisiteRule asserts concurrent enrollment relationships for a course.
type CorequisiteRule struct {
	ID               string        `db:"id" json:"id"`
	CourseID         string        `db:"course_id" json:"course_id"`
	Name             string        `db:"name" json:"name"`
	LogicOperator    LogicOperator `db:"logic_operator" json:"logic_operator"`
	MinimumSatisfied int           `db:"minimum_satisfied" json:"minimum_satisfied,omitempty"`
	Priority         int           `db:"priority" json:"priority"`
	IsMandatory      bool          `db:"is_mandatory" json:"is_mandatory"`
	IsActive         bool          `db:"is_active" json:"is_active"`
	EffectiveDate    time.Time     `db:"effective_date" json:"effective_date"`
	ExpirationDate   *time.Time    `db:"expiration_date" json:"expiration_date,omitempty"`

	Requirements []CorequisiteRequirement `db:"-" json:"requirements"`
}

// CorequisiteRequirement names one course to be taken in the same term.
type CorequisiteRequirement struct {
	ID                   string                  `db:"id" json:"id"`
	RuleID               string                  `db:"rule_id" json:"rule_id"`
	RequiredCourseID     string                  `db:"required_course_id" json:"required_course_id"`
	RequiredCourseCode   *string                 `db:"required_course_code" json:"required_course_code,omitempty"`
	Relationship         CorequisiteRelationship `db:"relationship" json:"relationship"`
	AllowPriorCompletion bool                    `db:"allow_prior_completion" json:"allow_prior_completion"`
	SequenceOrder        int                     `db:"sequence_order" json:"sequence_order"`
}

// Mandatory reports whether the requirement blocks when unmet.
func (r CorequisiteRequirement) Mandatory() bool {
	return r.Relationship != CorequisiteMay
}
