package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// SatisfactionSource says how a satisfied requirement was met.
type SatisfactionSource string

const (
	SatisfiedByCourse          SatisfactionSource = "COURSE"
	SatisfiedByTransfer        SatisfactionSource = "TRANSFER_CREDIT"
	SatisfiedByTestEquivalency SatisfactionSource = "TEST_EQUIVALENCY"
	SatisfiedByRecord          SatisfactionSource = "RECORD"
	SatisfiedByOverride        SatisfactionSource = "OVERRIDE"
	SatisfiedByWaiver          SatisfactionSource = "WAIVER"
)

// CheckStatus is the outcome of a rule or restriction check.
type CheckStatus string

const (
	CheckSatisfied          CheckStatus = "SATISFIED"
	CheckNotSatisfied       CheckStatus = "NOT_SATISFIED"
	CheckOverridden         CheckStatus = "OVERRIDDEN"
	CheckWaived             CheckStatus = "WAIVED"
	CheckConfigurationError CheckStatus = "CONFIGURATION_ERROR"
	CheckPassed             CheckStatus = "PASSED"
	CheckViolated           CheckStatus = "VIOLATED"
	CheckWarning            CheckStatus = "WARNING"
)

// ValidationStatus is the overall outcome of a validation.
type ValidationStatus string

const (
	StatusEligible               ValidationStatus = "ELIGIBLE"
	StatusEligibleWithExceptions ValidationStatus = "ELIGIBLE_WITH_EXCEPTIONS"
	StatusEligibleWithWarnings   ValidationStatus = "ELIGIBLE_WITH_WARNINGS"
	StatusNotEligible            ValidationStatus = "NOT_ELIGIBLE"
	StatusConfigurationError     ValidationStatus = "CONFIGURATION_ERROR"
	StatusBlockedCircular        ValidationStatus = "BLOCKED_CIRCULAR_DEPENDENCY"
)

// RequirementCheckResult is the outcome of one atomic requirement.
type RequirementCheckResult struct {
	RequirementID      string             `json:"requirement_id"`
	Type               RequirementType    `json:"requirement_type"`
	SequenceOrder      int                `json:"sequence_order"`
	IsMandatory        bool               `json:"is_mandatory"`
	IsSatisfied        bool               `json:"is_satisfied"`
	ActualValue        string             `json:"actual_value,omitempty"`
	RequiredValue      string             `json:"required_value,omitempty"`
	FailureReason      string             `json:"failure_reason,omitempty"`
	SatisfiedBy        SatisfactionSource `json:"satisfied_by,omitempty"`
	ExceptionID        string             `json:"exception_id,omitempty"`
	ConfigurationError string             `json:"configuration_error,omitempty"`
}

// PrerequisiteCheckResult is the combined outcome of one prerequisite rule.
type PrerequisiteCheckResult struct {
	ID                     string                   `db:"id" json:"id"`
	ValidationResultID     string                   `db:"validation_result_id" json:"-"`
	RuleID                 string                   `db:"rule_id" json:"rule_id"`
	RuleName               string                   `db:"rule_name" json:"rule_name"`
	ParentRuleID           *string                  `db:"parent_rule_id" json:"parent_rule_id,omitempty"`
	Priority               int                      `db:"priority" json:"priority"`
	LogicOperator          LogicOperator            `db:"logic_operator" json:"logic_operator"`
	IsMandatory            bool                     `db:"is_mandatory" json:"is_mandatory"`
	IsSatisfied            bool                     `db:"is_satisfied" json:"is_satisfied"`
	Status                 CheckStatus              `db:"status" json:"status"`
	SatisfactionPercentage float64                  `db:"satisfaction_percentage" json:"satisfaction_percentage"`
	FailureReason          string                   `db:"failure_reason" json:"failure_reason,omitempty"`
	ExceptionID            *string                  `db:"exception_id" json:"exception_id,omitempty"`
	Details                types.JSONText           `db:"details" json:"-"`
	Requirements           []RequirementCheckResult `db:"-" json:"requirements"`
}

// CorequisiteCheckResult is the combined outcome of one corequisite rule.
type CorequisiteCheckResult struct {
	ID                     string                   `db:"id" json:"id"`
	ValidationResultID     string                   `db:"validation_result_id" json:"-"`
	RuleID                 string                   `db:"rule_id" json:"rule_id"`
	RuleName               string                   `db:"rule_name" json:"rule_name"`
	LogicOperator          LogicOperator            `db:"logic_operator" json:"logic_operator"`
	IsMandatory            bool                     `db:"is_mandatory" json:"is_mandatory"`
	IsSatisfied            bool                     `db:"is_satisfied" json:"is_satisfied"`
	Status                 CheckStatus              `db:"status" json:"status"`
	SatisfactionPercentage float64                  `db:"satisfaction_percentage" json:"satisfaction_percentage"`
	FailureReason          string                   `db:"failure_reason" json:"failure_reason,omitempty"`
	ExceptionID            *string                  `db:"exception_id" json:"exception_id,omitempty"`
	Details                types.JSONText           `db:"details" json:"-"`
	Requirements           []RequirementCheckResult `db:"-" json:"requirements"`
}

// RestrictionCheckResult is the outcome of one enrollment restriction.
type RestrictionCheckResult struct {
	ID                 string           `db:"id" json:"id"`
	ValidationResultID string           `db:"validation_result_id" json:"-"`
	RestrictionID      string           `db:"restriction_id" json:"restriction_id"`
	Type               RestrictionType  `db:"restriction_type" json:"restriction_type"`
	EnforcementLevel   EnforcementLevel `db:"enforcement_level" json:"enforcement_level"`
	Priority           int              `db:"priority" json:"priority"`
	IsViolated         bool             `db:"is_violated" json:"is_violated"`
	Status             CheckStatus      `db:"status" json:"status"`
	ActualValue        string           `db:"actual_value" json:"actual_value,omitempty"`
	RequiredValue      string           `db:"required_value" json:"required_value,omitempty"`
	FailureReason      string           `db:"failure_reason" json:"failure_reason,omitempty"`
	ExceptionID        *string          `db:"exception_id" json:"exception_id,omitempty"`
}

// SetupIssue reports a rule configuration problem to rule administrators.
type SetupIssue struct {
	RuleID        string `json:"rule_id"`
	RequirementID string `json:"requirement_id,omitempty"`
	Message       string `json:"message"`
}

// ValidationKey identifies the (student, course, term) triple a result belongs to.
type ValidationKey struct {
	StudentID string `json:"student_id"`
	CourseID  string `json:"course_id"`
	TermID    string `json:"term_id"`
}

// PrerequisiteValidationResult is the persisted outcome of one validation call.
// Rows are never updated; the current result is the highest version for the key.
type PrerequisiteValidationResult struct {
	ID               string           `db:"id" json:"id"`
	StudentID        string           `db:"student_id" json:"student_id"`
	CourseID         string           `db:"course_id" json:"course_id"`
	TermID           string           `db:"term_id" json:"term_id"`
	Version          int              `db:"version" json:"version"`
	CanEnroll        bool             `db:"can_enroll" json:"can_enroll"`
	OverallStatus    ValidationStatus `db:"overall_status" json:"overall_status"`
	AsOf             time.Time        `db:"as_of" json:"as_of"`
	ValidatedAt      time.Time        `db:"validated_at" json:"validated_at"`
	ValidatedBy      *string          `db:"validated_by" json:"validated_by,omitempty"`
	AppliedOverrides types.JSONText   `db:"applied_overrides" json:"-"`
	AppliedWaivers   types.JSONText   `db:"applied_waivers" json:"-"`
	SetupIssuesJSON  types.JSONText   `db:"setup_issues" json:"-"`
	IsCurrent        bool             `db:"-" json:"is_current"`

	PrerequisiteChecks []PrerequisiteCheckResult `db:"-" json:"prerequisite_checks"`
	CorequisiteChecks  []CorequisiteCheckResult  `db:"-" json:"corequisite_checks"`
	RestrictionChecks  []RestrictionCheckResult  `db:"-" json:"restriction_checks"`
	Overrides          []AppliedException        `db:"-" json:"applied_overrides"`
	Waivers            []AppliedException        `db:"-" json:"applied_waivers"`
	SetupIssues        []SetupIssue              `db:"-" json:"setup_issues,omitempty"`
}

// Key returns the (student, course, term) triple.
func (r PrerequisiteValidationResult) Key() ValidationKey {
	return ValidationKey{StudentID: r.StudentID, CourseID: r.CourseID, TermID: r.TermID}
}

// FailureReasons lists the actionable reasons a non-eligible result failed.
func (r PrerequisiteValidationResult) FailureReasons() []string {
	var reasons []string
	for _, check := range r.RestrictionChecks {
		if check.IsViolated && check.FailureReason != "" {
			reasons = append(reasons, check.FailureReason)
		}
	}
	for _, check := range r.PrerequisiteChecks {
		if check.IsSatisfied {
			continue
		}
		for _, req := range check.Requirements {
			if !req.IsSatisfied && req.FailureReason != "" {
				reasons = append(reasons, req.FailureReason)
			}
		}
	}
	for _, check := range r.CorequisiteChecks {
		if check.IsSatisfied {
			continue
		}
		for _, req := range check.Requirements {
			if !req.IsSatisfied && req.FailureReason != "" {
				reasons = append(reasons, req.FailureReason)
			}
		}
	}
	return reasons
}

// ValidationOutcome is what a validation call returns to the enrollment service.
type ValidationOutcome struct {
	CanEnroll      bool                          `json:"can_enroll"`
	OverallStatus  ValidationStatus              `json:"overall_status"`
	FailureReasons []string                      `json:"failure_reasons"`
	Result         *PrerequisiteValidationResult `json:"result"`
}
