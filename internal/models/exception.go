package models

import (
	"time"

	"github.com/lib/pq"
)

// ExceptionKind distinguishes one-time overrides from waivers.
type ExceptionKind string

const (
	ExceptionOverride ExceptionKind = "OVERRIDE"
	ExceptionWaiver   ExceptionKind = "WAIVER"
)

// ExceptionTarget names what an override or waiver covers.
type ExceptionTarget string

const (
	TargetPrerequisiteRule        ExceptionTarget = "PREREQUISITE_RULE"
	TargetPrerequisiteRequirement ExceptionTarget = "PREREQUISITE_REQUIREMENT"
	TargetCorequisiteRule         ExceptionTarget = "COREQUISITE_RULE"
	TargetRestriction             ExceptionTarget = "RESTRICTION"
	TargetAllPrerequisites        ExceptionTarget = "ALL_PREREQUISITES"
)

// Valid reports whether t is a known target.
func (t ExceptionTarget) Valid() bool {
	switch t {
	case TargetPrerequisiteRule, TargetPrerequisiteRequirement, TargetCorequisiteRule, TargetRestriction, TargetAllPrerequisites:
		return true
	}
	return false
}

// ExceptionScope decides whether the whole target or only named conditions are covered.
type ExceptionScope string

const (
	ScopeComplete ExceptionScope = "COMPLETE"
	ScopePartial  ExceptionScope = "PARTIAL"
)

// ExceptionStatus is the lifecycle of an override or waiver.
type ExceptionStatus string

const (
	ExceptionPending  ExceptionStatus = "PENDING"
	ExceptionApproved ExceptionStatus = "APPROVED"
	ExceptionRejected ExceptionStatus = "REJECTED"
	ExceptionRevoked  ExceptionStatus = "REVOKED"
)

// StepStatus is the state of one approval step.
type StepStatus string

const (
	StepPending   StepStatus = "PENDING"
	StepApproved  StepStatus = "APPROVED"
	StepRejected  StepStatus = "REJECTED"
	StepDelegated StepStatus = "DELEGATED"
)

// PrerequisiteOverride is a time-boxed administrative bypass for one student and course.
type PrerequisiteOverride struct {
	ID                     string          `db:"id" json:"id"`
	StudentID              string          `db:"student_id" json:"student_id"`
	CourseID               string          `db:"course_id" json:"course_id"`
	TermID                 *string         `db:"term_id" json:"term_id,omitempty"`
	TargetType             ExceptionTarget `db:"target_type" json:"target_type"`
	TargetID               *string         `db:"target_id" json:"target_id,omitempty"`
	Scope                  ExceptionScope  `db:"scope" json:"scope"`
	Conditions             pq.StringArray  `db:"conditions" json:"conditions,omitempty"`
	Status                 ExceptionStatus `db:"status" json:"status"`
	Reason                 string          `db:"reason" json:"reason"`
	RequestedBy            string          `db:"requested_by" json:"requested_by"`
	EffectiveFrom          time.Time       `db:"effective_from" json:"effective_from"`
	ExpiresAt              *time.Time      `db:"expires_at" json:"expires_at,omitempty"`
	RequiresPeriodicReview bool            `db:"requires_periodic_review" json:"requires_periodic_review"`
	NextReviewDate         *time.Time      `db:"next_review_date" json:"next_review_date,omitempty"`
	LastReviewedBy         *string         `db:"last_reviewed_by" json:"last_reviewed_by,omitempty"`
	CreatedAt              time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt              time.Time       `db:"updated_at" json:"updated_at"`

	Steps []OverrideApprovalStep `db:"-" json:"steps"`
}

// OverrideApprovalStep is one ordered step of an override's approval workflow.
type OverrideApprovalStep struct {
	ID           string     `db:"id" json:"id"`
	OverrideID   string     `db:"override_id" json:"override_id"`
	StepOrder    int        `db:"step_order" json:"step_order"`
	ApproverRole UserRole   `db:"approver_role" json:"approver_role"`
	AssignedTo   *string    `db:"assigned_to" json:"assigned_to,omitempty"`
	DelegatedTo  *string    `db:"delegated_to" json:"delegated_to,omitempty"`
	IsMandatory  bool       `db:"is_mandatory" json:"is_mandatory"`
	Status       StepStatus `db:"status" json:"status"`
	DueDate      *time.Time `db:"due_date" json:"due_date,omitempty"`
	DecidedBy    *string    `db:"decided_by" json:"decided_by,omitempty"`
	DecidedAt    *time.Time `db:"decided_at" json:"decided_at,omitempty"`
	Comment      *string    `db:"comment" json:"comment,omitempty"`
}

// PrerequisiteWaiver exempts a student from a requirement, permanently when ExpiresAt is nil.
type PrerequisiteWaiver struct {
	ID          string          `db:"id" json:"id"`
	StudentID   string          `db:"student_id" json:"student_id"`
	CourseID    string          `db:"course_id" json:"course_id"`
	TermID      *string         `db:"term_id" json:"term_id,omitempty"`
	TargetType  ExceptionTarget `db:"target_type" json:"target_type"`
	TargetID    *string         `db:"target_id" json:"target_id,omitempty"`
	Scope       ExceptionScope  `db:"scope" json:"scope"`
	Conditions  pq.StringArray  `db:"conditions" json:"conditions,omitempty"`
	Status      ExceptionStatus `db:"status" json:"status"`
	Reason      string          `db:"reason" json:"reason"`
	RequestedBy string          `db:"requested_by" json:"requested_by"`
	ApprovedBy  *string         `db:"approved_by" json:"approved_by,omitempty"`
	ApprovedAt  *time.Time      `db:"approved_at" json:"approved_at,omitempty"`
	ExpiresAt   *time.Time      `db:"expires_at" json:"expires_at,omitempty"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
}

// StudentExceptions bundles every override and waiver of a student for a course.
type StudentExceptions struct {
	Overrides []PrerequisiteOverride
	Waivers   []PrerequisiteWaiver
}

// AppliedException records an override or waiver that turned a failure into a pass.
type AppliedException struct {
	ID         string          `json:"id"`
	Kind       ExceptionKind   `json:"kind"`
	TargetType ExceptionTarget `json:"target_type"`
	TargetID   string          `json:"target_id,omitempty"`
	Scope      ExceptionScope  `json:"scope"`
	Covered    []string        `json:"covered"`
}
