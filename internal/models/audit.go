package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// Audit actions recorded for rule administration and exception workflows.
const (
	AuditActionRequirementActivate = "REQUIREMENT_ACTIVATE"
	AuditActionDependencyScan      = "DEPENDENCY_SCAN"
	AuditActionDependencyResolve   = "DEPENDENCY_RESOLVE"
	AuditActionOverrideRequest     = "OVERRIDE_REQUEST"
	AuditActionOverrideDecision    = "OVERRIDE_STEP_DECISION"
	AuditActionOverrideReview      = "OVERRIDE_REVIEW"
	AuditActionWaiverRequest       = "WAIVER_REQUEST"
	AuditActionWaiverDecision      = "WAIVER_DECISION"
)

// Audited resources.
const (
	AuditResourceRequirement = "prerequisite_requirement"
	AuditResourceCourse      = "course"
	AuditResourceDependency  = "circular_dependency"
	AuditResourceOverride    = "prerequisite_override"
	AuditResourceWaiver      = "prerequisite_waiver"
)

// AuditLog is one successful state-changing request by a staff member.
type AuditLog struct {
	ID         string         `db:"id" json:"id"`
	UserID     *string        `db:"user_id" json:"user_id,omitempty"`
	Role       *string        `db:"role" json:"role,omitempty"`
	Action     string         `db:"action" json:"action"`
	Resource   string         `db:"resource" json:"resource"`
	ResourceID *string        `db:"resource_id" json:"resource_id,omitempty"`
	Details    types.JSONText `db:"details" json:"details,omitempty"`
	RequestID  string         `db:"request_id" json:"request_id"`
	IPAddress  string         `db:"ip_address" json:"ip_address"`
	UserAgent  string         `db:"user_agent" json:"user_agent"`
	CreatedAt  time.Time      `db:"created_at" json:"created_at"`
}
