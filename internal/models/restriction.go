package models

import (
	"time"

	"github.com/lib/pq"
)

// RestrictionType enumerates non-coursework gating conditions.
type RestrictionType string

const (
	RestrictionMajor         RestrictionType = "MAJOR"
	RestrictionClassStanding RestrictionType = "CLASS_STANDING"
	RestrictionPermission    RestrictionType = "PERMISSION"
)

// RestrictionMode decides whether Values lists who is allowed or who is barred.
type RestrictionMode string

const (
	RestrictionInclude RestrictionMode = "INCLUDE"
	RestrictionExclude RestrictionMode = "EXCLUDE"
)

// EnforcementLevel distinguishes hard blocks from warnings.
type EnforcementLevel string

const (
	EnforcementHard    EnforcementLevel = "HARD"
	EnforcementWarning EnforcementLevel = "WARNING"
)

// EnrollmentRestriction is a per-course gate independent of prior coursework.
type EnrollmentRestriction struct {
	ID                 string           `db:"id" json:"id"`
	CourseID           string           `db:"course_id" json:"course_id"`
	Type               RestrictionType  `db:"restriction_type" json:"restriction_type"`
	Mode               RestrictionMode  `db:"mode" json:"mode"`
	Values             pq.StringArray   `db:"restriction_values" json:"values"`
	RequiredPermission *string          `db:"required_permission" json:"required_permission,omitempty"`
	Priority           int              `db:"priority" json:"priority"`
	EnforcementLevel   EnforcementLevel `db:"enforcement_level" json:"enforcement_level"`
	IsActive           bool             `db:"is_active" json:"is_active"`
	EffectiveDate      time.Time        `db:"effective_date" json:"effective_date"`
	ExpirationDate     *time.Time       `db:"expiration_date" json:"expiration_date,omitempty"`
	Message            *string          `db:"message" json:"message,omitempty"`
}

// RuleSet is everything that gates enrollment in a course on a given date.
type RuleSet struct {
	CourseID          string                  `json:"course_id"`
	AsOf              time.Time               `json:"as_of"`
	PrerequisiteRules []PrerequisiteRule      `json:"prerequisite_rules"`
	CorequisiteRules  []CorequisiteRule       `json:"corequisite_rules"`
	Restrictions      []EnrollmentRestriction `json:"restrictions"`
}

// Empty reports whether the course has no gating rules at all.
func (s RuleSet) Empty() bool {
	return len(s.PrerequisiteRules) == 0 && len(s.CorequisiteRules) == 0 && len(s.Restrictions) == 0
}
