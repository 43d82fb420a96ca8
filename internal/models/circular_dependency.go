package models

import (
	"time"

	"github.com/lib/pq"
)

// DependencySeverity grades how disruptive a detected cycle is.
type DependencySeverity string

const (
	SeverityNone     DependencySeverity = "NONE"
	SeverityLow      DependencySeverity = "LOW"
	SeverityMedium   DependencySeverity = "MEDIUM"
	SeverityHigh     DependencySeverity = "HIGH"
	SeverityCritical DependencySeverity = "CRITICAL"
)

// CircularDependencyResult is one detection run for a course.
type CircularDependencyResult struct {
	ID                    string             `db:"id" json:"id"`
	CourseID              string             `db:"course_id" json:"course_id"`
	HasCircularDependency bool               `db:"has_circular_dependency" json:"has_circular_dependency"`
	DependencyPath        pq.StringArray     `db:"dependency_path" json:"dependency_path"`
	InvolvedCourses       pq.StringArray     `db:"involved_courses" json:"involved_courses"`
	Severity              DependencySeverity `db:"severity" json:"severity"`
	DetectionDate         time.Time          `db:"detection_date" json:"detection_date"`
	IsResolved            bool               `db:"is_resolved" json:"is_resolved"`
	ResolutionDate        *time.Time         `db:"resolution_date" json:"resolution_date,omitempty"`
	ResolvedBy            *string            `db:"resolved_by" json:"resolved_by,omitempty"`
	ResolutionNote        *string            `db:"resolution_note" json:"resolution_note,omitempty"`
}

// Blocking reports whether the result freezes enrollment in the course.
func (r CircularDependencyResult) Blocking() bool {
	return r.HasCircularDependency && !r.IsResolved
}
