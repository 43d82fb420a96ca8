package dto

import "time"

// ValidateEnrollmentRequest asks whether a student may enroll in a course for a term.
type ValidateEnrollmentRequest struct {
	StudentID string     `json:"studentId" validate:"required"`
	CourseID  string     `json:"courseId" validate:"required"`
	TermID    string     `json:"termId" validate:"required"`
	AsOf      *time.Time `json:"asOf,omitempty"`
}

// ValidationKeyQuery identifies the results of one (student, course, term).
type ValidationKeyQuery struct {
	StudentID string `form:"studentId" validate:"required"`
	CourseID  string `form:"courseId" validate:"required"`
	TermID    string `form:"termId" validate:"required"`
	Limit     int    `form:"limit" validate:"omitempty,min=1,max=100"`
}

// ExportValidationQuery selects the export format.
type ExportValidationQuery struct {
	Format string `form:"format" validate:"omitempty,oneof=csv pdf"`
}
