package dto

import (
	"time"

	"github.com/noah-isme/course-eligibility-api/internal/models"
)

// ApprovalStepRequest declares one step of an override approval workflow.
type ApprovalStepRequest struct {
	ApproverRole models.UserRole `json:"approverRole" validate:"required,oneof=ADMIN REGISTRAR ADVISOR"`
	AssignedTo   *string         `json:"assignedTo,omitempty"`
	IsMandatory  *bool           `json:"isMandatory,omitempty"`
	DueDate      *time.Time      `json:"dueDate,omitempty"`
}

// CreateOverrideRequest asks for a time-boxed bypass of a failed check.
type CreateOverrideRequest struct {
	StudentID              string                 `json:"studentId" validate:"required"`
	CourseID               string                 `json:"courseId" validate:"required"`
	TermID                 *string                `json:"termId,omitempty"`
	TargetType             models.ExceptionTarget `json:"targetType" validate:"required"`
	TargetID               *string                `json:"targetId,omitempty"`
	Scope                  models.ExceptionScope  `json:"scope" validate:"required,oneof=COMPLETE PARTIAL"`
	Conditions             []string               `json:"conditions,omitempty" validate:"omitempty,dive,required"`
	Reason                 string                 `json:"reason" validate:"required,min=5"`
	EffectiveFrom          *time.Time             `json:"effectiveFrom,omitempty"`
	ExpiresAt              *time.Time             `json:"expiresAt,omitempty"`
	RequiresPeriodicReview bool                   `json:"requiresPeriodicReview"`
	NextReviewDate         *time.Time             `json:"nextReviewDate,omitempty"`
	Steps                  []ApprovalStepRequest  `json:"steps" validate:"omitempty,dive"`
}

// StepDecisionRequest records an approver's action on a workflow step.
type StepDecisionRequest struct {
	Decision   string  `json:"decision" validate:"required,oneof=APPROVE REJECT DELEGATE"`
	DelegateTo *string `json:"delegateTo,omitempty"`
	Comment    *string `json:"comment,omitempty"`
}

// ReviewOverrideRequest records a periodic review of an approved override.
type ReviewOverrideRequest struct {
	NextReviewDate time.Time `json:"nextReviewDate" validate:"required"`
}

// CreateWaiverRequest asks for an exemption from a requirement.
type CreateWaiverRequest struct {
	StudentID  string                 `json:"studentId" validate:"required"`
	CourseID   string                 `json:"courseId" validate:"required"`
	TermID     *string                `json:"termId,omitempty"`
	TargetType models.ExceptionTarget `json:"targetType" validate:"required"`
	TargetID   *string                `json:"targetId,omitempty"`
	Scope      models.ExceptionScope  `json:"scope" validate:"required,oneof=COMPLETE PARTIAL"`
	Conditions []string               `json:"conditions,omitempty" validate:"omitempty,dive,required"`
	Reason     string                 `json:"reason" validate:"required,min=5"`
	ExpiresAt  *time.Time             `json:"expiresAt,omitempty"`
}

// WaiverDecisionRequest approves or rejects a pending waiver.
type WaiverDecisionRequest struct {
	Decision string `json:"decision" validate:"required,oneof=APPROVE REJECT"`
}
