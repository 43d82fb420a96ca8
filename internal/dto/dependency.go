package dto

// ResolveDependencyRequest closes a circular dependency finding.
type ResolveDependencyRequest struct {
	Note *string `json:"note,omitempty" validate:"omitempty,max=1000"`
}
