package models

import "github.com/golang-jwt/jwt/v5"

// UserRole represents the roles recognised by the RBAC middleware.
type UserRole string

const (
	RoleAdmin     UserRole = "ADMIN"
	RoleRegistrar UserRole = "REGISTRAR"
	RoleAdvisor   UserRole = "ADVISOR"
	RoleStudent   UserRole = "STUDENT"
	// RoleService is used by the enrollment service calling on behalf of students.
	RoleService UserRole = "SERVICE"
)

// JWTClaims represents the JWT payload for access tokens.
type JWTClaims struct {
	UserID   string   `json:"user_id"`
	Role     UserRole `json:"role"`
	Email    string   `json:"email"`
	FullName string   `json:"full_name"`
	jwt.RegisteredClaims
}

// IsStaff reports whether the role may act on other students' records.
func (r UserRole) IsStaff() bool {
	switch r {
	case RoleAdmin, RoleRegistrar, RoleAdvisor, RoleService:
		return true
	}
	return false
}
