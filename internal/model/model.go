package model

import "time"

const (
	RoleAdmin   = "admin"
	RoleTeacher = "teacher"
	RoleStudent = "student"
)

func ValidRole(role string) bool {
	switch role {
	case RoleAdmin, RoleTeacher, RoleStudent:
		return true
	default:
		return false
	}
}

// Tenant is one school. Code is the immutable routing key into the
// tenant's isolated data scope.
type Tenant struct {
	ID          string
	Name        string
	Code        string
	Provisioned bool
	CreatedAt   time.Time
}

// Identity lives in the shared per-role registry. TenantID is a
// back-reference for lookup only.
type Identity struct {
	ID           string
	TenantID     string
	Email        string
	PasswordHash string
	Role         string
	FirstName    string
	LastName     string
	CreatedAt    time.Time
}
