package models

import (
	"errors"
	"time"
)

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleSuperAdmin UserRole = "SUPERADMIN"
	RoleAdmin      UserRole = "ADMIN"
	RoleTeacher    UserRole = "TEACHER"
	RoleStudent    UserRole = "STUDENT"
)

// IsAdmin reports whether the role has administrative privileges.
func (r UserRole) IsAdmin() bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}

// Owner binding errors.
var (
	ErrOwnerMismatch = errors.New("account owner does not match role")
	ErrUnknownRole   = errors.New("unknown account role")
)

// Account is a login credential, bound to at most one student or teacher.
type Account struct {
	ID           string     `db:"id" json:"id"`
	Email        string     `db:"email" json:"email"`
	PasswordHash string     `db:"password_hash" json:"-"`
	Role         UserRole   `db:"role" json:"role"`
	StudentID    *string    `db:"student_id" json:"student_id,omitempty"`
	TeacherID    *string    `db:"teacher_id" json:"teacher_id,omitempty"`
	Active       bool       `db:"active" json:"active"`
	LastLogin    *time.Time `db:"last_login" json:"last_login,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// OwnerRef names the record an account belongs to.
type OwnerRef struct {
	StudentID string `json:"student_id,omitempty"`
	TeacherID string `json:"teacher_id,omitempty"`
}

// ValidateOwner checks that exactly the foreign key implied by the role is set.
func ValidateOwner(role UserRole, owner OwnerRef) error {
	hasStudent := owner.StudentID != ""
	hasTeacher := owner.TeacherID != ""
	switch role {
	case RoleStudent:
		if !hasStudent || hasTeacher {
			return ErrOwnerMismatch
		}
	case RoleTeacher:
		if !hasTeacher || hasStudent {
			return ErrOwnerMismatch
		}
	case RoleAdmin, RoleSuperAdmin:
		if hasStudent || hasTeacher {
			return ErrOwnerMismatch
		}
	default:
		return ErrUnknownRole
	}
	return nil
}

// Owner returns the account's owner reference.
func (a *Account) Owner() OwnerRef {
	var ref OwnerRef
	if a.StudentID != nil {
		ref.StudentID = *a.StudentID
	}
	if a.TeacherID != nil {
		ref.TeacherID = *a.TeacherID
	}
	return ref
}

// Info returns the public projection of the account.
func (a *Account) Info() AccountInfo {
	return AccountInfo{ID: a.ID, Email: a.Email, Role: a.Role, StudentID: a.StudentID, TeacherID: a.TeacherID}
}

// AccountInfo describes an account in responses without credentials.
type AccountInfo struct {
	ID        string   `json:"id"`
	Email     string   `json:"email"`
	Role      UserRole `json:"role"`
	StudentID *string  `json:"student_id,omitempty"`
	TeacherID *string  `json:"teacher_id,omitempty"`
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}

// NewPagination normalises page parameters the same way list queries do.
func NewPagination(page, size, total int) *Pagination {
	if page < 1 {
		page = 1
	}
	if size <= 0 || size > 100 {
		size = 20
	}
	return &Pagination{Page: page, PageSize: size, TotalCount: total}
}
