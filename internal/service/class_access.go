package service

import (
	"context"

	"github.com/noah-isme/sma-admission-api/internal/models"
)

type homeroomChecker interface {
	IsHomeroomTeacherOfStudent(ctx context.Context, teacherID, studentID string) (bool, error)
}

// ClassAccess answers whether a caller may see a student's records:
// administrators always, a teacher only as homeroom teacher of the student's
// class, a student only for themselves.
type ClassAccess struct {
	repo homeroomChecker
}

// NewClassAccess constructs the access checker.
func NewClassAccess(repo homeroomChecker) *ClassAccess {
	return &ClassAccess{repo: repo}
}

// CanViewStudent implements the class ownership predicate.
func (a *ClassAccess) CanViewStudent(ctx context.Context, caller *models.JWTClaims, studentID string) (bool, error) {
	if caller == nil {
		return false, nil
	}
	switch {
	case caller.Role.IsAdmin():
		return true, nil
	case caller.Role == models.RoleTeacher:
		if caller.TeacherID == "" {
			return false, nil
		}
		return a.repo.IsHomeroomTeacherOfStudent(ctx, caller.TeacherID, studentID)
	case caller.Role == models.RoleStudent:
		return caller.StudentID != "" && caller.StudentID == studentID, nil
	default:
		return false, nil
	}
}
