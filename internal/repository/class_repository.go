package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-admission-api/internal/models"
)

// ClassRepository handles persistence for classes and homeroom ownership.
type ClassRepository struct {
	db *sqlx.DB
}

// NewClassRepository creates a new class repository.
func NewClassRepository(db *sqlx.DB) *ClassRepository {
	return &ClassRepository{db: db}
}

// FindByID fetches a class by id.
func (r *ClassRepository) FindByID(ctx context.Context, id string) (*models.Class, error) {
	const query = `SELECT id, name, grade, homeroom_teacher_id, created_at, updated_at FROM classes WHERE id = $1`
	var class models.Class
	if err := r.db.GetContext(ctx, &class, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find class: %w", err)
	}
	return &class, nil
}

// IsHomeroomTeacherOfStudent reports whether teacherID is the homeroom
// teacher of the class the student is placed in.
func (r *ClassRepository) IsHomeroomTeacherOfStudent(ctx context.Context, teacherID, studentID string) (bool, error) {
	const query = `SELECT EXISTS(
	SELECT 1 FROM students s
	JOIN classes c ON c.id = s.class_id
	WHERE s.id = $1 AND c.homeroom_teacher_id = $2
)`
	var ok bool
	if err := r.db.GetContext(ctx, &ok, query, studentID, teacherID); err != nil {
		return false, fmt.Errorf("check homeroom ownership: %w", err)
	}
	return ok, nil
}
