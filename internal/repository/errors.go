package repository

import (
	"errors"
	"fmt"

	"github.com/noah-isme/sma-admission-api/pkg/database"
)

// Sentinels returned by repositories so services never inspect driver errors.
var (
	ErrDuplicate        = errors.New("duplicate record")
	ErrReferenceMissing = errors.New("referenced record missing")
	ErrAlreadyProcessed = errors.New("applicant already processed")
	// ErrNoChange lets an UpdateLocked mutator report that nothing needs writing.
	ErrNoChange = errors.New("no change")
)

// Constraint names declared by the schema migrations.
const (
	ConstraintAccountEmail     = "accounts_email_key"
	ConstraintAccountStudent   = "accounts_student_id_key"
	ConstraintStudentNIS       = "students_nis_key"
	ConstraintApplicantStudent = "applicants_student_id_key"
	ConstraintChargeUnique     = "charges_student_tariff_month_key"
)

// ConstraintError reports which constraint rejected a write.
type ConstraintError struct {
	Op         string
	Constraint string
	Err        error
}

func (e *ConstraintError) Error() string {
	return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Constraint)
}

func (e *ConstraintError) Unwrap() error { return e.Err }

// ConstraintOf returns the constraint name carried by err, if any.
func ConstraintOf(err error) string {
	var ce *ConstraintError
	if errors.As(err, &ce) {
		return ce.Constraint
	}
	return ""
}

// translate converts integrity violations into repository sentinels and wraps
// everything else with the operation name.
func translate(op string, err error) error {
	if constraint, ok := database.UniqueViolation(err); ok {
		return &ConstraintError{Op: op, Constraint: constraint, Err: ErrDuplicate}
	}
	if constraint, ok := database.ForeignKeyViolation(err); ok {
		return &ConstraintError{Op: op, Constraint: constraint, Err: ErrReferenceMissing}
	}
	return fmt.Errorf("%s: %w", op, err)
}
