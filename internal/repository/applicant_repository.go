package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-admission-api/internal/models"
	"github.com/noah-isme/sma-admission-api/pkg/database"
)

const applicantColumns = `id, full_name, email, phone, birth_place, birth_date, gender, address, father_name, mother_name, guardian_name, previous_school, term_id, document_status, payment_status, state, student_id, created_at, updated_at`

// ConvertFunc builds the student and account for a locked applicant. seq is
// the freshly allocated student number sequence value.
type ConvertFunc func(applicant *models.Applicant, seq int64) (*models.Student, *models.Account, error)

// ApplicantRepository persists admission applicants.
type ApplicantRepository struct {
	db *sqlx.DB
}

// NewApplicantRepository constructs the repository.
func NewApplicantRepository(db *sqlx.DB) *ApplicantRepository {
	return &ApplicantRepository{db: db}
}

// Create stores a new applicant.
func (r *ApplicantRepository) Create(ctx context.Context, applicant *models.Applicant) error {
	if applicant.ID == "" {
		applicant.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if applicant.CreatedAt.IsZero() {
		applicant.CreatedAt = now
	}
	applicant.UpdatedAt = now

	const query = `INSERT INTO applicants (` + applicantColumns + `) VALUES (:id, :full_name, :email, :phone, :birth_place, :birth_date, :gender, :address, :father_name, :mother_name, :guardian_name, :previous_school, :term_id, :document_status, :payment_status, :state, :student_id, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, applicant); err != nil {
		return translate("create applicant", err)
	}
	return nil
}

// FindByID returns an applicant by identifier.
func (r *ApplicantRepository) FindByID(ctx context.Context, id string) (*models.Applicant, error) {
	query := `SELECT ` + applicantColumns + ` FROM applicants WHERE id = $1`
	var applicant models.Applicant
	if err := r.db.GetContext(ctx, &applicant, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find applicant: %w", err)
	}
	return &applicant, nil
}

// FindDetailByID returns an applicant with its term name and student number.
func (r *ApplicantRepository) FindDetailByID(ctx context.Context, id string) (*models.ApplicantDetail, error) {
	query := `SELECT ` + prefixed("a", applicantColumns) + `, t.name AS term_name, s.nis AS student_nis
FROM applicants a
JOIN terms t ON t.id = a.term_id
LEFT JOIN students s ON s.id = a.student_id
WHERE a.id = $1`
	var detail models.ApplicantDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find applicant detail: %w", err)
	}
	return &detail, nil
}

// FindStatusByEmail returns the public status of the most recent applicant
// registered under the exact email.
func (r *ApplicantRepository) FindStatusByEmail(ctx context.Context, email string) (*models.ApplicantStatusView, error) {
	const query = `SELECT a.full_name, a.document_status, a.payment_status, a.state, t.name AS term_name
FROM applicants a
JOIN terms t ON t.id = a.term_id
WHERE a.email = $1
ORDER BY a.created_at DESC
LIMIT 1`
	var view models.ApplicantStatusView
	if err := r.db.GetContext(ctx, &view, query, email); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find applicant status: %w", err)
	}
	return &view, nil
}

// List returns applicants matching the filter with a total count.
func (r *ApplicantRepository) List(ctx context.Context, filter models.ApplicantFilter) ([]models.ApplicantDetail, int, error) {
	var conditions []string
	var args []interface{}

	if filter.TermID != "" {
		args = append(args, filter.TermID)
		conditions = append(conditions, fmt.Sprintf("a.term_id = $%d", len(args)))
	}
	if filter.State != "" {
		args = append(args, filter.State)
		conditions = append(conditions, fmt.Sprintf("a.state = $%d", len(args)))
	}
	if filter.DocumentStatus != "" {
		args = append(args, filter.DocumentStatus)
		conditions = append(conditions, fmt.Sprintf("a.document_status = $%d", len(args)))
	}
	if filter.Search != "" {
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
		conditions = append(conditions, fmt.Sprintf("(LOWER(a.full_name) LIKE $%d OR LOWER(a.email) LIKE $%d)", len(args), len(args)))
	}

	base := "FROM applicants a JOIN terms t ON t.id = a.term_id LEFT JOIN students s ON s.id = a.student_id WHERE 1=1"
	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"full_name":  "a.full_name",
		"created_at": "a.created_at",
		"updated_at": "a.updated_at",
	}
	column, ok := allowedSorts[filter.SortBy]
	if !ok {
		column = "a.created_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page := models.NewPagination(filter.Page, filter.PageSize, 0)
	offset := (page.Page - 1) * page.PageSize

	query := fmt.Sprintf("SELECT %s, t.name AS term_name, s.nis AS student_nis %s ORDER BY %s %s LIMIT %d OFFSET %d",
		prefixed("a", applicantColumns), base, column, order, page.PageSize, offset)
	var items []models.ApplicantDetail
	if err := r.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list applicants: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) "+base, args...); err != nil {
		return nil, 0, fmt.Errorf("count applicants: %w", err)
	}
	return items, total, nil
}

// UpdateLocked loads the applicant under a row lock, lets mutate edit it and
// persists the result in the same transaction. A mutator returning
// ErrNoChange commits without writing.
func (r *ApplicantRepository) UpdateLocked(ctx context.Context, id string, mutate func(*models.Applicant) error) (*models.Applicant, error) {
	var applicant *models.Applicant
	err := database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		current, err := lockApplicant(ctx, tx, id)
		if err != nil {
			return err
		}
		applicant = current

		if err := mutate(applicant); err != nil {
			if errors.Is(err, ErrNoChange) {
				return nil
			}
			return err
		}

		applicant.UpdatedAt = time.Now().UTC()
		const query = `UPDATE applicants SET full_name = :full_name, email = :email, phone = :phone, birth_place = :birth_place, birth_date = :birth_date, gender = :gender, address = :address, father_name = :father_name, mother_name = :mother_name, guardian_name = :guardian_name, previous_school = :previous_school, document_status = :document_status, payment_status = :payment_status, state = :state, updated_at = :updated_at WHERE id = :id`
		if _, err := tx.NamedExecContext(ctx, query, applicant); err != nil {
			return fmt.Errorf("update applicant: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return applicant, nil
}

// Convert turns a submitted applicant into a student with a login account in
// one transaction. Concurrent calls serialize on the applicant row lock; the
// loser observes the back-reference and gets ErrAlreadyProcessed.
func (r *ApplicantRepository) Convert(ctx context.Context, id string, build ConvertFunc) (*models.Admission, error) {
	var admission *models.Admission
	err := database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		applicant, err := lockApplicant(ctx, tx, id)
		if err != nil {
			return err
		}
		if applicant.Converted() || applicant.State.Terminal() {
			return ErrAlreadyProcessed
		}

		var seq int64
		if err := tx.GetContext(ctx, &seq, `SELECT nextval('student_number_seq')`); err != nil {
			return fmt.Errorf("allocate student number: %w", err)
		}

		student, account, err := build(applicant, seq)
		if err != nil {
			return err
		}

		taken, err := emailExists(ctx, tx, account.Email)
		if err != nil {
			return err
		}
		if taken {
			return &ConstraintError{Op: "convert applicant", Constraint: ConstraintAccountEmail, Err: ErrDuplicate}
		}

		if err := insertStudent(ctx, tx, student); err != nil {
			return err
		}
		account.StudentID = &student.ID
		if err := insertAccount(ctx, tx, account); err != nil {
			return err
		}

		now := time.Now().UTC()
		const query = `UPDATE applicants SET document_status = $2, state = $3, student_id = $4, updated_at = $5 WHERE id = $1`
		if _, err := tx.ExecContext(ctx, query, applicant.ID, models.DocumentComplete, models.ApplicantAccepted, student.ID, now); err != nil {
			if constraint, ok := database.UniqueViolation(err); ok && constraint == ConstraintApplicantStudent {
				return ErrAlreadyProcessed
			}
			return translate("mark applicant accepted", err)
		}
		applicant.DocumentStatus = models.DocumentComplete
		applicant.State = models.ApplicantAccepted
		applicant.StudentID = &student.ID
		applicant.UpdatedAt = now

		admission = &models.Admission{Student: student, Account: account.Info(), Applicant: applicant}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return admission, nil
}

func lockApplicant(ctx context.Context, tx *sqlx.Tx, id string) (*models.Applicant, error) {
	query := `SELECT ` + applicantColumns + ` FROM applicants WHERE id = $1 FOR UPDATE`
	var applicant models.Applicant
	if err := tx.GetContext(ctx, &applicant, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("lock applicant: %w", err)
	}
	return &applicant, nil
}

// prefixed qualifies a comma separated column list with a table alias.
func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ", ")
	for i, p := range parts {
		parts[i] = alias + "." + p
	}
	return strings.Join(parts, ", ")
}
