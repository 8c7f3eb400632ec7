package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-admission-api/internal/models"
)

const accountColumns = `id, email, password_hash, role, student_id, teacher_id, active, last_login, created_at, updated_at`

const insertAccountQuery = `INSERT INTO accounts (id, email, password_hash, role, student_id, teacher_id, active, created_at, updated_at) VALUES (:id, :email, :password_hash, :role, :student_id, :teacher_id, :active, :created_at, :updated_at)`

// AccountRepository provides database access for login accounts.
type AccountRepository struct {
	db *sqlx.DB
}

// NewAccountRepository creates a new instance of AccountRepository.
func NewAccountRepository(db *sqlx.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// FindByEmail returns an account by email address.
func (r *AccountRepository) FindByEmail(ctx context.Context, email string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE email = $1 LIMIT 1`
	var account models.Account
	if err := r.db.GetContext(ctx, &account, query, email); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find account by email: %w", err)
	}
	return &account, nil
}

// FindByID returns an account by identifier.
func (r *AccountRepository) FindByID(ctx context.Context, id string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1 LIMIT 1`
	var account models.Account
	if err := r.db.GetContext(ctx, &account, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find account by id: %w", err)
	}
	return &account, nil
}

// EmailExists reports whether an account already uses the email.
func (r *AccountRepository) EmailExists(ctx context.Context, email string) (bool, error) {
	return emailExists(ctx, r.db, email)
}

func emailExists(ctx context.Context, q sqlx.QueryerContext, email string) (bool, error) {
	const query = `SELECT EXISTS(SELECT 1 FROM accounts WHERE email = $1)`
	var exists bool
	if err := sqlx.GetContext(ctx, q, &exists, query, email); err != nil {
		return false, fmt.Errorf("check account email: %w", err)
	}
	return exists, nil
}

// Create inserts a new account. A taken email surfaces as ErrDuplicate.
func (r *AccountRepository) Create(ctx context.Context, account *models.Account) error {
	return insertAccount(ctx, r.db, account)
}

func insertAccount(ctx context.Context, ext sqlx.ExtContext, account *models.Account) error {
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.UpdatedAt = now
	if _, err := sqlx.NamedExecContext(ctx, ext, insertAccountQuery, account); err != nil {
		return translate("create account", err)
	}
	return nil
}

// UpdatePassword overwrites the stored hash. Unknown ids yield sql.ErrNoRows.
func (r *AccountRepository) UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error {
	const query = `UPDATE accounts SET password_hash = $2, updated_at = $3 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, passwordHash, updatedAt)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// UpdateLastLogin updates the last_login timestamp for an account.
func (r *AccountRepository) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	const query = `UPDATE accounts SET last_login = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, ts, ts); err != nil {
		return fmt.Errorf("update last login: %w", err)
	}
	return nil
}
