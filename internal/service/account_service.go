package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/sma-admission-api/internal/models"
	"github.com/noah-isme/sma-admission-api/internal/repository"
	appErrors "github.com/noah-isme/sma-admission-api/pkg/errors"
)

const accountResource = "account"

type accountRepository interface {
	FindByID(ctx context.Context, id string) (*models.Account, error)
	EmailExists(ctx context.Context, email string) (bool, error)
	Create(ctx context.Context, account *models.Account) error
	UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error
}

// ProvisionAccountRequest is the payload for creating a login account.
type ProvisionAccountRequest struct {
	Email     string          `json:"email" validate:"required,email"`
	Password  string          `json:"password" validate:"required,min=6"`
	Role      models.UserRole `json:"role" validate:"required,oneof=SUPERADMIN ADMIN TEACHER STUDENT"`
	StudentID string          `json:"student_id" validate:"omitempty,uuid"`
	TeacherID string          `json:"teacher_id" validate:"omitempty,uuid"`
}

// ResetSecretRequest carries the replacement secret.
type ResetSecretRequest struct {
	Password string `json:"password" validate:"required,min=6"`
}

// AccountService provisions accounts and resets their secrets.
type AccountService struct {
	repo      accountRepository
	validator *validator.Validate
	logger    *zap.Logger
	audit     auditLogger
	cost      int
}

// NewAccountService constructs the service. A non-positive cost falls back
// to bcrypt.DefaultCost.
func NewAccountService(repo accountRepository, validate *validator.Validate, logger *zap.Logger, audit auditLogger, cost int) *AccountService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &AccountService{repo: repo, validator: validate, logger: logger, audit: audit, cost: cost}
}

// HashSecret hashes a plaintext secret with the configured cost.
func (s *AccountService) HashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), s.cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Provision creates an account bound to the owner implied by its role.
func (s *AccountService) Provision(ctx context.Context, req ProvisionAccountRequest, actor *models.JWTClaims) (*models.AccountInfo, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Validation(err, "invalid account payload")
	}
	owner := models.OwnerRef{StudentID: req.StudentID, TeacherID: req.TeacherID}
	if err := models.ValidateOwner(req.Role, owner); err != nil {
		return nil, appErrors.Field("owner", "role_mismatch", err.Error())
	}

	exists, err := s.repo.EmailExists(ctx, req.Email)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check email")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrDuplicateEmail, "")
	}

	hash, err := s.HashSecret(req.Password)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	account := &models.Account{Email: req.Email, PasswordHash: hash, Role: req.Role, Active: true}
	if owner.StudentID != "" {
		account.StudentID = &owner.StudentID
	}
	if owner.TeacherID != "" {
		account.TeacherID = &owner.TeacherID
	}
	if err := s.repo.Create(ctx, account); err != nil {
		return nil, mapAccountWriteError(err)
	}

	s.logger.Info("account provisioned", zap.String("account_id", account.ID), zap.String("role", string(account.Role)))
	emitAudit(ctx, s.audit, s.logger, actor, models.AuditActionAccountProvision, accountResource, account.ID, map[string]interface{}{
		"email": account.Email,
		"role":  account.Role,
	})
	info := account.Info()
	return &info, nil
}

// ResetSecret overwrites the stored hash without checking the old secret.
func (s *AccountService) ResetSecret(ctx context.Context, accountID string, req ResetSecretRequest, actor *models.JWTClaims) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Validation(err, "invalid password payload")
	}
	hash, err := s.HashSecret(req.Password)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}
	if err := s.repo.UpdatePassword(ctx, accountID, hash, time.Now().UTC()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "account not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update password")
	}
	emitAudit(ctx, s.audit, s.logger, actor, models.AuditActionPasswordReset, accountResource, accountID, map[string]interface{}{"status": "reset"})
	return nil
}

func mapAccountWriteError(err error) error {
	switch {
	case errors.Is(err, repository.ErrDuplicate):
		if repository.ConstraintOf(err) == repository.ConstraintAccountStudent {
			return appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, "student already has an account")
		}
		return appErrors.Wrap(err, appErrors.ErrDuplicateEmail.Code, appErrors.ErrDuplicateEmail.Status, appErrors.ErrDuplicateEmail.Message)
	case errors.Is(err, repository.ErrReferenceMissing):
		return appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "account owner not found")
	default:
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create account")
	}
}
