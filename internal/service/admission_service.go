package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-admission-api/internal/models"
	"github.com/noah-isme/sma-admission-api/internal/repository"
	appErrors "github.com/noah-isme/sma-admission-api/pkg/errors"
)

const (
	applicantResource = "applicant"
	birthDateLayout   = "2006-01-02"
)

type applicantRepository interface {
	Create(ctx context.Context, applicant *models.Applicant) error
	FindDetailByID(ctx context.Context, id string) (*models.ApplicantDetail, error)
	FindStatusByEmail(ctx context.Context, email string) (*models.ApplicantStatusView, error)
	List(ctx context.Context, filter models.ApplicantFilter) ([]models.ApplicantDetail, int, error)
	UpdateLocked(ctx context.Context, id string, mutate func(*models.Applicant) error) (*models.Applicant, error)
	Convert(ctx context.Context, id string, build repository.ConvertFunc) (*models.Admission, error)
}

type termReader interface {
	FindByID(ctx context.Context, id string) (*models.Term, error)
}

type secretHasher interface {
	HashSecret(secret string) (string, error)
}

// SubmitApplicantRequest is the public registration payload.
type SubmitApplicantRequest struct {
	FullName       string  `json:"full_name" validate:"required,max=150"`
	Email          string  `json:"email" validate:"required,email"`
	Phone          string  `json:"phone" validate:"required,max=30"`
	BirthPlace     string  `json:"birth_place" validate:"required"`
	BirthDate      string  `json:"birth_date" validate:"required,datetime=2006-01-02"`
	Gender         string  `json:"gender" validate:"required,oneof=M F"`
	Address        string  `json:"address" validate:"required"`
	FatherName     string  `json:"father_name" validate:"required"`
	MotherName     string  `json:"mother_name" validate:"required"`
	GuardianName   *string `json:"guardian_name"`
	PreviousSchool string  `json:"previous_school" validate:"required"`
	TermID         string  `json:"term_id" validate:"required,uuid"`
}

// ReviewApplicantRequest carries an administrative patch. Nil fields are left untouched.
type ReviewApplicantRequest struct {
	FullName       *string                           `json:"full_name" validate:"omitempty,max=150"`
	Email          *string                           `json:"email" validate:"omitempty,email"`
	Phone          *string                           `json:"phone" validate:"omitempty,max=30"`
	BirthPlace     *string                           `json:"birth_place"`
	BirthDate      *string                           `json:"birth_date" validate:"omitempty,datetime=2006-01-02"`
	Gender         *string                           `json:"gender" validate:"omitempty,oneof=M F"`
	Address        *string                           `json:"address"`
	FatherName     *string                           `json:"father_name"`
	MotherName     *string                           `json:"mother_name"`
	GuardianName   *string                           `json:"guardian_name"`
	PreviousSchool *string                           `json:"previous_school"`
	DocumentStatus *models.DocumentStatus            `json:"document_status" validate:"omitempty,oneof=PENDING COMPLETE INCOMPLETE"`
	PaymentStatus  *models.RegistrationPaymentStatus `json:"payment_status" validate:"omitempty,oneof=UNPAID PAID"`
}

// AcceptApplicantRequest optionally overrides the initial account secret.
type AcceptApplicantRequest struct {
	Password string `json:"password" validate:"omitempty,min=6"`
}

// AdmissionConfig tunes conversion defaults.
type AdmissionConfig struct {
	DefaultPassword string
	NISPrefix       string
}

// AdmissionService drives the applicant lifecycle.
type AdmissionService struct {
	repo      applicantRepository
	terms     termReader
	hasher    secretHasher
	metrics   *MetricsService
	audit     auditLogger
	validator *validator.Validate
	logger    *zap.Logger
	config    AdmissionConfig
	now       func() time.Time
}

// NewAdmissionService builds an AdmissionService with sane defaults.
func NewAdmissionService(
	repo applicantRepository,
	terms termReader,
	hasher secretHasher,
	metrics *MetricsService,
	audit auditLogger,
	validate *validator.Validate,
	logger *zap.Logger,
	config AdmissionConfig,
) *AdmissionService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdmissionService{
		repo:      repo,
		terms:     terms,
		hasher:    hasher,
		metrics:   metrics,
		audit:     audit,
		validator: validate,
		logger:    logger,
		config:    config,
		now:       time.Now,
	}
}

// Submit registers a new applicant. Email is not required to be unique.
func (s *AdmissionService) Submit(ctx context.Context, req SubmitApplicantRequest) (*models.Applicant, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Validation(err, "invalid applicant payload")
	}
	birthDate, err := time.Parse(birthDateLayout, req.BirthDate)
	if err != nil {
		return nil, appErrors.Field("birth_date", "datetime", "birth_date must use YYYY-MM-DD")
	}
	if _, err := s.terms.FindByID(ctx, req.TermID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "term not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load term")
	}

	applicant := &models.Applicant{
		FullName:       strings.TrimSpace(req.FullName),
		Email:          req.Email,
		Phone:          req.Phone,
		BirthPlace:     req.BirthPlace,
		BirthDate:      birthDate,
		Gender:         req.Gender,
		Address:        req.Address,
		FatherName:     req.FatherName,
		MotherName:     req.MotherName,
		GuardianName:   req.GuardianName,
		PreviousSchool: req.PreviousSchool,
		TermID:         req.TermID,
		DocumentStatus: models.DocumentPending,
		PaymentStatus:  models.RegistrationUnpaid,
		State:          models.ApplicantSubmitted,
	}
	if err := s.repo.Create(ctx, applicant); err != nil {
		if errors.Is(err, repository.ErrReferenceMissing) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "term not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to submit applicant")
	}
	s.logger.Info("applicant submitted", zap.String("applicant_id", applicant.ID), zap.String("term_id", applicant.TermID))
	return applicant, nil
}

// Review applies an administrative patch to a SUBMITTED applicant under a row lock.
func (s *AdmissionService) Review(ctx context.Context, id string, req ReviewApplicantRequest, actor *models.JWTClaims) (*models.Applicant, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Validation(err, "invalid review payload")
	}
	var birthDate *time.Time
	if req.BirthDate != nil {
		parsed, err := time.Parse(birthDateLayout, *req.BirthDate)
		if err != nil {
			return nil, appErrors.Field("birth_date", "datetime", "birth_date must use YYYY-MM-DD")
		}
		birthDate = &parsed
	}

	applicant, err := s.repo.UpdateLocked(ctx, id, func(a *models.Applicant) error {
		if a.State != models.ApplicantSubmitted || a.Converted() {
			return appErrors.Clone(appErrors.ErrAlreadyProcessed, "applicant already processed")
		}
		if req.DocumentStatus != nil {
			if !documentTransitionAllowed(a.DocumentStatus, *req.DocumentStatus) {
				return appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("document status cannot move from %s to %s", a.DocumentStatus, *req.DocumentStatus))
			}
			a.DocumentStatus = *req.DocumentStatus
		}
		if req.PaymentStatus != nil {
			if a.PaymentStatus == models.RegistrationPaid && *req.PaymentStatus != models.RegistrationPaid {
				return appErrors.Clone(appErrors.ErrInvalidTransition, "payment status cannot move from PAID back to UNPAID")
			}
			a.PaymentStatus = *req.PaymentStatus
		}
		applyIdentityPatch(a, req, birthDate)
		return nil
	})
	if err != nil {
		return nil, s.mapApplicantError(err, "failed to review applicant")
	}
	emitAudit(ctx, s.audit, s.logger, actor, models.AuditActionApplicantReview, applicantResource, applicant.ID, map[string]interface{}{
		"document_status": applicant.DocumentStatus,
		"payment_status":  applicant.PaymentStatus,
	})
	return applicant, nil
}

// Accept converts an applicant into a student with a login account. The
// whole conversion is a single transaction; a second call fails with
// ALREADY_PROCESSED.
func (s *AdmissionService) Accept(ctx context.Context, id string, req AcceptApplicantRequest, actor *models.JWTClaims) (*models.Admission, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Validation(err, "invalid accept payload")
	}
	secret := req.Password
	if secret == "" {
		secret = s.config.DefaultPassword
	}
	if secret == "" {
		return nil, appErrors.Field("password", "required", "no password supplied and no default configured")
	}
	hash, err := s.hasher.HashSecret(secret)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	year := s.now().Year()
	admission, err := s.repo.Convert(ctx, id, func(applicant *models.Applicant, seq int64) (*models.Student, *models.Account, error) {
		student := models.StudentFromApplicant(applicant, FormatStudentNumber(s.config.NISPrefix, year, seq))
		account := &models.Account{
			Email:        applicant.Email,
			PasswordHash: hash,
			Role:         models.RoleStudent,
			Active:       true,
		}
		return student, account, nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrAlreadyProcessed) {
			s.metrics.RecordAdmissionDecision(DecisionConflict)
		}
		return nil, s.mapApplicantError(err, "failed to accept applicant")
	}

	s.metrics.RecordAdmissionDecision(DecisionAccepted)
	s.logger.Info("applicant accepted",
		zap.String("applicant_id", id),
		zap.String("student_id", admission.Student.ID),
		zap.String("nis", admission.Student.NIS))
	emitAudit(ctx, s.audit, s.logger, actor, models.AuditActionApplicantAccept, applicantResource, id, map[string]interface{}{
		"student_id": admission.Student.ID,
		"nis":        admission.Student.NIS,
		"account_id": admission.Account.ID,
	})
	return admission, nil
}

// Reject marks a SUBMITTED applicant REJECTED. Rejecting a rejected applicant
// is a no-op; rejecting an accepted one fails with ALREADY_PROCESSED.
func (s *AdmissionService) Reject(ctx context.Context, id string, actor *models.JWTClaims) (*models.Applicant, error) {
	changed := false
	applicant, err := s.repo.UpdateLocked(ctx, id, func(a *models.Applicant) error {
		if a.Converted() || !a.State.CanTransition(models.ApplicantRejected) {
			return appErrors.Clone(appErrors.ErrAlreadyProcessed, "applicant already processed")
		}
		if a.State == models.ApplicantRejected {
			return repository.ErrNoChange
		}
		a.State = models.ApplicantRejected
		a.DocumentStatus = models.DocumentIncomplete
		changed = true
		return nil
	})
	if err != nil {
		if errors.Is(err, appErrors.ErrAlreadyProcessed) {
			s.metrics.RecordAdmissionDecision(DecisionConflict)
		}
		return nil, s.mapApplicantError(err, "failed to reject applicant")
	}
	if changed {
		s.metrics.RecordAdmissionDecision(DecisionRejected)
		s.logger.Info("applicant rejected", zap.String("applicant_id", id))
		emitAudit(ctx, s.audit, s.logger, actor, models.AuditActionApplicantReject, applicantResource, id, map[string]interface{}{
			"document_status": applicant.DocumentStatus,
		})
	}
	return applicant, nil
}

// LookupStatus returns the public status for an exact, case-sensitive email.
func (s *AdmissionService) LookupStatus(ctx context.Context, email string) (*models.ApplicantStatusView, error) {
	if email == "" {
		return nil, appErrors.Field("email", "required", "email is required")
	}
	view, err := s.repo.FindStatusByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no registration found for this email")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to look up registration")
	}
	return view, nil
}

// Get returns an applicant with its term and student context.
func (s *AdmissionService) Get(ctx context.Context, id string) (*models.ApplicantDetail, error) {
	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		return nil, s.mapApplicantError(err, "failed to load applicant")
	}
	return detail, nil
}

// List returns applicants and pagination metadata.
func (s *AdmissionService) List(ctx context.Context, filter models.ApplicantFilter) ([]models.ApplicantDetail, *models.Pagination, error) {
	items, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list applicants")
	}
	return items, models.NewPagination(filter.Page, filter.PageSize, total), nil
}

// FormatStudentNumber renders prefix + year + zero padded sequence.
func FormatStudentNumber(prefix string, year int, seq int64) string {
	return fmt.Sprintf("%s%d%04d", prefix, year, seq)
}

// documentTransitionAllowed blocks reverting a COMPLETE document set.
func documentTransitionAllowed(from, to models.DocumentStatus) bool {
	return from != models.DocumentComplete || to == models.DocumentComplete
}

func applyIdentityPatch(a *models.Applicant, req ReviewApplicantRequest, birthDate *time.Time) {
	if req.FullName != nil {
		a.FullName = strings.TrimSpace(*req.FullName)
	}
	if req.Email != nil {
		a.Email = *req.Email
	}
	if req.Phone != nil {
		a.Phone = *req.Phone
	}
	if req.BirthPlace != nil {
		a.BirthPlace = *req.BirthPlace
	}
	if birthDate != nil {
		a.BirthDate = *birthDate
	}
	if req.Gender != nil {
		a.Gender = *req.Gender
	}
	if req.Address != nil {
		a.Address = *req.Address
	}
	if req.FatherName != nil {
		a.FatherName = *req.FatherName
	}
	if req.MotherName != nil {
		a.MotherName = *req.MotherName
	}
	if req.GuardianName != nil {
		a.GuardianName = req.GuardianName
	}
	if req.PreviousSchool != nil {
		a.PreviousSchool = *req.PreviousSchool
	}
}

func (s *AdmissionService) mapApplicantError(err error, fallback string) error {
	var appErr *appErrors.Error
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, sql.ErrNoRows):
		return appErrors.Clone(appErrors.ErrNotFound, "applicant not found")
	case errors.Is(err, repository.ErrAlreadyProcessed):
		return appErrors.Clone(appErrors.ErrAlreadyProcessed, "applicant already processed")
	case errors.Is(err, repository.ErrDuplicate):
		if repository.ConstraintOf(err) == repository.ConstraintAccountEmail {
			return appErrors.Wrap(err, appErrors.ErrDuplicateEmail.Code, appErrors.ErrDuplicateEmail.Status, "an account already uses the applicant's email")
		}
		return appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, "student number already used")
	default:
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, fallback)
	}
}
