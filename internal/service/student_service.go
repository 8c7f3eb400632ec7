package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-admission-api/internal/models"
	"github.com/noah-isme/sma-admission-api/internal/repository"
	appErrors "github.com/noah-isme/sma-admission-api/pkg/errors"
)

type studentRepository interface {
	List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error)
	FindByID(ctx context.Context, id string) (*models.Student, error)
	Create(ctx context.Context, student *models.Student) error
}

// CreateStudentRequest holds payload for registering a student directly,
// outside the admission flow.
type CreateStudentRequest struct {
	NIS        string  `json:"nis" validate:"required,max=30"`
	FullName   string  `json:"full_name" validate:"required,max=150"`
	Gender     string  `json:"gender" validate:"required,oneof=M F"`
	BirthPlace string  `json:"birth_place"`
	BirthDate  string  `json:"birth_date" validate:"required,datetime=2006-01-02"`
	Address    string  `json:"address"`
	Phone      string  `json:"phone"`
	ClassID    *string `json:"class_id" validate:"omitempty,uuid"`
}

// StudentService handles student use-cases.
type StudentService struct {
	repo      studentRepository
	validator *validator.Validate
	logger    *zap.Logger
}

// NewStudentService constructs the student service.
func NewStudentService(repo studentRepository, validate *validator.Validate, logger *zap.Logger) *StudentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StudentService{repo: repo, validator: validate, logger: logger}
}

// List returns students and pagination metadata.
func (s *StudentService) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, *models.Pagination, error) {
	students, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list students")
	}
	return students, models.NewPagination(filter.Page, filter.PageSize, total), nil
}

// Get returns a student.
func (s *StudentService) Get(ctx context.Context, id string) (*models.Student, error) {
	student, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	return student, nil
}

// Create registers a student. The student number must be unique.
func (s *StudentService) Create(ctx context.Context, req CreateStudentRequest) (*models.Student, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Validation(err, "invalid student payload")
	}
	birthDate, err := time.Parse(birthDateLayout, req.BirthDate)
	if err != nil {
		return nil, appErrors.Field("birth_date", "datetime", "birth_date must use YYYY-MM-DD")
	}
	student := &models.Student{
		NIS:        strings.TrimSpace(req.NIS),
		FullName:   strings.TrimSpace(req.FullName),
		Gender:     req.Gender,
		BirthPlace: req.BirthPlace,
		BirthDate:  birthDate,
		Address:    req.Address,
		Phone:      req.Phone,
		ClassID:    req.ClassID,
		Active:     true,
	}
	if err := s.repo.Create(ctx, student); err != nil {
		switch {
		case errors.Is(err, repository.ErrDuplicate):
			return nil, appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, "nis already used")
		case errors.Is(err, repository.ErrReferenceMissing):
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		default:
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create student")
		}
	}
	s.logger.Info("student created", zap.String("student_id", student.ID), zap.String("nis", student.NIS))
	return student, nil
}
