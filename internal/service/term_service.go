package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-admission-api/internal/models"
	appErrors "github.com/noah-isme/sma-admission-api/pkg/errors"
)

type termRepository interface {
	List(ctx context.Context, activeOnly bool) ([]models.Term, error)
}

// TermService exposes the academic terms applicants and tariffs refer to.
type TermService struct {
	repo   termRepository
	logger *zap.Logger
}

// NewTermService constructs the term service.
func NewTermService(repo termRepository, logger *zap.Logger) *TermService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TermService{repo: repo, logger: logger}
}

// List returns terms, newest first.
func (s *TermService) List(ctx context.Context, activeOnly bool) ([]models.Term, error) {
	terms, err := s.repo.List(ctx, activeOnly)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list terms")
	}
	return terms, nil
}
