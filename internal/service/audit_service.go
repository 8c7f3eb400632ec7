package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-admission-api/internal/models"
	"github.com/noah-isme/sma-admission-api/pkg/jobs"
)

const auditJobType = "audit_log"

type auditStore interface {
	Create(ctx context.Context, log *models.AuditLog) error
}

// auditLogger is the narrow dependency services use to emit audit entries.
type auditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// AuditService writes audit entries off the request path through a worker queue.
type AuditService struct {
	store  auditStore
	queue  *jobs.Queue
	logger *zap.Logger
}

// NewAuditService wires the queue that persists audit logs.
func NewAuditService(store auditStore, cfg jobs.QueueConfig, logger *zap.Logger) *AuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.Logger = logger
	s := &AuditService{store: store, logger: logger}
	s.queue = jobs.NewQueue("audit", s.handle, cfg)
	return s
}

// Start launches the audit workers.
func (s *AuditService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains pending entries and stops the workers.
func (s *AuditService) Stop() {
	s.queue.Stop()
}

// CreateAuditLog enqueues the entry. The context is not retained; workers
// persist with their own.
func (s *AuditService) CreateAuditLog(_ context.Context, log *models.AuditLog) error {
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	if err := s.queue.Enqueue(jobs.Job{Type: auditJobType, Payload: log}); err != nil {
		return fmt.Errorf("enqueue audit log: %w", err)
	}
	return nil
}

func (s *AuditService) handle(ctx context.Context, job jobs.Job) error {
	log, ok := job.Payload.(*models.AuditLog)
	if !ok {
		s.logger.Error("unexpected audit payload", zap.String("job_id", job.ID))
		return nil
	}
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.store.Create(writeCtx, log)
}

// emitAudit records an entry and logs, rather than returns, any failure.
func emitAudit(ctx context.Context, audit auditLogger, logger *zap.Logger, actor *models.JWTClaims, action, resource, resourceID string, payload interface{}) {
	if audit == nil {
		return
	}
	newValues, err := json.Marshal(payload)
	if err != nil {
		logger.Warn("failed to encode audit payload", zap.String("action", action), zap.Error(err))
		return
	}
	entry := &models.AuditLog{
		Action:     action,
		Resource:   resource,
		ResourceID: &resourceID,
		NewValues:  newValues,
	}
	if actor != nil && actor.AccountID != "" {
		accountID := actor.AccountID
		entry.AccountID = &accountID
	}
	if err := audit.CreateAuditLog(ctx, entry); err != nil {
		logger.Warn("failed to record audit log", zap.String("action", action), zap.String("resource_id", resourceID), zap.Error(err))
	}
}
