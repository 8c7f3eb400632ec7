package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-admission-api/internal/models"
	"github.com/noah-isme/sma-admission-api/pkg/jobs"
)

type memoryAuditStore struct {
	mu   sync.Mutex
	logs []*models.AuditLog
}

func (m *memoryAuditStore) Create(ctx context.Context, log *models.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, log)
	return nil
}

func TestAuditServicePersistsThroughQueue(t *testing.T) {
	store := &memoryAuditStore{}
	svc := NewAuditService(store, jobs.QueueConfig{Workers: 2, BufferSize: 8}, zap.NewNop())
	svc.Start(context.Background())

	emitAudit(context.Background(), svc, zap.NewNop(), adminClaims(), models.AuditActionPaymentRecord, paymentResource, "pay-1", map[string]interface{}{"amount": 5000})
	emitAudit(context.Background(), svc, zap.NewNop(), nil, models.AuditActionLogin, "auth", "acc-2", map[string]interface{}{"status": "success"})
	svc.Stop()

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.logs, 2)
	byAction := map[string]*models.AuditLog{}
	for _, log := range store.logs {
		byAction[log.Action] = log
		assert.False(t, log.CreatedAt.IsZero())
	}

	payment := byAction[models.AuditActionPaymentRecord]
	require.NotNil(t, payment)
	require.NotNil(t, payment.AccountID)
	assert.Equal(t, "admin-1", *payment.AccountID)
	assert.Equal(t, "pay-1", *payment.ResourceID)
	var values map[string]interface{}
	require.NoError(t, json.Unmarshal(payment.NewValues, &values))
	assert.Equal(t, float64(5000), values["amount"])

	assert.Nil(t, byAction[models.AuditActionLogin].AccountID)
}

func TestAuditServiceRejectsWhenStopped(t *testing.T) {
	svc := NewAuditService(&memoryAuditStore{}, jobs.QueueConfig{Workers: 1}, zap.NewNop())

	err := svc.CreateAuditLog(context.Background(), &models.AuditLog{Action: models.AuditActionLogin})
	assert.Error(t, err)
}
