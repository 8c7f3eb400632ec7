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
	"github.com/noah-isme/sma-admission-api/pkg/cache"
	"github.com/noah-isme/sma-admission-api/pkg/config"
	appErrors "github.com/noah-isme/sma-admission-api/pkg/errors"
)

const paymentResource = "payment"

type tariffRepository interface {
	Create(ctx context.Context, tariff *models.Tariff) error
	FindByID(ctx context.Context, id string) (*models.Tariff, error)
	List(ctx context.Context, termID string) ([]models.Tariff, error)
}

type chargeRepository interface {
	Create(ctx context.Context, charge *models.Charge, nominal int64) error
	GenerateForClass(ctx context.Context, classID string, tariff *models.Tariff, month *int) ([]string, error)
	FindByID(ctx context.Context, id string) (*models.Charge, error)
	ListByStudent(ctx context.Context, studentID string) ([]models.ChargeDetail, error)
}

type paymentRepository interface {
	Record(ctx context.Context, payment *models.Payment, guard repository.PaymentGuard) (models.Settlement, error)
	SumByStudentTariff(ctx context.Context, studentID, tariffID string) (int64, error)
	ListByCharge(ctx context.Context, chargeID string) ([]models.Payment, error)
	ListByStudent(ctx context.Context, studentID string) ([]models.PaymentDetail, error)
}

type studentReader interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
}

type classReader interface {
	FindByID(ctx context.Context, id string) (*models.Class, error)
}

type studentAccessChecker interface {
	CanViewStudent(ctx context.Context, caller *models.JWTClaims, studentID string) (bool, error)
}

// CreateTariffRequest is the payload for a new tariff.
type CreateTariffRequest struct {
	Name      string `json:"name" validate:"required,max=100"`
	Nominal   int64  `json:"nominal"`
	TermID    string `json:"term_id" validate:"required,uuid"`
	Recurring bool   `json:"recurring"`
}

// CreateChargeRequest assigns one tariff to one student.
type CreateChargeRequest struct {
	StudentID string `json:"student_id" validate:"required,uuid"`
	TariffID  string `json:"tariff_id" validate:"required,uuid"`
	Month     *int   `json:"month" validate:"omitempty,min=1,max=12"`
}

// GenerateChargesRequest assigns a tariff to every active student of a class.
type GenerateChargesRequest struct {
	ClassID  string `json:"class_id" validate:"required,uuid"`
	TariffID string `json:"tariff_id" validate:"required,uuid"`
	Month    *int   `json:"month" validate:"omitempty,min=1,max=12"`
}

// GenerateChargesResult reports how many charges were created.
type GenerateChargesResult struct {
	Created    int      `json:"created"`
	StudentIDs []string `json:"student_ids"`
}

// RecordPaymentRequest is the payload for appending a payment.
type RecordPaymentRequest struct {
	Amount int64  `json:"amount"`
	Method string `json:"method" validate:"omitempty,max=50"`
	Note   string `json:"note" validate:"omitempty,max=255"`
	PaidAt string `json:"paid_at"`
}

// PaymentReceipt is the stored payment with the pooled settlement after it.
type PaymentReceipt struct {
	Payment    *models.Payment   `json:"payment"`
	Settlement models.Settlement `json:"settlement"`
}

// BillingConfig tunes billing behaviour.
type BillingConfig struct {
	OverpaymentPolicy string
	CacheTTL          time.Duration
}

// BillingService reconciles charges against payments.
type BillingService struct {
	tariffs   tariffRepository
	charges   chargeRepository
	payments  paymentRepository
	students  studentReader
	classes   classReader
	terms     termReader
	access    studentAccessChecker
	cache     *CacheService
	metrics   *MetricsService
	audit     auditLogger
	validator *validator.Validate
	logger    *zap.Logger
	config    BillingConfig
	now       func() time.Time
}

// NewBillingService builds a BillingService with sane defaults.
func NewBillingService(
	tariffs tariffRepository,
	charges chargeRepository,
	payments paymentRepository,
	students studentReader,
	classes classReader,
	terms termReader,
	access studentAccessChecker,
	cacheSvc *CacheService,
	metrics *MetricsService,
	audit auditLogger,
	validate *validator.Validate,
	logger *zap.Logger,
	cfg BillingConfig,
) *BillingService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.OverpaymentPolicy == "" {
		cfg.OverpaymentPolicy = config.OverpaymentAllow
	}
	return &BillingService{
		tariffs:   tariffs,
		charges:   charges,
		payments:  payments,
		students:  students,
		classes:   classes,
		terms:     terms,
		access:    access,
		cache:     cacheSvc,
		metrics:   metrics,
		audit:     audit,
		validator: validate,
		logger:    logger,
		config:    cfg,
		now:       time.Now,
	}
}

// ComputeSettlement sums payments over every charge of the (student, tariff)
// pair and classifies the total against the tariff nominal.
func (s *BillingService) ComputeSettlement(ctx context.Context, caller *models.JWTClaims, studentID, tariffID string) (*models.Settlement, error) {
	if err := s.authorize(ctx, caller, studentID); err != nil {
		return nil, err
	}
	if err := s.ensureStudent(ctx, studentID); err != nil {
		return nil, err
	}
	tariff, err := s.loadTariff(ctx, tariffID)
	if err != nil {
		return nil, err
	}
	total, err := s.payments.SumByStudentTariff(ctx, studentID, tariffID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sum payments")
	}
	settlement := models.Settle(studentID, tariffID, tariff.Nominal, total)
	return &settlement, nil
}

// ListChargesForStudent returns each charge with its tariff, pooled total
// and settlement label. Labels are derived from the payments, not from the
// cached status column.
func (s *BillingService) ListChargesForStudent(ctx context.Context, caller *models.JWTClaims, studentID string) ([]models.ChargeDetail, error) {
	if err := s.authorize(ctx, caller, studentID); err != nil {
		return nil, err
	}

	// The generation is read before the rows so a write committing in between
	// bumps it and strands whatever this call stores.
	gen, cacheable := s.cache.Generation(ctx, cache.StudentChargesGenerationKey(studentID))
	key := cache.StudentChargesKey(studentID, gen)
	if cacheable {
		var cached []models.ChargeDetail
		if hit, _ := s.cache.Get(ctx, key, &cached); hit {
			return cached, nil
		}
	}

	if err := s.ensureStudent(ctx, studentID); err != nil {
		return nil, err
	}
	items, err := s.charges.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list charges")
	}
	for i := range items {
		items[i].Label = models.Settle(studentID, items[i].TariffID, items[i].Nominal, items[i].TotalPaid).Label
	}
	if items == nil {
		items = []models.ChargeDetail{}
	}
	if cacheable {
		_ = s.cache.Set(ctx, key, items, s.config.CacheTTL)
	}
	return items, nil
}

// retireChargeListings bumps each student's listing generation and drops the
// entry cached under the previous one. Call only after the write committed.
func (s *BillingService) retireChargeListings(ctx context.Context, studentIDs ...string) {
	for _, id := range studentIDs {
		gen, err := s.cache.Bump(ctx, cache.StudentChargesGenerationKey(id))
		if err != nil || gen == 0 {
			continue
		}
		_ = s.cache.Invalidate(ctx, cache.StudentChargesKey(id, gen-1))
	}
}

// RecordPayment appends a payment to a charge and refreshes the cached status
// of every charge sharing its (student, tariff) pair.
func (s *BillingService) RecordPayment(ctx context.Context, chargeID string, req RecordPaymentRequest, actor *models.JWTClaims) (*PaymentReceipt, error) {
	if req.Amount <= 0 {
		return nil, appErrors.Clone(appErrors.ErrInvalidAmount, "")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Validation(err, "invalid payment payload")
	}
	paidAt, err := parsePaymentDate(req.PaidAt, s.now)
	if err != nil {
		return nil, appErrors.Field("paid_at", "date", "paid_at must be YYYY-MM-DD or RFC3339")
	}

	payment := &models.Payment{
		ChargeID: chargeID,
		Amount:   req.Amount,
		PaidAt:   paidAt,
		Method:   strings.TrimSpace(req.Method),
		Note:     req.Note,
	}
	if actor != nil && actor.AccountID != "" {
		recordedBy := actor.AccountID
		payment.RecordedBy = &recordedBy
	}

	settlement, err := s.payments.Record(ctx, payment, func(before models.Settlement) error {
		if s.config.OverpaymentPolicy == config.OverpaymentReject && before.TotalPaid+req.Amount > before.Nominal {
			return appErrors.Clone(appErrors.ErrOverpayment, "")
		}
		return nil
	})
	if err != nil {
		var appErr *appErrors.Error
		switch {
		case errors.As(err, &appErr):
			return nil, appErr
		case errors.Is(err, sql.ErrNoRows):
			return nil, appErrors.Clone(appErrors.ErrNotFound, "charge not found")
		default:
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record payment")
		}
	}

	s.retireChargeListings(ctx, settlement.StudentID)
	s.metrics.RecordPayment(payment.Amount)
	s.logger.Info("payment recorded",
		zap.String("payment_id", payment.ID),
		zap.String("charge_id", chargeID),
		zap.Int64("amount", payment.Amount),
		zap.String("status", string(settlement.Status)))
	emitAudit(ctx, s.audit, s.logger, actor, models.AuditActionPaymentRecord, paymentResource, payment.ID, map[string]interface{}{
		"charge_id":  chargeID,
		"amount":     payment.Amount,
		"total_paid": settlement.TotalPaid,
		"status":     settlement.Status,
	})
	return &PaymentReceipt{Payment: payment, Settlement: settlement}, nil
}

// ListPaymentsForStudent returns the student's payment ledger.
func (s *BillingService) ListPaymentsForStudent(ctx context.Context, caller *models.JWTClaims, studentID string) ([]models.PaymentDetail, error) {
	if err := s.authorize(ctx, caller, studentID); err != nil {
		return nil, err
	}
	if err := s.ensureStudent(ctx, studentID); err != nil {
		return nil, err
	}
	payments, err := s.payments.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list payments")
	}
	return payments, nil
}

// ListPaymentsForCharge returns the payments applied to one charge.
func (s *BillingService) ListPaymentsForCharge(ctx context.Context, caller *models.JWTClaims, chargeID string) ([]models.Payment, error) {
	charge, err := s.charges.FindByID(ctx, chargeID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "charge not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load charge")
	}
	if err := s.authorize(ctx, caller, charge.StudentID); err != nil {
		return nil, err
	}
	payments, err := s.payments.ListByCharge(ctx, chargeID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list payments")
	}
	return payments, nil
}

// CreateTariff registers a priced obligation for a term.
func (s *BillingService) CreateTariff(ctx context.Context, req CreateTariffRequest) (*models.Tariff, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Validation(err, "invalid tariff payload")
	}
	if req.Nominal <= 0 {
		return nil, appErrors.Clone(appErrors.ErrInvalidAmount, "nominal must be a positive integer")
	}
	if _, err := s.terms.FindByID(ctx, req.TermID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "term not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load term")
	}
	tariff := &models.Tariff{Name: strings.TrimSpace(req.Name), Nominal: req.Nominal, TermID: req.TermID, Recurring: req.Recurring}
	if err := s.tariffs.Create(ctx, tariff); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create tariff")
	}
	return tariff, nil
}

// ListTariffs returns tariffs, optionally filtered by term.
func (s *BillingService) ListTariffs(ctx context.Context, termID string) ([]models.Tariff, error) {
	tariffs, err := s.tariffs.List(ctx, termID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list tariffs")
	}
	return tariffs, nil
}

// CreateCharge assigns a tariff to a student.
func (s *BillingService) CreateCharge(ctx context.Context, req CreateChargeRequest) (*models.Charge, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Validation(err, "invalid charge payload")
	}
	if err := s.ensureStudent(ctx, req.StudentID); err != nil {
		return nil, err
	}
	tariff, err := s.loadTariff(ctx, req.TariffID)
	if err != nil {
		return nil, err
	}
	if err := checkMonth(tariff, req.Month); err != nil {
		return nil, err
	}

	charge := &models.Charge{StudentID: req.StudentID, TariffID: tariff.ID, TermID: tariff.TermID, Month: req.Month}
	if err := s.charges.Create(ctx, charge, tariff.Nominal); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, "charge already exists for this student, tariff and month")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create charge")
	}
	s.retireChargeListings(ctx, req.StudentID)
	return charge, nil
}

// GenerateCharges assigns a tariff to every active student of a class,
// skipping those already charged.
func (s *BillingService) GenerateCharges(ctx context.Context, req GenerateChargesRequest) (*GenerateChargesResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Validation(err, "invalid generate payload")
	}
	if _, err := s.classes.FindByID(ctx, req.ClassID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}
	tariff, err := s.loadTariff(ctx, req.TariffID)
	if err != nil {
		return nil, err
	}
	if err := checkMonth(tariff, req.Month); err != nil {
		return nil, err
	}

	studentIDs, err := s.charges.GenerateForClass(ctx, req.ClassID, tariff, req.Month)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate charges")
	}
	s.retireChargeListings(ctx, studentIDs...)
	if studentIDs == nil {
		studentIDs = []string{}
	}
	s.logger.Info("charges generated", zap.String("class_id", req.ClassID), zap.String("tariff_id", tariff.ID), zap.Int("created", len(studentIDs)))
	return &GenerateChargesResult{Created: len(studentIDs), StudentIDs: studentIDs}, nil
}

func (s *BillingService) authorize(ctx context.Context, caller *models.JWTClaims, studentID string) error {
	if caller == nil {
		return appErrors.ErrUnauthorized
	}
	if s.access == nil {
		return nil
	}
	allowed, err := s.access.CanViewStudent(ctx, caller, studentID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to verify class access")
	}
	if !allowed {
		return appErrors.ErrForbidden
	}
	return nil
}

func (s *BillingService) ensureStudent(ctx context.Context, id string) error {
	if _, err := s.students.FindByID(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	return nil
}

func (s *BillingService) loadTariff(ctx context.Context, id string) (*models.Tariff, error) {
	tariff, err := s.tariffs.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "tariff not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load tariff")
	}
	return tariff, nil
}

// checkMonth requires a month for recurring tariffs and forbids one otherwise.
func checkMonth(tariff *models.Tariff, month *int) error {
	if tariff.Recurring && month == nil {
		return appErrors.Field("month", "required", "month is required for a recurring tariff")
	}
	if !tariff.Recurring && month != nil {
		return appErrors.Field("month", "excluded", "month is not allowed for a one-time tariff")
	}
	return nil
}

func parsePaymentDate(raw string, now func() time.Time) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return now().UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
