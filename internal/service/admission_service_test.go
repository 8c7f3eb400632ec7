package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-admission-api/internal/models"
	"github.com/noah-isme/sma-admission-api/internal/repository"
	appErrors "github.com/noah-isme/sma-admission-api/pkg/errors"
)

func newAdmissionFixture(t *testing.T) (*AdmissionService, *fakeAdmissionStore, *fakeAudit, *MetricsService) {
	t.Helper()
	store := newFakeAdmissionStore()
	audit := &fakeAudit{}
	metrics := NewMetricsService()
	svc := NewAdmissionService(store, store, fakeHasher{}, metrics, audit, nil, zap.NewNop(), AdmissionConfig{
		DefaultPassword: "rahasia123",
		NISPrefix:       "",
	})
	svc.now = func() time.Time { return time.Date(2026, 7, 1, 8, 0, 0, 0, time.UTC) }
	return svc, store, audit, metrics
}

func validSubmission(email string) SubmitApplicantRequest {
	return SubmitApplicantRequest{
		FullName:       "Siti Aminah",
		Email:          email,
		Phone:          "081234567890",
		BirthPlace:     "Bandung",
		BirthDate:      "2010-04-12",
		Gender:         "F",
		Address:        "Jl. Merdeka 1",
		FatherName:     "Ahmad",
		MotherName:     "Fatimah",
		PreviousSchool: "SMP Negeri 1",
		TermID:         testTermID,
	}
}

func submitApplicant(t *testing.T, svc *AdmissionService, email string) *models.Applicant {
	t.Helper()
	applicant, err := svc.Submit(context.Background(), validSubmission(email))
	require.NoError(t, err)
	return applicant
}

func TestAdmissionSubmitDefaults(t *testing.T) {
	svc, _, _, _ := newAdmissionFixture(t)

	applicant := submitApplicant(t, svc, "siti@example.com")

	assert.NotEmpty(t, applicant.ID)
	assert.Equal(t, models.ApplicantSubmitted, applicant.State)
	assert.Equal(t, models.DocumentPending, applicant.DocumentStatus)
	assert.Equal(t, models.RegistrationUnpaid, applicant.PaymentStatus)
	assert.Nil(t, applicant.StudentID)
	assert.Equal(t, time.Date(2010, 4, 12, 0, 0, 0, 0, time.UTC), applicant.BirthDate)
}

func TestAdmissionSubmitValidation(t *testing.T) {
	svc, _, _, _ := newAdmissionFixture(t)

	req := validSubmission("not-an-email")
	req.Gender = "X"
	_, err := svc.Submit(context.Background(), req)
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)

	req = validSubmission("siti@example.com")
	req.TermID = testUnknownID
	_, err = svc.Submit(context.Background(), req)
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}

func TestAdmissionSubmitRejectsMalformedTermID(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := newFakeAdmissionStore()
	terms := repository.NewTermRepository(sqlx.NewDb(db, "sqlmock"))
	svc := NewAdmissionService(store, terms, fakeHasher{}, nil, nil, nil, zap.NewNop(), AdmissionConfig{DefaultPassword: "rahasia123"})

	req := validSubmission("siti@example.com")
	req.TermID = "abc"
	_, err = svc.Submit(context.Background(), req)

	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
	assert.Equal(t, "uuid", appErr.Fields["TermID"])
	assert.Empty(t, store.applicants)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdmissionSubmitAllowsRepeatedEmail(t *testing.T) {
	svc, store, _, _ := newAdmissionFixture(t)

	first := submitApplicant(t, svc, "siti@example.com")
	second := submitApplicant(t, svc, "siti@example.com")

	assert.NotEqual(t, first.ID, second.ID)
	assert.Len(t, store.applicants, 2)
}

func TestAdmissionAcceptCreatesStudentAndAccount(t *testing.T) {
	svc, store, audit, metrics := newAdmissionFixture(t)
	applicant := submitApplicant(t, svc, "siti@example.com")

	admission, err := svc.Accept(context.Background(), applicant.ID, AcceptApplicantRequest{}, adminClaims())
	require.NoError(t, err)

	require.NotNil(t, admission.Student)
	assert.Equal(t, "20260001", admission.Student.NIS)
	assert.Equal(t, applicant.FullName, admission.Student.FullName)
	assert.True(t, admission.Student.Active)
	assert.Equal(t, "siti@example.com", admission.Account.Email)
	assert.Equal(t, models.RoleStudent, admission.Account.Role)
	require.NotNil(t, admission.Account.StudentID)
	assert.Equal(t, admission.Student.ID, *admission.Account.StudentID)

	assert.Equal(t, models.ApplicantAccepted, admission.Applicant.State)
	assert.Equal(t, models.DocumentComplete, admission.Applicant.DocumentStatus)
	require.NotNil(t, admission.Applicant.StudentID)
	assert.Equal(t, admission.Student.ID, *admission.Applicant.StudentID)

	assert.Equal(t, "hashed:rahasia123", store.accountsByMail["siti@example.com"].PasswordHash)
	assert.Equal(t, []string{models.AuditActionApplicantAccept}, audit.actions())
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.admissionDecisions.WithLabelValues(DecisionAccepted)))
}

func TestAdmissionAcceptUsesSuppliedPassword(t *testing.T) {
	svc, store, _, _ := newAdmissionFixture(t)
	applicant := submitApplicant(t, svc, "siti@example.com")

	_, err := svc.Accept(context.Background(), applicant.ID, AcceptApplicantRequest{Password: "pilihan-sendiri"}, adminClaims())
	require.NoError(t, err)
	assert.Equal(t, "hashed:pilihan-sendiri", store.accountsByMail["siti@example.com"].PasswordHash)
}

func TestAdmissionAcceptTwiceFails(t *testing.T) {
	svc, store, _, metrics := newAdmissionFixture(t)
	applicant := submitApplicant(t, svc, "siti@example.com")

	_, err := svc.Accept(context.Background(), applicant.ID, AcceptApplicantRequest{}, adminClaims())
	require.NoError(t, err)

	_, err = svc.Accept(context.Background(), applicant.ID, AcceptApplicantRequest{}, adminClaims())
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrAlreadyProcessed))
	assert.Len(t, store.students, 1)
	assert.Len(t, store.accountsByMail, 1)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.admissionDecisions.WithLabelValues(DecisionConflict)))
}

func TestAdmissionConcurrentAcceptConvertsOnce(t *testing.T) {
	svc, store, _, _ := newAdmissionFixture(t)
	applicant := submitApplicant(t, svc, "siti@example.com")

	const callers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Accept(context.Background(), applicant.ID, AcceptApplicantRequest{}, adminClaims())
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, appErrors.ErrAlreadyProcessed):
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, callers-1, conflicts)
	assert.Len(t, store.students, 1)
	assert.Len(t, store.accountsByMail, 1)
}

func TestAdmissionAcceptDuplicateEmailLeavesNothingBehind(t *testing.T) {
	svc, store, audit, _ := newAdmissionFixture(t)
	store.accountsByMail["siti@example.com"] = &models.Account{ID: "acc-existing", Email: "siti@example.com", Role: models.RoleAdmin}
	applicant := submitApplicant(t, svc, "siti@example.com")

	_, err := svc.Accept(context.Background(), applicant.ID, AcceptApplicantRequest{}, adminClaims())
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrDuplicateEmail))

	assert.Empty(t, store.students)
	stored := store.applicants[applicant.ID]
	assert.Equal(t, models.ApplicantSubmitted, stored.State)
	assert.Nil(t, stored.StudentID)
	assert.Empty(t, audit.actions())
}

func TestAdmissionAcceptAccountFailureRollsBack(t *testing.T) {
	svc, store, _, _ := newAdmissionFixture(t)
	store.failAccount = errors.New("insert account: connection reset")
	applicant := submitApplicant(t, svc, "siti@example.com")

	_, err := svc.Accept(context.Background(), applicant.ID, AcceptApplicantRequest{}, adminClaims())
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrInternal))
	assert.Empty(t, store.students)
	assert.Equal(t, models.ApplicantSubmitted, store.applicants[applicant.ID].State)
}

func TestAdmissionAcceptUnknownApplicant(t *testing.T) {
	svc, _, _, _ := newAdmissionFixture(t)

	_, err := svc.Accept(context.Background(), "missing", AcceptApplicantRequest{}, adminClaims())
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}

func TestAdmissionAcceptRequiresSecret(t *testing.T) {
	svc, store, _, _ := newAdmissionFixture(t)
	svc.config.DefaultPassword = ""
	applicant := submitApplicant(t, svc, "siti@example.com")

	_, err := svc.Accept(context.Background(), applicant.ID, AcceptApplicantRequest{}, adminClaims())
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
	assert.Zero(t, store.convertCalls)
}

func TestAdmissionRejectThenAcceptFails(t *testing.T) {
	svc, store, audit, metrics := newAdmissionFixture(t)
	applicant := submitApplicant(t, svc, "siti@example.com")

	rejected, err := svc.Reject(context.Background(), applicant.ID, adminClaims())
	require.NoError(t, err)
	assert.Equal(t, models.ApplicantRejected, rejected.State)
	assert.Equal(t, models.DocumentIncomplete, rejected.DocumentStatus)

	_, err = svc.Accept(context.Background(), applicant.ID, AcceptApplicantRequest{}, adminClaims())
	assert.True(t, errors.Is(err, appErrors.ErrAlreadyProcessed))
	assert.Empty(t, store.students)
	assert.Equal(t, []string{models.AuditActionApplicantReject}, audit.actions())
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.admissionDecisions.WithLabelValues(DecisionRejected)))
}

func TestAdmissionRejectIsIdempotent(t *testing.T) {
	svc, _, audit, metrics := newAdmissionFixture(t)
	applicant := submitApplicant(t, svc, "siti@example.com")

	_, err := svc.Reject(context.Background(), applicant.ID, adminClaims())
	require.NoError(t, err)
	again, err := svc.Reject(context.Background(), applicant.ID, adminClaims())
	require.NoError(t, err)

	assert.Equal(t, models.ApplicantRejected, again.State)
	assert.Len(t, audit.actions(), 1)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.admissionDecisions.WithLabelValues(DecisionRejected)))
}

func TestAdmissionRejectAcceptedFails(t *testing.T) {
	svc, _, _, _ := newAdmissionFixture(t)
	applicant := submitApplicant(t, svc, "siti@example.com")
	_, err := svc.Accept(context.Background(), applicant.ID, AcceptApplicantRequest{}, adminClaims())
	require.NoError(t, err)

	_, err = svc.Reject(context.Background(), applicant.ID, adminClaims())
	assert.True(t, errors.Is(err, appErrors.ErrAlreadyProcessed))
}

func TestAdmissionReview(t *testing.T) {
	complete := models.DocumentComplete
	pending := models.DocumentPending
	paid := models.RegistrationPaid
	unpaid := models.RegistrationUnpaid
	name := "  Siti Nur Aminah "

	t.Run("applies patch", func(t *testing.T) {
		svc, _, audit, _ := newAdmissionFixture(t)
		applicant := submitApplicant(t, svc, "siti@example.com")

		updated, err := svc.Review(context.Background(), applicant.ID, ReviewApplicantRequest{
			FullName:       &name,
			DocumentStatus: &complete,
			PaymentStatus:  &paid,
		}, adminClaims())
		require.NoError(t, err)
		assert.Equal(t, "Siti Nur Aminah", updated.FullName)
		assert.Equal(t, models.DocumentComplete, updated.DocumentStatus)
		assert.Equal(t, models.RegistrationPaid, updated.PaymentStatus)
		assert.Equal(t, models.ApplicantSubmitted, updated.State)
		assert.Equal(t, []string{models.AuditActionApplicantReview}, audit.actions())
	})

	t.Run("payment status is forward only", func(t *testing.T) {
		svc, _, _, _ := newAdmissionFixture(t)
		applicant := submitApplicant(t, svc, "siti@example.com")
		_, err := svc.Review(context.Background(), applicant.ID, ReviewApplicantRequest{PaymentStatus: &paid}, adminClaims())
		require.NoError(t, err)

		_, err = svc.Review(context.Background(), applicant.ID, ReviewApplicantRequest{PaymentStatus: &unpaid}, adminClaims())
		assert.True(t, errors.Is(err, appErrors.ErrInvalidTransition))
	})

	t.Run("complete documents cannot revert", func(t *testing.T) {
		svc, store, _, _ := newAdmissionFixture(t)
		applicant := submitApplicant(t, svc, "siti@example.com")
		_, err := svc.Review(context.Background(), applicant.ID, ReviewApplicantRequest{DocumentStatus: &complete}, adminClaims())
		require.NoError(t, err)

		_, err = svc.Review(context.Background(), applicant.ID, ReviewApplicantRequest{DocumentStatus: &pending, FullName: &name}, adminClaims())
		assert.True(t, errors.Is(err, appErrors.ErrInvalidTransition))
		assert.Equal(t, "Siti Aminah", store.applicants[applicant.ID].FullName)
	})

	t.Run("processed applicant cannot be reviewed", func(t *testing.T) {
		svc, _, _, _ := newAdmissionFixture(t)
		applicant := submitApplicant(t, svc, "siti@example.com")
		_, err := svc.Reject(context.Background(), applicant.ID, adminClaims())
		require.NoError(t, err)

		_, err = svc.Review(context.Background(), applicant.ID, ReviewApplicantRequest{FullName: &name}, adminClaims())
		assert.True(t, errors.Is(err, appErrors.ErrAlreadyProcessed))
	})

	t.Run("invalid birth date", func(t *testing.T) {
		svc, _, _, _ := newAdmissionFixture(t)
		applicant := submitApplicant(t, svc, "siti@example.com")
		bad := "12/04/2010"

		_, err := svc.Review(context.Background(), applicant.ID, ReviewApplicantRequest{BirthDate: &bad}, adminClaims())
		assert.True(t, errors.Is(err, appErrors.ErrValidation))
	})
}

func TestAdmissionLookupStatus(t *testing.T) {
	svc, store, _, _ := newAdmissionFixture(t)
	old := submitApplicant(t, svc, "siti@example.com")
	store.applicants[old.ID].CreatedAt = time.Now().Add(-48 * time.Hour)
	latest := submitApplicant(t, svc, "siti@example.com")
	_, err := svc.Reject(context.Background(), latest.ID, adminClaims())
	require.NoError(t, err)

	view, err := svc.LookupStatus(context.Background(), "siti@example.com")
	require.NoError(t, err)
	assert.Equal(t, models.ApplicantRejected, view.State)
	assert.Equal(t, "2026/2027 Ganjil", view.TermName)

	_, err = svc.LookupStatus(context.Background(), "Siti@example.com")
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))

	_, err = svc.LookupStatus(context.Background(), "")
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}

func TestAdmissionGetIncludesStudentNumber(t *testing.T) {
	svc, _, _, _ := newAdmissionFixture(t)
	applicant := submitApplicant(t, svc, "siti@example.com")
	_, err := svc.Accept(context.Background(), applicant.ID, AcceptApplicantRequest{}, adminClaims())
	require.NoError(t, err)

	detail, err := svc.Get(context.Background(), applicant.ID)
	require.NoError(t, err)
	require.NotNil(t, detail.StudentNIS)
	assert.Equal(t, "20260001", *detail.StudentNIS)

	items, pagination, err := svc.List(context.Background(), models.ApplicantFilter{State: models.ApplicantAccepted})
	require.NoError(t, err)
	assert.Len(t, items, 1)
	assert.Equal(t, 1, pagination.TotalCount)
}

func TestFormatStudentNumber(t *testing.T) {
	assert.Equal(t, "20260007", FormatStudentNumber("", 2026, 7))
	assert.Equal(t, "SMA202612345", FormatStudentNumber("SMA", 2026, 12345))
}
