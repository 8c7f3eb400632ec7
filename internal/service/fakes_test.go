package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/sma-admission-api/internal/models"
	"github.com/noah-isme/sma-admission-api/internal/repository"
	appErrors "github.com/noah-isme/sma-admission-api/pkg/errors"
)

const (
	testTermID    = "4b8e2f6a-1d3c-4e5a-9b7c-0d2f4a6c8e01"
	testClassID   = "6d0a4c8e-3f5b-4a7c-8e9a-1b3d5f7a9c02"
	testStudentA  = "8f2c6e0a-5b7d-4c9e-9a1c-3d5f7b9d1e03"
	testStudentB  = "a14e8c2f-7d9b-4e1a-8c3e-5f7b9d1f3a04"
	testStudentC  = "c36a0e4b-9f1d-4a3c-9e5a-7b9d1f3b5c05"
	testUnknownID = "e58c2a6d-0b3f-4c5e-8a7c-9d1f3b5d7e06"
)

// fakeAdmissionStore keeps applicants, students and accounts in memory. A
// single mutex stands in for the row lock.
type fakeAdmissionStore struct {
	mu             sync.Mutex
	applicants     map[string]*models.Applicant
	students       map[string]*models.Student
	accountsByMail map[string]*models.Account
	terms          map[string]*models.Term
	seq            int64
	failAccount    error
	convertCalls   int
}

func newFakeAdmissionStore() *fakeAdmissionStore {
	return &fakeAdmissionStore{
		applicants:     map[string]*models.Applicant{},
		students:       map[string]*models.Student{},
		accountsByMail: map[string]*models.Account{},
		terms: map[string]*models.Term{
			testTermID: {ID: testTermID, Name: "2026/2027 Ganjil", AcademicYear: "2026/2027", IsActive: true},
		},
	}
}

func (f *fakeAdmissionStore) FindByID(ctx context.Context, id string) (*models.Term, error) {
	term, ok := f.terms[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return term, nil
}

func (f *fakeAdmissionStore) Create(ctx context.Context, applicant *models.Applicant) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if applicant.ID == "" {
		applicant.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if applicant.CreatedAt.IsZero() {
		applicant.CreatedAt = now
	}
	applicant.UpdatedAt = now
	clone := *applicant
	f.applicants[applicant.ID] = &clone
	return nil
}

func (f *fakeAdmissionStore) FindDetailByID(ctx context.Context, id string) (*models.ApplicantDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.applicants[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	detail := &models.ApplicantDetail{Applicant: *a, TermName: f.terms[a.TermID].Name}
	if a.StudentID != nil {
		nis := f.students[*a.StudentID].NIS
		detail.StudentNIS = &nis
	}
	return detail, nil
}

func (f *fakeAdmissionStore) FindStatusByEmail(ctx context.Context, email string) (*models.ApplicantStatusView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest *models.Applicant
	for _, a := range f.applicants {
		if a.Email != email {
			continue
		}
		if latest == nil || a.CreatedAt.After(latest.CreatedAt) {
			latest = a
		}
	}
	if latest == nil {
		return nil, sql.ErrNoRows
	}
	return &models.ApplicantStatusView{
		FullName:       latest.FullName,
		DocumentStatus: latest.DocumentStatus,
		PaymentStatus:  latest.PaymentStatus,
		State:          latest.State,
		TermName:       f.terms[latest.TermID].Name,
	}, nil
}

func (f *fakeAdmissionStore) List(ctx context.Context, filter models.ApplicantFilter) ([]models.ApplicantDetail, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var items []models.ApplicantDetail
	for _, a := range f.applicants {
		if filter.State != "" && a.State != filter.State {
			continue
		}
		items = append(items, models.ApplicantDetail{Applicant: *a, TermName: f.terms[a.TermID].Name})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	return items, len(items), nil
}

func (f *fakeAdmissionStore) UpdateLocked(ctx context.Context, id string, mutate func(*models.Applicant) error) (*models.Applicant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	current, ok := f.applicants[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	working := *current
	if err := mutate(&working); err != nil {
		if err == repository.ErrNoChange {
			out := *current
			return &out, nil
		}
		return nil, err
	}
	working.UpdatedAt = time.Now().UTC()
	f.applicants[id] = &working
	out := working
	return &out, nil
}

func (f *fakeAdmissionStore) Convert(ctx context.Context, id string, build repository.ConvertFunc) (*models.Admission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.convertCalls++
	current, ok := f.applicants[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	if current.Converted() || current.State.Terminal() {
		return nil, repository.ErrAlreadyProcessed
	}
	working := *current
	f.seq++
	student, account, err := build(&working, f.seq)
	if err != nil {
		return nil, err
	}
	if _, taken := f.accountsByMail[account.Email]; taken {
		return nil, &repository.ConstraintError{Op: "convert applicant", Constraint: repository.ConstraintAccountEmail, Err: repository.ErrDuplicate}
	}
	for _, existing := range f.students {
		if existing.NIS == student.NIS {
			return nil, &repository.ConstraintError{Op: "create student", Constraint: repository.ConstraintStudentNIS, Err: repository.ErrDuplicate}
		}
	}
	if f.failAccount != nil {
		return nil, f.failAccount
	}

	student.ID = uuid.NewString()
	account.ID = uuid.NewString()
	account.StudentID = &student.ID
	f.students[student.ID] = student
	f.accountsByMail[account.Email] = account

	working.State = models.ApplicantAccepted
	working.DocumentStatus = models.DocumentComplete
	working.StudentID = &student.ID
	f.applicants[id] = &working
	out := working
	return &models.Admission{Student: student, Account: account.Info(), Applicant: &out}, nil
}

type fakeHasher struct{}

func (fakeHasher) HashSecret(secret string) (string, error) { return "hashed:" + secret, nil }

type fakeAudit struct {
	mu      sync.Mutex
	entries []*models.AuditLog
}

func (f *fakeAudit) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, log)
	return nil
}

func (f *fakeAudit) actions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.entries))
	for _, e := range f.entries {
		out = append(out, e.Action)
	}
	return out
}

// fakeBillingStore models tariffs, charges and payments with pooled
// settlement, writing the cached status the same way the SQL repository does.
type fakeBillingStore struct {
	mu       sync.Mutex
	students map[string]*models.Student
	classes  map[string]*models.Class
	tariffs  map[string]*models.Tariff
	charges  map[string]*models.Charge
	payments []models.Payment
}

func newFakeBillingStore() *fakeBillingStore {
	classID := testClassID
	return &fakeBillingStore{
		students: map[string]*models.Student{
			testStudentA: {ID: testStudentA, NIS: "202600001", FullName: "Siti", ClassID: &classID, Active: true},
			testStudentB: {ID: testStudentB, NIS: "202600002", FullName: "Budi", ClassID: &classID, Active: true},
		},
		classes: map[string]*models.Class{testClassID: {ID: testClassID, Name: "X IPA 1"}},
		tariffs: map[string]*models.Tariff{},
		charges: map[string]*models.Charge{},
	}
}

type fakeStudents struct{ store *fakeBillingStore }

func (f fakeStudents) FindByID(ctx context.Context, id string) (*models.Student, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	s, ok := f.store.students[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return s, nil
}

type fakeClasses struct{ store *fakeBillingStore }

func (f fakeClasses) FindByID(ctx context.Context, id string) (*models.Class, error) {
	c, ok := f.store.classes[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return c, nil
}

type fakeTariffs struct{ store *fakeBillingStore }

func (f fakeTariffs) Create(ctx context.Context, tariff *models.Tariff) error {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	if tariff.ID == "" {
		tariff.ID = uuid.NewString()
	}
	f.store.tariffs[tariff.ID] = tariff
	return nil
}

func (f fakeTariffs) FindByID(ctx context.Context, id string) (*models.Tariff, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	t, ok := f.store.tariffs[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return t, nil
}

func (f fakeTariffs) List(ctx context.Context, termID string) ([]models.Tariff, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	var out []models.Tariff
	for _, t := range f.store.tariffs {
		if termID == "" || t.TermID == termID {
			out = append(out, *t)
		}
	}
	return out, nil
}

type fakeCharges struct{ store *fakeBillingStore }

func sameMonth(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (s *fakeBillingStore) insertChargeLocked(charge *models.Charge) bool {
	for _, c := range s.charges {
		if c.StudentID == charge.StudentID && c.TariffID == charge.TariffID && sameMonth(c.Month, charge.Month) {
			return false
		}
	}
	if charge.ID == "" {
		charge.ID = uuid.NewString()
	}
	charge.Status = models.ChargeUnpaid
	clone := *charge
	s.charges[charge.ID] = &clone
	return true
}

func (s *fakeBillingStore) sumLocked(studentID, tariffID string) int64 {
	var total int64
	for _, p := range s.payments {
		c := s.charges[p.ChargeID]
		if c.StudentID == studentID && c.TariffID == tariffID {
			total += p.Amount
		}
	}
	return total
}

func (s *fakeBillingStore) syncLocked(studentID, tariffID string) models.Settlement {
	settlement := models.Settle(studentID, tariffID, s.tariffs[tariffID].Nominal, s.sumLocked(studentID, tariffID))
	for _, c := range s.charges {
		if c.StudentID == studentID && c.TariffID == tariffID {
			c.Status = settlement.Status
		}
	}
	return settlement
}

func (f fakeCharges) Create(ctx context.Context, charge *models.Charge, nominal int64) error {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	if !f.store.insertChargeLocked(charge) {
		return &repository.ConstraintError{Op: "insert charge", Constraint: repository.ConstraintChargeUnique, Err: repository.ErrDuplicate}
	}
	charge.Status = f.store.syncLocked(charge.StudentID, charge.TariffID).Status
	return nil
}

func (f fakeCharges) GenerateForClass(ctx context.Context, classID string, tariff *models.Tariff, month *int) ([]string, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	var ids []string
	for id := range f.store.students {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var created []string
	for _, id := range ids {
		st := f.store.students[id]
		if !st.Active || st.ClassID == nil || *st.ClassID != classID {
			continue
		}
		if f.store.insertChargeLocked(&models.Charge{StudentID: id, TariffID: tariff.ID, TermID: tariff.TermID, Month: month}) {
			f.store.syncLocked(id, tariff.ID)
			created = append(created, id)
		}
	}
	return created, nil
}

func (f fakeCharges) FindByID(ctx context.Context, id string) (*models.Charge, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	c, ok := f.store.charges[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *c
	return &clone, nil
}

func (f fakeCharges) ListByStudent(ctx context.Context, studentID string) ([]models.ChargeDetail, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	var out []models.ChargeDetail
	for _, c := range f.store.charges {
		if c.StudentID != studentID {
			continue
		}
		t := f.store.tariffs[c.TariffID]
		out = append(out, models.ChargeDetail{
			Charge:     *c,
			TariffName: t.Name,
			Nominal:    t.Nominal,
			TotalPaid:  f.store.sumLocked(studentID, c.TariffID),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type fakePayments struct{ store *fakeBillingStore }

func (f fakePayments) Record(ctx context.Context, payment *models.Payment, guard repository.PaymentGuard) (models.Settlement, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	charge, ok := f.store.charges[payment.ChargeID]
	if !ok {
		return models.Settlement{}, sql.ErrNoRows
	}
	nominal := f.store.tariffs[charge.TariffID].Nominal
	before := models.Settle(charge.StudentID, charge.TariffID, nominal, f.store.sumLocked(charge.StudentID, charge.TariffID))
	if guard != nil {
		if err := guard(before); err != nil {
			return models.Settlement{}, err
		}
	}
	if payment.ID == "" {
		payment.ID = uuid.NewString()
	}
	f.store.payments = append(f.store.payments, *payment)
	return f.store.syncLocked(charge.StudentID, charge.TariffID), nil
}

func (f fakePayments) SumByStudentTariff(ctx context.Context, studentID, tariffID string) (int64, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	return f.store.sumLocked(studentID, tariffID), nil
}

func (f fakePayments) ListByCharge(ctx context.Context, chargeID string) ([]models.Payment, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	var out []models.Payment
	for _, p := range f.store.payments {
		if p.ChargeID == chargeID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f fakePayments) ListByStudent(ctx context.Context, studentID string) ([]models.PaymentDetail, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	var out []models.PaymentDetail
	for _, p := range f.store.payments {
		c := f.store.charges[p.ChargeID]
		if c.StudentID == studentID {
			out = append(out, models.PaymentDetail{Payment: p, TariffID: c.TariffID, TariffName: f.store.tariffs[c.TariffID].Name, Month: c.Month})
		}
	}
	return out, nil
}

// memoryCache is a CacheRepository backed by a map of JSON payloads.
type memoryCache struct {
	mu          sync.Mutex
	entries     map[string][]byte
	generations map[string]int64
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: map[string][]byte{}, generations: map[string]int64{}}
}

func (m *memoryCache) Get(ctx context.Context, key string, dest interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.entries[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (m *memoryCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = raw
	return nil
}

func (m *memoryCache) Delete(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.entries, k)
	}
	return nil
}

func (m *memoryCache) Generation(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generations[key], nil
}

func (m *memoryCache) Bump(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.generations[key]++
	return m.generations[key], nil
}

func (m *memoryCache) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[key]
	return ok
}

type staticAccess struct {
	allowed bool
	err     error
}

func (s staticAccess) CanViewStudent(ctx context.Context, caller *models.JWTClaims, studentID string) (bool, error) {
	return s.allowed, s.err
}

func adminClaims() *models.JWTClaims {
	return &models.JWTClaims{AccountID: "admin-1", Role: models.RoleAdmin, Email: "admin@school.id"}
}

func strPtr(v string) *string { return &v }
