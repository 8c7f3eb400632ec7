package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-admission-api/internal/models"
)

var (
	lockPoolSQL    = regexp.QuoteMeta("SELECT id FROM charges WHERE student_id = $1 AND tariff_id = $2 ORDER BY id FOR UPDATE")
	sumPoolSQL     = regexp.QuoteMeta("SELECT COALESCE(SUM(p.amount), 0) FROM payments p JOIN charges c ON c.id = p.charge_id WHERE c.student_id = $1 AND c.tariff_id = $2")
	poolStatusSQL  = regexp.QuoteMeta("UPDATE charges SET status = $3, updated_at = $4 WHERE student_id = $1 AND tariff_id = $2")
	chargeOwnerSQL = regexp.QuoteMeta("SELECT c.student_id, c.tariff_id, t.nominal FROM charges c JOIN tariffs t ON t.id = c.tariff_id WHERE c.id = $1")
)

func TestChargeCreateSyncsPoolStatus(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewChargeRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO charges")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(lockPoolSQL).WithArgs("s-1", "tariff-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("c-0").AddRow("c-1"))
	mock.ExpectQuery(sumPoolSQL).WithArgs("s-1", "tariff-1").
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(int64(300000)))
	mock.ExpectExec(poolStatusSQL).WithArgs("s-1", "tariff-1", models.ChargePartial, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	charge := &models.Charge{StudentID: "s-1", TariffID: "tariff-1", TermID: "term-1"}
	require.NoError(t, repo.Create(context.Background(), charge, 500000))
	assert.Equal(t, models.ChargePartial, charge.Status)
	assert.NotEmpty(t, charge.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChargeCreateDuplicate(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewChargeRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO charges")).
		WillReturnError(&pq.Error{Code: "23505", Constraint: ConstraintChargeUnique})
	mock.ExpectRollback()

	err := repo.Create(context.Background(), &models.Charge{StudentID: "s-1", TariffID: "tariff-1"}, 500000)
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChargeGenerateForClassSkipsExisting(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewChargeRepository(db)

	month := 7
	tariff := &models.Tariff{ID: "tariff-1", TermID: "term-1", Nominal: 250000}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM students WHERE class_id = $1 AND active = TRUE ORDER BY id")).
		WithArgs("class-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("s-1").AddRow("s-2"))
	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (student_id, tariff_id, COALESCE(month, 0)) DO NOTHING")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(lockPoolSQL).WithArgs("s-1", "tariff-1").WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("c-1"))
	mock.ExpectQuery(sumPoolSQL).WithArgs("s-1", "tariff-1").WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(int64(0)))
	mock.ExpectExec(poolStatusSQL).WithArgs("s-1", "tariff-1", models.ChargeUnpaid, sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (student_id, tariff_id, COALESCE(month, 0)) DO NOTHING")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	created, err := repo.GenerateForClass(context.Background(), "class-1", tariff, &month)
	require.NoError(t, err)
	assert.Equal(t, []string{"s-1"}, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChargeListByStudent(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewChargeRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "student_id", "tariff_id", "term_id", "month", "status", "created_at", "updated_at", "tariff_name", "nominal", "total_paid"}).
		AddRow("c-1", "s-1", "tariff-1", "term-1", 7, "PARTIAL", now, now, "SPP", int64(500000), int64(300000)).
		AddRow("c-2", "s-1", "tariff-2", "term-1", nil, "UNPAID", now, now, "Seragam", int64(400000), int64(0))
	mock.ExpectQuery(regexp.QuoteMeta("WHERE c.student_id = $1\nORDER BY t.name ASC, c.month ASC NULLS FIRST")).
		WithArgs("s-1").
		WillReturnRows(rows)

	items, err := repo.ListByStudent(context.Background(), "s-1")
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.NotNil(t, items[0].Month)
	assert.Equal(t, 7, *items[0].Month)
	assert.Equal(t, int64(300000), items[0].TotalPaid)
	assert.Nil(t, items[1].Month)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRecordUpdatesEverySibling(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewPaymentRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(chargeOwnerSQL).WithArgs("c-1").
		WillReturnRows(sqlmock.NewRows([]string{"student_id", "tariff_id", "nominal"}).AddRow("s-1", "tariff-1", int64(500000)))
	mock.ExpectQuery(lockPoolSQL).WithArgs("s-1", "tariff-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("c-1").AddRow("c-2"))
	mock.ExpectQuery(sumPoolSQL).WithArgs("s-1", "tariff-1").
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(int64(300000)))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO payments")).
		WithArgs(sqlmock.AnyArg(), "c-1", int64(200000), sqlmock.AnyArg(), "cash", "", nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(poolStatusSQL).WithArgs("s-1", "tariff-1", models.ChargePaid, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	var seen models.Settlement
	payment := &models.Payment{ChargeID: "c-1", Amount: 200000, PaidAt: time.Now(), Method: "cash"}
	after, err := repo.Record(context.Background(), payment, func(before models.Settlement) error {
		seen = before
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, models.ChargePartial, seen.Status)
	assert.Equal(t, int64(200000), seen.Outstanding)
	assert.True(t, after.Settled)
	assert.Equal(t, models.ChargePaid, after.Status)
	assert.Equal(t, models.LabelSettled, after.Label)
	assert.NotEmpty(t, payment.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRecordGuardVetoInsertsNothing(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewPaymentRepository(db)

	veto := errors.New("overpaid")
	mock.ExpectBegin()
	mock.ExpectQuery(chargeOwnerSQL).WithArgs("c-1").
		WillReturnRows(sqlmock.NewRows([]string{"student_id", "tariff_id", "nominal"}).AddRow("s-1", "tariff-1", int64(500000)))
	mock.ExpectQuery(lockPoolSQL).WithArgs("s-1", "tariff-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("c-1"))
	mock.ExpectQuery(sumPoolSQL).WithArgs("s-1", "tariff-1").
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(int64(500000)))
	mock.ExpectRollback()

	_, err := repo.Record(context.Background(), &models.Payment{ChargeID: "c-1", Amount: 1}, func(models.Settlement) error { return veto })
	assert.ErrorIs(t, err, veto)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRecordUnknownCharge(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewPaymentRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(chargeOwnerSQL).WithArgs("missing").WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := repo.Record(context.Background(), &models.Payment{ChargeID: "missing", Amount: 1000}, nil)
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTariffRepositoryListByTerm(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewTariffRepository(db)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT " + tariffColumns + " FROM tariffs WHERE term_id = $1 ORDER BY name ASC")).
		WithArgs("term-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "nominal", "term_id", "recurring", "created_at"}).
			AddRow("tariff-1", "SPP", int64(500000), "term-1", true, now))

	tariffs, err := repo.List(context.Background(), "term-1")
	require.NoError(t, err)
	require.Len(t, tariffs, 1)
	assert.True(t, tariffs[0].Recurring)
}
