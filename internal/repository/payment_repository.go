package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-admission-api/internal/models"
	"github.com/noah-isme/sma-admission-api/pkg/database"
)

// PaymentGuard inspects the pooled settlement before a payment is applied and
// may veto it.
type PaymentGuard func(before models.Settlement) error

// PaymentRepository appends payments. There is no update or delete path.
type PaymentRepository struct {
	db *sqlx.DB
}

// NewPaymentRepository constructs the repository.
func NewPaymentRepository(db *sqlx.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// Record locks the charge's (student, tariff) pool, appends the payment and
// rewrites the cached status of every charge in the pool, all in one
// transaction. It returns the settlement after the payment.
func (r *PaymentRepository) Record(ctx context.Context, payment *models.Payment, guard PaymentGuard) (models.Settlement, error) {
	var after models.Settlement
	err := database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var owner struct {
			StudentID string `db:"student_id"`
			TariffID  string `db:"tariff_id"`
			Nominal   int64  `db:"nominal"`
		}
		const ownerQuery = `SELECT c.student_id, c.tariff_id, t.nominal FROM charges c JOIN tariffs t ON t.id = c.tariff_id WHERE c.id = $1`
		if err := tx.GetContext(ctx, &owner, ownerQuery, payment.ChargeID); err != nil {
			if err == sql.ErrNoRows {
				return err
			}
			return fmt.Errorf("find charge: %w", err)
		}

		if _, err := lockPool(ctx, tx, owner.StudentID, owner.TariffID); err != nil {
			return err
		}
		total, err := sumPool(ctx, tx, owner.StudentID, owner.TariffID)
		if err != nil {
			return err
		}
		if guard != nil {
			if err := guard(models.Settle(owner.StudentID, owner.TariffID, owner.Nominal, total)); err != nil {
				return err
			}
		}

		if payment.ID == "" {
			payment.ID = uuid.NewString()
		}
		payment.CreatedAt = time.Now().UTC()
		const insertQuery = `INSERT INTO payments (id, charge_id, amount, paid_at, method, note, recorded_by, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
		if _, err := tx.ExecContext(ctx, insertQuery, payment.ID, payment.ChargeID, payment.Amount, payment.PaidAt, payment.Method, payment.Note, payment.RecordedBy, payment.CreatedAt); err != nil {
			return translate("insert payment", err)
		}

		after = models.Settle(owner.StudentID, owner.TariffID, owner.Nominal, total+payment.Amount)
		return writePoolStatus(ctx, tx, owner.StudentID, owner.TariffID, after.Status)
	})
	if err != nil {
		return models.Settlement{}, err
	}
	return after, nil
}

// SumByStudentTariff returns the pooled amount paid by a student for a tariff.
func (r *PaymentRepository) SumByStudentTariff(ctx context.Context, studentID, tariffID string) (int64, error) {
	return sumPool(ctx, r.db, studentID, tariffID)
}

// ListByCharge returns payments applied to a charge, oldest first.
func (r *PaymentRepository) ListByCharge(ctx context.Context, chargeID string) ([]models.Payment, error) {
	const query = `SELECT id, charge_id, amount, paid_at, method, note, recorded_by, created_at FROM payments WHERE charge_id = $1 ORDER BY paid_at ASC, created_at ASC`
	var payments []models.Payment
	if err := r.db.SelectContext(ctx, &payments, query, chargeID); err != nil {
		return nil, fmt.Errorf("list charge payments: %w", err)
	}
	return payments, nil
}

// ListByStudent returns every payment made for the student's charges.
func (r *PaymentRepository) ListByStudent(ctx context.Context, studentID string) ([]models.PaymentDetail, error) {
	const query = `SELECT p.id, p.charge_id, p.amount, p.paid_at, p.method, p.note, p.recorded_by, p.created_at,
	c.tariff_id, t.name AS tariff_name, c.month
FROM payments p
JOIN charges c ON c.id = p.charge_id
JOIN tariffs t ON t.id = c.tariff_id
WHERE c.student_id = $1
ORDER BY p.paid_at DESC, p.created_at DESC`
	var payments []models.PaymentDetail
	if err := r.db.SelectContext(ctx, &payments, query, studentID); err != nil {
		return nil, fmt.Errorf("list student payments: %w", err)
	}
	return payments, nil
}
