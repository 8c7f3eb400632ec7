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

const chargeColumns = `id, student_id, tariff_id, term_id, month, status, created_at, updated_at`

// ChargeRepository persists charges and keeps their cached status in line
// with the pooled payments of each (student, tariff) pair.
type ChargeRepository struct {
	db *sqlx.DB
}

// NewChargeRepository constructs the repository.
func NewChargeRepository(db *sqlx.DB) *ChargeRepository {
	return &ChargeRepository{db: db}
}

// Create inserts a charge and synchronizes the status of its pool.
func (r *ChargeRepository) Create(ctx context.Context, charge *models.Charge, nominal int64) error {
	return database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if _, err := insertCharge(ctx, tx, charge, false); err != nil {
			return err
		}
		settlement, err := syncPool(ctx, tx, charge.StudentID, charge.TariffID, nominal)
		if err != nil {
			return err
		}
		charge.Status = settlement.Status
		return nil
	})
}

// GenerateForClass creates a charge for every active student of the class,
// skipping students that already hold one for the tariff and month. It
// returns the students that received a new charge.
func (r *ChargeRepository) GenerateForClass(ctx context.Context, classID string, tariff *models.Tariff, month *int) ([]string, error) {
	var created []string
	err := database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var studentIDs []string
		const query = `SELECT id FROM students WHERE class_id = $1 AND active = TRUE ORDER BY id`
		if err := tx.SelectContext(ctx, &studentIDs, query, classID); err != nil {
			return fmt.Errorf("list class students: %w", err)
		}
		for _, studentID := range studentIDs {
			charge := &models.Charge{StudentID: studentID, TariffID: tariff.ID, TermID: tariff.TermID, Month: month}
			inserted, err := insertCharge(ctx, tx, charge, true)
			if err != nil {
				return err
			}
			if !inserted {
				continue
			}
			if _, err := syncPool(ctx, tx, studentID, tariff.ID, tariff.Nominal); err != nil {
				return err
			}
			created = append(created, studentID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// FindByID fetches a charge by id.
func (r *ChargeRepository) FindByID(ctx context.Context, id string) (*models.Charge, error) {
	const query = `SELECT ` + chargeColumns + ` FROM charges WHERE id = $1`
	var charge models.Charge
	if err := r.db.GetContext(ctx, &charge, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find charge: %w", err)
	}
	return &charge, nil
}

// ListByStudent returns the student's charges with tariff data and the pooled
// amount paid towards each tariff.
func (r *ChargeRepository) ListByStudent(ctx context.Context, studentID string) ([]models.ChargeDetail, error) {
	const query = `SELECT c.id, c.student_id, c.tariff_id, c.term_id, c.month, c.status, c.created_at, c.updated_at,
	t.name AS tariff_name, t.nominal, COALESCE(p.total_paid, 0) AS total_paid
FROM charges c
JOIN tariffs t ON t.id = c.tariff_id
LEFT JOIN (
	SELECT ch.tariff_id, SUM(pm.amount) AS total_paid
	FROM payments pm
	JOIN charges ch ON ch.id = pm.charge_id
	WHERE ch.student_id = $1
	GROUP BY ch.tariff_id
) p ON p.tariff_id = c.tariff_id
WHERE c.student_id = $1
ORDER BY t.name ASC, c.month ASC NULLS FIRST`
	var items []models.ChargeDetail
	if err := r.db.SelectContext(ctx, &items, query, studentID); err != nil {
		return nil, fmt.Errorf("list student charges: %w", err)
	}
	return items, nil
}

// insertCharge writes a new UNPAID charge. With skipExisting a duplicate
// (student, tariff, month) is reported as not inserted instead of failing.
func insertCharge(ctx context.Context, tx *sqlx.Tx, charge *models.Charge, skipExisting bool) (bool, error) {
	if charge.ID == "" {
		charge.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	charge.Status = models.ChargeUnpaid
	charge.CreatedAt = now
	charge.UpdatedAt = now

	query := `INSERT INTO charges (` + chargeColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	if skipExisting {
		query += ` ON CONFLICT (student_id, tariff_id, COALESCE(month, 0)) DO NOTHING`
	}
	res, err := tx.ExecContext(ctx, query, charge.ID, charge.StudentID, charge.TariffID, charge.TermID, charge.Month, charge.Status, charge.CreatedAt, charge.UpdatedAt)
	if err != nil {
		return false, translate("insert charge", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert charge: %w", err)
	}
	return affected > 0, nil
}

// lockPool locks every charge of the (student, tariff) pair in id order.
func lockPool(ctx context.Context, tx *sqlx.Tx, studentID, tariffID string) ([]string, error) {
	const query = `SELECT id FROM charges WHERE student_id = $1 AND tariff_id = $2 ORDER BY id FOR UPDATE`
	var ids []string
	if err := tx.SelectContext(ctx, &ids, query, studentID, tariffID); err != nil {
		return nil, fmt.Errorf("lock charges: %w", err)
	}
	return ids, nil
}

func sumPool(ctx context.Context, q sqlx.QueryerContext, studentID, tariffID string) (int64, error) {
	const query = `SELECT COALESCE(SUM(p.amount), 0) FROM payments p JOIN charges c ON c.id = p.charge_id WHERE c.student_id = $1 AND c.tariff_id = $2`
	var total int64
	if err := sqlx.GetContext(ctx, q, &total, query, studentID, tariffID); err != nil {
		return 0, fmt.Errorf("sum payments: %w", err)
	}
	return total, nil
}

func writePoolStatus(ctx context.Context, tx *sqlx.Tx, studentID, tariffID string, status models.ChargeStatus) error {
	const query = `UPDATE charges SET status = $3, updated_at = $4 WHERE student_id = $1 AND tariff_id = $2`
	if _, err := tx.ExecContext(ctx, query, studentID, tariffID, status, time.Now().UTC()); err != nil {
		return fmt.Errorf("update charge status: %w", err)
	}
	return nil
}

// syncPool recomputes the pooled settlement and writes its status to every
// charge of the pair.
func syncPool(ctx context.Context, tx *sqlx.Tx, studentID, tariffID string, nominal int64) (models.Settlement, error) {
	if _, err := lockPool(ctx, tx, studentID, tariffID); err != nil {
		return models.Settlement{}, err
	}
	total, err := sumPool(ctx, tx, studentID, tariffID)
	if err != nil {
		return models.Settlement{}, err
	}
	settlement := models.Settle(studentID, tariffID, nominal, total)
	if err := writePoolStatus(ctx, tx, studentID, tariffID, settlement.Status); err != nil {
		return models.Settlement{}, err
	}
	return settlement, nil
}
