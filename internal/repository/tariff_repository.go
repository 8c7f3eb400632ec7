package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-admission-api/internal/models"
)

const tariffColumns = `id, name, nominal, term_id, recurring, created_at`

// TariffRepository persists billable tariffs.
type TariffRepository struct {
	db *sqlx.DB
}

// NewTariffRepository constructs the repository.
func NewTariffRepository(db *sqlx.DB) *TariffRepository {
	return &TariffRepository{db: db}
}

// Create stores a tariff.
func (r *TariffRepository) Create(ctx context.Context, tariff *models.Tariff) error {
	if tariff.ID == "" {
		tariff.ID = uuid.NewString()
	}
	if tariff.CreatedAt.IsZero() {
		tariff.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO tariffs (` + tariffColumns + `) VALUES (:id, :name, :nominal, :term_id, :recurring, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, tariff); err != nil {
		return translate("create tariff", err)
	}
	return nil
}

// FindByID fetches a tariff by id.
func (r *TariffRepository) FindByID(ctx context.Context, id string) (*models.Tariff, error) {
	const query = `SELECT ` + tariffColumns + ` FROM tariffs WHERE id = $1`
	var tariff models.Tariff
	if err := r.db.GetContext(ctx, &tariff, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find tariff: %w", err)
	}
	return &tariff, nil
}

// List returns tariffs, optionally restricted to a term.
func (r *TariffRepository) List(ctx context.Context, termID string) ([]models.Tariff, error) {
	query := `SELECT ` + tariffColumns + ` FROM tariffs`
	var args []interface{}
	if termID != "" {
		query += ` WHERE term_id = $1`
		args = append(args, termID)
	}
	query += ` ORDER BY name ASC`

	var tariffs []models.Tariff
	if err := r.db.SelectContext(ctx, &tariffs, query, args...); err != nil {
		return nil, fmt.Errorf("list tariffs: %w", err)
	}
	return tariffs, nil
}
