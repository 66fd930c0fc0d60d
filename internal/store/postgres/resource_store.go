package postgres

import (
	"database/sql"
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/fntelecomllc/writepath/internal/models"
	"github.com/fntelecomllc/writepath/internal/store"
)

type resourceStore struct{}

// NewResourceStore returns a store.ResourceStore backed by Postgres.
func NewResourceStore() store.ResourceStore { return &resourceStore{} }

func (s *resourceStore) GetByID(ctx context.Context, q store.Querier, id uuid.UUID) (*models.Resource, error) {
	var r models.Resource
	err := q.GetContext(ctx, &r, `
		SELECT id, owner_id, total_count, base_price, active, created_at, updated_at
		FROM resources WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	return &r, err
}

// LockForUpdate must be called with a Querier backed by an open transaction
// (*sqlx.Tx) — it holds the row lock until that transaction ends.
func (s *resourceStore) LockForUpdate(ctx context.Context, tx store.Querier, id uuid.UUID) (*models.Resource, error) {
	var r models.Resource
	err := tx.GetContext(ctx, &r, `
		SELECT id, owner_id, total_count, base_price, active, created_at, updated_at
		FROM resources WHERE id = $1 FOR UPDATE`, id)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	return &r, err
}

func (s *resourceStore) PriceOverridesInRange(ctx context.Context, q store.Querier, resourceID uuid.UUID, from, to time.Time) ([]models.PriceOverride, error) {
	var rows []models.PriceOverride
	err := q.SelectContext(ctx, &rows, `
		SELECT resource_id, date, price FROM price_overrides
		WHERE resource_id = $1 AND date >= $2 AND date < $3
		ORDER BY date`, resourceID, from, to)
	return rows, err
}

func (s *resourceStore) UpsertPriceOverride(ctx context.Context, q store.Querier, po *models.PriceOverride) error {
	_, err := q.NamedExecContext(ctx, `
		INSERT INTO price_overrides (resource_id, date, price)
		VALUES (:resource_id, :date, :price)
		ON CONFLICT (resource_id, date) DO UPDATE SET price = EXCLUDED.price`, po)
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
		return store.ErrDuplicateKey
	}
	return err
}
