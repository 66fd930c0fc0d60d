package postgres

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/fntelecomllc/writepath/internal/models"
	"github.com/fntelecomllc/writepath/internal/store"
)

type videoStore struct{}

// NewVideoStore returns a store.VideoStore backed by Postgres.
func NewVideoStore() store.VideoStore { return &videoStore{} }

func (s *videoStore) GetByID(ctx context.Context, q store.Querier, id uuid.UUID) (*models.Video, error) {
	var v models.Video
	err := q.GetContext(ctx, &v, `SELECT id, category, total_views FROM videos WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	return &v, err
}

// IncrementTotalViews bumps the lifetime counter backing metadata reads; the
// authoritative sliding-window count lives in KV (TKWC), not here.
func (s *videoStore) IncrementTotalViews(ctx context.Context, q store.Querier, id uuid.UUID, delta int64) error {
	_, err := q.ExecContext(ctx, `UPDATE videos SET total_views = total_views + $2 WHERE id = $1`, id, delta)
	return err
}
