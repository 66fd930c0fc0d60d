package postgres

import (
	"context"

	"github.com/google/uuid"

	"github.com/fntelecomllc/writepath/internal/models"
	"github.com/fntelecomllc/writepath/internal/store"
)

type watchStore struct{}

// NewWatchStore returns a store.WatchStore backed by Postgres.
func NewWatchStore() store.WatchStore { return &watchStore{} }

func (s *watchStore) Upsert(ctx context.Context, q store.Querier, w *models.Watch) error {
	_, err := q.NamedExecContext(ctx, `
		INSERT INTO watches (user_id, auction_id, created_at)
		VALUES (:user_id, :auction_id, :created_at)
		ON CONFLICT (user_id, auction_id) DO NOTHING`, w)
	return err
}

func (s *watchStore) Delete(ctx context.Context, q store.Querier, userID, auctionID uuid.UUID) error {
	_, err := q.ExecContext(ctx, `DELETE FROM watches WHERE user_id = $1 AND auction_id = $2`, userID, auctionID)
	return err
}

func (s *watchStore) ListWatchers(ctx context.Context, q store.Querier, auctionID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := q.SelectContext(ctx, &ids, `SELECT user_id FROM watches WHERE auction_id = $1`, auctionID)
	return ids, err
}
