package postgres

import (
	"context"

	"github.com/google/uuid"

	"github.com/fntelecomllc/writepath/internal/models"
	"github.com/fntelecomllc/writepath/internal/store"
)

type autoBidStore struct{}

// NewAutoBidStore returns a store.AutoBidStore backed by Postgres.
func NewAutoBidStore() store.AutoBidStore { return &autoBidStore{} }

func (s *autoBidStore) Upsert(ctx context.Context, q store.Querier, ab *models.AutoBid) error {
	_, err := q.NamedExecContext(ctx, `
		INSERT INTO auto_bids (auction_id, bidder_id, max_amount, is_active, created_at, updated_at)
		VALUES (:auction_id, :bidder_id, :max_amount, :is_active, :created_at, :updated_at)
		ON CONFLICT (auction_id, bidder_id) DO UPDATE
			SET max_amount = EXCLUDED.max_amount, is_active = true, updated_at = EXCLUDED.updated_at`, ab)
	return err
}

// ActiveOrderedByMaxDesc returns every other bidder's active auto-bid on
// auctionID, highest maxAmount first — the competing-bid lookup §4.5 step 7
// needs to find H.
func (s *autoBidStore) ActiveOrderedByMaxDesc(ctx context.Context, q store.Querier, auctionID, excludeBidder uuid.UUID) ([]models.AutoBid, error) {
	var rows []models.AutoBid
	err := q.SelectContext(ctx, &rows, `
		SELECT auction_id, bidder_id, max_amount, is_active, created_at, updated_at
		FROM auto_bids
		WHERE auction_id = $1 AND is_active = true AND bidder_id != $2
		ORDER BY max_amount DESC, created_at ASC`, auctionID, excludeBidder)
	return rows, err
}

func (s *autoBidStore) Deactivate(ctx context.Context, q store.Querier, auctionID, bidderID uuid.UUID) error {
	_, err := q.ExecContext(ctx, `
		UPDATE auto_bids SET is_active = false, updated_at = now()
		WHERE auction_id = $1 AND bidder_id = $2`, auctionID, bidderID)
	return err
}
