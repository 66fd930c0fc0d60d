package postgres

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/fntelecomllc/writepath/internal/models"
	"github.com/fntelecomllc/writepath/internal/store"
)

type bidStore struct{}

// NewBidStore returns a store.BidStore backed by Postgres.
func NewBidStore() store.BidStore { return &bidStore{} }

// NextSequence returns the next per-auction sequence number. Must be called
// under the same row lock that guards the auction to keep I3's density
// guarantee (no gaps, no races between concurrent bidders).
func (s *bidStore) NextSequence(ctx context.Context, q store.Querier, auctionID uuid.UUID) (int64, error) {
	var next int64
	err := q.GetContext(ctx, &next, `
		SELECT COALESCE(MAX(sequence_num), 0) + 1 FROM bids WHERE auction_id = $1`, auctionID)
	return next, err
}

func (s *bidStore) Insert(ctx context.Context, q store.Querier, b *models.Bid) error {
	_, err := q.NamedExecContext(ctx, `
		INSERT INTO bids (id, auction_id, bidder_id, amount, is_auto_bid, sequence_num, created_at)
		VALUES (:id, :auction_id, :bidder_id, :amount, :is_auto_bid, :sequence_num, :created_at)`, b)
	return err
}

func (s *bidStore) HighestBidder(ctx context.Context, q store.Querier, auctionID uuid.UUID) (*uuid.UUID, error) {
	var bidderID uuid.UUID
	err := q.GetContext(ctx, &bidderID, `
		SELECT bidder_id FROM bids WHERE auction_id = $1 ORDER BY sequence_num DESC LIMIT 1`, auctionID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &bidderID, nil
}

func (s *bidStore) Recent(ctx context.Context, q store.Querier, auctionID uuid.UUID, limit int) ([]models.Bid, error) {
	var bids []models.Bid
	err := q.SelectContext(ctx, &bids, `
		SELECT id, auction_id, bidder_id, amount, is_auto_bid, sequence_num, created_at
		FROM bids WHERE auction_id = $1 ORDER BY sequence_num DESC LIMIT $2`, auctionID, limit)
	return bids, err
}
