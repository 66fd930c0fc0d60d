package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/fntelecomllc/writepath/internal/models"
	"github.com/fntelecomllc/writepath/internal/store"
)

type auctionStore struct{}

// NewAuctionStore returns a store.AuctionStore backed by Postgres.
func NewAuctionStore() store.AuctionStore { return &auctionStore{} }

const auctionColumns = `id, seller_id, starting_price, current_price, bid_increment,
	start_time, end_time, snipe_protection_minutes, status, winner_id, version, created_at, updated_at`

func (s *auctionStore) GetByID(ctx context.Context, q store.Querier, id uuid.UUID) (*models.Auction, error) {
	var a models.Auction
	err := q.GetContext(ctx, &a, `SELECT `+auctionColumns+` FROM auctions WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	return &a, err
}

// LockForUpdate must be called with a Querier backed by an open transaction.
func (s *auctionStore) LockForUpdate(ctx context.Context, tx store.Querier, id uuid.UUID) (*models.Auction, error) {
	var a models.Auction
	err := tx.GetContext(ctx, &a, `SELECT `+auctionColumns+` FROM auctions WHERE id = $1 FOR UPDATE`, id)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	return &a, err
}

// UpdateAfterBid applies the §4.5 step-9/10 update: new current price, a
// possibly-extended end time, and the next version, guarded by an optimistic
// expectVersion check even though the caller already holds the row lock —
// a defence against a caller that forgot to lock.
func (s *auctionStore) UpdateAfterBid(ctx context.Context, q store.Querier, id uuid.UUID, currentPrice int64, endTime time.Time, expectVersion int64) error {
	res, err := q.ExecContext(ctx, `
		UPDATE auctions
		SET current_price = $2, end_time = $3, version = version + 1, updated_at = now()
		WHERE id = $1 AND version = $4`, id, currentPrice, endTime, expectVersion)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrConflict
	}
	return nil
}

// CloseDue implements the §4.7 atomic close: exactly one caller (among
// possibly several scheduler instances) wins the UPDATE and must publish
// the auction_ended event.
func (s *auctionStore) CloseDue(ctx context.Context, q store.Querier, id uuid.UUID, winnerID *uuid.UUID) (bool, error) {
	res, err := q.ExecContext(ctx, `
		UPDATE auctions
		SET status = 'ended', winner_id = $2, updated_at = now()
		WHERE id = $1 AND status = 'active' AND end_time < now()`, id, winnerID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *auctionStore) DueForClose(ctx context.Context, q store.Querier, now time.Time) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := q.SelectContext(ctx, &ids, `
		SELECT id FROM auctions WHERE status = 'active' AND end_time < $1`, now)
	return ids, err
}
