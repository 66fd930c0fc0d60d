package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/fntelecomllc/writepath/internal/models"
)

// ResourceStore persists Resource and PriceOverride rows.
type ResourceStore interface {
	GetByID(ctx context.Context, q Querier, id uuid.UUID) (*models.Resource, error)
	LockForUpdate(ctx context.Context, tx Querier, id uuid.UUID) (*models.Resource, error)
	PriceOverridesInRange(ctx context.Context, q Querier, resourceID uuid.UUID, from, to time.Time) ([]models.PriceOverride, error)
	UpsertPriceOverride(ctx context.Context, q Querier, po *models.PriceOverride) error
}

// ReservationStore persists Reservation rows and the aggregate queries the
// Availability Calculator and RRE need over them.
type ReservationStore interface {
	Create(ctx context.Context, q Querier, r *models.Reservation) error
	GetByID(ctx context.Context, q Querier, id uuid.UUID) (*models.Reservation, error)
	GetByIdempotencyKey(ctx context.Context, q Querier, key string) (*models.Reservation, error)
	// DailyActiveRoomCounts returns, for each day in [from, to), the sum of
	// roomCount across reservations with status in {reserved, confirmed}
	// covering that day — the authoritative form of the §4.3 formula.
	DailyActiveRoomCounts(ctx context.Context, q Querier, resourceID uuid.UUID, from, to time.Time) (map[time.Time]int, error)
	Confirm(ctx context.Context, q Querier, id uuid.UUID, paymentID string) (*models.Reservation, error)
	Cancel(ctx context.Context, q Querier, id uuid.UUID) (*models.Reservation, error)
	ExpireStale(ctx context.Context, q Querier, now time.Time) ([]models.Reservation, error)
}

// AuctionStore persists Auction rows.
type AuctionStore interface {
	GetByID(ctx context.Context, q Querier, id uuid.UUID) (*models.Auction, error)
	LockForUpdate(ctx context.Context, tx Querier, id uuid.UUID) (*models.Auction, error)
	UpdateAfterBid(ctx context.Context, q Querier, id uuid.UUID, currentPrice int64, endTime time.Time, expectVersion int64) error
	// CloseDue atomically transitions one due auction to ended, assigning
	// winnerID, and reports whether this call won the race.
	CloseDue(ctx context.Context, q Querier, id uuid.UUID, winnerID *uuid.UUID) (bool, error)
	DueForClose(ctx context.Context, q Querier, now time.Time) ([]uuid.UUID, error)
}

// BidStore persists the append-only Bid ledger.
type BidStore interface {
	NextSequence(ctx context.Context, q Querier, auctionID uuid.UUID) (int64, error)
	Insert(ctx context.Context, q Querier, b *models.Bid) error
	HighestBidder(ctx context.Context, q Querier, auctionID uuid.UUID) (*uuid.UUID, error)
	Recent(ctx context.Context, q Querier, auctionID uuid.UUID, limit int) ([]models.Bid, error)
}

// AutoBidStore persists standing proxy-bid instructions.
type AutoBidStore interface {
	Upsert(ctx context.Context, q Querier, ab *models.AutoBid) error
	ActiveOrderedByMaxDesc(ctx context.Context, q Querier, auctionID uuid.UUID, excludeBidder uuid.UUID) ([]models.AutoBid, error)
	Deactivate(ctx context.Context, q Querier, auctionID, bidderID uuid.UUID) error
}

// WatchStore persists a user's watch toggle on an auction.
type WatchStore interface {
	Upsert(ctx context.Context, q Querier, w *models.Watch) error
	Delete(ctx context.Context, q Querier, userID, auctionID uuid.UUID) error
	ListWatchers(ctx context.Context, q Querier, auctionID uuid.UUID) ([]uuid.UUID, error)
}

// VideoStore persists the Top-K engine's counted entity metadata.
type VideoStore interface {
	GetByID(ctx context.Context, q Querier, id uuid.UUID) (*models.Video, error)
	IncrementTotalViews(ctx context.Context, q Querier, id uuid.UUID, delta int64) error
}
