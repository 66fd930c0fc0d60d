// Package models holds the persisted and wire-level entities shared by the
// reservation, auction, and trending engines. Types mirror the relational
// schema in internal/store/postgres/schema — struct tags name the columns so
// sqlx can scan rows directly into them.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Role enumerates the three actor roles the core treats as opaque references.
type Role string

const (
	RoleUser  Role = "user"
	RoleOwner Role = "owner"
	RoleAdmin Role = "admin"
)

// User is referenced by id only; the core never mutates it.
type User struct {
	ID    uuid.UUID `db:"id" json:"id"`
	Email string    `db:"email" json:"email"`
	Role  Role      `db:"role" json:"role"`
}

// Resource is a countable, bookable unit — a hotel room type or an auction's
// underlying lot. OwnerID is the seller/host; TotalCount bounds concurrent
// holds (I1); BasePrice is a 2-decimal fixed-point amount in minor units.
type Resource struct {
	ID         uuid.UUID `db:"id" json:"id"`
	OwnerID    uuid.UUID `db:"owner_id" json:"ownerId"`
	TotalCount int       `db:"total_count" json:"totalCount"`
	BasePrice  int64     `db:"base_price" json:"basePrice"`
	Active     bool      `db:"active" json:"active"`
	CreatedAt  time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt  time.Time `db:"updated_at" json:"updatedAt"`
}

// ReservationStatus enumerates the Reservation lifecycle states in spec.md §3.
type ReservationStatus string

const (
	ReservationReserved  ReservationStatus = "reserved"
	ReservationConfirmed ReservationStatus = "confirmed"
	ReservationCancelled ReservationStatus = "cancelled"
	ReservationCompleted ReservationStatus = "completed"
	ReservationExpired   ReservationStatus = "expired"
)

// Reservation is a half-open [CheckIn, CheckOut) hold against a Resource.
// GuestCount is carried for downstream display only — it plays no role in
// any availability invariant, which is computed from RoomCount alone.
type Reservation struct {
	ID             uuid.UUID         `db:"id" json:"id"`
	UserID         uuid.UUID         `db:"user_id" json:"userId"`
	ResourceID     uuid.UUID         `db:"resource_id" json:"resourceId"`
	CheckIn        time.Time         `db:"check_in" json:"checkIn"`
	CheckOut       time.Time         `db:"check_out" json:"checkOut"`
	RoomCount      int               `db:"room_count" json:"roomCount"`
	GuestCount     int               `db:"guest_count" json:"guestCount"`
	TotalPrice     int64             `db:"total_price" json:"totalPrice"`
	Status         ReservationStatus `db:"status" json:"status"`
	IdempotencyKey string            `db:"idempotency_key" json:"-"`
	ReservedUntil  time.Time         `db:"reserved_until" json:"reservedUntil"`
	PaymentID      *string           `db:"payment_id" json:"paymentId,omitempty"`
	CreatedAt      time.Time         `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time         `db:"updated_at" json:"updatedAt"`
}

// Covers reports whether the reservation's half-open range includes day d
// (day components only — callers normalize to midnight UTC first).
func (r *Reservation) Covers(d time.Time) bool {
	return !d.Before(r.CheckIn) && d.Before(r.CheckOut)
}

// Active reports whether the reservation still holds inventory (I1).
func (r *Reservation) Active() bool {
	return r.Status == ReservationReserved || r.Status == ReservationConfirmed
}

// PriceOverride is a per-(resource, date) price that takes precedence over
// Resource.BasePrice.
type PriceOverride struct {
	ResourceID uuid.UUID `db:"resource_id" json:"resourceId"`
	Date       time.Time `db:"date" json:"date"`
	Price      int64     `db:"price" json:"price"`
}

// AuctionStatus enumerates the Auction lifecycle states.
type AuctionStatus string

const (
	AuctionScheduled AuctionStatus = "scheduled"
	AuctionActive    AuctionStatus = "active"
	AuctionEnded     AuctionStatus = "ended"
	AuctionCancelled AuctionStatus = "cancelled"
)

// Auction is the specialised Resource-Reservation variant with proxy bidding.
type Auction struct {
	ID                     uuid.UUID     `db:"id" json:"id"`
	SellerID               uuid.UUID     `db:"seller_id" json:"sellerId"`
	StartingPrice          int64         `db:"starting_price" json:"startingPrice"`
	CurrentPrice           int64         `db:"current_price" json:"currentPrice"`
	BidIncrement           int64         `db:"bid_increment" json:"bidIncrement"`
	StartTime              time.Time     `db:"start_time" json:"startTime"`
	EndTime                time.Time     `db:"end_time" json:"endTime"`
	SnipeProtectionMinutes int           `db:"snipe_protection_minutes" json:"snipeProtectionMinutes"`
	Status                 AuctionStatus `db:"status" json:"status"`
	WinnerID               *uuid.UUID    `db:"winner_id" json:"winnerId,omitempty"`
	Version                int64         `db:"version" json:"version"`
	CreatedAt              time.Time     `db:"created_at" json:"createdAt"`
	UpdatedAt              time.Time     `db:"updated_at" json:"updatedAt"`
}

// SnipeWindow returns the configured snipe protection window as a Duration.
func (a *Auction) SnipeWindow() time.Duration {
	return time.Duration(a.SnipeProtectionMinutes) * time.Minute
}

// Bid is append-only: never mutated, never deleted, ordered by Sequence.
type Bid struct {
	ID         uuid.UUID `db:"id" json:"id"`
	AuctionID  uuid.UUID `db:"auction_id" json:"auctionId"`
	BidderID   uuid.UUID `db:"bidder_id" json:"bidderId"`
	Amount     int64     `db:"amount" json:"amount"`
	IsAutoBid  bool      `db:"is_auto_bid" json:"isAutoBid"`
	Sequence   int64     `db:"sequence_num" json:"sequence"`
	CreatedAt  time.Time `db:"created_at" json:"createdAt"`
}

// AutoBid is a standing proxy-bid instruction, upserted by (AuctionID, BidderID).
type AutoBid struct {
	AuctionID uuid.UUID `db:"auction_id" json:"auctionId"`
	BidderID  uuid.UUID `db:"bidder_id" json:"bidderId"`
	MaxAmount int64     `db:"max_amount" json:"maxAmount"`
	Active    bool      `db:"is_active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// Watch is a user's toggle on an auction; the core only persists it.
type Watch struct {
	UserID    uuid.UUID `db:"user_id" json:"userId"`
	AuctionID uuid.UUID `db:"auction_id" json:"auctionId"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// Video is the Top-K engine's counted entity.
type Video struct {
	ID         uuid.UUID `db:"id" json:"id"`
	Category   string    `db:"category" json:"category"`
	TotalViews int64     `db:"total_views" json:"totalViews"`
}
