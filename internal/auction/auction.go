// Package auction implements the Auction-Bid State Machine (spec.md §4.5):
// the Resource-Reservation Engine's specialised variant with rate-limited
// bidding, proxy auto-bids, snipe protection, and strictly ordered bid
// sequences.
package auction

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/fntelecomllc/writepath/internal/corerr"
	"github.com/fntelecomllc/writepath/internal/events"
	"github.com/fntelecomllc/writepath/internal/idempotency"
	"github.com/fntelecomllc/writepath/internal/kv"
	"github.com/fntelecomllc/writepath/internal/lock"
	"github.com/fntelecomllc/writepath/internal/logging"
	"github.com/fntelecomllc/writepath/internal/models"
	"github.com/fntelecomllc/writepath/internal/store"
	"github.com/fntelecomllc/writepath/internal/store/postgres"
	"github.com/fntelecomllc/writepath/internal/validation"
)

// lockOptions is the §4.5 step-4 5s-TTL auction lock — short relative to
// the reservation lock because a bid's critical section is a handful of
// row updates, not an availability scan.
func lockOptions(ttl time.Duration) lock.Options {
	opts := lock.DefaultOptions()
	opts.TTL = ttl
	opts.Retries = 3
	opts.BaseDelay = 50 * time.Millisecond
	opts.MaxDelay = 500 * time.Millisecond
	return opts
}

func auctionLockKey(auctionID uuid.UUID) string { return "auction:" + auctionID.String() }

// PlaceBidParams are the validated inputs to PlaceBid.
type PlaceBidParams struct {
	AuctionID uuid.UUID `validate:"required"`
	BidderID  uuid.UUID `validate:"required"`
	Amount    int64     `validate:"required,positive_money"`
	ClientKey string
}

func (p PlaceBidParams) validate() error {
	if err := validation.Struct(p); err != nil {
		return corerr.New(corerr.BadRequest, err)
	}
	return nil
}

// SetAutoBidParams are the validated inputs to SetAutoBid.
type SetAutoBidParams struct {
	AuctionID uuid.UUID `validate:"required"`
	BidderID  uuid.UUID `validate:"required"`
	MaxAmount int64     `validate:"required,positive_money"`
}

func (p SetAutoBidParams) validate() error {
	return validation.Struct(p)
}

// BidResult is what PlaceBid and SetAutoBid return and publish — the
// winning bid plus the auction's post-update state.
type BidResult struct {
	WinningBid *models.Bid     `json:"winningBid"`
	FollowUp   *models.Bid     `json:"followUpBid,omitempty"`
	Auction    *models.Auction `json:"auction"`
}

// Engine is the Auction-Bid State Machine.
type Engine struct {
	db       *postgres.TransactionManager
	dbQuerier store.Querier
	auctions store.AuctionStore
	bids     store.BidStore
	autoBids store.AutoBidStore
	locks    *lock.Manager
	idem     *idempotency.Cache
	kv       *kv.Client
	sched    *Scheduler
	rateLimitPerMinute int
	lockTTL  time.Duration
	log      *logging.Logger
}

// New wires an Engine from its collaborators. The Scheduler is wired in
// separately with Attach; PlaceBid re-ZADDs the shared auction_endings set
// on a snipe extension only when a Scheduler has been attached, and
// otherwise updates just the auction row's end time.
func New(
	db *postgres.TransactionManager,
	dbQuerier store.Querier,
	auctions store.AuctionStore,
	bids store.BidStore,
	autoBids store.AutoBidStore,
	locks *lock.Manager,
	idem *idempotency.Cache,
	kvClient *kv.Client,
	lockTTL time.Duration,
	rateLimitPerMinute int,
) *Engine {
	return &Engine{
		db: db, dbQuerier: dbQuerier, auctions: auctions, bids: bids, autoBids: autoBids,
		locks: locks, idem: idem, kv: kvClient, lockTTL: lockTTL, rateLimitPerMinute: rateLimitPerMinute,
		log: logging.New("auction"),
	}
}

func rateLimitKey(bidderID uuid.UUID) string {
	return "ratelimit:bids:" + bidderID.String()
}

// checkRateLimit implements §4.5 step 1: 10 bids per 60s per actor.
func (e *Engine) checkRateLimit(ctx context.Context, bidderID uuid.UUID) error {
	n, err := e.kv.IncrWithExpire(ctx, rateLimitKey(bidderID), time.Minute)
	if err != nil {
		return corerr.New(corerr.Internal, err)
	}
	if int(n) > e.rateLimitPerMinute {
		return corerr.WrapRateLimited(int64(60 * time.Second / time.Millisecond))
	}
	return nil
}

// PlaceBid runs the full §4.5 protocol.
func (e *Engine) PlaceBid(ctx context.Context, p PlaceBidParams) (*BidResult, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	if err := e.checkRateLimit(ctx, p.BidderID); err != nil {
		return nil, err
	}

	bucket := fmt.Sprintf("%d", time.Now().Unix())
	key := idempotency.DeriveKey(p.ClientKey, p.BidderID.String(), p.AuctionID.String(),
		fmt.Sprintf("%d", p.Amount), bucket)

	outcome, err := e.idem.Reserve(ctx, key)
	if err != nil {
		return nil, corerr.New(corerr.Internal, err)
	}
	switch outcome.State {
	case idempotency.Completed:
		var cached BidResult
		if uerr := json.Unmarshal(outcome.Result, &cached); uerr == nil {
			return &cached, nil
		}
	case idempotency.InProgress:
		return nil, corerr.Newf(corerr.Conflict, "bid request already in progress")
	}

	var result *BidResult
	opErr := e.locks.WithLock(ctx, auctionLockKey(p.AuctionID), lockOptions(e.lockTTL), func(ctx context.Context) error {
		return e.db.WithTx(ctx, &sql.TxOptions{}, "place_bid", func(ctx context.Context, tx *sqlx.Tx) error {
			a, aerr := e.auctions.LockForUpdate(ctx, tx, p.AuctionID)
			if aerr != nil {
				return aerr
			}
			if a.Status != models.AuctionActive {
				return corerr.Newf(corerr.Conflict, "auction %s is not active", a.ID)
			}
			now := time.Now().UTC()
			if !now.Before(a.EndTime) {
				return corerr.Newf(corerr.Conflict, "auction %s has already ended", a.ID)
			}
			if a.SellerID == p.BidderID {
				return corerr.Newf(corerr.Forbidden, "seller may not bid on their own auction")
			}
			minimum := a.CurrentPrice + a.BidIncrement
			if p.Amount < minimum {
				return corerr.WrapBidTooLow(minimum)
			}

			res, rerr := e.resolveAgainstAutoBids(ctx, tx, a, p.BidderID, p.Amount, false)
			if rerr != nil {
				return rerr
			}

			newEndTime := a.EndTime
			if a.EndTime.Sub(now) < a.SnipeWindow() {
				newEndTime = now.Add(a.SnipeWindow())
				if e.sched != nil {
					if serr := e.sched.Reschedule(ctx, a.ID, newEndTime); serr != nil {
						e.log.Warn(ctx, "snipe_reschedule_failed", map[string]interface{}{"auction": a.ID.String(), "error": serr.Error()})
					}
				}
			}

			if uerr := e.auctions.UpdateAfterBid(ctx, tx, a.ID, res.winningAmount, newEndTime, a.Version); uerr != nil {
				return uerr
			}

			a.CurrentPrice = res.winningAmount
			a.EndTime = newEndTime
			a.Version++
			result = &BidResult{WinningBid: res.winning, FollowUp: res.followUp, Auction: a}
			return nil
		})
	})

	if opErr != nil {
		if abErr := e.idem.Abandon(ctx, key); abErr != nil {
			e.log.Warn(ctx, "abandon_after_failure", map[string]interface{}{"error": abErr.Error()})
		}
		if _, ok := corerr.As(opErr); ok {
			return nil, opErr
		}
		return nil, corerr.New(corerr.Internal, opErr)
	}

	e.publish(ctx, result.Auction.ID, "new_bid", result)
	if pubErr := e.idem.PublishJSON(ctx, key, result); pubErr != nil {
		e.log.Warn(ctx, "idempotency_publish_failed", map[string]interface{}{"error": pubErr.Error()})
	}
	return result, nil
}

type resolution struct {
	winning       *models.Bid
	followUp      *models.Bid
	winningAmount int64
}

// resolveAgainstAutoBids implements §4.5 step 7-9: given a candidate manual
// bid at amount, finds the highest competing active auto-bid H and decides
// Case A (manual wins outright) vs Case B (H immediately outbids, a
// follow-up auto-bid is inserted, and H wins). isAutoBidSetup is true when
// called from SetAutoBid resolving a freshly-upserted standing bid rather
// than a manual one — in that case there is no "manual" bid to insert first.
func (e *Engine) resolveAgainstAutoBids(ctx context.Context, tx *sqlx.Tx, a *models.Auction, bidderID uuid.UUID, amount int64, isAutoBidSetup bool) (*resolution, error) {
	competitors, err := e.autoBids.ActiveOrderedByMaxDesc(ctx, tx, a.ID, bidderID)
	if err != nil {
		return nil, err
	}

	manualBid, err := e.insertBid(ctx, tx, a.ID, bidderID, amount, isAutoBidSetup)
	if err != nil {
		return nil, err
	}

	if len(competitors) == 0 {
		return &resolution{winning: manualBid, winningAmount: amount}, nil
	}

	h := competitors[0]
	if h.MaxAmount < amount {
		// Case A: manual bid beats every standing auto-bid outright.
		if err := e.autoBids.Deactivate(ctx, tx, a.ID, h.BidderID); err != nil {
			return nil, err
		}
		return &resolution{winning: manualBid, winningAmount: amount}, nil
	}

	// Case B (H.MaxAmount >= amount, including the exact tie, which the
	// auto-bidder wins per the tie-break rule): H counters at
	// amount+increment, capped at its own max.
	counter := amount + a.BidIncrement
	reachedCap := counter >= h.MaxAmount
	if reachedCap {
		counter = h.MaxAmount
	}
	followUp, err := e.insertBid(ctx, tx, a.ID, h.BidderID, counter, true)
	if err != nil {
		return nil, err
	}
	if reachedCap {
		if err := e.autoBids.Deactivate(ctx, tx, a.ID, h.BidderID); err != nil {
			return nil, err
		}
	}
	return &resolution{winning: followUp, followUp: followUp, winningAmount: counter}, nil
}

func (e *Engine) insertBid(ctx context.Context, tx *sqlx.Tx, auctionID, bidderID uuid.UUID, amount int64, isAutoBid bool) (*models.Bid, error) {
	seq, err := e.bids.NextSequence(ctx, tx, auctionID)
	if err != nil {
		return nil, err
	}
	b := &models.Bid{
		ID:        uuid.New(),
		AuctionID: auctionID,
		BidderID:  bidderID,
		Amount:    amount,
		IsAutoBid: isAutoBid,
		Sequence:  seq,
		CreatedAt: time.Now().UTC(),
	}
	if err := e.bids.Insert(ctx, tx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// SetAutoBid upserts the standing proxy-bid row, then resolves it against
// existing competing auto-bids under the auction lock exactly as a manual
// bid would, emitting whatever bids result.
func (e *Engine) SetAutoBid(ctx context.Context, p SetAutoBidParams) (*BidResult, error) {
	if err := p.validate(); err != nil {
		return nil, corerr.New(corerr.BadRequest, err)
	}

	var result *BidResult
	opErr := e.locks.WithLock(ctx, auctionLockKey(p.AuctionID), lockOptions(e.lockTTL), func(ctx context.Context) error {
		return e.db.WithTx(ctx, &sql.TxOptions{}, "set_auto_bid", func(ctx context.Context, tx *sqlx.Tx) error {
			a, aerr := e.auctions.LockForUpdate(ctx, tx, p.AuctionID)
			if aerr != nil {
				return aerr
			}
			if a.Status != models.AuctionActive {
				return corerr.Newf(corerr.Conflict, "auction %s is not active", a.ID)
			}
			now := time.Now().UTC()
			ab := &models.AutoBid{AuctionID: p.AuctionID, BidderID: p.BidderID, MaxAmount: p.MaxAmount, Active: true, CreatedAt: now, UpdatedAt: now}
			if err := e.autoBids.Upsert(ctx, tx, ab); err != nil {
				return err
			}

			minimum := a.CurrentPrice + a.BidIncrement
			if p.MaxAmount < minimum {
				// The auto-bid is recorded but cannot immediately act; it
				// stands ready for the next competing bid.
				result = &BidResult{Auction: a}
				return nil
			}

			res, rerr := e.resolveAgainstAutoBids(ctx, tx, a, p.BidderID, minimum, true)
			if rerr != nil {
				return rerr
			}
			if uerr := e.auctions.UpdateAfterBid(ctx, tx, a.ID, res.winningAmount, a.EndTime, a.Version); uerr != nil {
				return uerr
			}
			a.CurrentPrice = res.winningAmount
			a.Version++
			result = &BidResult{WinningBid: res.winning, FollowUp: res.followUp, Auction: a}
			return nil
		})
	})

	if opErr != nil {
		if _, ok := corerr.As(opErr); ok {
			return nil, opErr
		}
		return nil, corerr.New(corerr.Internal, opErr)
	}
	if result.WinningBid != nil {
		e.publish(ctx, result.Auction.ID, "new_bid", result)
	}
	return result, nil
}

// CancelAutoBid deactivates a standing proxy-bid without emitting any bids.
func (e *Engine) CancelAutoBid(ctx context.Context, auctionID, bidderID uuid.UUID) error {
	if err := e.autoBids.Deactivate(ctx, e.dbQuerier, auctionID, bidderID); err != nil {
		return corerr.New(corerr.Internal, err)
	}
	return nil
}

// RecentBids returns the most recent N bids for auctionID, read straight
// through the Store on every call. No cache sits in front of it, here or
// in the HTTP and fan-out layers.
func (e *Engine) RecentBids(ctx context.Context, auctionID uuid.UUID, limit int) ([]models.Bid, error) {
	return e.bids.Recent(ctx, e.dbQuerier, auctionID, limit)
}

func (e *Engine) publish(ctx context.Context, auctionID uuid.UUID, eventType string, payload interface{}) {
	if e.kv == nil {
		return
	}
	data, err := events.Marshal(eventType, payload)
	if err != nil {
		e.log.Warn(ctx, "publish_marshal_failed", map[string]interface{}{"error": err.Error()})
		return
	}
	if err := e.kv.Publish(ctx, "auction:"+auctionID.String(), data); err != nil {
		e.log.Warn(ctx, "publish_failed", map[string]interface{}{"error": err.Error()})
	}
}
