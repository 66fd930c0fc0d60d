package auction

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fntelecomllc/writepath/internal/events"
	"github.com/fntelecomllc/writepath/internal/kv"
	"github.com/fntelecomllc/writepath/internal/logging"
	"github.com/fntelecomllc/writepath/internal/models"
	"github.com/fntelecomllc/writepath/internal/store"
)

// endingsKey is the sorted-set name holding auctionId → endTime epoch ms
// (spec.md §4.7).
const endingsKey = "auction_endings"

// Scheduler drives auction closure off the shared auction_endings sorted
// set. Multiple instances may run Tick concurrently; correctness comes
// from the atomic DB UPDATE in AuctionStore.CloseDue, not from the KV set,
// which is best-effort and self-healing.
type Scheduler struct {
	kv       *kv.Client
	dbQuerier store.Querier
	auctions store.AuctionStore
	bids     store.BidStore
	log      *logging.Logger
}

// NewScheduler returns a Scheduler over its collaborators.
func NewScheduler(kvClient *kv.Client, dbQuerier store.Querier, auctions store.AuctionStore, bids store.BidStore) *Scheduler {
	return &Scheduler{kv: kvClient, dbQuerier: dbQuerier, auctions: auctions, bids: bids, log: logging.New("auction_scheduler")}
}

// Attach wires the Scheduler into an Engine so PlaceBid's snipe-extension
// path can reschedule the same auctionId in the shared set.
func (e *Engine) Attach(s *Scheduler) { e.sched = s }

// Seed ZADDs auctionID at endTime — called once when an auction is created
// or activated, outside this package's Tick loop.
func (s *Scheduler) Seed(ctx context.Context, auctionID uuid.UUID, endTime time.Time) error {
	return s.kv.ZAdd(ctx, endingsKey, float64(endTime.UnixMilli()), auctionID.String())
}

// Reschedule re-ZADDs auctionID with a new score, replacing the prior
// entry — used by a snipe extension (I6).
func (s *Scheduler) Reschedule(ctx context.Context, auctionID uuid.UUID, newEndTime time.Time) error {
	return s.Seed(ctx, auctionID, newEndTime)
}

// Tick performs one scheduler pass: ZRANGEBYSCORE everything due, attempts
// the atomic close on each, and publishes auction_ended on whichever
// instance wins the race. Intended to run on a 1s interval per spec.md §5.
func (s *Scheduler) Tick(ctx context.Context) error {
	now := time.Now().UTC()
	due, err := s.kv.ZRangeByScore(ctx, endingsKey, "-inf", fmt.Sprintf("%d", now.UnixMilli()))
	if err != nil {
		return err
	}
	for _, idStr := range due {
		auctionID, perr := uuid.Parse(idStr)
		if perr != nil {
			s.log.Warn(ctx, "bad_auction_id_in_endings", map[string]interface{}{"value": idStr, "error": perr.Error()})
			if rerr := s.kv.ZRem(ctx, endingsKey, idStr); rerr != nil {
				s.log.Warn(ctx, "zrem_bad_entry_failed", map[string]interface{}{"error": rerr.Error()})
			}
			continue
		}
		if err := s.closeOne(ctx, auctionID); err != nil {
			s.log.Warn(ctx, "close_one_failed", map[string]interface{}{"auction": auctionID.String(), "error": err.Error()})
			continue
		}
	}
	return nil
}

func (s *Scheduler) closeOne(ctx context.Context, auctionID uuid.UUID) error {
	winnerID, err := s.bids.HighestBidder(ctx, s.dbQuerier, auctionID)
	if err != nil {
		return err
	}

	won, err := s.auctions.CloseDue(ctx, s.dbQuerier, auctionID, winnerID)
	if err != nil {
		return err
	}
	if !won {
		// Another instance (or a status other than 'active') beat us to
		// it, or the auction isn't due yet by the DB's own clock (for
		// instance because a snipe extension just moved its end time). An
		// auction that is still active keeps its entry for a later tick;
		// any other leaves the set.
		a, gerr := s.auctions.GetByID(ctx, s.dbQuerier, auctionID)
		if gerr == nil && a.Status == models.AuctionActive {
			return nil
		}
		return s.kv.ZRem(ctx, endingsKey, auctionID.String())
	}

	a, err := s.auctions.GetByID(ctx, s.dbQuerier, auctionID)
	if err != nil {
		return err
	}
	data, merr := events.Marshal("auction_ended", a)
	if merr != nil {
		s.log.Warn(ctx, "publish_marshal_failed", map[string]interface{}{"error": merr.Error()})
	} else if perr := s.kv.Publish(ctx, "auction:"+auctionID.String(), data); perr != nil {
		s.log.Warn(ctx, "publish_failed", map[string]interface{}{"error": perr.Error()})
	}
	return s.kv.ZRem(ctx, endingsKey, auctionID.String())
}

// Run blocks, ticking every interval until ctx is cancelled. Per-tick
// errors are logged, never fatal — a single bad auction must not stop the
// scheduler for every other due auction.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				s.log.Warn(ctx, "tick_failed", map[string]interface{}{"error": err.Error()})
			}
		}
	}
}
