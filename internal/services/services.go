// Package services wires the concurrency-safe write-path engines into one
// explicitly-constructed Services struct (spec.md §9 "Singleton service
// objects" — replaced here with plain field construction; no
// module-level mutable state).
package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/fntelecomllc/writepath/internal/auction"
	"github.com/fntelecomllc/writepath/internal/availability"
	"github.com/fntelecomllc/writepath/internal/config"
	"github.com/fntelecomllc/writepath/internal/fanout"
	"github.com/fntelecomllc/writepath/internal/idempotency"
	"github.com/fntelecomllc/writepath/internal/kv"
	"github.com/fntelecomllc/writepath/internal/lock"
	"github.com/fntelecomllc/writepath/internal/reservation"
	"github.com/fntelecomllc/writepath/internal/store"
	"github.com/fntelecomllc/writepath/internal/store/postgres"
	"github.com/fntelecomllc/writepath/internal/trending"
)

// Services is the application's composition root for the write-path
// subsystem: one DLM, one Idempotency Cache, one Availability Calculator,
// the RRE and ABSM engines, the auction scheduler, the TKWC counter and
// Trending Service, and the Fan-out Gateway — all sharing the same KV and
// Store handles.
type Services struct {
	DLM          *lock.Manager
	Idem         *idempotency.Cache
	Availability *availability.Calculator
	Reservations *reservation.Engine
	Auctions     *auction.Engine
	Scheduler    *auction.Scheduler
	Trending     *trending.Counter
	TrendingSvc  *trending.Service
	Fanout       *fanout.Gateway

	querier       store.Querier
	resourceStore store.ResourceStore
	auctionStore  store.AuctionStore
	reservStore   store.ReservationStore
	videoStore    store.VideoStore
}

// Stores bundles the Postgres-backed row stores Build needs; constructed
// once by the caller (typically cmd/server) from the postgres package's
// New*Store constructors.
type Stores struct {
	Resources    store.ResourceStore
	Reservations store.ReservationStore
	Auctions     store.AuctionStore
	Bids         store.BidStore
	AutoBids     store.AutoBidStore
	Videos       store.VideoStore
}

// Build constructs every engine from its shared collaborators. cfg supplies
// the tuned durations and limits; dbQuerier is the non-transactional
// *sqlx.DB used for reads; tm drives every transactional write path.
func Build(cfg *config.Config, dbQuerier store.Querier, tm *postgres.TransactionManager, kvClient *kv.Client, st Stores, categories []string) *Services {
	dlm := lock.New(kvClient)
	idem := idempotency.New(kvClient, idempotency.Config{
		InProgressTTL: cfg.Idempotency.InProgressTTL,
		CompletedTTL:  cfg.Idempotency.CompletedTTL,
	})
	avail := availability.New(st.Resources, st.Reservations, kvClient, cfg.Reservation.AvailabilityTTL)

	rre := reservation.New(tm, dbQuerier, st.Resources, st.Reservations, avail, dlm, idem, kvClient, cfg.Reservation.HoldDuration)

	absm := auction.New(tm, dbQuerier, st.Auctions, st.Bids, st.AutoBids, dlm, idem, kvClient, cfg.Auction.LockTTL, cfg.Auction.BidRateLimitPerMinute)
	sched := auction.NewScheduler(kvClient, dbQuerier, st.Auctions, st.Bids)
	absm.Attach(sched)

	tkwc := trending.New(kvClient, cfg.Trending.BucketWidth, cfg.Trending.Window)

	svc := &Services{
		DLM: dlm, Idem: idem, Availability: avail,
		Reservations: rre, Auctions: absm, Scheduler: sched,
		Trending: tkwc,
		querier:       dbQuerier,
		resourceStore: st.Resources, auctionStore: st.Auctions, reservStore: st.Reservations, videoStore: st.Videos,
	}

	gw := fanout.New(kvClient, svc)
	trendingSvc := trending.NewService(tkwc, gw, categories, cfg.Trending.TopK, cfg.Trending.UpdateInterval)

	svc.Fanout = gw
	svc.TrendingSvc = trendingSvc
	return svc
}

// Querier exposes the shared non-transactional store.Querier for read-only
// handlers (e.g. an availability check) that sit outside any engine.
func (s *Services) Querier() store.Querier {
	return s.querier
}

// LoadState implements fanout.StateLoader: it satisfies §4.8's STATE_SYNC
// requirement by reading the current row for whichever room a client just
// subscribed to, straight from the Store (never from a cache, since a
// fresh subscriber must see the authoritative state, not a stale read).
func (s *Services) LoadState(ctx context.Context, room string) (interface{}, error) {
	switch {
	case strings.HasPrefix(room, "resource:"):
		id, err := uuid.Parse(strings.TrimPrefix(room, "resource:"))
		if err != nil {
			return nil, fmt.Errorf("fanout state sync: bad resource room %q: %w", room, err)
		}
		return s.resourceStore.GetByID(ctx, s.querier, id)
	case strings.HasPrefix(room, "auction:"):
		id, err := uuid.Parse(strings.TrimPrefix(room, "auction:"))
		if err != nil {
			return nil, fmt.Errorf("fanout state sync: bad auction room %q: %w", room, err)
		}
		return s.auctionStore.GetByID(ctx, s.querier, id)
	case strings.HasPrefix(room, "trending:"):
		category := strings.TrimPrefix(room, "trending:")
		if s.TrendingSvc == nil {
			return nil, nil
		}
		snap, ok := s.TrendingSvc.Snapshot(category)
		if !ok {
			return nil, nil
		}
		return snap, nil
	default:
		return nil, nil
	}
}
