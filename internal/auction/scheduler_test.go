package auction

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/fntelecomllc/writepath/internal/kv"
	"github.com/fntelecomllc/writepath/internal/models"
)

func newTestScheduler(t *testing.T) (*Scheduler, *fakeAuctionStore, *fakeBidStore) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	kvClient := kv.NewFromRedis(rdb)

	auctions := &fakeAuctionStore{auctions: make(map[uuid.UUID]*models.Auction)}
	bids := &fakeBidStore{bids: make(map[uuid.UUID][]models.Bid)}
	return NewScheduler(kvClient, nil, auctions, bids), auctions, bids
}

func TestSchedulerTickClosesDueAuctionAndPicksHighestBidder(t *testing.T) {
	sched, auctions, bids := newTestScheduler(t)
	ctx := context.Background()

	a := newActiveAuction(100, 10)
	a.EndTime = time.Now().Add(-time.Second)
	auctions.auctions[a.ID] = a

	winner := uuid.New()
	bids.bids[a.ID] = []models.Bid{
		{ID: uuid.New(), AuctionID: a.ID, BidderID: uuid.New(), Amount: 110, Sequence: 1},
		{ID: uuid.New(), AuctionID: a.ID, BidderID: winner, Amount: 130, Sequence: 2},
	}

	require.NoError(t, sched.Seed(ctx, a.ID, a.EndTime))
	require.NoError(t, sched.Tick(ctx))

	require.Equal(t, models.AuctionEnded, auctions.auctions[a.ID].Status)
	require.NotNil(t, auctions.auctions[a.ID].WinnerID)
	require.Equal(t, winner, *auctions.auctions[a.ID].WinnerID)

	due, err := sched.kv.ZRangeByScore(ctx, endingsKey, "-inf", "+inf")
	require.NoError(t, err)
	require.Empty(t, due, "closed auction must be removed from the endings set")
}

func TestSchedulerTickSkipsNotYetDueAuctions(t *testing.T) {
	sched, auctions, _ := newTestScheduler(t)
	ctx := context.Background()

	a := newActiveAuction(100, 10)
	a.EndTime = time.Now().Add(time.Hour)
	auctions.auctions[a.ID] = a

	require.NoError(t, sched.Seed(ctx, a.ID, a.EndTime))
	require.NoError(t, sched.Tick(ctx))

	require.Equal(t, models.AuctionActive, auctions.auctions[a.ID].Status)
}

func TestSchedulerRescheduleMovesScore(t *testing.T) {
	sched, auctions, _ := newTestScheduler(t)
	ctx := context.Background()

	a := newActiveAuction(100, 10)
	a.EndTime = time.Now().Add(time.Hour)
	auctions.auctions[a.ID] = a

	require.NoError(t, sched.Seed(ctx, a.ID, a.EndTime))

	newEnd := time.Now().Add(-time.Second)
	require.NoError(t, sched.Reschedule(ctx, a.ID, newEnd))

	require.NoError(t, sched.Tick(ctx))
	require.Equal(t, models.AuctionEnded, auctions.auctions[a.ID].Status)
}
