package services

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
	"github.com/fntelecomllc/writepath/internal/store"
	"github.com/fntelecomllc/writepath/internal/trending"
)

type stubResourceStore struct {
	resources map[uuid.UUID]*models.Resource
}

func (s *stubResourceStore) GetByID(ctx context.Context, q store.Querier, id uuid.UUID) (*models.Resource, error) {
	r, ok := s.resources[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return r, nil
}
func (s *stubResourceStore) LockForUpdate(ctx context.Context, tx store.Querier, id uuid.UUID) (*models.Resource, error) {
	return s.GetByID(ctx, tx, id)
}
func (s *stubResourceStore) PriceOverridesInRange(ctx context.Context, q store.Querier, resourceID uuid.UUID, from, to time.Time) ([]models.PriceOverride, error) {
	return nil, nil
}
func (s *stubResourceStore) UpsertPriceOverride(ctx context.Context, q store.Querier, po *models.PriceOverride) error {
	return nil
}

type stubAuctionStore struct {
	auctions map[uuid.UUID]*models.Auction
}

func (s *stubAuctionStore) GetByID(ctx context.Context, q store.Querier, id uuid.UUID) (*models.Auction, error) {
	a, ok := s.auctions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return a, nil
}
func (s *stubAuctionStore) LockForUpdate(ctx context.Context, tx store.Querier, id uuid.UUID) (*models.Auction, error) {
	return s.GetByID(ctx, tx, id)
}
func (s *stubAuctionStore) UpdateAfterBid(ctx context.Context, q store.Querier, id uuid.UUID, currentPrice int64, endTime time.Time, expectVersion int64) error {
	return nil
}
func (s *stubAuctionStore) CloseDue(ctx context.Context, q store.Querier, id uuid.UUID, winnerID *uuid.UUID) (bool, error) {
	return false, nil
}
func (s *stubAuctionStore) DueForClose(ctx context.Context, q store.Querier, now time.Time) ([]uuid.UUID, error) {
	return nil, nil
}

func newTestServicesForLoadState(t *testing.T) (*Services, *stubResourceStore, *stubAuctionStore) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	kvClient := kv.NewFromRedis(rdb)

	resources := &stubResourceStore{resources: make(map[uuid.UUID]*models.Resource)}
	auctions := &stubAuctionStore{auctions: make(map[uuid.UUID]*models.Auction)}

	counter := trending.New(kvClient, time.Minute, time.Hour)
	svc := &Services{
		Trending:      counter,
		querier:       nil,
		resourceStore: resources,
		auctionStore:  auctions,
	}
	return svc, resources, auctions
}

func TestLoadStateResourceRoomReturnsResource(t *testing.T) {
	svc, resources, _ := newTestServicesForLoadState(t)
	r := &models.Resource{ID: uuid.New(), TotalCount: 2, BasePrice: 500, Active: true}
	resources.resources[r.ID] = r

	state, err := svc.LoadState(context.Background(), "resource:"+r.ID.String())
	require.NoError(t, err)
	require.Equal(t, r, state)
}

func TestLoadStateResourceRoomBadUUIDErrors(t *testing.T) {
	svc, _, _ := newTestServicesForLoadState(t)
	_, err := svc.LoadState(context.Background(), "resource:not-a-uuid")
	require.Error(t, err)
}

func TestLoadStateAuctionRoomReturnsAuction(t *testing.T) {
	svc, _, auctions := newTestServicesForLoadState(t)
	a := &models.Auction{ID: uuid.New(), CurrentPrice: 100, Status: models.AuctionActive}
	auctions.auctions[a.ID] = a

	state, err := svc.LoadState(context.Background(), "auction:"+a.ID.String())
	require.NoError(t, err)
	require.Equal(t, a, state)
}

func TestLoadStateUnknownRoomReturnsNil(t *testing.T) {
	svc, _, _ := newTestServicesForLoadState(t)
	state, err := svc.LoadState(context.Background(), "bogus:room")
	require.NoError(t, err)
	require.Nil(t, state)
}

func TestLoadStateTrendingRoomWithoutComputedSnapshotReturnsNil(t *testing.T) {
	svc, _, _ := newTestServicesForLoadState(t)
	svc.TrendingSvc = trending.NewService(svc.Trending, nil, []string{"music"}, 10, time.Hour)

	state, err := svc.LoadState(context.Background(), "trending:music")
	require.NoError(t, err)
	require.Nil(t, state)
}

func TestLoadStateTrendingRoomReturnsComputedSnapshot(t *testing.T) {
	svc, _, _ := newTestServicesForLoadState(t)
	require.NoError(t, svc.Trending.RecordView(context.Background(), nil, uuid.New(), "music", ""))

	svcTrending := trending.NewService(svc.Trending, nil, []string{"music"}, 10, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svcTrending.Run(ctx)
		close(done)
	}()
	require.Eventually(t, func() bool {
		_, ok := svcTrending.Snapshot("music")
		return ok
	}, time.Second, 10*time.Millisecond)
	cancel()
	<-done

	svc.TrendingSvc = svcTrending
	state, err := svc.LoadState(context.Background(), "trending:music")
	require.NoError(t, err)
	require.NotNil(t, state)
}

func TestLoadStateTrendingRoomWithNoServiceReturnsNil(t *testing.T) {
	svc, _, _ := newTestServicesForLoadState(t)
	svc.TrendingSvc = nil
	state, err := svc.LoadState(context.Background(), "trending:music")
	require.NoError(t, err)
	require.Nil(t, state)
}
