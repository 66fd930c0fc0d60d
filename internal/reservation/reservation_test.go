package reservation

import (
	"context"
	"sync"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/fntelecomllc/writepath/internal/availability"
	"github.com/fntelecomllc/writepath/internal/corerr"
	"github.com/fntelecomllc/writepath/internal/idempotency"
	"github.com/fntelecomllc/writepath/internal/kv"
	"github.com/fntelecomllc/writepath/internal/lock"
	"github.com/fntelecomllc/writepath/internal/models"
	"github.com/fntelecomllc/writepath/internal/store"
	"github.com/fntelecomllc/writepath/internal/store/postgres"
)

type fakeResourceStore struct {
	resources map[uuid.UUID]*models.Resource
}

func (s *fakeResourceStore) GetByID(ctx context.Context, q store.Querier, id uuid.UUID) (*models.Resource, error) {
	r, ok := s.resources[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *fakeResourceStore) LockForUpdate(ctx context.Context, tx store.Querier, id uuid.UUID) (*models.Resource, error) {
	return s.GetByID(ctx, tx, id)
}

func (s *fakeResourceStore) PriceOverridesInRange(ctx context.Context, q store.Querier, resourceID uuid.UUID, from, to time.Time) ([]models.PriceOverride, error) {
	return nil, nil
}

func (s *fakeResourceStore) UpsertPriceOverride(ctx context.Context, q store.Querier, po *models.PriceOverride) error {
	return nil
}

type fakeReservationStore struct {
	byID  map[uuid.UUID]*models.Reservation
	byKey map[string]*models.Reservation
}

func newFakeReservationStore() *fakeReservationStore {
	return &fakeReservationStore{byID: make(map[uuid.UUID]*models.Reservation), byKey: make(map[string]*models.Reservation)}
}

func (s *fakeReservationStore) Create(ctx context.Context, q store.Querier, r *models.Reservation) error {
	cp := *r
	s.byID[r.ID] = &cp
	s.byKey[r.IdempotencyKey] = &cp
	return nil
}

func (s *fakeReservationStore) GetByID(ctx context.Context, q store.Querier, id uuid.UUID) (*models.Reservation, error) {
	r, ok := s.byID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return r, nil
}

func (s *fakeReservationStore) GetByIdempotencyKey(ctx context.Context, q store.Querier, key string) (*models.Reservation, error) {
	r, ok := s.byKey[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return r, nil
}

func (s *fakeReservationStore) DailyActiveRoomCounts(ctx context.Context, q store.Querier, resourceID uuid.UUID, from, to time.Time) (map[time.Time]int, error) {
	counts := make(map[time.Time]int)
	for _, r := range s.byID {
		if r.ResourceID != resourceID || !r.Active() {
			continue
		}
		for d := from; d.Before(to); d = d.AddDate(0, 0, 1) {
			if r.Covers(d) {
				counts[d] += r.RoomCount
			}
		}
	}
	return counts, nil
}

func (s *fakeReservationStore) Confirm(ctx context.Context, q store.Querier, id uuid.UUID, paymentID string) (*models.Reservation, error) {
	r, ok := s.byID[id]
	if !ok || r.Status != models.ReservationReserved {
		return nil, store.ErrNotFound
	}
	r.Status = models.ReservationConfirmed
	r.PaymentID = &paymentID
	return r, nil
}

func (s *fakeReservationStore) Cancel(ctx context.Context, q store.Querier, id uuid.UUID) (*models.Reservation, error) {
	r, ok := s.byID[id]
	if !ok || !r.Active() {
		return nil, store.ErrNotFound
	}
	r.Status = models.ReservationCancelled
	return r, nil
}

func (s *fakeReservationStore) ExpireStale(ctx context.Context, q store.Querier, now time.Time) ([]models.Reservation, error) {
	var expired []models.Reservation
	for _, r := range s.byID {
		if r.Status == models.ReservationReserved && r.ReservedUntil.Before(now) {
			r.Status = models.ReservationExpired
			expired = append(expired, *r)
		}
	}
	return expired, nil
}

type reservationHarness struct {
	engine      *Engine
	resources   *fakeResourceStore
	reservations *fakeReservationStore
}

func newReservationHarness(t *testing.T) *reservationHarness {
	t.Helper()

	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	mock.MatchExpectationsInOrder(false)
	mock.ExpectBegin()
	mock.ExpectCommit()
	mock.ExpectRollback()

	sqlxDB := sqlx.NewDb(sqlDB, "postgres")
	tm := postgres.NewTransactionManager(sqlxDB)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	kvClient := kv.NewFromRedis(rdb)

	locks := lock.New(kvClient)
	idem := idempotency.New(kvClient, idempotency.Config{InProgressTTL: time.Minute, CompletedTTL: time.Hour})

	resources := &fakeResourceStore{resources: make(map[uuid.UUID]*models.Resource)}
	reservations := newFakeReservationStore()
	avail := availability.New(resources, reservations, kvClient, time.Minute)

	engine := New(tm, sqlxDB, resources, reservations, avail, locks, idem, kvClient, 15*time.Minute)
	return &reservationHarness{engine: engine, resources: resources, reservations: reservations}
}

// newConcurrentReservationHarness is like newReservationHarness but primes
// enough sqlmock expectations for n goroutines racing CreateReservation
// against the same resource: each call opens its own transaction, and
// exactly one of them commits (every other one loses the availability
// check under the row lock and rolls back).
func newConcurrentReservationHarness(t *testing.T, n int) *reservationHarness {
	t.Helper()

	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	mock.MatchExpectationsInOrder(false)
	for i := 0; i < n; i++ {
		mock.ExpectBegin()
	}
	mock.ExpectCommit()
	for i := 0; i < n-1; i++ {
		mock.ExpectRollback()
	}

	sqlxDB := sqlx.NewDb(sqlDB, "postgres")
	tm := postgres.NewTransactionManager(sqlxDB)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	kvClient := kv.NewFromRedis(rdb)

	locks := lock.New(kvClient)
	idem := idempotency.New(kvClient, idempotency.Config{InProgressTTL: time.Minute, CompletedTTL: time.Hour})

	resources := &fakeResourceStore{resources: make(map[uuid.UUID]*models.Resource)}
	reservations := newFakeReservationStore()
	avail := availability.New(resources, reservations, kvClient, time.Minute)

	engine := New(tm, sqlxDB, resources, reservations, avail, locks, idem, kvClient, 15*time.Minute)
	return &reservationHarness{engine: engine, resources: resources, reservations: reservations}
}

// TestConcurrentCreateReservationOnlyOneSucceedsForOverlappingRange spawns
// concurrent CreateReservation calls for the same single-unit resource over
// overlapping date ranges (the S1 scenario): the resource lock must
// serialize them so exactly one reservation row ends up Reserved and every
// other caller is rejected as Unavailable, never overbooked.
func TestConcurrentCreateReservationOnlyOneSucceedsForOverlappingRange(t *testing.T) {
	const workers = 5
	h := newConcurrentReservationHarness(t, workers)
	resource := newTestResource(1, 10000)
	h.resources.resources[resource.ID] = resource

	checkIn := time.Now().UTC().Truncate(24 * time.Hour).AddDate(0, 0, 1)
	checkOut := checkIn.AddDate(0, 0, 2)

	var wg sync.WaitGroup
	results := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := h.engine.CreateReservation(context.Background(), CreateParams{
				UserID: uuid.New(), ResourceID: resource.ID, CheckIn: checkIn, CheckOut: checkOut, RoomCount: 1,
			})
			results[i] = err
		}(i)
	}
	wg.Wait()

	successes, unavailable := 0, 0
	for _, err := range results {
		if err == nil {
			successes++
			continue
		}
		cerr, ok := corerr.As(err)
		require.True(t, ok)
		require.Equal(t, corerr.Unavailable, cerr.KindValue())
		unavailable++
	}
	require.Equal(t, 1, successes)
	require.Equal(t, workers-1, unavailable)

	reserved := 0
	for _, r := range h.reservations.byID {
		if r.Active() {
			reserved++
		}
	}
	require.Equal(t, 1, reserved)
}

func newTestResource(totalCount int, basePrice int64) *models.Resource {
	now := time.Now().UTC()
	return &models.Resource{ID: uuid.New(), OwnerID: uuid.New(), TotalCount: totalCount, BasePrice: basePrice, Active: true, CreatedAt: now, UpdatedAt: now}
}

func TestCreateReservationHappyPath(t *testing.T) {
	h := newReservationHarness(t)
	resource := newTestResource(3, 10000)
	h.resources.resources[resource.ID] = resource

	checkIn := time.Now().UTC().Truncate(24 * time.Hour).AddDate(0, 0, 1)
	checkOut := checkIn.AddDate(0, 0, 2)

	r, err := h.engine.CreateReservation(context.Background(), CreateParams{
		UserID: uuid.New(), ResourceID: resource.ID, CheckIn: checkIn, CheckOut: checkOut, RoomCount: 1, GuestCount: 2,
	})
	require.NoError(t, err)
	require.Equal(t, models.ReservationReserved, r.Status)
	require.Equal(t, int64(20000), r.TotalPrice)
}

func TestCreateReservationRejectsOverbooking(t *testing.T) {
	h := newReservationHarness(t)
	resource := newTestResource(1, 10000)
	h.resources.resources[resource.ID] = resource

	checkIn := time.Now().UTC().Truncate(24 * time.Hour).AddDate(0, 0, 1)
	checkOut := checkIn.AddDate(0, 0, 1)

	existing := &models.Reservation{
		ID: uuid.New(), ResourceID: resource.ID, CheckIn: checkIn, CheckOut: checkOut,
		RoomCount: 1, Status: models.ReservationReserved, IdempotencyKey: "seed",
	}
	h.reservations.byID[existing.ID] = existing

	_, err := h.engine.CreateReservation(context.Background(), CreateParams{
		UserID: uuid.New(), ResourceID: resource.ID, CheckIn: checkIn, CheckOut: checkOut, RoomCount: 1,
	})
	require.Error(t, err)
	cerr, ok := corerr.As(err)
	require.True(t, ok)
	require.Equal(t, corerr.Unavailable, cerr.KindValue())
}

func TestCreateReservationRejectsInvalidDateRange(t *testing.T) {
	h := newReservationHarness(t)
	resource := newTestResource(3, 10000)
	h.resources.resources[resource.ID] = resource

	checkIn := time.Now().UTC().Truncate(24 * time.Hour).AddDate(0, 0, 2)
	checkOut := checkIn.AddDate(0, 0, -1)

	_, err := h.engine.CreateReservation(context.Background(), CreateParams{
		UserID: uuid.New(), ResourceID: resource.ID, CheckIn: checkIn, CheckOut: checkOut, RoomCount: 1,
	})
	require.Error(t, err)
	cerr, ok := corerr.As(err)
	require.True(t, ok)
	require.Equal(t, corerr.BadRequest, cerr.KindValue())
}

func TestCreateReservationIdempotentReplay(t *testing.T) {
	h := newReservationHarness(t)
	resource := newTestResource(3, 10000)
	h.resources.resources[resource.ID] = resource

	checkIn := time.Now().UTC().Truncate(24 * time.Hour).AddDate(0, 0, 1)
	checkOut := checkIn.AddDate(0, 0, 1)
	userID := uuid.New()

	params := CreateParams{UserID: userID, ResourceID: resource.ID, CheckIn: checkIn, CheckOut: checkOut, RoomCount: 1}

	r1, err := h.engine.CreateReservation(context.Background(), params)
	require.NoError(t, err)

	r2, err := h.engine.CreateReservation(context.Background(), params)
	require.NoError(t, err)
	require.Equal(t, r1.ID, r2.ID)
	require.Len(t, h.reservations.byID, 1)
}

func TestConfirmAndCancelReservation(t *testing.T) {
	h := newReservationHarness(t)
	resource := newTestResource(3, 10000)
	h.resources.resources[resource.ID] = resource

	checkIn := time.Now().UTC().Truncate(24 * time.Hour).AddDate(0, 0, 1)
	checkOut := checkIn.AddDate(0, 0, 1)

	r, err := h.engine.CreateReservation(context.Background(), CreateParams{
		UserID: uuid.New(), ResourceID: resource.ID, CheckIn: checkIn, CheckOut: checkOut, RoomCount: 1,
	})
	require.NoError(t, err)

	confirmed, err := h.engine.Confirm(context.Background(), r.ID, "pay-123")
	require.NoError(t, err)
	require.Equal(t, models.ReservationConfirmed, confirmed.Status)

	cancelled, err := h.engine.Cancel(context.Background(), r.ID)
	require.NoError(t, err)
	require.Equal(t, models.ReservationCancelled, cancelled.Status)
}

func TestExpireStaleFlipsPastDeadlineReservations(t *testing.T) {
	h := newReservationHarness(t)
	resource := newTestResource(3, 10000)
	h.resources.resources[resource.ID] = resource

	r := &models.Reservation{
		ID: uuid.New(), ResourceID: resource.ID, UserID: uuid.New(),
		CheckIn: time.Now(), CheckOut: time.Now().AddDate(0, 0, 1),
		RoomCount: 1, Status: models.ReservationReserved,
		ReservedUntil: time.Now().Add(-time.Minute), IdempotencyKey: "stale-1",
	}
	h.reservations.byID[r.ID] = r

	n, err := h.engine.ExpireStale(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, models.ReservationExpired, h.reservations.byID[r.ID].Status)
}
