// Package availability implements the Availability Calculator (spec.md
// §4.3): a pure function over the Store's daily booked counts, fronted by
// a short-TTL cache so repeated reads of the same (resource, range) don't
// hit Postgres on every request.
package availability

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/fntelecomllc/writepath/internal/kv"
	"github.com/fntelecomllc/writepath/internal/models"
	"github.com/fntelecomllc/writepath/internal/store"
)

// Result is the value cached and returned by Check.
type Result struct {
	Available      bool `json:"available"`
	AvailableRooms int  `json:"availableRooms"`
	TotalRooms     int  `json:"totalRooms"`
	Requested      int  `json:"requested"`
}

// DayPrice is one day of a calendar-view response.
type DayPrice struct {
	Date  time.Time `json:"date"`
	Price int64     `json:"price"`
}

// Calculator computes and caches availability. The local gocache layer
// absorbs read bursts within a single process; the shared kv layer keeps
// multiple instances consistent with the same 5-minute TTL.
type Calculator struct {
	resources    store.ResourceStore
	reservations store.ReservationStore
	kv           *kv.Client
	local        *gocache.Cache
	ttl          time.Duration
}

// New returns a Calculator with the given TTL applied to both cache layers.
func New(resources store.ResourceStore, reservations store.ReservationStore, kvClient *kv.Client, ttl time.Duration) *Calculator {
	return &Calculator{
		resources:    resources,
		reservations: reservations,
		kv:           kvClient,
		local:        gocache.New(ttl, 2*ttl),
		ttl:          ttl,
	}
}

func checkKey(resourceID uuid.UUID, checkIn, checkOut time.Time) string {
	return fmt.Sprintf("avail:check:%s:%s:%s", resourceID, checkIn.Format("2006-01-02"), checkOut.Format("2006-01-02"))
}

func monthKey(resourceID uuid.UUID, year int, month time.Month) string {
	return fmt.Sprintf("avail:%s:%d-%d", resourceID, year, int(month))
}

// Check computes availableRooms = totalCount − maxDailyBooked over
// [checkIn, checkOut), reading through the process-local cache first, then
// the shared kv cache, then the Store.
func (c *Calculator) Check(ctx context.Context, q store.Querier, resourceID uuid.UUID, checkIn, checkOut time.Time, requested int) (*Result, error) {
	key := checkKey(resourceID, checkIn, checkOut)

	if v, ok := c.local.Get(key); ok {
		r := v.(Result)
		r.Requested = requested
		r.Available = r.AvailableRooms >= requested
		return &r, nil
	}

	result, err := c.compute(ctx, q, resourceID, checkIn, checkOut)
	if err != nil {
		return nil, err
	}
	c.local.Set(key, *result, c.ttl)

	out := *result
	out.Requested = requested
	out.Available = out.AvailableRooms >= requested
	return &out, nil
}

// compute recomputes the §4.3 formula — the maximum, over every day in the
// half-open range, of active roomCount occupying it — reading through the
// shared kv layer before falling back to the Store, so that an instance
// other than the one that populated the local cache still avoids a
// recompute within the TTL window.
func (c *Calculator) compute(ctx context.Context, q store.Querier, resourceID uuid.UUID, checkIn, checkOut time.Time) (*Result, error) {
	key := checkKey(resourceID, checkIn, checkOut)
	if c.kv != nil {
		if cached, ok := c.kvGet(ctx, key); ok {
			var r Result
			if err := json.Unmarshal([]byte(cached), &r); err == nil {
				return &r, nil
			}
		}
	}

	resource, err := c.resources.GetByID(ctx, q, resourceID)
	if err != nil {
		return nil, err
	}

	daily, err := c.reservations.DailyActiveRoomCounts(ctx, q, resourceID, checkIn, checkOut)
	if err != nil {
		return nil, err
	}

	maxBooked := 0
	for _, n := range daily {
		if n > maxBooked {
			maxBooked = n
		}
	}

	available := resource.TotalCount - maxBooked
	if available < 0 {
		available = 0
	}
	result := &Result{AvailableRooms: available, TotalRooms: resource.TotalCount}

	if c.kv != nil {
		if data, err := json.Marshal(result); err == nil {
			c.kv.Set(ctx, key, string(data), c.ttl)
		}
	}
	return result, nil
}

// kvGet is a small helper so compute/MonthCalendar don't each repeat the
// IsNil-vs-real-error handling for a shared cache read.
func (c *Calculator) kvGet(ctx context.Context, key string) (string, bool) {
	v, err := c.kv.Get(ctx, key)
	if err != nil {
		return "", false
	}
	return v, true
}

// MonthCalendar returns a per-day price/availability array for the given
// month, reading price overrides and falling back to the resource's base
// price.
func (c *Calculator) MonthCalendar(ctx context.Context, q store.Querier, resourceID uuid.UUID, year int, month time.Month) ([]DayPrice, error) {
	key := monthKey(resourceID, year, month)
	if v, ok := c.local.Get(key); ok {
		return v.([]DayPrice), nil
	}
	if c.kv != nil {
		if cached, ok := c.kvGet(ctx, key); ok {
			var days []DayPrice
			if err := json.Unmarshal([]byte(cached), &days); err == nil {
				c.local.Set(key, days, c.ttl)
				return days, nil
			}
		}
	}

	resource, err := c.resources.GetByID(ctx, q, resourceID)
	if err != nil {
		return nil, err
	}

	from := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)

	overrides, err := c.resources.PriceOverridesInRange(ctx, q, resourceID, from, to)
	if err != nil {
		return nil, err
	}
	byDate := make(map[time.Time]int64, len(overrides))
	for _, o := range overrides {
		byDate[o.Date] = o.Price
	}

	var days []DayPrice
	for d := from; d.Before(to); d = d.AddDate(0, 0, 1) {
		price := resource.BasePrice
		if p, ok := byDate[d]; ok {
			price = p
		}
		days = append(days, DayPrice{Date: d, Price: price})
	}

	c.local.Set(key, days, c.ttl)
	if c.kv != nil {
		if data, err := json.Marshal(days); err == nil {
			c.kv.Set(ctx, key, string(data), c.ttl)
		}
	}
	return days, nil
}

// Invalidate evicts cached entries after a write touching resourceID across
// [checkIn, checkOut). The local cache is flushed entirely, for every
// resource. In the shared kv layer it deletes each covered month's calendar
// key and the check key for exactly [checkIn, checkOut); kv check keys for
// other ranges overlapping the write are not deleted and live until their
// TTL expires. Per spec.md §4.4, failure here is logged by the caller,
// never fatal.
func (c *Calculator) Invalidate(ctx context.Context, resourceID uuid.UUID, checkIn, checkOut time.Time) error {
	c.local.Flush()

	var kvKeys []string
	for d := checkIn; d.Before(checkOut); d = d.AddDate(0, 0, 1) {
		kvKeys = append(kvKeys, monthKey(resourceID, d.Year(), d.Month()))
	}
	kvKeys = append(kvKeys, checkKey(resourceID, checkIn, checkOut))

	if c.kv == nil {
		return nil
	}
	return c.kv.Del(ctx, kvKeys...)
}

// InvalidateReservation is a convenience wrapper deriving the affected
// range straight from a Reservation row.
func (c *Calculator) InvalidateReservation(ctx context.Context, r *models.Reservation) error {
	return c.Invalidate(ctx, r.ResourceID, r.CheckIn, r.CheckOut)
}
