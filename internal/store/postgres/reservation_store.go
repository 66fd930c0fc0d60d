package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/fntelecomllc/writepath/internal/models"
	"github.com/fntelecomllc/writepath/internal/store"
)

type reservationStore struct{}

// NewReservationStore returns a store.ReservationStore backed by Postgres.
func NewReservationStore() store.ReservationStore { return &reservationStore{} }

func (s *reservationStore) Create(ctx context.Context, q store.Querier, r *models.Reservation) error {
	_, err := q.NamedExecContext(ctx, `
		INSERT INTO reservations
			(id, user_id, resource_id, check_in, check_out, room_count, guest_count,
			 total_price, status, idempotency_key, reserved_until, payment_id, created_at, updated_at)
		VALUES
			(:id, :user_id, :resource_id, :check_in, :check_out, :room_count, :guest_count,
			 :total_price, :status, :idempotency_key, :reserved_until, :payment_id, :created_at, :updated_at)`, r)
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
		return store.ErrDuplicateKey
	}
	return err
}

const reservationColumns = `id, user_id, resource_id, check_in, check_out, room_count, guest_count,
	total_price, status, idempotency_key, reserved_until, payment_id, created_at, updated_at`

func (s *reservationStore) GetByID(ctx context.Context, q store.Querier, id uuid.UUID) (*models.Reservation, error) {
	var r models.Reservation
	err := q.GetContext(ctx, &r, `SELECT `+reservationColumns+` FROM reservations WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	return &r, err
}

func (s *reservationStore) GetByIdempotencyKey(ctx context.Context, q store.Querier, key string) (*models.Reservation, error) {
	var r models.Reservation
	err := q.GetContext(ctx, &r, `SELECT `+reservationColumns+` FROM reservations WHERE idempotency_key = $1`, key)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	return &r, err
}

// DailyActiveRoomCounts implements the authoritative form of the §4.3
// formula under whatever row lock the caller already holds: for each day d
// in [from, to), the sum of roomCount over reservations with
// status ∈ {reserved, confirmed} whose [checkIn, checkOut) half-open range
// covers d. Expressed with generate_series so the DB does the day-by-day
// fan-out instead of the caller looping per night.
func (s *reservationStore) DailyActiveRoomCounts(ctx context.Context, q store.Querier, resourceID uuid.UUID, from, to time.Time) (map[time.Time]int, error) {
	type row struct {
		Day   time.Time `db:"day"`
		Count int       `db:"count"`
	}
	var rows []row
	err := q.SelectContext(ctx, &rows, `
		SELECT d::date AS day, COALESCE(SUM(room_count), 0) AS count
		FROM generate_series($2::date, $3::date - INTERVAL '1 day', INTERVAL '1 day') AS d
		LEFT JOIN reservations r
			ON r.resource_id = $1
			AND r.status IN ('reserved', 'confirmed')
			AND r.check_in <= d AND d < r.check_out
		GROUP BY d`, resourceID, from, to)
	if err != nil {
		return nil, err
	}
	out := make(map[time.Time]int, len(rows))
	for _, r := range rows {
		out[r.Day] = r.Count
	}
	return out, nil
}

func (s *reservationStore) Confirm(ctx context.Context, q store.Querier, id uuid.UUID, paymentID string) (*models.Reservation, error) {
	var r models.Reservation
	err := q.GetContext(ctx, &r, `
		UPDATE reservations
		SET status = 'confirmed', payment_id = $2, updated_at = now()
		WHERE id = $1 AND status = 'reserved'
		RETURNING `+reservationColumns, id, paymentID)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	return &r, err
}

func (s *reservationStore) Cancel(ctx context.Context, q store.Querier, id uuid.UUID) (*models.Reservation, error) {
	var r models.Reservation
	err := q.GetContext(ctx, &r, `
		UPDATE reservations
		SET status = 'cancelled', updated_at = now()
		WHERE id = $1 AND status IN ('reserved', 'confirmed')
		RETURNING `+reservationColumns, id)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	return &r, err
}

// ExpireStale implements I5: every reserved row past its hold deadline is
// flipped to expired in one statement, returning the affected rows so the
// caller can invalidate their availability cache entries.
func (s *reservationStore) ExpireStale(ctx context.Context, q store.Querier, now time.Time) ([]models.Reservation, error) {
	var rows []models.Reservation
	err := q.SelectContext(ctx, &rows, `
		UPDATE reservations
		SET status = 'expired', updated_at = now()
		WHERE status = 'reserved' AND reserved_until < $1
		RETURNING `+reservationColumns, now)
	return rows, err
}
