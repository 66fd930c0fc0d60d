// Package reservation implements the Resource-Reservation Engine (spec.md
// §4.4): idempotency → distributed lock → transactional row-locked check →
// cache invalidation → bus publish.
package reservation

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/fntelecomllc/writepath/internal/availability"
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

// CreateParams are the validated inputs to CreateReservation.
type CreateParams struct {
	UserID     uuid.UUID `validate:"required"`
	ResourceID uuid.UUID `validate:"required"`
	CheckIn    time.Time `validate:"required"`
	CheckOut   time.Time `validate:"required"`
	RoomCount  int       `validate:"required,gte=1"`
	GuestCount int       `validate:"gte=0"`
	ClientKey  string
}

func (p CreateParams) validate() error {
	if err := validation.Struct(p); err != nil {
		return corerr.New(corerr.BadRequest, err)
	}
	if !p.CheckOut.After(p.CheckIn) {
		return corerr.Newf(corerr.BadRequest, "checkOut must be after checkIn")
	}
	return nil
}

// Engine is the Resource-Reservation Engine.
type Engine struct {
	db           *postgres.TransactionManager
	dbQuerier    store.Querier
	resources    store.ResourceStore
	reservations store.ReservationStore
	avail        *availability.Calculator
	locks        *lock.Manager
	idem         *idempotency.Cache
	kv           *kv.Client
	holdDuration time.Duration
	log          *logging.Logger
}

// New wires an Engine from its collaborators. dbQuerier is the *sqlx.DB
// used for reads that don't need a transaction; db drives the transactional
// write path.
func New(
	db *postgres.TransactionManager,
	dbQuerier store.Querier,
	resources store.ResourceStore,
	reservations store.ReservationStore,
	avail *availability.Calculator,
	locks *lock.Manager,
	idem *idempotency.Cache,
	kvClient *kv.Client,
	holdDuration time.Duration,
) *Engine {
	return &Engine{
		db: db, dbQuerier: dbQuerier, resources: resources, reservations: reservations,
		avail: avail, locks: locks, idem: idem, kv: kvClient, holdDuration: holdDuration,
		log: logging.New("reservation"),
	}
}

func lockKeyFor(p CreateParams) string {
	return fmt.Sprintf("resource:%s:%s:%s", p.ResourceID, p.CheckIn.Format("2006-01-02"), p.CheckOut.Format("2006-01-02"))
}

// CreateReservation runs the full §4.4 protocol.
func (e *Engine) CreateReservation(ctx context.Context, p CreateParams) (*models.Reservation, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	key := idempotency.DeriveKey(p.ClientKey, p.UserID.String(), p.ResourceID.String(),
		p.CheckIn.Format("2006-01-02"), p.CheckOut.Format("2006-01-02"), fmt.Sprintf("%d", p.RoomCount))

	outcome, err := e.idem.Reserve(ctx, key)
	if err != nil {
		return nil, corerr.New(corerr.Internal, err)
	}
	switch outcome.State {
	case idempotency.Completed:
		existing, gerr := e.reservations.GetByIdempotencyKey(ctx, e.dbQuerier, key)
		if gerr != nil {
			return nil, corerr.New(corerr.Internal, gerr)
		}
		return existing, nil
	case idempotency.InProgress:
		return nil, corerr.Newf(corerr.Conflict, "reservation request already in progress")
	}

	var created *models.Reservation
	opErr := e.locks.WithLock(ctx, lockKeyFor(p), lock.DefaultOptions(), func(ctx context.Context) error {
		return e.db.WithTx(ctx, &sql.TxOptions{}, "create_reservation", func(ctx context.Context, tx *sqlx.Tx) error {
			resource, rerr := e.resources.LockForUpdate(ctx, tx, p.ResourceID)
			if rerr != nil {
				return rerr
			}
			if !resource.Active {
				return corerr.Newf(corerr.BadRequest, "resource is not active")
			}

			daily, derr := e.reservations.DailyActiveRoomCounts(ctx, tx, p.ResourceID, p.CheckIn, p.CheckOut)
			if derr != nil {
				return derr
			}
			maxBooked := 0
			for _, n := range daily {
				if n > maxBooked {
					maxBooked = n
				}
			}
			available := resource.TotalCount - maxBooked
			if available < p.RoomCount {
				if available < 0 {
					available = 0
				}
				return corerr.WrapUnavailable(available)
			}

			overrides, oerr := e.resources.PriceOverridesInRange(ctx, tx, p.ResourceID, p.CheckIn, p.CheckOut)
			if oerr != nil {
				return oerr
			}
			byDate := make(map[time.Time]int64, len(overrides))
			for _, o := range overrides {
				byDate[o.Date] = o.Price
			}
			var total int64
			for d := p.CheckIn; d.Before(p.CheckOut); d = d.AddDate(0, 0, 1) {
				price := resource.BasePrice
				if pr, ok := byDate[d]; ok {
					price = pr
				}
				total += price
			}
			total *= int64(p.RoomCount)

			now := time.Now().UTC()
			r := &models.Reservation{
				ID:             uuid.New(),
				UserID:         p.UserID,
				ResourceID:     p.ResourceID,
				CheckIn:        p.CheckIn,
				CheckOut:       p.CheckOut,
				RoomCount:      p.RoomCount,
				GuestCount:     p.GuestCount,
				TotalPrice:     total,
				Status:         models.ReservationReserved,
				IdempotencyKey: key,
				ReservedUntil:  now.Add(e.holdDuration),
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			if cerr := e.reservations.Create(ctx, tx, r); cerr != nil {
				return cerr
			}
			created = r
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

	if invErr := e.avail.InvalidateReservation(ctx, created); invErr != nil {
		e.log.Warn(ctx, "invalidate_after_create", map[string]interface{}{"error": invErr.Error()})
	}

	e.publish(ctx, created.ResourceID, "reservation_created", created)

	if pubErr := e.idem.PublishJSON(ctx, key, created); pubErr != nil {
		e.log.Warn(ctx, "idempotency_publish_failed", map[string]interface{}{"error": pubErr.Error()})
	}

	return created, nil
}

// Confirm transitions a reservation from reserved to confirmed.
func (e *Engine) Confirm(ctx context.Context, id uuid.UUID, paymentID string) (*models.Reservation, error) {
	r, err := e.reservations.Confirm(ctx, e.dbQuerier, id, paymentID)
	if err == store.ErrNotFound {
		return nil, corerr.Newf(corerr.Conflict, "reservation %s is not in a confirmable state", id)
	}
	if err != nil {
		return nil, corerr.New(corerr.Internal, err)
	}
	e.publish(ctx, r.ResourceID, "reservation_confirmed", r)
	return r, nil
}

// Cancel transitions a reservation from reserved or confirmed to cancelled,
// freeing its inventory.
func (e *Engine) Cancel(ctx context.Context, id uuid.UUID) (*models.Reservation, error) {
	r, err := e.reservations.Cancel(ctx, e.dbQuerier, id)
	if err == store.ErrNotFound {
		return nil, corerr.Newf(corerr.Conflict, "reservation %s is not cancellable", id)
	}
	if err != nil {
		return nil, corerr.New(corerr.Internal, err)
	}
	if invErr := e.avail.InvalidateReservation(ctx, r); invErr != nil {
		e.log.Warn(ctx, "invalidate_after_cancel", map[string]interface{}{"error": invErr.Error()})
	}
	e.publish(ctx, r.ResourceID, "reservation_cancelled", r)
	return r, nil
}

// ExpireStale implements I5: flips every past-deadline reserved row to
// expired and invalidates the affected availability cache entries. Intended
// to run on the background sweep (default every 60s).
func (e *Engine) ExpireStale(ctx context.Context) (int, error) {
	rows, err := e.reservations.ExpireStale(ctx, e.dbQuerier, time.Now().UTC())
	if err != nil {
		return 0, corerr.New(corerr.Internal, err)
	}
	for i := range rows {
		r := rows[i]
		if invErr := e.avail.InvalidateReservation(ctx, &r); invErr != nil {
			e.log.Warn(ctx, "invalidate_after_expire", map[string]interface{}{"reservation": r.ID.String(), "error": invErr.Error()})
		}
		e.publish(ctx, r.ResourceID, "reservation_expired", &r)
	}
	return len(rows), nil
}

// publish is fire-and-forget per spec.md §5 — a failed publish is logged
// and does not roll back the already-committed state change.
func (e *Engine) publish(ctx context.Context, resourceID uuid.UUID, eventType string, payload interface{}) {
	if e.kv == nil {
		return
	}
	data, err := events.Marshal(eventType, payload)
	if err != nil {
		e.log.Warn(ctx, "publish_marshal_failed", map[string]interface{}{"error": err.Error()})
		return
	}
	if err := e.kv.Publish(ctx, "resource:"+resourceID.String(), data); err != nil {
		e.log.Warn(ctx, "publish_failed", map[string]interface{}{"error": err.Error()})
	}
}
