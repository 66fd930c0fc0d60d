package postgres

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/fntelecomllc/writepath/internal/models"
	"github.com/fntelecomllc/writepath/internal/store"
)

func newTestDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	return sqlx.NewDb(sqlDB, "postgres"), mock
}

func TestResourceStoreGetByIDReturnsRow(t *testing.T) {
	db, mock := newTestDB(t)
	s := NewResourceStore()

	id := uuid.New()
	owner := uuid.New()
	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "owner_id", "total_count", "base_price", "active", "created_at", "updated_at"}).
		AddRow(id, owner, 5, int64(10000), true, now, now)
	mock.ExpectQuery("SELECT id, owner_id, total_count, base_price, active, created_at, updated_at FROM resources WHERE id = \\$1").
		WithArgs(id).
		WillReturnRows(rows)

	r, err := s.GetByID(context.Background(), db, id)
	require.NoError(t, err)
	require.Equal(t, id, r.ID)
	require.Equal(t, 5, r.TotalCount)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResourceStoreGetByIDTranslatesNoRowsToErrNotFound(t *testing.T) {
	db, mock := newTestDB(t)
	s := NewResourceStore()

	id := uuid.New()
	emptyRows := sqlmock.NewRows([]string{"id", "owner_id", "total_count", "base_price", "active", "created_at", "updated_at"})
	mock.ExpectQuery("SELECT id, owner_id, total_count, base_price, active, created_at, updated_at FROM resources WHERE id = \\$1").
		WithArgs(id).
		WillReturnRows(emptyRows)

	_, err := s.GetByID(context.Background(), db, id)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestResourceStoreUpsertPriceOverrideTranslatesUniqueViolation(t *testing.T) {
	db, mock := newTestDB(t)
	s := NewResourceStore()

	mock.ExpectExec("INSERT INTO price_overrides").
		WillReturnError(&pq.Error{Code: "23505"})

	po := &models.PriceOverride{ResourceID: uuid.New(), Date: time.Now().UTC(), Price: 1500}
	err := s.UpsertPriceOverride(context.Background(), db, po)
	require.ErrorIs(t, err, store.ErrDuplicateKey)
}
