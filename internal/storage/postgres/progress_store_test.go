package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/zekenewsom/hyperlocal/internal/domain"
	"github.com/zekenewsom/hyperlocal/internal/storage"
	"github.com/zekenewsom/hyperlocal/internal/storage/migrations"
	pgstore "github.com/zekenewsom/hyperlocal/internal/storage/postgres"
)

// setupTestDB creates a PostgreSQL container, applies the embedded schema
// and returns a pool. Returns a cleanup function that must be called after
// tests complete.
func setupTestDB(t *testing.T) (*pgstore.Pool, func()) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:15-alpine",
		tcpostgres.WithDatabase("hyperlocal_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "failed to get connection string")

	pool, err := pgstore.NewPool(ctx, dsn)
	require.NoError(t, err, "failed to create pool")

	require.NoError(t, migrations.RunPostgresMigrations(ctx, pool))

	cleanup := func() {
		pool.Close()
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}
	return pool, cleanup
}

func TestProgressStore_UpsertAndGet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := pgstore.NewProgressStore(pool)

	require.NoError(t, store.UpsertProgress(ctx, &domain.BackfillProgress{
		Venue: domain.VenueHyperliquid, Symbol: "BTC", Interval: domain.Interval1m,
		WindowsPlanned: 10, WindowsDone: 3, RowsWritten: 9000,
	}))
	require.NoError(t, store.UpsertProgress(ctx, &domain.BackfillProgress{
		Venue: domain.VenueHyperliquid, Symbol: "ETH", Interval: domain.Interval1m,
		WindowsPlanned: 10, WindowsDone: 10, RowsWritten: 30000,
	}))

	got, err := store.GetProgress(ctx, domain.VenueHyperliquid)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "BTC", got[0].Symbol)
	require.Equal(t, 3, got[0].WindowsDone)
	require.Equal(t, "ETH", got[1].Symbol)
	require.Equal(t, 30000, got[1].RowsWritten)
}

func TestProgressStore_UpsertReplacesExistingRow(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := pgstore.NewProgressStore(pool)

	p := &domain.BackfillProgress{
		Venue: domain.VenueHyperliquid, Symbol: "BTC", Interval: domain.Interval1m,
		WindowsPlanned: 10, WindowsDone: 1, RowsWritten: 3000,
	}
	require.NoError(t, store.UpsertProgress(ctx, p))

	p.WindowsDone = 10
	p.RowsWritten = 30000
	require.NoError(t, store.UpsertProgress(ctx, p))

	got, err := store.GetProgress(ctx, domain.VenueHyperliquid)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, 10, got[0].WindowsDone)
	require.Equal(t, 30000, got[0].RowsWritten)
}

func TestProgressStore_VenueIsolation(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := pgstore.NewProgressStore(pool)

	require.NoError(t, store.UpsertProgress(ctx, &domain.BackfillProgress{
		Venue: domain.VenueHyperliquid, Symbol: "BTC", Interval: domain.Interval1m,
		WindowsPlanned: 5, WindowsDone: 5, RowsWritten: 15000,
	}))
	require.NoError(t, store.UpsertProgress(ctx, &domain.BackfillProgress{
		Venue: domain.VenueBinance, Symbol: "BTC", Interval: domain.Interval1m,
		WindowsPlanned: 2, WindowsDone: 2, RowsWritten: 2000,
	}))

	primary, err := store.GetProgress(ctx, domain.VenueHyperliquid)
	require.NoError(t, err)
	require.Len(t, primary, 1)
	require.Equal(t, 15000, primary[0].RowsWritten)

	secondary, err := store.GetProgress(ctx, domain.VenueBinance)
	require.NoError(t, err)
	require.Len(t, secondary, 1)
	require.Equal(t, 2000, secondary[0].RowsWritten)
}

func TestProgressStore_InvalidInput(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := pgstore.NewProgressStore(pool)
	require.ErrorIs(t, store.UpsertProgress(context.Background(), nil), storage.ErrInvalidInput)
	require.ErrorIs(t, store.UpsertProgress(context.Background(), &domain.BackfillProgress{
		Venue: domain.VenueHyperliquid, Symbol: "", Interval: domain.Interval1m,
	}), storage.ErrInvalidInput)
}
