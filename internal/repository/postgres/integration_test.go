//go:build integration

package postgres_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/dtroode/staffsync/internal/model"
	repo "github.com/dtroode/staffsync/internal/repository/postgres"
	"github.com/dtroode/staffsync/internal/repository/storetest"
	"github.com/dtroode/staffsync/internal/testutil"
)

var dsn string

func TestMain(m *testing.M) {
	ctx := context.Background()
	container, err := tcpostgres.Run(ctx, "postgres:15-alpine",
		tcpostgres.WithDatabase("staffsync_test"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("password"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		panic(err)
	}
	dsn, err = container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		panic(err)
	}

	code := m.Run()
	_ = tc.TerminateContainer(container)
	os.Exit(code)
}

func TestStore_Contract(t *testing.T) {
	ctx := context.Background()
	conn, err := repo.NewConnection(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	storetest.Run(t, func(t *testing.T) model.RemoteStore {
		_, err := conn.Exec(ctx, `TRUNCATE nodes`)
		require.NoError(t, err)
		return repo.NewStore(conn, testutil.MakeNoopLogger())
	})
}

func TestConnection_MigrationsAreIdempotent(t *testing.T) {
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		conn, err := repo.NewConnection(ctx, dsn)
		require.NoError(t, err)
		require.NoError(t, conn.Ping(ctx))
		require.NoError(t, conn.Close())
	}
}

func TestStore_SubscriptionEndsWhenConnectionIsTerminated(t *testing.T) {
	ctx := context.Background()
	conn, err := repo.NewConnection(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	store := repo.NewStore(conn, testutil.MakeNoopLogger())
	rec := storetest.NewRecorder()
	sub, err := store.Subscribe(ctx, model.EmployeesPath, rec.OnSnapshot, rec.OnError)
	require.NoError(t, err)
	t.Cleanup(sub.Unsubscribe)
	rec.Next(t)

	_, err = conn.Exec(ctx, `
		SELECT pg_terminate_backend(pid) FROM pg_stat_activity
		WHERE query LIKE 'LISTEN%' AND pid <> pg_backend_pid()`)
	require.NoError(t, err)

	require.Error(t, rec.Err(t))
}
