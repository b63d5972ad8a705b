package crdb

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/jackc/pgx/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnString(t *testing.T) {
	cfg := Config{Database: "cars", User: "app", Password: "p@ss", Host: "db", Port: "26257"}
	assert.Equal(t, "postgres://app:p%40ss@db:26257/cars", cfg.ConnString())

	cfg.DSN = "postgres://x@elsewhere/other"
	assert.Equal(t, "postgres://x@elsewhere/other", cfg.ConnString())
}

func TestWithDatabase(t *testing.T) {
	cfg := Config{Database: "cars", User: "app", Host: "db", Port: "5432"}
	admin := cfg.WithDatabase("postgres")
	assert.Equal(t, "postgres", admin.Database)
	assert.Equal(t, "cars", cfg.Database)
	assert.Equal(t, "postgres://app:@db:5432/postgres", admin.ConnString())

	cfg.DSN = "postgres://app@db:5432/cars?sslmode=disable"
	assert.Equal(t, "postgres://app@db:5432/postgres?sslmode=disable", cfg.WithDatabase("postgres").ConnString())
}

func TestClosedConn(t *testing.T) {
	ctx := context.Background()
	c := &Conn{}
	assert.True(t, c.Closed())
	_, err := c.Query(ctx, "SELECT 1")
	assert.ErrorIs(t, err, ErrConnClosed)
	assert.ErrorIs(t, c.SerializableTx(ctx, func(pgx.Tx) error { return nil }), ErrConnClosed)
	assert.NoError(t, c.Close(ctx))
	assert.NoError(t, c.Commit(ctx))
	assert.NoError(t, c.Rollback(ctx))
}

func testConfig(t *testing.T) Config {
	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		t.Skip("TEST_DB_DSN not set")
	}
	return Config{DSN: dsn}
}

func TestFactory(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()
	f := NewFactory(cfg)
	t.Cleanup(func() { f.Reset(ctx) })

	a, err := f.Shared(ctx)
	require.NoError(t, err)
	b, err := f.Shared(ctx)
	require.NoError(t, err)
	assert.Same(t, a, b)

	iso, err := f.Isolated(ctx)
	require.NoError(t, err)
	defer iso.Close(ctx)
	assert.NotSame(t, a, iso)

	require.NoError(t, f.Reset(ctx))
	assert.True(t, a.Closed())
	c, err := f.Shared(ctx)
	require.NoError(t, err)
	assert.NotSame(t, a, c)
}

func TestConnTransaction(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()
	conn, err := Connect(ctx, cfg)
	require.NoError(t, err)
	defer conn.Close(ctx)

	rows, err := conn.Query(ctx, "SELECT 1")
	require.NoError(t, err)
	rows.Close()
	assert.True(t, conn.InTx())
	assert.ErrorIs(t, conn.SerializableTx(ctx, func(pgx.Tx) error { return nil }), ErrTxInProgress)

	require.NoError(t, conn.Rollback(ctx))
	assert.False(t, conn.InTx())

	boom := errors.New("boom")
	assert.ErrorIs(t, conn.SerializableTx(ctx, func(pgx.Tx) error { return boom }), boom)
}
