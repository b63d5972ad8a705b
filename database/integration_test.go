package database

import (
	"context"
	"os"
	"testing"

	"github.com/danthegoodman1/usedcars/crdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var integrationSchema = []string{`
CREATE TEMP TABLE sites (
	site_id    SERIAL PRIMARY KEY,
	name       TEXT NOT NULL,
	base_url   TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ
)`, `
CREATE TEMP TABLE observations (
	listing_id    BIGINT NOT NULL,
	scrape_run_id BIGINT NOT NULL,
	price         BIGINT,
	PRIMARY KEY (listing_id, scrape_run_id)
)`}

// openTestDB connects to TEST_DB_DSN and creates temp tables that disappear with the
// rolled back transaction.
func openTestDB(t *testing.T) *Database {
	t.Helper()
	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		t.Skip("TEST_DB_DSN not set")
	}
	ctx := context.Background()
	conn, err := crdb.Connect(ctx, crdb.Config{DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = conn.Rollback(ctx)
		_ = conn.Close(ctx)
	})

	for _, stmt := range integrationSchema {
		rows, err := conn.Query(ctx, stmt)
		require.NoError(t, err)
		rows.Close()
		require.NoError(t, rows.Err())
	}
	return New(conn)
}

func TestIntegrationInsertSelectByKey(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	inserted, err := db.Insert(ctx, "sites", []string{"name", "base_url"}, []any{"sitio1", "www.sitio1.com"})
	require.NoError(t, err)
	id, ok := inserted.Get("site_id")
	require.True(t, ok)

	found, err := db.SelectByPrimaryKey(ctx, "sites", id)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, inserted.Map(), found.Map())
	createdAt, _ := found.Get("created_at")
	assert.NotNil(t, createdAt)
}

func TestIntegrationCompositeKey(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	pk, err := db.ResolvePrimaryKey(ctx, "observations")
	require.NoError(t, err)
	assert.Equal(t, PrimaryKey{"listing_id", "scrape_run_id"}, pk)

	_, err = db.Insert(ctx, "observations", []string{"listing_id", "scrape_run_id", "price"}, []any{int64(10), int64(20), int64(9900)})
	require.NoError(t, err)

	found, err := db.SelectByPrimaryKey(ctx, "observations", []any{int64(10), int64(20)})
	require.NoError(t, err)
	require.NotNil(t, found)
	price, _ := found.Get("price")
	assert.Equal(t, int64(9900), price)
}

func TestIntegrationUpdateDeleteUnique(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	var ids []any
	for _, n := range []string{"sitio1", "sitio2", "sitio3"} {
		r, err := db.Insert(ctx, "sites", []string{"name", "base_url"}, []any{n, "www." + n + ".com"})
		require.NoError(t, err)
		id, _ := r.Get("site_id")
		ids = append(ids, id)
	}

	updated, err := db.Update(ctx, "sites", []string{"name"}, []any{"sitio2_nuevo"}, Predicate{Eq("site_id", ids[1])})
	require.NoError(t, err)
	require.Len(t, updated, 1)
	name, _ := updated[0].Get("name")
	assert.Equal(t, "sitio2_nuevo", name)

	_, err = db.Insert(ctx, "sites", []string{"name", "base_url"}, []any{"sitio1", "www.sitio1.com"})
	require.NoError(t, err)
	_, err = db.SelectUnique(ctx, "sites", map[string]any{"name": "sitio1"})
	assert.ErrorIs(t, err, ErrAmbiguousResult)

	deleted, err := db.Delete(ctx, "sites", Predicate{{Column: "site_id", Op: OpGt, Value: ids[2]}})
	require.NoError(t, err)
	assert.Len(t, deleted, 1)

	_, err = db.UpdateByPrimaryKey(ctx, "sites", int32(-1), Patch{Fields: map[string]any{"name": "x"}})
	assert.ErrorIs(t, err, ErrRecordNotFound)
	_, err = db.UpdateByPrimaryKey(ctx, "sites", ids[0], Patch{Fields: map[string]any{"_only": "x"}})
	assert.ErrorIs(t, err, ErrNoUpdatableColumns)
}
