package database

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgconn"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var siteColumns = []string{"site_id", "name", "base_url"}

func TestInsertReturnsRow(t *testing.T) {
	q := newFakeQuerier()
	q.respond = func(sql string, args []any) *fakeRows {
		return result(siteColumns, []any{int32(1), args[0], args[1]})
	}
	db := New(q)

	rec, err := db.Insert(context.Background(), "sites", []string{"name", "_internal_col", "base_url"}, []any{"sitio1", "secret", "www.sitio1.com"})
	require.NoError(t, err)

	id, ok := rec.Get("site_id")
	assert.True(t, ok)
	assert.Equal(t, int32(1), id)
	name, _ := rec.Get("name")
	assert.Equal(t, "sitio1", name)
	_, ok = rec.Get("_internal_col")
	assert.False(t, ok)
	assert.True(t, q.last.closed)
}

func TestInsertWithoutReturnedRow(t *testing.T) {
	db := New(newFakeQuerier())
	_, err := db.Insert(context.Background(), "sites", []string{"name"}, []any{"x"})
	assert.ErrorIs(t, err, ErrInsertFailed)
}

func TestStoreErrorsPropagate(t *testing.T) {
	q := newFakeQuerier()
	q.respond = func(string, []any) *fakeRows {
		return failing(&pgconn.PgError{Code: "23505", Message: "duplicate key value"})
	}
	db := New(q)

	_, err := db.Insert(context.Background(), "sites", []string{"name"}, []any{"x"})
	require.Error(t, err)
	assert.True(t, IsUniqueViolation(err))
	var pgErr *pgconn.PgError
	assert.True(t, errors.As(err, &pgErr))
	assert.True(t, q.last.closed)

	assert.False(t, IsUniqueViolation(errors.New("other")))
}

func TestDeleteWithoutPredicateRunsNothing(t *testing.T) {
	q := newFakeQuerier()
	db := New(q)
	for _, table := range []string{"sites", "brands", "listings"} {
		_, err := db.Delete(context.Background(), table, nil)
		assert.ErrorIs(t, err, ErrUnsafeDeleteRejected)
	}
	assert.Empty(t, q.calls)
}

func TestDeleteReturnsRemovedRows(t *testing.T) {
	q := newFakeQuerier()
	q.respond = func(string, []any) *fakeRows {
		return result(siteColumns, []any{int32(2), "b", "u2"}, []any{int32(3), "c", "u3"})
	}
	db := New(q)

	where, err := NewPredicate([]string{"site_id"}, []string{">"}, []any{1})
	require.NoError(t, err)
	deleted, err := db.Delete(context.Background(), "sites", where)
	require.NoError(t, err)
	assert.Len(t, deleted, 2)
	assert.True(t, strings.HasPrefix(q.calls[0].sql, `DELETE FROM "sites"`))
}

func TestResolvePrimaryKey(t *testing.T) {
	q := newFakeQuerier()
	q.pks[`"sites"`] = []string{"site_id"}
	q.pks[`"listing_observations"`] = []string{"listing_id", "scrape_run_id"}
	db := New(q)
	ctx := context.Background()

	pk, err := db.ResolvePrimaryKey(ctx, "sites")
	require.NoError(t, err)
	assert.False(t, pk.IsComposite())
	assert.Equal(t, "site_id", pk.Column())

	pk, err = db.ResolvePrimaryKey(ctx, "listing_observations")
	require.NoError(t, err)
	assert.True(t, pk.IsComposite())
	assert.Equal(t, PrimaryKey{"listing_id", "scrape_run_id"}, pk)

	_, err = db.ResolvePrimaryKey(ctx, "no_key")
	assert.ErrorIs(t, err, ErrNoPrimaryKey)
}

func TestSelectByPrimaryKey(t *testing.T) {
	q := newFakeQuerier()
	q.pks[`"sites"`] = []string{"site_id"}
	q.pks[`"listing_observations"`] = []string{"listing_id", "scrape_run_id"}
	q.respond = func(sql string, args []any) *fakeRows {
		if args[0] == 404 {
			return result(siteColumns)
		}
		return result([]string{"listing_id", "scrape_run_id", "price"}, []any{args[0], args[1], 100})
	}
	db := New(q)
	ctx := context.Background()

	rec, err := db.SelectByPrimaryKey(ctx, "sites", 404)
	require.NoError(t, err)
	assert.Nil(t, rec)

	rec, err = db.SelectByPrimaryKey(ctx, "listing_observations", []any{5, 9})
	require.NoError(t, err)
	require.NotNil(t, rec)
	price, _ := rec.Get("price")
	assert.Equal(t, 100, price)

	last := q.statements()[1]
	assert.Equal(t, `SELECT * FROM "listing_observations" WHERE "listing_id" = $1 AND "scrape_run_id" = $2`, last.sql)
	assert.Equal(t, []any{5, 9}, last.args)

	_, err = db.SelectByPrimaryKey(ctx, "listing_observations", 5)
	assert.ErrorIs(t, err, ErrKeyArityMismatch)
	_, err = db.SelectByPrimaryKey(ctx, "listing_observations", []any{5})
	assert.ErrorIs(t, err, ErrKeyArityMismatch)
}

func TestUpdateByPrimaryKey(t *testing.T) {
	q := newFakeQuerier()
	q.pks[`"sites"`] = []string{"site_id"}
	q.respond = func(sql string, args []any) *fakeRows {
		switch {
		case strings.HasPrefix(sql, "SELECT") && args[0] == 404:
			return result([]string{"site_id"})
		case strings.HasPrefix(sql, "SELECT"):
			return result([]string{"site_id"}, []any{args[0]})
		default:
			return result(siteColumns, []any{args[len(args)-1], args[0], args[1]})
		}
	}
	db := New(q)
	ctx := context.Background()

	_, err := db.UpdateByPrimaryKey(ctx, "sites", 404, Patch{Fields: map[string]any{"name": "x"}})
	assert.ErrorIs(t, err, ErrRecordNotFound)

	_, err = db.UpdateByPrimaryKey(ctx, "sites", 1, Patch{Fields: map[string]any{"_secret": "x"}})
	assert.ErrorIs(t, err, ErrNoUpdatableColumns)

	_, err = db.UpdateByPrimaryKey(ctx, "sites", 1, Patch{Fields: map[string]any{"name": "x"}, Columns: []string{"name"}, Values: []any{"y"}})
	assert.ErrorIs(t, err, ErrAmbiguousPatch)

	_, err = db.UpdateByPrimaryKey(ctx, "sites", 1, Patch{Columns: []string{"name"}})
	assert.ErrorIs(t, err, ErrColumnValueMismatch)

	rec, err := db.UpdateByPrimaryKey(ctx, "sites", 1, Patch{Fields: map[string]any{"name": "n", "base_url": "u", "_skip": 1}})
	require.NoError(t, err)
	stmts := q.statements()
	last := stmts[len(stmts)-1]
	assert.Equal(t, `UPDATE "sites" SET "base_url" = $1, "name" = $2 WHERE "site_id" = $3 RETURNING *`, last.sql)
	assert.Equal(t, []any{"u", "n", 1}, last.args)
	id, _ := rec.Get("site_id")
	assert.Equal(t, 1, id)

	_, err = db.UpdateByPrimaryKey(ctx, "sites", 1, Patch{Columns: []string{"name"}, Values: []any{"p"}})
	require.NoError(t, err)
}

func TestSelectUnique(t *testing.T) {
	q := newFakeQuerier()
	q.respond = func(sql string, args []any) *fakeRows {
		switch args[0] {
		case "none":
			return result(siteColumns)
		case "one":
			return result(siteColumns, []any{int32(1), "one", "u"})
		default:
			return result(siteColumns, []any{int32(1), "many", "u"}, []any{int32(2), "many", "u"})
		}
	}
	db := New(q)
	ctx := context.Background()

	_, err := db.SelectUnique(ctx, "sites", nil)
	assert.ErrorIs(t, err, ErrEmptyConditions)
	assert.Empty(t, q.calls)

	rec, err := db.SelectUnique(ctx, "sites", map[string]any{"name": "none"})
	require.NoError(t, err)
	assert.Nil(t, rec)

	rec, err = db.SelectUnique(ctx, "sites", map[string]any{"name": "one", "base_url": nil})
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, `SELECT * FROM "sites" WHERE "base_url" IS NULL AND "name" = $1`, q.calls[len(q.calls)-1].sql)

	_, err = db.SelectUnique(ctx, "sites", map[string]any{"name": "many"})
	assert.ErrorIs(t, err, ErrAmbiguousResult)
}

func TestSelectKeepsColumnOrder(t *testing.T) {
	q := newFakeQuerier()
	q.respond = func(string, []any) *fakeRows {
		return result([]string{"name", "site_id"}, []any{"a", int32(1)}, []any{"b", int32(2)})
	}
	db := New(q)

	rows, err := db.Select(context.Background(), "sites", SplitColumns("name, site_id"), nil)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"name", "site_id"}, rows[0].Columns)
	assert.Equal(t, []any{"b", int32(2)}, rows[1].Values)
}

func TestStatementsLogThroughContextLogger(t *testing.T) {
	prev := zerolog.GlobalLevel()
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	t.Cleanup(func() { zerolog.SetGlobalLevel(prev) })

	var buf bytes.Buffer
	reqLogger := zerolog.New(&buf).With().Str("reqID", "req-1").Logger()
	ctx := reqLogger.WithContext(context.Background())

	_, err := New(newFakeQuerier()).Select(ctx, "sites", nil, nil)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `"reqID":"req-1"`)
	assert.Contains(t, buf.String(), "executing statement")

	// without a logger in ctx the package logger is used
	assert.Same(t, &logger, statementLogger(context.Background()))
}
