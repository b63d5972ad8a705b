// Package ormtest provides an in-memory orm.Store for tests.
package ormtest

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/danthegoodman1/usedcars/database"
	"github.com/jackc/pgconn"
)

// Store keeps rows in memory. Single-column keys that are not given on insert are assigned
// from a per-table sequence, and a duplicate key fails like a Postgres unique violation;
// predicates support = only.
type Store struct {
	columns map[string][]string
	pks     map[string][]string
	rows    map[string][]database.Record
	seq     map[string]int32
	inserts int
	mu      sync.Mutex
}

func NewStore() *Store {
	return &Store{
		columns: map[string][]string{},
		pks:     map[string][]string{},
		rows:    map[string][]database.Record{},
		seq:     map[string]int32{},
	}
}

// AddTable declares a table. Inserts into undeclared tables fail like a missing relation.
func (m *Store) AddTable(table string, columns, primaryKey []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.columns[table] = columns
	m.pks[table] = primaryKey
}

// Inserts counts successful inserts.
func (m *Store) Inserts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inserts
}

// Rows returns copies of the stored rows in insert order.
func (m *Store) Rows(table string) []database.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]database.Record, 0, len(m.rows[table]))
	for _, r := range m.rows[table] {
		out = append(out, database.NewRecord(r.Columns, r.Values))
	}
	return out
}

func (m *Store) Insert(_ context.Context, table string, columns []string, values []any) (database.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cols, ok := m.columns[table]
	if !ok {
		return database.Record{}, fmt.Errorf("relation %q does not exist", table)
	}
	given := database.NewRecord(columns, values)
	row := database.Record{}
	for _, c := range cols {
		v, ok := given.Get(c)
		if !ok && len(m.pks[table]) == 1 && m.pks[table][0] == c {
			m.seq[table]++
			v = m.seq[table]
		}
		row.Set(c, v)
	}
	if m.hasKey(table, row) {
		return database.Record{}, &pgconn.PgError{
			Code:    "23505",
			Message: fmt.Sprintf("duplicate key value violates unique constraint \"%s_pkey\"", table),
		}
	}
	m.rows[table] = append(m.rows[table], row)
	m.inserts++
	return database.NewRecord(row.Columns, row.Values), nil
}

func (m *Store) Select(_ context.Context, table string, columns []string, where database.Predicate) ([]database.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]database.Record, 0)
	for _, r := range m.rows[table] {
		ok, err := matches(r, where)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, database.NewRecord(r.Columns, r.Values))
		}
	}
	return out, nil
}

func (m *Store) SelectUnique(ctx context.Context, table string, conditions map[string]any) (*database.Record, error) {
	if len(conditions) == 0 {
		return nil, database.ErrEmptyConditions
	}
	rows, _ := m.Select(ctx, table, nil, database.EqualityPredicate(conditions))
	switch len(rows) {
	case 0:
		return nil, nil
	case 1:
		return &rows[0], nil
	}
	return nil, database.ErrAmbiguousResult
}

func (m *Store) SelectByPrimaryKey(ctx context.Context, table string, id any) (*database.Record, error) {
	pk := database.PrimaryKey(m.pks[table])
	vals, err := pk.KeyValues(id)
	if err != nil {
		return nil, err
	}
	where := database.Predicate{}
	for i, c := range pk {
		where = append(where, database.Eq(c, vals[i]))
	}
	rows, _ := m.Select(ctx, table, nil, where)
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (m *Store) UpdateByPrimaryKey(_ context.Context, table string, id any, patch database.Patch) (database.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pk := database.PrimaryKey(m.pks[table])
	vals, err := pk.KeyValues(id)
	if err != nil {
		return database.Record{}, err
	}
	for i, r := range m.rows[table] {
		found := true
		for j, c := range pk {
			v, _ := r.Get(c)
			found = found && sameValue(v, vals[j])
		}
		if !found {
			continue
		}
		n := 0
		for j, c := range patch.Columns {
			if strings.HasPrefix(c, database.PrivateMarker) {
				continue
			}
			m.rows[table][i].Set(c, patch.Values[j])
			n++
		}
		if n == 0 {
			return database.Record{}, database.ErrNoUpdatableColumns
		}
		r = m.rows[table][i]
		return database.NewRecord(r.Columns, r.Values), nil
	}
	return database.Record{}, database.ErrRecordNotFound
}

// hasKey reports whether a stored row of table has the same primary key as row.
func (m *Store) hasKey(table string, row database.Record) bool {
	if len(m.pks[table]) == 0 {
		return false
	}
	for _, r := range m.rows[table] {
		same := true
		for _, c := range m.pks[table] {
			a, _ := r.Get(c)
			b, _ := row.Get(c)
			same = same && sameValue(a, b)
		}
		if same {
			return true
		}
	}
	return false
}

// Get returns column of the i-th stored row of table.
func (m *Store) Get(table string, i int, column string) any {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, _ := m.rows[table][i].Get(column)
	return v
}

func matches(r database.Record, where database.Predicate) (bool, error) {
	for _, c := range where {
		if c.Op != database.OpEq {
			return false, fmt.Errorf("ormtest.Store only supports =, got %s", c.Op)
		}
		v, _ := r.Get(c.Column)
		if !sameValue(v, c.Value) {
			return false, nil
		}
	}
	return true, nil
}

func sameValue(a, b any) bool {
	if ai, ok := asInt(a); ok {
		bi, ok := asInt(b)
		return ok && ai == bi
	}
	if at, ok := a.(time.Time); ok {
		bt, ok := b.(time.Time)
		return ok && at.Equal(bt)
	}
	return reflect.DeepEqual(a, b)
}

func asInt(v any) (int64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), true
	}
	return 0, false
}
