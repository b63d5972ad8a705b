package database

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgproto3/v2"
	"github.com/jackc/pgx/v4"
)

type fakeRows struct {
	fields []pgproto3.FieldDescription
	rows   [][]any
	idx    int
	err    error
	closed bool
}

func result(columns []string, rows ...[]any) *fakeRows {
	fields := make([]pgproto3.FieldDescription, len(columns))
	for i, c := range columns {
		fields[i] = pgproto3.FieldDescription{Name: []byte(c)}
	}
	return &fakeRows{fields: fields, rows: rows}
}

func failing(err error) *fakeRows {
	return &fakeRows{err: err}
}

func (r *fakeRows) Close()                                         { r.closed = true }
func (r *fakeRows) Err() error                                     { return r.err }
func (r *fakeRows) CommandTag() pgconn.CommandTag                  { return nil }
func (r *fakeRows) FieldDescriptions() []pgproto3.FieldDescription { return r.fields }
func (r *fakeRows) RawValues() [][]byte                            { return nil }

func (r *fakeRows) Next() bool {
	if r.err != nil || r.idx >= len(r.rows) {
		return false
	}
	r.idx++
	return true
}

func (r *fakeRows) Scan(...interface{}) error {
	return errors.New("fakeRows does not support Scan")
}

func (r *fakeRows) Values() ([]interface{}, error) {
	return append([]any(nil), r.rows[r.idx-1]...), nil
}

type call struct {
	sql  string
	args []any
}

// fakeQuerier answers primary key lookups from pks and everything else from respond.
type fakeQuerier struct {
	pks     map[string][]string
	respond func(sql string, args []any) *fakeRows
	calls   []call
	last    *fakeRows
}

func newFakeQuerier() *fakeQuerier {
	return &fakeQuerier{pks: map[string][]string{}}
}

func (f *fakeQuerier) Query(_ context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	f.calls = append(f.calls, call{sql: sql, args: args})
	var rows *fakeRows
	switch {
	case strings.Contains(sql, "pg_index"):
		cols := f.pks[args[0].(string)]
		vals := make([][]any, len(cols))
		for i, c := range cols {
			vals[i] = []any{c}
		}
		rows = result([]string{"attname"}, vals...)
	case f.respond != nil:
		rows = f.respond(sql, args)
	default:
		rows = result(nil)
	}
	f.last = rows
	return rows, nil
}

// statements returns every non catalog statement issued so far.
func (f *fakeQuerier) statements() []call {
	out := make([]call, 0, len(f.calls))
	for _, c := range f.calls {
		if !strings.Contains(c.sql, "pg_index") {
			out = append(out, c)
		}
	}
	return out
}
