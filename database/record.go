package database

import (
	"github.com/jackc/pgtype"
)

// Record is one row as an ordered column -> value mapping.
type Record struct {
	Columns []string
	Values  []any
}

func NewRecord(columns []string, values []any) Record {
	r := Record{
		Columns: make([]string, len(columns)),
		Values:  make([]any, len(values)),
	}
	copy(r.Columns, columns)
	copy(r.Values, values)
	return r
}

// Get returns the value stored for column and whether the column is present at all.
func (r Record) Get(column string) (any, bool) {
	for i, c := range r.Columns {
		if c == column {
			return r.Values[i], true
		}
	}
	return nil, false
}

// Set replaces the value for column, appending the column if it is not present.
func (r *Record) Set(column string, value any) {
	for i, c := range r.Columns {
		if c == column {
			r.Values[i] = value
			return
		}
	}
	r.Columns = append(r.Columns, column)
	r.Values = append(r.Values, value)
}

// Without returns a copy of the record minus the given columns.
func (r Record) Without(columns ...string) Record {
	out := Record{}
	for i, c := range r.Columns {
		if containsColumn(columns, c) {
			continue
		}
		out.Columns = append(out.Columns, c)
		out.Values = append(out.Values, r.Values[i])
	}
	return out
}

func (r Record) Len() int {
	return len(r.Columns)
}

func (r Record) Map() map[string]any {
	m := make(map[string]any, len(r.Columns))
	for i, c := range r.Columns {
		m[c] = r.Values[i]
	}
	return m
}

// normalizeValue flattens pgx values that callers should not need to know about.
func normalizeValue(v any) any {
	switch n := v.(type) {
	case pgtype.Numeric:
		return numericToFloat(&n)
	case *pgtype.Numeric:
		return numericToFloat(n)
	}
	return v
}

func numericToFloat(n *pgtype.Numeric) any {
	if n == nil || n.Status != pgtype.Present {
		return nil
	}
	var f float64
	if err := n.AssignTo(&f); err != nil {
		return *n
	}
	return f
}

func containsColumn(columns []string, column string) bool {
	for _, c := range columns {
		if c == column {
			return true
		}
	}
	return false
}
