package database

import (
	"context"
	"fmt"
	"strings"
)

const primaryKeyQuery = `SELECT a.attname
FROM pg_index i
JOIN pg_attribute a ON a.attrelid = i.indrelid AND a.attnum = ANY(i.indkey)
WHERE i.indrelid = $1::text::regclass AND i.indisprimary
ORDER BY array_position(i.indkey::int2[], a.attnum)`

type (
	// PrimaryKey lists key columns in catalog order. One column is a plain key, more is a
	// composite key whose values travel as a []any in the same order.
	PrimaryKey []string

	// Patch carries new values for UpdateByPrimaryKey, either as Fields or as parallel
	// Columns/Values, never both.
	Patch struct {
		Fields  map[string]any
		Columns []string
		Values  []any
	}
)

func (pk PrimaryKey) IsComposite() bool {
	return len(pk) > 1
}

// Column is the key column of a single-column key.
func (pk PrimaryKey) Column() string {
	if len(pk) == 0 {
		return ""
	}
	return pk[0]
}

// KeyValues spreads id over the key columns: a scalar for a single column, a []any of
// matching length for a composite key.
func (pk PrimaryKey) KeyValues(id any) ([]any, error) {
	if vals, ok := id.([]any); ok {
		if len(vals) != len(pk) {
			return nil, fmt.Errorf("%w: got %d values for key (%s)", ErrKeyArityMismatch, len(vals), strings.Join(pk, ", "))
		}
		return vals, nil
	}
	if pk.IsComposite() {
		return nil, fmt.Errorf("%w: composite key (%s) needs a []any", ErrKeyArityMismatch, strings.Join(pk, ", "))
	}
	return []any{id}, nil
}

func (pk PrimaryKey) predicate(vals []any) Predicate {
	p := make(Predicate, len(pk))
	for i, c := range pk {
		p[i] = Eq(c, vals[i])
	}
	return p
}

// ResolvePrimaryKey reads the primary key columns of table from pg_index.
func (db *Database) ResolvePrimaryKey(ctx context.Context, table string) (PrimaryKey, error) {
	t, err := quoteTable(table)
	if err != nil {
		return nil, err
	}
	rows, err := db.query(ctx, "primary key lookup", table, primaryKeyQuery, []any{t})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoPrimaryKey, table)
	}
	pk := make(PrimaryKey, len(rows))
	for i, r := range rows {
		pk[i] = fmt.Sprint(r.Values[0])
	}
	return pk, nil
}

// SelectByPrimaryKey returns the row at id, or nil when there is none.
func (db *Database) SelectByPrimaryKey(ctx context.Context, table string, id any) (*Record, error) {
	pk, err := db.ResolvePrimaryKey(ctx, table)
	if err != nil {
		return nil, err
	}
	vals, err := pk.KeyValues(id)
	if err != nil {
		return nil, err
	}
	rows, err := db.Select(ctx, table, nil, pk.predicate(vals))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// UpdateByPrimaryKey applies patch to the row at id and returns the updated row.
func (db *Database) UpdateByPrimaryKey(ctx context.Context, table string, id any, patch Patch) (Record, error) {
	if patch.Fields != nil && (patch.Columns != nil || patch.Values != nil) {
		return Record{}, ErrAmbiguousPatch
	}
	columns, values := patch.Columns, patch.Values
	if patch.Fields != nil {
		p := EqualityPredicate(patch.Fields)
		columns, values = make([]string, len(p)), make([]any, len(p))
		for i, c := range p {
			columns[i], values[i] = c.Column, c.Value
		}
	}
	if err := checkPairs(columns, values); err != nil {
		return Record{}, err
	}

	pk, err := db.ResolvePrimaryKey(ctx, table)
	if err != nil {
		return Record{}, err
	}
	keyVals, err := pk.KeyValues(id)
	if err != nil {
		return Record{}, err
	}
	existing, err := db.Select(ctx, table, pk, pk.predicate(keyVals))
	if err != nil {
		return Record{}, err
	}
	if len(existing) == 0 {
		return Record{}, fmt.Errorf("%w: %s %v", ErrRecordNotFound, table, keyVals)
	}

	columns, values = dropPrivate(columns, values)
	if len(columns) == 0 {
		return Record{}, ErrNoUpdatableColumns
	}
	rows, err := db.Update(ctx, table, columns, values, pk.predicate(keyVals))
	if err != nil {
		return Record{}, err
	}
	if len(rows) == 0 {
		return Record{}, fmt.Errorf("%w: %s %v", ErrRecordNotFound, table, keyVals)
	}
	return rows[0], nil
}

// SelectUnique returns the single row equal to every condition, nil when none matches, and
// ErrAmbiguousResult when more than one does.
func (db *Database) SelectUnique(ctx context.Context, table string, conditions map[string]any) (*Record, error) {
	if len(conditions) == 0 {
		return nil, ErrEmptyConditions
	}
	rows, err := db.Select(ctx, table, nil, EqualityPredicate(conditions))
	if err != nil {
		return nil, err
	}
	switch len(rows) {
	case 0:
		return nil, nil
	case 1:
		return &rows[0], nil
	default:
		return nil, fmt.Errorf("%w: %d rows in %s", ErrAmbiguousResult, len(rows), table)
	}
}
