package orm

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/danthegoodman1/usedcars/database"
	"github.com/danthegoodman1/usedcars/gologger"
	"github.com/jackc/pgx/v4"
)

var logger = gologger.NewComponentLogger("orm")

type (
	// Store is the part of database.Database the lifecycle layer needs.
	Store interface {
		Insert(ctx context.Context, table string, columns []string, values []any) (database.Record, error)
		Select(ctx context.Context, table string, columns []string, where database.Predicate) ([]database.Record, error)
		SelectUnique(ctx context.Context, table string, conditions map[string]any) (*database.Record, error)
		SelectByPrimaryKey(ctx context.Context, table string, id any) (*database.Record, error)
		UpdateByPrimaryKey(ctx context.Context, table string, id any, patch database.Patch) (database.Record, error)
	}

	// TxRunner runs fn in a serializable transaction, retrying serialization failures.
	// *crdb.Conn implements it.
	TxRunner interface {
		SerializableTx(ctx context.Context, fn func(pgx.Tx) error) error
	}

	// Table binds a schema to the entity struct T and a store.
	Table[T any, PT EntityPtr[T]] struct {
		schema *Schema
		store  Store
		fields fieldMap
		now    func() time.Time
	}

	TableOption func(*tableOptions)

	tableOptions struct {
		now func() time.Time
	}
)

// WithClock replaces time.Now for the created_at and updated_at columns.
func WithClock(now func() time.Time) TableOption {
	return func(o *tableOptions) {
		o.now = now
	}
}

// NewTable checks that T embeds Model and has a db tagged field for every schema column.
func NewTable[T any, PT EntityPtr[T]](schema *Schema, store Store, opts ...TableOption) (*Table[T, PT], error) {
	o := tableOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	fields, err := newFieldMap(reflect.TypeOf((*T)(nil)).Elem(), schema)
	if err != nil {
		return nil, err
	}
	return &Table[T, PT]{schema: schema, store: store, fields: fields, now: o.now}, nil
}

func (t *Table[T, PT]) Schema() *Schema {
	return t.schema
}

// WithStore returns the same table bound to another store, e.g. a transaction.
func (t *Table[T, PT]) WithStore(store Store) *Table[T, PT] {
	c := *t
	c.store = store
	return &c
}

// New builds a transient entity from named column values. created_at, when declared and not
// given, is set to now; updated_at stays unset until the first Refresh.
func (t *Table[T, PT]) New(fields map[string]any) (PT, error) {
	return t.build(fields, false)
}

func (t *Table[T, PT]) build(fields map[string]any, weak bool) (PT, error) {
	values := make(map[string]any, len(fields)+1)
	for name, v := range fields {
		if !t.schema.Has(name) {
			return nil, fmt.Errorf("%w: %s.%s", ErrUnknownColumn, t.schema.table, name)
		}
		values[name] = v
	}
	if t.schema.HasCreatedAt() && values[CreatedAtColumn] == nil {
		values[CreatedAtColumn] = t.now()
	}
	e := PT(new(T))
	if err := t.fields.decode(e, values, weak); err != nil {
		return nil, err
	}
	return e, nil
}

// Snapshot is every column except created_at and updated_at, with current values.
func (t *Table[T, PT]) Snapshot(e PT) database.Record {
	rec := database.Record{}
	for _, c := range t.schema.snapshotColumns() {
		rec.Set(c, t.fields.get(e, c))
	}
	return rec
}

// Key returns the primary key values in declared order.
func (t *Table[T, PT]) Key(e PT) []any {
	key := make([]any, len(t.schema.primaryKey))
	for i, c := range t.schema.primaryKey {
		key[i] = t.fields.get(e, c)
	}
	return key
}

func (t *Table[T, PT]) hasKey(e PT) bool {
	for _, c := range t.schema.primaryKey {
		if !t.fields.isSet(e, c) {
			return false
		}
	}
	return true
}

// Exists reports whether a row with the same non-key values is stored. Duplication is value
// equality, not identity.
func (t *Table[T, PT]) Exists(ctx context.Context, e PT) (bool, error) {
	payload := t.Snapshot(e).Without(t.schema.primaryKey...)
	rec, err := t.store.SelectUnique(ctx, t.schema.table, payload.Map())
	if err != nil {
		return false, err
	}
	return rec != nil, nil
}

// Persist stores e and returns its primary key. Unless force is set, a stored row with the
// same non-key values is reused: its key is copied onto e and nothing is inserted.
//
// The lookup and the insert are separate statements, so two concurrent callers can both
// insert the same values. Use PersistSerializable when that matters.
func (t *Table[T, PT]) Persist(ctx context.Context, e PT, force bool) ([]any, error) {
	table := t.schema.table
	payload := t.Snapshot(e).Without(t.schema.primaryKey...)

	if !force {
		existing, err := t.store.SelectUnique(ctx, table, payload.Map())
		if err != nil {
			return nil, fmt.Errorf("error checking for existing %s: %w", table, err)
		}
		if existing != nil {
			if err := t.assignFrom(e, *existing, t.schema.primaryKey); err != nil {
				return nil, err
			}
			e.model().persisted = true
			logger.Debug().Str("table", table).Interface("key", t.Key(e)).Msg("record already exists, reusing key")
			return t.Key(e), nil
		}
	}

	if t.schema.HasCreatedAt() {
		if !t.fields.isSet(e, CreatedAtColumn) {
			if err := t.fields.decode(e, map[string]any{CreatedAtColumn: t.now()}, false); err != nil {
				return nil, err
			}
		}
		payload.Set(CreatedAtColumn, t.fields.get(e, CreatedAtColumn))
	}
	// keys a caller assigned to a transient entity (natural or composite) are stored as given.
	// A persisted entity's key came from its earlier row, so a forced insert leaves every key to
	// the column default and the new row re-keys e.
	if !e.model().persisted {
		for _, c := range t.schema.primaryKey {
			if t.fields.isSet(e, c) {
				payload.Set(c, t.fields.get(e, c))
			}
		}
	}

	row, err := t.store.Insert(ctx, table, payload.Columns, payload.Values)
	if err != nil {
		return nil, err
	}
	e.model().persisted = true
	if err := t.assignFrom(e, row, t.schema.primaryKey); err != nil {
		return nil, err
	}
	logger.Debug().Str("table", table).Interface("key", t.Key(e)).Msg("inserted record")
	return t.Key(e), nil
}

// PersistSerializable runs Persist(force=false) inside a serializable transaction so the
// duplicate check and the insert cannot interleave with another writer. e is left untouched
// if the transaction fails.
func (t *Table[T, PT]) PersistSerializable(ctx context.Context, runner TxRunner, e PT) ([]any, error) {
	before := *e
	var key []any
	err := runner.SerializableTx(ctx, func(tx pgx.Tx) error {
		*e = before
		k, err := t.WithStore(database.New(tx)).Persist(ctx, e, false)
		key = k
		return err
	})
	if err != nil {
		*e = before
		return nil, err
	}
	return key, nil
}

// Refresh writes the listed columns (default: every non-key column) to the stored row and
// stamps updated_at. e must have its primary key set.
func (t *Table[T, PT]) Refresh(ctx context.Context, e PT, columns ...string) error {
	table := t.schema.table
	if !t.hasKey(e) {
		return fmt.Errorf("%w: %s", ErrNotPersisted, table)
	}

	snapshot := t.Snapshot(e).Without(t.schema.primaryKey...)
	payload := snapshot
	if len(columns) > 0 && !(len(columns) == 1 && columns[0] == "*") {
		payload = database.Record{}
		for _, c := range columns {
			if !t.schema.Has(c) {
				return fmt.Errorf("%w: %s.%s", ErrUnknownColumn, table, c)
			}
			if v, ok := snapshot.Get(c); ok {
				payload.Set(c, v)
			}
		}
	}

	var stamped time.Time
	if t.schema.HasUpdatedAt() {
		stamped = t.now()
		payload.Set(UpdatedAtColumn, stamped)
	}

	key := t.Key(e)
	var id any = key
	if len(key) == 1 {
		id = key[0]
	}
	row, err := t.store.UpdateByPrimaryKey(ctx, table, id, database.Patch{Columns: payload.Columns, Values: payload.Values})
	if err != nil {
		return err
	}

	if t.schema.HasUpdatedAt() {
		if _, ok := row.Get(UpdatedAtColumn); ok {
			return t.assignFrom(e, row, []string{UpdatedAtColumn})
		}
		return t.fields.decode(e, map[string]any{UpdatedAtColumn: stamped}, false)
	}
	return nil
}

// LoadByKey reads the row at key and returns it as a persisted entity.
func (t *Table[T, PT]) LoadByKey(ctx context.Context, key []any) (PT, error) {
	table := t.schema.table
	if len(key) != len(t.schema.primaryKey) {
		return nil, fmt.Errorf("%w: %s expects %d key values, got %d", ErrKeyArityMismatch, table, len(t.schema.primaryKey), len(key))
	}
	if len(key) > 1 {
		return nil, fmt.Errorf("%w: %s", ErrCompositeKeyUnsupported, table)
	}
	rec, err := t.store.SelectByPrimaryKey(ctx, table, key[0])
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: %s %v", ErrRecordNotFound, table, key)
	}
	return t.fromRow(*rec)
}

// FindUnique returns the one stored row equal to conditions as a persisted entity, nil when
// there is none.
func (t *Table[T, PT]) FindUnique(ctx context.Context, conditions map[string]any) (PT, error) {
	for c := range conditions {
		if !t.schema.Has(c) {
			return nil, fmt.Errorf("%w: %s.%s", ErrUnknownColumn, t.schema.table, c)
		}
	}
	rec, err := t.store.SelectUnique(ctx, t.schema.table, conditions)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}
	return t.fromRow(*rec)
}

// ListAll returns every row of the table as persisted entities.
func (t *Table[T, PT]) ListAll(ctx context.Context) ([]PT, error) {
	rows, err := t.store.Select(ctx, t.schema.table, nil, nil)
	if err != nil {
		return nil, err
	}
	out := make([]PT, 0, len(rows))
	for _, r := range rows {
		e, err := t.fromRow(r)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// FromExternal builds a transient entity from an unrelated producer such as a page parser.
// Each column comes from source when it has a non-nil value there, else from defaults, else
// stays unset.
func (t *Table[T, PT]) FromExternal(source any, defaults map[string]any) (PT, error) {
	lookup, err := externalLookup(source)
	if err != nil {
		return nil, err
	}
	fields := map[string]any{}
	for _, c := range t.schema.columns {
		if v, ok := lookup(c); ok && v != nil {
			fields[c] = v
		} else if v, ok := defaults[c]; ok && v != nil {
			fields[c] = v
		}
	}
	return t.build(fields, true)
}

func (t *Table[T, PT]) fromRow(r database.Record) (PT, error) {
	e := PT(new(T))
	if err := t.fields.decode(e, r.Map(), false); err != nil {
		return nil, err
	}
	e.model().persisted = true
	return e, nil
}

func (t *Table[T, PT]) assignFrom(e PT, r database.Record, columns []string) error {
	values := make(map[string]any, len(columns))
	for _, c := range columns {
		if v, ok := r.Get(c); ok {
			values[c] = v
		}
	}
	return t.fields.decode(e, values, false)
}
