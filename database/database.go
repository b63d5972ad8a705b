package database

import (
	"context"
	"fmt"

	"github.com/danthegoodman1/usedcars/gologger"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"
)

var logger = gologger.NewComponentLogger("database")

type (
	// Querier is what the executor needs from a connection: *crdb.Conn, pgx.Tx and *pgx.Conn
	// all satisfy it.
	Querier interface {
		Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	}

	// Database builds parameterized statements from table, column and predicate lists and
	// runs them. Identifiers are quoted, values are always bound parameters.
	Database struct {
		q Querier
	}
)

func New(q Querier) *Database {
	return &Database{q: q}
}

// WithQuerier returns a Database running on q, e.g. the pgx.Tx of a serializable transaction.
func (db *Database) WithQuerier(q Querier) *Database {
	return &Database{q: q}
}

// Insert adds one row and returns it as stored. Columns starting with PrivateMarker are
// dropped first.
func (db *Database) Insert(ctx context.Context, table string, columns []string, values []any) (Record, error) {
	sql, args, err := buildInsert(table, columns, values)
	if err != nil {
		return Record{}, err
	}
	rows, err := db.query(ctx, "insert", table, sql, args)
	if err != nil {
		return Record{}, err
	}
	if len(rows) == 0 {
		return Record{}, fmt.Errorf("%w: table %s", ErrInsertFailed, table)
	}
	return rows[0], nil
}

// Select returns matching rows. nil, empty or ["*"] columns select every column.
func (db *Database) Select(ctx context.Context, table string, columns []string, where Predicate) ([]Record, error) {
	sql, args, err := buildSelect(table, columns, where)
	if err != nil {
		return nil, err
	}
	return db.query(ctx, "select", table, sql, args)
}

// Update sets columns on every row matching where and returns the updated rows. A nil
// predicate updates the whole table.
func (db *Database) Update(ctx context.Context, table string, columns []string, values []any, where Predicate) ([]Record, error) {
	sql, args, err := buildUpdate(table, columns, values, where)
	if err != nil {
		return nil, err
	}
	return db.query(ctx, "update", table, sql, args)
}

// Delete removes the rows matching where and returns them. An empty predicate is rejected.
func (db *Database) Delete(ctx context.Context, table string, where Predicate) ([]Record, error) {
	sql, args, err := buildDelete(table, where)
	if err != nil {
		return nil, err
	}
	return db.query(ctx, "delete", table, sql, args)
}

func (db *Database) query(ctx context.Context, kind, table, sql string, args []any) ([]Record, error) {
	logger := statementLogger(ctx)
	logger.Debug().Str("kind", kind).Str("table", table).Int("args", len(args)).Str("sql", sql).Msg("executing statement")

	rows, err := db.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("error in %s on %s: %w", kind, table, err)
	}
	defer rows.Close()

	records := make([]Record, 0)
	var columns []string
	for rows.Next() {
		if columns == nil {
			fds := rows.FieldDescriptions()
			columns = make([]string, len(fds))
			for i, fd := range fds {
				columns[i] = string(fd.Name)
			}
		}
		vals, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("error in rows.Values for %s on %s: %w", kind, table, err)
		}
		for i := range vals {
			vals[i] = normalizeValue(vals[i])
		}
		records = append(records, NewRecord(columns, vals))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error in %s on %s: %w", kind, table, err)
	}
	return records, nil
}

// statementLogger is the logger carried by ctx, so statements keep the caller's fields such as
// the request id, falling back to the package logger.
func statementLogger(ctx context.Context) *zerolog.Logger {
	l := zerolog.Ctx(ctx)
	if l == zerolog.DefaultContextLogger || l.GetLevel() == zerolog.Disabled {
		return &logger
	}
	return l
}
