package database

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v4"
)

const (
	// PrivateMarker prefixes caller-side columns that never reach the store.
	PrivateMarker = "_"

	wildcard = "*"

	// postgres truncates identifiers longer than NAMEDATALEN-1 bytes
	maxIdentifierLen = 63
)

func validIdentifier(name string) error {
	if name == "" || len(name) > maxIdentifierLen || strings.ContainsRune(name, 0) {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, name)
	}
	return nil
}

func quoteColumn(name string) (string, error) {
	if err := validIdentifier(name); err != nil {
		return "", err
	}
	return pgx.Identifier{name}.Sanitize(), nil
}

// quoteTable accepts "table" or "schema.table".
func quoteTable(name string) (string, error) {
	parts := strings.Split(name, ".")
	if len(parts) > 2 {
		return "", fmt.Errorf("%w: %q", ErrInvalidIdentifier, name)
	}
	for _, p := range parts {
		if err := validIdentifier(p); err != nil {
			return "", fmt.Errorf("%w: %q", ErrInvalidIdentifier, name)
		}
	}
	return pgx.Identifier(parts).Sanitize(), nil
}

func quoteColumns(columns []string) (string, error) {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		q, err := quoteColumn(c)
		if err != nil {
			return "", err
		}
		quoted[i] = q
	}
	return strings.Join(quoted, ", "), nil
}

// SplitColumns normalizes a comma separated column string. "" and "*" mean every column.
func SplitColumns(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" || s == wildcard {
		return nil
	}
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func isWildcard(columns []string) bool {
	return len(columns) == 0 || (len(columns) == 1 && columns[0] == wildcard)
}

// dropPrivate removes columns starting with PrivateMarker together with their values.
func dropPrivate(columns []string, values []any) ([]string, []any) {
	cols := make([]string, 0, len(columns))
	vals := make([]any, 0, len(values))
	for i, c := range columns {
		if strings.HasPrefix(c, PrivateMarker) {
			continue
		}
		cols = append(cols, c)
		vals = append(vals, values[i])
	}
	return cols, vals
}

func checkPairs(columns []string, values []any) error {
	if len(columns) != len(values) {
		return fmt.Errorf("%w: %d columns, %d values", ErrColumnValueMismatch, len(columns), len(values))
	}
	return nil
}

func whereClause(where Predicate, next int) (string, []any, error) {
	if len(where) == 0 {
		return "", nil, nil
	}
	body, args, err := where.render(next)
	if err != nil {
		return "", nil, err
	}
	return " WHERE " + body, args, nil
}

func buildInsert(table string, columns []string, values []any) (string, []any, error) {
	if err := checkPairs(columns, values); err != nil {
		return "", nil, err
	}
	t, err := quoteTable(table)
	if err != nil {
		return "", nil, err
	}
	columns, values = dropPrivate(columns, values)
	if len(columns) == 0 {
		return "INSERT INTO " + t + " DEFAULT VALUES RETURNING *", nil, nil
	}
	cols, err := quoteColumns(columns)
	if err != nil {
		return "", nil, err
	}
	placeholders := make([]string, len(values))
	for i := range values {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING *", t, cols, strings.Join(placeholders, ", "))
	return sql, values, nil
}

func buildSelect(table string, columns []string, where Predicate) (string, []any, error) {
	t, err := quoteTable(table)
	if err != nil {
		return "", nil, err
	}
	cols := wildcard
	if !isWildcard(columns) {
		if cols, err = quoteColumns(columns); err != nil {
			return "", nil, err
		}
	}
	w, args, err := whereClause(where, 1)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("SELECT %s FROM %s%s", cols, t, w), args, nil
}

func buildUpdate(table string, columns []string, values []any, where Predicate) (string, []any, error) {
	if err := checkPairs(columns, values); err != nil {
		return "", nil, err
	}
	if len(columns) == 0 {
		return "", nil, ErrNoUpdatableColumns
	}
	t, err := quoteTable(table)
	if err != nil {
		return "", nil, err
	}
	sets := make([]string, len(columns))
	for i, c := range columns {
		q, err := quoteColumn(c)
		if err != nil {
			return "", nil, err
		}
		sets[i] = fmt.Sprintf("%s = $%d", q, i+1)
	}
	w, whereArgs, err := whereClause(where, len(values)+1)
	if err != nil {
		return "", nil, err
	}
	args := append(append(make([]any, 0, len(values)+len(whereArgs)), values...), whereArgs...)
	return fmt.Sprintf("UPDATE %s SET %s%s RETURNING *", t, strings.Join(sets, ", "), w), args, nil
}

func buildDelete(table string, where Predicate) (string, []any, error) {
	if len(where) == 0 {
		return "", nil, ErrUnsafeDeleteRejected
	}
	t, err := quoteTable(table)
	if err != nil {
		return "", nil, err
	}
	w, args, err := whereClause(where, 1)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("DELETE FROM %s%s RETURNING *", t, w), args, nil
}
