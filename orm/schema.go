package orm

import (
	"fmt"

	"github.com/danthegoodman1/usedcars/utils"
	"github.com/go-playground/validator/v10"
)

const (
	CreatedAtColumn = "created_at"
	UpdatedAtColumn = "updated_at"
)

// timestamp columns never take part in snapshots, so bookkeeping does not break dedup
var snapshotIgnore = []string{UpdatedAtColumn, CreatedAtColumn}

var validate = validator.New()

type (
	// Schema describes one table: its name, ordered columns and primary key columns.
	// It is immutable once built.
	Schema struct {
		table      string
		columns    []string
		primaryKey []string
	}

	schemaDeclaration struct {
		Table      string   `validate:"required"`
		Columns    []string `validate:"required,min=1,unique,dive,required,startsnotwith=_"`
		PrimaryKey []string `validate:"required,min=1,unique,dive,required"`
	}
)

// NewSchema validates a table declaration. Columns must be non-empty, unique and must not
// start with "_"; every primary key column must be one of them.
func NewSchema(table string, columns, primaryKey []string) (*Schema, error) {
	decl := schemaDeclaration{Table: table, Columns: columns, PrimaryKey: primaryKey}
	if err := validate.Struct(decl); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidSchema, table, err)
	}
	for _, k := range primaryKey {
		if !utils.ContainsString(columns, k) {
			return nil, fmt.Errorf("%w: %s: primary key column %q is not in columns", ErrInvalidSchema, table, k)
		}
	}
	return &Schema{
		table:      table,
		columns:    append([]string(nil), columns...),
		primaryKey: append([]string(nil), primaryKey...),
	}, nil
}

// MustSchema is NewSchema for package level declarations, panicking at start up.
func MustSchema(table string, columns, primaryKey []string) *Schema {
	s, err := NewSchema(table, columns, primaryKey)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Schema) Table() string {
	return s.table
}

func (s *Schema) Columns() []string {
	return append([]string(nil), s.columns...)
}

func (s *Schema) PrimaryKey() []string {
	return append([]string(nil), s.primaryKey...)
}

func (s *Schema) Has(column string) bool {
	return utils.ContainsString(s.columns, column)
}

func (s *Schema) IsKey(column string) bool {
	return utils.ContainsString(s.primaryKey, column)
}

func (s *Schema) HasCreatedAt() bool {
	return s.Has(CreatedAtColumn)
}

func (s *Schema) HasUpdatedAt() bool {
	return s.Has(UpdatedAtColumn)
}

// snapshotColumns are the declared columns minus the timestamp ignore list, in order.
func (s *Schema) snapshotColumns() []string {
	out := make([]string, 0, len(s.columns))
	for _, c := range s.columns {
		if !utils.ContainsString(snapshotIgnore, c) {
			out = append(out, c)
		}
	}
	return out
}
