package database

import (
	"fmt"
	"sort"
	"strings"
)

type (
	Operator string

	Condition struct {
		Column string
		Op     Operator
		Value  any
	}

	// Predicate is a list of conditions joined with AND, rendered in order.
	Predicate []Condition
)

const (
	OpEq      Operator = "="
	OpNe      Operator = "<>"
	OpGt      Operator = ">"
	OpGe      Operator = ">="
	OpLt      Operator = "<"
	OpLe      Operator = "<="
	OpLike    Operator = "LIKE"
	OpILike   Operator = "ILIKE"
	OpNotLike Operator = "NOT LIKE"
)

var operators = map[string]Operator{
	"=":        OpEq,
	"<>":       OpNe,
	"!=":       OpNe,
	">":        OpGt,
	">=":       OpGe,
	"<":        OpLt,
	"<=":       OpLe,
	"LIKE":     OpLike,
	"ILIKE":    OpILike,
	"NOT LIKE": OpNotLike,
}

// ParseOperator maps s onto the fixed operator set. Anything else is rejected, so operator
// text never reaches the statement unless it is one of the known identifiers.
func ParseOperator(s string) (Operator, error) {
	op, ok := operators[strings.ToUpper(strings.Join(strings.Fields(s), " "))]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidOperator, s)
	}
	return op, nil
}

func Eq(column string, value any) Condition {
	return Condition{Column: column, Op: OpEq, Value: value}
}

// NewPredicate zips parallel column, operator and value lists.
func NewPredicate(columns []string, ops []string, values []any) (Predicate, error) {
	if len(columns) != len(ops) || len(columns) != len(values) {
		return nil, fmt.Errorf("%w: %d columns, %d operators, %d values", ErrPredicateShapeMismatch, len(columns), len(ops), len(values))
	}
	p := make(Predicate, len(columns))
	for i := range columns {
		op, err := ParseOperator(ops[i])
		if err != nil {
			return nil, err
		}
		p[i] = Condition{Column: columns[i], Op: op, Value: values[i]}
	}
	return p, nil
}

// EqualityPredicate ANDs column = value for every entry, sorted by column name.
func EqualityPredicate(conditions map[string]any) Predicate {
	cols := make([]string, 0, len(conditions))
	for c := range conditions {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	p := make(Predicate, len(cols))
	for i, c := range cols {
		p[i] = Eq(c, conditions[c])
	}
	return p
}

// render produces the WHERE body with placeholders numbered from next.
func (p Predicate) render(next int) (string, []any, error) {
	parts := make([]string, 0, len(p))
	args := make([]any, 0, len(p))
	for _, cond := range p {
		col, err := quoteColumn(cond.Column)
		if err != nil {
			return "", nil, err
		}
		op, err := ParseOperator(string(cond.Op))
		if err != nil {
			return "", nil, err
		}
		if cond.Value == nil && (op == OpEq || op == OpNe) {
			if op == OpEq {
				parts = append(parts, col+" IS NULL")
			} else {
				parts = append(parts, col+" IS NOT NULL")
			}
			continue
		}
		parts = append(parts, fmt.Sprintf("%s %s $%d", col, op, next))
		args = append(args, cond.Value)
		next++
	}
	return strings.Join(parts, " AND "), args, nil
}
