package statement

import (
	"sort"
	"strings"

	"github.com/datalayerhq/cqlcrud/internal/schema"
	"github.com/datalayerhq/cqlcrud/pkg/cqltypes"
	"github.com/datalayerhq/cqlcrud/pkg/cruderr"
)

// Op is a predicate operator.
type Op int

const (
	// OpEQ is an equality test against a single value.
	OpEQ Op = iota
	// OpIN is a membership test against a list of values.
	OpIN
)

// Predicate is one compiled condition: column, operator and bound values.
// OpEQ predicates carry exactly one value.
type Predicate struct {
	Column string
	Op     Op
	Values []interface{}
}

// CompileConditions turns a condition map into a conjunction of predicates
// validated against the model. A scalar value compiles to EQ, a list value
// to IN; values are coerced against the column's type. Predicates follow
// the model's canonical column order so generated statements are
// reproducible. An empty map compiles to "match all", which is rejected
// unless allowUnscoped is set: reads pass true, mutations pass false.
func CompileConditions(m *schema.Model, conditions map[string]interface{}, allowUnscoped bool, op string) ([]Predicate, error) {
	if len(conditions) == 0 {
		if !allowUnscoped {
			return nil, cruderr.NewUnscopedMutation(op, m.Table)
		}
		return nil, nil
	}

	// Unknown columns fail fast, reported in a deterministic order.
	unknown := make([]string, 0)
	for name := range conditions {
		if !m.HasColumn(name) {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, cruderr.NewUnknownColumn(op, m.Table, unknown[0])
	}

	predicates := make([]Predicate, 0, len(conditions))
	for _, col := range m.Columns {
		raw, ok := conditions[col.Name]
		if !ok {
			continue
		}
		if values, isList := raw.([]interface{}); isList {
			coerced, err := cqltypes.CoerceAll(col.Type, values)
			if err != nil {
				return nil, &cruderr.ValidationError{
					Table: m.Table, Operation: op, Column: col.Name, Reason: err,
				}
			}
			predicates = append(predicates, Predicate{Column: col.Name, Op: OpIN, Values: coerced})
			continue
		}
		coerced, err := cqltypes.Coerce(col.Type, raw)
		if err != nil {
			return nil, &cruderr.ValidationError{
				Table: m.Table, Operation: op, Column: col.Name, Reason: err,
			}
		}
		predicates = append(predicates, Predicate{Column: col.Name, Op: OpEQ, Values: []interface{}{coerced}})
	}
	return predicates, nil
}

// whereClause renders predicates as CQL and appends their values to params.
func whereClause(predicates []Predicate, params []interface{}) (string, []interface{}) {
	if len(predicates) == 0 {
		return "", params
	}
	clauses := make([]string, 0, len(predicates))
	for _, p := range predicates {
		switch p.Op {
		case OpIN:
			placeholders := make([]string, len(p.Values))
			for i := range p.Values {
				placeholders[i] = "?"
			}
			clauses = append(clauses, QuoteIdentifier(p.Column)+" IN ("+strings.Join(placeholders, ", ")+")")
		default:
			clauses = append(clauses, QuoteIdentifier(p.Column)+" = ?")
		}
		params = append(params, p.Values...)
	}
	return " WHERE " + strings.Join(clauses, " AND "), params
}
