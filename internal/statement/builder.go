package statement

import (
	"fmt"
	"sort"
	"strings"

	"github.com/datalayerhq/cqlcrud/internal/driver"
	"github.com/datalayerhq/cqlcrud/internal/schema"
	"github.com/datalayerhq/cqlcrud/pkg/cqltypes"
	"github.com/datalayerhq/cqlcrud/pkg/cruderr"
)

// SelectOptions carries caller hints for read statements.
type SelectOptions struct {
	Columns     []string
	Limit       int
	PageSize    int
	PageState   []byte
	Consistency *driver.Consistency
}

// BuildInsert synthesizes one parameterized INSERT for a record. All
// primary-key columns must be present in the record; bound values follow
// the model's canonical column order.
func BuildInsert(m *schema.Model, record map[string]interface{}, opts WriteOptions) (Statement, error) {
	if err := validateRecordColumns("create", m, record); err != nil {
		return Statement{}, err
	}
	for _, key := range m.PrimaryKey() {
		if _, ok := record[key]; !ok {
			return Statement{}, cruderr.NewMissingPrimaryKey("create", m.Table, key)
		}
	}

	var columns []string
	var params []interface{}
	for _, col := range m.Columns {
		raw, ok := record[col.Name]
		if !ok {
			continue
		}
		value, err := cqltypes.Coerce(col.Type, raw)
		if err != nil {
			return Statement{}, &cruderr.ValidationError{
				Table: m.Table, Operation: "create", Column: col.Name, Reason: err,
			}
		}
		columns = append(columns, QuoteIdentifier(col.Name))
		params = append(params, value)
	}

	placeholders := make([]string, len(columns))
	for i := range placeholders {
		placeholders[i] = "?"
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		QuoteIdentifier(m.Table),
		strings.Join(columns, ", "),
		strings.Join(placeholders, ", "))
	if opts.TTL > 0 {
		query += " USING TTL ?"
		params = append(params, int(opts.TTL.Seconds()))
	}

	return Statement{
		Query:       query,
		Params:      params,
		Idempotent:  opts.Idempotent,
		Consistency: opts.Consistency,
	}, nil
}

// BuildSelect synthesizes one parameterized SELECT over the compiled
// predicates. SELECTs are always idempotent. Page size and paging token
// pass through to the driver so unbounded result sets are never
// materialized at once.
func BuildSelect(m *schema.Model, predicates []Predicate, opts SelectOptions) (Statement, error) {
	projection := "*"
	if len(opts.Columns) > 0 {
		for _, name := range opts.Columns {
			if !m.HasColumn(name) {
				return Statement{}, cruderr.NewUnknownColumn("read", m.Table, name)
			}
		}
		projection = strings.Join(quoteAll(opts.Columns), ", ")
	}

	query := fmt.Sprintf("SELECT %s FROM %s", projection, QuoteIdentifier(m.Table))
	var params []interface{}
	where, params := whereClause(predicates, params)
	query += where
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}

	return Statement{
		Query:       query,
		Params:      params,
		Idempotent:  true,
		Consistency: opts.Consistency,
		PageSize:    opts.PageSize,
		PageState:   opts.PageState,
	}, nil
}

// BuildUpdate synthesizes one parameterized UPDATE. Predicates identify the
// rows; the record assigns only non-key columns. A primary-key column in
// the record is rejected, since keys are matched, never overwritten. An
// empty predicate set is rejected to prevent full-table mutation.
func BuildUpdate(m *schema.Model, record map[string]interface{}, predicates []Predicate, opts WriteOptions) (Statement, error) {
	if len(predicates) == 0 {
		return Statement{}, cruderr.NewUnscopedMutation("update", m.Table)
	}
	if err := validateRecordColumns("update", m, record); err != nil {
		return Statement{}, err
	}
	for _, key := range m.PrimaryKey() {
		if _, ok := record[key]; ok {
			return Statement{}, cruderr.NewPrimaryKeyMismatch("update", m.Table, key)
		}
	}
	if len(record) == 0 {
		return Statement{}, &cruderr.ValidationError{
			Table: m.Table, Operation: "update",
			Reason: fmt.Errorf("no columns to assign"),
		}
	}

	var params []interface{}
	query := fmt.Sprintf("UPDATE %s", QuoteIdentifier(m.Table))
	if opts.TTL > 0 {
		query += " USING TTL ?"
		params = append(params, int(opts.TTL.Seconds()))
	}

	var assignments []string
	for _, col := range m.Columns {
		raw, ok := record[col.Name]
		if !ok {
			continue
		}
		value, err := cqltypes.Coerce(col.Type, raw)
		if err != nil {
			return Statement{}, &cruderr.ValidationError{
				Table: m.Table, Operation: "update", Column: col.Name, Reason: err,
			}
		}
		assignments = append(assignments, QuoteIdentifier(col.Name)+" = ?")
		params = append(params, value)
	}
	query += " SET " + strings.Join(assignments, ", ")

	where, params := whereClause(predicates, params)
	query += where

	return Statement{
		Query:       query,
		Params:      params,
		Idempotent:  opts.Idempotent,
		Consistency: opts.Consistency,
	}, nil
}

// BuildDelete synthesizes one parameterized DELETE. An empty predicate set
// is rejected to prevent full-table mutation.
func BuildDelete(m *schema.Model, predicates []Predicate, opts WriteOptions) (Statement, error) {
	if len(predicates) == 0 {
		return Statement{}, cruderr.NewUnscopedMutation("delete", m.Table)
	}

	var params []interface{}
	query := fmt.Sprintf("DELETE FROM %s", QuoteIdentifier(m.Table))
	where, params := whereClause(predicates, params)
	query += where

	return Statement{
		Query:       query,
		Params:      params,
		Idempotent:  opts.Idempotent,
		Consistency: opts.Consistency,
	}, nil
}

func validateRecordColumns(op string, m *schema.Model, record map[string]interface{}) error {
	var unknown []string
	for name := range record {
		if !m.HasColumn(name) {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return cruderr.NewUnknownColumn(op, m.Table, unknown[0])
	}
	return nil
}
