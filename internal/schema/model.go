// Package schema discovers table structure from cluster metadata and keeps
// an immutable in-memory model per table. The catalog owns the cache; the
// registry funnels concurrent first-access discovery for the same table
// into a single in-flight operation.
package schema

import (
	"sort"

	"github.com/datalayerhq/cqlcrud/internal/driver"
	"github.com/datalayerhq/cqlcrud/pkg/cqltypes"
)

// Column describes one column of a table model.
type Column struct {
	Name     string
	Type     cqltypes.Type
	CQLType  string
	Kind     string
	Nullable bool
}

// Model is the immutable descriptor of one table. Columns are held in a
// canonical order (partition key, clustering key, then regular columns by
// name) so generated statements are reproducible.
type Model struct {
	Table         string
	Columns       []Column
	PartitionKey  []string
	ClusteringKey []string

	byName map[string]int
}

// NewModel builds a model from driver metadata.
func NewModel(meta *driver.TableMeta) *Model {
	cols := make([]driver.ColumnMeta, len(meta.Columns))
	copy(cols, meta.Columns)

	rank := func(kind string) int {
		switch kind {
		case driver.KindPartitionKey:
			return 0
		case driver.KindClustering:
			return 1
		default:
			return 2
		}
	}
	sort.SliceStable(cols, func(i, j int) bool {
		ri, rj := rank(cols[i].Kind), rank(cols[j].Kind)
		if ri != rj {
			return ri < rj
		}
		if ri < 2 && cols[i].Position != cols[j].Position {
			return cols[i].Position < cols[j].Position
		}
		return cols[i].Name < cols[j].Name
	})

	m := &Model{Table: meta.Name, byName: make(map[string]int, len(cols))}
	for _, c := range cols {
		col := Column{
			Name:     c.Name,
			Type:     cqltypes.ParseType(c.TypeText),
			CQLType:  c.TypeText,
			Kind:     c.Kind,
			Nullable: c.Kind == driver.KindRegular,
		}
		m.byName[col.Name] = len(m.Columns)
		m.Columns = append(m.Columns, col)

		switch c.Kind {
		case driver.KindPartitionKey:
			m.PartitionKey = append(m.PartitionKey, c.Name)
		case driver.KindClustering:
			m.ClusteringKey = append(m.ClusteringKey, c.Name)
		}
	}
	return m
}

// Column returns the named column, if present.
func (m *Model) Column(name string) (Column, bool) {
	i, ok := m.byName[name]
	if !ok {
		return Column{}, false
	}
	return m.Columns[i], true
}

// HasColumn reports whether the model contains the named column.
func (m *Model) HasColumn(name string) bool {
	_, ok := m.byName[name]
	return ok
}

// PrimaryKey returns partition-key columns followed by clustering columns.
func (m *Model) PrimaryKey() []string {
	out := make([]string, 0, len(m.PartitionKey)+len(m.ClusteringKey))
	out = append(out, m.PartitionKey...)
	out = append(out, m.ClusteringKey...)
	return out
}

// IsPrimaryKey reports whether the named column is part of the primary key.
func (m *Model) IsPrimaryKey(name string) bool {
	col, ok := m.Column(name)
	return ok && col.Kind != driver.KindRegular
}

// ColumnNames returns all column names in canonical order.
func (m *Model) ColumnNames() []string {
	out := make([]string, len(m.Columns))
	for i, c := range m.Columns {
		out[i] = c.Name
	}
	return out
}
