package statement

import (
	"fmt"
	"strings"

	"github.com/datalayerhq/cqlcrud/pkg/cqltypes"
	"github.com/datalayerhq/cqlcrud/pkg/cruderr"
)

// ColumnDef defines one column for table creation. Type accepts either a
// CQL type name or a friendly alias ("string", "integer", ...).
type ColumnDef struct {
	Name string
	Type string
}

// TableDef defines a table for the management path. This is caller-supplied,
// not schema-discovered: the partition key is required; clustering columns
// are optional.
type TableDef struct {
	Name          string
	Columns       []ColumnDef
	PartitionKey  []string
	ClusteringKey []string
	IfNotExists   bool
	// DefaultTTL is the table-wide default_time_to_live in seconds.
	DefaultTTL int
}

// BuildCreateTable synthesizes CREATE TABLE DDL from a caller-supplied
// definition. DDL carries no bind parameters; identifiers are quoted and
// type names normalized, and the definition is validated before any text is
// assembled.
func BuildCreateTable(def TableDef) (Statement, error) {
	if def.Name == "" || len(def.Columns) == 0 {
		return Statement{}, &cruderr.ValidationError{
			Table: def.Name, Operation: "create_table",
			Reason: fmt.Errorf("table name and columns are required"),
		}
	}
	if len(def.PartitionKey) == 0 {
		return Statement{}, &cruderr.ValidationError{
			Table: def.Name, Operation: "create_table",
			Reason: fmt.Errorf("partition key is required"),
		}
	}

	names := make(map[string]bool, len(def.Columns))
	var columnDefs []string
	for _, col := range def.Columns {
		names[col.Name] = true
		columnDefs = append(columnDefs, fmt.Sprintf("%s %s",
			QuoteIdentifier(col.Name), cqltypes.ToCQL(col.Type)))
	}
	for _, key := range append(append([]string{}, def.PartitionKey...), def.ClusteringKey...) {
		if !names[key] {
			return Statement{}, cruderr.NewUnknownColumn("create_table", def.Name, key)
		}
	}

	var primaryKey string
	if len(def.ClusteringKey) > 0 {
		primaryKey = fmt.Sprintf("PRIMARY KEY ((%s), %s)",
			strings.Join(quoteAll(def.PartitionKey), ", "),
			strings.Join(quoteAll(def.ClusteringKey), ", "))
	} else {
		primaryKey = fmt.Sprintf("PRIMARY KEY ((%s))",
			strings.Join(quoteAll(def.PartitionKey), ", "))
	}

	var b strings.Builder
	b.WriteString("CREATE TABLE ")
	if def.IfNotExists {
		b.WriteString("IF NOT EXISTS ")
	}
	b.WriteString(QuoteIdentifier(def.Name))
	b.WriteString(" (")
	b.WriteString(strings.Join(columnDefs, ", "))
	b.WriteString(", ")
	b.WriteString(primaryKey)
	b.WriteString(")")
	if def.DefaultTTL > 0 {
		fmt.Fprintf(&b, " WITH default_time_to_live = %d", def.DefaultTTL)
	}

	return Statement{Query: b.String()}, nil
}

// BuildDropTable synthesizes DROP TABLE DDL.
func BuildDropTable(table string, ifExists bool) Statement {
	if ifExists {
		return Statement{Query: fmt.Sprintf("DROP TABLE IF EXISTS %s", QuoteIdentifier(table))}
	}
	return Statement{Query: fmt.Sprintf("DROP TABLE %s", QuoteIdentifier(table))}
}

// BuildTruncate synthesizes TRUNCATE TABLE DDL.
func BuildTruncate(table string) Statement {
	return Statement{Query: fmt.Sprintf("TRUNCATE TABLE %s", QuoteIdentifier(table))}
}
