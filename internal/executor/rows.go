package executor

import (
	"github.com/datalayerhq/cqlcrud/internal/driver"
	"github.com/datalayerhq/cqlcrud/pkg/cqltypes"
)

func normalizeRow(row map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(row))
	for name, value := range row {
		out[name] = cqltypes.FromCassandra(value)
	}
	return out
}

// Collect drains rows into a slice and closes them. Intended for callers
// that want the whole result set at once; large reads should iterate.
func Collect(rows driver.Rows) ([]map[string]interface{}, error) {
	var out []map[string]interface{}
	for {
		row, ok := rows.Next()
		if !ok {
			break
		}
		out = append(out, row)
	}
	// Iteration errors surface on Close.
	if err := rows.Close(); err != nil {
		return nil, err
	}
	return out, nil
}
