// Package statement synthesizes parameterized CQL from table models,
// records and condition maps. Every value is bound as a parameter; no value
// is ever interpolated into query text. Identifiers are quoted when they
// need it, matching how Cassandra treats unquoted identifiers as
// case-insensitive.
package statement

import (
	"fmt"
	"strings"
	"time"

	"github.com/datalayerhq/cqlcrud/internal/driver"
)

// Statement is an opaque parameterized query plus its bound values and
// execution hints. Produced by the builders, consumed once by the
// execution coordinator.
type Statement struct {
	Query       string
	Params      []interface{}
	Idempotent  bool
	Consistency *driver.Consistency
	PageSize    int
	PageState   []byte
}

// WriteOptions carries caller hints for mutation statements.
type WriteOptions struct {
	TTL         time.Duration
	Idempotent  bool
	Consistency *driver.Consistency
}

// QuoteIdentifier quotes a CQL identifier when it contains characters that
// would otherwise be case-folded or rejected.
func QuoteIdentifier(identifier string) string {
	needsQuoting := false
	for _, r := range identifier {
		if !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_') {
			needsQuoting = true
			break
		}
	}
	if needsQuoting {
		return fmt.Sprintf(`"%s"`, strings.ReplaceAll(identifier, `"`, `""`))
	}
	return identifier
}

func quoteAll(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = QuoteIdentifier(n)
	}
	return out
}
