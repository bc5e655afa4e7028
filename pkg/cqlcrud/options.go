package cqlcrud

import (
	"time"

	"github.com/datalayerhq/cqlcrud/internal/statement"
)

// ReadOption adjusts one Read call.
type ReadOption func(*statement.SelectOptions)

// WithColumns projects only the named columns instead of the full row.
func WithColumns(columns ...string) ReadOption {
	return func(o *statement.SelectOptions) { o.Columns = columns }
}

// WithLimit caps the number of rows returned.
func WithLimit(n int) ReadOption {
	return func(o *statement.SelectOptions) { o.Limit = n }
}

// WithPageSize sets how many rows the server returns per page.
func WithPageSize(n int) ReadOption {
	return func(o *statement.SelectOptions) { o.PageSize = n }
}

// WithPageState resumes iteration from a previously returned paging token.
func WithPageState(token []byte) ReadOption {
	return func(o *statement.SelectOptions) { o.PageState = token }
}

// WithReadConsistency overrides the policy consistency for one read.
func WithReadConsistency(c Consistency) ReadOption {
	return func(o *statement.SelectOptions) { o.Consistency = &c }
}

// WriteOption adjusts one Create, Update or Delete call.
type WriteOption func(*statement.WriteOptions)

// WithTTL expires the written columns after the duration. Sub-second
// durations round down to zero and write without expiry.
func WithTTL(d time.Duration) WriteOption {
	return func(o *statement.WriteOptions) { o.TTL = d }
}

// Idempotent marks the mutation safe to retry under the retry policy.
func Idempotent() WriteOption {
	return func(o *statement.WriteOptions) { o.Idempotent = true }
}

// WithWriteConsistency overrides the policy consistency for one mutation.
func WithWriteConsistency(c Consistency) WriteOption {
	return func(o *statement.WriteOptions) { o.Consistency = &c }
}

func readOptions(opts []ReadOption) statement.SelectOptions {
	var out statement.SelectOptions
	for _, opt := range opts {
		opt(&out)
	}
	return out
}

func writeOptions(opts []WriteOption) statement.WriteOptions {
	var out statement.WriteOptions
	for _, opt := range opts {
		opt(&out)
	}
	return out
}
