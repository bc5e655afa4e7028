// Package driver defines the narrow capability surface the engine consumes
// from the underlying Cassandra client: execute a parameterized statement,
// prepare a statement for reuse, execute a batch, and read table metadata.
// Everything above this package is driver-agnostic; the gocql
// implementation lives alongside, and tests use the in-memory
// implementation from drivertest.
package driver

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Consistency enumerates replica acknowledgment levels.
type Consistency uint16

const (
	Any Consistency = iota
	One
	Two
	Three
	Quorum
	All
	LocalQuorum
	EachQuorum
	LocalOne
)

var consistencyNames = map[Consistency]string{
	Any:         "ANY",
	One:         "ONE",
	Two:         "TWO",
	Three:       "THREE",
	Quorum:      "QUORUM",
	All:         "ALL",
	LocalQuorum: "LOCAL_QUORUM",
	EachQuorum:  "EACH_QUORUM",
	LocalOne:    "LOCAL_ONE",
}

func (c Consistency) String() string {
	if s, ok := consistencyNames[c]; ok {
		return s
	}
	return fmt.Sprintf("UNKNOWN_%d", uint16(c))
}

// ParseConsistency parses a consistency level name, case-insensitively.
func ParseConsistency(s string) (Consistency, error) {
	upper := strings.ToUpper(strings.TrimSpace(s))
	for c, name := range consistencyNames {
		if name == upper {
			return c, nil
		}
	}
	return Quorum, fmt.Errorf("unknown consistency level %q", s)
}

// ExecOptions carries per-execution hints resolved by the coordinator.
type ExecOptions struct {
	Consistency Consistency
	Idempotent  bool
	PageSize    int
	PageState   []byte
}

// Rows is a lazy, forward-only row sequence. One pass, not restartable;
// the caller must Close it.
type Rows interface {
	// Next returns the next row, or nil and false when the sequence ends.
	Next() (map[string]interface{}, bool)
	// Err returns the first error encountered while executing or
	// iterating, as soon as the implementation knows it.
	Err() error
	// PageState returns the paging token to resume after the current page.
	PageState() []byte
	// Close releases the underlying iterator.
	Close() error
}

// Prepared is a reusable handle for a statement shape.
type Prepared interface {
	Execute(ctx context.Context, params []interface{}, opts ExecOptions) (Rows, error)
}

// BatchEntry is one statement inside a batch submission.
type BatchEntry struct {
	Query  string
	Params []interface{}
}

// Column kinds as reported by cluster metadata.
const (
	KindPartitionKey = "partition_key"
	KindClustering   = "clustering"
	KindRegular      = "regular"
)

// ColumnMeta describes one column of a table.
type ColumnMeta struct {
	Name     string
	TypeText string
	Kind     string
	Position int
}

// TableMeta describes one table's structure.
type TableMeta struct {
	Name    string
	Columns []ColumnMeta
}

// Driver is the underlying client capability consumed by the engine.
type Driver interface {
	// Execute runs one statement. Implementations surface execution
	// failures from Execute itself or through Rows.Err immediately
	// after it returns, so the caller can classify and retry them.
	Execute(ctx context.Context, query string, params []interface{}, opts ExecOptions) (Rows, error)
	Prepare(ctx context.Context, query string) (Prepared, error)
	ExecuteBatch(ctx context.Context, entries []BatchEntry, consistency Consistency) error
	// TableMetadata returns nil when the table does not exist.
	TableMetadata(ctx context.Context, table string) (*TableMeta, error)
	KeyspaceTables(ctx context.Context) ([]string, error)
	Close()
}

// ErrorClass partitions driver failures for retry decisions.
type ErrorClass int

const (
	ClassFatal ErrorClass = iota
	ClassTransient
	ClassTimeout
)

// ClassifiedError lets driver implementations label their own failures.
// The in-memory test driver uses this; gocql errors are recognized by code.
type ClassifiedError interface {
	error
	Class() ErrorClass
}

// TransientError is a ClassifiedError for retriable failures.
type TransientError struct{ Cause error }

func (e *TransientError) Error() string     { return fmt.Sprintf("transient: %v", e.Cause) }
func (e *TransientError) Unwrap() error     { return e.Cause }
func (e *TransientError) Class() ErrorClass { return ClassTransient }

// Classify maps a driver failure to its retry class. Caller cancellation
// always wins over the driver's own error.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassFatal
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ClassTimeout
	}
	var ce ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class()
	}
	return classifyGocql(err)
}
