// Package cqlcrud is a schema-aware data-access layer for Cassandra. It
// discovers table structure from cluster metadata, validates generic
// records and condition maps against the discovered model, and translates
// CRUD calls into parameterized CQL executed under a configurable
// consistency and retry policy.
package cqlcrud

import (
	"github.com/datalayerhq/cqlcrud/internal/driver"
	"github.com/datalayerhq/cqlcrud/internal/statement"
)

// Consistency enumerates replica acknowledgment levels.
type Consistency = driver.Consistency

const (
	Any         = driver.Any
	One         = driver.One
	Two         = driver.Two
	Three       = driver.Three
	Quorum      = driver.Quorum
	All         = driver.All
	LocalQuorum = driver.LocalQuorum
	EachQuorum  = driver.EachQuorum
	LocalOne    = driver.LocalOne
)

// ParseConsistency parses a consistency level name, case-insensitively.
var ParseConsistency = driver.ParseConsistency

// TableDef defines a table for CreateTable.
type TableDef = statement.TableDef

// ColumnDef defines one column of a TableDef.
type ColumnDef = statement.ColumnDef

// Rows is a lazy, forward-only result sequence. One pass, not restartable;
// the caller must Close it.
type Rows interface {
	// Next returns the next row, or nil and false when the sequence ends.
	Next() (map[string]interface{}, bool)
	// Err returns the first error encountered while iterating.
	Err() error
	// PageState returns the paging token to resume after the current page.
	PageState() []byte
	// Close releases the underlying iterator.
	Close() error
}

// BatchReport describes the outcome of a CreateBatch call. Errors is
// indexed by input record; a nil entry means the record's chunk was
// accepted.
type BatchReport struct {
	Records int
	Chunks  int
	Errors  []error
}

// Failed returns the indexes of records whose chunk was rejected.
func (r *BatchReport) Failed() []int {
	var out []int
	for i, err := range r.Errors {
		if err != nil {
			out = append(out, i)
		}
	}
	return out
}
