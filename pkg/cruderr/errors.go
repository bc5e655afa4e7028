// Package cruderr defines the error taxonomy shared by all cqlcrud
// components. Errors fall into three families: schema discovery failures,
// request validation failures, and execution failures. Every error carries
// enough context (table, operation, column) for the caller to diagnose it
// without re-deriving state, and every family is matchable with errors.Is
// against the sentinel errors below.
package cruderr

import (
	"errors"
	"fmt"
)

// Sentinel errors for errors.Is matching.
var (
	// ErrTableNotFound is returned when schema discovery finds no such table.
	ErrTableNotFound = errors.New("table not found")

	// ErrSchemaUnreachable is returned when cluster metadata cannot be
	// retrieved within the configured retry budget.
	ErrSchemaUnreachable = errors.New("schema metadata unreachable")

	// ErrUnknownColumn is returned when a record or condition references a
	// column the table does not have.
	ErrUnknownColumn = errors.New("unknown column")

	// ErrMissingPrimaryKey is returned when an insert omits a primary-key column.
	ErrMissingPrimaryKey = errors.New("missing primary key column")

	// ErrPrimaryKeyMismatch is returned when an update assigns a primary-key
	// column instead of matching it in the conditions.
	ErrPrimaryKeyMismatch = errors.New("primary key must be matched, not assigned")

	// ErrUnscopedMutation is returned when an update or delete carries no
	// conditions, which would mutate the whole table.
	ErrUnscopedMutation = errors.New("mutation without conditions")

	// ErrTransient is returned for retriable execution failures such as
	// request timeouts and unavailable replicas.
	ErrTransient = errors.New("transient execution failure")

	// ErrTimeout is returned when the caller's deadline expires.
	ErrTimeout = errors.New("execution deadline exceeded")

	// ErrFatal is returned for non-retriable execution failures such as
	// authentication errors and malformed queries.
	ErrFatal = errors.New("fatal execution failure")
)

// SchemaError wraps a schema discovery failure with the table it concerns.
type SchemaError struct {
	Table  string
	Reason error // ErrTableNotFound or ErrSchemaUnreachable
	Cause  error // underlying driver error, if any
}

// Error implements the error interface.
func (e *SchemaError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("schema discovery for table %q: %v: %v", e.Table, e.Reason, e.Cause)
	}
	return fmt.Sprintf("schema discovery for table %q: %v", e.Table, e.Reason)
}

// Unwrap returns the underlying driver error.
func (e *SchemaError) Unwrap() error {
	return e.Cause
}

// Is matches the error family sentinel.
func (e *SchemaError) Is(target error) bool {
	return errors.Is(e.Reason, target)
}

// NewTableNotFound creates a SchemaError for a missing table.
func NewTableNotFound(table string) *SchemaError {
	return &SchemaError{Table: table, Reason: ErrTableNotFound}
}

// NewSchemaUnreachable creates a SchemaError for unreachable metadata.
func NewSchemaUnreachable(table string, cause error) *SchemaError {
	return &SchemaError{Table: table, Reason: ErrSchemaUnreachable, Cause: cause}
}

// ValidationError wraps a request validation failure. Validation errors are
// always raised before any statement reaches the driver.
type ValidationError struct {
	Table     string
	Operation string
	Column    string
	Reason    error
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("%s on table %q: column %q: %v", e.Operation, e.Table, e.Column, e.Reason)
	}
	return fmt.Sprintf("%s on table %q: %v", e.Operation, e.Table, e.Reason)
}

// Is matches the error family sentinel.
func (e *ValidationError) Is(target error) bool {
	return errors.Is(e.Reason, target)
}

// NewUnknownColumn creates a ValidationError for a column not in the model.
func NewUnknownColumn(op, table, column string) *ValidationError {
	return &ValidationError{Table: table, Operation: op, Column: column, Reason: ErrUnknownColumn}
}

// NewMissingPrimaryKey creates a ValidationError for an absent key column.
func NewMissingPrimaryKey(op, table, column string) *ValidationError {
	return &ValidationError{Table: table, Operation: op, Column: column, Reason: ErrMissingPrimaryKey}
}

// NewPrimaryKeyMismatch creates a ValidationError for a key column assigned
// in an update record.
func NewPrimaryKeyMismatch(op, table, column string) *ValidationError {
	return &ValidationError{Table: table, Operation: op, Column: column, Reason: ErrPrimaryKeyMismatch}
}

// NewUnscopedMutation creates a ValidationError for a condition-free mutation.
func NewUnscopedMutation(op, table string) *ValidationError {
	return &ValidationError{Table: table, Operation: op, Reason: ErrUnscopedMutation}
}

// ExecutionError wraps a failure surfaced while executing a statement.
type ExecutionError struct {
	Operation string
	Query     string
	Attempts  int
	Reason    error // ErrTransient, ErrTimeout or ErrFatal
	Cause     error
}

// Error implements the error interface.
func (e *ExecutionError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("%s: %v after %d attempts: %v (query: %s)", e.Operation, e.Reason, e.Attempts, e.Cause, e.Query)
	}
	return fmt.Sprintf("%s: %v: %v (query: %s)", e.Operation, e.Reason, e.Cause, e.Query)
}

// Unwrap returns the underlying driver error.
func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

// Is matches the error family sentinel.
func (e *ExecutionError) Is(target error) bool {
	return errors.Is(e.Reason, target)
}

// NewTransient creates an ExecutionError for a retriable failure.
func NewTransient(op, query string, attempts int, cause error) *ExecutionError {
	return &ExecutionError{Operation: op, Query: query, Attempts: attempts, Reason: ErrTransient, Cause: cause}
}

// NewTimeout creates an ExecutionError for an expired deadline.
func NewTimeout(op, query string, cause error) *ExecutionError {
	return &ExecutionError{Operation: op, Query: query, Attempts: 1, Reason: ErrTimeout, Cause: cause}
}

// NewFatal creates an ExecutionError for a non-retriable failure.
func NewFatal(op, query string, cause error) *ExecutionError {
	return &ExecutionError{Operation: op, Query: query, Attempts: 1, Reason: ErrFatal, Cause: cause}
}

// IsValidation reports whether err belongs to the validation family.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsTransient reports whether err is a retriable execution failure.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
