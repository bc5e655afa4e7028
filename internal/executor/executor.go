// Package executor runs generated statements against the driver under one
// consistency and retry policy. It owns the prepared-statement cache and
// the batch chunker; callers hand it opaque statements and get back
// normalized rows or a classified error.
package executor

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"

	"github.com/datalayerhq/cqlcrud/internal/driver"
	"github.com/datalayerhq/cqlcrud/internal/statement"
	"github.com/datalayerhq/cqlcrud/pkg/cruderr"
)

// RetryMode selects the backoff shape between attempts.
type RetryMode int

const (
	// RetryNone disables retries; every statement gets one attempt.
	RetryNone RetryMode = iota
	// RetryFixed waits the base backoff between attempts.
	RetryFixed
	// RetryExponential doubles the backoff each attempt, capped.
	RetryExponential
)

// Policy is the execution policy applied to every statement that does not
// carry its own consistency override.
type Policy struct {
	Consistency driver.Consistency
	RetryMode   RetryMode
	// MaxAttempts is the total attempt budget per statement, first try
	// included. Values below 1 mean one attempt.
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration
	// BatchSize caps statements per submitted batch; larger submissions
	// are split into sequential chunks.
	BatchSize int
}

// DefaultPolicy mirrors the server-side defaults: quorum consistency and
// no automatic retries.
func DefaultPolicy() Policy {
	return Policy{
		Consistency: driver.Quorum,
		RetryMode:   RetryNone,
		MaxAttempts: 1,
		BackoffBase: 100 * time.Millisecond,
		BackoffMax:  2 * time.Second,
		BatchSize:   50,
	}
}

func (p Policy) attempts() int {
	if p.RetryMode == RetryNone || p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

func (p Policy) backoff(attempt int) time.Duration {
	switch p.RetryMode {
	case RetryExponential:
		d := p.BackoffBase << uint(attempt)
		if p.BackoffMax > 0 && d > p.BackoffMax {
			return p.BackoffMax
		}
		return d
	case RetryFixed:
		return p.BackoffBase
	default:
		return 0
	}
}

// BatchReport describes the outcome of one batch submission. Errors is
// indexed by input statement; a nil entry means the statement's chunk was
// accepted.
type BatchReport struct {
	Statements int
	Chunks     int
	Errors     []error
}

// Failed returns the indexes of statements whose chunk was rejected.
func (r *BatchReport) Failed() []int {
	var out []int
	for i, err := range r.Errors {
		if err != nil {
			out = append(out, i)
		}
	}
	return out
}

// Coordinator executes statements under the active policy.
type Coordinator struct {
	drv      driver.Driver
	log      *zap.Logger
	prepared *lru.Cache

	mu     sync.RWMutex
	policy Policy
}

// NewCoordinator builds a coordinator over the driver. cacheSize bounds the
// prepared-statement cache; values below 1 fall back to a small default.
func NewCoordinator(drv driver.Driver, log *zap.Logger, policy Policy, cacheSize int) (*Coordinator, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if cacheSize < 1 {
		cacheSize = 128
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, err
	}
	return &Coordinator{drv: drv, log: log, prepared: cache, policy: policy}, nil
}

// Policy returns the active execution policy.
func (c *Coordinator) Policy() Policy {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.policy
}

// SetPolicy replaces the execution policy for subsequent statements.
// In-flight statements keep the policy they started with.
func (c *Coordinator) SetPolicy(p Policy) {
	c.mu.Lock()
	c.policy = p
	c.mu.Unlock()
}

// Execute runs one statement and returns its rows with output values
// normalized. Transient failures are retried under the policy, but only
// for statements marked idempotent; timeouts are never retried.
func (c *Coordinator) Execute(ctx context.Context, stmt statement.Statement, op string) (driver.Rows, error) {
	return c.executeWithRetry(ctx, stmt, op, false)
}

// Exec runs a statement whose rows the caller does not need. The attempt
// covers closing the result, so drivers that defer an execution failure to
// the iterator are still classified and retried.
func (c *Coordinator) Exec(ctx context.Context, stmt statement.Statement, op string) error {
	_, err := c.executeWithRetry(ctx, stmt, op, true)
	return err
}

func (c *Coordinator) executeWithRetry(ctx context.Context, stmt statement.Statement, op string, consume bool) (driver.Rows, error) {
	policy := c.Policy()
	opts := driver.ExecOptions{
		Consistency: policy.Consistency,
		Idempotent:  stmt.Idempotent,
		PageSize:    stmt.PageSize,
		PageState:   stmt.PageState,
	}
	if stmt.Consistency != nil {
		opts.Consistency = *stmt.Consistency
	}

	attempts := policy.attempts()
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			c.log.Warn("retrying statement",
				zap.String("operation", op),
				zap.Int("attempt", attempt+1),
				zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return nil, cruderr.NewTimeout(op, stmt.Query, ctx.Err())
			case <-time.After(policy.backoff(attempt - 1)):
			}
		}

		rows, err := c.run(ctx, stmt, opts)
		if err == nil {
			// Drivers may report an execution failure through the rows
			// rather than the Execute return.
			if rerr := rows.Err(); rerr != nil {
				rows.Close()
				err = rerr
			} else if consume {
				err = rows.Close()
			}
		}
		if err == nil {
			if consume {
				return nil, nil
			}
			return &normalizedRows{inner: rows}, nil
		}
		lastErr = err

		switch driver.Classify(err) {
		case driver.ClassTimeout:
			return nil, cruderr.NewTimeout(op, stmt.Query, err)
		case driver.ClassTransient:
			if !stmt.Idempotent {
				return nil, cruderr.NewTransient(op, stmt.Query, attempt+1, err)
			}
			// retriable; loop
		default:
			return nil, cruderr.NewFatal(op, stmt.Query, err)
		}
	}
	return nil, cruderr.NewTransient(op, stmt.Query, attempts, lastErr)
}

// run dispatches one attempt, going through the prepared-statement cache
// for parameterized statements. DDL and other unparameterized statements
// skip preparation.
func (c *Coordinator) run(ctx context.Context, stmt statement.Statement, opts driver.ExecOptions) (driver.Rows, error) {
	if len(stmt.Params) == 0 {
		return c.drv.Execute(ctx, stmt.Query, nil, opts)
	}

	if cached, ok := c.prepared.Get(stmt.Query); ok {
		return cached.(driver.Prepared).Execute(ctx, stmt.Params, opts)
	}
	prepared, err := c.drv.Prepare(ctx, stmt.Query)
	if err != nil {
		return nil, err
	}
	c.prepared.Add(stmt.Query, prepared)
	return prepared.Execute(ctx, stmt.Params, opts)
}

// ExecuteBatch submits the statements as logged batches of at most the
// policy's batch size. A rejected chunk does not stop later chunks; the
// report records per-statement outcomes.
func (c *Coordinator) ExecuteBatch(ctx context.Context, stmts []statement.Statement, op string) *BatchReport {
	policy := c.Policy()
	size := policy.BatchSize
	if size < 1 {
		size = len(stmts)
	}

	// A per-statement consistency override applies to the whole batch,
	// since gocql batches run at a single level.
	consistency := policy.Consistency
	for _, s := range stmts {
		if s.Consistency != nil {
			consistency = *s.Consistency
			break
		}
	}

	report := &BatchReport{
		Statements: len(stmts),
		Errors:     make([]error, len(stmts)),
	}
	for start := 0; start < len(stmts); start += size {
		end := start + size
		if end > len(stmts) {
			end = len(stmts)
		}
		report.Chunks++

		entries := make([]driver.BatchEntry, 0, end-start)
		for _, s := range stmts[start:end] {
			entries = append(entries, driver.BatchEntry{Query: s.Query, Params: s.Params})
		}

		if err := c.drv.ExecuteBatch(ctx, entries, consistency); err != nil {
			c.log.Warn("batch chunk rejected",
				zap.String("operation", op),
				zap.Int("chunk", report.Chunks),
				zap.Error(err))
			wrapped := c.classifyBatch(op, err)
			for i := start; i < end; i++ {
				report.Errors[i] = wrapped
			}
		}
	}
	return report
}

func (c *Coordinator) classifyBatch(op string, err error) error {
	switch driver.Classify(err) {
	case driver.ClassTimeout:
		return cruderr.NewTimeout(op, "batch", err)
	case driver.ClassTransient:
		return cruderr.NewTransient(op, "batch", 1, err)
	default:
		return cruderr.NewFatal(op, "batch", err)
	}
}

// normalizedRows converts driver output values on the way out.
type normalizedRows struct {
	inner driver.Rows
}

func (r *normalizedRows) Next() (map[string]interface{}, bool) {
	row, ok := r.inner.Next()
	if !ok {
		return nil, false
	}
	return normalizeRow(row), true
}

func (r *normalizedRows) Err() error        { return r.inner.Err() }
func (r *normalizedRows) PageState() []byte { return r.inner.PageState() }
func (r *normalizedRows) Close() error      { return r.inner.Close() }
