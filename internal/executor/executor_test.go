package executor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/datalayerhq/cqlcrud/internal/driver"
	"github.com/datalayerhq/cqlcrud/internal/driver/drivertest"
	"github.com/datalayerhq/cqlcrud/internal/schema"
	"github.com/datalayerhq/cqlcrud/internal/statement"
	"github.com/datalayerhq/cqlcrud/pkg/cruderr"
)

func newFakeUsers(t *testing.T) (*drivertest.Fake, *schema.Model) {
	t.Helper()
	fake := drivertest.New()
	fake.AddTable("users",
		drivertest.Column("id", "int", driver.KindPartitionKey, 0),
		drivertest.Column("name", "text", driver.KindRegular, 0),
	)
	meta, err := fake.TableMetadata(context.Background(), "users")
	require.NoError(t, err)
	return fake, schema.NewModel(meta)
}

func testPolicy() Policy {
	p := DefaultPolicy()
	p.RetryMode = RetryFixed
	p.MaxAttempts = 3
	p.BackoffBase = time.Millisecond
	return p
}

func insertStmt(t *testing.T, m *schema.Model, id int, name string) statement.Statement {
	t.Helper()
	stmt, err := statement.BuildInsert(m, map[string]interface{}{
		"id": id, "name": name,
	}, statement.WriteOptions{})
	require.NoError(t, err)
	return stmt
}

func selectByID(t *testing.T, m *schema.Model, id int) statement.Statement {
	t.Helper()
	preds, err := statement.CompileConditions(m, map[string]interface{}{"id": id}, true, "read")
	require.NoError(t, err)
	stmt, err := statement.BuildSelect(m, preds, statement.SelectOptions{})
	require.NoError(t, err)
	return stmt
}

func TestExecuteRetriesTransientIdempotent(t *testing.T) {
	fake, m := newFakeUsers(t)
	c, err := NewCoordinator(fake, zap.NewNop(), testPolicy(), 0)
	require.NoError(t, err)

	require.NoError(t, c.Exec(context.Background(), insertStmt(t, m, 1, "John"), "create"))
	before := fake.ExecuteCalls()

	fake.FailNext(&driver.TransientError{Cause: errors.New("overloaded")})
	rows, err := c.Execute(context.Background(), selectByID(t, m, 1), "read")
	require.NoError(t, err)
	got, err := Collect(rows)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "John", got[0]["name"])
	assert.Equal(t, before+2, fake.ExecuteCalls())
}

func TestExecuteTransientExhaustsBudget(t *testing.T) {
	fake, m := newFakeUsers(t)
	c, err := NewCoordinator(fake, zap.NewNop(), testPolicy(), 0)
	require.NoError(t, err)

	cause := &driver.TransientError{Cause: errors.New("unavailable")}
	fake.FailNext(cause, cause, cause)

	_, err = c.Execute(context.Background(), selectByID(t, m, 1), "read")
	require.Error(t, err)
	assert.ErrorIs(t, err, cruderr.ErrTransient)

	var exec *cruderr.ExecutionError
	require.ErrorAs(t, err, &exec)
	assert.Equal(t, 3, exec.Attempts)
}

func TestExecuteNonIdempotentNotRetried(t *testing.T) {
	fake, m := newFakeUsers(t)
	c, err := NewCoordinator(fake, zap.NewNop(), testPolicy(), 0)
	require.NoError(t, err)

	fake.FailNext(&driver.TransientError{Cause: errors.New("write timeout")})
	err = c.Exec(context.Background(), insertStmt(t, m, 1, "John"), "create")
	require.Error(t, err)
	assert.ErrorIs(t, err, cruderr.ErrTransient)
	assert.Equal(t, 1, fake.ExecuteCalls())
}

func TestExecuteTimeoutNeverRetried(t *testing.T) {
	fake, m := newFakeUsers(t)
	c, err := NewCoordinator(fake, zap.NewNop(), testPolicy(), 0)
	require.NoError(t, err)

	fake.FailNext(context.DeadlineExceeded)
	_, err = c.Execute(context.Background(), selectByID(t, m, 1), "read")
	require.Error(t, err)
	assert.ErrorIs(t, err, cruderr.ErrTimeout)
	assert.Equal(t, 1, fake.ExecuteCalls())
}

func TestExecuteFatal(t *testing.T) {
	fake, m := newFakeUsers(t)
	c, err := NewCoordinator(fake, zap.NewNop(), testPolicy(), 0)
	require.NoError(t, err)

	fake.FailNext(errors.New("line 1: syntax error"))
	_, err = c.Execute(context.Background(), selectByID(t, m, 1), "read")
	require.Error(t, err)
	assert.ErrorIs(t, err, cruderr.ErrFatal)
	assert.Equal(t, 1, fake.ExecuteCalls())
}

func TestPreparedCacheReuse(t *testing.T) {
	fake, m := newFakeUsers(t)
	c, err := NewCoordinator(fake, zap.NewNop(), DefaultPolicy(), 8)
	require.NoError(t, err)

	for i := 1; i <= 5; i++ {
		require.NoError(t, c.Exec(context.Background(), insertStmt(t, m, i, "u"), "create"))
	}
	// Same statement shape prepares once.
	assert.Equal(t, 1, fake.PrepareCalls())
}

func TestPreparedCacheEviction(t *testing.T) {
	fake, m := newFakeUsers(t)
	c, err := NewCoordinator(fake, zap.NewNop(), DefaultPolicy(), 1)
	require.NoError(t, err)

	insert := insertStmt(t, m, 1, "John")
	read := selectByID(t, m, 1)

	require.NoError(t, c.Exec(context.Background(), insert, "create"))
	for i := 0; i < 2; i++ {
		rows, err := c.Execute(context.Background(), read, "read")
		require.NoError(t, err)
		require.NoError(t, rows.Close())
		require.NoError(t, c.Exec(context.Background(), insert, "create"))
	}
	// Alternating shapes through a one-entry cache re-prepares each time.
	assert.Equal(t, 5, fake.PrepareCalls())
}

func TestUnparameterizedStatementSkipsPrepare(t *testing.T) {
	fake, _ := newFakeUsers(t)
	c, err := NewCoordinator(fake, zap.NewNop(), DefaultPolicy(), 0)
	require.NoError(t, err)

	require.NoError(t, c.Exec(context.Background(), statement.BuildTruncate("users"), "truncate"))
	assert.Zero(t, fake.PrepareCalls())
}

func TestExecuteBatchChunking(t *testing.T) {
	fake, m := newFakeUsers(t)
	policy := DefaultPolicy()
	policy.BatchSize = 2
	c, err := NewCoordinator(fake, zap.NewNop(), policy, 0)
	require.NoError(t, err)

	stmts := make([]statement.Statement, 0, 5)
	for i := 1; i <= 5; i++ {
		stmts = append(stmts, insertStmt(t, m, i, "u"))
	}

	report := c.ExecuteBatch(context.Background(), stmts, "create_batch")
	assert.Equal(t, 5, report.Statements)
	assert.Equal(t, 3, report.Chunks)
	assert.Empty(t, report.Failed())
	assert.Equal(t, 3, fake.BatchCalls())
	assert.Len(t, fake.TableRows("users"), 5)
}

func TestExecuteBatchPartialFailure(t *testing.T) {
	fake, m := newFakeUsers(t)
	policy := DefaultPolicy()
	policy.BatchSize = 2
	c, err := NewCoordinator(fake, zap.NewNop(), policy, 0)
	require.NoError(t, err)

	stmts := make([]statement.Statement, 0, 5)
	for i := 1; i <= 5; i++ {
		stmts = append(stmts, insertStmt(t, m, i, "u"))
	}

	fake.FailNext(&driver.TransientError{Cause: errors.New("overloaded")})
	report := c.ExecuteBatch(context.Background(), stmts, "create_batch")
	assert.Equal(t, 3, report.Chunks)
	assert.Equal(t, []int{0, 1}, report.Failed())
	assert.ErrorIs(t, report.Errors[0], cruderr.ErrTransient)
	assert.NoError(t, report.Errors[2])
	// Later chunks still land.
	assert.Len(t, fake.TableRows("users"), 3)
}

func TestExecuteNormalizesUUIDs(t *testing.T) {
	fake := drivertest.New()
	fake.AddTable("sessions",
		drivertest.Column("token", "uuid", driver.KindPartitionKey, 0),
		drivertest.Column("user", "text", driver.KindRegular, 0),
	)
	meta, err := fake.TableMetadata(context.Background(), "sessions")
	require.NoError(t, err)
	m := schema.NewModel(meta)

	c, err := NewCoordinator(fake, zap.NewNop(), DefaultPolicy(), 0)
	require.NoError(t, err)

	const token = "5f4dcc3b-aaaa-4bbb-8ccc-1dddddddddd1"
	stmt, err := statement.BuildInsert(m, map[string]interface{}{
		"token": token, "user": "john",
	}, statement.WriteOptions{})
	require.NoError(t, err)
	require.NoError(t, c.Exec(context.Background(), stmt, "create"))

	preds, err := statement.CompileConditions(m, map[string]interface{}{"token": token}, true, "read")
	require.NoError(t, err)
	read, err := statement.BuildSelect(m, preds, statement.SelectOptions{})
	require.NoError(t, err)

	rows, err := c.Execute(context.Background(), read, "read")
	require.NoError(t, err)
	got, err := Collect(rows)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, token, got[0]["token"])
}

// rowErrDriver reports execution failures through the returned rows
// instead of the Execute error, the way gocql does when a statement
// fails after the iterator is created.
type rowErrDriver struct {
	*drivertest.Fake
	calls     int32
	failures  int32
	closeOnly bool
}

func (d *rowErrDriver) Execute(ctx context.Context, query string, params []interface{}, opts driver.ExecOptions) (driver.Rows, error) {
	atomic.AddInt32(&d.calls, 1)
	if atomic.AddInt32(&d.failures, -1) >= 0 {
		cause := &driver.TransientError{Cause: errors.New("write timeout")}
		if d.closeOnly {
			return failingRows{closeErr: cause}, nil
		}
		return failingRows{execErr: cause, closeErr: cause}, nil
	}
	return d.Fake.Execute(ctx, query, params, opts)
}

func (d *rowErrDriver) Prepare(ctx context.Context, query string) (driver.Prepared, error) {
	return rowErrPrepared{drv: d, query: query}, nil
}

func (d *rowErrDriver) Calls() int { return int(atomic.LoadInt32(&d.calls)) }

type rowErrPrepared struct {
	drv   *rowErrDriver
	query string
}

func (p rowErrPrepared) Execute(ctx context.Context, params []interface{}, opts driver.ExecOptions) (driver.Rows, error) {
	return p.drv.Execute(ctx, p.query, params, opts)
}

type failingRows struct {
	execErr  error
	closeErr error
}

func (r failingRows) Next() (map[string]interface{}, bool) { return nil, false }
func (r failingRows) Err() error                           { return r.execErr }
func (r failingRows) PageState() []byte                    { return nil }
func (r failingRows) Close() error                         { return r.closeErr }

func TestExecuteRetriesErrorReportedByRows(t *testing.T) {
	fake, m := newFakeUsers(t)
	ins := insertStmt(t, m, 1, "John")
	_, err := fake.Execute(context.Background(), ins.Query, ins.Params, driver.ExecOptions{})
	require.NoError(t, err)

	drv := &rowErrDriver{Fake: fake, failures: 1}
	c, err := NewCoordinator(drv, zap.NewNop(), testPolicy(), 0)
	require.NoError(t, err)

	rows, err := c.Execute(context.Background(), selectByID(t, m, 1), "read")
	require.NoError(t, err)
	got, err := Collect(rows)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "John", got[0]["name"])
	assert.Equal(t, 2, drv.Calls())
}

func TestExecuteRowErrorExhaustsBudget(t *testing.T) {
	fake, m := newFakeUsers(t)
	drv := &rowErrDriver{Fake: fake, failures: 3}
	c, err := NewCoordinator(drv, zap.NewNop(), testPolicy(), 0)
	require.NoError(t, err)

	_, err = c.Execute(context.Background(), selectByID(t, m, 1), "read")
	require.Error(t, err)
	assert.ErrorIs(t, err, cruderr.ErrTransient)

	var exec *cruderr.ExecutionError
	require.ErrorAs(t, err, &exec)
	assert.Equal(t, 3, exec.Attempts)
	assert.Equal(t, 3, drv.Calls())
}

func TestExecRowErrorNonIdempotentSingleAttempt(t *testing.T) {
	fake, m := newFakeUsers(t)
	drv := &rowErrDriver{Fake: fake, failures: 1}
	c, err := NewCoordinator(drv, zap.NewNop(), testPolicy(), 0)
	require.NoError(t, err)

	err = c.Exec(context.Background(), insertStmt(t, m, 1, "John"), "create")
	require.Error(t, err)
	assert.ErrorIs(t, err, cruderr.ErrTransient)
	assert.Equal(t, 1, drv.Calls())
}

func TestExecRetriesCloseError(t *testing.T) {
	fake, m := newFakeUsers(t)
	ins := insertStmt(t, m, 1, "John")
	_, err := fake.Execute(context.Background(), ins.Query, ins.Params, driver.ExecOptions{})
	require.NoError(t, err)

	drv := &rowErrDriver{Fake: fake, failures: 1, closeOnly: true}
	c, err := NewCoordinator(drv, zap.NewNop(), testPolicy(), 0)
	require.NoError(t, err)

	require.NoError(t, c.Exec(context.Background(), selectByID(t, m, 1), "read"))
	assert.Equal(t, 2, drv.Calls())
}

func TestExecuteBatchStatementConsistencyOverride(t *testing.T) {
	fake, m := newFakeUsers(t)
	c, err := NewCoordinator(fake, zap.NewNop(), testPolicy(), 0)
	require.NoError(t, err)

	stmts := []statement.Statement{
		insertStmt(t, m, 1, "John"),
		insertStmt(t, m, 2, "Jane"),
	}
	report := c.ExecuteBatch(context.Background(), stmts, "create_batch")
	require.Empty(t, report.Failed())
	assert.Equal(t, driver.Quorum, fake.LastBatchConsistency())

	all := driver.All
	stmts[0].Consistency = &all
	report = c.ExecuteBatch(context.Background(), stmts, "create_batch")
	require.Empty(t, report.Failed())
	assert.Equal(t, driver.All, fake.LastBatchConsistency())
}

func TestPolicyBackoff(t *testing.T) {
	p := Policy{RetryMode: RetryExponential, BackoffBase: 10 * time.Millisecond, BackoffMax: 35 * time.Millisecond}
	assert.Equal(t, 10*time.Millisecond, p.backoff(0))
	assert.Equal(t, 20*time.Millisecond, p.backoff(1))
	assert.Equal(t, 35*time.Millisecond, p.backoff(2))

	fixed := Policy{RetryMode: RetryFixed, BackoffBase: 5 * time.Millisecond}
	assert.Equal(t, 5*time.Millisecond, fixed.backoff(3))
}
