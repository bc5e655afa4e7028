package cqlcrud

import (
	"context"

	"go.uber.org/zap"

	"github.com/datalayerhq/cqlcrud/internal/driver"
	"github.com/datalayerhq/cqlcrud/internal/executor"
	"github.com/datalayerhq/cqlcrud/internal/schema"
	"github.com/datalayerhq/cqlcrud/internal/statement"
)

// Client is the data-access facade. It is safe for concurrent use; one
// client per keyspace is the intended shape.
type Client struct {
	drv     driver.Driver
	catalog *schema.Catalog
	models  *schema.Registry
	exec    *executor.Coordinator
	log     *zap.Logger
}

// Open connects to the cluster described by the config and returns a
// ready client. With eager discovery enabled it also warms the model
// cache for every table in the keyspace.
func Open(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	driverCfg, err := cfg.driverConfig()
	if err != nil {
		return nil, err
	}
	drv, err := driver.ConnectGocql(driverCfg, log)
	if err != nil {
		return nil, err
	}

	client, err := newClient(drv, log, cfg)
	if err != nil {
		drv.Close()
		return nil, err
	}
	if cfg.EagerDiscovery {
		if err := client.catalog.WarmUp(ctx); err != nil {
			drv.Close()
			return nil, err
		}
	}
	return client, nil
}

// newClient wires the engine over an already connected driver. Tests use
// it with the in-memory driver.
func newClient(drv driver.Driver, log *zap.Logger, cfg Config) (*Client, error) {
	policy, err := cfg.policy()
	if err != nil {
		return nil, err
	}
	coordinator, err := executor.NewCoordinator(drv, log, policy, cfg.PreparedCacheSize)
	if err != nil {
		return nil, err
	}
	catalog := schema.NewCatalog(drv, log, cfg.MetadataRetries, cfg.MetadataBackoff)
	return &Client{
		drv:     drv,
		catalog: catalog,
		models:  schema.NewRegistry(catalog),
		exec:    coordinator,
		log:     log,
	}, nil
}

// Close releases the underlying session.
func (c *Client) Close() {
	c.drv.Close()
}

// Create inserts one record. Every primary-key column must be present; the
// write is an upsert, matching Cassandra INSERT semantics.
func (c *Client) Create(ctx context.Context, table string, record map[string]interface{}, opts ...WriteOption) error {
	m, err := c.models.GetModel(ctx, table)
	if err != nil {
		return err
	}
	stmt, err := statement.BuildInsert(m, record, writeOptions(opts))
	if err != nil {
		return err
	}
	return c.exec.Exec(ctx, stmt, "create")
}

// CreateBatch inserts records as logged batches, chunked to the policy's
// batch size. Validation failures reject the whole call before anything is
// submitted; execution failures are reported per record, and a rejected
// chunk does not stop later chunks. Atomicity holds within a chunk, not
// across the call.
func (c *Client) CreateBatch(ctx context.Context, table string, records []map[string]interface{}, opts ...WriteOption) (*BatchReport, error) {
	m, err := c.models.GetModel(ctx, table)
	if err != nil {
		return nil, err
	}

	wopts := writeOptions(opts)
	stmts := make([]statement.Statement, 0, len(records))
	for _, record := range records {
		stmt, err := statement.BuildInsert(m, record, wopts)
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, stmt)
	}

	report := c.exec.ExecuteBatch(ctx, stmts, "create_batch")
	return &BatchReport{
		Records: report.Statements,
		Chunks:  report.Chunks,
		Errors:  report.Errors,
	}, nil
}

// Read returns the rows matching the conditions. A scalar condition value
// matches by equality, a slice by membership; an empty or nil condition
// map reads the whole table. Rows stream lazily; the caller must Close
// them.
func (c *Client) Read(ctx context.Context, table string, conditions map[string]interface{}, opts ...ReadOption) (Rows, error) {
	m, err := c.models.GetModel(ctx, table)
	if err != nil {
		return nil, err
	}
	preds, err := statement.CompileConditions(m, conditions, true, "read")
	if err != nil {
		return nil, err
	}
	stmt, err := statement.BuildSelect(m, preds, readOptions(opts))
	if err != nil {
		return nil, err
	}
	return c.exec.Execute(ctx, stmt, "read")
}

// ReadAll is Read with the result set drained into a slice. Large results
// should use Read and iterate.
func (c *Client) ReadAll(ctx context.Context, table string, conditions map[string]interface{}, opts ...ReadOption) ([]map[string]interface{}, error) {
	rows, err := c.Read(ctx, table, conditions, opts...)
	if err != nil {
		return nil, err
	}
	return executor.Collect(rows)
}

// Update assigns the record's columns on every row matching the
// conditions. The record must not contain primary-key columns; the
// condition map must not be empty. Updating a nonexistent key inserts a
// row, matching Cassandra UPDATE semantics.
func (c *Client) Update(ctx context.Context, table string, record, conditions map[string]interface{}, opts ...WriteOption) error {
	m, err := c.models.GetModel(ctx, table)
	if err != nil {
		return err
	}
	preds, err := statement.CompileConditions(m, conditions, false, "update")
	if err != nil {
		return err
	}
	stmt, err := statement.BuildUpdate(m, record, preds, writeOptions(opts))
	if err != nil {
		return err
	}
	return c.exec.Exec(ctx, stmt, "update")
}

// Delete removes every row matching the conditions. The condition map must
// not be empty; use TruncateTable to clear a table.
func (c *Client) Delete(ctx context.Context, table string, conditions map[string]interface{}, opts ...WriteOption) error {
	m, err := c.models.GetModel(ctx, table)
	if err != nil {
		return err
	}
	preds, err := statement.CompileConditions(m, conditions, false, "delete")
	if err != nil {
		return err
	}
	stmt, err := statement.BuildDelete(m, preds, writeOptions(opts))
	if err != nil {
		return err
	}
	return c.exec.Exec(ctx, stmt, "delete")
}

// ExecuteRaw runs caller-supplied CQL with bound parameters under the
// active policy. The statement is treated as non-idempotent.
func (c *Client) ExecuteRaw(ctx context.Context, query string, params ...interface{}) (Rows, error) {
	return c.exec.Execute(ctx, statement.Statement{Query: query, Params: params}, "execute_raw")
}

// CreateTable creates a table from the definition and discovers its model.
func (c *Client) CreateTable(ctx context.Context, def TableDef) error {
	stmt, err := statement.BuildCreateTable(def)
	if err != nil {
		return err
	}
	if err := c.exec.Exec(ctx, stmt, "create_table"); err != nil {
		return err
	}
	c.models.Invalidate(def.Name)
	_, err = c.models.GetModel(ctx, def.Name)
	return err
}

// DropTable drops a table and forgets its cached model.
func (c *Client) DropTable(ctx context.Context, table string, ifExists bool) error {
	if err := c.exec.Exec(ctx, statement.BuildDropTable(table, ifExists), "drop_table"); err != nil {
		return err
	}
	c.models.Invalidate(table)
	return nil
}

// TruncateTable removes every row from a table.
func (c *Client) TruncateTable(ctx context.Context, table string) error {
	return c.exec.Exec(ctx, statement.BuildTruncate(table), "truncate_table")
}

// ListTables enumerates the tables in the keyspace.
func (c *Client) ListTables(ctx context.Context) ([]string, error) {
	return c.catalog.ListTables(ctx)
}

// DescribeTable returns the column names of a table in canonical order,
// discovering the model if needed.
func (c *Client) DescribeTable(ctx context.Context, table string) ([]string, error) {
	m, err := c.models.GetModel(ctx, table)
	if err != nil {
		return nil, err
	}
	return m.ColumnNames(), nil
}

// RefreshTable rediscovers a table's model, picking up schema changes made
// outside this client.
func (c *Client) RefreshTable(ctx context.Context, table string) error {
	_, err := c.models.Refresh(ctx, table)
	return err
}

// SetConsistency changes the default consistency level for subsequent
// calls. Reconfigure before sharing the client across goroutines.
func (c *Client) SetConsistency(level string) error {
	consistency, err := driver.ParseConsistency(level)
	if err != nil {
		return err
	}
	p := c.exec.Policy()
	p.Consistency = consistency
	c.exec.SetPolicy(p)
	return nil
}

// SetRetryPolicy changes how transient failures are retried for subsequent
// calls. mode is "none", "fixed" or "exponential"; maxRetries is the retry
// count on top of the first attempt.
func (c *Client) SetRetryPolicy(mode string, maxRetries int) error {
	parsed, err := parseRetryMode(mode)
	if err != nil {
		return err
	}
	p := c.exec.Policy()
	p.RetryMode = parsed
	p.MaxAttempts = maxRetries + 1
	if parsed == executor.RetryNone {
		p.MaxAttempts = 1
	}
	c.exec.SetPolicy(p)
	return nil
}
