package schema

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/datalayerhq/cqlcrud/internal/driver"
	"github.com/datalayerhq/cqlcrud/pkg/cruderr"
)

// Catalog discovers table structure from cluster metadata and caches the
// resulting models by table name. A cached entry is invalidated only by an
// explicit Invalidate call; the catalog does not watch for live schema
// changes.
type Catalog struct {
	drv     driver.Driver
	log     *zap.Logger
	retries int
	backoff time.Duration

	mu    sync.RWMutex
	cache map[string]*Model
}

// NewCatalog creates a catalog. retries is the metadata retry budget for
// transient metadata failures; discovery sleeps backoff between attempts.
func NewCatalog(drv driver.Driver, log *zap.Logger, retries int, backoff time.Duration) *Catalog {
	if retries < 1 {
		retries = 1
	}
	return &Catalog{
		drv:     drv,
		log:     log,
		retries: retries,
		backoff: backoff,
		cache:   make(map[string]*Model),
	}
}

// Cached returns the cached model for a table, if discovery already ran.
func (c *Catalog) Cached(table string) (*Model, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.cache[table]
	return m, ok
}

// Discover fetches the table's structure from cluster metadata and caches
// it. It fails with ErrTableNotFound when the table does not exist and
// ErrSchemaUnreachable when metadata cannot be retrieved within the retry
// budget.
func (c *Catalog) Discover(ctx context.Context, table string) (*Model, error) {
	if m, ok := c.Cached(table); ok {
		return m, nil
	}

	var meta *driver.TableMeta
	var err error
	for attempt := 1; attempt <= c.retries; attempt++ {
		meta, err = c.drv.TableMetadata(ctx, table)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			break
		}
		c.log.Warn("schema metadata fetch failed",
			zap.String("table", table),
			zap.Int("attempt", attempt),
			zap.Error(err))
		if attempt < c.retries && c.backoff > 0 {
			select {
			case <-ctx.Done():
				return nil, cruderr.NewSchemaUnreachable(table, ctx.Err())
			case <-time.After(c.backoff):
			}
		}
	}
	if err != nil {
		return nil, cruderr.NewSchemaUnreachable(table, err)
	}
	if meta == nil {
		return nil, cruderr.NewTableNotFound(table)
	}

	m := NewModel(meta)
	c.mu.Lock()
	c.cache[table] = m
	c.mu.Unlock()

	c.log.Debug("discovered table model",
		zap.String("table", table),
		zap.Int("columns", len(m.Columns)),
		zap.Strings("partition_key", m.PartitionKey))
	return m, nil
}

// Invalidate drops a table's cached model.
func (c *Catalog) Invalidate(table string) {
	c.mu.Lock()
	delete(c.cache, table)
	c.mu.Unlock()
}

// ListTables enumerates all tables in the keyspace.
func (c *Catalog) ListTables(ctx context.Context) ([]string, error) {
	tables, err := c.drv.KeyspaceTables(ctx)
	if err != nil {
		return nil, cruderr.NewSchemaUnreachable("", err)
	}
	return tables, nil
}

// WarmUp eagerly discovers every table in the keyspace. Used at connect
// time when eager discovery is enabled.
func (c *Catalog) WarmUp(ctx context.Context) error {
	tables, err := c.ListTables(ctx)
	if err != nil {
		return err
	}
	for _, table := range tables {
		if _, err := c.Discover(ctx, table); err != nil {
			return err
		}
	}
	c.log.Info("schema warm-up complete", zap.Int("tables", len(tables)))
	return nil
}
