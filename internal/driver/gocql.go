package driver

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"
)

// GocqlConfig carries the connection parameters for the gocql session.
type GocqlConfig struct {
	Hosts           []string
	Port            int
	Keyspace        string
	Username        string
	Password        string
	ProtocolVersion int
	PoolSize        int
	Timeout         time.Duration
	ConnectTimeout  time.Duration
	Consistency     Consistency

	SSL                 bool
	SSLCert             string
	SSLKey              string
	SSLRootCert         string
	SSLHostVerification bool

	Compression bool
}

// GocqlDriver implements Driver on top of a gocql session.
type GocqlDriver struct {
	session  *gocql.Session
	keyspace string
	log      *zap.Logger
}

// ConnectGocql establishes a session and verifies it with a health check.
func ConnectGocql(cfg GocqlConfig, log *zap.Logger) (*GocqlDriver, error) {
	cluster := gocql.NewCluster(cfg.Hosts...)
	cluster.Port = cfg.Port
	cluster.Keyspace = cfg.Keyspace
	cluster.Consistency = toGocqlConsistency(cfg.Consistency)
	cluster.Timeout = cfg.Timeout
	cluster.ConnectTimeout = cfg.ConnectTimeout
	// Retries are owned by the execution coordinator, not the driver.
	cluster.RetryPolicy = &gocql.SimpleRetryPolicy{NumRetries: 0}

	if cfg.Username != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: cfg.Username,
			Password: cfg.Password,
		}
	}
	if cfg.ProtocolVersion > 0 {
		cluster.ProtoVersion = cfg.ProtocolVersion
	}
	if cfg.PoolSize > 0 {
		cluster.NumConns = cfg.PoolSize
	}
	if cfg.Compression {
		cluster.Compressor = &gocql.SnappyCompressor{}
	}
	if cfg.SSL {
		cluster.SslOpts = &gocql.SslOptions{
			CertPath:               cfg.SSLCert,
			KeyPath:                cfg.SSLKey,
			CaPath:                 cfg.SSLRootCert,
			EnableHostVerification: cfg.SSLHostVerification,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("error connecting to Cassandra: %w", err)
	}

	// Test the connection before handing the session out.
	if err := session.Query("SELECT release_version FROM system.local").Scan(new(string)); err != nil {
		session.Close()
		return nil, fmt.Errorf("error testing Cassandra connection: %w", err)
	}

	log.Info("connected to Cassandra",
		zap.Strings("hosts", cfg.Hosts),
		zap.String("keyspace", cfg.Keyspace),
		zap.String("consistency", cfg.Consistency.String()))

	return &GocqlDriver{session: session, keyspace: cfg.Keyspace, log: log}, nil
}

func (d *GocqlDriver) Execute(ctx context.Context, query string, params []interface{}, opts ExecOptions) (Rows, error) {
	q := d.session.Query(query, params...).
		WithContext(ctx).
		Consistency(toGocqlConsistency(opts.Consistency)).
		Idempotent(opts.Idempotent)
	if opts.PageSize > 0 {
		q = q.PageSize(opts.PageSize)
	}
	if len(opts.PageState) > 0 {
		q = q.PageState(opts.PageState)
	}

	// gocql reports execution failures only through the iterator. Fetch
	// the first row now so a failed execution surfaces here, where the
	// coordinator can classify and retry it, instead of at Close.
	iter := q.Iter()
	first := make(map[string]interface{})
	if iter.MapScan(first) {
		return &gocqlRows{iter: iter, peeked: first}, nil
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	return &gocqlRows{iter: iter, done: true, closed: true}, nil
}

func (d *GocqlDriver) Prepare(ctx context.Context, query string) (Prepared, error) {
	// gocql prepares transparently on first execution and caches by query
	// text; the handle pins the text so repeated shapes skip rebuilding.
	return &gocqlPrepared{driver: d, query: query}, nil
}

func (d *GocqlDriver) ExecuteBatch(ctx context.Context, entries []BatchEntry, consistency Consistency) error {
	batch := d.session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	batch.SetConsistency(toGocqlConsistency(consistency))
	for _, entry := range entries {
		batch.Query(entry.Query, entry.Params...)
	}
	return d.session.ExecuteBatch(batch)
}

// TableMetadata reads column structure from system_schema, the same source
// cqlsh DESCRIBE uses. Columns are returned sorted by name; key ordering is
// reconstructed from Position by the schema catalog.
func (d *GocqlDriver) TableMetadata(ctx context.Context, table string) (*TableMeta, error) {
	iter := d.session.Query(`
		SELECT column_name, type, kind, position
		FROM system_schema.columns
		WHERE keyspace_name = ? AND table_name = ?
	`, d.keyspace, table).WithContext(ctx).Iter()

	var columns []ColumnMeta
	var name, typeText, kind string
	var position int
	for iter.Scan(&name, &typeText, &kind, &position) {
		columns = append(columns, ColumnMeta{
			Name:     name,
			TypeText: typeText,
			Kind:     kind,
			Position: position,
		})
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("error fetching columns for table %s.%s: %w", d.keyspace, table, err)
	}
	if len(columns) == 0 {
		return nil, nil
	}

	sort.SliceStable(columns, func(i, j int) bool { return columns[i].Name < columns[j].Name })
	return &TableMeta{Name: table, Columns: columns}, nil
}

func (d *GocqlDriver) KeyspaceTables(ctx context.Context) ([]string, error) {
	iter := d.session.Query(
		"SELECT table_name FROM system_schema.tables WHERE keyspace_name = ?",
		d.keyspace,
	).WithContext(ctx).Iter()

	var tables []string
	var table string
	for iter.Scan(&table) {
		tables = append(tables, table)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("error fetching tables for keyspace %s: %w", d.keyspace, err)
	}
	return tables, nil
}

func (d *GocqlDriver) Close() {
	d.session.Close()
}

type gocqlPrepared struct {
	driver *GocqlDriver
	query  string
}

func (p *gocqlPrepared) Execute(ctx context.Context, params []interface{}, opts ExecOptions) (Rows, error) {
	return p.driver.Execute(ctx, p.query, params, opts)
}

type gocqlRows struct {
	iter   *gocql.Iter
	peeked map[string]interface{}
	done   bool
	err    error
	closed bool
}

func (r *gocqlRows) Next() (map[string]interface{}, bool) {
	if r.peeked != nil {
		row := r.peeked
		r.peeked = nil
		return row, true
	}
	if r.done {
		return nil, false
	}
	row := make(map[string]interface{})
	if !r.iter.MapScan(row) {
		r.done = true
		if !r.closed {
			r.closed = true
			r.err = r.iter.Close()
		}
		return nil, false
	}
	return row, true
}

func (r *gocqlRows) Err() error {
	return r.err
}

func (r *gocqlRows) PageState() []byte {
	return r.iter.PageState()
}

func (r *gocqlRows) Close() error {
	if !r.closed {
		r.closed = true
		r.err = r.iter.Close()
	}
	return r.err
}

func toGocqlConsistency(c Consistency) gocql.Consistency {
	switch c {
	case Any:
		return gocql.Any
	case One:
		return gocql.One
	case Two:
		return gocql.Two
	case Three:
		return gocql.Three
	case All:
		return gocql.All
	case LocalQuorum:
		return gocql.LocalQuorum
	case EachQuorum:
		return gocql.EachQuorum
	case LocalOne:
		return gocql.LocalOne
	default:
		return gocql.Quorum
	}
}

// classifyGocql recognizes gocql's error codes: overload, unavailable
// replicas and request timeouts are transient; syntax, auth and other
// server rejections are fatal.
func classifyGocql(err error) ErrorClass {
	if errors.Is(err, gocql.ErrTimeoutNoResponse) || errors.Is(err, gocql.ErrNoConnections) {
		return ClassTransient
	}

	var re gocql.RequestError
	if errors.As(err, &re) {
		switch re.Code() {
		case gocql.ErrCodeUnavailable,
			gocql.ErrCodeOverloaded,
			gocql.ErrCodeBootstrapping,
			gocql.ErrCodeWriteTimeout,
			gocql.ErrCodeReadTimeout:
			return ClassTransient
		default:
			return ClassFatal
		}
	}
	return ClassFatal
}
