// Package drivertest provides an in-memory driver.Driver for tests. It
// interprets the statement shapes the statement builder generates (INSERT,
// SELECT, UPDATE, DELETE, TRUNCATE and table DDL) against map-backed
// tables, and lets tests inject failures and count capability calls.
package drivertest

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/datalayerhq/cqlcrud/internal/driver"
)

// Fake is an in-memory Driver implementation.
type Fake struct {
	mu     sync.Mutex
	tables map[string]*table

	// DiscoveryDelay slows TableMetadata down so concurrency tests can
	// overlap first-access discovery.
	DiscoveryDelay time.Duration

	metadataCalls int32
	prepareCalls  int32
	executeCalls  int32
	batchCalls    int32

	pendingErrs []error
	metadataErr error

	lastBatchConsistency driver.Consistency
}

type table struct {
	meta driver.TableMeta
	pk   []string
	rows []map[string]interface{}
}

// New creates an empty fake driver.
func New() *Fake {
	return &Fake{tables: make(map[string]*table)}
}

// Column builds a ColumnMeta for AddTable.
func Column(name, typeText, kind string, position int) driver.ColumnMeta {
	return driver.ColumnMeta{Name: name, TypeText: typeText, Kind: kind, Position: position}
}

// AddTable registers a table with the given columns.
func (f *Fake) AddTable(name string, cols ...driver.ColumnMeta) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addTableLocked(name, cols)
}

func (f *Fake) addTableLocked(name string, cols []driver.ColumnMeta) {
	t := &table{meta: driver.TableMeta{Name: name, Columns: cols}}
	for _, kind := range []string{driver.KindPartitionKey, driver.KindClustering} {
		var keys []driver.ColumnMeta
		for _, c := range cols {
			if c.Kind == kind {
				keys = append(keys, c)
			}
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i].Position < keys[j].Position })
		for _, c := range keys {
			t.pk = append(t.pk, c.Name)
		}
	}
	f.tables[name] = t
}

// FailNext queues an error to be returned by the next Execute or
// ExecuteBatch call. Multiple queued errors are consumed in order.
func (f *Fake) FailNext(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pendingErrs = append(f.pendingErrs, errs...)
}

// SetMetadataErr makes TableMetadata and KeyspaceTables fail.
func (f *Fake) SetMetadataErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.metadataErr = err
}

// MetadataCalls returns how many TableMetadata calls were made.
func (f *Fake) MetadataCalls() int { return int(atomic.LoadInt32(&f.metadataCalls)) }

// PrepareCalls returns how many Prepare calls were made.
func (f *Fake) PrepareCalls() int { return int(atomic.LoadInt32(&f.prepareCalls)) }

// ExecuteCalls returns how many Execute calls were made.
func (f *Fake) ExecuteCalls() int { return int(atomic.LoadInt32(&f.executeCalls)) }

// BatchCalls returns how many ExecuteBatch calls were made.
func (f *Fake) BatchCalls() int { return int(atomic.LoadInt32(&f.batchCalls)) }

// LastBatchConsistency returns the consistency of the most recent
// ExecuteBatch call.
func (f *Fake) LastBatchConsistency() driver.Consistency {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastBatchConsistency
}

// TableRows returns a copy of a table's rows, for assertions.
func (f *Fake) TableRows(name string) []map[string]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tables[name]
	if !ok {
		return nil
	}
	out := make([]map[string]interface{}, len(t.rows))
	for i, r := range t.rows {
		out[i] = copyRow(r)
	}
	return out
}

// HasTable reports whether a table is registered.
func (f *Fake) HasTable(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.tables[name]
	return ok
}

func (f *Fake) takeErr() error {
	if len(f.pendingErrs) == 0 {
		return nil
	}
	err := f.pendingErrs[0]
	f.pendingErrs = f.pendingErrs[1:]
	return err
}

func (f *Fake) Execute(ctx context.Context, query string, params []interface{}, opts driver.ExecOptions) (driver.Rows, error) {
	atomic.AddInt32(&f.executeCalls, 1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeErr(); err != nil {
		return nil, err
	}

	rows, err := f.applyLocked(query, params, opts.PageSize)
	if err != nil {
		return nil, err
	}
	return &sliceRows{rows: rows}, nil
}

func (f *Fake) Prepare(ctx context.Context, query string) (driver.Prepared, error) {
	atomic.AddInt32(&f.prepareCalls, 1)
	return &fakePrepared{fake: f, query: query}, nil
}

func (f *Fake) ExecuteBatch(ctx context.Context, entries []driver.BatchEntry, consistency driver.Consistency) error {
	atomic.AddInt32(&f.batchCalls, 1)
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastBatchConsistency = consistency
	if err := f.takeErr(); err != nil {
		return err
	}

	for _, entry := range entries {
		if _, err := f.applyLocked(entry.Query, entry.Params, 0); err != nil {
			return err
		}
	}
	return nil
}

func (f *Fake) TableMetadata(ctx context.Context, name string) (*driver.TableMeta, error) {
	atomic.AddInt32(&f.metadataCalls, 1)
	if f.DiscoveryDelay > 0 {
		time.Sleep(f.DiscoveryDelay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.metadataErr != nil {
		return nil, f.metadataErr
	}
	t, ok := f.tables[name]
	if !ok {
		return nil, nil
	}
	meta := t.meta
	return &meta, nil
}

func (f *Fake) KeyspaceTables(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.metadataErr != nil {
		return nil, f.metadataErr
	}
	names := make([]string, 0, len(f.tables))
	for name := range f.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (f *Fake) Close() {}

type fakePrepared struct {
	fake  *Fake
	query string
}

func (p *fakePrepared) Execute(ctx context.Context, params []interface{}, opts driver.ExecOptions) (driver.Rows, error) {
	return p.fake.Execute(ctx, p.query, params, opts)
}

type sliceRows struct {
	rows []map[string]interface{}
	pos  int
}

func (r *sliceRows) Next() (map[string]interface{}, bool) {
	if r.pos >= len(r.rows) {
		return nil, false
	}
	row := r.rows[r.pos]
	r.pos++
	return row, true
}

func (r *sliceRows) Err() error        { return nil }
func (r *sliceRows) PageState() []byte { return nil }
func (r *sliceRows) Close() error      { return nil }

// applyLocked interprets one generated statement against the tables.
func (f *Fake) applyLocked(query string, params []interface{}, pageSize int) ([]map[string]interface{}, error) {
	q := strings.TrimSpace(query)
	upper := strings.ToUpper(q)

	switch {
	case strings.HasPrefix(upper, "INSERT INTO "):
		return nil, f.applyInsert(q, params)
	case strings.HasPrefix(upper, "SELECT "):
		return f.applySelect(q, params)
	case strings.HasPrefix(upper, "UPDATE "):
		return nil, f.applyUpdate(q, params)
	case strings.HasPrefix(upper, "DELETE FROM "):
		return nil, f.applyDelete(q, params)
	case strings.HasPrefix(upper, "TRUNCATE TABLE "):
		name := unquote(strings.TrimSpace(q[len("TRUNCATE TABLE "):]))
		if t, ok := f.tables[name]; ok {
			t.rows = nil
		}
		return nil, nil
	case strings.HasPrefix(upper, "CREATE TABLE "):
		return nil, f.applyCreateTable(q)
	case strings.HasPrefix(upper, "DROP TABLE "):
		rest := strings.TrimSpace(q[len("DROP TABLE "):])
		rest = strings.TrimSpace(strings.TrimPrefix(rest, "IF EXISTS "))
		delete(f.tables, unquote(rest))
		return nil, nil
	default:
		return nil, fmt.Errorf("drivertest: unsupported statement: %s", q)
	}
}

func (f *Fake) applyInsert(q string, params []interface{}) error {
	// INSERT INTO t (a, b) VALUES (?, ?) [USING TTL ?]
	if strings.HasSuffix(q, "USING TTL ?") {
		params = params[:len(params)-1]
	}
	open := strings.Index(q, "(")
	name := unquote(strings.TrimSpace(q[len("INSERT INTO "):open]))
	cols := splitIdentifiers(q[open+1 : strings.Index(q, ")")])

	t, ok := f.tables[name]
	if !ok {
		return fmt.Errorf("drivertest: no such table %q", name)
	}
	if len(cols) != len(params) {
		return fmt.Errorf("drivertest: %d columns but %d params", len(cols), len(params))
	}

	record := make(map[string]interface{}, len(cols))
	for i, col := range cols {
		record[col] = params[i]
	}

	// Cassandra INSERT is an upsert on the primary key.
	for _, row := range t.rows {
		if keyMatches(t.pk, row, record) {
			for k, v := range record {
				row[k] = v
			}
			return nil
		}
	}
	t.rows = append(t.rows, record)
	return nil
}

func (f *Fake) applySelect(q string, params []interface{}) ([]map[string]interface{}, error) {
	fromIdx := strings.Index(q, " FROM ")
	projection := strings.TrimSpace(q[len("SELECT "):fromIdx])
	rest := q[fromIdx+len(" FROM "):]

	limit := 0
	if i := strings.LastIndex(rest, " LIMIT "); i != -1 {
		n, err := strconv.Atoi(strings.TrimSpace(rest[i+len(" LIMIT "):]))
		if err != nil {
			return nil, err
		}
		limit = n
		rest = rest[:i]
	}

	whereText := ""
	if i := strings.Index(rest, " WHERE "); i != -1 {
		whereText = rest[i+len(" WHERE "):]
		rest = rest[:i]
	}
	name := unquote(strings.TrimSpace(rest))

	t, ok := f.tables[name]
	if !ok {
		return nil, fmt.Errorf("drivertest: no such table %q", name)
	}

	match, err := compileWhere(whereText, params)
	if err != nil {
		return nil, err
	}

	var out []map[string]interface{}
	for _, row := range t.rows {
		if !match(row) {
			continue
		}
		if projection == "*" {
			out = append(out, copyRow(row))
		} else {
			cols := splitIdentifiers(projection)
			projected := make(map[string]interface{}, len(cols))
			for _, col := range cols {
				projected[col] = row[col]
			}
			out = append(out, projected)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *Fake) applyUpdate(q string, params []interface{}) error {
	// UPDATE t [USING TTL ?] SET a = ?, b = ? WHERE c = ?
	setIdx := strings.Index(q, " SET ")
	head := q[len("UPDATE "):setIdx]
	if strings.HasSuffix(strings.TrimSpace(head), "USING TTL ?") {
		head = strings.TrimSuffix(strings.TrimSpace(head), "USING TTL ?")
		params = params[1:]
	}
	name := unquote(strings.TrimSpace(head))

	whereIdx := strings.Index(q, " WHERE ")
	setText := q[setIdx+len(" SET ") : whereIdx]
	whereText := q[whereIdx+len(" WHERE "):]

	var setCols []string
	for _, part := range strings.Split(setText, ",") {
		col := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(part), "= ?"))
		setCols = append(setCols, unquote(col))
	}

	setParams := params[:len(setCols)]
	match, err := compileWhere(whereText, params[len(setCols):])
	if err != nil {
		return err
	}

	t, ok := f.tables[name]
	if !ok {
		return fmt.Errorf("drivertest: no such table %q", name)
	}
	for _, row := range t.rows {
		if match(row) {
			for i, col := range setCols {
				row[col] = setParams[i]
			}
		}
	}
	return nil
}

func (f *Fake) applyDelete(q string, params []interface{}) error {
	whereIdx := strings.Index(q, " WHERE ")
	name := unquote(strings.TrimSpace(q[len("DELETE FROM "):whereIdx]))
	match, err := compileWhere(q[whereIdx+len(" WHERE "):], params)
	if err != nil {
		return err
	}

	t, ok := f.tables[name]
	if !ok {
		return fmt.Errorf("drivertest: no such table %q", name)
	}
	var kept []map[string]interface{}
	for _, row := range t.rows {
		if !match(row) {
			kept = append(kept, row)
		}
	}
	t.rows = kept
	return nil
}

func (f *Fake) applyCreateTable(q string) error {
	// CREATE TABLE [IF NOT EXISTS] t (a text, b int, PRIMARY KEY ((a), b))
	rest := strings.TrimSpace(q[len("CREATE TABLE "):])
	rest = strings.TrimSpace(strings.TrimPrefix(rest, "IF NOT EXISTS "))
	open := strings.Index(rest, "(")
	name := unquote(strings.TrimSpace(rest[:open]))
	body := rest[open+1 : strings.LastIndex(rest, ")")]

	var partition, clustering []string
	var cols []driver.ColumnMeta
	for _, part := range splitTopLevel(body) {
		part = strings.TrimSpace(part)
		if strings.HasPrefix(strings.ToUpper(part), "PRIMARY KEY") {
			partition, clustering = parsePrimaryKey(part)
			continue
		}
		fields := strings.SplitN(part, " ", 2)
		cols = append(cols, driver.ColumnMeta{
			Name:     unquote(fields[0]),
			TypeText: strings.TrimSpace(fields[1]),
			Kind:     driver.KindRegular,
		})
	}
	for i := range cols {
		for pos, pk := range partition {
			if cols[i].Name == pk {
				cols[i].Kind = driver.KindPartitionKey
				cols[i].Position = pos
			}
		}
		for pos, ck := range clustering {
			if cols[i].Name == ck {
				cols[i].Kind = driver.KindClustering
				cols[i].Position = pos
			}
		}
	}
	f.addTableLocked(name, cols)
	return nil
}

func parsePrimaryKey(clause string) (partition, clustering []string) {
	inner := clause[strings.Index(clause, "(")+1 : strings.LastIndex(clause, ")")]
	inner = strings.TrimSpace(inner)
	if strings.HasPrefix(inner, "(") {
		end := strings.Index(inner, ")")
		partition = splitIdentifiers(inner[1:end])
		rest := strings.TrimPrefix(strings.TrimSpace(inner[end+1:]), ",")
		if rest = strings.TrimSpace(rest); rest != "" {
			clustering = splitIdentifiers(rest)
		}
		return partition, clustering
	}
	parts := splitIdentifiers(inner)
	return parts[:1], parts[1:]
}

// compileWhere builds a row matcher from "a = ? AND b IN (?, ?)" text.
func compileWhere(text string, params []interface{}) (func(map[string]interface{}) bool, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return func(map[string]interface{}) bool { return true }, nil
	}

	type cond struct {
		col    string
		values []interface{}
	}
	var conds []cond
	cursor := 0
	for _, clause := range strings.Split(text, " AND ") {
		clause = strings.TrimSpace(clause)
		if i := strings.Index(clause, " IN "); i != -1 {
			col := unquote(strings.TrimSpace(clause[:i]))
			n := strings.Count(clause[i:], "?")
			if cursor+n > len(params) {
				return nil, fmt.Errorf("drivertest: not enough params for %s", clause)
			}
			conds = append(conds, cond{col: col, values: params[cursor : cursor+n]})
			cursor += n
		} else {
			col := unquote(strings.TrimSpace(strings.TrimSuffix(clause, "= ?")))
			if cursor >= len(params) {
				return nil, fmt.Errorf("drivertest: not enough params for %s", clause)
			}
			conds = append(conds, cond{col: col, values: params[cursor : cursor+1]})
			cursor++
		}
	}

	return func(row map[string]interface{}) bool {
		for _, c := range conds {
			matched := false
			for _, v := range c.values {
				if reflect.DeepEqual(row[c.col], v) {
					matched = true
					break
				}
			}
			if !matched {
				return false
			}
		}
		return true
	}, nil
}

func keyMatches(pk []string, row, record map[string]interface{}) bool {
	if len(pk) == 0 {
		return false
	}
	for _, col := range pk {
		if !reflect.DeepEqual(row[col], record[col]) {
			return false
		}
	}
	return true
}

func splitIdentifiers(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		out = append(out, unquote(strings.TrimSpace(part)))
	}
	return out
}

func splitTopLevel(s string) []string {
	var out []string
	depth := 0
	start := 0
	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	out = append(out, s[start:])
	return out
}

func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return strings.ReplaceAll(s[1:len(s)-1], `""`, `"`)
	}
	return s
}

func copyRow(row map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out
}
