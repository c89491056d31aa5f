package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dreamware/comboq/internal/cql"
)

var (
	// ErrNoKeyspace is returned when a statement names a keyspace that was never created.
	ErrNoKeyspace = errors.New("keyspace does not exist")

	// ErrNoTable is returned when a statement names a table that was never created.
	ErrNoTable = errors.New("table does not exist")

	// ErrNotQuery is returned by Query for statements that produce no rows.
	ErrNotQuery = errors.New("statement does not return rows")
)

// Row is one result row keyed by column name. Text columns decode to string,
// timestamp columns to time.Time, unset columns are absent or nil.
type Row map[string]any

// Session defines the interface to the backing column store.
// All implementations must be safe for concurrent use.
type Session interface {
	// Exec runs a statement that returns no rows (DDL, INSERT, DELETE, BATCH).
	Exec(ctx context.Context, stmt string) error

	// Query runs a SELECT and returns every row it produced.
	Query(ctx context.Context, stmt string) ([]Row, error)

	// Close releases the session. Further calls fail.
	Close()
}

// SessionStats contains statistics about a MemorySession.
type SessionStats struct {
	Keyspaces int // Number of keyspaces
	Tables    int // Number of tables across keyspaces
	Rows      int // Number of rows across tables
}

type memTable struct {
	columns map[string]string // column name -> CQL type
	pk      string
	rows    map[string]Row
}

// MemorySession implements Session over in-process maps, interpreting the
// CQL subset understood by package cql.
// Uses sync.RWMutex for thread-safe concurrent access. Batches are validated
// in full before any row is written, so they apply atomically.
type MemorySession struct {
	mu        sync.RWMutex
	keyspaces map[string]map[string]*memTable
	closed    bool
}

// Ensure interfaces are satisfied
var _ Session = (*MemorySession)(nil)

// NewMemorySession creates an empty in-memory column store.
func NewMemorySession() *MemorySession {
	return &MemorySession{
		keyspaces: make(map[string]map[string]*memTable),
	}
}

// Exec parses and applies stmt.
func (m *MemorySession) Exec(ctx context.Context, stmt string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	parsed, err := cql.Parse(stmt)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errClosed
	}

	switch s := parsed.(type) {
	case cql.CreateKeyspaceStmt:
		return m.createKeyspace(s)
	case cql.CreateTableStmt:
		return m.createTable(s)
	case cql.SelectStmt:
		_, err := m.selectRows(s)
		return err
	case cql.BatchStmt:
		return m.applyBatch(s.Statements)
	default:
		return m.applyBatch([]cql.Statement{s})
	}
}

// Query parses stmt, which must be a SELECT, and returns copies of the
// matching rows ordered by primary key.
func (m *MemorySession) Query(ctx context.Context, stmt string) ([]Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	parsed, err := cql.Parse(stmt)
	if err != nil {
		return nil, err
	}
	sel, ok := parsed.(cql.SelectStmt)
	if !ok {
		return nil, ErrNotQuery
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, errClosed
	}
	return m.selectRows(sel)
}

// Close marks the session closed.
func (m *MemorySession) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
}

// Count returns the number of rows in a keyspace-qualified table.
func (m *MemorySession) Count(table string) (int, error) {
	name, err := parseName(table)
	if err != nil {
		return 0, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	t, err := m.table(name)
	if err != nil {
		return 0, err
	}
	return len(t.rows), nil
}

// Stats returns storage statistics
func (m *MemorySession) Stats() SessionStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := SessionStats{Keyspaces: len(m.keyspaces)}
	for _, tables := range m.keyspaces {
		stats.Tables += len(tables)
		for _, t := range tables {
			stats.Rows += len(t.rows)
		}
	}
	return stats
}

var errClosed = errors.New("session closed")

func parseName(table string) (cql.Name, error) {
	stmt, err := cql.Parse("SELECT * FROM " + table)
	if err != nil {
		return cql.Name{}, err
	}
	return stmt.(cql.SelectStmt).Name, nil
}

func (m *MemorySession) createKeyspace(s cql.CreateKeyspaceStmt) error {
	if _, ok := m.keyspaces[s.Keyspace]; ok {
		if s.IfNotExists {
			return nil
		}
		return fmt.Errorf("keyspace %s already exists", s.Keyspace)
	}
	m.keyspaces[s.Keyspace] = make(map[string]*memTable)
	return nil
}

func (m *MemorySession) createTable(s cql.CreateTableStmt) error {
	tables, ok := m.keyspaces[s.Name.Keyspace]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNoKeyspace, s.Name.Keyspace)
	}
	if _, ok := tables[s.Name.Table]; ok {
		if s.IfNotExists {
			return nil
		}
		return fmt.Errorf("table %s already exists", s.Name)
	}
	t := &memTable{
		columns: make(map[string]string, len(s.Columns)),
		pk:      s.PrimaryKey,
		rows:    make(map[string]Row),
	}
	for _, c := range s.Columns {
		switch c.Type {
		case "text", "varchar", "ascii", "timestamp", "bigint", "int":
		default:
			return fmt.Errorf("unsupported column type %q", c.Type)
		}
		t.columns[c.Name] = c.Type
	}
	tables[s.Name.Table] = t
	return nil
}

func (m *MemorySession) table(name cql.Name) (*memTable, error) {
	tables, ok := m.keyspaces[name.Keyspace]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoKeyspace, name.Keyspace)
	}
	t, ok := tables[name.Table]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoTable, name)
	}
	return t, nil
}

func (m *MemorySession) selectRows(s cql.SelectStmt) ([]Row, error) {
	t, err := m.table(s.Name)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(t.rows))
	for k := range t.rows {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if s.Limit > 0 && len(keys) > s.Limit {
		keys = keys[:s.Limit]
	}

	out := make([]Row, 0, len(keys))
	for _, k := range keys {
		row := make(Row, len(t.rows[k]))
		for col, v := range t.rows[k] {
			row[col] = v
		}
		out = append(out, row)
	}
	return out, nil
}

// applyBatch validates every statement and only then mutates, so a bad
// statement leaves the store untouched.
func (m *MemorySession) applyBatch(stmts []cql.Statement) error {
	ops := make([]func(), 0, len(stmts))
	for _, stmt := range stmts {
		var (
			op  func()
			err error
		)
		switch s := stmt.(type) {
		case cql.InsertStmt:
			op, err = m.prepareInsert(s)
		case cql.DeleteStmt:
			op, err = m.prepareDelete(s)
		default:
			err = fmt.Errorf("unsupported statement %T", stmt)
		}
		if err != nil {
			return err
		}
		ops = append(ops, op)
	}
	for _, op := range ops {
		op()
	}
	return nil
}

func (m *MemorySession) prepareInsert(s cql.InsertStmt) (func(), error) {
	t, err := m.table(s.Name)
	if err != nil {
		return nil, err
	}
	row := make(Row, len(s.Columns))
	for i, col := range s.Columns {
		typ, ok := t.columns[col]
		if !ok {
			return nil, fmt.Errorf("undefined column %q in %s", col, s.Name)
		}
		v, err := coerce(typ, s.Values[i])
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", col, err)
		}
		row[col] = v
	}
	key, ok := row[t.pk].(string)
	if !ok {
		return nil, fmt.Errorf("missing primary key %q for %s", t.pk, s.Name)
	}
	return func() {
		// INSERT is an upsert: only the named columns are replaced.
		if existing, ok := t.rows[key]; ok {
			for col, v := range row {
				existing[col] = v
			}
			return
		}
		t.rows[key] = row
	}, nil
}

func (m *MemorySession) prepareDelete(s cql.DeleteStmt) (func(), error) {
	t, err := m.table(s.Name)
	if err != nil {
		return nil, err
	}
	if s.Column != t.pk {
		return nil, fmt.Errorf("DELETE must restrict the primary key %q, got %q", t.pk, s.Column)
	}
	key, ok := s.Value.(string)
	if !ok {
		return nil, fmt.Errorf("primary key %q must be text", t.pk)
	}
	// Deleting an absent key is not an error.
	return func() { delete(t.rows, key) }, nil
}

func coerce(typ string, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch typ {
	case "text", "varchar", "ascii":
		if s, ok := v.(string); ok {
			return s, nil
		}
	case "timestamp":
		if n, ok := v.(int64); ok {
			return time.UnixMilli(n).UTC(), nil
		}
	case "bigint", "int":
		if n, ok := v.(int64); ok {
			return n, nil
		}
	}
	return nil, fmt.Errorf("cannot store %T as %s", v, typ)
}
