// Package batch accumulates combo inserts into size-bounded CQL batches and
// commits each batch independently.
package batch

import (
	"context"
	"fmt"
	"strings"

	"github.com/chainguard-dev/clog"

	"github.com/dreamware/comboq/internal/cql"
	"github.com/dreamware/comboq/internal/shard"
)

// DefaultThreshold is the buffer size (in bytes of CQL text) past which a
// batch is flushed. It stays under the store's per-statement ceiling.
const DefaultThreshold = 49500

// Executor runs a statement against the backing store.
type Executor interface {
	Exec(ctx context.Context, stmt string) error
}

// Router hands out the shard for each row.
type Router interface {
	Next() (table string, index int)
}

// Row is one credential pair to insert.
type Row struct {
	Email    string
	Password string
}

// FlushError reports a failed sub-batch. Rows in other sub-batches are
// unaffected.
type FlushError struct {
	Batch int // ordinal of the sub-batch within the Commit call
	Rows  int // rows carried by the sub-batch
	Err   error
}

func (e *FlushError) Error() string {
	return fmt.Sprintf("batch %d (%d rows): %v", e.Batch, e.Rows, e.Err)
}

func (e *FlushError) Unwrap() error {
	return e.Err
}

// Flush describes one attempted flush, reported to the flush hook.
type Flush struct {
	Batch int
	Rows  int
	Bytes int
	Err   error
}

// Committer renders inserts and flushes them in batches.
type Committer struct {
	exec      Executor
	router    Router
	threshold int
	onFlush   func(Flush)
}

// Option configures a Committer.
type Option func(*Committer)

// WithThreshold overrides DefaultThreshold.
func WithThreshold(n int) Option {
	return func(c *Committer) {
		if n > 0 {
			c.threshold = n
		}
	}
}

// WithFlushHook registers fn to observe every flush, successful or not.
func WithFlushHook(fn func(Flush)) Option {
	return func(c *Committer) {
		c.onFlush = fn
	}
}

// New creates a Committer writing through exec with shards chosen by router.
func New(exec Executor, router Router, opts ...Option) *Committer {
	c := &Committer{
		exec:      exec,
		router:    router,
		threshold: DefaultThreshold,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Commit inserts rows, attaching params to every one of them. Each row is
// routed to its own shard and appended to the current batch; once the batch
// text exceeds the threshold it is flushed and a new batch begins. A failed
// flush is recorded and processing continues, so the returned slice holds one
// *FlushError per failed sub-batch and is empty on full success.
func (c *Committer) Commit(ctx context.Context, rows []Row, params string) []error {
	var (
		errs    []error
		buf     strings.Builder
		pending int
		ordinal int
	)

	flush := func() {
		if pending == 0 {
			return
		}
		buf.WriteString(cql.BatchEnd)
		stmt := buf.String()
		err := c.exec.Exec(ctx, stmt)
		if c.onFlush != nil {
			c.onFlush(Flush{Batch: ordinal, Rows: pending, Bytes: len(stmt), Err: err})
		}
		if err != nil {
			clog.FromContext(ctx).With("batch", ordinal, "rows", pending).
				Errorf("batch commit failed: %v", err)
			errs = append(errs, &FlushError{Batch: ordinal, Rows: pending, Err: err})
		}
		ordinal++
		pending = 0
		buf.Reset()
	}

	for _, row := range rows {
		if pending == 0 {
			buf.WriteString(cql.BatchBegin)
		}
		table, index := c.router.Next()
		buf.WriteString(cql.InsertCombo(table, row.Email, row.Password, params, shard.NewID(index)))
		buf.WriteByte('\n')
		pending++

		if buf.Len() > c.threshold {
			flush()
		}
	}
	flush()

	return errs
}
