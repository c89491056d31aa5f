package combo

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/chainguard-dev/clog"

	"github.com/dreamware/comboq/internal/batch"
	"github.com/dreamware/comboq/internal/cql"
	"github.com/dreamware/comboq/internal/shard"
	"github.com/dreamware/comboq/internal/storage"
)

// Category names an independent queue. It doubles as the keyspace name.
type Category string

// Built-in categories.
const (
	CategoryEmail   Category = "email"
	CategoryDiscord Category = "discord"
	CategoryValid   Category = "valid"
)

// DefaultCategories is the category set used when none is configured.
var DefaultCategories = []Category{CategoryEmail, CategoryDiscord, CategoryValid}

var categoryPattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,47}$`)

// Valid reports whether c is usable as a keyspace name.
func (c Category) Valid() bool {
	return categoryPattern.MatchString(string(c))
}

// ErrInvalidLimit is returned by CheckLimit.
var ErrInvalidLimit = errors.New("invalid fetch limit")

// DefaultFetchLimit bounds the rows returned by one Dequeue.
const DefaultFetchLimit = 1000

// Combo is a credential pair submitted for storage.
type Combo struct {
	Email    string
	Password string
}

// Store is the queue of one category: a router over its shard tables, a
// batch committer for inserts and the dequeue/invalidate protocol.
type Store struct {
	category    Category
	session     storage.Session
	router      *shard.Router
	committer   *batch.Committer
	fetchLimit  int
	replication int
	threshold   int
	start       *int
}

// Option configures a Store.
type Option func(*Store)

// WithFetchLimit sets the default number of rows one Dequeue scans.
func WithFetchLimit(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.fetchLimit = n
		}
	}
}

// WithReplicationFactor sets the replication factor used when creating the keyspace.
func WithReplicationFactor(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.replication = n
		}
	}
}

// WithBatchThreshold overrides batch.DefaultThreshold.
func WithBatchThreshold(n int) Option {
	return func(s *Store) {
		s.threshold = n
	}
}

// WithCursorStart places the cursor at a fixed shard instead of a random one.
func WithCursorStart(index int) Option {
	return func(s *Store) {
		s.start = &index
	}
}

// NewStore creates the queue for category over numShards tables.
// numShards must be > 0.
func NewStore(category Category, session storage.Session, numShards int, opts ...Option) *Store {
	s := &Store{
		category:    category,
		session:     session,
		fetchLimit:  DefaultFetchLimit,
		replication: 1,
		threshold:   batch.DefaultThreshold,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.start != nil {
		s.router = shard.NewRouterAt(string(category), numShards, *s.start)
	} else {
		s.router = shard.NewRouter(string(category), numShards)
	}
	s.committer = batch.New(session, s.router,
		batch.WithThreshold(s.threshold),
		batch.WithFlushHook(s.observeFlush),
	)
	return s
}

// Category returns the category the store serves.
func (s *Store) Category() Category {
	return s.category
}

// FetchLimit returns the default Dequeue limit. It is also the largest limit
// a caller may ask for.
func (s *Store) FetchLimit() int {
	return s.fetchLimit
}

// CheckLimit validates a caller supplied Dequeue limit. Zero selects the
// default; anything negative or above FetchLimit wraps ErrInvalidLimit.
func (s *Store) CheckLimit(n int) error {
	if n < 0 || n > s.fetchLimit {
		return fmt.Errorf("%w: %d is not between 1 and %d", ErrInvalidLimit, n, s.fetchLimit)
	}
	return nil
}

// Router exposes the store's router for inspection.
func (s *Store) Router() *shard.Router {
	return s.router
}

// EnsureSchema creates the keyspace and every shard table if missing.
// A keyspace failure stops table creation for this category; a table failure
// is logged and the remaining tables are still attempted. All failures are
// returned joined.
func (s *Store) EnsureSchema(ctx context.Context) error {
	log := clog.FromContext(ctx).With("category", s.category)

	if err := s.session.Exec(ctx, cql.CreateKeyspace(string(s.category), s.replication)); err != nil {
		log.Errorf("Failed to create keyspace: %v", err)
		return fmt.Errorf("create keyspace %s: %w", s.category, err)
	}

	var errs []error
	for i := 0; i < s.router.NumShards(); i++ {
		table := s.router.Table(i)
		if err := s.session.Exec(ctx, cql.CreateComboTable(table)); err != nil {
			log.With("table", table).Errorf("Failed to create table: %v", err)
			errs = append(errs, fmt.Errorf("create table %s: %w", table, err))
		}
	}
	log.Infof("Created %d/%d tables", s.router.NumShards()-len(errs), s.router.NumShards())
	return errors.Join(errs...)
}

// Add commits combos, attaching params to each. The returned errors are one
// per failed sub-batch; an empty slice means every combo was stored.
func (s *Store) Add(ctx context.Context, combos []Combo, params string) []error {
	rows := make([]batch.Row, len(combos))
	for i, c := range combos {
		rows[i] = batch.Row{Email: c.Email, Password: c.Password}
	}

	errs := s.committer.Commit(ctx, rows, params)

	stored := len(rows)
	for _, err := range errs {
		var fe *batch.FlushError
		if errors.As(err, &fe) {
			stored -= fe.Rows
		}
	}
	mAdded.WithLabelValues(string(s.category)).Add(float64(stored))
	return errs
}

// Dequeue scans up to limit rows from the next shard and deletes every row
// it decoded before returning them. Only one table is scanned per call.
//
// Delivery is at-least-once: two concurrent Dequeue calls routed to the same
// shard can both read a row before either delete lands.
// A limit <= 0 uses the store's fetch limit; a larger one is clamped to it.
func (s *Store) Dequeue(ctx context.Context, limit int) FetchResult {
	if limit <= 0 || limit > s.fetchLimit {
		limit = s.fetchLimit
	}
	table, _ := s.router.Next()
	log := clog.FromContext(ctx).With("category", s.category, "table", table)

	rows, err := s.session.Query(ctx, cql.SelectAll(table, limit))
	if err != nil {
		log.Errorf("Failed to scan shard: %v", err)
		return NewFetchResult(nil, []string{fmt.Sprintf("scan %s: %v", table, err)})
	}

	var (
		data []Record
		errs []string
	)
	for i, row := range rows {
		rec, err := decodeRow(i, row)
		if err != nil {
			log.Warnf("Skipping undecodable row: %v", err)
			mDecodeErrors.WithLabelValues(string(s.category)).Inc()
			errs = append(errs, err.Error())
			continue
		}
		data = append(data, rec)
	}

	for _, rec := range data {
		if err := s.Invalidate(ctx, rec.ID); err != nil {
			errs = append(errs, err.Error())
		}
	}

	mDequeued.WithLabelValues(string(s.category)).Add(float64(len(data)))
	return NewFetchResult(data, errs)
}

// Invalidate deletes the row with id from the table its prefix names.
// Deleting an absent id is not an error.
func (s *Store) Invalidate(ctx context.Context, id string) error {
	table, err := s.router.TableOf(id)
	if err != nil {
		return err
	}
	if err := s.session.Exec(ctx, cql.DeleteByID(table, id)); err != nil {
		clog.FromContext(ctx).With("category", s.category, "table", table).
			Errorf("Failed to delete %s: %v", id, err)
		return fmt.Errorf("delete %s: %w", id, err)
	}
	mInvalidated.WithLabelValues(string(s.category)).Inc()
	return nil
}

func (s *Store) observeFlush(f batch.Flush) {
	result := "ok"
	if f.Err != nil {
		result = "error"
	}
	mBatchFlushes.WithLabelValues(string(s.category), result).Inc()
	mBatchBytes.WithLabelValues(string(s.category)).Observe(float64(f.Bytes))
}

func decodeRow(i int, row storage.Row) (Record, error) {
	text := func(col string) (string, error) {
		v := row[col]
		s, ok := v.(string)
		if !ok {
			return "", &DecodeError{Row: i, Column: col, Value: v}
		}
		return s, nil
	}

	var (
		rec Record
		err error
	)
	if rec.ID, err = text("id"); err != nil {
		return Record{}, err
	}
	if rec.Email, err = text("email"); err != nil {
		return Record{}, err
	}
	if rec.Password, err = text("passw"); err != nil {
		return Record{}, err
	}
	if rec.Params, err = text("p"); err != nil {
		return Record{}, err
	}
	return rec, nil
}
