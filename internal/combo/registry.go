package combo

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/exp/slices"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/comboq/internal/shard"
	"github.com/dreamware/comboq/internal/storage"
)

// ErrUnknownCategory is returned when a request names a category that is not
// configured.
var ErrUnknownCategory = errors.New("unknown category")

// Registry holds one Store per configured category.
//
// The set of categories is fixed at construction, so lookups need no lock.
// Every store shares the same session and shard count.
type Registry struct {
	stores    map[Category]*Store
	names     []Category
	numShards int
}

// NewRegistry builds a store for each category over numShards tables.
//
// Returns an error if numShards is not positive, a category name is not a
// valid keyspace identifier, or a category is listed twice.
func NewRegistry(session storage.Session, numShards int, categories []Category, opts ...Option) (*Registry, error) {
	if numShards <= 0 {
		return nil, fmt.Errorf("shard count must be positive, got %d", numShards)
	}
	if len(categories) == 0 {
		return nil, errors.New("at least one category is required")
	}

	r := &Registry{
		stores:    make(map[Category]*Store, len(categories)),
		numShards: numShards,
	}
	for _, c := range categories {
		if !c.Valid() {
			return nil, fmt.Errorf("invalid category name %q", c)
		}
		if _, dup := r.stores[c]; dup {
			return nil, fmt.Errorf("duplicate category %q", c)
		}
		r.stores[c] = NewStore(c, session, numShards, opts...)
		r.names = append(r.names, c)
	}
	slices.Sort(r.names)
	return r, nil
}

// Store returns the queue for the named category.
func (r *Registry) Store(name string) (*Store, error) {
	s, ok := r.stores[Category(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCategory, name)
	}
	return s, nil
}

// Categories returns the configured categories in sorted order.
func (r *Registry) Categories() []Category {
	return slices.Clone(r.names)
}

// NumShards returns the shard count shared by every category.
func (r *Registry) NumShards() int {
	return r.numShards
}

// EnsureSchema creates the schema of every category concurrently. A failing
// category does not stop the others; all failures are returned joined.
func (r *Registry) EnsureSchema(ctx context.Context) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for _, name := range r.names {
		s := r.stores[name]
		g.Go(func() error {
			if err := s.EnsureSchema(ctx); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// Stats returns a router snapshot per category, in category order.
func (r *Registry) Stats() []shard.RouterStats {
	out := make([]shard.RouterStats, 0, len(r.names))
	for _, name := range r.names {
		out = append(out, r.stores[name].Router().Stats())
	}
	return out
}
