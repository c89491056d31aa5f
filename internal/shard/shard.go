package shard

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
)

// ErrMalformedID is returned when an id does not carry a valid shard prefix.
var ErrMalformedID = errors.New("malformed combo id")

// idSeparator splits the shard index from the random suffix of an id.
const idSeparator = "-"

// Router owns the rotating cursor of one keyspace and maps between shard
// indexes, table names and ids. Safe for concurrent use.
type Router struct {
	keyspace  string
	numShards int64
	cursor    atomic.Int64
	routes    []atomic.Uint64 // routes handed out per shard
}

// RouterStats is a snapshot of the cursor and per-shard route counts.
type RouterStats struct {
	Keyspace string   `json:"keyspace"`
	Shards   int      `json:"shards"`
	Cursor   int      `json:"cursor"`
	Routes   []uint64 `json:"routes"`
}

// NewRouter creates a router over numShards tables with the cursor placed at a
// random shard, so restarts do not always start on shard 0.
// numShards must be > 0.
func NewRouter(keyspace string, numShards int) *Router {
	if numShards <= 0 {
		panic("shard: numShards must be > 0")
	}
	return NewRouterAt(keyspace, numShards, rand.IntN(numShards))
}

// NewRouterAt creates a router with the cursor at start. A start outside
// [0, numShards) is clamped to 0.
func NewRouterAt(keyspace string, numShards, start int) *Router {
	if numShards <= 0 {
		panic("shard: numShards must be > 0")
	}
	if start < 0 || start >= numShards {
		start = 0
	}
	r := &Router{
		keyspace:  keyspace,
		numShards: int64(numShards),
		routes:    make([]atomic.Uint64, numShards),
	}
	r.cursor.Store(int64(start))
	return r
}

// NumShards returns the number of shard tables.
func (r *Router) NumShards() int {
	return int(r.numShards)
}

// Next advances the cursor and returns the table and index to use for this
// call. The returned index is the post-advance cursor value.
//
// The cursor wraps to 0 once it would reach numShards, so every index handed
// out lies in [0, numShards). Concurrent callers may receive the same index;
// the compare-and-swap only guarantees no advance is lost.
func (r *Router) Next() (string, int) {
	for {
		cur := r.cursor.Load()
		next := cur + 1
		if next >= r.numShards || next < 0 {
			next = 0
		}
		if r.cursor.CompareAndSwap(cur, next) {
			r.routes[next].Add(1)
			return r.Table(int(next)), int(next)
		}
	}
}

// Table returns the table name for a shard index.
func (r *Router) Table(index int) string {
	return fmt.Sprintf("%s.t%d", r.keyspace, index)
}

// TableOf resolves the table an id was inserted into from its prefix.
// No database access is involved.
func (r *Router) TableOf(id string) (string, error) {
	index, err := IndexOf(id)
	if err != nil {
		return "", err
	}
	if index >= r.NumShards() {
		return "", fmt.Errorf("%w: shard %d out of range [0, %d)", ErrMalformedID, index, r.numShards)
	}
	return r.Table(index), nil
}

// Stats returns a snapshot of the router state.
func (r *Router) Stats() RouterStats {
	routes := make([]uint64, len(r.routes))
	for i := range r.routes {
		routes[i] = r.routes[i].Load()
	}
	return RouterStats{
		Keyspace: r.keyspace,
		Shards:   int(r.numShards),
		Cursor:   int(r.cursor.Load()),
		Routes:   routes,
	}
}

// NewID returns an id for a row stored in shard index: the index, a dash and
// 8 lowercase hex characters taken from a random UUID. Uniqueness is
// probabilistic and never checked against existing rows.
func NewID(index int) string {
	u := uuid.New()
	return strconv.Itoa(index) + idSeparator + hex.EncodeToString(u[:4])
}

// IndexOf parses the shard index embedded in id.
func IndexOf(id string) (int, error) {
	prefix, _, ok := strings.Cut(id, idSeparator)
	if !ok || prefix == "" {
		return 0, fmt.Errorf("%w: %q", ErrMalformedID, id)
	}
	index, err := strconv.Atoi(prefix)
	if err != nil || index < 0 || strconv.Itoa(index) != prefix {
		return 0, fmt.Errorf("%w: %q", ErrMalformedID, id)
	}
	return index, nil
}
