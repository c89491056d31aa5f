package combo

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/comboq/internal/batch"
	"github.com/dreamware/comboq/internal/cql"
	"github.com/dreamware/comboq/internal/shard"
	"github.com/dreamware/comboq/internal/storage"
)

// faultySession wraps a MemorySession and fails statements matched by the
// configured predicates.
type faultySession struct {
	*storage.MemorySession

	mu        sync.Mutex
	failExec  func(stmt string) bool
	failQuery bool
}

func (f *faultySession) Exec(ctx context.Context, stmt string) error {
	f.mu.Lock()
	fail := f.failExec != nil && f.failExec(stmt)
	f.mu.Unlock()
	if fail {
		return errors.New("injected exec failure")
	}
	return f.MemorySession.Exec(ctx, stmt)
}

func (f *faultySession) Query(ctx context.Context, stmt string) ([]storage.Row, error) {
	f.mu.Lock()
	fail := f.failQuery
	f.mu.Unlock()
	if fail {
		return nil, errors.New("injected query failure")
	}
	return f.MemorySession.Query(ctx, stmt)
}

func (f *faultySession) setFailExec(fn func(string) bool) {
	f.mu.Lock()
	f.failExec = fn
	f.mu.Unlock()
}

func newStore(t *testing.T, session storage.Session, n, start int, opts ...Option) *Store {
	t.Helper()
	opts = append([]Option{WithCursorStart(start)}, opts...)
	s := NewStore(CategoryEmail, session, n, opts...)
	require.NoError(t, s.EnsureSchema(context.Background()))
	return s
}

func countAll(t *testing.T, session *storage.MemorySession, s *Store) int {
	t.Helper()
	total := 0
	for i := 0; i < s.Router().NumShards(); i++ {
		n, err := session.Count(s.Router().Table(i))
		require.NoError(t, err)
		total += n
	}
	return total
}

// TestExampleScenario adds one combo to a ten shard category and fetches it
// back exactly once.
//
// The fetch straight after the add does not return the combo. Add and fetch
// advance the same cursor, so from a start of 0 the add routes to t1 and the
// next fetch scans t2. The combo comes back on the tenth fetch, once the
// cursor has wrapped around to t1.
func TestExampleScenario(t *testing.T) {
	ctx := context.Background()
	session := storage.NewMemorySession()
	s := newStore(t, session, 10, 0)

	require.Empty(t, s.Add(ctx, []Combo{{Email: "a@b.com", Password: "p1"}}, "src|x\n"))
	assert.Equal(t, 1, countAll(t, session, s))

	var found []Record
	for i := 0; i < 10; i++ {
		res := s.Dequeue(ctx, 1)
		require.Empty(t, res.Errors)
		if i < 9 {
			assert.Equal(t, StatusEmpty, res.Status, "fetch %d", i)
		}
		found = append(found, res.Data...)
	}
	require.Len(t, found, 1)
	assert.Equal(t, "a@b.com", found[0].Email)
	assert.Equal(t, "p1", found[0].Password)
	assert.Equal(t, "src|x\n", found[0].Params)
	assert.True(t, strings.HasPrefix(found[0].ID, "1-"), "id %q should name shard 1", found[0].ID)

	// Another full rotation must not hand it out again.
	for i := 0; i < 10; i++ {
		res := s.Dequeue(ctx, 1)
		assert.Equal(t, StatusEmpty, res.Status)
	}
	assert.Equal(t, 0, countAll(t, session, s))
}

// TestDequeueDeletesFetchedRows verifies every returned row is gone from its
// table once Dequeue returns
func TestDequeueDeletesFetchedRows(t *testing.T) {
	ctx := context.Background()
	session := storage.NewMemorySession()
	// One shard, so every add and fetch hits the same table.
	s := newStore(t, session, 1, 0)

	combos := make([]Combo, 5)
	for i := range combos {
		combos[i] = Combo{Email: fmt.Sprintf("u%d@example.com", i), Password: "pw"}
	}
	require.Empty(t, s.Add(ctx, combos, ""))

	res := s.Dequeue(ctx, 3)
	assert.Equal(t, StatusOK, res.Status)
	require.Len(t, res.Data, 3)

	left, err := session.Query(ctx, cql.SelectAll(s.Router().Table(0), 100))
	require.NoError(t, err)
	require.Len(t, left, 2)
	for _, row := range left {
		for _, rec := range res.Data {
			assert.NotEqual(t, rec.ID, row["id"], "fetched row %s still present", rec.ID)
		}
	}

	res = s.Dequeue(ctx, 0)
	assert.Len(t, res.Data, 2)
	assert.Equal(t, StatusEmpty, s.Dequeue(ctx, 0).Status)
}

// TestFetchResultShapes covers the four outcome classes
func TestFetchResultShapes(t *testing.T) {
	rec := Record{ID: "0-deadbeef"}
	tests := []struct {
		name string
		data []Record
		errs []string
		want Status
	}{
		{name: "nothing", want: StatusEmpty},
		{name: "rows only", data: []Record{rec}, want: StatusOK},
		{name: "errors only", errs: []string{"boom"}, want: StatusFailed},
		{name: "rows and errors", data: []Record{rec}, errs: []string{"boom"}, want: StatusPartial},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := NewFetchResult(tt.data, tt.errs)
			assert.Equal(t, tt.want, res.Status)
			assert.Equal(t, tt.want.String(), res.Status.String())
		})
	}
	assert.Equal(t, "Status(9)", Status(9).String())
}

// TestDequeueDecodeError verifies a row with a null column is reported and
// left in place while the good rows are returned
func TestDequeueDecodeError(t *testing.T) {
	ctx := context.Background()
	session := storage.NewMemorySession()
	s := newStore(t, session, 1, 0)
	table := s.Router().Table(0)

	require.NoError(t, session.Exec(ctx, fmt.Sprintf(
		"INSERT INTO %s (id, email, passw) VALUES ('0-00000000', 'broken@example.com', 'x')", table)))
	require.Empty(t, s.Add(ctx, []Combo{{Email: "good@example.com", Password: "y"}}, ""))

	before := testutil.ToFloat64(mDecodeErrors.WithLabelValues(string(CategoryEmail)))
	res := s.Dequeue(ctx, 10)
	assert.Equal(t, StatusPartial, res.Status)
	require.Len(t, res.Data, 1)
	assert.Equal(t, "good@example.com", res.Data[0].Email)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], `column "p" is null`)
	assert.Equal(t, before+1, testutil.ToFloat64(mDecodeErrors.WithLabelValues(string(CategoryEmail))))

	// The undecodable row was not deleted.
	n, err := session.Count(table)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	res = s.Dequeue(ctx, 10)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Empty(t, res.Data)
}

// TestDequeueScanFailure verifies a failed scan yields StatusFailed
func TestDequeueScanFailure(t *testing.T) {
	session := &faultySession{MemorySession: storage.NewMemorySession(), failQuery: true}
	s := newStore(t, session, 2, 0)

	res := s.Dequeue(context.Background(), 1)
	assert.Equal(t, StatusFailed, res.Status)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "injected query failure")
}

// TestDequeueDeleteFailure verifies failed deletes still return the rows and
// report each failure
func TestDequeueDeleteFailure(t *testing.T) {
	ctx := context.Background()
	session := &faultySession{MemorySession: storage.NewMemorySession()}
	s := newStore(t, session, 1, 0)
	require.Empty(t, s.Add(ctx, []Combo{{Email: "a@b.com", Password: "1"}, {Email: "c@d.com", Password: "2"}}, ""))

	session.setFailExec(func(stmt string) bool { return strings.HasPrefix(stmt, "DELETE") })
	res := s.Dequeue(ctx, 10)
	assert.Equal(t, StatusPartial, res.Status)
	assert.Len(t, res.Data, 2)
	assert.Len(t, res.Errors, 2)

	session.setFailExec(nil)
	assert.Len(t, s.Dequeue(ctx, 10).Data, 2, "rows whose delete failed are delivered again")
}

// TestAddReportsFailedBatches verifies one failed sub-batch does not lose the others
func TestAddReportsFailedBatches(t *testing.T) {
	ctx := context.Background()
	session := &faultySession{MemorySession: storage.NewMemorySession()}
	s := newStore(t, session, 3, 0, WithBatchThreshold(500))

	var flushes int
	session.setFailExec(func(stmt string) bool {
		if !strings.HasPrefix(stmt, cql.BatchBegin) {
			return false
		}
		flushes++
		return flushes == 2
	})

	combos := make([]Combo, 30)
	for i := range combos {
		combos[i] = Combo{Email: fmt.Sprintf("user%02d@example.com", i), Password: "hunter2"}
	}
	before := testutil.ToFloat64(mAdded.WithLabelValues(string(CategoryEmail)))
	errs := s.Add(ctx, combos, "")
	require.Len(t, errs, 1)

	var fe *batch.FlushError
	require.ErrorAs(t, errs[0], &fe)
	stored := countAll(t, session.MemorySession, s)
	assert.Equal(t, len(combos)-fe.Rows, stored)
	assert.Equal(t, before+float64(stored), testutil.ToFloat64(mAdded.WithLabelValues(string(CategoryEmail))))
}

// TestEscapedRoundTrip verifies quotes survive storage verbatim
func TestEscapedRoundTrip(t *testing.T) {
	ctx := context.Background()
	session := storage.NewMemorySession()
	s := newStore(t, session, 1, 0)

	want := Combo{Email: "o'brien@example.com", Password: "it''s'); DROP KEYSPACE email; --"}
	require.Empty(t, s.Add(ctx, []Combo{want}, "note|don't\n"))

	res := s.Dequeue(ctx, 1)
	require.Len(t, res.Data, 1)
	got := res.Data[0]
	if diff := cmp.Diff(want, Combo{Email: got.Email, Password: got.Password}); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "note|don't\n", got.Params)
}

// TestInvalidate covers deleting by id
func TestInvalidate(t *testing.T) {
	ctx := context.Background()
	session := storage.NewMemorySession()
	s := newStore(t, session, 4, 0)
	require.Empty(t, s.Add(ctx, []Combo{{Email: "a@b.com", Password: "p"}}, ""))

	table := s.Router().Table(1)
	rows, err := session.Query(ctx, cql.SelectAll(table, 10))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	id := rows[0]["id"].(string)

	require.NoError(t, s.Invalidate(ctx, id))
	n, err := session.Count(table)
	require.NoError(t, err)
	assert.Zero(t, n)

	t.Run("absent id", func(t *testing.T) {
		assert.NoError(t, s.Invalidate(ctx, id))
	})
	t.Run("malformed id", func(t *testing.T) {
		assert.ErrorIs(t, s.Invalidate(ctx, "nope"), shard.ErrMalformedID)
	})
	t.Run("shard out of range", func(t *testing.T) {
		assert.ErrorIs(t, s.Invalidate(ctx, "4-00000000"), shard.ErrMalformedID)
	})
	t.Run("store failure", func(t *testing.T) {
		faulty := &faultySession{MemorySession: session, failExec: func(string) bool { return true }}
		fs := NewStore(CategoryEmail, faulty, 4)
		err := fs.Invalidate(ctx, "0-00000000")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "injected exec failure")
	})
}

// TestEnsureSchemaPartialFailure verifies a table failure does not stop the
// remaining tables
func TestEnsureSchemaPartialFailure(t *testing.T) {
	ctx := context.Background()
	session := &faultySession{
		MemorySession: storage.NewMemorySession(),
		failExec:      func(stmt string) bool { return strings.Contains(stmt, "email.t1 ") },
	}
	s := NewStore(CategoryEmail, session, 3, WithCursorStart(0))

	err := s.EnsureSchema(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "email.t1")
	assert.Equal(t, 1, session.Stats().Keyspaces)
	assert.Equal(t, 2, session.Stats().Tables)

	t.Run("keyspace failure", func(t *testing.T) {
		session := &faultySession{
			MemorySession: storage.NewMemorySession(),
			failExec:      func(stmt string) bool { return strings.HasPrefix(stmt, "CREATE KEYSPACE") },
		}
		s := NewStore(CategoryEmail, session, 3)
		require.Error(t, s.EnsureSchema(ctx))
		assert.Zero(t, session.Stats().Tables)
	})
}

func TestCategoryValid(t *testing.T) {
	for _, c := range DefaultCategories {
		assert.True(t, c.Valid(), c)
	}
	for _, bad := range []Category{"", "Email", "1abc", "a-b", "a.b", Category(strings.Repeat("a", 49))} {
		assert.False(t, bad.Valid(), bad)
	}
}

func TestCheckLimit(t *testing.T) {
	s := NewStore("email", storage.NewMemorySession(), 2, WithFetchLimit(50))
	assert.Equal(t, 50, s.FetchLimit())

	for _, n := range []int{0, 1, 50} {
		assert.NoError(t, s.CheckLimit(n), n)
	}
	for _, n := range []int{-1, 51, math.MaxInt32 + 1} {
		assert.ErrorIs(t, s.CheckLimit(n), ErrInvalidLimit, n)
	}
}

// TestDequeueClampsLimit verifies a limit above the fetch limit scans at
// most FetchLimit rows
func TestDequeueClampsLimit(t *testing.T) {
	ctx := context.Background()
	session := storage.NewMemorySession()
	s := NewStore("email", session, 1, WithFetchLimit(2))
	require.NoError(t, s.EnsureSchema(ctx))
	require.Empty(t, s.Add(ctx, []Combo{{Email: "a", Password: "1"}, {Email: "b", Password: "2"}, {Email: "c", Password: "3"}}, ""))

	res := s.Dequeue(ctx, 1000)
	assert.Len(t, res.Data, 2)
	assert.Equal(t, 1, session.Stats().Rows)
}
