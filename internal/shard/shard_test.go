package shard

import (
	"errors"
	"regexp"
	"sync"
	"testing"
)

// TestNewRouterAt tests router creation
func TestNewRouterAt(t *testing.T) {
	tests := []struct {
		name       string
		numShards  int
		start      int
		wantCursor int
	}{
		{name: "start in range", numShards: 10, start: 4, wantCursor: 4},
		{name: "start at last shard", numShards: 10, start: 9, wantCursor: 9},
		{name: "start equal to shard count clamps", numShards: 10, start: 10, wantCursor: 0},
		{name: "negative start clamps", numShards: 3, start: -1, wantCursor: 0},
		{name: "single shard", numShards: 1, start: 0, wantCursor: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRouterAt("email", tt.numShards, tt.start)

			stats := r.Stats()
			if stats.Cursor != tt.wantCursor {
				t.Errorf("Expected cursor %d, got %d", tt.wantCursor, stats.Cursor)
			}
			if stats.Shards != tt.numShards || len(stats.Routes) != tt.numShards {
				t.Errorf("Expected %d shards, got %+v", tt.numShards, stats)
			}
		})
	}
}

// TestNewRouterRandomStart checks the initial cursor is always a valid shard
func TestNewRouterRandomStart(t *testing.T) {
	for i := 0; i < 100; i++ {
		r := NewRouter("email", 7)
		if c := r.Stats().Cursor; c < 0 || c >= 7 {
			t.Fatalf("Initial cursor %d out of range", c)
		}
	}
}

func TestNewRouterPanicsOnZeroShards(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Expected panic for zero shards")
		}
	}()
	NewRouter("email", 0)
}

// TestRouterNext tests post-advance routing and wrap-around
func TestRouterNext(t *testing.T) {
	r := NewRouterAt("email", 4, 1)

	want := []int{2, 3, 0, 1, 2}
	for i, w := range want {
		table, index := r.Next()
		if index != w {
			t.Errorf("Call %d: expected index %d, got %d", i, w, index)
		}
		if table != r.Table(w) {
			t.Errorf("Call %d: expected table %s, got %s", i, r.Table(w), table)
		}
	}
}

// TestRouterNeverReachesShardCount asserts the wrap happens at N-1, so the
// uncreated table {keyspace}.t{N} is never routed to.
func TestRouterNeverReachesShardCount(t *testing.T) {
	const n = 10
	for start := 0; start < n; start++ {
		r := NewRouterAt("email", n, start)
		for i := 0; i < 5*n; i++ {
			table, index := r.Next()
			if index < 0 || index >= n {
				t.Fatalf("start %d call %d: index %d out of range [0, %d)", start, i, index, n)
			}
			if table == "email.t10" {
				t.Fatalf("start %d call %d: routed to uncreated table %s", start, i, table)
			}
		}
	}
}

// TestRouterRoundRobin checks a single caller visits every shard evenly
func TestRouterRoundRobin(t *testing.T) {
	const n = 5
	r := NewRouterAt("discord", n, 0)

	for i := 0; i < 3*n; i++ {
		r.Next()
	}

	for i, count := range r.Stats().Routes {
		if count != 3 {
			t.Errorf("Shard %d: expected 3 routes, got %d", i, count)
		}
	}
}

// TestRouterConcurrentNext checks no advance is lost under contention
func TestRouterConcurrentNext(t *testing.T) {
	const n = 10
	const goroutines = 50
	const calls = 200

	r := NewRouterAt("email", n, 0)

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < calls; i++ {
				if _, index := r.Next(); index < 0 || index >= n {
					t.Errorf("index %d out of range", index)
				}
			}
		}()
	}
	wg.Wait()

	stats := r.Stats()
	var total uint64
	for _, c := range stats.Routes {
		total += c
	}
	if total != goroutines*calls {
		t.Errorf("Expected %d routes, got %d", goroutines*calls, total)
	}
	// Every advance moved the cursor by exactly one step from 0.
	if want := (goroutines * calls) % n; stats.Cursor != want {
		t.Errorf("Expected cursor %d, got %d", want, stats.Cursor)
	}
}

var idPattern = regexp.MustCompile(`^[0-9]+-[0-9a-f]{8}$`)

// TestNewID tests id format and routing back to the source table
func TestNewID(t *testing.T) {
	r := NewRouterAt("valid", 12, 0)

	seen := make(map[string]bool)
	for i := 0; i < 12*20; i++ {
		table, index := r.Next()
		id := NewID(index)

		if !idPattern.MatchString(id) {
			t.Fatalf("id %q does not match %s", id, idPattern)
		}
		got, err := r.TableOf(id)
		if err != nil {
			t.Fatalf("TableOf(%q) error = %v", id, err)
		}
		if got != table {
			t.Errorf("TableOf(%q) = %s, want %s", id, got, table)
		}
		if seen[id] {
			t.Errorf("duplicate id %q", id)
		}
		seen[id] = true
	}
}

// TestTableOf tests the reverse mapping and its rejections
func TestTableOf(t *testing.T) {
	r := NewRouterAt("email", 10, 0)

	tests := []struct {
		id      string
		want    string
		wantErr bool
	}{
		{id: "0-deadbeef", want: "email.t0"},
		{id: "9-deadbeef", want: "email.t9"},
		{id: "3-a-b-c", want: "email.t3"},
		{id: "10-deadbeef", wantErr: true},
		{id: "deadbeef", wantErr: true},
		{id: "-deadbeef", wantErr: true},
		{id: "x-deadbeef", wantErr: true},
		{id: "-1-deadbeef", wantErr: true},
		{id: "01-deadbeef", wantErr: true},
		{id: "1'; DROP-x", wantErr: true},
		{id: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			got, err := r.TableOf(tt.id)
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedID) {
					t.Errorf("TableOf(%q) error = %v, want ErrMalformedID", tt.id, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("TableOf(%q) error = %v", tt.id, err)
			}
			if got != tt.want {
				t.Errorf("TableOf(%q) = %s, want %s", tt.id, got, tt.want)
			}
		})
	}
}
