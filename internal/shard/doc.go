// Package shard routes queue items onto a fixed family of shard tables and
// encodes the shard location into every item id.
//
// # Overview
//
// Each category (keyspace) owns N tables named {keyspace}.t0 .. {keyspace}.t{N-1}.
// A Router holds one rotating cursor per keyspace. Writers and fetchers both
// call Next, spreading inserts and scans across the tables without any
// coordination beyond a single atomic integer.
//
// # Cursor Rotation
//
//	cursor: 7 ──Next()──▶ 8 ──Next()──▶ 9 ──Next()──▶ 0 ──Next()──▶ 1
//	table:          ks.t8        ks.t9        ks.t0        ks.t1
//
// Next computes the advanced value and returns it; the cursor never stores N,
// so the never-created table {keyspace}.t{N} is unreachable. The cursor starts
// at a random shard so a restarted process does not hammer t0.
//
// Balance is best effort. Two concurrent callers may observe the same cursor
// value between their loads, but the compare-and-swap retry loop guarantees
// that every successful advance is recorded.
//
// # Id Encoding
//
//	"3-9f86d081"
//	 │ └──────── 8 lowercase hex characters from a v4 UUID
//	 └────────── shard index the row was inserted into
//
// TableOf reverses the mapping in O(1) without a lookup table, which is what
// lets a delete reach the right table from the id alone.
package shard
