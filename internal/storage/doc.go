// Package storage defines the column store the queue persists to and provides
// two implementations of it: an in-process store for development and tests,
// and a Cassandra-backed store for production.
//
// # Overview
//
// The queue never talks to a database driver directly. Every component issues
// plain CQL text through the Session interface, which keeps statement
// rendering (and escaping) in one place and lets the in-memory backend
// exercise exactly the same statements as the real cluster.
//
//	┌─────────────────────────────────────┐
//	│     combo.Store / batch.Committer    │
//	└─────────────────────────────────────┘
//	                 │ CQL text
//	                 ▼
//	┌─────────────────────────────────────┐
//	│          storage.Session            │
//	│        Exec / Query / Close         │
//	└─────────────────────────────────────┘
//	          │                  │
//	          ▼                  ▼
//	┌────────────────┐  ┌────────────────┐
//	│ MemorySession  │  │CassandraSession│
//	│ cql subset     │  │ gocql          │
//	└────────────────┘  └────────────────┘
//
// # Implementations
//
// MemorySession: in-process maps guarded by sync.RWMutex
//   - Understands CREATE KEYSPACE, CREATE TABLE, INSERT, SELECT * ... LIMIT,
//     DELETE ... WHERE pk = and BEGIN BATCH ... APPLY BATCH
//   - Batches are validated in full before any row changes
//   - SELECT returns rows ordered by primary key
//   - No persistence (data lost on restart)
//
// CassandraSession: gocql session
//   - Optional password authentication and TLS (CA file)
//   - LOCAL_ONE consistency
//   - No retries beyond the driver's defaults; failures surface to the caller
//
// # Row Decoding
//
// Query returns Row values, a map of column name to decoded value. Text columns
// arrive as string and timestamps as time.Time in both implementations. Callers
// must type-check each column; a row may carry NULLs.
package storage
