// Package cql renders the handful of CQL statements the queue issues and
// parses the same subset back for the in-memory column store.
package cql

import (
	"fmt"
	"strings"
)

// Batch framing. Statements between BatchBegin and BatchEnd are applied
// atomically by the backing store.
const (
	BatchBegin = "BEGIN BATCH\n"
	BatchEnd   = "APPLY BATCH;"
)

// Escape doubles single quotes so s can be placed inside a CQL string literal.
// Every user-controlled value must pass through Escape (or Quote) before it is
// interpolated into a statement.
func Escape(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// Quote returns s as an escaped CQL string literal.
func Quote(s string) string {
	return "'" + Escape(s) + "'"
}

// CreateKeyspace renders an idempotent keyspace creation with simple
// replication.
func CreateKeyspace(keyspace string, replicationFactor int) string {
	return fmt.Sprintf("CREATE KEYSPACE IF NOT EXISTS %s WITH REPLICATION = { 'class' : 'SimpleStrategy', 'replication_factor' : %d }",
		keyspace, replicationFactor)
}

// CreateComboTable renders an idempotent shard table creation using the
// combo schema.
func CreateComboTable(table string) string {
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (id text PRIMARY KEY, email text, passw text, lastcheck timestamp, p text)", table)
}

// InsertCombo renders a single combo row. lastcheck is always the epoch.
func InsertCombo(table, email, password, params, id string) string {
	return fmt.Sprintf("INSERT INTO %s (email, passw, lastcheck, p, id) VALUES (%s, %s, 0, %s, %s)",
		table, Quote(email), Quote(password), Quote(params), Quote(id))
}

// SelectAll renders an unindexed scan of at most limit rows.
func SelectAll(table string, limit int) string {
	return fmt.Sprintf("SELECT * FROM %s LIMIT %d ALLOW FILTERING", table, limit)
}

// DeleteByID renders a primary key delete.
func DeleteByID(table, id string) string {
	return fmt.Sprintf("DELETE FROM %s WHERE id = %s", table, Quote(id))
}
