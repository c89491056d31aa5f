// Package combo implements the credential work queue on top of the sharded
// store: adding combos in batches, dequeuing them with delete-on-fetch, and
// invalidating them by id.
//
// # Categories
//
// Each Category is an independent queue backed by its own keyspace with N
// shard tables. A Registry holds the Store for every configured category; the
// HTTP and event surfaces resolve the category from the request and call into
// the matching Store.
//
// # Fetch Results
//
// Dequeue reports one of four outcomes:
//
//	StatusEmpty    no rows, no errors   (the shard was idle)
//	StatusOK       rows, no errors
//	StatusPartial  rows and errors      (some rows failed to decode or delete)
//	StatusFailed   no rows, errors
//
// An empty queue is never reported as a failure.
//
// # Delivery
//
// A fetched row is deleted only after the scan completes. If a delete fails
// the row is still returned, and the failure is added to the result's errors;
// the row may then be handed out again by a later fetch. Delivery is
// therefore at-least-once.
package combo
