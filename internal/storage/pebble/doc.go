// Package pebblestore wraps a Pebble key-value database with an fsync policy
// and the small helper surface the run service needs: point get/set/delete,
// atomic batches, range deletes for retention, and raw iterators for ordered
// event-log scans.
package pebblestore
