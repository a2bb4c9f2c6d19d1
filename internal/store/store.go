// Package store provides local persistence of the last-known progress
// record per document.
package store

import "github.com/example/kosync/internal/schema"

// Store caches one progress record per document id with last-write-wins
// semantics, persisted across process restarts.
//
// Implementations must make Upsert atomic with respect to their own
// read-modify-persist cycle: concurrent writers may interleave calls but
// must never corrupt the persisted table. Persistence failures degrade
// the store to in-memory operation; they are reported to the caller but
// are never fatal.
type Store interface {
	// Get returns the cached record for a document id, or ok=false if
	// no entry exists.
	Get(documentID string) (*schema.Record, bool)

	// Upsert inserts or replaces the entry for rec.Document and persists
	// the table. A returned error means the durable write failed; the
	// in-memory entry (where the backend has one) still updates, so the
	// caller should log and continue.
	Upsert(rec *schema.Record) error

	// Close releases any resources held by the store.
	Close() error
}
