// Package sync orchestrates document fingerprinting, the local progress
// store, and the remote transport into the client's conflict-resolution
// and push behavior.
package sync

import (
	"context"

	"github.com/example/kosync/internal/schema"
)

// Outcome classifies what Resolve decided for one call. The local-ahead
// and near-tie cases behave identically (both re-push the local record)
// but stay distinct so callers and logs can tell them apart.
type Outcome int

const (
	// OutcomeNoRemote means the server had no record; the local
	// position was pushed and kept.
	OutcomeNoRemote Outcome = iota
	// OutcomeAdoptedRemote means the remote position was meaningfully
	// ahead and was adopted without pushing.
	OutcomeAdoptedRemote
	// OutcomeLocalAhead means the local position was ahead of the
	// remote by more than the threshold and was re-pushed.
	OutcomeLocalAhead
	// OutcomeTie means local and remote were within the threshold of
	// each other; the local position was reaffirmed with a push rather
	// than oscillating between devices.
	OutcomeTie
)

// String returns a human-readable representation of the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeNoRemote:
		return "no-remote"
	case OutcomeAdoptedRemote:
		return "adopted-remote"
	case OutcomeLocalAhead:
		return "local-ahead"
	case OutcomeTie:
		return "tie"
	default:
		return "unknown"
	}
}

// Resolution is the result of one Resolve call.
type Resolution struct {
	// Document is the id the engine computed for the file.
	Document string
	// Position is the position the caller should display.
	Position int64
	// Outcome classifies how Position was chosen.
	Outcome Outcome
	// Pushed reports whether a push to the server succeeded during
	// this call.
	Pushed bool
}

// Engine is the progress-synchronization engine.
//
// A single engine instance may be invoked from multiple concurrent
// callers. DebouncedPush serializes its read-gate-push cycle internally;
// Resolve and FlushRetries are safe to run alongside it. The only error
// any method returns is transport.ErrAuth (possibly wrapped) — every
// other failure is absorbed into boolean or absent results so callers
// can continue with best-effort local behavior.
type Engine interface {
	// DocumentID computes the id for a file under the configured
	// fingerprint strategy.
	DocumentID(path string) (string, error)

	// TestAuth reports whether the configured credentials are accepted
	// by the server.
	TestAuth(ctx context.Context) bool

	// Fetch returns the remote record for a file, merged with any
	// cached local-only metadata, or (nil, nil) when the server has
	// none.
	Fetch(ctx context.Context, path string) (*schema.Record, error)

	// Resolve reconciles the caller's current position against the
	// server record and returns the position to display.
	//
	// With no remote record, the local record is pushed and the input
	// position kept. With a remote record whose percentage leads the
	// local one by more than the adopt threshold — and whose progress
	// field parses as a positive integer position — the remote
	// position is adopted without pushing. In every other case
	// (local ahead, near tie, or an unparseable remote position) the
	// local record is pushed and the input position kept.
	Resolve(ctx context.Context, path string, position, total int64) (*Resolution, error)

	// DebouncedPush pushes the current position unless the debounce
	// gate suppresses it. Unless force is set, the push is skipped
	// when the time since the last successful push is below the
	// debounce interval, or the advance over the cached position is
	// below the configured minimum delta. Returns whether a push was
	// attempted and succeeded.
	DebouncedPush(ctx context.Context, path string, position, total int64, force bool) (bool, error)

	// FlushRetries attempts each queued failed push exactly once, in
	// enqueue order. Successes leave the queue; failures stay, order
	// preserved, for a later call. There is no backoff — this is an
	// explicit, caller-triggered drain. An auth rejection aborts the
	// drain with all unflushed records retained.
	//
	// The queue is in-memory only and unbounded; under persistent
	// failures it grows until the caller drains it or the process
	// exits.
	FlushRetries(ctx context.Context) (flushed, remaining int, err error)

	// QueuedRetries returns the number of records awaiting retry.
	QueuedRetries() int
}
