// Package transport issues authenticated requests against the KOReader
// sync service's fixed wire contract.
package transport

import (
	"context"
	"errors"

	"github.com/example/kosync/internal/schema"
)

// ErrAuth indicates the stored credential was rejected by the server.
//
// This is the one failure the sync engine surfaces to its caller instead
// of swallowing: retrying with a known-bad credential is futile, so
// nothing downstream should enqueue or retry after seeing it.
var ErrAuth = errors.New("authentication rejected")

// Client is the sync engine's view of the remote service. All three
// operations run synchronously under a bounded timeout; a timeout or
// network failure is a recoverable condition, never a crash.
type Client interface {
	// TestAuth reports whether the configured credentials are accepted.
	// Only an explicit success response counts; every other outcome,
	// network failure included, reports false.
	TestAuth(ctx context.Context) bool

	// GetProgress fetches the remote record for a document id.
	//
	// A not-found response returns (nil, nil). An authentication
	// rejection returns ErrAuth. Any other non-success outcome —
	// unexpected status, unparseable body, network failure — is logged
	// and returned as (nil, nil): the engine cannot distinguish "no
	// data" from a transient server problem and must not fail the
	// caller over one.
	GetProgress(ctx context.Context, documentID string) (*schema.Record, error)

	// PutProgress uploads a record. A nil return means the server
	// explicitly accepted it. ErrAuth means the credential was
	// rejected. Any other error is a recoverable push failure the
	// caller may queue for a later retry.
	PutProgress(ctx context.Context, rec *schema.Record) error
}
