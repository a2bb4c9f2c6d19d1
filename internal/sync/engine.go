package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/example/kosync/internal/docid"
	"github.com/example/kosync/internal/schema"
	"github.com/example/kosync/internal/store"
	"github.com/example/kosync/internal/transport"
)

const (
	// DefaultDebounceInterval matches the reference client.
	DefaultDebounceInterval = 25 * time.Second
	// DefaultAdoptRemoteThreshold is the percentage lead a remote
	// record needs before it is adopted over the local position.
	DefaultAdoptRemoteThreshold = 0.02
	// DefaultMinPositionDelta is the minimum position advance required
	// to pass the debounce gate.
	DefaultMinPositionDelta = 1
)

// Config carries the engine's identity and policy knobs. The zero value
// of each policy field selects its default.
type Config struct {
	// DeviceID is the stable per-installation identifier (see the
	// device package).
	DeviceID string
	// DeviceName is the human-readable label sent with every record.
	DeviceName string

	// Strategy selects the document fingerprint algorithm. Switching
	// it for an already-synced document silently creates a new,
	// unrelated identity on the server; treat the choice as permanent
	// per installation.
	Strategy docid.Strategy

	// AdoptRemoteThreshold overrides DefaultAdoptRemoteThreshold.
	AdoptRemoteThreshold float64
	// DebounceInterval overrides DefaultDebounceInterval.
	DebounceInterval time.Duration
	// MinPositionDelta overrides DefaultMinPositionDelta.
	MinPositionDelta int64
}

// engine implements the Engine interface.
type engine struct {
	cfg    Config
	remote transport.Client
	cache  store.Store
	logger *log.Logger

	// pushMu makes the DebouncedPush read-gate-push cycle atomic so
	// concurrent callers cannot both pass the gate before either
	// records a push.
	pushMu sync.Mutex

	// queueMu guards the retry queue.
	queueMu sync.Mutex
	queue   []*schema.Record

	now func() time.Time
}

// New creates an Engine over the given transport and store.
//
// If logger is nil, a default logger writing to stderr is used. Policy
// fields left zero in cfg take their package defaults.
//
// Example:
//
//	cache, err := store.OpenFile(filepath.Join(dir, "progress.json"), nil)
//	if err != nil {
//	    return err
//	}
//	remote := transport.NewHTTP("", user, pass, 0, nil)
//	eng := sync.New(sync.Config{DeviceID: id, DeviceName: "reader"}, remote, cache, nil)
func New(cfg Config, remote transport.Client, cache store.Store, logger *log.Logger) Engine {
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	if cfg.Strategy == "" {
		cfg.Strategy = docid.StrategyFilename
	}
	if cfg.AdoptRemoteThreshold <= 0 {
		cfg.AdoptRemoteThreshold = DefaultAdoptRemoteThreshold
	}
	if cfg.DebounceInterval <= 0 {
		cfg.DebounceInterval = DefaultDebounceInterval
	}
	if cfg.MinPositionDelta <= 0 {
		cfg.MinPositionDelta = DefaultMinPositionDelta
	}
	return &engine{
		cfg:    cfg,
		remote: remote,
		cache:  cache,
		logger: logger,
		now:    time.Now,
	}
}

// DocumentID implements Engine.DocumentID.
func (e *engine) DocumentID(path string) (string, error) {
	id, err := docid.Compute(e.cfg.Strategy, path)
	if err != nil {
		return "", fmt.Errorf("failed to compute document id: %w", err)
	}
	return id, nil
}

// TestAuth implements Engine.TestAuth.
func (e *engine) TestAuth(ctx context.Context) bool {
	return e.remote.TestAuth(ctx)
}

// Fetch implements Engine.Fetch.
func (e *engine) Fetch(ctx context.Context, path string) (*schema.Record, error) {
	doc, err := e.DocumentID(path)
	if err != nil {
		return nil, err
	}
	return e.fetchByID(ctx, doc)
}

// fetchByID fetches the remote record and merges cached local metadata.
func (e *engine) fetchByID(ctx context.Context, doc string) (*schema.Record, error) {
	rec, err := e.remote.GetProgress(ctx, doc)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}

	if local, ok := e.cache.Get(doc); ok {
		rec.LocalPosition = local.LocalPosition
		rec.TotalLength = local.TotalLength
		rec.LastPushedAt = local.LastPushedAt
	}
	return rec, nil
}

// buildRecord assembles a push-ready record for the current position.
// The percentage is always the clamp of position/total.
func (e *engine) buildRecord(doc string, position, total int64) *schema.Record {
	return &schema.Record{
		Document:      doc,
		Progress:      strconv.FormatInt(position, 10),
		Percentage:    schema.Percentage(position, total),
		DeviceID:      e.cfg.DeviceID,
		Device:        e.cfg.DeviceName,
		LocalPosition: position,
		TotalLength:   total,
	}
}

// Resolve implements Engine.Resolve.
func (e *engine) Resolve(ctx context.Context, path string, position, total int64) (*Resolution, error) {
	doc, err := e.DocumentID(path)
	if err != nil {
		return nil, err
	}

	remote, err := e.fetchByID(ctx, doc)
	if err != nil {
		return nil, err
	}

	localPct := schema.Percentage(position, total)
	rec := e.buildRecord(doc, position, total)

	if remote == nil {
		e.logger.Printf("No remote progress for %s; pushing position=%d (%.2f%%)", doc, position, localPct*100)
		pushed, err := e.push(ctx, rec)
		if err != nil {
			return nil, err
		}
		return &Resolution{Document: doc, Position: position, Outcome: OutcomeNoRemote, Pushed: pushed}, nil
	}

	delta := remote.Percentage - localPct
	remotePos, numeric := schema.ParsePosition(remote.Progress)

	if delta > e.cfg.AdoptRemoteThreshold && numeric && remotePos > 0 {
		e.logger.Printf("Adopting remote progress for %s: local %.2f%% vs remote %.2f%% (position %d)",
			doc, localPct*100, remote.Percentage*100, remotePos)
		return &Resolution{Document: doc, Position: remotePos, Outcome: OutcomeAdoptedRemote}, nil
	}

	outcome := OutcomeTie
	if delta < -e.cfg.AdoptRemoteThreshold {
		outcome = OutcomeLocalAhead
		e.logger.Printf("Local ahead for %s (%.2f%% vs %.2f%%); pushing", doc, localPct*100, remote.Percentage*100)
	} else {
		e.logger.Printf("Percentages close for %s (delta=%.3f); reaffirming local", doc, delta)
	}

	pushed, err := e.push(ctx, rec)
	if err != nil {
		return nil, err
	}
	return &Resolution{Document: doc, Position: position, Outcome: outcome, Pushed: pushed}, nil
}

// DebouncedPush implements Engine.DebouncedPush.
func (e *engine) DebouncedPush(ctx context.Context, path string, position, total int64, force bool) (bool, error) {
	doc, err := e.DocumentID(path)
	if err != nil {
		return false, err
	}

	e.pushMu.Lock()
	defer e.pushMu.Unlock()

	// Absent entries default to an epoch push time and position 0, so
	// a first call passes the time check but a position of 0 still
	// fails the delta check unless forced.
	var lastPush time.Time
	var lastPosition int64
	if local, ok := e.cache.Get(doc); ok {
		lastPush = local.LastPushedAt
		lastPosition = local.LocalPosition
	}

	if !force {
		if e.now().Sub(lastPush) < e.cfg.DebounceInterval {
			return false, nil
		}
		if position-lastPosition < e.cfg.MinPositionDelta {
			return false, nil
		}
	}

	return e.push(ctx, e.buildRecord(doc, position, total))
}

// push sends a record to the server.
//
// On success the record is stamped with the push time and cached. An
// auth rejection propagates and is never queued; any other failure lands
// the record on the retry queue for a later FlushRetries.
func (e *engine) push(ctx context.Context, rec *schema.Record) (bool, error) {
	ok, err := e.attempt(ctx, rec)
	if err != nil {
		return false, err
	}
	if !ok {
		e.enqueueRetry(rec)
	}
	return ok, nil
}

// attempt performs a single push without touching the retry queue.
// The returned error is only ever an auth rejection.
func (e *engine) attempt(ctx context.Context, rec *schema.Record) (bool, error) {
	err := e.remote.PutProgress(ctx, rec)
	if errors.Is(err, transport.ErrAuth) {
		return false, fmt.Errorf("push rejected: %w", err)
	}
	if err != nil {
		e.logger.Printf("WARNING: push failed for %s: %v", rec.Document, err)
		return false, nil
	}

	rec.LastPushedAt = e.now()
	if err := e.cache.Upsert(rec); err != nil {
		// In-memory state is current; persistence degrades quietly.
		e.logger.Printf("WARNING: failed to persist progress for %s: %v", rec.Document, err)
	}
	e.logger.Printf("Progress synced: %s position=%s (%.2f%%)", rec.Document, rec.Progress, rec.Percentage*100)
	return true, nil
}

// enqueueRetry appends a failed record to the retry queue.
func (e *engine) enqueueRetry(rec *schema.Record) {
	e.queueMu.Lock()
	defer e.queueMu.Unlock()
	e.queue = append(e.queue, rec)
	e.logger.Printf("Queued for retry: %s (%d pending)", rec.Document, len(e.queue))
}

// FlushRetries implements Engine.FlushRetries.
func (e *engine) FlushRetries(ctx context.Context) (int, int, error) {
	e.queueMu.Lock()
	pending := e.queue
	e.queue = nil
	e.queueMu.Unlock()

	var kept []*schema.Record
	var flushed int
	var authErr error

	for i, rec := range pending {
		ok, err := e.attempt(ctx, rec)
		if err != nil {
			// Credential is bad; keep everything unflushed, current
			// record included, and stop.
			authErr = err
			kept = append(kept, pending[i:]...)
			break
		}
		if !ok {
			kept = append(kept, rec)
			continue
		}
		flushed++
	}

	e.queueMu.Lock()
	// Records queued by concurrent pushes during the drain go behind
	// the retained originals.
	e.queue = append(kept, e.queue...)
	remaining := len(e.queue)
	e.queueMu.Unlock()

	if authErr == nil && (flushed > 0 || remaining > 0) {
		e.logger.Printf("Retry flush: %d sent, %d still pending", flushed, remaining)
	}
	return flushed, remaining, authErr
}

// QueuedRetries implements Engine.QueuedRetries.
func (e *engine) QueuedRetries() int {
	e.queueMu.Lock()
	defer e.queueMu.Unlock()
	return len(e.queue)
}
