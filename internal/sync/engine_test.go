package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"testing"
	"time"

	"github.com/example/kosync/internal/docid"
	"github.com/example/kosync/internal/schema"
	"github.com/example/kosync/internal/store"
	"github.com/example/kosync/internal/transport"
)

// fakeTransport is an in-memory transport.Client test double.
type fakeTransport struct {
	remote   map[string]*schema.Record // canned GetProgress responses
	authFail bool                      // reject every call with ErrAuth
	failDocs map[string]bool           // documents whose puts fail (non-auth)
	puts     []*schema.Record          // successful and failed put attempts
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		remote:   make(map[string]*schema.Record),
		failDocs: make(map[string]bool),
	}
}

func (f *fakeTransport) TestAuth(ctx context.Context) bool {
	return !f.authFail
}

func (f *fakeTransport) GetProgress(ctx context.Context, documentID string) (*schema.Record, error) {
	if f.authFail {
		return nil, transport.ErrAuth
	}
	rec, ok := f.remote[documentID]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeTransport) PutProgress(ctx context.Context, rec *schema.Record) error {
	if f.authFail {
		return transport.ErrAuth
	}
	cp := *rec
	f.puts = append(f.puts, &cp)
	if f.failDocs[rec.Document] {
		return fmt.Errorf("server busy")
	}
	return nil
}

// newTestEngine builds an engine over a fake transport and a real
// file-backed store in a temp dir.
func newTestEngine(t *testing.T, tr transport.Client, cfg Config) Engine {
	t.Helper()

	cache, err := store.OpenFile(filepath.Join(t.TempDir(), "progress.json"), log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	if cfg.DeviceID == "" {
		cfg.DeviceID = "TESTDEVICE"
	}
	if cfg.DeviceName == "" {
		cfg.DeviceName = "unit-test"
	}
	return New(cfg, tr, cache, log.New(io.Discard, "", 0))
}

func TestResolveNoRemotePushesLocal(t *testing.T) {
	tr := newFakeTransport()
	eng := newTestEngine(t, tr, Config{})

	res, err := eng.Resolve(context.Background(), "book.epub", 7, 200)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if res.Outcome != OutcomeNoRemote {
		t.Errorf("outcome = %v, want no-remote", res.Outcome)
	}
	if res.Position != 7 {
		t.Errorf("position = %d, want 7 unchanged", res.Position)
	}
	if !res.Pushed {
		t.Error("expected a push")
	}
	if len(tr.puts) != 1 {
		t.Fatalf("put count = %d, want 1", len(tr.puts))
	}

	put := tr.puts[0]
	if put.Document != docid.FromFilename("book.epub") {
		t.Errorf("pushed document id = %s, want filename hash", put.Document)
	}
	if put.Progress != "7" || put.Percentage != 0.035 {
		t.Errorf("pushed record = progress %s pct %g, want 7 / 0.035", put.Progress, put.Percentage)
	}
}

func TestResolveAdoptsRemoteWhenAhead(t *testing.T) {
	tr := newFakeTransport()
	doc := docid.FromFilename("book.epub")
	tr.remote[doc] = &schema.Record{
		Document: doc, Progress: "17", Percentage: 0.085,
		DeviceID: "OTHER", Device: "other-device",
	}
	eng := newTestEngine(t, tr, Config{})

	// Local 7/200 = 0.035; remote leads by 0.05 > 0.02 threshold.
	res, err := eng.Resolve(context.Background(), "book.epub", 7, 200)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if res.Outcome != OutcomeAdoptedRemote {
		t.Errorf("outcome = %v, want adopted-remote", res.Outcome)
	}
	if res.Position != 17 {
		t.Errorf("position = %d, want remote 17", res.Position)
	}
	if res.Pushed || len(tr.puts) != 0 {
		t.Errorf("adoption must not push (pushed=%v, puts=%d)", res.Pushed, len(tr.puts))
	}
}

func TestResolveTieReaffirmsLocal(t *testing.T) {
	tr := newFakeTransport()
	doc := docid.FromFilename("book.epub")
	tr.remote[doc] = &schema.Record{
		Document: doc, Progress: "8", Percentage: 0.04,
		DeviceID: "OTHER", Device: "other-device",
	}
	eng := newTestEngine(t, tr, Config{})

	// Remote leads by only 0.005, inside the 0.02 threshold.
	res, err := eng.Resolve(context.Background(), "book.epub", 7, 200)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if res.Outcome != OutcomeTie {
		t.Errorf("outcome = %v, want tie", res.Outcome)
	}
	if res.Position != 7 {
		t.Errorf("position = %d, want local 7", res.Position)
	}
	if len(tr.puts) != 1 {
		t.Errorf("put count = %d, want exactly 1", len(tr.puts))
	}
}

func TestResolveLocalAheadPushes(t *testing.T) {
	tr := newFakeTransport()
	doc := docid.FromFilename("book.epub")
	tr.remote[doc] = &schema.Record{
		Document: doc, Progress: "2", Percentage: 0.01,
		DeviceID: "OTHER", Device: "other-device",
	}
	eng := newTestEngine(t, tr, Config{})

	res, err := eng.Resolve(context.Background(), "book.epub", 50, 200)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if res.Outcome != OutcomeLocalAhead {
		t.Errorf("outcome = %v, want local-ahead", res.Outcome)
	}
	if res.Position != 50 || len(tr.puts) != 1 {
		t.Errorf("position=%d puts=%d, want 50 and 1", res.Position, len(tr.puts))
	}
}

func TestResolveNeverAdoptsUnparseableRemote(t *testing.T) {
	tr := newFakeTransport()
	doc := docid.FromFilename("book.epub")
	tr.remote[doc] = &schema.Record{
		Document: doc, Progress: "/body/DocFragment[28]", Percentage: 0.9,
		DeviceID: "OTHER", Device: "other-device",
	}
	eng := newTestEngine(t, tr, Config{})

	res, err := eng.Resolve(context.Background(), "book.epub", 7, 200)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if res.Outcome == OutcomeAdoptedRemote {
		t.Error("adopted a remote position that does not parse as an integer")
	}
	if res.Position != 7 {
		t.Errorf("position = %d, want local 7", res.Position)
	}
	if len(tr.puts) != 1 {
		t.Errorf("put count = %d, want 1", len(tr.puts))
	}
}

func TestResolveNeverAdoptsRemotePositionZero(t *testing.T) {
	tr := newFakeTransport()
	doc := docid.FromFilename("book.epub")
	tr.remote[doc] = &schema.Record{
		Document: doc, Progress: "0", Percentage: 0.9,
		DeviceID: "OTHER", Device: "other-device",
	}
	eng := newTestEngine(t, tr, Config{})

	res, err := eng.Resolve(context.Background(), "book.epub", 7, 200)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.Outcome == OutcomeAdoptedRemote || res.Position != 7 {
		t.Errorf("adopted remote position 0: %+v", res)
	}
}

func TestResolvePropagatesAuthError(t *testing.T) {
	tr := newFakeTransport()
	tr.authFail = true
	eng := newTestEngine(t, tr, Config{})

	if _, err := eng.Resolve(context.Background(), "book.epub", 7, 200); !errors.Is(err, transport.ErrAuth) {
		t.Errorf("err = %v, want ErrAuth", err)
	}
	if eng.QueuedRetries() != 0 {
		t.Error("auth failure must not enqueue retries")
	}
}

func TestDebouncedPushGate(t *testing.T) {
	tr := newFakeTransport()
	eng := newTestEngine(t, tr, Config{DebounceInterval: 100 * time.Millisecond})
	ctx := context.Background()

	// force bypasses both checks.
	ok, err := eng.DebouncedPush(ctx, "book.epub", 3, 40, true)
	if err != nil || !ok {
		t.Fatalf("forced push = (%v, %v), want success", ok, err)
	}

	// Immediately after, the interval check suppresses.
	ok, err = eng.DebouncedPush(ctx, "book.epub", 4, 40, false)
	if err != nil {
		t.Fatalf("DebouncedPush failed: %v", err)
	}
	if ok {
		t.Error("push inside debounce interval was not suppressed")
	}

	time.Sleep(150 * time.Millisecond)

	// Interval elapsed and position advanced: passes.
	ok, err = eng.DebouncedPush(ctx, "book.epub", 4, 40, false)
	if err != nil {
		t.Fatalf("DebouncedPush failed: %v", err)
	}
	if !ok {
		t.Error("push after debounce interval was suppressed")
	}

	time.Sleep(150 * time.Millisecond)

	// Interval elapsed but no position advance: suppressed.
	ok, err = eng.DebouncedPush(ctx, "book.epub", 4, 40, false)
	if err != nil {
		t.Fatalf("DebouncedPush failed: %v", err)
	}
	if ok {
		t.Error("push without position advance was not suppressed")
	}

	if len(tr.puts) != 2 {
		t.Errorf("put count = %d, want 2", len(tr.puts))
	}
}

func TestDebouncedPushFirstCallAtZeroPosition(t *testing.T) {
	tr := newFakeTransport()
	eng := newTestEngine(t, tr, Config{DebounceInterval: 50 * time.Millisecond})

	// No cache entry: last position defaults to 0, so position 0 fails
	// the delta check even though the time check passes.
	ok, err := eng.DebouncedPush(context.Background(), "book.epub", 0, 40, false)
	if err != nil {
		t.Fatalf("DebouncedPush failed: %v", err)
	}
	if ok {
		t.Error("first push at position 0 should fail the delta check")
	}

	// Position 1 passes both.
	ok, err = eng.DebouncedPush(context.Background(), "book.epub", 1, 40, false)
	if err != nil {
		t.Fatalf("DebouncedPush failed: %v", err)
	}
	if !ok {
		t.Error("first push at position 1 was suppressed")
	}
}

func TestPushFailureQueuesForRetry(t *testing.T) {
	tr := newFakeTransport()
	doc := docid.FromFilename("book.epub")
	tr.failDocs[doc] = true
	eng := newTestEngine(t, tr, Config{})

	ok, err := eng.DebouncedPush(context.Background(), "book.epub", 3, 40, true)
	if err != nil {
		t.Fatalf("DebouncedPush failed: %v", err)
	}
	if ok {
		t.Error("push reported success despite server failure")
	}
	if eng.QueuedRetries() != 1 {
		t.Errorf("queued retries = %d, want 1", eng.QueuedRetries())
	}
}

func TestFlushRetriesPreservesOrder(t *testing.T) {
	tr := newFakeTransport()
	eng := newTestEngine(t, tr, Config{})
	ctx := context.Background()

	// Queue pushes for three documents, all failing.
	for _, name := range []string{"a.epub", "b.epub", "c.epub"} {
		tr.failDocs[docid.FromFilename(name)] = true
		if _, err := eng.DebouncedPush(ctx, name, 5, 40, true); err != nil {
			t.Fatalf("DebouncedPush failed: %v", err)
		}
	}
	if eng.QueuedRetries() != 3 {
		t.Fatalf("queued retries = %d, want 3", eng.QueuedRetries())
	}

	// b recovers; a and c keep failing.
	delete(tr.failDocs, docid.FromFilename("b.epub"))
	tr.puts = nil

	flushed, remaining, err := eng.FlushRetries(ctx)
	if err != nil {
		t.Fatalf("FlushRetries failed: %v", err)
	}
	if flushed != 1 || remaining != 2 {
		t.Errorf("flush = (%d, %d), want (1, 2)", flushed, remaining)
	}
	if len(tr.puts) != 3 {
		t.Errorf("attempts = %d, want one per queued record", len(tr.puts))
	}

	// The remainder drains in original order once the server recovers.
	tr.failDocs = map[string]bool{}
	tr.puts = nil
	flushed, remaining, err = eng.FlushRetries(ctx)
	if err != nil {
		t.Fatalf("second FlushRetries failed: %v", err)
	}
	if flushed != 2 || remaining != 0 {
		t.Errorf("flush = (%d, %d), want (2, 0)", flushed, remaining)
	}
	if tr.puts[0].Document != docid.FromFilename("a.epub") ||
		tr.puts[1].Document != docid.FromFilename("c.epub") {
		t.Error("retry order not preserved")
	}
}

func TestFlushRetriesAuthAbortRetainsQueue(t *testing.T) {
	tr := newFakeTransport()
	eng := newTestEngine(t, tr, Config{})
	ctx := context.Background()

	for _, name := range []string{"a.epub", "b.epub"} {
		tr.failDocs[docid.FromFilename(name)] = true
		if _, err := eng.DebouncedPush(ctx, name, 5, 40, true); err != nil {
			t.Fatalf("DebouncedPush failed: %v", err)
		}
	}

	tr.authFail = true
	flushed, remaining, err := eng.FlushRetries(ctx)
	if !errors.Is(err, transport.ErrAuth) {
		t.Errorf("err = %v, want ErrAuth", err)
	}
	if flushed != 0 || remaining != 2 {
		t.Errorf("flush = (%d, %d), want (0, 2) retained", flushed, remaining)
	}
}

func TestPushSuccessUpdatesCache(t *testing.T) {
	tr := newFakeTransport()
	eng := newTestEngine(t, tr, Config{})

	if _, err := eng.DebouncedPush(context.Background(), "book.epub", 9, 40, true); err != nil {
		t.Fatalf("DebouncedPush failed: %v", err)
	}

	// The cached entry backs the next fetch's local metadata merge.
	doc := docid.FromFilename("book.epub")
	tr.remote[doc] = &schema.Record{
		Document: doc, Progress: "9", Percentage: 0.225,
		DeviceID: "TESTDEVICE", Device: "unit-test", Timestamp: 1700000000,
	}
	rec, err := eng.Fetch(context.Background(), "book.epub")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if rec.LocalPosition != 9 || rec.TotalLength != 40 {
		t.Errorf("local metadata not merged: %+v", rec)
	}
	if rec.LastPushedAt.IsZero() {
		t.Error("push time not recorded in cache")
	}
}
