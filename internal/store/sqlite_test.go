package store

import (
	"path/filepath"
	"testing"
	"time"
)

// setupSQLite creates a temporary database-backed store for testing.
func setupSQLite(t *testing.T) *SQLiteStore {
	t.Helper()

	path := filepath.Join(t.TempDir(), "progress.db")
	st, err := OpenSQLite(path, quietLogger())
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	st := setupSQLite(t)

	if _, ok := st.Get("missing"); ok {
		t.Error("Get on empty store reported an entry")
	}

	rec := testRecord("doc1", 7)
	if err := st.Upsert(rec); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	got, ok := st.Get("doc1")
	if !ok {
		t.Fatal("Get after Upsert reported no entry")
	}
	if got.Progress != "7" || got.LocalPosition != 7 || got.TotalLength != 200 {
		t.Errorf("unexpected record: %+v", got)
	}
	if got.LastPushedAt.IsZero() {
		t.Error("last_pushed_at not round-tripped")
	}
}

func TestSQLiteStoreReplaceSemantics(t *testing.T) {
	st := setupSQLite(t)

	if err := st.Upsert(testRecord("doc1", 7)); err != nil {
		t.Fatalf("first Upsert failed: %v", err)
	}

	later := testRecord("doc1", 12)
	later.Progress = "12"
	later.LastPushedAt = time.Now().UTC().Add(time.Minute)
	if err := st.Upsert(later); err != nil {
		t.Fatalf("second Upsert failed: %v", err)
	}

	got, _ := st.Get("doc1")
	if got.Progress != "12" || got.LocalPosition != 12 {
		t.Errorf("upsert did not replace entry: %+v", got)
	}
}

func TestSQLiteStoreZeroPushTime(t *testing.T) {
	st := setupSQLite(t)

	rec := testRecord("doc1", 7)
	rec.LastPushedAt = time.Time{}
	if err := st.Upsert(rec); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	got, _ := st.Get("doc1")
	if !got.LastPushedAt.IsZero() {
		t.Errorf("zero push time came back as %v", got.LastPushedAt)
	}
}
