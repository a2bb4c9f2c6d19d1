package store

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/example/kosync/internal/schema"
)

// FileStore keeps the progress table in memory and mirrors it to a
// human-readable JSON file, one entry per document id.
type FileStore struct {
	mu      sync.Mutex
	path    string
	logger  *log.Logger
	records map[string]*schema.Record
}

// OpenFile loads (or initializes) a file-backed store at path.
//
// A missing file starts an empty table. A corrupt file is logged and
// likewise treated as empty rather than failing startup; the next
// successful Upsert rewrites it.
//
// If logger is nil, a default logger writing to stderr is used.
func OpenFile(path string, logger *log.Logger) (*FileStore, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[store] ", log.LstdFlags)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	fs := &FileStore{
		path:    path,
		logger:  logger,
		records: make(map[string]*schema.Record),
	}
	fs.load()
	return fs, nil
}

// load reads the persisted table. Failures degrade to an empty cache.
func (fs *FileStore) load() {
	data, err := os.ReadFile(fs.path)
	if err != nil {
		if !os.IsNotExist(err) {
			fs.logger.Printf("WARNING: failed to read progress table %s: %v", fs.path, err)
		}
		return
	}

	var table map[string]*schema.Record
	if err := json.Unmarshal(data, &table); err != nil {
		fs.logger.Printf("WARNING: corrupt progress table %s, starting empty: %v", fs.path, err)
		return
	}
	fs.records = table
}

// Get implements Store.Get.
func (fs *FileStore) Get(documentID string) (*schema.Record, bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	rec, ok := fs.records[documentID]
	if !ok {
		return nil, false
	}
	cp := *rec
	return &cp, true
}

// Upsert implements Store.Upsert. The in-memory entry updates even when
// the flush to disk fails.
func (fs *FileStore) Upsert(rec *schema.Record) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	cp := *rec
	fs.records[cp.Document] = &cp
	return fs.flushLocked()
}

// flushLocked writes the full table through a temp file and rename so a
// crashed writer never leaves a truncated table behind. Caller holds mu.
func (fs *FileStore) flushLocked() error {
	data, err := json.MarshalIndent(fs.records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode progress table: %w", err)
	}

	tmp := fs.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write progress table: %w", err)
	}
	if err := os.Rename(tmp, fs.path); err != nil {
		return fmt.Errorf("failed to replace progress table: %w", err)
	}
	return nil
}

// Len returns the number of cached entries.
func (fs *FileStore) Len() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return len(fs.records)
}

// Close implements Store.Close. The file store holds no open handles.
func (fs *FileStore) Close() error {
	return nil
}
