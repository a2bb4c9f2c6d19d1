// Package docid computes stable document identifiers for the KOReader
// sync protocol.
//
// Two strategies exist. The filename strategy hashes only the file's base
// name, so the id survives content edits but not renames. The partial
// strategy samples the file content at growing offsets, so the id survives
// renames but not content changes. The two strategies produce unrelated
// identifiers for the same file: a client that switches strategy for an
// already-synced document starts a fresh identity on the server. That is
// an operational hazard to document, not something this package can guard
// against.
package docid

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Strategy selects a document identification algorithm.
type Strategy string

const (
	// StrategyFilename hashes the file's base name.
	StrategyFilename Strategy = "filename"
	// StrategyPartial hashes sampled file content.
	StrategyPartial Strategy = "partial"
)

// Valid reports whether s names a known strategy.
func (s Strategy) Valid() bool {
	return s == StrategyFilename || s == StrategyPartial
}

const (
	// sampleChunk is both the base offset unit and the read size per
	// sample. Fixed by the KOReader algorithm.
	sampleChunk = 1024
)

// FromFilename returns the md5 hex digest of the final path component.
// The file does not need to exist; only its name matters.
func FromFilename(path string) string {
	sum := md5.Sum([]byte(filepath.Base(path)))
	return hex.EncodeToString(sum[:])
}

// FromPartialContent returns KOReader's "partial md5" of the file at path.
//
// The file is sampled at offsets 1024 << (2*i) for i in [-1..10] — twelve
// offsets, starting at 256 (the negative shift). Upstream documentation
// says eleven, but the reference loop runs twelve iterations; the extra
// offset is kept for bit-for-bit compatibility with the sync service.
// Up to 1024 bytes are read at each offset and fed into one running
// digest. Sampling stops cleanly at the first failed seek or zero-byte
// read, so a file shorter than 256 bytes yields the digest of no input.
func FromPartialContent(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	h := md5.New()
	buf := make([]byte, sampleChunk)

	for i := -1; i <= 10; i++ {
		var offset int64
		if i < 0 {
			offset = sampleChunk >> 2
		} else {
			offset = sampleChunk << (2 * i)
		}

		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			break
		}

		// A short read does not stop sampling; only an empty one does.
		// Later offsets can still land inside the file.
		n, _ := io.ReadFull(f, buf)
		if n == 0 {
			break
		}
		h.Write(buf[:n])
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// Compute dispatches to the configured strategy.
func Compute(s Strategy, path string) (string, error) {
	switch s {
	case StrategyPartial:
		return FromPartialContent(path)
	case StrategyFilename:
		return FromFilename(path), nil
	default:
		return "", fmt.Errorf("unknown document id strategy %q", s)
	}
}
