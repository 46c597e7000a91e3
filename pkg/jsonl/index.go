package jsonl

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/colebaker/jsonlstore/pkg/fs"
)

const indexPerm = 0o644

// TokenIndex is an in-memory set of previously-seen deduplication tokens for
// one data file, persisted as <path>.idx.json.
//
// Tokens are opaque strings chosen by the caller (for example a natural id).
// Once a token is present, subsequent writes carrying the same token are
// no-ops. The index is loaded once when a writer opens in append mode,
// mutated in memory during the session, and persisted exactly once at close.
//
// TokenIndex is not safe for concurrent use; the owning writer serializes
// access.
type TokenIndex struct {
	tokens map[string]bool
}

// NewTokenIndex returns an empty index.
func NewTokenIndex() *TokenIndex {
	return &TokenIndex{tokens: make(map[string]bool)}
}

// LoadTokenIndex reads the index at indexPath.
//
// A missing, unreadable, or invalid file yields an empty index; loading
// never fails.
func LoadTokenIndex(fsys fs.FS, indexPath string) *TokenIndex {
	ix := NewTokenIndex()

	data, err := fsys.ReadFile(indexPath)
	if err != nil {
		return ix
	}

	var tokens map[string]bool

	if err := json.Unmarshal(data, &tokens); err != nil || tokens == nil {
		return ix
	}

	ix.tokens = tokens

	return ix
}

// Contains reports whether token has been seen.
func (ix *TokenIndex) Contains(token string) bool {
	return ix.tokens[token]
}

// Add records token as seen.
func (ix *TokenIndex) Add(token string) {
	ix.tokens[token] = true
}

// Len returns the number of recorded tokens.
func (ix *TokenIndex) Len() int {
	return len(ix.tokens)
}

// Persist serializes the whole set and atomically replaces the file at
// indexPath. An empty index is a no-op, so writers that never deduplicate
// don't litter targets with empty index files.
func (ix *TokenIndex) Persist(fsys fs.FS, indexPath string) error {
	if len(ix.tokens) == 0 {
		return nil
	}

	var buf bytes.Buffer

	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(ix.tokens); err != nil {
		return fmt.Errorf("encoding token index: %w", err)
	}

	if err := fsys.WriteFileAtomic(indexPath, buf.Bytes(), indexPerm); err != nil {
		return fmt.Errorf("persisting token index: %w", err)
	}

	return nil
}
