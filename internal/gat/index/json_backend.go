package index

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/karthik1codes/gat/internal/gat/apperr"
)

// JSONBackend implements Backend as a single JSON file: a top-level object
// { token_hex: [doc_id, ...], ... } (spec.md §6), written atomically via
// write-to-temp-then-rename to avoid torn files on crash.
type JSONBackend struct {
	mu   sync.RWMutex
	path string
	data map[string][]string
}

// OpenJSONBackend loads path if it exists, or starts with an empty index.
func OpenJSONBackend(path string) (*JSONBackend, error) {
	b := &JSONBackend{path: path, data: map[string][]string{}}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return b, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if len(raw) == 0 {
		return b, nil
	}
	if err := json.Unmarshal(raw, &b.data); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, apperr.ErrCorruption)
	}
	return b, nil
}

func (b *JSONBackend) Add(tokenHex string, docIDs []string) error {
	return b.AddBatch(map[string][]string{tokenHex: docIDs})
}

func (b *JSONBackend) AddBatch(batch map[string][]string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for tokenHex, docIDs := range batch {
		existing := b.data[tokenHex]
		seen := make(map[string]struct{}, len(existing))
		for _, id := range existing {
			seen[id] = struct{}{}
		}
		for _, id := range docIDs {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			existing = append(existing, id)
		}
		b.data[tokenHex] = existing
	}
	return b.persist()
}

func (b *JSONBackend) IterEntries() ([]Entry, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	tokens := make([]string, 0, len(b.data))
	for t := range b.data {
		tokens = append(tokens, t)
	}
	sort.Strings(tokens)
	out := make([]Entry, 0, len(tokens))
	for _, t := range tokens {
		out = append(out, Entry{TokenHex: t, DocIDs: append([]string(nil), b.data[t]...)})
	}
	return out, nil
}

func (b *JSONBackend) RemoveDocID(docID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for tokenHex, docIDs := range b.data {
		filtered := docIDs[:0:0]
		for _, id := range docIDs {
			if id != docID {
				filtered = append(filtered, id)
			}
		}
		if len(filtered) == 0 {
			delete(b.data, tokenHex)
		} else {
			b.data[tokenHex] = filtered
		}
	}
	return b.persist()
}

func (b *JSONBackend) BytesPerDoc() (map[string]int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	totals := make(map[string]int)
	for tokenHex, docIDs := range b.data {
		share := len(tokenHex) / max1(len(docIDs))
		for _, id := range docIDs {
			totals[id] += share
		}
	}
	return totals, nil
}

func max1(n int) int {
	if n <= 0 {
		return 1
	}
	return n
}

func (b *JSONBackend) Close() error { return nil }

// persist writes b.data to a temp file in the same directory, then renames
// it over b.path, so a crash mid-write never leaves a torn index.json.
func (b *JSONBackend) persist() error {
	dir := filepath.Dir(b.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	raw, err := json.Marshal(b.data)
	if err != nil {
		return fmt.Errorf("marshaling index: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".index-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, b.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming into place: %w", err)
	}
	return nil
}
