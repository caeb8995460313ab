// Package server implements the untrusted storage server (spec.md §4.8,
// C10): holds encrypted document blobs and the encrypted index, matches
// search tokens against stored index keys with constant-time comparison,
// and supports padded responses. The server never decrypts anything; every
// operation here is on opaque byte strings or hex-encoded tokens.
//
// Grounded on original_source/server/server.py for exact operation
// semantics (search_multi padding/shuffling, search_multi_breakdown,
// delete_document).
package server

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sync"

	"github.com/karthik1codes/gat/internal/gat/apperr"
	"github.com/karthik1codes/gat/internal/gat/index"
	"github.com/karthik1codes/gat/internal/gat/trapdoor"
)

// Server is one vault's untrusted storage: document blobs plus the
// encrypted index backend, guarded by a single per-vault mutex held only
// for the duration of a mutating storage write (spec.md §5).
type Server struct {
	mu          sync.Mutex
	storageRoot string
	documents   map[string][]byte
	backend     index.Backend
}

// New creates a Server rooted at storageRoot, backed by the given index
// Backend, loading any already-persisted document blobs from
// storageRoot/documents.
func New(storageRoot string, backend index.Backend) (*Server, error) {
	s := &Server{
		storageRoot: storageRoot,
		documents:   map[string][]byte{},
		backend:     backend,
	}
	if err := s.loadDocuments(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Server) docsDir() string {
	return filepath.Join(s.storageRoot, "documents")
}

func (s *Server) loadDocuments() error {
	entries, err := os.ReadDir(s.docsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading documents dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		blob, err := os.ReadFile(filepath.Join(s.docsDir(), e.Name()))
		if err != nil {
			return fmt.Errorf("reading document %s: %w", e.Name(), err)
		}
		s.documents[e.Name()] = blob
	}
	return nil
}

// UploadDocument stores one encrypted document blob under doc_id, both
// in-memory and on disk.
func (s *Server) UploadDocument(docID string, blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.docsDir(), 0o755); err != nil {
		return fmt.Errorf("creating documents dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.docsDir(), docID), blob, 0o644); err != nil {
		return fmt.Errorf("writing document %s: %w", docID, err)
	}
	s.documents[docID] = blob
	return nil
}

// UploadIndex forwards an encrypted index batch (token_hex -> doc_ids) to
// the backend.
func (s *Server) UploadIndex(batch map[string][]string) error {
	return s.backend.AddBatch(batch)
}

// DeleteDocument removes a document's blob (memory and disk) and every
// index pair referencing it. Returns whether the document existed.
func (s *Server) DeleteDocument(docID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.documents[docID]; !ok {
		return false, nil
	}
	delete(s.documents, docID)
	path := filepath.Join(s.docsDir(), docID)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return false, fmt.Errorf("removing document file %s: %w", docID, err)
	}
	if err := s.backend.RemoveDocID(docID); err != nil {
		return false, fmt.Errorf("removing index entries for %s: %w", docID, err)
	}
	return true, nil
}

// Search is SearchMulti with a single token.
func (s *Server) Search(token []byte, padTo int) ([]string, error) {
	return s.SearchMulti([][]byte{token}, padTo)
}

// SearchMulti scans every stored index entry; whenever a query token is
// byte-equal (constant-time) to the stored token, its doc_ids are unioned
// into the result (first-seen order preserved, deduped). If padTo exceeds
// the real result count, synthetic hex doc_ids absent from any real
// document are appended until padTo is reached, then the whole list is
// shuffled (spec.md §4.8, §8 invariant 10).
func (s *Server) SearchMulti(tokens [][]byte, padTo int) ([]string, error) {
	entries, err := s.backend.IterEntries()
	if err != nil {
		return nil, fmt.Errorf("iterating index entries: %w", err)
	}

	var result []string
	seen := map[string]struct{}{}
	for _, e := range entries {
		stored, err := hex.DecodeString(e.TokenHex)
		if err != nil {
			continue // non-hex stored tokens are skipped, not fatal
		}
		if !matchesAny(stored, tokens) {
			continue
		}
		for _, id := range e.DocIDs {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			result = append(result, id)
		}
	}

	if padTo > len(result) {
		s.mu.Lock()
		real := s.documents
		padded, err := padResult(result, real, padTo)
		s.mu.Unlock()
		if err != nil {
			return nil, err
		}
		return padded, nil
	}
	return result, nil
}

// Pad extends an already-computed result (e.g. an n-gram intersection
// computed entirely client-side) to padTo entries using the same
// synthetic-id scheme as SearchMulti, so every search mode can mask its
// true match count the same way.
func (s *Server) Pad(result []string, padTo int) ([]string, error) {
	if padTo <= len(result) {
		return result, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return padResult(result, s.documents, padTo)
}

// SearchMultiBreakdown returns, positionally, the doc_ids matching each
// token in tokens — used by substring search's n-gram intersection.
func (s *Server) SearchMultiBreakdown(tokens [][]byte) ([][]string, error) {
	entries, err := s.backend.IterEntries()
	if err != nil {
		return nil, fmt.Errorf("iterating index entries: %w", err)
	}

	result := make([][]string, len(tokens))
	seen := make([]map[string]struct{}, len(tokens))
	for i := range seen {
		seen[i] = map[string]struct{}{}
	}

	for _, e := range entries {
		stored, err := hex.DecodeString(e.TokenHex)
		if err != nil {
			continue
		}
		for i, token := range tokens {
			if !trapdoor.ConstantTimeEqual(token, stored) {
				continue
			}
			for _, id := range e.DocIDs {
				if _, ok := seen[i][id]; ok {
					continue
				}
				seen[i][id] = struct{}{}
				result[i] = append(result[i], id)
			}
		}
	}
	return result, nil
}

func matchesAny(stored []byte, tokens [][]byte) bool {
	matched := false
	for _, token := range tokens {
		if trapdoor.ConstantTimeEqual(token, stored) {
			matched = true
		}
	}
	return matched
}

// padResult appends synthetic hex doc_ids (absent from both real and the
// current result) until the list reaches padTo entries, then shuffles the
// whole list uniformly.
func padResult(result []string, real map[string][]byte, padTo int) ([]string, error) {
	out := append([]string(nil), result...)
	inResult := make(map[string]struct{}, len(out))
	for _, id := range out {
		inResult[id] = struct{}{}
	}

	for len(out) < padTo {
		dummy, err := randomHexID(16)
		if err != nil {
			return nil, err
		}
		if _, ok := real[dummy]; ok {
			continue
		}
		if _, ok := inResult[dummy]; ok {
			continue
		}
		inResult[dummy] = struct{}{}
		out = append(out, dummy)
	}
	shuffle(out)
	return out, nil
}

// randomHexID generates a random doc-id-shaped hex string used to pad
// search results so result-set size doesn't leak the true match count
// (spec.md §8 invariant 10).
func randomHexID(nBytes int) (string, error) {
	buf := make([]byte, nBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating padding id: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// shuffle performs a uniform Fisher-Yates shuffle using crypto/rand.
func shuffle(items []string) {
	for i := len(items) - 1; i > 0; i-- {
		jBig, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			continue
		}
		j := int(jBig.Int64())
		items[i], items[j] = items[j], items[i]
	}
}

// ListDocumentIDs returns all stored document IDs.
func (s *Server) ListDocumentIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.documents))
	for id := range s.documents {
		ids = append(ids, id)
	}
	return ids
}

// GetDocument returns the encrypted blob for docID, or apperr.ErrNotFound.
func (s *Server) GetDocument(docID string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	blob, ok := s.documents[docID]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return blob, nil
}

// IndexBytesPerDoc returns the backend's approximate per-doc index
// footprint, for housekeeping.
func (s *Server) IndexBytesPerDoc() (map[string]int, error) {
	return s.backend.BytesPerDoc()
}

// Close releases the index backend's resources.
func (s *Server) Close() error {
	return s.backend.Close()
}

// Stats is a read-only storage diagnostics snapshot (supplemented from
// original_source/backend/app/services/vault_service.py's
// get_vault_stats, split across vault.Manager.Stats for key/KDF state and
// this for storage volume).
type Stats struct {
	DocumentCount  int
	TotalBytes     int64
	IndexTotalSize int
}

// Stats reports document count, total ciphertext size, and index footprint.
func (s *Server) Stats() (Stats, error) {
	s.mu.Lock()
	var total int64
	count := len(s.documents)
	for _, blob := range s.documents {
		total += int64(len(blob))
	}
	s.mu.Unlock()

	perDoc, err := s.backend.BytesPerDoc()
	if err != nil {
		return Stats{}, err
	}
	var indexTotal int
	for _, n := range perDoc {
		indexTotal += n
	}
	return Stats{DocumentCount: count, TotalBytes: total, IndexTotalSize: indexTotal}, nil
}
