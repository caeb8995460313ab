// Package client implements the Client Engine (C11, spec.md §4.9): the
// component that composes the vault, the ciphers, the tokenizers, and the
// storage server into the public upload/search operations. It owns the
// per-vault metadata file (filenames, the forward-private keyword counter)
// and the known-doc-id cache used to strip padding from server responses.
//
// Grounded on original_source/client/client.py for the operation set and
// algorithmic notes (batch deduplication, TF-IDF ranking, fuzzy early-exit).
package client

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/karthik1codes/gat/internal/gat/apperr"
	"github.com/karthik1codes/gat/internal/gat/cipher"
	"github.com/karthik1codes/gat/internal/gat/indexmac"
	"github.com/karthik1codes/gat/internal/gat/server"
	"github.com/karthik1codes/gat/internal/gat/telemetry"
	"github.com/karthik1codes/gat/internal/gat/tokenize"
	"github.com/karthik1codes/gat/internal/gat/trapdoor"
	"github.com/karthik1codes/gat/internal/gat/vault"
)

// Document is one (doc_id, plaintext, optional filename) upload unit.
type Document struct {
	DocID     string
	Plaintext string
	Filename  string
}

// metadata is the per-vault JSON sidecar from spec.md §6, extended with a
// persisted known-doc-id cache (spec.md §9 Open Questions: persisting the
// cache, rather than letting it reset on restart, keeps padding filtering
// effective across process lifetimes).
type metadata struct {
	Files          map[string]cipher.Filename `json:"files"`
	KeywordCounter map[string]uint64          `json:"keyword_counter"`
	KnownDocIDs    []string                   `json:"known_doc_ids"`
}

// Engine orchestrates one unlocked vault's uploads and searches.
type Engine struct {
	mu          sync.Mutex
	vaultMgr    *vault.Manager
	srv         *server.Server
	telemetry   *telemetry.Service
	metaPath    string
	meta        metadata
	knownDocIDs map[string]struct{}
}

// New constructs an Engine, loading any existing metadata file at metaPath.
func New(vaultMgr *vault.Manager, srv *server.Server, metaPath string, tel *telemetry.Service) (*Engine, error) {
	if tel == nil {
		tel = telemetry.NewNopService()
	}
	e := &Engine{
		vaultMgr:    vaultMgr,
		srv:         srv,
		telemetry:   tel,
		metaPath:    metaPath,
		knownDocIDs: map[string]struct{}{},
		meta: metadata{
			Files:          map[string]cipher.Filename{},
			KeywordCounter: map[string]uint64{},
		},
	}
	if err := e.load(); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Engine) load() error {
	raw, err := os.ReadFile(e.metaPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading %s: %w", e.metaPath, err)
	}
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, &e.meta); err != nil {
		return fmt.Errorf("parsing %s: %w", e.metaPath, apperr.ErrCorruption)
	}
	if e.meta.Files == nil {
		e.meta.Files = map[string]cipher.Filename{}
	}
	if e.meta.KeywordCounter == nil {
		e.meta.KeywordCounter = map[string]uint64{}
	}
	for _, id := range e.meta.KnownDocIDs {
		e.knownDocIDs[id] = struct{}{}
	}
	return nil
}

// persist writes metadata atomically (write-temp, rename), mirroring the
// index backend's approach to avoiding torn files on crash.
func (e *Engine) persist() error {
	e.meta.KnownDocIDs = make([]string, 0, len(e.knownDocIDs))
	for id := range e.knownDocIDs {
		e.meta.KnownDocIDs = append(e.meta.KnownDocIDs, id)
	}
	sort.Strings(e.meta.KnownDocIDs)

	dir := filepath.Dir(e.metaPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	raw, err := json.Marshal(e.meta)
	if err != nil {
		return fmt.Errorf("marshaling metadata: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".meta-*.tmp")
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
	if err := os.Rename(tmpPath, e.metaPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming into place: %w", err)
	}
	return nil
}

func (e *Engine) keys() (*vault.Keys, error) {
	return e.vaultMgr.Keys()
}

// signAndVerifyBatch signs a just-built index batch and immediately
// re-verifies it under the same key, catching accidental in-memory
// corruption of the batch before it is handed to the (untrusted) server
// (spec.md §4.6's "verified before use" discipline, applied at the point
// the client itself produces the data rather than only on read-back).
func signAndVerifyBatch(batch map[string][]string, kIndexMAC []byte) error {
	mac, err := indexmac.SignBlock(batch, kIndexMAC)
	if err != nil {
		return err
	}
	return indexmac.VerifyBlock(batch, mac, kIndexMAC)
}

func appendUniqueDoc(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}

func max1(n int) int {
	if n <= 0 {
		return 1
	}
	return n
}

// storeDocument encrypts and uploads one document's payload and, if a
// filename was supplied, its encrypted filename record, and marks doc_id as
// known to this engine.
func (e *Engine) storeDocument(keys *vault.Keys, doc Document) error {
	blob, err := cipher.EncryptFilePayload([]byte(doc.Plaintext), keys.KFileEnc[:])
	if err != nil {
		return err
	}
	if err := e.srv.UploadDocument(doc.DocID, blob); err != nil {
		return err
	}
	if doc.Filename != "" {
		rec, err := cipher.EncryptFilename(doc.Filename, keys.KFilenameEnc[:])
		if err != nil {
			return err
		}
		e.meta.Files[doc.DocID] = cipher.Filename{Encrypted: rec}
	}
	e.knownDocIDs[doc.DocID] = struct{}{}
	return nil
}

// UploadDocuments encrypts and stores each document, and builds one deduped
// (token_hex -> [doc_id]) batch for the deterministic exact-keyword index
// before handing it to the server, minimizing write amplification
// (spec.md §4.9).
func (e *Engine) UploadDocuments(docs []Document) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	keys, err := e.keys()
	if err != nil {
		return err
	}

	batch := map[string][]string{}
	for _, doc := range docs {
		if err := e.storeDocument(keys, doc); err != nil {
			return err
		}
		for _, w := range tokenize.Words(doc.Plaintext) {
			tok := trapdoor.Deterministic(w, keys.KSearch[:])
			tokenHex := hex.EncodeToString(tok[:])
			batch[tokenHex] = appendUniqueDoc(batch[tokenHex], doc.DocID)
		}
	}

	if err := signAndVerifyBatch(batch, keys.KIndexMAC[:]); err != nil {
		return err
	}
	if err := e.srv.UploadIndex(batch); err != nil {
		return err
	}
	return e.persist()
}

// UploadDocument is the singular convenience wrapper over UploadDocuments.
func (e *Engine) UploadDocument(docID, plaintext, filename string) error {
	return e.UploadDocuments([]Document{{DocID: docID, Plaintext: plaintext, Filename: filename}})
}

// UploadDocumentsForwardSecure indexes docs under the forward-private
// scheme: within this batch, repeated keywords get strictly increasing
// counter values (spec.md §4.9 "Counter semantics").
func (e *Engine) UploadDocumentsForwardSecure(docs []Document) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	keys, err := e.keys()
	if err != nil {
		return err
	}
	kFwd := trapdoor.ForwardKey(keys.KSearch[:])

	batch := map[string][]string{}
	for _, doc := range docs {
		if err := e.storeDocument(keys, doc); err != nil {
			return err
		}
		for _, w := range tokenize.Words(doc.Plaintext) {
			norm := trapdoor.Normalize(w)
			counter := e.meta.KeywordCounter[norm]
			tok := trapdoor.ForwardIndexKey(w, counter, kFwd[:])
			tokenHex := hex.EncodeToString(tok[:])
			batch[tokenHex] = appendUniqueDoc(batch[tokenHex], doc.DocID)
			e.meta.KeywordCounter[norm] = counter + 1
		}
	}

	if err := signAndVerifyBatch(batch, keys.KIndexMAC[:]); err != nil {
		return err
	}
	if err := e.srv.UploadIndex(batch); err != nil {
		return err
	}
	return e.persist()
}

// UploadDocumentsSubstringIndex indexes docs by character n-gram (n>=2),
// enabling SearchSubstring.
func (e *Engine) UploadDocumentsSubstringIndex(docs []Document, n int) error {
	if n < 2 {
		return fmt.Errorf("n-gram size must be >= 2: %w", apperr.ErrBadParameter)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	keys, err := e.keys()
	if err != nil {
		return err
	}

	batch := map[string][]string{}
	for _, doc := range docs {
		if err := e.storeDocument(keys, doc); err != nil {
			return err
		}
		for _, gram := range tokenize.NGramSet(doc.Plaintext, n) {
			tok := trapdoor.DeterministicRaw(gram, keys.KSearch[:])
			tokenHex := hex.EncodeToString(tok[:])
			batch[tokenHex] = appendUniqueDoc(batch[tokenHex], doc.DocID)
		}
	}

	if err := signAndVerifyBatch(batch, keys.KIndexMAC[:]); err != nil {
		return err
	}
	if err := e.srv.UploadIndex(batch); err != nil {
		return err
	}
	return e.persist()
}

// UploadDocumentsPhoneticIndex indexes docs by Soundex code, enabling
// SearchPhoneticCandidates and SearchFuzzy.
func (e *Engine) UploadDocumentsPhoneticIndex(docs []Document) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	keys, err := e.keys()
	if err != nil {
		return err
	}

	batch := map[string][]string{}
	for _, doc := range docs {
		if err := e.storeDocument(keys, doc); err != nil {
			return err
		}
		for _, code := range tokenize.SoundexWords(doc.Plaintext) {
			tok := trapdoor.DeterministicRaw(code, keys.KSearch[:])
			tokenHex := hex.EncodeToString(tok[:])
			batch[tokenHex] = appendUniqueDoc(batch[tokenHex], doc.DocID)
		}
	}

	if err := signAndVerifyBatch(batch, keys.KIndexMAC[:]); err != nil {
		return err
	}
	if err := e.srv.UploadIndex(batch); err != nil {
		return err
	}
	return e.persist()
}

func (e *Engine) filterKnownLocked(ids []string, padded bool) []string {
	if !padded || len(e.knownDocIDs) == 0 {
		return ids
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := e.knownDocIDs[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

// Search performs exact-keyword search for q, optionally padded to padTo
// results; when padded, the response is filtered against the known-doc-id
// cache before being returned.
func (e *Engine) Search(q string, padTo int) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	keys, err := e.keys()
	if err != nil {
		return nil, err
	}
	tok := trapdoor.Deterministic(q, keys.KSearch[:])
	ids, err := e.srv.Search(tok[:], padTo)
	if err != nil {
		return nil, err
	}
	return e.filterKnownLocked(ids, padTo > 0), nil
}

// SearchMultiKeyword unions the exact matches for several keywords in one
// server round trip (spec.md §8 S2's multi-doc union, generalized to an
// explicit multi-keyword entry point).
func (e *Engine) SearchMultiKeyword(keywords []string, padTo int) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	keys, err := e.keys()
	if err != nil {
		return nil, err
	}
	tokens := make([][]byte, 0, len(keywords))
	for _, kw := range keywords {
		tok := trapdoor.Deterministic(kw, keys.KSearch[:])
		tokens = append(tokens, tok[:])
	}
	ids, err := e.srv.SearchMulti(tokens, padTo)
	if err != nil {
		return nil, err
	}
	return e.filterKnownLocked(ids, padTo > 0), nil
}

// SearchForwardSecure searches all historical forward-private tokens for
// keyword, tolerating a never-seen keyword (empty counter) by returning an
// empty list without error (spec.md §7).
func (e *Engine) SearchForwardSecure(keyword string, padTo int) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	keys, err := e.keys()
	if err != nil {
		return nil, err
	}
	kFwd := trapdoor.ForwardKey(keys.KSearch[:])
	norm := trapdoor.Normalize(keyword)
	counter := e.meta.KeywordCounter[norm]
	if counter == 0 {
		return []string{}, nil
	}
	tokens32 := trapdoor.ForwardSearchTokens(keyword, counter, kFwd[:])
	tokens := make([][]byte, len(tokens32))
	for i := range tokens32 {
		tokens[i] = tokens32[i][:]
	}
	ids, err := e.srv.SearchMulti(tokens, padTo)
	if err != nil {
		return nil, err
	}
	return e.filterKnownLocked(ids, padTo > 0), nil
}

// SearchSubstring intersects the doc_id sets matching every n-gram of q,
// then pads the intersection to padTo if requested (spec.md §8 S3).
func (e *Engine) SearchSubstring(q string, n, padTo int) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	keys, err := e.keys()
	if err != nil {
		return nil, err
	}
	grams := tokenize.NGramSet(q, n)
	if len(grams) == 0 {
		return []string{}, nil
	}
	tokens := make([][]byte, len(grams))
	for i, g := range grams {
		tok := trapdoor.DeterministicRaw(g, keys.KSearch[:])
		tokens[i] = tok[:]
	}
	breakdown, err := e.srv.SearchMultiBreakdown(tokens)
	if err != nil {
		return nil, err
	}
	intersection := intersectAll(breakdown)
	if padTo > len(intersection) {
		return e.srv.Pad(intersection, padTo)
	}
	return intersection, nil
}

func intersectAll(lists [][]string) []string {
	if len(lists) == 0 {
		return nil
	}
	counts := map[string]int{}
	order := make([]string, 0)
	for _, id := range lists[0] {
		if _, ok := counts[id]; !ok {
			order = append(order, id)
		}
		counts[id]++
	}
	for _, list := range lists[1:] {
		present := map[string]struct{}{}
		for _, id := range list {
			present[id] = struct{}{}
		}
		for id := range counts {
			if _, ok := present[id]; !ok {
				delete(counts, id)
			}
		}
	}
	out := make([]string, 0, len(counts))
	for _, id := range order {
		if _, ok := counts[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

// SearchPhoneticCandidates returns doc_ids whose Soundex index contains
// word's code, with no client-side distance filtering applied.
func (e *Engine) SearchPhoneticCandidates(word string) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	keys, err := e.keys()
	if err != nil {
		return nil, err
	}
	code := tokenize.Soundex(word)
	if code == "" {
		return []string{}, nil
	}
	tok := trapdoor.DeterministicRaw(code, keys.KSearch[:])
	return e.srv.Search(tok[:], 0)
}

// SearchFuzzy returns phonetic candidates further filtered client-side: a
// candidate document is kept only if one of its words is within
// maxEditDistance of query (Levenshtein, never sent to the server), exiting
// early on the first qualifying word per document (spec.md §4.9).
func (e *Engine) SearchFuzzy(query string, maxEditDistance int) ([]string, error) {
	candidates, err := e.SearchPhoneticCandidates(query)
	if err != nil {
		return nil, err
	}
	var results []string
	for _, docID := range candidates {
		plaintext, err := e.RetrieveAndDecrypt(docID)
		if err != nil {
			continue // tampered or missing candidate: skip, don't fail the whole search
		}
		for _, w := range tokenize.RawWords(plaintext) {
			if tokenize.Levenshtein(query, w) <= maxEditDistance {
				results = append(results, docID)
				break
			}
		}
	}
	return results, nil
}

type scoredDoc struct {
	docID string
	score float64
}

// SearchRanked scores every document matching any query term by TF-IDF and
// returns the topK doc_ids, stable-sorted by score descending with ties
// broken by first-seen order (spec.md §4.9 "Ranking").
func (e *Engine) SearchRanked(q string, topK int) ([]string, error) {
	e.mu.Lock()
	keys, err := e.keys()
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}

	queryWords := tokenize.Words(q)
	if len(queryWords) == 0 {
		return []string{}, nil
	}

	df := make(map[string]int, len(queryWords))
	order := make([]string, 0)
	seen := map[string]struct{}{}
	for _, w := range queryWords {
		tok := trapdoor.Deterministic(w, keys.KSearch[:])
		ids, err := e.srv.Search(tok[:], 0)
		if err != nil {
			return nil, err
		}
		df[w] = len(ids)
		for _, id := range ids {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				order = append(order, id)
			}
		}
	}

	n := float64(len(e.srv.ListDocumentIDs()))
	scored := make([]scoredDoc, 0, len(order))
	for _, docID := range order {
		plaintext, err := e.RetrieveAndDecrypt(docID)
		if err != nil {
			continue
		}
		terms := tokenize.RawWords(plaintext)
		termCount := make(map[string]int, len(terms))
		for _, t := range terms {
			termCount[t]++
		}
		var score float64
		for _, w := range queryWords {
			tf := float64(termCount[w]) / float64(max1(len(terms)))
			idf := math.Log((n+1)/float64(df[w]+1)) + 1
			score += tf * idf
		}
		scored = append(scored, scoredDoc{docID: docID, score: score})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].score > scored[j].score
	})
	if topK > 0 && topK < len(scored) {
		scored = scored[:topK]
	}
	out := make([]string, len(scored))
	for i, s := range scored {
		out[i] = s.docID
	}
	return out, nil
}

// RetrieveAndDecrypt fetches and decrypts doc_id's stored blob, or returns
// apperr.ErrNotFound when it does not exist.
func (e *Engine) RetrieveAndDecrypt(docID string) (string, error) {
	e.mu.Lock()
	keys, err := e.keys()
	e.mu.Unlock()
	if err != nil {
		return "", err
	}
	blob, err := e.srv.GetDocument(docID)
	if err != nil {
		return "", err
	}
	plaintext, err := cipher.DecryptFilePayload(blob, keys.KFileEnc[:])
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// Filename returns doc_id's stored filename, decrypting it if it was
// encrypted, or apperr.ErrNotFound if no filename was recorded.
func (e *Engine) Filename(docID string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	fn, ok := e.meta.Files[docID]
	if !ok {
		return "", apperr.ErrNotFound
	}
	if !fn.IsEncrypted() {
		return fn.Plain, nil
	}
	keys, err := e.keys()
	if err != nil {
		return "", err
	}
	return cipher.DecryptFilename(fn.Encrypted, keys.KFilenameEnc[:])
}

// DeleteDocument removes doc_id from the server and the engine's local
// bookkeeping (filename record, known-doc-id cache).
func (e *Engine) DeleteDocument(docID string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	existed, err := e.srv.DeleteDocument(docID)
	if err != nil {
		return false, err
	}
	delete(e.meta.Files, docID)
	delete(e.knownDocIDs, docID)
	if err := e.persist(); err != nil {
		return existed, err
	}
	return existed, nil
}

// ListDocumentIDs returns every doc_id known to the underlying server.
func (e *Engine) ListDocumentIDs() []string {
	return e.srv.ListDocumentIDs()
}
