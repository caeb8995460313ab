// Package index implements the encrypted index backend contract from
// spec.md §4.7 (C9): a persistent mapping token_hex -> set of doc_ids,
// with JSON and SQLite implementations sharing one Backend interface, plus
// a JSON-to-SQLite migration operation.
//
// Grounded on original_source/backend/app/services/index_service.py
// (IndexService, migrate_json_to_sqlite) and the teacher's gorm-over-
// database/sql pattern for SQLite (barrier repository tests open a
// *sql.DB against the "sqlite" driver — here registered by
// modernc.org/sqlite, a cgo-free implementation — and wrap it with
// gorm.Open(sqlite.Dialector{Conn: sqlDB})).
package index

// Entry is one (token_hex, doc_ids) pair yielded by IterEntries. DocIDs is
// unique and order-preserved.
type Entry struct {
	TokenHex string
	DocIDs   []string
}

// Backend is the contract shared by the JSON and SQLite index
// implementations (spec.md §4.7).
type Backend interface {
	// Add merges docIDs into tokenHex's set; duplicates are silently
	// deduped.
	Add(tokenHex string, docIDs []string) error

	// AddBatch merges many (tokenHex -> docIDs) entries atomically with
	// respect to concurrent readers.
	AddBatch(batch map[string][]string) error

	// IterEntries yields each token exactly once, in deterministic
	// (token_hex-sorted) order, with its unique ordered doc_ids.
	IterEntries() ([]Entry, error)

	// RemoveDocID purges every pair referencing docID; a token with no
	// remaining doc_ids is dropped entirely.
	RemoveDocID(docID string) error

	// BytesPerDoc returns an approximate on-disk index footprint per
	// doc_id, for diagnostics.
	BytesPerDoc() (map[string]int, error)

	// Close releases any resources (file handles, DB connections) held by
	// the backend.
	Close() error
}
