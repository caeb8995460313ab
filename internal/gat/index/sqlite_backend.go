package index

import (
	"database/sql"
	"fmt"
	"sort"
	"sync"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/karthik1codes/gat/internal/gat/apperr"

	// Registers the "sqlite" database/sql driver, a cgo-free pure-Go
	// implementation. Matches the teacher's barrier repository test setup:
	// sql.Open("sqlite", dsn) then gorm.Open(sqlite.Dialector{Conn: sqlDB}).
	_ "modernc.org/sqlite"
)

// indexEntryRow is the gorm model for the index_entries table (spec.md §6):
//
//	CREATE TABLE index_entries (token_hex TEXT, doc_id TEXT, UNIQUE(token_hex, doc_id));
//	CREATE INDEX idx_key ON index_entries(token_hex);
//
// The table gorm creates also carries an autoincrement id primary key,
// which IterEntries uses to keep each token's doc_ids in insertion order,
// and the UNIQUE(token_hex, doc_id) constraint is a unique index named
// uniq_token_doc.
type indexEntryRow struct {
	ID       uint   `gorm:"primaryKey;autoIncrement"`
	TokenHex string `gorm:"column:token_hex;index:idx_key;uniqueIndex:uniq_token_doc"`
	DocID    string `gorm:"column:doc_id;uniqueIndex:uniq_token_doc"`
}

func (indexEntryRow) TableName() string { return "index_entries" }

// SQLiteBackend implements Backend over a gorm-managed SQLite database,
// used for the C9 persistent index when a deployment outgrows the JSON
// backend (spec.md §4.7).
type SQLiteBackend struct {
	mu sync.Mutex
	db *gorm.DB
}

// OpenSQLiteBackend opens (creating if absent) the SQLite database at path
// and ensures the index_entries schema exists. path may be a file path or
// "file::memory:?cache=shared"-style DSN for in-memory/test use.
func OpenSQLiteBackend(path string) (*SQLiteBackend, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite index at %s: %w", path, err)
	}
	sqlDB.SetMaxOpenConns(1)

	db, err := gorm.Open(sqlite.Dialector{Conn: sqlDB}, &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening gorm over sqlite index at %s: %w", path, err)
	}
	if err := db.AutoMigrate(&indexEntryRow{}); err != nil {
		return nil, fmt.Errorf("migrating index schema: %w", err)
	}
	return &SQLiteBackend{db: db}, nil
}

func (b *SQLiteBackend) Add(tokenHex string, docIDs []string) error {
	return b.AddBatch(map[string][]string{tokenHex: docIDs})
}

// AddBatch inserts every (token_hex, doc_id) pair in batch inside a single
// transaction, so readers never observe a partially-applied batch
// (spec.md §4.7 "atomic with respect to concurrent readers").
func (b *SQLiteBackend) AddBatch(batch map[string][]string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.db.Transaction(func(tx *gorm.DB) error {
		for tokenHex, docIDs := range batch {
			for _, docID := range docIDs {
				row := indexEntryRow{TokenHex: tokenHex, DocID: docID}
				if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
					return fmt.Errorf("inserting index entry: %w", err)
				}
			}
		}
		return nil
	})
}

func (b *SQLiteBackend) IterEntries() ([]Entry, error) {
	var rows []indexEntryRow
	if err := b.db.Order("token_hex, id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing index entries: %w", apperr.ErrCorruption)
	}
	byToken := make(map[string][]string)
	order := make([]string, 0)
	for _, r := range rows {
		if _, ok := byToken[r.TokenHex]; !ok {
			order = append(order, r.TokenHex)
		}
		byToken[r.TokenHex] = appendUnique(byToken[r.TokenHex], r.DocID)
	}
	sort.Strings(order)
	out := make([]Entry, 0, len(order))
	for _, t := range order {
		out = append(out, Entry{TokenHex: t, DocIDs: byToken[t]})
	}
	return out, nil
}

func (b *SQLiteBackend) RemoveDocID(docID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.db.Where("doc_id = ?", docID).Delete(&indexEntryRow{}).Error; err != nil {
		return fmt.Errorf("removing doc_id %s: %w", docID, err)
	}
	return nil
}

func (b *SQLiteBackend) BytesPerDoc() (map[string]int, error) {
	entries, err := b.IterEntries()
	if err != nil {
		return nil, err
	}
	totals := make(map[string]int)
	for _, e := range entries {
		share := len(e.TokenHex) / max1(len(e.DocIDs))
		for _, id := range e.DocIDs {
			totals[id] += share
		}
	}
	return totals, nil
}

func (b *SQLiteBackend) Close() error {
	sqlDB, err := b.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying *sql.DB: %w", err)
	}
	return sqlDB.Close()
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
