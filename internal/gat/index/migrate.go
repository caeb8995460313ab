package index

import (
	"fmt"
	"os"
	"path/filepath"
)

// MigrateJSONToSQLite implements spec.md §4.7's migration operation: if
// index.json exists and index.db does not, the JSON entries are imported
// into the SQLite schema and the JSON file renamed to index.json.bak.
// Returns whether a migration was performed. Grounded on
// original_source/backend/app/services/index_service.py's
// migrate_json_to_sqlite.
func MigrateJSONToSQLite(dir string) (bool, error) {
	jsonPath := filepath.Join(dir, "index.json")
	dbPath := filepath.Join(dir, "index.db")

	if _, err := os.Stat(jsonPath); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("statting %s: %w", jsonPath, err)
	}
	if _, err := os.Stat(dbPath); err == nil {
		return false, nil // SQLite index already exists; never overwrite.
	}

	jsonBackend, err := OpenJSONBackend(jsonPath)
	if err != nil {
		return false, err
	}
	defer jsonBackend.Close()

	entries, err := jsonBackend.IterEntries()
	if err != nil {
		return false, err
	}

	sqliteBackend, err := OpenSQLiteBackend(dbPath)
	if err != nil {
		return false, err
	}
	defer sqliteBackend.Close()

	batch := make(map[string][]string, len(entries))
	for _, e := range entries {
		batch[e.TokenHex] = e.DocIDs
	}
	if err := sqliteBackend.AddBatch(batch); err != nil {
		return false, fmt.Errorf("migrating entries into sqlite: %w", err)
	}

	backupPath := jsonPath + ".bak"
	if err := os.Rename(jsonPath, backupPath); err != nil {
		return false, fmt.Errorf("renaming %s to %s: %w", jsonPath, backupPath, err)
	}
	return true, nil
}
