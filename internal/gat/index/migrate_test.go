package index

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMigrateJSONToSQLite_NoJSONFile(t *testing.T) {
	t.Parallel()

	migrated, err := MigrateJSONToSQLite(t.TempDir())
	require.NoError(t, err)
	require.False(t, migrated)
}

func TestMigrateJSONToSQLite_MovesEntriesAndBacksUp(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "index.json")

	jb, err := OpenJSONBackend(jsonPath)
	require.NoError(t, err)
	require.NoError(t, jb.Add("tok1", []string{"doc1", "doc2"}))
	require.NoError(t, jb.Add("tok2", []string{"doc3"}))
	require.NoError(t, jb.Close())

	migrated, err := MigrateJSONToSQLite(dir)
	require.NoError(t, err)
	require.True(t, migrated)

	_, err = os.Stat(jsonPath)
	require.True(t, os.IsNotExist(err), "index.json should be renamed away")
	_, err = os.Stat(jsonPath + ".bak")
	require.NoError(t, err, "index.json.bak should exist")

	sb, err := OpenSQLiteBackend(filepath.Join(dir, "index.db"))
	require.NoError(t, err)
	defer sb.Close()

	entries, err := sb.IterEntries()
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestMigrateJSONToSQLite_NeverOverwritesExistingDB(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	jb, err := OpenJSONBackend(filepath.Join(dir, "index.json"))
	require.NoError(t, err)
	require.NoError(t, jb.Add("tok", []string{"doc1"}))
	require.NoError(t, jb.Close())

	sb, err := OpenSQLiteBackend(filepath.Join(dir, "index.db"))
	require.NoError(t, err)
	require.NoError(t, sb.Add("preexisting", []string{"docX"}))
	require.NoError(t, sb.Close())

	migrated, err := MigrateJSONToSQLite(dir)
	require.NoError(t, err)
	require.False(t, migrated)

	_, err = os.Stat(filepath.Join(dir, "index.json"))
	require.NoError(t, err, "index.json should be untouched when index.db already exists")
}
