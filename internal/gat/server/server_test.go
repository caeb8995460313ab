package server

import (
	"encoding/hex"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/karthik1codes/gat/internal/gat/index"
	"github.com/karthik1codes/gat/internal/gat/trapdoor"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()
	backend, err := index.OpenJSONBackend(filepath.Join(dir, "index.json"))
	require.NoError(t, err)
	srv, err := New(dir, backend)
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })
	return srv
}

func TestServer_UploadAndGetDocument(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	require.NoError(t, srv.UploadDocument("doc1", []byte("ciphertext")))

	blob, err := srv.GetDocument("doc1")
	require.NoError(t, err)
	require.Equal(t, []byte("ciphertext"), blob)
}

func TestServer_GetDocument_NotFound(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	_, err := srv.GetDocument("missing")
	require.Error(t, err)
}

func TestServer_Search_ExactMatch(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	kSearch := []byte("0123456789abcdef0123456789abcdef")[:32]

	tok := trapdoor.Deterministic("invoice", kSearch)
	require.NoError(t, srv.UploadIndex(map[string][]string{
		hex.EncodeToString(tok[:]): {"doc1", "doc2"},
	}))

	results, err := srv.Search(tok[:], 0)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"doc1", "doc2"}, results)
}

func TestServer_Search_NoMatch(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	kSearch := []byte("0123456789abcdef0123456789abcdef")[:32]
	tok := trapdoor.Deterministic("invoice", kSearch)

	results, err := srv.Search(tok[:], 0)
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestServer_SearchMulti_Padding(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	require.NoError(t, srv.UploadDocument("doc1", []byte("blob1")))
	require.NoError(t, srv.UploadDocument("doc2", []byte("blob2")))

	kSearch := []byte("0123456789abcdef0123456789abcdef")[:32]
	tok := trapdoor.Deterministic("invoice", kSearch)
	require.NoError(t, srv.UploadIndex(map[string][]string{
		hex.EncodeToString(tok[:]): {"doc1"},
	}))

	padded, err := srv.Search(tok[:], 10)
	require.NoError(t, err)
	require.Len(t, padded, 10, "padding must bring the result set up to padTo")

	realCount := 0
	for _, id := range padded {
		if id == "doc1" {
			realCount++
		}
	}
	require.Equal(t, 1, realCount, "padding must not duplicate the real match")
}

func TestServer_SearchMulti_PaddingNeverIncludesRealUnmatchedDocs(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	require.NoError(t, srv.UploadDocument("doc1", []byte("blob1")))
	require.NoError(t, srv.UploadDocument("doc2", []byte("blob2")))
	require.NoError(t, srv.UploadDocument("doc3", []byte("blob3")))

	kSearch := []byte("0123456789abcdef0123456789abcdef")[:32]
	tok := trapdoor.Deterministic("invoice", kSearch)
	require.NoError(t, srv.UploadIndex(map[string][]string{
		hex.EncodeToString(tok[:]): {"doc1"},
	}))

	padded, err := srv.Search(tok[:], 3)
	require.NoError(t, err)
	require.Len(t, padded, 3)

	for _, id := range padded {
		if id == "doc2" || id == "doc3" {
			t.Fatalf("padding leaked an unmatched real document id: %s", id)
		}
	}
}

func TestServer_DeleteDocument_CascadesToIndex(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	require.NoError(t, srv.UploadDocument("doc1", []byte("blob")))

	kSearch := []byte("0123456789abcdef0123456789abcdef")[:32]
	tok := trapdoor.Deterministic("invoice", kSearch)
	require.NoError(t, srv.UploadIndex(map[string][]string{
		hex.EncodeToString(tok[:]): {"doc1"},
	}))

	existed, err := srv.DeleteDocument("doc1")
	require.NoError(t, err)
	require.True(t, existed)

	_, err = srv.GetDocument("doc1")
	require.Error(t, err)

	results, err := srv.Search(tok[:], 0)
	require.NoError(t, err)
	require.Empty(t, results, "deleted doc_id must no longer appear in search results")
}

func TestServer_DeleteDocument_NotFound(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	existed, err := srv.DeleteDocument("missing")
	require.NoError(t, err)
	require.False(t, existed)
}

func TestServer_Pad_ExtendsResult(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	require.NoError(t, srv.UploadDocument("doc1", []byte("blob")))

	padded, err := srv.Pad([]string{"doc1"}, 5)
	require.NoError(t, err)
	require.Len(t, padded, 5)
}

func TestServer_Pad_NoOpWhenAlreadyLargeEnough(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	result := []string{"doc1", "doc2"}
	padded, err := srv.Pad(result, 1)
	require.NoError(t, err)
	require.Equal(t, result, padded)
}

func TestServer_Stats(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	require.NoError(t, srv.UploadDocument("doc1", []byte("12345")))
	require.NoError(t, srv.UploadDocument("doc2", []byte("123")))

	stats, err := srv.Stats()
	require.NoError(t, err)
	require.Equal(t, 2, stats.DocumentCount)
	require.Equal(t, int64(8), stats.TotalBytes)
}

func TestServer_ListDocumentIDs(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	require.NoError(t, srv.UploadDocument("doc1", []byte("a")))
	require.NoError(t, srv.UploadDocument("doc2", []byte("b")))

	ids := srv.ListDocumentIDs()
	require.ElementsMatch(t, []string{"doc1", "doc2"}, ids)
}

