package client

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/karthik1codes/gat/internal/gat/index"
	"github.com/karthik1codes/gat/internal/gat/server"
	"github.com/karthik1codes/gat/internal/gat/vault"
)

func newTestEngine(t *testing.T) (*Engine, *vault.Manager) {
	t.Helper()
	dir := t.TempDir()

	backend, err := index.OpenJSONBackend(filepath.Join(dir, "index.json"))
	require.NoError(t, err)
	srv, err := server.New(dir, backend)
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })

	mgr := vault.NewManager(0)
	_, _, err = mgr.Unlock("correct horse battery staple", nil, nil, true, 1024)
	require.NoError(t, err)
	t.Cleanup(mgr.Lock)

	engine, err := New(mgr, srv, filepath.Join(dir, "metadata.json"), nil)
	require.NoError(t, err)
	return engine, mgr
}

func sampleDocs() []Document {
	return []Document{
		{DocID: "a", Plaintext: "Alpha beta gamma invoice 2024", Filename: "alpha.txt"},
		{DocID: "b", Plaintext: "invoice paid in full", Filename: "beta.txt"},
		{DocID: "c", Plaintext: "receipt for office supplies", Filename: "gamma.txt"},
		{DocID: "d", Plaintext: "superconductor research notes", Filename: ""},
	}
}

// S1: upload then exact-search finds the uploading document.
func TestEngine_S1_UploadThenExactSearch(t *testing.T) {
	t.Parallel()

	engine, _ := newTestEngine(t)
	require.NoError(t, engine.UploadDocuments(sampleDocs()))

	ids, err := engine.Search("invoice", 0)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a", "b"}, ids)
}

// S2: multi-keyword search unions matches across keywords in one round trip.
func TestEngine_S2_SearchMultiKeywordUnions(t *testing.T) {
	t.Parallel()

	engine, _ := newTestEngine(t)
	require.NoError(t, engine.UploadDocuments(sampleDocs()))

	ids, err := engine.SearchMultiKeyword([]string{"invoice", "receipt"}, 0)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a", "b", "c"}, ids)
}

// S3: substring search via n-gram intersection.
func TestEngine_S3_SubstringSearch(t *testing.T) {
	t.Parallel()

	engine, _ := newTestEngine(t)
	docs := sampleDocs()
	require.NoError(t, engine.UploadDocumentsSubstringIndex(docs, 3))

	ids, err := engine.SearchSubstring("cond", 3, 0)
	require.NoError(t, err)
	require.Equal(t, []string{"d"}, ids)
}

func TestEngine_SubstringSearch_NoMatch(t *testing.T) {
	t.Parallel()

	engine, _ := newTestEngine(t)
	require.NoError(t, engine.UploadDocumentsSubstringIndex(sampleDocs(), 3))

	ids, err := engine.SearchSubstring("zzz", 3, 0)
	require.NoError(t, err)
	require.Empty(t, ids)
}

// S4 (phonetic/fuzzy): forgiving search survives a misspelling.
func TestEngine_S4_FuzzySearchToleratesTypo(t *testing.T) {
	t.Parallel()

	engine, _ := newTestEngine(t)
	docs := sampleDocs()
	require.NoError(t, engine.UploadDocuments(docs))
	require.NoError(t, engine.UploadDocumentsPhoneticIndex(docs))

	ids, err := engine.SearchFuzzy("invois", 2)
	require.NoError(t, err)
	require.Contains(t, ids, "a")
	require.Contains(t, ids, "b")
}

// S5 (ranked): TF-IDF ranked search orders by relevance.
func TestEngine_S5_RankedSearch(t *testing.T) {
	t.Parallel()

	engine, _ := newTestEngine(t)
	require.NoError(t, engine.UploadDocuments(sampleDocs()))

	ids, err := engine.SearchRanked("invoice receipt", 10)
	require.NoError(t, err)
	require.NotEmpty(t, ids)
	require.Subset(t, []string{"a", "b", "c", "d"}, ids)
}

// S6: forward-private search finds historically indexed keywords and
// tolerates a never-seen keyword without error.
func TestEngine_S6_ForwardSecureSearch(t *testing.T) {
	t.Parallel()

	engine, _ := newTestEngine(t)
	require.NoError(t, engine.UploadDocumentsForwardSecure(sampleDocs()))

	ids, err := engine.SearchForwardSecure("invoice", 0)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a", "b"}, ids)

	ids, err = engine.SearchForwardSecure("never-indexed-keyword", 0)
	require.NoError(t, err)
	require.Empty(t, ids)
}

func TestEngine_RetrieveAndDecrypt(t *testing.T) {
	t.Parallel()

	engine, _ := newTestEngine(t)
	require.NoError(t, engine.UploadDocuments(sampleDocs()))

	plaintext, err := engine.RetrieveAndDecrypt("a")
	require.NoError(t, err)
	require.Equal(t, "Alpha beta gamma invoice 2024", plaintext)
}

func TestEngine_RetrieveAndDecrypt_NotFound(t *testing.T) {
	t.Parallel()

	engine, _ := newTestEngine(t)
	_, err := engine.RetrieveAndDecrypt("missing")
	require.Error(t, err)
}

func TestEngine_Filename_EncryptedAndMissing(t *testing.T) {
	t.Parallel()

	engine, _ := newTestEngine(t)
	require.NoError(t, engine.UploadDocuments(sampleDocs()))

	name, err := engine.Filename("a")
	require.NoError(t, err)
	require.Equal(t, "alpha.txt", name)

	_, err = engine.Filename("d")
	require.Error(t, err, "doc d was uploaded without a filename")
}

func TestEngine_DeleteDocument_RemovesFromSearchAndRetrieve(t *testing.T) {
	t.Parallel()

	engine, _ := newTestEngine(t)
	require.NoError(t, engine.UploadDocuments(sampleDocs()))

	existed, err := engine.DeleteDocument("a")
	require.NoError(t, err)
	require.True(t, existed)

	_, err = engine.RetrieveAndDecrypt("a")
	require.Error(t, err)

	ids, err := engine.Search("invoice", 0)
	require.NoError(t, err)
	require.NotContains(t, ids, "a")
	require.Contains(t, ids, "b")
}

func TestEngine_DeleteDocument_NotFound(t *testing.T) {
	t.Parallel()

	engine, _ := newTestEngine(t)
	existed, err := engine.DeleteDocument("missing")
	require.NoError(t, err)
	require.False(t, existed)
}

func TestEngine_ListDocumentIDs(t *testing.T) {
	t.Parallel()

	engine, _ := newTestEngine(t)
	require.NoError(t, engine.UploadDocuments(sampleDocs()))

	ids := engine.ListDocumentIDs()
	require.ElementsMatch(t, []string{"a", "b", "c", "d"}, ids)
}

func TestEngine_Search_PaddedResponseFilteredToKnownDocs(t *testing.T) {
	t.Parallel()

	engine, _ := newTestEngine(t)
	require.NoError(t, engine.UploadDocuments(sampleDocs()))

	ids, err := engine.Search("invoice", 10)
	require.NoError(t, err)
	for _, id := range ids {
		require.Contains(t, []string{"a", "b", "c", "d"}, id, "padded response must be filtered to doc_ids this engine actually uploaded")
	}
}

func TestEngine_UploadDocumentsForwardSecure_CounterAdvancesPerKeyword(t *testing.T) {
	t.Parallel()

	engine, _ := newTestEngine(t)
	docs1 := []Document{{DocID: "x", Plaintext: "invoice invoice"}}
	require.NoError(t, engine.UploadDocumentsForwardSecure(docs1))
	require.Equal(t, uint64(1), engine.meta.KeywordCounter["invoice"])

	docs2 := []Document{{DocID: "y", Plaintext: "invoice"}}
	require.NoError(t, engine.UploadDocumentsForwardSecure(docs2))
	require.Equal(t, uint64(2), engine.meta.KeywordCounter["invoice"])
}

func TestEngine_MetadataPersistsAcrossReopen(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	backend, err := index.OpenJSONBackend(filepath.Join(dir, "index.json"))
	require.NoError(t, err)
	srv, err := server.New(dir, backend)
	require.NoError(t, err)
	defer srv.Close()

	mgr := vault.NewManager(0)
	_, _, err = mgr.Unlock("password", nil, nil, true, 1024)
	require.NoError(t, err)
	defer mgr.Lock()

	metaPath := filepath.Join(dir, "metadata.json")
	engine, err := New(mgr, srv, metaPath, nil)
	require.NoError(t, err)
	require.NoError(t, engine.UploadDocuments(sampleDocs()))

	reopened, err := New(mgr, srv, metaPath, nil)
	require.NoError(t, err)

	name, err := reopened.Filename("a")
	require.NoError(t, err)
	require.Equal(t, "alpha.txt", name)
}

func TestEngine_UploadDocumentsSubstringIndex_RejectsTooSmallN(t *testing.T) {
	t.Parallel()

	engine, _ := newTestEngine(t)
	err := engine.UploadDocumentsSubstringIndex(sampleDocs(), 1)
	require.Error(t, err)
}
