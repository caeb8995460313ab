package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/karthik1codes/gat/internal/gat/client"
	"github.com/karthik1codes/gat/internal/gat/config"
	"github.com/karthik1codes/gat/internal/gat/index"
	"github.com/karthik1codes/gat/internal/gat/server"
	"github.com/karthik1codes/gat/internal/gat/telemetry"
	"github.com/karthik1codes/gat/internal/gat/vault"
)

// vaultRecord is the non-secret vault record persisted by the host
// described in spec.md §3/§6: vault_id, salt, and password verifier.
type vaultRecord struct {
	VaultID  string `json:"vault_id"`
	Salt     string `json:"salt"`
	Verifier string `json:"verifier"`
}

func newDemoCommand(cfg *config.Config, tel *telemetry.Service) *cobra.Command {
	var dir string
	var password string
	var useSQLite bool

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run an end-to-end vault lifecycle demo",
		Long: `demo creates (or reopens) a vault under --dir, uploads a handful of
sample documents across every indexing mode, runs exact, multi-keyword,
forward-private, substring, phonetic/fuzzy, and TF-IDF-ranked searches
against them, then locks the vault.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo(cmd.Context(), cfg, tel, dir, password, useSQLite)
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "./gat-demo-vault", "storage directory for the demo vault")
	cmd.Flags().StringVar(&password, "password", "correct horse battery staple", "vault password")
	cmd.Flags().BoolVar(&useSQLite, "sqlite", false, "use the SQLite index backend instead of JSON")

	return cmd
}

func runDemo(ctx context.Context, cfg *config.Config, tel *telemetry.Service, dir, password string, useSQLite bool) error {
	log := tel.Logger()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating vault directory: %w", err)
	}
	recordPath := filepath.Join(dir, "vault.json")

	mgr := vault.NewManager(cfg.VaultInactivityTimeout)

	var salt, verifier []byte
	rec, err := loadVaultRecord(recordPath)
	if err != nil {
		return err
	}
	if rec != nil {
		salt, err = decodeB64(rec.Salt)
		if err != nil {
			return err
		}
		verifier, err = decodeB64(rec.Verifier)
		if err != nil {
			return err
		}
	}

	mintedSalt, mintedVerifier, err := mgr.Unlock(password, salt, verifier, true, cfg.ScryptN)
	if err != nil {
		return fmt.Errorf("unlocking vault: %w", err)
	}
	if rec == nil {
		if err := saveVaultRecord(recordPath, mintedSalt, mintedVerifier); err != nil {
			return err
		}
		log.InfoContext(ctx, "vault created", "dir", dir)
	} else {
		log.InfoContext(ctx, "vault unlocked", "dir", dir)
	}
	defer mgr.Lock()

	backend, err := openBackend(dir, useSQLite)
	if err != nil {
		return err
	}
	defer backend.Close()

	srv, err := server.New(dir, backend)
	if err != nil {
		return fmt.Errorf("opening storage server: %w", err)
	}
	defer srv.Close()

	engine, err := client.New(mgr, srv, filepath.Join(dir, "metadata.json"), tel)
	if err != nil {
		return fmt.Errorf("opening client engine: %w", err)
	}

	docs := []client.Document{
		{DocID: "a", Plaintext: "Alpha beta gamma invoice 2024", Filename: "alpha.txt"},
		{DocID: "b", Plaintext: "invoice paid in full", Filename: "beta.txt"},
		{DocID: "c", Plaintext: "receipt for office supplies", Filename: "gamma.txt"},
		{DocID: "d", Plaintext: "superconductor research notes", Filename: "delta.txt"},
	}
	if err := engine.UploadDocuments(docs); err != nil {
		return fmt.Errorf("uploading documents: %w", err)
	}
	if err := engine.UploadDocumentsSubstringIndex(docs, 3); err != nil {
		return fmt.Errorf("building substring index: %w", err)
	}
	if err := engine.UploadDocumentsPhoneticIndex(docs); err != nil {
		return fmt.Errorf("building phonetic index: %w", err)
	}
	if err := engine.UploadDocumentsForwardSecure(docs); err != nil {
		return fmt.Errorf("building forward-private index: %w", err)
	}

	exact, err := engine.Search("invoice", 0)
	if err != nil {
		return fmt.Errorf("exact search: %w", err)
	}
	log.InfoContext(ctx, "exact search", "query", "invoice", "results", exact)

	multi, err := engine.SearchMultiKeyword([]string{"invoice", "receipt"}, 0)
	if err != nil {
		return fmt.Errorf("multi-keyword search: %w", err)
	}
	log.InfoContext(ctx, "multi-keyword search", "query", "invoice receipt", "results", multi)

	forward, err := engine.SearchForwardSecure("invoice", 0)
	if err != nil {
		return fmt.Errorf("forward-private search: %w", err)
	}
	log.InfoContext(ctx, "forward-private search", "query", "invoice", "results", forward)

	substr, err := engine.SearchSubstring("cond", 3, 0)
	if err != nil {
		return fmt.Errorf("substring search: %w", err)
	}
	log.InfoContext(ctx, "substring search", "query", "cond", "results", substr)

	fuzzy, err := engine.SearchFuzzy("invois", 2)
	if err != nil {
		return fmt.Errorf("fuzzy search: %w", err)
	}
	log.InfoContext(ctx, "fuzzy search", "query", "invois", "results", fuzzy)

	ranked, err := engine.SearchRanked("invoice receipt", 3)
	if err != nil {
		return fmt.Errorf("ranked search: %w", err)
	}
	log.InfoContext(ctx, "ranked search", "query", "invoice receipt", "results", ranked)

	padded, err := engine.Search("invoice", 10)
	if err != nil {
		return fmt.Errorf("padded search: %w", err)
	}
	log.InfoContext(ctx, "padded search", "query", "invoice", "pad_to", 10, "results_len", len(padded))

	plaintext, err := engine.RetrieveAndDecrypt("a")
	if err != nil {
		return fmt.Errorf("retrieving document a: %w", err)
	}
	log.InfoContext(ctx, "retrieved document", "doc_id", "a", "plaintext", plaintext)

	fmt.Printf("vault stats: %+v\n", mgr.Stats())
	return nil
}

func openBackend(dir string, useSQLite bool) (index.Backend, error) {
	if useSQLite {
		if migrated, err := index.MigrateJSONToSQLite(dir); err != nil {
			return nil, fmt.Errorf("migrating index: %w", err)
		} else if migrated {
			fmt.Println("migrated index.json to index.db")
		}
		return index.OpenSQLiteBackend(filepath.Join(dir, "index.db"))
	}
	return index.OpenJSONBackend(filepath.Join(dir, "index.json"))
}

func loadVaultRecord(path string) (*vaultRecord, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading vault record: %w", err)
	}
	var rec vaultRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("parsing vault record: %w", err)
	}
	return &rec, nil
}

func saveVaultRecord(path string, salt, verifier []byte) error {
	rec := vaultRecord{
		VaultID:  uuid.NewString(),
		Salt:     encodeB64(salt),
		Verifier: encodeB64(verifier),
	}
	raw, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling vault record: %w", err)
	}
	return os.WriteFile(path, raw, 0o644)
}
