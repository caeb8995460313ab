// Package magic collects named constants shared across Gatekeeper packages,
// mirroring the teacher repo's internal/shared/magic convention of avoiding
// bare numeric/string literals scattered through business logic.
package magic

import "time"

const (
	// MasterKeySize is the minimum accepted length, in bytes, of K_master.
	MasterKeySize = 32

	// SubkeySize is the length, in bytes, of every HKDF-derived vault subkey.
	SubkeySize = 32

	// SaltMinSize is the minimum accepted scrypt/PBKDF2 salt length in bytes.
	SaltMinSize = 16

	// SaltGenSize is the length, in bytes, of newly minted salts.
	SaltGenSize = 32

	// ScryptN, ScryptR, ScryptP are the default scrypt cost parameters.
	// N is overridable via GAT_SCRYPT_N; production deployments should set
	// it to at least ScryptNProductionMin.
	ScryptN              = 8192
	ScryptNProductionMin = 32768
	ScryptR              = 8
	ScryptP              = 1
	ScryptKeyLen         = 32

	// PBKDF2MinIterations is the floor enforced by PBKDF2Derive.
	PBKDF2MinIterations = 200_000
	PBKDF2DefaultIter   = 200_000
	PBKDF2KeyLen        = 32

	// GCMNonceSize and GCMTagSize are the AES-256-GCM nonce/tag sizes used
	// for both document and filename encryption.
	GCMNonceSize = 12
	GCMTagSize   = 16

	// HMACSize is the digest size of HMAC-SHA256, used for trapdoors,
	// forward-private index keys, and index/entry MACs.
	HMACSize = 32

	// DefaultNGramSize is the conventional character n-gram width for
	// substring search; the n-gram index and search functions take n
	// explicitly and do not fall back to it.
	DefaultNGramSize = 3

	// SoundexLength is the fixed output length of the Soundex encoding.
	SoundexLength = 4

	// DefaultInactivityTimeout is the default vault auto-lock duration.
	DefaultInactivityTimeout = 300 * time.Second

	// DefaultMaxUploadBytes is the default per-document upload size cap
	// (enforced by the host service layer, not the core).
	DefaultMaxUploadBytes = 5 * 1024 * 1024

	// DefaultMaxSearchQueryLength bounds a single search query string.
	DefaultMaxSearchQueryLength = 512

	// DefaultMaxKeywordsMulti bounds how many tokens a multi-token search
	// may carry (substring/phonetic/forward-private searches).
	DefaultMaxKeywordsMulti = 256

	// RateLimitWindow is the sliding window used by GAT_RATE_LIMIT_* env
	// vars (interpreted by the host service layer, not enforced here).
	RateLimitWindow = 60 * time.Second

	// DocIDMaxLength is the nominal maximum length of an opaque doc_id; the
	// core packages do not check doc_id length against it.
	DocIDMaxLength = 120
)

// HKDF info strings: distinct per RFC 5869 domain separation so compromise
// of one subkey never reveals another.
const (
	InfoKFileEnc     = "vault.v1.k_file_enc"
	InfoKFilenameEnc = "vault.v1.k_filename_enc"
	InfoKSearch      = "vault.v1.k_search"
	InfoKIndex       = "vault.v1.k_index"
	InfoKIndexMAC    = "vault.v1.k_index_mac"

	// LabelForwardPrivate separates the forward-private key domain from
	// deterministic trapdoors, both of which descend from K_search.
	LabelForwardPrivate = "sse.v1.forward"
)
