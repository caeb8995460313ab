// Package cipher implements Gatekeeper's document and filename AEAD
// (spec.md §4.3): AES-256-GCM with a fresh random 96-bit nonce per
// encryption, fixed external blob layout nonce(12) || ciphertext || tag(16),
// and an optional metadata HMAC verified before the AEAD check.
//
// Grounded on original_source/crypto/file_encryption.py and
// filename_encryption.py for exact wire layout and failure semantics.
package cipher

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/karthik1codes/gat/internal/gat/apperr"
	"github.com/karthik1codes/gat/internal/gat/magic"
)

// ErrLegacyKeySchedule names the deprecated direct SHA-256(master || label)
// key schedule. Gatekeeper implements only the HKDF-derived subkeys
// (spec.md §9 Open Questions). No function in this package returns it or
// recognizes a legacy ciphertext: such a ciphertext fails decryption with
// ErrTagMismatch like any other foreign blob. The sentinel is exported for
// a host layer that tags and rejects legacy ciphertexts itself.
var ErrLegacyKeySchedule = fmt.Errorf("legacy key schedule is not supported: %w", apperr.ErrBadParameter)

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != magic.SubkeySize {
		return nil, fmt.Errorf("key must be %d bytes: %w", magic.SubkeySize, apperr.ErrBadParameter)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	return gcm, nil
}

func randomNonce() ([]byte, error) {
	nonce := make([]byte, magic.GCMNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	return nonce, nil
}

// EncryptFilePayload encrypts plaintext under kFileEnc with AES-256-GCM and
// a fresh random nonce, returning nonce || ciphertext || tag as a single
// blob matching spec.md §6's external document format.
func EncryptFilePayload(plaintext, kFileEnc []byte) ([]byte, error) {
	gcm, err := newGCM(kFileEnc)
	if err != nil {
		return nil, err
	}
	nonce, err := randomNonce()
	if err != nil {
		return nil, err
	}
	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	blob := make([]byte, 0, len(nonce)+len(sealed))
	blob = append(blob, nonce...)
	blob = append(blob, sealed...)
	return blob, nil
}

// DecryptFilePayload reverses EncryptFilePayload. Returns ErrTagMismatch on
// any authentication failure; never returns partial plaintext.
func DecryptFilePayload(blob, kFileEnc []byte) ([]byte, error) {
	gcm, err := newGCM(kFileEnc)
	if err != nil {
		return nil, err
	}
	if len(blob) < magic.GCMNonceSize+magic.GCMTagSize {
		return nil, fmt.Errorf("blob too short: %w", apperr.ErrAEADFailure)
	}
	nonce := blob[:magic.GCMNonceSize]
	sealed := blob[magic.GCMNonceSize:]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("gcm open: %w", apperr.ErrTagMismatch)
	}
	return plaintext, nil
}

// EncryptFilePayloadWithMetadata behaves like EncryptFilePayload but also
// appends HMAC-SHA256(kFileEnc, metadata) after the sealed payload, for
// callers that want additional integrity binding over non-secret metadata
// (e.g. content-type, original length).
func EncryptFilePayloadWithMetadata(plaintext, metadata, kFileEnc []byte) ([]byte, error) {
	blob, err := EncryptFilePayload(plaintext, kFileEnc)
	if err != nil {
		return nil, err
	}
	mac := hmac.New(sha256.New, kFileEnc)
	mac.Write(metadata)
	return append(blob, mac.Sum(nil)...), nil
}

// DecryptFilePayloadWithMetadata verifies the metadata HMAC before
// attempting the AEAD check, per spec.md §4.3 ("verified on decrypt before
// AEAD check").
func DecryptFilePayloadWithMetadata(blob, metadata, kFileEnc []byte) ([]byte, error) {
	if len(blob) < sha256.Size {
		return nil, fmt.Errorf("blob too short for metadata mac: %w", apperr.ErrAEADFailure)
	}
	split := len(blob) - sha256.Size
	aeadBlob, storedMAC := blob[:split], blob[split:]

	mac := hmac.New(sha256.New, kFileEnc)
	mac.Write(metadata)
	expected := mac.Sum(nil)
	if !hmac.Equal(expected, storedMAC) {
		return nil, fmt.Errorf("metadata integrity check failed: %w", apperr.ErrTagMismatch)
	}
	return DecryptFilePayload(aeadBlob, kFileEnc)
}

// FilenameRecord is the structured, base64url-no-padding encrypted filename
// record stored in per-vault metadata (spec.md §6).
type FilenameRecord struct {
	EncryptedFilename string `json:"encrypted_filename"`
	FilenameIV        string `json:"filename_iv"`
	FilenameTag       string `json:"filename_tag"`
}

var b64 = base64.RawURLEncoding

// EncryptFilename encrypts the UTF-8 filename under kFilenameEnc with an
// independent nonce from document encryption, returning the structured
// record from spec.md §6.
func EncryptFilename(filename string, kFilenameEnc []byte) (*FilenameRecord, error) {
	gcm, err := newGCM(kFilenameEnc)
	if err != nil {
		return nil, err
	}
	nonce, err := randomNonce()
	if err != nil {
		return nil, err
	}
	sealed := gcm.Seal(nil, nonce, []byte(filename), nil)
	ct, tag := sealed[:len(sealed)-magic.GCMTagSize], sealed[len(sealed)-magic.GCMTagSize:]
	return &FilenameRecord{
		EncryptedFilename: b64.EncodeToString(ct),
		FilenameIV:        b64.EncodeToString(nonce),
		FilenameTag:       b64.EncodeToString(tag),
	}, nil
}

// DecryptFilename reverses EncryptFilename.
func DecryptFilename(rec *FilenameRecord, kFilenameEnc []byte) (string, error) {
	gcm, err := newGCM(kFilenameEnc)
	if err != nil {
		return "", err
	}
	ct, err := b64.DecodeString(rec.EncryptedFilename)
	if err != nil {
		return "", fmt.Errorf("decoding encrypted_filename: %w", apperr.ErrBadParameter)
	}
	nonce, err := b64.DecodeString(rec.FilenameIV)
	if err != nil {
		return "", fmt.Errorf("decoding filename_iv: %w", apperr.ErrBadParameter)
	}
	tag, err := b64.DecodeString(rec.FilenameTag)
	if err != nil {
		return "", fmt.Errorf("decoding filename_tag: %w", apperr.ErrBadParameter)
	}
	sealed := append(append([]byte{}, ct...), tag...)
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("gcm open filename: %w", apperr.ErrTagMismatch)
	}
	return string(plaintext), nil
}

// Filename is the tagged sum Plain(string) | Encrypted{enc,iv,tag} from
// spec.md §9's design note on the filename's "maybe bytes / maybe dict"
// shape in the original source.
type Filename struct {
	Plain     string
	Encrypted *FilenameRecord
}

// IsEncrypted reports whether this Filename carries a structured record.
func (f Filename) IsEncrypted() bool { return f.Encrypted != nil }

// MarshalJSON renders a plaintext filename as a bare JSON string and an
// encrypted one as its structured record, matching the "filename_record_or_string"
// shape of the per-vault metadata file (spec.md §6).
func (f Filename) MarshalJSON() ([]byte, error) {
	if f.Encrypted != nil {
		return json.Marshal(f.Encrypted)
	}
	return json.Marshal(f.Plain)
}

// UnmarshalJSON accepts either a bare string (legacy plaintext filename) or
// the structured encrypted record.
func (f *Filename) UnmarshalJSON(data []byte) error {
	var plain string
	if err := json.Unmarshal(data, &plain); err == nil {
		f.Plain = plain
		f.Encrypted = nil
		return nil
	}
	var rec FilenameRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return fmt.Errorf("decoding filename record: %w", apperr.ErrBadParameter)
	}
	f.Plain = ""
	f.Encrypted = &rec
	return nil
}
