// Package kdf implements Gatekeeper's key derivation: password -> master
// key via scrypt or PBKDF2-HMAC-SHA256, then HKDF-SHA256 expansion of the
// master key into five domain-separated vault subkeys (spec.md §4.1).
//
// Grounded on the teacher's internal/shared/crypto/digests HKDF wrapper and
// internal/shared/crypto/pbkdf2 package (same golang.org/x/crypto stack),
// and on original_source/crypto/kdf.py for exact parameter/label values.
package kdf

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/crypto/scrypt"

	"github.com/karthik1codes/gat/internal/gat/apperr"
	"github.com/karthik1codes/gat/internal/gat/magic"
)

// VaultKeyBundle holds the five 32-byte subkeys derived from K_master.
// K_index is derived for forward compatibility but is not referenced by
// the baseline index/server/client packages, which use K_search for both
// trapdoors and index keys (see spec.md §9 Open Questions).
type VaultKeyBundle struct {
	KFileEnc     [magic.SubkeySize]byte
	KFilenameEnc [magic.SubkeySize]byte
	KSearch      [magic.SubkeySize]byte
	KIndex       [magic.SubkeySize]byte
	KIndexMAC    [magic.SubkeySize]byte
}

// GenerateSalt returns SaltGenSize fresh random bytes, suitable for either
// ScryptDerive or PBKDF2Derive. Salt is not secret; it is stored with the
// vault record.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, magic.SaltGenSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generating salt: %w", err)
	}
	return salt, nil
}

// ScryptDerive derives K_master from password using scrypt with the given
// salt and cost parameter N (defaults to magic.ScryptN when n <= 0).
// Production deployments should pass N >= magic.ScryptNProductionMin.
func ScryptDerive(password, salt []byte, n int) ([]byte, error) {
	if len(salt) < magic.SaltMinSize {
		return nil, fmt.Errorf("scrypt salt must be at least %d bytes: %w", magic.SaltMinSize, apperr.ErrBadParameter)
	}
	if n <= 0 {
		n = magic.ScryptN
	}
	key, err := scrypt.Key(password, salt, n, magic.ScryptR, magic.ScryptP, magic.ScryptKeyLen)
	if err != nil {
		return nil, fmt.Errorf("scrypt derive: %w", err)
	}
	return key, nil
}

// PBKDF2Derive derives K_master from password using PBKDF2-HMAC-SHA256.
// iterations must be at least magic.PBKDF2MinIterations; pass <= 0 to use
// the default.
func PBKDF2Derive(password, salt []byte, iterations int) ([]byte, error) {
	if len(salt) < magic.SaltMinSize {
		return nil, fmt.Errorf("pbkdf2 salt must be at least %d bytes: %w", magic.SaltMinSize, apperr.ErrBadParameter)
	}
	if iterations <= 0 {
		iterations = magic.PBKDF2DefaultIter
	}
	if iterations < magic.PBKDF2MinIterations {
		return nil, fmt.Errorf("pbkdf2 iterations must be at least %d: %w", magic.PBKDF2MinIterations, apperr.ErrBadParameter)
	}
	return pbkdf2.Key(password, salt, iterations, magic.PBKDF2KeyLen, sha256.New), nil
}

// DeriveVaultKeys expands kMaster (>= 32 bytes) into the vault key bundle
// via HKDF-Extract(salt=empty, kMaster) then HKDF-Expand per subkey with
// distinct info strings, giving domain-separated independent keys.
func DeriveVaultKeys(kMaster []byte) (*VaultKeyBundle, error) {
	if len(kMaster) < magic.MasterKeySize {
		return nil, fmt.Errorf("K_master must be at least %d bytes: %w", magic.MasterKeySize, apperr.ErrBadParameter)
	}

	bundle := &VaultKeyBundle{}
	labels := []struct {
		info string
		dst  *[magic.SubkeySize]byte
	}{
		{magic.InfoKFileEnc, &bundle.KFileEnc},
		{magic.InfoKFilenameEnc, &bundle.KFilenameEnc},
		{magic.InfoKSearch, &bundle.KSearch},
		{magic.InfoKIndex, &bundle.KIndex},
		{magic.InfoKIndexMAC, &bundle.KIndexMAC},
	}
	for _, l := range labels {
		reader := hkdf.New(sha256.New, kMaster, nil, []byte(l.info))
		if _, err := fillExact(reader, l.dst[:]); err != nil {
			return nil, fmt.Errorf("hkdf expand %q: %w", l.info, err)
		}
	}
	return bundle, nil
}

func fillExact(r interface{ Read([]byte) (int, error) }, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			break
		}
	}
	return total, nil
}

// PasswordVerifier computes SHA-256(kMaster), stored with the vault record
// and compared at unlock time so wrong passwords are rejected without
// keeping kMaster at rest (spec.md §3).
func PasswordVerifier(kMaster []byte) [32]byte {
	return sha256.Sum256(kMaster)
}
