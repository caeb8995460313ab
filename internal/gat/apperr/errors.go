// Package apperr defines the sentinel error taxonomy shared by every
// Gatekeeper package. Callers use errors.Is against these sentinels;
// wrapping functions attach non-secret context with fmt.Errorf("...: %w").
package apperr

import "errors"

var (
	// ErrInvalidPassword is returned by vault unlock when the derived master
	// key does not match the stored verifier.
	ErrInvalidPassword = errors.New("invalid password")

	// ErrVaultLocked is returned by any operation that needs key material
	// while the vault is in the LOCKED state.
	ErrVaultLocked = errors.New("vault is locked")

	// ErrTagMismatch is returned when an AEAD authentication tag fails to
	// verify. Fatal for the operation; callers must not return partial data.
	ErrTagMismatch = errors.New("authentication tag mismatch")

	// ErrAEADFailure covers AEAD construction/decryption failures other than
	// a tag mismatch (e.g. malformed nonce length).
	ErrAEADFailure = errors.New("AEAD operation failed")

	// ErrIndexTampered is returned when an index block or entry MAC fails
	// verification. Fatal; no partial results are returned.
	ErrIndexTampered = errors.New("index integrity check failed")

	// ErrNotFound is returned by document/vault lookups that find nothing.
	ErrNotFound = errors.New("not found")

	// ErrBadParameter covers precondition failures: short salts, wrong key
	// lengths, too few KDF iterations, negative n-gram size, invalid
	// base64, etc. Fail fast, never silently coerce.
	ErrBadParameter = errors.New("bad parameter")

	// ErrCorruption covers JSON parse failures and SQLite schema failures.
	// Fatal; requires manual repair.
	ErrCorruption = errors.New("corruption detected")
)
