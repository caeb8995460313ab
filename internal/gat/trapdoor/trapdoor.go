// Package trapdoor implements deterministic search trapdoors (C5) and
// forward-private index tokens (C6) from spec.md §4.4.
//
// Grounded on original_source/crypto/keys.py (build_trapdoor /
// constant_time_equals) and crypto/forward_secure.py (per-keyword counter
// scheme), and on the teacher's use of golang.org/x/text for Unicode-aware
// normalization ahead of HMAC input.
package trapdoor

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"strings"

	"golang.org/x/text/cases"
)

var foldCaser = cases.Fold()

// Normalize strips outer whitespace and applies Unicode case folding so
// that "Cat ", "cat", and "CAT" all normalize identically (spec.md §4.4,
// §8 invariant 5). cases.Fold is used instead of strings.ToLower because
// it correctly handles non-ASCII case folding (e.g. German ß, Turkish I).
func Normalize(keyword string) string {
	trimmed := strings.TrimSpace(keyword)
	return foldCaser.String(trimmed)
}

// Deterministic computes T(kw) = HMAC-SHA256(kSearch, normalize(kw)), used
// both as the search token and as the index key for exact-keyword search
// (spec.md §4.4).
func Deterministic(keyword string, kSearch []byte) [32]byte {
	mac := hmac.New(sha256.New, kSearch)
	mac.Write([]byte(Normalize(keyword)))
	var out [32]byte
	copy(out[:], mac.Sum(nil))
	return out
}

// DeterministicRaw is Deterministic but operating on an already-normalized
// token (e.g. an n-gram or Soundex code, which have their own
// normalization rules and must not be re-folded).
func DeterministicRaw(token string, kSearch []byte) [32]byte {
	mac := hmac.New(sha256.New, kSearch)
	mac.Write([]byte(token))
	var out [32]byte
	copy(out[:], mac.Sum(nil))
	return out
}

// ForwardKey derives K_fwd = HMAC(K_search, "sse.v1.forward"), the
// intermediate key separating the forward-private domain from
// deterministic trapdoors (spec.md §4.4).
func ForwardKey(kSearch []byte) [32]byte {
	mac := hmac.New(sha256.New, kSearch)
	mac.Write([]byte("sse.v1.forward"))
	var out [32]byte
	copy(out[:], mac.Sum(nil))
	return out
}

// ForwardIndexKey computes IK(kw, c) = HMAC(K_fwd, kw || big-endian-uint64(c)).
func ForwardIndexKey(keyword string, counter uint64, kFwd []byte) [32]byte {
	var counterBytes [8]byte
	binary.BigEndian.PutUint64(counterBytes[:], counter)

	mac := hmac.New(sha256.New, kFwd)
	mac.Write([]byte(Normalize(keyword)))
	mac.Write(counterBytes[:])
	var out [32]byte
	copy(out[:], mac.Sum(nil))
	return out
}

// ForwardSearchTokens returns IK(kw, 0..counterMax-1): the token set a
// search sends so historical entries remain findable while future
// insertions are unlinkable (spec.md §4.4, §8 invariant 7). Returns an
// empty (non-nil) slice when counterMax is 0, tolerated by callers per
// spec.md §7.
func ForwardSearchTokens(keyword string, counterMax uint64, kFwd []byte) [][32]byte {
	tokens := make([][32]byte, 0, counterMax)
	for c := uint64(0); c < counterMax; c++ {
		tokens = append(tokens, ForwardIndexKey(keyword, c, kFwd))
	}
	return tokens
}

// ConstantTimeEqual compares two byte slices in time independent of the
// position of the first differing byte and independent of content,
// without short-circuiting on length mismatch by content (spec.md §4.4,
// §8 invariant 6). A length mismatch alone ends the comparison (an
// inescapable, content-independent signal); subtle.ConstantTimeCompare
// still scans both full slices when lengths match.
func ConstantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}
