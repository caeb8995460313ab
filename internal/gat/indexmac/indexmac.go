// Package indexmac implements index integrity protection (spec.md §4.6,
// C8): HMAC-SHA256 over a canonical serialization of an index block, and
// a per-entry MAC over a single token's doc_id list, both verified with a
// constant-time comparator before use.
//
// Grounded on original_source/crypto/index_protection.py for the exact
// canonical serialization and entry-MAC input format.
package indexmac

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/karthik1codes/gat/internal/gat/apperr"
)

// canonicalBlock serializes entries as a JSON array of [token_hex,
// [doc_id,...]] pairs sorted by token_hex, with compact separators,
// mirroring Python's json.dumps(sorted(entries.items()), sort_keys=True,
// separators=(",", ":")).
func canonicalBlock(entries map[string][]string) ([]byte, error) {
	tokens := make([]string, 0, len(entries))
	for t := range entries {
		tokens = append(tokens, t)
	}
	sort.Strings(tokens)

	pairs := make([][2]any, 0, len(tokens))
	for _, t := range tokens {
		pairs = append(pairs, [2]any{t, entries[t]})
	}
	buf, err := json.Marshal(pairs)
	if err != nil {
		return nil, fmt.Errorf("serializing index block: %w", err)
	}
	return buf, nil
}

// SignBlock computes HMAC-SHA256(kIndexMAC, canonicalBlock(entries)).
func SignBlock(entries map[string][]string, kIndexMAC []byte) ([]byte, error) {
	if len(kIndexMAC) != 32 {
		return nil, fmt.Errorf("K_index_mac must be 32 bytes: %w", apperr.ErrBadParameter)
	}
	data, err := canonicalBlock(entries)
	if err != nil {
		return nil, err
	}
	mac := hmac.New(sha256.New, kIndexMAC)
	mac.Write(data)
	return mac.Sum(nil), nil
}

// VerifyBlock recomputes the block MAC and compares it in constant time
// against expectedMAC, returning apperr.ErrIndexTampered on mismatch.
func VerifyBlock(entries map[string][]string, expectedMAC, kIndexMAC []byte) error {
	computed, err := SignBlock(entries, kIndexMAC)
	if err != nil {
		return err
	}
	if len(expectedMAC) != len(computed) || !hmac.Equal(computed, expectedMAC) {
		return apperr.ErrIndexTampered
	}
	return nil
}

// entrySerialization builds "token_hex|doc_id1,doc_id2,..." with doc_ids
// sorted, matching original_source/crypto/index_protection.py.
func entrySerialization(tokenHex string, docIDs []string) []byte {
	sorted := append([]string(nil), docIDs...)
	sort.Strings(sorted)
	return []byte(tokenHex + "|" + strings.Join(sorted, ","))
}

// SignEntry computes the per-entry MAC for a single (token_hex, doc_ids)
// pair, allowing verification of one lookup's exact result.
func SignEntry(tokenHex string, docIDs []string, kIndexMAC []byte) ([]byte, error) {
	if len(kIndexMAC) != 32 {
		return nil, fmt.Errorf("K_index_mac must be 32 bytes: %w", apperr.ErrBadParameter)
	}
	mac := hmac.New(sha256.New, kIndexMAC)
	mac.Write(entrySerialization(tokenHex, docIDs))
	return mac.Sum(nil), nil
}

// VerifyEntry constant-time verifies a per-entry MAC.
func VerifyEntry(tokenHex string, docIDs []string, expectedMAC, kIndexMAC []byte) error {
	computed, err := SignEntry(tokenHex, docIDs, kIndexMAC)
	if err != nil {
		return err
	}
	if len(expectedMAC) != len(computed) || !hmac.Equal(computed, expectedMAC) {
		return apperr.ErrIndexTampered
	}
	return nil
}
