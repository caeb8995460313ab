package kdf

import (
	"bytes"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	"github.com/karthik1codes/gat/internal/gat/magic"
)

func TestGenerateSalt(t *testing.T) {
	t.Parallel()

	s1, err := GenerateSalt()
	require.NoError(t, err)
	require.Len(t, s1, magic.SaltGenSize)

	s2, err := GenerateSalt()
	require.NoError(t, err)
	require.NotEqual(t, s1, s2, "two generated salts should not collide")
}

func TestScryptDerive(t *testing.T) {
	t.Parallel()

	salt := bytes.Repeat([]byte{0x01}, magic.SaltMinSize)

	tests := []struct {
		name    string
		pw      []byte
		salt    []byte
		n       int
		wantErr bool
	}{
		{name: "valid", pw: []byte("hunter2"), salt: salt, n: 1024, wantErr: false},
		{name: "default n", pw: []byte("hunter2"), salt: salt, n: 0, wantErr: false},
		{name: "salt too short", pw: []byte("hunter2"), salt: salt[:4], n: 1024, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			key, err := ScryptDerive(tc.pw, tc.salt, tc.n)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Len(t, key, magic.ScryptKeyLen)
		})
	}
}

func TestScryptDerive_Deterministic(t *testing.T) {
	t.Parallel()

	salt := bytes.Repeat([]byte{0x02}, magic.SaltMinSize)
	k1, err := ScryptDerive([]byte("same-password"), salt, 1024)
	require.NoError(t, err)
	k2, err := ScryptDerive([]byte("same-password"), salt, 1024)
	require.NoError(t, err)
	require.Equal(t, k1, k2)
}

func TestPBKDF2Derive(t *testing.T) {
	t.Parallel()

	salt := bytes.Repeat([]byte{0x03}, magic.SaltMinSize)

	tests := []struct {
		name    string
		iter    int
		wantErr bool
	}{
		{name: "default iterations", iter: 0, wantErr: false},
		{name: "at floor", iter: magic.PBKDF2MinIterations, wantErr: false},
		{name: "below floor", iter: magic.PBKDF2MinIterations - 1, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			key, err := PBKDF2Derive([]byte("hunter2"), salt, tc.iter)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Len(t, key, magic.PBKDF2KeyLen)
		})
	}
}

func TestDeriveVaultKeys_SubkeysAreIndependent(t *testing.T) {
	t.Parallel()

	kMaster := bytes.Repeat([]byte{0x42}, magic.MasterKeySize)
	bundle, err := DeriveVaultKeys(kMaster)
	require.NoError(t, err)

	subkeys := [][]byte{
		bundle.KFileEnc[:],
		bundle.KFilenameEnc[:],
		bundle.KSearch[:],
		bundle.KIndex[:],
		bundle.KIndexMAC[:],
	}
	for i := range subkeys {
		for j := i + 1; j < len(subkeys); j++ {
			require.False(t, bytes.Equal(subkeys[i], subkeys[j]), "subkeys %d and %d must differ", i, j)
		}
	}
}

func TestDeriveVaultKeys_Deterministic(t *testing.T) {
	t.Parallel()

	kMaster := bytes.Repeat([]byte{0x77}, magic.MasterKeySize)
	b1, err := DeriveVaultKeys(kMaster)
	require.NoError(t, err)
	b2, err := DeriveVaultKeys(kMaster)
	require.NoError(t, err)
	require.Equal(t, b1, b2)
}

func TestDeriveVaultKeys_RejectsShortMaster(t *testing.T) {
	t.Parallel()

	_, err := DeriveVaultKeys(bytes.Repeat([]byte{0x01}, magic.MasterKeySize-1))
	require.Error(t, err)
}

func TestPasswordVerifier(t *testing.T) {
	t.Parallel()

	k := bytes.Repeat([]byte{0x09}, magic.MasterKeySize)
	v1 := PasswordVerifier(k)
	v2 := PasswordVerifier(k)
	require.Equal(t, v1, v2)

	other := bytes.Repeat([]byte{0x10}, magic.MasterKeySize)
	require.NotEqual(t, v1, PasswordVerifier(other))
}

// TestDeriveVaultKeysInvariants property-checks, across randomly generated
// master keys, that derivation is deterministic and that distinct master
// keys yield distinct K_search subkeys.
func TestDeriveVaultKeysInvariants(t *testing.T) {
	t.Parallel()

	properties := gopter.NewProperties(nil)

	properties.Property("derivation is deterministic", prop.ForAll(
		func(seed []byte) bool {
			kMaster := padToMasterSize(seed)
			b1, err1 := DeriveVaultKeys(kMaster)
			b2, err2 := DeriveVaultKeys(kMaster)
			if err1 != nil || err2 != nil {
				return false
			}
			return *b1 == *b2
		},
		gen.SliceOfN(32, gen.UInt8()),
	))

	properties.Property("distinct master keys yield distinct K_search", prop.ForAll(
		func(seed1, seed2 []byte) bool {
			k1 := padToMasterSize(seed1)
			k2 := padToMasterSize(seed2)
			if bytes.Equal(k1, k2) {
				return true
			}
			b1, err1 := DeriveVaultKeys(k1)
			b2, err2 := DeriveVaultKeys(k2)
			if err1 != nil || err2 != nil {
				return false
			}
			return b1.KSearch != b2.KSearch
		},
		gen.SliceOfN(32, gen.UInt8()),
		gen.SliceOfN(32, gen.UInt8()),
	))

	properties.TestingRun(t)
}

func padToMasterSize(seed []byte) []byte {
	out := make([]byte, magic.MasterKeySize)
	copy(out, seed)
	return out
}
