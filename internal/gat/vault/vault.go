// Package vault implements the vault state machine (spec.md §4.2): a
// LOCKED/UNLOCKED manager holding key material only in memory, with
// inactivity auto-lock. The Manager's own K_master buffer and subkey bundle
// are zeroed on lock and inactivity expiry, and the derived K_master is
// zeroed on every Unlock return path; Keys snapshots handed to callers are
// copies and are not zeroed by the Manager.
//
// Grounded on original_source/backend/app/services/vault_service.py for
// the state machine's operations and on the teacher's barrier package
// idiom of a small service struct wrapping key material behind a
// capability accessor.
package vault

import (
	"crypto/subtle"
	"fmt"
	"sync"
	"time"

	"github.com/karthik1codes/gat/internal/gat/apperr"
	"github.com/karthik1codes/gat/internal/gat/kdf"
)

// State is the vault's lifecycle state.
type State int

const (
	Locked State = iota
	Unlocked
)

func (s State) String() string {
	if s == Unlocked {
		return "unlocked"
	}
	return "locked"
}

// zeroizable holds a byte slice that is always overwritten with zeros
// before being dropped, so key material does not linger in freed memory
// any longer than necessary. Buffers are allocated once and never
// reallocated in place (non-relocating), per spec.md §5.
type zeroizable struct {
	buf []byte
}

func newZeroizable(n int) *zeroizable {
	return &zeroizable{buf: make([]byte, n)}
}

func (z *zeroizable) set(b []byte) {
	copy(z.buf, b)
}

func (z *zeroizable) zero() {
	for i := range z.buf {
		z.buf[i] = 0
	}
}

// Keys is the capability object returned by Manager.Keys while unlocked.
// It is a by-value copy of the five subkeys: Lock zeroes the Manager's own
// bundle but not copies already returned, so a retained Keys keeps its key
// bytes after Lock.
type Keys struct {
	KFileEnc     [32]byte
	KFilenameEnc [32]byte
	KSearch      [32]byte
	KIndex       [32]byte
	KIndexMAC    [32]byte
}

// Manager is the per-vault key custodian: LOCKED <-> UNLOCKED, keys held
// only in memory, zeroized on lock/inactivity/shutdown. One Manager must
// be used by at most one unlock attempt at a time (spec.md §5); callers
// serialize access externally (e.g. one Manager per goroutine-confined
// vault session).
type Manager struct {
	mu                sync.Mutex
	state             State
	masterKey         *zeroizable
	bundle            *kdf.VaultKeyBundle
	inactivityTimeout time.Duration
	lastActivity      time.Time
	lastUnlock        time.Time
	now               func() time.Time
	unlockCount       int
}

// NewManager creates a LOCKED Manager with the given inactivity timeout
// (defaults to 300s per spec.md §4.2/§6 when timeout <= 0).
func NewManager(timeout time.Duration) *Manager {
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	return &Manager{
		state:             Locked,
		inactivityTimeout: timeout,
		now:               time.Now,
	}
}

// Unlock derives K_master from password and, when salt/verifier are both
// provided, rejects a mismatching password with ErrInvalidPassword. When
// salt is nil, Unlock mints a fresh salt, derives K_master, and returns
// (salt, verifier) for the caller to persist alongside the vault record.
func (m *Manager) Unlock(password string, salt []byte, verifier []byte, useScrypt bool, scryptN int) (mintedSalt []byte, mintedVerifier []byte, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mint := salt == nil
	if mint {
		salt, err = kdf.GenerateSalt()
		if err != nil {
			return nil, nil, err
		}
	}

	var kMaster []byte
	if useScrypt {
		kMaster, err = kdf.ScryptDerive([]byte(password), salt, scryptN)
	} else {
		kMaster, err = kdf.PBKDF2Derive([]byte(password), salt, 0)
	}
	if err != nil {
		return nil, nil, err
	}
	defer func() {
		for i := range kMaster {
			kMaster[i] = 0
		}
	}()

	computedVerifier := kdf.PasswordVerifier(kMaster)
	if !mint {
		if len(verifier) != len(computedVerifier) || subtle.ConstantTimeCompare(computedVerifier[:], verifier) != 1 {
			return nil, nil, fmt.Errorf("password verification failed: %w", apperr.ErrInvalidPassword)
		}
	}

	bundle, err := kdf.DeriveVaultKeys(kMaster)
	if err != nil {
		return nil, nil, err
	}

	if m.masterKey == nil {
		m.masterKey = newZeroizable(len(kMaster))
	}
	m.masterKey.set(kMaster)
	m.bundle = bundle
	m.state = Unlocked
	m.lastActivity = m.now()
	m.lastUnlock = m.lastActivity
	m.unlockCount++

	if mint {
		v := computedVerifier
		return salt, v[:], nil
	}
	return nil, nil, nil
}

// Lock overwrites all key material with zeros and transitions to LOCKED.
// Idempotent.
func (m *Manager) Lock() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lockLocked()
}

func (m *Manager) lockLocked() {
	if m.masterKey != nil {
		m.masterKey.zero()
	}
	if m.bundle != nil {
		zeroBundle(m.bundle)
		m.bundle = nil
	}
	m.state = Locked
}

func zeroBundle(b *kdf.VaultKeyBundle) {
	for i := range b.KFileEnc {
		b.KFileEnc[i] = 0
	}
	for i := range b.KFilenameEnc {
		b.KFilenameEnc[i] = 0
	}
	for i := range b.KSearch {
		b.KSearch[i] = 0
	}
	for i := range b.KIndex {
		b.KIndex[i] = 0
	}
	for i := range b.KIndexMAC {
		b.KIndexMAC[i] = 0
	}
}

// CheckInactivity locks the vault if the time since last activity is at
// least the configured timeout. Returns whether a transition occurred.
// Uses the Manager's monotonic clock source only.
func (m *Manager) CheckInactivity() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == Locked {
		return false
	}
	if m.now().Sub(m.lastActivity) >= m.inactivityTimeout {
		m.lockLocked()
		return true
	}
	return false
}

// Keys returns the current subkey bundle as a capability, or ErrVaultLocked
// when the vault is LOCKED. Each successful call refreshes last-activity.
func (m *Manager) Keys() (*Keys, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Unlocked || m.bundle == nil {
		return nil, apperr.ErrVaultLocked
	}
	m.lastActivity = m.now()
	return &Keys{
		KFileEnc:     m.bundle.KFileEnc,
		KFilenameEnc: m.bundle.KFilenameEnc,
		KSearch:      m.bundle.KSearch,
		KIndex:       m.bundle.KIndex,
		KIndexMAC:    m.bundle.KIndexMAC,
	}, nil
}

// IsUnlocked reports the current state without updating last-activity.
func (m *Manager) IsUnlocked() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == Unlocked
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// LastActivity returns the time of the last successful Unlock or Keys()
// call, or the zero time if the vault has never been unlocked.
func (m *Manager) LastActivity() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastActivity
}

// SetClock overrides the monotonic clock source; intended for tests only.
func (m *Manager) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Stats is a read-only diagnostics snapshot (supplemented from
// original_source/backend/app/services/vault_service.py get_vault_stats).
type Stats struct {
	State          string
	LastUnlockTime time.Time
	EncryptionAlgo string
	KDFAlgorithm   string
	UnlockCount    int
}

// Stats returns vault diagnostics for dashboards/monitoring; never exposes
// key material.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		State:          m.state.String(),
		LastUnlockTime: m.lastUnlock,
		EncryptionAlgo: "AES-256-GCM",
		KDFAlgorithm:   "scrypt",
		UnlockCount:    m.unlockCount,
	}
}
