// Package keyring holds the signing key material used for token issuance
// and verification.
//
// Exactly one key is current at any time: new signatures always use it,
// while every previously rotated key stays available for verification so
// tokens issued before a rotation remain valid until they expire. Keys are
// never removed for the lifetime of the process.
package keyring

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Algorithm selects the signing family for new key material.
type Algorithm string

const (
	// AlgorithmHS256 uses a random 32-byte symmetric secret.
	AlgorithmHS256 Algorithm = "HS256"
	// AlgorithmEd25519 uses an Ed25519 key pair.
	AlgorithmEd25519 Algorithm = "EdDSA"
)

// ErrUnsupportedAlgorithm is returned when the configured algorithm family
// is not recognized.
var ErrUnsupportedAlgorithm = errors.New("unsupported signing algorithm")

const symmetricSecretBytes = 32

// Key is one unit of signing material. Private is the signing half,
// Public the verification half; for symmetric keys the two are identical.
type Key struct {
	ID        string
	Algorithm Algorithm
	Private   []byte
	Public    []byte
	Active    bool
	CreatedAt time.Time
	Uses      uint64
}

// Manager is the process-wide key registry. Safe for concurrent use.
type Manager struct {
	algorithm Algorithm

	mu      sync.RWMutex
	current string
	keys    map[string]*Key
}

// NewManager creates a Manager for the given algorithm family and performs
// the initial rotation so a current key exists immediately.
func NewManager(algorithm Algorithm) (*Manager, error) {
	m := &Manager{
		algorithm: algorithm,
		keys:      make(map[string]*Key),
	}
	if _, err := m.Rotate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Algorithm returns the configured signing family.
func (m *Manager) Algorithm() Algorithm {
	return m.algorithm
}

// Rotate generates fresh signing material, marks it current, and demotes the
// previous current key to verify-only. Returns the new key id.
func (m *Manager) Rotate() (string, error) {
	key, err := generate(m.algorithm)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, ok := m.keys[m.current]; ok {
		prev.Active = false
	}
	m.keys[key.ID] = key
	m.current = key.ID

	return key.ID, nil
}

// SigningKey returns the current key id and its private material, and
// counts the use.
func (m *Manager) SigningKey() (string, []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := m.keys[m.current]
	key.Uses++
	return key.ID, key.Private
}

// VerificationKey returns the public material for the given key id. Unknown
// ids fall back to the current key; the resulting verification failure, if
// any, is the caller's to surface.
func (m *Manager) VerificationKey(keyID string) (string, []byte) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if key, ok := m.keys[keyID]; ok {
		return key.ID, key.Public
	}
	key := m.keys[m.current]
	return key.ID, key.Public
}

// CurrentKeyID returns the id of the key used for new signatures.
func (m *Manager) CurrentKeyID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// KeyCount returns the number of keys held, current and demoted.
func (m *Manager) KeyCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.keys)
}

// KeyInfo returns a copy of the key record for keyID, without private
// material, and whether it exists.
func (m *Manager) KeyInfo(keyID string) (Key, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	key, ok := m.keys[keyID]
	if !ok {
		return Key{}, false
	}
	info := *key
	info.Private = nil
	return info, true
}

func generate(algorithm Algorithm) (*Key, error) {
	id := uuid.NewString()
	now := time.Now().UTC()

	switch algorithm {
	case AlgorithmHS256:
		secret := make([]byte, symmetricSecretBytes)
		if _, err := rand.Read(secret); err != nil {
			return nil, err
		}
		return &Key{
			ID:        id,
			Algorithm: algorithm,
			Private:   secret,
			Public:    secret,
			Active:    true,
			CreatedAt: now,
		}, nil
	case AlgorithmEd25519:
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, err
		}
		return &Key{
			ID:        id,
			Algorithm: algorithm,
			Private:   priv,
			Public:    pub,
			Active:    true,
			CreatedAt: now,
		}, nil
	default:
		return nil, ErrUnsupportedAlgorithm
	}
}
