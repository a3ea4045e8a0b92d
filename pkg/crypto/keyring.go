package crypto

import (
	"errors"
	"fmt"
	"sync"
)

// ErrUnknownSigner is returned when a key ID cannot be resolved.
var ErrUnknownSigner = errors.New("unknown signer")

// KeyResolver maps a key ID to a hex-encoded ed25519 public key.
// The record verifier uses it to look up actor public keys.
type KeyResolver interface {
	Resolve(keyID string) (string, error)
}

// KeyRing is an in-memory KeyResolver with rotation support. Verification
// only; private keys never enter the ring.
type KeyRing struct {
	mu   sync.RWMutex
	keys map[string]string // keyID -> hex public key
}

// NewKeyRing creates an empty KeyRing.
func NewKeyRing() *KeyRing {
	return &KeyRing{keys: make(map[string]string)}
}

// AddKey registers a public key under keyID, replacing any previous key.
func (k *KeyRing) AddKey(keyID, pubKeyHex string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.keys[keyID] = pubKeyHex
}

// RevokeKey removes a key from the ring by ID.
func (k *KeyRing) RevokeKey(keyID string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.keys, keyID)
}

// Resolve implements KeyResolver.
func (k *KeyRing) Resolve(keyID string) (string, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	pub, ok := k.keys[keyID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownSigner, keyID)
	}
	return pub, nil
}
