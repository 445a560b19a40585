package engine

import (
	"crypto/ed25519"
	"fmt"
)

// Sign signs message with the owner's Ed25519 signing key.
func (e *Engine) Sign(ownerID string, message []byte) ([]byte, error) {
	e.mu.RLock()
	pair, ok := e.pairs[ownerID]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownOwner, ownerID)
	}
	return ed25519.Sign(pair.signPrivate, message), nil
}

// Verify reports whether signature is valid for message under the given
// public key. It returns false on any malformed input rather than an error,
// so callers get a single denied/accepted branch.
func Verify(public ed25519.PublicKey, message, signature []byte) bool {
	if len(public) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(public, message, signature)
}
