// Package engine implements the end-to-end encryption core: X25519 key-pair
// lifecycle, ECDH shared-secret derivation bound to AEAD use, authenticated
// encryption, password-based key derivation and Ed25519 signatures.
//
// Private keys never leave the engine. The in-memory key-pair store is the
// only side effect; there is no network or disk I/O in this package.
package engine

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const (
	// X25519KeySize is the size of X25519 public and private keys.
	X25519KeySize = 32

	// SharedKeySize is the size of the derived AEAD key.
	SharedKeySize = 32

	// sharedKeyInfo is the HKDF domain separator for shared-secret derivation.
	// It must be identical on both sides of the exchange, so it carries no
	// per-party material.
	sharedKeyInfo = "veilworks-cryptocore shared key v1"
)

// KeyPair holds one owner's agreement and signing keys. The private halves are
// unexported and never leave the engine process.
type KeyPair struct {
	OwnerID     string
	Public      []byte // X25519 public key, shareable
	SignPublic  ed25519.PublicKey
	Fingerprint string
	CreatedAt   time.Time

	private     []byte // X25519 private key
	signPrivate ed25519.PrivateKey
}

// SharedKey is an AEAD-capable symmetric key derived via ECDH. It is
// re-derivable whenever both key halves are available and is never persisted.
type SharedKey []byte

// Engine owns the in-memory key-pair store. At most one live key pair is held
// per owner; re-registration overwrites (and zeroes) the previous pair.
type Engine struct {
	mu    sync.RWMutex
	pairs map[string]*KeyPair
}

// New creates an engine with an empty key-pair store.
func New() *Engine {
	return &Engine{pairs: make(map[string]*KeyPair)}
}

// GenerateKeyPair creates a fresh X25519 agreement pair and an Ed25519 signing
// pair for ownerID, overwriting any prior pair for that owner.
func (e *Engine) GenerateKeyPair(ownerID string) (*KeyPair, error) {
	private := make([]byte, X25519KeySize)
	if _, err := rand.Read(private); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyGeneration, err)
	}

	public, err := curve25519.X25519(private, curve25519.Basepoint)
	if err != nil {
		zeroBytes(private)
		return nil, fmt.Errorf("%w: %v", ErrKeyGeneration, err)
	}

	signPublic, signPrivate, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		zeroBytes(private)
		return nil, fmt.Errorf("%w: %v", ErrKeyGeneration, err)
	}

	pair := &KeyPair{
		OwnerID:     ownerID,
		Public:      public,
		SignPublic:  signPublic,
		Fingerprint: Fingerprint(public),
		CreatedAt:   time.Now(),
		private:     private,
		signPrivate: signPrivate,
	}

	e.mu.Lock()
	if prior, ok := e.pairs[ownerID]; ok {
		prior.destroy()
	}
	e.pairs[ownerID] = pair
	e.mu.Unlock()

	log.Debug().
		Str("owner", ownerID).
		Str("fingerprint", pair.Fingerprint).
		Msg("Generated key pair")

	return pair, nil
}

// DeriveSharedSecret performs ECDH between the owner's stored private key and
// the remote public key, then binds the result to AEAD usage via HKDF-SHA256.
// Both parties derive the same key from their own private half and the peer's
// public half.
func (e *Engine) DeriveSharedSecret(ownerID string, remotePublic []byte) (SharedKey, error) {
	e.mu.RLock()
	pair, ok := e.pairs[ownerID]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownOwner, ownerID)
	}

	if len(remotePublic) != X25519KeySize {
		return nil, fmt.Errorf("%w: public key must be %d bytes, got %d",
			ErrInvalidKey, X25519KeySize, len(remotePublic))
	}

	// X25519 rejects low-order points, which would yield an all-zero secret.
	secret, err := curve25519.X25519(pair.private, remotePublic)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	defer zeroBytes(secret)

	reader := hkdf.New(sha256.New, secret, nil, []byte(sharedKeyInfo))
	key := make([]byte, SharedKeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyGeneration, err)
	}

	return SharedKey(key), nil
}

// PublicKey returns the shareable agreement public key for ownerID.
func (e *Engine) PublicKey(ownerID string) ([]byte, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	pair, ok := e.pairs[ownerID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownOwner, ownerID)
	}
	out := make([]byte, len(pair.Public))
	copy(out, pair.Public)
	return out, nil
}

// RemoveKeyPair destroys the owner's key pair, zeroing the private halves.
// Called on logout or account reset. Removing an absent owner is a no-op.
func (e *Engine) RemoveKeyPair(ownerID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if pair, ok := e.pairs[ownerID]; ok {
		pair.destroy()
		delete(e.pairs, ownerID)
		log.Debug().Str("owner", ownerID).Msg("Removed key pair")
	}
}

// destroy zeroes the private key material.
func (kp *KeyPair) destroy() {
	zeroBytes(kp.private)
	zeroBytes(kp.signPrivate)
}

// Zero overwrites the key material. Call when the key is no longer needed.
func (k SharedKey) Zero() {
	zeroBytes(k)
}

// zeroBytes overwrites a byte slice with zeros.
// SECURITY: Used to clear sensitive cryptographic material from memory.
func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
