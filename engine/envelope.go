package engine

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"time"
)

// GCMNonceSize is the IV size for AES-256-GCM.
const GCMNonceSize = 12

// Envelope is the authenticated-encryption output: ciphertext (with the GCM
// tag appended), the per-call IV and the encryption timestamp. The IV is drawn
// from crypto/rand on every call, never reused with the same key.
type Envelope struct {
	Ciphertext []byte `json:"ciphertext"`
	IV         []byte `json:"iv"`
	Timestamp  int64  `json:"timestamp"`
}

// Encrypt seals plaintext under key with AES-256-GCM and a fresh random IV.
func Encrypt(plaintext []byte, key SharedKey) (*Envelope, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	iv := make([]byte, GCMNonceSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, err
	}

	return &Envelope{
		Ciphertext: aead.Seal(nil, iv, plaintext, nil),
		IV:         iv,
		Timestamp:  time.Now().Unix(),
	}, nil
}

// Decrypt opens an envelope. Every failure mode (wrong key, tampered
// ciphertext, malformed IV) returns the same ErrDecryptionFailed so callers
// cannot be used as a decryption oracle.
func Decrypt(env *Envelope, key SharedKey) ([]byte, error) {
	if env == nil || len(env.IV) != GCMNonceSize {
		return nil, ErrDecryptionFailed
	}

	aead, err := newGCM(key)
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	plaintext, err := aead.Open(nil, env.IV, env.Ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

func newGCM(key SharedKey) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
