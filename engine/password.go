package engine

import (
	"crypto/rand"
	"crypto/sha256"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"
)

// PBKDF2 parameters. The iteration count is deliberately high so that
// brute-forcing a low-entropy password stays expensive.
const (
	DefaultIterations = 100000
	DerivedKeySize    = 32
	SaltSize          = 16
)

// Argon2id parameters for DEK derivation. Memory-hard, unlike PBKDF2, so
// the at-rest storage key gets the stronger treatment.
const (
	argon2Time    = 1
	argon2Memory  = 64 * 1024
	argon2Threads = 4
)

// GenerateSalt returns a fresh random 16-byte salt.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	return salt, nil
}

// DeriveKeyFromPassword stretches a password into a 32-byte AEAD key with
// PBKDF2-SHA256. Deterministic: the same (password, salt, iterations) always
// yields the same key; different salts yield unlinkable keys.
func DeriveKeyFromPassword(password string, salt []byte, iterations int) SharedKey {
	if iterations <= 0 {
		iterations = DefaultIterations
	}
	return SharedKey(pbkdf2.Key([]byte(password), salt, iterations, DerivedKeySize, sha256.New))
}

// DeriveDEK hardens a password into a 32-byte data encryption key with
// Argon2id. Used for the at-rest storage key, not for the unlock
// commitment; the two must stay unlinkable even for the same password.
func DeriveDEK(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, argon2Time, argon2Memory, argon2Threads, DerivedKeySize)
}
