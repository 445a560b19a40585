package engine

import "errors"

// Sentinel errors for errors.Is() checks
var (
	// ErrKeyGeneration is returned when the underlying randomness source or
	// curve primitive is unavailable.
	ErrKeyGeneration = errors.New("key generation failed")

	// ErrUnknownOwner is returned when no key pair is stored for the owner.
	ErrUnknownOwner = errors.New("no key pair for owner")

	// ErrInvalidKey is returned when a remote public key fails import or
	// validation.
	ErrInvalidKey = errors.New("invalid key")

	// ErrDecryptionFailed is returned for every decryption failure. It is
	// deliberately generic: callers must not be able to tell a wrong key from
	// tampered ciphertext.
	ErrDecryptionFailed = errors.New("decryption failed")
)
