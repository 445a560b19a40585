package vault

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/veilworks/cryptocore/engine"
)

// SavePayload encrypts the vault payload with the session key and persists
// the envelope. Plaintext never reaches the store.
func (v *Vault) SavePayload(data []byte) error {
	key, ownerID, err := v.sessionKeyCopy()
	if err != nil {
		return err
	}
	defer key.Zero()

	env, err := engine.Encrypt(data, key)
	if err != nil {
		return fmt.Errorf("failed to encrypt payload: %w", err)
	}
	blob, err := cbor.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to encode payload envelope: %v", err)
	}
	return v.store.SaveVaultPayload(ownerID, blob)
}

// LoadPayload fetches and decrypts the vault payload with the session key.
func (v *Vault) LoadPayload() ([]byte, error) {
	key, ownerID, err := v.sessionKeyCopy()
	if err != nil {
		return nil, err
	}
	defer key.Zero()

	blob, err := v.store.LoadVaultPayload(ownerID)
	if err != nil {
		return nil, err
	}
	var env engine.Envelope
	if err := cbor.Unmarshal(blob, &env); err != nil {
		return nil, engine.ErrDecryptionFailed
	}
	return engine.Decrypt(&env, key)
}
