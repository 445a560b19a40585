package vault

import (
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/veilworks/cryptocore/engine"
	"github.com/veilworks/cryptocore/storage"
)

// ErrFingerprintMismatch is returned when a contact's claimed fingerprint
// does not match its public key.
var ErrFingerprintMismatch = errors.New("fingerprint does not match public key")

// Profile is the owner's shareable identity record.
type Profile struct {
	OwnerID     string `cbor:"1,keyasint" json:"owner_id"`
	DisplayName string `cbor:"2,keyasint" json:"display_name"`
	PublicKey   []byte `cbor:"3,keyasint" json:"public_key"`
	Fingerprint string `cbor:"4,keyasint" json:"fingerprint"`
	UpdatedAt   int64  `cbor:"5,keyasint" json:"updated_at"`
}

// Contact is a remote party's public key record, verified out of band by
// comparing fingerprints.
type Contact struct {
	ContactID   string `cbor:"1,keyasint" json:"contact_id"`
	PublicKey   []byte `cbor:"2,keyasint" json:"public_key"`
	Fingerprint string `cbor:"3,keyasint" json:"fingerprint"`
	Verified    bool   `cbor:"4,keyasint" json:"verified"`
	AddedAt     int64  `cbor:"5,keyasint" json:"added_at"`
}

// SaveProfile persists the owner's profile, filling in the public key and
// fingerprint from the owner's live key pair. Requires an unlocked vault.
func (v *Vault) SaveProfile(displayName string) (*Profile, error) {
	ownerID, err := v.sessionOwner()
	if err != nil {
		return nil, err
	}

	public, err := v.engine.PublicKey(ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to save profile: %w", err)
	}

	p := &Profile{
		OwnerID:     ownerID,
		DisplayName: displayName,
		PublicKey:   public,
		Fingerprint: engine.Fingerprint(public),
		UpdatedAt:   time.Now().Unix(),
	}

	blob, err := cbor.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode profile: %v", err)
	}
	if err := v.store.SaveProfile(ownerID, blob); err != nil {
		return nil, fmt.Errorf("failed to save profile: %w", err)
	}
	return p, nil
}

// LoadProfile returns the persisted profile for the unlocked owner.
func (v *Vault) LoadProfile() (*Profile, error) {
	ownerID, err := v.sessionOwner()
	if err != nil {
		return nil, err
	}

	blob, err := v.store.LoadProfile(ownerID)
	if err != nil {
		return nil, err
	}
	var p Profile
	if err := cbor.Unmarshal(blob, &p); err != nil {
		return nil, fmt.Errorf("failed to decode profile: %v", err)
	}
	return &p, nil
}

// AddContact stores a contact record after checking that its fingerprint
// matches its public key. Requires an unlocked vault.
func (v *Vault) AddContact(c Contact) error {
	ownerID, err := v.sessionOwner()
	if err != nil {
		return err
	}

	if engine.Fingerprint(c.PublicKey) != c.Fingerprint {
		return ErrFingerprintMismatch
	}
	if c.AddedAt == 0 {
		c.AddedAt = time.Now().Unix()
	}

	blob, err := cbor.Marshal(&c)
	if err != nil {
		return fmt.Errorf("failed to encode contact: %v", err)
	}
	return v.store.SaveContact(ownerID, c.ContactID, blob)
}

// Contact returns a stored contact record.
func (v *Vault) Contact(contactID string) (*Contact, error) {
	ownerID, err := v.sessionOwner()
	if err != nil {
		return nil, err
	}

	blob, err := v.store.LoadContact(ownerID, contactID)
	if err != nil {
		return nil, err
	}
	var c Contact
	if err := cbor.Unmarshal(blob, &c); err != nil {
		return nil, fmt.Errorf("failed to decode contact: %v", err)
	}
	return &c, nil
}

// Contacts returns all stored contacts for the unlocked owner.
func (v *Vault) Contacts() ([]Contact, error) {
	ownerID, err := v.sessionOwner()
	if err != nil {
		return nil, err
	}

	blobs, err := v.store.ListContacts(ownerID)
	if err != nil {
		return nil, err
	}

	out := make([]Contact, 0, len(blobs))
	for id, blob := range blobs {
		var c Contact
		if err := cbor.Unmarshal(blob, &c); err != nil {
			return nil, fmt.Errorf("failed to decode contact %s: %v", id, err)
		}
		out = append(out, c)
	}
	return out, nil
}

// RemoveContact deletes a contact record.
func (v *Vault) RemoveContact(contactID string) error {
	ownerID, err := v.sessionOwner()
	if err != nil {
		return err
	}
	return v.store.DeleteContact(ownerID, contactID)
}

// VerifyContact marks a contact verified if the supplied out-of-band
// fingerprint matches the stored one. Returns the verification outcome.
func (v *Vault) VerifyContact(contactID, fingerprint string) (bool, error) {
	c, err := v.Contact(contactID)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if c.Fingerprint != fingerprint {
		return false, nil
	}
	if !c.Verified {
		c.Verified = true
		if err := v.AddContact(*c); err != nil {
			return false, err
		}
	}
	return true, nil
}
