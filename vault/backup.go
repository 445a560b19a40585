package vault

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/veilworks/cryptocore/storage"
)

const backupVersion = 1

var (
	// ErrBackupFormat is returned for malformed or wrong-version backups.
	ErrBackupFormat = errors.New("invalid backup format")

	// ErrBackupIntegrity is returned when the backup HMAC does not verify.
	ErrBackupIntegrity = errors.New("backup integrity check failed")

	// ErrBackupRollback is returned when a backup is older than the current
	// store state.
	ErrBackupRollback = errors.New("backup is older than current state")
)

// Backup is the export package handed to the file/blob collaborator. The
// payload stays encrypted exactly as stored; the HMAC is keyed with the
// session key so only the owner can produce or verify it.
type Backup struct {
	Version      int    `json:"version"`
	OwnerID      string `json:"owner_id"`
	WriteCounter int64  `json:"write_counter"`
	Meta         []byte `json:"meta"`
	Payload      []byte `json:"payload"`
	HMAC         []byte `json:"hmac"`
	CreatedAt    int64  `json:"created_at"`
}

// ExportBackup packages the owner's vault metadata and encrypted payload
// with an integrity HMAC. Requires an unlocked vault.
func (v *Vault) ExportBackup() (*Backup, error) {
	key, ownerID, err := v.sessionKeyCopy()
	if err != nil {
		return nil, err
	}
	defer key.Zero()

	meta, err := v.store.LoadVaultMeta(ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to export backup: %w", err)
	}
	payload, err := v.store.LoadVaultPayload(ownerID)
	if errors.Is(err, storage.ErrKeyNotFound) {
		payload = nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to export backup: %w", err)
	}

	b := &Backup{
		Version:      backupVersion,
		OwnerID:      ownerID,
		WriteCounter: v.store.WriteCounter(),
		Meta:         meta,
		Payload:      payload,
		CreatedAt:    time.Now().Unix(),
	}
	b.HMAC = backupHMAC(key, b)

	log.Info().Str("owner_id", ownerID).Int64("write_counter", b.WriteCounter).Msg("Backup exported")
	return b, nil
}

// ExportBackupJSON returns the backup serialized for the export surface.
func (v *Vault) ExportBackupJSON() ([]byte, error) {
	b, err := v.ExportBackup()
	if err != nil {
		return nil, err
	}
	return json.Marshal(b)
}

// ImportBackup verifies a backup's HMAC and rollback counter, then restores
// the vault metadata and payload. Requires an unlocked vault whose session
// key matches the one the backup was exported under.
func (v *Vault) ImportBackup(b *Backup) error {
	key, ownerID, err := v.sessionKeyCopy()
	if err != nil {
		return err
	}
	defer key.Zero()

	if b == nil || b.Version != backupVersion || len(b.Meta) == 0 {
		return ErrBackupFormat
	}
	if b.OwnerID != ownerID {
		return ErrBackupFormat
	}

	if !hmac.Equal(b.HMAC, backupHMAC(key, b)) {
		return ErrBackupIntegrity
	}

	// A backup from before the current state would silently roll back
	// later writes.
	if b.WriteCounter < v.store.WriteCounter() {
		return ErrBackupRollback
	}

	if err := v.store.SaveVaultMeta(ownerID, b.Meta); err != nil {
		return fmt.Errorf("failed to import backup: %w", err)
	}
	if len(b.Payload) > 0 {
		if err := v.store.SaveVaultPayload(ownerID, b.Payload); err != nil {
			return fmt.Errorf("failed to import backup: %w", err)
		}
	}

	log.Info().Str("owner_id", ownerID).Msg("Backup imported")
	return nil
}

// ImportBackupJSON parses and imports a serialized backup.
func (v *Vault) ImportBackupJSON(data []byte) error {
	var b Backup
	if err := json.Unmarshal(data, &b); err != nil {
		return ErrBackupFormat
	}
	return v.ImportBackup(&b)
}

// backupHMAC computes the integrity tag over everything except the HMAC
// field itself.
func backupHMAC(key []byte, b *Backup) []byte {
	h := hmac.New(sha256.New, key)
	fmt.Fprintf(h, "%d\x00%s\x00%d\x00%d\x00", b.Version, b.OwnerID, b.WriteCounter, b.CreatedAt)
	h.Write(b.Meta)
	h.Write([]byte{0})
	h.Write(b.Payload)
	return h.Sum(nil)
}
