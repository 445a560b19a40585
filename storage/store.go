// Package storage is the persistent key-value collaborator consumed by the
// vault layer. Values are opaque serialized blobs; every value is encrypted
// at rest with a 32-byte DEK using XChaCha20-Poly1305 before it touches
// SQLite.
package storage

import (
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/chacha20poly1305"
	_ "modernc.org/sqlite"
)

// ErrKeyNotFound is returned when a requested record does not exist.
var ErrKeyNotFound = errors.New("key not found")

// readCacheCapacity bounds the LRU read cache in front of the database.
const readCacheCapacity = 256

// Store is an encrypted SQLite-backed record store. All methods are safe
// for concurrent use.
type Store struct {
	db    *sql.DB
	dek   []byte
	path  string
	cache *ReadCache

	// writeCounter increments on every mutation; backups embed it so a
	// restore of an older snapshot is detectable.
	writeCounter int64

	mu sync.RWMutex
}

// Open creates or opens an encrypted store at path. Use ":memory:" for an
// ephemeral store. The DEK must be exactly 32 bytes.
func Open(path string, dek []byte) (*Store, error) {
	if len(dek) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("DEK must be %d bytes", chacha20poly1305.KeySize)
	}
	if path == "" {
		path = ":memory:"
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite: %w", err)
	}

	// A single connection keeps ":memory:" databases coherent: each new
	// pool connection would otherwise see a fresh empty database.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	s := &Store{
		db:    db,
		dek:   dek,
		path:  path,
		cache: NewReadCache(readCacheCapacity),
	}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	log.Debug().Str("path", path).Msg("Store opened")
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	-- User profile records, one per owner. Values are opaque encrypted
	-- blobs serialized by the caller.
	CREATE TABLE IF NOT EXISTS profiles (
		owner_id   TEXT PRIMARY KEY,
		record     BLOB NOT NULL,
		updated_at INTEGER NOT NULL
	);

	-- Contact public-key records per owner.
	CREATE TABLE IF NOT EXISTS contacts (
		owner_id   TEXT NOT NULL,
		contact_id TEXT NOT NULL,
		record     BLOB NOT NULL,
		added_at   INTEGER NOT NULL,
		PRIMARY KEY (owner_id, contact_id)
	);
	CREATE INDEX IF NOT EXISTS idx_contacts_owner ON contacts(owner_id, added_at);

	-- Vault metadata (salt + commitment) per owner.
	CREATE TABLE IF NOT EXISTS vault_meta (
		owner_id   TEXT PRIMARY KEY,
		record     BLOB NOT NULL,
		updated_at INTEGER NOT NULL
	);

	-- Encrypted vault payloads per owner.
	CREATE TABLE IF NOT EXISTS vault_blobs (
		owner_id   TEXT PRIMARY KEY,
		payload    BLOB NOT NULL,
		updated_at INTEGER NOT NULL
	);

	-- Generic key-value surface for everything else.
	CREATE TABLE IF NOT EXISTS kv (
		key        TEXT PRIMARY KEY,
		value      BLOB NOT NULL,
		updated_at INTEGER NOT NULL
	);

	-- Store-level metadata.
	CREATE TABLE IF NOT EXISTS _metadata (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	if _, err := s.db.Exec(`
		INSERT OR IGNORE INTO _metadata (key, value, updated_at)
		VALUES ('write_counter', '0', ?)
	`, time.Now().Unix()); err != nil {
		return fmt.Errorf("failed to initialize metadata: %w", err)
	}

	var counterStr string
	if err := s.db.QueryRow(`SELECT value FROM _metadata WHERE key = 'write_counter'`).Scan(&counterStr); err != nil {
		return fmt.Errorf("failed to load write counter: %w", err)
	}
	fmt.Sscanf(counterStr, "%d", &s.writeCounter)

	return nil
}

// SaveProfile stores the opaque profile record for an owner, replacing any
// previous one.
func (s *Store) SaveProfile(ownerID string, record []byte) error {
	return s.upsert("profiles", "owner_id", ownerID, "record", record)
}

// LoadProfile returns the opaque profile record for an owner.
func (s *Store) LoadProfile(ownerID string) ([]byte, error) {
	return s.fetch("profiles", "owner_id", ownerID, "record")
}

// SaveContact stores a contact record under (ownerID, contactID).
func (s *Store) SaveContact(ownerID, contactID string, record []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	enc, err := s.encrypt(record)
	if err != nil {
		return fmt.Errorf("failed to encrypt record: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO contacts (owner_id, contact_id, record, added_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(owner_id, contact_id) DO UPDATE SET
			record = excluded.record
	`, ownerID, contactID, enc, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to store contact: %w", err)
	}

	s.cache.Delete(cacheKey("contacts", ownerID, contactID))
	s.bumpWriteCounter()
	return nil
}

// LoadContact returns the record stored under (ownerID, contactID).
func (s *Store) LoadContact(ownerID, contactID string) ([]byte, error) {
	ck := cacheKey("contacts", ownerID, contactID)
	if v, ok := s.cache.Get(ck); ok {
		return v, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var enc []byte
	err := s.db.QueryRow(`
		SELECT record FROM contacts WHERE owner_id = ? AND contact_id = ?
	`, ownerID, contactID).Scan(&enc)
	if err == sql.ErrNoRows {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get contact: %w", err)
	}

	record, err := s.decrypt(enc)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt record: %w", err)
	}
	s.cache.Put(ck, record)
	return record, nil
}

// ListContacts returns all contact records for an owner, oldest first,
// keyed by contact identifier.
func (s *Store) ListContacts(ownerID string) (map[string][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT contact_id, record FROM contacts
		WHERE owner_id = ?
		ORDER BY added_at ASC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list contacts: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]byte)
	for rows.Next() {
		var id string
		var enc []byte
		if err := rows.Scan(&id, &enc); err != nil {
			return nil, fmt.Errorf("failed to scan contact: %w", err)
		}
		record, err := s.decrypt(enc)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt record: %w", err)
		}
		out[id] = record
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating contacts: %w", err)
	}
	return out, nil
}

// DeleteContact removes a contact record.
func (s *Store) DeleteContact(ownerID, contactID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		DELETE FROM contacts WHERE owner_id = ? AND contact_id = ?
	`, ownerID, contactID)
	if err != nil {
		return fmt.Errorf("failed to delete contact: %w", err)
	}

	s.cache.Delete(cacheKey("contacts", ownerID, contactID))
	s.bumpWriteCounter()
	return nil
}

// SaveVaultMeta stores the opaque vault metadata record for an owner.
func (s *Store) SaveVaultMeta(ownerID string, record []byte) error {
	return s.upsert("vault_meta", "owner_id", ownerID, "record", record)
}

// LoadVaultMeta returns the opaque vault metadata record for an owner.
func (s *Store) LoadVaultMeta(ownerID string) ([]byte, error) {
	return s.fetch("vault_meta", "owner_id", ownerID, "record")
}

// SaveVaultPayload stores the encrypted vault payload for an owner.
func (s *Store) SaveVaultPayload(ownerID string, payload []byte) error {
	return s.upsert("vault_blobs", "owner_id", ownerID, "payload", payload)
}

// LoadVaultPayload returns the encrypted vault payload for an owner.
func (s *Store) LoadVaultPayload(ownerID string) ([]byte, error) {
	return s.fetch("vault_blobs", "owner_id", ownerID, "payload")
}

// DeleteVaultPayload removes the vault payload for an owner.
func (s *Store) DeleteVaultPayload(ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`DELETE FROM vault_blobs WHERE owner_id = ?`, ownerID); err != nil {
		return fmt.Errorf("failed to delete vault payload: %w", err)
	}
	s.cache.Delete(cacheKey("vault_blobs", ownerID))
	s.bumpWriteCounter()
	return nil
}

// Get retrieves a value from the generic key-value surface.
func (s *Store) Get(key string) ([]byte, error) {
	return s.fetch("kv", "key", key, "value")
}

// Put stores a value on the generic key-value surface.
func (s *Store) Put(key string, value []byte) error {
	return s.upsert("kv", "key", key, "value", value)
}

// Delete removes a value from the generic key-value surface.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}
	s.cache.Delete(cacheKey("kv", key))
	s.bumpWriteCounter()
	return nil
}

// WriteCounter returns the monotonic mutation counter.
func (s *Store) WriteCounter() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writeCounter
}

// Close closes the underlying database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Clear()
	return s.db.Close()
}

// upsert encrypts value and writes it under the single-column primary key
// of the given table.
func (s *Store) upsert(table, keyCol, key, valCol string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	enc, err := s.encrypt(value)
	if err != nil {
		return fmt.Errorf("failed to encrypt record: %w", err)
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (%s, %s, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(%s) DO UPDATE SET
			%s = excluded.%s,
			updated_at = excluded.updated_at
	`, table, keyCol, valCol, keyCol, valCol, valCol)
	if _, err := s.db.Exec(query, key, enc, time.Now().Unix()); err != nil {
		return fmt.Errorf("failed to store %s record: %w", table, err)
	}

	s.cache.Delete(cacheKey(table, key))
	s.bumpWriteCounter()
	return nil
}

// fetch reads and decrypts a value by single-column primary key, consulting
// the read cache first.
func (s *Store) fetch(table, keyCol, key, valCol string) ([]byte, error) {
	ck := cacheKey(table, key)
	if v, ok := s.cache.Get(ck); ok {
		return v, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var enc []byte
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s = ?`, valCol, table, keyCol)
	err := s.db.QueryRow(query, key).Scan(&enc)
	if err == sql.ErrNoRows {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s record: %w", table, err)
	}

	value, err := s.decrypt(enc)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt record: %w", err)
	}
	s.cache.Put(ck, value)
	return value, nil
}

// encrypt seals plaintext with the DEK, prefixing the random nonce.
func (s *Store) encrypt(plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.dek)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// decrypt opens a nonce-prefixed ciphertext with the DEK.
func (s *Store) decrypt(ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.dek)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < aead.NonceSize() {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, body := ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():]
	return aead.Open(nil, nonce, body, nil)
}

func (s *Store) bumpWriteCounter() {
	s.writeCounter++
	_, err := s.db.Exec(`
		UPDATE _metadata SET value = ?, updated_at = ?
		WHERE key = 'write_counter'
	`, fmt.Sprintf("%d", s.writeCounter), time.Now().Unix())
	if err != nil {
		// The record write already committed; until the next successful
		// mutation the durable counter lags the in-memory one.
		log.Error().Err(err).Int64("write_counter", s.writeCounter).
			Msg("Failed to persist write counter")
	}
}

func cacheKey(parts ...string) string {
	out := parts[0]
	for _, p := range parts[1:] {
		out += "\x00" + p
	}
	return out
}
