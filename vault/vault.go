// Package vault ties the crypto core together into the unlock/lock flow: a
// rate-limited, session-guarded façade over the encryption engine, key
// cache, worker pool, policy layer, and persistent store.
package vault

import (
	"context"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/rs/zerolog/log"

	"github.com/veilworks/cryptocore/dispatch"
	"github.com/veilworks/cryptocore/engine"
	"github.com/veilworks/cryptocore/keycache"
	"github.com/veilworks/cryptocore/policy"
	"github.com/veilworks/cryptocore/proof"
	"github.com/veilworks/cryptocore/storage"
)

var (
	// ErrVaultLocked is returned by operations that need an unlocked vault.
	ErrVaultLocked = errors.New("vault is locked")

	// ErrNotRegistered is returned when no vault metadata exists for the
	// owner.
	ErrNotRegistered = errors.New("vault not registered")

	// ErrUnlockFailed is the generic unlock failure. It never distinguishes
	// a wrong password from tampered metadata.
	ErrUnlockFailed = errors.New("unlock failed")
)

// metaRecord is the vault metadata persisted per owner: the PBKDF2 salt and
// the hex commitment the unlock check compares against.
type metaRecord struct {
	Salt       []byte `cbor:"1,keyasint"`
	Commitment string `cbor:"2,keyasint"`
	Iterations int    `cbor:"3,keyasint"`
	CreatedAt  int64  `cbor:"4,keyasint"`
}

// Options configures a Vault. Zero values select component defaults.
type Options struct {
	Iterations     int
	PoolSize       int
	PoolTimeout    time.Duration
	CacheTTL       time.Duration
	MaxAttempts    int
	RateWindow     time.Duration
	SessionTimeout time.Duration
	WarningLead    time.Duration

	// OnTimeout runs after the session idle timeout has locked the vault.
	// OnWarning runs at the warning lead before that deadline.
	OnTimeout func()
	OnWarning func()
}

// Vault owns one unlocked session at a time. All methods are safe for
// concurrent use.
type Vault struct {
	engine  *engine.Engine
	cache   *keycache.Cache
	pool    *dispatch.Pool
	limiter *policy.RateLimiter
	session *policy.SessionMonitor
	proofs  *proof.Engine
	store   *storage.Store

	iterations int
	onTimeout  func()
	onWarning  func()

	mu         sync.Mutex
	ownerID    string
	sessionKey engine.SharedKey
	unlocked   bool
}

// New assembles a vault over the given store.
func New(store *storage.Store, opts Options) *Vault {
	if opts.Iterations <= 0 {
		opts.Iterations = engine.DefaultIterations
	}
	if opts.PoolSize <= 0 {
		opts.PoolSize = 2
	}
	return &Vault{
		engine:     engine.New(),
		cache:      keycache.New(opts.CacheTTL),
		pool:       dispatch.New(opts.PoolSize, dispatch.WithTimeout(opts.PoolTimeout)),
		limiter:    policy.NewRateLimiter(opts.MaxAttempts, opts.RateWindow),
		session:    policy.NewSessionMonitor(opts.SessionTimeout, opts.WarningLead),
		proofs:     proof.NewEngine(),
		store:      store,
		iterations: opts.Iterations,
		onTimeout:  opts.OnTimeout,
		onWarning:  opts.OnWarning,
	}
}

// Engine exposes the underlying encryption engine for direct AEAD and
// signing work.
func (v *Vault) Engine() *engine.Engine { return v.engine }

// Proofs exposes the commitment engine.
func (v *Vault) Proofs() *proof.Engine { return v.proofs }

// Register creates vault metadata for an owner: a fresh salt and a PBKDF2
// commitment over the master password. Re-registering overwrites the prior
// metadata, and a fresh key pair is generated for the owner.
func (v *Vault) Register(ctx context.Context, ownerID, masterPassword string) error {
	salt, err := engine.GenerateSalt()
	if err != nil {
		return fmt.Errorf("failed to register vault: %v", err)
	}

	key, err := v.deriveKey(ctx, masterPassword, salt)
	if err != nil {
		return fmt.Errorf("failed to register vault: %w", err)
	}
	commitment := hex.EncodeToString(key)

	meta := metaRecord{
		Salt:       salt,
		Commitment: commitment,
		Iterations: v.iterations,
		CreatedAt:  time.Now().Unix(),
	}
	blob, err := cbor.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to encode vault metadata: %v", err)
	}
	if err := v.store.SaveVaultMeta(ownerID, blob); err != nil {
		return fmt.Errorf("failed to register vault: %w", err)
	}

	if _, err := v.engine.GenerateKeyPair(ownerID); err != nil {
		return fmt.Errorf("failed to register vault: %w", err)
	}

	log.Info().Str("owner_id", ownerID).Msg("Vault registered")
	return nil
}

// Unlock runs the full unlock flow: rate-limit check, key derivation
// (cached, offloaded to the pool on a miss), constant-time commitment
// verification, then limiter reset and session start. The derived key
// becomes the session key until Lock.
func (v *Vault) Unlock(ctx context.Context, ownerID, password string) error {
	if err := v.limiter.Allow("unlock:" + ownerID); err != nil {
		return err
	}

	blob, err := v.store.LoadVaultMeta(ownerID)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return ErrNotRegistered
	}
	if err != nil {
		return fmt.Errorf("failed to load vault metadata: %w", err)
	}

	var meta metaRecord
	if err := cbor.Unmarshal(blob, &meta); err != nil {
		return ErrUnlockFailed
	}

	key, err := v.deriveKeyWithIterations(ctx, password, meta.Salt, meta.Iterations)
	if err != nil {
		return fmt.Errorf("failed to derive key: %w", err)
	}

	derived := hex.EncodeToString(key)
	if subtle.ConstantTimeCompare([]byte(derived), []byte(meta.Commitment)) != 1 {
		key.Zero()
		log.Warn().Str("owner_id", ownerID).Msg("Unlock rejected")
		return ErrUnlockFailed
	}

	v.limiter.Reset("unlock:" + ownerID)

	v.mu.Lock()
	if v.unlocked {
		v.sessionKey.Zero()
	}
	v.ownerID = ownerID
	v.sessionKey = key
	v.unlocked = true
	v.mu.Unlock()

	v.session.Start(v.handleTimeout, v.onWarning)

	log.Info().Str("owner_id", ownerID).Msg("Vault unlocked")
	return nil
}

// Lock clears the key cache, zeroes the session key, and stops the session
// monitor. Idempotent.
func (v *Vault) Lock() {
	v.session.Stop()
	v.lockState()
	log.Info().Msg("Vault locked")
}

func (v *Vault) lockState() {
	v.cache.Clear()

	v.mu.Lock()
	if v.unlocked {
		v.sessionKey.Zero()
		v.sessionKey = nil
		v.unlocked = false
		v.ownerID = ""
	}
	v.mu.Unlock()
}

// handleTimeout runs when the session idles out. The monitor has already
// stopped itself, so only the state teardown remains.
func (v *Vault) handleTimeout() {
	v.lockState()
	log.Info().Msg("Vault locked by session timeout")
	if v.onTimeout != nil {
		v.onTimeout()
	}
}

// Unlocked reports whether a session is active, and for whom.
func (v *Vault) Unlocked() (string, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.ownerID, v.unlocked
}

// Activity feeds a user-activity signal to the session monitor.
func (v *Vault) Activity(sig policy.Signal) {
	v.session.Activity(sig)
}

// DeriveKey is the cached derivation front: a cache hit returns
// immediately, a miss offloads PBKDF2 to the worker pool.
func (v *Vault) DeriveKey(ctx context.Context, password string, salt []byte) (engine.SharedKey, error) {
	return v.deriveKey(ctx, password, salt)
}

func (v *Vault) deriveKey(ctx context.Context, password string, salt []byte) (engine.SharedKey, error) {
	return v.deriveKeyWithIterations(ctx, password, salt, v.iterations)
}

func (v *Vault) deriveKeyWithIterations(ctx context.Context, password string, salt []byte, iterations int) (engine.SharedKey, error) {
	if key, ok := v.cache.Get(password, salt, iterations); ok {
		return key, nil
	}

	res, err := v.pool.Execute(ctx, dispatch.OpDeriveKey, func() (any, error) {
		return engine.DeriveKeyFromPassword(password, salt, iterations), nil
	})
	if err != nil {
		return nil, err
	}
	key := res.(engine.SharedKey)

	v.cache.Set(password, salt, iterations, key)
	return key, nil
}

// ClearCache drops all cached derived keys.
func (v *Vault) ClearCache() {
	v.cache.Clear()
}

// sessionKeyCopy returns a copy of the session key or ErrVaultLocked. The
// copy stays valid even if a session-timeout lock zeroes the live key while
// the caller is still encrypting with it. Callers zero the copy when done.
func (v *Vault) sessionKeyCopy() (engine.SharedKey, string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.unlocked {
		return nil, "", ErrVaultLocked
	}
	key := make(engine.SharedKey, len(v.sessionKey))
	copy(key, v.sessionKey)
	return key, v.ownerID, nil
}

// sessionOwner returns the unlocked owner or ErrVaultLocked, without
// touching the session key.
func (v *Vault) sessionOwner() (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.unlocked {
		return "", ErrVaultLocked
	}
	return v.ownerID, nil
}

// Close locks the vault and shuts down all background components.
func (v *Vault) Close() {
	v.Lock()
	v.pool.Terminate()
	v.cache.Close()
	v.limiter.Close()
	v.proofs.Close()
}
