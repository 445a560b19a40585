// Package proof implements hash-commitment challenge-response proofs for
// passwords, age thresholds, generic attributes, and vault access.
//
// SECURITY: the schemes here are simplified authentication primitives built
// on hash commitments, not a sound zero-knowledge proof system. Verifiers
// receive the blinding salt alongside the commitment, and vault-access
// verification is a re-derivation equality check with the password present
// in-process. Callers needing real soundness need a Sigma-protocol layer on
// top.
package proof

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// ChallengeTTL is the validity window for password and vault-access
	// challenges.
	ChallengeTTL = 5 * time.Minute

	// AgeProofTTL is the longer validity window for age proofs.
	AgeProofTTL = time.Hour

	// SweepInterval is how often expired challenges are swept.
	SweepInterval = time.Minute

	challengeSize = 32
)

var (
	ErrChallengeNotFound = errors.New("challenge not found")
	ErrChallengeExpired  = errors.New("challenge expired")
)

// Challenge is a verifier-issued random nonce. A challenge is consumed at
// most once: verification marks it and a second use fails.
type Challenge struct {
	ID        string    `json:"id"`
	Nonce     []byte    `json:"nonce"`
	CreatedAt time.Time `json:"created_at"`
}

type challengeState struct {
	nonce     []byte
	createdAt time.Time
	verified  bool
}

// Engine issues challenges and creates/verifies proofs against them. All
// methods are safe for concurrent use.
type Engine struct {
	mu         sync.Mutex
	challenges map[string]*challengeState
	verified   map[string]time.Time

	stopOnce sync.Once
	stop     chan struct{}
}

// NewEngine creates a proof engine and starts its challenge sweeper.
func NewEngine() *Engine {
	e := &Engine{
		challenges: make(map[string]*challengeState),
		verified:   make(map[string]time.Time),
		stop:       make(chan struct{}),
	}
	go e.sweepLoop()
	return e
}

// GenerateChallenge draws a fresh random nonce and stores it keyed by its
// hex encoding.
func (e *Engine) GenerateChallenge() (*Challenge, error) {
	nonce := make([]byte, challengeSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate challenge: %v", err)
	}

	id := hex.EncodeToString(nonce)
	now := time.Now()

	e.mu.Lock()
	e.challenges[id] = &challengeState{nonce: nonce, createdAt: now}
	e.mu.Unlock()

	return &Challenge{ID: id, Nonce: nonce, CreatedAt: now}, nil
}

// consumeChallenge looks up an unverified challenge and marks it used.
// Expired or already-verified challenges are evicted on lookup.
func (e *Engine) consumeChallenge(id string) (*challengeState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.challenges[id]
	if !ok {
		return nil, ErrChallengeNotFound
	}
	if st.verified {
		delete(e.challenges, id)
		return nil, ErrChallengeNotFound
	}
	if time.Since(st.createdAt) > ChallengeTTL {
		delete(e.challenges, id)
		return nil, ErrChallengeExpired
	}

	st.verified = true
	return st, nil
}

// ClearExpiredChallenges removes all challenges past their validity window
// and returns how many were dropped.
func (e *Engine) ClearExpiredChallenges() int {
	now := time.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	removed := 0
	for id, st := range e.challenges {
		if now.Sub(st.createdAt) > ChallengeTTL || st.verified {
			delete(e.challenges, id)
			removed++
		}
	}
	for id, at := range e.verified {
		if now.Sub(at) > ChallengeTTL {
			delete(e.verified, id)
		}
	}

	if removed > 0 {
		log.Debug().Int("removed", removed).Msg("Swept expired challenges")
	}
	return removed
}

// Close stops the background sweeper.
func (e *Engine) Close() {
	e.stopOnce.Do(func() { close(e.stop) })
}

func (e *Engine) sweepLoop() {
	ticker := time.NewTicker(SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
			e.ClearExpiredChallenges()
		}
	}
}
