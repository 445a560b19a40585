// Package policy provides the abuse-resistance layer consumed by the unlock
// flows: a per-action sliding-window rate limiter and an idle-session timeout
// monitor.
package policy

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/veilworks/cryptocore/metrics"
)

const (
	// DefaultMaxAttempts is the attempt budget inside one window.
	DefaultMaxAttempts = 5

	// DefaultWindow is both the counting window and the block duration. A
	// blocked actor waits a full window before any further attempt is even
	// counted, so the block cannot be nibbled away attempt-by-attempt.
	DefaultWindow = 5 * time.Minute

	// staleAfter is how long an idle record survives before the cleanup
	// goroutine drops it.
	staleAfter = 10 * time.Minute
)

// ErrRateLimited is the sentinel for rate-limit denials.
var ErrRateLimited = errors.New("rate limit exceeded")

// RateLimitError carries the retry-after hint for a denied attempt.
type RateLimitError struct {
	Action     string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s, retry in %s", e.Action, e.RetryAfter.Round(time.Second))
}

// Is implements errors.Is for sentinel matching.
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// Decision is the outcome of a rate-limit check. RetryAfter is set only on
// denial; AttemptsLeft only on approval.
type Decision struct {
	Allowed      bool
	RetryAfter   time.Duration
	AttemptsLeft int
}

type record struct {
	attempts     []time.Time
	blockedUntil time.Time
	lastSeen     time.Time
}

// RateLimiter keeps independent sliding-window counters per action
// identifier.
type RateLimiter struct {
	mu          sync.Mutex
	records     map[string]*record
	maxAttempts int
	window      time.Duration

	stopOnce sync.Once
	stop     chan struct{}
}

// NewRateLimiter creates a limiter. Zero values select the defaults.
func NewRateLimiter(maxAttempts int, window time.Duration) *RateLimiter {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if window <= 0 {
		window = DefaultWindow
	}
	rl := &RateLimiter{
		records:     make(map[string]*record),
		maxAttempts: maxAttempts,
		window:      window,
		stop:        make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

// Check records one attempt for id and decides whether it is allowed. Denials
// report how long the caller must wait; approvals report the remaining budget.
func (rl *RateLimiter) Check(id string) Decision {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	rec, ok := rl.records[id]
	if !ok {
		rec = &record{}
		rl.records[id] = rec
	}
	rec.lastSeen = now

	// Inside an active block: deny without counting.
	if now.Before(rec.blockedUntil) {
		metrics.RateLimitDenials.WithLabelValues(id).Inc()
		return Decision{RetryAfter: rec.blockedUntil.Sub(now)}
	}

	// Slide the window.
	cutoff := now.Add(-rl.window)
	kept := rec.attempts[:0]
	for _, at := range rec.attempts {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	rec.attempts = kept

	if len(rec.attempts) >= rl.maxAttempts {
		rec.blockedUntil = now.Add(rl.window)
		metrics.RateLimitDenials.WithLabelValues(id).Inc()
		log.Warn().
			Str("action", id).
			Int("attempts", len(rec.attempts)).
			Dur("blocked_for", rl.window).
			Msg("Rate limit exceeded")
		return Decision{RetryAfter: rl.window}
	}

	rec.attempts = append(rec.attempts, now)
	return Decision{
		Allowed:      true,
		AttemptsLeft: rl.maxAttempts - len(rec.attempts),
	}
}

// Allow is a convenience wrapper returning a RateLimitError on denial.
func (rl *RateLimiter) Allow(id string) error {
	if d := rl.Check(id); !d.Allowed {
		return &RateLimitError{Action: id, RetryAfter: d.RetryAfter}
	}
	return nil
}

// Reset clears all history and any active block for id. Called on successful
// authentication.
func (rl *RateLimiter) Reset(id string) {
	rl.mu.Lock()
	delete(rl.records, id)
	rl.mu.Unlock()
}

// Close stops the background cleanup goroutine.
func (rl *RateLimiter) Close() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

// cleanupLoop drops records that have been idle past any possible block, so
// one-off action identifiers do not accumulate forever.
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.window)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case now := <-ticker.C:
			rl.mu.Lock()
			for id, rec := range rl.records {
				if now.Sub(rec.lastSeen) > staleAfter && now.After(rec.blockedUntil) {
					delete(rl.records, id)
				}
			}
			rl.mu.Unlock()
		}
	}
}
