package policy

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/veilworks/cryptocore/metrics"
)

const (
	// DefaultSessionTimeout is the idle window before the session ends.
	DefaultSessionTimeout = 15 * time.Minute

	// DefaultWarningLead is how far before the deadline the warning fires.
	DefaultWarningLead = time.Minute
)

// Signal is a user-activity event type. Only signals from the fixed set below
// reset the idle timers; anything else is ignored.
type Signal string

const (
	SignalPointer    Signal = "pointer"
	SignalKeyboard   Signal = "keyboard"
	SignalScroll     Signal = "scroll"
	SignalTouch      Signal = "touch"
	SignalNavigation Signal = "navigation"
)

var activitySignals = map[Signal]bool{
	SignalPointer:    true,
	SignalKeyboard:   true,
	SignalScroll:     true,
	SignalTouch:      true,
	SignalNavigation: true,
}

// SessionMonitor is a single global idle timer. Any recognized activity
// signal reschedules both the warning and the timeout from "now". When the
// timeout fires the monitor stops itself; it never auto-restarts.
type SessionMonitor struct {
	mu          sync.Mutex
	active      bool
	timeout     time.Duration
	warningLead time.Duration

	// generation invalidates in-flight timer callbacks: a reset bumps it
	// before rescheduling, so a firing that lost the race is discarded.
	generation uint64

	timeoutTimer *time.Timer
	warningTimer *time.Timer

	onTimeout func()
	onWarning func()
}

// NewSessionMonitor creates an inactive monitor. Zero durations select the
// defaults.
func NewSessionMonitor(timeout, warningLead time.Duration) *SessionMonitor {
	if timeout <= 0 {
		timeout = DefaultSessionTimeout
	}
	if warningLead <= 0 {
		warningLead = DefaultWarningLead
	}
	// The warning must fire strictly before the deadline, never at Start.
	if warningLead >= timeout {
		warningLead = timeout / 2
	}
	return &SessionMonitor{timeout: timeout, warningLead: warningLead}
}

// Start begins monitoring. onTimeout is required; onWarning may be nil.
// Starting an already-active monitor just resets its timers.
func (m *SessionMonitor) Start(onTimeout func(), onWarning func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.onTimeout = onTimeout
	m.onWarning = onWarning
	m.active = true
	m.rescheduleLocked()

	log.Debug().Dur("timeout", m.timeout).Msg("Session monitor started")
}

// Activity feeds a user-activity signal into the monitor. Recognized signals
// postpone the deadline by a full timeout from now; unknown signals and
// signals on an inactive monitor are ignored.
func (m *SessionMonitor) Activity(sig Signal) {
	if !activitySignals[sig] {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.active {
		return
	}
	m.rescheduleLocked()
}

// Stop cancels both timers and stops monitoring. Idempotent.
func (m *SessionMonitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
}

// Active reports whether the monitor is currently running.
func (m *SessionMonitor) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// rescheduleLocked cancels and re-arms both timers from "now". Bumping the
// generation first guarantees a reset always wins over an in-flight firing
// that has not yet executed its callback.
func (m *SessionMonitor) rescheduleLocked() {
	m.generation++
	gen := m.generation

	if m.timeoutTimer != nil {
		m.timeoutTimer.Stop()
	}
	if m.warningTimer != nil {
		m.warningTimer.Stop()
	}

	m.warningTimer = time.AfterFunc(m.timeout-m.warningLead, func() { m.fireWarning(gen) })
	m.timeoutTimer = time.AfterFunc(m.timeout, func() { m.fireTimeout(gen) })
}

func (m *SessionMonitor) stopLocked() {
	if !m.active {
		return
	}
	m.active = false
	m.generation++
	if m.timeoutTimer != nil {
		m.timeoutTimer.Stop()
		m.timeoutTimer = nil
	}
	if m.warningTimer != nil {
		m.warningTimer.Stop()
		m.warningTimer = nil
	}
}

func (m *SessionMonitor) fireWarning(gen uint64) {
	m.mu.Lock()
	if !m.active || gen != m.generation {
		m.mu.Unlock()
		return
	}
	cb := m.onWarning
	m.mu.Unlock()

	if cb != nil {
		cb()
	}
}

func (m *SessionMonitor) fireTimeout(gen uint64) {
	m.mu.Lock()
	if !m.active || gen != m.generation {
		m.mu.Unlock()
		return
	}
	// Stop before invoking the callback: an explicit Start is required to
	// resume monitoring.
	cb := m.onTimeout
	m.stopLocked()
	m.mu.Unlock()

	metrics.SessionTimeouts.Inc()
	log.Info().Msg("Session idle timeout")

	if cb != nil {
		cb()
	}
}
