package policy

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestSessionMonitor_TimeoutFiresOnce(t *testing.T) {
	m := NewSessionMonitor(60*time.Millisecond, 20*time.Millisecond)

	var timeouts, warnings atomic.Int32
	m.Start(func() { timeouts.Add(1) }, func() { warnings.Add(1) })

	time.Sleep(120 * time.Millisecond)

	if n := timeouts.Load(); n != 1 {
		t.Errorf("Expected exactly 1 timeout, got %d", n)
	}
	if n := warnings.Load(); n != 1 {
		t.Errorf("Expected exactly 1 warning, got %d", n)
	}
	if m.Active() {
		t.Error("Monitor should stop itself after the timeout fires")
	}

	// No auto-restart: nothing further fires.
	time.Sleep(80 * time.Millisecond)
	if n := timeouts.Load(); n != 1 {
		t.Errorf("Timeout fired again after stop: %d", n)
	}
}

func TestSessionMonitor_WarningLeadClamped(t *testing.T) {
	// A lead at or past the timeout would arm the warning timer with a
	// non-positive delay and fire it on Start. It clamps to half the window.
	for _, lead := range []time.Duration{0, 200 * time.Millisecond} {
		m := NewSessionMonitor(120*time.Millisecond, lead)

		var warnings atomic.Int32
		m.Start(func() {}, func() { warnings.Add(1) })

		time.Sleep(30 * time.Millisecond)
		if n := warnings.Load(); n != 0 {
			t.Errorf("lead %v: warning fired %d times right after Start", lead, n)
		}

		// Past the clamped lead (60ms) but before the deadline.
		time.Sleep(60 * time.Millisecond)
		if n := warnings.Load(); n != 1 {
			t.Errorf("lead %v: expected 1 warning before the deadline, got %d", lead, n)
		}
		m.Stop()
	}
}

func TestSessionMonitor_ActivityPostpones(t *testing.T) {
	m := NewSessionMonitor(80*time.Millisecond, 20*time.Millisecond)
	defer m.Stop()

	var timeouts atomic.Int32
	m.Start(func() { timeouts.Add(1) }, nil)

	// Keep touching before the deadline; the timeout must keep moving.
	for i := 0; i < 4; i++ {
		time.Sleep(40 * time.Millisecond)
		m.Activity(SignalKeyboard)
	}
	if n := timeouts.Load(); n != 0 {
		t.Fatalf("Timeout fired despite activity: %d", n)
	}

	// Full idle window after the last signal: now it fires.
	time.Sleep(120 * time.Millisecond)
	if n := timeouts.Load(); n != 1 {
		t.Errorf("Expected 1 timeout after going idle, got %d", n)
	}
}

func TestSessionMonitor_UnknownSignalIgnored(t *testing.T) {
	m := NewSessionMonitor(50*time.Millisecond, 10*time.Millisecond)
	defer m.Stop()

	var timeouts atomic.Int32
	m.Start(func() { timeouts.Add(1) }, nil)

	for i := 0; i < 4; i++ {
		time.Sleep(20 * time.Millisecond)
		m.Activity(Signal("gamepad"))
	}

	if n := timeouts.Load(); n != 1 {
		t.Errorf("Unknown signals must not postpone the timeout, got %d firings", n)
	}
}

func TestSessionMonitor_StopIdempotent(t *testing.T) {
	m := NewSessionMonitor(30*time.Millisecond, 10*time.Millisecond)

	var timeouts atomic.Int32
	m.Start(func() { timeouts.Add(1) }, nil)

	m.Stop()
	m.Stop()

	time.Sleep(60 * time.Millisecond)
	if n := timeouts.Load(); n != 0 {
		t.Errorf("Timeout fired after Stop: %d", n)
	}
	if m.Active() {
		t.Error("Monitor still active after Stop")
	}

	// Activity on a stopped monitor is a no-op.
	m.Activity(SignalPointer)
	time.Sleep(60 * time.Millisecond)
	if n := timeouts.Load(); n != 0 {
		t.Errorf("Activity on stopped monitor re-armed the timer: %d", n)
	}
}

func TestSessionMonitor_RestartAfterTimeout(t *testing.T) {
	m := NewSessionMonitor(30*time.Millisecond, 10*time.Millisecond)
	defer m.Stop()

	var timeouts atomic.Int32
	m.Start(func() { timeouts.Add(1) }, nil)

	time.Sleep(60 * time.Millisecond)
	if n := timeouts.Load(); n != 1 {
		t.Fatalf("Expected first timeout, got %d", n)
	}

	// An explicit Start resumes monitoring.
	m.Start(func() { timeouts.Add(1) }, nil)
	time.Sleep(60 * time.Millisecond)
	if n := timeouts.Load(); n != 2 {
		t.Errorf("Expected second timeout after restart, got %d", n)
	}
}
