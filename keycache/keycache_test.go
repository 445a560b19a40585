package keycache

import (
	"bytes"
	"testing"
	"time"

	"github.com/veilworks/cryptocore/engine"
)

// testIters is the derivation cost tag used by most tests; the cost itself
// is irrelevant to the cache, only its identity matters.
const testIters = 100000

func TestSetGet(t *testing.T) {
	c := New(time.Minute)
	defer c.Close()

	key := engine.SharedKey(bytes.Repeat([]byte{0x11}, 32))
	salt := []byte("salt-bytes")

	if _, ok := c.Get("password", salt, testIters); ok {
		t.Fatal("Empty cache returned a key")
	}

	c.Set("password", salt, testIters, key)

	got, ok := c.Get("password", salt, testIters)
	if !ok {
		t.Fatal("Expected cache hit")
	}
	if !bytes.Equal(got, key) {
		t.Error("Cached key mismatch")
	}

	// Different salt, same password: distinct entry
	if _, ok := c.Get("password", []byte("other-salt"), testIters); ok {
		t.Error("Hit for a salt that was never cached")
	}
	// Different password, same salt
	if _, ok := c.Get("other-password", salt, testIters); ok {
		t.Error("Hit for a password that was never cached")
	}
}

func TestIterationsDistinguishEntries(t *testing.T) {
	c := New(time.Minute)
	defer c.Close()

	salt := []byte("salt")
	lowCost := engine.SharedKey(bytes.Repeat([]byte{0xaa}, 32))
	highCost := engine.SharedKey(bytes.Repeat([]byte{0xbb}, 32))

	c.Set("pw", salt, 1000, lowCost)

	// Same (password, salt) under a different cost must not alias: a key
	// derived with 1000 iterations is the wrong key for a 100000-iteration
	// commitment.
	if _, ok := c.Get("pw", salt, 100000); ok {
		t.Fatal("Hit for an iteration count that was never cached")
	}

	c.Set("pw", salt, 100000, highCost)

	got, ok := c.Get("pw", salt, 1000)
	if !ok || !bytes.Equal(got, lowCost) {
		t.Error("Low-cost entry lost after caching the high-cost one")
	}
	got, ok = c.Get("pw", salt, 100000)
	if !ok || !bytes.Equal(got, highCost) {
		t.Error("High-cost entry mismatch")
	}
}

func TestExpiry_LazyEviction(t *testing.T) {
	c := New(50 * time.Millisecond)
	defer c.Close()

	key := engine.SharedKey(bytes.Repeat([]byte{0x22}, 32))
	salt := []byte("salt")
	c.Set("pw", salt, testIters, key)

	// Reading at ttl/2 must not extend the lifetime.
	time.Sleep(25 * time.Millisecond)
	if _, ok := c.Get("pw", salt, testIters); !ok {
		t.Fatal("Entry expired before its TTL")
	}

	time.Sleep(35 * time.Millisecond)
	if _, ok := c.Get("pw", salt, testIters); ok {
		t.Fatal("Entry still live after its TTL despite a mid-life read")
	}

	stats := c.Stats()
	if stats.Entries != 0 {
		t.Errorf("Expected 0 entries after lazy eviction, got %d", stats.Entries)
	}
	if stats.Expired != 1 {
		t.Errorf("Expected 1 expired entry, got %d", stats.Expired)
	}
}

func TestSweep(t *testing.T) {
	c := New(10 * time.Millisecond)
	defer c.Close()

	c.Set("pw1", []byte("s1"), testIters, engine.SharedKey(make([]byte, 32)))
	c.Set("pw2", []byte("s2"), testIters, engine.SharedKey(make([]byte, 32)))

	time.Sleep(20 * time.Millisecond)
	if n := c.sweep(time.Now()); n != 2 {
		t.Errorf("Expected sweep to evict 2 entries, got %d", n)
	}
	if c.Stats().Entries != 0 {
		t.Error("Entries remain after sweep")
	}
}

func TestClear(t *testing.T) {
	c := New(time.Minute)
	defer c.Close()

	c.Set("pw", []byte("salt"), testIters, engine.SharedKey(make([]byte, 32)))
	c.Clear()

	if _, ok := c.Get("pw", []byte("salt"), testIters); ok {
		t.Error("Hit after Clear")
	}
	if c.Stats().Entries != 0 {
		t.Error("Entries remain after Clear")
	}
}

func TestStats_HitCount(t *testing.T) {
	c := New(time.Minute)
	defer c.Close()

	salt := []byte("salt")
	c.Set("pw", salt, testIters, engine.SharedKey(make([]byte, 32)))

	for i := 0; i < 3; i++ {
		if _, ok := c.Get("pw", salt, testIters); !ok {
			t.Fatal("Expected hit")
		}
	}

	if hits := c.Stats().Hits; hits != 3 {
		t.Errorf("Expected 3 hits, got %d", hits)
	}
}

func TestDefaultTTL(t *testing.T) {
	c := New(0)
	defer c.Close()
	if c.ttl != DefaultTTL {
		t.Errorf("Expected DefaultTTL for ttl<=0, got %v", c.ttl)
	}
}
