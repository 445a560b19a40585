// Package metrics exposes Prometheus instrumentation for the crypto core.
// Collectors are registered on the default registry; consumers that do not
// scrape simply pay for a few atomic counters.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits counts derived-key cache hits.
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cryptocore",
		Subsystem: "keycache",
		Name:      "hits_total",
		Help:      "Number of derived-key cache hits.",
	})

	// CacheMisses counts derived-key cache misses (including expired entries).
	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cryptocore",
		Subsystem: "keycache",
		Name:      "misses_total",
		Help:      "Number of derived-key cache misses.",
	})

	// CacheEvictions counts entries removed by expiry (lazy or sweep).
	CacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cryptocore",
		Subsystem: "keycache",
		Name:      "evictions_total",
		Help:      "Number of expired cache entries evicted.",
	})

	// RateLimitDenials counts denied attempts per action identifier.
	RateLimitDenials = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cryptocore",
		Subsystem: "policy",
		Name:      "rate_limit_denials_total",
		Help:      "Number of attempts denied by the rate limiter.",
	}, []string{"action"})

	// SessionTimeouts counts idle-session expirations.
	SessionTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cryptocore",
		Subsystem: "policy",
		Name:      "session_timeouts_total",
		Help:      "Number of sessions ended by the idle timeout.",
	})

	// DispatcherInflight tracks operations currently executing on workers.
	DispatcherInflight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "cryptocore",
		Subsystem: "dispatch",
		Name:      "inflight",
		Help:      "Operations currently executing on pool workers.",
	})

	// DispatcherTimeouts counts operations that exceeded their deadline.
	DispatcherTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cryptocore",
		Subsystem: "dispatch",
		Name:      "timeouts_total",
		Help:      "Operations that timed out waiting for a worker result.",
	})

	// DispatcherInline counts operations executed on the caller's goroutine
	// (degraded pool or no idle worker).
	DispatcherInline = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cryptocore",
		Subsystem: "dispatch",
		Name:      "inline_total",
		Help:      "Operations executed inline instead of on a worker.",
	})
)
