// Package dispatch executes expensive cryptographic operations on a small
// fixed pool of workers so interactive callers stay responsive. When the pool
// is degraded (zero workers) or every worker is busy, operations run inline on
// the caller's goroutine: bounded latency is preferred over queuing depth.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/veilworks/cryptocore/metrics"
)

// Operation identifies the kind of work being dispatched. Purely
// informational: it shows up in logs and timeout errors.
type Operation string

const (
	OpGenerateKeyPair Operation = "generate_keypair"
	OpDeriveShared    Operation = "derive_shared_secret"
	OpDeriveKey       Operation = "derive_key"
	OpHash            Operation = "hash"
)

// Task is one unit of crypto work. Tasks must be self-contained; the pool
// never inspects the payload or the result.
type Task func() (any, error)

// DefaultTimeout bounds how long Execute waits for a worker result.
const DefaultTimeout = 30 * time.Second

var (
	// ErrOperationTimeout is returned when a worker does not produce a result
	// within the operation deadline. The caller decides whether to retry; the
	// pool never retries on its own.
	ErrOperationTimeout = errors.New("operation timed out")

	// ErrPoolTerminated is returned for operations still in flight when
	// Terminate is called, and for any Execute after termination.
	ErrPoolTerminated = errors.New("worker pool terminated")
)

type request struct {
	id   string
	op   Operation
	task Task
	done chan response
}

type response struct {
	value any
	err   error
}

// Pool is a fixed-size worker pool. The degraded/ready decision is made once
// at construction and holds for the pool's lifetime.
type Pool struct {
	size     int
	timeout  time.Duration
	requests chan *request

	mu         sync.Mutex
	terminated bool
	pending    map[string]chan response
	stop       chan struct{}
	wg         sync.WaitGroup
}

// Option configures a Pool.
type Option func(*Pool)

// WithTimeout overrides the default per-operation timeout.
func WithTimeout(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// New creates a pool with the given number of workers. A size of zero or less
// yields a degraded pool that executes everything inline; that choice is fixed
// for the pool's lifetime.
func New(size int, opts ...Option) *Pool {
	p := &Pool{
		size:    size,
		timeout: DefaultTimeout,
		pending: make(map[string]chan response),
		stop:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}

	if size <= 0 {
		log.Warn().Msg("Worker pool degraded: executing crypto operations inline")
		return p
	}

	// Unbuffered: a send succeeds only when a worker is idle and receiving.
	p.requests = make(chan *request)
	for i := 0; i < size; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}

	log.Debug().Int("workers", size).Msg("Worker pool ready")
	return p
}

// Degraded reports whether the pool executes everything inline.
func (p *Pool) Degraded() bool {
	return p.size <= 0
}

// Execute runs task, preferring an idle worker and falling back to the
// caller's goroutine when the pool is degraded or fully busy. It fails with
// ErrOperationTimeout when no result arrives within the pool timeout, with
// ErrPoolTerminated when the pool shuts down mid-flight, and with the
// context's error when ctx is cancelled first. Completion order across
// concurrent calls is unspecified.
func (p *Pool) Execute(ctx context.Context, op Operation, task Task) (any, error) {
	p.mu.Lock()
	if p.terminated {
		p.mu.Unlock()
		return nil, ErrPoolTerminated
	}
	p.mu.Unlock()

	if p.Degraded() {
		metrics.DispatcherInline.Inc()
		return task()
	}

	req := &request{
		id:   uuid.New().String(),
		op:   op,
		task: task,
		done: make(chan response, 1),
	}

	select {
	case <-p.stop:
		return nil, ErrPoolTerminated
	case p.requests <- req:
	default:
		// No idle worker: run inline rather than queue.
		metrics.DispatcherInline.Inc()
		return task()
	}

	p.track(req)
	defer p.untrack(req.id)

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()

	select {
	case res := <-req.done:
		return res.value, res.err
	case <-timer.C:
		metrics.DispatcherTimeouts.Inc()
		log.Warn().
			Str("op_id", req.id).
			Str("operation", string(op)).
			Dur("timeout", p.timeout).
			Msg("Operation timed out")
		return nil, fmt.Errorf("%w: %s (op %s)", ErrOperationTimeout, op, req.id)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.stop:
		return nil, ErrPoolTerminated
	}
}

// Terminate shuts the pool down. In-flight operations reject with
// ErrPoolTerminated; workers exit once their current task returns.
// Terminate is idempotent.
func (p *Pool) Terminate() {
	p.mu.Lock()
	if p.terminated {
		p.mu.Unlock()
		return
	}
	p.terminated = true
	close(p.stop)
	pending := len(p.pending)
	p.pending = make(map[string]chan response)
	p.mu.Unlock()

	if p.requests != nil {
		p.wg.Wait()
	}

	log.Debug().Int("pending", pending).Msg("Worker pool terminated")
}

func (p *Pool) worker(n int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.stop:
			return
		case req := <-p.requests:
			metrics.DispatcherInflight.Inc()
			value, err := req.task()
			metrics.DispatcherInflight.Dec()

			// Buffered channel: delivery never blocks even if the caller
			// already timed out and walked away.
			req.done <- response{value: value, err: err}
		}
	}
}

func (p *Pool) track(req *request) {
	p.mu.Lock()
	if !p.terminated {
		p.pending[req.id] = req.done
	}
	p.mu.Unlock()
}

func (p *Pool) untrack(id string) {
	p.mu.Lock()
	delete(p.pending, id)
	p.mu.Unlock()
}
