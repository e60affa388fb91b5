// Package iomux implements the I/O multiplexer: an ordered list of
// endpoints that are driven concurrently, each responsible for its own
// readiness loop.
//
// A single select(2)-style loop with a short wake-up interval that polls
// readable and writable endpoints is the traditional design for this kind
// of dispatcher, but Go has no portable standard-library primitive for
// selecting across several arbitrary sockets, and goroutines are the
// idiomatic mechanism for concurrent readiness. This package translates the
// design one level: each Endpoint runs its own read loop on a short (25ms)
// read deadline so it notices Stop promptly, mirroring the same wake-up
// cadence without a raw syscall-level select. The DHCP endpoint keeps FIFO
// ordering of its outbound datagrams with its own writer goroutine draining
// its own queue. The DNS endpoint has no queue: each per-query worker
// replies from its own transient socket, so DNS replies leave in no defined
// order. No ordering is guaranteed across endpoints.
package iomux

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Endpoint is a single readiness-driven participant in the multiplexer: a
// DHCP or DNS UDP socket with its own read/write loops.
type Endpoint interface {
	// Name identifies the endpoint for logging.
	Name() string

	// Start begins the endpoint's read (and, if applicable, write) loops.
	// It must not block; the loops run in goroutines that exit when ctx is
	// done or Stop is called.
	Start(ctx context.Context) error

	// Stop closes the endpoint's sockets, unblocking any in-flight reads.
	Stop() error
}

// WakeInterval is the read-deadline the endpoints use to notice
// cancellation promptly without busy-waiting.
const WakeInterval = 25

// Mux holds the ordered list of endpoints being multiplexed.
type Mux struct {
	logger *slog.Logger

	mu        sync.Mutex
	endpoints []Endpoint
	cancel    context.CancelFunc
	started   bool
}

// New returns an empty Mux.
func New(logger *slog.Logger) *Mux {
	if logger == nil {
		logger = slog.Default()
	}

	return &Mux{logger: logger}
}

// Register adds an endpoint to the multiplexer.  It must be called before
// Start.
func (m *Mux) Register(e Endpoint) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.endpoints = append(m.endpoints, e)
}

// Start starts every registered endpoint.  If any endpoint fails to start,
// Start stops the ones that already started and returns the error.
func (m *Mux) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return fmt.Errorf("iomux: already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	started := make([]Endpoint, 0, len(m.endpoints))
	for _, e := range m.endpoints {
		if err := e.Start(runCtx); err != nil {
			for _, s := range started {
				_ = s.Stop()
			}
			cancel()

			return fmt.Errorf("starting endpoint %s: %w", e.Name(), err)
		}

		started = append(started, e)
		m.logger.Info("endpoint started", "endpoint", e.Name())
	}

	m.started = true

	return nil
}

// Stop signals all endpoints to stop and closes their sockets. The signal
// is the cancelled context; each endpoint's loop exits at its next 25ms
// wake-up at the latest.
func (m *Mux) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		return nil
	}

	if m.cancel != nil {
		m.cancel()
	}

	var firstErr error
	for _, e := range m.endpoints {
		if err := e.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	m.started = false

	return firstErr
}
