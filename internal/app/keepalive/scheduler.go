// Package keepalive keeps a gateway session alive and detects a dead link
// from consecutive send failures.
package keepalive

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/marekhoryna/janus-client/internal/domain"
)

const (
	DefaultInterval    = 25 * time.Second
	DefaultMaxFailures = 3
)

type Scheduler struct {
	interval    time.Duration
	maxFailures int
	send        func(ctx context.Context) error
	onFatal     func(error)
	log         zerolog.Logger

	mu       sync.Mutex
	failures int
	fatal    bool
	stopped  bool
	cancel   context.CancelFunc

	stopOnce sync.Once
	done     chan struct{}
}

// New builds a scheduler. send transmits one keepalive; onFatal fires once
// when maxFailures consecutive sends (keepalive or reported by Report) failed.
func New(interval time.Duration, maxFailures int, send func(ctx context.Context) error, onFatal func(error)) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if maxFailures <= 0 {
		maxFailures = DefaultMaxFailures
	}
	return &Scheduler{
		interval:    interval,
		maxFailures: maxFailures,
		send:        send,
		onFatal:     onFatal,
		log:         log.With().Str("module", "app.keepalive").Logger(),
		done:        make(chan struct{}),
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		cancel()
		return
	}
	s.cancel = cancel
	s.mu.Unlock()

	go func() {
		defer close(s.done)
		t := time.NewTicker(s.interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.Report(s.send(ctx))
			}
		}
	}()
	s.log.Debug().Dur("interval", s.interval).Msg("keepalive started")
}

// Stop cancels the loop. Only the first call has an effect; it does not
// wait for the loop to exit, so it is safe from onFatal.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		cancel := s.cancel
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		s.log.Debug().Msg("keepalive stopped")
	})
}

// Done is closed once a started loop has exited.
func (s *Scheduler) Done() <-chan struct{} { return s.done }

// Report feeds the outcome of any outbound send into the failure counter.
func (s *Scheduler) Report(err error) {
	s.mu.Lock()
	if err == nil {
		s.failures = 0
		s.mu.Unlock()
		return
	}
	s.failures++
	n := s.failures
	trip := n >= s.maxFailures && !s.fatal
	if trip {
		s.fatal = true
	}
	s.mu.Unlock()

	s.log.Warn().Err(err).Int("failures", n).Msg("send failed")
	if !trip {
		return
	}
	s.Stop()
	if s.onFatal != nil {
		s.onFatal(fmt.Errorf("%w: %d consecutive send failures: %w", domain.ErrConnection, n, err))
	}
}

func (s *Scheduler) Failures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures
}
