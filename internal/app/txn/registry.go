// Package txn correlates requests sent to the gateway with their replies.
package txn

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/marekhoryna/janus-client/internal/domain"
	"github.com/marekhoryna/janus-client/internal/protocol"
)

type Options struct {
	// Timeout, when positive, expires the transaction with ErrTimeout.
	Timeout time.Duration
	// AckCompletes lets an "ack" reply resolve the transaction. Otherwise
	// acks are interim and the entry stays pending.
	AckCompletes bool
}

// Callbacks are invoked on the goroutine that resolves the transaction:
// the transport reader for replies, a timer goroutine for expiry.
type Callbacks struct {
	Success func(*protocol.Envelope)
	Error   func(error)
}

type Result struct {
	Envelope *protocol.Envelope
	Err      error
}

type entry struct {
	cb           Callbacks
	created      time.Time
	timer        *time.Timer
	ackCompletes bool
}

type Registry struct {
	mu      sync.Mutex
	pending map[domain.TransactionID]*entry
	newID   func() string
}

type Option func(*Registry)

// WithIDSource replaces the uuid generator. Used to force collisions in tests.
func WithIDSource(f func() string) Option {
	return func(r *Registry) { r.newID = f }
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		pending: make(map[domain.TransactionID]*entry),
		newID:   uuid.NewString,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Register allocates a fresh transaction id and stores the callbacks.
func (r *Registry) Register(o Options, cb Callbacks) domain.TransactionID {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := domain.TransactionID(r.newID())
	for {
		if _, busy := r.pending[id]; !busy {
			break
		}
		log.Debug().Str("module", "app.txn").Str("tx", string(id)).Msg("transaction id collision, regenerating")
		id = domain.TransactionID(r.newID())
	}

	e := &entry{cb: cb, created: time.Now(), ackCompletes: o.AckCompletes}
	if o.Timeout > 0 {
		e.timer = time.AfterFunc(o.Timeout, func() { r.expire(id) })
	}
	r.pending[id] = e
	return id
}

// RegisterWait is Register for synchronous callers: the returned channel
// receives exactly one Result.
func (r *Registry) RegisterWait(o Options) (domain.TransactionID, <-chan Result) {
	ch := make(chan Result, 1)
	id := r.Register(o, Callbacks{
		Success: func(env *protocol.Envelope) { ch <- Result{Envelope: env} },
		Error:   func(err error) { ch <- Result{Err: err} },
	})
	return id, ch
}

func (r *Registry) take(id domain.TransactionID) (*entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.pending[id]
	if !ok {
		return nil, false
	}
	delete(r.pending, id)
	if e.timer != nil {
		e.timer.Stop()
	}
	return e, true
}

// Resolve completes a pending transaction with a reply. Unknown ids
// (late or duplicate replies) report false.
func (r *Registry) Resolve(id domain.TransactionID, env *protocol.Envelope) bool {
	e, ok := r.take(id)
	if !ok {
		return false
	}
	if e.cb.Success != nil {
		e.cb.Success(env)
	}
	return true
}

func (r *Registry) Reject(id domain.TransactionID, err error) bool {
	e, ok := r.take(id)
	if !ok {
		return false
	}
	if e.cb.Error != nil {
		e.cb.Error(err)
	}
	return true
}

func (r *Registry) expire(id domain.TransactionID) {
	e, ok := r.take(id)
	if !ok {
		return
	}
	log.Warn().Str("module", "app.txn").Str("tx", string(id)).
		Dur("age", time.Since(e.created)).Msg("transaction expired")
	if e.cb.Error != nil {
		e.cb.Error(domain.ErrTimeout)
	}
}

// Abandon drops a pending transaction without invoking its callbacks.
func (r *Registry) Abandon(id domain.TransactionID) bool {
	_, ok := r.take(id)
	return ok
}

// RejectAll fails every pending transaction with err.
func (r *Registry) RejectAll(err error) {
	r.mu.Lock()
	entries := make([]*entry, 0, len(r.pending))
	for id, e := range r.pending {
		if e.timer != nil {
			e.timer.Stop()
		}
		entries = append(entries, e)
		delete(r.pending, id)
	}
	r.mu.Unlock()

	if len(entries) > 0 {
		log.Info().Str("module", "app.txn").Int("count", len(entries)).Err(err).Msg("rejected pending transactions")
	}
	for _, e := range entries {
		if e.cb.Error != nil {
			e.cb.Error(err)
		}
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func (r *Registry) Pending(id domain.TransactionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pending[id]
	return ok
}

// AcceptsAck reports whether an ack for id should complete it.
func (r *Registry) AcceptsAck(id domain.TransactionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.pending[id]
	return ok && e.ackCompletes
}
