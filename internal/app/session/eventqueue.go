package session

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// eventQueue runs user callbacks one at a time, in push order, on its own
// goroutine. It never blocks the pusher.
type eventQueue struct {
	mu     sync.Mutex
	items  []func()
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

func newEventQueue() *eventQueue {
	q := &eventQueue{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go q.run()
	return q
}

// push reports false once the queue was closed.
func (q *eventQueue) push(f func()) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, f)
	q.mu.Unlock()
	q.signal()
	return true
}

// close lets already queued callbacks run, then stops the goroutine.
func (q *eventQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

func (q *eventQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *eventQueue) run() {
	defer close(q.done)
	for {
		q.mu.Lock()
		items := q.items
		q.items = nil
		closed := q.closed
		q.mu.Unlock()

		for _, f := range items {
			call(f)
		}
		if closed {
			if len(items) == 0 {
				return
			}
			continue
		}
		if len(items) == 0 {
			<-q.wake
		}
	}
}

func call(f func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("module", "app.session").Interface("panic", r).Msg("callback panicked")
		}
	}()
	f()
}
