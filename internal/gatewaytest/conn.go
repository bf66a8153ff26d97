package gatewaytest

import (
	"context"
	"errors"
	"sync"

	"github.com/goccy/go-json"

	"github.com/marekhoryna/janus-client/internal/protocol"
)

var errConnClosed = errors.New("gatewaytest: connection closed")

type inbound struct {
	env     *protocol.Envelope
	dropErr error
}

// Conn is one client connection to the fake gateway. Replies travel
// through the same codec as a real transport and are delivered on a single
// goroutine, in order.
type Conn struct {
	gw     *Gateway
	server string

	mu        sync.Mutex
	onMessage func(*protocol.Envelope)
	onClose   func(error)
	queue     []inbound
	closed    bool

	wake chan struct{}
	done chan struct{}
}

func newConn(g *Gateway, server string) *Conn {
	c := &Conn{
		gw:     g,
		server: server,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go c.run()
	return c
}

func (c *Conn) Server() string { return c.server }

func (c *Conn) OnMessage(f func(*protocol.Envelope)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMessage = f
}

func (c *Conn) OnClose(f func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClose = f
}

func (c *Conn) Send(_ context.Context, env *protocol.Envelope) error {
	if c.isClosed() {
		return errConnClosed
	}
	if c.gw.takeFailure() {
		return ErrSendFailed
	}
	data, err := protocol.Encode(env)
	if err != nil {
		return err
	}
	var req protocol.Envelope
	if err := json.Unmarshal(data, &req); err != nil {
		return err
	}
	for _, reply := range c.gw.receive(&req) {
		c.deliver(reply)
	}
	return nil
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.signal()
	return nil
}

func (c *Conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// deliver encodes env and decodes it again so replies are validated
// exactly like frames read from a socket.
func (c *Conn) deliver(env *protocol.Envelope) {
	data, err := protocol.Encode(env)
	if err != nil {
		return
	}
	decoded, err := protocol.Decode(data)
	if err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.queue = append(c.queue, inbound{env: decoded})
	c.signal()
}

func (c *Conn) drop(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.queue = append(c.queue, inbound{dropErr: err})
	c.signal()
}

func (c *Conn) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Conn) run() {
	defer close(c.done)
	for {
		c.mu.Lock()
		items := c.queue
		c.queue = nil
		closed := c.closed
		onMessage, onClose := c.onMessage, c.onClose
		c.mu.Unlock()

		for _, it := range items {
			if it.env == nil {
				if onClose != nil {
					onClose(it.dropErr)
				}
				return
			}
			if onMessage != nil {
				onMessage(it.env)
			}
		}
		if closed {
			if len(items) == 0 {
				return
			}
			continue
		}
		<-c.wake
	}
}
