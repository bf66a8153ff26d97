// Package ws carries Janus envelopes over a WebSocket using the
// "janus-protocol" subprotocol.
package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"

	"github.com/marekhoryna/janus-client/internal/core"
	"github.com/marekhoryna/janus-client/internal/domain"
	"github.com/marekhoryna/janus-client/internal/protocol"
)

const Subprotocol = "janus-protocol"

var (
	ErrClosed       = errors.New("websocket closed")
	ErrBackpressure = errors.New("backpressure")
)

type Options struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	SendBuffer       int
	Header           http.Header
}

func (o Options) withDefaults() Options {
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 10 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 32
	}
	return o
}

type Dialer struct {
	opts Options
	ws   *websocket.Dialer
}

var _ core.Dialer = (*Dialer)(nil)

func NewDialer(o Options) *Dialer {
	o = o.withDefaults()
	return &Dialer{
		opts: o,
		ws: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: o.HandshakeTimeout,
			Subprotocols:     []string{Subprotocol},
		},
	}
}

func (d *Dialer) Dial(ctx context.Context, server string) (core.Transport, error) {
	conn, resp, err := d.ws.DialContext(ctx, server, d.opts.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w: dial %s: %s: %w", domain.ErrConnection, server, resp.Status, err)
		}
		return nil, fmt.Errorf("%w: dial %s: %w", domain.ErrConnection, server, err)
	}
	if conn.Subprotocol() != Subprotocol {
		log.Warn().Str("module", "adapters.ws").Str("server", server).
			Str("subprotocol", conn.Subprotocol()).Msg("server did not accept janus-protocol")
	}
	return newTransport(conn, server, d.opts), nil
}

// Transport is one gateway connection. Writes go through a buffered
// channel drained by the write pump; the read pump starts once a message
// handler is registered.
type Transport struct {
	conn   *websocket.Conn
	server string
	opts   Options
	log    zerolog.Logger

	send chan []byte
	done chan struct{}
	wg   conc.WaitGroup

	startRead sync.Once
	closeOnce sync.Once

	mu        sync.Mutex
	onMessage func(*protocol.Envelope)
	onClose   func(error)
	lost      error
	closed    bool
}

var _ core.Transport = (*Transport)(nil)

func newTransport(conn *websocket.Conn, server string, o Options) *Transport {
	t := &Transport{
		conn:   conn,
		server: server,
		opts:   o,
		log:    log.With().Str("module", "adapters.ws").Str("server", server).Logger(),
		send:   make(chan []byte, o.SendBuffer),
		done:   make(chan struct{}),
	}
	t.wg.Go(t.writePump)
	return t
}

func (t *Transport) OnMessage(f func(*protocol.Envelope)) {
	t.mu.Lock()
	t.onMessage = f
	t.mu.Unlock()
	t.startRead.Do(func() { t.wg.Go(t.readPump) })
}

// OnClose registers the loss handler. If the connection was already lost
// the handler is invoked right away.
func (t *Transport) OnClose(f func(error)) {
	t.mu.Lock()
	t.onClose = f
	lost := t.lost
	t.mu.Unlock()
	if lost != nil && f != nil {
		go f(lost)
	}
}

func (t *Transport) Send(ctx context.Context, env *protocol.Envelope) error {
	data, err := protocol.Encode(env)
	if err != nil {
		return err
	}
	select {
	case <-t.done:
		return ErrClosed
	default:
	}
	select {
	case t.send <- data:
		return nil
	case <-t.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrBackpressure
	}
}

// Close shuts the connection down without reporting a loss.
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		t.mu.Unlock()
		close(t.done)
		deadline := time.Now().Add(t.opts.WriteTimeout)
		_ = t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		err = t.conn.Close()
		t.log.Info().Msg("websocket closed")
	})
	return err
}

// Wait blocks until both pumps have returned.
func (t *Transport) Wait() { t.wg.Wait() }

func (t *Transport) writePump() {
	for {
		select {
		case <-t.done:
			return
		case data := <-t.send:
			if err := t.conn.SetWriteDeadline(time.Now().Add(t.opts.WriteTimeout)); err != nil {
				t.fail(fmt.Errorf("set write deadline: %w", err))
				return
			}
			if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				t.fail(fmt.Errorf("write: %w", err))
				return
			}
		}
	}
}

func (t *Transport) readPump() {
	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			t.fail(fmt.Errorf("read: %w", err))
			return
		}
		envs, err := protocol.DecodeBatch(data)
		if err != nil {
			t.log.Warn().Err(err).Msg("dropping undecodable frame")
			continue
		}
		t.mu.Lock()
		handler := t.onMessage
		t.mu.Unlock()
		for _, env := range envs {
			handler(env)
		}
	}
}

// fail reports an unexpected loss once. Errors after Close are dropped.
func (t *Transport) fail(err error) {
	t.mu.Lock()
	if t.closed || t.lost != nil {
		t.mu.Unlock()
		return
	}
	t.lost = err
	handler := t.onClose
	t.mu.Unlock()

	t.log.Error().Err(err).Msg("websocket lost")
	t.closeOnce.Do(func() {
		close(t.done)
		_ = t.conn.Close()
	})
	if handler != nil {
		handler(err)
	}
}
