// Package session implements the Janus client session: one transport
// connection multiplexing transactions and plugin handles.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/marekhoryna/janus-client/internal/app/keepalive"
	"github.com/marekhoryna/janus-client/internal/app/txn"
	"github.com/marekhoryna/janus-client/internal/core"
	"github.com/marekhoryna/janus-client/internal/domain"
	"github.com/marekhoryna/janus-client/internal/protocol"
)

var errSessionTimeout = errors.New("session timed out on the gateway")

type Session struct {
	opts  Options
	creds protocol.Credentials
	log   zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	txns    *txn.Registry
	handles *handleTable
	ka      *keepalive.Scheduler
	queue   *eventQueue

	mu              sync.RWMutex
	id              domain.SessionID
	server          string
	transport       core.Transport
	connected       bool
	destroyed       bool
	transportClosed bool
}

func newSession(opts Options) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		opts:    opts,
		creds:   protocol.Credentials{Token: opts.Token, APISecret: opts.APISecret},
		log:     log.With().Str("module", "app.session").Logger(),
		ctx:     ctx,
		cancel:  cancel,
		txns:    txn.NewRegistry(),
		handles: newHandleTable(),
		queue:   newEventQueue(),
	}
	s.ka = keepalive.New(opts.KeepalivePeriod, opts.MaxKeepaliveFailures, s.sendKeepalive, s.lose)
	return s
}

// Create connects to the first server in opts.Servers that accepts a
// "create" request.
func Create(ctx context.Context, opts Options) (*Session, error) {
	opts = opts.withDefaults()
	if opts.Dialer == nil {
		return nil, fmt.Errorf("%w: no dialer configured", domain.ErrConnection)
	}
	if len(opts.Servers) == 0 {
		return nil, fmt.Errorf("%w: no servers configured", domain.ErrConnection)
	}

	s := newSession(opts)
	var lastErr error
	for _, server := range opts.Servers {
		t, id, retry, err := s.connect(ctx, server)
		if err == nil {
			s.start(server, t, id)
			return s, nil
		}
		if !retry {
			s.release()
			return nil, err
		}
		lastErr = err
	}
	s.release()
	return nil, fmt.Errorf("%w: no reachable gateway in %d servers: %w", domain.ErrConnection, len(opts.Servers), lastErr)
}

// connect dials one server and runs the create exchange. retry tells the
// caller whether trying the next server makes sense.
func (s *Session) connect(ctx context.Context, server string) (t core.Transport, id domain.SessionID, retry bool, err error) {
	l := s.log.With().Str("server", server).Logger()

	t, err = s.opts.Dialer.Dial(ctx, server)
	if err != nil {
		l.Warn().Err(err).Msg("dial failed")
		return nil, 0, true, err
	}
	t.OnMessage(s.dispatch)

	tx, ch := s.txns.RegisterWait(txn.Options{Timeout: s.opts.TransactionTimeout})
	if err := t.Send(ctx, protocol.NewCreate(tx, s.creds)); err != nil {
		s.txns.Abandon(tx)
		_ = t.Close()
		l.Warn().Err(err).Msg("create not sent")
		return nil, 0, true, err
	}

	select {
	case res := <-ch:
		if res.Err != nil {
			_ = t.Close()
			var gw *domain.GatewayError
			if errors.As(res.Err, &gw) {
				l.Error().Err(gw).Msg("gateway rejected create")
				return nil, 0, false, fmt.Errorf("%w: %w", domain.ErrConnection, gw)
			}
			l.Warn().Err(res.Err).Msg("create failed")
			return nil, 0, true, res.Err
		}
		if res.Envelope.Data == nil || res.Envelope.Data.ID == 0 {
			_ = t.Close()
			return nil, 0, false, fmt.Errorf("%w: create reply without session id", domain.ErrProtocol)
		}
		return t, domain.SessionID(res.Envelope.Data.ID), false, nil
	case <-ctx.Done():
		s.txns.Abandon(tx)
		_ = t.Close()
		return nil, 0, false, fmt.Errorf("%w: %w", domain.ErrConnection, ctx.Err())
	}
}

func (s *Session) start(server string, t core.Transport, id domain.SessionID) {
	s.mu.Lock()
	s.id = id
	s.server = server
	s.transport = t
	s.connected = true
	s.mu.Unlock()

	t.OnClose(s.onTransportClose)
	s.ka.Start(s.ctx)
	s.log.Info().Uint64("session", uint64(id)).Str("server", server).Msg("session created")
	s.emit(func() {
		if cb := s.opts.Callbacks.Success; cb != nil {
			cb(s)
		}
	})
}

func (s *Session) release() {
	s.ka.Stop()
	s.cancel()
	s.queue.close()
}

func (s *Session) ID() domain.SessionID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

// Server is the address of the gateway the session is connected to.
func (s *Session) Server() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.server
}

func (s *Session) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected && !s.destroyed
}

func (s *Session) Handles() []*Handle { return s.handles.list() }

func (s *Session) Handle(id domain.HandleID) (*Handle, bool) { return s.handles.get(id) }

// Attach binds a new handle to a plugin.
func (s *Session) Attach(ctx context.Context, o AttachOptions) (*Handle, error) {
	if !s.IsConnected() {
		return nil, fmt.Errorf("%w: %w", domain.ErrAttach, domain.ErrSessionClosed)
	}
	if o.OpaqueID == "" && o.Plugin != "" {
		o.OpaqueID = o.Plugin + "-" + uuid.NewString()
	}
	p, err := domain.NewPlugin(o.Plugin, o.OpaqueID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrAttach, err)
	}

	type attached struct {
		h   *Handle
		err error
	}
	ch := make(chan attached, 1)
	sid := s.ID()

	// The handle is registered from the reply itself so that events sent
	// right after the attach reply already find it.
	tx, err := s.request(ctx, txn.Options{Timeout: s.opts.TransactionTimeout},
		func(tx domain.TransactionID) (*protocol.Envelope, error) {
			return protocol.NewAttach(tx, sid, p, s.creds), nil
		},
		txn.Callbacks{
			Success: func(env *protocol.Envelope) {
				if env.Data == nil || env.Data.ID == 0 {
					ch <- attached{err: fmt.Errorf("%w: attach reply without handle id", domain.ErrProtocol)}
					return
				}
				h := newHandle(s, domain.HandleID(env.Data.ID), p, o.Callbacks)
				s.handles.add(h)
				ch <- attached{h: h}
			},
			Error: func(err error) { ch <- attached{err: err} },
		})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrAttach, err)
	}

	var res attached
	select {
	case res = <-ch:
	case <-ctx.Done():
		if s.txns.Abandon(tx) {
			return nil, fmt.Errorf("%w: %w", domain.ErrAttach, ctx.Err())
		}
		res = <-ch
	}
	if res.err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrAttach, res.err)
	}
	return res.h, nil
}

// Destroy ends the session. Local teardown happens whether or not the
// gateway acknowledges; later calls return nil.
func (s *Session) Destroy(ctx context.Context, o DestroyOptions) error {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return nil
	}
	s.destroyed = true
	connected := s.connected
	sid := s.id
	s.mu.Unlock()

	if connected && !o.NoRequest {
		ctx, cancel := context.WithTimeout(ctx, s.opts.TransactionTimeout)
		_, err := s.roundTrip(ctx, txn.Options{Timeout: s.opts.TransactionTimeout},
			func(tx domain.TransactionID) (*protocol.Envelope, error) {
				return protocol.NewDestroy(tx, sid, s.creds), nil
			})
		cancel()
		if err != nil {
			s.log.Warn().Err(err).Uint64("session", uint64(sid)).Msg("destroy not acknowledged")
		}
	}

	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()

	s.ka.Stop()
	s.txns.RejectAll(domain.ErrSessionClosed)
	for _, h := range s.handles.drain() {
		h.detachLocal(!h.isAbandoned())
	}
	s.closeTransport()
	s.cancel()
	s.emit(func() {
		if cb := s.opts.Callbacks.Destroyed; cb != nil {
			cb()
		}
	})
	s.queue.close()
	s.log.Info().Uint64("session", uint64(sid)).Msg("session destroyed")
	return nil
}

// lose handles fatal connectivity loss: nothing is sent to the gateway,
// handles are abandoned and the Error callback fires.
func (s *Session) lose(cause error) {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return
	}
	s.connected = false
	destroying := s.destroyed
	sid := s.id
	s.mu.Unlock()

	s.ka.Stop()
	s.txns.RejectAll(domain.ErrSessionClosed)
	if destroying {
		// Destroy finishes the teardown.
		return
	}

	s.log.Error().Err(cause).Uint64("session", uint64(sid)).Msg("session lost")
	for _, h := range s.handles.list() {
		h.abandon()
	}
	s.closeTransport()

	err := cause
	if !errors.Is(err, domain.ErrConnection) {
		err = fmt.Errorf("%w: %w", domain.ErrConnection, cause)
	}
	s.emit(func() {
		if cb := s.opts.Callbacks.Error; cb != nil {
			cb(err)
		}
	})
}

func (s *Session) onTransportClose(err error) {
	if err == nil {
		err = errors.New("transport closed")
	}
	s.lose(fmt.Errorf("%w: %w", domain.ErrConnection, err))
}

func (s *Session) closeTransport() {
	s.mu.Lock()
	if s.transportClosed || s.transport == nil {
		s.mu.Unlock()
		return
	}
	s.transportClosed = true
	t := s.transport
	s.mu.Unlock()

	if err := t.Close(); err != nil {
		s.log.Debug().Err(err).Msg("transport close")
	}
}

func (s *Session) liveTransport() (core.Transport, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.connected || s.transport == nil {
		return nil, false
	}
	return s.transport, true
}

// transmit sends env and feeds the outcome into the keepalive failure
// counter.
func (s *Session) transmit(ctx context.Context, env *protocol.Envelope) error {
	t, ok := s.liveTransport()
	if !ok {
		return domain.ErrSessionClosed
	}
	err := t.Send(ctx, env)
	s.ka.Report(err)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrConnection, err)
	}
	return nil
}

func (s *Session) sendKeepalive(ctx context.Context) error {
	t, ok := s.liveTransport()
	if !ok {
		return nil
	}
	tx := domain.TransactionID(uuid.NewString())
	return t.Send(ctx, protocol.NewKeepalive(tx, s.ID(), s.creds))
}

// request registers a transaction and sends the envelope built for it.
// On error the callbacks were not invoked and never will be.
// Destroy still goes through here after the session is marked destroyed.
func (s *Session) request(ctx context.Context, o txn.Options, build func(domain.TransactionID) (*protocol.Envelope, error), cb txn.Callbacks) (domain.TransactionID, error) {
	if _, ok := s.liveTransport(); !ok {
		return "", domain.ErrSessionClosed
	}
	tx := s.txns.Register(o, cb)
	env, err := build(tx)
	if err != nil {
		s.txns.Abandon(tx)
		return "", err
	}
	if err := s.transmit(ctx, env); err != nil {
		if !s.txns.Abandon(tx) {
			// Already rejected by a teardown the failure triggered.
			return tx, nil
		}
		return "", err
	}
	return tx, nil
}

// roundTrip is request for blocking callers.
func (s *Session) roundTrip(ctx context.Context, o txn.Options, build func(domain.TransactionID) (*protocol.Envelope, error)) (*protocol.Envelope, error) {
	ch := make(chan txn.Result, 1)
	tx, err := s.request(ctx, o, build, txn.Callbacks{
		Success: func(env *protocol.Envelope) { ch <- txn.Result{Envelope: env} },
		Error:   func(err error) { ch <- txn.Result{Err: err} },
	})
	if err != nil {
		return nil, err
	}
	select {
	case res := <-ch:
		return res.Envelope, res.Err
	case <-ctx.Done():
		if s.txns.Abandon(tx) {
			return nil, ctx.Err()
		}
		res := <-ch
		return res.Envelope, res.Err
	}
}

// emit queues a user callback. Once the queue is closed the callback
// still runs, after everything queued before the close.
func (s *Session) emit(f func()) {
	if s.queue.push(f) {
		return
	}
	go func() {
		<-s.queue.done
		call(f)
	}()
}
