// Package gatewaytest provides an in-process Janus gateway for tests. It
// speaks the envelope protocol through core.Transport connections, so a
// session under test runs unmodified against it.
package gatewaytest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/goccy/go-json"

	"github.com/marekhoryna/janus-client/internal/core"
	"github.com/marekhoryna/janus-client/internal/domain"
	"github.com/marekhoryna/janus-client/internal/protocol"
)

// Compile-time interface checks.
var (
	_ core.Dialer    = (*Gateway)(nil)
	_ core.Transport = (*Conn)(nil)
)

// Janus core error codes used by the fake.
const (
	ErrCodeNoSuchSession = 458
	ErrCodeNoSuchHandle  = 459
	ErrCodeNoSuchPlugin  = 460
	ErrCodePluginMessage = 464
)

var ErrSendFailed = errors.New("gatewaytest: injected send failure")

// PluginRequest is a "message" as seen by a plugin.
type PluginRequest struct {
	Session domain.SessionID
	Handle  domain.HandleID
	Body    json.RawMessage
	JSEP    *domain.JSEP
}

// PluginReply is what a plugin answers. Async replies are acked first and
// then delivered as an event carrying the request's transaction, like
// Janus does for requests such as "watch". Hold only acks; the test
// delivers the event itself with Push.
type PluginReply struct {
	Async bool
	Hold  bool
	Data  any
	JSEP  *domain.JSEP
	Err   *domain.GatewayError
}

type PluginHandler func(PluginRequest) PluginReply

type Gateway struct {
	mu sync.Mutex

	nextID      uint64
	sessions    map[domain.SessionID]bool
	handles     map[domain.HandleID]string
	plugins     map[string]PluginHandler
	unreachable map[string]bool
	silent      map[protocol.Kind]bool
	createErr   *domain.GatewayError

	conns     []*Conn
	dials     []string
	sent      []*protocol.Envelope
	attempts  int
	failSends int
}

func New() *Gateway {
	return &Gateway{
		nextID:      1000,
		sessions:    make(map[domain.SessionID]bool),
		handles:     make(map[domain.HandleID]string),
		plugins:     make(map[string]PluginHandler),
		unreachable: make(map[string]bool),
		silent:      make(map[protocol.Kind]bool),
	}
}

// HandlePlugin makes a plugin attachable and routes its messages to h.
func (g *Gateway) HandlePlugin(name string, h PluginHandler) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.plugins[name] = h
}

// Unreachable makes Dial fail for server.
func (g *Gateway) Unreachable(server string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.unreachable[server] = true
}

// RejectCreate answers the next "create" requests with a gateway error.
func (g *Gateway) RejectCreate(code int, reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.createErr = &domain.GatewayError{Code: code, Reason: reason}
}

// Silence stops the gateway from replying to requests of kind k.
func (g *Gateway) Silence(k protocol.Kind) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.silent[k] = true
}

// FailSends makes the next n client sends fail without reaching the gateway.
func (g *Gateway) FailSends(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failSends = n
}

func (g *Gateway) Dial(_ context.Context, server string) (core.Transport, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dials = append(g.dials, server)
	if g.unreachable[server] {
		return nil, fmt.Errorf("gatewaytest: %s unreachable", server)
	}
	c := newConn(g, server)
	g.conns = append(g.conns, c)
	return c, nil
}

func (g *Gateway) Dials() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.dials...)
}

// Sent returns the requests that reached the gateway, in order.
func (g *Gateway) Sent() []*protocol.Envelope {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]*protocol.Envelope(nil), g.sent...)
}

// SentKinds is Sent reduced to request kinds, optionally for one handle.
func (g *Gateway) SentKinds(h domain.HandleID) []protocol.Kind {
	var out []protocol.Kind
	for _, env := range g.Sent() {
		if h != 0 && env.HandleID != h {
			continue
		}
		out = append(out, env.Janus)
	}
	return out
}

// Attempts counts every client send, including injected failures.
func (g *Gateway) Attempts() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.attempts
}

func (g *Gateway) HandleCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.handles)
}

// Push delivers an unsolicited envelope on every open connection.
func (g *Gateway) Push(env *protocol.Envelope) {
	for _, c := range g.openConns() {
		c.deliver(env)
	}
}

// PushEvent sends a plugin event for handle h.
func (g *Gateway) PushEvent(h domain.HandleID, data any, jsep *domain.JSEP) error {
	g.mu.Lock()
	plugin := g.handles[h]
	g.mu.Unlock()
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	g.Push(&protocol.Envelope{
		Janus:      protocol.KindEvent,
		Sender:     h,
		PluginData: &protocol.PluginData{Plugin: plugin, Data: raw},
		JSEP:       jsep,
	})
	return nil
}

// Drop kills every open connection as if the network went away.
func (g *Gateway) Drop(err error) {
	for _, c := range g.openConns() {
		c.drop(err)
	}
}

func (g *Gateway) openConns() []*Conn {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*Conn, 0, len(g.conns))
	for _, c := range g.conns {
		if !c.isClosed() {
			out = append(out, c)
		}
	}
	return out
}

func (g *Gateway) allocID() uint64 {
	g.nextID++
	return g.nextID
}

// receive runs a client request through the fake gateway and returns the
// envelopes to send back, in order.
func (g *Gateway) receive(req *protocol.Envelope) []*protocol.Envelope {
	g.mu.Lock()
	g.sent = append(g.sent, req)
	if g.silent[req.Janus] {
		g.mu.Unlock()
		return nil
	}
	reply := func(k protocol.Kind) *protocol.Envelope {
		return &protocol.Envelope{Janus: k, Transaction: req.Transaction, SessionID: req.SessionID}
	}
	fail := func(code int, reason string) []*protocol.Envelope {
		env := reply(protocol.KindError)
		env.Error = &protocol.ErrorPayload{Code: code, Reason: reason}
		return []*protocol.Envelope{env}
	}

	if req.Janus != protocol.KindCreate && !g.sessions[req.SessionID] {
		g.mu.Unlock()
		return fail(ErrCodeNoSuchSession, "No such session")
	}

	switch req.Janus {
	case protocol.KindCreate:
		defer g.mu.Unlock()
		if g.createErr != nil {
			return fail(g.createErr.Code, g.createErr.Reason)
		}
		id := domain.SessionID(g.allocID())
		g.sessions[id] = true
		env := reply(protocol.KindSuccess)
		env.Data = &protocol.IDData{ID: uint64(id)}
		return []*protocol.Envelope{env}

	case protocol.KindAttach:
		defer g.mu.Unlock()
		if _, ok := g.plugins[req.Plugin]; !ok {
			return fail(ErrCodeNoSuchPlugin, "No such plugin")
		}
		id := domain.HandleID(g.allocID())
		g.handles[id] = req.Plugin
		env := reply(protocol.KindSuccess)
		env.Data = &protocol.IDData{ID: uint64(id)}
		return []*protocol.Envelope{env}

	case protocol.KindKeepalive, protocol.KindTrickle:
		g.mu.Unlock()
		return []*protocol.Envelope{reply(protocol.KindAck)}

	case protocol.KindHangup:
		g.mu.Unlock()
		return []*protocol.Envelope{reply(protocol.KindSuccess)}

	case protocol.KindDetach:
		defer g.mu.Unlock()
		if _, ok := g.handles[req.HandleID]; !ok {
			return fail(ErrCodeNoSuchHandle, "No such handle")
		}
		delete(g.handles, req.HandleID)
		ok := reply(protocol.KindSuccess)
		detached := &protocol.Envelope{Janus: protocol.KindDetached, SessionID: req.SessionID, Sender: req.HandleID}
		return []*protocol.Envelope{ok, detached}

	case protocol.KindDestroy:
		defer g.mu.Unlock()
		delete(g.sessions, req.SessionID)
		return []*protocol.Envelope{reply(protocol.KindSuccess)}

	case protocol.KindMessage:
		plugin, ok := g.handles[req.HandleID]
		h := g.plugins[plugin]
		g.mu.Unlock()
		if !ok || h == nil {
			return fail(ErrCodeNoSuchHandle, "No such handle")
		}
		return g.pluginReply(req, plugin, h)
	}

	g.mu.Unlock()
	return fail(ErrCodePluginMessage, fmt.Sprintf("unsupported request %q", req.Janus))
}

func (g *Gateway) pluginReply(req *protocol.Envelope, plugin string, h PluginHandler) []*protocol.Envelope {
	res := h(PluginRequest{Session: req.SessionID, Handle: req.HandleID, Body: req.Body, JSEP: req.JSEP})
	if res.Err != nil {
		return []*protocol.Envelope{{
			Janus:       protocol.KindError,
			Transaction: req.Transaction,
			SessionID:   req.SessionID,
			Error:       &protocol.ErrorPayload{Code: res.Err.Code, Reason: res.Err.Reason},
		}}
	}
	ack := &protocol.Envelope{Janus: protocol.KindAck, Transaction: req.Transaction, SessionID: req.SessionID}
	if res.Hold {
		return []*protocol.Envelope{ack}
	}
	raw, err := json.Marshal(res.Data)
	if err != nil {
		raw = json.RawMessage(`{}`)
	}
	payload := &protocol.Envelope{
		Transaction: req.Transaction,
		SessionID:   req.SessionID,
		Sender:      req.HandleID,
		PluginData:  &protocol.PluginData{Plugin: plugin, Data: raw},
		JSEP:        res.JSEP,
	}
	if !res.Async {
		payload.Janus = protocol.KindSuccess
		return []*protocol.Envelope{payload}
	}
	payload.Janus = protocol.KindEvent
	return []*protocol.Envelope{ack, payload}
}

// takeFailure consumes one injected send failure.
func (g *Gateway) takeFailure() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.attempts++
	if g.failSends > 0 {
		g.failSends--
		return true
	}
	return false
}
