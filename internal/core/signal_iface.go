//go:generate mockgen -source=signal_iface.go -destination=mocks/mock_signal.go -package=mocks

package core

import (
	"context"

	"github.com/marekhoryna/janus-client/internal/protocol"
)

// Transport abstracts the duplex channel to the gateway (WebSocket or
// HTTP long-poll). Owned by the session; the session must Close() it.
//
// Implementations deliver inbound envelopes to the OnMessage callback on a
// single goroutine, in arrival order.
type Transport interface {
	Send(ctx context.Context, env *protocol.Envelope) error
	OnMessage(func(*protocol.Envelope))
	// OnClose is invoked once when the channel dies without Close being called.
	OnClose(func(error))
	Close() error
}

// Dialer opens a Transport to one gateway address.
type Dialer interface {
	Dial(ctx context.Context, server string) (Transport, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, server string) (Transport, error)

func (f DialerFunc) Dial(ctx context.Context, server string) (Transport, error) {
	return f(ctx, server)
}
