// Package dial picks a transport from the server URL scheme.
package dial

import (
	"context"
	"fmt"
	"net/url"

	"github.com/rs/zerolog/log"

	"github.com/marekhoryna/janus-client/internal/adapters/longpoll"
	"github.com/marekhoryna/janus-client/internal/adapters/ws"
	"github.com/marekhoryna/janus-client/internal/core"
	"github.com/marekhoryna/janus-client/internal/domain"
)

type Options struct {
	WS       ws.Options
	LongPoll longpoll.Options
}

// Dialer routes ws:// and wss:// servers to the WebSocket transport and
// http:// and https:// servers to the REST long poll transport.
type Dialer struct {
	ws       core.Dialer
	longpoll core.Dialer
}

var _ core.Dialer = (*Dialer)(nil)

func New(o Options) *Dialer {
	return &Dialer{
		ws:       ws.NewDialer(o.WS),
		longpoll: longpoll.NewDialer(o.LongPoll),
	}
}

func (d *Dialer) Dial(ctx context.Context, server string) (core.Transport, error) {
	u, err := url.Parse(server)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrConnection, err)
	}
	log.Debug().Str("module", "adapters.dial").Str("server", server).Msg("dialing")
	switch u.Scheme {
	case "ws", "wss":
		return d.ws.Dial(ctx, server)
	case "http", "https":
		return d.longpoll.Dial(ctx, server)
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", domain.ErrConnection, u.Scheme)
	}
}
