package session

import (
	"github.com/marekhoryna/janus-client/internal/protocol"
)

// dispatch receives every inbound envelope, on the transport's reader
// goroutine. Transactions win over handle events because replies to
// handle-scoped requests also carry the handle id.
func (s *Session) dispatch(env *protocol.Envelope) {
	if env.Transaction != "" {
		if s.txns.Pending(env.Transaction) {
			s.settle(env)
			return
		}
		switch env.Janus {
		case protocol.KindSuccess, protocol.KindError, protocol.KindAck:
			s.log.Debug().Str("tx", string(env.Transaction)).Str("janus", string(env.Janus)).Msg("late reply ignored")
			return
		}
	}

	if hid := env.HandleRef(); hid != 0 {
		h, ok := s.handles.get(hid)
		if !ok {
			s.log.Warn().Uint64("handle", uint64(hid)).Str("janus", string(env.Janus)).Msg("event for unknown handle dropped")
			return
		}
		h.intake(env)
		return
	}

	switch env.Janus {
	case protocol.KindTimeout:
		s.lose(errSessionTimeout)
	case protocol.KindKeepalive, protocol.KindAck:
	default:
		s.log.Debug().Str("janus", string(env.Janus)).Msg("session event ignored")
	}
}

func (s *Session) settle(env *protocol.Envelope) {
	tx := env.Transaction
	switch env.Janus {
	case protocol.KindAck:
		if s.txns.AcceptsAck(tx) {
			s.txns.Resolve(tx, env)
		}
	case protocol.KindError:
		s.txns.Reject(tx, env.GatewayError())
	default:
		if env.JSEP.IsOffer() {
			if h, ok := s.handles.get(env.HandleRef()); ok {
				h.observeRemoteOffer(*env.JSEP)
			}
		}
		s.txns.Resolve(tx, env)
	}
}
