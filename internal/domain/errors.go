package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrConnection: no reachable gateway, or the transport died.
	ErrConnection = errors.New("connection error")
	// ErrProtocol: malformed or unexpected envelope.
	ErrProtocol      = errors.New("protocol error")
	ErrAttach        = errors.New("attach error")
	ErrDetach        = errors.New("detach error")
	ErrSend          = errors.New("send error")
	ErrNegotiation   = errors.New("negotiation error")
	ErrTimeout       = errors.New("transaction timeout")
	ErrSessionClosed = errors.New("session closed")
)

// GatewayError is an error reported by the far end, either by the core
// ("janus":"error") or by a plugin (error_code/error in plugindata).
type GatewayError struct {
	Code   int
	Reason string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway error %d: %s", e.Code, e.Reason)
}
