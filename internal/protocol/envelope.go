// Package protocol models the Janus wire surface: the JSON envelope shared
// by every request, response and event, and its codec.
package protocol

import (
	"github.com/goccy/go-json"

	"github.com/marekhoryna/janus-client/internal/domain"
)

type Kind string

// Requests.
const (
	KindCreate    Kind = "create"
	KindAttach    Kind = "attach"
	KindMessage   Kind = "message"
	KindKeepalive Kind = "keepalive"
	KindDetach    Kind = "detach"
	KindDestroy   Kind = "destroy"
	KindTrickle   Kind = "trickle"
	KindHangup    Kind = "hangup"
)

// Responses and events. trickle, hangup and keepalive also travel from
// the gateway to the client.
const (
	KindSuccess  Kind = "success"
	KindError    Kind = "error"
	KindAck      Kind = "ack"
	KindEvent    Kind = "event"
	KindWebRTCUp Kind = "webrtcup"
	KindMedia    Kind = "media"
	KindSlowLink Kind = "slowlink"
	KindDetached Kind = "detached"
	KindTimeout  Kind = "timeout"
)

// Envelope is the single JSON object exchanged with the gateway.
type Envelope struct {
	Janus       Kind                 `json:"janus"`
	Transaction domain.TransactionID `json:"transaction,omitempty"`
	SessionID   domain.SessionID     `json:"session_id,omitempty"`
	HandleID    domain.HandleID      `json:"handle_id,omitempty"`
	Sender      domain.HandleID      `json:"sender,omitempty"`

	Plugin    string `json:"plugin,omitempty"`
	OpaqueID  string `json:"opaque_id,omitempty"`
	Token     string `json:"token,omitempty"`
	APISecret string `json:"apisecret,omitempty"`

	Body       json.RawMessage    `json:"body,omitempty"`
	JSEP       *domain.JSEP       `json:"jsep,omitempty"`
	Candidate  *domain.Candidate  `json:"candidate,omitempty"`
	Candidates []domain.Candidate `json:"candidates,omitempty"`

	Data       *IDData       `json:"data,omitempty"`
	PluginData *PluginData   `json:"plugindata,omitempty"`
	Error      *ErrorPayload `json:"error,omitempty"`

	Reason    string `json:"reason,omitempty"`
	Uplink    *bool  `json:"uplink,omitempty"`
	Lost      int    `json:"lost,omitempty"`
	Type      string `json:"type,omitempty"`
	Receiving *bool  `json:"receiving,omitempty"`
}

// IDData is the "data" object of create/attach success replies.
type IDData struct {
	ID uint64 `json:"id"`
}

type PluginData struct {
	Plugin string          `json:"plugin"`
	Data   json.RawMessage `json:"data,omitempty"`
}

type ErrorPayload struct {
	Code   int    `json:"code"`
	Reason string `json:"reason"`
}

// HandleRef returns the handle an inbound envelope is about. Janus puts
// it in "sender"; some replies echo "handle_id" instead.
func (e *Envelope) HandleRef() domain.HandleID {
	if e.Sender != 0 {
		return e.Sender
	}
	return e.HandleID
}

// GatewayError converts an error reply into a domain error, or nil.
func (e *Envelope) GatewayError() *domain.GatewayError {
	if e.Janus != KindError {
		return nil
	}
	if e.Error == nil {
		return &domain.GatewayError{Reason: "unspecified gateway error"}
	}
	return &domain.GatewayError{Code: e.Error.Code, Reason: e.Error.Reason}
}

type pluginFailure struct {
	Code   int    `json:"error_code"`
	Reason string `json:"error"`
}

// PluginError extracts the error_code/error pair plugins put in their
// data object, or nil when the payload reports no failure.
func PluginError(data json.RawMessage) *domain.GatewayError {
	if len(data) == 0 {
		return nil
	}
	var f pluginFailure
	if err := json.Unmarshal(data, &f); err != nil || (f.Code == 0 && f.Reason == "") {
		return nil
	}
	return &domain.GatewayError{Code: f.Code, Reason: f.Reason}
}
