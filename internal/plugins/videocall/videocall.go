// Package videocall drives janus.plugin.videocall: register a username,
// call a peer or accept its call.
package videocall

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/marekhoryna/janus-client/internal/app/session"
	"github.com/marekhoryna/janus-client/internal/domain"
)

const PluginName = "janus.plugin.videocall"

type EventKind string

const (
	EventRegistered   EventKind = "registered"
	EventCalling      EventKind = "calling"
	EventIncomingCall EventKind = "incomingcall"
	EventAccepted     EventKind = "accepted"
	EventUpdate       EventKind = "update"
	EventHangup       EventKind = "hangup"
	EventSet          EventKind = "set"
)

// Event is a decoded videocall notification.
type Event struct {
	Kind     EventKind
	Username string
	Reason   string
	List     []string
}

type payload struct {
	VideoCall string `json:"videocall"`
	Result    *struct {
		Event    string   `json:"event"`
		Username string   `json:"username"`
		Reason   string   `json:"reason"`
		List     []string `json:"list"`
	} `json:"result"`
	ErrorCode int    `json:"error_code"`
	Error     string `json:"error"`
}

// ParseEvent decodes the plugin data of a videocall reply or event.
// Plugin failures come back as *domain.GatewayError.
func ParseEvent(data json.RawMessage) (*Event, error) {
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: videocall event: %v", domain.ErrProtocol, err)
	}
	if p.ErrorCode != 0 || p.Error != "" {
		return nil, &domain.GatewayError{Code: p.ErrorCode, Reason: p.Error}
	}
	if p.Result == nil {
		return nil, fmt.Errorf("%w: videocall event without result", domain.ErrProtocol)
	}
	return &Event{
		Kind:     EventKind(p.Result.Event),
		Username: p.Result.Username,
		Reason:   p.Result.Reason,
		List:     p.Result.List,
	}, nil
}

type SetOptions struct {
	Audio    *bool  `json:"audio,omitempty"`
	Video    *bool  `json:"video,omitempty"`
	Bitrate  uint32 `json:"bitrate,omitempty"`
	Record   *bool  `json:"record,omitempty"`
	Filename string `json:"filename,omitempty"`
}

type setRequest struct {
	Request string `json:"request"`
	SetOptions
}

type Client struct {
	h *session.Handle
}

func Attach(ctx context.Context, s *session.Session, cb session.HandleCallbacks) (*Client, error) {
	h, err := s.Attach(ctx, session.AttachOptions{Plugin: PluginName, Callbacks: cb})
	if err != nil {
		return nil, err
	}
	return &Client{h: h}, nil
}

func New(h *session.Handle) *Client { return &Client{h: h} }

func (c *Client) Handle() *session.Handle { return c.h }

func (c *Client) request(ctx context.Context, body any) (*Event, error) {
	r, err := c.h.Request(ctx, session.Message{Body: body})
	if err != nil {
		return nil, err
	}
	return ParseEvent(r.Data)
}

// List returns the registered usernames.
func (c *Client) List(ctx context.Context) ([]string, error) {
	ev, err := c.request(ctx, map[string]string{"request": "list"})
	if err != nil {
		return nil, err
	}
	return ev.List, nil
}

func (c *Client) Register(ctx context.Context, username string) error {
	ev, err := c.request(ctx, map[string]string{"request": "register", "username": username})
	if err != nil {
		return err
	}
	if ev.Kind != EventRegistered {
		return fmt.Errorf("%w: register answered with %q", domain.ErrProtocol, ev.Kind)
	}
	return nil
}

// Call offers media to username. The answer arrives later with the
// "accepted" event and is applied by the handle.
func (c *Client) Call(ctx context.Context, username string, media domain.MediaConstraints) error {
	r, err := c.h.Offer(ctx, session.OfferOptions{
		Media: media,
		Body:  map[string]string{"request": "call", "username": username},
	})
	if err != nil {
		return err
	}
	_, err = ParseEvent(r.Data)
	return err
}

// Accept answers the offer of an incoming call.
func (c *Client) Accept(ctx context.Context, media domain.MediaConstraints) error {
	r, err := c.h.Answer(ctx, session.AnswerOptions{
		Media: media,
		Body:  map[string]string{"request": "accept"},
	})
	if err != nil {
		return err
	}
	_, err = ParseEvent(r.Data)
	return err
}

func (c *Client) Set(ctx context.Context, o SetOptions) error {
	_, err := c.request(ctx, setRequest{Request: "set", SetOptions: o})
	return err
}

// Hangup ends the call on the gateway and tears down local media.
func (c *Client) Hangup(ctx context.Context) error {
	if _, err := c.request(ctx, map[string]string{"request": "hangup"}); err != nil {
		return err
	}
	return c.h.Hangup(false)
}
