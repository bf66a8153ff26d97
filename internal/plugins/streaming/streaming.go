// Package streaming drives janus.plugin.streaming: mountpoint discovery
// and receive-only playback.
package streaming

import (
	"context"
	"fmt"

	"github.com/spf13/cast"

	"github.com/marekhoryna/janus-client/internal/app/session"
	"github.com/marekhoryna/janus-client/internal/domain"
)

const PluginName = "janus.plugin.streaming"

type Mountpoint struct {
	ID          string `json:"-"`
	RawID       any    `json:"id"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Metadata    string `json:"metadata,omitempty"`
	Enabled     *bool  `json:"enabled,omitempty"`
}

func (m *Mountpoint) normalize() {
	m.ID = cast.ToString(m.RawID)
}

type Result struct {
	Status string `json:"status"`
}

type event struct {
	Streaming string       `json:"streaming"`
	Result    *Result      `json:"result,omitempty"`
	List      []Mountpoint `json:"list,omitempty"`
	Info      *Mountpoint  `json:"info,omitempty"`
	Switched  string       `json:"switched,omitempty"`
}

// Client wraps a handle attached to the streaming plugin.
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

// wireID sends numeric mountpoint ids as numbers, the rest as strings.
func wireID(id string) any {
	if n, err := cast.ToUint64E(id); err == nil {
		return n
	}
	return id
}

func (c *Client) do(ctx context.Context, body map[string]any) (*session.Reply, *event, error) {
	r, err := c.h.Request(ctx, session.Message{Body: body})
	if err != nil {
		return nil, nil, err
	}
	if gw := r.PluginError(); gw != nil {
		return nil, nil, fmt.Errorf("streaming %v: %w", body["request"], gw)
	}
	var ev event
	if err := r.Decode(&ev); err != nil {
		return nil, nil, fmt.Errorf("%w: streaming reply: %v", domain.ErrProtocol, err)
	}
	return r, &ev, nil
}

func (c *Client) List(ctx context.Context) ([]Mountpoint, error) {
	_, ev, err := c.do(ctx, map[string]any{"request": "list"})
	if err != nil {
		return nil, err
	}
	for i := range ev.List {
		ev.List[i].normalize()
	}
	return ev.List, nil
}

func (c *Client) Info(ctx context.Context, id string) (*Mountpoint, error) {
	_, ev, err := c.do(ctx, map[string]any{"request": "info", "id": wireID(id)})
	if err != nil {
		return nil, err
	}
	if ev.Info == nil {
		return nil, fmt.Errorf("%w: info reply without mountpoint", domain.ErrProtocol)
	}
	ev.Info.normalize()
	return ev.Info, nil
}

// Watch asks for a mountpoint and returns the gateway's offer. The offer
// stays on file for Start.
func (c *Client) Watch(ctx context.Context, id string) (*domain.JSEP, error) {
	r, _, err := c.do(ctx, map[string]any{"request": "watch", "id": wireID(id)})
	if err != nil {
		return nil, err
	}
	if !r.JSEP.IsOffer() {
		return nil, fmt.Errorf("%w: watch reply without offer", domain.ErrProtocol)
	}
	return r.JSEP, nil
}

// Start answers the watched mountpoint's offer and starts playback.
func (c *Client) Start(ctx context.Context, media domain.MediaConstraints) (string, error) {
	r, err := c.h.Answer(ctx, session.AnswerOptions{
		Media: media,
		Body:  map[string]any{"request": "start"},
	})
	if err != nil {
		return "", err
	}
	return status(r, "start")
}

func (c *Client) Pause(ctx context.Context) (string, error) {
	return c.control(ctx, "pause")
}

func (c *Client) Stop(ctx context.Context) (string, error) {
	return c.control(ctx, "stop")
}

func (c *Client) control(ctx context.Context, req string) (string, error) {
	r, _, err := c.do(ctx, map[string]any{"request": req})
	if err != nil {
		return "", err
	}
	return status(r, req)
}

// Switch moves the running playback to another mountpoint without
// renegotiating.
func (c *Client) Switch(ctx context.Context, id string) error {
	_, ev, err := c.do(ctx, map[string]any{"request": "switch", "id": wireID(id)})
	if err != nil {
		return err
	}
	if ev.Switched != "ok" {
		return fmt.Errorf("%w: switch not confirmed", domain.ErrProtocol)
	}
	return nil
}

func status(r *session.Reply, req string) (string, error) {
	if gw := r.PluginError(); gw != nil {
		return "", fmt.Errorf("streaming %s: %w", req, gw)
	}
	var ev event
	if err := r.Decode(&ev); err != nil {
		return "", fmt.Errorf("%w: streaming reply: %v", domain.ErrProtocol, err)
	}
	if ev.Result == nil {
		return "", nil
	}
	return ev.Result.Status, nil
}
