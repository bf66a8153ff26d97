// Package longpoll talks to the Janus REST interface: requests are POSTed
// to /janus[/<session>[/<handle>]] and events are collected with a long
// poll GET on /janus/<session>.
package longpoll

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"

	"github.com/marekhoryna/janus-client/internal/core"
	"github.com/marekhoryna/janus-client/internal/domain"
	"github.com/marekhoryna/janus-client/internal/protocol"
)

const (
	DefaultMaxEvents   = 10
	DefaultMaxFailures = 3
	DefaultPollBackoff = 500 * time.Millisecond
	maxBody            = 4 << 20
)

var ErrClosed = errors.New("long poll transport closed")

type Options struct {
	Client    *http.Client
	MaxEvents int
	// RetryDelay spaces poll attempts after an empty or keepalive answer.
	RetryDelay time.Duration
	// MaxFailures consecutive failed polls report the connection lost.
	MaxFailures int
	// PollBackoff is the wait after the first failed poll; it grows
	// linearly with each further failure.
	PollBackoff time.Duration
}

func (o Options) withDefaults() Options {
	if o.Client == nil {
		o.Client = http.DefaultClient
	}
	if o.MaxEvents <= 0 {
		o.MaxEvents = DefaultMaxEvents
	}
	if o.MaxFailures <= 0 {
		o.MaxFailures = DefaultMaxFailures
	}
	if o.PollBackoff <= 0 {
		o.PollBackoff = DefaultPollBackoff
	}
	return o
}

type Dialer struct {
	opts Options
}

var _ core.Dialer = (*Dialer)(nil)

func NewDialer(o Options) *Dialer { return &Dialer{opts: o.withDefaults()} }

// Dial checks that server answers GET <server>/info. No session state is
// kept on the HTTP side until the first create.
func (d *Dialer) Dial(ctx context.Context, server string) (core.Transport, error) {
	u, err := url.Parse(server)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("%w: bad server url %q", domain.ErrConnection, server)
	}
	base := strings.TrimRight(server, "/")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/info", nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrConnection, err)
	}
	resp, err := d.opts.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: info %s: %w", domain.ErrConnection, server, err)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBody))
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: info %s: status %d", domain.ErrConnection, server, resp.StatusCode)
	}
	return newTransport(base, d.opts), nil
}

type Transport struct {
	base string
	opts Options
	log  zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     conc.WaitGroup
	wake   chan struct{}

	mu        sync.Mutex
	onMessage func(*protocol.Envelope)
	onClose   func(error)
	queue     []*protocol.Envelope
	polling   bool
	closed    bool
	lost      error
}

var _ core.Transport = (*Transport)(nil)

func newTransport(base string, o Options) *Transport {
	ctx, cancel := context.WithCancel(context.Background())
	t := &Transport{
		base:   base,
		opts:   o,
		log:    log.With().Str("module", "adapters.longpoll").Str("server", base).Logger(),
		ctx:    ctx,
		cancel: cancel,
		wake:   make(chan struct{}, 1),
	}
	t.wg.Go(t.run)
	return t
}

func (t *Transport) OnMessage(f func(*protocol.Envelope)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onMessage = f
}

func (t *Transport) OnClose(f func(error)) {
	t.mu.Lock()
	t.onClose = f
	lost := t.lost
	t.mu.Unlock()
	if lost != nil && f != nil {
		go f(lost)
	}
}

// Send POSTs env and queues the synchronous answer (success, error or ack)
// for delivery.
func (t *Transport) Send(ctx context.Context, env *protocol.Envelope) error {
	if t.isClosed() {
		return ErrClosed
	}
	data, err := protocol.Encode(env)
	if err != nil {
		return err
	}
	reply, err := t.post(ctx, t.endpoint(env), data)
	if err != nil {
		return err
	}
	if env.Janus == protocol.KindCreate && reply.Janus == protocol.KindSuccess && reply.Data != nil {
		t.startPolling(domain.SessionID(reply.Data.ID))
	}
	t.push(reply)
	return nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.queue = nil
	t.mu.Unlock()
	t.cancel()
	t.signal()
	t.log.Info().Msg("long poll transport closed")
	return nil
}

// Wait blocks until the poll and delivery goroutines have returned.
func (t *Transport) Wait() { t.wg.Wait() }

func (t *Transport) endpoint(env *protocol.Envelope) string {
	switch {
	case env.HandleID != 0:
		return t.base + "/" + env.SessionID.String() + "/" + env.HandleID.String()
	case env.SessionID != 0:
		return t.base + "/" + env.SessionID.String()
	default:
		return t.base
	}
}

func (t *Transport) post(ctx context.Context, endpoint string, body []byte) (*protocol.Envelope, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	raw, err := t.do(req)
	if err != nil {
		return nil, err
	}
	return protocol.Decode(raw)
}

func (t *Transport) do(req *http.Request) ([]byte, error) {
	resp, err := t.opts.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("%s %s: read body: %w", req.Method, req.URL.Path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s %s: status %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	return raw, nil
}

func (t *Transport) startPolling(sid domain.SessionID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.polling || t.closed {
		return
	}
	t.polling = true
	t.wg.Go(func() { t.poll(sid) })
}

func (t *Transport) poll(sid domain.SessionID) {
	l := t.log.With().Uint64("session", uint64(sid)).Logger()
	l.Debug().Int("maxev", t.opts.MaxEvents).Msg("long poll started")
	endpoint := t.base + "/" + sid.String()

	failures := 0
	// retry reports whether polling goes on after a failed attempt.
	retry := func(err error) bool {
		failures++
		if failures >= t.opts.MaxFailures {
			t.fail(fmt.Errorf("%d consecutive poll failures: %w", failures, err))
			return false
		}
		l.Warn().Err(err).Int("failures", failures).Msg("poll failed, retrying")
		return t.sleep(time.Duration(failures) * t.opts.PollBackoff)
	}

	for {
		q := url.Values{}
		q.Set("maxev", strconv.Itoa(t.opts.MaxEvents))
		q.Set("rid", strconv.FormatInt(time.Now().UnixMilli(), 10))
		req, err := http.NewRequestWithContext(t.ctx, http.MethodGet, endpoint+"?"+q.Encode(), nil)
		if err != nil {
			t.fail(err)
			return
		}
		raw, err := t.do(req)
		if err != nil {
			if t.ctx.Err() != nil || !retry(err) {
				return
			}
			continue
		}
		envs, err := protocol.DecodeBatch(raw)
		if err != nil {
			if !retry(fmt.Errorf("undecodable poll answer: %w", err)) {
				return
			}
			continue
		}
		failures = 0
		delivered := 0
		for _, env := range envs {
			if env.Janus == protocol.KindKeepalive {
				continue
			}
			t.push(env)
			delivered++
		}
		if delivered == 0 && t.opts.RetryDelay > 0 && !t.sleep(t.opts.RetryDelay) {
			return
		}
	}
}

// sleep waits d and reports false when the transport was closed meanwhile.
func (t *Transport) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-t.ctx.Done():
		return false
	}
}

func (t *Transport) push(env *protocol.Envelope) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.queue = append(t.queue, env)
	t.signal()
}

func (t *Transport) signal() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// run delivers answers and events on one goroutine, in arrival order.
func (t *Transport) run() {
	for {
		t.mu.Lock()
		items := t.queue
		t.queue = nil
		closed := t.closed
		handler := t.onMessage
		t.mu.Unlock()

		if closed {
			return
		}
		for _, env := range items {
			if handler != nil {
				handler(env)
			}
		}
		if len(items) == 0 {
			<-t.wake
		}
	}
}

func (t *Transport) fail(err error) {
	t.mu.Lock()
	if t.closed || t.lost != nil {
		t.mu.Unlock()
		return
	}
	t.lost = fmt.Errorf("%w: %w", domain.ErrConnection, err)
	handler := t.onClose
	lost := t.lost
	t.mu.Unlock()

	t.log.Error().Err(err).Msg("long poll lost")
	if handler != nil {
		handler(lost)
	}
}

func (t *Transport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed || t.lost != nil
}
