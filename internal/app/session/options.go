package session

import (
	"time"

	"github.com/goccy/go-json"

	"github.com/marekhoryna/janus-client/internal/app/keepalive"
	"github.com/marekhoryna/janus-client/internal/core"
	"github.com/marekhoryna/janus-client/internal/domain"
	"github.com/marekhoryna/janus-client/internal/protocol"
)

const DefaultTransactionTimeout = 30 * time.Second

// Callbacks are session-wide notifications. Each is optional.
type Callbacks struct {
	Success   func(*Session)
	Error     func(error)
	Destroyed func()
}

type Options struct {
	// Servers are tried in order until one accepts "create".
	Servers   []string
	Token     string
	APISecret string

	KeepalivePeriod      time.Duration
	MaxKeepaliveFailures int
	TransactionTimeout   time.Duration
	// DisableTrickle sends complete descriptions instead of trickling
	// candidates, unless an offer/answer overrides it.
	DisableTrickle bool

	Dialer       core.Dialer
	MediaFactory core.MediaEngineFactory
	Callbacks    Callbacks
}

func (o Options) withDefaults() Options {
	if o.KeepalivePeriod <= 0 {
		o.KeepalivePeriod = keepalive.DefaultInterval
	}
	if o.MaxKeepaliveFailures <= 0 {
		o.MaxKeepaliveFailures = keepalive.DefaultMaxFailures
	}
	if o.TransactionTimeout <= 0 {
		o.TransactionTimeout = DefaultTransactionTimeout
	}
	return o
}

type AttachOptions struct {
	Plugin string
	// OpaqueID defaults to "<plugin>-<uuid>".
	OpaqueID  string
	Callbacks HandleCallbacks
}

type DestroyOptions struct {
	// NoRequest tears the session down locally without telling the gateway.
	NoRequest bool
}

// HandleCallbacks is the capability set of a handle. Unset entries are
// skipped. All of them run on the session's callback goroutine.
type HandleCallbacks struct {
	OnMessage      func(*Reply)
	OnLocalStream  func(domain.Track)
	OnRemoteStream func(domain.Track)
	OnCleanup      func()
	OnData         func([]byte)
	OnDataOpen     func(label string)
	SlowLink       func(uplink bool, lost int)
	WebRTCState    func(up bool, reason string)
	MediaState     func(kind string, receiving bool)
	Detached       func()
}

// Message is a plugin request.
type Message struct {
	Body any
	JSEP *domain.JSEP
	// Timeout overrides Options.TransactionTimeout for this request.
	Timeout time.Duration
}

// Reply is a plugin response or event.
type Reply struct {
	Plugin   string
	Data     json.RawMessage
	JSEP     *domain.JSEP
	Envelope *protocol.Envelope
}

func newReply(env *protocol.Envelope) *Reply {
	r := &Reply{Envelope: env, JSEP: env.JSEP}
	if env.PluginData != nil {
		r.Plugin = env.PluginData.Plugin
		r.Data = env.PluginData.Data
	}
	return r
}

// PluginError reports an error_code/error pair inside the plugin data.
func (r *Reply) PluginError() *domain.GatewayError {
	return protocol.PluginError(r.Data)
}

// Decode unmarshals the plugin data into v.
func (r *Reply) Decode(v any) error {
	if len(r.Data) == 0 {
		return nil
	}
	return json.Unmarshal(r.Data, v)
}

type ReplyCallbacks struct {
	Success func(*Reply)
	Error   func(error)
}

func (c ReplyCallbacks) success(r *Reply) {
	if c.Success != nil {
		c.Success(r)
	}
}

func (c ReplyCallbacks) fail(err error) {
	if c.Error != nil {
		c.Error(err)
	}
}

type OfferOptions struct {
	Media domain.MediaConstraints
	// Trickle overrides Options.DisableTrickle when set.
	Trickle *bool
	// Body is the plugin request the offer travels with.
	Body any
}

type AnswerOptions struct {
	Media   domain.MediaConstraints
	Trickle *bool
	// JSEP is the remote offer to answer. When nil, the last offer
	// received on the handle is used.
	JSEP *domain.JSEP
	Body any
}

// deliver decides where a completion runs: the callback queue for the
// asynchronous API, inline for the blocking wrappers.
type deliverFunc func(func())

func inline(f func()) { f() }

type result struct {
	reply *Reply
	err   error
}

func collect(ch chan<- result) ReplyCallbacks {
	return ReplyCallbacks{
		Success: func(r *Reply) { ch <- result{reply: r} },
		Error:   func(err error) { ch <- result{err: err} },
	}
}
