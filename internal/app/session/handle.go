package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/marekhoryna/janus-client/internal/app/negotiation"
	"github.com/marekhoryna/janus-client/internal/app/txn"
	"github.com/marekhoryna/janus-client/internal/core"
	"github.com/marekhoryna/janus-client/internal/domain"
	"github.com/marekhoryna/janus-client/internal/protocol"
)

var errHandleDetached = errors.New("handle detached")

// Handle is one plugin conversation inside a session.
type Handle struct {
	session *Session
	id      domain.HandleID
	plugin  domain.Plugin
	cb      HandleCallbacks
	neg     *negotiation.Machine
	log     zerolog.Logger

	mu         sync.Mutex
	engine     core.MediaEngine
	audioMuted bool
	videoMuted bool
	detaching  bool
	detached   bool
	abandoned  bool

	// candMu orders remote candidate application against the flush that
	// follows a remote description.
	candMu sync.Mutex
	// trickleMu keeps local candidates in gathering order on the wire.
	trickleMu sync.Mutex
}

func newHandle(s *Session, id domain.HandleID, p domain.Plugin, cb HandleCallbacks) *Handle {
	return &Handle{
		session: s,
		id:      id,
		plugin:  p,
		cb:      cb,
		neg:     negotiation.New(),
		log: s.log.With().
			Uint64("handle", uint64(id)).
			Str("plugin", p.Name).
			Logger(),
	}
}

func (h *Handle) ID() domain.HandleID      { return h.id }
func (h *Handle) Plugin() string           { return h.plugin.Name }
func (h *Handle) OpaqueID() string         { return h.plugin.OpaqueID }
func (h *Handle) Session() *Session        { return h.session }
func (h *Handle) State() negotiation.State { return h.neg.State() }

func (h *Handle) IsAudioMuted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.audioMuted
}

func (h *Handle) IsVideoMuted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.videoMuted
}

// Bitrate is the inbound video bitrate of the media session in bits per
// second, or 0 without one.
func (h *Handle) Bitrate() uint64 {
	e := h.currentEngine()
	if e == nil {
		return 0
	}
	return e.Bitrate()
}

func (h *Handle) MuteAudio()   { h.setMuted(domain.TrackAudio, true) }
func (h *Handle) UnmuteAudio() { h.setMuted(domain.TrackAudio, false) }
func (h *Handle) MuteVideo()   { h.setMuted(domain.TrackVideo, true) }
func (h *Handle) UnmuteVideo() { h.setMuted(domain.TrackVideo, false) }

func (h *Handle) setMuted(kind domain.TrackKind, muted bool) {
	h.mu.Lock()
	if kind == domain.TrackAudio {
		h.audioMuted = muted
	} else {
		h.videoMuted = muted
	}
	e := h.engine
	h.mu.Unlock()
	if e != nil {
		e.SetTrackEnabled(kind, !muted)
	}
	h.log.Debug().Str("kind", string(kind)).Bool("muted", muted).Msg("mute toggled")
}

// usable reports why the handle cannot talk to the gateway, if it can't.
func (h *Handle) usable() error {
	h.mu.Lock()
	abandoned, detached := h.abandoned, h.detached
	h.mu.Unlock()
	switch {
	case abandoned:
		return domain.ErrSessionClosed
	case detached:
		return errHandleDetached
	case !h.session.IsConnected():
		return domain.ErrSessionClosed
	}
	return nil
}

func (h *Handle) isAbandoned() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.abandoned
}

// Send delivers a plugin request. cb runs on the session callback goroutine.
func (h *Handle) Send(m Message, cb ReplyCallbacks) {
	h.message(h.session.ctx, m, cb, h.session.emit)
}

// Request is the blocking form of Send.
func (h *Handle) Request(ctx context.Context, m Message) (*Reply, error) {
	ch := make(chan result, 1)
	tx := h.message(ctx, m, collect(ch), inline)
	select {
	case r := <-ch:
		return r.reply, r.err
	case <-ctx.Done():
		if tx != "" && h.session.txns.Abandon(tx) {
			return nil, fmt.Errorf("%w: %w", domain.ErrSend, ctx.Err())
		}
		r := <-ch
		return r.reply, r.err
	}
}

func (h *Handle) message(ctx context.Context, m Message, cb ReplyCallbacks, deliver deliverFunc) domain.TransactionID {
	fail := func(err error) {
		err = fmt.Errorf("%w: %w", domain.ErrSend, err)
		deliver(func() { cb.fail(err) })
	}
	if err := h.usable(); err != nil {
		fail(err)
		return ""
	}

	s := h.session
	timeout := m.Timeout
	if timeout <= 0 {
		timeout = s.opts.TransactionTimeout
	}
	tx, err := s.request(ctx, txn.Options{Timeout: timeout},
		func(tx domain.TransactionID) (*protocol.Envelope, error) {
			return protocol.NewMessage(tx, s.ID(), h.id, m.Body, m.JSEP, s.creds)
		},
		txn.Callbacks{
			Success: func(env *protocol.Envelope) {
				r := newReply(env)
				deliver(func() { cb.success(r) })
			},
			Error: fail,
		})
	if err != nil {
		fail(err)
	}
	return tx
}

// Hangup tears the media session down locally and, if sendRequest is
// set, asks the gateway to do the same. OnCleanup fires once per call.
func (h *Handle) Hangup(sendRequest bool) error {
	h.teardownMedia()
	var err error
	if sendRequest {
		err = h.sendHangup()
	}
	h.emitCleanup()
	return err
}

func (h *Handle) sendHangup() error {
	if err := h.usable(); err != nil {
		return err
	}
	s := h.session
	_, err := s.request(s.ctx, txn.Options{Timeout: s.opts.TransactionTimeout, AckCompletes: true},
		func(tx domain.TransactionID) (*protocol.Envelope, error) {
			return protocol.NewHangup(tx, s.ID(), h.id, s.creds), nil
		},
		txn.Callbacks{
			Error: func(err error) { h.log.Warn().Err(err).Msg("hangup failed") },
		})
	return err
}

func (h *Handle) teardownMedia() {
	h.mu.Lock()
	e := h.engine
	h.engine = nil
	h.mu.Unlock()

	h.neg.Reset()
	if e != nil {
		if err := e.Close(); err != nil {
			h.log.Warn().Err(err).Msg("media engine close")
		}
	}
}

// Detach releases the handle on the gateway. It fails on a handle that is
// already detached or being detached.
func (h *Handle) Detach(ctx context.Context) error {
	h.mu.Lock()
	switch {
	case h.abandoned:
		h.mu.Unlock()
		return fmt.Errorf("%w: %w", domain.ErrDetach, domain.ErrSessionClosed)
	case h.detached:
		h.mu.Unlock()
		return fmt.Errorf("%w: handle %d already detached", domain.ErrDetach, h.id)
	case h.detaching:
		h.mu.Unlock()
		return fmt.Errorf("%w: handle %d detach in progress", domain.ErrDetach, h.id)
	}
	h.detaching = true
	h.mu.Unlock()

	s := h.session
	_, err := s.roundTrip(ctx, txn.Options{Timeout: s.opts.TransactionTimeout},
		func(tx domain.TransactionID) (*protocol.Envelope, error) {
			return protocol.NewDetach(tx, s.ID(), h.id, s.creds), nil
		})
	if err != nil {
		h.mu.Lock()
		h.detaching = false
		h.mu.Unlock()
		return fmt.Errorf("%w: %w", domain.ErrDetach, err)
	}

	s.handles.remove(h.id)
	h.detachLocal(true)
	return nil
}

// detachLocal marks the handle detached and fires OnCleanup (when cleanup
// is set) and Detached. Only the first call has an effect.
func (h *Handle) detachLocal(cleanup bool) {
	h.mu.Lock()
	if h.detached {
		h.mu.Unlock()
		return
	}
	h.detached = true
	h.detaching = false
	h.mu.Unlock()

	if cleanup {
		h.teardownMedia()
		h.emitCleanup()
	}
	h.session.emit(func() {
		if h.cb.Detached != nil {
			h.cb.Detached()
		}
	})
	h.log.Info().Msg("handle detached")
}

// abandon cuts the handle off after the session was lost.
func (h *Handle) abandon() {
	h.mu.Lock()
	if h.abandoned || h.detached {
		h.mu.Unlock()
		return
	}
	h.abandoned = true
	h.mu.Unlock()

	h.teardownMedia()
	h.emitCleanup()
}

func (h *Handle) emitCleanup() {
	h.session.emit(func() {
		if h.cb.OnCleanup != nil {
			h.cb.OnCleanup()
		}
	})
}

// SendData writes to the data channel negotiated on this handle.
func (h *Handle) SendData(data []byte) error {
	if err := h.usable(); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrSend, err)
	}
	e := h.currentEngine()
	if e == nil {
		return fmt.Errorf("%w: no media session", domain.ErrSend)
	}
	if err := e.SendData(data); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrSend, err)
	}
	return nil
}

// intake handles an event addressed to this handle.
func (h *Handle) intake(env *protocol.Envelope) {
	switch env.Janus {
	case protocol.KindEvent:
		if env.JSEP != nil {
			h.onEventJSEP(*env.JSEP)
		}
		r := newReply(env)
		h.session.emit(func() {
			if h.cb.OnMessage != nil {
				h.cb.OnMessage(r)
			}
		})
	case protocol.KindWebRTCUp:
		h.emitWebRTCState(true, "")
	case protocol.KindHangup:
		h.log.Info().Str("reason", env.Reason).Msg("hangup from gateway")
		h.emitWebRTCState(false, env.Reason)
		h.teardownMedia()
		h.emitCleanup()
	case protocol.KindMedia:
		receiving := env.Receiving != nil && *env.Receiving
		kind := env.Type
		h.session.emit(func() {
			if h.cb.MediaState != nil {
				h.cb.MediaState(kind, receiving)
			}
		})
	case protocol.KindSlowLink:
		uplink := env.Uplink != nil && *env.Uplink
		lost := env.Lost
		h.log.Warn().Bool("uplink", uplink).Int("lost", lost).Msg("slow link")
		h.session.emit(func() {
			if h.cb.SlowLink != nil {
				h.cb.SlowLink(uplink, lost)
			}
		})
	case protocol.KindDetached:
		h.session.handles.remove(h.id)
		h.detachLocal(true)
	case protocol.KindTrickle:
		if env.Candidate != nil {
			h.onRemoteCandidate(env.Candidate)
		}
		for i := range env.Candidates {
			h.onRemoteCandidate(&env.Candidates[i])
		}
	default:
		h.log.Debug().Str("janus", string(env.Janus)).Msg("handle event ignored")
	}
}

func (h *Handle) emitWebRTCState(up bool, reason string) {
	h.session.emit(func() {
		if h.cb.WebRTCState != nil {
			h.cb.WebRTCState(up, reason)
		}
	})
}
