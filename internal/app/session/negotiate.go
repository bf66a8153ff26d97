package session

import (
	"context"
	"fmt"

	"github.com/marekhoryna/janus-client/internal/app/negotiation"
	"github.com/marekhoryna/janus-client/internal/app/txn"
	"github.com/marekhoryna/janus-client/internal/core"
	"github.com/marekhoryna/janus-client/internal/domain"
	"github.com/marekhoryna/janus-client/internal/protocol"
)

// CreateOffer builds a local offer and sends it with o.Body. An answer
// carried by the reply is applied before cb.Success runs.
func (h *Handle) CreateOffer(o OfferOptions, cb ReplyCallbacks) {
	h.offer(h.session.ctx, o, cb, h.session.emit)
}

// Offer is the blocking form of CreateOffer.
func (h *Handle) Offer(ctx context.Context, o OfferOptions) (*Reply, error) {
	ch := make(chan result, 1)
	h.offer(ctx, o, collect(ch), inline)
	select {
	case r := <-ch:
		return r.reply, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *Handle) offer(ctx context.Context, o OfferOptions, cb ReplyCallbacks, deliver deliverFunc) {
	fail := func(err error) { deliver(func() { cb.fail(err) }) }
	if err := h.usable(); err != nil {
		fail(fmt.Errorf("%w: %w", domain.ErrNegotiation, err))
		return
	}
	trickle := h.trickleFor(o.Trickle)
	if err := h.neg.BeginOffer(trickle); err != nil {
		fail(err)
		return
	}
	e, err := h.ensureEngine()
	if err != nil {
		h.neg.Abort()
		fail(err)
		return
	}

	go func() {
		jsep, err := e.CreateLocalDescription(ctx, domain.RoleOfferer, o.Media, trickle)
		if err != nil {
			h.neg.Abort()
			fail(fmt.Errorf("%w: create offer: %w", domain.ErrNegotiation, err))
			return
		}
		if err := h.neg.LocalDescriptionReady(); err != nil {
			fail(err)
			return
		}
		if !trickle {
			jsep.Trickle = &trickle
		}
		h.log.Debug().Bool("trickle", trickle).Msg("offer ready")
		h.message(ctx, Message{Body: o.Body, JSEP: &jsep}, ReplyCallbacks{
			Success: func(r *Reply) {
				if r.JSEP.IsAnswer() {
					if err := h.HandleRemoteJSEP(*r.JSEP); err != nil {
						cb.fail(err)
						return
					}
				}
				cb.success(r)
			},
			Error: func(err error) {
				h.neg.Abort()
				cb.fail(err)
			},
		}, deliver)
	}()
}

// CreateAnswer answers the remote offer on file, or o.JSEP.
func (h *Handle) CreateAnswer(o AnswerOptions, cb ReplyCallbacks) {
	h.answer(h.session.ctx, o, cb, h.session.emit)
}

// Answer is the blocking form of CreateAnswer.
func (h *Handle) Answer(ctx context.Context, o AnswerOptions) (*Reply, error) {
	ch := make(chan result, 1)
	h.answer(ctx, o, collect(ch), inline)
	select {
	case r := <-ch:
		return r.reply, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *Handle) answer(ctx context.Context, o AnswerOptions, cb ReplyCallbacks, deliver deliverFunc) {
	fail := func(err error) { deliver(func() { cb.fail(err) }) }
	if err := h.usable(); err != nil {
		fail(fmt.Errorf("%w: %w", domain.ErrNegotiation, err))
		return
	}
	if o.JSEP != nil {
		if _, err := protocol.ValidateJSEP(o.JSEP); err != nil {
			fail(err)
			return
		}
		if cur, ok := h.neg.PendingRemoteOffer(); !ok || cur.SDP != o.JSEP.SDP {
			if err := h.neg.RemoteOffer(*o.JSEP); err != nil {
				fail(err)
				return
			}
		}
	}
	trickle := h.trickleFor(o.Trickle)
	remote, err := h.neg.BeginAnswer(trickle)
	if err != nil {
		fail(err)
		return
	}
	e, err := h.ensureEngine()
	if err != nil {
		h.neg.Abort()
		fail(err)
		return
	}

	go func() {
		if !h.neg.RemoteApplied() {
			if err := h.applyRemote(e, remote); err != nil {
				h.neg.Abort()
				fail(err)
				return
			}
		}
		jsep, err := e.CreateLocalDescription(ctx, domain.RoleAnswerer, o.Media, trickle)
		if err != nil {
			h.neg.Abort()
			fail(fmt.Errorf("%w: create answer: %w", domain.ErrNegotiation, err))
			return
		}
		if err := h.neg.LocalDescriptionReady(); err != nil {
			fail(err)
			return
		}
		if !trickle {
			jsep.Trickle = &trickle
		}
		h.log.Debug().Bool("trickle", trickle).Msg("answer ready")
		h.message(ctx, Message{Body: o.Body, JSEP: &jsep}, ReplyCallbacks{
			Success: func(r *Reply) {
				if err := h.neg.AnswerAcknowledged(); err != nil {
					h.log.Debug().Err(err).Msg("answer acknowledged after reset")
				}
				cb.success(r)
			},
			Error: func(err error) {
				h.neg.Abort()
				cb.fail(err)
			},
		}, deliver)
	}()
}

// HandleRemoteJSEP applies a description received from the gateway and
// then the remote candidates that arrived before it.
func (h *Handle) HandleRemoteJSEP(j domain.JSEP) error {
	if err := h.usable(); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrNegotiation, err)
	}
	if _, err := protocol.ValidateJSEP(&j); err != nil {
		return err
	}

	if j.IsOffer() {
		if err := h.neg.RemoteOffer(j); err != nil {
			return err
		}
		e, err := h.ensureEngine()
		if err != nil {
			return err
		}
		return h.applyRemote(e, j)
	}

	if st := h.neg.State(); st != negotiation.OfferSent {
		return fmt.Errorf("%w: answer received in state %s", domain.ErrNegotiation, st)
	}
	e := h.currentEngine()
	if e == nil {
		return fmt.Errorf("%w: answer without media session", domain.ErrNegotiation)
	}
	if err := e.ApplyRemoteDescription(j); err != nil {
		return fmt.Errorf("%w: apply answer: %w", domain.ErrNegotiation, err)
	}
	if err := h.neg.RemoteAnswer(j); err != nil {
		return err
	}
	h.flushRemote(e)
	return nil
}

func (h *Handle) applyRemote(e core.MediaEngine, j domain.JSEP) error {
	if err := e.ApplyRemoteDescription(j); err != nil {
		return fmt.Errorf("%w: apply %s: %w", domain.ErrNegotiation, j.Type, err)
	}
	h.flushRemote(e)
	return nil
}

func (h *Handle) flushRemote(e core.MediaEngine) {
	h.candMu.Lock()
	defer h.candMu.Unlock()
	for _, c := range h.neg.MarkRemoteApplied() {
		h.addRemoteCandidate(e, c)
	}
}

// observeRemoteOffer records an offer seen in a reply or event so a later
// answer can pick it up.
func (h *Handle) observeRemoteOffer(j domain.JSEP) {
	if err := h.neg.RemoteOffer(j); err != nil {
		h.log.Warn().Err(err).Msg("remote offer ignored")
		return
	}
	h.log.Debug().Msg("remote offer on file")
}

func (h *Handle) onEventJSEP(j domain.JSEP) {
	switch {
	case j.IsOffer():
		h.observeRemoteOffer(j)
	case j.IsAnswer() && h.neg.State() == negotiation.OfferSent:
		if err := h.HandleRemoteJSEP(j); err != nil {
			h.log.Warn().Err(err).Msg("remote answer not applied")
		}
	}
}

// onRemoteCandidate takes a trickled gateway candidate. Until a remote
// description is applied candidates are buffered in arrival order.
func (h *Handle) onRemoteCandidate(c *domain.Candidate) {
	if c != nil && c.Completed {
		c = nil
	}
	if err := protocol.ValidateCandidate(c); err != nil {
		h.log.Warn().Err(err).Msg("remote candidate dropped")
		return
	}
	h.candMu.Lock()
	defer h.candMu.Unlock()
	if h.neg.QueueRemote(c) {
		return
	}
	e := h.currentEngine()
	if e == nil {
		h.log.Debug().Msg("remote candidate without media session")
		return
	}
	h.addRemoteCandidate(e, c)
}

func (h *Handle) addRemoteCandidate(e core.MediaEngine, c *domain.Candidate) {
	cand := domain.Candidate{Completed: true}
	if c != nil {
		cand = *c
	}
	if err := e.AddICECandidate(cand); err != nil {
		h.log.Warn().Err(err).Msg("add remote candidate")
	}
}

// onLocalCandidate forwards gathered candidates while trickling. nil ends
// gathering.
func (h *Handle) onLocalCandidate(c *domain.Candidate) {
	if !h.neg.Trickle() {
		return
	}
	h.neg.QueueLocal(c)

	h.trickleMu.Lock()
	defer h.trickleMu.Unlock()
	for _, cand := range h.neg.DrainLocal() {
		h.sendTrickle(cand)
	}
}

func (h *Handle) sendTrickle(c *domain.Candidate) {
	s := h.session
	_, err := s.request(s.ctx, txn.Options{Timeout: s.opts.TransactionTimeout, AckCompletes: true},
		func(tx domain.TransactionID) (*protocol.Envelope, error) {
			return protocol.NewTrickle(tx, s.ID(), h.id, c, s.creds), nil
		},
		txn.Callbacks{
			Error: func(err error) { h.log.Warn().Err(err).Msg("trickle failed") },
		})
	if err != nil {
		h.log.Warn().Err(err).Msg("trickle not sent")
	}
}

func (h *Handle) trickleFor(override *bool) bool {
	if override != nil {
		return *override
	}
	return !h.session.opts.DisableTrickle
}

func (h *Handle) currentEngine() core.MediaEngine {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.engine
}

// ensureEngine returns the handle's media engine, creating and wiring one
// on first use.
func (h *Handle) ensureEngine() (core.MediaEngine, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.engine != nil {
		return h.engine, nil
	}
	factory := h.session.opts.MediaFactory
	if factory == nil {
		return nil, fmt.Errorf("%w: no media engine configured", domain.ErrNegotiation)
	}
	e, err := factory(h.id)
	if err != nil {
		return nil, fmt.Errorf("%w: media engine: %w", domain.ErrNegotiation, err)
	}

	s := h.session
	e.OnICECandidate(h.onLocalCandidate)
	e.OnRemoteTrack(func(t domain.Track) {
		s.emit(func() {
			if h.cb.OnRemoteStream != nil {
				h.cb.OnRemoteStream(t)
			}
		})
	})
	e.OnLocalTrack(func(t domain.Track) {
		s.emit(func() {
			if h.cb.OnLocalStream != nil {
				h.cb.OnLocalStream(t)
			}
		})
	})
	e.OnData(func(data []byte) {
		s.emit(func() {
			if h.cb.OnData != nil {
				h.cb.OnData(data)
			}
		})
	})
	e.OnDataOpen(func(label string) {
		s.emit(func() {
			if h.cb.OnDataOpen != nil {
				h.cb.OnDataOpen(label)
			}
		})
	})
	if h.audioMuted {
		e.SetTrackEnabled(domain.TrackAudio, false)
	}
	if h.videoMuted {
		e.SetTrackEnabled(domain.TrackVideo, false)
	}
	h.engine = e
	return e, nil
}
