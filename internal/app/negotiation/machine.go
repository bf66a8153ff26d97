// Package negotiation tracks the offer/answer and trickle ICE progress of
// one plugin handle. It holds no media; the handle drives the engine and
// asks the machine what is allowed next.
package negotiation

import (
	"fmt"
	"sync"

	"github.com/marekhoryna/janus-client/internal/domain"
)

type State int

const (
	Idle State = iota
	AwaitingLocalDescription
	OfferSent
	AwaitingRemoteAck
	AnswerSent
	Negotiated
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingLocalDescription:
		return "awaiting-local-description"
	case OfferSent:
		return "offer-sent"
	case AwaitingRemoteAck:
		return "awaiting-remote-ack"
	case AnswerSent:
		return "answer-sent"
	case Negotiated:
		return "negotiated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type Machine struct {
	mu sync.Mutex

	state     State
	role      domain.SDPRole
	trickle   bool
	answering bool

	hasLocal      bool
	hasRemote     bool
	remoteApplied bool
	remoteOffer   *domain.JSEP

	localCands  []*domain.Candidate
	remoteCands []*domain.Candidate
}

func New() *Machine { return &Machine{} }

func (m *Machine) violation(op string) error {
	return fmt.Errorf("%w: %s not allowed in state %s", domain.ErrNegotiation, op, m.state)
}

// BeginOffer starts a local offer. Allowed when idle or renegotiating.
func (m *Machine) BeginOffer(trickle bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Idle && m.state != Negotiated {
		return m.violation("offer")
	}
	m.state = AwaitingLocalDescription
	m.role = domain.RoleOfferer
	m.trickle = trickle
	m.answering = false
	m.hasLocal = false
	m.hasRemote = false
	m.remoteApplied = false
	m.remoteOffer = nil
	m.remoteCands = nil
	return nil
}

// RemoteOffer records an offer received from the gateway. A newer offer
// replaces one that has not been answered yet.
func (m *Machine) RemoteOffer(j domain.JSEP) error {
	if !j.IsOffer() {
		return fmt.Errorf("%w: expected offer, got %q", domain.ErrNegotiation, j.Type)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case Idle, Negotiated:
	case AwaitingRemoteAck:
		if m.answering {
			return m.violation("remote offer")
		}
	default:
		return m.violation("remote offer")
	}
	m.state = AwaitingRemoteAck
	m.role = domain.RoleAnswerer
	m.hasLocal = false
	m.hasRemote = true
	m.remoteApplied = false
	m.remoteOffer = &j
	return nil
}

// BeginAnswer claims the recorded remote offer for answering.
func (m *Machine) BeginAnswer(trickle bool) (domain.JSEP, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != AwaitingRemoteAck || m.remoteOffer == nil {
		return domain.JSEP{}, m.violation("answer")
	}
	if m.answering {
		return domain.JSEP{}, fmt.Errorf("%w: answer already in progress", domain.ErrNegotiation)
	}
	m.answering = true
	m.trickle = trickle
	return *m.remoteOffer, nil
}

// LocalDescriptionReady moves an offer to OfferSent or an answer to
// AnswerSent. The caller sends the description right after.
func (m *Machine) LocalDescriptionReady() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case m.state == AwaitingLocalDescription:
		m.state = OfferSent
	case m.state == AwaitingRemoteAck && m.answering:
		m.state = AnswerSent
		m.answering = false
	default:
		return m.violation("local description")
	}
	m.hasLocal = true
	return nil
}

func (m *Machine) RemoteAnswer(j domain.JSEP) error {
	if !j.IsAnswer() {
		return fmt.Errorf("%w: expected answer, got %q", domain.ErrNegotiation, j.Type)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != OfferSent {
		return m.violation("remote answer")
	}
	m.state = Negotiated
	m.hasRemote = true
	return nil
}

func (m *Machine) AnswerAcknowledged() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != AnswerSent {
		return m.violation("answer ack")
	}
	m.state = Negotiated
	return nil
}

// Abort gives up an offer or answer whose local description could not be
// produced or sent.
func (m *Machine) Abort() {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case AwaitingLocalDescription, OfferSent:
		m.state = Idle
		m.role = domain.RoleNone
		m.hasLocal = false
	case AwaitingRemoteAck, AnswerSent:
		m.state = AwaitingRemoteAck
		m.answering = false
		m.hasLocal = false
	}
	m.localCands = nil
}

// Reset returns to Idle from any state and drops queued candidates.
func (m *Machine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = Idle
	m.role = domain.RoleNone
	m.trickle = false
	m.answering = false
	m.hasLocal = false
	m.hasRemote = false
	m.remoteApplied = false
	m.remoteOffer = nil
	m.localCands = nil
	m.remoteCands = nil
}

// QueueLocal appends a gathered local candidate; nil marks end of gathering.
func (m *Machine) QueueLocal(c *domain.Candidate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.localCands = append(m.localCands, c)
}

func (m *Machine) DrainLocal() []*domain.Candidate {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.localCands
	m.localCands = nil
	return out
}

// QueueRemote buffers c while no remote description is applied and
// reports whether it did. nil marks end of remote candidates.
func (m *Machine) QueueRemote(c *domain.Candidate) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.remoteApplied {
		return false
	}
	m.remoteCands = append(m.remoteCands, c)
	return true
}

// MarkRemoteApplied records that the engine holds the remote description
// and hands back the candidates buffered before it, in arrival order.
func (m *Machine) MarkRemoteApplied() []*domain.Candidate {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remoteApplied = true
	out := m.remoteCands
	m.remoteCands = nil
	return out
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Machine) Role() domain.SDPRole {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.role
}

func (m *Machine) Trickle() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.trickle
}

func (m *Machine) HasLocal() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hasLocal
}

func (m *Machine) HasRemote() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hasRemote
}

func (m *Machine) RemoteApplied() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.remoteApplied
}

// PendingRemoteOffer returns the recorded, not yet answered offer.
func (m *Machine) PendingRemoteOffer() (domain.JSEP, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != AwaitingRemoteAck || m.remoteOffer == nil {
		return domain.JSEP{}, false
	}
	return *m.remoteOffer, true
}
