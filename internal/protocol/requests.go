package protocol

import (
	"fmt"

	"github.com/goccy/go-json"

	"github.com/marekhoryna/janus-client/internal/domain"
)

// Credentials are stamped on every outbound request.
type Credentials struct {
	Token     string
	APISecret string
}

func (c Credentials) apply(env *Envelope) *Envelope {
	env.Token = c.Token
	env.APISecret = c.APISecret
	return env
}

func NewCreate(tx domain.TransactionID, c Credentials) *Envelope {
	return c.apply(&Envelope{Janus: KindCreate, Transaction: tx})
}

func NewAttach(tx domain.TransactionID, sid domain.SessionID, p domain.Plugin, c Credentials) *Envelope {
	return c.apply(&Envelope{
		Janus:       KindAttach,
		Transaction: tx,
		SessionID:   sid,
		Plugin:      p.Name,
		OpaqueID:    p.OpaqueID,
	})
}

func NewKeepalive(tx domain.TransactionID, sid domain.SessionID, c Credentials) *Envelope {
	return c.apply(&Envelope{Janus: KindKeepalive, Transaction: tx, SessionID: sid})
}

func NewDestroy(tx domain.TransactionID, sid domain.SessionID, c Credentials) *Envelope {
	return c.apply(&Envelope{Janus: KindDestroy, Transaction: tx, SessionID: sid})
}

func NewDetach(tx domain.TransactionID, sid domain.SessionID, hid domain.HandleID, c Credentials) *Envelope {
	return c.apply(&Envelope{Janus: KindDetach, Transaction: tx, SessionID: sid, HandleID: hid})
}

func NewHangup(tx domain.TransactionID, sid domain.SessionID, hid domain.HandleID, c Credentials) *Envelope {
	return c.apply(&Envelope{Janus: KindHangup, Transaction: tx, SessionID: sid, HandleID: hid})
}

// NewMessage wraps a plugin payload. body may be a json.RawMessage, a
// []byte holding JSON, or any value encodable as JSON.
func NewMessage(tx domain.TransactionID, sid domain.SessionID, hid domain.HandleID, body any, jsep *domain.JSEP, c Credentials) (*Envelope, error) {
	raw, err := marshalBody(body)
	if err != nil {
		return nil, err
	}
	return c.apply(&Envelope{
		Janus:       KindMessage,
		Transaction: tx,
		SessionID:   sid,
		HandleID:    hid,
		Body:        raw,
		JSEP:        jsep,
	}), nil
}

// NewTrickle carries one local candidate; nil means gathering completed.
func NewTrickle(tx domain.TransactionID, sid domain.SessionID, hid domain.HandleID, cand *domain.Candidate, c Credentials) *Envelope {
	if cand == nil {
		cand = &domain.Candidate{Completed: true}
	}
	return c.apply(&Envelope{
		Janus:       KindTrickle,
		Transaction: tx,
		SessionID:   sid,
		HandleID:    hid,
		Candidate:   cand,
	})
}

func marshalBody(body any) (json.RawMessage, error) {
	switch b := body.(type) {
	case nil:
		return json.RawMessage(`{}`), nil
	case json.RawMessage:
		return b, nil
	case []byte:
		if !json.Valid(b) {
			return nil, fmt.Errorf("%w: message body is not valid json", domain.ErrProtocol)
		}
		return json.RawMessage(b), nil
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("%w: message body: %v", domain.ErrProtocol, err)
		}
		return raw, nil
	}
}
