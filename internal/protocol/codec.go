package protocol

import (
	"bytes"
	"fmt"
	"io"

	"github.com/goccy/go-json"

	"github.com/marekhoryna/janus-client/internal/domain"
)

func Encode(env *Envelope) ([]byte, error) {
	if env == nil || env.Janus == "" {
		return nil, fmt.Errorf("%w: envelope without janus kind", domain.ErrProtocol)
	}
	return json.Marshal(env)
}

// Decode parses a single inbound envelope and validates its shape.
func Decode(data []byte) (*Envelope, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	var env Envelope
	if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProtocol, err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("%w: unexpected trailing data", domain.ErrProtocol)
	}
	if err := env.validate(); err != nil {
		return nil, err
	}
	return &env, nil
}

// DecodeBatch parses either one envelope or a JSON array of envelopes, as
// returned by the long-poll endpoint when maxev > 1.
func DecodeBatch(data []byte) ([]*Envelope, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if trimmed[0] != '[' {
		env, err := Decode(trimmed)
		if err != nil {
			return nil, err
		}
		return []*Envelope{env}, nil
	}
	var raws []json.RawMessage
	if err := json.Unmarshal(trimmed, &raws); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProtocol, err)
	}
	out := make([]*Envelope, 0, len(raws))
	for _, raw := range raws {
		env, err := Decode(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, env)
	}
	return out, nil
}

func (e *Envelope) validate() error {
	switch e.Janus {
	case "":
		return fmt.Errorf("%w: missing janus kind", domain.ErrProtocol)
	case KindSuccess, KindAck:
		if e.Transaction == "" {
			return fmt.Errorf("%w: %s without transaction", domain.ErrProtocol, e.Janus)
		}
	case KindError:
		if e.Error == nil {
			return fmt.Errorf("%w: error without error payload", domain.ErrProtocol)
		}
	case KindEvent:
		if e.PluginData == nil && e.JSEP == nil {
			return fmt.Errorf("%w: event without plugindata", domain.ErrProtocol)
		}
	case KindTrickle:
		if e.Candidate == nil && len(e.Candidates) == 0 {
			return fmt.Errorf("%w: trickle without candidate", domain.ErrProtocol)
		}
	}
	if e.JSEP != nil && !e.JSEP.IsOffer() && !e.JSEP.IsAnswer() {
		return fmt.Errorf("%w: unsupported jsep type %q", domain.ErrProtocol, e.JSEP.Type)
	}
	return nil
}
