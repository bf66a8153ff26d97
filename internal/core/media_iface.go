//go:generate mockgen -source=media_iface.go -destination=mocks/mock_media.go -package=mocks

package core

import (
	"context"

	"github.com/marekhoryna/janus-client/internal/domain"
)

type MediaEngine interface {
	// CreateLocalDescription builds and applies an offer or answer. With
	// trickle disabled it returns only after candidate gathering completed.
	CreateLocalDescription(ctx context.Context, role domain.SDPRole, c domain.MediaConstraints, trickle bool) (domain.JSEP, error)
	ApplyRemoteDescription(domain.JSEP) error
	// AddICECandidate applies a remote ICE candidate.
	AddICECandidate(domain.Candidate) error
	// OnICECandidate sets a callback for newly gathered local ICE candidates.
	// A nil candidate signals that gathering completed.
	OnICECandidate(func(*domain.Candidate))
	// OnRemoteTrack sets a callback that will be invoked when a new remote track arrives.
	OnRemoteTrack(func(domain.Track))
	OnLocalTrack(func(domain.Track))
	OnData(func([]byte))
	OnDataOpen(func(label string))
	SendData([]byte) error
	// SetTrackEnabled stops or resumes forwarding of local media of a kind.
	SetTrackEnabled(kind domain.TrackKind, enabled bool)
	// Bitrate is the inbound video bitrate in bits per second, measured
	// between successive calls.
	Bitrate() uint64
	// Close should stop all underlying media resources.
	Close() error
}

// MediaEngineFactory creates one engine per negotiation of a handle.
type MediaEngineFactory func(h domain.HandleID) (MediaEngine, error)
