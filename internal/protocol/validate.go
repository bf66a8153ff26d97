package protocol

import (
	"fmt"
	"strings"

	"github.com/pion/ice/v4"
	"github.com/pion/sdp/v3"

	"github.com/marekhoryna/janus-client/internal/domain"
)

// MediaSummary lists what m-lines a session description carries.
type MediaSummary struct {
	Audio bool
	Video bool
	Data  bool
}

// ValidateJSEP checks that the description is an offer/answer holding a
// parsable SDP, and reports which media sections it negotiates.
func ValidateJSEP(j *domain.JSEP) (MediaSummary, error) {
	if j == nil {
		return MediaSummary{}, fmt.Errorf("%w: missing jsep", domain.ErrProtocol)
	}
	if !j.IsOffer() && !j.IsAnswer() {
		return MediaSummary{}, fmt.Errorf("%w: unsupported jsep type %q", domain.ErrProtocol, j.Type)
	}
	if j.SDP == "" {
		return MediaSummary{}, fmt.Errorf("%w: jsep without sdp", domain.ErrProtocol)
	}
	var desc sdp.SessionDescription
	if err := desc.Unmarshal([]byte(j.SDP)); err != nil {
		return MediaSummary{}, fmt.Errorf("%w: sdp: %v", domain.ErrProtocol, err)
	}
	var sum MediaSummary
	for _, m := range desc.MediaDescriptions {
		switch m.MediaName.Media {
		case "audio":
			sum.Audio = true
		case "video":
			sum.Video = true
		case "application":
			sum.Data = true
		}
	}
	return sum, nil
}

// ValidateCandidate rejects trickle candidates the ICE agent could never
// parse. End-of-candidates markers are always valid.
func ValidateCandidate(c *domain.Candidate) error {
	if c == nil || c.Completed {
		return nil
	}
	raw := strings.TrimPrefix(c.Candidate, "candidate:")
	if raw == "" {
		return fmt.Errorf("%w: empty candidate", domain.ErrProtocol)
	}
	if _, err := ice.UnmarshalCandidate(raw); err != nil {
		return fmt.Errorf("%w: candidate: %v", domain.ErrProtocol, err)
	}
	return nil
}
