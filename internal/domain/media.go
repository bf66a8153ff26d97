package domain

type SDPRole int

const (
	RoleNone SDPRole = iota
	RoleOfferer
	RoleAnswerer
)

func (r SDPRole) String() string {
	switch r {
	case RoleOfferer:
		return "offerer"
	case RoleAnswerer:
		return "answerer"
	default:
		return "none"
	}
}

const (
	SDPTypeOffer  = "offer"
	SDPTypeAnswer = "answer"
)

// JSEP is a session description as carried in the "jsep" field.
type JSEP struct {
	Type    string `json:"type"`
	SDP     string `json:"sdp"`
	Trickle *bool  `json:"trickle,omitempty"`
}

func (j *JSEP) IsOffer() bool  { return j != nil && j.Type == SDPTypeOffer }
func (j *JSEP) IsAnswer() bool { return j != nil && j.Type == SDPTypeAnswer }

// Candidate is a trickled ICE candidate. Completed marks end-of-candidates.
type Candidate struct {
	Candidate     string  `json:"candidate,omitempty"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
	Completed     bool    `json:"completed,omitempty"`
}

type TrackKind string

const (
	TrackAudio TrackKind = "audio"
	TrackVideo TrackKind = "video"
)

// Track describes a local or remote media track.
type Track struct {
	ID       string
	StreamID string
	Kind     TrackKind
}

// MediaConstraints selects what the local description negotiates.
type MediaConstraints struct {
	AudioSend     bool
	AudioRecv     bool
	VideoSend     bool
	VideoRecv     bool
	Data          bool
	FailIfNoAudio bool
	FailIfNoVideo bool
}

// RecvOnly is what a viewer (e.g. a streaming mountpoint) needs.
func RecvOnly() MediaConstraints {
	return MediaConstraints{AudioRecv: true, VideoRecv: true}
}

// SendRecv is a regular two-way call.
func SendRecv() MediaConstraints {
	return MediaConstraints{AudioSend: true, AudioRecv: true, VideoSend: true, VideoRecv: true}
}

// ICEServer is a STUN/TURN server handed to the media engine.
type ICEServer struct {
	URLs       []string `json:"urls" mapstructure:"urls"`
	Username   string   `json:"username,omitempty" mapstructure:"username"`
	Credential string   `json:"credential,omitempty" mapstructure:"credential"`
}
