package rtc

import (
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

type trackState int32

const (
	trackLive trackState = iota
	trackMuted
	trackClosed
)

// localTrack is an outgoing track. Packets written while muted are
// dropped; the sender keeps running so unmuting needs no renegotiation.
type localTrack struct {
	track *webrtc.TrackLocalStaticRTP
	state atomic.Int32
}

func newLocalTrack(t *webrtc.TrackLocalStaticRTP, muted bool) *localTrack {
	lt := &localTrack{track: t}
	if muted {
		lt.state.Store(int32(trackMuted))
	}
	return lt
}

func (lt *localTrack) State() trackState { return trackState(lt.state.Load()) }

func (lt *localTrack) setEnabled(enabled bool) {
	if lt.State() == trackClosed {
		return
	}
	if enabled {
		lt.state.Store(int32(trackLive))
	} else {
		lt.state.Store(int32(trackMuted))
	}
}

func (lt *localTrack) close() { lt.state.Store(int32(trackClosed)) }

// write reports whether the packet went out.
func (lt *localTrack) write(pkt *rtp.Packet) (bool, error) {
	if lt.State() != trackLive {
		return false, nil
	}
	if err := lt.track.WriteRTP(pkt); err != nil {
		return false, err
	}
	return true, nil
}
