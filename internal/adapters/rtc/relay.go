package rtc

import (
	"context"
	"maps"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/rs/zerolog"
)

// Sink receives RTP relayed from a remote track. *webrtc.TrackLocalStaticRTP
// satisfies it.
type Sink interface {
	WriteRTP(*rtp.Packet) error
}

// RTPReader is the part of *webrtc.TrackRemote the relay needs.
type RTPReader interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// relay fans packets of one remote track out to the attached sinks. A sink
// that fails a write is dropped.
type relay struct {
	src RTPReader
	log zerolog.Logger

	mu      sync.RWMutex
	sinks   map[string]Sink
	packets uint64
}

func newRelay(src RTPReader, l zerolog.Logger) *relay {
	return &relay{src: src, log: l, sinks: make(map[string]Sink)}
}

func (r *relay) add(id string, s Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinks[id] = s
}

func (r *relay) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sinks, id)
}

func (r *relay) count() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.packets
}

func (r *relay) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			r.log.Debug().Msg("relay stopped")
			return
		default:
		}
		pkt, _, err := r.src.ReadRTP()
		if err != nil {
			r.log.Debug().Err(err).Uint64("packets", r.count()).Msg("relay read ended")
			return
		}
		r.forward(pkt)
	}
}

func (r *relay) forward(pkt *rtp.Packet) {
	r.mu.Lock()
	r.packets++
	snapshot := maps.Clone(r.sinks)
	r.mu.Unlock()

	var dirty []string
	for id, s := range snapshot {
		if err := s.WriteRTP(pkt); err != nil {
			r.log.Warn().Err(err).Str("sink", id).Msg("relay write failed, dropping sink")
			dirty = append(dirty, id)
		}
	}
	for _, id := range dirty {
		r.remove(id)
	}
}
