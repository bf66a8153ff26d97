// Package rtc is the pion/webrtc media engine behind a plugin handle: one
// PeerConnection per handle, local RTP tracks that honour mute, remote
// tracks relayed to attached sinks and an optional data channel.
package rtc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/marekhoryna/janus-client/internal/core"
	"github.com/marekhoryna/janus-client/internal/domain"
)

const DefaultDataLabel = "JanusDataChannel"

var (
	ErrNoRemoteOffer  = errors.New("no remote offer to answer")
	ErrNoLocalTrack   = errors.New("no local track of that kind")
	ErrDataNotOpen    = errors.New("data channel not open")
	ErrMissingAudio   = errors.New("remote offer has no audio")
	ErrMissingVideo   = errors.New("remote offer has no video")
	ErrEngineClosed   = errors.New("media engine closed")
	errUnsupportedSDP = errors.New("unsupported sdp type")
)

type Config struct {
	ICEServers []domain.ICEServer
	IPv6       bool
	DataLabel  string
	// Record, when set, writes the remote media of every handle to files.
	Record *Recording
}

// NewAPI builds a pion API with the default codecs and interceptors and
// pion's logging routed to zerolog.
func NewAPI(c Config) (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, ir); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	s := webrtc.SettingEngine{LoggerFactory: LoggerFactory{Base: log.Logger}}
	networks := []webrtc.NetworkType{webrtc.NetworkTypeUDP4}
	if c.IPv6 {
		networks = append(networks, webrtc.NetworkTypeUDP6)
	}
	s.SetNetworkTypes(networks)

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(ir),
		webrtc.WithSettingEngine(s),
	), nil
}

// NewFactory returns a factory that gives every handle its own engine on
// a shared API.
func NewFactory(c Config) (core.MediaEngineFactory, error) {
	api, err := NewAPI(c)
	if err != nil {
		return nil, err
	}
	return func(h domain.HandleID) (core.MediaEngine, error) {
		e, err := NewEngine(api, c, h)
		if err != nil || c.Record == nil {
			return e, err
		}
		if err := c.Record.record(e, h); err != nil {
			_ = e.Close()
			return nil, err
		}
		return e, nil
	}, nil
}

func iceServers(in []domain.ICEServer) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(in))
	for _, s := range in {
		out = append(out, webrtc.ICEServer{URLs: s.URLs, Username: s.Username, Credential: s.Credential})
	}
	return out
}

type Engine struct {
	pc     *webrtc.PeerConnection
	cfg    Config
	handle domain.HandleID
	log    zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	onICE         func(*domain.Candidate)
	onRemoteTrack func(domain.Track)
	onLocalTrack  func(domain.Track)
	onData        func([]byte)
	onDataOpen    func(string)
	local         map[domain.TrackKind]*localTrack
	muted         map[domain.TrackKind]bool
	relays        map[domain.TrackKind]*relay
	sinks         map[domain.TrackKind]map[string]Sink
	dc            *webrtc.DataChannel
	closed        bool

	bitrate bitrateMeter
}

var _ core.MediaEngine = (*Engine)(nil)

func NewEngine(api *webrtc.API, c Config, h domain.HandleID) (*Engine, error) {
	if c.DataLabel == "" {
		c.DataLabel = DefaultDataLabel
	}
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers(c.ICEServers)})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		pc:     pc,
		cfg:    c,
		handle: h,
		log:    log.With().Str("module", "adapters.rtc").Uint64("handle", uint64(h)).Logger(),
		ctx:    ctx,
		cancel: cancel,
		local:  make(map[domain.TrackKind]*localTrack),
		muted:  make(map[domain.TrackKind]bool),
		relays: make(map[domain.TrackKind]*relay),
		sinks:  make(map[domain.TrackKind]map[string]Sink),
	}
	e.wire()
	return e, nil
}

func (e *Engine) wire() {
	e.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		e.log.Info().Str("ice_state", s.String()).Msg("ICE state")
	})
	e.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		e.log.Info().Str("peer_connection_state", s.String()).Msg("Peer state")
	})
	e.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		e.mu.Lock()
		f := e.onICE
		e.mu.Unlock()
		if f == nil {
			return
		}
		if c == nil {
			f(nil)
			return
		}
		ci := c.ToJSON()
		f(&domain.Candidate{Candidate: ci.Candidate, SDPMid: ci.SDPMid, SDPMLineIndex: ci.SDPMLineIndex})
	})
	e.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		kind := domain.TrackKind(track.Kind().String())
		e.log.Info().
			Str("kind", string(kind)).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")

		r := newRelay(track, e.log.With().Str("track_id", track.ID()).Logger())
		e.mu.Lock()
		for id, s := range e.sinks[kind] {
			r.add(id, s)
		}
		e.relays[kind] = r
		f := e.onRemoteTrack
		e.mu.Unlock()

		go r.loop(e.ctx)
		if f != nil {
			f(domain.Track{ID: track.ID(), StreamID: track.StreamID(), Kind: kind})
		}
	})
	e.pc.OnDataChannel(e.wireData)
}

func (e *Engine) wireData(dc *webrtc.DataChannel) {
	e.mu.Lock()
	e.dc = dc
	e.mu.Unlock()

	dc.OnOpen(func() {
		e.log.Debug().Str("label", dc.Label()).Msg("data channel open")
		e.mu.Lock()
		f := e.onDataOpen
		e.mu.Unlock()
		if f != nil {
			f(dc.Label())
		}
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		e.mu.Lock()
		f := e.onData
		e.mu.Unlock()
		if f != nil {
			f(msg.Data)
		}
	})
}

func (e *Engine) CreateLocalDescription(ctx context.Context, role domain.SDPRole, c domain.MediaConstraints, trickle bool) (domain.JSEP, error) {
	if e.isClosed() {
		return domain.JSEP{}, ErrEngineClosed
	}

	var (
		sd  webrtc.SessionDescription
		err error
	)
	switch role {
	case domain.RoleOfferer:
		if err = e.prepareOffer(c); err != nil {
			return domain.JSEP{}, err
		}
		sd, err = e.pc.CreateOffer(nil)
	case domain.RoleAnswerer:
		if err = e.prepareAnswer(c); err != nil {
			return domain.JSEP{}, err
		}
		sd, err = e.pc.CreateAnswer(nil)
	default:
		return domain.JSEP{}, fmt.Errorf("%w: role %s", errUnsupportedSDP, role)
	}
	if err != nil {
		return domain.JSEP{}, err
	}

	var gathered <-chan struct{}
	if !trickle {
		gathered = webrtc.GatheringCompletePromise(e.pc)
	}
	if err := e.pc.SetLocalDescription(sd); err != nil {
		return domain.JSEP{}, err
	}
	if gathered != nil {
		select {
		case <-gathered:
		case <-ctx.Done():
			return domain.JSEP{}, ctx.Err()
		}
	}

	ld := e.pc.LocalDescription()
	e.log.Debug().Str("role", role.String()).Bool("trickle", trickle).Msg("local description set")
	return domain.JSEP{Type: ld.Type.String(), SDP: ld.SDP}, nil
}

func (e *Engine) prepareOffer(c domain.MediaConstraints) error {
	for _, m := range []struct {
		kind       domain.TrackKind
		send, recv bool
	}{
		{domain.TrackAudio, c.AudioSend, c.AudioRecv},
		{domain.TrackVideo, c.VideoSend, c.VideoRecv},
	} {
		if (!m.send && !m.recv) || e.hasTransceiver(m.kind) {
			continue
		}
		if !m.send {
			if _, err := e.pc.AddTransceiverFromKind(codecType(m.kind), webrtc.RTPTransceiverInit{
				Direction: webrtc.RTPTransceiverDirectionRecvonly,
			}); err != nil {
				return fmt.Errorf("add %s transceiver: %w", m.kind, err)
			}
			continue
		}
		lt, err := e.newLocal(m.kind)
		if err != nil {
			return err
		}
		dir := webrtc.RTPTransceiverDirectionSendrecv
		if !m.recv {
			dir = webrtc.RTPTransceiverDirectionSendonly
		}
		if _, err := e.pc.AddTransceiverFromTrack(lt.track, webrtc.RTPTransceiverInit{Direction: dir}); err != nil {
			return fmt.Errorf("add %s track: %w", m.kind, err)
		}
	}

	e.mu.Lock()
	needData := c.Data && e.dc == nil
	e.mu.Unlock()
	if needData {
		dc, err := e.pc.CreateDataChannel(e.cfg.DataLabel, nil)
		if err != nil {
			return fmt.Errorf("create data channel: %w", err)
		}
		e.wireData(dc)
	}
	return nil
}

func (e *Engine) prepareAnswer(c domain.MediaConstraints) error {
	rd := e.pc.RemoteDescription()
	if rd == nil || rd.Type != webrtc.SDPTypeOffer {
		return ErrNoRemoteOffer
	}
	parsed, err := rd.Unmarshal()
	if err != nil {
		return fmt.Errorf("parse remote offer: %w", err)
	}
	present := make(map[domain.TrackKind]bool)
	for _, md := range parsed.MediaDescriptions {
		present[domain.TrackKind(md.MediaName.Media)] = true
	}
	if c.FailIfNoAudio && (c.AudioSend || c.AudioRecv) && !present[domain.TrackAudio] {
		return ErrMissingAudio
	}
	if c.FailIfNoVideo && (c.VideoSend || c.VideoRecv) && !present[domain.TrackVideo] {
		return ErrMissingVideo
	}

	for _, m := range []struct {
		kind       domain.TrackKind
		send, recv bool
	}{
		{domain.TrackAudio, c.AudioSend, c.AudioRecv},
		{domain.TrackVideo, c.VideoSend, c.VideoRecv},
	} {
		if !present[m.kind] {
			continue
		}
		if !m.send && !m.recv {
			for _, tr := range e.pc.GetTransceivers() {
				if tr.Kind() == codecType(m.kind) {
					if err := tr.Stop(); err != nil {
						e.log.Warn().Err(err).Str("kind", string(m.kind)).Msg("transceiver stop")
					}
				}
			}
			continue
		}
		if !m.send || e.localTrack(m.kind) != nil {
			continue
		}
		lt, err := e.newLocal(m.kind)
		if err != nil {
			return err
		}
		if _, err := e.pc.AddTrack(lt.track); err != nil {
			return fmt.Errorf("add %s track: %w", m.kind, err)
		}
	}
	return nil
}

func codecType(k domain.TrackKind) webrtc.RTPCodecType {
	if k == domain.TrackVideo {
		return webrtc.RTPCodecTypeVideo
	}
	return webrtc.RTPCodecTypeAudio
}

func (e *Engine) hasTransceiver(k domain.TrackKind) bool {
	for _, tr := range e.pc.GetTransceivers() {
		if tr.Kind() == codecType(k) {
			return true
		}
	}
	return false
}

func (e *Engine) newLocal(k domain.TrackKind) (*localTrack, error) {
	capability := webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	if k == domain.TrackVideo {
		capability = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
	}
	t, err := webrtc.NewTrackLocalStaticRTP(capability, string(k), "janus-"+e.handle.String())
	if err != nil {
		return nil, fmt.Errorf("new %s track: %w", k, err)
	}

	e.mu.Lock()
	lt := newLocalTrack(t, e.muted[k])
	e.local[k] = lt
	f := e.onLocalTrack
	e.mu.Unlock()

	e.log.Info().Str("kind", string(k)).Str("track_id", t.ID()).Msg("local track added")
	if f != nil {
		f(domain.Track{ID: t.ID(), StreamID: t.StreamID(), Kind: k})
	}
	return lt, nil
}

func (e *Engine) localTrack(k domain.TrackKind) *localTrack {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.local[k]
}

func (e *Engine) ApplyRemoteDescription(j domain.JSEP) error {
	if e.isClosed() {
		return ErrEngineClosed
	}
	t := webrtc.NewSDPType(j.Type)
	if t != webrtc.SDPTypeOffer && t != webrtc.SDPTypeAnswer {
		return fmt.Errorf("%w: %q", errUnsupportedSDP, j.Type)
	}
	return e.pc.SetRemoteDescription(webrtc.SessionDescription{Type: t, SDP: j.SDP})
}

// AddICECandidate adds a remote candidate. A Completed candidate marks
// end-of-candidates, which pion infers on its own.
func (e *Engine) AddICECandidate(c domain.Candidate) error {
	if c.Completed || c.Candidate == "" {
		e.log.Debug().Msg("remote end-of-candidates")
		return nil
	}
	return e.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:     c.Candidate,
		SDPMid:        c.SDPMid,
		SDPMLineIndex: c.SDPMLineIndex,
	})
}

func (e *Engine) OnICECandidate(f func(*domain.Candidate)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onICE = f
}

func (e *Engine) OnRemoteTrack(f func(domain.Track)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onRemoteTrack = f
}

func (e *Engine) OnLocalTrack(f func(domain.Track)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onLocalTrack = f
}

func (e *Engine) OnData(f func([]byte)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onData = f
}

func (e *Engine) OnDataOpen(f func(string)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onDataOpen = f
}

func (e *Engine) SendData(b []byte) error {
	e.mu.Lock()
	dc := e.dc
	e.mu.Unlock()
	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return ErrDataNotOpen
	}
	return dc.Send(b)
}

// SetTrackEnabled mutes or unmutes the local track of kind. The setting
// also applies to a track created later.
func (e *Engine) SetTrackEnabled(k domain.TrackKind, enabled bool) {
	e.mu.Lock()
	e.muted[k] = !enabled
	lt := e.local[k]
	e.mu.Unlock()
	if lt != nil {
		lt.setEnabled(enabled)
	}
	e.log.Debug().Str("kind", string(k)).Bool("enabled", enabled).Msg("local track toggled")
}

// Bitrate reports the inbound video bitrate from the peer connection
// stats, in bits per second. The first call only takes a sample.
func (e *Engine) Bitrate() uint64 {
	if e.isClosed() {
		return 0
	}
	var total uint64
	for _, st := range e.pc.GetStats() {
		if in, ok := st.(webrtc.InboundRTPStreamStats); ok && in.Kind == "video" {
			total += in.BytesReceived
		}
	}
	return e.bitrate.update(total, time.Now())
}

// WriteRTP sends a packet on the local track of kind. Packets sent while
// the track is muted are dropped without error.
func (e *Engine) WriteRTP(k domain.TrackKind, pkt *rtp.Packet) error {
	lt := e.localTrack(k)
	if lt == nil {
		return ErrNoLocalTrack
	}
	_, err := lt.write(pkt)
	return err
}

// AddSink relays RTP of the remote track of kind to s, now or once the
// track arrives. Sinks that are io.Closers are closed with the engine.
func (e *Engine) AddSink(k domain.TrackKind, id string, s Sink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sinks[k] == nil {
		e.sinks[k] = make(map[string]Sink)
	}
	e.sinks[k][id] = s
	if r := e.relays[k]; r != nil {
		r.add(id, s)
	}
}

func (e *Engine) RemoveSink(k domain.TrackKind, id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.sinks[k], id)
	if r := e.relays[k]; r != nil {
		r.remove(id)
	}
}

func (e *Engine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	for _, lt := range e.local {
		lt.close()
	}
	var closers []io.Closer
	for _, sinks := range e.sinks {
		for _, s := range sinks {
			if c, ok := s.(io.Closer); ok {
				closers = append(closers, c)
			}
		}
	}
	e.mu.Unlock()

	e.cancel()
	err := e.pc.Close()
	for _, c := range closers {
		if cerr := c.Close(); cerr != nil {
			e.log.Warn().Err(cerr).Msg("sink close")
		}
	}
	if err != nil {
		e.log.Error().Err(err).Msg("close error")
		return err
	}
	e.log.Info().Msg("closed")
	return nil
}
