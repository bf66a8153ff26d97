package rtc

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/spf13/afero"

	"github.com/marekhoryna/janus-client/internal/domain"
)

func newEngine(t *testing.T, h domain.HandleID) *Engine {
	t.Helper()
	api, err := NewAPI(Config{})
	if err != nil {
		t.Fatalf("api: %v", err)
	}
	e, err := NewEngine(api, Config{}, h)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func describe(t *testing.T, e *Engine, role domain.SDPRole, c domain.MediaConstraints) domain.JSEP {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	j, err := e.CreateLocalDescription(ctx, role, c, false)
	if err != nil {
		t.Fatalf("%s: %v", role, err)
	}
	return j
}

func TestEngine_RecvOnlyOffer(t *testing.T) {
	e := newEngine(t, 1)

	j := describe(t, e, domain.RoleOfferer, domain.RecvOnly())
	if j.Type != domain.SDPTypeOffer {
		t.Fatalf("type=%s", j.Type)
	}
	for _, want := range []string{"m=audio", "m=video", "a=recvonly"} {
		if !strings.Contains(j.SDP, want) {
			t.Fatalf("offer lacks %q:\n%s", want, j.SDP)
		}
	}
	if strings.Contains(j.SDP, "m=application") {
		t.Fatalf("offer has a data section without Data")
	}
}

func TestEngine_OfferAnswer(t *testing.T) {
	offerer := newEngine(t, 1)
	answerer := newEngine(t, 2)

	var mu sync.Mutex
	var local []domain.Track
	answerer.OnLocalTrack(func(tr domain.Track) {
		mu.Lock()
		local = append(local, tr)
		mu.Unlock()
	})

	c := domain.SendRecv()
	c.Data = true
	offer := describe(t, offerer, domain.RoleOfferer, c)
	if !strings.Contains(offer.SDP, "m=application") {
		t.Fatalf("offer lacks data section")
	}

	if err := answerer.ApplyRemoteDescription(offer); err != nil {
		t.Fatalf("apply offer: %v", err)
	}
	answer := describe(t, answerer, domain.RoleAnswerer, domain.SendRecv())
	if answer.Type != domain.SDPTypeAnswer {
		t.Fatalf("type=%s", answer.Type)
	}
	if err := offerer.ApplyRemoteDescription(answer); err != nil {
		t.Fatalf("apply answer: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(local) != 2 {
		t.Fatalf("answerer local tracks=%v", local)
	}
}

func TestEngine_AnswerNeedsOffer(t *testing.T) {
	e := newEngine(t, 1)
	_, err := e.CreateLocalDescription(context.Background(), domain.RoleAnswerer, domain.RecvOnly(), false)
	if !errors.Is(err, ErrNoRemoteOffer) {
		t.Fatalf("err=%v", err)
	}
}

func TestEngine_FailIfNoVideo(t *testing.T) {
	offerer := newEngine(t, 1)
	answerer := newEngine(t, 2)

	offer := describe(t, offerer, domain.RoleOfferer, domain.MediaConstraints{AudioSend: true, AudioRecv: true})
	if err := answerer.ApplyRemoteDescription(offer); err != nil {
		t.Fatalf("apply: %v", err)
	}
	c := domain.SendRecv()
	c.FailIfNoVideo = true
	_, err := answerer.CreateLocalDescription(context.Background(), domain.RoleAnswerer, c, false)
	if !errors.Is(err, ErrMissingVideo) {
		t.Fatalf("err=%v", err)
	}
}

func TestEngine_RejectsUnknownSDPType(t *testing.T) {
	e := newEngine(t, 1)
	if err := e.ApplyRemoteDescription(domain.JSEP{Type: "pranswer", SDP: "v=0"}); err == nil {
		t.Fatalf("pranswer accepted")
	}
}

func TestEngine_MuteBeforeTrack(t *testing.T) {
	e := newEngine(t, 1)
	e.SetTrackEnabled(domain.TrackAudio, false)

	describe(t, e, domain.RoleOfferer, domain.MediaConstraints{AudioSend: true})
	lt := e.localTrack(domain.TrackAudio)
	if lt == nil {
		t.Fatalf("no local audio track")
	}
	if lt.State() != trackMuted {
		t.Fatalf("state=%d", lt.State())
	}
	if err := e.WriteRTP(domain.TrackAudio, &rtp.Packet{}); err != nil {
		t.Fatalf("write muted: %v", err)
	}
	if err := e.WriteRTP(domain.TrackVideo, &rtp.Packet{}); !errors.Is(err, ErrNoLocalTrack) {
		t.Fatalf("video write: err=%v", err)
	}

	e.SetTrackEnabled(domain.TrackAudio, true)
	if lt.State() != trackLive {
		t.Fatalf("state after unmute=%d", lt.State())
	}
}

func TestEngine_SendDataWithoutChannel(t *testing.T) {
	e := newEngine(t, 1)
	if err := e.SendData([]byte("hi")); !errors.Is(err, ErrDataNotOpen) {
		t.Fatalf("err=%v", err)
	}
}

func TestEngine_CloseTwice(t *testing.T) {
	e := newEngine(t, 1)
	if err := e.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if _, err := e.CreateLocalDescription(context.Background(), domain.RoleOfferer, domain.RecvOnly(), false); !errors.Is(err, ErrEngineClosed) {
		t.Fatalf("err=%v", err)
	}
}

func TestEngine_BitrateWithoutMedia(t *testing.T) {
	e := newEngine(t, 1)
	if bps := e.Bitrate(); bps != 0 {
		t.Fatalf("bitrate=%d", bps)
	}
	_ = e.Close()
	if bps := e.Bitrate(); bps != 0 {
		t.Fatalf("bitrate after close=%d", bps)
	}
}

func TestBitrateMeter(t *testing.T) {
	var m bitrateMeter
	t0 := time.Unix(1700000000, 0)

	if bps := m.update(5000, t0); bps != 0 {
		t.Fatalf("first sample=%d", bps)
	}
	if bps := m.update(130000, t0.Add(time.Second)); bps != 1000000 {
		t.Fatalf("after 1s=%d, want 1000000", bps)
	}
	// Too soon for a new reading.
	if bps := m.update(140000, t0.Add(1500*time.Millisecond)); bps != 1000000 {
		t.Fatalf("within window=%d", bps)
	}
	if bps := m.update(380000, t0.Add(3*time.Second)); bps != 1000000 {
		t.Fatalf("after 2s=%d, want 1000000", bps)
	}
	// A restarted stream resets the counter.
	if bps := m.update(100, t0.Add(4*time.Second)); bps != 0 {
		t.Fatalf("after reset=%d", bps)
	}
}

func TestLocalTrack_States(t *testing.T) {
	track, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "s")
	if err != nil {
		t.Fatalf("track: %v", err)
	}
	lt := newLocalTrack(track, false)

	if sent, err := lt.write(&rtp.Packet{}); !sent || err != nil {
		t.Fatalf("live write sent=%v err=%v", sent, err)
	}
	lt.setEnabled(false)
	if sent, _ := lt.write(&rtp.Packet{}); sent {
		t.Fatalf("muted write went out")
	}
	lt.close()
	lt.setEnabled(true)
	if lt.State() != trackClosed {
		t.Fatalf("closed track reopened")
	}
}

func TestFactory_RecordsRemoteMedia(t *testing.T) {
	fs := afero.NewMemMapFs()
	factory, err := NewFactory(Config{Record: &Recording{Fs: fs, Dir: "rec"}})
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	me, err := factory(7)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	e := me.(*Engine)

	for _, name := range []string{"rec/7-video.ivf", "rec/7-audio.ogg"} {
		if ok, _ := afero.Exists(fs, name); !ok {
			t.Fatalf("%s not created", name)
		}
	}
	e.mu.Lock()
	video, _ := e.sinks[domain.TrackVideo][recorderSink].(*fileSink)
	audio, _ := e.sinks[domain.TrackAudio][recorderSink].(*fileSink)
	e.mu.Unlock()
	if video == nil || audio == nil {
		t.Fatalf("recording sinks not attached")
	}

	if err := e.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	pkt := &rtp.Packet{Header: rtp.Header{Version: 2, PayloadType: 96}, Payload: []byte{0x10, 0x00}}
	if err := video.WriteRTP(pkt); !errors.Is(err, errSinkClosed) {
		t.Fatalf("write after close: err=%v", err)
	}
	if err := audio.WriteRTP(pkt); !errors.Is(err, errSinkClosed) {
		t.Fatalf("write after close: err=%v", err)
	}
}

func TestFactory_RecordingDirUnavailable(t *testing.T) {
	fs := afero.NewReadOnlyFs(afero.NewMemMapFs())
	factory, err := NewFactory(Config{Record: &Recording{Fs: fs, Dir: "rec"}})
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	if _, err := factory(7); err == nil {
		t.Fatalf("engine created without a writable recording dir")
	}
}
