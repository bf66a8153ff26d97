package rtc

import (
	"errors"
	"fmt"
	"path"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"github.com/spf13/afero"

	"github.com/marekhoryna/janus-client/internal/domain"
)

const recorderSink = "recorder"

var errSinkClosed = errors.New("recording closed")

// Recording stores the remote media of every handle under Dir:
// <handle>-video.ivf and <handle>-audio.ogg.
type Recording struct {
	Fs  afero.Fs
	Dir string
}

type mediaWriter interface {
	WriteRTP(*rtp.Packet) error
	Close() error
}

// fileSink serializes relay writes with the engine closing the file.
type fileSink struct {
	mu     sync.Mutex
	w      mediaWriter
	closed bool
}

func (f *fileSink) WriteRTP(p *rtp.Packet) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errSinkClosed
	}
	return f.w.WriteRTP(p)
}

func (f *fileSink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	return f.w.Close()
}

func (r *Recording) sinks(h domain.HandleID) (map[domain.TrackKind]*fileSink, error) {
	if err := r.Fs.MkdirAll(r.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("recording dir: %w", err)
	}
	base := path.Join(r.Dir, h.String())

	vf, err := r.Fs.Create(base + "-video.ivf")
	if err != nil {
		return nil, fmt.Errorf("video recording: %w", err)
	}
	video, err := ivfwriter.NewWith(vf)
	if err != nil {
		_ = vf.Close()
		return nil, fmt.Errorf("video recording: %w", err)
	}

	af, err := r.Fs.Create(base + "-audio.ogg")
	if err != nil {
		_ = video.Close()
		return nil, fmt.Errorf("audio recording: %w", err)
	}
	audio, err := oggwriter.NewWith(af, 48000, 2)
	if err != nil {
		_ = af.Close()
		_ = video.Close()
		return nil, fmt.Errorf("audio recording: %w", err)
	}

	return map[domain.TrackKind]*fileSink{
		domain.TrackVideo: {w: video},
		domain.TrackAudio: {w: audio},
	}, nil
}

// record attaches the recording sinks of handle h to e. They are closed
// together with the engine.
func (r *Recording) record(e *Engine, h domain.HandleID) error {
	sinks, err := r.sinks(h)
	if err != nil {
		return err
	}
	for k, s := range sinks {
		e.AddSink(k, recorderSink, s)
	}
	e.log.Info().Str("dir", r.Dir).Msg("recording remote media")
	return nil
}
