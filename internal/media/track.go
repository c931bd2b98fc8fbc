package media

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"
)

// Frame is one encoded media frame read from a capture device.
type Frame struct {
	Data     []byte
	Duration time.Duration
}

// Source yields encoded frames for one capture device. ReadFrame blocks
// until a frame is ready and returns io.EOF once the device is gone.
type Source interface {
	Codec() webrtc.RTPCodecCapability
	ReadFrame() (Frame, error)
	Close() error
}

// Track is a single local audio or video track. The object is shared by
// the call controller and the peer connection: enabling or disabling it
// takes effect in place without renegotiation.
type Track struct {
	id    string
	kind  webrtc.RTPCodecType
	label string
	src   Source
	local *webrtc.TrackLocalStaticSample

	enabled atomic.Bool
	ended   atomic.Bool

	stopOnce sync.Once
	done     chan struct{}

	mu      sync.Mutex
	onEnded []func(error)
}

// NewTrack wraps src in a sample track and starts pumping frames.
func NewTrack(kind webrtc.RTPCodecType, label, streamID string, src Source) (*Track, error) {
	id := uuid.NewString()
	local, err := webrtc.NewTrackLocalStaticSample(src.Codec(), id, streamID)
	if err != nil {
		return nil, err
	}
	t := &Track{
		id:    id,
		kind:  kind,
		label: label,
		src:   src,
		local: local,
		done:  make(chan struct{}),
	}
	t.enabled.Store(true)
	go t.pump()
	return t, nil
}

func (t *Track) ID() string                { return t.id }
func (t *Track) Kind() webrtc.RTPCodecType { return t.kind }
func (t *Track) Label() string             { return t.label }
func (t *Track) Enabled() bool             { return t.enabled.Load() }
func (t *Track) Ended() bool               { return t.ended.Load() }

// Local is the pion track to attach to a peer connection.
func (t *Track) Local() webrtc.TrackLocal { return t.local }

// SetEnabled toggles whether frames are forwarded. A disabled track keeps
// its device open and its slot on the peer connection.
func (t *Track) SetEnabled(on bool) {
	t.enabled.Store(on)
	log.Debug().Str("module", "media").Str("track", t.id).Str("kind", t.kind.String()).Bool("enabled", on).Msg("track toggled")
}

// OnEnded registers fn to run once when the track stops, either through
// Stop (err == nil) or because the source went away.
func (t *Track) OnEnded(fn func(error)) {
	t.mu.Lock()
	if !t.ended.Load() {
		t.onEnded = append(t.onEnded, fn)
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()
	fn(nil)
}

// Stop releases the device. Safe to call more than once.
func (t *Track) Stop() {
	t.finish(nil)
}

func (t *Track) finish(cause error) {
	t.stopOnce.Do(func() {
		t.mu.Lock()
		t.ended.Store(true)
		handlers := t.onEnded
		t.onEnded = nil
		t.mu.Unlock()

		close(t.done)
		if err := t.src.Close(); err != nil {
			log.Warn().Err(err).Str("module", "media").Str("track", t.id).Msg("source close")
		}
		log.Info().Str("module", "media").Str("track", t.id).Str("kind", t.kind.String()).AnErr("cause", cause).Msg("track stopped")
		for _, fn := range handlers {
			fn(cause)
		}
	})
}

func (t *Track) pump() {
	for {
		f, err := t.src.ReadFrame()
		select {
		case <-t.done:
			return
		default:
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = ErrTrackEnded
			}
			t.finish(err)
			return
		}
		if !t.enabled.Load() {
			continue
		}
		if err := t.local.WriteSample(pionmedia.Sample{Data: f.Data, Duration: f.Duration}); err != nil && !errors.Is(err, io.ErrClosedPipe) {
			log.Warn().Err(err).Str("module", "media").Str("track", t.id).Msg("write sample")
		}
	}
}
