// Package mediatest provides in-memory capture devices for tests.
package mediatest

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/hireme/interview-call/internal/media"
	"github.com/pion/webrtc/v4"
)

// Source is a media.Source fed by Push. End simulates the device going
// away (for a display source: the shared window was closed).
type Source struct {
	codec  webrtc.RTPCodecCapability
	frames chan media.Frame

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func NewSource(kind webrtc.RTPCodecType) *Source {
	codec := webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
	if kind == webrtc.RTPCodecTypeAudio {
		codec = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	}
	return &Source{
		codec:  codec,
		frames: make(chan media.Frame, 16),
		done:   make(chan struct{}),
	}
}

func (s *Source) Codec() webrtc.RTPCodecCapability { return s.codec }

func (s *Source) Push(data []byte) {
	select {
	case s.frames <- media.Frame{Data: data, Duration: 20 * time.Millisecond}:
	case <-s.done:
	}
}

func (s *Source) ReadFrame() (media.Frame, error) {
	select {
	case f := <-s.frames:
		return f, nil
	case <-s.done:
		return media.Frame{}, io.EOF
	}
}

// End makes the next ReadFrame return io.EOF.
func (s *Source) End() { _ = s.Close() }

func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.done)
	}
	return nil
}

func (s *Source) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Devices is a configurable media.Devices.
type Devices struct {
	mu sync.Mutex

	Kinds      []webrtc.RTPCodecType
	OpenErr    map[webrtc.RTPCodecType]error
	DisplayErr error

	Opened  []*Source
	Display []*Source
}

// NewDevices has one camera and one microphone.
func NewDevices() *Devices {
	return &Devices{
		Kinds:   []webrtc.RTPCodecType{webrtc.RTPCodecTypeVideo, webrtc.RTPCodecTypeAudio},
		OpenErr: map[webrtc.RTPCodecType]error{},
	}
}

func (d *Devices) Enumerate() []media.DeviceInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]media.DeviceInfo, 0, len(d.Kinds))
	for i, k := range d.Kinds {
		out = append(out, media.DeviceInfo{ID: k.String() + string(rune('0'+i)), Label: "fake " + k.String(), Kind: k})
	}
	return out
}

func (d *Devices) Open(_ context.Context, kind webrtc.RTPCodecType) (media.Source, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.OpenErr[kind]; err != nil {
		return nil, err
	}
	s := NewSource(kind)
	d.Opened = append(d.Opened, s)
	return s, nil
}

func (d *Devices) OpenDisplay(context.Context) (media.Source, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.DisplayErr != nil {
		return nil, d.DisplayErr
	}
	s := NewSource(webrtc.RTPCodecTypeVideo)
	d.Display = append(d.Display, s)
	return s, nil
}

// SetOpenErr changes the failure for kind; nil clears it.
func (d *Devices) SetOpenErr(kind webrtc.RTPCodecType, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.OpenErr == nil {
		d.OpenErr = map[webrtc.RTPCodecType]error{}
	}
	d.OpenErr[kind] = err
}

// LastDisplay returns the most recent screen-share source.
func (d *Devices) LastDisplay() *Source {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.Display) == 0 {
		return nil
	}
	return d.Display[len(d.Display)-1]
}

// Preview records attach/detach calls.
type Preview struct {
	mu       sync.Mutex
	Attached *media.Stream
	Detaches int
}

func (p *Preview) Attach(s *media.Stream) {
	p.mu.Lock()
	p.Attached = s
	p.mu.Unlock()
}

func (p *Preview) Detach() {
	p.mu.Lock()
	p.Attached = nil
	p.Detaches++
	p.mu.Unlock()
}

func (p *Preview) Current() *media.Stream {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Attached
}
