// Package media acquires local capture tracks and maps device failures to
// user-facing remediation.
package media

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// DeviceInfo describes one available input device.
type DeviceInfo struct {
	ID    string
	Label string
	Kind  webrtc.RTPCodecType
}

// Devices is the platform capture API.
type Devices interface {
	Enumerate() []DeviceInfo
	Open(ctx context.Context, kind webrtc.RTPCodecType) (Source, error)
	OpenDisplay(ctx context.Context) (Source, error)
}

// Preview renders the local stream, e.g. a self-view element.
type Preview interface {
	Attach(*Stream)
	Detach()
}

// LogPreview is a Preview for headless clients: it only logs.
type LogPreview struct{}

func (LogPreview) Attach(s *Stream) {
	log.Info().Str("module", "media.preview").Str("stream", s.ID()).Int("tracks", len(s.Tracks())).Msg("preview attached")
}

func (LogPreview) Detach() {
	log.Info().Str("module", "media.preview").Msg("preview detached")
}

type Acquirer struct {
	devices Devices
	preview Preview
}

func NewAcquirer(devices Devices, preview Preview) *Acquirer {
	if preview == nil {
		preview = LogPreview{}
	}
	return &Acquirer{devices: devices, preview: preview}
}

// Acquire opens one track per available device kind (video first) and
// attaches the stream to the preview. On failure every opened track is
// stopped, nothing is attached and the error is a *DeviceError.
func (a *Acquirer) Acquire(ctx context.Context) (*Stream, error) {
	var hasVideo, hasAudio bool
	for _, d := range a.devices.Enumerate() {
		switch d.Kind {
		case webrtc.RTPCodecTypeVideo:
			hasVideo = true
		case webrtc.RTPCodecTypeAudio:
			hasAudio = true
		}
	}
	log.Info().Str("module", "media").Bool("video", hasVideo).Bool("audio", hasAudio).Msg("devices enumerated")
	if !hasVideo && !hasAudio {
		return nil, &DeviceError{Kind: NoDeviceFound}
	}

	streamID := uuid.NewString()
	var tracks []*Track
	fail := func(err error) (*Stream, error) {
		for _, t := range tracks {
			t.Stop()
		}
		de := Classify(err)
		log.Warn().Err(err).Str("module", "media").Str("kind", de.Kind.String()).Msg("acquire failed")
		return nil, de
	}

	for _, want := range []struct {
		kind  webrtc.RTPCodecType
		label string
		ok    bool
	}{
		{webrtc.RTPCodecTypeVideo, "camera", hasVideo},
		{webrtc.RTPCodecTypeAudio, "microphone", hasAudio},
	} {
		if !want.ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		src, err := a.devices.Open(ctx, want.kind)
		if err != nil {
			return fail(err)
		}
		t, err := NewTrack(want.kind, want.label, streamID, src)
		if err != nil {
			_ = src.Close()
			return fail(err)
		}
		tracks = append(tracks, t)
	}

	stream := NewStream(streamID, tracks...)
	a.preview.Attach(stream)
	return stream, nil
}

// AcquireDisplay opens a screen-share video track. Any failure, including
// the user dismissing the picker, wraps ErrScreenShareCancelled.
func (a *Acquirer) AcquireDisplay(ctx context.Context) (*Track, error) {
	src, err := a.devices.OpenDisplay(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrScreenShareCancelled, err)
	}
	t, err := NewTrack(webrtc.RTPCodecTypeVideo, "screen", uuid.NewString(), src)
	if err != nil {
		_ = src.Close()
		return nil, fmt.Errorf("%w: %v", ErrScreenShareCancelled, err)
	}
	return t, nil
}

// DetachPreview clears the self-view.
func (a *Acquirer) DetachPreview() {
	a.preview.Detach()
}
