//go:build linux && cgo

package media

import (
	"context"
	"time"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	_ "github.com/pion/mediadevices/pkg/driver/screen"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const (
	videoFrameDuration = 33 * time.Millisecond
	audioFrameDuration = 20 * time.Millisecond
)

// hardware captures through pion/mediadevices (V4L2, malgo and X11 screen
// drivers), encoding video as VP8 and audio as Opus.
type hardware struct {
	selector *mediadevices.CodecSelector
}

// NewDevices returns the platform capture API.
func NewDevices() (Devices, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, err
	}
	vpxParams.BitRate = 1_000_000

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, err
	}

	return &hardware{
		selector: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
	}, nil
}

func (h *hardware) Enumerate() []DeviceInfo {
	var out []DeviceInfo
	for _, d := range mediadevices.EnumerateDevices() {
		info := DeviceInfo{ID: d.DeviceID, Label: d.Label}
		switch d.Kind {
		case mediadevices.VideoInput:
			info.Kind = webrtc.RTPCodecTypeVideo
		case mediadevices.AudioInput:
			info.Kind = webrtc.RTPCodecTypeAudio
		default:
			continue
		}
		log.Debug().Str("module", "media").Str("label", d.Label).Str("kind", info.Kind.String()).Msg("device")
		out = append(out, info)
	}
	return out
}

func videoConstraints(c *mediadevices.MediaTrackConstraints) {
	// MJPEG nodes on some webcams produce frames the VP8 encoder rejects.
	c.FrameFormat = prop.FrameFormatOneOf{
		frame.FormatYUYV,
		frame.FormatI420,
		frame.FormatI444,
		frame.FormatRGBA,
	}
	c.Width = prop.IntRanged{Max: 640}
	c.Height = prop.IntRanged{Max: 480}
}

func (h *hardware) Open(_ context.Context, kind webrtc.RTPCodecType) (Source, error) {
	constraints := mediadevices.MediaStreamConstraints{Codec: h.selector}
	if kind == webrtc.RTPCodecTypeVideo {
		constraints.Video = videoConstraints
	} else {
		constraints.Audio = func(*mediadevices.MediaTrackConstraints) {}
	}

	stream, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		return nil, err
	}
	return newEncodedSource(stream.GetTracks(), kind)
}

func (h *hardware) OpenDisplay(_ context.Context) (Source, error) {
	stream, err := mediadevices.GetDisplayMedia(mediadevices.MediaStreamConstraints{
		Codec: h.selector,
		Video: func(c *mediadevices.MediaTrackConstraints) {},
	})
	if err != nil {
		return nil, err
	}
	return newEncodedSource(stream.GetTracks(), webrtc.RTPCodecTypeVideo)
}

type encodedSource struct {
	track mediadevices.Track
	r     mediadevices.EncodedReadCloser
	codec webrtc.RTPCodecCapability
	dur   time.Duration
}

func newEncodedSource(tracks []mediadevices.Track, kind webrtc.RTPCodecType) (Source, error) {
	if len(tracks) == 0 {
		return nil, &NamedError{Name: "NotFoundError", Message: "no " + kind.String() + " track captured"}
	}
	for _, extra := range tracks[1:] {
		extra.Close()
	}
	track := tracks[0]

	codec := webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
	dur := videoFrameDuration
	if kind == webrtc.RTPCodecTypeAudio {
		codec = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
		dur = audioFrameDuration
	}

	r, err := track.NewEncodedReader(codec.MimeType)
	if err != nil {
		track.Close()
		return nil, &NamedError{Name: "NotReadableError", Message: err.Error()}
	}
	return &encodedSource{track: track, r: r, codec: codec, dur: dur}, nil
}

func (s *encodedSource) Codec() webrtc.RTPCodecCapability { return s.codec }

func (s *encodedSource) ReadFrame() (Frame, error) {
	buf, release, err := s.r.Read()
	if err != nil {
		return Frame{}, err
	}
	data := make([]byte, len(buf.Data))
	copy(data, buf.Data)
	release()
	return Frame{Data: data, Duration: s.dur}, nil
}

func (s *encodedSource) Close() error {
	err := s.r.Close()
	s.track.Close()
	return err
}
