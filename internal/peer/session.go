// Package peer wraps a single pion PeerConnection behind the
// signal/stream/error surface the call controller needs.
package peer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/hireme/interview-call/internal/media"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var (
	ErrNoMediaStream      = errors.New("no local media stream")
	ErrDestroyed          = errors.New("peer session destroyed")
	ErrNoVideoSender      = errors.New("no outgoing video track")
	ErrUnexpectedSignal   = errors.New("unexpected signal for role")
	ErrConnectionFailed   = errors.New("peer connection failed")
	ErrAlreadyNegotiating = errors.New("signal already applied")
)

// Role says which side of the offer/answer exchange a session plays.
type Role int

const (
	Initiator Role = iota
	Responder
)

func (r Role) String() string {
	if r == Initiator {
		return "initiator"
	}
	return "responder"
}

// Handlers are invoked from pion goroutines.
type Handlers struct {
	// OnSignal receives each local description once ICE gathering is done.
	OnSignal func(webrtc.SessionDescription)
	// OnStream receives each remote track.
	OnStream func(*webrtc.TrackRemote)
	// OnConnected fires when the connection reaches the connected state.
	OnConnected func()
	// OnError reports negotiation and connection failures.
	OnError func(error)
}

type Options struct {
	Role     Role
	Stream   *media.Stream
	API      *webrtc.API
	Config   webrtc.Configuration
	Handlers Handlers
}

// Session is one outgoing or incoming negotiation. The local stream is
// borrowed: Destroy never stops its tracks.
type Session struct {
	role Role
	pc   *webrtc.PeerConnection
	h    Handlers

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	videoSender *webrtc.RTPSender
	applied     bool
	destroyed   bool
}

// New creates the peer connection and attaches every track of the local
// stream. An initiator starts generating its offer immediately.
func New(ctx context.Context, opts Options) (*Session, error) {
	if opts.Stream == nil {
		return nil, ErrNoMediaStream
	}
	api := opts.API
	if api == nil {
		var err error
		if api, err = NewAPI(); err != nil {
			return nil, err
		}
	}
	pc, err := api.NewPeerConnection(opts.Config)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &Session{
		role:   opts.Role,
		pc:     pc,
		h:      opts.Handlers,
		ctx:    ctx,
		cancel: cancel,
	}

	for _, t := range opts.Stream.Tracks() {
		sender, err := pc.AddTrack(t.Local())
		if err != nil {
			s.Destroy()
			return nil, fmt.Errorf("add %s track: %w", t.Kind(), err)
		}
		if t.Kind() == webrtc.RTPCodecTypeVideo && s.videoSender == nil {
			s.videoSender = sender
		}
		go drainRTCP(sender)
	}
	s.bind()

	log.Info().Str("module", "peer").Str("role", s.role.String()).Int("tracks", len(opts.Stream.Tracks())).Msg("peer created")
	if s.role == Initiator {
		go s.offer()
	}
	return s, nil
}

func (s *Session) bind() {
	s.pc.OnICEConnectionStateChange(func(st webrtc.ICEConnectionState) {
		log.Info().Str("module", "peer").Str("role", s.role.String()).Str("ice_state", st.String()).Msg("ICE state")
	})

	s.pc.OnConnectionStateChange(func(st webrtc.PeerConnectionState) {
		log.Info().Str("module", "peer").Str("role", s.role.String()).Str("peer_connection_state", st.String()).Msg("Peer state")
		switch st {
		case webrtc.PeerConnectionStateConnected:
			if s.h.OnConnected != nil {
				s.h.OnConnected()
			}
		case webrtc.PeerConnectionStateFailed:
			s.fail(ErrConnectionFailed)
		}
	})

	s.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "peer").
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		if s.h.OnStream != nil {
			s.h.OnStream(track)
		}
	})
}

func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				log.Debug().Err(err).Str("module", "peer").Msg("rtcp read")
			}
			return
		}
	}
}

func (s *Session) Role() Role { return s.role }

func (s *Session) isDestroyed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.destroyed
}

func (s *Session) fail(err error) {
	if s.isDestroyed() {
		return
	}
	log.Error().Err(err).Str("module", "peer").Str("role", s.role.String()).Msg("peer error")
	if s.h.OnError != nil {
		s.h.OnError(err)
	}
}

// gather sets desc as the local description and waits for ICE gathering,
// so the emitted signal carries every candidate.
func (s *Session) gather(desc webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	done := webrtc.GatheringCompletePromise(s.pc)
	if err := s.pc.SetLocalDescription(desc); err != nil {
		return webrtc.SessionDescription{}, err
	}
	select {
	case <-done:
	case <-s.ctx.Done():
		return webrtc.SessionDescription{}, ErrDestroyed
	}
	local := s.pc.LocalDescription()
	if local == nil {
		return webrtc.SessionDescription{}, ErrDestroyed
	}
	return *local, nil
}

func (s *Session) emit(desc webrtc.SessionDescription) {
	if s.isDestroyed() {
		return
	}
	log.Info().Str("module", "peer").Str("role", s.role.String()).Str("type", desc.Type.String()).Msg("local signal ready")
	if s.h.OnSignal != nil {
		s.h.OnSignal(desc)
	}
}

func (s *Session) offer() {
	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		s.fail(fmt.Errorf("create offer: %w", err))
		return
	}
	local, err := s.gather(offer)
	if err != nil {
		if !errors.Is(err, ErrDestroyed) {
			s.fail(fmt.Errorf("set local offer: %w", err))
		}
		return
	}
	s.emit(local)
}

// Signal applies the remote party's payload: an offer for a responder,
// which is answered through OnSignal, or the answer for an initiator.
// Each session accepts exactly one remote signal.
func (s *Session) Signal(sig webrtc.SessionDescription) error {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return ErrDestroyed
	}
	if s.applied {
		s.mu.Unlock()
		return ErrAlreadyNegotiating
	}
	s.applied = true
	s.mu.Unlock()

	switch {
	case s.role == Responder && sig.Type == webrtc.SDPTypeOffer:
		if err := s.pc.SetRemoteDescription(sig); err != nil {
			return fmt.Errorf("apply offer: %w", err)
		}
		answer, err := s.pc.CreateAnswer(nil)
		if err != nil {
			return fmt.Errorf("create answer: %w", err)
		}
		local, err := s.gather(answer)
		if err != nil {
			return fmt.Errorf("set local answer: %w", err)
		}
		s.emit(local)
		return nil
	case s.role == Initiator && sig.Type == webrtc.SDPTypeAnswer:
		if err := s.pc.SetRemoteDescription(sig); err != nil {
			return fmt.Errorf("apply answer: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("%w: %s got %s", ErrUnexpectedSignal, s.role, sig.Type)
	}
}

// ReplaceVideoTrack swaps the outgoing video track in place; no
// renegotiation takes place.
func (s *Session) ReplaceVideoTrack(track *media.Track) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return ErrDestroyed
	}
	if s.videoSender == nil {
		return ErrNoVideoSender
	}
	if err := s.videoSender.ReplaceTrack(track.Local()); err != nil {
		return fmt.Errorf("replace video track: %w", err)
	}
	log.Info().Str("module", "peer").Str("track", track.ID()).Str("label", track.Label()).Msg("video track replaced")
	return nil
}

// SignalingState exposes the underlying negotiation state.
func (s *Session) SignalingState() webrtc.SignalingState {
	return s.pc.SignalingState()
}

// Destroy closes the peer connection. Safe to call more than once.
func (s *Session) Destroy() {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	s.destroyed = true
	s.mu.Unlock()

	s.cancel()
	if err := s.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "peer").Str("role", s.role.String()).Msg("close error")
	} else {
		log.Info().Str("module", "peer").Str("role", s.role.String()).Msg("closed")
	}
}

func (s *Session) Destroyed() bool { return s.isDestroyed() }
