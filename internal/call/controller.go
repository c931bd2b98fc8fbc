// Package call drives one interview call: local media, the signaling
// transport and the peer session, behind a single state machine.
package call

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/hireme/interview-call/internal/interviews"
	"github.com/hireme/interview-call/internal/media"
	"github.com/hireme/interview-call/internal/peer"
	"github.com/hireme/interview-call/internal/protocol"
	"github.com/hireme/interview-call/internal/signaling"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const (
	DefaultLeaveDelay = 1500 * time.Millisecond
	statusTimeout     = 5 * time.Second
)

type Config struct {
	InterviewID string
	DisplayName string
	LeaveDelay  time.Duration
}

// Hooks are called outside the controller lock.
type Hooks struct {
	OnStateChange  func(State, error)
	OnError        func(error)
	OnLeave        func()
	OnRemoteStream func(*webrtc.TrackRemote)
	OnUserJoined   func(name, role string)
}

type Deps struct {
	Media      MediaSource
	Transports TransportFactory
	Peers      PeerFactory
	// Status is optional.
	Status StatusUpdater
	// Sessions is optional and supplies the caller name on call-user.
	Sessions signaling.SessionSource
}

type Controller struct {
	cfg   Config
	deps  Deps
	hooks Hooks

	mu        sync.Mutex
	state     State
	err       error
	local     *media.Stream
	transport Transport
	peer      Peer
	peerGen   int
	accepted  bool
	connected bool

	caller string
	offer  *webrtc.SessionDescription

	muted     bool
	cameraOff bool
	sharing   bool
	screen    *media.Track
	capturing bool

	leave     *time.Timer
	unmounted bool

	pending []func()
}

func NewController(cfg Config, deps Deps, hooks Hooks) *Controller {
	if cfg.LeaveDelay <= 0 {
		cfg.LeaveDelay = DefaultLeaveDelay
	}
	return &Controller{cfg: cfg, deps: deps, hooks: hooks}
}

// unlock releases the lock and runs the hooks queued while it was held.
func (c *Controller) unlock() {
	queued := c.pending
	c.pending = nil
	c.mu.Unlock()
	for _, fn := range queued {
		fn()
	}
}

func (c *Controller) setState(s State, err error) {
	if c.state == s && err == nil && c.err == nil {
		return
	}
	log.Info().Str("module", "call").Str("from", c.state.String()).Str("to", s.String()).AnErr("cause", err).Msg("state")
	c.state = s
	c.err = err
	if fn := c.hooks.OnStateChange; fn != nil {
		c.pending = append(c.pending, func() { fn(s, err) })
	}
}

func (c *Controller) report(err error) {
	log.Warn().Err(err).Str("module", "call").Msg("call error")
	if fn := c.hooks.OnError; fn != nil {
		c.pending = append(c.pending, func() { fn(err) })
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err is the cause of the current state, if any.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Controller) LocalStream() *media.Stream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.local
}

func (c *Controller) ReceivingCall() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == Ringing
}

func (c *Controller) Caller() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.caller
}

func (c *Controller) Muted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.muted
}

func (c *Controller) CameraOff() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cameraOff
}

func (c *Controller) ScreenSharing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sharing
}

// Mount acquires local media and connects the signaling transport. Device
// failures leave the controller Errored; Retry re-attempts acquisition.
func (c *Controller) Mount(ctx context.Context) error {
	c.mu.Lock()
	if c.state != Idle || c.unmounted {
		c.mu.Unlock()
		return ErrAlreadyMounted
	}
	c.setState(AwaitingMedia, nil)
	c.unlock()

	return c.prepare(ctx)
}

// Retry re-acquires local media after an error. An existing signaling
// transport is kept as is.
func (c *Controller) Retry(ctx context.Context) error {
	c.mu.Lock()
	if c.state != Errored || c.unmounted {
		st := c.state
		c.mu.Unlock()
		return &InvalidStateError{Op: "retry", State: st}
	}
	p, local, screen := c.detachCall()
	c.local = nil
	c.setState(AwaitingMedia, nil)
	c.unlock()

	release(local, screen, p)
	if local != nil {
		c.deps.Media.DetachPreview()
	}

	return c.prepare(ctx)
}

// prepare acquires media and then opens the transport. A device error
// stays the cause of Errored even when signaling fails too.
func (c *Controller) prepare(ctx context.Context) error {
	mediaErr := c.acquire(ctx)
	if errors.Is(mediaErr, ErrCallEnded) || errors.Is(mediaErr, ErrUnmounted) {
		return mediaErr
	}
	terr := c.openTransport(ctx)
	if mediaErr != nil {
		return mediaErr
	}
	return terr
}

func (c *Controller) acquire(ctx context.Context) error {
	stream, err := c.deps.Media.Acquire(ctx)

	c.mu.Lock()
	if c.unmounted || c.state != AwaitingMedia {
		gone := ErrCallEnded
		if c.unmounted {
			gone = ErrUnmounted
		}
		c.unlock()
		if stream != nil {
			stream.Stop()
			c.deps.Media.DetachPreview()
		}
		return gone
	}
	defer c.unlock()
	if err != nil {
		c.setState(Errored, err)
		return err
	}
	c.local = stream
	c.muted, c.cameraOff = false, false
	c.setState(Ready, nil)
	return nil
}

// openTransport creates and connects the transport unless one exists. A
// missing token is fatal and moves the controller to Errored; a failed
// dial is reported and left to the transport's own reconnect.
func (c *Controller) openTransport(ctx context.Context) error {
	c.mu.Lock()
	if c.unmounted || c.state == Ended {
		c.mu.Unlock()
		return ErrCallEnded
	}
	if c.transport != nil {
		c.mu.Unlock()
		return nil
	}
	t, err := c.deps.Transports(c.handleEvent)
	if err != nil {
		serr := &SignalingConnectionError{Err: err}
		if c.state == Errored {
			c.report(serr)
		} else {
			c.setState(Errored, serr)
		}
		c.unlock()
		return serr
	}
	c.transport = t
	c.mu.Unlock()

	err = t.Connect(ctx)

	c.mu.Lock()
	if c.transport != t {
		c.unlock()
		t.Close()
		return ErrCallEnded
	}
	if err != nil {
		serr := &SignalingConnectionError{Err: err}
		c.report(serr)
		c.unlock()
		return serr
	}
	c.unlock()
	return nil
}

// displayName prefers the signed-in user's name over the configured one.
func (c *Controller) displayName() string {
	if c.deps.Sessions != nil {
		if s, ok := c.deps.Sessions.Current(); ok && s.User.Name != "" {
			return s.User.Name
		}
	}
	return c.cfg.DisplayName
}

func (c *Controller) emit(event string, payload any) {
	if c.transport == nil {
		c.report(&SignalingConnectionError{Err: ErrNoTransport})
		return
	}
	if err := c.transport.Emit(event, payload); err != nil {
		c.report(&SignalingConnectionError{Err: err})
	}
}

// StartCall offers a call to the other participant. The call-user event
// goes out once the peer has produced its offer.
func (c *Controller) StartCall(ctx context.Context) error {
	c.mu.Lock()
	if c.local == nil {
		c.mu.Unlock()
		return ErrNoMediaStream
	}
	if c.state != Ready {
		st := c.state
		c.mu.Unlock()
		return &InvalidStateError{Op: "start call", State: st}
	}
	old := c.dropPeer()
	gen := c.peerGen
	stream := c.local
	c.accepted = false
	c.setState(Dialing, nil)
	c.unlock()

	if old != nil {
		old.Destroy()
	}
	_, err := c.newPeer(ctx, gen, peer.Initiator, stream)
	return err
}

// Answer accepts the ringing call by applying the stored offer.
func (c *Controller) Answer(ctx context.Context) error {
	c.mu.Lock()
	if c.local == nil {
		c.mu.Unlock()
		return ErrNoMediaStream
	}
	if c.state != Ringing {
		st := c.state
		c.mu.Unlock()
		return &InvalidStateError{Op: "answer", State: st}
	}
	if c.offer == nil {
		c.mu.Unlock()
		return ErrNoOffer
	}
	offer := *c.offer
	c.offer = nil
	old := c.dropPeer()
	gen := c.peerGen
	stream := c.local
	c.unlock()

	if old != nil {
		old.Destroy()
	}
	p, err := c.newPeer(ctx, gen, peer.Responder, stream)
	if err != nil {
		return err
	}

	err = p.Signal(offer)

	c.mu.Lock()
	defer c.unlock()
	if gen != c.peerGen {
		return ErrCallEnded
	}
	if err != nil {
		perr := &PeerNegotiationError{Err: err}
		c.setState(Errored, perr)
		return perr
	}
	c.setState(Connected, nil)
	return nil
}

// Decline drops the ringing call locally. The caller is not notified.
func (c *Controller) Decline() error {
	c.mu.Lock()
	if c.state != Ringing {
		st := c.state
		c.mu.Unlock()
		return &InvalidStateError{Op: "decline", State: st}
	}
	log.Info().Str("module", "call").Str("caller", c.caller).Msg("call declined")
	p := c.dropPeer()
	c.offer = nil
	c.caller = ""
	c.setState(Ready, nil)
	c.unlock()

	if p != nil {
		p.Destroy()
	}
	return nil
}

// newPeer builds a peer for generation gen. If the call was torn down in
// the meantime the new peer is destroyed.
func (c *Controller) newPeer(ctx context.Context, gen int, role peer.Role, stream *media.Stream) (Peer, error) {
	p, err := c.deps.Peers(ctx, role, stream, c.peerHandlers(gen, role))

	c.mu.Lock()
	if gen != c.peerGen || c.unmounted {
		c.unlock()
		if err == nil {
			p.Destroy()
		}
		return nil, ErrCallEnded
	}
	if err != nil {
		perr := &PeerNegotiationError{Err: err}
		c.setState(Errored, perr)
		c.unlock()
		return nil, perr
	}
	c.peer = p
	var dropped *media.Track
	if c.sharing && c.screen != nil {
		if err := p.ReplaceVideoTrack(c.screen); err != nil {
			c.report(&PeerNegotiationError{Err: err})
			dropped = c.screen
			c.screen = nil
			c.sharing = false
		}
	}
	c.unlock()
	if dropped != nil {
		dropped.Stop()
	}
	return p, nil
}

func (c *Controller) peerHandlers(gen int, role peer.Role) peer.Handlers {
	return peer.Handlers{
		OnSignal: func(desc webrtc.SessionDescription) {
			c.mu.Lock()
			defer c.unlock()
			if gen != c.peerGen {
				return
			}
			raw, err := json.Marshal(desc)
			if err != nil {
				c.report(&PeerNegotiationError{Err: err})
				return
			}
			if role == peer.Initiator {
				c.emit(protocol.EventCallUser, protocol.CallUser{
					InterviewID: c.cfg.InterviewID,
					SignalData:  raw,
					From:        c.displayName(),
				})
				return
			}
			c.emit(protocol.EventAnswerCall, protocol.AnswerCall{
				Signal:      raw,
				InterviewID: c.cfg.InterviewID,
			})
		},
		OnStream: func(track *webrtc.TrackRemote) {
			c.mu.Lock()
			defer c.unlock()
			if gen != c.peerGen {
				return
			}
			if fn := c.hooks.OnRemoteStream; fn != nil {
				c.pending = append(c.pending, func() { fn(track) })
			}
		},
		OnConnected: func() {
			c.mu.Lock()
			defer c.unlock()
			if gen == c.peerGen {
				c.connected = true
			}
		},
		OnError: func(err error) {
			c.mu.Lock()
			defer c.unlock()
			if gen != c.peerGen || c.state == Ended {
				return
			}
			c.setState(Errored, &PeerNegotiationError{Err: err})
		},
	}
}

// handleEvent routes transport events. It runs on the transport's read
// goroutine.
func (c *Controller) handleEvent(env protocol.Envelope) {
	switch env.Event {
	case protocol.EventConnect:
		log.Info().Str("module", "call").Str("interview", c.cfg.InterviewID).Msg("signaling connected")
	case protocol.EventConnectError, protocol.EventDisconnect:
		var e protocol.ErrorEvent
		_ = env.Unmarshal(&e)
		c.mu.Lock()
		c.report(&SignalingConnectionError{Err: errors.New(env.Event + ": " + e.Error)})
		c.unlock()
	case protocol.EventUserJoined:
		var joined protocol.UserJoined
		if err := env.Unmarshal(&joined); err != nil {
			log.Warn().Err(err).Str("module", "call").Msg("bad user-joined")
			return
		}
		log.Info().Str("module", "call").Str("user", joined.UserName).Str("role", joined.UserType).Msg("user joined")
		if fn := c.hooks.OnUserJoined; fn != nil {
			fn(joined.UserName, joined.UserType)
		}
	case protocol.EventCallUser:
		c.onIncomingCall(env)
	case protocol.EventCallAccepted:
		c.onCallAccepted(env)
	case protocol.EventCallEnded:
		log.Info().Str("module", "call").Msg("remote ended the call")
		c.end(false)
	case protocol.EventError:
		var e protocol.ErrorEvent
		_ = env.Unmarshal(&e)
		log.Warn().Str("module", "call").Str("error", e.Error).Msg("relay error")
	default:
		log.Debug().Str("module", "call").Str("event", env.Event).Msg("ignored event")
	}
}

func decodeSignal(raw json.RawMessage) (webrtc.SessionDescription, error) {
	var desc webrtc.SessionDescription
	if len(raw) == 0 || string(raw) == "null" {
		return desc, errors.New("empty signal")
	}
	if err := json.Unmarshal(raw, &desc); err != nil {
		return desc, err
	}
	return desc, nil
}

func (c *Controller) onIncomingCall(env protocol.Envelope) {
	var in protocol.IncomingCall
	if err := env.Unmarshal(&in); err != nil {
		log.Warn().Err(err).Str("module", "call").Msg("bad call-user")
		return
	}
	offer, err := decodeSignal(in.Signal)
	if err != nil {
		log.Warn().Err(err).Str("module", "call").Str("from", in.From).Msg("call-user without usable offer")
		return
	}

	c.mu.Lock()
	defer c.unlock()
	if c.state != Ready {
		log.Info().Str("module", "call").Str("from", in.From).Str("state", c.state.String()).Msg("incoming call ignored")
		return
	}
	c.caller = in.From
	c.offer = &offer
	c.setState(Ringing, nil)
}

func (c *Controller) onCallAccepted(env protocol.Envelope) {
	var acc protocol.CallAccepted
	if err := env.Unmarshal(&acc); err != nil {
		log.Warn().Err(err).Str("module", "call").Msg("bad call-accepted")
		return
	}
	answer, err := decodeSignal(acc.Signal)
	if err != nil {
		log.Warn().Err(err).Str("module", "call").Msg("call-accepted without usable answer")
		return
	}

	c.mu.Lock()
	if c.state != Dialing || c.peer == nil || c.accepted {
		log.Info().Str("module", "call").Str("state", c.state.String()).Msg("call-accepted ignored")
		c.unlock()
		return
	}
	c.accepted = true
	p, gen := c.peer, c.peerGen
	c.unlock()

	err = p.Signal(answer)

	c.mu.Lock()
	defer c.unlock()
	if gen != c.peerGen {
		return
	}
	if err != nil {
		c.setState(Errored, &PeerNegotiationError{Err: err})
		return
	}
	c.setState(Connected, nil)
}

// ToggleMute flips the audio tracks in place and returns the new state.
func (c *Controller) ToggleMute() (bool, error) {
	c.mu.Lock()
	defer c.unlock()
	if c.local == nil {
		return c.muted, ErrNoMediaStream
	}
	c.muted = !c.muted
	for _, t := range c.local.AudioTracks() {
		t.SetEnabled(!c.muted)
	}
	log.Info().Str("module", "call").Bool("muted", c.muted).Msg("mute toggled")
	return c.muted, nil
}

// ToggleCamera flips the camera tracks in place and returns the new state.
func (c *Controller) ToggleCamera() (bool, error) {
	c.mu.Lock()
	defer c.unlock()
	if c.local == nil {
		return c.cameraOff, ErrNoMediaStream
	}
	c.cameraOff = !c.cameraOff
	for _, t := range c.local.VideoTracks() {
		t.SetEnabled(!c.cameraOff)
	}
	log.Info().Str("module", "call").Bool("camera_off", c.cameraOff).Msg("camera toggled")
	return c.cameraOff, nil
}

// EndCall notifies the other side and tears the session down. It is valid
// in every state and is a no-op once Ended.
func (c *Controller) EndCall() {
	c.end(true)
}

func (c *Controller) end(local bool) {
	c.mu.Lock()
	if c.state == Ended || c.unmounted {
		c.mu.Unlock()
		return
	}
	if local && c.transport != nil {
		c.emit(protocol.EventEndCall, protocol.EndCall{InterviewID: c.cfg.InterviewID})
	}
	wasConnected := c.state == Connected || c.connected
	p, stream, screen := c.detachCall()
	c.local = nil
	t := c.transport
	c.transport = nil
	c.setState(Ended, nil)
	if fn := c.hooks.OnLeave; fn != nil {
		c.leave = time.AfterFunc(c.cfg.LeaveDelay, fn)
	}
	c.unlock()

	teardown(stream, screen, t, p)
	if stream != nil {
		c.deps.Media.DetachPreview()
	}
	if wasConnected && c.deps.Status != nil {
		go c.markCompleted()
	}
}

func (c *Controller) markCompleted() {
	ctx, cancel := context.WithTimeout(context.Background(), statusTimeout)
	defer cancel()
	if err := c.deps.Status.UpdateStatus(ctx, c.cfg.InterviewID, interviews.StatusCompleted); err != nil {
		log.Warn().Err(err).Str("module", "call").Str("interview", c.cfg.InterviewID).Msg("status update failed")
	}
}

// Unmount releases everything the controller owns, from any state, and
// cancels a pending leave callback.
func (c *Controller) Unmount() {
	c.mu.Lock()
	if c.unmounted {
		c.mu.Unlock()
		return
	}
	c.unmounted = true
	if c.leave != nil {
		c.leave.Stop()
	}
	p, stream, screen := c.detachCall()
	c.local = nil
	t := c.transport
	c.transport = nil
	c.mu.Unlock()

	teardown(stream, screen, t, p)
	if stream != nil {
		c.deps.Media.DetachPreview()
	}
	log.Info().Str("module", "call").Msg("unmounted")
}

// dropPeer forgets the current peer and bumps the generation so callbacks
// from it are ignored. The caller destroys the returned peer.
func (c *Controller) dropPeer() Peer {
	p := c.peer
	c.peer = nil
	c.peerGen++
	c.accepted = false
	c.connected = false
	return p
}

// detachCall clears per-call state and returns the resources to release.
func (c *Controller) detachCall() (Peer, *media.Stream, *media.Track) {
	p := c.dropPeer()
	screen := c.screen
	c.screen = nil
	c.sharing = false
	c.offer = nil
	c.caller = ""
	return p, c.local, screen
}

// teardown stops local then screen tracks, closes the transport and
// destroys the peer, in that order.
func teardown(stream *media.Stream, screen *media.Track, t Transport, p Peer) {
	if stream != nil {
		stream.Stop()
	}
	if screen != nil {
		screen.Stop()
	}
	if t != nil {
		t.Close()
	}
	if p != nil {
		p.Destroy()
	}
}

func release(stream *media.Stream, screen *media.Track, p Peer) {
	teardown(stream, screen, nil, p)
}
