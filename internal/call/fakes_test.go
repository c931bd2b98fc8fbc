package call

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/hireme/interview-call/internal/interviews"
	"github.com/hireme/interview-call/internal/media"
	"github.com/hireme/interview-call/internal/media/mediatest"
	"github.com/hireme/interview-call/internal/peer"
	"github.com/hireme/interview-call/internal/protocol"
	"github.com/hireme/interview-call/internal/signaling"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
)

type emitted struct {
	Event   string
	Payload any
}

type fakeTransport struct {
	mu       sync.Mutex
	handler  signaling.Handler
	emits    []emitted
	connects int
	closed   int
	dialErr  error
	// onConnect runs inside Connect, before the connect event.
	onConnect func()
}

func (f *fakeTransport) Connect(context.Context) error {
	f.mu.Lock()
	f.connects++
	err, hook := f.dialErr, f.onConnect
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	if err != nil {
		return err
	}
	f.handler(protocol.Envelope{Event: protocol.EventConnect})
	return nil
}

func (f *fakeTransport) Emit(event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed > 0 {
		return signaling.ErrClosed
	}
	f.emits = append(f.emits, emitted{event, payload})
	return nil
}

func (f *fakeTransport) Close() {
	f.mu.Lock()
	f.closed++
	f.mu.Unlock()
}

func (f *fakeTransport) Emitted() []emitted {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]emitted(nil), f.emits...)
}

func (f *fakeTransport) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed > 0
}

func (f *fakeTransport) deliver(t *testing.T, event string, data any) {
	t.Helper()
	frame, err := protocol.Encode(event, data)
	require.NoError(t, err)
	env, err := protocol.Decode(frame)
	require.NoError(t, err)
	f.handler(env)
}

type fakePeer struct {
	role peer.Role
	h    peer.Handlers

	mu        sync.Mutex
	signals   []webrtc.SessionDescription
	video     *media.Track
	noVideo   bool
	destroyed bool
	signalErr error
}

func (p *fakePeer) Signal(desc webrtc.SessionDescription) error {
	p.mu.Lock()
	p.signals = append(p.signals, desc)
	err := p.signalErr
	p.mu.Unlock()
	if err != nil {
		return err
	}
	if p.role == peer.Responder {
		p.h.OnSignal(answerDesc)
	}
	return nil
}

func (p *fakePeer) ReplaceVideoTrack(t *media.Track) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.noVideo {
		return peer.ErrNoVideoSender
	}
	p.video = t
	return nil
}

func (p *fakePeer) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.destroyed = true
}

func (p *fakePeer) Signals() []webrtc.SessionDescription {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]webrtc.SessionDescription(nil), p.signals...)
}

func (p *fakePeer) Video() *media.Track {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.video
}

func (p *fakePeer) Destroyed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.destroyed
}

type fakeStatus struct {
	mu      sync.Mutex
	updates []string
	done    chan struct{}
}

func (s *fakeStatus) UpdateStatus(_ context.Context, id string, status interviews.Status) error {
	s.mu.Lock()
	s.updates = append(s.updates, id+"="+string(status))
	s.mu.Unlock()
	s.done <- struct{}{}
	return nil
}

var (
	offerDesc  = webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0\r\no=offer\r\n"}
	answerDesc = webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0\r\no=answer\r\n"}
)

func rawSignal(t *testing.T, d webrtc.SessionDescription) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(d)
	require.NoError(t, err)
	return raw
}

type harness struct {
	devs      *mediatest.Devices
	preview   *mediatest.Preview
	transport *fakeTransport
	status    *fakeStatus

	mu         sync.Mutex
	transports int
	peers      []*fakePeer
	peerErr    error
	signalErr  error
	tokenErr   error
	gate       *gatedMedia
	sessions   signaling.SessionSource
	left       chan struct{}
	states     []State

	ctl *Controller
}

func newHarness(t *testing.T, configure ...func(*harness)) *harness {
	t.Helper()
	h := &harness{
		devs:      mediatest.NewDevices(),
		preview:   &mediatest.Preview{},
		transport: &fakeTransport{},
		status:    &fakeStatus{done: make(chan struct{}, 1)},
		left:      make(chan struct{}, 1),
	}
	for _, fn := range configure {
		fn(h)
	}

	var src MediaSource = media.NewAcquirer(h.devs, h.preview)
	if h.gate != nil {
		h.gate.MediaSource = src
		src = h.gate
	}
	deps := Deps{
		Media:    src,
		Sessions: h.sessions,
		Transports: func(handler signaling.Handler) (Transport, error) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.transports++
			if h.tokenErr != nil {
				return nil, h.tokenErr
			}
			h.transport.handler = handler
			return h.transport, nil
		},
		Peers: func(_ context.Context, role peer.Role, stream *media.Stream, handlers peer.Handlers) (Peer, error) {
			h.mu.Lock()
			defer h.mu.Unlock()
			if h.peerErr != nil {
				return nil, h.peerErr
			}
			p := &fakePeer{role: role, h: handlers, signalErr: h.signalErr}
			if cams := stream.VideoTracks(); len(cams) > 0 {
				p.video = cams[0]
			} else {
				p.noVideo = true
			}
			h.peers = append(h.peers, p)
			return p, nil
		},
		Status: h.status,
	}
	hooks := Hooks{
		OnStateChange: func(s State, _ error) {
			h.mu.Lock()
			h.states = append(h.states, s)
			h.mu.Unlock()
		},
		OnLeave: func() { h.left <- struct{}{} },
	}
	h.ctl = NewController(Config{InterviewID: "iv-1", DisplayName: "Alice"}, deps, hooks)
	t.Cleanup(h.ctl.Unmount)
	return h
}

func (h *harness) setTokenErr(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tokenErr = err
}

// gatedMedia holds Acquire until release is closed.
type gatedMedia struct {
	MediaSource
	entered chan struct{}
	release chan struct{}
}

func newGatedMedia() *gatedMedia {
	return &gatedMedia{entered: make(chan struct{}, 1), release: make(chan struct{})}
}

func (g *gatedMedia) Acquire(ctx context.Context) (*media.Stream, error) {
	g.entered <- struct{}{}
	<-g.release
	return g.MediaSource.Acquire(ctx)
}

func (h *harness) mount(t *testing.T) {
	t.Helper()
	require.NoError(t, h.ctl.Mount(context.Background()))
	require.Equal(t, Ready, h.ctl.State())
}

func (h *harness) Peers() []*fakePeer {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*fakePeer(nil), h.peers...)
}

func (h *harness) lastPeer(t *testing.T) *fakePeer {
	t.Helper()
	peers := h.Peers()
	require.NotEmpty(t, peers)
	return peers[len(peers)-1]
}

func (h *harness) Transports() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.transports
}

// dial puts the harness in Dialing with the offer already emitted.
func (h *harness) dial(t *testing.T) *fakePeer {
	t.Helper()
	require.NoError(t, h.ctl.StartCall(context.Background()))
	p := h.lastPeer(t)
	p.h.OnSignal(offerDesc)
	return p
}

// ring delivers an incoming offer from Bob.
func (h *harness) ring(t *testing.T) {
	t.Helper()
	h.transport.deliver(t, protocol.EventCallUser, protocol.IncomingCall{From: "Bob", Signal: rawSignal(t, offerDesc)})
	require.Equal(t, Ringing, h.ctl.State())
}

// connect runs an outgoing call to Connected.
func (h *harness) connect(t *testing.T) *fakePeer {
	t.Helper()
	p := h.dial(t)
	h.transport.deliver(t, protocol.EventCallAccepted, protocol.CallAccepted{Signal: rawSignal(t, answerDesc)})
	require.Equal(t, Connected, h.ctl.State())
	return p
}

var errBoom = errors.New("boom")
