package call

import (
	"context"

	"github.com/hireme/interview-call/internal/interviews"
	"github.com/hireme/interview-call/internal/media"
	"github.com/hireme/interview-call/internal/peer"
	"github.com/hireme/interview-call/internal/signaling"
	"github.com/pion/webrtc/v4"
)

// Transport is the signaling connection owned by one controller.
type Transport interface {
	Connect(ctx context.Context) error
	Emit(event string, payload any) error
	Close()
}

// TransportFactory builds the transport and routes its events to h.
type TransportFactory func(h signaling.Handler) (Transport, error)

// Peer is the negotiation handle for one call.
type Peer interface {
	Signal(webrtc.SessionDescription) error
	ReplaceVideoTrack(*media.Track) error
	Destroy()
}

type PeerFactory func(ctx context.Context, role peer.Role, stream *media.Stream, h peer.Handlers) (Peer, error)

// MediaSource acquires local capture; *media.Acquirer implements it.
type MediaSource interface {
	Acquire(ctx context.Context) (*media.Stream, error)
	AcquireDisplay(ctx context.Context) (*media.Track, error)
	DetachPreview()
}

// StatusUpdater marks the interview once a call has ended.
type StatusUpdater interface {
	UpdateStatus(ctx context.Context, id string, status interviews.Status) error
}

// SignalingTransport builds transports on the signaling client.
func SignalingTransport(opts signaling.Options) TransportFactory {
	return func(h signaling.Handler) (Transport, error) {
		return signaling.New(opts, h)
	}
}

// PionPeers builds peer sessions sharing one pion API.
func PionPeers(api *webrtc.API, cfg webrtc.Configuration) PeerFactory {
	return func(ctx context.Context, role peer.Role, stream *media.Stream, h peer.Handlers) (Peer, error) {
		return peer.New(ctx, peer.Options{
			Role:     role,
			Stream:   stream,
			API:      api,
			Config:   cfg,
			Handlers: h,
		})
	}
}
