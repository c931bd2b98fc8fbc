package call

import (
	"context"
	"testing"
	"time"

	"github.com/hireme/interview-call/internal/auth"
	"github.com/hireme/interview-call/internal/media"
	"github.com/hireme/interview-call/internal/peer"
	"github.com/hireme/interview-call/internal/protocol"
	"github.com/hireme/interview-call/internal/signaling"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMountAcquiresMediaAndConnects(t *testing.T) {
	h := newHarness(t)
	h.mount(t)

	stream := h.ctl.LocalStream()
	require.NotNil(t, stream)
	assert.Len(t, stream.VideoTracks(), 1)
	assert.Len(t, stream.AudioTracks(), 1)
	assert.Same(t, stream, h.preview.Current())
	assert.Equal(t, 1, h.transport.connects)
	assert.Equal(t, []State{AwaitingMedia, Ready}, h.states)

	assert.ErrorIs(t, h.ctl.Mount(context.Background()), ErrAlreadyMounted)
}

func TestDeviceErrorsEndInErrored(t *testing.T) {
	cases := []struct {
		name string
		err  error
		kind media.DeviceErrorKind
	}{
		{"granted then denied", &media.NamedError{Name: "NotAllowedError"}, media.PermissionDenied},
		{"busy", &media.NamedError{Name: "NotReadableError"}, media.DeviceBusy},
		{"not found", &media.NamedError{Name: "NotFoundError"}, media.NoDeviceFound},
		{"unknown", errBoom, media.Unknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			h.devs.SetOpenErr(webrtc.RTPCodecTypeVideo, tc.err)

			err := h.ctl.Mount(context.Background())
			var de *media.DeviceError
			require.ErrorAs(t, err, &de)
			assert.Equal(t, tc.kind, de.Kind)

			assert.Equal(t, Errored, h.ctl.State())
			var stateErr *media.DeviceError
			require.ErrorAs(t, h.ctl.Err(), &stateErr)
			assert.Equal(t, tc.kind, stateErr.Kind)
			assert.Nil(t, h.preview.Current())
			assert.Nil(t, h.ctl.LocalStream())
		})
	}
}

func TestNoHardwareIsNoDeviceFound(t *testing.T) {
	h := newHarness(t)
	h.devs.Kinds = nil

	err := h.ctl.Mount(context.Background())
	var de *media.DeviceError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, media.NoDeviceFound, de.Kind)
}

func TestStartCallWithoutStream(t *testing.T) {
	h := newHarness(t)
	h.devs.Kinds = nil
	require.Error(t, h.ctl.Mount(context.Background()))

	assert.ErrorIs(t, h.ctl.StartCall(context.Background()), ErrNoMediaStream)
	assert.Empty(t, h.Peers())
	assert.Empty(t, h.transport.Emitted())

	assert.ErrorIs(t, h.ctl.Answer(context.Background()), ErrNoMediaStream)
	assert.Empty(t, h.Peers())
}

func TestOutgoingCall(t *testing.T) {
	h := newHarness(t)
	h.mount(t)

	require.NoError(t, h.ctl.StartCall(context.Background()))
	assert.Equal(t, Dialing, h.ctl.State())
	p := h.lastPeer(t)
	assert.Equal(t, 0, len(h.transport.Emitted()), "nothing is sent before the offer exists")

	p.h.OnSignal(offerDesc)
	emits := h.transport.Emitted()
	require.Len(t, emits, 1)
	assert.Equal(t, protocol.EventCallUser, emits[0].Event)
	cu, ok := emits[0].Payload.(protocol.CallUser)
	require.True(t, ok)
	assert.Equal(t, "iv-1", cu.InterviewID)
	assert.Equal(t, "Alice", cu.From)
	assert.NotEmpty(t, cu.SignalData)
	assert.NotEqual(t, "null", string(cu.SignalData))

	accepted := protocol.CallAccepted{Signal: rawSignal(t, answerDesc)}
	h.transport.deliver(t, protocol.EventCallAccepted, accepted)
	assert.Equal(t, Connected, h.ctl.State())
	h.transport.deliver(t, protocol.EventCallAccepted, accepted)

	require.Len(t, p.Signals(), 1)
	assert.Equal(t, answerDesc, p.Signals()[0])
}

func TestIncomingCallDecline(t *testing.T) {
	h := newHarness(t)
	h.mount(t)

	h.ring(t)
	assert.True(t, h.ctl.ReceivingCall())
	assert.Equal(t, "Bob", h.ctl.Caller())

	require.NoError(t, h.ctl.Decline())
	assert.Equal(t, Ready, h.ctl.State())
	assert.False(t, h.ctl.ReceivingCall())
	assert.Empty(t, h.transport.Emitted())
	assert.Empty(t, h.Peers())
}

func TestIncomingCallAnswer(t *testing.T) {
	h := newHarness(t)
	h.mount(t)
	h.ring(t)

	require.NoError(t, h.ctl.Answer(context.Background()))
	assert.Equal(t, Connected, h.ctl.State())

	p := h.lastPeer(t)
	require.Len(t, p.Signals(), 1)
	assert.Equal(t, offerDesc, p.Signals()[0])

	emits := h.transport.Emitted()
	require.Len(t, emits, 1)
	assert.Equal(t, protocol.EventAnswerCall, emits[0].Event)
	ac := emits[0].Payload.(protocol.AnswerCall)
	assert.Equal(t, "iv-1", ac.InterviewID)
	assert.JSONEq(t, string(rawSignal(t, answerDesc)), string(ac.Signal))
}

func TestIncomingCallIgnoredWhenBusy(t *testing.T) {
	h := newHarness(t)
	h.mount(t)
	h.dial(t)

	h.transport.deliver(t, protocol.EventCallUser, protocol.IncomingCall{From: "Carol", Signal: rawSignal(t, offerDesc)})
	assert.Equal(t, Dialing, h.ctl.State())
	assert.Empty(t, h.ctl.Caller())
}

func TestIncomingCallWithoutSignalIgnored(t *testing.T) {
	h := newHarness(t)
	h.mount(t)

	h.transport.deliver(t, protocol.EventCallUser, protocol.IncomingCall{From: "Bob"})
	assert.Equal(t, Ready, h.ctl.State())
}

func TestAnswerRequiresRinging(t *testing.T) {
	h := newHarness(t)
	h.mount(t)

	var se *InvalidStateError
	require.ErrorAs(t, h.ctl.Answer(context.Background()), &se)
	assert.Equal(t, Ready, se.State)
	require.ErrorAs(t, h.ctl.Decline(), &se)
}

func assertReleased(t *testing.T, h *harness, stream *media.Stream) {
	t.Helper()
	for _, tr := range stream.Tracks() {
		assert.True(t, tr.Ended(), "track %s stopped", tr.Label())
	}
	for _, src := range h.devs.Opened {
		assert.True(t, src.Closed())
	}
	for _, src := range h.devs.Display {
		assert.True(t, src.Closed())
	}
	assert.True(t, h.transport.Closed())
	for _, p := range h.Peers() {
		assert.True(t, p.Destroyed())
	}
	assert.Nil(t, h.preview.Current())
	assert.False(t, h.ctl.ScreenSharing())
}

func TestEndCallReleasesEverything(t *testing.T) {
	setups := map[string]func(*testing.T, *harness){
		"ready":     func(*testing.T, *harness) {},
		"dialing":   func(t *testing.T, h *harness) { h.dial(t) },
		"ringing":   func(t *testing.T, h *harness) { h.ring(t) },
		"connected": func(t *testing.T, h *harness) { h.connect(t) },
		"sharing": func(t *testing.T, h *harness) {
			h.connect(t)
			require.NoError(t, h.ctl.StartScreenShare(context.Background()))
			require.True(t, h.ctl.ScreenSharing())
		},
		"errored": func(t *testing.T, h *harness) {
			h.dial(t)
			h.lastPeer(t).h.OnError(errBoom)
			require.Equal(t, Errored, h.ctl.State())
		},
	}
	for name, setup := range setups {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			h.mount(t)
			stream := h.ctl.LocalStream()
			setup(t, h)

			h.ctl.EndCall()

			assert.Equal(t, Ended, h.ctl.State())
			assertReleased(t, h, stream)
			emits := h.transport.Emitted()
			require.NotEmpty(t, emits)
			assert.Equal(t, protocol.EventEndCall, emits[len(emits)-1].Event)
			assert.Equal(t, protocol.EndCall{InterviewID: "iv-1"}, emits[len(emits)-1].Payload)
		})
	}
}

func TestEndCallWhileAwaitingMedia(t *testing.T) {
	ends := map[string]func(*harness){
		"local":   func(h *harness) { h.ctl.EndCall() },
		"unmount": func(h *harness) { h.ctl.Unmount() },
	}
	for name, end := range ends {
		t.Run(name, func(t *testing.T) {
			gate := newGatedMedia()
			h := newHarness(t, func(h *harness) { h.gate = gate })

			mounted := make(chan error, 1)
			go func() { mounted <- h.ctl.Mount(context.Background()) }()
			<-gate.entered
			require.Equal(t, AwaitingMedia, h.ctl.State())

			end(h)
			close(gate.release)

			var err error
			select {
			case err = <-mounted:
			case <-time.After(time.Second):
				t.Fatal("mount did not return")
			}
			require.Error(t, err)
			assert.Nil(t, h.ctl.LocalStream())
			assert.Zero(t, h.Transports(), "no transport after the call ended")
			assert.Zero(t, h.transport.connects)
			assert.Empty(t, h.transport.Emitted())
			assert.Nil(t, h.preview.Current())
			for _, src := range h.devs.Opened {
				assert.True(t, src.Closed())
			}
		})
	}
}

func TestEndCallDuringDialIsNotReopened(t *testing.T) {
	h := newHarness(t)
	h.transport.onConnect = h.ctl.EndCall

	require.ErrorIs(t, h.ctl.Mount(context.Background()), ErrCallEnded)
	assert.Equal(t, Ended, h.ctl.State())
	assert.True(t, h.transport.Closed())
	assert.Equal(t, 1, h.Transports())
}

func TestRemoteEndMatchesLocalEnd(t *testing.T) {
	local := newHarness(t)
	local.mount(t)
	localStream := local.ctl.LocalStream()
	local.connect(t)
	local.ctl.EndCall()

	remote := newHarness(t)
	remote.mount(t)
	remoteStream := remote.ctl.LocalStream()
	remote.connect(t)
	before := len(remote.transport.Emitted())
	remote.transport.deliver(t, protocol.EventCallEnded, nil)

	assert.Equal(t, local.ctl.State(), remote.ctl.State())
	assertReleased(t, local, localStream)
	assertReleased(t, remote, remoteStream)
	assert.Len(t, remote.transport.Emitted(), before, "remote end is not echoed")
}

func TestEndCallIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.mount(t)
	h.ctl.EndCall()
	h.ctl.EndCall()

	ends := 0
	for _, e := range h.transport.Emitted() {
		if e.Event == protocol.EventEndCall {
			ends++
		}
	}
	assert.Equal(t, 1, ends)
}

func TestLeaveAfterDelay(t *testing.T) {
	h := newHarness(t)
	h.ctl.cfg.LeaveDelay = 10 * time.Millisecond
	h.mount(t)
	h.ctl.EndCall()

	select {
	case <-h.left:
	case <-time.After(time.Second):
		t.Fatal("OnLeave not called")
	}
}

func TestUnmountCancelsLeave(t *testing.T) {
	h := newHarness(t)
	h.ctl.cfg.LeaveDelay = 30 * time.Millisecond
	h.mount(t)
	h.ctl.EndCall()
	h.ctl.Unmount()

	select {
	case <-h.left:
		t.Fatal("OnLeave after unmount")
	case <-time.After(80 * time.Millisecond):
	}
}

func TestUnmountFromAnyState(t *testing.T) {
	h := newHarness(t)
	h.mount(t)
	stream := h.ctl.LocalStream()
	h.connect(t)
	require.NoError(t, h.ctl.StartScreenShare(context.Background()))

	h.ctl.Unmount()
	h.ctl.Unmount()

	assertReleased(t, h, stream)
	for _, e := range h.transport.Emitted() {
		assert.NotEqual(t, protocol.EventEndCall, e.Event)
	}
}

func TestToggleMuteAndCamera(t *testing.T) {
	h := newHarness(t)
	h.mount(t)
	h.connect(t)
	stream := h.ctl.LocalStream()

	muted, err := h.ctl.ToggleMute()
	require.NoError(t, err)
	assert.True(t, muted)
	assert.False(t, stream.AudioTracks()[0].Enabled())
	assert.True(t, stream.VideoTracks()[0].Enabled())

	off, err := h.ctl.ToggleCamera()
	require.NoError(t, err)
	assert.True(t, off)
	assert.False(t, stream.VideoTracks()[0].Enabled())

	muted, _ = h.ctl.ToggleMute()
	assert.False(t, muted)
	assert.True(t, stream.AudioTracks()[0].Enabled())

	assert.Equal(t, Connected, h.ctl.State())
	assert.Len(t, h.Peers(), 1, "toggles never renegotiate")
	assert.Same(t, stream.VideoTracks()[0], h.lastPeer(t).Video())
}

func TestScreenShareRestoresCamera(t *testing.T) {
	h := newHarness(t)
	h.mount(t)
	p := h.connect(t)
	camera := h.ctl.LocalStream().VideoTracks()[0]

	require.NoError(t, h.ctl.ToggleScreenShare(context.Background()))
	require.True(t, h.ctl.ScreenSharing())
	screen := p.Video()
	require.NotNil(t, screen)
	assert.NotSame(t, camera, screen)
	assert.Equal(t, "screen", screen.Label())

	require.NoError(t, h.ctl.StartScreenShare(context.Background()))
	assert.Len(t, h.devs.Display, 1, "second start is a no-op")

	require.NoError(t, h.ctl.ToggleScreenShare(context.Background()))
	assert.False(t, h.ctl.ScreenSharing())
	assert.Same(t, camera, p.Video())
	assert.True(t, screen.Ended())
	assert.True(t, h.devs.LastDisplay().Closed())
	assert.False(t, camera.Ended())
}

func TestScreenShareEndedByPlatform(t *testing.T) {
	h := newHarness(t)
	h.mount(t)
	p := h.connect(t)
	camera := h.ctl.LocalStream().VideoTracks()[0]

	require.NoError(t, h.ctl.StartScreenShare(context.Background()))
	h.devs.LastDisplay().End()

	require.Eventually(t, func() bool { return !h.ctl.ScreenSharing() }, time.Second, 5*time.Millisecond)
	assert.Same(t, camera, p.Video())
}

func TestScreenShareCancelledIsSilent(t *testing.T) {
	h := newHarness(t)
	h.mount(t)
	h.devs.DisplayErr = &media.NamedError{Name: "NotAllowedError"}
	var reported []error
	h.ctl.hooks.OnError = func(err error) { reported = append(reported, err) }

	require.NoError(t, h.ctl.ToggleScreenShare(context.Background()))
	assert.False(t, h.ctl.ScreenSharing())
	assert.Empty(t, reported)
	assert.Equal(t, Ready, h.ctl.State())
}

func TestScreenShareWithoutCameraRollsBack(t *testing.T) {
	h := newHarness(t)
	h.devs.Kinds = []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio}
	h.mount(t)
	h.connect(t)

	var pe *PeerNegotiationError
	require.ErrorAs(t, h.ctl.StartScreenShare(context.Background()), &pe)
	assert.ErrorIs(t, pe, peer.ErrNoVideoSender)
	assert.False(t, h.ctl.ScreenSharing())
	require.NotEmpty(t, h.devs.Display)
	assert.True(t, h.devs.LastDisplay().Closed())
	assert.Equal(t, Connected, h.ctl.State())
}

func TestScreenShareBeforeCallIsAppliedToNewPeer(t *testing.T) {
	h := newHarness(t)
	h.mount(t)
	require.NoError(t, h.ctl.StartScreenShare(context.Background()))

	p := h.dial(t)
	require.NotNil(t, p.Video())
	assert.Equal(t, "screen", p.Video().Label())
}

func TestPeerErrorIsRecoverable(t *testing.T) {
	h := newHarness(t)
	h.mount(t)
	h.dial(t)
	h.lastPeer(t).h.OnError(errBoom)

	assert.Equal(t, Errored, h.ctl.State())
	var pe *PeerNegotiationError
	require.ErrorAs(t, h.ctl.Err(), &pe)
	assert.ErrorIs(t, pe, errBoom)
	assert.False(t, h.lastPeer(t).Destroyed(), "the call stays until ended")

	require.NoError(t, h.ctl.Retry(context.Background()))
	assert.Equal(t, Ready, h.ctl.State())
	assert.True(t, h.Peers()[0].Destroyed())
	assert.Equal(t, 1, h.Transports(), "signaling is kept")
	assert.Len(t, h.devs.Opened, 4)
}

func TestPeerFactoryFailure(t *testing.T) {
	h := newHarness(t)
	h.mount(t)
	h.peerErr = errBoom

	var pe *PeerNegotiationError
	require.ErrorAs(t, h.ctl.StartCall(context.Background()), &pe)
	assert.Equal(t, Errored, h.ctl.State())
}

func TestAnswerNegotiationFailure(t *testing.T) {
	h := newHarness(t, func(h *harness) { h.signalErr = errBoom })
	h.mount(t)
	h.ring(t)

	var pe *PeerNegotiationError
	require.ErrorAs(t, h.ctl.Answer(context.Background()), &pe)
	assert.Equal(t, Errored, h.ctl.State())
	assert.Empty(t, h.transport.Emitted())
}

func TestRetryAfterDeviceError(t *testing.T) {
	h := newHarness(t)
	h.devs.SetOpenErr(webrtc.RTPCodecTypeAudio, &media.NamedError{Name: "NotReadableError"})
	require.Error(t, h.ctl.Mount(context.Background()))
	require.Equal(t, Errored, h.ctl.State())

	h.devs.SetOpenErr(webrtc.RTPCodecTypeAudio, nil)
	require.NoError(t, h.ctl.Retry(context.Background()))
	assert.Equal(t, Ready, h.ctl.State())
	assert.NotNil(t, h.preview.Current())
	assert.Equal(t, 1, h.Transports())

	var se *InvalidStateError
	require.ErrorAs(t, h.ctl.Retry(context.Background()), &se)
}

func TestMissingTokenIsFatal(t *testing.T) {
	h := newHarness(t, func(h *harness) { h.tokenErr = signaling.ErrMissingToken })

	err := h.ctl.Mount(context.Background())
	var se *SignalingConnectionError
	require.ErrorAs(t, err, &se)
	assert.ErrorIs(t, err, signaling.ErrMissingToken)
	assert.Equal(t, Errored, h.ctl.State())
	assert.Zero(t, h.transport.connects)
}

func TestRetryAfterTokenAppears(t *testing.T) {
	h := newHarness(t, func(h *harness) { h.tokenErr = signaling.ErrMissingToken })
	require.Error(t, h.ctl.Mount(context.Background()))
	require.Equal(t, Errored, h.ctl.State())

	h.setTokenErr(nil)
	require.NoError(t, h.ctl.Retry(context.Background()))
	assert.Equal(t, Ready, h.ctl.State())
	assert.Equal(t, 2, h.Transports())
	assert.Equal(t, 1, h.transport.connects)
}

func TestDeviceErrorOutranksMissingToken(t *testing.T) {
	h := newHarness(t, func(h *harness) { h.tokenErr = signaling.ErrMissingToken })
	var reported []error
	h.ctl.hooks.OnError = func(err error) { reported = append(reported, err) }
	h.devs.SetOpenErr(webrtc.RTPCodecTypeVideo, &media.NamedError{Name: "NotAllowedError"})

	err := h.ctl.Mount(context.Background())
	var de *media.DeviceError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, media.PermissionDenied, de.Kind)

	assert.Equal(t, Errored, h.ctl.State())
	require.ErrorAs(t, h.ctl.Err(), &de)
	require.Len(t, reported, 1)
	var se *SignalingConnectionError
	assert.ErrorAs(t, reported[0], &se)
}

type staticSessions struct{ sess auth.Session }

func (s staticSessions) Current() (auth.Session, bool) { return s.sess, s.sess.Token != "" }

func TestCallerNameFollowsSession(t *testing.T) {
	h := newHarness(t, func(h *harness) {
		h.sessions = staticSessions{auth.Session{Token: "t", User: auth.User{Name: "Carol"}}}
	})
	h.mount(t)
	h.dial(t)

	emits := h.transport.Emitted()
	require.Len(t, emits, 1)
	assert.Equal(t, "Carol", emits[0].Payload.(protocol.CallUser).From)
}

func TestDialFailureIsReportedNotFatal(t *testing.T) {
	h := newHarness(t, func(h *harness) { h.transport.dialErr = errBoom })
	var reported []error
	h.ctl.hooks.OnError = func(err error) { reported = append(reported, err) }

	err := h.ctl.Mount(context.Background())
	var se *SignalingConnectionError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, Ready, h.ctl.State())
	require.Len(t, reported, 1)
}

func TestConnectedCallMarksInterviewCompleted(t *testing.T) {
	h := newHarness(t)
	h.mount(t)
	h.connect(t)
	h.ctl.EndCall()

	select {
	case <-h.status.done:
	case <-time.After(time.Second):
		t.Fatal("status not updated")
	}
	assert.Equal(t, []string{"iv-1=completed"}, h.status.updates)
}

func TestUnansweredCallDoesNotMarkCompleted(t *testing.T) {
	h := newHarness(t)
	h.mount(t)
	h.dial(t)
	h.ctl.EndCall()

	select {
	case <-h.status.done:
		t.Fatal("unexpected status update")
	case <-time.After(50 * time.Millisecond):
	}
}
