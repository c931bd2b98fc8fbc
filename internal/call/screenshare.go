package call

import (
	"context"
	"errors"

	"github.com/hireme/interview-call/internal/media"
	"github.com/rs/zerolog/log"
)

// ToggleScreenShare starts sharing when idle and stops it when active.
func (c *Controller) ToggleScreenShare(ctx context.Context) error {
	if c.ScreenSharing() {
		c.StopScreenShare()
		return nil
	}
	return c.StartScreenShare(ctx)
}

// StartScreenShare captures the screen and swaps it in as the outgoing
// video on the live peer. A cancelled picker is logged and otherwise
// ignored. Calling it while already sharing does nothing.
func (c *Controller) StartScreenShare(ctx context.Context) error {
	c.mu.Lock()
	if c.sharing || c.capturing {
		c.mu.Unlock()
		return nil
	}
	if c.local == nil {
		c.mu.Unlock()
		return ErrNoMediaStream
	}
	c.capturing = true
	c.mu.Unlock()

	track, err := c.deps.Media.AcquireDisplay(ctx)

	c.mu.Lock()
	c.capturing = false
	if err != nil {
		c.mu.Unlock()
		if errors.Is(err, media.ErrScreenShareCancelled) {
			log.Info().Err(err).Str("module", "call").Msg("screen share cancelled")
			return nil
		}
		log.Warn().Err(err).Str("module", "call").Msg("screen share failed")
		return nil
	}
	if c.local == nil || c.unmounted || c.state == Ended {
		c.mu.Unlock()
		track.Stop()
		return ErrCallEnded
	}
	if c.peer != nil {
		if err := c.peer.ReplaceVideoTrack(track); err != nil {
			perr := &PeerNegotiationError{Err: err}
			c.report(perr)
			c.unlock()
			track.Stop()
			return perr
		}
	}
	c.screen = track
	c.sharing = true
	log.Info().Str("module", "call").Str("track", track.ID()).Msg("screen share started")
	c.unlock()

	track.OnEnded(func(error) { c.stopScreen(track) })
	return nil
}

// StopScreenShare stops the screen track and restores the camera.
func (c *Controller) StopScreenShare() {
	c.mu.Lock()
	track := c.screen
	c.mu.Unlock()
	if track != nil {
		c.stopScreen(track)
	}
}

// stopScreen reverts to the camera if track is still the one being
// shared. It also runs when the shared window goes away.
func (c *Controller) stopScreen(track *media.Track) {
	c.mu.Lock()
	if c.screen != track {
		c.mu.Unlock()
		return
	}
	c.screen = nil
	c.sharing = false
	if c.peer != nil && c.local != nil {
		if cams := c.local.VideoTracks(); len(cams) > 0 {
			if err := c.peer.ReplaceVideoTrack(cams[0]); err != nil {
				c.report(&PeerNegotiationError{Err: err})
			}
		}
	}
	log.Info().Str("module", "call").Str("track", track.ID()).Msg("screen share stopped")
	c.unlock()

	track.Stop()
}
