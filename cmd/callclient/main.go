package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/hireme/interview-call/internal/auth"
	"github.com/hireme/interview-call/internal/call"
	"github.com/hireme/interview-call/internal/config"
	"github.com/hireme/interview-call/internal/interviews"
	"github.com/hireme/interview-call/internal/logging"
	"github.com/hireme/interview-call/internal/media"
	"github.com/hireme/interview-call/internal/peer"
	"github.com/hireme/interview-call/internal/signaling"
)

const usage = "commands: call | answer | decline | end | mute | camera | share | retry | status | quit"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logging.Init()

	fs := config.ClientFlags()
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		log.Fatal().Err(err).Msg("bad flags")
	}
	cfg, err := config.LoadClient(fs)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	logging.SetLevel(cfg.LogLevel)

	store := auth.NewStore(cfg.SessionFile)
	sess, err := store.Load()
	if err != nil {
		log.Error().Err(err).Str("file", cfg.SessionFile).Msg("no usable session")
	}
	go watchSession(ctx, store)

	devices, err := media.NewDevices()
	if err != nil {
		log.Fatal().Err(err).Msg("media devices unavailable")
	}
	api, err := peer.NewAPI()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build webrtc api")
	}

	ivc := interviews.NewClient(cfg.APIURL, store)
	if iv, err := ivc.Get(ctx, cfg.InterviewID); err != nil {
		log.Warn().Err(err).Str("interview", cfg.InterviewID).Msg("interview lookup failed")
	} else {
		log.Info().
			Str("interview", iv.ID).
			Str("job", iv.JobTitle).
			Str("candidate", iv.Candidate.Name).
			Str("recruiter", iv.Recruiter.Name).
			Time("scheduled_at", iv.ScheduledAt).
			Msg("interview")
	}

	ctl := call.NewController(
		call.Config{
			InterviewID: cfg.InterviewID,
			DisplayName: sess.User.Name,
			LeaveDelay:  cfg.LeaveDelay,
		},
		call.Deps{
			Media: media.NewAcquirer(devices, media.LogPreview{}),
			Transports: call.SignalingTransport(signaling.Options{
				URL:            cfg.SignalURL,
				Sessions:       store,
				InterviewID:    cfg.InterviewID,
				ReconnectDelay: cfg.ReconnectDelay,
			}),
			Peers:    call.PionPeers(api, peer.Configuration(cfg.STUNURLs)),
			Status:   ivc,
			Sessions: store,
		},
		call.Hooks{
			OnStateChange: func(s call.State, err error) {
				var de *media.DeviceError
				if errors.As(err, &de) {
					fmt.Println(de.Message())
				}
				fmt.Printf("[%s]\n", s)
			},
			OnError: func(err error) {
				fmt.Println("warning:", err)
			},
			OnUserJoined: func(name, role string) {
				fmt.Printf("%s (%s) joined\n", name, role)
			},
			OnRemoteStream: func(track *webrtc.TrackRemote) {
				go drainRemote(ctx, track)
			},
			OnLeave: cancel,
		},
	)
	defer ctl.Unmount()

	if err := ctl.Mount(ctx); err != nil {
		log.Warn().Err(err).Msg("mount incomplete")
	}
	fmt.Println(usage)

	lines := make(chan string)
	go readLines(lines)
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Shutting down")
			return
		case line, ok := <-lines:
			if !ok {
				ctl.EndCall()
				return
			}
			if quit := runCommand(ctx, ctl, strings.TrimSpace(line)); quit {
				return
			}
		}
	}
}

func readLines(out chan<- string) {
	defer close(out)
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		out <- sc.Text()
	}
}

func runCommand(ctx context.Context, ctl *call.Controller, cmd string) bool {
	var err error
	switch cmd {
	case "":
		return false
	case "call":
		err = ctl.StartCall(ctx)
	case "answer":
		err = ctl.Answer(ctx)
	case "decline":
		err = ctl.Decline()
	case "end":
		ctl.EndCall()
	case "mute":
		var muted bool
		if muted, err = ctl.ToggleMute(); err == nil {
			fmt.Println("muted:", muted)
		}
	case "camera":
		var off bool
		if off, err = ctl.ToggleCamera(); err == nil {
			fmt.Println("camera off:", off)
		}
	case "share":
		if err = ctl.ToggleScreenShare(ctx); err == nil {
			fmt.Println("sharing:", ctl.ScreenSharing())
		}
	case "retry":
		err = ctl.Retry(ctx)
	case "status":
		fmt.Printf("state=%s muted=%t camera_off=%t sharing=%t", ctl.State(), ctl.Muted(), ctl.CameraOff(), ctl.ScreenSharing())
		if ctl.ReceivingCall() {
			fmt.Printf(" caller=%q", ctl.Caller())
		}
		fmt.Println()
	case "quit":
		ctl.EndCall()
		return true
	default:
		fmt.Println(usage)
	}
	if err != nil {
		fmt.Println("error:", err)
	}
	return false
}

// watchSession keeps the store in sync with the session file. Signaling
// reads the store on every dial, so retry picks up a new sign-in.
func watchSession(ctx context.Context, store *auth.Store) {
	changes, unsubscribe := store.Subscribe()
	defer unsubscribe()
	go func() {
		if err := store.Watch(ctx); err != nil {
			log.Warn().Err(err).Str("module", "auth").Msg("session watch stopped")
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case <-changes:
			if s, ok := store.Current(); ok {
				log.Info().Str("module", "auth").Str("user", s.User.Name).Msg("session changed")
			} else {
				log.Warn().Str("module", "auth").Msg("signed out")
			}
		}
	}
}

func drainRemote(ctx context.Context, track *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	var packets, bytes int
	for {
		n, _, err := track.Read(buf)
		if err != nil {
			log.Info().Str("module", "remote").Str("kind", track.Kind().String()).Int("packets", packets).Msg("remote track ended")
			return
		}
		packets++
		bytes += n
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			log.Info().Str("module", "remote").Str("kind", track.Kind().String()).Int("packets", packets).Int("bytes", bytes).Msg("receiving")
		default:
		}
	}
}
