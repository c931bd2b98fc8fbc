package signal

import (
	"github.com/hireme/interview-call/internal/core"
	"github.com/hireme/interview-call/internal/domain"
	"github.com/hireme/interview-call/internal/protocol"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleJoin(
	sid core.SessionID,
	conn *WsSignalConn,
	env protocol.Envelope,
) {
	var p protocol.JoinRoom
	if err := env.Unmarshal(&p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad join payload")
		ctl.sendError(conn, "bad_payload")
		return
	}
	id, err := domain.ParseInterviewID(p.InterviewID)
	if err != nil {
		ctl.sendError(conn, "invalid_interview")
		return
	}
	if ctl.Limiter != nil && !ctl.Limiter.Allow(domain.UserID(sid)) {
		log.Warn().Str("module", "signal").Str("sid", string(sid)).Msg("join rate limited")
		ctl.sendError(conn, "rate_limited")
		return
	}
	if err := ctl.Orch.Registry.UpdateProfile(sid, p.UserName, domain.Role(p.UserType)); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("bad join profile")
		ctl.sendError(conn, "invalid_profile")
		return
	}

	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("interview", string(id)).Msg("join")
	if !ctl.Orch.Join(sid, id) {
		ctl.sendError(conn, "no_session")
		return
	}

	user, _ := ctl.Orch.Registry.GetOrCreateUser(sid)
	ctl.BroadcastFrom(sid, protocol.EventUserJoined, protocol.UserJoined{
		UserName: user.Username,
		UserType: string(user.Role),
	})
}

// handleDisconnect removes sess from its room. Room mates are not told:
// the call clients only react to an explicit end-call.
func (ctl *SignalWSController) handleDisconnect(sid core.SessionID, sess core.MemberSession) {
	log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("disconnect")
	ctl.Orch.OnDisconnect(sid, sess)
}
