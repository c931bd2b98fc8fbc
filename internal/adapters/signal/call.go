package signal

import (
	"github.com/hireme/interview-call/internal/core"
	"github.com/hireme/interview-call/internal/protocol"
	"github.com/rs/zerolog/log"
)

// inRoom reports whether sid has joined the interview it names in a
// payload. An empty id means the current room.
func (ctl *SignalWSController) inRoom(sid core.SessionID, conn *WsSignalConn, interviewID string) bool {
	id, _, ok := ctl.Orch.Registry.RoomOf(sid)
	if !ok || (interviewID != "" && string(id) != interviewID) {
		log.Warn().Str("module", "signal").Str("sid", string(sid)).Str("interview", interviewID).Msg("event outside joined room")
		ctl.sendError(conn, "not_in_room")
		return false
	}
	return true
}

func (ctl *SignalWSController) handleCallUser(
	sid core.SessionID,
	conn *WsSignalConn,
	env protocol.Envelope,
) {
	var p protocol.CallUser
	if err := env.Unmarshal(&p); err != nil || len(p.SignalData) == 0 {
		log.Error().Err(err).Str("module", "signal").Msg("bad call-user payload")
		ctl.sendError(conn, "bad_payload")
		return
	}
	if !ctl.inRoom(sid, conn, p.InterviewID) {
		return
	}
	n := ctl.BroadcastFrom(sid, protocol.EventCallUser, protocol.IncomingCall{
		From:   p.From,
		Signal: p.SignalData,
	})
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("from", p.From).Int("delivered", n).Msg("call-user")
}

func (ctl *SignalWSController) handleAnswerCall(
	sid core.SessionID,
	conn *WsSignalConn,
	env protocol.Envelope,
) {
	var p protocol.AnswerCall
	if err := env.Unmarshal(&p); err != nil || len(p.Signal) == 0 {
		log.Error().Err(err).Str("module", "signal").Msg("bad answer-call payload")
		ctl.sendError(conn, "bad_payload")
		return
	}
	if !ctl.inRoom(sid, conn, p.InterviewID) {
		return
	}
	n := ctl.BroadcastFrom(sid, protocol.EventCallAccepted, protocol.CallAccepted{Signal: p.Signal})
	log.Info().Str("module", "signal").Str("sid", string(sid)).Int("delivered", n).Msg("answer-call")
}

func (ctl *SignalWSController) handleEndCall(
	sid core.SessionID,
	conn *WsSignalConn,
	env protocol.Envelope,
) {
	var p protocol.EndCall
	if err := env.Unmarshal(&p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad end-call payload")
		ctl.sendError(conn, "bad_payload")
		return
	}
	if !ctl.inRoom(sid, conn, p.InterviewID) {
		return
	}
	n := ctl.BroadcastFrom(sid, protocol.EventCallEnded, struct{}{})
	log.Info().Str("module", "signal").Str("sid", string(sid)).Int("delivered", n).Msg("end-call")
}
