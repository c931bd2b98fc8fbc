package orch

import (
	"github.com/hireme/interview-call/internal/core"
	"github.com/hireme/interview-call/internal/domain"
	"github.com/rs/zerolog/log"
)

// Join seats sid in the interview room, leaving any room it was in.
func (o *Orchestrator) Join(sid core.SessionID, id domain.InterviewID) bool {
	if prev, _, ok := o.Registry.RoomOf(sid); ok {
		o.KickBySID(sid)
		log.Info().Str("module", "orch").Str("sid", string(sid)).Str("from_room", string(prev)).Msg("left previous room")
	}
	session, ok := o.Registry.GetSession(sid)
	if !ok {
		return false
	}
	room := o.Rooms.GetOrCreate(id)
	room.AddMember(sid, session)
	o.Registry.UpdateRoom(sid, id)
	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("interview", string(id)).Msg("added to room")
	return true
}

func (o *Orchestrator) KickBySID(sid core.SessionID) {
	id, _, ok := o.Registry.RoomOf(sid)
	if !ok {
		return
	}
	if room, ok := o.Rooms.Get(id); ok {
		room.RemoveMember(sid)
		if room.MemberCount() == 0 {
			o.Rooms.StopRoom(id)
		}
	}
	o.Registry.RemoveRoom(sid)
}

// OnDisconnect drops sess from its room and forgets it, unless sid has
// already been rebound by a newer connection.
func (o *Orchestrator) OnDisconnect(sid core.SessionID, sess core.MemberSession) {
	current, ok := o.Registry.GetSession(sid)
	if !ok || current != sess {
		return
	}
	o.KickBySID(sid)
	o.Registry.Unbind(sid, sess)
}

func (o *Orchestrator) EvictRoom(id domain.InterviewID) {
	for _, snap := range o.Registry.MembersOfRoom(id) {
		o.KickBySID(snap.SID)
	}
	o.Rooms.StopRoom(id)
}
