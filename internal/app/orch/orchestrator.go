package orch

import (
	"github.com/hireme/interview-call/internal/app"
	"github.com/hireme/interview-call/internal/core"
	"github.com/rs/zerolog/log"
)

type Orchestrator struct {
	Registry *app.Registry
	Rooms    core.RoomFactory
	Policy   app.Policy
}

// Relay forwards data to sid's room mates and applies the backpressure
// policy to members that could not take it. It returns the delivery count.
func (o *Orchestrator) Relay(sid core.SessionID, data core.Frame) int {
	id, _, ok := o.Registry.RoomOf(sid)
	if !ok {
		return 0
	}
	room, ok := o.Rooms.Get(id)
	if !ok {
		return 0
	}

	res := room.Broadcast(sid, data)
	if o.Policy == nil {
		return res.SendTo
	}
	for _, slow := range res.Dropped {
		switch o.Policy.OnBackPressure(room, slow) {
		case app.KickMember:
			for _, snap := range o.Registry.MembersOfRoom(id) {
				if snap.Session == slow {
					log.Warn().Str("module", "orch").Str("sid", string(snap.SID)).Msg("kicking slow member")
					o.KickBySID(snap.SID)
					if sc := slow.Signal(); sc != nil {
						sc.Close()
					}
				}
			}
		case app.DropFrame, app.NoAction:
		}
	}
	return res.SendTo
}
