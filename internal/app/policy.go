package app

import "github.com/hireme/interview-call/internal/core"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	KickMember
	DropFrame
)

// Policy decides what happens to a member whose send buffer is full.
type Policy interface {
	OnBackPressure(room core.RoomService, member core.MemberSession) BackpressureAction
}

// SimplePolicy kicks members that cannot keep up. Members that have no
// signal connection bound only lose the frame.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(_ core.RoomService, member core.MemberSession) BackpressureAction {
	if member.Signal() == nil {
		return DropFrame
	}
	return KickMember
}
