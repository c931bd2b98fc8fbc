package core

import "github.com/hireme/interview-call/internal/domain"

// Frame is a raw encoded signaling event.
type Frame []byte

type SessionID string

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// MemberSession binds domain.Member and its transport endpoint.
// This is what a room stores and fans out to.
type MemberSession interface {
	Meta() *domain.Member
	Signal() SignalConnection
	UpdateSignal(SignalConnection) MemberSession
}

// PublishResult reports delivery stats/backpressure to orchestrator.
type PublishResult struct {
	SendTo  int
	Dropped []MemberSession
}

// MemberDTO is a read-only view for APIs (no transport fields).
type MemberDTO struct {
	ID       domain.UserID `json:"id"`
	Username string        `json:"userName"`
	Role     domain.Role   `json:"userType"`
}

// RoomService is the core-facing API of an interview room.
// It owns the membership set but never touches transport resources.
type RoomService interface {
	Room() *domain.Room
	MemberCount() int
	MembersSnapshot() []MemberDTO

	AddMember(sid SessionID, ms MemberSession)
	RemoveMember(sid SessionID)
	Broadcast(from SessionID, data Frame) PublishResult
}

type RoomInfo struct {
	ID          domain.InterviewID `json:"interviewId"`
	MemberCount int                `json:"memberCount"`
}

type RoomFactory interface {
	GetOrCreate(id domain.InterviewID) RoomService
	Get(id domain.InterviewID) (RoomService, bool)
	List() []RoomInfo
	StopRoom(id domain.InterviewID)
}
