package app

import (
	"sync"

	"github.com/hireme/interview-call/internal/core"
	"github.com/hireme/interview-call/internal/domain"
	"github.com/rs/zerolog/log"
)

// RoomManagerImpl keeps one room per interview, created on first join.
type RoomManagerImpl struct {
	mu    sync.RWMutex
	rooms map[domain.InterviewID]core.RoomService
}

func NewRoomManager() core.RoomFactory {
	return &RoomManagerImpl{rooms: make(map[domain.InterviewID]core.RoomService)}
}

func (f *RoomManagerImpl) GetOrCreate(id domain.InterviewID) core.RoomService {
	f.mu.RLock()
	room, ok := f.rooms[id]
	f.mu.RUnlock()
	if ok {
		return room
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if room, ok = f.rooms[id]; ok {
		return room
	}
	room = core.NewRoomService(&domain.Room{ID: id})
	f.rooms[id] = room
	log.Info().Str("module", "app.rooms").Str("interview", string(id)).Msg("room created")
	return room
}

func (f *RoomManagerImpl) Get(id domain.InterviewID) (core.RoomService, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	room, ok := f.rooms[id]
	return room, ok
}

func (f *RoomManagerImpl) List() []core.RoomInfo {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]core.RoomInfo, 0, len(f.rooms))
	for id, r := range f.rooms {
		out = append(out, core.RoomInfo{ID: id, MemberCount: r.MemberCount()})
	}
	return out
}

func (f *RoomManagerImpl) StopRoom(id domain.InterviewID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rooms[id]; ok {
		delete(f.rooms, id)
		log.Info().Str("module", "app.rooms").Str("interview", string(id)).Msg("room stopped")
	}
}
