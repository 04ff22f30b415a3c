package relay

import (
	"sort"
	"sync"
)

// RoomInfo describes a live room.
type RoomInfo struct {
	ID    string `json:"id"`
	Users int    `json:"users"`
}

// registry maps document ids to live rooms. A room exists only while it has
// members or queued operations.
type registry struct {
	svc *Service

	mu    sync.Mutex
	rooms map[string]*room
}

func newRegistry(svc *Service) *registry {
	return &registry{
		svc:   svc,
		rooms: make(map[string]*room),
	}
}

// submit queues o on the room for documentID, creating the room if needed.
func (r *registry) submit(documentID string, o *op) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[documentID]
	if !ok {
		rm = newRoom(documentID, r.svc)
		r.rooms[documentID] = rm
		go rm.run()
	}
	rm.push(o)
}

// submitExisting queues o only if a room for documentID is live.
func (r *registry) submitExisting(documentID string, o *op) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[documentID]
	if !ok {
		return false
	}
	rm.push(o)
	return true
}

// submitTo queues o on rm unless rm has been released.
func (r *registry) submitTo(rm *room, o *op) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.rooms[rm.id] != rm {
		return false
	}
	rm.push(o)
	return true
}

// release drops rm if nothing is queued on it. Called from rm's goroutine
// once it has no members.
func (r *registry) release(rm *room) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rm.pending() > 0 {
		return false
	}
	if r.rooms[rm.id] == rm {
		delete(r.rooms, rm.id)
	}
	return true
}

func (r *registry) live() []*room {
	r.mu.Lock()
	defer r.mu.Unlock()

	rooms := make([]*room, 0, len(r.rooms))
	for _, rm := range r.rooms {
		rooms = append(rooms, rm)
	}
	return rooms
}

func (r *registry) info() []RoomInfo {
	rooms := r.live()
	infos := make([]RoomInfo, 0, len(rooms))
	for _, rm := range rooms {
		if n := int(rm.size.Load()); n > 0 {
			infos = append(infos, RoomInfo{ID: rm.id, Users: n})
		}
	}

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Users == infos[j].Users {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].Users > infos[j].Users
	})
	return infos
}

// broadcastToRoom delivers an event to every member except the sender. It
// must run on the room's goroutine.
func broadcastToRoom(rm *room, exclude *Session, event string, payload any) int {
	delivered := 0
	for _, member := range rm.order {
		if member == exclude {
			continue
		}
		member.emit(event, payload)
		delivered++
	}
	return delivered
}
