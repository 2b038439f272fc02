// Package registry holds the process-wide room table: which connections are
// members of which room, under what display name.
package registry

import (
	"sort"
	"sync"

	"github.com/cwrk-planet/signaling-service/internal/domain"
)

// Deliver receives the audience of a room event. It runs while the room is
// locked, so it must not block; fan-out to connections is queue-and-forget.
type Deliver func(audience []domain.ConnID)

// Departure receives the stored name of a removed member and the members that
// remain. It runs under the same room lock as the removal.
type Departure func(name string, remaining []domain.ConnID)

type Options struct {
	// KeepEmptyRooms leaves a room in the table after its last member is gone.
	KeepEmptyRooms bool
}

type Registry struct {
	mu        sync.Mutex
	rooms     map[string]*Room
	keepEmpty bool
}

func New(opts Options) *Registry {
	return &Registry{
		rooms:     make(map[string]*Room),
		keepEmpty: opts.KeepEmptyRooms,
	}
}

// Room is the member table of one room. All mutations and fan-outs for the
// room are serialized by its write lock.
type Room struct {
	id      string
	mu      sync.RWMutex
	members map[domain.ConnID]string
	// dead is set once the room has been dropped from the registry; writers
	// holding a stale handle must go back to EnsureRoom.
	dead bool
}

func newRoom(id string) *Room {
	return &Room{id: id, members: make(map[domain.ConnID]string)}
}

func (rm *Room) ID() string { return rm.id }

func (rm *Room) Len() int {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return len(rm.members)
}

func (rm *Room) audienceLocked(except domain.ConnID) []domain.ConnID {
	out := make([]domain.ConnID, 0, len(rm.members))
	for id := range rm.members {
		if id == except {
			continue
		}
		out = append(out, id)
	}
	return out
}

// EnsureRoom returns the room for roomID, creating an empty one if needed.
func (r *Registry) EnsureRoom(roomID string) *Room {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		rm = newRoom(roomID)
		r.rooms[roomID] = rm
	}
	return rm
}

func (r *Registry) lookup(roomID string) (*Room, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[roomID]
	return rm, ok
}

// AddMember inserts or overwrites connID in roomID, creating the room on first
// join, then hands the post-join audience (joiner included) to deliver.
func (r *Registry) AddMember(roomID string, connID domain.ConnID, name string, deliver Deliver) {
	for {
		rm := r.EnsureRoom(roomID)

		rm.mu.Lock()
		if rm.dead {
			rm.mu.Unlock()
			continue
		}
		rm.members[connID] = name
		if deliver != nil {
			deliver(rm.audienceLocked(""))
		}
		rm.mu.Unlock()
		return
	}
}

// RemoveMember drops connID from roomID. Unknown rooms and non-members are a
// no-op: ok is false and then is not called.
func (r *Registry) RemoveMember(roomID string, connID domain.ConnID, then Departure) (name string, ok bool) {
	rm, found := r.lookup(roomID)
	if !found {
		return "", false
	}

	rm.mu.Lock()
	name, ok = rm.members[connID]
	if !ok {
		rm.mu.Unlock()
		return "", false
	}
	delete(rm.members, connID)
	if then != nil {
		then(name, rm.audienceLocked(""))
	}
	empty := len(rm.members) == 0
	rm.mu.Unlock()

	if empty && !r.keepEmpty {
		r.reap(rm)
	}
	return name, true
}

// reap removes rm from the table if it is still empty and still current.
func (r *Registry) reap(rm *Room) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.dead || len(rm.members) > 0 || r.rooms[rm.id] != rm {
		return
	}
	rm.dead = true
	delete(r.rooms, rm.id)
}

// Broadcast hands the room's members, minus except, to deliver. It reports
// false when the room is unknown.
func (r *Registry) Broadcast(roomID string, except domain.ConnID, deliver Deliver) bool {
	rm, ok := r.lookup(roomID)
	if !ok {
		return false
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.dead {
		return false
	}
	deliver(rm.audienceLocked(except))
	return true
}

// Members returns a snapshot of connID -> display name. Unknown rooms yield an
// empty map.
func (r *Registry) Members(roomID string) map[domain.ConnID]string {
	out := make(map[domain.ConnID]string)
	rm, ok := r.lookup(roomID)
	if !ok {
		return out
	}

	rm.mu.RLock()
	defer rm.mu.RUnlock()
	for id, name := range rm.members {
		out[id] = name
	}
	return out
}

// Member returns the stored display name of connID in roomID.
func (r *Registry) Member(roomID string, connID domain.ConnID) (string, bool) {
	rm, ok := r.lookup(roomID)
	if !ok {
		return "", false
	}
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	name, ok := rm.members[connID]
	return name, ok
}

func (r *Registry) Has(roomID string) bool {
	_, ok := r.lookup(roomID)
	return ok
}

// Rooms lists every room with its member count, ordered by id.
func (r *Registry) Rooms() []domain.RoomInfo {
	r.mu.Lock()
	rooms := make([]*Room, 0, len(r.rooms))
	for _, rm := range r.rooms {
		rooms = append(rooms, rm)
	}
	r.mu.Unlock()

	out := make([]domain.RoomInfo, 0, len(rooms))
	for _, rm := range rooms {
		out = append(out, domain.RoomInfo{ID: rm.id, Members: rm.Len()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Stats returns the number of rooms and the total member count.
func (r *Registry) Stats() (rooms, members int) {
	for _, info := range r.Rooms() {
		rooms++
		members += info.Members
	}
	return rooms, members
}
