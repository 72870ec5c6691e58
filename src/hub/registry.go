package hub

import (
	"sort"
	"sync"
)

// Registry maps room ids to the connection ids joined to them. A room exists
// exactly while it has at least one member.
type Registry struct {
	mu     sync.RWMutex
	rooms  map[string]map[string]bool // room -> set of client ids
	member map[string]string          // client id -> room
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms:  make(map[string]map[string]bool),
		member: make(map[string]string),
	}
}

// Join adds clientID to room, creating the room if needed, and returns the
// members that were present before the call. A client already in another room
// is moved.
func (r *Registry) Join(room, clientID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.member[clientID]; ok && prev != room {
		r.removeLocked(prev, clientID)
	}

	members, ok := r.rooms[room]
	if !ok {
		members = make(map[string]bool)
		r.rooms[room] = members
	}
	existing := sortedExcluding(members, clientID)
	members[clientID] = true
	r.member[clientID] = room
	return existing
}

// Leave removes clientID from its room and returns that room. Leaving while in
// no room is a no-op reported by ok == false.
func (r *Registry) Leave(clientID string) (room string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok = r.member[clientID]
	if !ok {
		return "", false
	}
	r.removeLocked(room, clientID)
	return room, true
}

func (r *Registry) removeLocked(room, clientID string) {
	delete(r.member, clientID)
	members, ok := r.rooms[room]
	if !ok {
		return
	}
	delete(members, clientID)
	if len(members) == 0 {
		delete(r.rooms, room)
	}
}

// MembersExcluding returns the members of room other than clientID.
func (r *Registry) MembersExcluding(room, clientID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedExcluding(r.rooms[room], clientID)
}

// Room returns the members of room and whether the room exists.
func (r *Registry) Room(room string) ([]string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members, ok := r.rooms[room]
	if !ok {
		return nil, false
	}
	return sortedExcluding(members, ""), true
}

// Counts returns room names with their member counts.
func (r *Registry) Counts() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make(map[string]int, len(r.rooms))
	for room, members := range r.rooms {
		result[room] = len(members)
	}
	return result
}

func sortedExcluding(set map[string]bool, exclude string) []string {
	ids := make([]string, 0, len(set))
	for id := range set {
		if id != exclude {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
