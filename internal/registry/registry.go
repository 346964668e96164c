package registry

import (
	"log"
	"sync"

	"schoolchat/pkg/types"
)

// Conn is the live connection surface the registry addresses events to.
// Implemented by ws.Connection; tests substitute fakes.
type Conn interface {
	// ConnectionID is unique per transport session, not per identity.
	// It distinguishes a stale connection from its replacement.
	ConnectionID() string
	Identity() types.Identity
	SendEvent(name string, payload any) error
	Close() error
}

// Registry owns the process-wide presence state: the identity-to-connection
// map, the per-group room membership, and the per-user cached group-id set.
// The router and synchronizer never touch these maps directly; every
// mutation goes through a Registry method under the single mutex, so the
// single-writer rule holds no matter which handler goroutine is running.
type Registry struct {
	mu     sync.RWMutex
	conns  map[int64]Conn               // userID -> live connection
	groups map[int64]map[int64]struct{} // userID -> subscribed group ids
	rooms  map[int64]map[int64]Conn     // groupID -> userID -> connection
}

func NewRegistry() *Registry {
	return &Registry{
		conns:  make(map[int64]Conn),
		groups: make(map[int64]map[int64]struct{}),
		rooms:  make(map[int64]map[int64]Conn),
	}
}

// Register records conn under its identity and joins it to one room per
// group id. A previously registered connection for the same identity is
// returned so the caller can close it; its room joins are dropped here.
// The returned online list is the post-registration presence snapshot.
func (r *Registry) Register(conn Conn, groupIDs []int64) (superseded Conn, online []int64) {
	if conn == nil {
		return nil, nil
	}
	userID := conn.Identity().UserID

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.conns[userID]; ok && prev.ConnectionID() != conn.ConnectionID() {
		superseded = prev
		r.dropLocked(userID)
	}

	r.conns[userID] = conn
	set := make(map[int64]struct{}, len(groupIDs))
	for _, gid := range groupIDs {
		set[gid] = struct{}{}
		if r.rooms[gid] == nil {
			r.rooms[gid] = make(map[int64]Conn)
		}
		r.rooms[gid][userID] = conn
	}
	r.groups[userID] = set

	online = make([]int64, 0, len(r.conns))
	for id := range r.conns {
		online = append(online, id)
	}
	return superseded, online
}

// Unregister removes conn from the live map and from every room it joined.
// It reports false when a newer connection for the same identity has
// already replaced this one, in which case nothing is removed.
func (r *Registry) Unregister(conn Conn) bool {
	if conn == nil {
		return false
	}
	userID := conn.Identity().UserID

	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.conns[userID]
	if !ok || current.ConnectionID() != conn.ConnectionID() {
		return false
	}
	r.dropLocked(userID)
	return true
}

func (r *Registry) dropLocked(userID int64) {
	for gid := range r.groups[userID] {
		if room := r.rooms[gid]; room != nil {
			delete(room, userID)
			if len(room) == 0 {
				delete(r.rooms, gid)
			}
		}
	}
	delete(r.groups, userID)
	delete(r.conns, userID)
}

// JoinRoom subscribes userID's live connection to groupID. It reports
// (online, added); added is false when the user was already subscribed,
// which lets callers suppress duplicate group_joined notifications.
func (r *Registry) JoinRoom(userID, groupID int64) (online, added bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[userID]
	if !ok {
		return false, false
	}
	if _, ok := r.groups[userID][groupID]; ok {
		return true, false
	}
	if r.groups[userID] == nil {
		r.groups[userID] = make(map[int64]struct{})
	}
	r.groups[userID][groupID] = struct{}{}
	if r.rooms[groupID] == nil {
		r.rooms[groupID] = make(map[int64]Conn)
	}
	r.rooms[groupID][userID] = conn
	return true, true
}

// LeaveRoom revokes userID's subscription to groupID. It reports whether
// the user was online and subscribed.
func (r *Registry) LeaveRoom(userID, groupID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[userID]; !ok {
		return false
	}
	if _, ok := r.groups[userID][groupID]; !ok {
		return false
	}
	delete(r.groups[userID], groupID)
	if room := r.rooms[groupID]; room != nil {
		delete(room, userID)
		if len(room) == 0 {
			delete(r.rooms, groupID)
		}
	}
	return true
}

// IsSubscribed reports whether userID's live connection is joined to
// groupID's room.
func (r *Registry) IsSubscribed(userID, groupID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.groups[userID][groupID]
	return ok
}

// IsOnline reports whether userID has a live connection.
func (r *Registry) IsOnline(userID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[userID]
	return ok
}

// OnlineUsers returns the ids of all currently connected identities.
func (r *Registry) OnlineUsers() []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]int64, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	return ids
}

// SendToUser delivers one event to userID's personal channel. It reports
// false when the user is offline; delivery failures to a live connection
// are logged, not returned, matching the fan-out policy of continuing
// past individual slow or dead sockets.
func (r *Registry) SendToUser(userID int64, event string, payload any) bool {
	r.mu.RLock()
	conn, ok := r.conns[userID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if err := conn.SendEvent(event, payload); err != nil {
		log.Printf("registry: deliver %s to user %d: %v", event, userID, err)
	}
	return true
}

// BroadcastRoom fans one event out to every connection joined to groupID,
// skipping except when it is non-zero. Returns the number of connections
// addressed.
func (r *Registry) BroadcastRoom(groupID, except int64, event string, payload any) int {
	targets := r.roomConns(groupID, except)
	for _, conn := range targets {
		if err := conn.SendEvent(event, payload); err != nil {
			log.Printf("registry: broadcast %s to group %d user %d: %v",
				event, groupID, conn.Identity().UserID, err)
		}
	}
	return len(targets)
}

// BroadcastAll fans one event out to every live connection, skipping
// except when it is non-zero.
func (r *Registry) BroadcastAll(except int64, event string, payload any) int {
	r.mu.RLock()
	targets := make([]Conn, 0, len(r.conns))
	for id, conn := range r.conns {
		if except != 0 && id == except {
			continue
		}
		targets = append(targets, conn)
	}
	r.mu.RUnlock()

	for _, conn := range targets {
		if err := conn.SendEvent(event, payload); err != nil {
			log.Printf("registry: broadcast %s to user %d: %v",
				event, conn.Identity().UserID, err)
		}
	}
	return len(targets)
}

func (r *Registry) roomConns(groupID, except int64) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room := r.rooms[groupID]
	targets := make([]Conn, 0, len(room))
	for id, conn := range room {
		if except != 0 && id == except {
			continue
		}
		targets = append(targets, conn)
	}
	return targets
}

// Stats returns connection counts for the health endpoint.
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return map[string]int{
		"connections":  len(r.conns),
		"active_rooms": len(r.rooms),
	}
}
