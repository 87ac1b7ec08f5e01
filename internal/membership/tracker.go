// Package membership tracks which room each connected user currently
// occupies. A user is in at most one room at a time.
package membership

import (
	"slices"
	"sync"
	"time"
)

// Member is one connected occupant of a room.
type Member struct {
	UserID   string
	Name     string
	ConnID   string
	JoinedAt time.Time
}

type Tracker struct {
	mu     sync.RWMutex
	byUser map[string]Member
	rooms  map[string]string
	order  map[string][]string
	now    func() time.Time
}

func NewTracker() *Tracker {
	return &Tracker{
		byUser: make(map[string]Member),
		rooms:  make(map[string]string),
		order:  make(map[string][]string),
		now:    time.Now,
	}
}

// RoomOf returns the user's current room.
func (t *Tracker) RoomOf(userID string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	room, ok := t.rooms[userID]
	return room, ok
}

// Lookup returns the user's membership and room.
func (t *Tracker) Lookup(userID string) (Member, string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	room, ok := t.rooms[userID]
	if !ok {
		return Member{}, "", false
	}
	return t.byUser[userID], room, true
}

// IsIn reports whether the user currently occupies roomID.
func (t *Tracker) IsIn(userID, roomID string) bool {
	room, ok := t.RoomOf(userID)
	return ok && room == roomID
}

// Enter places the user in roomID and returns the room they were in before,
// if any. Joining the same room again only rebinds the connection.
func (t *Tracker) Enter(m Member, roomID string) (previous string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	prev, had := t.rooms[m.UserID]
	if had && prev == roomID {
		cur := t.byUser[m.UserID]
		cur.ConnID = m.ConnID
		t.byUser[m.UserID] = cur
		return ""
	}
	if had {
		t.removeLocked(m.UserID, prev)
	}

	if m.JoinedAt.IsZero() {
		m.JoinedAt = t.now()
	}
	t.byUser[m.UserID] = m
	t.rooms[m.UserID] = roomID
	t.order[roomID] = append(t.order[roomID], m.UserID)
	return prev
}

// Leave removes the user from roomID. It reports false when the user was not
// there.
func (t *Tracker) Leave(userID, roomID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.rooms[userID] != roomID {
		return false
	}
	t.removeLocked(userID, roomID)
	return true
}

// Release drops the user's membership only if it is still owned by connID,
// so a replaced connection cannot evict its successor. It returns the room
// that was vacated.
func (t *Tracker) Release(userID, connID string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.byUser[userID]
	if !ok || m.ConnID != connID {
		return "", false
	}
	room := t.rooms[userID]
	t.removeLocked(userID, room)
	return room, true
}

func (t *Tracker) removeLocked(userID, roomID string) {
	delete(t.byUser, userID)
	delete(t.rooms, userID)
	ids := slices.DeleteFunc(t.order[roomID], func(id string) bool { return id == userID })
	if len(ids) == 0 {
		delete(t.order, roomID)
		return
	}
	t.order[roomID] = ids
}

// Members returns the room's occupants in join order.
func (t *Tracker) Members(roomID string) []Member {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := t.order[roomID]
	out := make([]Member, 0, len(ids))
	for _, id := range ids {
		out = append(out, t.byUser[id])
	}
	return out
}

// Count returns the number of tracked users across all rooms.
func (t *Tracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byUser)
}
