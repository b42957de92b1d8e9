package core

import "sort"

// Room groups the connections taking part in one consultation.
type Room struct {
	ID      string
	members map[string]*connState
}

// newRoom constructs a room with no members.
func newRoom(id string) *Room {
	return &Room{
		ID:      id,
		members: make(map[string]*connState),
	}
}

// add inserts a connection. Returns true if newly added.
func (r *Room) add(cs *connState) bool {
	if _, exists := r.members[cs.conn.ID]; exists {
		return false
	}
	r.members[cs.conn.ID] = cs
	return true
}

// remove deletes a connection. Returns true if removed.
func (r *Room) remove(cs *connState) bool {
	if _, exists := r.members[cs.conn.ID]; !exists {
		return false
	}
	delete(r.members, cs.conn.ID)
	return true
}

// Empty returns true if no connections are in the room.
func (r *Room) Empty() bool {
	return len(r.members) == 0
}

// Len returns the number of member connections.
func (r *Room) Len() int {
	return len(r.members)
}

// participants lists member identities, one per user, sorted by user id.
func (r *Room) participants() []Identity {
	seen := make(map[string]struct{}, len(r.members))
	out := make([]Identity, 0, len(r.members))
	for _, cs := range r.members {
		if cs.identity == nil {
			continue
		}
		if _, dup := seen[cs.identity.UserID]; dup {
			continue
		}
		seen[cs.identity.UserID] = struct{}{}
		out = append(out, *cs.identity)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

func (r *Room) hasUser(userID string) bool {
	for _, cs := range r.members {
		if cs.identity != nil && cs.identity.UserID == userID {
			return true
		}
	}
	return false
}
