package core

import (
	"context"
	"sort"
)

// Stats is a point-in-time view of relay state.
type Stats struct {
	Connections int
	Rooms       int
	Pipelines   int
}

// query runs fn on the relay goroutine after every request submitted before it.
func (r *Relay) query(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	req := request{kind: reqQuery, fn: func() {
		fn()
		close(done)
	}}

	select {
	case r.requests <- req:
	case <-r.done:
		return ErrRelayStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	// Once queued, fn either runs promptly or never runs because the relay stopped.
	select {
	case <-done:
		return nil
	case <-r.done:
		return ErrRelayStopped
	}
}

// Members returns the identities currently joined to roomID, one per user.
// The second result is false when the room does not exist.
func (r *Relay) Members(ctx context.Context, roomID string) ([]Identity, bool, error) {
	var (
		members []Identity
		exists  bool
	)
	err := r.query(ctx, func() {
		room := r.rooms[roomID]
		if room == nil {
			return
		}
		exists = true
		members = room.participants()
	})
	return members, exists, err
}

// Rooms returns the ids of all live rooms, sorted.
func (r *Relay) Rooms(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.query(ctx, func() {
		ids = make([]string, 0, len(r.rooms))
		for id := range r.rooms {
			ids = append(ids, id)
		}
		sort.Strings(ids)
	})
	return ids, err
}

// IsParticipant reports whether any live connection of userID is joined to roomID.
func (r *Relay) IsParticipant(ctx context.Context, roomID, userID string) (bool, error) {
	var ok bool
	err := r.query(ctx, func() {
		if room := r.rooms[roomID]; room != nil {
			ok = room.hasUser(userID)
		}
	})
	return ok, err
}

// Stats returns connection, room and pipeline counts.
func (r *Relay) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := r.query(ctx, func() {
		s = Stats{
			Connections: len(r.conns),
			Rooms:       len(r.rooms),
			Pipelines:   len(r.pipelines),
		}
	})
	return s, err
}
