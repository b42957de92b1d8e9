package core

// Connection is one live client link as seen by the relay.
// Events is written only by the relay and closed when the connection terminates.
type Connection struct {
	ID     string
	Events chan *Event
}

// connState is the relay-owned record for a registered connection.
type connState struct {
	conn     *Connection
	identity *Identity
	rooms    map[string]struct{}

	// evicting is set once the event buffer overflowed; no further events are queued.
	evicting bool
	closed   bool
}

func newConnState(conn *Connection) *connState {
	return &connState{
		conn:  conn,
		rooms: make(map[string]struct{}),
	}
}

func (cs *connState) authenticated() bool {
	return cs.identity != nil
}

func (cs *connState) member(roomID string) bool {
	_, ok := cs.rooms[roomID]
	return ok
}

func (cs *connState) closeStream() {
	if cs.closed {
		return
	}
	cs.closed = true
	close(cs.conn.Events)
}
