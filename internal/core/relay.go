package core

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/doctordirect/consult-relay/internal/store"
)

// Options tunes relay buffers and timeouts.
type Options struct {
	// EventBuffer is the per-connection outbound queue length. A connection
	// whose queue is full is evicted.
	EventBuffer int
	// RoomQueueSize bounds pending persistence jobs per room.
	RoomQueueSize int
	// PersistTimeout bounds each store call. Zero disables the bound.
	PersistTimeout time.Duration
	// HistoryLimit is the number of recent messages sent on join. Zero disables history.
	HistoryLimit int
	Observer     Observer
	Now          func() time.Time
}

// DefaultOptions returns the relay defaults.
func DefaultOptions() Options {
	return Options{
		EventBuffer:    64,
		RoomQueueSize:  256,
		PersistTimeout: 5 * time.Second,
		HistoryLimit:   50,
	}
}

type requestKind int

const (
	reqRegister requestKind = iota
	reqUnregister
	reqCommand
	reqQuery
)

type request struct {
	kind requestKind
	conn *Connection
	cmd  *Command
	fn   func()
}

// Relay owns the connection and room tables. All mutation happens on the
// goroutine running Run; other goroutines talk to it through requests.
type Relay struct {
	store store.Store
	log   *zerolog.Logger
	opts  Options

	requests chan request
	results  chan jobResult
	done     chan struct{}
	stopOnce sync.Once

	// Owned by the Run goroutine.
	runCtx    context.Context
	conns     map[string]*connState
	rooms     map[string]*Room
	pipelines map[string]*pipeline
	evictions []*connState

	wg sync.WaitGroup
}

// NewRelay creates a relay persisting through st.
func NewRelay(st store.Store, logger *zerolog.Logger, opts Options) *Relay {
	defaults := DefaultOptions()
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = defaults.EventBuffer
	}
	if opts.RoomQueueSize <= 0 {
		opts.RoomQueueSize = defaults.RoomQueueSize
	}
	if opts.HistoryLimit < 0 {
		opts.HistoryLimit = 0
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	return &Relay{
		store:     st,
		log:       logger,
		opts:      opts,
		requests:  make(chan request, 256),
		results:   make(chan jobResult, 256),
		done:      make(chan struct{}),
		conns:     make(map[string]*connState),
		rooms:     make(map[string]*Room),
		pipelines: make(map[string]*pipeline),
	}
}

// NewConnection allocates a connection handle with the configured event buffer.
// It must be passed to Register before use.
func (r *Relay) NewConnection() *Connection {
	return &Connection{
		ID:     uuid.NewString(),
		Events: make(chan *Event, r.opts.EventBuffer),
	}
}

// Run processes requests until ctx is cancelled. On return every connection's
// event stream is closed.
func (r *Relay) Run(ctx context.Context) error {
	r.runCtx = ctx
	defer r.shutdown()

	r.log.Info().Msg("relay started")
	for {
		select {
		case <-ctx.Done():
			r.log.Info().Msg("relay stopping")
			return nil
		case req := <-r.requests:
			r.handleRequest(req)
		case res := <-r.results:
			r.handleResult(res)
		}
		r.flushEvictions()
	}
}

func (r *Relay) shutdown() {
	r.stopOnce.Do(func() { close(r.done) })

	for id, p := range r.pipelines {
		close(p.jobs)
		delete(r.pipelines, id)
	}
	for id, cs := range r.conns {
		cs.closeStream()
		delete(r.conns, id)
	}
	r.rooms = make(map[string]*Room)

	r.wg.Wait()
}

func (r *Relay) send(req request) error {
	select {
	case <-r.done:
		return ErrRelayStopped
	default:
	}

	select {
	case r.requests <- req:
		return nil
	case <-r.done:
		return ErrRelayStopped
	}
}

// Register adds a connection in the Unauthenticated state.
func (r *Relay) Register(conn *Connection) error {
	return r.send(request{kind: reqRegister, conn: conn})
}

// Disconnect leaves every room the connection joined, notifies remaining
// members, and closes the connection's event stream.
func (r *Relay) Disconnect(conn *Connection) error {
	return r.send(request{kind: reqUnregister, conn: conn})
}

// Submit queues a command on behalf of conn. Results arrive on conn.Events.
func (r *Relay) Submit(conn *Connection, cmd *Command) error {
	return r.send(request{kind: reqCommand, conn: conn, cmd: cmd})
}

// Authenticate binds identity to conn.
func (r *Relay) Authenticate(conn *Connection, identity Identity) error {
	return r.Submit(conn, &Command{Kind: CommandAuthenticate, Identity: identity})
}

// Join adds conn to roomID.
func (r *Relay) Join(conn *Connection, roomID string) error {
	return r.Submit(conn, &Command{Kind: CommandJoinRoom, Room: roomID})
}

// Leave removes conn from roomID.
func (r *Relay) Leave(conn *Connection, roomID string) error {
	return r.Submit(conn, &Command{Kind: CommandLeaveRoom, Room: roomID})
}

// Broadcast persists draft and delivers it to every member of roomID.
func (r *Relay) Broadcast(conn *Connection, roomID string, draft MessageDraft) error {
	return r.Submit(conn, &Command{Kind: CommandSendRoomMessage, Room: roomID, Message: draft})
}

// SetTyping announces a typing state change to the other members of roomID.
func (r *Relay) SetTyping(conn *Connection, roomID string, typing bool) error {
	kind := CommandTypingStop
	if typing {
		kind = CommandTypingStart
	}
	return r.Submit(conn, &Command{Kind: kind, Room: roomID})
}

// MarkRead records that the connection's user read messageID.
func (r *Relay) MarkRead(conn *Connection, roomID, messageID string) error {
	return r.Submit(conn, &Command{Kind: CommandMarkRead, Room: roomID, MessageID: messageID})
}

// UpdateStatus changes the consultation status of roomID.
func (r *Relay) UpdateStatus(conn *Connection, roomID string, status store.ConsultationStatus) error {
	return r.Submit(conn, &Command{Kind: CommandUpdateStatus, Room: roomID, Status: status})
}

func (r *Relay) handleRequest(req request) {
	switch req.kind {
	case reqRegister:
		if _, exists := r.conns[req.conn.ID]; exists {
			return
		}
		r.conns[req.conn.ID] = newConnState(req.conn)
		r.opts.Observer.ConnectionOpened()
		r.log.Debug().Str("conn_id", req.conn.ID).Msg("connection registered")
	case reqUnregister:
		cs := r.conns[req.conn.ID]
		if cs == nil {
			return
		}
		r.disconnect(cs, false)
	case reqCommand:
		cs := r.conns[req.conn.ID]
		if cs == nil {
			r.log.Debug().Str("conn_id", req.conn.ID).Msg("command from unknown connection dropped")
			return
		}
		r.handleCommand(cs, req.cmd)
	case reqQuery:
		req.fn()
	}
}

func (r *Relay) handleCommand(cs *connState, cmd *Command) {
	if cmd.Kind == CommandAuthenticate {
		r.authenticate(cs, cmd.Identity)
		return
	}
	if !cs.authenticated() {
		r.fail(cs, cmd.Room, cmd.Message.ClientMessageID, ErrCodeUnauthenticated, "authenticate first")
		return
	}
	if cmd.Kind == CommandReject {
		reject := cmd.Reject
		if reject == nil {
			reject = &CoreError{Code: ErrCodeMalformedEvent, Message: "invalid payload"}
		}
		r.fail(cs, cmd.Room, cmd.Message.ClientMessageID, reject.Code, reject.Message)
		return
	}

	room := strings.TrimSpace(cmd.Room)
	if room == "" {
		r.fail(cs, "", cmd.Message.ClientMessageID, ErrCodeMalformedEvent, "room is required")
		return
	}

	switch cmd.Kind {
	case CommandJoinRoom:
		r.join(cs, room)
	case CommandLeaveRoom:
		r.leave(cs, room)
	case CommandSendRoomMessage:
		r.broadcast(cs, room, cmd.Message)
	case CommandTypingStart, CommandTypingStop:
		r.setTyping(cs, room, cmd.Kind == CommandTypingStart)
	case CommandMarkRead:
		r.markRead(cs, room, cmd.MessageID)
	case CommandUpdateStatus:
		r.updateStatus(cs, room, cmd.Status)
	default:
		r.fail(cs, room, "", ErrCodeMalformedEvent, "unknown command")
	}
}

func (r *Relay) authenticate(cs *connState, identity Identity) {
	if cs.authenticated() {
		r.fail(cs, "", "", ErrCodeAlreadyAuthenticated, "connection is already authenticated")
		return
	}

	id, ok := identity.normalize()
	if !ok {
		r.fail(cs, "", "", ErrCodeMalformedEvent, "identity requires a user id and a known role")
		return
	}

	cs.identity = &id
	r.log.Debug().Str("conn_id", cs.conn.ID).Str("user_id", id.UserID).Str("role", string(id.Role)).Msg("connection authenticated")
	r.emit(cs, &Event{Kind: EventAuthenticated, User: cs.identity})
}

func (r *Relay) join(cs *connState, roomID string) {
	room := r.rooms[roomID]

	if cs.member(roomID) {
		r.emit(cs, &Event{Kind: EventJoined, Room: roomID, User: cs.identity, Participants: room.participants()})
		return
	}

	if room == nil {
		room = newRoom(roomID)
		r.rooms[roomID] = room
		r.opts.Observer.RoomsChanged(len(r.rooms))
	}

	r.emitOthers(room, cs, &Event{Kind: EventUserJoined, Room: roomID, User: cs.identity})

	room.add(cs)
	cs.rooms[roomID] = struct{}{}

	r.emit(cs, &Event{Kind: EventJoined, Room: roomID, User: cs.identity, Participants: room.participants()})
	r.log.Debug().Str("conn_id", cs.conn.ID).Str("room_id", roomID).Int("members", room.Len()).Msg("joined room")

	if r.opts.HistoryLimit > 0 {
		if !r.enqueue(job{kind: jobHistory, roomID: roomID, connID: cs.conn.ID, limit: r.opts.HistoryLimit}) {
			r.log.Warn().Str("room_id", roomID).Msg("room queue full, history skipped")
		}
	}
}

func (r *Relay) leave(cs *connState, roomID string) {
	if !cs.member(roomID) {
		return
	}
	r.removeMember(cs, roomID)
}

// removeMember drops cs from roomID, deletes the room when it becomes empty,
// and notifies remaining members otherwise.
func (r *Relay) removeMember(cs *connState, roomID string) {
	delete(cs.rooms, roomID)

	room := r.rooms[roomID]
	if room == nil {
		return
	}
	room.remove(cs)

	if room.Empty() {
		delete(r.rooms, roomID)
		r.opts.Observer.RoomsChanged(len(r.rooms))
		r.retirePipeline(roomID)
		r.log.Debug().Str("room_id", roomID).Msg("room closed")
		return
	}

	r.emitOthers(room, cs, &Event{Kind: EventUserLeft, Room: roomID, User: cs.identity})
}

func (r *Relay) broadcast(cs *connState, roomID string, draft MessageDraft) {
	if !cs.member(roomID) {
		r.fail(cs, roomID, draft.ClientMessageID, ErrCodeNotAuthorized, "not a member of this consultation")
		return
	}

	if draft.Type == "" {
		draft.Type = store.MessageTypeText
	}
	if !draft.Type.Valid() {
		r.fail(cs, roomID, draft.ClientMessageID, ErrCodeMalformedEvent, "unknown message type")
		return
	}
	if strings.TrimSpace(draft.Content) == "" && len(draft.Attachments) == 0 {
		r.fail(cs, roomID, draft.ClientMessageID, ErrCodeMalformedEvent, "message needs content or attachments")
		return
	}
	for _, a := range draft.Attachments {
		if strings.TrimSpace(a.URL) == "" {
			r.fail(cs, roomID, draft.ClientMessageID, ErrCodeMalformedEvent, "attachment url is required")
			return
		}
	}

	msg := &store.Message{
		RoomID:      roomID,
		SenderID:    cs.identity.UserID,
		SenderName:  cs.identity.DisplayName,
		SenderRole:  string(cs.identity.Role),
		Content:     draft.Content,
		Type:        draft.Type,
		Attachments: draft.Attachments,
		CreatedAt:   r.opts.Now().UTC(),
	}

	accepted := r.enqueue(job{
		kind:            jobMessage,
		roomID:          roomID,
		connID:          cs.conn.ID,
		clientMessageID: draft.ClientMessageID,
		message:         msg,
	})
	if !accepted {
		r.fail(cs, roomID, draft.ClientMessageID, ErrCodeRoomBusy, "consultation is busy, retry later")
	}
}

func (r *Relay) setTyping(cs *connState, roomID string, typing bool) {
	if !cs.member(roomID) {
		r.fail(cs, roomID, "", ErrCodeNotAuthorized, "not a member of this consultation")
		return
	}

	kind := EventStoppedTyping
	if typing {
		kind = EventTyping
	}
	r.emitOthers(r.rooms[roomID], cs, &Event{Kind: kind, Room: roomID, User: cs.identity})
}

func (r *Relay) markRead(cs *connState, roomID, messageID string) {
	if !cs.member(roomID) {
		r.fail(cs, roomID, "", ErrCodeNotAuthorized, "not a member of this consultation")
		return
	}
	if strings.TrimSpace(messageID) == "" {
		r.fail(cs, roomID, "", ErrCodeMalformedEvent, "message id is required")
		return
	}

	receipt := &store.Receipt{
		RoomID:    roomID,
		MessageID: messageID,
		UserID:    cs.identity.UserID,
		ReadAt:    r.opts.Now().UTC(),
	}
	if !r.enqueue(job{kind: jobReceipt, roomID: roomID, connID: cs.conn.ID, receipt: receipt}) {
		r.fail(cs, roomID, "", ErrCodeRoomBusy, "consultation is busy, retry later")
	}
}

func (r *Relay) updateStatus(cs *connState, roomID string, status store.ConsultationStatus) {
	if !cs.member(roomID) || !cs.identity.Role.CanUpdateStatus() {
		r.fail(cs, roomID, "", ErrCodeNotAuthorized, "not allowed to change the consultation status")
		return
	}
	if !status.Valid() {
		r.fail(cs, roomID, "", ErrCodeMalformedEvent, "unknown consultation status")
		return
	}

	change := &store.StatusChange{
		RoomID:    roomID,
		Status:    status,
		ChangedBy: cs.identity.UserID,
		ChangedAt: r.opts.Now().UTC(),
	}
	if !r.enqueue(job{kind: jobStatus, roomID: roomID, connID: cs.conn.ID, status: change}) {
		r.fail(cs, roomID, "", ErrCodeRoomBusy, "consultation is busy, retry later")
	}
}

func (r *Relay) handleResult(res jobResult) {
	if p := r.pipelines[res.roomID]; p != nil && p.pending > 0 {
		p.pending--
	}
	r.opts.Observer.JobFinished(res.kind.String(), res.err, res.took)

	sender := r.conns[res.connID]
	room := r.rooms[res.roomID]

	if res.err != nil {
		r.log.Warn().Err(res.err).
			Str("room_id", res.roomID).
			Str("conn_id", res.connID).
			Str("job", res.kind.String()).
			Msg("persistence failed")
		if sender != nil {
			r.fail(sender, res.roomID, res.clientMessageID, ErrCodePersistenceFailure, "could not save, not delivered")
		}
		r.retirePipeline(res.roomID)
		return
	}

	switch res.kind {
	case jobMessage:
		if room != nil {
			r.emitAll(room, &Event{Kind: EventRoomMessage, Room: res.roomID, Message: res.message, ClientMessageID: res.clientMessageID})
		}
	case jobReceipt:
		if room != nil {
			var user *Identity
			if sender != nil {
				user = sender.identity
			}
			r.emitOthers(room, sender, &Event{Kind: EventReceipt, Room: res.roomID, User: user, Receipt: res.receipt})
		}
	case jobStatus:
		if room != nil {
			r.emitAll(room, &Event{Kind: EventStatus, Room: res.roomID, Status: res.status})
		}
	case jobHistory:
		if sender != nil && sender.member(res.roomID) {
			r.emit(sender, &Event{Kind: EventHistory, Room: res.roomID, Messages: res.history})
		}
	}

	r.retirePipeline(res.roomID)
}

func (r *Relay) disconnect(cs *connState, evicted bool) {
	rooms := make([]string, 0, len(cs.rooms))
	for id := range cs.rooms {
		rooms = append(rooms, id)
	}
	sort.Strings(rooms)

	for _, id := range rooms {
		r.removeMember(cs, id)
	}

	delete(r.conns, cs.conn.ID)
	cs.closeStream()
	r.opts.Observer.ConnectionClosed(evicted)

	event := r.log.Debug()
	if evicted {
		event = r.log.Warn()
	}
	event.Str("conn_id", cs.conn.ID).Bool("evicted", evicted).Int("rooms", len(rooms)).Msg("connection closed")
}

// emit queues ev for cs. A full queue marks the connection for eviction.
func (r *Relay) emit(cs *connState, ev *Event) {
	if cs == nil || cs.evicting || cs.closed {
		return
	}

	select {
	case cs.conn.Events <- ev:
		r.opts.Observer.EventEmitted(ev.Kind)
	default:
		cs.evicting = true
		r.evictions = append(r.evictions, cs)
	}
}

func (r *Relay) emitAll(room *Room, ev *Event) {
	for _, cs := range room.members {
		r.emit(cs, ev)
	}
}

func (r *Relay) emitOthers(room *Room, except *connState, ev *Event) {
	if room == nil {
		return
	}
	for _, cs := range room.members {
		if cs == except {
			continue
		}
		r.emit(cs, ev)
	}
}

func (r *Relay) fail(cs *connState, roomID, clientMessageID, code, msg string) {
	r.log.Debug().Str("conn_id", cs.conn.ID).Str("room_id", roomID).Str("code", code).Msg(msg)
	r.emit(cs, &Event{Kind: EventError, Room: roomID, ClientMessageID: clientMessageID, Error: coreError(code, msg)})
}

func (r *Relay) flushEvictions() {
	for len(r.evictions) > 0 {
		cs := r.evictions[0]
		r.evictions = r.evictions[1:]
		if _, live := r.conns[cs.conn.ID]; !live {
			continue
		}
		r.disconnect(cs, true)
	}
}
