package core

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/doctordirect/consult-relay/internal/store"
)

// fakeStore records calls in memory. RecordMessage can be made to fail or block.
type fakeStore struct {
	mu          sync.Mutex
	messages    []*store.Message
	receipts    []*store.Receipt
	statuses    []*store.StatusChange
	recordCalls int
	nextID      int

	failRecord error
	// block, when set, makes RecordMessage wait for it regardless of ctx.
	block chan struct{}
}

func (f *fakeStore) RecordMessage(_ context.Context, msg *store.Message) error {
	f.mu.Lock()
	f.recordCalls++
	failErr := f.failRecord
	block := f.block
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	if failErr != nil {
		return failErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	msg.ID = fmt.Sprintf("m%d", f.nextID)
	f.messages = append(f.messages, msg)
	return nil
}

func (f *fakeStore) ListMessages(_ context.Context, roomID string, limit int) ([]*store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*store.Message
	for _, m := range f.messages {
		if m.RoomID == roomID {
			out = append(out, m)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (f *fakeStore) MarkRead(_ context.Context, r *store.Receipt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receipts = append(f.receipts, r)
	return nil
}

func (f *fakeStore) UpdateStatus(_ context.Context, change *store.StatusChange) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, change)
	return nil
}

func (f *fakeStore) GetStatus(_ context.Context, roomID string) (*store.StatusChange, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.statuses) - 1; i >= 0; i-- {
		if f.statuses[i].RoomID == roomID {
			return f.statuses[i], nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) Close() error { return nil }

func (f *fakeStore) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.recordCalls
}

func (f *fakeStore) recorded() []*store.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*store.Message(nil), f.messages...)
}

// startRelay runs a relay until the test ends.
func startRelay(t *testing.T, st store.Store, opts Options) *Relay {
	t.Helper()

	relay := NewRelay(st, nil, opts)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		_ = relay.Run(ctx)
		close(stopped)
	}()
	t.Cleanup(func() {
		cancel()
		<-stopped
	})

	return relay
}

// connect registers and authenticates a connection and consumes the ack.
func connect(t *testing.T, relay *Relay, userID string, role Role) *Connection {
	t.Helper()

	conn := relay.NewConnection()
	if err := relay.Register(conn); err != nil {
		t.Fatalf("register %s: %v", userID, err)
	}
	if err := relay.Authenticate(conn, Identity{UserID: userID, DisplayName: userID, Role: role}); err != nil {
		t.Fatalf("authenticate %s: %v", userID, err)
	}
	mustEvent(t, conn.Events, EventAuthenticated)
	return conn
}

// join joins a room and consumes the join ack.
func join(t *testing.T, relay *Relay, conn *Connection, roomID string) {
	t.Helper()

	if err := relay.Join(conn, roomID); err != nil {
		t.Fatalf("join %s: %v", roomID, err)
	}
	mustEvent(t, conn.Events, EventJoined)
}

// barrier returns once every request submitted before it has been handled.
func barrier(t *testing.T, relay *Relay) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := relay.Stats(ctx); err != nil {
		t.Fatalf("barrier: %v", err)
	}
}

func mustEvent(t *testing.T, ch <-chan *Event, kind EventKind) *Event {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case ev, ok := <-ch:
			if !ok {
				t.Fatalf("event stream closed while waiting for %v", kind)
			}
			if ev == nil {
				continue
			}
			if ev.Kind == kind {
				return ev
			}
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
	t.Fatalf("expected event kind %v not received", kind)
	return nil
}

// mustEventAny returns the next event of any kind.
func mustEventAny(t *testing.T, ch <-chan *Event) *Event {
	t.Helper()

	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatalf("event stream closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("no event received")
		return nil
	}
}

// drain returns every event currently queued without waiting.
func drain(ch <-chan *Event) []*Event {
	var out []*Event
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func countKind(events []*Event, kind EventKind) int {
	n := 0
	for _, ev := range events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}
