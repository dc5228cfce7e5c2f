package collab

import (
	"context"
	"sync"
	"testing"
	"time"

	"collab-server/core"
)

const syncMarker core.EventKind = "test-sync"

type fakeTransport struct {
	mu      sync.Mutex
	msgs    []Message
	sendErr error
	closed  bool

	block     chan struct{}
	closeOnce sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{}
}

// newBlockingTransport returns a transport whose Send hangs until Close.
func newBlockingTransport() *fakeTransport {
	return &fakeTransport{block: make(chan struct{})}
}

func (f *fakeTransport) Send(msg Message) error {
	if f.block != nil {
		<-f.block
		return core.ErrConnClosed
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.msgs = append(f.msgs, msg)
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	if f.block != nil {
		f.closeOnce.Do(func() { close(f.block) })
	}
	return nil
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeTransport) hasMarker() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.msgs {
		if m.Event == syncMarker {
			return true
		}
	}
	return false
}

// take returns and clears everything received so far, markers excluded.
func (f *fakeTransport) take() []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Message, 0, len(f.msgs))
	for _, m := range f.msgs {
		if m.Event != syncMarker {
			out = append(out, m)
		}
	}
	f.msgs = nil
	return out
}

type peer struct {
	conn *Conn
	t    *fakeTransport
}

// drain waits until everything queued to p so far has been written, then
// returns it.
func (p peer) drain(t *testing.T) []Message {
	t.Helper()
	if err := p.conn.Emit(syncMarker, nil); err != nil {
		t.Fatalf("Emit(sync) failed: %v", err)
	}
	waitFor(t, p.t.hasMarker)
	return p.t.take()
}

func newTestHub(t *testing.T, opts Options) *Hub {
	t.Helper()
	h := NewHub(opts)
	t.Cleanup(func() { h.Close() })
	return h
}

func register(t *testing.T, h *Hub, mode core.Mode, id string) peer {
	t.Helper()
	ft := newFakeTransport()
	c, err := h.Register(ft, mode, id)
	if err != nil {
		t.Fatalf("Register(%s) failed: %v", id, err)
	}
	return peer{conn: c, t: ft}
}

func dispatch(t *testing.T, h *Hub, p peer, event core.EventKind, data map[string]any) error {
	t.Helper()
	return h.Dispatch(p.conn, event, data)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func eventsOf(msgs []Message, kind core.EventKind) []Message {
	var out []Message
	for _, m := range msgs {
		if m.Event == kind {
			out = append(out, m)
		}
	}
	return out
}

func payload(t *testing.T, m Message) map[string]any {
	t.Helper()
	p, ok := m.Payload.(map[string]any)
	if !ok {
		t.Fatalf("payload of %s is %T, want map", m.Event, m.Payload)
	}
	return p
}

type fakeIndex struct {
	mu      sync.Mutex
	touched map[string]int
	deleted []string
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{touched: make(map[string]int)}
}

func (f *fakeIndex) ListRooms(ctx context.Context) ([]core.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rooms := make([]core.Room, 0, len(f.touched))
	for id := range f.touched {
		rooms = append(rooms, core.Room{ID: id})
	}
	return rooms, nil
}

func (f *fakeIndex) TouchRoom(ctx context.Context, roomID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touched[roomID]++
	return nil
}

func (f *fakeIndex) DeleteRoom(ctx context.Context, roomID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.touched, roomID)
	f.deleted = append(f.deleted, roomID)
	return nil
}
