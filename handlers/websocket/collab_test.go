package websocket

import (
	"sync"
	"testing"
	"time"

	"collab-server/collab"
	"collab-server/core"
)

type recordingTransport struct {
	mu   sync.Mutex
	msgs []collab.Message
}

func (r *recordingTransport) Send(msg collab.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return nil
}

func (r *recordingTransport) Close() error { return nil }

func (r *recordingTransport) waitFor(t *testing.T, kind core.EventKind) collab.Message {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		for _, m := range r.msgs {
			if m.Event == kind {
				r.mu.Unlock()
				return m
			}
		}
		r.mu.Unlock()
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("no %s event received", kind)
	return collab.Message{}
}

func TestExtractAck(t *testing.T) {
	var got []any
	ack := func(args []any, _ error) { got = args }

	fn, args := extractAck([]any{map[string]any{"document_id": "X"}, ack})
	if fn == nil {
		t.Fatal("expected ack to be extracted")
	}
	if len(args) != 1 {
		t.Fatalf("expected 1 remaining arg, got %d", len(args))
	}
	fn([]any{"done"}, nil)
	if len(got) != 1 || got[0] != "done" {
		t.Errorf("ack was not invoked with payload, got %v", got)
	}

	fn, args = extractAck([]any{"a", "b"})
	if fn != nil || len(args) != 2 {
		t.Errorf("expected no ack and untouched args, got %v", args)
	}

	if fn, _ := extractAck(nil); fn != nil {
		t.Error("expected no ack for empty args")
	}
}

func TestEventData(t *testing.T) {
	tests := []struct {
		name    string
		args    []any
		wantDoc any
		wantErr bool
	}{
		{"object", []any{map[string]any{"document_id": "X"}}, "X", false},
		{"json string", []any{`{"document_id":"Y"}`}, "Y", false},
		{"json bytes", []any{[]byte(`{"document_id":7}`)}, float64(7), false},
		{"no args", nil, nil, false},
		{"not an object", []any{42}, nil, true},
		{"bad json", []any{"{nope"}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := eventData(tt.args)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if data["document_id"] != tt.wantDoc {
				t.Errorf("document_id = %v, want %v", data["document_id"], tt.wantDoc)
			}
		})
	}
}

func TestAckPayload(t *testing.T) {
	ok := ackPayload(core.EventJoinDocument, nil)
	if ok["status"] != "ok" || ok["event"] != "join_document" {
		t.Errorf("unexpected ok payload: %v", ok)
	}
	if _, exists := ok["error"]; exists {
		t.Error("ok payload should not carry an error")
	}

	failed := ackPayload(core.EventDocumentOperation, &core.ValidationError{
		Event:  core.EventDocumentOperation,
		Fields: []string{"operation"},
	})
	if failed["status"] != "error" || failed["error"] != "document_operation: operation is required" {
		t.Errorf("unexpected error payload: %v", failed)
	}
}

func TestCorsOrigins(t *testing.T) {
	origins := corsOrigins(nil)
	if len(origins) != 2 {
		t.Fatalf("expected the local origins, got %v", origins)
	}

	origins = corsOrigins([]string{"https://docs.example.com"})
	if len(origins) != 3 || origins[2] != "https://docs.example.com" {
		t.Errorf("expected extra origin appended, got %v", origins)
	}

	origins = corsOrigins([]string{"https://docs.example.com", "*"})
	if len(origins) != 1 || origins[0] != true {
		t.Errorf("expected wildcard, got %v", origins)
	}

	for _, origin := range []string{"http://localhost:3000", "https://127.0.0.1", "http://[::1]:8080"} {
		if !localhostOrigin.MatchString(origin) {
			t.Errorf("%s should be allowed", origin)
		}
	}
	if localhostOrigin.MatchString("https://evil.example") {
		t.Error("remote origin should not match")
	}
}

func TestHandleEvent(t *testing.T) {
	hub := collab.NewHub(collab.Options{})
	defer hub.Close()

	tr := &recordingTransport{}
	conn, err := hub.Register(tr, core.ModeLog, "sock-1")
	if err != nil {
		t.Fatal(err)
	}

	acked := make(chan map[string]any, 1)
	ack := func(args []any, _ error) {
		acked <- args[0].(map[string]any)
	}

	handleEvent(hub, conn, core.EventJoinDocument, []any{map[string]any{"document_id": "X"}, ack})
	if got := <-acked; got["status"] != "ok" {
		t.Errorf("expected ok ack, got %v", got)
	}
	tr.waitFor(t, core.EventDocumentState)

	handleEvent(hub, conn, core.EventDocumentOperation, []any{map[string]any{"document_id": "X"}, ack})
	if got := <-acked; got["status"] != "error" {
		t.Errorf("expected error ack, got %v", got)
	}
	msg := tr.waitFor(t, core.EventError)
	if msg.Payload.(map[string]any)["message"] != "operation is required" {
		t.Errorf("unexpected error event: %v", msg.Payload)
	}

	handleEvent(hub, conn, core.EventCursorPosition, []any{12})
	if v, _ := hub.Room(core.RoomKey{Mode: core.ModeLog, DocumentID: "X"}); v.Version != 0 {
		t.Errorf("bad payload must not change state, version %d", v.Version)
	}
}
