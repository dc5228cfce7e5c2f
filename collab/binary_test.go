package collab

import (
	"bytes"
	"testing"

	"collab-server/core"
)

func TestDocumentIDFromPath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/doc42", "doc42"},
		{"/doc42/", "doc42"},
		{"/", core.DefaultDocumentID},
		{"", core.DefaultDocumentID},
		{"/team/notes", "team/notes"},
	}

	for _, tt := range tests {
		if got := DocumentIDFromPath(tt.path); got != tt.want {
			t.Errorf("DocumentIDFromPath(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestRelayFrame(t *testing.T) {
	h := newTestHub(t, Options{})
	a := register(t, h, core.ModeBlob, "A")
	b := register(t, h, core.ModeBlob, "B")
	other := register(t, h, core.ModeBlob, "O")

	for _, p := range []peer{a, b} {
		if _, err := h.Join(p.conn, "doc42", nil); err != nil {
			t.Fatalf("join: %v", err)
		}
	}
	h.Join(other.conn, "doc43", nil)

	// Binary rooms carry no membership events and no snapshot for a new document.
	if msgs := a.drain(t); len(msgs) != 0 {
		t.Fatalf("expected nothing before the first frame, got %+v", msgs)
	}

	frames := [][]byte{{0x01, 0x02}, {0x03}}
	for _, f := range frames {
		if err := h.RelayFrame(a.conn, "doc42", f); err != nil {
			t.Fatalf("RelayFrame: %v", err)
		}
	}

	msgs := b.drain(t)
	if len(msgs) != 2 {
		t.Fatalf("expected 2 frames, got %+v", msgs)
	}
	for i, m := range msgs {
		if !m.IsFrame() || !bytes.Equal(m.Frame, frames[i]) {
			t.Errorf("frame %d: got %+v", i, m)
		}
	}
	if msgs := a.drain(t); len(msgs) != 0 {
		t.Errorf("sender should not get its own frames, got %+v", msgs)
	}
	if msgs := other.drain(t); len(msgs) != 0 {
		t.Errorf("doc43 should not see doc42 frames, got %+v", msgs)
	}

	// A late joiner gets the last frame only.
	c := register(t, h, core.ModeBlob, "C")
	h.Join(c.conn, "doc42", nil)
	msgs = c.drain(t)
	if len(msgs) != 1 || !bytes.Equal(msgs[0].Frame, frames[1]) {
		t.Fatalf("expected last frame, got %+v", msgs)
	}

	h.Unregister("C")
	if msgs := a.drain(t); len(msgs) != 0 {
		t.Errorf("binary rooms have no leave notifications, got %+v", msgs)
	}
}

func TestRelayFrameRejectsEmpty(t *testing.T) {
	h := newTestHub(t, Options{})
	a := register(t, h, core.ModeBlob, "A")
	h.Join(a.conn, "doc", nil)

	if err := h.RelayFrame(a.conn, "doc", nil); err == nil {
		t.Fatal("expected error for an empty frame")
	}
	if msgs := eventsOf(a.drain(t), core.EventError); len(msgs) != 1 {
		t.Errorf("expected an error event, got %d", len(msgs))
	}
}

func TestModesDoNotShareDocuments(t *testing.T) {
	h := newTestHub(t, Options{})
	ev := register(t, h, core.ModeLog, "E")
	bin := register(t, h, core.ModeBlob, "B")
	dispatch(t, h, ev, core.EventJoinDocument, map[string]any{"document_id": "X"})
	h.Join(bin.conn, "X", nil)
	ev.drain(t)

	h.RelayFrame(bin.conn, "X", []byte("frame"))

	if msgs := ev.drain(t); len(msgs) != 0 {
		t.Errorf("event members should not see binary frames, got %+v", msgs)
	}
	if v := h.state.Version(core.RoomKey{Mode: core.ModeLog, DocumentID: "X"}); v != 0 {
		t.Errorf("event document version should be 0, got %d", v)
	}
}
