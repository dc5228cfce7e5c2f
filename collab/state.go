package collab

import (
	"fmt"
	"sync"

	"collab-server/core"
)

// Snapshot is a document's state as handed to a joining connection.
type Snapshot struct {
	DocumentID string
	Mode       core.Mode
	Version    uint64

	// Operations is the retained log of a ModeLog document. Compacted counts
	// the entries dropped from its head by the log size cap.
	Operations []any
	Compacted  uint64

	// Blob is the last frame stored for a ModeBlob document.
	Blob []byte
}

type documentState struct {
	mu        sync.Mutex
	version   uint64
	log       []any
	compacted uint64
	blob      []byte
}

// StateStore keeps per-document versions and state. ApplyOperation is
// serialized per document; different documents never contend beyond the map
// lookup.
type StateStore struct {
	maxLog int

	mu   sync.Mutex
	docs map[core.RoomKey]*documentState
}

// NewStateStore returns an empty store. maxLog caps each operation log; zero
// keeps every operation.
func NewStateStore(maxLog int) *StateStore {
	return &StateStore{
		maxLog: maxLog,
		docs:   make(map[core.RoomKey]*documentState),
	}
}

func (s *StateStore) get(key core.RoomKey) *documentState {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[key]
	if !ok {
		doc = &documentState{}
		s.docs[key] = doc
	}
	return doc
}

// ApplyOperation bumps the document version and records payload: appended to
// the log for ModeLog, replacing the stored blob for ModeBlob.
func (s *StateStore) ApplyOperation(key core.RoomKey, payload any) (uint64, error) {
	var frame []byte
	if key.Mode == core.ModeBlob {
		b, ok := payload.([]byte)
		if !ok {
			return 0, fmt.Errorf("document %s: %w", key, core.ErrInvalidFrame)
		}
		frame = append([]byte(nil), b...)
	}

	doc := s.get(key)
	doc.mu.Lock()
	defer doc.mu.Unlock()

	doc.version++
	switch key.Mode {
	case core.ModeBlob:
		doc.blob = frame
	default:
		doc.log = append(doc.log, payload)
		if s.maxLog > 0 && len(doc.log) > s.maxLog {
			drop := len(doc.log) - s.maxLog
			copy(doc.log, doc.log[drop:])
			clear(doc.log[s.maxLog:])
			doc.log = doc.log[:s.maxLog]
			doc.compacted += uint64(drop)
		}
	}
	return doc.version, nil
}

func (s *StateStore) Snapshot(key core.RoomKey) Snapshot {
	doc := s.get(key)
	doc.mu.Lock()
	defer doc.mu.Unlock()

	snap := Snapshot{
		DocumentID: key.DocumentID,
		Mode:       key.Mode,
		Version:    doc.version,
		Compacted:  doc.compacted,
	}
	if key.Mode == core.ModeBlob {
		if len(doc.blob) > 0 {
			snap.Blob = append([]byte(nil), doc.blob...)
		}
		return snap
	}
	snap.Operations = make([]any, len(doc.log))
	copy(snap.Operations, doc.log)
	return snap
}

// Version returns the current version without creating the document.
func (s *StateStore) Version(key core.RoomKey) uint64 {
	s.mu.Lock()
	doc, ok := s.docs[key]
	s.mu.Unlock()
	if !ok {
		return 0
	}

	doc.mu.Lock()
	defer doc.mu.Unlock()
	return doc.version
}

// Drop forgets a document. Only the reaper calls it.
func (s *StateStore) Drop(key core.RoomKey) {
	s.mu.Lock()
	delete(s.docs, key)
	s.mu.Unlock()
}

func (s *StateStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.docs)
}
