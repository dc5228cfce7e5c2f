package collab

import (
	"sort"
	"sync"
	"time"

	"collab-server/core"

	"github.com/sirupsen/logrus"
)

type room struct {
	key core.RoomKey

	mu          sync.Mutex
	members     map[string]*Conn
	presence    map[string]Message
	lastActive  time.Time
	lastTouched time.Time
	reaped      bool
}

func newRoom(key core.RoomKey) *room {
	return &room{
		key:        key,
		members:    make(map[string]*Conn),
		presence:   make(map[string]Message),
		lastActive: time.Now(),
	}
}

func (r *room) memberIDs() []string {
	ids := make([]string, 0, len(r.members))
	for id := range r.members {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// markActive records activity and reports whether the room index is due an
// update.
func (r *room) markActive(now time.Time) bool {
	r.lastActive = now
	if now.Sub(r.lastTouched) < touchInterval {
		return false
	}
	r.lastTouched = now
	return true
}

// JoinResult is what a joining connection is told about the room.
type JoinResult struct {
	Snapshot Snapshot
	Members  []string
}

// lockRoom returns the room for key, created if absent, with its lock held.
func (h *Hub) lockRoom(key core.RoomKey) (*room, error) {
	for {
		h.mu.Lock()
		if h.closed {
			h.mu.Unlock()
			return nil, core.ErrHubClosed
		}
		r, ok := h.rooms[key]
		if !ok {
			r = newRoom(key)
			h.rooms[key] = r
			h.metrics.Rooms.Set(float64(len(h.rooms)))
			logrus.WithField("room", key.String()).Debug("Room created")
		}
		h.mu.Unlock()

		r.mu.Lock()
		if !r.reaped {
			return r, nil
		}
		// Reaped between lookup and lock; the next pass creates a fresh room.
		r.mu.Unlock()
	}
}

func (h *Hub) lookupRoom(key core.RoomKey) *room {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rooms[key]
}

// Join adds c to the room of documentID. The joiner alone receives the
// current snapshot, queued ahead of any later broadcast: a document_state event
// for event connections, the stored blob as one frame for binary connections.
// Other event members are told user_joined unless c was already a member.
func (h *Hub) Join(c *Conn, documentID string, info core.UserInfo) (JoinResult, error) {
	key := core.RoomKey{Mode: c.mode, DocumentID: documentID}
	r, err := h.lockRoom(key)
	if err != nil {
		return JoinResult{}, err
	}
	if !c.addRoom(key, info) {
		r.mu.Unlock()
		return JoinResult{}, core.ErrConnClosed
	}
	if info = c.UserInfo(); info == nil {
		info = core.UserInfo{}
	}

	_, rejoin := r.members[c.id]
	r.members[c.id] = c
	touch := r.markActive(time.Now())

	snap := h.state.Snapshot(key)
	members := r.memberIDs()

	var failed []*Conn
	switch c.mode {
	case core.ModeBlob:
		if len(snap.Blob) > 0 {
			if err := c.enqueue(Message{Frame: snap.Blob}); err != nil {
				failed = append(failed, c)
			}
		}
	default:
		err := c.Emit(core.EventDocumentState, documentStatePayload(snap, members))
		for id, msg := range r.presence {
			if err != nil {
				break
			}
			if id != c.id {
				err = c.enqueue(msg)
			}
		}
		if err != nil {
			failed = append(failed, c)
		}
		if !rejoin {
			failed = append(failed, h.fanout(r, c.id, Message{
				Event: core.EventUserJoined,
				Payload: map[string]any{
					"user_id":     c.id,
					"user_info":   info,
					"document_id": documentID,
				},
			})...)
		}
	}
	r.mu.Unlock()

	h.dropFailed(failed)
	if touch {
		h.touchIndex(key)
	}

	logrus.WithFields(logrus.Fields{
		"conn_id":     c.id,
		"document_id": documentID,
		"mode":        c.mode,
		"version":     snap.Version,
		"users":       len(members),
	}).Info("Connection joined document")
	return JoinResult{Snapshot: snap, Members: members}, nil
}

// Leave removes c from the room of documentID and reports whether it was a
// member. Leaving a room twice is a no-op.
func (h *Hub) Leave(c *Conn, documentID string) bool {
	key := core.RoomKey{Mode: c.mode, DocumentID: documentID}
	r := h.lookupRoom(key)
	if r == nil {
		return false
	}

	r.mu.Lock()
	left, failed := h.removeMember(r, c)
	if left {
		c.removeRoom(key)
	}
	r.mu.Unlock()
	h.dropFailed(failed)

	if left {
		logrus.WithFields(logrus.Fields{
			"conn_id":     c.id,
			"document_id": documentID,
			"mode":        c.mode,
		}).Info("Connection left document")
	}
	return left
}

// removeMember drops c and its presence from r, which must be locked, and
// notifies the remaining event members.
func (h *Hub) removeMember(r *room, c *Conn) (bool, []*Conn) {
	if _, ok := r.members[c.id]; !ok {
		return false, nil
	}
	delete(r.members, c.id)
	delete(r.presence, c.id)
	r.lastActive = time.Now()

	if r.key.Mode != core.ModeLog {
		return true, nil
	}
	return true, h.fanout(r, c.id, Message{
		Event: core.EventUserLeft,
		Payload: map[string]any{
			"user_id":     c.id,
			"document_id": r.key.DocumentID,
		},
	})
}

func documentStatePayload(snap Snapshot, members []string) map[string]any {
	state := map[string]any{
		"content":    "",
		"version":    snap.Version,
		"operations": snap.Operations,
	}
	if snap.Compacted > 0 {
		state["compacted"] = snap.Compacted
	}
	return map[string]any{
		"document_id": snap.DocumentID,
		"state":       state,
		"users":       members,
	}
}
