package collab

import (
	"errors"
	"time"

	"collab-server/core"

	"github.com/sirupsen/logrus"
)

// BroadcastOperation applies operation to the document and queues it to every
// other member of the room. The room stays locked from apply to the last
// enqueue, so every member sees operations in version order.
//
// Event rooms receive {document_id, operation, from_user, version}; binary
// rooms receive the frame itself.
func (h *Hub) BroadcastOperation(sender *Conn, documentID string, operation any) (uint64, error) {
	key := core.RoomKey{Mode: sender.mode, DocumentID: documentID}
	r, err := h.lockRoom(key)
	if err != nil {
		return 0, err
	}

	version, err := h.state.ApplyOperation(key, operation)
	if err != nil {
		r.mu.Unlock()
		return 0, err
	}

	var msg Message
	if key.Mode == core.ModeBlob {
		msg = Message{Frame: operation.([]byte)}
	} else {
		msg = Message{
			Event: core.EventDocumentOperation,
			Payload: map[string]any{
				"document_id": documentID,
				"operation":   operation,
				"from_user":   sender.id,
				"version":     version,
			},
		}
	}
	failed := h.fanout(r, sender.id, msg)
	users := len(r.members)
	touch := r.markActive(time.Now())
	r.mu.Unlock()

	h.metrics.Operations.WithLabelValues(string(key.Mode)).Inc()
	h.dropFailed(failed)
	if touch {
		h.touchIndex(key)
	}

	logrus.WithFields(logrus.Fields{
		"conn_id":     sender.id,
		"document_id": documentID,
		"mode":        key.Mode,
		"version":     version,
		"users":       users,
	}).Debug("Operation applied")
	return version, nil
}

// BroadcastPresence relays an ephemeral cursor or awareness message to the
// other members of the room and remembers it as the sender's presence entry.
// It never changes the document version.
func (h *Hub) BroadcastPresence(sender *Conn, documentID string, msg Message) error {
	key := core.RoomKey{Mode: sender.mode, DocumentID: documentID}
	r := h.lookupRoom(key)
	if r == nil {
		return nil
	}

	r.mu.Lock()
	if _, member := r.members[sender.id]; member {
		r.presence[sender.id] = msg
	}
	failed := h.fanout(r, sender.id, msg)
	r.mu.Unlock()

	h.metrics.Presence.Inc()
	h.dropFailed(failed)
	return nil
}

// fanout queues msg to every member of r except the one with id except. r must
// be locked. Members that cannot take the message are returned.
func (h *Hub) fanout(r *room, except string, msg Message) []*Conn {
	var failed []*Conn
	delivered := 0
	for id, m := range r.members {
		if id == except {
			continue
		}
		if err := m.enqueue(msg); err != nil {
			// Closed members are already on their way out.
			if !errors.Is(err, core.ErrConnClosed) {
				failed = append(failed, m)
			}
			continue
		}
		delivered++
	}
	h.metrics.Delivered(delivered)
	return failed
}
