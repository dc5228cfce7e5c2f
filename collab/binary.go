package collab

import (
	"fmt"
	"strings"

	"collab-server/core"
)

// DocumentIDFromPath derives a binary connection's document id from its
// request path: surrounding slashes are trimmed and an empty result becomes
// core.DefaultDocumentID.
func DocumentIDFromPath(path string) string {
	id := strings.Trim(path, "/")
	if id == "" {
		return core.DefaultDocumentID
	}
	return id
}

// RelayFrame treats one inbound binary frame as one operation on documentID:
// it replaces the stored blob and is relayed unchanged to the other members.
// Failures are reported to c alone.
func (h *Hub) RelayFrame(c *Conn, documentID string, frame []byte) error {
	return h.guard(c, core.EventDocumentOperation, documentID, func() error {
		if len(frame) == 0 {
			return fmt.Errorf("empty frame: %w", core.ErrInvalidFrame)
		}
		_, err := h.BroadcastOperation(c, documentID, frame)
		return err
	})
}
