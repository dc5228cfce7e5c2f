package collab

import (
	"errors"
	"fmt"
	"sort"
	"strconv"

	"collab-server/core"
	"collab-server/metrics"

	"github.com/sirupsen/logrus"
)

type handlerFunc func(h *Hub, c *Conn, data map[string]any) error

var handlers = map[core.EventKind]handlerFunc{
	core.EventJoinDocument:      handleJoin,
	core.EventLeaveDocument:     handleLeave,
	core.EventDocumentOperation: handleOperation,
	core.EventCursorPosition:    handleCursor,
	core.EventAwarenessUpdate:   handleAwareness,
}

// InboundEvents lists the events Dispatch accepts.
func InboundEvents() []core.EventKind {
	kinds := make([]core.EventKind, 0, len(handlers))
	for kind := range handlers {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Dispatch handles one inbound event from an event connection. Any failure,
// including a panic in the handler, is reported to c alone as an error event
// and returned; other connections and documents are unaffected.
func (h *Hub) Dispatch(c *Conn, event core.EventKind, data map[string]any) error {
	documentID, _ := documentIDFrom(data)
	return h.guard(c, event, documentID, func() error {
		fn, ok := handlers[event]
		if !ok {
			return fmt.Errorf("%s: %w", event, core.ErrUnknownEvent)
		}
		return fn(h, c, data)
	})
}

func (h *Hub) guard(c *Conn, event core.EventKind, documentID string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		if err != nil {
			h.report(c, event, documentID, err)
		}
	}()
	return fn()
}

func (h *Hub) report(c *Conn, event core.EventKind, documentID string, err error) {
	log := logrus.WithFields(logrus.Fields{
		"conn_id":     c.id,
		"event":       event,
		"document_id": documentID,
	})

	var message string
	var ve *core.ValidationError
	switch {
	case errors.As(err, &ve):
		message = ve.Message()
		h.metrics.Errors.WithLabelValues(metrics.ErrorValidation).Inc()
		log.WithField("error", err).Debug("Rejected invalid event")
	case errors.Is(err, core.ErrUnknownEvent), errors.Is(err, core.ErrInvalidFrame):
		message = err.Error()
		h.metrics.Errors.WithLabelValues(metrics.ErrorValidation).Inc()
		log.WithField("error", err).Debug("Rejected event")
	default:
		message = fmt.Sprintf("failed to process %s", event)
		h.metrics.Errors.WithLabelValues(metrics.ErrorInternal).Inc()
		log.WithField("error", err).Error("Event processing failed")
	}

	sendErr := c.Emit(core.EventError, map[string]any{"message": message})
	if sendErr != nil && !errors.Is(sendErr, core.ErrConnClosed) {
		h.dropFailed([]*Conn{c})
	}
}

func handleJoin(h *Hub, c *Conn, data map[string]any) error {
	documentID, ok := documentIDFrom(data)
	if !ok {
		return &core.ValidationError{Event: core.EventJoinDocument, Fields: []string{"document_id"}}
	}
	_, err := h.Join(c, documentID, userInfoFrom(data["user_info"]))
	return err
}

func handleLeave(h *Hub, c *Conn, data map[string]any) error {
	documentID, ok := documentIDFrom(data)
	if !ok {
		return &core.ValidationError{Event: core.EventLeaveDocument, Fields: []string{"document_id"}}
	}
	h.Leave(c, documentID)
	return nil
}

func handleOperation(h *Hub, c *Conn, data map[string]any) error {
	documentID, hasDoc := documentIDFrom(data)
	operation := data["operation"]

	var missing []string
	if !hasDoc {
		missing = append(missing, "document_id")
	}
	if !present(operation) {
		missing = append(missing, "operation")
	}
	if len(missing) > 0 {
		return &core.ValidationError{Event: core.EventDocumentOperation, Fields: missing}
	}

	_, err := h.BroadcastOperation(c, documentID, operation)
	return err
}

func handleCursor(h *Hub, c *Conn, data map[string]any) error {
	documentID, ok := documentIDFrom(data)
	if !ok {
		return &core.ValidationError{Event: core.EventCursorPosition, Fields: []string{"document_id"}}
	}

	info := userInfoFrom(data["user_info"])
	if info == nil {
		info = c.UserInfo()
	}
	if info == nil {
		info = core.UserInfo{}
	}
	return h.BroadcastPresence(c, documentID, Message{
		Event: core.EventCursorPosition,
		Payload: map[string]any{
			"document_id": documentID,
			"position":    data["position"],
			"user_id":     c.id,
			"user_info":   info,
		},
	})
}

func handleAwareness(h *Hub, c *Conn, data map[string]any) error {
	documentID, ok := documentIDFrom(data)
	if !ok {
		return &core.ValidationError{Event: core.EventAwarenessUpdate, Fields: []string{"document_id"}}
	}
	return h.BroadcastPresence(c, documentID, Message{
		Event: core.EventAwarenessUpdate,
		Payload: map[string]any{
			"document_id": documentID,
			"awareness":   data["awareness"],
			"user_id":     c.id,
		},
	})
}

// documentIDFrom accepts string ids and the numbers JSON clients tend to send.
func documentIDFrom(data map[string]any) (string, bool) {
	switch v := data["document_id"].(type) {
	case string:
		return v, v != ""
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case int:
		return strconv.Itoa(v), true
	case int64:
		return strconv.FormatInt(v, 10), true
	}
	return "", false
}

// userInfoFrom returns nil when v carries no identity, so a join without
// user_info keeps whatever an earlier join stored.
func userInfoFrom(v any) core.UserInfo {
	switch info := v.(type) {
	case core.UserInfo:
		return info
	case map[string]any:
		return core.UserInfo(info)
	}
	return nil
}

// present reports whether an operation payload carries anything.
func present(v any) bool {
	switch op := v.(type) {
	case nil:
		return false
	case string:
		return op != ""
	case []byte:
		return len(op) > 0
	case []any:
		return len(op) > 0
	case map[string]any:
		return len(op) > 0
	}
	return true
}
