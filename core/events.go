package core

// EventKind names a structured gateway event.
type EventKind string

// Inbound events.
const (
	EventJoinDocument      EventKind = "join_document"
	EventLeaveDocument     EventKind = "leave_document"
	EventDocumentOperation EventKind = "document_operation"
	EventCursorPosition    EventKind = "cursor_position"
	EventAwarenessUpdate   EventKind = "awareness_update"
)

// Outbound events. document_operation, cursor_position and awareness_update are
// relayed under their inbound names.
const (
	EventConnected     EventKind = "connected"
	EventDocumentState EventKind = "document_state"
	EventUserJoined    EventKind = "user_joined"
	EventUserLeft      EventKind = "user_left"
	EventError         EventKind = "error"
)

// DefaultDocumentID is used by binary connections whose path names no document.
const DefaultDocumentID = "default"
