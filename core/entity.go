package core

import (
	"context"
	"strings"
)

type (
	// Mode selects how a room keeps its document state and how its members are
	// spoken to: ModeLog rooms belong to the event gateway, ModeBlob rooms to the
	// binary relay.
	Mode string

	// RoomKey identifies a room. Event and binary connections never share a room
	// even when they name the same document.
	RoomKey struct {
		Mode       Mode
		DocumentID string
	}

	// UserInfo is client supplied presence metadata. It is relayed as given.
	UserInfo map[string]any

	Room struct {
		ID         string `json:"id"`
		Mode       Mode   `json:"mode"`
		Users      int    `json:"users"`
		Version    uint64 `json:"version"`
		LastActive int64  `json:"lastActive,omitempty"`
	}

	// RoomIndex records when each room was last active. Room ids passed to it are
	// RoomKey.String() values.
	RoomIndex interface {
		ListRooms(ctx context.Context) ([]Room, error)
		TouchRoom(ctx context.Context, roomID string) error
		DeleteRoom(ctx context.Context, roomID string) error
	}
)

const (
	ModeLog  Mode = "log"
	ModeBlob Mode = "blob"
)

func (m Mode) Valid() bool {
	return m == ModeLog || m == ModeBlob
}

func (k RoomKey) String() string {
	return string(k.Mode) + ":" + k.DocumentID
}

// ParseRoomKey is the inverse of RoomKey.String.
func ParseRoomKey(s string) (RoomKey, bool) {
	mode, id, ok := strings.Cut(s, ":")
	if !ok || !Mode(mode).Valid() || id == "" {
		return RoomKey{}, false
	}
	return RoomKey{Mode: Mode(mode), DocumentID: id}, true
}
