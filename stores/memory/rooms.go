package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"collab-server/core"
)

type roomIndex struct {
	mu    sync.RWMutex
	rooms map[string]int64
	now   func() time.Time
}

// NewRoomIndex keeps room activity in process memory. It is lost on restart.
func NewRoomIndex() core.RoomIndex {
	return &roomIndex{
		rooms: make(map[string]int64),
		now:   time.Now,
	}
}

func (s *roomIndex) TouchRoom(ctx context.Context, roomID string) error {
	if roomID == "" {
		return fmt.Errorf("room id is required")
	}

	s.mu.Lock()
	s.rooms[roomID] = s.now().UnixMilli()
	s.mu.Unlock()

	return nil
}

// ListRooms returns rooms ordered by most recent activity.
func (s *roomIndex) ListRooms(ctx context.Context) ([]core.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rooms := make([]core.Room, 0, len(s.rooms))
	for id, last := range s.rooms {
		room := core.Room{ID: id, LastActive: last}
		if key, ok := core.ParseRoomKey(id); ok {
			room.ID, room.Mode = key.DocumentID, key.Mode
		}
		rooms = append(rooms, room)
	}

	sort.Slice(rooms, func(i, j int) bool {
		if rooms[i].LastActive == rooms[j].LastActive {
			return rooms[i].ID < rooms[j].ID
		}
		return rooms[i].LastActive > rooms[j].LastActive
	})

	return rooms, nil
}

func (s *roomIndex) DeleteRoom(ctx context.Context, roomID string) error {
	if roomID == "" {
		return fmt.Errorf("room id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.rooms, roomID)
	return nil
}
