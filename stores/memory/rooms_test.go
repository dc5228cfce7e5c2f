package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"collab-server/core"
)

func newTestIndex(clock *time.Time) *roomIndex {
	return &roomIndex{
		rooms: make(map[string]int64),
		now:   func() time.Time { return *clock },
	}
}

func TestNewRoomIndex(t *testing.T) {
	if NewRoomIndex() == nil {
		t.Fatal("NewRoomIndex() returned nil")
	}
}

func TestTouchRoom_EmptyID(t *testing.T) {
	index := NewRoomIndex()
	if err := index.TouchRoom(context.Background(), ""); err == nil {
		t.Error("TouchRoom() should reject an empty room id")
	}
}

func TestListRooms_Order(t *testing.T) {
	clock := time.UnixMilli(1000)
	index := newTestIndex(&clock)
	ctx := context.Background()

	index.TouchRoom(ctx, "log:old")
	clock = clock.Add(time.Second)
	index.TouchRoom(ctx, "blob:b")
	index.TouchRoom(ctx, "log:a")

	rooms, err := index.ListRooms(ctx)
	if err != nil {
		t.Fatalf("ListRooms() failed: %v", err)
	}
	if len(rooms) != 3 {
		t.Fatalf("ListRooms() returned %d rooms, want 3", len(rooms))
	}

	want := []core.Room{
		{ID: "a", Mode: core.ModeLog, LastActive: 2000},
		{ID: "b", Mode: core.ModeBlob, LastActive: 2000},
		{ID: "old", Mode: core.ModeLog, LastActive: 1000},
	}
	for i := range want {
		if rooms[i] != want[i] {
			t.Errorf("rooms[%d] = %+v, want %+v", i, rooms[i], want[i])
		}
	}
}

func TestListRooms_PlainID(t *testing.T) {
	index := NewRoomIndex()
	ctx := context.Background()
	index.TouchRoom(ctx, "legacy")

	rooms, _ := index.ListRooms(ctx)
	if len(rooms) != 1 || rooms[0].ID != "legacy" || rooms[0].Mode != "" {
		t.Errorf("unexpected rooms: %+v", rooms)
	}
}

func TestDeleteRoom(t *testing.T) {
	index := NewRoomIndex()
	ctx := context.Background()

	index.TouchRoom(ctx, "log:x")
	if err := index.DeleteRoom(ctx, "log:x"); err != nil {
		t.Fatalf("DeleteRoom() failed: %v", err)
	}
	if err := index.DeleteRoom(ctx, "log:x"); err != nil {
		t.Errorf("deleting a missing room should succeed, got %v", err)
	}
	if err := index.DeleteRoom(ctx, ""); err == nil {
		t.Error("DeleteRoom() should reject an empty room id")
	}

	rooms, _ := index.ListRooms(ctx)
	if len(rooms) != 0 {
		t.Errorf("expected no rooms, got %+v", rooms)
	}
}

func TestConcurrentTouch(t *testing.T) {
	index := NewRoomIndex()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			index.TouchRoom(ctx, "log:shared")
			index.ListRooms(ctx)
		}()
	}
	wg.Wait()

	rooms, _ := index.ListRooms(ctx)
	if len(rooms) != 1 {
		t.Errorf("expected one room, got %d", len(rooms))
	}
}
