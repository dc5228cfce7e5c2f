// Package redis keeps the room activity index in a Redis sorted set so that
// several relay instances can share one room listing.
package redis

import (
	"context"
	"fmt"
	"sort"
	"time"

	"collab-server/core"

	"github.com/redis/go-redis/v9"
)

const DefaultPrefix = "collab"

// RoomIndex stores room ids as members of <prefix>:rooms scored by the unix
// milliseconds of their last activity.
type RoomIndex struct {
	rdb *redis.Client
	key string
	now func() time.Time
}

func NewRoomIndex(redisOpts *redis.Options, prefix string) (*RoomIndex, error) {
	if redisOpts == nil {
		return nil, fmt.Errorf("redis options cannot be nil")
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &RoomIndex{
		rdb: redis.NewClient(redisOpts),
		key: prefix + ":rooms",
		now: time.Now,
	}, nil
}

// NewRoomIndexFromURL parses a redis:// URL.
func NewRoomIndexFromURL(url, prefix string) (*RoomIndex, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return NewRoomIndex(opts, prefix)
}

// Close closes the Redis connection. Implements io.Closer.
func (s *RoomIndex) Close() error {
	return s.rdb.Close()
}

func (s *RoomIndex) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *RoomIndex) TouchRoom(ctx context.Context, roomID string) error {
	if roomID == "" {
		return fmt.Errorf("room id is required")
	}
	err := s.rdb.ZAdd(ctx, s.key, redis.Z{
		Score:  float64(s.now().UnixMilli()),
		Member: roomID,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to touch room %s: %w", roomID, err)
	}
	return nil
}

// ListRooms returns rooms ordered by most recent activity.
func (s *RoomIndex) ListRooms(ctx context.Context) ([]core.Room, error) {
	members, err := s.rdb.ZRevRangeWithScores(ctx, s.key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}

	rooms := make([]core.Room, 0, len(members))
	for _, z := range members {
		id, ok := z.Member.(string)
		if !ok {
			continue
		}
		room := core.Room{ID: id, LastActive: int64(z.Score)}
		if key, ok := core.ParseRoomKey(id); ok {
			room.ID, room.Mode = key.DocumentID, key.Mode
		}
		rooms = append(rooms, room)
	}

	// Redis breaks score ties in reverse lexical order.
	sort.SliceStable(rooms, func(i, j int) bool {
		if rooms[i].LastActive == rooms[j].LastActive {
			return rooms[i].ID < rooms[j].ID
		}
		return rooms[i].LastActive > rooms[j].LastActive
	})
	return rooms, nil
}

func (s *RoomIndex) DeleteRoom(ctx context.Context, roomID string) error {
	if roomID == "" {
		return fmt.Errorf("room id is required")
	}
	if err := s.rdb.ZRem(ctx, s.key, roomID).Err(); err != nil {
		return fmt.Errorf("failed to delete room %s: %w", roomID, err)
	}
	return nil
}
