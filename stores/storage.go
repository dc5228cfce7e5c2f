package stores

import (
	"context"
	"fmt"
	"time"

	"collab-server/config"
	"collab-server/core"
	"collab-server/stores/memory"
	"collab-server/stores/redis"

	"github.com/sirupsen/logrus"
)

// GetRoomIndex builds the room activity index selected by cfg.RoomIndex. A
// Redis index is pinged before it is returned.
func GetRoomIndex(cfg *config.Config) (core.RoomIndex, error) {
	indexField := logrus.Fields{
		"roomIndex": cfg.RoomIndex,
	}

	var index core.RoomIndex
	switch cfg.RoomIndex {
	case config.IndexRedis:
		redisIndex, err := redis.NewRoomIndexFromURL(cfg.RedisURL, redis.DefaultPrefix)
		if err != nil {
			return nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := redisIndex.Ping(ctx); err != nil {
			redisIndex.Close()
			return nil, fmt.Errorf("redis not accessible: %w", err)
		}
		index = redisIndex
	default:
		index = memory.NewRoomIndex()
		indexField["roomIndex"] = "in-memory"
	}
	logrus.WithFields(indexField).Info("Use room index")
	return index, nil
}
