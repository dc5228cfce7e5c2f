package collab

import (
	"context"
	"time"

	"collab-server/core"

	"github.com/sirupsen/logrus"
)

// Run reaps idle rooms every ReapInterval until ctx is done. With reaping
// disabled it just waits for ctx.
func (h *Hub) Run(ctx context.Context) error {
	if h.opts.RoomIdleTTL <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(h.opts.ReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			h.Reap(now)
		}
	}
}

// Reap removes rooms that have had no members and no activity for at least
// RoomIdleTTL, together with their document state, and returns their keys.
func (h *Hub) Reap(now time.Time) []core.RoomKey {
	ttl := h.opts.RoomIdleTTL
	if ttl <= 0 {
		return nil
	}

	var reaped []core.RoomKey
	h.mu.Lock()
	for key, r := range h.rooms {
		r.mu.Lock()
		if len(r.members) == 0 && now.Sub(r.lastActive) >= ttl {
			r.reaped = true
			delete(h.rooms, key)
			h.state.Drop(key)
			reaped = append(reaped, key)
		}
		r.mu.Unlock()
	}
	h.metrics.Rooms.Set(float64(len(h.rooms)))
	h.mu.Unlock()

	if len(reaped) == 0 {
		return nil
	}
	h.metrics.Reaped.Add(float64(len(reaped)))

	if h.index != nil {
		ctx, cancel := context.WithTimeout(context.Background(), indexTimeout)
		defer cancel()
		for _, key := range reaped {
			if err := h.index.DeleteRoom(ctx, key.String()); err != nil {
				logrus.WithError(err).WithField("room", key.String()).Warn("Failed to delete room from index")
			}
		}
	}
	logrus.WithField("rooms", len(reaped)).Info("Reaped idle rooms")
	return reaped
}
