// Package collab is the collaboration core shared by the event gateway and the
// binary relay: connection registry, rooms, document state and fan-out.
//
// A Hub is built once at startup, handed to every gateway and closed at
// shutdown. Locks are always taken in the order hub, room, connection,
// document, and no lock is held across transport I/O.
package collab

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"collab-server/core"
	"collab-server/metrics"

	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

const (
	DefaultOutboundQueue = 256
	DefaultReapInterval  = time.Minute

	indexTimeout  = 2 * time.Second
	touchInterval = time.Second
)

type Options struct {
	// OutboundQueue bounds the messages waiting to be written to one client.
	OutboundQueue int
	// MaxLogEntries caps each operation log. Zero keeps every operation.
	MaxLogEntries int
	// RoomIdleTTL enables reaping of rooms that stayed empty this long.
	// Zero never reaps.
	RoomIdleTTL  time.Duration
	ReapInterval time.Duration

	// Index is optional.
	Index   core.RoomIndex
	Metrics *metrics.Metrics
}

type Hub struct {
	opts    Options
	index   core.RoomIndex
	metrics *metrics.Metrics
	state   *StateStore

	mu     sync.RWMutex
	conns  map[string]*Conn
	rooms  map[core.RoomKey]*room
	closed bool
}

func NewHub(opts Options) *Hub {
	if opts.OutboundQueue <= 0 {
		opts.OutboundQueue = DefaultOutboundQueue
	}
	if opts.ReapInterval <= 0 {
		opts.ReapInterval = DefaultReapInterval
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(prometheus.NewRegistry())
	}

	return &Hub{
		opts:    opts,
		index:   opts.Index,
		metrics: opts.Metrics,
		state:   NewStateStore(opts.MaxLogEntries),
		conns:   make(map[string]*Conn),
		rooms:   make(map[core.RoomKey]*room),
	}
}

// Register adds a connection and starts its writer. An empty id is replaced by
// a fresh ULID.
func (h *Hub) Register(t Transport, mode core.Mode, id string) (*Conn, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("register: unknown mode %q", mode)
	}
	if id == "" {
		id = ulid.Make().String()
	}
	c := newConn(h, id, mode, t, h.opts.OutboundQueue)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, core.ErrHubClosed
	}
	if _, exists := h.conns[id]; exists {
		h.mu.Unlock()
		return nil, fmt.Errorf("register %s: %w", id, core.ErrDuplicateConn)
	}
	h.conns[id] = c
	h.mu.Unlock()

	go c.writeLoop()

	h.metrics.Connections.WithLabelValues(string(mode)).Inc()
	logrus.WithFields(logrus.Fields{
		"conn_id": id,
		"mode":    mode,
	}).Info("Connection registered")
	return c, nil
}

// Unregister removes a connection from every room it joined, tells the
// remaining members it left and closes its transport. Calling it again for the
// same id does nothing.
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	c, ok := h.conns[id]
	if ok {
		delete(h.conns, id)
	}
	h.mu.Unlock()
	if !ok {
		return
	}

	keys, _ := c.markClosed()
	for _, key := range keys {
		r := h.lookupRoom(key)
		if r == nil {
			continue
		}
		r.mu.Lock()
		_, failed := h.removeMember(r, c)
		r.mu.Unlock()
		h.dropFailed(failed)
	}

	log := logrus.WithFields(logrus.Fields{
		"conn_id": id,
		"mode":    c.mode,
		"rooms":   len(keys),
	})
	if err := c.shutdown(); err != nil {
		log.WithError(err).Debug("Transport close failed")
	}
	h.metrics.Connections.WithLabelValues(string(c.mode)).Dec()
	log.Info("Connection unregistered")
}

// Conn looks up a registered connection.
func (h *Hub) Conn(id string) (*Conn, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.conns[id]
	return c, ok
}

func (h *Hub) ConnCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Rooms summarizes every room held in memory.
func (h *Hub) Rooms() []core.Room {
	h.mu.RLock()
	rooms := make([]*room, 0, len(h.rooms))
	for _, r := range h.rooms {
		rooms = append(rooms, r)
	}
	h.mu.RUnlock()

	out := make([]core.Room, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, h.summarize(r))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ID == out[j].ID {
			return out[i].Mode < out[j].Mode
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (h *Hub) Room(key core.RoomKey) (core.Room, bool) {
	r := h.lookupRoom(key)
	if r == nil {
		return core.Room{}, false
	}
	return h.summarize(r), true
}

// Members returns the sorted connection ids currently in a room.
func (h *Hub) Members(key core.RoomKey) []string {
	r := h.lookupRoom(key)
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.memberIDs()
}

func (h *Hub) summarize(r *room) core.Room {
	r.mu.Lock()
	users := len(r.members)
	last := r.lastActive
	r.mu.Unlock()

	return core.Room{
		ID:         r.key.DocumentID,
		Mode:       r.key.Mode,
		Users:      users,
		Version:    h.state.Version(r.key),
		LastActive: last.UnixMilli(),
	}
}

// Close shuts every connection down without leave notifications. The hub
// accepts no new connections afterwards.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	conns := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.conns = make(map[string]*Conn)
	h.mu.Unlock()

	var err error
	for _, c := range conns {
		c.markClosed()
		err = multierr.Append(err, c.shutdown())
		h.metrics.Connections.WithLabelValues(string(c.mode)).Dec()
	}
	logrus.WithField("connections", len(conns)).Info("Hub closed")
	return err
}

func (h *Hub) dropFailed(failed []*Conn) {
	if len(failed) == 0 {
		return
	}
	h.metrics.Dropped(len(failed))
	for _, c := range failed {
		logrus.WithFields(logrus.Fields{
			"conn_id": c.id,
			"mode":    c.mode,
		}).Warn("Member is not accepting messages, unregistering")
		h.metrics.Errors.WithLabelValues(metrics.ErrorTransport).Inc()
		go h.Unregister(c.id)
	}
}

func (h *Hub) touchIndex(key core.RoomKey) {
	if h.index == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), indexTimeout)
	defer cancel()
	if err := h.index.TouchRoom(ctx, key.String()); err != nil {
		logrus.WithError(err).WithField("room", key.String()).Warn("Failed to touch room in index")
	}
}
