package collab

import (
	"sync"

	"collab-server/core"
	"collab-server/metrics"

	"github.com/sirupsen/logrus"
)

// Message is one outbound item. Event messages carry a payload for the event
// gateway; binary relay messages have no Event and carry a raw Frame.
type Message struct {
	Event   core.EventKind
	Payload any
	Frame   []byte
}

func (m Message) IsFrame() bool {
	return m.Event == ""
}

// Transport writes to one client. Send is only ever called from the
// connection's writer goroutine.
type Transport interface {
	Send(msg Message) error
	Close() error
}

// Conn is a registered client connection. It is owned by the Hub; gateways
// hold it only to pass it back into Hub methods.
type Conn struct {
	id        string
	mode      core.Mode
	transport Transport
	hub       *Hub

	mu       sync.Mutex
	rooms    map[core.RoomKey]struct{}
	userInfo core.UserInfo
	closed   bool


	out  chan Message
	done chan struct{}
	once sync.Once
}

func newConn(h *Hub, id string, mode core.Mode, t Transport, queue int) *Conn {
	c := &Conn{
		id:        id,
		mode:      mode,
		transport: t,
		hub:       h,
		rooms:     make(map[core.RoomKey]struct{}),
		out:       make(chan Message, queue),
		done:      make(chan struct{}),
	}
	return c
}

func (c *Conn) ID() string {
	return c.id
}

func (c *Conn) Mode() core.Mode {
	return c.mode
}

// Rooms lists the documents this connection is currently a member of.
func (c *Conn) Rooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]string, 0, len(c.rooms))
	for key := range c.rooms {
		ids = append(ids, key.DocumentID)
	}
	return ids
}

func (c *Conn) UserInfo() core.UserInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userInfo
}

// Emit queues an event for this connection only.
func (c *Conn) Emit(event core.EventKind, payload any) error {
	return c.enqueue(Message{Event: event, Payload: payload})
}

// enqueue never blocks. A full queue means the client is not keeping up and
// is reported as ErrQueueFull.
func (c *Conn) enqueue(msg Message) error {
	select {
	case <-c.done:
		return core.ErrConnClosed
	default:
	}

	select {
	case c.out <- msg:
		return nil
	default:
		return core.ErrQueueFull
	}
}

func (c *Conn) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.out:
			if err := c.transport.Send(msg); err != nil {
				logrus.WithFields(logrus.Fields{
					"conn_id": c.id,
					"mode":    c.mode,
					"error":   err,
				}).Warn("Delivery failed, dropping connection")
				c.hub.metrics.Errors.WithLabelValues(metrics.ErrorTransport).Inc()
				c.hub.Unregister(c.id)
				return
			}
		}
	}
}

func (c *Conn) addRoom(key core.RoomKey, info core.UserInfo) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	c.rooms[key] = struct{}{}
	if info != nil {
		c.userInfo = info
	}
	return true
}

func (c *Conn) removeRoom(key core.RoomKey) {
	c.mu.Lock()
	delete(c.rooms, key)
	c.mu.Unlock()
}

// markClosed flips the connection to closed and hands back the rooms it still
// belonged to. Only the first caller gets them.
func (c *Conn) markClosed() ([]core.RoomKey, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, false
	}
	c.closed = true
	keys := make([]core.RoomKey, 0, len(c.rooms))
	for key := range c.rooms {
		keys = append(keys, key)
	}
	c.rooms = make(map[core.RoomKey]struct{})
	return keys, true
}

func (c *Conn) shutdown() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		err = c.transport.Close()
	})
	return err
}
