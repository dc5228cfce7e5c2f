package websocket

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"collab-server/collab"
	"collab-server/core"

	"github.com/sirupsen/logrus"
	"github.com/zishang520/engine.io/v2/types"
	socketio "github.com/zishang520/socket.io/v2/socket"
)

type Options struct {
	PingInterval   time.Duration
	PingTimeout    time.Duration
	MaxMessageSize int64
	// AllowedOrigins extends the local origins that are always accepted. "*"
	// accepts any origin.
	AllowedOrigins []string
}

var localhostOrigin = regexp.MustCompile(`^https?://(localhost|127\.0\.0\.1|\[::1\])(:\d+)?$`)

// socketTransport delivers hub messages as socket.io events.
type socketTransport struct {
	socket *socketio.Socket
}

func (t socketTransport) Send(msg collab.Message) error {
	if msg.IsFrame() {
		return fmt.Errorf("socket %s: raw frames are not supported", t.socket.Id())
	}
	return t.socket.Emit(string(msg.Event), msg.Payload)
}

func (t socketTransport) Close() error {
	t.socket.Disconnect(true)
	return nil
}

// SetupSocketIO serves the event gateway. Every socket is registered with hub
// under its socket.io id and each inbound event is passed to hub.Dispatch.
func SetupSocketIO(hub *collab.Hub, o Options) *socketio.Server {
	opts := socketio.DefaultServerOptions()
	opts.SetMaxHttpBufferSize(o.MaxMessageSize)
	opts.SetPath("/socket.io")
	opts.SetAllowEIO3(true)
	if o.PingInterval > 0 {
		opts.SetPingInterval(o.PingInterval)
	}
	if o.PingTimeout > 0 {
		opts.SetPingTimeout(o.PingTimeout)
	}
	opts.SetCors(&types.Cors{
		Origin:      corsOrigins(o.AllowedOrigins),
		Credentials: true,
	})
	srv := socketio.NewServer(nil, opts)

	//nolint:errcheck // Socket.IO event handlers do not return useful errors
	srv.On("connection", func(clients ...any) {
		socket, ok := clients[0].(*socketio.Socket)
		if !ok {
			return
		}

		conn, err := hub.Register(socketTransport{socket: socket}, core.ModeLog, string(socket.Id()))
		if err != nil {
			logrus.WithError(err).WithField("conn_id", socket.Id()).Warn("Rejecting socket")
			socket.Disconnect(true)
			return
		}
		for _, kind := range collab.InboundEvents() {
			kind := kind
			//nolint:errcheck // Socket.IO event handlers do not return useful errors
			socket.On(string(kind), func(datas ...any) {
				handleEvent(hub, conn, kind, datas)
			})
		}

		//nolint:errcheck // Socket.IO event handlers do not return useful errors
		socket.On("disconnect", func(datas ...any) {
			reason := ""
			if len(datas) > 0 {
				reason = fmt.Sprint(datas[0])
			}
			logrus.WithFields(logrus.Fields{
				"conn_id": conn.ID(),
				"reason":  reason,
			}).Debug("Socket disconnected")
			hub.Unregister(conn.ID())
		})

		_ = conn.Emit(core.EventConnected, map[string]any{
			"status":  "success",
			"message": "connected",
		})
	})

	return srv
}

func handleEvent(hub *collab.Hub, conn *collab.Conn, kind core.EventKind, datas []any) {
	ack, args := extractAck(datas)
	data, err := eventData(args)
	if err == nil {
		err = hub.Dispatch(conn, kind, data)
	} else {
		_ = conn.Emit(core.EventError, map[string]any{"message": err.Error()})
	}
	if ack != nil {
		ack([]any{ackPayload(kind, err)}, nil)
	}
}

// extractAck splits off the acknowledgement callback socket.io appends when
// the client asked for one.
func extractAck(datas []any) (func([]any, error), []any) {
	if len(datas) == 0 {
		return nil, datas
	}
	if ack, ok := datas[len(datas)-1].(func([]any, error)); ok && ack != nil {
		return ack, datas[:len(datas)-1]
	}
	return nil, datas
}

// eventData takes the first event argument as the payload object. Clients
// that send the object pre-encoded as a JSON string are accepted too.
func eventData(args []any) (map[string]any, error) {
	if len(args) == 0 || args[0] == nil {
		return map[string]any{}, nil
	}

	switch v := args[0].(type) {
	case map[string]any:
		return v, nil
	case string:
		var data map[string]any
		if err := json.Unmarshal([]byte(v), &data); err != nil {
			return nil, fmt.Errorf("payload must be an object")
		}
		return data, nil
	case []byte:
		var data map[string]any
		if err := json.Unmarshal(v, &data); err != nil {
			return nil, fmt.Errorf("payload must be an object")
		}
		return data, nil
	}
	return nil, fmt.Errorf("payload must be an object")
}

func ackPayload(kind core.EventKind, err error) map[string]any {
	response := map[string]any{
		"status": "ok",
		"event":  string(kind),
	}
	if err != nil {
		response["status"] = "error"
		response["error"] = err.Error()
	}
	return response
}

func corsOrigins(allowed []string) []any {
	origins := []any{
		"tauri://localhost",
		localhostOrigin,
	}
	for _, origin := range allowed {
		if origin == "*" {
			return []any{true}
		}
		origins = append(origins, origin)
	}
	return origins
}
