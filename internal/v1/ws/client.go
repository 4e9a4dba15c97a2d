package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/chorus-party/matchmaking/internal/v1/logging"
	"github.com/chorus-party/matchmaking/internal/v1/metrics"
	"github.com/chorus-party/matchmaking/internal/v1/protocol"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const writeWait = 10 * time.Second

// wsConnection is the subset of *websocket.Conn the Client needs, so tests
// can substitute a fake without a real socket.
type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetWriteDeadline(t time.Time) error
}

// inboundFrame is the wire envelope a client sends: a tagged event name
// plus its opaque JSON payload, per spec §9's "closed and small" inbound
// surface modeled as a tagged variant.
type inboundFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// outboundFrame is the symmetric envelope sent back to a client.
type outboundFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// priorityEvents are forwarded on the priority channel so they are never
// starved behind a backlog of lower-priority traffic (signal frames are
// comparatively latency-insensitive to interactive state changes).
var priorityEvents = map[string]bool{
	protocol.OutMatchFound:         true,
	protocol.OutSessionEstablished: true,
	protocol.OutMatchError:         true,
	protocol.OutMatchSkipped:       true,
	protocol.OutBanned:             true,
	protocol.OutKicked:             true,
}

// Client represents a single connection to the broker.
type Client struct {
	hub      *Hub
	conn     wsConnection
	socketID string
	uid      string
	isAdmin  bool

	cancel context.CancelFunc

	send         chan []byte
	prioritySend chan []byte
	closeOnce    sync.Once
}

func newClient(hub *Hub, conn wsConnection, socketID, uid string, isAdmin bool) *Client {
	return &Client{
		hub:          hub,
		conn:         conn,
		socketID:     socketID,
		uid:          uid,
		isAdmin:      isAdmin,
		send:         make(chan []byte, 256),
		prioritySend: make(chan []byte, 256),
	}
}

// sendFrame marshals event/payload and enqueues it on the appropriate
// channel, dropping (with a logged warning) rather than blocking if the
// client's buffer is saturated.
func (c *Client) sendFrame(event string, payload any) error {
	data, err := json.Marshal(outboundFrame{Event: event, Data: payload})
	if err != nil {
		return err
	}

	ch := c.send
	if priorityEvents[event] {
		ch = c.prioritySend
	}

	select {
	case ch <- data:
		metrics.WebsocketEvents.WithLabelValues(event, "sent").Inc()
	default:
		metrics.WebsocketEvents.WithLabelValues(event, "dropped").Inc()
		logging.Warn(context.Background(), "client send channel full, dropping frame", zap.String("socket_id", c.socketID), zap.String("event", event))
	}
	return nil
}

// readPump continuously decodes inbound frames and dispatches them, until
// the connection errors or closes.
func (c *Client) readPump() {
	defer func() {
		c.hub.handleDisconnect(c)
		c.conn.Close()
	}()

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			logging.Warn(context.Background(), "failed to decode inbound frame", zap.String("socket_id", c.socketID), zap.Error(err))
			continue
		}

		ctx := context.Background()
		metrics.WebsocketEvents.WithLabelValues(frame.Event, "received").Inc()
		if err := c.hub.dispatcher.Dispatch(ctx, c, frame.Event, frame.Data); err != nil {
			logging.Warn(ctx, "error dispatching inbound frame", zap.String("socket_id", c.socketID), zap.String("event", frame.Event), zap.Error(err))
		}
	}
}

// writePump drains the priority and normal send channels onto the
// connection, preferring priority traffic on every iteration.
func (c *Client) writePump() {
	defer c.conn.Close()

	for {
		select {
		case message, ok := <-c.prioritySend:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.write(message); err != nil {
				return
			}
		default:
			select {
			case message, ok := <-c.prioritySend:
				if !ok {
					c.conn.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				if err := c.write(message); err != nil {
					return
				}
			case message, ok := <-c.send:
				if !ok {
					c.conn.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				if err := c.write(message); err != nil {
					return
				}
			}
		}
	}
}

func (c *Client) write(message []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		logging.Error(context.Background(), "error writing message", zap.String("socket_id", c.socketID), zap.Error(err))
		return err
	}
	return nil
}

// closeChannels closes both send channels exactly once, unblocking
// writePump.
func (c *Client) closeChannels() {
	c.closeOnce.Do(func() {
		close(c.send)
		close(c.prioritySend)
	})
}
