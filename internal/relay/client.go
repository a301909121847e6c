package relay

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/richardkyk/radio/internal/peer"
	"github.com/richardkyk/radio/internal/signaling"
	"github.com/rs/zerolog"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024 // 64 KB - enough for SDP

	sendBuffer = 256
)

// Client is one websocket connection to the relay.
type Client struct {
	ID    string
	Role  peer.Role
	Topic string

	hub  *Hub
	conn *websocket.Conn
	log  zerolog.Logger

	// send is drained by WritePump. Deliver and close guard it so pion callbacks can
	// queue messages without racing the hub closing the channel.
	mu     sync.Mutex
	send   chan *signaling.Message
	closed bool
}

func newClient(hub *Hub, conn *websocket.Conn, id string, role peer.Role, topic string) *Client {
	return &Client{
		ID:    id,
		Role:  role,
		Topic: topic,
		hub:   hub,
		conn:  conn,
		send:  make(chan *signaling.Message, sendBuffer),
		log: hub.log.With().
			Str("client", id).
			Str("role", string(role)).
			Str("topic", topic).
			Logger(),
	}
}

// Deliver queues msg for the client. It returns false when the client is gone or its
// queue is full.
func (c *Client) Deliver(msg *signaling.Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		c.log.Warn().Str("type", msg.Type).Msg("send queue full, message dropped")
		return false
	}
}

// deliver encodes data and queues it.
func (c *Client) deliver(msgType string, data any) bool {
	msg, err := signaling.NewMessage(msgType, data)
	if err != nil {
		c.log.Error().Err(err).Str("type", msgType).Msg("encode message")
		return false
	}
	return c.Deliver(msg)
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// ReadPump pumps messages from the websocket connection to the hub.
//
// It runs in a per-connection goroutine, so there is at most one reader per connection.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.leave(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.log.Warn().Err(err).Msg("read failed")
			}
			return
		}

		var msg signaling.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Debug().Err(err).Msg("malformed message skipped")
			continue
		}

		if !c.hub.dispatch(inbound{client: c, msg: &msg}) {
			return
		}
	}
}

// WritePump pumps messages from the hub to the websocket connection.
//
// It runs in a per-connection goroutine, so there is at most one writer per connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				c.log.Debug().Err(err).Msg("write failed")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
