package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/richardkyk/radio/internal/dns"
	"github.com/richardkyk/radio/internal/logging"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 64
)

// ErrNotConnected is returned by Send while the channel is closed. It is not fatal.
var ErrNotConnected = errors.New("signaling channel is not connected")

// MessageHandler receives every inbound message on the read goroutine.
type MessageHandler func(*Message)

// Client manages the WebSocket connection to the relay.
type Client struct {
	dialMu sync.Mutex

	mu        sync.Mutex
	conn      *connection
	status    Status
	onMessage MessageHandler
	onOpen    func()
	onError   func(error)
	onStatus  func(Status)

	resolver *dns.Resolver
	log      zerolog.Logger
}

// connection is one open websocket and its pumps.
type connection struct {
	ws       *websocket.Conn
	outgoing chan *Message
	done     chan struct{}
	written  chan struct{}
	stopOnce sync.Once
	closing  bool
}

func (c *connection) stop() {
	c.stopOnce.Do(func() { close(c.done) })
}

// NewClient creates a signaling client. The channel stays idle until Connect.
func NewClient() *Client {
	return &Client{
		status:   StatusIdle,
		resolver: dns.NewResolver(),
		log:      logging.Module("signaling"),
	}
}

// SetMessageHandler installs the single inbound handler, replacing any previous one.
func (c *Client) SetMessageHandler(h MessageHandler) {
	c.mu.Lock()
	c.onMessage = h
	c.mu.Unlock()
}

// SetOpenHandler installs the hook called after the channel opens.
func (c *Client) SetOpenHandler(f func()) {
	c.mu.Lock()
	c.onOpen = f
	c.mu.Unlock()
}

// SetErrorHandler installs the hook called on transport errors.
func (c *Client) SetErrorHandler(f func(error)) {
	c.mu.Lock()
	c.onError = f
	c.mu.Unlock()
}

// SetStatusHandler installs the hook called on every status change.
func (c *Client) SetStatusHandler(f func(Status)) {
	c.mu.Lock()
	c.onStatus = f
	c.mu.Unlock()
}

// Status returns the current connectivity.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Connected reports whether the channel is open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Connect opens the channel to rawURL. It is a no-op while a connection exists.
func (c *Client) Connect(ctx context.Context, rawURL string) error {
	c.dialMu.Lock()
	defer c.dialMu.Unlock()

	if c.Connected() {
		return nil
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		Proxy:            websocket.DefaultDialer.Proxy,
		NetDialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}

			resolvedIP, err := c.resolver.Lookup(ctx, host)
			if err != nil {
				return nil, fmt.Errorf("dns lookup failed: %w", err)
			}

			var d net.Dialer
			return d.DialContext(ctx, network, net.JoinHostPort(resolvedIP, port))
		},
	}

	ws, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	ws.SetReadLimit(maxMessageSize)
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	conn := &connection{
		ws:       ws,
		outgoing: make(chan *Message, sendBuffer),
		done:     make(chan struct{}),
		written:  make(chan struct{}),
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.readPump(conn)
	go c.writePump(conn)

	c.log.Info().Str("url", u.Redacted()).Msg("signaling channel open")
	c.setStatus(StatusOnline)

	if msg, err := NewMessage(TypeParticipantConnected, nil); err == nil {
		_ = c.Send(msg)
	}

	c.mu.Lock()
	onOpen := c.onOpen
	c.mu.Unlock()
	if onOpen != nil {
		onOpen()
	}
	return nil
}

// Disconnect sends the departure notice and closes the channel.
// It returns once queued messages are flushed. No-op when not connected.
func (c *Client) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}

	if msg, err := NewMessage(TypeParticipantDisconnected, nil); err == nil {
		_ = c.Send(msg)
	}

	c.mu.Lock()
	conn.closing = true
	c.mu.Unlock()

	conn.stop()
	<-conn.written
}

// Send queues msg for transmission. While closed the message is dropped with a warning.
func (c *Client) Send(msg *Message) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		c.log.Warn().Str("type", msg.Type).Msg("signaling channel not open, message dropped")
		return ErrNotConnected
	}

	select {
	case conn.outgoing <- msg:
		return nil
	case <-conn.done:
		c.log.Warn().Str("type", msg.Type).Msg("signaling channel closing, message dropped")
		return ErrNotConnected
	}
}

// readPump delivers inbound messages to the handler until the socket fails.
func (c *Client) readPump(conn *connection) {
	var readErr error
	defer func() {
		c.teardown(conn, readErr)
	}()

	_ = conn.ws.SetReadDeadline(time.Now().Add(pongWait))

	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			readErr = err
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Warn().Err(err).Msg("dropping malformed message")
			continue
		}

		c.mu.Lock()
		handler := c.onMessage
		c.mu.Unlock()
		if handler != nil {
			handler(&msg)
		}
	}
}

// writePump writes queued messages and sends periodic pings.
func (c *Client) writePump(conn *connection) {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		conn.ws.Close()
		close(conn.written)
	}()

	for {
		select {
		case msg := <-conn.outgoing:
			if err := c.write(conn, msg); err != nil {
				conn.stop()
				return
			}

		case <-ticker.C:
			_ = conn.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.stop()
				return
			}

		case <-conn.done:
		drain:
			for {
				select {
				case msg := <-conn.outgoing:
					if err := c.write(conn, msg); err != nil {
						return
					}
				default:
					break drain
				}
			}
			_ = conn.ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *Client) write(conn *connection, msg *Message) error {
	_ = conn.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.ws.WriteJSON(msg); err != nil {
		c.log.Debug().Err(err).Str("type", msg.Type).Msg("write failed")
		return err
	}
	return nil
}

// teardown runs once per connection after its read pump exits.
func (c *Client) teardown(conn *connection, err error) {
	conn.stop()

	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	closing := conn.closing
	onError := c.onError
	c.mu.Unlock()

	if !closing && err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		c.log.Error().Err(err).Msg("signaling channel error")
		c.setStatus(StatusOffline)
		if onError != nil {
			onError(err)
		}
	}

	c.setStatus(StatusIdle)
	c.log.Info().Msg("signaling channel closed")
}

func (c *Client) setStatus(s Status) {
	c.mu.Lock()
	if c.status == s {
		c.mu.Unlock()
		return
	}
	c.status = s
	onStatus := c.onStatus
	c.mu.Unlock()

	if onStatus != nil {
		onStatus(s)
	}
}
