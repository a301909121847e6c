package signaling

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type relayStub struct {
	srv      *httptest.Server
	conns    chan *websocket.Conn
	received chan Message
}

func newRelayStub(t *testing.T) *relayStub {
	t.Helper()

	upgrader := websocket.Upgrader{}
	s := &relayStub{
		conns:    make(chan *websocket.Conn, 4),
		received: make(chan Message, 32),
	}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.conns <- ws
		for {
			var msg Message
			if err := ws.ReadJSON(&msg); err != nil {
				return
			}
			s.received <- msg
		}
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *relayStub) url() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/ws/listener?topic=en"
}

func (s *relayStub) expect(t *testing.T, msgType string) Message {
	t.Helper()
	select {
	case msg := <-s.received:
		if msg.Type != msgType {
			t.Fatalf("expected %q, got %q", msgType, msg.Type)
		}
		return msg
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %q", msgType)
	}
	return Message{}
}

func (s *relayStub) conn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case ws := <-s.conns:
		return ws
	case <-time.After(2 * time.Second):
		t.Fatalf("no connection accepted")
	}
	return nil
}

func waitStatus(t *testing.T, ch <-chan Status, want Status) {
	t.Helper()
	select {
	case got := <-ch:
		if got != want {
			t.Fatalf("status: expected %s, got %s", want, got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for status %s", want)
	}
}

func TestConnectIsIdempotent(t *testing.T) {
	relay := newRelayStub(t)
	c := NewClient()

	opened := make(chan struct{}, 2)
	c.SetOpenHandler(func() { opened <- struct{}{} })

	if err := c.Connect(context.Background(), relay.url()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Disconnect()

	relay.conn(t)
	relay.expect(t, TypeParticipantConnected)

	if c.Status() != StatusOnline {
		t.Fatalf("expected online, got %s", c.Status())
	}

	if err := c.Connect(context.Background(), relay.url()); err != nil {
		t.Fatalf("second Connect: %v", err)
	}

	select {
	case <-relay.conns:
		t.Fatalf("second Connect opened another socket")
	case <-time.After(100 * time.Millisecond):
	}
	if len(opened) != 1 {
		t.Fatalf("open hook ran %d times", len(opened))
	}
}

func TestSendWhileClosed(t *testing.T) {
	c := NewClient()
	msg, _ := NewMessage(TypeOffer, nil)
	if err := c.Send(msg); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}

	// Disconnect without a connection is a no-op.
	c.Disconnect()
	if c.Status() != StatusIdle {
		t.Fatalf("expected idle, got %s", c.Status())
	}
}

func TestDisconnectSendsNotice(t *testing.T) {
	relay := newRelayStub(t)
	c := NewClient()

	statuses := make(chan Status, 8)
	c.SetStatusHandler(func(s Status) { statuses <- s })

	if err := c.Connect(context.Background(), relay.url()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	waitStatus(t, statuses, StatusOnline)
	relay.expect(t, TypeParticipantConnected)

	msg, _ := NewMessage(TypeListeningStarted, nil)
	if err := c.Send(msg); err != nil {
		t.Fatalf("Send: %v", err)
	}

	c.Disconnect()
	relay.expect(t, TypeListeningStarted)
	relay.expect(t, TypeParticipantDisconnected)
	waitStatus(t, statuses, StatusIdle)

	if err := c.Send(msg); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected after disconnect, got %v", err)
	}
}

func TestTransportErrorGoesOffline(t *testing.T) {
	relay := newRelayStub(t)
	c := NewClient()

	statuses := make(chan Status, 8)
	errs := make(chan error, 1)
	c.SetStatusHandler(func(s Status) { statuses <- s })
	c.SetErrorHandler(func(err error) { errs <- err })

	if err := c.Connect(context.Background(), relay.url()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	waitStatus(t, statuses, StatusOnline)

	ws := relay.conn(t)
	ws.UnderlyingConn().Close()

	waitStatus(t, statuses, StatusOffline)
	select {
	case <-errs:
	case <-time.After(2 * time.Second):
		t.Fatalf("error handler not called")
	}
	waitStatus(t, statuses, StatusIdle)
}

func TestMessageHandlerReplacement(t *testing.T) {
	relay := newRelayStub(t)
	c := NewClient()

	first := make(chan *Message, 4)
	second := make(chan *Message, 4)
	c.SetMessageHandler(func(m *Message) { first <- m })

	if err := c.Connect(context.Background(), relay.url()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Disconnect()
	ws := relay.conn(t)

	if err := ws.WriteJSON(map[string]any{"type": TypeParticipantCount, "data": 3}); err != nil {
		t.Fatalf("write: %v", err)
	}

	var got *Message
	select {
	case got = <-first:
	case <-time.After(2 * time.Second):
		t.Fatalf("first handler not called")
	}
	var count int
	if err := got.Decode(&count); err != nil || count != 3 {
		t.Fatalf("Decode: %d, %v", count, err)
	}

	c.SetMessageHandler(func(m *Message) { second <- m })

	// A malformed frame is skipped without closing the channel.
	if err := ws.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := ws.WriteJSON(map[string]any{"type": TypeSpeakerConnected, "data": "abc"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case m := <-second:
		if m.Type != TypeSpeakerConnected {
			t.Fatalf("unexpected type %q", m.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("second handler not called")
	}
	if len(first) != 0 {
		t.Fatalf("replaced handler still receives messages")
	}
}
