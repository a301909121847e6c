package broadcast

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/richardkyk/radio/internal/latency"
	"github.com/richardkyk/radio/internal/media"
	"github.com/richardkyk/radio/internal/peer"
	"github.com/richardkyk/radio/internal/signaling"
)

type fakeTransport struct {
	mu      sync.Mutex
	sent    []string
	handler signaling.MessageHandler
}

func (f *fakeTransport) Send(msg *signaling.Message) error {
	f.mu.Lock()
	f.sent = append(f.sent, msg.Type)
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) SetMessageHandler(h signaling.MessageHandler) {
	f.mu.Lock()
	f.handler = h
	f.mu.Unlock()
}

func (f *fakeTransport) count(msgType string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, t := range f.sent {
		if t == msgType {
			n++
		}
	}
	return n
}

// deliver feeds msg through whatever handler is installed, like the read pump would.
func (f *fakeTransport) deliver(t *testing.T, msgType string, data any) {
	t.Helper()
	msg, err := signaling.NewMessage(msgType, data)
	if err != nil {
		t.Fatalf("encode %s: %v", msgType, err)
	}
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	if h != nil {
		h(msg)
	}
}

type fakeConn struct {
	mu         sync.Mutex
	candidates int
	failRemote error
}

func (c *fakeConn) AddTrack(webrtc.TrackLocal) error { return nil }

func (c *fakeConn) CreateOffer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer"}, nil
}

func (c *fakeConn) CreateAnswer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer"}, nil
}

func (c *fakeConn) SetLocalDescription(webrtc.SessionDescription) error { return nil }

func (c *fakeConn) SetRemoteDescription(webrtc.SessionDescription) error { return c.failRemote }

func (c *fakeConn) AddICECandidate(webrtc.ICECandidateInit) error {
	c.mu.Lock()
	c.candidates++
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Close() error { return nil }

func factoryFor(conn *fakeConn) peer.Factory {
	return func(func(peer.Event)) (peer.Connection, error) { return conn, nil }
}

type fakeCapture struct{}

func (fakeCapture) Tracks() []webrtc.TrackLocal      { return nil }
func (fakeCapture) Start(ctx context.Context) error { return nil }
func (fakeCapture) Close() error                    { return nil }

func TestListenerFollowsSpeakers(t *testing.T) {
	tr := &fakeTransport{}
	conn := &fakeConn{}
	router := media.NewRouter(media.RouterOptions{SelfMarker: "server"})
	defer router.Close()

	ctl := New(context.Background(), Options{
		Role:      peer.RoleListener,
		Transport: tr,
		Factory:   factoryFor(conn),
		Router:    router,
	})

	var counts []int
	ctl.OnParticipantCount(func(n int) { counts = append(counts, n) })

	tr.deliver(t, signaling.TypeSpeakerConnected, "s1")
	if got := ctl.Session().State(); got != peer.StateNegotiating {
		t.Fatalf("expected negotiating after speaker-connected, got %s", got)
	}
	if tr.count(signaling.TypeListeningStarted) != 1 {
		t.Fatalf("listening-started not sent: %v", tr.sent)
	}

	tr.deliver(t, signaling.TypeICE, webrtc.ICECandidateInit{Candidate: "candidate:1"})
	if got := ctl.Session().PendingCandidates(); got != 1 {
		t.Fatalf("expected candidate buffered, got %d", got)
	}

	tr.deliver(t, signaling.TypeOffer, webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer"})
	if got := ctl.Session().State(); got != peer.StateConnected {
		t.Fatalf("expected connected after offer, got %s", got)
	}
	if tr.count(signaling.TypeAnswer) != 1 || conn.candidates != 1 {
		t.Fatalf("answer=%d candidates=%d", tr.count(signaling.TypeAnswer), conn.candidates)
	}

	tr.deliver(t, signaling.TypeParticipantCount, 3)
	if ctl.ParticipantCount() != 3 || len(counts) != 1 || counts[0] != 3 {
		t.Fatalf("participant count not tracked: %d %v", ctl.ParticipantCount(), counts)
	}

	// A second speaker joining a live session does not restart it.
	tr.deliver(t, signaling.TypeSpeakerConnected, "s2")
	if tr.count(signaling.TypeListeningStarted) != 1 {
		t.Fatalf("session restarted while connected")
	}
	if got := ctl.Speakers(); len(got) != 2 || got[0] != "s1" || got[1] != "s2" {
		t.Fatalf("unexpected speakers %v", got)
	}

	tr.deliver(t, signaling.TypeSpeakerDisconnected, "s1")
	if !ctl.Session().Active() {
		t.Fatalf("stopped while a speaker remains")
	}

	tr.deliver(t, signaling.TypeSpeakerDisconnected, "s2")
	if ctl.Session().Active() {
		t.Fatalf("still active after the last speaker left")
	}
	if tr.count(signaling.TypeListeningStopped) != 1 {
		t.Fatalf("listening-stopped not sent: %v", tr.sent)
	}
}

func TestSpeakerIgnoresListenerTraffic(t *testing.T) {
	tr := &fakeTransport{}
	ctl := New(context.Background(), Options{
		Role:        peer.RoleSpeaker,
		Transport:   tr,
		Factory:     factoryFor(&fakeConn{}),
		OpenCapture: func() (media.Capture, error) { return fakeCapture{}, nil },
	})

	var reported []error
	ctl.OnError(func(err error) { reported = append(reported, err) })

	tr.deliver(t, signaling.TypeOffer, webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "x"})
	tr.deliver(t, signaling.TypeSpeakerConnected, "s1")
	if ctl.Session().Active() || len(reported) != 0 {
		t.Fatalf("speaker reacted to listener traffic: active=%v errs=%v", ctl.Session().Active(), reported)
	}

	if err := ctl.Toggle(); err != nil {
		t.Fatalf("Toggle: %v", err)
	}
	tr.deliver(t, signaling.TypeAnswer, webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer"})
	if got := ctl.Session().State(); got != peer.StateConnected {
		t.Fatalf("expected connected, got %s", got)
	}

	if err := ctl.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if tr.count(signaling.TypeBroadcastStopped) != 1 {
		t.Fatalf("broadcast-stopped not sent: %v", tr.sent)
	}
	if tr.handler != nil {
		t.Fatalf("handler still installed after Close")
	}
}

func TestNegotiationErrorReported(t *testing.T) {
	tr := &fakeTransport{}
	boom := errors.New("bad sdp")
	ctl := New(context.Background(), Options{
		Role:      peer.RoleListener,
		Transport: tr,
		Factory:   factoryFor(&fakeConn{failRemote: boom}),
	})

	var reported error
	ctl.OnError(func(err error) { reported = err })

	if err := ctl.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	tr.deliver(t, signaling.TypeOffer, webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer"})

	if !errors.Is(reported, peer.ErrNegotiation) || !errors.Is(reported, boom) {
		t.Fatalf("expected negotiation error wrapping cause, got %v", reported)
	}
	if ctl.Session().Active() {
		t.Fatalf("session not rolled back")
	}
}

func TestTimestampsReachDecoder(t *testing.T) {
	record := latency.NewRecord(5*time.Second, 16)
	ctl := New(context.Background(), Options{
		Role:      peer.RoleListener,
		Transport: &fakeTransport{},
		Factory:   factoryFor(&fakeConn{}),
		Decoder:   latency.NewDecoder(record, &latency.Stats{}),
	})

	ctl.Handle(mustMessage(t, signaling.TypeTimestamp, "90000:1700000000000"))
	ctl.Handle(mustMessage(t, signaling.TypeTimestamp, "garbage"))
	ctl.Handle(nil)

	if record.Len() != 1 {
		t.Fatalf("expected one recorded timestamp, got %d", record.Len())
	}
}

func mustMessage(t *testing.T, msgType string, data any) *signaling.Message {
	t.Helper()
	msg, err := signaling.NewMessage(msgType, data)
	if err != nil {
		t.Fatalf("encode %s: %v", msgType, err)
	}
	return msg
}
