package media

import (
	"bytes"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/richardkyk/radio/internal/latency"
)

type fakeTrack struct {
	id       string
	streamID string
	kind     webrtc.RTPCodecType
	mimeType string
	packets  chan *rtp.Packet
	once     sync.Once
	done     chan struct{}
}

func newFakeTrack(id, streamID string, kind webrtc.RTPCodecType) *fakeTrack {
	mimeType := webrtc.MimeTypeOpus
	if kind == webrtc.RTPCodecTypeVideo {
		mimeType = webrtc.MimeTypeVP8
	}
	return &fakeTrack{
		id:       id,
		streamID: streamID,
		kind:     kind,
		mimeType: mimeType,
		packets:  make(chan *rtp.Packet, 16),
		done:     make(chan struct{}),
	}
}

func (f *fakeTrack) ID() string                { return f.id }
func (f *fakeTrack) StreamID() string          { return f.streamID }
func (f *fakeTrack) Kind() webrtc.RTPCodecType { return f.kind }
func (f *fakeTrack) Codec() webrtc.RTPCodecParameters {
	return webrtc.RTPCodecParameters{RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: f.mimeType}}
}

func (f *fakeTrack) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	select {
	case pkt := <-f.packets:
		return pkt, nil, nil
	case <-f.done:
		return nil, nil, io.EOF
	}
}

func (f *fakeTrack) SetReadDeadline(time.Time) error {
	f.once.Do(func() { close(f.done) })
	return nil
}

func (f *fakeTrack) stopped() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestParseStreamID(t *testing.T) {
	tests := []struct {
		in   string
		want StreamID
	}{
		{"audio:spk:lst", StreamID{Kind: "audio", Speaker: "spk", Listener: "lst"}},
		{"video:spk", StreamID{Kind: "video", Speaker: "spk"}},
		{"spk:lst", StreamID{Speaker: "spk", Listener: "lst"}},
		{"spk", StreamID{Speaker: "spk"}},
		{"audio", StreamID{Speaker: "audio"}},
	}
	for _, tt := range tests {
		if got := ParseStreamID(tt.in); got != tt.want {
			t.Fatalf("ParseStreamID(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestRouterFiltersLoopback(t *testing.T) {
	sink := &DiscardSink{}
	r := NewRouter(RouterOptions{SelfMarker: "server", ParticipantID: "me", AudioSink: sink})
	defer r.Close()

	if r.OnRemoteTrack(newFakeTrack("a", "audio:server:me", webrtc.RTPCodecTypeAudio)) {
		t.Fatalf("stream carrying the self marker must be ignored")
	}
	if r.OnRemoteTrack(newFakeTrack("a", "audio:me", webrtc.RTPCodecTypeAudio)) {
		t.Fatalf("stream naming the local participant must be ignored")
	}
	if len(r.Tracks()) != 0 || r.Attached(KindAudio) {
		t.Fatalf("loopback reached the merged stream")
	}
}

func TestRouterAttachesOnFirstArrival(t *testing.T) {
	audio := &DiscardSink{}
	r := NewRouter(RouterOptions{AudioSink: audio})
	defer r.Close()

	var mu sync.Mutex
	attached := map[string]int{}
	r.OnAttach(func(kind string) {
		mu.Lock()
		attached[kind]++
		mu.Unlock()
	})

	a1 := newFakeTrack("a1", "audio:alice", webrtc.RTPCodecTypeAudio)
	a2 := newFakeTrack("a2", "audio:bob", webrtc.RTPCodecTypeAudio)
	if !r.OnRemoteTrack(a1) || !r.OnRemoteTrack(a2) {
		t.Fatalf("tracks rejected")
	}
	if r.OnRemoteTrack(a1) {
		t.Fatalf("duplicate track accepted")
	}

	mu.Lock()
	if attached[KindAudio] != 1 {
		t.Fatalf("expected one audio attach, got %d", attached[KindAudio])
	}
	mu.Unlock()

	a1.packets <- &rtp.Packet{Payload: []byte{1}}
	a2.packets <- &rtp.Packet{Payload: []byte{2}}
	eventually(t, "packets at sink", func() bool { return audio.Packets() == 2 })

	if got := r.Speakers(); len(got) != 2 || got[0] != "alice" || got[1] != "bob" {
		t.Fatalf("unexpected speakers %v", got)
	}
}

func TestRouterRemoveSpeaker(t *testing.T) {
	audio := &DiscardSink{}
	r := NewRouter(RouterOptions{AudioSink: audio})
	defer r.Close()

	alice := newFakeTrack("a1", "audio:alice", webrtc.RTPCodecTypeAudio)
	bob := newFakeTrack("a2", "audio:bob", webrtc.RTPCodecTypeAudio)
	r.OnRemoteTrack(alice)
	r.OnRemoteTrack(bob)

	if n := r.RemoveSpeaker("alice"); n != 1 {
		t.Fatalf("expected 1 removed, got %d", n)
	}
	if !alice.stopped() {
		t.Fatalf("removed track was not stopped")
	}
	if bob.stopped() {
		t.Fatalf("unrelated track was stopped")
	}

	bob.packets <- &rtp.Packet{Payload: []byte{2}}
	eventually(t, "bob still flowing", func() bool { return audio.Packets() == 1 })

	tracks := r.Tracks()
	if len(tracks) != 1 || tracks[0].Speaker != "bob" || tracks[0].Packets != 1 {
		t.Fatalf("unexpected tracks %+v", tracks)
	}
	if !r.Attached(KindAudio) {
		t.Fatalf("audio detached while bob is still routed")
	}

	r.Reset()
	if !bob.stopped() || r.Attached(KindAudio) || len(r.Tracks()) != 0 {
		t.Fatalf("reset left tracks behind")
	}
	r.Wait()
}

func TestRouterStalePumpKeepsReaddedTrack(t *testing.T) {
	r := NewRouter(RouterOptions{AudioSink: &DiscardSink{}})
	defer r.Close()

	old := newFakeTrack("audio", "audio:s1:l1", webrtc.RTPCodecTypeAudio)
	r.OnRemoteTrack(old)
	r.mu.Lock()
	stale := r.tracks["audio:s1:l1/audio"]
	r.mu.Unlock()
	if stale == nil {
		t.Fatalf("track not routed")
	}

	r.Reset()
	fresh := newFakeTrack("audio", "audio:s1:l1", webrtc.RTPCodecTypeAudio)
	if !r.OnRemoteTrack(fresh) {
		t.Fatalf("re-added track rejected")
	}

	// The old pump exiting late must not take the new track with it.
	r.detach(stale)
	if len(r.Tracks()) != 1 || !r.Attached(KindAudio) {
		t.Fatalf("stale detach removed the new track: tracks=%d attached=%v", len(r.Tracks()), r.Attached(KindAudio))
	}

	if n := r.RemoveSpeaker("s1"); n != 1 {
		t.Fatalf("expected the new track removed, got %d", n)
	}
	if !fresh.stopped() {
		t.Fatalf("new track was not stopped")
	}
	r.Wait()
}

func TestRouterVideoThroughDecoder(t *testing.T) {
	video := &recordingSink{}
	stats := &latency.Stats{}
	r := NewRouter(RouterOptions{
		VideoSink: video,
		Decoder:   latency.NewDecoder(latency.NewRecord(5*time.Second, 16), stats),
	})
	defer r.Close()

	track := newFakeTrack("v1", "video:alice", webrtc.RTPCodecTypeVideo)
	r.OnRemoteTrack(track)

	frame := []byte{0x10, 0x02, 0x00, 0x9d, 0x01, 0x2a}
	payload := append([]byte{0x10}, latency.Stamp(frame, time.Now())...)
	track.packets <- &rtp.Packet{Header: rtp.Header{Timestamp: 3000, Marker: true}, Payload: payload}

	eventually(t, "video at sink", func() bool { return video.count() == 1 })
	if got := video.first(); !bytes.Equal(got, append([]byte{0x10}, frame...)) {
		t.Fatalf("sink saw stamped payload %x", got)
	}
	if stats.Snapshot().Count != 1 {
		t.Fatalf("latency sample not recorded")
	}
}

type recordingSink struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (s *recordingSink) WriteRTP(pkt *rtp.Packet) error {
	s.mu.Lock()
	s.payloads = append(s.payloads, append([]byte(nil), pkt.Payload...))
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) Close() error { return nil }

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.payloads)
}

func (s *recordingSink) first() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.payloads[0]
}
