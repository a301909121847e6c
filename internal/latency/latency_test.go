package latency

import (
	"bytes"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

func TestStampExtract(t *testing.T) {
	frame := []byte{0x9d, 0x01, 0x2a, 0x42}
	sent := time.UnixMilli(1_700_000_000_123)

	stamped := Stamp(frame, sent)
	if len(stamped) != HeaderSize+len(frame) {
		t.Fatalf("unexpected length %d", len(stamped))
	}
	if !bytes.Equal(stamped[:4], Marker) {
		t.Fatalf("marker missing: %x", stamped[:4])
	}

	got, rest, ok := Extract(stamped)
	if !ok || !got.Equal(sent) || !bytes.Equal(rest, frame) {
		t.Fatalf("Extract: %v %x %v", got, rest, ok)
	}

	if _, rest, ok := Extract(frame); ok || !bytes.Equal(rest, frame) {
		t.Fatalf("unstamped frame should pass through")
	}
}

func TestRecordEviction(t *testing.T) {
	now := time.Unix(1000, 0)
	r := NewRecord(5*time.Second, 3)
	r.now = func() time.Time { return now }

	r.Put(1, now)
	now = now.Add(2 * time.Second)
	r.Put(2, now)
	r.Put(3, now)
	r.Put(4, now) // over capacity, 1 goes first

	if _, ok := r.Match(1); ok {
		t.Fatalf("oldest entry should be evicted by capacity")
	}
	if r.Len() != 3 {
		t.Fatalf("expected 3 entries, got %d", r.Len())
	}

	if _, ok := r.Match(2); !ok {
		t.Fatalf("entry 2 should match")
	}
	if _, ok := r.Match(2); ok {
		t.Fatalf("matched entry must be evicted")
	}

	now = now.Add(6 * time.Second)
	if n := r.Sweep(); n != 2 {
		t.Fatalf("expected 2 expired, got %d", n)
	}
	if r.Len() != 0 {
		t.Fatalf("expected empty record, got %d", r.Len())
	}
}

func vp8Packet(ts uint32, start, marker bool, body []byte) *rtp.Packet {
	desc := byte(0x00)
	if start {
		desc = 0x10
	}
	return &rtp.Packet{
		Header:  rtp.Header{Version: 2, Timestamp: ts, Marker: marker},
		Payload: append([]byte{desc}, body...),
	}
}

func TestDecoderRoundTrip(t *testing.T) {
	stats := &Stats{}
	d := NewDecoder(NewRecord(5*time.Second, 16), stats)

	var samples []time.Duration
	d.OnLatency(func(l time.Duration) { samples = append(samples, l) })

	frame := []byte{0x10, 0x02, 0x00, 0x9d, 0x01, 0x2a, 0xaa, 0xbb}
	stamped := NewEncoder().Encode(frame)

	first := vp8Packet(9000, true, false, stamped[:HeaderSize+4])
	second := vp8Packet(9000, false, true, stamped[HeaderSize+4:])

	d.Process(webrtc.MimeTypeVP8, first)
	if !bytes.Equal(first.Payload, append([]byte{0x10}, frame[:4]...)) {
		t.Fatalf("stamp not stripped: %x", first.Payload)
	}
	if len(samples) != 0 {
		t.Fatalf("latency published before frame end")
	}

	d.Process(webrtc.MimeTypeVP8, second)
	if len(samples) != 1 || samples[0] < 0 {
		t.Fatalf("expected one non-negative sample, got %v", samples)
	}
	if s := stats.Snapshot(); s.Count != 1 || s.Last != samples[0] {
		t.Fatalf("stats not updated: %+v", s)
	}

	// A frame with no matching entry reports nothing.
	d.Process(webrtc.MimeTypeVP8, vp8Packet(12000, true, true, frame))
	if len(samples) != 1 {
		t.Fatalf("unmatched frame produced a sample")
	}
}

func TestDecoderSkipsGarbage(t *testing.T) {
	d := NewDecoder(NewRecord(time.Second, 4), &Stats{})

	pkt := &rtp.Packet{Header: rtp.Header{Marker: true}, Payload: nil}
	d.Process(webrtc.MimeTypeVP8, pkt)
	d.Process(webrtc.MimeTypeVP8, nil)

	if d.Stats().Snapshot().Count != 0 {
		t.Fatalf("garbage produced samples")
	}
}

func TestObserveMessage(t *testing.T) {
	d := NewDecoder(NewRecord(5*time.Second, 16), &Stats{})

	sent := time.Now().Add(-40 * time.Millisecond)
	if err := d.ObserveMessage("4242:" + strconv.FormatInt(sent.UnixMilli(), 10)); err != nil {
		t.Fatalf("ObserveMessage: %v", err)
	}

	d.Process(webrtc.MimeTypeVP8, vp8Packet(4242, true, true, []byte{0x01}))
	s := d.Stats().Snapshot()
	if s.Count != 1 || s.Last < 40*time.Millisecond {
		t.Fatalf("unexpected stats %+v", s)
	}

	for _, bad := range []string{"", "12", "x:1", "1:y"} {
		if err := d.ObserveMessage(bad); !errors.Is(err, ErrBadTimestamp) {
			t.Fatalf("%q: expected ErrBadTimestamp, got %v", bad, err)
		}
	}
}
