package latency

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v4"
	"github.com/richardkyk/radio/internal/logging"
	"github.com/rs/zerolog"
)

// ErrBadTimestamp is returned for relay timestamp messages that do not parse.
var ErrBadTimestamp = errors.New("malformed timestamp message")

// Decoder recovers stamps from inbound video RTP and publishes display latency when the
// stamped frame completes.
type Decoder struct {
	record *Record
	stats  *Stats
	now    func() time.Time
	log    zerolog.Logger

	mu        sync.Mutex
	onLatency func(time.Duration)
}

// NewDecoder creates a decoder feeding stats from record.
func NewDecoder(record *Record, stats *Stats) *Decoder {
	return &Decoder{
		record: record,
		stats:  stats,
		now:    time.Now,
		log:    logging.Module("latency"),
	}
}

// OnLatency installs a callback for each published sample.
func (d *Decoder) OnLatency(f func(time.Duration)) {
	d.mu.Lock()
	d.onLatency = f
	d.mu.Unlock()
}

// Stats returns the accumulated samples.
func (d *Decoder) Stats() *Stats { return d.stats }

// Process inspects one packet of a track using mimeType. A stamp at the start of a frame
// is recorded under the packet's RTP timestamp and stripped from pkt.Payload. When the
// packet ends a frame the matching entry, if any, yields a latency sample.
// Packets that fail to parse pass through untouched.
func (d *Decoder) Process(mimeType string, pkt *rtp.Packet) {
	if pkt == nil {
		return
	}

	if sent, ok := Strip(mimeType, pkt); ok {
		d.record.Put(pkt.Timestamp, sent)
	}

	if !pkt.Marker {
		return
	}

	sent, ok := d.record.Match(pkt.Timestamp)
	if !ok {
		return
	}
	d.publish(d.now().Sub(sent))
}

// Observe records a send time reported out of band by the relay.
func (d *Decoder) Observe(rtpTS uint32, sendMs int64) {
	d.record.Put(rtpTS, time.UnixMilli(sendMs))
}

// ObserveMessage parses a relay "rtpTs:sendTs" pair and records it.
func (d *Decoder) ObserveMessage(s string) error {
	rtpTS, sendMs, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	d.Observe(rtpTS, sendMs)
	return nil
}

// Reset drops pending entries and samples.
func (d *Decoder) Reset() {
	d.record.Reset()
	d.stats.Reset()
}

func (d *Decoder) publish(latency time.Duration) {
	// Clock skew between hosts can make this negative.
	if latency < 0 {
		latency = 0
	}
	d.stats.Add(latency)
	d.log.Debug().Dur("latency", latency).Msg("frame displayed")

	d.mu.Lock()
	f := d.onLatency
	d.mu.Unlock()
	if f != nil {
		f(latency)
	}
}

// ParseTimestamp splits "rtpTs:sendTs".
func ParseTimestamp(s string) (uint32, int64, error) {
	rtpPart, sendPart, ok := strings.Cut(s, ":")
	if !ok {
		return 0, 0, fmt.Errorf("%w: %q", ErrBadTimestamp, s)
	}
	rtpTS, err := strconv.ParseUint(strings.TrimSpace(rtpPart), 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrBadTimestamp, err)
	}
	sendMs, err := strconv.ParseInt(strings.TrimSpace(sendPart), 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrBadTimestamp, err)
	}
	return uint32(rtpTS), sendMs, nil
}

// Strip removes the stamp from a packet that opens a stamped frame and returns the send
// time it carried. Other packets are left untouched.
func Strip(mimeType string, pkt *rtp.Packet) (time.Time, bool) {
	descLen, ok := frameStart(mimeType, pkt.Payload)
	if !ok {
		return time.Time{}, false
	}
	sent, frame, stamped := Extract(pkt.Payload[descLen:])
	if !stamped {
		return time.Time{}, false
	}

	payload := make([]byte, 0, descLen+len(frame))
	payload = append(payload, pkt.Payload[:descLen]...)
	pkt.Payload = append(payload, frame...)
	return sent, true
}

// frameStart returns the payload descriptor length when the payload opens a new frame.
func frameStart(mimeType string, payload []byte) (int, bool) {
	if !strings.EqualFold(mimeType, webrtc.MimeTypeVP8) {
		return 0, len(payload) > 0
	}

	var vp8 codecs.VP8Packet
	frame, err := vp8.Unmarshal(payload)
	if err != nil || vp8.S != 1 || vp8.PID != 0 {
		return 0, false
	}
	return len(payload) - len(frame), true
}
