// Package latency embeds send times into outgoing video frames and recovers them on
// receipt to measure one-way display latency.
package latency

import (
	"bytes"
	"encoding/binary"
	"time"
)

// Marker opens every stamped frame.
var Marker = []byte{0xDE, 0xAD, 0xBE, 0xEF}

// HeaderSize is the marker plus the 8-byte big-endian send time in milliseconds.
const HeaderSize = 12

// Stamp returns a new frame carrying the marker and send time ahead of frame.
func Stamp(frame []byte, sent time.Time) []byte {
	out := make([]byte, HeaderSize+len(frame))
	copy(out, Marker)
	binary.BigEndian.PutUint64(out[4:HeaderSize], uint64(sent.UnixMilli()))
	copy(out[HeaderSize:], frame)
	return out
}

// Extract reports whether payload starts with a stamp and, if so, returns the send time
// and the original frame bytes.
func Extract(payload []byte) (time.Time, []byte, bool) {
	if len(payload) < HeaderSize || !bytes.Equal(payload[:4], Marker) {
		return time.Time{}, payload, false
	}
	ms := int64(binary.BigEndian.Uint64(payload[4:HeaderSize]))
	return time.UnixMilli(ms), payload[HeaderSize:], true
}

// Encoder stamps frames in send order with the current time.
type Encoder struct {
	now func() time.Time
}

// NewEncoder returns an encoder reading the wall clock.
func NewEncoder() *Encoder {
	return &Encoder{now: time.Now}
}

// Encode stamps frame. The input slice is left untouched.
func (e *Encoder) Encode(frame []byte) []byte {
	return Stamp(frame, e.now())
}
