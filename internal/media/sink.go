package media

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
)

// Sink plays or stores the packets of one merged stream.
type Sink interface {
	WriteRTP(pkt *rtp.Packet) error
	Close() error
}

// rtpWriter is what the pion disk writers share.
type rtpWriter interface {
	WriteRTP(pkt *rtp.Packet) error
	Close() error
}

// fileSink opens its writer on the first packet so an idle session leaves no file behind.
type fileSink struct {
	mu     sync.Mutex
	open   func() (rtpWriter, error)
	writer rtpWriter
	closed bool
}

func (s *fileSink) WriteRTP(pkt *rtp.Packet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errSinkClosed
	}
	if s.writer == nil {
		w, err := s.open()
		if err != nil {
			return err
		}
		s.writer = w
	}
	return s.writer.WriteRTP(pkt)
}

func (s *fileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.writer == nil {
		return nil
	}
	return s.writer.Close()
}

var errSinkClosed = errors.New("sink closed")

// NewOggSink writes Opus packets to an Ogg file at path.
func NewOggSink(path string) Sink {
	return &fileSink{open: func() (rtpWriter, error) {
		return oggwriter.New(path, 48000, 2)
	}}
}

// NewIVFSink writes VP8 packets to an IVF file at path.
func NewIVFSink(path string) Sink {
	return &fileSink{open: func() (rtpWriter, error) {
		return ivfwriter.New(path, ivfwriter.WithCodec(webrtc.MimeTypeVP8))
	}}
}

// DiscardSink counts packets and drops them.
type DiscardSink struct {
	packets atomic.Uint64
	bytes   atomic.Uint64
}

func (d *DiscardSink) WriteRTP(pkt *rtp.Packet) error {
	d.packets.Add(1)
	d.bytes.Add(uint64(len(pkt.Payload)))
	return nil
}

func (d *DiscardSink) Close() error { return nil }

// Packets returns the number of packets received.
func (d *DiscardSink) Packets() uint64 { return d.packets.Load() }

// Bytes returns the payload bytes received.
func (d *DiscardSink) Bytes() uint64 { return d.bytes.Load() }
