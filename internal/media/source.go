package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
	"github.com/richardkyk/radio/internal/latency"
)

const (
	opusFrameDuration = 20 * time.Millisecond
	opusSampleRate    = 48000
)

// opusSilence is a single 20ms Opus frame of digital silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// Source produces samples for one local track.
type Source interface {
	Track() *webrtc.TrackLocalStaticSample
	// Run writes samples until ctx ends or the source is exhausted.
	Run(ctx context.Context) error
}

func newAudioTrack(streamID string) (*webrtc.TrackLocalStaticSample, error) {
	return webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: opusSampleRate, Channels: 2},
		"audio", streamID,
	)
}

func newVideoTrack(streamID string) (*webrtc.TrackLocalStaticSample, error) {
	return webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		"video", streamID,
	)
}

// SilenceSource sends Opus silence when no microphone file is configured.
type SilenceSource struct {
	track *webrtc.TrackLocalStaticSample
}

// NewSilenceSource creates an audio source on streamID.
func NewSilenceSource(streamID string) (*SilenceSource, error) {
	track, err := newAudioTrack(streamID)
	if err != nil {
		return nil, err
	}
	return &SilenceSource{track: track}, nil
}

func (s *SilenceSource) Track() *webrtc.TrackLocalStaticSample { return s.track }

func (s *SilenceSource) Run(ctx context.Context) error {
	ticker := time.NewTicker(opusFrameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.track.WriteSample(pionmedia.Sample{Data: opusSilence, Duration: opusFrameDuration}); err != nil {
				if errors.Is(err, io.ErrClosedPipe) {
					return nil
				}
				return err
			}
		}
	}
}

// OggSource streams Opus pages from an Ogg file, paced at 20ms per page.
type OggSource struct {
	path  string
	loop  bool
	track *webrtc.TrackLocalStaticSample
}

// NewOggSource creates an audio source reading path.
func NewOggSource(path, streamID string, loop bool) (*OggSource, error) {
	track, err := newAudioTrack(streamID)
	if err != nil {
		return nil, err
	}
	return &OggSource{path: path, loop: loop, track: track}, nil
}

func (s *OggSource) Track() *webrtc.TrackLocalStaticSample { return s.track }

func (s *OggSource) Run(ctx context.Context) error {
	for {
		if err := s.playOnce(ctx); err != nil {
			return err
		}
		if !s.loop || ctx.Err() != nil {
			return nil
		}
	}
}

func (s *OggSource) playOnce(ctx context.Context) error {
	file, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("open %s: %w", s.path, err)
	}
	defer file.Close()

	ogg, _, err := oggreader.NewWith(file)
	if err != nil {
		return fmt.Errorf("read %s: %w", s.path, err)
	}

	ticker := time.NewTicker(opusFrameDuration)
	defer ticker.Stop()

	var lastGranule uint64
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		page, header, err := ogg.ParseNextPage()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", s.path, err)
		}

		samples := header.GranulePosition - lastGranule
		lastGranule = header.GranulePosition
		duration := time.Duration(float64(samples)/opusSampleRate*1000) * time.Millisecond

		if err := s.track.WriteSample(pionmedia.Sample{Data: page, Duration: duration}); err != nil {
			if errors.Is(err, io.ErrClosedPipe) {
				return nil
			}
			return err
		}
	}
}

// IVFSource streams VP8 frames from an IVF file, stamping each one for latency measurement.
type IVFSource struct {
	path    string
	loop    bool
	track   *webrtc.TrackLocalStaticSample
	encoder *latency.Encoder
}

// NewIVFSource creates a video source reading path.
func NewIVFSource(path, streamID string, loop bool, encoder *latency.Encoder) (*IVFSource, error) {
	track, err := newVideoTrack(streamID)
	if err != nil {
		return nil, err
	}
	return &IVFSource{path: path, loop: loop, track: track, encoder: encoder}, nil
}

func (s *IVFSource) Track() *webrtc.TrackLocalStaticSample { return s.track }

func (s *IVFSource) Run(ctx context.Context) error {
	for {
		if err := s.playOnce(ctx); err != nil {
			return err
		}
		if !s.loop || ctx.Err() != nil {
			return nil
		}
	}
}

func (s *IVFSource) playOnce(ctx context.Context) error {
	file, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("open %s: %w", s.path, err)
	}
	defer file.Close()

	ivf, header, err := ivfreader.NewWith(file)
	if err != nil {
		return fmt.Errorf("read %s: %w", s.path, err)
	}

	frameDuration := 33 * time.Millisecond
	if header.TimebaseDenominator > 0 {
		if d := time.Duration(float64(header.TimebaseNumerator) / float64(header.TimebaseDenominator) * float64(time.Second)); d > 0 {
			frameDuration = d
		}
	}

	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		frame, _, err := ivf.ParseNextFrame()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", s.path, err)
		}

		data := frame
		if s.encoder != nil {
			data = s.encoder.Encode(frame)
		}
		if err := s.track.WriteSample(pionmedia.Sample{Data: data, Duration: frameDuration}); err != nil {
			if errors.Is(err, io.ErrClosedPipe) {
				return nil
			}
			return err
		}
	}
}
