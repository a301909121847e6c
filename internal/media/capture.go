package media

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/richardkyk/radio/internal/latency"
	"github.com/richardkyk/radio/internal/logging"
	"github.com/rs/zerolog"
)

// Capture is the speaker's local media.
type Capture interface {
	Tracks() []webrtc.TrackLocal
	// Start begins pumping samples into the tracks.
	Start(ctx context.Context) error
	Close() error
}

// CaptureOptions selects the speaker's sources. An empty AudioFile sends silence and an
// empty VideoFile sends no video.
type CaptureOptions struct {
	StreamID  string
	AudioFile string
	VideoFile string
	Loop      bool
	Encoder   *latency.Encoder
}

// FileCapture drives a set of file-backed sources.
type FileCapture struct {
	sources []Source
	log     zerolog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	closed  bool
}

// OpenCapture validates the configured files and builds their sources.
func OpenCapture(opts CaptureOptions) (*FileCapture, error) {
	if _, err := ValidateSources(
		SourceSpec{Path: opts.AudioFile, Allowed: []string{"ogg", "opus"}},
		SourceSpec{Path: opts.VideoFile, Allowed: []string{"ivf"}},
	); err != nil {
		return nil, err
	}

	c := &FileCapture{log: logging.Module("capture")}

	if opts.AudioFile != "" {
		src, err := NewOggSource(opts.AudioFile, opts.StreamID, opts.Loop)
		if err != nil {
			return nil, fmt.Errorf("audio track: %w", err)
		}
		c.sources = append(c.sources, src)
	} else {
		src, err := NewSilenceSource(opts.StreamID)
		if err != nil {
			return nil, fmt.Errorf("audio track: %w", err)
		}
		c.sources = append(c.sources, src)
	}

	if opts.VideoFile != "" {
		encoder := opts.Encoder
		if encoder == nil {
			encoder = latency.NewEncoder()
		}
		src, err := NewIVFSource(opts.VideoFile, opts.StreamID, opts.Loop, encoder)
		if err != nil {
			return nil, fmt.Errorf("video track: %w", err)
		}
		c.sources = append(c.sources, src)
	}

	return c, nil
}

// NewCapture wraps already built sources.
func NewCapture(sources ...Source) *FileCapture {
	return &FileCapture{sources: sources, log: logging.Module("capture")}
}

func (c *FileCapture) Tracks() []webrtc.TrackLocal {
	tracks := make([]webrtc.TrackLocal, 0, len(c.sources))
	for _, src := range c.sources {
		tracks = append(tracks, src.Track())
	}
	return tracks
}

func (c *FileCapture) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errors.New("capture closed")
	}
	if c.started {
		return nil
	}
	c.started = true

	ctx, c.cancel = context.WithCancel(ctx)
	for _, src := range c.sources {
		c.wg.Add(1)
		go func(src Source) {
			defer c.wg.Done()
			if err := src.Run(ctx); err != nil {
				c.log.Error().Err(err).Str("track", src.Track().ID()).Msg("source stopped")
			}
		}(src)
	}
	return nil
}

func (c *FileCapture) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
	return nil
}
