package relay

import (
	"errors"
	"io"
	"strconv"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/richardkyk/radio/internal/latency"
	"github.com/richardkyk/radio/internal/media"
	"github.com/richardkyk/radio/internal/signaling"
	"github.com/rs/zerolog"
)

// feed is one remote track published by a speaker, fanned out to listener tracks.
type feed struct {
	key     string
	speaker *Client
	kind    string
	remote  *webrtc.TrackRemote
	log     zerolog.Logger

	mu   sync.RWMutex
	subs map[*Client]*webrtc.TrackLocalStaticRTP
}

func newFeed(speaker *Client, remote *webrtc.TrackRemote) *feed {
	kind := remote.Kind().String()
	return &feed{
		key:     speaker.ID + "/" + remote.StreamID() + "/" + remote.ID(),
		speaker: speaker,
		kind:    kind,
		remote:  remote,
		log:     speaker.log.With().Str("kind", kind).Logger(),
		subs:    make(map[*Client]*webrtc.TrackLocalStaticRTP),
	}
}

// localTrack creates the track listener sees for this feed.
func (f *feed) localTrack(listener *Client) (*webrtc.TrackLocalStaticRTP, error) {
	sid := media.StreamID{Kind: f.kind, Speaker: f.speaker.ID, Listener: listener.ID}
	return webrtc.NewTrackLocalStaticRTP(f.remote.Codec().RTPCodecCapability, f.kind, sid.String())
}

func (f *feed) subscribe(c *Client, track *webrtc.TrackLocalStaticRTP) {
	f.mu.Lock()
	f.subs[c] = track
	f.mu.Unlock()
}

func (f *feed) unsubscribe(c *Client) {
	f.mu.Lock()
	delete(f.subs, c)
	f.mu.Unlock()
}

// run forwards packets until the remote track ends. Stamped video frames lose their stamp
// here and the send time goes to subscribers as a timestamp message instead.
func (f *feed) run(done func()) {
	defer done()

	mimeType := f.remote.Codec().MimeType
	for {
		pkt, _, err := f.remote.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				f.log.Debug().Err(err).Msg("feed ended")
			}
			return
		}

		var stamp *signaling.Message
		if f.kind == media.KindVideo {
			if sent, ok := latency.Strip(mimeType, pkt); ok {
				stamp, _ = signaling.NewMessage(signaling.TypeTimestamp,
					strconv.FormatUint(uint64(pkt.Timestamp), 10)+":"+strconv.FormatInt(sent.UnixMilli(), 10))
			}
		}

		f.mu.RLock()
		for c, track := range f.subs {
			if stamp != nil {
				c.Deliver(stamp)
			}
			if err := track.WriteRTP(pkt); err != nil && !errors.Is(err, io.ErrClosedPipe) {
				f.log.Debug().Err(err).Str("listener", c.ID).Msg("forward failed")
			}
		}
		f.mu.RUnlock()
	}
}
