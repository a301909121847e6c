package media

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/richardkyk/radio/internal/latency"
	"github.com/richardkyk/radio/internal/logging"
	"github.com/rs/zerolog"
)

// Track kinds.
const (
	KindAudio = "audio"
	KindVideo = "video"
)

// RemoteTrack is the receiving side of a media track. *webrtc.TrackRemote satisfies it.
type RemoteTrack interface {
	ID() string
	StreamID() string
	Kind() webrtc.RTPCodecType
	Codec() webrtc.RTPCodecParameters
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

type deadliner interface {
	SetReadDeadline(time.Time) error
}

// StreamID is a parsed "kind:speaker:listener" stream identifier.
// Kind and Listener are optional.
type StreamID struct {
	Kind     string
	Speaker  string
	Listener string
}

// ParseStreamID splits a stream identifier into its parts.
func ParseStreamID(id string) StreamID {
	parts := strings.Split(id, ":")

	var sid StreamID
	if len(parts) > 1 && (parts[0] == KindAudio || parts[0] == KindVideo) {
		sid.Kind = parts[0]
		parts = parts[1:]
	}
	sid.Speaker = parts[0]
	if len(parts) > 1 {
		sid.Listener = strings.Join(parts[1:], ":")
	}
	return sid
}

func (s StreamID) String() string {
	parts := make([]string, 0, 3)
	if s.Kind != "" {
		parts = append(parts, s.Kind)
	}
	parts = append(parts, s.Speaker)
	if s.Listener != "" {
		parts = append(parts, s.Listener)
	}
	return strings.Join(parts, ":")
}

// TrackInfo is a snapshot of one routed track.
type TrackInfo struct {
	ID       string
	StreamID string
	Kind     string
	Speaker  string
	Codec    string
	Packets  uint64
}

// RouterOptions configures a Router. Nil sinks drop media.
type RouterOptions struct {
	// SelfMarker marks streams the relay reflects back to their sender
	SelfMarker string

	// ParticipantID is the local participant; streams naming it as speaker are loopback
	ParticipantID string

	AudioSink Sink
	VideoSink Sink

	// Decoder, when set, sees every video packet before the sink
	Decoder *latency.Decoder
}

// MergedStream groups every routed track of one kind in front of a single sink.
type MergedStream struct {
	kind     string
	sink     Sink
	attached bool
	tracks   map[string]*routedTrack
}

type routedTrack struct {
	key     string
	info    TrackInfo
	track   RemoteTrack
	stream  *MergedStream
	stopped atomic.Bool
	packets atomic.Uint64
}

// Router merges inbound tracks into per-kind streams and drops loopback.
type Router struct {
	selfMarker    string
	participantID string
	decoder       *latency.Decoder
	log           zerolog.Logger

	mu       sync.Mutex
	streams  map[string]*MergedStream
	tracks   map[string]*routedTrack
	onAttach func(kind string)
	onChange func()
	wg       sync.WaitGroup
}

// NewRouter creates a router with empty streams.
func NewRouter(opts RouterOptions) *Router {
	return &Router{
		selfMarker:    opts.SelfMarker,
		participantID: opts.ParticipantID,
		decoder:       opts.Decoder,
		log:           logging.Module("router"),
		streams: map[string]*MergedStream{
			KindAudio: {kind: KindAudio, sink: opts.AudioSink, tracks: map[string]*routedTrack{}},
			KindVideo: {kind: KindVideo, sink: opts.VideoSink, tracks: map[string]*routedTrack{}},
		},
		tracks: map[string]*routedTrack{},
	}
}

// OnAttach is called when a stream gets its first track and playback starts.
func (r *Router) OnAttach(f func(kind string)) {
	r.mu.Lock()
	r.onAttach = f
	r.mu.Unlock()
}

// OnChange is called whenever the routed track set changes.
func (r *Router) OnChange(f func()) {
	r.mu.Lock()
	r.onChange = f
	r.mu.Unlock()
}

// IsSelf reports whether streamID is the local participant's own reflected stream.
func (r *Router) IsSelf(streamID string) bool {
	if r.selfMarker != "" && strings.Contains(streamID, r.selfMarker) {
		return true
	}
	return r.participantID != "" && ParseStreamID(streamID).Speaker == r.participantID
}

// OnRemoteTrack routes a newly received track. It returns false when the track is
// loopback, of an unknown kind, or already routed.
func (r *Router) OnRemoteTrack(track RemoteTrack) bool {
	streamID := track.StreamID()
	if r.IsSelf(streamID) {
		r.log.Debug().Str("stream", streamID).Msg("ignoring self-origin stream")
		return false
	}

	kind := track.Kind().String()
	sid := ParseStreamID(streamID)
	rt := &routedTrack{
		key:   streamID + "/" + track.ID(),
		track: track,
		info: TrackInfo{
			ID:       track.ID(),
			StreamID: streamID,
			Kind:     kind,
			Speaker:  sid.Speaker,
			Codec:    track.Codec().MimeType,
		},
	}

	r.mu.Lock()
	stream, ok := r.streams[kind]
	if !ok {
		r.mu.Unlock()
		r.log.Warn().Str("kind", kind).Msg("ignoring track of unknown kind")
		return false
	}
	if _, dup := r.tracks[rt.key]; dup {
		r.mu.Unlock()
		return false
	}
	rt.stream = stream
	stream.tracks[rt.key] = rt
	r.tracks[rt.key] = rt
	first := !stream.attached
	stream.attached = true
	onAttach, onChange := r.onAttach, r.onChange
	r.wg.Add(1)
	r.mu.Unlock()

	r.log.Info().Str("kind", kind).Str("speaker", sid.Speaker).Str("track", track.ID()).Msg("track added")
	if first {
		r.log.Info().Str("kind", kind).Msg("playback started")
		if onAttach != nil {
			onAttach(kind)
		}
	}
	if onChange != nil {
		onChange()
	}

	go r.pump(rt)
	return true
}

// pump copies packets from one track to its stream's sink until the track ends or is stopped.
func (r *Router) pump(rt *routedTrack) {
	defer r.wg.Done()
	defer r.detach(rt)

	mimeType := rt.info.Codec
	for {
		pkt, _, err := rt.track.ReadRTP()
		if err != nil {
			if !rt.stopped.Load() {
				r.log.Debug().Err(err).Str("track", rt.info.ID).Msg("track ended")
			}
			return
		}
		if rt.stopped.Load() {
			return
		}

		if rt.info.Kind == KindVideo && r.decoder != nil {
			r.decoder.Process(mimeType, pkt)
		}
		rt.packets.Add(1)

		if sink := rt.stream.sink; sink != nil {
			if err := sink.WriteRTP(pkt); err != nil {
				r.log.Debug().Err(err).Str("track", rt.info.ID).Msg("sink write failed")
			}
		}
	}
}

// detach removes rt if it is still routed. A newer track under the same key is left alone.
func (r *Router) detach(rt *routedTrack) {
	r.mu.Lock()
	if cur, ok := r.tracks[rt.key]; !ok || cur != rt {
		r.mu.Unlock()
		return
	}
	r.removeLocked(rt)
	onChange := r.onChange
	r.mu.Unlock()

	if onChange != nil {
		onChange()
	}
}

func (r *Router) removeLocked(rt *routedTrack) {
	delete(r.tracks, rt.key)
	delete(rt.stream.tracks, rt.key)
	if len(rt.stream.tracks) == 0 {
		rt.stream.attached = false
	}
}

func stopTrack(rt *routedTrack) {
	rt.stopped.Store(true)
	if d, ok := rt.track.(deadliner); ok {
		_ = d.SetReadDeadline(time.Now())
	}
}

// RemoveSpeaker stops and detaches the tracks of one speaker and returns how many were removed.
// Other speakers keep flowing.
func (r *Router) RemoveSpeaker(id string) int {
	return r.removeWhere(func(rt *routedTrack) bool { return rt.info.Speaker == id })
}

// Reset stops every track and detaches both sinks.
func (r *Router) Reset() {
	r.removeWhere(func(*routedTrack) bool { return true })
}

func (r *Router) removeWhere(match func(*routedTrack) bool) int {
	r.mu.Lock()
	var removed []*routedTrack
	for _, rt := range r.tracks {
		if match(rt) {
			removed = append(removed, rt)
		}
	}
	for _, rt := range removed {
		r.removeLocked(rt)
	}
	onChange := r.onChange
	r.mu.Unlock()

	for _, rt := range removed {
		stopTrack(rt)
	}
	if len(removed) > 0 {
		r.log.Info().Int("tracks", len(removed)).Msg("tracks removed")
		if onChange != nil {
			onChange()
		}
	}
	return len(removed)
}

// Wait blocks until every pump has exited.
func (r *Router) Wait() {
	r.wg.Wait()
}

// Close resets the router and closes both sinks.
func (r *Router) Close() error {
	r.Reset()

	var firstErr error
	for _, stream := range r.streams {
		if stream.sink == nil {
			continue
		}
		if err := stream.sink.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Attached reports whether the stream of kind is currently playing.
func (r *Router) Attached(kind string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	stream, ok := r.streams[kind]
	return ok && stream.attached
}

// Tracks returns a snapshot of routed tracks ordered by kind, speaker and id.
func (r *Router) Tracks() []TrackInfo {
	r.mu.Lock()
	infos := make([]TrackInfo, 0, len(r.tracks))
	for _, rt := range r.tracks {
		info := rt.info
		info.Packets = rt.packets.Load()
		infos = append(infos, info)
	}
	r.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Kind != infos[j].Kind {
			return infos[i].Kind < infos[j].Kind
		}
		if infos[i].Speaker != infos[j].Speaker {
			return infos[i].Speaker < infos[j].Speaker
		}
		return infos[i].ID < infos[j].ID
	})
	return infos
}

// Speakers returns the distinct speaker ids with routed tracks.
func (r *Router) Speakers() []string {
	r.mu.Lock()
	seen := map[string]struct{}{}
	for _, rt := range r.tracks {
		seen[rt.info.Speaker] = struct{}{}
	}
	r.mu.Unlock()

	speakers := make([]string, 0, len(seen))
	for id := range seen {
		speakers = append(speakers, id)
	}
	sort.Strings(speakers)
	return speakers
}
