// Package broadcast binds a peer session to the signaling transport for one role.
package broadcast

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/richardkyk/radio/internal/latency"
	"github.com/richardkyk/radio/internal/logging"
	"github.com/richardkyk/radio/internal/media"
	"github.com/richardkyk/radio/internal/peer"
	"github.com/richardkyk/radio/internal/signaling"
	"github.com/rs/zerolog"
)

// ErrConnectionLost is reported when the peer connection fails under a live session.
var ErrConnectionLost = errors.New("peer connection lost")

// Transport is the signaling channel a Controller drives. *signaling.Client satisfies it.
type Transport interface {
	peer.Signaler
	SetMessageHandler(h signaling.MessageHandler)
}

// Options configures a Controller.
type Options struct {
	Role      peer.Role
	Transport Transport
	Factory   peer.Factory

	// Listener side.
	Router  *media.Router
	Decoder *latency.Decoder

	// Speaker side.
	OpenCapture func() (media.Capture, error)
}

// Controller routes relay messages into a Session and exposes the role's toggle.
type Controller struct {
	ctx       context.Context
	role      peer.Role
	transport Transport
	session   *peer.Session
	router    *media.Router
	decoder   *latency.Decoder
	log       zerolog.Logger

	mu       sync.Mutex
	count    int
	speakers map[string]struct{}
	onCount  func(int)
	onError  func(error)
}

// New creates a Controller and installs it as the transport's message handler.
// ctx bounds sessions started by inbound messages.
func New(ctx context.Context, opts Options) *Controller {
	c := &Controller{
		ctx:       ctx,
		role:      opts.Role,
		transport: opts.Transport,
		router:    opts.Router,
		decoder:   opts.Decoder,
		speakers:  make(map[string]struct{}),
		log:       logging.Module("broadcast").With().Str("role", string(opts.Role)).Logger(),
	}
	c.session = peer.NewSession(peer.SessionOptions{
		Role:        opts.Role,
		Signaler:    opts.Transport,
		Factory:     opts.Factory,
		Router:      opts.Router,
		OpenCapture: opts.OpenCapture,
	})
	c.session.OnConnectionClosed(c.connectionClosed)

	if opts.Transport != nil {
		opts.Transport.SetMessageHandler(c.Handle)
	}
	return c
}

// Session returns the underlying peer session.
func (c *Controller) Session() *peer.Session { return c.session }

// Role returns the controller's role.
func (c *Controller) Role() peer.Role { return c.role }

// OnParticipantCount installs a callback for relay participant counts.
func (c *Controller) OnParticipantCount(f func(int)) {
	c.mu.Lock()
	c.onCount = f
	c.mu.Unlock()
}

// OnError installs a callback for failures the user should see.
func (c *Controller) OnError(f func(error)) {
	c.mu.Lock()
	c.onError = f
	c.mu.Unlock()
}

// ParticipantCount returns the last count pushed by the relay.
func (c *Controller) ParticipantCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// Speakers returns the ids of speakers the relay has announced, sorted.
func (c *Controller) Speakers() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.speakers))
	for id := range c.speakers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (c *Controller) Start() error { return c.session.Start(c.ctx) }

func (c *Controller) Stop() error { return c.session.Stop() }

// Toggle starts or stops broadcasting or listening.
func (c *Controller) Toggle() error { return c.session.Toggle(c.ctx) }

// Close stops the session and detaches from the transport.
func (c *Controller) Close() error {
	if c.transport != nil {
		c.transport.SetMessageHandler(nil)
	}
	return c.session.Stop()
}

// Handle dispatches one inbound relay message. It runs on the transport's read goroutine.
func (c *Controller) Handle(msg *signaling.Message) {
	if msg == nil {
		return
	}

	switch msg.Type {
	case signaling.TypeOffer:
		if c.role != peer.RoleListener {
			c.ignore(msg)
			return
		}
		var offer webrtc.SessionDescription
		if err := msg.Decode(&offer); err != nil {
			c.log.Warn().Err(err).Msg("malformed offer")
			return
		}
		c.report(c.session.AcceptOffer(offer))

	case signaling.TypeAnswer:
		if c.role != peer.RoleSpeaker {
			c.ignore(msg)
			return
		}
		var answer webrtc.SessionDescription
		if err := msg.Decode(&answer); err != nil {
			c.log.Warn().Err(err).Msg("malformed answer")
			return
		}
		c.report(c.session.AcceptAnswer(answer))

	case signaling.TypeICE:
		var cand webrtc.ICECandidateInit
		if err := msg.Decode(&cand); err != nil {
			c.log.Warn().Err(err).Msg("malformed candidate")
			return
		}
		c.report(c.session.AddICECandidate(cand))

	case signaling.TypeSpeakerConnected:
		if c.role != peer.RoleListener {
			c.ignore(msg)
			return
		}
		c.speakerConnected(msg)

	case signaling.TypeSpeakerDisconnected:
		if c.role != peer.RoleListener {
			c.ignore(msg)
			return
		}
		c.speakerDisconnected(msg)

	case signaling.TypeParticipantCount:
		var n int
		if err := msg.Decode(&n); err != nil {
			c.log.Debug().Err(err).Msg("malformed participant count")
			return
		}
		c.mu.Lock()
		c.count = n
		f := c.onCount
		c.mu.Unlock()
		if f != nil {
			f(n)
		}

	case signaling.TypeTimestamp:
		if c.decoder == nil {
			return
		}
		var pair string
		if err := msg.Decode(&pair); err != nil {
			return
		}
		if err := c.decoder.ObserveMessage(pair); err != nil {
			c.log.Debug().Err(err).Msg("timestamp skipped")
		}

	default:
		c.ignore(msg)
	}
}

func (c *Controller) speakerConnected(msg *signaling.Message) {
	var id string
	_ = msg.Decode(&id)
	if id != "" {
		c.mu.Lock()
		c.speakers[id] = struct{}{}
		c.mu.Unlock()
	}
	c.log.Info().Str("speaker", id).Msg("speaker connected")

	if c.session.AnswerReceived() {
		return
	}
	c.report(c.session.Start(c.ctx))
}

// speakerDisconnected drops that speaker's tracks and stops listening once no speaker
// is left.
func (c *Controller) speakerDisconnected(msg *signaling.Message) {
	var id string
	_ = msg.Decode(&id)
	c.log.Info().Str("speaker", id).Msg("speaker disconnected")

	c.mu.Lock()
	delete(c.speakers, id)
	remaining := len(c.speakers)
	c.mu.Unlock()

	if c.router != nil && id != "" {
		c.router.RemoveSpeaker(id)
	}
	if id != "" && remaining > 0 {
		return
	}
	if id != "" && c.router != nil && len(c.router.Speakers()) > 0 {
		return
	}
	c.report(c.session.Stop())
}

func (c *Controller) connectionClosed(reason string) {
	c.log.Warn().Str("reason", reason).Msg("stopping after connection loss")
	c.report(c.session.Stop())
	c.report(ErrConnectionLost)
}

func (c *Controller) ignore(msg *signaling.Message) {
	switch msg.Type {
	case signaling.TypeParticipantConnected, signaling.TypeParticipantDisconnected,
		signaling.TypeBroadcastStarted, signaling.TypeBroadcastStopped,
		signaling.TypeListeningStarted, signaling.TypeListeningStopped:
	default:
		c.log.Debug().Str("type", msg.Type).Msg("message ignored")
	}
}

func (c *Controller) report(err error) {
	if err == nil {
		return
	}
	c.log.Error().Err(err).Msg("broadcast error")

	c.mu.Lock()
	f := c.onError
	c.mu.Unlock()
	if f != nil {
		f(err)
	}
}
