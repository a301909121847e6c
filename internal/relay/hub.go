package relay

import (
	"context"
	"errors"
	"sort"

	"github.com/pion/webrtc/v4"
	"github.com/richardkyk/radio/internal/config"
	"github.com/richardkyk/radio/internal/logging"
	"github.com/richardkyk/radio/internal/peer"
	"github.com/richardkyk/radio/internal/signaling"
	"github.com/rs/zerolog"
)

// ErrHubClosed is returned by hub calls made after Run has returned.
var ErrHubClosed = errors.New("relay hub closed")

type inbound struct {
	client *Client
	msg    *signaling.Message
}

// Hub owns every topic, client and relay peer connection. All of that state is touched
// only from the Run goroutine; pion callbacks hand work back to it through events.
type Hub struct {
	api *webrtc.API
	log zerolog.Logger

	topics map[string]*Topic

	register   chan *Client
	unregister chan *Client
	inbound    chan inbound
	events     chan func()
	done       chan struct{}
}

// NewHub creates a hub whose relay peers are built from api.
func NewHub(api *webrtc.API) *Hub {
	return &Hub{
		api:        api,
		log:        logging.Module("relay"),
		topics:     make(map[string]*Topic),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan inbound, 64),
		events:     make(chan func(), 64),
		done:       make(chan struct{}),
	}
}

// Run processes registrations, messages and peer events until ctx ends.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	defer h.shutdown()

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			t := h.topic(c.Topic)
			t.clients[c] = struct{}{}
			c.log.Info().Int("participants", len(t.clients)).Msg("client joined")
			h.broadcastCount(t)
			if c.Role == peer.RoleListener {
				h.announceSpeakers(t, c)
			}

		case c := <-h.unregister:
			h.removeClient(c)

		case in := <-h.inbound:
			h.handle(in)

		case f := <-h.events:
			f()
		}
	}
}

// Topics returns a snapshot of the active topics, sorted by code.
func (h *Hub) Topics(ctx context.Context) ([]TopicInfo, error) {
	reply := make(chan []TopicInfo, 1)
	if !h.post(func() {
		infos := make([]TopicInfo, 0, len(h.topics))
		for _, t := range h.topics {
			infos = append(infos, t.info())
		}
		sort.Slice(infos, func(i, j int) bool { return infos[i].Topic < infos[j].Topic })
		reply <- infos
	}) {
		return nil, ErrHubClosed
	}

	select {
	case infos := <-reply:
		return infos, nil
	case <-h.done:
		return nil, ErrHubClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *Hub) join(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) dispatch(in inbound) bool {
	select {
	case h.inbound <- in:
		return true
	case <-h.done:
		return false
	}
}

// post schedules f on the hub goroutine.
func (h *Hub) post(f func()) bool {
	select {
	case h.events <- f:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) topic(code string) *Topic {
	t, ok := h.topics[code]
	if !ok {
		t = newTopic(code)
		h.topics[code] = t
		h.log.Info().Str("topic", code).Str("language", config.LanguageName(code)).Msg("topic opened")
	}
	return t
}

func (h *Hub) removeClient(c *Client) {
	t, ok := h.topics[c.Topic]
	if !ok {
		return
	}
	if _, member := t.clients[c]; !member {
		return
	}

	switch c.Role {
	case peer.RoleSpeaker:
		h.stopSpeaker(t, c)
	case peer.RoleListener:
		h.stopListener(t, c)
	}
	delete(t.clients, c)
	c.close()
	c.log.Info().Int("participants", len(t.clients)).Msg("client left")

	if len(t.clients) == 0 {
		delete(h.topics, t.Code)
		h.log.Info().Str("topic", t.Code).Msg("topic closed")
		return
	}
	h.broadcastCount(t)
}

func (h *Hub) shutdown() {
	for _, t := range h.topics {
		for c := range t.clients {
			switch c.Role {
			case peer.RoleSpeaker:
				h.stopSpeaker(t, c)
			case peer.RoleListener:
				h.stopListener(t, c)
			}
			c.close()
		}
	}
	h.topics = make(map[string]*Topic)
}

func (h *Hub) handle(in inbound) {
	c, msg := in.client, in.msg
	t, ok := h.topics[c.Topic]
	if !ok {
		return
	}
	if _, member := t.clients[c]; !member {
		return
	}

	switch c.Role {
	case peer.RoleSpeaker:
		switch msg.Type {
		case signaling.TypeBroadcastStarted:
			h.startSpeaker(t, c)
		case signaling.TypeOffer:
			var offer webrtc.SessionDescription
			if err := msg.Decode(&offer); err != nil {
				c.log.Warn().Err(err).Msg("bad offer")
				return
			}
			h.speakerOffer(t, c, offer)
		case signaling.TypeICE:
			if sp := t.speakers[c]; sp != nil {
				h.remoteCandidate(c, msg, sp.addCandidate)
			}
		case signaling.TypeBroadcastStopped:
			h.stopSpeaker(t, c)
		default:
			h.ignore(c, msg)
		}

	case peer.RoleListener:
		switch msg.Type {
		case signaling.TypeListeningStarted:
			h.startListener(t, c)
		case signaling.TypeAnswer:
			var answer webrtc.SessionDescription
			if err := msg.Decode(&answer); err != nil {
				c.log.Warn().Err(err).Msg("bad answer")
				return
			}
			h.listenerAnswer(t, c, answer)
		case signaling.TypeICE:
			if lp := t.listeners[c]; lp != nil {
				h.remoteCandidate(c, msg, lp.addCandidate)
			}
		case signaling.TypeListeningStopped:
			h.stopListener(t, c)
		default:
			h.ignore(c, msg)
		}
	}
}

func (h *Hub) ignore(c *Client, msg *signaling.Message) {
	switch msg.Type {
	case signaling.TypeParticipantConnected, signaling.TypeParticipantDisconnected:
		// Presence is tracked by the socket itself.
	default:
		c.log.Debug().Str("type", msg.Type).Msg("unexpected message ignored")
	}
}

func (h *Hub) remoteCandidate(c *Client, msg *signaling.Message, add func(webrtc.ICECandidateInit)) {
	var cand webrtc.ICECandidateInit
	if err := msg.Decode(&cand); err != nil {
		c.log.Debug().Err(err).Msg("bad candidate")
		return
	}
	add(cand)
}

func (h *Hub) broadcastCount(t *Topic) {
	n := len(t.clients)
	for c := range t.clients {
		c.deliver(signaling.TypeParticipantCount, n)
	}
}

// notifyListeners sends msgType with data to every listener socket in t.
func (h *Hub) notifyListeners(t *Topic, msgType string, data any) {
	for c := range t.clients {
		if c.Role == peer.RoleListener {
			c.deliver(msgType, data)
		}
	}
}

func (h *Hub) newPeerConnection(c *Client) (*webrtc.PeerConnection, error) {
	pc, err := h.api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return nil, err
	}

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		c.deliver(signaling.TypeICE, cand.ToJSON())
	})
	return pc, nil
}

// drainRTCP reads sender RTCP so the interceptors keep running.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}
