package relay

import (
	"github.com/pion/webrtc/v4"
	"github.com/richardkyk/radio/internal/media"
	"github.com/richardkyk/radio/internal/signaling"
)

// SelfSpeaker names the placeholder stream every listener receives from the relay itself.
const SelfSpeaker = "server"

type listenerPeer struct {
	relayPeer

	senders map[*feed]*webrtc.RTPSender

	// offering is set while an offer awaits its answer; dirty asks for another round
	// once it lands.
	offering bool
	dirty    bool
}

// startListener offers the listener the placeholder track plus every current feed.
func (h *Hub) startListener(t *Topic, c *Client) {
	if _, ok := t.listeners[c]; ok {
		return
	}

	pc, err := h.newPeerConnection(c)
	if err != nil {
		c.log.Error().Err(err).Msg("create listener peer connection")
		return
	}
	lp := &listenerPeer{
		relayPeer: relayPeer{client: c, pc: pc},
		senders:   make(map[*feed]*webrtc.RTPSender),
	}

	sid := media.StreamID{Kind: media.KindAudio, Speaker: SelfSpeaker, Listener: c.ID}
	placeholder, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		media.KindAudio, sid.String())
	if err == nil {
		var sender *webrtc.RTPSender
		if sender, err = pc.AddTrack(placeholder); err == nil {
			go drainRTCP(sender)
		}
	}
	if err != nil {
		c.log.Error().Err(err).Msg("add placeholder track")
		lp.close()
		return
	}

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		c.log.Debug().Stringer("state", state).Msg("listener connection")
		if state == webrtc.PeerConnectionStateFailed {
			h.post(func() {
				if t.listeners[c] == lp {
					h.stopListener(t, c)
				}
			})
		}
	})

	t.listeners[c] = lp
	c.log.Info().Int("feeds", len(t.feeds)).Msg("listening started")

	for _, f := range t.feeds {
		h.subscribe(lp, f)
	}
	h.offer(t, lp)
}

// stopListener closes the listener's relay end.
func (h *Hub) stopListener(t *Topic, c *Client) {
	lp, ok := t.listeners[c]
	if !ok {
		return
	}
	delete(t.listeners, c)

	for f := range lp.senders {
		f.unsubscribe(c)
	}
	lp.close()
	c.log.Info().Msg("listening stopped")
}

// listenerAnswer completes the outstanding offer and starts the next round if feeds
// changed meanwhile.
func (h *Hub) listenerAnswer(t *Topic, c *Client, answer webrtc.SessionDescription) {
	lp, ok := t.listeners[c]
	if !ok {
		return
	}
	if !lp.offering {
		c.log.Debug().Msg("answer without an offer, ignored")
		return
	}

	lp.offering = false
	if err := lp.setRemote(answer); err != nil {
		c.log.Warn().Err(err).Msg("set listener answer")
		h.stopListener(t, c)
		return
	}

	if lp.dirty {
		lp.dirty = false
		h.offer(t, lp)
	}
}

// offer sends a fresh offer, or marks lp for one if an offer is already outstanding.
func (h *Hub) offer(t *Topic, lp *listenerPeer) {
	if lp.offering {
		lp.dirty = true
		return
	}

	c := lp.client
	offer, err := lp.pc.CreateOffer(nil)
	if err != nil {
		c.log.Warn().Err(err).Msg("create listener offer")
		h.stopListener(t, c)
		return
	}
	if err := lp.pc.SetLocalDescription(offer); err != nil {
		c.log.Warn().Err(err).Msg("set listener offer")
		h.stopListener(t, c)
		return
	}

	lp.offering = true
	c.deliver(signaling.TypeOffer, offer)
}

// subscribe adds a track for f to lp. It reports whether lp needs renegotiating.
func (h *Hub) subscribe(lp *listenerPeer, f *feed) bool {
	if _, ok := lp.senders[f]; ok {
		return false
	}

	c := lp.client
	track, err := f.localTrack(c)
	if err != nil {
		c.log.Warn().Err(err).Msg("create feed track")
		return false
	}
	sender, err := lp.pc.AddTrack(track)
	if err != nil {
		c.log.Warn().Err(err).Msg("add feed track")
		return false
	}
	go drainRTCP(sender)

	lp.senders[f] = sender
	f.subscribe(c, track)
	return true
}

// unsubscribe removes f's track from lp. It reports whether lp needs renegotiating.
func (h *Hub) unsubscribe(lp *listenerPeer, f *feed) bool {
	sender, ok := lp.senders[f]
	if !ok {
		return false
	}
	delete(lp.senders, f)
	f.unsubscribe(lp.client)

	if err := lp.pc.RemoveTrack(sender); err != nil {
		lp.client.log.Debug().Err(err).Msg("remove feed track")
	}
	return true
}
