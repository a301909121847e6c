package relay

import (
	"sort"

	"github.com/pion/webrtc/v4"
	"github.com/richardkyk/radio/internal/signaling"
)

type speakerPeer struct {
	relayPeer
	announced bool
}

// startSpeaker prepares the relay end for a speaker. It is a no-op if one exists.
func (h *Hub) startSpeaker(t *Topic, c *Client) *speakerPeer {
	if sp, ok := t.speakers[c]; ok {
		return sp
	}

	pc, err := h.newPeerConnection(c)
	if err != nil {
		c.log.Error().Err(err).Msg("create speaker peer connection")
		return nil
	}
	sp := &speakerPeer{relayPeer: relayPeer{client: c, pc: pc}}

	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		h.post(func() { h.addFeed(t, sp, remote) })
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		c.log.Debug().Stringer("state", state).Msg("speaker connection")
		if state == webrtc.PeerConnectionStateFailed {
			h.post(func() {
				if t.speakers[c] == sp {
					h.stopSpeaker(t, c)
				}
			})
		}
	})

	t.speakers[c] = sp
	c.log.Info().Msg("broadcast started")
	return sp
}

// speakerOffer answers a speaker's offer and announces the speaker to listeners.
func (h *Hub) speakerOffer(t *Topic, c *Client, offer webrtc.SessionDescription) {
	sp := h.startSpeaker(t, c)
	if sp == nil {
		return
	}

	if err := sp.setRemote(offer); err != nil {
		c.log.Warn().Err(err).Msg("set speaker offer")
		h.stopSpeaker(t, c)
		return
	}
	answer, err := sp.pc.CreateAnswer(nil)
	if err != nil {
		c.log.Warn().Err(err).Msg("create speaker answer")
		h.stopSpeaker(t, c)
		return
	}
	if err := sp.pc.SetLocalDescription(answer); err != nil {
		c.log.Warn().Err(err).Msg("set speaker answer")
		h.stopSpeaker(t, c)
		return
	}
	c.deliver(signaling.TypeAnswer, answer)

	if !sp.announced {
		sp.announced = true
		h.notifyListeners(t, signaling.TypeSpeakerConnected, c.ID)
	}
}

// announceSpeakers tells a joining listener about every speaker already live in t.
func (h *Hub) announceSpeakers(t *Topic, listener *Client) {
	ids := make([]string, 0, len(t.speakers))
	for c, sp := range t.speakers {
		if sp.announced {
			ids = append(ids, c.ID)
		}
	}
	sort.Strings(ids)
	for _, id := range ids {
		listener.deliver(signaling.TypeSpeakerConnected, id)
	}
}

// stopSpeaker closes the speaker's relay end and withdraws its feeds.
func (h *Hub) stopSpeaker(t *Topic, c *Client) {
	sp, ok := t.speakers[c]
	if !ok {
		return
	}
	delete(t.speakers, c)

	for _, f := range t.feeds {
		if f.speaker == c {
			h.removeFeed(t, f)
		}
	}
	sp.close()
	c.log.Info().Msg("broadcast stopped")

	if sp.announced {
		h.notifyListeners(t, signaling.TypeSpeakerDisconnected, c.ID)
	}
}

// addFeed publishes a speaker track to every listener of the topic.
func (h *Hub) addFeed(t *Topic, sp *speakerPeer, remote *webrtc.TrackRemote) {
	if t.speakers[sp.client] != sp {
		return
	}

	f := newFeed(sp.client, remote)
	if _, dup := t.feeds[f.key]; dup {
		return
	}
	t.feeds[f.key] = f
	f.log.Info().Str("codec", remote.Codec().MimeType).Msg("feed added")

	for _, lp := range t.listeners {
		if h.subscribe(lp, f) {
			h.offer(t, lp)
		}
	}

	go f.run(func() {
		h.post(func() { h.removeFeed(t, f) })
	})
}

// removeFeed detaches f from every listener and renegotiates them.
func (h *Hub) removeFeed(t *Topic, f *feed) {
	if t.feeds[f.key] != f {
		return
	}
	delete(t.feeds, f.key)
	f.log.Info().Msg("feed removed")

	for _, lp := range t.listeners {
		if h.unsubscribe(lp, f) {
			h.offer(t, lp)
		}
	}
}
