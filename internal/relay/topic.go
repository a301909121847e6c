package relay

import (
	"github.com/pion/webrtc/v4"
	"github.com/richardkyk/radio/internal/config"
	"github.com/richardkyk/radio/internal/ice"
)

// Topic is one language room.
type Topic struct {
	Code string

	clients   map[*Client]struct{}
	speakers  map[*Client]*speakerPeer
	listeners map[*Client]*listenerPeer
	feeds     map[string]*feed
}

// TopicInfo is a snapshot of a topic for the /topics endpoint.
type TopicInfo struct {
	Topic        string `json:"topic"`
	Language     string `json:"language"`
	Participants int    `json:"participants"`
	Speakers     int    `json:"speakers"`
	Listeners    int    `json:"listeners"`
	Feeds        int    `json:"feeds"`
}

func newTopic(code string) *Topic {
	return &Topic{
		Code:      code,
		clients:   make(map[*Client]struct{}),
		speakers:  make(map[*Client]*speakerPeer),
		listeners: make(map[*Client]*listenerPeer),
		feeds:     make(map[string]*feed),
	}
}

func (t *Topic) info() TopicInfo {
	return TopicInfo{
		Topic:        t.Code,
		Language:     config.LanguageName(t.Code),
		Participants: len(t.clients),
		Speakers:     len(t.speakers),
		Listeners:    len(t.listeners),
		Feeds:        len(t.feeds),
	}
}

// relayPeer is the relay's end of one client's peer connection.
type relayPeer struct {
	client    *Client
	pc        *webrtc.PeerConnection
	pending   ice.Buffer
	remoteSet bool

	// addICE applies one candidate; nil uses pc.AddICECandidate.
	addICE func(webrtc.ICECandidateInit) error
}

func (p *relayPeer) applyCandidate(c webrtc.ICECandidateInit) error {
	if p.addICE != nil {
		return p.addICE(c)
	}
	return p.pc.AddICECandidate(c)
}

// addCandidate applies c, or buffers it until the remote description is known.
func (p *relayPeer) addCandidate(c webrtc.ICECandidateInit) {
	if !p.remoteSet {
		p.pending.Push(c)
		return
	}
	if err := p.applyCandidate(c); err != nil {
		p.client.log.Debug().Err(err).Msg("add candidate")
	}
}

func (p *relayPeer) setRemote(desc webrtc.SessionDescription) error {
	if err := p.pc.SetRemoteDescription(desc); err != nil {
		return err
	}
	p.remoteSet = true

	n, err := p.pending.Flush(p.applyCandidate)
	if err != nil {
		p.client.log.Debug().Err(err).Int("applied", n).Msg("flush candidates")
	}
	return nil
}

func (p *relayPeer) close() {
	if err := p.pc.Close(); err != nil {
		p.client.log.Debug().Err(err).Msg("close peer connection")
	}
	p.pending.Reset()
}
