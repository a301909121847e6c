package peer

import (
	"errors"

	"github.com/pion/interceptor"
	pionlog "github.com/pion/logging"
	"github.com/pion/transport/v3"
	"github.com/pion/webrtc/v4"
	"github.com/richardkyk/radio/internal/logging"
)

// Connection is the part of a peer connection a Session drives.
type Connection interface {
	AddTrack(track webrtc.TrackLocal) error
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(c webrtc.ICECandidateInit) error
	Close() error
}

// Factory creates a Connection that reports its events to observe.
type Factory func(observe func(Event)) (Connection, error)

// Options configures the pion API.
type Options struct {
	// Net replaces the host network, e.g. with a vnet in tests.
	Net transport.Net

	LoggerFactory pionlog.LoggerFactory
}

// NewAPI builds a pion API with the default codecs and interceptors.
func NewAPI(opts Options) (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, registry); err != nil {
		return nil, err
	}

	se := webrtc.SettingEngine{}
	if opts.Net != nil {
		se.SetNet(opts.Net)
	}
	if opts.LoggerFactory != nil {
		se.LoggerFactory = opts.LoggerFactory
	} else {
		se.LoggerFactory = logging.NewPionLoggerFactory()
	}

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(se),
	), nil
}

// NewFactory returns a Factory creating pion peer connections from api with no ICE
// servers, so only host candidates are trickled.
func NewFactory(api *webrtc.API) Factory {
	return func(observe func(Event)) (Connection, error) {
		if api == nil {
			return nil, errors.New("nil webrtc API")
		}

		pc, err := api.NewPeerConnection(webrtc.Configuration{})
		if err != nil {
			return nil, err
		}

		pc.OnICECandidate(func(c *webrtc.ICECandidate) {
			if c == nil {
				return
			}
			init := c.ToJSON()
			observe(Event{Kind: EventICECandidateGenerated, Candidate: &init})
		})

		pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
			observe(Event{Kind: EventTrackReceived, Track: track})
		})

		pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
			switch state {
			case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
				observe(Event{Kind: EventConnectionClosed, Reason: state.String()})
			}
		})

		return &pionConnection{pc: pc}, nil
	}
}

type pionConnection struct {
	pc *webrtc.PeerConnection
}

func (c *pionConnection) AddTrack(track webrtc.TrackLocal) error {
	sender, err := c.pc.AddTrack(track)
	if err != nil {
		return err
	}

	// RTCP has to be read for the interceptors to run.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

func (c *pionConnection) CreateOffer() (webrtc.SessionDescription, error) {
	return c.pc.CreateOffer(nil)
}

func (c *pionConnection) CreateAnswer() (webrtc.SessionDescription, error) {
	return c.pc.CreateAnswer(nil)
}

func (c *pionConnection) SetLocalDescription(desc webrtc.SessionDescription) error {
	return c.pc.SetLocalDescription(desc)
}

func (c *pionConnection) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(desc)
}

func (c *pionConnection) AddICECandidate(cand webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(cand)
}

func (c *pionConnection) Close() error {
	return c.pc.Close()
}
