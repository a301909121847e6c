package peer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
	"github.com/richardkyk/radio/internal/ice"
	"github.com/richardkyk/radio/internal/logging"
	"github.com/richardkyk/radio/internal/media"
	"github.com/richardkyk/radio/internal/signaling"
	"github.com/rs/zerolog"
)

// Signaler carries messages to the relay. *signaling.Client satisfies it.
type Signaler interface {
	Send(msg *signaling.Message) error
}

// SessionOptions configures a Session.
type SessionOptions struct {
	Role     Role
	Signaler Signaler
	Factory  Factory

	// Router receives remote tracks. Nil ignores them.
	Router *media.Router

	// OpenCapture provides the speaker's local media on every Start.
	OpenCapture func() (media.Capture, error)
}

// Session runs one role's peer connection through Idle, Negotiating and Connected.
// Every operation is serialised; events from a closed connection are dropped.
type Session struct {
	role        Role
	signaler    Signaler
	factory     Factory
	router      *media.Router
	openCapture func() (media.Capture, error)
	log         zerolog.Logger

	mu             sync.Mutex
	state          State
	conn           Connection
	capture        media.Capture
	answerReceived bool
	announced      bool
	pending        ice.Buffer

	generation atomic.Uint64
	current    atomic.Int32

	obsMu    sync.Mutex
	onState  func(State)
	onClosed func(reason string)
}

// NewSession creates an idle session.
func NewSession(opts SessionOptions) *Session {
	return &Session{
		role:        opts.Role,
		signaler:    opts.Signaler,
		factory:     opts.Factory,
		router:      opts.Router,
		openCapture: opts.OpenCapture,
		log:         logging.Module("peer").With().Str("role", string(opts.Role)).Logger(),
	}
}

// OnStateChange installs an observer for state transitions. It runs with the session
// locked and must not call back into the session.
func (s *Session) OnStateChange(f func(State)) {
	s.obsMu.Lock()
	s.onState = f
	s.obsMu.Unlock()
}

// OnConnectionClosed installs an observer for connections that fail or close underneath
// an active session.
func (s *Session) OnConnectionClosed(f func(reason string)) {
	s.obsMu.Lock()
	s.onClosed = f
	s.obsMu.Unlock()
}

func (s *Session) Role() Role { return s.role }

// State returns the current state without waiting for a running operation.
func (s *Session) State() State { return State(s.current.Load()) }

// Active reports whether a session exists.
func (s *Session) Active() bool { return s.State() != StateIdle }

// AnswerReceived reports whether the description exchange has completed.
func (s *Session) AnswerReceived() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.answerReceived
}

// PendingCandidates returns the number of buffered remote candidates.
func (s *Session) PendingCandidates() int {
	return s.pending.Len()
}

// Start opens a session. It is a no-op unless the session is idle. For speakers ctx
// bounds the capture.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked(ctx)
}

// Stop tears the session down. It is a no-op when idle and safe mid-negotiation.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateIdle {
		return nil
	}
	s.teardownLocked()
	return nil
}

// Toggle stops an active session or starts an idle one.
func (s *Session) Toggle(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateIdle {
		s.teardownLocked()
		return nil
	}
	return s.startLocked(ctx)
}

// AcceptOffer answers a remote offer. Listener only; a no-op without a session.
// A new offer on a connected session renegotiates it.
func (s *Session) AcceptOffer(offer webrtc.SessionDescription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.role != RoleListener {
		return newError(OpAcceptOffer, s.role, ErrWrongRole, nil, "")
	}
	if s.state == StateIdle || s.conn == nil {
		s.log.Debug().Msg("offer without a session, ignored")
		return nil
	}

	if err := s.conn.SetRemoteDescription(offer); err != nil {
		return s.failLocked(OpAcceptOffer, ErrNegotiation, err, "set remote description")
	}

	answer, err := s.conn.CreateAnswer()
	if err != nil {
		return s.failLocked(OpAcceptOffer, ErrNegotiation, err, "create answer")
	}
	if err := s.conn.SetLocalDescription(answer); err != nil {
		return s.failLocked(OpAcceptOffer, ErrNegotiation, err, "set local description")
	}

	s.answerReceived = true
	s.send(signaling.TypeAnswer, answer)

	if err := s.flushLocked(OpAcceptOffer); err != nil {
		return err
	}
	s.setState(StateConnected)
	return nil
}

// AcceptAnswer applies the remote answer. Speaker only; a no-op without a session.
// Answers after the first are ignored.
func (s *Session) AcceptAnswer(answer webrtc.SessionDescription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.role != RoleSpeaker {
		return newError(OpAcceptAnswer, s.role, ErrWrongRole, nil, "")
	}
	if s.state == StateIdle || s.conn == nil {
		s.log.Debug().Msg("answer without a session, ignored")
		return nil
	}
	if s.answerReceived {
		s.log.Debug().Msg("duplicate answer ignored")
		return nil
	}

	if err := s.conn.SetRemoteDescription(answer); err != nil {
		return s.failLocked(OpAcceptAnswer, ErrNegotiation, err, "set remote description")
	}
	s.answerReceived = true

	if err := s.flushLocked(OpAcceptAnswer); err != nil {
		return err
	}
	s.setState(StateConnected)
	return nil
}

// AddICECandidate applies a remote candidate, buffering it until the description
// exchange completes. A no-op without a session.
func (s *Session) AddICECandidate(c webrtc.ICECandidateInit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateIdle || s.conn == nil {
		return nil
	}
	if !s.answerReceived {
		s.pending.Push(c)
		s.log.Debug().Int("pending", s.pending.Len()).Msg("candidate buffered")
		return nil
	}

	if err := s.conn.AddICECandidate(c); err != nil {
		return s.failLocked(OpAddCandidate, ErrCandidate, err, c.Candidate)
	}
	return nil
}

func (s *Session) startLocked(ctx context.Context) error {
	if s.state != StateIdle {
		return nil
	}

	gen := s.generation.Add(1)
	s.setState(StateNegotiating)
	s.announced = true
	s.send(s.startedNotice(), nil)

	conn, err := s.factory(s.dispatcher(gen))
	if err != nil {
		return s.failLocked(OpStart, ErrNegotiation, err, "create peer connection")
	}
	s.conn = conn

	if s.role != RoleSpeaker {
		s.log.Info().Msg("waiting for offer")
		return nil
	}

	if s.openCapture == nil {
		return s.failLocked(OpStart, ErrCapture, errors.New("no capture configured"), "")
	}
	capture, err := s.openCapture()
	if err != nil {
		return s.failLocked(OpStart, ErrCapture, err, "open capture")
	}
	s.capture = capture

	for _, track := range capture.Tracks() {
		if err := conn.AddTrack(track); err != nil {
			return s.failLocked(OpStart, ErrCapture, err, "add "+track.Kind().String()+" track")
		}
	}

	offer, err := conn.CreateOffer()
	if err != nil {
		return s.failLocked(OpStart, ErrNegotiation, err, "create offer")
	}
	if err := conn.SetLocalDescription(offer); err != nil {
		return s.failLocked(OpStart, ErrNegotiation, err, "set local description")
	}
	s.send(signaling.TypeOffer, offer)

	if err := capture.Start(ctx); err != nil {
		return s.failLocked(OpStart, ErrCapture, err, "start capture")
	}
	s.log.Info().Int("tracks", len(capture.Tracks())).Msg("offer sent")
	return nil
}

// flushLocked applies the buffered candidates in arrival order.
func (s *Session) flushLocked(op string) error {
	n, err := s.pending.Flush(s.conn.AddICECandidate)
	if err != nil {
		return s.failLocked(op, ErrCandidate, err, fmt.Sprintf("buffered candidate %d", n+1))
	}
	if n > 0 {
		s.log.Debug().Int("candidates", n).Msg("flushed buffered candidates")
	}
	return nil
}

// failLocked rolls the session back to idle and wraps the failure.
func (s *Session) failLocked(op string, sentinel, cause error, details string) error {
	e := newError(op, s.role, sentinel, cause, details)
	s.log.Error().Err(e).Msg("rolling back session")
	s.teardownLocked()
	return e
}

func (s *Session) teardownLocked() {
	s.generation.Add(1)

	if s.capture != nil {
		if err := s.capture.Close(); err != nil {
			s.log.Warn().Err(err).Msg("close capture")
		}
		s.capture = nil
	}
	if s.router != nil {
		s.router.Reset()
	}
	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			s.log.Warn().Err(err).Msg("close peer connection")
		}
		s.conn = nil
	}

	if s.announced {
		s.send(s.stoppedNotice(), nil)
		s.announced = false
	}

	s.answerReceived = false
	s.pending.Reset()
	s.setState(StateIdle)
}

// dispatcher routes connection events of generation gen. It never takes the session lock.
func (s *Session) dispatcher(gen uint64) func(Event) {
	return func(ev Event) {
		if s.generation.Load() != gen {
			return
		}

		switch ev.Kind {
		case EventICECandidateGenerated:
			if ev.Candidate != nil {
				s.send(signaling.TypeICE, ev.Candidate)
			}

		case EventTrackReceived:
			if s.router != nil && ev.Track != nil {
				s.router.OnRemoteTrack(ev.Track)
			}

		case EventConnectionClosed:
			s.log.Warn().Str("reason", ev.Reason).Msg("peer connection closed")
			s.obsMu.Lock()
			f := s.onClosed
			s.obsMu.Unlock()
			if f != nil {
				f(ev.Reason)
			}
		}
	}
}

func (s *Session) send(msgType string, data any) {
	if s.signaler == nil {
		return
	}
	msg, err := signaling.NewMessage(msgType, data)
	if err != nil {
		s.log.Error().Err(err).Str("type", msgType).Msg("encode message")
		return
	}
	if err := s.signaler.Send(msg); err != nil {
		s.log.Debug().Err(err).Str("type", msgType).Msg("send failed")
	}
}

func (s *Session) setState(st State) {
	if s.state == st {
		return
	}
	s.state = st
	s.current.Store(int32(st))
	s.log.Debug().Stringer("state", st).Msg("state changed")

	s.obsMu.Lock()
	f := s.onState
	s.obsMu.Unlock()
	if f != nil {
		f(st)
	}
}

func (s *Session) startedNotice() string {
	if s.role == RoleSpeaker {
		return signaling.TypeBroadcastStarted
	}
	return signaling.TypeListeningStarted
}

func (s *Session) stoppedNotice() string {
	if s.role == RoleSpeaker {
		return signaling.TypeBroadcastStopped
	}
	return signaling.TypeListeningStopped
}
