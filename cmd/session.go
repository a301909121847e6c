package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/richardkyk/radio/internal/broadcast"
	"github.com/richardkyk/radio/internal/config"
	"github.com/richardkyk/radio/internal/latency"
	"github.com/richardkyk/radio/internal/media"
	"github.com/richardkyk/radio/internal/peer"
	"github.com/richardkyk/radio/internal/signaling"
	"github.com/richardkyk/radio/internal/ui"
	"github.com/richardkyk/radio/internal/utils"
)

var flagNoUI bool

// RoleSession is one connected speaker or listener.
type RoleSession struct {
	Role       peer.Role
	Config     *config.Config
	Client     *signaling.Client
	Controller *broadcast.Controller

	// Listener side.
	Router  *media.Router
	Decoder *latency.Decoder

	// Tracks is the number of local tracks a speaker publishes.
	Tracks int

	started time.Time
}

// LoadConfig resolves the configuration with the root flags applied on top of opts.
func LoadConfig(opts config.Options) (*config.Config, error) {
	opts.ConfigFile = flagConfig
	opts.Server = flagServer
	opts.Topic = flagTopic

	cfg, err := config.Load(opts)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// NewRoleSession builds the controller for role and connects it to the relay.
func NewRoleSession(ctx context.Context, cfg *config.Config, opts broadcast.Options) (*RoleSession, error) {
	api, err := peer.NewAPI(peer.Options{})
	if err != nil {
		return nil, fmt.Errorf("create webrtc api: %w", err)
	}

	rawURL, err := cfg.SignalURL(string(opts.Role))
	if err != nil {
		return nil, err
	}

	client := signaling.NewClient()
	opts.Transport = client
	opts.Factory = peer.NewFactory(api)

	rs := &RoleSession{
		Role:       opts.Role,
		Config:     cfg,
		Client:     client,
		Controller: broadcast.New(ctx, opts),
		Router:     opts.Router,
		Decoder:    opts.Decoder,
	}

	stopSpinner := ui.RunConnectionSpinner(fmt.Sprintf("Connecting to %s...", cfg.Server))
	err = client.Connect(ctx, rawURL)
	stopSpinner()
	if err != nil {
		rs.Controller.Close()
		return nil, fmt.Errorf("connect to server: %w", err)
	}
	ui.PrintSuccess(fmt.Sprintf("Joined %s (%s)", config.LanguageName(cfg.Topic), cfg.Topic))
	return rs, nil
}

// Run drives the session until ctx is cancelled or the user quits, then prints the
// summary. Without a UI the session starts at once.
func (rs *RoleSession) Run(ctx context.Context) error {
	defer rs.Close()
	rs.started = time.Now()

	if flagNoUI {
		rs.Client.SetErrorHandler(func(err error) { ui.PrintError(err.Error()) })
		rs.Controller.OnError(func(err error) { ui.PrintError(err.Error()) })
		if err := rs.Controller.Start(); err != nil {
			return err
		}
		<-ctx.Done()
		rs.printSummary()
		return nil
	}

	dash := ui.NewDashboard(rs.Snapshot, rs.Controller.Toggle)
	rs.Client.SetErrorHandler(func(err error) { dash.Notify(err.Error()) })
	rs.Controller.OnError(func(err error) {
		if errors.Is(err, broadcast.ErrConnectionLost) {
			dash.Notify("connection lost, press space to retry")
			return
		}
		dash.Notify(err.Error())
	})

	if err := dash.Run(ctx); err != nil {
		return err
	}
	rs.printSummary()
	return nil
}

// Snapshot reports the live state shown by the dashboard.
func (rs *RoleSession) Snapshot() ui.Snapshot {
	s := ui.Snapshot{
		Role:         rs.Role,
		Topic:        rs.Config.Topic,
		Status:       rs.Client.Status(),
		State:        rs.Controller.Session().State(),
		Participants: rs.Controller.ParticipantCount(),
		Speakers:     len(rs.Controller.Speakers()),
		Started:      rs.started,
	}
	if rs.Router != nil {
		s.Tracks = rs.Router.Tracks()
	}
	if rs.Decoder != nil {
		s.Latency = rs.Decoder.Stats().Snapshot()
	}
	return s
}

// Close stops the session and disconnects from the relay.
func (rs *RoleSession) Close() {
	rs.Controller.Close()
	rs.Client.Disconnect()
	if rs.Router != nil {
		rs.Router.Close()
	}
}

func (rs *RoleSession) printSummary() {
	snap := rs.Snapshot()
	tracks := rs.Tracks
	if rs.Router != nil {
		tracks = len(snap.Tracks)
	}

	fmt.Println()
	ui.RenderSummary("Session Summary", ui.Summary{
		Role:         string(rs.Role),
		Topic:        rs.Config.Topic,
		Duration:     utils.FormatTimeDuration(time.Since(rs.started)),
		Participants: snap.Participants,
		Tracks:       tracks,
		Latency:      snap.Latency,
	})
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&flagNoUI, "no-ui", false, "Start at once and log instead of showing the dashboard")
}
