package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"
)

// Default configuration values
const (
	DefaultServer            = "ws://localhost:8080"
	DefaultTopic             = "en"
	DefaultSelfMarker        = "server"
	DefaultRelayAddr         = ":8080"
	DefaultLatencyMaxAge     = 5 * time.Second
	DefaultLatencyMaxEntries = 512
)

// Config holds application configuration
type Config struct {
	// Server is the relay base URL (ws, wss, http or https)
	Server string `mapstructure:"server"`

	// Topic selects the language room
	Topic string `mapstructure:"topic"`

	// SelfMarker is the stream id fragment the relay uses for reflected streams
	SelfMarker string `mapstructure:"self_marker"`

	// ParticipantID names this process; streams carrying it as speaker are loopback
	ParticipantID string `mapstructure:"participant_id"`

	// Speaker capture sources
	AudioFile string `mapstructure:"audio_file"`
	VideoFile string `mapstructure:"video_file"`
	Loop      bool   `mapstructure:"loop"`

	// Listener outputs; empty discards media
	AudioOut string `mapstructure:"audio_out"`
	VideoOut string `mapstructure:"video_out"`

	LatencyMaxAge     time.Duration `mapstructure:"latency_max_age"`
	LatencyMaxEntries int           `mapstructure:"latency_max_entries"`

	// RelayAddr is the listen address of the development relay
	RelayAddr string `mapstructure:"relay_addr"`
}

// Options for loading config with CLI flag overrides
type Options struct {
	ConfigFile string
	Server     string
	Topic      string
	AudioFile  string
	VideoFile  string
	Loop       bool
	AudioOut   string
	VideoOut   string
	RelayAddr  string
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables (RADIO_*)
// 3. Config file (radio.yaml)
// 4. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
	} else {
		v.SetConfigName("radio")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/radio")
	}

	v.SetEnvPrefix("RADIO")
	v.AutomaticEnv()

	v.SetDefault("server", DefaultServer)
	v.SetDefault("topic", DefaultTopic)
	v.SetDefault("self_marker", DefaultSelfMarker)
	v.SetDefault("participant_id", "")
	v.SetDefault("audio_file", "")
	v.SetDefault("video_file", "")
	v.SetDefault("loop", false)
	v.SetDefault("audio_out", "")
	v.SetDefault("video_out", "")
	v.SetDefault("latency_max_age", DefaultLatencyMaxAge)
	v.SetDefault("latency_max_entries", DefaultLatencyMaxEntries)
	v.SetDefault("relay_addr", DefaultRelayAddr)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if opts.ConfigFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyOptions(opts)

	if cfg.ParticipantID == "" {
		cfg.ParticipantID = uuid.NewString()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyOptions(opts Options) {
	if opts.Server != "" {
		c.Server = opts.Server
	}
	if opts.Topic != "" {
		c.Topic = opts.Topic
	}
	if opts.AudioFile != "" {
		c.AudioFile = opts.AudioFile
	}
	if opts.VideoFile != "" {
		c.VideoFile = opts.VideoFile
	}
	if opts.Loop {
		c.Loop = true
	}
	if opts.AudioOut != "" {
		c.AudioOut = opts.AudioOut
	}
	if opts.VideoOut != "" {
		c.VideoOut = opts.VideoOut
	}
	if opts.RelayAddr != "" {
		c.RelayAddr = opts.RelayAddr
	}
}

// Validate rejects configurations the CLI cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Topic) == "" {
		return errors.New("topic cannot be empty")
	}
	if c.LatencyMaxAge <= 0 {
		return fmt.Errorf("latency_max_age must be positive, got %s", c.LatencyMaxAge)
	}
	if c.LatencyMaxEntries <= 0 {
		return fmt.Errorf("latency_max_entries must be positive, got %d", c.LatencyMaxEntries)
	}
	if len(c.ParticipantID) > 64 || strings.ContainsAny(c.ParticipantID, ":/ ") {
		return fmt.Errorf("participant_id %q must be at most 64 characters without ':', '/' or spaces", c.ParticipantID)
	}
	if _, err := c.SignalURL("listener"); err != nil {
		return err
	}
	return nil
}

// HTTPURL returns the relay's plain HTTP URL for path, e.g. "topics".
func (c *Config) HTTPURL(path string) (string, error) {
	u, err := url.Parse(c.Server)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}

	switch u.Scheme {
	case "http", "https":
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	default:
		return "", fmt.Errorf("invalid server URL scheme %q", u.Scheme)
	}
	return u.JoinPath(path).String(), nil
}

// SignalURL returns the relay websocket URL for a role. The relay uses the id parameter as
// this participant's id in stream ids, which is what the loopback filter matches.
func (c *Config) SignalURL(role string) (string, error) {
	u, err := url.Parse(c.Server)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}

	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid server URL scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid server URL: missing host in %q", c.Server)
	}

	u = u.JoinPath("ws", role)
	q := u.Query()
	q.Set("topic", c.Topic)
	if c.ParticipantID != "" {
		q.Set("id", c.ParticipantID)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
