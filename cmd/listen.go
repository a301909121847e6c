package cmd

import (
	"github.com/richardkyk/radio/internal/broadcast"
	"github.com/richardkyk/radio/internal/config"
	"github.com/richardkyk/radio/internal/latency"
	"github.com/richardkyk/radio/internal/media"
	"github.com/richardkyk/radio/internal/peer"
	"github.com/spf13/cobra"
)

var (
	flagAudioOut string
	flagVideoOut string
)

var listenCmd = &cobra.Command{
	Use:     "listen",
	Aliases: []string{"l"},
	Short:   "Listen to the speakers of a topic",
	Long: `Listen to every speaker of a topic. Listening starts when a speaker goes live and
stops when the last one leaves.

Received audio is written to an Ogg file and video to an IVF file when outputs are given,
otherwise it is counted and discarded. Video latency is shown on the dashboard.

Examples:
  radio listen
  radio listen --topic hk --audio-out room.ogg --video-out room.ivf`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return listen(cmd)
	},
}

func listen(cmd *cobra.Command) error {
	cfg, err := LoadConfig(config.Options{
		AudioOut: flagAudioOut,
		VideoOut: flagVideoOut,
	})
	if err != nil {
		return err
	}

	decoder := latency.NewDecoder(
		latency.NewRecord(cfg.LatencyMaxAge, cfg.LatencyMaxEntries),
		&latency.Stats{},
	)
	router := media.NewRouter(media.RouterOptions{
		SelfMarker:    cfg.SelfMarker,
		ParticipantID: cfg.ParticipantID,
		AudioSink:     newSink(cfg.AudioOut, media.NewOggSink),
		VideoSink:     newSink(cfg.VideoOut, media.NewIVFSink),
		Decoder:       decoder,
	})

	ctx := cmd.Context()
	rs, err := NewRoleSession(ctx, cfg, broadcast.Options{
		Role:    peer.RoleListener,
		Router:  router,
		Decoder: decoder,
	})
	if err != nil {
		router.Close()
		return err
	}
	return rs.Run(ctx)
}

func newSink(path string, open func(string) media.Sink) media.Sink {
	if path == "" {
		return &media.DiscardSink{}
	}
	return open(path)
}

func init() {
	rootCmd.AddCommand(listenCmd)

	listenCmd.Flags().StringVar(&flagAudioOut, "audio-out", "", "Write received audio to this Ogg file")
	listenCmd.Flags().StringVar(&flagVideoOut, "video-out", "", "Write received video to this IVF file")
}
