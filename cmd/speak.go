package cmd

import (
	"fmt"

	"github.com/richardkyk/radio/internal/broadcast"
	"github.com/richardkyk/radio/internal/config"
	"github.com/richardkyk/radio/internal/latency"
	"github.com/richardkyk/radio/internal/media"
	"github.com/richardkyk/radio/internal/peer"
	"github.com/richardkyk/radio/internal/ui"
	"github.com/spf13/cobra"
)

var (
	flagAudioFile string
	flagVideoFile string
	flagLoop      bool
)

var speakCmd = &cobra.Command{
	Use:     "speak",
	Aliases: []string{"s"},
	Short:   "Broadcast to the listeners of a topic",
	Long: `Broadcast audio, and optionally video, to every listener of a topic.

Audio comes from an Ogg/Opus file, or silence when none is given. Video comes from a
VP8 IVF file and carries the latency stamp listeners measure.

Examples:
  radio speak --audio talk.ogg
  radio speak --topic vn --audio talk.ogg --video slides.ivf --loop`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return speak(cmd)
	},
}

func speak(cmd *cobra.Command) error {
	sources, err := media.ValidateSources(
		media.SourceSpec{Path: flagAudioFile, Allowed: []string{"ogg", "opus"}},
		media.SourceSpec{Path: flagVideoFile, Allowed: []string{"ivf"}},
	)
	if err != nil {
		return err
	}
	if len(sources) > 0 {
		fmt.Println()
		fmt.Println(ui.SourceTableView(sources))
	}

	cfg, err := LoadConfig(config.Options{
		AudioFile: flagAudioFile,
		VideoFile: flagVideoFile,
		Loop:      flagLoop,
	})
	if err != nil {
		return err
	}

	encoder := latency.NewEncoder()
	ctx := cmd.Context()
	rs, err := NewRoleSession(ctx, cfg, broadcast.Options{
		Role: peer.RoleSpeaker,
		OpenCapture: func() (media.Capture, error) {
			return media.OpenCapture(media.CaptureOptions{
				StreamID:  cfg.ParticipantID,
				AudioFile: cfg.AudioFile,
				VideoFile: cfg.VideoFile,
				Loop:      cfg.Loop,
				Encoder:   encoder,
			})
		},
	})
	if err != nil {
		return err
	}

	rs.Tracks = 1
	if cfg.VideoFile != "" {
		rs.Tracks++
	}
	return rs.Run(ctx)
}

func init() {
	rootCmd.AddCommand(speakCmd)

	speakCmd.Flags().StringVarP(&flagAudioFile, "audio", "a", "", "Ogg/Opus file to broadcast")
	speakCmd.Flags().StringVarP(&flagVideoFile, "video", "v", "", "VP8 IVF file to broadcast")
	speakCmd.Flags().BoolVarP(&flagLoop, "loop", "l", false, "Loop the files until stopped")
}
