package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/richardkyk/radio/internal/ui"
	"github.com/richardkyk/radio/internal/version"
	"github.com/spf13/cobra"
)

var (
	flagConfig string
	flagServer string
	flagTopic  string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "radio",
	Short: "Live speaker-to-listener broadcasts over WebRTC, grouped by language topic",
	Long: `radio streams live audio, and optionally video, from one speaker to any number of
listeners in a language topic. A relay forwards signaling and media between them.

Run "radio relay" for a local development relay, then "radio speak" and "radio listen"
against it.`,
	Version: version.Version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		// A second interrupt kills the process.
		<-ctx.Done()
		stop()
	}()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		ui.PrintError(err.Error())
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "Config file (default ./radio.yaml or $HOME/.config/radio/radio.yaml)")
	rootCmd.PersistentFlags().StringVarP(&flagServer, "server", "s", "", "Relay URL, e.g. ws://localhost:8080")
	rootCmd.PersistentFlags().StringVarP(&flagTopic, "topic", "t", "", "Language topic (en, hk, vn, cn)")
}
