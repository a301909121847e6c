package cmd

import (
	"github.com/richardkyk/radio/internal/config"
	"github.com/richardkyk/radio/internal/relay"
	"github.com/richardkyk/radio/internal/ui"
	"github.com/spf13/cobra"
)

var flagAddr string

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Run a local development relay",
	Long: `Run a relay that forwards signaling and media between the speakers and listeners
of each topic. It is meant for development and testing on a trusted network.

Examples:
  radio relay
  radio relay --addr :9000`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadConfig(config.Options{RelayAddr: flagAddr})
		if err != nil {
			return err
		}

		srv, err := relay.NewServer(relay.Options{Addr: cfg.RelayAddr})
		if err != nil {
			return err
		}
		ui.PrintInfof("Relay listening on %s (Ctrl+C to stop)", cfg.RelayAddr)
		return srv.Run(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(relayCmd)

	relayCmd.Flags().StringVarP(&flagAddr, "addr", "a", "", "Listen address (default :8080)")
}
