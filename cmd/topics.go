package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/richardkyk/radio/internal/config"
	"github.com/richardkyk/radio/internal/relay"
	"github.com/richardkyk/radio/internal/ui"
	"github.com/spf13/cobra"
)

var flagLive bool

var topicsCmd = &cobra.Command{
	Use:   "topics",
	Short: "List the language topics",
	Long: `List the language topics. With --live, ask the relay which topics are in use and
who is in them.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println()
		fmt.Println(ui.TopicTableView(config.Languages))
		if !flagLive {
			return nil
		}

		cfg, err := LoadConfig(config.Options{})
		if err != nil {
			return err
		}
		topics, err := fetchTopics(cfg)
		if err != nil {
			return err
		}
		fmt.Println()
		if len(topics) == 0 {
			ui.PrintInfo("No one is on the relay")
			return nil
		}
		fmt.Println(ui.LiveTopicTableView(topics))
		return nil
	},
}

func fetchTopics(cfg *config.Config) ([]relay.TopicInfo, error) {
	rawURL, err := cfg.HTTPURL("topics")
	if err != nil {
		return nil, err
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(rawURL)
	if err != nil {
		return nil, fmt.Errorf("query relay: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("query relay: %s", resp.Status)
	}

	var body struct {
		Topics []relay.TopicInfo `json:"topics"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode topics: %w", err)
	}
	return body.Topics, nil
}

func init() {
	rootCmd.AddCommand(topicsCmd)

	topicsCmd.Flags().BoolVar(&flagLive, "live", false, "Show live participants from the relay")
}
