package ui

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	prettytable "github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/richardkyk/radio/internal/config"
	"github.com/richardkyk/radio/internal/latency"
	"github.com/richardkyk/radio/internal/media"
	"github.com/richardkyk/radio/internal/relay"
	"github.com/richardkyk/radio/internal/utils"
)

func styledTable(headers []string, rows [][]string) string {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return TableHeaderStyle
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		}).
		Render()
}

// TrackTableView renders the routed tracks.
func TrackTableView(tracks []media.TrackInfo) string {
	if len(tracks) == 0 {
		return MutedStyle.Render("No tracks")
	}

	rows := make([][]string, 0, len(tracks))
	for _, tr := range tracks {
		rows = append(rows, []string{
			tr.Kind,
			utils.ShortID(tr.Speaker),
			tr.Codec,
			utils.FormatCount(tr.Packets),
		})
	}
	return styledTable([]string{"Kind", "Speaker", "Codec", "Packets"}, rows)
}

// SourceTableView renders the speaker's validated capture files.
func SourceTableView(sources []media.SourceInfo) string {
	if len(sources) == 0 {
		return MutedStyle.Render("No files, sending silence")
	}

	rows := make([][]string, 0, len(sources))
	for i, s := range sources {
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			utils.TruncateString(s.Name, 40),
			utils.FormatSize(s.Size),
			s.Container,
		})
	}
	return styledTable([]string{"#", "Name", "Size", "Container"}, rows)
}

// TopicTableView lists the known language topics.
func TopicTableView(langs []config.Language) string {
	rows := make([][]string, 0, len(langs))
	for _, l := range langs {
		rows = append(rows, []string{l.Code, l.Flag, l.Name})
	}
	return styledTable([]string{"Topic", "", "Language"}, rows)
}

// LiveTopicTableView renders a relay's /topics snapshot.
func LiveTopicTableView(topics []relay.TopicInfo) string {
	rows := make([][]string, 0, len(topics))
	for _, t := range topics {
		rows = append(rows, []string{
			t.Topic,
			t.Language,
			strconv.Itoa(t.Participants),
			strconv.Itoa(t.Speakers),
			strconv.Itoa(t.Listeners),
			strconv.Itoa(t.Feeds),
		})
	}
	return styledTable([]string{"Topic", "Language", "Participants", "Speaking", "Listening", "Feeds"}, rows)
}

// Summary is printed when a broadcast or listening session ends.
type Summary struct {
	Role         string
	Topic        string
	Duration     string
	Participants int
	Tracks       int
	Latency      latency.Summary
}

// SummaryView renders the exit summary.
func SummaryView(title string, s Summary) string {
	t := prettytable.NewWriter()
	t.SetTitle(title)
	t.SetStyle(prettytable.StyleRounded)
	t.Style().Title.Align = text.AlignCenter
	t.AppendHeader(prettytable.Row{"Metric", "Value"})
	t.AppendRows([]prettytable.Row{
		{"Role", s.Role},
		{"Topic", fmt.Sprintf("%s (%s)", s.Topic, config.LanguageName(s.Topic))},
		{"Duration", s.Duration},
		{"Participants", s.Participants},
		{"Tracks", s.Tracks},
	})

	lat := s.Latency
	if lat.Count > 0 {
		t.AppendSeparator()
		t.AppendRows([]prettytable.Row{
			{"Latency samples", lat.Count},
			{"Latency min", utils.FormatLatency(lat.Min, true)},
			{"Latency mean", utils.FormatLatency(lat.Mean, true)},
			{"Latency max", utils.FormatLatency(lat.Max, true)},
		})
	}
	return t.Render()
}

func RenderSummary(title string, s Summary) {
	fmt.Println(SummaryView(title, s))
}
