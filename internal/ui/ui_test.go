package ui

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/richardkyk/radio/internal/config"
	"github.com/richardkyk/radio/internal/latency"
	"github.com/richardkyk/radio/internal/media"
	"github.com/richardkyk/radio/internal/peer"
	"github.com/richardkyk/radio/internal/relay"
	"github.com/richardkyk/radio/internal/signaling"
)

func TestBadgesCarryLabels(t *testing.T) {
	for _, s := range []signaling.Status{signaling.StatusIdle, signaling.StatusOnline, signaling.StatusOffline} {
		if got := StatusBadge(s); !strings.Contains(got, string(s)) {
			t.Fatalf("badge %q lacks %q", got, s)
		}
	}
	if got := StateBadge(peer.StateConnected); !strings.Contains(got, peer.StateConnected.String()) {
		t.Fatalf("state badge %q", got)
	}
}

func TestSummaryViewShowsLatencyOnlyWithSamples(t *testing.T) {
	base := Summary{Role: "listener", Topic: "hk", Duration: "3s", Participants: 4, Tracks: 2}
	plain := SummaryView("Summary", base)
	if !strings.Contains(plain, "Cantonese") || strings.Contains(plain, "Latency mean") {
		t.Fatalf("unexpected summary:\n%s", plain)
	}

	base.Latency = latency.Summary{Count: 2, Min: 10 * time.Millisecond, Mean: 15 * time.Millisecond, Max: 20 * time.Millisecond}
	withLatency := SummaryView("Summary", base)
	if !strings.Contains(withLatency, "Latency mean") || !strings.Contains(withLatency, "15 ms") {
		t.Fatalf("latency rows missing:\n%s", withLatency)
	}
}

func TestTablesRender(t *testing.T) {
	if got := TrackTableView(nil); !strings.Contains(got, "No tracks") {
		t.Fatalf("empty track table: %q", got)
	}
	tracks := TrackTableView([]media.TrackInfo{{Kind: media.KindAudio, Speaker: "0f8fad5b-d9cb", Codec: "audio/opus", Packets: 50}})
	if !strings.Contains(tracks, "0f8fad5b") || !strings.Contains(tracks, "audio/opus") {
		t.Fatalf("track table:\n%s", tracks)
	}
	topics := TopicTableView(config.Languages)
	for _, l := range config.Languages {
		if !strings.Contains(topics, l.Name) {
			t.Fatalf("topic table lacks %s:\n%s", l.Name, topics)
		}
	}
	live := LiveTopicTableView([]relay.TopicInfo{{Topic: "vn", Language: "Vietnamese", Participants: 3, Speakers: 1, Listeners: 2}})
	if !strings.Contains(live, "Vietnamese") || !strings.Contains(live, "Listening") {
		t.Fatalf("live topic table:\n%s", live)
	}
}

func TestDashboardToggleAndNotice(t *testing.T) {
	state := peer.StateIdle
	toggles := 0
	d := NewDashboard(func() Snapshot {
		return Snapshot{Role: peer.RoleSpeaker, Topic: "en", Status: signaling.StatusOnline, State: state}
	}, func() error {
		toggles++
		if toggles == 2 {
			return errors.New("capture failed")
		}
		state = peer.StateConnected
		return nil
	})
	m := d.model()

	if view := m.View(); !strings.Contains(view, "English") || !strings.Contains(view, "space start") {
		t.Fatalf("idle view:\n%s", view)
	}

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeySpace})
	if cmd == nil {
		t.Fatalf("space produced no command")
	}
	m.Update(cmd())
	if toggles != 1 || !strings.Contains(m.View(), "space stop") {
		t.Fatalf("toggle not applied: toggles=%d view:\n%s", toggles, m.View())
	}

	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeySpace})
	m.Update(cmd())
	if !strings.Contains(m.View(), "capture failed") {
		t.Fatalf("toggle error not shown:\n%s", m.View())
	}

	m.Update(noticeMsg("connection lost"))
	if !strings.Contains(m.View(), "connection lost") {
		t.Fatalf("notice not shown:\n%s", m.View())
	}

	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if cmd == nil || m.View() != "" {
		t.Fatalf("q did not quit")
	}
}
