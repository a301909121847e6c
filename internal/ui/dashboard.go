package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/richardkyk/radio/internal/config"
	"github.com/richardkyk/radio/internal/latency"
	"github.com/richardkyk/radio/internal/media"
	"github.com/richardkyk/radio/internal/peer"
	"github.com/richardkyk/radio/internal/signaling"
	"github.com/richardkyk/radio/internal/utils"
)

const refreshInterval = 250 * time.Millisecond

// Snapshot is what the dashboard shows on each refresh.
type Snapshot struct {
	Role         peer.Role
	Topic        string
	Status       signaling.Status
	State        peer.State
	Participants int
	Speakers     int
	Tracks       []media.TrackInfo
	Latency      latency.Summary
	Started      time.Time
}

// Dashboard is the live view of one role. Space toggles the session, q quits.
type Dashboard struct {
	snapshot func() Snapshot
	toggle   func() error
	notices  chan string
}

type refreshMsg time.Time

type noticeMsg string

type toggledMsg struct{ err error }

// NewDashboard creates a dashboard polling snapshot and calling toggle on space.
func NewDashboard(snapshot func() Snapshot, toggle func() error) *Dashboard {
	return &Dashboard{
		snapshot: snapshot,
		toggle:   toggle,
		notices:  make(chan string, 16),
	}
}

// Notify shows msg as the current notice. Notices are dropped while the queue is full.
func (d *Dashboard) Notify(msg string) {
	select {
	case d.notices <- msg:
	default:
	}
}

// Run blocks until the user quits or ctx ends.
func (d *Dashboard) Run(ctx context.Context) error {
	p := tea.NewProgram(d.model(), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (d *Dashboard) model() *dashboardModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle
	return &dashboardModel{d: d, spinner: s, snap: d.snapshot()}
}

type dashboardModel struct {
	d        *Dashboard
	spinner  spinner.Model
	snap     Snapshot
	notice   string
	quitting bool
}

func (m *dashboardModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.refresh(), m.listenForNotices())
}

func (m *dashboardModel) refresh() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return refreshMsg(t) })
}

func (m *dashboardModel) listenForNotices() tea.Cmd {
	return func() tea.Msg { return noticeMsg(<-m.d.notices) }
}

func (m *dashboardModel) toggleCmd() tea.Cmd {
	return func() tea.Msg { return toggledMsg{err: m.d.toggle()} }
}

func (m *dashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case " ", "space", "enter":
			return m, m.toggleCmd()
		}

	case refreshMsg:
		m.snap = m.d.snapshot()
		return m, m.refresh()

	case toggledMsg:
		if msg.err != nil {
			m.notice = msg.err.Error()
		} else {
			m.notice = ""
		}
		m.snap = m.d.snapshot()

	case noticeMsg:
		m.notice = string(msg)
		return m, m.listenForNotices()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *dashboardModel) View() string {
	if m.quitting {
		return ""
	}
	s := m.snap
	var b strings.Builder

	action := "Listening to"
	if s.Role == peer.RoleSpeaker {
		action = "Speaking to"
	}
	b.WriteString(fmt.Sprintf("\n%s %s\n\n", RoleIcon(s.Role),
		TitleStyle.Render(fmt.Sprintf("%s %s (%s)", action, config.LanguageName(s.Topic), s.Topic))))

	b.WriteString(fmt.Sprintf("%s %s  %s %d", StatusBadge(s.Status), StateBadge(s.State), IconPeople, s.Participants))
	if s.State == peer.StateNegotiating {
		b.WriteString("  " + m.spinner.View())
	}
	if s.State == peer.StateConnected && !s.Started.IsZero() {
		b.WriteString(fmt.Sprintf("  %s %s", IconLive, utils.FormatTimeDuration(time.Since(s.Started))))
	}
	b.WriteString("\n\n")

	if s.Role == peer.RoleListener {
		lat := s.Latency
		b.WriteString(fmt.Sprintf("%s latency %s  (min %s, mean %s, max %s, %d samples)\n",
			IconLatency,
			BoldStyle.Render(utils.FormatLatency(lat.Last, lat.Count > 0)),
			utils.FormatLatency(lat.Min, lat.Count > 0),
			utils.FormatLatency(lat.Mean, lat.Count > 0),
			utils.FormatLatency(lat.Max, lat.Count > 0),
			lat.Count))
		b.WriteString(fmt.Sprintf("%s speakers %d\n\n", IconSpeaker, s.Speakers))
		b.WriteString(TrackTableView(s.Tracks) + "\n")
	}

	if m.notice != "" {
		b.WriteString("\n" + ErrorStyle.Render(IconError+" "+m.notice) + "\n")
	}

	verb := "start"
	if s.State != peer.StateIdle {
		verb = "stop"
	}
	b.WriteString(FooterStyle.Render(fmt.Sprintf("space %s · q quit", verb)))
	return b.String()
}
