package ui

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muurk/tinyhttps/internal/server"
)

// DefaultRefresh is how often the monitor samples server statistics.
const DefaultRefresh = 500 * time.Millisecond

type tickMsg time.Time

// monitorKeyMap defines key bindings for the monitor
type monitorKeyMap struct {
	Pause key.Binding
	Help  key.Binding
	Quit  key.Binding
}

func (k monitorKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Pause, k.Help, k.Quit}
}

func (k monitorKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{{k.Pause, k.Help}, {k.Quit}}
}

func defaultMonitorKeys() monitorKeyMap {
	return monitorKeyMap{
		Pause: key.NewBinding(
			key.WithKeys("p", " "),
			key.WithHelp("p", "pause"),
		),
		Help: key.NewBinding(
			key.WithKeys("?"),
			key.WithHelp("?", "help"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c", "esc"),
			key.WithHelp("q", "quit monitor"),
		),
	}
}

// MonitorModel is a live view of the connection slots.
type MonitorModel struct {
	Title    string
	Address  string
	Refresh  time.Duration
	Started  time.Time
	Paused   bool
	Snapshot server.Stats

	Width  int
	Height int

	stats   func() server.Stats
	keys    monitorKeyMap
	help    help.Model
	bar     progress.Model
	spinner spinner.Model
}

// NewMonitorModel creates a monitor reading stats, typically
// (*server.Server).Stats.
func NewMonitorModel(title, address string, stats func() server.Stats) MonitorModel {
	width, height := GetTerminalSize()
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(SuccessColor)
	return MonitorModel{
		Title:    title,
		Address:  address,
		Refresh:  DefaultRefresh,
		Started:  time.Now(),
		Snapshot: stats(),
		Width:    width,
		Height:   height,
		stats:    stats,
		keys:     defaultMonitorKeys(),
		help:     help.New(),
		bar:      progress.New(progress.WithDefaultGradient(), progress.WithWidth(30)),
		spinner:  sp,
	}
}

func (m MonitorModel) tick() tea.Cmd {
	return tea.Tick(m.Refresh, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Init implements tea.Model
func (m MonitorModel) Init() tea.Cmd {
	return tea.Batch(m.tick(), m.spinner.Tick)
}

// Update implements tea.Model
func (m MonitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Pause):
			m.Paused = !m.Paused
		case key.Matches(msg, m.keys.Help):
			m.help.ShowAll = !m.help.ShowAll
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.Width = clampWidth(msg.Width)
		m.Height = msg.Height
		m.help.Width = m.Width
		return m, nil

	case tickMsg:
		if !m.Paused {
			m.Snapshot = m.stats()
		}
		return m, m.tick()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View implements tea.Model
func (m MonitorModel) View() string {
	st := m.Snapshot
	var b strings.Builder

	status := m.spinner.View() + " serving"
	if m.Paused {
		status = lipgloss.NewStyle().Foreground(WarningColor).Render("❚❚ paused")
	}
	b.WriteString(RenderBanner(m.Title, fmt.Sprintf("%s  %s  up %s", m.Address, status,
		time.Since(m.Started).Truncate(time.Second)), nil, m.Width))
	b.WriteString("\n\n")

	ratio := 0.0
	if st.Capacity > 0 {
		ratio = float64(st.Active) / float64(st.Capacity)
	}
	b.WriteString(fmt.Sprintf("  Slots  %s  %d/%d", m.bar.ViewAs(ratio), st.Active, st.Capacity))
	if st.Queued > 0 {
		b.WriteString(lipgloss.NewStyle().Foreground(WarningColor).Render(fmt.Sprintf("  (%d queued)", st.Queued)))
	}
	b.WriteString("\n")
	b.WriteString(SubtitleStyle.Render(fmt.Sprintf("accepted %d  rejected %d  evicted %d  requests %d",
		st.Accepted, st.Rejected, st.Evicted, st.Requests)))
	b.WriteString("\n\n")

	b.WriteString(RenderSlotTable(st))
	b.WriteString("\n\n")
	b.WriteString(m.help.View(m.keys))
	return b.String()
}

// RenderSlotTable renders one row per busy slot, or a hint when all are
// free.
func RenderSlotTable(st server.Stats) string {
	if len(st.Slots) == 0 {
		return HintStyle.Render("  no connections")
	}
	rows := make([][]string, 0, len(st.Slots))
	for _, sl := range st.Slots {
		transport := "http"
		if sl.Secure {
			transport = "https"
		}
		id := sl.ConnID
		if len(id) > 8 {
			id = id[:8]
		}
		rows = append(rows, []string{
			strconv.Itoa(sl.Index),
			phaseStyle(sl.Phase).Render(ActiveMarker + " " + sl.Phase.String()),
			sl.Remote,
			transport,
			strconv.Itoa(sl.Requests),
			sl.Age.Truncate(time.Second).String(),
			sl.Idle.Truncate(100 * time.Millisecond).String(),
			id,
		})
	}
	return RenderTable([]string{"SLOT", "PHASE", "REMOTE", "PROTO", "REQS", "AGE", "IDLE", "CONN"}, rows)
}

func phaseStyle(p server.Phase) lipgloss.Style {
	switch p {
	case server.PhaseWebSocketActive, server.PhaseWebSocketUpgrade:
		return lipgloss.NewStyle().Foreground(AccentColor)
	case server.PhaseKeepAliveWait:
		return lipgloss.NewStyle().Foreground(MutedColor)
	case server.PhaseClosing:
		return lipgloss.NewStyle().Foreground(ErrorColor)
	default:
		return lipgloss.NewStyle().Foreground(SuccessColor)
	}
}

// RunMonitor shows the monitor until the user quits or ctx is cancelled.
func RunMonitor(ctx context.Context, model MonitorModel) error {
	p := tea.NewProgram(model, tea.WithContext(ctx), tea.WithAltScreen())
	_, err := p.Run()
	if err != nil && (errors.Is(err, tea.ErrProgramKilled) || errors.Is(err, context.Canceled)) {
		return nil
	}
	return err
}
