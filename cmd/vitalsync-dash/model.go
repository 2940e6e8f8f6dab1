package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// tickMsg triggers a periodic refresh.
type tickMsg time.Time

// snapshotMsg carries a fetched daemon snapshot. nil means the daemon
// is offline.
type snapshotMsg *Snapshot

// tickCmd returns a command that sends a tickMsg after 2 seconds.
func tickCmd() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// fetchCmd returns a tea.Cmd that fetches a snapshot from the daemon.
func fetchCmd(addr string) tea.Cmd {
	return func() tea.Msg {
		snap, _ := fetchSnapshot(context.Background(), addr)
		return snapshotMsg(snap)
	}
}

// Model is the Bubble Tea model for the dashboard.
type Model struct {
	addr    string
	theme   Theme
	spinner spinner.Model
	devices table.Model

	snap    *Snapshot
	fetched bool

	width  int
	height int
}

// newModel creates a Model polling the given daemon address.
func newModel(addr string) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot

	tbl := table.New(
		table.WithColumns([]table.Column{
			{Title: "Device", Width: 20},
			{Title: "Type", Width: 8},
			{Title: "State", Width: 13},
			{Title: "Quality", Width: 8},
			{Title: "Offset", Width: 10},
			{Title: "Frames", Width: 9},
		}),
		table.WithHeight(10),
	)

	return Model{
		addr:    addr,
		theme:   DefaultTheme(),
		spinner: sp,
		devices: tbl,
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(fetchCmd(m.addr), tickCmd(), m.spinner.Tick)
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "up", "k", "down", "j":
			var cmd tea.Cmd
			m.devices, cmd = m.devices.Update(msg)
			return m, cmd
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		return m, tea.Batch(fetchCmd(m.addr), tickCmd())

	case snapshotMsg:
		m.fetched = true
		m.snap = msg
		if m.snap != nil {
			m.devices.SetRows(deviceRows(m.snap.Devices))
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// deviceRows converts snapshot devices into table rows, sorted by ID.
func deviceRows(devices []DeviceRow) []table.Row {
	sorted := make([]DeviceRow, len(devices))
	copy(sorted, devices)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].DeviceID < sorted[j].DeviceID })

	rows := make([]table.Row, 0, len(sorted))
	for _, d := range sorted {
		rows = append(rows, table.Row{
			d.DeviceID,
			d.DeviceType,
			d.State,
			fmt.Sprintf("%.2f", d.Quality),
			fmt.Sprintf("%.1fms", d.OffsetMs),
			fmt.Sprintf("%d", d.FrameCount),
		})
	}
	return rows
}

// View implements tea.Model.
func (m Model) View() string {
	title := lipgloss.NewStyle().Bold(true).Foreground(m.theme.Primary).Render("vitalsync")

	if !m.fetched {
		return fmt.Sprintf("%s\n\n %s connecting to %s...\n", title, m.spinner.View(), m.addr)
	}
	if m.snap == nil {
		offline := lipgloss.NewStyle().Foreground(m.theme.Error).Render("daemon offline")
		return fmt.Sprintf("%s\n\n %s (%s)\n\n press q to quit\n", title, offline, m.addr)
	}

	header := m.headerView()
	devices := lipgloss.NewStyle().Foreground(m.theme.Muted).Render("devices") + "\n" + m.devices.View()
	sessions := m.sessionsView()
	footer := lipgloss.NewStyle().Foreground(m.theme.Muted).Render("q: quit  j/k: scroll devices")

	return fmt.Sprintf("%s  %s\n\n%s\n\n%s\n\n%s\n", title, header, devices, sessions, footer)
}

// headerView renders the clock and time-server summary line.
func (m Model) headerView() string {
	clockStyle := lipgloss.NewStyle().Foreground(m.theme.Error)
	clockWord := "clock unsynchronized"
	if m.snap.Clock.Synchronized {
		clockStyle = lipgloss.NewStyle().Foreground(m.theme.Success)
		clockWord = "clock synchronized"
	}
	return fmt.Sprintf("%s  offset=%.2fms precision=%.2fms  |  time-sync: %d reqs, %d active, avg %.1fms  |  queued=%d dropped=%d",
		clockStyle.Render(clockWord),
		float64(m.snap.Clock.Offset)/1e6,
		m.snap.Clock.PrecisionMs,
		m.snap.TimeSync.TotalRequests,
		m.snap.TimeSync.ActiveClients,
		m.snap.TimeSync.AvgResponseMs,
		m.snap.Offline.Queued,
		m.snap.Offline.Dropped,
	)
}

// sessionsView renders the session list.
func (m Model) sessionsView() string {
	label := lipgloss.NewStyle().Foreground(m.theme.Muted).Render("sessions")
	if len(m.snap.Sessions) == 0 {
		return label + "\n  none"
	}
	out := label
	for _, s := range m.snap.Sessions {
		state := lipgloss.NewStyle().Foreground(m.theme.Muted).Render("stopped")
		if s.Active {
			state = lipgloss.NewStyle().Foreground(m.theme.Success).Render("active")
		}
		quality := lipgloss.NewStyle().
			Foreground(m.theme.qualityColor(s.Quality)).
			Render(fmt.Sprintf("%.2f", s.Quality))
		out += fmt.Sprintf("\n  %-30s %s  quality=%s  devices=%d", s.SessionID, state, quality, len(s.Devices))
	}
	return out
}
