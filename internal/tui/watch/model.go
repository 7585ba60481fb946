package watch

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mknight/arbiter/internal/events"
)

// jobRow is one tracked job derived from the event stream.
type jobRow struct {
	ID     string
	Kind   string
	Status string
	Worker int
	Seen   time.Time
}

// Model is the main bubbletea model for the watch TUI.
type Model struct {
	apiURL string

	width  int
	height int

	status    statusMsg
	connected bool
	lastError string

	jobs     map[string]*jobRow
	jobTable table.Model
	eventLog []events.Event

	ticker Ticker
	pulse  Pulse
	theme  Theme

	hubEvents chan events.Event
}

// New creates a watch model pointed at a running engine's API.
func New(apiURL string) *Model {
	theme := NewDefaultTheme()

	jobTable := table.New(
		table.WithColumns([]table.Column{
			{Title: "JOB", Width: 10},
			{Title: "KIND", Width: 8},
			{Title: "STATUS", Width: 10},
			{Title: "WORKER", Width: 7},
		}),
		table.WithHeight(8),
		table.WithFocused(false),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.Bold(true)
	styles.Selected = lipgloss.NewStyle()
	jobTable.SetStyles(styles)

	return &Model{
		apiURL:    apiURL,
		jobs:      make(map[string]*jobRow),
		jobTable:  jobTable,
		eventLog:  make([]events.Event, 0),
		hubEvents: make(chan events.Event, 100),
		ticker:    NewTicker(),
		theme:     theme,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		subscribeToEvents(m.apiURL, m.hubEvents),
		receiveNextEvent(m.hubEvents),
		func() tea.Msg { return fetchStatus(m.apiURL) },
		tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) }),
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		m.ticker.Tick()
		m.pulse.Decay()
		m.pruneJobs()
		return m, tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })

	case eventMsg:
		e := events.Event(msg)

		m.eventLog = append([]events.Event{e}, m.eventLog...)
		if len(m.eventLog) > 50 {
			m.eventLog = m.eventLog[:50]
		}

		m.pulse.OnEvent()
		m.applyJobEvent(e)
		m.connected = true
		m.lastError = ""

		return m, receiveNextEvent(m.hubEvents)

	case statusMsg:
		m.status = msg
		m.connected = true
		m.lastError = ""
		return m, tea.Tick(3*time.Second, func(t time.Time) tea.Msg {
			return fetchStatus(m.apiURL)
		})

	case sseDisconnectedMsg:
		m.connected = false
		m.lastError = "event stream disconnected, reconnecting..."
		return m, tea.Tick(3*time.Second, func(t time.Time) tea.Msg {
			return reconnectMsg{}
		})

	case reconnectMsg:
		return m, subscribeToEvents(m.apiURL, m.hubEvents)

	case errMsg:
		m.lastError = msg.Error()
		return m, tea.Tick(5*time.Second, func(t time.Time) tea.Msg {
			return fetchStatus(m.apiURL)
		})
	}

	return m, nil
}

// applyJobEvent folds a job lifecycle event into the tracked job set.
func (m *Model) applyJobEvent(e events.Event) {
	if !strings.HasPrefix(e.Type, "job.") {
		return
	}
	var data struct {
		JobID  string `json:"job_id"`
		Kind   string `json:"kind"`
		Status string `json:"status"`
		Worker int    `json:"worker"`
	}
	if err := json.Unmarshal(e.Data, &data); err != nil || data.JobID == "" {
		return
	}

	row, ok := m.jobs[data.JobID]
	if !ok {
		row = &jobRow{ID: data.JobID, Kind: data.Kind}
		m.jobs[data.JobID] = row
	}
	row.Status = data.Status
	row.Worker = data.Worker
	row.Seen = time.Now()
	m.refreshJobTable()
}

// pruneJobs drops terminal jobs that have been on screen a while.
func (m *Model) pruneJobs() {
	changed := false
	for id, row := range m.jobs {
		terminal := row.Status == "completed" || row.Status == "failed"
		if terminal && time.Since(row.Seen) > 30*time.Second {
			delete(m.jobs, id)
			changed = true
		}
	}
	if changed {
		m.refreshJobTable()
	}
}

func (m *Model) refreshJobTable() {
	rows := make([]table.Row, 0, len(m.jobs))
	for _, row := range m.jobs {
		worker := "-"
		if row.Worker > 0 {
			worker = fmt.Sprintf("%d", row.Worker)
		}
		rows = append(rows, table.Row{shortID(row.ID), row.Kind, row.Status, worker})
	}
	m.jobTable.SetRows(rows)
}

func (m Model) View() string {
	if m.width == 0 {
		return "Starting watch..."
	}

	header := m.renderHeader()
	workers := m.renderWorkers()
	jobs := m.renderJobs()
	stream := m.renderEventStream()

	var errBar string
	if m.lastError != "" {
		errBar = m.theme.StatusFailed.Render(" ⚠ " + m.lastError)
	}

	help := m.theme.Dim.Render(" [q] Quit")

	parts := []string{header, workers, jobs, stream}
	if errBar != "" {
		parts = append(parts, errBar)
	}
	parts = append(parts, help)

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, parts...),
	)
}

func (m Model) renderHeader() string {
	conn := m.theme.StatusFailed.Render("disconnected")
	if m.connected {
		conn = m.theme.StatusOK.Render("connected")
	}

	bridgeStyle := m.theme.StatusQueued
	switch m.status.Bridge {
	case "ready":
		bridgeStyle = m.theme.StatusOK
	case "degraded":
		bridgeStyle = m.theme.StatusFailed
	}

	line := fmt.Sprintf(" %s arbiter  %s  bridge: %s  %s",
		m.theme.TickerActive.Render(m.ticker.Current()),
		conn,
		bridgeStyle.Render(orDash(m.status.Bridge)),
		m.pulse.Render(m.theme),
	)
	return m.theme.Border.Width(m.width - 4).Render(line)
}

func (m Model) renderWorkers() string {
	w := m.status.Workers
	line := fmt.Sprintf("  workers %d/%d active   queue %d   completed %d",
		w.Active, w.Total, m.status.QueueLength, m.status.CompletedCount)

	content := lipgloss.JoinVertical(lipgloss.Left,
		m.theme.Title.Render("POOL"),
		m.theme.Highlight.Render(line),
	)
	return m.theme.Border.Width(m.width - 4).Render(content)
}

func (m Model) renderJobs() string {
	content := lipgloss.JoinVertical(lipgloss.Left,
		m.theme.Title.Render("JOBS"),
		m.jobTable.View(),
	)
	return m.theme.Border.Width(m.width - 4).Render(content)
}

func (m Model) renderEventStream() string {
	if len(m.eventLog) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			m.theme.Title.Render("EVENTS"),
			m.theme.Dim.Render("  Waiting for events..."),
		)
		return m.theme.Border.Width(m.width - 4).Render(content)
	}

	var lines []string
	for i, e := range m.eventLog {
		if i >= 8 {
			break
		}
		lines = append(lines, m.formatEvent(e))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		m.theme.Title.Render("EVENTS"),
		lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n")),
	)
	return m.theme.Border.Width(m.width - 4).Render(content)
}

func (m Model) formatEvent(e events.Event) string {
	ts := m.theme.Dim.Render(e.At.Format("15:04:05"))

	var typeStyle lipgloss.Style
	switch {
	case strings.HasSuffix(e.Type, ".completed"), strings.HasSuffix(e.Type, ".ready"):
		typeStyle = m.theme.StatusOK
	case strings.HasSuffix(e.Type, ".failed"), strings.HasSuffix(e.Type, ".degraded"):
		typeStyle = m.theme.StatusFailed
	case strings.HasSuffix(e.Type, ".started"):
		typeStyle = m.theme.StatusRunning
	default:
		typeStyle = m.theme.Dim
	}

	return fmt.Sprintf("%s %s", ts, typeStyle.Render(fmt.Sprintf("%-18s", e.Type)))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
