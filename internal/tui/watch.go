// Package tui provides the live queue monitor behind `mc watch`.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/missioncontrol/internal/notify"
	"github.com/ShayCichocki/missioncontrol/internal/state"
	"github.com/ShayCichocki/missioncontrol/pkg/models"
)

// DefaultRefresh is how often the job table reloads.
const DefaultRefresh = 2 * time.Second

// maxEvents is how many recent events the footer keeps.
const maxEvents = 5

// Source is what the monitor reads.
type Source interface {
	ListJobs(f state.JobFilter) ([]models.Job, error)
	Snapshot() (state.Snapshot, error)
	ListNotifications(unreadOnly bool) ([]models.Notification, error)
}

// refreshMsg triggers a reload.
type refreshMsg time.Time

// loadedMsg carries one reload's results.
type loadedMsg struct {
	jobs   []models.Job
	snap   state.Snapshot
	unread int
	err    error
}

// eventMsg carries one bus event.
type eventMsg notify.Event

// Watch is the bubbletea model for the queue monitor.
type Watch struct {
	source  Source
	events  <-chan notify.Event
	refresh time.Duration

	table   table.Model
	spinner spinner.Model

	jobs       []models.Job
	snap       state.Snapshot
	unread     int
	err        error
	loadedAt   time.Time
	activeOnly bool
	recent     []string
	width      int

	headerStyle lipgloss.Style
	dimStyle    lipgloss.Style
	errStyle    lipgloss.Style
	pausedStyle lipgloss.Style
}

// NewWatch creates the monitor. events may be nil.
func NewWatch(source Source, events <-chan notify.Event, refresh time.Duration) *Watch {
	if refresh <= 0 {
		refresh = DefaultRefresh
	}
	t := table.New(
		table.WithColumns(columns(80)),
		table.WithFocused(true),
		table.WithHeight(15),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true)
	styles.Selected = styles.Selected.
		Foreground(lipgloss.Color("15")).
		Background(lipgloss.Color("236")).
		Bold(true)
	t.SetStyles(styles)

	return &Watch{
		source:     source,
		events:     events,
		refresh:    refresh,
		table:      t,
		spinner:    spinner.New(spinner.WithSpinner(spinner.Dot)),
		activeOnly: true,

		headerStyle: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Padding(0, 1),
		dimStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		errStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		pausedStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true),
	}
}

// columns sizes the table for a terminal width.
func columns(width int) []table.Column {
	title := width - 8 - 14 - 13 - 4 - 10 - 12
	if title < 20 {
		title = 20
	}
	return []table.Column{
		{Title: "ID", Width: 8},
		{Title: "Status", Width: 14},
		{Title: "Type", Width: 13},
		{Title: "Pri", Width: 4},
		{Title: "Age", Width: 10},
		{Title: "Title", Width: title},
	}
}

// Rows renders jobs as table rows. activeOnly hides settled jobs.
func Rows(jobs []models.Job, activeOnly bool, now time.Time) []table.Row {
	rows := make([]table.Row, 0, len(jobs))
	for _, j := range jobs {
		if activeOnly && j.Status.Terminal() && j.Status != models.JobStatusFailed && j.Status != models.JobStatusPausedHuman {
			continue
		}
		id := j.ID
		if len(id) > 8 {
			id = id[:8]
		}
		rows = append(rows, table.Row{
			id,
			statusIcon(j.Status) + " " + string(j.Status),
			string(j.Type),
			fmt.Sprintf("%d", j.Priority),
			age(now.Sub(j.CreatedAt)),
			j.Title,
		})
	}
	return rows
}

func statusIcon(s models.JobStatus) string {
	switch s {
	case models.JobStatusQueued:
		return "○"
	case models.JobStatusRunning:
		return "●"
	case models.JobStatusReviewing:
		return "◐"
	case models.JobStatusDone:
		return "✓"
	case models.JobStatusFailed, models.JobStatusRejected:
		return "✗"
	case models.JobStatusPausedHuman:
		return "⏸"
	}
	return "?"
}

func age(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
	return fmt.Sprintf("%dd", int(d.Hours()/24))
}

// Init implements tea.Model.
func (w *Watch) Init() tea.Cmd {
	return tea.Batch(w.spinner.Tick, w.load, w.waitForEvent)
}

func (w *Watch) load() tea.Msg {
	msg := loadedMsg{}
	if msg.jobs, msg.err = w.source.ListJobs(state.JobFilter{Limit: 200}); msg.err != nil {
		return msg
	}
	if msg.snap, msg.err = w.source.Snapshot(); msg.err != nil {
		return msg
	}
	notes, err := w.source.ListNotifications(true)
	msg.unread, msg.err = len(notes), err
	return msg
}

func (w *Watch) tick() tea.Cmd {
	return tea.Tick(w.refresh, func(t time.Time) tea.Msg { return refreshMsg(t) })
}

func (w *Watch) waitForEvent() tea.Msg {
	if w.events == nil {
		return nil
	}
	ev, ok := <-w.events
	if !ok {
		return nil
	}
	return eventMsg(ev)
}

// Update implements tea.Model.
func (w *Watch) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return w, tea.Quit
		case "r":
			return w, w.load
		case "a":
			w.activeOnly = !w.activeOnly
			w.table.SetRows(Rows(w.jobs, w.activeOnly, time.Now()))
			return w, nil
		}

	case tea.WindowSizeMsg:
		w.width = msg.Width
		w.table.SetColumns(columns(msg.Width))
		if h := msg.Height - 8 - maxEvents; h > 3 {
			w.table.SetHeight(h)
		}

	case refreshMsg:
		return w, w.load

	case loadedMsg:
		w.err = msg.err
		if msg.err == nil {
			w.jobs, w.snap, w.unread = msg.jobs, msg.snap, msg.unread
			w.loadedAt = time.Now()
			w.table.SetRows(Rows(w.jobs, w.activeOnly, w.loadedAt))
		}
		return w, w.tick()

	case eventMsg:
		line := fmt.Sprintf("%s %s %s", time.Now().Format("15:04:05"), msg.Type, msg.JobTitle)
		if msg.Status != "" {
			line += " → " + msg.Status
		}
		w.recent = append(w.recent, strings.TrimSpace(line))
		if len(w.recent) > maxEvents {
			w.recent = w.recent[len(w.recent)-maxEvents:]
		}
		return w, tea.Batch(w.load, w.waitForEvent)

	case spinner.TickMsg:
		var cmd tea.Cmd
		w.spinner, cmd = w.spinner.Update(msg)
		return w, cmd
	}

	var cmd tea.Cmd
	w.table, cmd = w.table.Update(msg)
	return w, cmd
}

// View implements tea.Model.
func (w *Watch) View() string {
	var sb strings.Builder

	running := 0
	for _, j := range w.jobs {
		if j.Status == models.JobStatusRunning {
			running++
		}
	}
	header := fmt.Sprintf("Mission Control %s %d/%d running", w.spinner.View(), running, w.snap.MaxConcurrency)
	if w.snap.PauseAll {
		header += "  " + w.pausedStyle.Render("PAUSED")
	}
	if w.unread > 0 {
		header += fmt.Sprintf("  %d unread", w.unread)
	}
	sb.WriteString(w.headerStyle.Render(header))
	sb.WriteString("\n\n")
	sb.WriteString(w.table.View())
	sb.WriteString("\n")

	if w.err != nil {
		sb.WriteString(w.errStyle.Render("error: " + w.err.Error()))
		sb.WriteString("\n")
	}
	for _, line := range w.recent {
		sb.WriteString(w.dimStyle.Render(line))
		sb.WriteString("\n")
	}

	filter := "active"
	if !w.activeOnly {
		filter = "all"
	}
	updated := "never"
	if !w.loadedAt.IsZero() {
		updated = w.loadedAt.Format("15:04:05")
	}
	sb.WriteString(w.dimStyle.Render(fmt.Sprintf("showing %s jobs · updated %s · a: toggle all · r: reload · q: quit", filter, updated)))
	return sb.String()
}

// Run starts the monitor and blocks until the user quits or ctx ends.
func Run(ctx context.Context, source Source, events <-chan notify.Event, refresh time.Duration) error {
	p := tea.NewProgram(NewWatch(source, events, refresh), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if ctx.Err() != nil {
		return nil
	}
	return err
}
