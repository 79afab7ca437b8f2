// Package watch renders a live progress view for a running job,
// driven by the job's notification stream.
package watch

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"phaseflow/internal/job"
	"phaseflow/internal/notify"
)

var (
	cyan   = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	white  = lipgloss.NewStyle().Foreground(lipgloss.Color("255"))
	dim    = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	green  = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
	yellow = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	red    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

// StateStyle returns the lipgloss style for a job state. The list and
// run commands share it for consistent status coloring.
func StateStyle(s job.State) lipgloss.Style {
	switch s {
	case job.StateRunning:
		return cyan
	case job.StateFinished:
		return green
	case job.StateFailed:
		return red
	case job.StateCancelled:
		return yellow
	default:
		return dim
	}
}

const barWidth = 40

type eventMsg notify.Event

type streamClosedMsg struct{}

type tickMsg time.Time

func tick() tea.Cmd {
	return tea.Tick(250*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func waitEvent(ch <-chan notify.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return streamClosedMsg{}
		}
		return eventMsg(ev)
	}
}

// Model is the bubbletea model for `run --live`.
type Model struct {
	jobID  string
	source string
	total  int

	events    <-chan notify.Event
	cancelJob func()

	state    job.State
	fraction float64
	done     []bool
	reason   string
	started  time.Time
	elapsed  time.Duration
	closed   bool
}

func New(jobID, source string, total int, events <-chan notify.Event, cancelJob func()) Model {
	return Model{
		jobID:     jobID,
		source:    source,
		total:     total,
		events:    events,
		cancelJob: cancelJob,
		state:     job.StateQueued,
		done:      make([]bool, total),
		started:   time.Now(),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(waitEvent(m.events), tick())
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "c":
			if !m.state.Terminal() && m.cancelJob != nil {
				m.cancelJob()
			}
			return m, nil
		case "q", "ctrl+c":
			return m, tea.Quit
		}
		return m, nil

	case tickMsg:
		if !m.closed {
			m.elapsed = time.Since(m.started)
			return m, tick()
		}
		return m, nil

	case eventMsg:
		m.apply(notify.Event(msg))
		return m, waitEvent(m.events)

	case streamClosedMsg:
		m.closed = true
		m.elapsed = time.Since(m.started)
		return m, tea.Quit
	}
	return m, nil
}

func (m *Model) apply(ev notify.Event) {
	switch ev.Kind {
	case notify.KindStatusChanged:
		m.state = ev.State
	case notify.KindProgress:
		m.fraction = ev.Fraction
	case notify.KindTrajectoryCompleted:
		if ev.Index >= 0 && ev.Index < len(m.done) {
			m.done[ev.Index] = true
		}
	case notify.KindJobFinished:
		m.state = job.StateFinished
		m.fraction = 1
	case notify.KindJobFailed:
		m.state = job.StateFailed
		m.reason = ev.Reason
	}
}

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(cyan.Render("phaseflow"))
	b.WriteString(dim.Render("  " + m.jobID))
	b.WriteString("\n")
	b.WriteString(white.Render(m.source))
	b.WriteString("\n\n")

	b.WriteString(fmt.Sprintf("%s %s  %s\n",
		dim.Render("state:"),
		StateStyle(m.state).Render(string(m.state)),
		dim.Render(fmt.Sprintf("%.1fs", m.elapsed.Seconds())),
	))

	b.WriteString(progressBar(m.fraction))
	b.WriteString("\n\n")

	completed := 0
	for _, d := range m.done {
		if d {
			completed++
		}
	}
	b.WriteString(dim.Render(fmt.Sprintf("trajectories: %d/%d", completed, m.total)))
	b.WriteString("\n")

	if m.reason != "" {
		b.WriteString(red.Render(m.reason))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(dim.Render("c cancel · q quit"))
	b.WriteString("\n")
	return b.String()
}

func progressBar(fraction float64) string {
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	filled := int(fraction * barWidth)
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)
	return fmt.Sprintf("%s %s", green.Render(bar), white.Render(fmt.Sprintf("%3.0f%%", fraction*100)))
}
