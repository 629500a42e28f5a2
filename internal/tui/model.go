// Package tui renders live job progress in the terminal.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"partigrab/internal/core/domain"
)

// DefaultInterval is how often job states are polled.
const DefaultInterval = 100 * time.Millisecond

const (
	labelWidth  = 28
	barWidth    = 30
	minStatusW  = 20
	defaultCols = 100
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	labelStyle = lipgloss.NewStyle().Width(labelWidth).MaxWidth(labelWidth)
)

// Row is one job on screen.
type Row struct {
	Label string
	State *domain.JobState
}

type tickMsg time.Time

// Model polls a fixed set of job states and quits once all are finished.
// A job at progress 1.0 still counts as running until its phase is terminal,
// since conversion happens after the download reports 1.0.
type Model struct {
	title    string
	rows     []Row
	bar      progress.Model
	abort    func()
	interval time.Duration

	aborting  bool
	completed bool
	width     int
}

// New creates a model for rows. abort is called the first time the user
// presses q or ctrl+c; a second press leaves the UI immediately.
func New(title string, rows []Row, abort func()) Model {
	return Model{
		title:    title,
		rows:     rows,
		bar:      progress.New(progress.WithDefaultGradient(), progress.WithWidth(barWidth)),
		abort:    abort,
		interval: DefaultInterval,
		width:    defaultCols,
	}
}

func tick(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) Init() tea.Cmd {
	return tick(m.interval)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil
	case tickMsg:
		if m.allDone() {
			m.completed = true
			return m, tea.Quit
		}
		return m, tick(m.interval)
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			if m.aborting {
				return m, tea.Quit
			}
			m.aborting = true
			if m.abort != nil {
				m.abort()
			}
			return m, nil
		}
	}
	return m, nil
}

// Completed reports whether the model quit because every job finished.
func (m Model) Completed() bool {
	return m.completed
}

func finished(s *domain.JobState) bool {
	return s.Done() && s.Phase().IsTerminal()
}

func (m Model) allDone() bool {
	for _, r := range m.rows {
		if !finished(r.State) {
			return false
		}
	}
	return true
}

func (m Model) View() string {
	var b strings.Builder
	done := 0
	for _, r := range m.rows {
		if finished(r.State) {
			done++
		}
	}
	b.WriteString(titleStyle.Render(m.title))
	b.WriteString(mutedStyle.Render(fmt.Sprintf("  %d/%d finished", done, len(m.rows))))
	b.WriteString("\n\n")

	statusW := m.width - labelWidth - barWidth - 8
	if statusW < minStatusW {
		statusW = minStatusW
	}
	for _, r := range m.rows {
		status, pct := r.State.Snapshot()
		line := lipgloss.JoinHorizontal(lipgloss.Top,
			labelStyle.Render(r.Label), " ",
			m.bar.ViewAs(pct), "  ",
			statusStyle(r.State.Phase(), status).MaxWidth(statusW).Render(status),
		)
		b.WriteString(line)
		b.WriteString("\n")
	}

	b.WriteString("\n")
	if m.aborting {
		b.WriteString(warnStyle.Render("Aborting after the current segment... press q again to leave now"))
	} else {
		b.WriteString(mutedStyle.Render("q: abort"))
	}
	b.WriteString("\n")
	return b.String()
}

func statusStyle(phase domain.Phase, status string) lipgloss.Style {
	switch {
	case phase == domain.PhaseFailed:
		return errorStyle
	case phase == domain.PhaseAborted:
		return warnStyle
	case strings.HasPrefix(status, "Conversion failed"):
		return errorStyle
	case phase == domain.PhaseSucceeded:
		return okStyle
	default:
		return lipgloss.NewStyle()
	}
}

// Run blocks until every row is finished or the user leaves. completed is
// false when the user left first.
func Run(title string, rows []Row, abort func()) (completed bool, err error) {
	p := tea.NewProgram(New(title, rows, abort))
	final, err := p.Run()
	if err != nil {
		return false, err
	}
	m, ok := final.(Model)
	return ok && m.Completed(), nil
}
