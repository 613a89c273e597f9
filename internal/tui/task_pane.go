package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/trellis-ml/trellis/internal/events"
)

// TaskExecution is one finished task shown in the recent list.
type TaskExecution struct {
	Task     string
	Op       string
	Duration time.Duration
}

// maxLogLines bounds the in-memory run log.
const maxLogLines = 2000

// TaskPaneModel shows recent task executions and the scrolling run log.
type TaskPaneModel struct {
	recent    []TaskExecution
	lines     []string
	viewport  viewport.Model
	width     int
	height    int
	focused   bool
	updateTag int // for debouncing
}

// NewTaskPaneModel creates a new task pane model.
func NewTaskPaneModel() TaskPaneModel {
	vp := viewport.New(0, 0)
	return TaskPaneModel{
		viewport: vp,
	}
}

// tickMsg is used for debouncing viewport updates.
type tickMsg struct {
	tag int
}

// Update handles messages for the task pane.
func (m TaskPaneModel) Update(msg tea.Msg) (TaskPaneModel, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resizeViewport()

	case tea.KeyMsg:
		if !m.focused {
			break
		}
		// The viewport handles j/k, arrows and paging itself
		m.viewport, cmd = m.viewport.Update(msg)

	case events.TaskExecutedEvent:
		m.recent = append(m.recent, TaskExecution{
			Task:     msg.Task,
			Op:       msg.Op,
			Duration: msg.Duration,
		})
		m.appendLine(fmt.Sprintf("%-12s %s  %v", msg.Op, msg.Task, msg.Duration))
		// Task events arrive in bursts, so debounce the viewport refresh
		m.updateTag++
		tag := m.updateTag
		return m, tea.Tick(50*time.Millisecond, func(time.Time) tea.Msg {
			return tickMsg{tag: tag}
		})

	case events.BatchSpilledEvent:
		m.appendLine(fmt.Sprintf("%-12s %s  %s", "spill", msg.Batch, humanize.Bytes(uint64(msg.Space))))
		m.updateViewportContent()

	case events.BatchLoadedEvent:
		m.appendLine(fmt.Sprintf("%-12s %s  %s", "load", msg.Batch, humanize.Bytes(uint64(msg.Space))))
		m.updateViewportContent()

	case events.ScoreUpdatedEvent:
		m.appendLine(fmt.Sprintf("%-12s %s  %.4f", "score", scoreLabel(msg.Fold, msg.Batches), msg.Score))
		m.updateViewportContent()

	case events.RunFinishedEvent:
		if msg.Err != "" {
			m.appendLine(fmt.Sprintf("\n[Failed: %s]", msg.Err))
		} else {
			m.appendLine(fmt.Sprintf("\n[Finished in %v]", msg.Duration))
		}
		m.updateViewportContent()

	case tickMsg:
		// Only update if this tick matches the current tag (debouncing)
		if msg.tag == m.updateTag {
			m.updateViewportContent()
		}
	}

	return m, cmd
}

// appendLine adds one line to the run log, dropping the oldest lines
// past the cap.
func (m *TaskPaneModel) appendLine(line string) {
	m.lines = append(m.lines, line)
	if len(m.lines) > maxLogLines {
		m.lines = m.lines[len(m.lines)-maxLogLines:]
	}
	if len(m.recent) > maxLogLines {
		m.recent = m.recent[len(m.recent)-maxLogLines:]
	}
}

// View renders the task pane.
func (m TaskPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	// Split into two columns: recent task list (left) and log viewport (right)
	listWidth := 30
	viewportWidth := m.width - listWidth - 4 // account for borders and padding

	listContent := m.renderRecent(listWidth)
	viewportContent := m.viewport.View()

	content := lipgloss.JoinHorizontal(
		lipgloss.Top,
		listContent,
		lipgloss.NewStyle().
			Width(viewportWidth).
			Height(m.height-2).
			Render(viewportContent),
	)

	// Apply border style
	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}

	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(content)
}

// renderRecent renders the recent executions column, newest last.
func (m TaskPaneModel) renderRecent(width int) string {
	var b strings.Builder

	title := StyleTitle.Render("Tasks")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", min(width, lipgloss.Width(title))))
	b.WriteString("\n\n")

	if len(m.recent) == 0 {
		b.WriteString(StylePending.Render("Waiting..."))
	} else {
		rows := m.height - 6
		if rows < 1 {
			rows = 1
		}
		start := len(m.recent) - rows
		if start < 0 {
			start = 0
		}
		for _, exec := range m.recent[start:] {
			name := exec.Task
			if len(name) > width-6 {
				name = name[:width-9] + "..."
			}
			b.WriteString(fmt.Sprintf("%s %s\n", StyleDone.Render("✓"), name))
		}
	}

	return lipgloss.NewStyle().
		Width(width).
		Height(m.height - 2).
		Render(b.String())
}

// updateViewportContent refreshes the viewport with the run log.
func (m *TaskPaneModel) updateViewportContent() {
	if len(m.lines) == 0 {
		m.viewport.SetContent("Waiting for tasks...")
		return
	}
	m.viewport.SetContent(strings.Join(m.lines, "\n"))
	// Auto-scroll to bottom
	m.viewport.GotoBottom()
}

// resizeViewport resizes the viewport based on pane dimensions.
func (m *TaskPaneModel) resizeViewport() {
	listWidth := 30
	viewportWidth := m.width - listWidth - 4
	viewportHeight := m.height - 4 // account for borders

	if viewportWidth < 10 {
		viewportWidth = 10
	}
	if viewportHeight < 5 {
		viewportHeight = 5
	}

	m.viewport.Width = viewportWidth
	m.viewport.Height = viewportHeight
}

// SetSize updates the pane dimensions.
func (m *TaskPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	m.resizeViewport()
}

// SetFocused updates the focus state.
func (m *TaskPaneModel) SetFocused(focused bool) {
	m.focused = focused
}

// scoreLabel names a score line: the held-out fold for cross-validation,
// the batch range for a plain fit.
func scoreLabel(fold, batches string) string {
	if fold == "" {
		return batches
	}
	return "fold " + fold
}
