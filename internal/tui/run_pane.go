package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/trellis-ml/trellis/internal/events"
)

// RunPaneModel shows overall run progress: task counts, the cache's
// spill traffic and the latest score.
type RunPaneModel struct {
	mode      string
	total     int
	remaining int
	steps     int

	spills     int
	spillBytes uint64
	loads      int
	loadBytes  uint64

	score      float64
	scoreLabel string
	hasScore   bool

	finished bool
	duration time.Duration
	runErr   string

	width   int
	height  int
	focused bool
}

// NewRunPaneModel creates a new run pane model.
func NewRunPaneModel() RunPaneModel {
	return RunPaneModel{}
}

// Update handles messages for the run pane.
func (m RunPaneModel) Update(msg tea.Msg) (RunPaneModel, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case events.GraphBuiltEvent:
		m.mode = msg.Mode
		m.total = msg.Tasks
		m.remaining = msg.Tasks
		m.steps = msg.Steps

	case events.TaskExecutedEvent:
		m.remaining = msg.Remaining

	case events.BatchSpilledEvent:
		m.spills++
		m.spillBytes += uint64(msg.Space)

	case events.BatchLoadedEvent:
		m.loads++
		m.loadBytes += uint64(msg.Space)

	case events.ScoreUpdatedEvent:
		m.score = msg.Score
		m.scoreLabel = scoreLabel(msg.Fold, msg.Batches)
		m.hasScore = true

	case events.RunFinishedEvent:
		m.finished = true
		m.duration = msg.Duration
		m.runErr = msg.Err
	}

	return m, nil
}

// View renders the run pane.
func (m RunPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	var b strings.Builder

	title := StyleTitle.Render("Run")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", lipgloss.Width(title)))
	b.WriteString("\n\n")

	if m.mode != "" {
		b.WriteString(fmt.Sprintf("Mode:      %s\n", m.mode))
		b.WriteString(fmt.Sprintf("Steps:     %d\n", m.steps))
	}
	done := m.total - m.remaining
	b.WriteString(fmt.Sprintf("Tasks:     %d\n", m.total))
	b.WriteString(fmt.Sprintf("Done:      %s\n", StyleDone.Render(fmt.Sprintf("%d", done))))
	b.WriteString(fmt.Sprintf("Pending:   %s\n", StylePending.Render(fmt.Sprintf("%d", m.remaining))))

	b.WriteString("\n")

	// Progress bar
	if m.total > 0 {
		barWidth := min(m.width-8, 40)
		doneWidth := (done * barWidth) / m.total
		pendingWidth := barWidth - doneWidth

		bar := StyleDone.Render(strings.Repeat("=", max(0, doneWidth)))
		bar += StylePending.Render(strings.Repeat(".", max(0, pendingWidth)))

		b.WriteString(fmt.Sprintf("[%s]  %d/%d\n", bar, done, m.total))
	}

	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("Spilled:   %d (%s)\n", m.spills, humanize.Bytes(m.spillBytes)))
	b.WriteString(fmt.Sprintf("Reloaded:  %d (%s)\n", m.loads, humanize.Bytes(m.loadBytes)))

	if m.hasScore {
		b.WriteString("\n")
		b.WriteString(fmt.Sprintf("Score:     %s  %s\n",
			StyleScore.Render(fmt.Sprintf("%.4f", m.score)), m.scoreLabel))
	}

	if m.finished {
		b.WriteString("\n")
		if m.runErr != "" {
			b.WriteString(StyleFailed.Render(fmt.Sprintf("Failed: %s", m.runErr)))
		} else {
			b.WriteString(StyleDone.Render(fmt.Sprintf("Finished in %v", m.duration)))
		}
		b.WriteString("\n")
	}

	content := b.String()

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

// SetSize updates the pane dimensions.
func (m *RunPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
}

// SetFocused updates the focus state.
func (m *RunPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
