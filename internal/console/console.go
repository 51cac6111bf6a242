// Package console renders a live status view for an extraction run and
// listens for the immediate-exit key.
package console

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/johndauphine/dsv-extract/internal/pipeline"
	"github.com/johndauphine/dsv-extract/internal/progress"
)

// ExitKey aborts the run immediately.
const ExitKey = "x"

// Run is the view of a pipeline the console polls.
type Run interface {
	Progress() (entry string, snap progress.Snapshot)
	Counts() pipeline.Counts
	Phase() pipeline.Phase
	Status() pipeline.RunStatus
	ExitImmediately(msg string)
}

var _ Run = (*pipeline.Pipeline)(nil)

// Interactive reports whether f is a terminal the console can draw on.
func Interactive(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

type tickMsg time.Time

// doneMsg carries the pipeline result into the program.
type doneMsg struct {
	summary *pipeline.Summary
	err     error
}

// Model is the bubbletea model of the status view.
type Model struct {
	run     Run
	title   string
	logPath string
	spinner spinner.Model
	width   int
	started time.Time
	now     func() time.Time

	exited  bool
	done    bool
	summary *pipeline.Summary
	err     error
}

// NewModel creates a status view for run.
func NewModel(run Run, title, logPath string) Model {
	s := spinner.New(
		spinner.WithSpinner(spinner.Dot),
		spinner.WithStyle(lipgloss.NewStyle().Foreground(colorPurple)),
	)
	return Model{
		run:     run,
		title:   title,
		logPath: logPath,
		spinner: s,
		width:   80,
		started: time.Now(),
		now:     time.Now,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tickCmd())
}

func tickCmd() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case ExitKey, "ctrl+c":
			if m.done {
				return m, tea.Quit
			}
			m.run.ExitImmediately("Exit requested from console, terminating immediately")
			m.exited = true
			return m, tea.Quit
		case "q", "esc", "enter":
			if m.done {
				return m, tea.Quit
			}
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tickMsg:
		if m.done {
			return m, nil
		}
		return m, tickCmd()

	case doneMsg:
		m.done = true
		m.summary = msg.summary
		m.err = msg.err
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) View() string {
	var b strings.Builder

	status := m.run.Status()
	b.WriteString(styleTitle.Render(m.title))
	b.WriteString("  ")
	b.WriteString(statusBadge(status))
	b.WriteString("\n")

	entry, snap := m.run.Progress()
	c := m.run.Counts()
	now := m.now()

	var rows []string
	phase := m.run.Phase().String()
	if !status.Done() && !m.done {
		phase = m.spinner.View() + " " + phase
	}
	rows = append(rows, row("Phase", phase))
	if entry != "" {
		rows = append(rows, row("Entry", entry))
	}
	if snap.Total > 0 {
		line := fmt.Sprintf("%d/%d rows (%.1f%%)", snap.Processed, snap.Total, snap.Percent())
		if eta, ok := snap.ETA(now); ok && !status.Done() {
			line += ", ETA " + eta.Format("15:04:05")
		}
		rows = append(rows, row("Progress", line))
	} else if snap.Processed > 0 {
		rows = append(rows, row("Progress", fmt.Sprintf("%d rows", snap.Processed)))
	}
	rows = append(rows,
		row("Entries", fmt.Sprintf("%d succeeded, %d failed, %d skipped", c.Done-c.Failed-c.Skipped, c.Failed, c.Skipped)),
		row("Rows", fmt.Sprintf("%d in %d chunk files", c.Rows, c.Chunks)),
		row("Elapsed", progress.FormatDuration(now.Sub(m.started))),
	)
	if m.logPath != "" {
		rows = append(rows, row("Log", m.logPath))
	}

	width := m.width - 2
	if width < 40 {
		width = 40
	}
	b.WriteString(stylePanel.Width(width).Render(strings.Join(rows, "\n")))
	b.WriteString("\n")

	switch {
	case m.err != nil:
		b.WriteString(styleError.Render("Error: " + m.err.Error()))
		b.WriteString("\n")
	case m.exited:
		b.WriteString(styleError.Render("Exited immediately; open chunk files may be incomplete."))
		b.WriteString("\n")
	case m.done:
		b.WriteString(styleHelp.Render("Run finished."))
		b.WriteString("\n")
	default:
		b.WriteString(styleHelp.Render(fmt.Sprintf("Press %q to exit immediately.", ExitKey)))
		b.WriteString("\n")
	}
	return b.String()
}

func row(label, value string) string {
	return styleLabel.Render(label) + styleValue.Render(value)
}

func statusBadge(s pipeline.RunStatus) string {
	switch s {
	case pipeline.Complete:
		return styleStatusComplete.Render(s.String())
	case pipeline.Aborted:
		return styleStatusAborted.Render(s.String())
	default:
		return styleStatusRunning.Render(s.String())
	}
}

// Exited reports whether the operator pressed the exit key.
func (m Model) Exited() bool {
	return m.exited
}

// Options tune the program; tests replace the terminal streams.
type Options struct {
	Input   io.Reader
	Output  io.Writer
	Title   string
	LogPath string
}

// Result is what the console returns once the program ends.
type Result struct {
	Summary *pipeline.Summary
	Err     error
	// Exited is true when the operator aborted with the exit key. The
	// pipeline result is not awaited in that case.
	Exited bool
}

// Start runs exec while showing the status view. It returns when exec
// finishes or the operator exits.
func Start(ctx context.Context, run Run, exec func(context.Context) (*pipeline.Summary, error), opts Options) (Result, error) {
	title := opts.Title
	if title == "" {
		title = "dsv-extract"
	}
	progOpts := []tea.ProgramOption{tea.WithContext(ctx), tea.WithoutSignalHandler()}
	if opts.Input != nil {
		progOpts = append(progOpts, tea.WithInput(opts.Input))
	}
	if opts.Output != nil {
		progOpts = append(progOpts, tea.WithOutput(opts.Output))
	}
	p := tea.NewProgram(NewModel(run, title, opts.LogPath), progOpts...)

	results := make(chan doneMsg, 1)
	go func() {
		summary, err := exec(ctx)
		msg := doneMsg{summary: summary, err: err}
		results <- msg
		p.Send(msg)
	}()

	final, err := p.Run()
	if err != nil && ctx.Err() == nil {
		return Result{}, fmt.Errorf("console: %w", err)
	}
	m, _ := final.(Model)
	if m.exited {
		return Result{Exited: true}, nil
	}
	res := <-results
	return Result{Summary: res.summary, Err: res.err}, nil
}
