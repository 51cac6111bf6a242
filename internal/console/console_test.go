package console

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/johndauphine/dsv-extract/internal/pipeline"
	"github.com/johndauphine/dsv-extract/internal/progress"
)

type fakeRun struct {
	entry  string
	snap   progress.Snapshot
	counts pipeline.Counts
	phase  pipeline.Phase
	status pipeline.RunStatus
	exits  []string
}

func (f *fakeRun) Progress() (string, progress.Snapshot) { return f.entry, f.snap }
func (f *fakeRun) Counts() pipeline.Counts               { return f.counts }
func (f *fakeRun) Phase() pipeline.Phase                 { return f.phase }
func (f *fakeRun) Status() pipeline.RunStatus            { return f.status }
func (f *fakeRun) ExitImmediately(msg string)            { f.exits = append(f.exits, msg); f.status = pipeline.Aborted }

func key(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestExitKeyAbortsRun(t *testing.T) {
	run := &fakeRun{phase: pipeline.PhaseStreaming, status: pipeline.Running}
	m := NewModel(run, "test", "")

	updated, cmd := m.Update(key(ExitKey))
	if cmd == nil {
		t.Fatal("exit key should quit the program")
	}
	if len(run.exits) != 1 {
		t.Fatalf("ExitImmediately called %d times", len(run.exits))
	}
	if !updated.(Model).Exited() {
		t.Error("model should record the exit")
	}
	if !strings.Contains(updated.View(), "Exited immediately") {
		t.Errorf("view after exit:\n%s", updated.View())
	}
}

func TestOtherKeysIgnoredWhileRunning(t *testing.T) {
	run := &fakeRun{status: pipeline.Running}
	m := NewModel(run, "test", "")
	for _, k := range []string{"q", "a"} {
		next, cmd := m.Update(key(k))
		if cmd != nil {
			t.Errorf("key %q returned a command", k)
		}
		m = next.(Model)
	}
	if len(run.exits) != 0 {
		t.Error("only the exit key may abort")
	}
}

func TestDoneMessageQuits(t *testing.T) {
	run := &fakeRun{phase: pipeline.PhaseComplete, status: pipeline.Complete}
	m := NewModel(run, "test", "")

	next, cmd := m.Update(doneMsg{err: errors.New("catalog missing")})
	if cmd == nil {
		t.Fatal("done message should quit")
	}
	view := next.View()
	if !strings.Contains(view, "catalog missing") || !strings.Contains(view, "COMPLETE") {
		t.Errorf("view:\n%s", view)
	}

	// The exit key after completion only closes the view.
	next.(Model).Update(key(ExitKey))
	if len(run.exits) != 0 {
		t.Error("ExitImmediately called after completion")
	}
}

func TestViewShowsProgress(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	run := &fakeRun{
		entry:  "custA",
		snap:   progress.Snapshot{Start: now.Add(-time.Minute), Processed: 50, Total: 100},
		counts: pipeline.Counts{Total: 4, Done: 2, Failed: 1, Rows: 1200, Chunks: 3},
		phase:  pipeline.PhaseStreaming,
		status: pipeline.Running,
	}
	m := NewModel(run, "dsv-extract", "logs/run.txt")
	m.now = func() time.Time { return now }
	m.started = now.Add(-2 * time.Minute)

	view := m.View()
	for _, want := range []string{
		"custA",
		"50/100 rows (50.0%)",
		"ETA 12:01:00",
		"1 succeeded, 1 failed, 0 skipped",
		"1200 in 3 chunk files",
		"logs/run.txt",
		"RUNNING",
		`Press "x"`,
	} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
}
