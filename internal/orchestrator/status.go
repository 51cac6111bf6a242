package orchestrator

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/johndauphine/dsv-extract/internal/checkpoint"
	"github.com/johndauphine/dsv-extract/internal/pipeline"
)

// RunResult is the machine-readable outcome of a run, written by
// --output-json and --output-file.
type RunResult struct {
	RunID           string        `json:"run_id"`
	Status          string        `json:"status"`
	StartedAt       time.Time     `json:"started_at"`
	CompletedAt     time.Time     `json:"completed_at"`
	DurationSeconds float64       `json:"duration_seconds"`
	EntriesTotal    int           `json:"entries_total"`
	EntriesSuccess  int           `json:"entries_success"`
	EntriesFailed   int           `json:"entries_failed"`
	EntriesSkipped  int           `json:"entries_skipped"`
	RowsWritten     int64         `json:"rows_written"`
	RowsPerSecond   int64         `json:"rows_per_second"`
	ChunksWritten   int           `json:"chunks_written"`
	FailedEntries   []string      `json:"failed_entries"`
	EntryStats      []EntryResult `json:"entry_stats"`
	Error           string        `json:"error,omitempty"`
}

// EntryResult is the outcome of one catalog entry.
type EntryResult struct {
	Name            string   `json:"name,omitempty"`
	Line            int      `json:"line"`
	Status          string   `json:"status"`
	Rows            int64    `json:"rows"`
	Chunks          []string `json:"chunks,omitempty"`
	Documents       int64    `json:"documents,omitempty"`
	FailedDocuments int64    `json:"failed_documents,omitempty"`
	Error           string   `json:"error,omitempty"`
}

// StatusResult describes the last recorded run.
type StatusResult struct {
	RunID          string    `json:"run_id"`
	Status         string    `json:"status"`
	Phase          string    `json:"phase"`
	StartedAt      time.Time `json:"started_at"`
	EntriesTotal   int       `json:"entries_total"`
	EntriesSuccess int       `json:"entries_success"`
	EntriesFailed  int       `json:"entries_failed"`
	EntriesSkipped int       `json:"entries_skipped"`
	RowsWritten    int64     `json:"rows_written"`
}

func buildResult(runID, status string, summary *pipeline.Summary, runErr error) *RunResult {
	result := &RunResult{
		RunID:         runID,
		Status:        status,
		FailedEntries: []string{},
		EntryStats:    []EntryResult{},
	}
	if runErr != nil {
		result.Error = runErr.Error()
	}
	if summary == nil {
		return result
	}

	result.StartedAt = summary.Started
	result.CompletedAt = summary.Finished
	if !summary.Finished.IsZero() {
		result.DurationSeconds = summary.Duration().Seconds()
	}
	for _, e := range summary.Entries {
		er := EntryResult{
			Name:            e.Name,
			Line:            e.Line,
			Status:          string(e.Status),
			Rows:            e.Rows,
			Chunks:          e.Chunks,
			Documents:       e.Documents,
			FailedDocuments: e.FailedDocs,
		}
		if e.Err != nil {
			er.Error = e.Err.Error()
		}
		result.addEntry(er)
	}
	if result.DurationSeconds > 0 {
		result.RowsPerSecond = int64(float64(result.RowsWritten) / result.DurationSeconds)
	}
	return result
}

func (r *RunResult) addEntry(e EntryResult) {
	r.EntryStats = append(r.EntryStats, e)
	r.EntriesTotal++
	r.RowsWritten += e.Rows
	r.ChunksWritten += len(e.Chunks)
	switch e.Status {
	case string(pipeline.EntrySuccess):
		r.EntriesSuccess++
	case string(pipeline.EntryFailed):
		r.EntriesFailed++
		name := e.Name
		if name == "" {
			name = fmt.Sprintf("line %d", e.Line)
		}
		r.FailedEntries = append(r.FailedEntries, name)
	case string(pipeline.EntrySkipped):
		r.EntriesSkipped++
	}
}

// GetRunResult rebuilds a RunResult for a recorded run.
func (o *Orchestrator) GetRunResult(runID string) (*RunResult, error) {
	run, err := o.state.GetRunByID(runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, fmt.Errorf("run %s not found", runID)
	}
	entries, err := o.state.GetEntries(run.ID)
	if err != nil {
		return nil, err
	}

	result := &RunResult{
		RunID:         run.ID,
		Status:        run.Status,
		StartedAt:     run.StartedAt,
		Error:         run.Error,
		FailedEntries: []string{},
		EntryStats:    []EntryResult{},
	}
	if run.CompletedAt != nil {
		result.CompletedAt = *run.CompletedAt
		result.DurationSeconds = run.CompletedAt.Sub(run.StartedAt).Seconds()
	} else if run.Status == StatusRunning {
		result.DurationSeconds = time.Since(run.StartedAt).Seconds()
	}
	for _, e := range entries {
		result.addEntry(EntryResult{
			Name:            e.Name,
			Line:            e.Line,
			Status:          e.Status,
			Rows:            e.Rows,
			Chunks:          e.Chunks,
			Documents:       e.Documents,
			FailedDocuments: e.FailedDocs,
			Error:           e.Error,
		})
	}
	if result.DurationSeconds > 0 {
		result.RowsPerSecond = int64(float64(result.RowsWritten) / result.DurationSeconds)
	}
	return result, nil
}

// GetStatusResult describes the most recent run.
func (o *Orchestrator) GetStatusResult() (*StatusResult, error) {
	run, err := o.state.GetLastRun()
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, fmt.Errorf("no extraction runs recorded")
	}
	total, success, failed, skipped, err := o.state.GetRunStats(run.ID)
	if err != nil {
		return nil, err
	}
	phase := run.Phase
	if phase == "" {
		phase = pipeline.PhaseInit.String()
	}
	return &StatusResult{
		RunID:          run.ID,
		Status:         run.Status,
		Phase:          phase,
		StartedAt:      run.StartedAt,
		EntriesTotal:   total,
		EntriesSuccess: success,
		EntriesFailed:  failed,
		EntriesSkipped: skipped,
		RowsWritten:    run.Rows,
	}, nil
}

// ShowStatus prints the status of the most recent run.
func (o *Orchestrator) ShowStatus(w io.Writer) error {
	st, err := o.GetStatusResult()
	if err != nil {
		fmt.Fprintln(w, "No extraction runs recorded")
		return nil
	}

	fmt.Fprintf(w, "Run: %s\n", st.RunID)
	fmt.Fprintf(w, "Status: %s (%s)\n", st.Status, st.Phase)
	fmt.Fprintf(w, "Started: %s\n", st.StartedAt.Format(time.RFC3339))
	if st.EntriesTotal > 0 {
		fmt.Fprintf(w, "Entries: %d total, %d success, %d failed, %d skipped\n",
			st.EntriesTotal, st.EntriesSuccess, st.EntriesFailed, st.EntriesSkipped)
	}
	fmt.Fprintf(w, "Rows: %d\n", st.RowsWritten)
	if st.Status == StatusRunning {
		fmt.Fprintln(w, "The run has not recorded completion; it is still active or was killed.")
	}
	return nil
}

// ShowHistory prints recent runs.
func (o *Orchestrator) ShowHistory(w io.Writer) error {
	runs, err := o.state.GetAllRuns()
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(w, "No extraction history")
		return nil
	}

	fmt.Fprintf(w, "%-10s %-20s %-20s %-10s %12s %-30s\n", "ID", "Started", "Completed", "Status", "Rows", "Origin")
	fmt.Fprintln(w, strings.Repeat("-", 107))
	for _, r := range runs {
		completed := "-"
		if r.CompletedAt != nil {
			completed = r.CompletedAt.Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(w, "%-10s %-20s %-20s %-10s %12d %-30s\n",
			r.ID, r.StartedAt.Format("2006-01-02 15:04:05"), completed, r.Status, r.Rows, runOrigin(&r))
		if r.Error != "" {
			fmt.Fprintf(w, "           Error: %s\n", r.Error)
		}
	}

	fmt.Fprintln(w, "\nUse 'history --run <ID>' to view run details")
	return nil
}

// ShowRunDetails prints one run with its entries and stored configuration.
func (o *Orchestrator) ShowRunDetails(w io.Writer, runID string) error {
	run, err := o.state.GetRunByID(runID)
	if err != nil {
		return fmt.Errorf("getting run: %w", err)
	}
	if run == nil {
		return fmt.Errorf("run not found: %s", runID)
	}

	fmt.Fprintf(w, "Run ID:      %s\n", run.ID)
	fmt.Fprintf(w, "Status:      %s\n", run.Status)
	if run.Error != "" {
		fmt.Fprintf(w, "Error:       %s\n", run.Error)
	}
	fmt.Fprintf(w, "Started:     %s\n", run.StartedAt.Format("2006-01-02 15:04:05"))
	if run.CompletedAt != nil {
		fmt.Fprintf(w, "Completed:   %s\n", run.CompletedAt.Format("2006-01-02 15:04:05"))
		fmt.Fprintf(w, "Duration:    %s\n", run.CompletedAt.Sub(run.StartedAt).Round(time.Second))
	}
	fmt.Fprintf(w, "Source:      %s\n", run.SourceType)
	fmt.Fprintf(w, "Catalog:     %s\n", run.Catalog)
	fmt.Fprintf(w, "Output:      %s\n", run.OutputDir)
	if origin := runOrigin(run); origin != "" {
		fmt.Fprintf(w, "Origin:      %s\n", origin)
	}

	entries, err := o.state.GetEntries(run.ID)
	if err != nil {
		return err
	}
	if len(entries) > 0 {
		fmt.Fprintf(w, "\n%-6s %-30s %-8s %12s %s\n", "Line", "Entry", "Status", "Rows", "Chunks / Error")
		fmt.Fprintln(w, strings.Repeat("-", 80))
		for _, e := range entries {
			detail := fmt.Sprintf("%d", len(e.Chunks))
			if e.Error != "" {
				detail = truncate(e.Error, 40)
			}
			fmt.Fprintf(w, "%-6d %-30s %-8s %12d %s\n", e.Line, truncate(e.Name, 30), e.Status, e.Rows, detail)
		}
	}

	if run.Config != "" {
		fmt.Fprintln(w, "\nConfiguration:")
		fmt.Fprintln(w, "--------------")
		var cfg any
		if err := json.Unmarshal([]byte(run.Config), &cfg); err == nil {
			pretty, _ := json.MarshalIndent(cfg, "", "  ")
			fmt.Fprintln(w, string(pretty))
		} else {
			fmt.Fprintln(w, run.Config)
		}
	}
	return nil
}

// PruneHistory deletes finished runs that completed more than retention ago.
func (o *Orchestrator) PruneHistory(retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, fmt.Errorf("retention must be positive, got %s", retention)
	}
	return o.state.CleanupOldRuns(retention)
}

func runOrigin(r *checkpoint.Run) string {
	if r == nil {
		return ""
	}
	if r.ProfileName != "" {
		return "profile:" + r.ProfileName
	}
	if r.ConfigPath != "" {
		return "config:" + r.ConfigPath
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
