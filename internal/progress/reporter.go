package progress

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/johndauphine/dsv-extract/internal/logging"
)

// ProgressUpdate is one JSON progress line for automation.
type ProgressUpdate struct {
	Timestamp      string  `json:"timestamp"`
	Phase          string  `json:"phase"`
	Entry          string  `json:"entry,omitempty"`
	EntriesDone    int     `json:"entries_done"`
	EntriesTotal   int     `json:"entries_total"`
	RowsWritten    int64   `json:"rows_written"`
	RowsTotal      int64   `json:"rows_total,omitempty"`
	ProgressPct    float64 `json:"progress_pct"`
	ETA            string  `json:"eta,omitempty"`
	ChunksWritten  int     `json:"chunks_written,omitempty"`
	EntriesFailed  int     `json:"entries_failed,omitempty"`
	EntriesSkipped int     `json:"entries_skipped,omitempty"`
}

// Reporter emits progress updates.
type Reporter interface {
	// Report emits an update, possibly throttled.
	Report(update ProgressUpdate)
	// ReportImmediate emits an update without throttling.
	ReportImmediate(update ProgressUpdate)
	Close()
}

// JSONReporter writes one JSON object per line, typically to stderr.
type JSONReporter struct {
	writer     io.Writer
	mu         sync.Mutex
	interval   time.Duration
	lastReport time.Time
	closed     bool
}

// NewJSONReporter creates a reporter that emits at most one throttled update per interval.
func NewJSONReporter(writer io.Writer, interval time.Duration) *JSONReporter {
	if writer == nil {
		writer = os.Stderr
	}
	return &JSONReporter{
		writer:   writer,
		interval: interval,
	}
}

// Report emits update unless the previous one was less than interval ago.
func (r *JSONReporter) Report(update ProgressUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	now := time.Now()
	if r.interval > 0 && now.Sub(r.lastReport) < r.interval {
		return
	}
	r.emit(update, now)
}

// ReportImmediate emits update regardless of throttling. Used on phase changes.
func (r *JSONReporter) ReportImmediate(update ProgressUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.emit(update, time.Now())
}

func (r *JSONReporter) emit(update ProgressUpdate, now time.Time) {
	if update.Timestamp == "" {
		update.Timestamp = now.Format(time.RFC3339)
	}
	data, err := json.Marshal(update)
	if err != nil {
		logging.Warn("Failed to marshal progress update: %v", err)
		return
	}
	fmt.Fprintln(r.writer, string(data))
	r.lastReport = now
}

// Close stops further output.
func (r *JSONReporter) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
}

// NullReporter discards updates.
type NullReporter struct{}

func (r *NullReporter) Report(update ProgressUpdate)          {}
func (r *NullReporter) ReportImmediate(update ProgressUpdate) {}
func (r *NullReporter) Close()                                {}
