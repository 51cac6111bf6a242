package progress

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/johndauphine/dsv-extract/internal/logging"
	"github.com/schollz/progressbar/v3"
)

// Tracker renders a progress bar for the entry being extracted.
type Tracker struct {
	mu        sync.Mutex
	bar       *progressbar.ProgressBar
	entry     string
	runRows   atomic.Int64
	startTime time.Time
}

// New creates a tracker.
func New() *Tracker {
	return &Tracker{startTime: time.Now()}
}

// StartEntry resets the bar for a new catalog entry. A total of 0 shows a
// spinner instead of a bounded bar.
func (t *Tracker) StartEntry(name string, total int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.bar != nil {
		t.bar.Finish()
	}
	t.entry = name
	max := total
	if max <= 0 {
		max = -1
	}
	t.bar = progressbar.NewOptions64(
		max,
		progressbar.OptionSetDescription(fmt.Sprintf("Extracting %s", name)),
		progressbar.OptionShowBytes(false),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("rows"),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// Add increments the row counter.
func (t *Tracker) Add(n int64) {
	t.runRows.Add(n)
	t.mu.Lock()
	bar := t.bar
	t.mu.Unlock()
	if bar != nil {
		bar.Add64(n)
	}
}

// EndEntry completes the bar for the current entry.
func (t *Tracker) EndEntry() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bar != nil {
		t.bar.Finish()
		t.bar = nil
		fmt.Println()
	}
}

// Finish ends any open bar and logs the run throughput.
func (t *Tracker) Finish() {
	t.EndEntry()

	elapsed := time.Since(t.startTime)
	rows := t.runRows.Load()
	var rowsPerSec float64
	if elapsed > 0 {
		rowsPerSec = float64(rows) / elapsed.Seconds()
	}

	logging.Info("Extraction complete: %d rows in %s (%.0f rows/sec)",
		rows, elapsed.Round(time.Second), rowsPerSec)
}
