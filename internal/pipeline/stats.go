package pipeline

import (
	"fmt"
	"time"

	"github.com/johndauphine/dsv-extract/internal/catalog"
)

// EntryStatus is the outcome of one catalog line.
type EntryStatus string

const (
	EntrySuccess EntryStatus = "success"
	EntryFailed  EntryStatus = "failed"
	EntrySkipped EntryStatus = "skipped"
)

// EntryResult is the explicit per-entry outcome.
type EntryResult struct {
	Name       string
	Line       int
	Status     EntryStatus
	Rows       int64
	Chunks     []string
	Documents  int64
	FailedDocs int64
	Stats      Stats
	Err        error
	Skip       *catalog.SkipReason
}

// Stats splits the time spent on an entry.
type Stats struct {
	QueryTime  time.Duration // execute until the first row or page
	EncodeTime time.Duration
	WriteTime  time.Duration
	Rows       int64
}

// TotalTime returns the sum of all phases.
func (s Stats) TotalTime() time.Duration {
	return s.QueryTime + s.EncodeTime + s.WriteTime
}

// RowsPerSecond returns throughput over the total time.
func (s Stats) RowsPerSecond() float64 {
	total := s.TotalTime()
	if total <= 0 {
		return 0
	}
	return float64(s.Rows) / total.Seconds()
}

func (s Stats) String() string {
	total := s.TotalTime()
	if total <= 0 {
		return "no data"
	}
	pct := func(d time.Duration) float64 { return float64(d) / float64(total) * 100 }
	return fmt.Sprintf("query=%.1fs (%.0f%%), encode=%.1fs (%.0f%%), write=%.1fs (%.0f%%), rows=%d",
		s.QueryTime.Seconds(), pct(s.QueryTime),
		s.EncodeTime.Seconds(), pct(s.EncodeTime),
		s.WriteTime.Seconds(), pct(s.WriteTime),
		s.Rows)
}

// Summary is the result of a whole run.
type Summary struct {
	Started  time.Time
	Finished time.Time
	Entries  []EntryResult
	Aborted  bool
}

// Duration returns the wall time of the run.
func (s *Summary) Duration() time.Duration {
	return s.Finished.Sub(s.Started)
}

// Rows returns the rows written across all entries.
func (s *Summary) Rows() int64 {
	var n int64
	for _, e := range s.Entries {
		n += e.Rows
	}
	return n
}

// Chunks returns the number of chunk files written.
func (s *Summary) Chunks() int {
	var n int
	for _, e := range s.Entries {
		n += len(e.Chunks)
	}
	return n
}

// Count returns the number of entries with the given status.
func (s *Summary) Count(status EntryStatus) int {
	var n int
	for _, e := range s.Entries {
		if e.Status == status {
			n++
		}
	}
	return n
}
