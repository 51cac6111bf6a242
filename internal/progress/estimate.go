package progress

import (
	"fmt"
	"time"
)

// Snapshot is a point-in-time view of one entry's progress.
type Snapshot struct {
	Start     time.Time
	Processed int64
	Total     int64
}

// Percent returns processed as a percentage of total, or 0 when the total is unknown.
func Percent(processed, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(processed) / float64(total) * 100
}

// EstimateCompletion projects the completion time from the rate observed
// between start and now. With nothing processed yet it returns now.
func EstimateCompletion(start time.Time, processed, total int64, now time.Time) time.Time {
	pct := Percent(processed, total)
	if pct <= 0 {
		return now
	}
	elapsed := now.Sub(start)
	projected := time.Duration(float64(elapsed) / pct * 100)
	return now.Add(projected - elapsed)
}

// Percent returns the completion percentage of s.
func (s Snapshot) Percent() float64 {
	return Percent(s.Processed, s.Total)
}

// ETA returns the estimated completion time. ok is false when the total is
// unknown or nothing has been processed.
func (s Snapshot) ETA(now time.Time) (eta time.Time, ok bool) {
	if s.Total <= 0 || s.Processed <= 0 {
		return time.Time{}, false
	}
	return EstimateCompletion(s.Start, s.Processed, s.Total, now), true
}

// String renders the line logged on each progress tick.
func (s Snapshot) String() string {
	return s.Line(time.Now())
}

// Line renders the progress line as of now.
func (s Snapshot) Line(now time.Time) string {
	eta, ok := s.ETA(now)
	if !ok {
		return fmt.Sprintf("Processed: %d", s.Processed)
	}
	return fmt.Sprintf("Processed: %d of: %d (%.2f%%), estimated completion %s",
		s.Processed, s.Total, s.Percent(), eta.Format("2006-01-02 15:04:05"))
}

// FormatDuration renders d as "D days, H hours, M min and S sec(s)". A span
// that rounds down to zero seconds is shown as one second.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	days := total / 86400
	hours := total % 86400 / 3600
	mins := total % 3600 / 60
	secs := total % 60
	if total == 0 {
		secs = 1
	}
	return fmt.Sprintf("%d days, %d hours, %d min and %d sec(s)", days, hours, mins, secs)
}
