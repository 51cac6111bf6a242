package progress

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestPercent(t *testing.T) {
	tests := []struct {
		processed, total int64
		want             float64
	}{
		{0, 0, 0},
		{10, 0, 0},
		{10, -1, 0},
		{25, 100, 25},
		{100, 100, 100},
	}
	for _, tt := range tests {
		if got := Percent(tt.processed, tt.total); got != tt.want {
			t.Errorf("Percent(%d, %d) = %v, want %v", tt.processed, tt.total, got, tt.want)
		}
	}
}

func TestEstimateCompletionHalfway(t *testing.T) {
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	elapsed := 90 * time.Second
	now := start.Add(elapsed)

	got := EstimateCompletion(start, 50, 100, now)
	want := now.Add(elapsed)
	if diff := got.Sub(want); diff < -time.Millisecond || diff > time.Millisecond {
		t.Errorf("EstimateCompletion() = %v, want %v", got, want)
	}
}

func TestEstimateCompletionQuarter(t *testing.T) {
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	now := start.Add(time.Minute)

	got := EstimateCompletion(start, 25, 100, now)
	want := now.Add(3 * time.Minute)
	if diff := got.Sub(want); diff < -time.Millisecond || diff > time.Millisecond {
		t.Errorf("EstimateCompletion() = %v, want %v", got, want)
	}
}

func TestSnapshotETASuppressedWithoutTotal(t *testing.T) {
	s := Snapshot{Start: time.Now(), Processed: 10, Total: 0}
	if _, ok := s.ETA(time.Now()); ok {
		t.Error("ETA should be unavailable without a total")
	}
	if line := s.Line(time.Now()); line != "Processed: 10" {
		t.Errorf("Line() = %q", line)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0 days, 0 hours, 0 min and 1 sec(s)"},
		{999 * time.Millisecond, "0 days, 0 hours, 0 min and 1 sec(s)"},
		{time.Second, "0 days, 0 hours, 0 min and 1 sec(s)"},
		{61 * time.Second, "0 days, 0 hours, 1 min and 1 sec(s)"},
		{2*time.Minute + 500*time.Millisecond, "0 days, 0 hours, 2 min and 0 sec(s)"},
		{26*time.Hour + 3*time.Minute + 4*time.Second, "1 days, 2 hours, 3 min and 4 sec(s)"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.d); got != tt.want {
			t.Errorf("FormatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestJSONReporter(t *testing.T) {
	var buf bytes.Buffer
	r := NewJSONReporter(&buf, time.Hour)

	r.ReportImmediate(ProgressUpdate{Phase: "extracting", Entry: "custA", RowsWritten: 2})
	r.Report(ProgressUpdate{Phase: "extracting", RowsWritten: 3})
	r.Close()
	r.ReportImmediate(ProgressUpdate{Phase: "complete"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("lines = %d, want 1 (throttled and closed): %q", len(lines), buf.String())
	}
	var got ProgressUpdate
	if err := json.Unmarshal([]byte(lines[0]), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Entry != "custA" || got.RowsWritten != 2 || got.Timestamp == "" {
		t.Errorf("update = %+v", got)
	}
}
