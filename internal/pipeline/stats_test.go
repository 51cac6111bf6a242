package pipeline

import (
	"testing"
	"time"
)

func TestStats_String(t *testing.T) {
	tests := []struct {
		name     string
		stats    Stats
		expected string
	}{
		{
			name:     "empty stats",
			stats:    Stats{},
			expected: "no data",
		},
		{
			name: "balanced times",
			stats: Stats{
				QueryTime:  time.Second,
				EncodeTime: time.Second,
				WriteTime:  time.Second,
				Rows:       1000,
			},
			expected: "query=1.0s (33%), encode=1.0s (33%), write=1.0s (33%), rows=1000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := tt.stats.String(); result != tt.expected {
				t.Errorf("got %q, want %q", result, tt.expected)
			}
		})
	}
}

func TestStats_TotalTime(t *testing.T) {
	stats := Stats{
		QueryTime:  time.Second,
		EncodeTime: 2 * time.Second,
		WriteTime:  3 * time.Second,
	}

	total := stats.TotalTime()
	expected := 6 * time.Second

	if total != expected {
		t.Errorf("TotalTime() = %v, want %v", total, expected)
	}
}

func TestStats_RowsPerSecond(t *testing.T) {
	tests := []struct {
		name     string
		stats    Stats
		expected float64
	}{
		{
			name:     "zero time",
			stats:    Stats{Rows: 1000},
			expected: 0,
		},
		{
			name: "one second",
			stats: Stats{
				WriteTime: time.Second,
				Rows:      1000,
			},
			expected: 1000,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.stats.RowsPerSecond()
			if result != tt.expected {
				t.Errorf("RowsPerSecond() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestSummaryCounts(t *testing.T) {
	s := &Summary{Entries: []EntryResult{
		{Status: EntrySuccess, Rows: 10, Chunks: []string{"a.1.dsv", "a.2.dsv"}},
		{Status: EntryFailed},
		{Status: EntrySkipped},
		{Status: EntrySuccess, Rows: 5, Chunks: []string{"b.1.dsv"}},
	}}
	if s.Rows() != 15 || s.Chunks() != 3 {
		t.Errorf("Rows() = %d, Chunks() = %d", s.Rows(), s.Chunks())
	}
	if s.Count(EntrySuccess) != 2 || s.Count(EntryFailed) != 1 || s.Count(EntrySkipped) != 1 {
		t.Error("Count() mismatch")
	}
}

func TestStatusTransitions(t *testing.T) {
	var st state
	if st.Status() != NotStarted {
		t.Fatalf("initial status = %v", st.Status())
	}
	st.setPhase(PhaseLoadingCatalog)
	if st.Status() != Running {
		t.Errorf("status = %v, want RUNNING", st.Status())
	}
	st.setPhase(PhaseAborted)
	st.setPhase(PhaseComplete)
	if st.Status() != Aborted || st.Phase() != PhaseAborted {
		t.Errorf("aborted run moved to %v/%v", st.Status(), st.Phase())
	}
	if !st.Status().Done() || PhaseStreaming.String() != "streaming" {
		t.Error("String/Done mismatch")
	}
}
