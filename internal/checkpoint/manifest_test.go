package checkpoint

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestManifestLifecycle(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	m, err := NewManifest(dir)
	if err != nil {
		t.Fatalf("NewManifest() error: %v", err)
	}
	if m.Run() != nil {
		t.Error("empty manifest should have no run")
	}

	run := Run{ID: "abc123", StartedAt: time.Now(), SourceType: "s3docs", Catalog: "docs.txt", ProfileName: "claims"}
	if err := m.CreateRun(run, map[string]string{"bucket": "claims"}); err != nil {
		t.Fatalf("CreateRun() error: %v", err)
	}
	if err := m.RecordEntry(EntryRecord{RunID: "abc123", Line: 1, Name: "claims", Status: "success",
		Rows: 4, Documents: 5, FailedDocs: 1, Chunks: []string{"claims.1.dsv"}}); err != nil {
		t.Fatalf("RecordEntry() error: %v", err)
	}
	if err := m.RecordEntry(EntryRecord{RunID: "other", Line: 2}); err == nil {
		t.Error("expected run ID mismatch")
	}
	if err := m.CompleteRun("abc123", "success", 4, ""); err != nil {
		t.Fatalf("CompleteRun() error: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, ManifestName))
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"run_id: abc123", "claims.1.dsv", "failed_documents: 1", "status: success"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("manifest missing %q:\n%s", want, data)
		}
	}

	reloaded, err := NewManifest(dir)
	if err != nil {
		t.Fatal(err)
	}
	r := reloaded.Run()
	if r == nil || r.ID != "abc123" || r.Rows != 4 || r.CompletedAt == nil {
		t.Errorf("reloaded run = %+v", r)
	}
	if entries := reloaded.Entries(); len(entries) != 1 || entries[0].Chunks[0] != "claims.1.dsv" {
		t.Errorf("reloaded entries = %+v", entries)
	}
}

type failingRecorder struct{ calls int }

func (f *failingRecorder) CreateRun(Run, any) error                        { f.calls++; return errors.New("disk full") }
func (f *failingRecorder) UpdatePhase(string, string) error                { f.calls++; return nil }
func (f *failingRecorder) RecordEntry(EntryRecord) error                   { f.calls++; return nil }
func (f *failingRecorder) CompleteRun(string, string, int64, string) error { f.calls++; return nil }
func (f *failingRecorder) Close() error                                    { f.calls++; return nil }

func TestRecordersFanOut(t *testing.T) {
	m, err := NewManifest(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	bad := &failingRecorder{}
	rs := Recorders{bad, m}

	err = rs.CreateRun(Run{ID: "r1", StartedAt: time.Now()}, nil)
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Errorf("CreateRun() error = %v", err)
	}
	if m.Run() == nil {
		t.Error("a failing recorder must not stop the others")
	}
	if err := rs.UpdatePhase("r1", "streaming"); err != nil {
		t.Error(err)
	}
	if err := rs.Close(); err != nil {
		t.Error(err)
	}
	if bad.calls != 3 {
		t.Errorf("calls = %d", bad.calls)
	}
}
