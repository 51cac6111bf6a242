package checkpoint

import (
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"os"
	"strings"
	"testing"
	"time"
)

func newState(t *testing.T) *State {
	t.Helper()
	state, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(func() { state.Close() })
	return state
}

func countRows(t *testing.T, db *sql.DB, query string, args ...any) int {
	t.Helper()
	var count int
	if err := db.QueryRow(query, args...).Scan(&count); err != nil {
		t.Fatalf("count query error: %v", err)
	}
	return count
}

func TestRunLifecycle(t *testing.T) {
	state := newState(t)

	run := Run{ID: "run-1", StartedAt: time.Now(), SourceType: "oracle", Catalog: "queries.txt", OutputDir: "out"}
	if err := state.CreateRun(run, map[string]string{"delimiter": "|"}); err != nil {
		t.Fatalf("CreateRun() error: %v", err)
	}
	if err := state.UpdatePhase("run-1", "streaming"); err != nil {
		t.Fatalf("UpdatePhase() error: %v", err)
	}
	for _, e := range []EntryRecord{
		{RunID: "run-1", Line: 1, Status: "skipped"},
		{RunID: "run-1", Line: 2, Name: "custA", Status: "success", Rows: 7, Chunks: []string{"custA.1.dsv", "custA.2.dsv"}},
		{RunID: "run-1", Line: 3, Name: "orders", Status: "failed", Error: "ORA-00942"},
	} {
		if err := state.RecordEntry(e); err != nil {
			t.Fatalf("RecordEntry() error: %v", err)
		}
	}

	last, err := state.GetLastRun()
	if err != nil || last == nil {
		t.Fatalf("GetLastRun() = %v, %v", last, err)
	}
	if last.Status != "running" || last.Phase != "streaming" || last.SourceType != "oracle" {
		t.Errorf("last run = %+v", last)
	}

	if err := state.CompleteRun("run-1", "partial", 7, ""); err != nil {
		t.Fatalf("CompleteRun() error: %v", err)
	}
	got, err := state.GetRunByID("run-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != "partial" || got.Rows != 7 || got.CompletedAt == nil {
		t.Errorf("completed run = %+v", got)
	}

	entries, err := state.GetEntries("run-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 || entries[1].Name != "custA" || len(entries[1].Chunks) != 2 {
		t.Errorf("entries = %+v", entries)
	}
	total, success, failed, skipped, err := state.GetRunStats("run-1")
	if err != nil {
		t.Fatal(err)
	}
	if total != 3 || success != 1 || failed != 1 || skipped != 1 {
		t.Errorf("stats = %d/%d/%d/%d", total, success, failed, skipped)
	}

	if r, err := state.GetRunByID("missing"); err != nil || r != nil {
		t.Errorf("GetRunByID(missing) = %v, %v", r, err)
	}
	runs, err := state.GetAllRuns()
	if err != nil || len(runs) != 1 {
		t.Errorf("GetAllRuns() = %d, %v", len(runs), err)
	}
}

func TestCleanupOldRuns(t *testing.T) {
	state := newState(t)

	ids := []string{"old-success", "old-failed", "recent-success", "running"}
	for _, id := range ids {
		if err := state.CreateRun(Run{ID: id, StartedAt: time.Now(), SourceType: "postgres", Catalog: "c", OutputDir: "o"}, nil); err != nil {
			t.Fatalf("CreateRun(%s) error: %v", id, err)
		}
		if err := state.RecordEntry(EntryRecord{RunID: id, Line: 1, Name: "t", Status: "success"}); err != nil {
			t.Fatal(err)
		}
	}
	for _, id := range ids[:3] {
		if err := state.CompleteRun(id, "success", 0, ""); err != nil {
			t.Fatal(err)
		}
	}

	oldTime := time.Now().UTC().AddDate(0, 0, -31).Format(sqliteTime)
	if _, err := state.db.Exec(`UPDATE runs SET completed_at = ? WHERE id IN (?, ?)`, oldTime, ids[0], ids[1]); err != nil {
		t.Fatal(err)
	}

	deleted, err := state.CleanupOldRuns(30 * 24 * time.Hour)
	if err != nil {
		t.Fatalf("CleanupOldRuns error: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("deleted runs = %d, want 2", deleted)
	}
	if got := countRows(t, state.db, `SELECT COUNT(*) FROM runs`); got != 2 {
		t.Errorf("runs remaining = %d, want 2", got)
	}
	if got := countRows(t, state.db, `SELECT COUNT(*) FROM entries`); got != 2 {
		t.Errorf("entries remaining = %d, want 2", got)
	}
}

func setMasterKey(t *testing.T) {
	t.Helper()
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatal(err)
	}
	t.Setenv(MasterKeyEnv, base64.StdEncoding.EncodeToString(key))
}

func TestProfiles(t *testing.T) {
	setMasterKey(t)
	state := newState(t)

	config := []byte("source:\n  type: oracle\n  password: tiger\n")
	if err := state.SaveProfile("nightly", "nightly warehouse pull", config); err != nil {
		t.Fatalf("SaveProfile() error: %v", err)
	}

	var stored []byte
	if err := state.db.QueryRow(`SELECT config_enc FROM profiles WHERE name = ?`, "nightly").Scan(&stored); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(stored), "tiger") {
		t.Error("profile stored in plaintext")
	}

	got, err := state.GetProfile("nightly")
	if err != nil {
		t.Fatalf("GetProfile() error: %v", err)
	}
	if string(got) != string(config) {
		t.Errorf("GetProfile() = %q", got)
	}

	list, err := state.ListProfiles()
	if err != nil || len(list) != 1 || list[0].Description != "nightly warehouse pull" {
		t.Errorf("ListProfiles() = %+v, %v", list, err)
	}

	if err := state.DeleteProfile("nightly"); err != nil {
		t.Fatal(err)
	}
	if _, err := state.GetProfile("nightly"); !errors.Is(err, ErrProfileNotFound) {
		t.Errorf("GetProfile after delete = %v", err)
	}
	if err := state.DeleteProfile("nightly"); !errors.Is(err, ErrProfileNotFound) {
		t.Errorf("second DeleteProfile = %v", err)
	}
}

func TestProfileBoundToName(t *testing.T) {
	setMasterKey(t)
	sealed, err := sealProfile("a", []byte("secret"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := openProfile("b", sealed); err == nil {
		t.Error("opening under another name should fail")
	}
	if _, err := openProfile("a", sealed[:5]); err == nil {
		t.Error("truncated payload should fail")
	}
}

func TestProfileRequiresMasterKey(t *testing.T) {
	t.Setenv(MasterKeyEnv, "")
	os.Unsetenv(MasterKeyEnv)
	state := newState(t)
	if err := state.SaveProfile("x", "", []byte("y")); err == nil || !strings.Contains(err.Error(), MasterKeyEnv) {
		t.Errorf("SaveProfile() error = %v", err)
	}
}
