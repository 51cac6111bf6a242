package checkpoint

import "errors"

// Recorder persists the progress of one extraction run.
// Implementations include SQLite history (State) and the output-dir manifest.
type Recorder interface {
	CreateRun(r Run, config any) error
	UpdatePhase(runID, phase string) error
	RecordEntry(e EntryRecord) error
	CompleteRun(id, status string, rows int64, errorMsg string) error
	Close() error
}

// HistoryBackend extends Recorder with queries and profile management.
// Only SQLite implements this.
type HistoryBackend interface {
	Recorder

	GetLastRun() (*Run, error)
	GetRunByID(runID string) (*Run, error)
	GetAllRuns() ([]Run, error)
	GetEntries(runID string) ([]EntryRecord, error)
	GetRunStats(runID string) (total, success, failed, skipped int, err error)

	SaveProfile(name, description string, config []byte) error
	GetProfile(name string) ([]byte, error)
	ListProfiles() ([]ProfileInfo, error)
	DeleteProfile(name string) error
}

var (
	_ HistoryBackend = (*State)(nil)
	_ Recorder       = (*Manifest)(nil)
	_ Recorder       = Recorders(nil)
)

// Recorders fans every call out to all recorders and joins their errors.
type Recorders []Recorder

func (rs Recorders) each(fn func(Recorder) error) error {
	var errs []error
	for _, r := range rs {
		if err := fn(r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (rs Recorders) CreateRun(r Run, config any) error {
	return rs.each(func(rec Recorder) error { return rec.CreateRun(r, config) })
}

func (rs Recorders) UpdatePhase(runID, phase string) error {
	return rs.each(func(rec Recorder) error { return rec.UpdatePhase(runID, phase) })
}

func (rs Recorders) RecordEntry(e EntryRecord) error {
	return rs.each(func(rec Recorder) error { return rec.RecordEntry(e) })
}

func (rs Recorders) CompleteRun(id, status string, rows int64, errorMsg string) error {
	return rs.each(func(rec Recorder) error { return rec.CompleteRun(id, status, rows, errorMsg) })
}

func (rs Recorders) Close() error {
	return rs.each(func(rec Recorder) error { return rec.Close() })
}
