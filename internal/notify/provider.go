package notify

import "time"

// Provider defines the notification contract for extraction runs.
type Provider interface {
	// RunStarted is sent once the catalog has been counted.
	RunStarted(runID, source, catalog string, entryCount int) error

	// RunCompleted is sent when every entry succeeded.
	RunCompleted(runID string, startTime time.Time, duration time.Duration, entryCount int, rowCount int64, throughput float64) error

	// RunFailed is sent when the run aborts.
	RunFailed(runID string, err error, duration time.Duration) error

	// RunCompletedWithFailures is sent when the catalog finished but some entries failed.
	RunCompletedWithFailures(runID string, startTime time.Time, duration time.Duration, succeeded, failed int, rowCount int64, throughput float64, failures []string) error

	// EntryFailed is sent for each failed catalog entry.
	EntryFailed(runID, entry string, err error) error
}

var _ Provider = (*Notifier)(nil)
