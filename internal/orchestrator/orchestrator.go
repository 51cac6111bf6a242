package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/johndauphine/dsv-extract/internal/catalog"
	"github.com/johndauphine/dsv-extract/internal/checkpoint"
	"github.com/johndauphine/dsv-extract/internal/config"
	"github.com/johndauphine/dsv-extract/internal/exitcodes"
	"github.com/johndauphine/dsv-extract/internal/logging"
	"github.com/johndauphine/dsv-extract/internal/metrics"
	"github.com/johndauphine/dsv-extract/internal/notify"
	"github.com/johndauphine/dsv-extract/internal/pipeline"
	"github.com/johndauphine/dsv-extract/internal/progress"
	"github.com/johndauphine/dsv-extract/internal/source"
	"github.com/johndauphine/dsv-extract/internal/writer"
)

// Run statuses recorded in history.
const (
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusPartial = "partial"
	StatusFailed  = "failed"
	StatusAborted = "aborted"
)

// Options configures an Orchestrator.
type Options struct {
	// RunID overrides the generated run ID.
	RunID string
	// ProfileName and ConfigPath record where the config came from.
	ProfileName string
	ConfigPath  string
	// ProgressBar renders a progress bar per entry.
	ProgressBar bool
	// Reporter receives JSON progress updates.
	Reporter progress.Reporter
	// Notifier overrides the Slack notifier built from the config.
	Notifier notify.Provider
}

// Orchestrator coordinates one extraction run: it builds the source and the
// pipeline, records history and sends notifications.
type Orchestrator struct {
	config   *config.Config
	opts     Options
	state    *checkpoint.State
	notifier notify.Provider
	metrics  *metrics.Collector

	mu        sync.Mutex
	runID     string
	startTime time.Time
	pipeline  *pipeline.Pipeline
	recorders checkpoint.Recorders
	finished  bool
}

// New creates an orchestrator and opens the history store.
func New(cfg *config.Config, opts Options) (*Orchestrator, error) {
	state, err := checkpoint.New(cfg.History.DataDir)
	if err != nil {
		return nil, exitcodes.NewExitError(fmt.Errorf("creating state manager: %w", err), exitcodes.StateError)
	}

	notifier := opts.Notifier
	if notifier == nil {
		notifier = notify.New(&cfg.Slack)
	}

	runID := opts.RunID
	if runID == "" {
		runID = uuid.New().String()[:8]
	}

	return &Orchestrator{
		config:   cfg,
		opts:     opts,
		state:    state,
		notifier: notifier,
		metrics:  metrics.New(),
		runID:    runID,
	}, nil
}

// Close releases the history store.
func (o *Orchestrator) Close() {
	if err := o.state.Close(); err != nil {
		logging.Warn("Closing state: %v", err)
	}
}

// RunID returns the ID of the run this orchestrator executes.
func (o *Orchestrator) RunID() string {
	return o.runID
}

// Metrics returns the run's metrics collector.
func (o *Orchestrator) Metrics() *metrics.Collector {
	return o.metrics
}

// computeConfigHash hashes the sanitized config so secrets never change it.
func computeConfigHash(cfg *config.Config) string {
	return checkpoint.ConfigHash(cfg.Sanitized())
}

// Prepare builds the source, the writer and the pipeline. It is called by
// Run when needed; callers that want to observe the pipeline before it
// starts (the console) call it first.
func (o *Orchestrator) Prepare() (*pipeline.Pipeline, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.pipeline != nil {
		return o.pipeline, nil
	}

	target, err := source.New(o.config, nil)
	if err != nil {
		return nil, exitcodes.NewExitError(err, exitcodes.ConfigError)
	}

	ext := o.config.Extract
	w, err := writer.New(writer.Options{
		Dir:        ext.OutputDir,
		Delimiter:  ext.Delimiter,
		ChunkSize:  ext.ChunkSize,
		FlushEvery: ext.OutputSize,
		NoHeader:   ext.NoHeader,
	})
	if err != nil {
		return nil, exitcodes.NewExitError(err, exitcodes.IOError)
	}

	recorders := checkpoint.Recorders{o.state}
	if o.config.WriteManifest() {
		m, err := checkpoint.NewManifest(ext.OutputDir)
		if err != nil {
			return nil, exitcodes.NewExitError(err, exitcodes.IOError)
		}
		recorders = append(recorders, m)
	}
	o.recorders = recorders

	pipeOpts := []pipeline.Option{
		pipeline.WithObserver(&runObserver{o: o}),
		pipeline.WithObserver(o.metrics),
	}
	if o.opts.ProgressBar {
		pipeOpts = append(pipeOpts, pipeline.WithTracker(progress.New()))
	}
	if o.opts.Reporter != nil {
		pipeOpts = append(pipeOpts, pipeline.WithReporter(o.opts.Reporter))
	}

	o.pipeline = pipeline.New(target.Source, w, pipeline.Config{
		CatalogPath: ext.Catalog,
		Catalog: catalog.Options{
			CommentMarker: ext.CommentMarker,
			Logger:        logging.Default(),
		},
		Endpoint:      target.Endpoint,
		Credentials:   target.Credentials,
		Delimiter:     ext.Delimiter,
		Layout:        ext.Layout,
		ProgressEvery: int64(ext.ProgressEvery),
		Workers:       ext.Workers,
		PageSize:      ext.PageSize,
	}, pipeOpts...)
	return o.pipeline, nil
}

// Run executes the catalog. Entry failures are reported in the result and
// do not produce an error; an error means the run aborted.
func (o *Orchestrator) Run(ctx context.Context) (*RunResult, error) {
	p, err := o.Prepare()
	if err != nil {
		return nil, err
	}

	o.startTime = time.Now()
	logging.Info("Starting extraction run: %s (config %s)", o.runID, computeConfigHash(o.config))

	run := checkpoint.Run{
		ID:          o.runID,
		StartedAt:   o.startTime,
		SourceType:  o.config.Source.Type,
		Catalog:     o.config.Extract.Catalog,
		OutputDir:   o.config.Extract.OutputDir,
		ProfileName: o.opts.ProfileName,
		ConfigPath:  o.opts.ConfigPath,
	}
	if err := o.recorders.CreateRun(run, o.config.Sanitized()); err != nil {
		return nil, exitcodes.NewExitError(fmt.Errorf("creating run: %w", err), exitcodes.StateError)
	}

	srv, err := o.metrics.Serve(o.config.Metrics.ListenAddr)
	if err != nil {
		logging.Warn("Metrics endpoint disabled: %v", err)
	}
	defer srv.Shutdown(context.Background())

	entries := countEntries(o.config)
	if err := o.notifier.RunStarted(o.runID, o.sourceLabel(), o.config.Extract.Catalog, entries); err != nil {
		logging.Warn("Slack notification failed: %v", err)
	}

	summary, runErr := p.Run(ctx)
	return o.finish(summary, runErr)
}

func (o *Orchestrator) finish(summary *pipeline.Summary, runErr error) (*RunResult, error) {
	o.mu.Lock()
	if o.finished {
		o.mu.Unlock()
		return buildResult(o.runID, StatusAborted, summary, runErr), runErr
	}
	o.finished = true
	o.mu.Unlock()

	status := StatusSuccess
	switch {
	case runErr != nil && errors.Is(runErr, context.Canceled):
		status = StatusAborted
	case runErr != nil:
		status = StatusFailed
	case summary.Count(pipeline.EntryFailed) > 0:
		status = StatusPartial
	}

	result := buildResult(o.runID, status, summary, runErr)
	if err := o.recorders.CompleteRun(o.runID, status, result.RowsWritten, result.Error); err != nil {
		logging.Warn("Recording run completion: %v", err)
	}

	duration := time.Since(o.startTime)
	var notifyErr error
	switch status {
	case StatusSuccess:
		notifyErr = o.notifier.RunCompleted(o.runID, o.startTime, duration,
			result.EntriesSuccess, result.RowsWritten, float64(result.RowsPerSecond))
	case StatusPartial:
		notifyErr = o.notifier.RunCompletedWithFailures(o.runID, o.startTime, duration,
			result.EntriesSuccess, result.EntriesFailed, result.RowsWritten, float64(result.RowsPerSecond), result.FailedEntries)
	default:
		notifyErr = o.notifier.RunFailed(o.runID, runErr, duration)
	}
	if notifyErr != nil {
		logging.Warn("Slack notification failed: %v", notifyErr)
	}
	return result, runErr
}

// Abort stops the run at once: the connection is released, the run is
// recorded as aborted and the caller is expected to exit the process.
func (o *Orchestrator) Abort(reason string) {
	o.mu.Lock()
	p := o.pipeline
	already := o.finished
	o.finished = true
	o.mu.Unlock()

	if p != nil {
		p.ExitImmediately(reason)
	}
	if already || o.recorders == nil {
		return
	}
	var rows int64
	if p != nil {
		rows = p.Counts().Rows
	}
	if err := o.recorders.CompleteRun(o.runID, StatusAborted, rows, reason); err != nil {
		logging.Warn("Recording aborted run: %v", err)
	}
	if err := o.notifier.RunFailed(o.runID, errors.New(reason), time.Since(o.startTime)); err != nil {
		logging.Warn("Slack notification failed: %v", err)
	}
}

func (o *Orchestrator) sourceLabel() string {
	ep := o.config.Endpoint()
	if ep.Database != "" {
		return fmt.Sprintf("%s (%s)", o.config.Source.Type, ep.Database)
	}
	return o.config.Source.Type
}

// runObserver records entry outcomes in history and notifies failures.
type runObserver struct {
	o *Orchestrator
}

func (r *runObserver) EntryFinished(res pipeline.EntryResult) {
	o := r.o
	rec := checkpoint.EntryRecord{
		RunID:      o.runID,
		Line:       res.Line,
		Name:       res.Name,
		Status:     string(res.Status),
		Rows:       res.Rows,
		Chunks:     res.Chunks,
		Documents:  res.Documents,
		FailedDocs: res.FailedDocs,
	}
	if res.Err != nil {
		rec.Error = res.Err.Error()
	}
	if err := o.recorders.RecordEntry(rec); err != nil {
		logging.Warn("Recording entry %q: %v", res.Name, err)
	}
	if err := o.recorders.UpdatePhase(o.runID, o.pipeline.Phase().String()); err != nil {
		logging.Debug("Recording phase: %v", err)
	}
	if res.Status == pipeline.EntryFailed {
		if err := o.notifier.EntryFailed(o.runID, res.Name, res.Err); err != nil {
			logging.Warn("Slack notification failed: %v", err)
		}
	}
}

func (r *runObserver) ChunkWritten(entry, path string, rows, bytes int64) {}

func (r *runObserver) DocumentFailed(entry, key string, err error) {}

// countEntries counts the valid catalog entries without logging skips.
func countEntries(cfg *config.Config) int {
	cat, err := catalog.Load(cfg.Extract.Catalog, catalog.Options{
		CommentMarker: cfg.Extract.CommentMarker,
		Logger:        discardSink{},
	})
	if err != nil {
		return 0
	}
	n := 0
	for res := range cat.Entries() {
		if res.Entry != nil {
			n++
		}
	}
	return n
}

type discardSink struct{}

func (discardSink) Log(logging.Level, string) {}
