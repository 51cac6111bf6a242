package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/johndauphine/dsv-extract/internal/catalog"
	"github.com/johndauphine/dsv-extract/internal/driver"
	"github.com/johndauphine/dsv-extract/internal/encode"
	"github.com/johndauphine/dsv-extract/internal/exitcodes"
	"github.com/johndauphine/dsv-extract/internal/logging"
	"github.com/johndauphine/dsv-extract/internal/progress"
	"github.com/johndauphine/dsv-extract/internal/writer"
)

// Config contains pipeline execution configuration.
type Config struct {
	// CatalogPath is the query catalog file.
	CatalogPath string
	Catalog     catalog.Options

	// Endpoint and Credentials are used to open the source once per run.
	Endpoint    driver.Endpoint
	Credentials driver.Credentials

	Delimiter string
	Layout    string

	// ProgressEvery is the number of rows between progress lines.
	ProgressEvery int64

	// Workers bounds both the page pool and the document pool.
	Workers int

	// PageSize is the progress step for document sources.
	PageSize int
}

// Observer is notified as entries complete. Implementations must be safe
// for concurrent use.
type Observer interface {
	EntryFinished(r EntryResult)
	ChunkWritten(entry, path string, rows, bytes int64)
	DocumentFailed(entry, key string, err error)
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithTracker renders a progress bar per entry.
func WithTracker(t *progress.Tracker) Option {
	return func(p *Pipeline) { p.tracker = t }
}

// WithReporter emits machine-readable progress.
func WithReporter(r progress.Reporter) Option {
	return func(p *Pipeline) { p.reporter = r }
}

// WithObserver adds an observer. Observers are called in the order added.
func WithObserver(o Observer) Option {
	return func(p *Pipeline) { p.observers = append(p.observers, o) }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// Pipeline runs every catalog entry against one source and writes chunked
// DSV files.
type Pipeline struct {
	state

	src       driver.Source
	w         *writer.Writer
	enc       *encode.Encoder
	config    Config
	tracker   *progress.Tracker
	reporter  progress.Reporter
	observers []Observer
	now       func() time.Time

	mu       sync.Mutex
	current  string
	snapshot progress.Snapshot
	counts   Counts
	open     *writer.Chunk
}

// Counts is a point-in-time tally of the run.
type Counts struct {
	Total, Done, Failed, Skipped, Chunks int
	Rows                                 int64
}

// New creates a pipeline. The source is opened by Run and released exactly
// once when Run returns or ExitImmediately is called.
func New(src driver.Source, w *writer.Writer, cfg Config, opts ...Option) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 10000
	}
	if cfg.Delimiter == "" {
		cfg.Delimiter = "|"
	}
	p := &Pipeline{
		src:      src,
		w:        w,
		enc:      encode.New(cfg.Delimiter, cfg.Layout),
		config:   cfg,
		reporter: &progress.NullReporter{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.setPhase(PhaseInit)
	return p
}

// Progress returns the entry being extracted and its snapshot.
func (p *Pipeline) Progress() (entry string, snap progress.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current, p.snapshot
}

// Counts returns the entries and rows processed so far.
func (p *Pipeline) Counts() Counts {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counts
}

func (p *Pipeline) setProgress(entry string, snap progress.Snapshot) {
	p.mu.Lock()
	p.current = entry
	p.snapshot = snap
	p.mu.Unlock()
}

// ExitImmediately releases the connection and marks the run aborted. Buffered
// output is abandoned; the caller terminates the process.
func (p *Pipeline) ExitImmediately(msg string) {
	logging.Warn("%s", msg)
	p.mu.Lock()
	open := p.open
	p.open = nil
	p.mu.Unlock()
	if open != nil {
		open.Abandon()
		logging.Warn("Abandoned buffered output of %s", open.Name())
	}
	if err := p.src.Close(); err != nil {
		logging.Warn("Closing source: %v", err)
	}
	p.setPhase(PhaseAborted)
}

// trackChunk records the chunk currently receiving rows; nil clears it.
func (p *Pipeline) trackChunk(c *writer.Chunk) {
	p.mu.Lock()
	p.open = c
	p.mu.Unlock()
}

// Run extracts every entry of the catalog in file order. Entry failures are
// recorded in the summary and never stop the run; a lost connection or a
// cancelled context aborts the remaining catalog.
func (p *Pipeline) Run(ctx context.Context) (*Summary, error) {
	summary := &Summary{Started: p.now()}

	p.setPhase(PhaseLoadingCatalog)
	cat, err := catalog.Load(p.config.CatalogPath, p.config.Catalog)
	if err != nil {
		p.abort(summary)
		return summary, exitcodes.NewExitError(err, exitcodes.CatalogError)
	}
	lines, err := cat.LineCount()
	if err != nil {
		p.abort(summary)
		return summary, exitcodes.NewExitError(err, exitcodes.CatalogError)
	}
	p.mu.Lock()
	p.counts.Total = lines
	p.mu.Unlock()

	if err := p.src.Open(ctx, p.config.Endpoint, p.config.Credentials); err != nil {
		p.src.Close()
		p.abort(summary)
		return summary, err
	}
	defer func() {
		if err := p.src.Close(); err != nil {
			logging.Warn("Closing source: %v", err)
		}
	}()

	var runErr error
	for res := range cat.Entries() {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}

		var result EntryResult
		switch {
		case res.Skip != nil:
			result = EntryResult{Line: res.Skip.LineNumber, Status: EntrySkipped, Skip: res.Skip}
		case res.Err != nil:
			result = p.entryError(res.Err)
		default:
			result = p.runEntry(ctx, res.Entry, lines)
		}
		p.record(summary, result)

		if result.Status != EntryFailed {
			continue
		}
		if err := p.checkConnection(ctx, result.Err); err != nil {
			runErr = err
			break
		}
	}

	p.setProgress("", progress.Snapshot{})
	if runErr != nil {
		p.abort(summary)
		return summary, runErr
	}

	p.setPhase(PhaseFinalizing)
	summary.Finished = p.now()
	p.logSummary(summary)
	p.setPhase(PhaseComplete)
	return summary, nil
}

// abort closes out a run that stopped before the end of the catalog.
func (p *Pipeline) abort(summary *Summary) {
	p.setPhase(PhaseAborted)
	summary.Aborted = true
	summary.Finished = p.now()
	p.logSummary(summary)
}

func (p *Pipeline) entryError(err error) EntryResult {
	result := EntryResult{Status: EntryFailed, Err: err}
	var ee *catalog.EntryError
	if errors.As(err, &ee) {
		result.Name = ee.BaseName
		result.Line = ee.LineNumber
	}
	logging.Error("Entry %q (line %d) failed: %v", result.Name, result.Line, err)
	return result
}

// checkConnection decides whether a failed entry took the connection down.
func (p *Pipeline) checkConnection(ctx context.Context, entryErr error) error {
	if driver.IsConnectionError(entryErr) {
		logging.Error("Connection lost, aborting remaining catalog: %v", entryErr)
		return entryErr
	}
	if errors.Is(entryErr, context.Canceled) || errors.Is(entryErr, context.DeadlineExceeded) {
		return entryErr
	}
	if err := p.src.Ping(ctx); err != nil {
		if !driver.IsConnectionError(err) {
			err = &driver.ConnectionError{Endpoint: p.config.Endpoint.String(), Err: err}
		}
		logging.Error("Connection lost, aborting remaining catalog: %v", err)
		return err
	}
	return nil
}

func (p *Pipeline) record(summary *Summary, r EntryResult) {
	summary.Entries = append(summary.Entries, r)

	p.mu.Lock()
	p.counts.Done++
	switch r.Status {
	case EntryFailed:
		p.counts.Failed++
	case EntrySkipped:
		p.counts.Skipped++
	}
	p.counts.Rows += r.Rows
	p.counts.Chunks += len(r.Chunks)
	c := p.counts
	p.mu.Unlock()

	p.reporter.ReportImmediate(progress.ProgressUpdate{
		Phase:          p.Phase().String(),
		Entry:          r.Name,
		EntriesDone:    c.Done,
		EntriesTotal:   c.Total,
		RowsWritten:    c.Rows,
		ChunksWritten:  c.Chunks,
		EntriesFailed:  c.Failed,
		EntriesSkipped: c.Skipped,
	})
	for _, o := range p.observers {
		o.EntryFinished(r)
	}
}

func (p *Pipeline) runEntry(ctx context.Context, e *catalog.Entry, lines int) EntryResult {
	result := EntryResult{Name: e.OutputBaseName, Line: e.LineNumber}
	start := p.now()

	p.setPhase(PhaseValidating)
	logging.Info("Processing Query %d/%d: %s", e.LineNumber, lines, e.OutputBaseName)

	var total int64
	if e.CountQueryText != "" {
		total = p.src.ProbeCount(ctx, e.CountQueryText)
		logging.Info("Row count is %d", total)
	}

	p.setPhase(PhaseExecuting)
	logging.Info("Running query: %s", e.QueryText)
	stream, err := p.src.Execute(ctx, e.QueryText)
	if err != nil {
		return p.fail(result, fmt.Errorf("executing query: %w", err))
	}
	defer stream.Close()
	result.Stats.QueryTime = p.now().Sub(start)

	p.setPhase(PhaseStreaming)
	if p.tracker != nil {
		p.tracker.StartEntry(e.OutputBaseName, total)
		defer p.tracker.EndEntry()
	}

	switch s := stream.(type) {
	case driver.RowStream:
		err = p.streamRows(ctx, e, s, total, &result)
	case driver.PageStream:
		err = p.streamPages(ctx, e, s, &result)
	default:
		err = fmt.Errorf("unsupported stream %T", stream)
	}
	result.Stats.Rows = result.Rows
	if err != nil {
		return p.fail(result, err)
	}

	result.Status = EntrySuccess
	logging.Info("%d rows written to disk", result.Rows)
	logging.Debug("Entry %s: %s", e.OutputBaseName, result.Stats)
	p.setPhase(PhaseDoneEntry)
	return result
}

func (p *Pipeline) fail(result EntryResult, err error) EntryResult {
	result.Status = EntryFailed
	result.Err = &catalog.EntryError{LineNumber: result.Line, BaseName: result.Name, Err: err}
	logging.Error("Entry %q (line %d) failed: %v", result.Name, result.Line, err)
	p.setPhase(PhaseDoneEntry)
	return result
}

// chunkClosed records a completed chunk file.
func (p *Pipeline) chunkClosed(result *EntryResult, c *writer.Chunk) {
	result.Chunks = append(result.Chunks, c.Name())
	logging.Info("Chunk file %s complete (%d rows, %d bytes)", c.Name(), c.RowsWritten, c.Bytes)
	for _, o := range p.observers {
		o.ChunkWritten(result.Name, c.Path(), c.RowsWritten, c.Bytes)
	}
}

// streamRows writes a cursor stream in cursor order.
func (p *Pipeline) streamRows(ctx context.Context, e *catalog.Entry, rs driver.RowStream, total int64, result *EntryResult) (err error) {
	cols := rs.Columns()
	types := driver.ColumnTypes(cols)

	chunk, err := p.w.Open(e.OutputBaseName, driver.ColumnNames(cols))
	if err != nil {
		return err
	}
	p.trackChunk(chunk)
	defer func() {
		p.trackChunk(nil)
		if chunk == nil {
			return
		}
		if cerr := chunk.Close(); cerr != nil && err == nil {
			err = cerr
		}
		if err == nil {
			p.chunkClosed(result, chunk)
		}
	}()

	snap := progress.Snapshot{Start: p.now(), Total: total}
	p.setProgress(e.OutputBaseName, snap)

	var encodeTime, writeTime time.Duration
	for rs.Next() {
		if result.Rows > 0 && writer.ShouldRotate(result.Rows, p.w.ChunkSize()) {
			prev := chunk
			chunk, err = p.w.RotateIfNeeded(prev, result.Rows)
			if err != nil {
				return err
			}
			p.trackChunk(chunk)
			p.chunkClosed(result, prev)
			p.logProgress(e.OutputBaseName, snap)
		}

		vals, verr := rs.Values()
		if verr != nil {
			return fmt.Errorf("reading row %d: %w", result.Rows+1, verr)
		}
		t0 := p.now()
		line := p.enc.Row(vals, types)
		t1 := p.now()
		if err = chunk.WriteRow(line); err != nil {
			return err
		}
		encodeTime += t1.Sub(t0)
		writeTime += p.now().Sub(t1)

		result.Rows++
		snap.Processed = result.Rows
		if p.tracker != nil {
			p.tracker.Add(1)
		}
		if p.config.ProgressEvery > 0 && result.Rows%p.config.ProgressEvery == 0 {
			p.logProgress(e.OutputBaseName, snap)
		}
	}
	result.Stats.EncodeTime = encodeTime
	result.Stats.WriteTime = writeTime
	if rerr := rs.Err(); rerr != nil {
		return fmt.Errorf("reading rows: %w", rerr)
	}
	return ctx.Err()
}

func (p *Pipeline) logProgress(entry string, snap progress.Snapshot) {
	p.setProgress(entry, snap)
	logging.Info("%s", snap.Line(p.now()))

	p.mu.Lock()
	c := p.counts
	p.mu.Unlock()
	update := progress.ProgressUpdate{
		Timestamp:    p.now().Format(time.RFC3339),
		Phase:        p.Phase().String(),
		Entry:        entry,
		EntriesDone:  c.Done,
		EntriesTotal: c.Total,
		RowsWritten:  c.Rows + snap.Processed,
		RowsTotal:    snap.Total,
		ProgressPct:  snap.Percent(),
	}
	if eta, ok := snap.ETA(p.now()); ok {
		update.ETA = eta.Format(time.RFC3339)
	}
	p.reporter.Report(update)
}

func (p *Pipeline) logSummary(s *Summary) {
	if p.tracker != nil {
		p.tracker.Finish()
	}
	for _, r := range s.Entries {
		if r.Status == EntrySuccess {
			logging.Info("%s: %d rows", r.Name, r.Rows)
		}
	}
	if n := s.Count(EntryFailed); n > 0 {
		logging.Warn("%d catalog entries failed", n)
	}
	logging.Info("Data Export Completed in %s", progress.FormatDuration(s.Duration()))
}
