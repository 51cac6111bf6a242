package pipeline

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/johndauphine/dsv-extract/internal/catalog"
	"github.com/johndauphine/dsv-extract/internal/driver"
	"github.com/johndauphine/dsv-extract/internal/logging"
	"github.com/johndauphine/dsv-extract/internal/progress"
	"github.com/johndauphine/dsv-extract/internal/writer"
	"golang.org/x/sync/errgroup"
)

// streamPages fans a paged document stream out over a page pool and a
// document pool. Encoded rows go to a single writer goroutine, so each
// document lands as one contiguous row.
func (p *Pipeline) streamPages(ctx context.Context, e *catalog.Entry, ps driver.PageStream, result *EntryResult) error {
	cols := ps.Columns()
	types := driver.ColumnTypes(cols)

	chunk, err := p.w.Open(e.OutputBaseName, driver.ColumnNames(cols))
	if err != nil {
		return err
	}
	p.trackChunk(chunk)

	rows := make(chan string, p.config.Workers*2)
	done := make(chan error, 1)
	go func() {
		var werr error
		for line := range rows {
			if werr != nil {
				continue
			}
			if werr = p.writeDocRow(&chunk, line, result); werr != nil {
				logging.Error("Writing %s: %v", e.OutputBaseName, werr)
			}
		}
		p.trackChunk(nil)
		if chunk != nil {
			if cerr := chunk.Close(); cerr != nil && werr == nil {
				werr = cerr
			}
			if werr == nil {
				p.chunkClosed(result, chunk)
			}
		}
		done <- werr
	}()

	var (
		pages     errgroup.Group
		docs      errgroup.Group
		processed atomic.Int64
		failed    atomic.Int64
		total     int64
		listErr   error
	)
	pages.SetLimit(p.config.Workers)
	docs.SetLimit(p.config.Workers)
	snap := progress.Snapshot{Start: p.now()}
	step := int64(p.config.PageSize)

	for first := true; ; first = false {
		page, ok, err := ps.NextPage(ctx)
		if err != nil {
			listErr = err
			break
		}
		if !ok {
			break
		}
		if first {
			total = ps.Total()
			snap.Total = total
			p.setProgress(e.OutputBaseName, snap)
			logging.Info("Found: %d total documents", total)
		}

		pages.Go(func() error {
			for _, ref := range page.Refs {
				docs.Go(func() error {
					doc, err := ps.Fetch(ctx, ref)
					if err != nil {
						failed.Add(1)
						logging.Warn("Document %s failed: %v", ref.Key, err)
						for _, o := range p.observers {
							o.DocumentFailed(e.OutputBaseName, ref.Key, err)
						}
						return nil
					}
					if !doc.Empty() {
						vals := make([]any, len(doc.Values))
						for i, v := range doc.Values {
							vals[i] = v
						}
						rows <- p.enc.Row(vals, types)
					}
					n := processed.Add(1)
					if p.tracker != nil {
						p.tracker.Add(1)
					}
					if n < total && n%step == 0 {
						s := snap
						s.Processed = n
						p.logProgress(e.OutputBaseName, s)
					}
					return nil
				})
			}
			return nil
		})
	}

	pages.Wait()
	docs.Wait()
	close(rows)
	werr := <-done

	result.Documents = processed.Load()
	result.FailedDocs = failed.Load()
	if result.FailedDocs > 0 {
		logging.Warn("%d of %d documents failed for %s", result.FailedDocs, total, e.OutputBaseName)
	}
	if listErr != nil {
		return fmt.Errorf("fetching page: %w", listErr)
	}
	return werr
}

func (p *Pipeline) writeDocRow(chunk **writer.Chunk, line string, result *EntryResult) error {
	prev := *chunk
	next, err := p.w.RotateIfNeeded(prev, result.Rows)
	if err != nil {
		*chunk = nil
		return err
	}
	if next != prev {
		p.trackChunk(next)
		p.chunkClosed(result, prev)
	}
	*chunk = next
	if err := next.WriteRow(line); err != nil {
		return err
	}
	result.Rows++
	return nil
}
