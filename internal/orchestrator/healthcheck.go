package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/johndauphine/dsv-extract/internal/catalog"
	"github.com/johndauphine/dsv-extract/internal/logging"
	"github.com/johndauphine/dsv-extract/internal/source"
)

// HealthCheckResult reports whether the configured source can be reached.
type HealthCheckResult struct {
	Timestamp  string `json:"timestamp"`
	SourceType string `json:"source_type"`
	Endpoint   string `json:"endpoint"`
	Connected  bool   `json:"connected"`
	LatencyMs  int64  `json:"latency_ms"`
	Error      string `json:"error,omitempty"`
}

// CatalogCheck is the dry-run outcome of one catalog line.
type CatalogCheck struct {
	Line     int    `json:"line"`
	Name     string `json:"name,omitempty"`
	Status   string `json:"status"`
	FromFile bool   `json:"from_file,omitempty"`
	HasCount bool   `json:"has_count,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// ValidateResult combines the catalog dry run and the source health check.
type ValidateResult struct {
	Catalog string             `json:"catalog"`
	Valid   int                `json:"valid"`
	Skipped int                `json:"skipped"`
	Errors  int                `json:"errors"`
	Lines   []CatalogCheck     `json:"lines"`
	Health  *HealthCheckResult `json:"health,omitempty"`
}

// OK reports whether the catalog has runnable entries and the source answered.
func (v *ValidateResult) OK() bool {
	return v.Valid > 0 && v.Errors == 0 && (v.Health == nil || v.Health.Connected)
}

const checkTimeout = 30 * time.Second

// HealthCheck opens the source, pings it and releases it.
func (o *Orchestrator) HealthCheck(ctx context.Context) (*HealthCheckResult, error) {
	target, err := source.New(o.config, nil)
	if err != nil {
		return nil, err
	}
	result := &HealthCheckResult{
		Timestamp:  time.Now().Format(time.RFC3339),
		SourceType: o.config.Source.Type,
		Endpoint:   target.Endpoint.String(),
	}

	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	start := time.Now()
	defer target.Source.Close()
	if err := target.Source.Open(ctx, target.Endpoint, target.Credentials); err != nil {
		result.Error = err.Error()
	} else if err := target.Source.Ping(ctx); err != nil {
		result.Error = err.Error()
	} else {
		result.Connected = true
	}
	result.LatencyMs = time.Since(start).Milliseconds()
	return result, nil
}

// CheckCatalog parses the catalog without connecting to the source.
func (o *Orchestrator) CheckCatalog() (*ValidateResult, error) {
	cat, err := catalog.Load(o.config.Extract.Catalog, catalog.Options{
		CommentMarker: o.config.Extract.CommentMarker,
		Logger:        logging.Default(),
	})
	if err != nil {
		return nil, err
	}

	result := &ValidateResult{Catalog: cat.Path(), Lines: []CatalogCheck{}}
	for res := range cat.Entries() {
		switch {
		case res.Skip != nil:
			result.Skipped++
			result.Lines = append(result.Lines, CatalogCheck{
				Line: res.Skip.LineNumber, Status: "skipped", Reason: res.Skip.Reason,
			})
		case res.Err != nil:
			result.Errors++
			check := CatalogCheck{Status: "error", Reason: res.Err.Error()}
			var ee *catalog.EntryError
			if errors.As(res.Err, &ee) {
				check.Line = ee.LineNumber
				check.Name = ee.BaseName
			}
			result.Lines = append(result.Lines, check)
		default:
			e := res.Entry
			result.Valid++
			result.Lines = append(result.Lines, CatalogCheck{
				Line:     e.LineNumber,
				Name:     e.OutputBaseName,
				Status:   "valid",
				FromFile: e.FromFile(),
				HasCount: e.CountQueryText != "",
			})
		}
	}
	return result, nil
}

// Validate runs the catalog dry run and, when skipSource is false, the
// source health check.
func (o *Orchestrator) Validate(ctx context.Context, skipSource bool) (*ValidateResult, error) {
	result, err := o.CheckCatalog()
	if err != nil {
		return nil, err
	}
	if !skipSource {
		health, err := o.HealthCheck(ctx)
		if err != nil {
			return nil, err
		}
		result.Health = health
	}
	return result, nil
}

// PrintValidation writes a human-readable validation report.
func PrintValidation(w io.Writer, v *ValidateResult) {
	fmt.Fprintf(w, "Catalog: %s\n", v.Catalog)
	for _, l := range v.Lines {
		switch l.Status {
		case "valid":
			kind := "inline"
			if l.FromFile {
				kind = "file"
			}
			count := ""
			if l.HasCount {
				count = ", row count query"
			}
			fmt.Fprintf(w, "%-6d %-30s OK (%s%s)\n", l.Line, l.Name, kind, count)
		case "skipped":
			fmt.Fprintf(w, "%-6d %-30s SKIP %s\n", l.Line, "", l.Reason)
		default:
			fmt.Fprintf(w, "%-6d %-30s ERROR %s\n", l.Line, l.Name, l.Reason)
		}
	}
	fmt.Fprintf(w, "%d valid, %d skipped, %d errors\n", v.Valid, v.Skipped, v.Errors)

	if h := v.Health; h != nil {
		if h.Connected {
			fmt.Fprintf(w, "Source %s at %s: OK (%d ms)\n", h.SourceType, h.Endpoint, h.LatencyMs)
		} else {
			fmt.Fprintf(w, "Source %s at %s: FAILED %s\n", h.SourceType, h.Endpoint, h.Error)
		}
	}
}
