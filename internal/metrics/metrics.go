// Package metrics exposes extraction counters to Prometheus.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/johndauphine/dsv-extract/internal/logging"
	"github.com/johndauphine/dsv-extract/internal/pipeline"
)

// Collector records pipeline events. It implements pipeline.Observer.
type Collector struct {
	registry *prometheus.Registry

	rowsWritten   *prometheus.CounterVec
	entries       *prometheus.CounterVec
	chunksWritten prometheus.Counter
	bytesWritten  prometheus.Counter
	docsFailed    prometheus.Counter
	entryDuration prometheus.Histogram
}

var _ pipeline.Observer = (*Collector)(nil)

// New creates a Collector on its own registry.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		rowsWritten: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dsvextract_rows_written_total",
				Help: "Total number of rows written to chunk files by entry.",
			},
			[]string{"entry"},
		),
		entries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dsvextract_entries_total",
				Help: "Total number of catalog entries processed by status.",
			},
			[]string{"status"},
		),
		chunksWritten: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "dsvextract_chunks_written_total",
				Help: "Total number of chunk files closed.",
			},
		),
		bytesWritten: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "dsvextract_bytes_written_total",
				Help: "Total size in bytes of closed chunk files.",
			},
		),
		docsFailed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "dsvextract_documents_failed_total",
				Help: "Total number of documents that could not be fetched.",
			},
		),
		entryDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "dsvextract_entry_duration_seconds",
				Help:    "Wall time spent extracting one catalog entry.",
				Buckets: []float64{1, 5, 15, 60, 300, 900, 3600, 4 * 3600},
			},
		),
	}
	c.registry.MustRegister(
		c.rowsWritten,
		c.entries,
		c.chunksWritten,
		c.bytesWritten,
		c.docsFailed,
		c.entryDuration,
	)
	return c
}

// EntryFinished counts the entry and, when it ran, its duration.
func (c *Collector) EntryFinished(r pipeline.EntryResult) {
	c.entries.WithLabelValues(string(r.Status)).Inc()
	if r.Status != pipeline.EntrySkipped {
		c.entryDuration.Observe(r.Stats.TotalTime().Seconds())
	}
}

func (c *Collector) ChunkWritten(entry, path string, rows, bytes int64) {
	c.chunksWritten.Inc()
	c.bytesWritten.Add(float64(bytes))
	if rows > 0 {
		c.rowsWritten.WithLabelValues(entry).Add(float64(rows))
	}
}

func (c *Collector) DocumentFailed(entry, key string, err error) {
	c.docsFailed.Inc()
}

// Handler serves the collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Server exposes /metrics while a run is active.
type Server struct {
	srv *http.Server
	ln  net.Listener
}

// Serve starts listening on addr. An empty addr returns a nil Server.
func (c *Collector) Serve(addr string) (*Server, error) {
	if addr == "" {
		return nil, nil
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", c.Handler())
	s := &Server{
		srv: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		ln: ln,
	}
	go func() {
		logging.Info("Serving metrics on %s/metrics", ln.Addr())
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Warn("Metrics server failed: %v", err)
		}
	}()
	return s, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	if s == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Shutdown stops the server. It is safe on a nil Server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		_ = s.srv.Close()
		return err
	}
	return nil
}
