// Package writer owns the DSV output files of a run.
//
// A result set is written to {dir}/{base}.{n}.dsv, starting at n=1. Rows are
// separated by CRLF; there is no trailing separator at end of file.
package writer

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// RowSeparator ends every row except the last one in a file.
const RowSeparator = "\r\n"

// Extension is the output file suffix.
const Extension = ".dsv"

// Options configures a Writer.
type Options struct {
	Dir        string
	Delimiter  string
	ChunkSize  int64 // rows per file; 0 disables rotation
	FlushEvery int   // buffered rows between flushes
	NoHeader   bool
}

// Writer creates chunk files. It is not safe for concurrent use; a single
// goroutine owns it.
type Writer struct {
	opts Options
}

// New prepares the output directory.
func New(opts Options) (*Writer, error) {
	if opts.Dir == "" {
		opts.Dir = "."
	}
	if opts.FlushEvery <= 0 {
		opts.FlushEvery = 1
	}
	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		return nil, fmt.Errorf("creating output dir: %w", err)
	}
	return &Writer{opts: opts}, nil
}

// Dir returns the output directory.
func (w *Writer) Dir() string {
	return w.opts.Dir
}

// ChunkSize returns the configured rotation threshold.
func (w *Writer) ChunkSize() int64 {
	return w.opts.ChunkSize
}

// Path returns the file path of chunk index for baseName.
func (w *Writer) Path(baseName string, index int) string {
	return filepath.Join(w.opts.Dir, fmt.Sprintf("%s.%d%s", baseName, index, Extension))
}

// Open creates chunk 1 for baseName and writes its header.
func (w *Writer) Open(baseName string, columns []string) (*Chunk, error) {
	return w.open(baseName, columns, 1)
}

func (w *Writer) open(baseName string, columns []string, index int) (*Chunk, error) {
	path := w.Path(baseName, index)
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating chunk file: %w", err)
	}
	c := &Chunk{
		BaseName:   baseName,
		Index:      index,
		path:       path,
		columns:    columns,
		file:       f,
		buf:        bufio.NewWriterSize(f, 64*1024),
		flushEvery: w.opts.FlushEvery,
	}
	if !w.opts.NoHeader {
		header := strings.Join(columns, w.opts.Delimiter)
		if _, err := c.buf.WriteString(header); err != nil {
			f.Close()
			return nil, fmt.Errorf("writing header: %w", err)
		}
		c.Bytes = int64(len(header))
		c.wroteAny = true
	}
	return c, nil
}

// RotateIfNeeded closes c and opens the next chunk when rowsSoFar sits on a
// ChunkSize boundary. It returns c unchanged otherwise.
func (w *Writer) RotateIfNeeded(c *Chunk, rowsSoFar int64) (*Chunk, error) {
	if !ShouldRotate(rowsSoFar, w.opts.ChunkSize) {
		return c, nil
	}
	if err := c.Close(); err != nil {
		return nil, err
	}
	return w.open(c.BaseName, c.columns, c.Index+1)
}

// ShouldRotate reports whether a new chunk starts before row rowsSoFar+1.
func ShouldRotate(rowsSoFar, chunkSize int64) bool {
	return chunkSize > 0 && rowsSoFar > 0 && rowsSoFar%chunkSize == 0
}

// ErrAbandoned is returned by writes to a chunk after Abandon.
var ErrAbandoned = errors.New("chunk output abandoned")

// Chunk is one open output file. One goroutine writes to it; Abandon may be
// called from any goroutine.
type Chunk struct {
	BaseName    string
	Index       int
	RowsWritten int64
	Bytes       int64 // file size once closed, header included

	mu         sync.Mutex
	abandoned  bool
	path       string
	columns    []string
	file       *os.File
	buf        *bufio.Writer
	pending    int
	flushEvery int
	wroteAny   bool
	closed     bool
}

// Path returns the chunk's file path.
func (c *Chunk) Path() string {
	return c.path
}

// Name returns the chunk's file name without directory.
func (c *Chunk) Name() string {
	return filepath.Base(c.path)
}

// WriteRow appends one encoded row.
func (c *Chunk) WriteRow(row string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.abandoned {
		return ErrAbandoned
	}
	if c.closed {
		return errors.New("write to closed chunk")
	}
	if c.wroteAny {
		if _, err := c.buf.WriteString(RowSeparator); err != nil {
			return fmt.Errorf("writing row: %w", err)
		}
		c.Bytes += int64(len(RowSeparator))
	}
	if _, err := c.buf.WriteString(row); err != nil {
		return fmt.Errorf("writing row: %w", err)
	}
	c.wroteAny = true
	c.Bytes += int64(len(row))
	c.RowsWritten++
	c.pending++
	if c.pending >= c.flushEvery {
		return c.flush()
	}
	return nil
}

// Flush pushes buffered rows to the file.
func (c *Chunk) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.abandoned {
		return ErrAbandoned
	}
	return c.flush()
}

func (c *Chunk) flush() error {
	c.pending = 0
	if err := c.buf.Flush(); err != nil {
		return fmt.Errorf("flushing %s: %w", c.Name(), err)
	}
	return nil
}

// Close flushes and closes the file. It is safe to call more than once.
// Closing an abandoned chunk returns ErrAbandoned.
func (c *Chunk) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.abandoned {
		return ErrAbandoned
	}
	if c.closed {
		return nil
	}
	c.closed = true
	flushErr := c.buf.Flush()
	closeErr := c.file.Close()
	if flushErr != nil {
		return fmt.Errorf("flushing %s: %w", c.Name(), flushErr)
	}
	if closeErr != nil {
		return fmt.Errorf("closing %s: %w", c.Name(), closeErr)
	}
	return nil
}

// Abandon closes the file without flushing buffered rows. Later writes and
// Close return ErrAbandoned. It is a no-op on a closed chunk.
func (c *Chunk) Abandon() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.abandoned = true
	c.file.Close()
}
