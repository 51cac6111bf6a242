// Package catalog parses the query catalog: one extraction per line, fields
// separated by "###":
//
//	outputBaseName###query or path/to/query.sql[###row count query]
package catalog

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/johndauphine/dsv-extract/internal/encode"
	"github.com/johndauphine/dsv-extract/internal/logging"
)

// FieldSeparator splits catalog fields.
const FieldSeparator = "###"

// DefaultCommentMarker marks a catalog line as a comment.
const DefaultCommentMarker = "//"

// DefaultExtensions are the recognized query-file suffixes.
var DefaultExtensions = []string{".txt", ".sql"}

var writeKeyword = regexp.MustCompile(`(?i)\b(UPDATE|DELETE|CREATE|DROP|INSERT|ALTER|TRUNCATE|MERGE|GRANT|REVOKE)\b`)

// Entry is one validated catalog line. Entries are never mutated after parsing.
type Entry struct {
	OutputBaseName string
	QueryText      string
	QueryFilePath  string
	CountQueryText string
	SourceLine     string
	LineNumber     int
}

// FromFile reports whether the query was loaded from a query file.
func (e *Entry) FromFile() bool {
	return e.QueryFilePath != ""
}

// SkipReason explains why a line produced no entry.
type SkipReason struct {
	LineNumber int
	Line       string
	Reason     string
}

// maxLoggedLine bounds how much of a skipped line is echoed to the log.
const maxLoggedLine = 256

func (s *SkipReason) String() string {
	line := s.Line
	if len(line) > maxLoggedLine {
		line = fmt.Sprintf("%s... (%d bytes)", line[:maxLoggedLine], len(s.Line))
	}
	return fmt.Sprintf("line %d: %s: %q", s.LineNumber, s.Reason, line)
}

// EntryError is a failure scoped to one catalog entry. It never aborts the run.
type EntryError struct {
	LineNumber int
	BaseName   string
	Err        error
}

func (e *EntryError) Error() string {
	return fmt.Sprintf("catalog entry %q (line %d): %v", e.BaseName, e.LineNumber, e.Err)
}

func (e *EntryError) Unwrap() error {
	return e.Err
}

// Result is what a catalog line yields: exactly one of Entry, Skip or Err is set.
type Result struct {
	Entry *Entry
	Skip  *SkipReason
	Err   error
}

// Options control parsing.
type Options struct {
	CommentMarker string
	Extensions    []string
	Logger        logging.Sink
}

func (o *Options) applyDefaults() {
	if o.CommentMarker == "" {
		o.CommentMarker = DefaultCommentMarker
	}
	if len(o.Extensions) == 0 {
		o.Extensions = DefaultExtensions
	}
	if o.Logger == nil {
		o.Logger = logging.Default()
	}
}

// Catalog is a handle on a catalog file. Entries are produced lazily.
type Catalog struct {
	path string
	dir  string
	opts Options
}

// Load checks that the catalog file is readable and returns a handle on it.
func Load(path string, opts Options) (*Catalog, error) {
	opts.applyDefaults()
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("opening catalog: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("opening catalog: %s is a directory", path)
	}
	return &Catalog{path: path, dir: filepath.Dir(path), opts: opts}, nil
}

// Path returns the catalog file path.
func (c *Catalog) Path() string {
	return c.path
}

// LineCount returns the number of physical lines in the catalog.
func (c *Catalog) LineCount() (int, error) {
	f, err := os.Open(c.path)
	if err != nil {
		return 0, fmt.Errorf("opening catalog: %w", err)
	}
	defer f.Close()

	n := 0
	err = eachLine(f, func(string) bool {
		n++
		return true
	})
	if err != nil {
		return n, fmt.Errorf("reading catalog: %w", err)
	}
	return n, nil
}

// Entries yields one Result per catalog line in file order. Ranging again
// re-reads the file.
func (c *Catalog) Entries() iter.Seq[Result] {
	return func(yield func(Result) bool) {
		f, err := os.Open(c.path)
		if err != nil {
			yield(Result{Err: fmt.Errorf("opening catalog: %w", err)})
			return
		}
		defer f.Close()

		lineNo := 0
		err = eachLine(f, func(line string) bool {
			lineNo++
			if strings.TrimSpace(line) == "" {
				return true
			}
			return yield(c.parse(line, lineNo))
		})
		if err != nil {
			yield(Result{Err: fmt.Errorf("reading catalog: %w", err)})
		}
	}
}

// eachLine calls fn with every line of r, without its newline, until fn
// returns false. Lines have no length limit.
func eachLine(r io.Reader, fn func(line string) bool) error {
	br := bufio.NewReaderSize(r, 64*1024)
	for {
		line, err := br.ReadString('\n')
		if line != "" && !fn(strings.TrimSuffix(line, "\n")) {
			return nil
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (c *Catalog) skip(lineNo int, line, reason string) Result {
	s := &SkipReason{LineNumber: lineNo, Line: line, Reason: reason}
	c.opts.Logger.Log(logging.LevelInfo, "Skipping catalog "+s.String())
	return Result{Skip: s}
}

func (c *Catalog) parse(line string, lineNo int) Result {
	line = strings.TrimSuffix(line, "\r")
	if strings.HasPrefix(strings.TrimSpace(line), c.opts.CommentMarker) {
		return c.skip(lineNo, line, "comment")
	}

	fields := strings.Split(line, FieldSeparator)
	if len(fields) < 2 {
		return c.skip(lineNo, line, "fewer than 2 fields")
	}

	entry := &Entry{
		OutputBaseName: fields[0],
		SourceLine:     line,
		LineNumber:     lineNo,
	}
	if len(fields) > 2 {
		entry.CountQueryText = c.countQuery(fields[2], lineNo)
	}

	second := strings.TrimSpace(fields[1])
	switch {
	case c.isQueryFile(second):
		text, err := c.readQueryFile(second)
		if err != nil {
			return Result{Err: &EntryError{LineNumber: lineNo, BaseName: entry.OutputBaseName, Err: err}}
		}
		if !IsReadOnlyQuery(text) {
			return c.skip(lineNo, line, "query file "+second+" is not a read-only query")
		}
		entry.QueryFilePath = second
		entry.QueryText = text
	case IsReadOnlyQuery(second):
		entry.QueryText = encode.CleanQueryText(second)
	default:
		return c.skip(lineNo, line, "not a read-only query or query file")
	}
	return Result{Entry: entry}
}

// countQuery returns the cleaned row count query, or "" when the field is
// blank or not read-only. A dropped count query leaves the entry valid.
func (c *Catalog) countQuery(field string, lineNo int) string {
	if strings.TrimSpace(field) == "" {
		return ""
	}
	if !IsReadOnlyQuery(field) {
		c.opts.Logger.Log(logging.LevelWarn,
			fmt.Sprintf("Ignoring row count query on catalog line %d: not a read-only query", lineNo))
		return ""
	}
	return encode.CleanQueryText(field)
}

func (c *Catalog) isQueryFile(field string) bool {
	lower := strings.ToLower(field)
	for _, ext := range c.opts.Extensions {
		if strings.HasSuffix(lower, strings.ToLower(ext)) {
			return true
		}
	}
	return false
}

func (c *Catalog) readQueryFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) && !filepath.IsAbs(path) {
		data, err = os.ReadFile(filepath.Join(c.dir, path))
	}
	if err != nil {
		return "", fmt.Errorf("reading query file: %w", err)
	}
	return QueryFromFile(string(data)), nil
}

// IsReadOnlyQuery reports whether q is plausibly a read-only statement: not
// commented out and free of write/DDL keywords.
func IsReadOnlyQuery(q string) bool {
	q = strings.TrimSpace(q)
	if q == "" || strings.HasPrefix(q, "--") {
		return false
	}
	return !writeKeyword.MatchString(q)
}

// QueryFromFile cleans the contents of a query file into one executable line.
func QueryFromFile(contents string) string {
	lines := strings.Split(strings.ReplaceAll(contents, "\r\n", "\n"), "\n")
	for i, l := range lines {
		lines[i] = encode.StripLineComment(l)
	}
	return encode.CleanQueryText(strings.Join(lines, " "))
}
