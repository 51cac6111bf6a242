package driver

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrClosed is returned by operations on a source that has been closed.
var ErrClosed = errors.New("source is closed")

// Endpoint locates a backing store.
type Endpoint struct {
	Host     string
	Port     int
	Database string // database name, or bucket for document stores
	Path     string // file-backed sources
	Params   map[string]string
}

// Param returns a driver-specific parameter, or "".
func (e Endpoint) Param(key string) string {
	if e.Params == nil {
		return ""
	}
	return e.Params[key]
}

// BoolParam parses a driver-specific boolean parameter. Missing or malformed
// values are false.
func (e Endpoint) BoolParam(key string) bool {
	b, _ := strconv.ParseBool(e.Param(key))
	return b
}

// Address returns host:port.
func (e Endpoint) Address() string {
	if e.Port == 0 {
		return e.Host
	}
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

// String describes the endpoint for logs. It never includes credentials.
func (e Endpoint) String() string {
	if e.Path != "" {
		return e.Path
	}
	if e.Database != "" {
		return e.Address() + "/" + e.Database
	}
	return e.Address()
}

// Credentials authenticate against an Endpoint.
type Credentials struct {
	User       string
	Password   string
	Integrated bool // OS-level (Windows/Kerberos) authentication
}

// Column describes one result column.
type Column struct {
	Name         string
	DatabaseType string // upper case, e.g. VARCHAR2, TIMESTAMP, BLOB
}

// ColumnNames returns the names of cols in order.
func ColumnNames(cols []Column) []string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names
}

// ColumnTypes returns the declared types of cols in order.
func ColumnTypes(cols []Column) []string {
	types := make([]string, len(cols))
	for i, c := range cols {
		types[i] = c.DatabaseType
	}
	return types
}

// Source is the capability set the pipeline needs from a backing store. A
// Source holds at most one live connection.
type Source interface {
	// Open connects. It is a no-op on an already open source. Failures are
	// reported as *ConnectionError.
	Open(ctx context.Context, ep Endpoint, cred Credentials) error
	// Execute runs query and returns either a RowStream or a PageStream.
	Execute(ctx context.Context, query string) (Stream, error)
	// ProbeCount runs a single-value count query. It returns 0 when query is
	// empty or fails.
	ProbeCount(ctx context.Context, query string) int64
	// Ping checks that the connection is still usable.
	Ping(ctx context.Context) error
	// Close releases the connection. It is safe to call more than once.
	Close() error
}

// Stream is the result of one execution: a *RowStream-like cursor or a
// paged document stream. Callers switch on the concrete interface.
type Stream interface {
	Columns() []Column
	Close() error
}

// RowStream is a forward-only relational cursor.
type RowStream interface {
	Stream
	Next() bool
	// Values returns the current row. The slice is reused by the next call.
	Values() ([]any, error)
	Err() error
}

// DocRef identifies one document in a page.
type DocRef struct {
	Key  string
	Size int64
}

// Page is one batch of document references.
type Page struct {
	Number int
	Refs   []DocRef
}

// Document is one fetched document, already reduced to the configured columns.
// Values are aligned with the stream's Columns.
type Document struct {
	Key    string
	Values []string
}

// Empty reports whether every field of d is empty.
func (d Document) Empty() bool {
	for _, v := range d.Values {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// PageStream yields documents in pages. Total is known once the first page
// has been returned.
type PageStream interface {
	Stream
	NextPage(ctx context.Context) (Page, bool, error)
	Total() int64
	// Fetch reads and transforms one document. Safe for concurrent use.
	Fetch(ctx context.Context, ref DocRef) (Document, error)
}

// Transformer enriches a document's extracted fields before they are
// aligned to columns. fields maps element name to values in document order.
type Transformer interface {
	Transform(key string, fields map[string][]string) map[string][]string
}

// TransformFunc adapts a function to Transformer.
type TransformFunc func(key string, fields map[string][]string) map[string][]string

func (f TransformFunc) Transform(key string, fields map[string][]string) map[string][]string {
	return f(key, fields)
}

// ConnectionError reports a failure to open or keep the source connection.
// It ends the run.
type ConnectionError struct {
	Driver   string
	Endpoint string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s connection to %s failed: %v", e.Driver, e.Endpoint, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// ExitCode maps connection failures to the connection exit code.
func (e *ConnectionError) ExitCode() int {
	return 2
}

// IsConnectionError reports whether err is or wraps a *ConnectionError.
func IsConnectionError(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}
