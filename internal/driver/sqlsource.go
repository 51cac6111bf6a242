package driver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/johndauphine/dsv-extract/internal/logging"
)

// SQLConfig describes a database/sql backed source.
type SQLConfig struct {
	// Name is the source type used in logs and errors.
	Name string

	// DriverName is the database/sql driver name.
	DriverName string

	// DSN builds the connection string.
	DSN func(ep Endpoint, cred Credentials, opts Options) (string, error)

	// OpenDB replaces sql.Open when the driver offers a richer constructor.
	OpenDB func(dsn string) (*sql.DB, error)

	// Normalize converts driver-specific values before encoding. It receives
	// the column's declared type.
	Normalize func(v any, databaseType string) any

	Options Options
}

// SQLSource is a cursor source over one pinned database/sql connection.
type SQLSource struct {
	cfg SQLConfig

	mu     sync.Mutex
	db     *sql.DB
	conn   *sql.Conn
	ep     Endpoint
	closed bool
}

// NewSQLSource creates an unopened SQL source.
func NewSQLSource(cfg SQLConfig) *SQLSource {
	return &SQLSource{cfg: cfg}
}

// NewSQLSourceFromDB wraps an existing handle. Open pins a connection from db
// instead of dialing.
func NewSQLSourceFromDB(db *sql.DB, cfg SQLConfig) *SQLSource {
	return &SQLSource{cfg: cfg, db: db}
}

// Name returns the source type.
func (s *SQLSource) Name() string {
	return s.cfg.Name
}

// Options returns the run options the source was built with.
func (s *SQLSource) Options() Options {
	return s.cfg.Options
}

// Open dials the database and pins a single connection.
func (s *SQLSource) Open(ctx context.Context, ep Endpoint, cred Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.conn != nil {
		return nil
	}
	s.ep = ep

	if s.db == nil {
		db, err := s.openDB(ep, cred)
		if err != nil {
			return s.connErr(err)
		}
		s.db = db
	}
	s.db.SetMaxOpenConns(1)
	s.db.SetMaxIdleConns(1)

	conn, err := s.db.Conn(ctx)
	if err != nil {
		s.db.Close()
		s.db = nil
		return s.connErr(err)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		s.db.Close()
		s.db = nil
		return s.connErr(err)
	}
	s.conn = conn

	logging.Info("Connected to %s source: %s", s.cfg.Name, ep)
	return nil
}

func (s *SQLSource) openDB(ep Endpoint, cred Credentials) (*sql.DB, error) {
	if s.cfg.DSN == nil {
		return nil, errors.New("no DSN builder configured")
	}
	dsn, err := s.cfg.DSN(ep, cred, s.cfg.Options)
	if err != nil {
		return nil, fmt.Errorf("building DSN: %w", err)
	}
	if s.cfg.OpenDB != nil {
		return s.cfg.OpenDB(dsn)
	}
	return sql.Open(s.cfg.DriverName, dsn)
}

func (s *SQLSource) connErr(err error) error {
	return &ConnectionError{Driver: s.cfg.Name, Endpoint: s.ep.String(), Err: err}
}

// Conn returns the pinned connection, or ErrClosed.
func (s *SQLSource) Conn() (*sql.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if s.conn == nil {
		return nil, errors.New("source is not open")
	}
	return s.conn, nil
}

// Execute runs query on the pinned connection.
func (s *SQLSource) Execute(ctx context.Context, query string) (Stream, error) {
	conn, err := s.Conn()
	if err != nil {
		return nil, err
	}
	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("executing query: %w", err)
	}
	return NewRowStream(rows, s.cfg.Normalize, nil)
}

// ProbeCount runs a count query and returns 0 on any failure.
func (s *SQLSource) ProbeCount(ctx context.Context, query string) int64 {
	if strings.TrimSpace(query) == "" {
		return 0
	}
	conn, err := s.Conn()
	if err != nil {
		return 0
	}
	var n sql.NullInt64
	if err := conn.QueryRowContext(ctx, query).Scan(&n); err != nil {
		logging.Warn("Row count query failed: %v", err)
		return 0
	}
	if !n.Valid || n.Int64 < 0 {
		return 0
	}
	return n.Int64
}

// Ping checks the pinned connection.
func (s *SQLSource) Ping(ctx context.Context) error {
	conn, err := s.Conn()
	if err != nil {
		return s.connErr(err)
	}
	if err := conn.PingContext(ctx); err != nil {
		return s.connErr(err)
	}
	return nil
}

// Close releases the connection and the handle. Later calls return nil.
func (s *SQLSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	if s.conn != nil {
		errs = append(errs, s.conn.Close())
		s.conn = nil
	}
	if s.db != nil {
		errs = append(errs, s.db.Close())
		s.db = nil
	}
	return errors.Join(errs...)
}

// sqlRowStream adapts *sql.Rows to RowStream.
type sqlRowStream struct {
	rows      *sql.Rows
	cols      []Column
	values    []any
	ptrs      []any
	normalize func(any, string) any
	onClose   func() error
	closed    bool
}

// NewRowStream wraps rows. onClose, if set, runs after rows are closed.
func NewRowStream(rows *sql.Rows, normalize func(any, string) any, onClose func() error) (RowStream, error) {
	types, err := rows.ColumnTypes()
	if err != nil {
		rows.Close()
		return nil, fmt.Errorf("reading column metadata: %w", err)
	}
	cols := make([]Column, len(types))
	for i, ct := range types {
		cols[i] = Column{Name: ct.Name(), DatabaseType: strings.ToUpper(ct.DatabaseTypeName())}
	}
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	return &sqlRowStream{
		rows:      rows,
		cols:      cols,
		values:    values,
		ptrs:      ptrs,
		normalize: normalize,
		onClose:   onClose,
	}, nil
}

func (r *sqlRowStream) Columns() []Column { return r.cols }

func (r *sqlRowStream) Next() bool { return r.rows.Next() }

func (r *sqlRowStream) Values() ([]any, error) {
	if err := r.rows.Scan(r.ptrs...); err != nil {
		return nil, fmt.Errorf("scanning row: %w", err)
	}
	if r.normalize != nil {
		for i, v := range r.values {
			r.values[i] = r.normalize(v, r.cols[i].DatabaseType)
		}
	}
	return r.values, nil
}

func (r *sqlRowStream) Err() error { return r.rows.Err() }

func (r *sqlRowStream) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	err := r.rows.Close()
	if r.onClose != nil {
		err = errors.Join(err, r.onClose())
	}
	return err
}
