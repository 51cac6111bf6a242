package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/johndauphine/dsv-extract/internal/driver"
)

const cursorName = "dsv_extract_cursor"

// Source streams query results through a server-side cursor so that memory
// stays bounded by the fetch size.
type Source struct {
	*driver.SQLSource
}

// NewSource wraps base with cursor-based execution.
func NewSource(base *driver.SQLSource) *Source {
	return &Source{SQLSource: base}
}

// Execute declares a cursor for query inside a read-only transaction.
func (s *Source) Execute(ctx context.Context, query string) (driver.Stream, error) {
	conn, err := s.Conn()
	if err != nil {
		return nil, err
	}
	tx, err := conn.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("beginning cursor transaction: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DECLARE "+cursorName+" NO SCROLL CURSOR FOR "+query); err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("declaring cursor: %w", err)
	}

	fetchSize := s.Options().FetchSize
	if fetchSize <= 0 {
		fetchSize = 10000
	}
	c := &cursorStream{ctx: ctx, tx: tx, fetchSize: fetchSize}
	if err := c.fetch(); err != nil {
		tx.Rollback()
		return nil, err
	}
	return c, nil
}

// cursorStream walks a declared cursor one FETCH batch at a time.
type cursorStream struct {
	ctx       context.Context
	tx        *sql.Tx
	fetchSize int

	batch   driver.RowStream
	cols    []driver.Column
	inBatch int
	done    bool
	err     error
	closed  bool
}

func (c *cursorStream) fetch() error {
	rows, err := c.tx.QueryContext(c.ctx, fmt.Sprintf("FETCH FORWARD %d FROM %s", c.fetchSize, cursorName))
	if err != nil {
		return fmt.Errorf("fetching from cursor: %w", err)
	}
	batch, err := driver.NewRowStream(rows, nil, nil)
	if err != nil {
		return err
	}
	if c.cols == nil {
		c.cols = batch.Columns()
	}
	c.batch = batch
	c.inBatch = 0
	return nil
}

func (c *cursorStream) Columns() []driver.Column { return c.cols }

func (c *cursorStream) Next() bool {
	for !c.done && c.err == nil {
		if c.batch.Next() {
			c.inBatch++
			return true
		}
		if err := c.batch.Err(); err != nil {
			c.err = err
			return false
		}
		c.batch.Close()
		if c.inBatch < c.fetchSize {
			c.done = true
			return false
		}
		if err := c.fetch(); err != nil {
			c.err = err
			return false
		}
	}
	return false
}

func (c *cursorStream) Values() ([]any, error) { return c.batch.Values() }

func (c *cursorStream) Err() error { return c.err }

func (c *cursorStream) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	err := c.batch.Close()
	if c.err != nil {
		return errors.Join(err, c.tx.Rollback())
	}
	_, closeErr := c.tx.ExecContext(c.ctx, "CLOSE "+cursorName)
	return errors.Join(err, closeErr, c.tx.Commit())
}
