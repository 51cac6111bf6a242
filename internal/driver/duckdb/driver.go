// Package duckdb provides a read-only DuckDB file source.
package duckdb

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/johndauphine/dsv-extract/internal/driver"
	_ "github.com/marcboeker/go-duckdb/v2"
)

func init() {
	driver.Register(&Driver{})
}

// Driver implements driver.Driver for DuckDB database files.
type Driver struct{}

func (d *Driver) Name() string      { return "duckdb" }
func (d *Driver) Aliases() []string { return []string{"duck"} }

func (d *Driver) Defaults() driver.DriverDefaults {
	return driver.DriverDefaults{FileBased: true}
}

// NewSource creates an unopened DuckDB source.
func (d *Driver) NewSource(opts driver.Options) (driver.Source, error) {
	return driver.NewSQLSource(driver.SQLConfig{
		Name:       d.Name(),
		DriverName: "duckdb",
		DSN:        BuildDSN,
		Options:    opts,
	}), nil
}

// BuildDSN opens the database file read-only. The optional "threads"
// parameter caps DuckDB's worker threads.
func BuildDSN(ep driver.Endpoint, _ driver.Credentials, _ driver.Options) (string, error) {
	if ep.Path == "" {
		return "", fmt.Errorf("duckdb: path is required")
	}
	q := url.Values{}
	q.Set("access_mode", "READ_ONLY")
	if v := ep.Param("threads"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			q.Set("threads", strconv.Itoa(n))
		}
	}
	return ep.Path + "?" + q.Encode(), nil
}
