// Package sqlite provides a read-only SQLite file source backed by the pure-Go
// modernc.org/sqlite driver.
package sqlite

import (
	"fmt"
	"net/url"

	"github.com/johndauphine/dsv-extract/internal/driver"
	_ "modernc.org/sqlite"
)

func init() {
	driver.Register(&Driver{})
}

// Driver implements driver.Driver for SQLite database files.
type Driver struct{}

func (d *Driver) Name() string      { return "sqlite" }
func (d *Driver) Aliases() []string { return []string{"sqlite3"} }

func (d *Driver) Defaults() driver.DriverDefaults {
	return driver.DriverDefaults{FileBased: true}
}

// NewSource creates an unopened SQLite source.
func (d *Driver) NewSource(opts driver.Options) (driver.Source, error) {
	return driver.NewSQLSource(driver.SQLConfig{
		Name:       d.Name(),
		DriverName: "sqlite",
		DSN:        BuildDSN,
		Options:    opts,
	}), nil
}

// BuildDSN opens the file read-only with a busy timeout.
func BuildDSN(ep driver.Endpoint, _ driver.Credentials, _ driver.Options) (string, error) {
	if ep.Path == "" {
		return "", fmt.Errorf("sqlite: path is required")
	}
	q := url.Values{}
	q.Set("mode", "ro")
	q.Add("_pragma", "busy_timeout(5000)")
	return "file:" + ep.Path + "?" + q.Encode(), nil
}
