// Package postgres provides the PostgreSQL source. It registers itself with
// the driver registry on import.
package postgres

import (
	"database/sql"
	"fmt"
	"net/url"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/johndauphine/dsv-extract/internal/driver"
)

func init() {
	driver.Register(&Driver{})
}

// Driver implements driver.Driver for PostgreSQL databases.
type Driver struct{}

// Name returns the primary driver name.
func (d *Driver) Name() string {
	return "postgres"
}

// Aliases returns alternative names for this driver.
func (d *Driver) Aliases() []string {
	return []string{"postgresql", "pg"}
}

// Defaults returns the default configuration values for PostgreSQL.
func (d *Driver) Defaults() driver.DriverDefaults {
	return driver.DriverDefaults{
		Port:    5432,
		Schema:  "public",
		SSLMode: "require",
	}
}

// NewSource creates an unopened PostgreSQL source.
func (d *Driver) NewSource(opts driver.Options) (driver.Source, error) {
	return NewSource(driver.NewSQLSource(driver.SQLConfig{
		Name:       d.Name(),
		DriverName: "pgx",
		DSN:        BuildDSN,
		OpenDB:     openDB,
		Options:    opts,
	})), nil
}

// BuildDSN renders a postgres:// URL.
func BuildDSN(ep driver.Endpoint, cred driver.Credentials, _ driver.Options) (string, error) {
	if ep.Host == "" {
		return "", fmt.Errorf("postgres: host is required")
	}
	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cred.User, cred.Password),
		Host:   ep.Address(),
		Path:   "/" + ep.Database,
	}
	q := url.Values{}
	if mode := ep.Param("ssl_mode"); mode != "" {
		q.Set("sslmode", mode)
	} else {
		q.Set("sslmode", "prefer")
	}
	q.Set("application_name", "dsv-extract")
	if schema := ep.Param("schema"); schema != "" {
		q.Set("search_path", schema)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func openDB(dsn string) (*sql.DB, error) {
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}
	return stdlib.OpenDB(*cfg), nil
}
