// Package mssql provides the SQL Server source. It registers itself with the
// driver registry on import.
package mssql

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/johndauphine/dsv-extract/internal/driver"
	mssql "github.com/microsoft/go-mssqldb"
)

func init() {
	driver.Register(&Driver{})
}

// Driver implements driver.Driver for Microsoft SQL Server.
type Driver struct{}

// Name returns the primary driver name.
func (d *Driver) Name() string {
	return "mssql"
}

// Aliases returns alternative names for the driver.
func (d *Driver) Aliases() []string {
	return []string{"sqlserver", "sql-server"}
}

// Defaults returns the default configuration values for MSSQL.
func (d *Driver) Defaults() driver.DriverDefaults {
	return driver.DriverDefaults{
		Port:       1433,
		Schema:     "dbo",
		Encrypt:    true,
		PacketSize: 32767, // larger TDS packets stream wide rows faster
	}
}

// NewSource creates an unopened SQL Server source.
func (d *Driver) NewSource(opts driver.Options) (driver.Source, error) {
	return driver.NewSQLSource(driver.SQLConfig{
		Name:       d.Name(),
		DriverName: "sqlserver",
		DSN:        BuildDSN,
		Normalize:  Normalize,
		Options:    opts,
	}), nil
}

// BuildDSN renders a sqlserver:// URL. Integrated authentication leaves the
// user out so the driver negotiates SSPI/Kerberos.
func BuildDSN(ep driver.Endpoint, cred driver.Credentials, _ driver.Options) (string, error) {
	if ep.Host == "" {
		return "", fmt.Errorf("mssql: host is required")
	}
	u := &url.URL{Scheme: "sqlserver", Host: ep.Address()}
	if !cred.Integrated {
		u.User = url.UserPassword(cred.User, cred.Password)
	}

	q := url.Values{}
	if ep.Database != "" {
		q.Set("database", ep.Database)
	}
	if v := ep.Param("encrypt"); v != "" {
		q.Set("encrypt", strconv.FormatBool(ep.BoolParam("encrypt")))
	}
	if ep.BoolParam("trust_server_cert") {
		q.Set("TrustServerCertificate", "true")
	}
	if v := ep.Param("packet_size"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			q.Set("packet size", strconv.Itoa(n))
		}
	}
	q.Set("app name", "dsv-extract")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Normalize renders UNIQUEIDENTIFIER columns in their canonical text form.
// go-mssqldb returns them as raw mixed-endian bytes.
func Normalize(v any, databaseType string) any {
	b, ok := v.([]byte)
	if !ok || databaseType != "UNIQUEIDENTIFIER" || len(b) != 16 {
		return v
	}
	var id mssql.UniqueIdentifier
	if err := id.Scan(b); err != nil {
		return v
	}
	return id.String()
}
