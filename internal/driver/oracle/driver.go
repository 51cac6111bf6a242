// Package oracle provides the Oracle source on top of the pure-Go go-ora
// driver. It registers itself with the driver registry on import.
package oracle

import (
	"fmt"
	"strconv"

	"github.com/johndauphine/dsv-extract/internal/driver"
	go_ora "github.com/sijms/go-ora/v2"
)

func init() {
	driver.Register(&Driver{})
}

// Driver implements driver.Driver for Oracle.
type Driver struct{}

// Name returns the primary driver name.
func (d *Driver) Name() string {
	return "oracle"
}

// Aliases returns alternative names for the driver.
func (d *Driver) Aliases() []string {
	return []string{"ora"}
}

// Defaults returns the default configuration values for Oracle.
func (d *Driver) Defaults() driver.DriverDefaults {
	return driver.DriverDefaults{Port: 1521}
}

// NewSource creates an unopened Oracle source.
func (d *Driver) NewSource(opts driver.Options) (driver.Source, error) {
	return driver.NewSQLSource(driver.SQLConfig{
		Name:       d.Name(),
		DriverName: "oracle",
		DSN:        BuildDSN,
		Options:    opts,
	}), nil
}

// BuildDSN renders an oracle:// URL. Exactly one of the "sid" and
// "service_name" parameters selects the database; without either, the
// endpoint database is the service name. The fetch size becomes the driver's
// row prefetch.
func BuildDSN(ep driver.Endpoint, cred driver.Credentials, opts driver.Options) (string, error) {
	if ep.Host == "" {
		return "", fmt.Errorf("oracle: host is required")
	}
	sid := ep.Param("sid")
	service := ep.Param("service_name")
	if service == "" && sid == "" {
		service = ep.Database
	}
	switch {
	case sid != "" && service != "":
		return "", fmt.Errorf("oracle: set either sid or service_name, not both")
	case sid == "" && service == "":
		return "", fmt.Errorf("oracle: sid or service_name is required")
	}

	urlOpts := map[string]string{}
	if sid != "" {
		urlOpts["SID"] = sid
	}
	if opts.FetchSize > 0 {
		urlOpts["PREFETCH_ROWS"] = strconv.Itoa(opts.FetchSize)
	}
	return go_ora.BuildUrl(ep.Host, ep.Port, service, cred.User, cred.Password, urlOpts), nil
}
