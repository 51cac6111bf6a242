package source

import (
	"fmt"

	"github.com/johndauphine/dsv-extract/internal/config"
	"github.com/johndauphine/dsv-extract/internal/driver"

	// Import driver packages to trigger init() registration
	_ "github.com/johndauphine/dsv-extract/internal/driver/duckdb"
	_ "github.com/johndauphine/dsv-extract/internal/driver/mssql"
	_ "github.com/johndauphine/dsv-extract/internal/driver/oracle"
	_ "github.com/johndauphine/dsv-extract/internal/driver/postgres"
	_ "github.com/johndauphine/dsv-extract/internal/driver/s3docs"
	_ "github.com/johndauphine/dsv-extract/internal/driver/sqlite"
)

// Target bundles an unopened source with the endpoint and credentials it
// should be opened with.
type Target struct {
	Source      driver.Source
	Endpoint    driver.Endpoint
	Credentials driver.Credentials
}

// New creates the source named by the configuration type. Adding a new
// source type requires no changes to this function.
func New(cfg *config.Config, transformer driver.Transformer) (*Target, error) {
	d, err := driver.Get(cfg.Source.Type)
	if err != nil {
		return nil, fmt.Errorf("unsupported source type: %s (available: %v)", cfg.Source.Type, driver.Available())
	}

	opts := cfg.DriverOptions()
	opts.Transformer = transformer
	src, err := d.NewSource(opts)
	if err != nil {
		return nil, fmt.Errorf("creating %s source: %w", d.Name(), err)
	}
	return &Target{
		Source:      src,
		Endpoint:    cfg.Endpoint(),
		Credentials: cfg.Credentials(),
	}, nil
}
