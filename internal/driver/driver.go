// Package driver provides the pluggable data source abstraction. Each
// backing store (SQL Server, PostgreSQL, Oracle, SQLite, DuckDB, S3 documents)
// implements the Driver interface in its own package and registers itself on
// import.
package driver

// DriverDefaults contains default values for a source driver.
// Used by config.applyDefaults() to avoid hardcoding per-database defaults.
type DriverDefaults struct {
	// Port is the default port (0 for file-backed sources).
	Port int

	// Schema is the default schema.
	Schema string

	// SSLMode is the default SSL mode for PostgreSQL-style connections.
	SSLMode string

	// Encrypt is the default encryption setting for MSSQL-style connections.
	Encrypt bool

	// PacketSize is the default TDS packet size (MSSQL only, 0 means driver default).
	PacketSize int

	// FileBased sources are located by Endpoint.Path instead of host and port.
	FileBased bool

	// Paged sources return documents in pages rather than a row cursor.
	Paged bool
}

// Options are the per-run settings a driver needs beyond the endpoint.
type Options struct {
	// FetchSize is the cursor fetch-size hint in rows.
	FetchSize int

	// PageSize bounds the number of documents per page.
	PageSize int

	// Documents configures paged document sources.
	Documents DocumentOptions

	// Transformer enriches documents before extraction. Nil selects the
	// driver's default.
	Transformer Transformer
}

// DocumentOptions describes how documents are reduced to columns.
type DocumentOptions struct {
	Format   string // xml or json
	Elements []Element
	RootNode string
	Suffix   string // object key filter
}

// Element maps a document element to an output column.
type Element struct {
	Source string
	Header string
}

// Driver represents a pluggable source driver.
//
// To add a new backing store:
// 1. Create a package under internal/driver/<name>/
// 2. Implement the Driver interface
// 3. Register via init(): driver.Register(&MyDriver{})
type Driver interface {
	// Name returns the primary driver name (e.g., "mssql", "postgres").
	Name() string

	// Aliases returns alternative names for this driver.
	Aliases() []string

	// Defaults returns the default configuration values for this driver.
	Defaults() DriverDefaults

	// NewSource creates an unopened Source.
	NewSource(opts Options) (Source, error)
}
