// Package s3docs provides a paged document source over an S3-compatible
// object store. Each object is one XML or JSON document; configured elements
// become output columns.
package s3docs

import "github.com/johndauphine/dsv-extract/internal/driver"

func init() {
	driver.Register(&Driver{})
}

// Driver implements driver.Driver for S3 document buckets.
type Driver struct{}

func (d *Driver) Name() string      { return "s3docs" }
func (d *Driver) Aliases() []string { return []string{"s3", "minio", "documents"} }

func (d *Driver) Defaults() driver.DriverDefaults {
	return driver.DriverDefaults{Port: 9000, Paged: true}
}

// NewSource creates an unopened document source.
func (d *Driver) NewSource(opts driver.Options) (driver.Source, error) {
	return NewSource(opts), nil
}
