package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/johndauphine/dsv-extract/internal/driver"
	"github.com/johndauphine/dsv-extract/internal/driver/s3docs"
	"gopkg.in/yaml.v3"
)

// expandTilde expands ~ or ~/ at the start of a path to the user's home directory
func expandTilde(path string) string {
	if path == "" {
		return path
	}
	if path == "~" {
		home, _ := os.UserHomeDir()
		return home
	}
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// ConfigError reports a missing or malformed mandatory setting. It is fatal
// before any extraction starts.
type ConfigError struct {
	Field string
	Msg   string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return e.Field + ": " + e.Msg
}

// ExitCode maps configuration failures to the configuration exit code.
func (e *ConfigError) ExitCode() int {
	return 1
}

func missing(field string) error {
	return &ConfigError{Field: field, Msg: "is required"}
}

// Config holds all configuration for an extraction run.
type Config struct {
	Source  SourceConfig  `yaml:"source"`
	Extract ExtractConfig `yaml:"extract"`
	History HistoryConfig `yaml:"history"`
	Slack   SlackConfig   `yaml:"slack"`
	Metrics MetricsConfig `yaml:"metrics"`
	Profile ProfileConfig `yaml:"profile,omitempty"`
}

// ProfileConfig holds optional profile metadata.
type ProfileConfig struct {
	Name        string `yaml:"name,omitempty"`
	Description string `yaml:"description,omitempty"`
}

// SlackConfig holds Slack notification settings
type SlackConfig struct {
	WebhookURL string `yaml:"webhook_url"`
	Channel    string `yaml:"channel"`
	Username   string `yaml:"username"`
	Enabled    bool   `yaml:"enabled"`
}

// MetricsConfig controls the Prometheus endpoint. An empty address disables it.
type MetricsConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// SourceConfig holds the backing store connection settings.
type SourceConfig struct {
	Type            string `yaml:"type"` // mssql, postgres, oracle, sqlite, duckdb, s3docs
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	Database        string `yaml:"database"`
	User            string `yaml:"user"`
	Password        string `yaml:"password"`
	Schema          string `yaml:"schema"`
	SSLMode         string `yaml:"ssl_mode"`          // PostgreSQL: disable, require, verify-ca, verify-full
	Encrypt         string `yaml:"encrypt"`           // MSSQL: true or false
	TrustServerCert bool   `yaml:"trust_server_cert"` // MSSQL
	PacketSize      int    `yaml:"packet_size"`       // MSSQL TDS packet size
	WindowsAuth     bool   `yaml:"windows_auth"`      // MSSQL integrated authentication
	SID             string `yaml:"sid"`               // Oracle
	ServiceName     string `yaml:"service_name"`      // Oracle
	Path            string `yaml:"path"`              // SQLite / DuckDB file

	Documents DocumentsConfig `yaml:"documents"`
}

// DocumentsConfig holds document store settings.
type DocumentsConfig struct {
	Endpoint     string `yaml:"endpoint"`
	Region       string `yaml:"region"`
	Bucket       string `yaml:"bucket"`
	AccessKey    string `yaml:"access_key"`
	SecretKey    string `yaml:"secret_key"`
	UseSSL       bool   `yaml:"use_ssl"`
	Format       string `yaml:"format"` // xml or json; empty infers from the key
	ElementsFile string `yaml:"elements_file"`
	RootNode     string `yaml:"root_node"`
	Suffix       string `yaml:"suffix"`

	// Elements is loaded from ElementsFile during validation.
	Elements []driver.Element `yaml:"-"`
}

// ExtractConfig holds extraction behavior settings.
type ExtractConfig struct {
	Catalog       string `yaml:"catalog"`
	OutputDir     string `yaml:"output_dir"`
	LogDir        string `yaml:"log_dir"`
	Delimiter     string `yaml:"delimiter"`
	DateFormat    string `yaml:"date_format"` // Go layout or SimpleDateFormat-style pattern
	NoHeader      bool   `yaml:"no_header"`
	ChunkSize     int64  `yaml:"chunk_size"`     // rows per output file
	FetchSize     int    `yaml:"fetch_size"`     // cursor fetch-size hint
	OutputSize    int    `yaml:"output_size"`    // rows buffered between flushes
	PageSize      int    `yaml:"page_size"`      // documents per page
	Workers       int    `yaml:"workers"`        // page and document pool size
	ProgressEvery int    `yaml:"progress_every"` // rows between progress lines
	CommentMarker string `yaml:"comment_marker"`

	// Layout is DateFormat translated to a Go time layout.
	Layout string `yaml:"-"`
}

// HistoryConfig controls run history and the output manifest.
type HistoryConfig struct {
	DataDir  string `yaml:"data_dir"`
	Manifest *bool  `yaml:"manifest"`
}

// LoadOptions controls configuration loading behavior.
type LoadOptions struct {
	SuppressWarnings bool
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	return LoadWithOptions(path, LoadOptions{})
}

// LoadWithOptions reads configuration from a YAML file with options.
func LoadWithOptions(path string, opts LoadOptions) (*Config, error) {
	// Check file permissions before reading (warns if insecure)
	if warning := checkFilePermissions(path); warning != "" && !opts.SuppressWarnings {
		fmt.Fprint(os.Stderr, warning)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Field: "config", Msg: err.Error()}
	}

	return LoadBytes(data)
}

// LoadBytes reads configuration from YAML bytes.
func LoadBytes(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, &ConfigError{Field: "config", Msg: fmt.Sprintf("parsing yaml: %v", err)}
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// DefaultDataDir returns the default data directory for run history.
func DefaultDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".dsv-extract")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", err
	}
	if err := os.Chmod(dir, 0700); err != nil {
		return "", err
	}
	return dir, nil
}

func (c *Config) applyDefaults() {
	if c.Source.Type == "" {
		c.Source.Type = "oracle"
	}
	c.Source.Type = driver.Canonicalize(strings.ToLower(c.Source.Type))

	if d, err := driver.Get(c.Source.Type); err == nil {
		defaults := d.Defaults()
		if c.Source.Port == 0 {
			c.Source.Port = defaults.Port
		}
		if c.Source.Schema == "" {
			c.Source.Schema = defaults.Schema
		}
		if c.Source.SSLMode == "" {
			c.Source.SSLMode = defaults.SSLMode
		}
		if c.Source.Encrypt == "" && c.Source.Type == "mssql" {
			c.Source.Encrypt = strconv.FormatBool(defaults.Encrypt)
		}
		if c.Source.PacketSize == 0 {
			c.Source.PacketSize = defaults.PacketSize
		}
	}
	c.Source.Path = expandTilde(c.Source.Path)
	c.Source.Documents.ElementsFile = expandTilde(c.Source.Documents.ElementsFile)

	e := &c.Extract
	e.Catalog = expandTilde(e.Catalog)
	if e.OutputDir == "" {
		e.OutputDir = "output"
	}
	e.OutputDir = expandTilde(e.OutputDir)
	if e.LogDir == "" {
		e.LogDir = "logs"
	}
	e.LogDir = expandTilde(e.LogDir)
	if e.Delimiter == "" {
		e.Delimiter = "|"
	}
	if e.DateFormat == "" {
		e.DateFormat = "2006-01-02T15:04:05"
	}
	e.Layout = Layout(e.DateFormat)
	if e.ChunkSize == 0 {
		e.ChunkSize = 100000000
	}
	if e.FetchSize == 0 {
		e.FetchSize = 100000
	}
	if e.OutputSize == 0 {
		e.OutputSize = 500
	}
	if e.PageSize == 0 {
		e.PageSize = 10000
	}
	if e.Workers == 0 {
		e.Workers = runtime.NumCPU()
	}
	if e.ProgressEvery == 0 {
		e.ProgressEvery = e.FetchSize
	}
	if e.CommentMarker == "" {
		e.CommentMarker = "//"
	}

	if c.History.DataDir == "" {
		home, _ := os.UserHomeDir()
		c.History.DataDir = filepath.Join(home, ".dsv-extract")
	} else {
		c.History.DataDir = expandTilde(c.History.DataDir)
	}
}

func (c *Config) validate() error {
	if c.Extract.Catalog == "" {
		return missing("extract.catalog")
	}

	d, err := driver.Get(c.Source.Type)
	if err != nil {
		return &ConfigError{Field: "source.type", Msg: err.Error()}
	}
	defaults := d.Defaults()
	switch {
	case defaults.Paged:
		if err := c.validateDocuments(); err != nil {
			return err
		}
	case defaults.FileBased:
		if c.Source.Path == "" {
			return missing("source.path")
		}
	default:
		if c.Source.Host == "" {
			return missing("source.host")
		}
	}

	if c.Source.Type == "oracle" {
		if c.Source.SID != "" && c.Source.ServiceName != "" {
			return &ConfigError{Field: "source.sid", Msg: "set either sid or service_name, not both"}
		}
		if c.Source.SID != "" && c.Source.Database != "" {
			return &ConfigError{Field: "source.sid", Msg: "set either sid or database (used as service name), not both"}
		}
		if c.Source.SID == "" && c.Source.ServiceName == "" && c.Source.Database == "" {
			return missing("source.sid or source.service_name")
		}
	}

	e := c.Extract
	if strings.ContainsAny(e.Delimiter, "\r\n") {
		return &ConfigError{Field: "extract.delimiter", Msg: "must not contain line breaks"}
	}
	if strings.Contains(e.Delimiter, "###") {
		return &ConfigError{Field: "extract.delimiter", Msg: "must not contain the catalog separator ###"}
	}
	for name, v := range map[string]int64{
		"extract.chunk_size":     e.ChunkSize,
		"extract.fetch_size":     int64(e.FetchSize),
		"extract.output_size":    int64(e.OutputSize),
		"extract.page_size":      int64(e.PageSize),
		"extract.workers":        int64(e.Workers),
		"extract.progress_every": int64(e.ProgressEvery),
	} {
		if v < 0 {
			return &ConfigError{Field: name, Msg: "must not be negative"}
		}
	}
	return nil
}

func (c *Config) validateDocuments() error {
	docs := &c.Source.Documents
	if docs.Bucket == "" {
		return missing("source.documents.bucket")
	}
	if docs.Endpoint == "" && c.Source.Host == "" {
		return missing("source.documents.endpoint")
	}
	switch strings.ToLower(docs.Format) {
	case "", "xml", "json":
	default:
		return &ConfigError{Field: "source.documents.format", Msg: "must be xml or json"}
	}
	if docs.ElementsFile == "" {
		return missing("source.documents.elements_file")
	}
	f, err := os.Open(docs.ElementsFile)
	if err != nil {
		return &ConfigError{Field: "source.documents.elements_file", Msg: err.Error()}
	}
	defer f.Close()
	elements, err := s3docs.ParseElements(f)
	if err != nil {
		return &ConfigError{Field: "source.documents.elements_file", Msg: err.Error()}
	}
	docs.Elements = elements
	return nil
}

// IsDocumentSource reports whether the source is a paged document store.
func (c *Config) IsDocumentSource() bool {
	d, err := driver.Get(c.Source.Type)
	return err == nil && d.Defaults().Paged
}

// Endpoint returns the driver endpoint for the configured source.
func (c *Config) Endpoint() driver.Endpoint {
	s := c.Source
	ep := driver.Endpoint{
		Host:     s.Host,
		Port:     s.Port,
		Database: s.Database,
		Path:     s.Path,
		Params:   map[string]string{},
	}
	set := func(k, v string) {
		if v != "" {
			ep.Params[k] = v
		}
	}
	set("schema", s.Schema)
	set("ssl_mode", s.SSLMode)
	set("encrypt", s.Encrypt)
	set("sid", s.SID)
	set("service_name", s.ServiceName)
	if s.TrustServerCert {
		set("trust_server_cert", "true")
	}
	if s.PacketSize > 0 {
		set("packet_size", strconv.Itoa(s.PacketSize))
	}
	if c.IsDocumentSource() {
		ep.Database = s.Documents.Bucket
		set("endpoint", s.Documents.Endpoint)
		set("region", s.Documents.Region)
		if s.Documents.UseSSL {
			set("use_ssl", "true")
		}
	}
	return ep
}

// Credentials returns the source credentials. Document stores use the
// access key pair when set.
func (c *Config) Credentials() driver.Credentials {
	s := c.Source
	if c.IsDocumentSource() && s.Documents.AccessKey != "" {
		return driver.Credentials{User: s.Documents.AccessKey, Password: s.Documents.SecretKey}
	}
	return driver.Credentials{User: s.User, Password: s.Password, Integrated: s.WindowsAuth}
}

// DriverOptions returns the per-run driver settings.
func (c *Config) DriverOptions() driver.Options {
	d := c.Source.Documents
	return driver.Options{
		FetchSize: c.Extract.FetchSize,
		PageSize:  c.Extract.PageSize,
		Documents: driver.DocumentOptions{
			Format:   strings.ToLower(d.Format),
			Elements: d.Elements,
			RootNode: d.RootNode,
			Suffix:   d.Suffix,
		},
	}
}

// WriteManifest reports whether a run manifest is written to the output dir.
func (c *Config) WriteManifest() bool {
	return c.History.Manifest == nil || *c.History.Manifest
}

// Sanitized returns a copy of the config with sensitive fields redacted
func (c *Config) Sanitized() *Config {
	sanitized := *c // shallow copy

	if sanitized.Source.Password != "" {
		sanitized.Source.Password = "[REDACTED]"
	}
	if sanitized.Source.Documents.SecretKey != "" {
		sanitized.Source.Documents.SecretKey = "[REDACTED]"
	}
	if sanitized.Slack.WebhookURL != "" {
		sanitized.Slack.WebhookURL = "[REDACTED]"
	}

	return &sanitized
}

// IsConfigError reports whether err is or wraps a *ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
