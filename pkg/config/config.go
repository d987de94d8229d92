package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	// EnvPrefix is the prefix for environment variable overrides, e.g.
	// TRENDOOR_STORE_SQLITE_PATH overrides store.sqlite.path.
	EnvPrefix = "TRENDOOR"

	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultDriver is the default store driver.
	DefaultDriver = "sqlite"

	// DefaultSQLitePath is the default sqlite database file.
	DefaultSQLitePath = "summary.sqlite3"

	// DefaultRetention is how long results are kept, measured from the
	// build start timestamp.
	DefaultRetention = "168h"

	// DefaultReportOutput is the default rendered report filename.
	DefaultReportOutput = "summary.html"

	// DefaultReportFormat is the default report format.
	DefaultReportFormat = "html"

	// DefaultTrendWindow is the number of most recent builds shown per test.
	DefaultTrendWindow = 10

	// DefaultMaxMarkdownChars caps markdown reports so they fit into CI
	// step summaries.
	DefaultMaxMarkdownChars = 65000

	// DefaultListen is the default API listen address.
	DefaultListen = ":8080"

	// DefaultVideoTimeout bounds recording URL verification requests.
	DefaultVideoTimeout = "5s"

	// DefaultUploadConcurrency bounds parallel report uploads.
	DefaultUploadConcurrency = 4
)

// Config is the root configuration for trendoor.
type Config struct {
	Global   GlobalConfig   `yaml:"global" mapstructure:"global"`
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Recorder RecorderConfig `yaml:"recorder" mapstructure:"recorder"`
	Report   ReportConfig   `yaml:"report" mapstructure:"report"`
	API      APIConfig      `yaml:"api" mapstructure:"api"`
}

// GlobalConfig contains global application settings.
type GlobalConfig struct {
	LogLevel string `yaml:"log_level" mapstructure:"log_level"`
	// LogFile enables an additional rotated log file when set.
	LogFile       string `yaml:"log_file,omitempty" mapstructure:"log_file"`
	LogMaxSizeMB  int    `yaml:"log_max_size_mb,omitempty" mapstructure:"log_max_size_mb"`
	LogMaxBackups int    `yaml:"log_max_backups,omitempty" mapstructure:"log_max_backups"`
}

// StoreConfig contains result store settings.
type StoreConfig struct {
	Driver    string               `yaml:"driver" mapstructure:"driver"`
	SQLite    SQLiteDatabaseConfig `yaml:"sqlite,omitempty" mapstructure:"sqlite"`
	Postgres  PostgresConfig       `yaml:"postgres,omitempty" mapstructure:"postgres"`
	Retention string               `yaml:"retention" mapstructure:"retention"`
}

// SQLiteDatabaseConfig contains SQLite-specific settings.
type SQLiteDatabaseConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
	SSLMode  string `yaml:"ssl_mode,omitempty" mapstructure:"ssl_mode"`
}

// RecorderConfig contains settings used while recording phase events.
type RecorderConfig struct {
	Video VideoConfig `yaml:"video" mapstructure:"video"`
}

// VideoConfig configures how recording URLs of remote browser sessions
// are resolved. Template placeholders: {session}, {test}.
type VideoConfig struct {
	Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
	Template string `yaml:"template,omitempty" mapstructure:"template"`
	Verify   bool   `yaml:"verify" mapstructure:"verify"`
	Timeout  string `yaml:"timeout,omitempty" mapstructure:"timeout"`
}

// ReportConfig contains report rendering settings.
type ReportConfig struct {
	Output           string         `yaml:"output" mapstructure:"output"`
	Format           string         `yaml:"format" mapstructure:"format"`
	Branch           string         `yaml:"branch,omitempty" mapstructure:"branch"`
	Window           int            `yaml:"window" mapstructure:"window"`
	MaxMarkdownChars int            `yaml:"max_markdown_chars" mapstructure:"max_markdown_chars"`
	Owner            string         `yaml:"owner,omitempty" mapstructure:"owner"`
	Upload           S3UploadConfig `yaml:"upload,omitempty" mapstructure:"upload"`
}

// S3UploadConfig contains settings for uploading rendered reports to
// S3-compatible storage.
type S3UploadConfig struct {
	Enabled         bool   `yaml:"enabled" mapstructure:"enabled"`
	EndpointURL     string `yaml:"endpoint_url,omitempty" mapstructure:"endpoint_url"`
	Region          string `yaml:"region,omitempty" mapstructure:"region"`
	Bucket          string `yaml:"bucket" mapstructure:"bucket"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" mapstructure:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" mapstructure:"secret_access_key"`
	Prefix          string `yaml:"prefix,omitempty" mapstructure:"prefix"`
	StorageClass    string `yaml:"storage_class,omitempty" mapstructure:"storage_class"`
	ACL             string `yaml:"acl,omitempty" mapstructure:"acl"`
	ForcePathStyle  bool   `yaml:"force_path_style" mapstructure:"force_path_style"`
	Concurrency     int    `yaml:"concurrency,omitempty" mapstructure:"concurrency"`
}

// APIConfig contains the ingestion/report server configuration.
type APIConfig struct {
	Server  APIServerConfig  `yaml:"server" mapstructure:"server"`
	Auth    APIAuthConfig    `yaml:"auth" mapstructure:"auth"`
	Metrics APIMetricsConfig `yaml:"metrics" mapstructure:"metrics"`
}

// APIServerConfig contains HTTP server settings.
type APIServerConfig struct {
	Listen      string          `yaml:"listen" mapstructure:"listen"`
	CORSOrigins []string        `yaml:"cors_origins,omitempty" mapstructure:"cors_origins"`
	RateLimit   RateLimitConfig `yaml:"rate_limit,omitempty" mapstructure:"rate_limit"`
}

// RateLimitConfig configures per-IP rate limiting.
type RateLimitConfig struct {
	Enabled bool          `yaml:"enabled" mapstructure:"enabled"`
	Ingest  RateLimitTier `yaml:"ingest,omitempty" mapstructure:"ingest"`
	Read    RateLimitTier `yaml:"read,omitempty" mapstructure:"read"`
}

// RateLimitTier defines request limits for a specific tier.
type RateLimitTier struct {
	RequestsPerMinute int `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// APIAuthConfig protects the write endpoints. When TokenHashes is empty
// the write endpoints are open.
type APIAuthConfig struct {
	// TokenHashes are bcrypt hashes of accepted bearer tokens.
	TokenHashes []string `yaml:"token_hashes,omitempty" mapstructure:"token_hashes"`
}

// APIMetricsConfig toggles the Prometheus endpoint.
type APIMetricsConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
}

// Load reads and merges the given configuration files in order and applies
// environment overrides. With no files the defaults and environment are
// used.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	for _, path := range paths {
		v.SetConfigFile(path)

		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %q: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// setDefaults registers every key with viper so that AutomaticEnv can
// override keys that are absent from the config files.
func setDefaults(v *viper.Viper) {
	v.SetDefault("global.log_level", DefaultLogLevel)
	v.SetDefault("global.log_file", "")
	v.SetDefault("global.log_max_size_mb", 50)
	v.SetDefault("global.log_max_backups", 3)

	v.SetDefault("store.driver", DefaultDriver)
	v.SetDefault("store.sqlite.path", DefaultSQLitePath)
	v.SetDefault("store.postgres.host", "")
	v.SetDefault("store.postgres.port", 5432)
	v.SetDefault("store.postgres.user", "")
	v.SetDefault("store.postgres.password", "")
	v.SetDefault("store.postgres.database", "")
	v.SetDefault("store.postgres.ssl_mode", "disable")
	v.SetDefault("store.retention", DefaultRetention)

	v.SetDefault("recorder.video.enabled", false)
	v.SetDefault("recorder.video.template", "")
	v.SetDefault("recorder.video.verify", false)
	v.SetDefault("recorder.video.timeout", DefaultVideoTimeout)

	v.SetDefault("report.output", "")
	v.SetDefault("report.format", DefaultReportFormat)
	v.SetDefault("report.branch", "")
	v.SetDefault("report.window", DefaultTrendWindow)
	v.SetDefault("report.max_markdown_chars", DefaultMaxMarkdownChars)
	v.SetDefault("report.owner", "")
	v.SetDefault("report.upload.enabled", false)
	v.SetDefault("report.upload.endpoint_url", "")
	v.SetDefault("report.upload.region", "")
	v.SetDefault("report.upload.bucket", "")
	v.SetDefault("report.upload.access_key_id", "")
	v.SetDefault("report.upload.secret_access_key", "")
	v.SetDefault("report.upload.prefix", "")
	v.SetDefault("report.upload.storage_class", "")
	v.SetDefault("report.upload.acl", "")
	v.SetDefault("report.upload.force_path_style", false)
	v.SetDefault("report.upload.concurrency", DefaultUploadConcurrency)

	v.SetDefault("api.server.listen", DefaultListen)
	v.SetDefault("api.server.cors_origins", []string{})
	v.SetDefault("api.server.rate_limit.enabled", false)
	v.SetDefault("api.server.rate_limit.ingest.requests_per_minute", 6000)
	v.SetDefault("api.server.rate_limit.read.requests_per_minute", 120)
	v.SetDefault("api.auth.token_hashes", []string{})
	v.SetDefault("api.metrics.enabled", true)
}

// applyDefaults fills values that depend on other settings.
func (c *Config) applyDefaults() {
	if c.Global.LogLevel == "" {
		c.Global.LogLevel = DefaultLogLevel
	}

	if c.Store.Driver == "" {
		c.Store.Driver = DefaultDriver
	}

	if c.Store.Driver == "sqlite" && c.Store.SQLite.Path == "" {
		c.Store.SQLite.Path = DefaultSQLitePath
	}

	if c.Store.Retention == "" {
		c.Store.Retention = DefaultRetention
	}

	if c.Report.Format == "" {
		c.Report.Format = DefaultReportFormat
	}

	if c.Report.Output == "" {
		c.Report.Output = DefaultOutputFor(c.Report.Format)
	}

	if c.Report.Window <= 0 {
		c.Report.Window = DefaultTrendWindow
	}

	if c.Report.MaxMarkdownChars <= 0 {
		c.Report.MaxMarkdownChars = DefaultMaxMarkdownChars
	}

	if c.Report.Upload.Concurrency <= 0 {
		c.Report.Upload.Concurrency = DefaultUploadConcurrency
	}

	if c.Recorder.Video.Timeout == "" {
		c.Recorder.Video.Timeout = DefaultVideoTimeout
	}

	if c.API.Server.Listen == "" {
		c.API.Server.Listen = DefaultListen
	}
}

// DefaultOutputFor returns the default output filename for a report format.
// The text format writes to stdout.
func DefaultOutputFor(format string) string {
	switch format {
	case "markdown":
		return "summary.md"
	case "json":
		return "summary.json"
	case "text":
		return "-"
	default:
		return DefaultReportOutput
	}
}

// validDrivers is the list of supported store drivers.
var validDrivers = map[string]struct{}{
	"sqlite":   {},
	"postgres": {},
}

// validFormats is the list of supported report formats.
var validFormats = map[string]struct{}{
	"html":     {},
	"markdown": {},
	"json":     {},
	"text":     {},
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if err := c.Store.Validate(); err != nil {
		return err
	}

	if _, ok := validFormats[c.Report.Format]; !ok {
		return fmt.Errorf("report: unknown format %q", c.Report.Format)
	}

	if c.Report.Upload.Enabled && c.Report.Upload.Bucket == "" {
		return fmt.Errorf("report.upload: bucket is required when enabled")
	}

	if c.Recorder.Video.Enabled {
		if !strings.Contains(c.Recorder.Video.Template, "{session}") {
			return fmt.Errorf(
				"recorder.video: template must contain the {session} placeholder",
			)
		}

		if _, err := c.Recorder.Video.TimeoutDuration(); err != nil {
			return err
		}
	}

	return nil
}

// Validate checks the store section.
func (s *StoreConfig) Validate() error {
	if _, ok := validDrivers[s.Driver]; !ok {
		return fmt.Errorf("store: unsupported driver %q", s.Driver)
	}

	switch s.Driver {
	case "sqlite":
		if s.SQLite.Path == "" {
			return fmt.Errorf("store.sqlite: path is required")
		}
	case "postgres":
		if s.Postgres.Host == "" || s.Postgres.Database == "" {
			return fmt.Errorf("store.postgres: host and database are required")
		}
	}

	if _, err := s.RetentionDuration(); err != nil {
		return err
	}

	return nil
}

// RetentionDuration parses the retention window.
func (s *StoreConfig) RetentionDuration() (time.Duration, error) {
	d, err := time.ParseDuration(s.Retention)
	if err != nil {
		return 0, fmt.Errorf("store: parsing retention %q: %w", s.Retention, err)
	}

	if d <= 0 {
		return 0, fmt.Errorf("store: retention must be positive, got %s", d)
	}

	return d, nil
}

// TimeoutDuration parses the verification timeout.
func (v *VideoConfig) TimeoutDuration() (time.Duration, error) {
	d, err := time.ParseDuration(v.Timeout)
	if err != nil {
		return 0, fmt.Errorf("recorder.video: parsing timeout %q: %w", v.Timeout, err)
	}

	return d, nil
}

// ValidateAPI checks the api section.
func (c *Config) ValidateAPI() error {
	if c.API.Server.Listen == "" {
		return fmt.Errorf("api.server: listen address is required")
	}

	rl := c.API.Server.RateLimit
	if rl.Enabled &&
		(rl.Ingest.RequestsPerMinute <= 0 || rl.Read.RequestsPerMinute <= 0) {
		return fmt.Errorf("api.server.rate_limit: requests_per_minute must be positive")
	}

	return nil
}

// Dump renders the configuration as YAML.
func (c *Config) Dump() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshaling config: %w", err)
	}

	return data, nil
}
