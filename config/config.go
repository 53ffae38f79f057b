package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kochj23/mailsummary/helpers"
)

// Config is the root of the mailsummary configuration, loaded from a TOML
// file at startup.
type Config struct {
	Logging  LoggingConfig  `toml:"logging"`
	Database DatabaseConfig `toml:"database"`
	Cache    CacheConfig    `toml:"cache"`
	S3       S3Config       `toml:"s3"`
	IMAP     IMAPConfig     `toml:"imap"`
	Notifier NotifierConfig `toml:"notifier"`
	Engine   EngineConfig   `toml:"engine"`
	HTTPAPI  HTTPAPIConfig  `toml:"http_api"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Output string `toml:"output"` // "stdout", "stderr", "syslog", or a file path
	Format string `toml:"format"` // "console" or "json"
	Level  string `toml:"level"`  // "debug", "info", "warn", "error"
}

// DatabaseConfig holds Postgres connection configuration for the rule and
// statistics store.
type DatabaseConfig struct {
	Host         string `toml:"host"`
	Port         string `toml:"port"` // Database port (default: "5432")
	User         string `toml:"user"`
	Password     string `toml:"password"`
	Name         string `toml:"name"`
	TLSMode      bool   `toml:"tls"`
	LogQueries   bool   `toml:"log_queries"`
	MaxConns     int    `toml:"max_conns"`     // Maximum number of connections in the pool
	MinConns     int    `toml:"min_conns"`     // Minimum number of connections in the pool
	QueryTimeout string `toml:"query_timeout"` // Timeout for individual database queries (e.g. "30s")
}

// GetQueryTimeout parses the query timeout duration
func (d *DatabaseConfig) GetQueryTimeout() (time.Duration, error) {
	if d.QueryTimeout == "" {
		return 30 * time.Second, nil
	}
	return helpers.ParseDuration(d.QueryTimeout)
}

// CacheConfig holds configuration for the local message cache.
type CacheConfig struct {
	Path          string `toml:"path"`           // Directory for the SQLite message index
	MaxAge        string `toml:"max_age"`        // Entries older than this are purged (default: "720h")
	PurgeInterval string `toml:"purge_interval"` // How often the purge loop runs (default: "1h")
}

// GetMaxAge parses the cache entry retention duration
func (c *CacheConfig) GetMaxAge() (time.Duration, error) {
	if c.MaxAge == "" {
		return 30 * 24 * time.Hour, nil
	}
	return helpers.ParseDuration(c.MaxAge)
}

// GetPurgeInterval parses the purge loop interval
func (c *CacheConfig) GetPurgeInterval() (time.Duration, error) {
	if c.PurgeInterval == "" {
		return time.Hour, nil
	}
	return helpers.ParseDuration(c.PurgeInterval)
}

// S3Config holds S3-compatible object storage configuration for the message
// archive. When disabled, destructive actions are dispatched without a
// snapshot.
type S3Config struct {
	Enabled    bool   `toml:"enabled"`
	Endpoint   string `toml:"endpoint"`
	DisableTLS bool   `toml:"disable_tls"`
	AccessKey  string `toml:"access_key"`
	SecretKey  string `toml:"secret_key"`
	Bucket     string `toml:"bucket"`
	Debug      bool   `toml:"debug"` // Enable detailed S3 request/response tracing
}

// IMAPConfig holds the connection settings for the source mail store.
type IMAPConfig struct {
	Address    string `toml:"address"` // host:port of the IMAP server
	Username   string `toml:"username"`
	Password   string `toml:"password"`
	Mailbox    string `toml:"mailbox"`     // Mailbox to automate (default: "INBOX")
	ArchiveBox string `toml:"archive_box"` // Target for archive actions (default: "Archive")
	StartTLS   bool   `toml:"starttls"`
	Insecure   bool   `toml:"insecure"` // Dial without TLS (testing only)
	FetchLimit int    `toml:"fetch_limit"`
	Timeout    string `toml:"timeout"` // Per-operation timeout (default: "30s")
}

// GetTimeout parses the per-operation IMAP timeout
func (i *IMAPConfig) GetTimeout() (time.Duration, error) {
	if i.Timeout == "" {
		return 30 * time.Second, nil
	}
	return helpers.ParseDuration(i.Timeout)
}

// GetMailbox returns the mailbox to automate
func (i *IMAPConfig) GetMailbox() string {
	if i.Mailbox == "" {
		return "INBOX"
	}
	return i.Mailbox
}

// GetArchiveBox returns the archive target mailbox
func (i *IMAPConfig) GetArchiveBox() string {
	if i.ArchiveBox == "" {
		return "Archive"
	}
	return i.ArchiveBox
}

// NotifierConfig selects and configures the notification backend.
type NotifierConfig struct {
	Backend string `toml:"backend"` // "log" (default) or "smtp"

	// SMTP digest notifier settings, used when backend = "smtp".
	SMTPAddress  string `toml:"smtp_address"` // host:port of the submission server
	SMTPUsername string `toml:"smtp_username"`
	SMTPPassword string `toml:"smtp_password"`
	From         string `toml:"from"`
	To           string `toml:"to"`
}

// EngineConfig holds rule engine run-loop settings.
type EngineConfig struct {
	Interval string `toml:"interval"` // How often the daemon runs the rule pass (default: "5m")
	Workers  int    `toml:"workers"`  // Per-rule record worker pool size; <=1 runs sequentially
}

// GetInterval parses the run-loop interval
func (e *EngineConfig) GetInterval() (time.Duration, error) {
	if e.Interval == "" {
		return 5 * time.Minute, nil
	}
	return helpers.ParseDuration(e.Interval)
}

// GetWorkers returns the per-rule worker pool size
func (e *EngineConfig) GetWorkers() int {
	if e.Workers < 1 {
		return 1
	}
	return e.Workers
}

// HTTPAPIConfig holds configuration for the admin HTTP API.
type HTTPAPIConfig struct {
	Enabled      bool     `toml:"enabled"`
	Addr         string   `toml:"addr"`          // Listen address (default: "127.0.0.1:8680")
	APIKey       string   `toml:"api_key"`       // Bearer token, required when enabled
	AllowedHosts []string `toml:"allowed_hosts"` // Client IPs/CIDRs allowed to connect; empty allows all
	TLS          bool     `toml:"tls"`
	TLSCertFile  string   `toml:"tls_cert_file"`
	TLSKeyFile   string   `toml:"tls_key_file"`
}

// GetAddr returns the listen address
func (h *HTTPAPIConfig) GetAddr() string {
	if h.Addr == "" {
		return "127.0.0.1:8680"
	}
	return h.Addr
}

// Load reads and parses the TOML configuration file at path.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if os.IsNotExist(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to parse configuration file '%s': %w", path, err)
	}
	return &cfg, nil
}

// Validate checks the configuration for missing or inconsistent settings.
func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database.name is required")
	}
	if c.IMAP.Address != "" && c.IMAP.Username == "" {
		return fmt.Errorf("imap.username is required when imap.address is set")
	}
	if c.S3.Enabled {
		if c.S3.Endpoint == "" || c.S3.Bucket == "" {
			return fmt.Errorf("s3.endpoint and s3.bucket are required when s3.enabled is true")
		}
	}
	if c.HTTPAPI.Enabled && c.HTTPAPI.APIKey == "" {
		return fmt.Errorf("http_api.api_key is required when http_api.enabled is true")
	}
	if c.HTTPAPI.TLS && (c.HTTPAPI.TLSCertFile == "" || c.HTTPAPI.TLSKeyFile == "") {
		return fmt.Errorf("http_api.tls_cert_file and http_api.tls_key_file are required when http_api.tls is true")
	}
	if c.Notifier.Backend != "" && c.Notifier.Backend != "log" && c.Notifier.Backend != "smtp" {
		return fmt.Errorf("notifier.backend must be \"log\" or \"smtp\", got %q", c.Notifier.Backend)
	}
	if c.Notifier.Backend == "smtp" {
		if c.Notifier.SMTPAddress == "" || c.Notifier.From == "" || c.Notifier.To == "" {
			return fmt.Errorf("notifier.smtp_address, notifier.from and notifier.to are required for the smtp backend")
		}
	}
	if _, err := c.Engine.GetInterval(); err != nil {
		return fmt.Errorf("engine.interval: %w", err)
	}
	return nil
}
