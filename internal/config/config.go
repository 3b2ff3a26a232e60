// Package config loads and validates the monitor configuration using Viper.
//
// Configuration is layered: built-in defaults < YAML config file < environment
// variables. Environment variables use the GWMON_ prefix (e.g., GWMON_DATABASE_PATH
// overrides database.path in the YAML). This layering allows the same binary to
// run with a config.yaml in local development and with pure environment variables
// in containerized deployments — no recompilation or different binaries needed.
//
// The defaults describe a self-contained deployment: an embedded sqlite store
// under ./data and the standard nginx access log location. Pointing the binary
// at a real gateway usually means overriding access_log.path and nothing else.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	AccessLog AccessLogConfig `mapstructure:"access_log"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
	Alerts    AlertsConfig    `mapstructure:"alerts"`
	Retention RetentionConfig `mapstructure:"retention"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Security  SecurityConfig  `mapstructure:"security"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds event store configuration. Driver selects the engine:
// "sqlite" uses only Path, "postgres" uses the connection fields below it.
type DatabaseConfig struct {
	Driver             string `mapstructure:"driver"`
	Path               string `mapstructure:"path"`
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	Name               string `mapstructure:"name"`
	User               string `mapstructure:"user"`
	Password           string `mapstructure:"password"`
	SSLMode            string `mapstructure:"ssl_mode"`
	MaxConnections     int    `mapstructure:"max_connections"`
	MinIdleConnections int    `mapstructure:"min_idle_connections"`
}

// AccessLogConfig holds the location and read behavior of the gateway access log
type AccessLogConfig struct {
	// Path is the gateway access log file the monitor tails
	Path string `mapstructure:"path"`
	// PollScanCap bounds how many lines a single poll consumes. A backlogged
	// log is drained across successive polls rather than in one long pass.
	PollScanCap int `mapstructure:"poll_scan_cap"`
}

// IngestConfig holds background ingestion configuration. Dashboard queries
// always trigger their own poll first; the background interval only bounds
// how stale the store can get when nobody is looking at the dashboard.
type IngestConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	IntervalSeconds int  `mapstructure:"interval_seconds"`
}

// MonitorConfig holds dashboard query configuration
type MonitorConfig struct {
	// DefaultWindowMinutes is the query window applied when the request
	// does not specify one
	DefaultWindowMinutes int `mapstructure:"default_window_minutes"`
	// MaxPageSize caps the per-request event page size
	MaxPageSize int `mapstructure:"max_page_size"`
	// IgnoredClients lists client IPs excluded from dashboard views
	// (health checkers, uptime probes). Excluded traffic is still counted
	// and reported separately.
	IgnoredClients []string `mapstructure:"ignored_clients"`
}

// AlertsConfig holds the heuristic alerting thresholds. A count must strictly
// exceed its threshold to raise an alert.
type AlertsConfig struct {
	// WindowMinutes is the sliding evaluation window
	WindowMinutes int `mapstructure:"window_minutes"`
	// RateThreshold is the per-client request count above which a burst alert fires
	RateThreshold int `mapstructure:"rate_threshold"`
	// ClientErrorThreshold is the per-client 4xx count above which an alert fires
	ClientErrorThreshold int `mapstructure:"client_error_threshold"`
	// MissingKeyThreshold is the global count of keyless requests above which an alert fires
	MissingKeyThreshold int `mapstructure:"missing_key_threshold"`
	// SlowRequestMs is the request duration above which a request is flagged very_slow
	SlowRequestMs int64 `mapstructure:"slow_request_ms"`
	// SuspiciousPaths are substrings that mark a request path as probing
	SuspiciousPaths []string `mapstructure:"suspicious_paths"`
	// SuppressRepeats makes the notifier ship an ongoing condition once per
	// episode instead of every evaluation cycle. The API always re-reports
	// active alerts regardless of this setting.
	SuppressRepeats bool `mapstructure:"suppress_repeats"`
}

// RetentionConfig holds event retention configuration
type RetentionConfig struct {
	Enabled              bool `mapstructure:"enabled"`
	MaxAgeDays           int  `mapstructure:"max_age_days"`
	SweepIntervalMinutes int  `mapstructure:"sweep_interval_minutes"`
}

// NotifyConfig holds alert notification configuration. Shippers are
// configured in the YAML file only; an empty list disables shipping.
type NotifyConfig struct {
	// Enabled determines if alert notifications are shipped at all
	Enabled bool `mapstructure:"enabled"`
	// Shippers configures external alert sinks
	Shippers []NotifyShipperConfig `mapstructure:"shippers"`
}

// NotifyShipperConfig holds configuration for a single alert shipper
type NotifyShipperConfig struct {
	// Enabled determines if this shipper is active
	Enabled bool `mapstructure:"enabled"`
	// Type is the shipper type (file, webhook)
	Type string `mapstructure:"type"`
	// File configuration
	File *NotifyFileConfig `mapstructure:"file"`
	// Webhook configuration
	Webhook *NotifyWebhookConfig `mapstructure:"webhook"`
}

// NotifyFileConfig holds file shipper configuration
type NotifyFileConfig struct {
	Path string `mapstructure:"path"`
}

// NotifyWebhookConfig holds webhook shipper configuration. Header values
// support ${VAR} expansion so tokens stay out of the config file.
type NotifyWebhookConfig struct {
	URL           string            `mapstructure:"url"`
	Headers       map[string]string `mapstructure:"headers"`
	TimeoutSecs   int               `mapstructure:"timeout_secs"`
	BatchSize     int               `mapstructure:"batch_size"`
	FlushInterval int               `mapstructure:"flush_interval_secs"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	CORS         CORSConfig         `mapstructure:"cors"`
	RateLimiting RateLimitingConfig `mapstructure:"rate_limiting"`
}

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
}

// RateLimitingConfig holds rate limiting configuration
type RateLimitingConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	Burst             int  `mapstructure:"burst"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// TelemetryConfig holds observability configuration
type TelemetryConfig struct {
	Enabled     bool            `mapstructure:"enabled"`
	ServiceName string          `mapstructure:"service_name"`
	Metrics     MetricsConfig   `mapstructure:"metrics"`
	Profiling   ProfilingConfig `mapstructure:"profiling"`
}

// MetricsConfig holds Prometheus metrics configuration
type MetricsConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	PrometheusPort int  `mapstructure:"prometheus_port"`
}

// ProfilingConfig holds profiling configuration
type ProfilingConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// bindEnvVars explicitly binds environment variables to config keys.
// This is necessary because AutomaticEnv() doesn't work well with nested structs during Unmarshal.
// viper.BindEnv only errors when called with zero keys; since every key here is a non-empty
// hardcoded string, any error indicates a programming bug and is surfaced to the caller.
// Notify shippers are deliberately absent: a list of structured sinks has no
// sensible flat environment encoding, so they are YAML-only.
func bindEnvVars(v *viper.Viper) error {
	keys := []string{
		// Database
		"database.driver",
		"database.path",
		"database.host",
		"database.port",
		"database.name",
		"database.user",
		"database.password",
		"database.ssl_mode",
		"database.max_connections",
		"database.min_idle_connections",

		// Server
		"server.host",
		"server.port",
		"server.read_timeout",
		"server.write_timeout",

		// Access log
		"access_log.path",
		"access_log.poll_scan_cap",

		// Ingestion
		"ingest.enabled",
		"ingest.interval_seconds",

		// Monitor
		"monitor.default_window_minutes",
		"monitor.max_page_size",
		"monitor.ignored_clients",

		// Alerts
		"alerts.window_minutes",
		"alerts.rate_threshold",
		"alerts.client_error_threshold",
		"alerts.missing_key_threshold",
		"alerts.slow_request_ms",
		"alerts.suspicious_paths",
		"alerts.suppress_repeats",

		// Retention
		"retention.enabled",
		"retention.max_age_days",
		"retention.sweep_interval_minutes",

		// Notifications
		"notify.enabled",

		// Security
		"security.cors.allowed_origins",
		"security.cors.allowed_methods",
		"security.rate_limiting.enabled",
		"security.rate_limiting.requests_per_minute",
		"security.rate_limiting.burst",

		// Logging
		"logging.level",
		"logging.format",
		"logging.output",

		// Telemetry
		"telemetry.enabled",
		"telemetry.service_name",
		"telemetry.metrics.enabled",
		"telemetry.metrics.prometheus_port",
		"telemetry.profiling.enabled",
		"telemetry.profiling.port",
	}
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("failed to bind env var %q: %w", key, err)
		}
	}
	return nil
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set default values
	setDefaults(v)

	// Set config file path if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Look for config.yaml in common locations
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/gateway-monitor")
	}

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; use defaults and environment variables
	}

	// Enable environment variable support
	v.SetEnvPrefix("GWMON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicitly bind environment variables for nested structures
	// This is necessary because AutomaticEnv() doesn't work well with Unmarshal()
	if err := bindEnvVars(v); err != nil {
		return nil, err
	}

	// Unmarshal configuration
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Expand environment variables in sensitive fields
	cfg.Database.Password = expandEnv(cfg.Database.Password)
	for _, shipper := range cfg.Notify.Shippers {
		if shipper.Webhook == nil {
			continue
		}
		for name, value := range shipper.Webhook.Headers {
			shipper.Webhook.Headers[name] = expandEnv(value)
		}
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/gateway-monitor.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "gateway_monitor")
	v.SetDefault("database.user", "gwmon")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_idle_connections", 5)

	// Access log defaults
	v.SetDefault("access_log.path", "/var/log/nginx/gateway_access.log")
	v.SetDefault("access_log.poll_scan_cap", 5000)

	// Ingestion defaults
	v.SetDefault("ingest.enabled", true)
	v.SetDefault("ingest.interval_seconds", 15)

	// Monitor defaults
	v.SetDefault("monitor.default_window_minutes", 60)
	v.SetDefault("monitor.max_page_size", 1000)
	v.SetDefault("monitor.ignored_clients", []string{})

	// Alert defaults
	v.SetDefault("alerts.window_minutes", 5)
	v.SetDefault("alerts.rate_threshold", 120)
	v.SetDefault("alerts.client_error_threshold", 20)
	v.SetDefault("alerts.missing_key_threshold", 10)
	v.SetDefault("alerts.slow_request_ms", 10000)
	v.SetDefault("alerts.suspicious_paths", []string{
		".env", ".git", "wp-admin", "wp-login", "xmlrpc.php",
		"phpmyadmin", ".php", "cgi-bin", "../", "/etc/passwd",
	})
	v.SetDefault("alerts.suppress_repeats", false)

	// Retention defaults
	v.SetDefault("retention.enabled", true)
	v.SetDefault("retention.max_age_days", 14)
	v.SetDefault("retention.sweep_interval_minutes", 60)

	// Notification defaults
	v.SetDefault("notify.enabled", false)

	// Security defaults
	v.SetDefault("security.cors.allowed_origins", []string{"*"})
	v.SetDefault("security.cors.allowed_methods", []string{"GET", "POST", "OPTIONS"})
	v.SetDefault("security.rate_limiting.enabled", true)
	v.SetDefault("security.rate_limiting.requests_per_minute", 200)
	v.SetDefault("security.rate_limiting.burst", 50)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	// Telemetry defaults
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.service_name", "gateway-monitor")
	v.SetDefault("telemetry.metrics.enabled", true)
	v.SetDefault("telemetry.metrics.prometheus_port", 9090)
	v.SetDefault("telemetry.profiling.enabled", false)
	v.SetDefault("telemetry.profiling.port", 6060)
}

// expandEnv expands environment variables in the format ${VAR_NAME}
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate server
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	// Validate database
	validDrivers := map[string]bool{"sqlite": true, "postgres": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("invalid database driver: %s (must be sqlite or postgres)", c.Database.Driver)
	}
	if c.Database.Driver == "sqlite" {
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required when using the sqlite driver")
		}
	}
	if c.Database.Driver == "postgres" {
		if c.Database.Host == "" {
			return fmt.Errorf("database.host is required when using the postgres driver")
		}
		if c.Database.Name == "" {
			return fmt.Errorf("database.name is required when using the postgres driver")
		}
		if c.Database.User == "" {
			return fmt.Errorf("database.user is required when using the postgres driver")
		}
	}

	// Validate access log
	if c.AccessLog.Path == "" {
		return fmt.Errorf("access_log.path is required")
	}
	if c.AccessLog.PollScanCap < 1 {
		return fmt.Errorf("invalid access_log.poll_scan_cap: %d (must be positive)", c.AccessLog.PollScanCap)
	}

	// Validate ingestion
	if c.Ingest.IntervalSeconds < 1 {
		return fmt.Errorf("invalid ingest.interval_seconds: %d (must be positive)", c.Ingest.IntervalSeconds)
	}

	// Validate monitor windows
	if c.Monitor.DefaultWindowMinutes < 1 {
		return fmt.Errorf("invalid monitor.default_window_minutes: %d (must be positive)", c.Monitor.DefaultWindowMinutes)
	}
	if c.Monitor.MaxPageSize < 1 {
		return fmt.Errorf("invalid monitor.max_page_size: %d (must be positive)", c.Monitor.MaxPageSize)
	}

	// Validate alert thresholds
	if c.Alerts.WindowMinutes < 1 {
		return fmt.Errorf("invalid alerts.window_minutes: %d (must be positive)", c.Alerts.WindowMinutes)
	}
	if c.Alerts.RateThreshold < 1 {
		return fmt.Errorf("invalid alerts.rate_threshold: %d (must be positive)", c.Alerts.RateThreshold)
	}
	if c.Alerts.ClientErrorThreshold < 1 {
		return fmt.Errorf("invalid alerts.client_error_threshold: %d (must be positive)", c.Alerts.ClientErrorThreshold)
	}
	if c.Alerts.MissingKeyThreshold < 1 {
		return fmt.Errorf("invalid alerts.missing_key_threshold: %d (must be positive)", c.Alerts.MissingKeyThreshold)
	}

	// Validate retention if enabled
	if c.Retention.Enabled {
		if c.Retention.MaxAgeDays < 1 {
			return fmt.Errorf("invalid retention.max_age_days: %d (must be positive)", c.Retention.MaxAgeDays)
		}
		if c.Retention.SweepIntervalMinutes < 1 {
			return fmt.Errorf("invalid retention.sweep_interval_minutes: %d (must be positive)", c.Retention.SweepIntervalMinutes)
		}
	}

	// Validate notify shippers
	for i, shipper := range c.Notify.Shippers {
		if !shipper.Enabled {
			continue
		}
		switch shipper.Type {
		case "file":
			if shipper.File == nil || shipper.File.Path == "" {
				return fmt.Errorf("notify.shippers[%d]: file shipper requires file.path", i)
			}
		case "webhook":
			if shipper.Webhook == nil || shipper.Webhook.URL == "" {
				return fmt.Errorf("notify.shippers[%d]: webhook shipper requires webhook.url", i)
			}
		default:
			return fmt.Errorf("notify.shippers[%d]: invalid shipper type: %s (must be file or webhook)", i, shipper.Type)
		}
	}

	// Validate logging level
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	return nil
}

// GetDSN returns the driver-specific connection string. The sqlite DSN pins
// WAL journaling (one writer, snapshot readers) and a busy timeout so
// dashboard reads are never failed by a briefly held write lock.
func (c *DatabaseConfig) GetDSN() string {
	if c.Driver == "sqlite" {
		return fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", c.Path)
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// GetAddress returns the server address in host:port format
func (c *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
