// Package config loads and validates the service configuration using Viper.
//
// Configuration is layered: built-in defaults < YAML config file < environment
// variables. Environment variables use the UILM_ prefix (e.g. UILM_DATABASE_HOST
// overrides database.host in the YAML), so the same binary runs from a
// config.yaml in development and from pure environment variables in containers.
//
// The API server, the event workers and the migrate command all read the same
// Config; sections a process does not use are simply ignored by it.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/uilm/uilm-service/internal/audit"
)

// Config holds all application configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Bus        BusConfig        `mapstructure:"bus"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Generation GenerationConfig `mapstructure:"generation"`
	Export     ExportConfig     `mapstructure:"export"`
	Notifier   NotifierConfig   `mapstructure:"notifier"`
	Ping       PingConfig       `mapstructure:"ping"`
	Auth       AuthConfig       `mapstructure:"auth"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Security   SecurityConfig   `mapstructure:"security"`
	Audit      AuditConfig      `mapstructure:"audit"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	BaseURL         string        `mapstructure:"base_url"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	Name               string `mapstructure:"name"`
	User               string `mapstructure:"user"`
	Password           string `mapstructure:"password"`
	SSLMode            string `mapstructure:"ssl_mode"`
	MaxConnections     int    `mapstructure:"max_connections"`
	MinIdleConnections int    `mapstructure:"min_idle_connections"`
}

// RedisConfig holds the Redis connection shared by the stream bus and the
// distributed rate limiter. An empty Addr disables Redis.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Enabled reports whether a Redis address is configured
func (r *RedisConfig) Enabled() bool { return r.Addr != "" }

// BusConfig selects and tunes the message bus
type BusConfig struct {
	// Driver is "memory" (single process) or "redis" (Redis Streams)
	Driver string `mapstructure:"driver"`
	// InlineWorkers runs the event consumers inside the API process
	InlineWorkers bool          `mapstructure:"inline_workers"`
	Workers       int           `mapstructure:"workers"`
	MaxDeliveries int           `mapstructure:"max_deliveries"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
	StreamPrefix  string        `mapstructure:"stream_prefix"`
	Group         string        `mapstructure:"group"`
	Consumer      string        `mapstructure:"consumer"`
	ClaimIdle     time.Duration `mapstructure:"claim_idle"`
}

// StorageConfig holds blob storage configuration for generated files and
// export packages
type StorageConfig struct {
	DefaultBackend string             `mapstructure:"default_backend"`
	Azure          AzureStorageConfig `mapstructure:"azure"`
	S3             S3StorageConfig    `mapstructure:"s3"`
	GCS            GCSStorageConfig   `mapstructure:"gcs"`
	Local          LocalStorageConfig `mapstructure:"local"`
}

// AzureStorageConfig holds Azure Blob Storage configuration
type AzureStorageConfig struct {
	AccountName   string `mapstructure:"account_name"`
	AccountKey    string `mapstructure:"account_key"`
	ContainerName string `mapstructure:"container_name"`
	// ServiceURL overrides the account endpoint (Azurite)
	ServiceURL string `mapstructure:"service_url"`
}

// S3StorageConfig holds S3-compatible storage configuration
type S3StorageConfig struct {
	// Endpoint is set for MinIO and other S3-compatible services
	Endpoint string `mapstructure:"endpoint"`
	Region   string `mapstructure:"region"`
	Bucket   string `mapstructure:"bucket"`

	// AuthMethod is "default", "static", "oidc" or "assume_role"
	AuthMethod      string `mapstructure:"auth_method"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`

	RoleARN              string `mapstructure:"role_arn"`
	RoleSessionName      string `mapstructure:"role_session_name"`
	ExternalID           string `mapstructure:"external_id"`
	WebIdentityTokenFile string `mapstructure:"web_identity_token_file"`
}

// GCSStorageConfig holds Google Cloud Storage configuration
type GCSStorageConfig struct {
	Bucket string `mapstructure:"bucket"`
	// AuthMethod is "default", "service_account" or "workload_identity"
	AuthMethod      string `mapstructure:"auth_method"`
	CredentialsFile string `mapstructure:"credentials_file"`
	CredentialsJSON string `mapstructure:"credentials_json"`
	Endpoint        string `mapstructure:"endpoint"`
}

// LocalStorageConfig holds local filesystem storage configuration
type LocalStorageConfig struct {
	BasePath string `mapstructure:"base_path"`
}

// GenerationConfig tunes the file generation pipeline
type GenerationConfig struct {
	// OutputFormat names the generator used for UILM files (uilm, json, ...)
	OutputFormat string `mapstructure:"output_format"`
	// Concurrency bounds the languages rendered in parallel per module
	Concurrency int           `mapstructure:"concurrency"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// ExportConfig tunes the export pipeline
type ExportConfig struct {
	// Packaging is "zip" or "tar.zst"
	Packaging     string `mapstructure:"packaging"`
	DefaultFormat string `mapstructure:"default_format"`
}

// NotifierConfig configures the extension webhook called after generation
type NotifierConfig struct {
	Enabled bool              `mapstructure:"enabled"`
	URL     string            `mapstructure:"url"`
	Timeout time.Duration     `mapstructure:"timeout"`
	Headers map[string]string `mapstructure:"headers"`
}

// PingConfig configures the periodic keep-alive ping. The interval can be
// changed at runtime by editing the config file.
type PingConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	URL             string `mapstructure:"url"`
	IntervalSeconds int    `mapstructure:"interval_seconds"`
}

// Interval returns the ping interval, never less than one second
func (p *PingConfig) Interval() time.Duration {
	if p.IntervalSeconds < 1 {
		return time.Second
	}
	return time.Duration(p.IntervalSeconds) * time.Second
}

// AuthConfig controls how callers are mapped to a tenant
type AuthConfig struct {
	// JWTSecret verifies HS256 bearer tokens; empty disables bearer auth
	JWTSecret string `mapstructure:"jwt_secret"`
	JWTIssuer string `mapstructure:"jwt_issuer"`
	// TenantClaim is the token claim carrying the project key
	TenantClaim string `mapstructure:"tenant_claim"`
	// AllowHeaderTenant accepts X-Project-Key without a token (development)
	AllowHeaderTenant bool `mapstructure:"allow_header_tenant"`
}

// RateLimitConfig limits the event-publishing endpoints per tenant
type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	Burst             int  `mapstructure:"burst"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	CORS CORSConfig `mapstructure:"cors"`
}

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
}

// AuditConfig configures the sinks that receive timeline entries
type AuditConfig struct {
	Enabled  bool                  `mapstructure:"enabled"`
	Shippers []audit.ShipperConfig `mapstructure:"shippers"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TelemetryConfig holds observability configuration
type TelemetryConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// MetricsConfig holds Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// bindEnvVars explicitly binds environment variables to config keys.
// AutomaticEnv() alone does not reach nested structs during Unmarshal.
func bindEnvVars(v *viper.Viper) error {
	keys := []string{
		// Server
		"server.host",
		"server.port",
		"server.base_url",
		"server.read_timeout",
		"server.write_timeout",
		"server.shutdown_timeout",

		// Database
		"database.host",
		"database.port",
		"database.name",
		"database.user",
		"database.password",
		"database.ssl_mode",
		"database.max_connections",
		"database.min_idle_connections",

		// Redis and bus
		"redis.addr",
		"redis.username",
		"redis.password",
		"redis.db",
		"bus.driver",
		"bus.inline_workers",
		"bus.workers",
		"bus.max_deliveries",
		"bus.retry_delay",
		"bus.stream_prefix",
		"bus.group",
		"bus.consumer",
		"bus.claim_idle",

		// Storage
		"storage.default_backend",
		"storage.azure.account_name",
		"storage.azure.account_key",
		"storage.azure.container_name",
		"storage.azure.service_url",
		"storage.s3.endpoint",
		"storage.s3.region",
		"storage.s3.bucket",
		"storage.s3.auth_method",
		"storage.s3.access_key_id",
		"storage.s3.secret_access_key",
		"storage.s3.role_arn",
		"storage.s3.role_session_name",
		"storage.s3.external_id",
		"storage.s3.web_identity_token_file",
		"storage.gcs.bucket",
		"storage.gcs.auth_method",
		"storage.gcs.credentials_file",
		"storage.gcs.credentials_json",
		"storage.gcs.endpoint",
		"storage.local.base_path",

		// Pipelines
		"generation.output_format",
		"generation.concurrency",
		"generation.timeout",
		"export.packaging",
		"export.default_format",

		// Outbound calls
		"notifier.enabled",
		"notifier.url",
		"notifier.timeout",
		"ping.enabled",
		"ping.url",
		"ping.interval_seconds",

		// Auth and limits
		"auth.jwt_secret",
		"auth.jwt_issuer",
		"auth.tenant_claim",
		"auth.allow_header_tenant",
		"rate_limit.enabled",
		"rate_limit.requests_per_minute",
		"rate_limit.burst",
		"security.cors.allowed_origins",
		"security.cors.allowed_methods",

		// Audit, logging, telemetry
		"audit.enabled",
		"logging.level",
		"logging.format",
		"telemetry.metrics.enabled",
		"telemetry.metrics.port",
	}
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("failed to bind env var %q: %w", key, err)
		}
	}
	return nil
}

func newViper(configPath string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/uilm")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("UILM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := bindEnvVars(v); err != nil {
		return nil, err
	}
	return v, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	cfg.Database.Password = expandEnv(cfg.Database.Password)
	cfg.Redis.Password = expandEnv(cfg.Redis.Password)
	cfg.Storage.Azure.AccountKey = expandEnv(cfg.Storage.Azure.AccountKey)
	cfg.Storage.S3.AccessKeyID = expandEnv(cfg.Storage.S3.AccessKeyID)
	cfg.Storage.S3.SecretAccessKey = expandEnv(cfg.Storage.S3.SecretAccessKey)
	cfg.Auth.JWTSecret = expandEnv(cfg.Auth.JWTSecret)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v, err := newViper(configPath)
	if err != nil {
		return nil, err
	}
	return decode(v)
}

// LoadAndWatch loads configuration like Load and then watches the config file.
// Every valid edit is decoded and handed to onChange; invalid edits are logged
// and ignored. Without a config file there is nothing to watch.
func LoadAndWatch(configPath string, onChange func(*Config)) (*Config, error) {
	v, err := newViper(configPath)
	if err != nil {
		return nil, err
	}
	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}

	if v.ConfigFileUsed() != "" {
		v.OnConfigChange(func(e fsnotify.Event) {
			if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
				return
			}
			next, err := decode(v)
			if err != nil {
				slog.Warn("ignoring config change", "file", e.Name, "error", err)
				return
			}
			slog.Info("config reloaded", "file", e.Name)
			onChange(next)
		})
		v.WatchConfig()
	}
	return cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "uilm")
	v.SetDefault("database.user", "uilm")
	v.SetDefault("database.ssl_mode", "require")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_idle_connections", 5)

	v.SetDefault("redis.db", 0)
	v.SetDefault("bus.driver", "memory")
	v.SetDefault("bus.inline_workers", false)
	v.SetDefault("bus.workers", 4)
	v.SetDefault("bus.max_deliveries", 5)
	v.SetDefault("bus.retry_delay", "5s")
	v.SetDefault("bus.stream_prefix", "uilm:events:")
	v.SetDefault("bus.group", "uilm-workers")
	v.SetDefault("bus.claim_idle", "1m")

	v.SetDefault("storage.default_backend", "local")
	v.SetDefault("storage.local.base_path", "./storage")

	v.SetDefault("generation.output_format", "uilm")
	v.SetDefault("generation.concurrency", 4)
	v.SetDefault("generation.timeout", "5m")
	v.SetDefault("export.packaging", "zip")
	v.SetDefault("export.default_format", "json")

	v.SetDefault("notifier.enabled", false)
	v.SetDefault("notifier.timeout", "10s")
	v.SetDefault("ping.enabled", false)
	v.SetDefault("ping.interval_seconds", 300)

	v.SetDefault("auth.tenant_claim", "project_key")
	v.SetDefault("auth.allow_header_tenant", false)
	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests_per_minute", 30)
	v.SetDefault("rate_limit.burst", 5)
	v.SetDefault("security.cors.allowed_origins", []string{"*"})
	v.SetDefault("security.cors.allowed_methods", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})

	v.SetDefault("audit.enabled", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("telemetry.metrics.enabled", true)
	v.SetDefault("telemetry.metrics.port", 9090)
}

// expandEnv expands environment variables in the format ${VAR_NAME}
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if err := missing(
		field{"server.base_url", c.Server.BaseURL},
		field{"database.host", c.Database.Host},
		field{"database.name", c.Database.Name},
		field{"database.user", c.Database.User},
		field{"generation.output_format", c.Generation.OutputFormat},
	); err != nil {
		return err
	}

	switch c.Bus.Driver {
	case "memory":
	case "redis":
		if !c.Redis.Enabled() {
			return errors.New("redis.addr is required when bus.driver is redis")
		}
	default:
		return fmt.Errorf("invalid bus driver: %s (must be memory or redis)", c.Bus.Driver)
	}
	if c.Bus.MaxDeliveries < 1 {
		return errors.New("bus.max_deliveries must be at least 1")
	}

	if err := c.Storage.validate(); err != nil {
		return err
	}

	if c.Generation.Concurrency < 1 {
		return errors.New("generation.concurrency must be at least 1")
	}
	if !slices.Contains([]string{"zip", "tar.zst"}, c.Export.Packaging) {
		return fmt.Errorf("invalid export packaging: %s (must be zip or tar.zst)", c.Export.Packaging)
	}
	if c.Notifier.Enabled && c.Notifier.URL == "" {
		return errors.New("notifier.url is required when the notifier is enabled")
	}
	if c.Ping.Enabled && c.Ping.URL == "" {
		return errors.New("ping.url is required when ping is enabled")
	}
	if c.Auth.JWTSecret == "" && !c.Auth.AllowHeaderTenant {
		return errors.New("auth.jwt_secret is required unless auth.allow_header_tenant is set")
	}
	if c.RateLimit.Enabled && c.RateLimit.RequestsPerMinute < 1 {
		return errors.New("rate_limit.requests_per_minute must be at least 1")
	}

	if !slices.Contains([]string{"debug", "info", "warn", "error"}, c.Logging.Level) {
		return fmt.Errorf("invalid logging level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}
	return nil
}

type field struct {
	key   string
	value string
}

// missing reports the first field with an empty value.
func missing(fields ...field) error {
	for _, f := range fields {
		if f.value == "" {
			return fmt.Errorf("%s is required", f.key)
		}
	}
	return nil
}

func (s *StorageConfig) validate() error {
	var required []field
	switch s.DefaultBackend {
	case "local":
		required = []field{{"storage.local.base_path", s.Local.BasePath}}
	case "s3":
		required = []field{{"storage.s3.bucket", s.S3.Bucket}, {"storage.s3.region", s.S3.Region}}
	case "gcs":
		required = []field{{"storage.gcs.bucket", s.GCS.Bucket}}
	case "azure":
		required = []field{
			{"storage.azure.account_name", s.Azure.AccountName},
			{"storage.azure.account_key", s.Azure.AccountKey},
			{"storage.azure.container_name", s.Azure.ContainerName},
		}
	default:
		return fmt.Errorf("invalid storage backend: %s (must be local, s3, gcs, or azure)", s.DefaultBackend)
	}
	if err := missing(required...); err != nil {
		return fmt.Errorf("%w for the %s backend", err, s.DefaultBackend)
	}
	return nil
}

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// GetAddress returns the server address in host:port format
func (c *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
