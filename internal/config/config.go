package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the compliance gate service.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Logging    LoggingConfig    `yaml:"logging"`
	Gate       GateConfig       `yaml:"gate"`
	Policy     PolicyConfig     `yaml:"policy"`
	TimeWindow TimeWindowConfig `yaml:"time_window"`
	Lockdown   LockdownConfig   `yaml:"lockdown"`
	Notify     NotifyConfig     `yaml:"notify"`
	Audit      AuditConfig      `yaml:"audit"`
	AWS        AWSConfig        `yaml:"aws"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           int      `yaml:"port" env:"GATE_PORT"`
	Host           string   `yaml:"host" env:"GATE_HOST"`
	AllowedOrigins []string `yaml:"allowed_origins" env:"GATE_ALLOWED_ORIGINS" envSeparator:","`
}

// Addr returns host:port for http.Server.
func (c ServerConfig) Addr() string {
	// On ECS/container, listen on all interfaces
	host := c.Host
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" {
		host = "0.0.0.0"
	}
	return fmt.Sprintf("%s:%d", host, c.Port)
}

// DatabaseConfig holds the PostgreSQL connection settings.
type DatabaseConfig struct {
	URL             string `yaml:"url" env:"DATABASE_URL"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime_seconds"`
	MigrateOnStart  bool   `yaml:"migrate_on_start" env:"DATABASE_MIGRATE"`
}

// RedisConfig holds the optional Redis connection. An empty URL disables the
// windowed counter, the emergency-stop cache, and Redis locking.
type RedisConfig struct {
	URL string `yaml:"url" env:"REDIS_URL"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level     string `yaml:"level" env:"LOG_LEVEL"`
	Format    string `yaml:"format" env:"LOG_FORMAT"`
	RedactPII *bool  `yaml:"redact_pii"`
}

// Redact reports whether PII redaction is enabled (default true).
func (c LoggingConfig) Redact() bool {
	return c.RedactPII == nil || *c.RedactPII
}

// CapConfig is a count allowed inside a trailing window.
type CapConfig struct {
	Limit       int `yaml:"limit"`
	WindowHours int `yaml:"window_hours"`
}

// Window returns the trailing window as a duration.
func (c CapConfig) Window() time.Duration {
	return time.Duration(c.WindowHours) * time.Hour
}

// GateConfig holds the per-request gate behaviour.
type GateConfig struct {
	// FrequencyCaps is keyed by channel name plus "total".
	FrequencyCaps          map[string]CapConfig `yaml:"frequency_caps"`
	RequireConsent         *bool                `yaml:"require_consent"`
	EnforceCallHours       *bool                `yaml:"enforce_call_hours"`
	StrictCaps             bool                 `yaml:"strict_caps" env:"GATE_STRICT_CAPS"`
	SafetyReadTimeoutMs    int                  `yaml:"safety_read_timeout_ms"`
	EmergencyStopCacheSecs int                  `yaml:"emergency_stop_cache_seconds"`
	AgentType              string               `yaml:"agent_type" env:"GATE_AGENT_TYPE"`
}

// SafetyReadTimeout returns the bound on each safety-relevant read.
func (c GateConfig) SafetyReadTimeout() time.Duration {
	return time.Duration(c.SafetyReadTimeoutMs) * time.Millisecond
}

// EmergencyStopCacheTTL returns how long an emergency-stop read is cached.
func (c GateConfig) EmergencyStopCacheTTL() time.Duration {
	return time.Duration(c.EmergencyStopCacheSecs) * time.Second
}

// ConsentRequired reports the default for CheckOptions.RequireConsent.
func (c GateConfig) ConsentRequired() bool {
	return c.RequireConsent == nil || *c.RequireConsent
}

// CallHoursEnforced reports whether voice attempts are held to legal hours.
func (c GateConfig) CallHoursEnforced() bool {
	return c.EnforceCallHours == nil || *c.EnforceCallHours
}

// PolicyConfig controls the rule catalog cache and the bound on
// non-safety lookups (rule catalog, business hours, calendar blocks).
type PolicyConfig struct {
	CacheTTLSeconds int `yaml:"cache_ttl_seconds" env:"POLICY_CACHE_TTL_SECONDS"`
	LookupTimeoutMs int `yaml:"lookup_timeout_ms" env:"POLICY_LOOKUP_TIMEOUT_MS"`
}

// LookupTimeout returns the bound on one non-safety lookup.
func (c PolicyConfig) LookupTimeout() time.Duration {
	return time.Duration(c.LookupTimeoutMs) * time.Millisecond
}

// CacheTTL returns the rule catalog cache lifetime.
func (c PolicyConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// TimeWindowConfig controls legal call hours and the area-code heuristic.
type TimeWindowConfig struct {
	DefaultTimezone string            `yaml:"default_timezone"`
	CallStartHour   int               `yaml:"call_start_hour"`
	CallEndHour     int               `yaml:"call_end_hour"`
	AreaCodes       map[string]string `yaml:"area_codes"`
}

// LockdownConfig controls the scheduled LockdownMonitor.
type LockdownConfig struct {
	Enabled         bool `yaml:"enabled" env:"LOCKDOWN_MONITOR_ENABLED"`
	IntervalSeconds int  `yaml:"interval_seconds"`
}

// Interval returns the monitor tick as a duration.
func (c LockdownConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// NotifyConfig holds the alert sinks. Every sink is optional.
type NotifyConfig struct {
	WebhookURL     string   `yaml:"webhook_url" env:"ALERT_WEBHOOK_URL"`
	NATSURL        string   `yaml:"nats_url" env:"NATS_URL"`
	NATSSubject    string   `yaml:"nats_subject"`
	SQSQueueURL    string   `yaml:"sqs_queue_url" env:"ALERT_SQS_QUEUE_URL"`
	EmailFrom      string   `yaml:"email_from" env:"ALERT_EMAIL_FROM"`
	EmailTo        []string `yaml:"email_to" env:"ALERT_EMAIL_TO" envSeparator:","`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// Timeout returns the configured per-notification timeout as a duration
func (c NotifyConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// AuditConfig holds the optional archives for audit entries.
type AuditConfig struct {
	S3Bucket      string `yaml:"s3_bucket" env:"AUDIT_S3_BUCKET"`
	S3Prefix      string `yaml:"s3_prefix"`
	DynamoTable   string `yaml:"dynamo_table" env:"AUDIT_DYNAMO_TABLE"`
	RetentionDays int    `yaml:"retention_days"`
}

// AWSConfig holds shared AWS settings.
type AWSConfig struct {
	Region    string `yaml:"region" env:"AWS_REGION"`
	Profile   string `yaml:"profile" env:"AWS_PROFILE"`
	AccessKey string `yaml:"access_key" env:"AWS_SES_ACCESS_KEY"`
	SecretKey string `yaml:"secret_key" env:"AWS_SES_SECRET_KEY"`
}

// TelemetryConfig holds the OTLP trace exporter endpoint.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName  string `yaml:"service_name"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns a configuration with every default applied, for callers
// that run without a config file.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 300
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Gate.FrequencyCaps == nil {
		cfg.Gate.FrequencyCaps = map[string]CapConfig{}
	}
	for k, v := range DefaultFrequencyCaps() {
		if _, ok := cfg.Gate.FrequencyCaps[k]; !ok {
			cfg.Gate.FrequencyCaps[k] = v
		}
	}
	if cfg.Gate.SafetyReadTimeoutMs == 0 {
		cfg.Gate.SafetyReadTimeoutMs = 2000
	}
	if cfg.Gate.EmergencyStopCacheSecs == 0 {
		cfg.Gate.EmergencyStopCacheSecs = 5
	}
	if cfg.Gate.AgentType == "" {
		cfg.Gate.AgentType = "outbound"
	}
	if cfg.Policy.CacheTTLSeconds == 0 {
		cfg.Policy.CacheTTLSeconds = 60
	}
	if cfg.Policy.LookupTimeoutMs == 0 {
		cfg.Policy.LookupTimeoutMs = 250
	}
	if cfg.TimeWindow.DefaultTimezone == "" {
		cfg.TimeWindow.DefaultTimezone = "America/New_York"
	}
	if cfg.TimeWindow.CallStartHour == 0 {
		cfg.TimeWindow.CallStartHour = 8
	}
	if cfg.TimeWindow.CallEndHour == 0 {
		cfg.TimeWindow.CallEndHour = 21
	}
	if cfg.Lockdown.IntervalSeconds == 0 {
		cfg.Lockdown.IntervalSeconds = 60
	}
	if cfg.Notify.NATSSubject == "" {
		cfg.Notify.NATSSubject = "compliance.alerts"
	}
	if cfg.Notify.TimeoutSeconds == 0 {
		cfg.Notify.TimeoutSeconds = 10
	}
	if cfg.Audit.S3Prefix == "" {
		cfg.Audit.S3Prefix = "audit"
	}
	if cfg.Audit.RetentionDays == 0 {
		cfg.Audit.RetentionDays = 90
	}
	if cfg.AWS.Region == "" {
		cfg.AWS.Region = "us-west-2"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "compliance-gate"
	}
}

// DefaultFrequencyCaps is the documented default cap policy:
// sms 3/24h, email 1/24h, voice 2/24h, total 5/24h.
func DefaultFrequencyCaps() map[string]CapConfig {
	return map[string]CapConfig{
		"sms":   {Limit: 3, WindowHours: 24},
		"email": {Limit: 1, WindowHours: 24},
		"voice": {Limit: 2, WindowHours: 24},
		"total": {Limit: 5, WindowHours: 24},
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars on ECS.
// A missing config file is not an error here; defaults are used instead.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		cfg = Default()
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
