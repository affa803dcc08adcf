package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Worker   WorkerConfig   `yaml:"worker"`
	Postmark PostmarkConfig `yaml:"postmark"`
	Twilio   TwilioConfig   `yaml:"twilio"`
	SES      SESConfig      `yaml:"ses"`
	Webhooks WebhookConfig  `yaml:"webhooks"`
	Auth     AuthConfig     `yaml:"auth"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	BaseURL        string   `yaml:"base_url"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// GetHost returns the server host, with container detection
func (c ServerConfig) GetHost() string {
	// In a container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	URL             string `yaml:"url"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime_minutes"`
}

// Lifetime returns the configured connection lifetime as a duration
func (c DatabaseConfig) Lifetime() time.Duration {
	return time.Duration(c.ConnMaxLifetime) * time.Minute
}

// RedisConfig holds the optional Redis connection for distributed locks.
// An empty Addr disables Redis; locking falls back to PG advisory locks.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// WorkerConfig holds dispatch worker tuning
type WorkerConfig struct {
	Name                 string `yaml:"name"`
	BatchSize            int    `yaml:"batch_size"`
	PollSeconds          int    `yaml:"poll_seconds"`
	MaxAttempts          int    `yaml:"max_attempts"`
	StaleSeconds         int    `yaml:"stale_seconds"`
	SchedulerIntervalSec int    `yaml:"scheduler_interval_seconds"`
	HeartbeatSeconds     int    `yaml:"heartbeat_seconds"`
}

// PollInterval returns the claim loop poll interval as a duration
func (c WorkerConfig) PollInterval() time.Duration {
	return time.Duration(c.PollSeconds) * time.Second
}

// StaleAfter returns the stale-lock threshold as a duration
func (c WorkerConfig) StaleAfter() time.Duration {
	return time.Duration(c.StaleSeconds) * time.Second
}

// SchedulerInterval returns the enqueue-due tick interval as a duration
func (c WorkerConfig) SchedulerInterval() time.Duration {
	return time.Duration(c.SchedulerIntervalSec) * time.Second
}

// HeartbeatInterval returns the registry heartbeat interval as a duration
func (c WorkerConfig) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatSeconds) * time.Second
}

// PostmarkConfig holds the email provider configuration
type PostmarkConfig struct {
	BaseURL        string `yaml:"base_url"`
	DefaultToken   string `yaml:"default_token"`
	FromName       string `yaml:"from_name"`
	FromEmail      string `yaml:"from_email"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the configured timeout as a duration
func (c PostmarkConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// TwilioConfig holds the SMS provider configuration
type TwilioConfig struct {
	BaseURL         string `yaml:"base_url"`
	APIKeySID       string `yaml:"api_key_sid"`
	APIKeySecret    string `yaml:"api_key_secret"`
	MasterSID       string `yaml:"master_sid"`
	MasterAuthToken string `yaml:"master_auth_token"`
	TimeoutSeconds  int    `yaml:"timeout_seconds"`
}

// Timeout returns the configured timeout as a duration
func (c TwilioConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SESConfig holds the alternate AWS SES email transport configuration
type SESConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Region         string `yaml:"region"`
	AccessKey      string `yaml:"access_key"`
	SecretKey      string `yaml:"secret_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the configured timeout as a duration
func (c SESConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// WebhookConfig holds inbound webhook authentication
type WebhookConfig struct {
	PostmarkUser            string `yaml:"postmark_user"`
	PostmarkPass            string `yaml:"postmark_pass"`
	TwilioValidateSignature bool   `yaml:"twilio_validate_signature"`
}

// AuthConfig holds Google OAuth authentication configuration for the
// ops dashboard
type AuthConfig struct {
	Enabled            bool   `yaml:"enabled"`
	GoogleClientID     string `yaml:"google_client_id"`
	GoogleClientSecret string `yaml:"google_client_secret"`
	AllowedDomain      string `yaml:"allowed_domain"`
	CookieName         string `yaml:"cookie_name"`
	CookieMaxAge       int    `yaml:"cookie_max_age"`
}

// LoggingConfig holds log output settings
type LoggingConfig struct {
	Level   string `yaml:"level"`
	Console bool   `yaml:"console"`
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

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.BaseURL == "" {
		cfg.Server.BaseURL = "http://127.0.0.1:8080"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 5
	}
	if cfg.Worker.Name == "" {
		cfg.Worker.Name = "sender-1"
	}
	if cfg.Worker.BatchSize == 0 {
		cfg.Worker.BatchSize = 100
	}
	if cfg.Worker.PollSeconds == 0 {
		cfg.Worker.PollSeconds = 5
	}
	if cfg.Worker.MaxAttempts == 0 {
		cfg.Worker.MaxAttempts = 8
	}
	if cfg.Worker.StaleSeconds == 0 {
		cfg.Worker.StaleSeconds = 120
	}
	if cfg.Worker.SchedulerIntervalSec == 0 {
		cfg.Worker.SchedulerIntervalSec = 60
	}
	if cfg.Worker.HeartbeatSeconds == 0 {
		cfg.Worker.HeartbeatSeconds = 30
	}
	if cfg.Postmark.BaseURL == "" {
		cfg.Postmark.BaseURL = "https://api.postmarkapp.com"
	}
	if cfg.Postmark.FromName == "" {
		cfg.Postmark.FromName = "Remind & Pay"
	}
	if cfg.Postmark.FromEmail == "" {
		cfg.Postmark.FromEmail = "accounts@remindandpay.com"
	}
	if cfg.Postmark.TimeoutSeconds == 0 {
		cfg.Postmark.TimeoutSeconds = 10
	}
	if cfg.Twilio.BaseURL == "" {
		cfg.Twilio.BaseURL = "https://api.twilio.com"
	}
	if cfg.Twilio.TimeoutSeconds == 0 {
		cfg.Twilio.TimeoutSeconds = 20
	}
	if cfg.SES.Region == "" {
		cfg.SES.Region = "us-west-2"
	}
	if cfg.SES.TimeoutSeconds == 0 {
		cfg.SES.TimeoutSeconds = 10
	}
	if cfg.Auth.CookieName == "" {
		cfg.Auth.CookieName = "rp_session"
	}
	if cfg.Auth.CookieMaxAge == 0 {
		cfg.Auth.CookieMaxAge = 86400
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars in deployment.
// A missing config file is not an error; env-only deployments are normal.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		cfg = &Config{}
		cfg.applyDefaults()
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("APP_BASE_URL"); v != "" {
		cfg.Server.BaseURL = strings.TrimRight(v, "/")
	}

	// Worker tuning
	if v := os.Getenv("WORKER_NAME"); v != "" {
		cfg.Worker.Name = v
	}
	cfg.Worker.BatchSize = envInt("OUTBOX_BATCH_SIZE", cfg.Worker.BatchSize)
	cfg.Worker.MaxAttempts = envInt("OUTBOX_MAX_ATTEMPTS", cfg.Worker.MaxAttempts)
	cfg.Worker.PollSeconds = envInt("OUTBOX_POLL_SECONDS", cfg.Worker.PollSeconds)
	cfg.Worker.StaleSeconds = envInt("OUTBOX_STALE_SECONDS", cfg.Worker.StaleSeconds)
	cfg.Worker.SchedulerIntervalSec = envInt("SCHED_INTERVAL_SECONDS", cfg.Worker.SchedulerIntervalSec)

	// Providers
	if v := os.Getenv("POSTMARK_SERVER_TOKEN_DEFAULT"); v != "" {
		cfg.Postmark.DefaultToken = v
	}
	if v := os.Getenv("PLATFORM_FROM_NAME"); v != "" {
		cfg.Postmark.FromName = v
	}
	if v := os.Getenv("PLATFORM_FROM_EMAIL"); v != "" {
		cfg.Postmark.FromEmail = v
	}
	if v := os.Getenv("TWILIO_API_KEY_SID"); v != "" {
		cfg.Twilio.APIKeySID = v
	}
	if v := os.Getenv("TWILIO_API_KEY_SECRET"); v != "" {
		cfg.Twilio.APIKeySecret = v
	}
	if v := os.Getenv("TWILIO_ACCOUNT_SID"); v != "" {
		cfg.Twilio.MasterSID = v
	}
	if v := os.Getenv("TWILIO_AUTH_TOKEN"); v != "" {
		cfg.Twilio.MasterAuthToken = v
	}
	if v := os.Getenv("AWS_SES_ACCESS_KEY"); v != "" {
		cfg.SES.AccessKey = v
	}
	if v := os.Getenv("AWS_SES_SECRET_KEY"); v != "" {
		cfg.SES.SecretKey = v
	}
	if v := os.Getenv("AWS_SES_REGION"); v != "" {
		cfg.SES.Region = v
	}

	// Webhook auth
	if v := os.Getenv("POSTMARK_WEBHOOK_USER"); v != "" {
		cfg.Webhooks.PostmarkUser = v
	}
	if v := os.Getenv("POSTMARK_WEBHOOK_PASS"); v != "" {
		cfg.Webhooks.PostmarkPass = v
	}
	if v := os.Getenv("TWILIO_VALIDATE_SIGNATURE"); v != "" {
		cfg.Webhooks.TwilioValidateSignature = envBool(v)
	}

	// Auth overrides
	if v := os.Getenv("GOOGLE_CLIENT_ID"); v != "" {
		cfg.Auth.GoogleClientID = v
		cfg.Auth.Enabled = true
	}
	if v := os.Getenv("GOOGLE_CLIENT_SECRET"); v != "" {
		cfg.Auth.GoogleClientSecret = v
	}
	if v := os.Getenv("AUTH_ALLOWED_DOMAIN"); v != "" {
		cfg.Auth.AllowedDomain = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	return cfg, nil
}

func envInt(name string, def int) int {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes":
		return true
	}
	return false
}
