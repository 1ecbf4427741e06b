package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the CRM service
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	SES        SESConfig        `yaml:"ses"`
	Mailing    MailingConfig    `yaml:"mailing"`
	Automation AutomationConfig `yaml:"automation"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port                int      `yaml:"port"`
	Host                string   `yaml:"host"`
	ReadTimeoutSeconds  int      `yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds int      `yaml:"write_timeout_seconds"`
	CORSOrigins         []string `yaml:"cors_origins"`
}

// GetHost returns the server host, with ECS detection
func (c ServerConfig) GetHost() string {
	// On ECS/container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// Addr returns host:port for the listener.
func (c ServerConfig) Addr() string {
	return c.GetHost() + ":" + strconv.Itoa(c.Port)
}

// DatabaseConfig holds the Postgres connection settings
type DatabaseConfig struct {
	URL                    string `yaml:"url"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// ConnMaxLifetime returns the configured lifetime as a duration
func (c DatabaseConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(c.ConnMaxLifetimeMinutes) * time.Minute
}

// RedisConfig configures the optional Redis used for send locks.
// When disabled, Postgres advisory locks are used instead.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// SESConfig holds AWS SES configuration
type SESConfig struct {
	Enabled          bool   `yaml:"enabled"`
	Region           string `yaml:"region"`
	AccessKey        string `yaml:"access_key"`
	SecretKey        string `yaml:"secret_key"`
	ConfigurationSet string `yaml:"configuration_set"`
	TimeoutSeconds   int    `yaml:"timeout_seconds"`
}

// Timeout returns the configured timeout as a duration
func (c SESConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// MailingConfig holds sender identity, platform links and the template
// catalog source. CatalogS3Bucket takes precedence over CatalogPath.
type MailingConfig struct {
	FromName        string `yaml:"from_name"`
	FromEmail       string `yaml:"from_email"`
	ReplyTo         string `yaml:"reply_to"`
	BaseURL         string `yaml:"base_url"`
	CatalogPath     string `yaml:"catalog_path"`
	CatalogS3Bucket string `yaml:"catalog_s3_bucket"`
	CatalogS3Key    string `yaml:"catalog_s3_key"`
	CatalogS3Region string `yaml:"catalog_s3_region"`
}

// AutomationConfig controls event processing and campaign sends
type AutomationConfig struct {
	Enabled              bool `yaml:"enabled"`
	SendLockTTLSeconds   int  `yaml:"send_lock_ttl_seconds"`
	SchedulerEnabled     bool `yaml:"scheduler_enabled"`
	SchedulerPollSeconds int  `yaml:"scheduler_poll_seconds"`
}

// SendLockTTL returns the campaign send lock TTL as a duration
func (c AutomationConfig) SendLockTTL() time.Duration {
	return time.Duration(c.SendLockTTLSeconds) * time.Second
}

// SchedulerPollInterval returns how often due campaigns are polled
func (c AutomationConfig) SchedulerPollInterval() time.Duration {
	return time.Duration(c.SchedulerPollSeconds) * time.Second
}

// LoggingConfig configures the structured logger
type LoggingConfig struct {
	Level     string `yaml:"level"`
	RedactPII bool   `yaml:"redact_pii"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.ReadTimeoutSeconds == 0 {
		cfg.Server.ReadTimeoutSeconds = 15
	}
	if cfg.Server.WriteTimeoutSeconds == 0 {
		// Whole-segment sends run inside the request.
		cfg.Server.WriteTimeoutSeconds = 300
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = []string{"*"}
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetimeMinutes == 0 {
		cfg.Database.ConnMaxLifetimeMinutes = 5
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.SES.TimeoutSeconds == 0 {
		cfg.SES.TimeoutSeconds = 30
	}
	if cfg.SES.Region == "" {
		cfg.SES.Region = "us-west-2"
	}
	if cfg.Mailing.FromName == "" {
		cfg.Mailing.FromName = "Ignite"
	}
	if cfg.Mailing.CatalogPath == "" && cfg.Mailing.CatalogS3Bucket == "" {
		cfg.Mailing.CatalogPath = "templates/catalog.yaml"
	}
	if cfg.Mailing.CatalogS3Key == "" {
		cfg.Mailing.CatalogS3Key = "crm/catalog.yaml"
	}
	if cfg.Mailing.CatalogS3Region == "" {
		cfg.Mailing.CatalogS3Region = cfg.SES.Region
	}
	if cfg.Automation.SendLockTTLSeconds == 0 {
		cfg.Automation.SendLockTTLSeconds = 900
	}
	if cfg.Automation.SchedulerPollSeconds == 0 {
		cfg.Automation.SchedulerPollSeconds = 30
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		cfg.Database.URL = dbURL
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
		cfg.Redis.Enabled = true
	}
	if pw := os.Getenv("REDIS_PASSWORD"); pw != "" {
		cfg.Redis.Password = pw
	}
	if accessKey := os.Getenv("AWS_SES_ACCESS_KEY"); accessKey != "" {
		cfg.SES.AccessKey = accessKey
	}
	if secretKey := os.Getenv("AWS_SES_SECRET_KEY"); secretKey != "" {
		cfg.SES.SecretKey = secretKey
	}
	if region := os.Getenv("AWS_SES_REGION"); region != "" {
		cfg.SES.Region = region
	}
	if v := os.Getenv("SES_ENABLED"); v != "" {
		cfg.SES.Enabled = parseBool(v)
	}
	if v := os.Getenv("CRM_FROM_EMAIL"); v != "" {
		cfg.Mailing.FromEmail = v
	}
	if v := os.Getenv("CRM_BASE_URL"); v != "" {
		cfg.Mailing.BaseURL = v
	}
	if v := os.Getenv("CRM_CATALOG_S3_BUCKET"); v != "" {
		cfg.Mailing.CatalogS3Bucket = v
	}
	if v := os.Getenv("AUTOMATION_ENABLED"); v != "" {
		cfg.Automation.Enabled = parseBool(v)
	}
	if v := os.Getenv("SCHEDULER_ENABLED"); v != "" {
		cfg.Automation.SchedulerEnabled = parseBool(v)
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	return cfg, nil
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
