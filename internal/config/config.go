package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config represents the application configuration
type Config struct {
	Server        ServerConfig        `json:"server"`
	Database      DatabaseConfig      `json:"database"`
	Security      SecurityConfig      `json:"security"`
	Logging       LoggingConfig       `json:"logging"`
	Verification  VerificationConfig  `json:"verification"`
	Worker        WorkerConfig        `json:"worker"`
	Storage       StorageConfig       `json:"storage"`
	Notifications NotificationsConfig `json:"notifications"`
	Search        SearchConfig        `json:"search"`
	Marketplace   MarketplaceConfig   `json:"marketplace"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	Mode         string        `json:"mode"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Host           string        `json:"host"`
	Port           int           `json:"port"`
	User           string        `json:"user"`
	Password       string        `json:"password"`
	DBName         string        `json:"db_name"`
	SSLMode        string        `json:"ssl_mode"`
	MaxConnections int           `json:"max_connections"`
	MaxIdleConns   int           `json:"max_idle_conns"`
	MaxLifetime    time.Duration `json:"max_lifetime"`
	AutoMigrate    bool          `json:"auto_migrate"`
}

type SecurityConfig struct {
	JWTSecret string        `json:"jwt_secret"`
	Issuer    string        `json:"issuer"`
	TokenTTL  time.Duration `json:"token_ttl"`
}

type LoggingConfig struct {
	Level       string `json:"level"`
	Development bool   `json:"development"`
}

// VerificationConfig controls the simulated verification engine
type VerificationConfig struct {
	Delay time.Duration `json:"delay"`
	// Run verification inside the create request instead of leaving it to the worker.
	SyncOnCreate bool   `json:"sync_on_create"`
	Seed         uint64 `json:"seed"`
}

// WorkerConfig controls the verification outbox worker
type WorkerConfig struct {
	PollInterval     time.Duration `json:"poll_interval"`
	BatchSize        int           `json:"batch_size"`
	MaxConcurrent    int           `json:"max_concurrent"`
	MaxAttempts      int           `json:"max_attempts"`
	RetryDelay       time.Duration `json:"retry_delay"`
	ExecutionTimeout time.Duration `json:"execution_timeout"`
	SweepSchedule    string        `json:"sweep_schedule"`
	StaleAfter       time.Duration `json:"stale_after"`
	// Embedded runs the worker inside the API process
	Embedded         bool          `json:"embedded"`
	MetricsAddr      string        `json:"metrics_addr"`
	// Once makes the standalone worker process a single batch and exit
	Once             bool          `json:"once"`
}

type StorageConfig struct {
	Enabled         bool          `json:"enabled"`
	Bucket          string        `json:"bucket"`
	Region          string        `json:"region"`
	Endpoint        string        `json:"endpoint"`
	AccessKeyID     string        `json:"access_key_id"`
	SecretAccessKey string        `json:"secret_access_key"`
	PresignTTL      time.Duration `json:"presign_ttl"`
}

type NotificationsConfig struct {
	EmailEnabled bool   `json:"email_enabled"`
	EmailFrom    string `json:"email_from"`
	SMSEnabled   bool   `json:"sms_enabled"`
	Region       string `json:"region"`
}

type SearchConfig struct {
	Enabled   bool     `json:"enabled"`
	Addresses []string `json:"addresses"`
	Index     string   `json:"index"`
	Username  string   `json:"username"`
	Password  string   `json:"password"`
}

type MarketplaceConfig struct {
	CacheTTL time.Duration `json:"cache_ttl"`
}

// Default returns the configuration used when no file or environment overrides are present
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			Mode:         "debug",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Database: DatabaseConfig{
			Host:           "localhost",
			Port:           5432,
			User:           os.Getenv("USER"),
			DBName:         "carboniq",
			SSLMode:        "disable",
			MaxConnections: 25,
			MaxIdleConns:   5,
			MaxLifetime:    30 * time.Minute,
			AutoMigrate:    true,
		},
		Security: SecurityConfig{
			Issuer:   "carboniq",
			TokenTTL: 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Verification: VerificationConfig{
			Delay:        2 * time.Second,
			SyncOnCreate: true,
		},
		Worker: WorkerConfig{
			PollInterval:     10 * time.Second,
			BatchSize:        20,
			MaxConcurrent:    5,
			MaxAttempts:      5,
			RetryDelay:       30 * time.Second,
			ExecutionTimeout: time.Minute,
			SweepSchedule:    "@every 5m",
			StaleAfter:       10 * time.Minute,
			Embedded:         true,
			MetricsAddr:      ":9091",
		},
		Storage: StorageConfig{
			Region:     "us-east-1",
			PresignTTL: 15 * time.Minute,
		},
		Notifications: NotificationsConfig{
			Region: "us-east-1",
		},
		Search: SearchConfig{
			Index: "verified-farms",
		},
		Marketplace: MarketplaceConfig{
			CacheTTL: time.Minute,
		},
	}
}

// DefaultPath is the config file read when CONFIG_PATH is unset
const DefaultPath = "config.json"

// Path returns the config file named by CONFIG_PATH, which may come from .env
func Path() string {
	_ = godotenv.Load()
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return DefaultPath
}

// Load reads the config file at Path and applies the environment on top
func Load() (*Config, error) {
	return LoadConfig(Path())
}

// LoadConfig loads configuration from a .env file, the JSON config file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	config := Default()

	if configPath != "" {
		if data, err := os.ReadFile(configPath); err == nil {
			if err := json.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	overrideWithEnv(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate rejects configurations the service cannot start with
func (c *Config) Validate() error {
	if c.Security.JWTSecret == "" {
		return fmt.Errorf("security.jwt_secret is required")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be positive")
	}
	if c.Worker.MaxConcurrent <= 0 {
		return fmt.Errorf("worker.max_concurrent must be positive")
	}
	if c.Storage.Enabled && c.Storage.Bucket == "" {
		return fmt.Errorf("storage.bucket is required when storage is enabled")
	}
	if c.Notifications.EmailEnabled && c.Notifications.EmailFrom == "" {
		return fmt.Errorf("notifications.email_from is required when email is enabled")
	}
	if c.Search.Enabled && len(c.Search.Addresses) == 0 {
		return fmt.Errorf("search.addresses is required when search is enabled")
	}
	return nil
}

func overrideWithEnv(config *Config) {
	setString(&config.Server.Host, "SERVER_HOST")
	setInt(&config.Server.Port, "SERVER_PORT")
	setString(&config.Server.Mode, "GIN_MODE")

	setString(&config.Database.Host, "DATABASE_HOST")
	setInt(&config.Database.Port, "DATABASE_PORT")
	setString(&config.Database.User, "DATABASE_USER")
	setString(&config.Database.Password, "DATABASE_PASSWORD")
	setString(&config.Database.DBName, "DATABASE_DBNAME")
	setString(&config.Database.SSLMode, "DATABASE_SSLMODE")
	setBool(&config.Database.AutoMigrate, "DATABASE_AUTO_MIGRATE")

	setString(&config.Security.JWTSecret, "JWT_SECRET")
	setDuration(&config.Security.TokenTTL, "JWT_TTL")

	setString(&config.Logging.Level, "LOG_LEVEL")
	setBool(&config.Logging.Development, "LOG_DEVELOPMENT")

	setDuration(&config.Verification.Delay, "VERIFICATION_DELAY")
	setBool(&config.Verification.SyncOnCreate, "VERIFICATION_SYNC")
	if seed := os.Getenv("VERIFICATION_SEED"); seed != "" {
		if s, err := strconv.ParseUint(seed, 10, 64); err == nil {
			config.Verification.Seed = s
		}
	}

	setDuration(&config.Worker.PollInterval, "WORKER_POLL_INTERVAL")
	setInt(&config.Worker.MaxConcurrent, "WORKER_MAX_CONCURRENT")
	setInt(&config.Worker.MaxAttempts, "WORKER_MAX_ATTEMPTS")
	setString(&config.Worker.SweepSchedule, "WORKER_SWEEP_SCHEDULE")
	setBool(&config.Worker.Embedded, "WORKER_EMBEDDED")
	setString(&config.Worker.MetricsAddr, "WORKER_METRICS_ADDR")
	setBool(&config.Worker.Once, "WORKER_ONCE")

	setBool(&config.Storage.Enabled, "S3_ENABLED")
	setString(&config.Storage.Bucket, "S3_BUCKET")
	setString(&config.Storage.Region, "AWS_REGION")
	setString(&config.Storage.Endpoint, "S3_ENDPOINT")
	setString(&config.Storage.AccessKeyID, "AWS_ACCESS_KEY_ID")
	setString(&config.Storage.SecretAccessKey, "AWS_SECRET_ACCESS_KEY")

	setBool(&config.Notifications.EmailEnabled, "SES_ENABLED")
	setString(&config.Notifications.EmailFrom, "SES_FROM_ADDRESS")
	setBool(&config.Notifications.SMSEnabled, "SNS_ENABLED")
	setString(&config.Notifications.Region, "AWS_REGION")

	setBool(&config.Search.Enabled, "ELASTICSEARCH_ENABLED")
	if addrs := os.Getenv("ELASTICSEARCH_URLS"); addrs != "" {
		config.Search.Addresses = strings.Split(addrs, ",")
	}
	setString(&config.Search.Index, "ELASTICSEARCH_INDEX")

	setDuration(&config.Marketplace.CacheTTL, "MARKETPLACE_CACHE_TTL")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			*dst = i
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// GetDatabaseURL returns the database connection string
func (c *DatabaseConfig) GetDatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

// GetServerAddr returns the server address
func (c *ServerConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
