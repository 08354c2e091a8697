package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/dandantas/studyrunner/internal/model"
	"github.com/joho/godotenv"
)

// StoreDriver selects the persistence backend
type StoreDriver string

const (
	StoreMongo  StoreDriver = "mongo"
	StoreMemory StoreDriver = "memory"
)

// UnmarshalText parses and validates a store driver name
func (d *StoreDriver) UnmarshalText(text []byte) error {
	v := StoreDriver(strings.ToLower(strings.TrimSpace(string(text))))
	switch v {
	case StoreMongo, StoreMemory:
		*d = v
		return nil
	}
	return fmt.Errorf("unknown store driver %q (must be 'mongo' or 'memory')", string(text))
}

// Config holds all application configuration
type Config struct {
	// MongoDB Configuration
	MongoURI      string        `env:"MONGO_URI" envDefault:"mongodb://localhost:27017/studyrunner?authSource=admin"`
	MongoDatabase string        `env:"MONGO_DATABASE" envDefault:"studyrunner"`
	MongoTimeout  time.Duration `env:"MONGO_TIMEOUT" envDefault:"10s"`
	StoreDriver   StoreDriver   `env:"STORE_DRIVER" envDefault:"mongo"`

	// HTTP Server Configuration
	HTTPPort         string        `env:"HTTP_PORT" envDefault:"8080"`
	HTTPReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
	HTTPWriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"0s"` // progress streams are long-lived
	ShutdownTimeout  time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
	AdminToken       string        `env:"ADMIN_TOKEN"`

	// Worker Pool Configuration
	WorkerPoolSize  int `env:"WORKER_POOL_SIZE" envDefault:"10"`
	WorkerQueueSize int `env:"WORKER_QUEUE_SIZE" envDefault:"100"`

	// Job Admission Configuration
	MaxJobsPerUser    int           `env:"MAX_JOBS_PER_USER" envDefault:"3"`
	AdmissionLockTTL  time.Duration `env:"ADMISSION_LOCK_TTL" envDefault:"30s"`
	AdmissionLockWait time.Duration `env:"ADMISSION_LOCK_WAIT" envDefault:"5s"`
	RecoverOnStart    bool          `env:"RECOVER_ON_START" envDefault:"true"`

	// Logging Configuration
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Remote Platform Configuration
	PlatformBaseURL     string        `env:"PLATFORM_BASE_URL" envDefault:"http://localhost:9000"`
	PlatformTimeout     time.Duration `env:"PLATFORM_TIMEOUT" envDefault:"30s"`
	PlatformMaxAttempts int           `env:"PLATFORM_MAX_ATTEMPTS" envDefault:"3"`
	PlatformCoursesPath string        `env:"PLATFORM_COURSES_PATH" envDefault:"$.courses"`
	PlatformChapterPath string        `env:"PLATFORM_CHAPTERS_PATH" envDefault:"$.chapters"`
	PlatformUnitsPath   string        `env:"PLATFORM_UNITS_PATH" envDefault:"$.units"`
	PlatformNotOpenPath string        `env:"PLATFORM_NOT_OPEN_PATH" envDefault:"$.not_open"`

	// Answer Oracle Defaults
	OracleProvider model.OracleProvider `env:"ORACLE_PROVIDER" envDefault:"none"`
	OracleEndpoint string               `env:"ORACLE_ENDPOINT"`
	OracleToken    string               `env:"ORACLE_TOKEN"`
	OracleTimeout  time.Duration        `env:"ORACLE_TIMEOUT" envDefault:"15s"`

	// Notification Defaults
	NotifyProvider model.NotifyProvider `env:"NOTIFY_PROVIDER" envDefault:"webhook"`
	NotifyTimeout  time.Duration        `env:"NOTIFY_TIMEOUT" envDefault:"10s"`

	// Default user settings
	DefaultNotOpenAction model.NotOpenAction `env:"DEFAULT_NOTOPEN_ACTION" envDefault:"retry"`

	// Credentials (base64, 32 bytes)
	CredentialKey string `env:"CREDENTIAL_KEY"`

	// Redis progress bus (empty disables cross-instance fan-out)
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// CORS Configuration
	CORSAllowedOrigins   []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`
	CORSAllowedMethods   []string `env:"CORS_ALLOWED_METHODS" envDefault:"GET,POST,PUT,DELETE,OPTIONS,PATCH" envSeparator:","`
	CORSAllowedHeaders   []string `env:"CORS_ALLOWED_HEADERS" envDefault:"*" envSeparator:","`
	CORSAllowCredentials bool     `env:"CORS_ALLOW_CREDENTIALS" envDefault:"false"`
	CORSMaxAge           int      `env:"CORS_MAX_AGE" envDefault:"3600"`

	// Scheduler Configuration
	SchedulerEnabled      bool   `env:"SCHEDULER_ENABLED" envDefault:"true"`
	SchedulerLockCleanup  string `env:"SCHEDULER_LOCK_CLEANUP" envDefault:"@every 1m"`
	SchedulerMetricsSweep string `env:"SCHEDULER_METRICS" envDefault:"@every 30s"`
}

// Load reads configuration from a .env file (if any) and environment variables
func Load() (*Config, error) {
	_ = godotenv.Load()
	return parse(env.Options{})
}

func parse(opts env.Options) (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges that struct tags cannot express
func (c *Config) Validate() error {
	if c.WorkerPoolSize < 1 {
		return fmt.Errorf("WORKER_POOL_SIZE must be at least 1")
	}
	if c.WorkerQueueSize < 0 {
		return fmt.Errorf("WORKER_QUEUE_SIZE must not be negative")
	}
	if c.MaxJobsPerUser < 1 {
		return fmt.Errorf("MAX_JOBS_PER_USER must be at least 1")
	}
	if c.PlatformMaxAttempts < 1 {
		return fmt.Errorf("PLATFORM_MAX_ATTEMPTS must be at least 1")
	}
	if c.OracleProvider == model.OracleHTTP && c.OracleEndpoint == "" {
		return fmt.Errorf("ORACLE_ENDPOINT is required when ORACLE_PROVIDER=http")
	}
	return nil
}
