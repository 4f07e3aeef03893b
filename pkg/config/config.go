package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
	_ "time/tzdata"
)

// Config holds all application configuration
type Config struct {
	Environment string
	Database    DatabaseConfig
	Redis       RedisConfig
	GitLab      GitLabConfig
	Ingestion   IngestionConfig
	OTEL        OTELConfig
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	Path     string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// GitLabConfig holds the CI source configuration
type GitLabConfig struct {
	URL          string
	Token        string
	ProjectPath  string
	ArtifactPath string
	Timeout      time.Duration
}

// IngestionConfig holds pipeline settings
type IngestionConfig struct {
	ChunkSize int
	TimeZone  string
	SeedDir   string
}

// OTELConfig holds OpenTelemetry configuration
type OTELConfig struct {
	ServiceName    string
	ServiceVersion string
	Endpoint       string
	Enabled        bool
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnv("APP_ENV", "development"),
		Database: DatabaseConfig{
			Driver:   getEnv("DB_DRIVER", "postgres"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			Database: getEnv("DB_NAME", "waiting_times"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			Path:     getEnv("DB_PATH", "waiting_times.db"),
		},
		Redis: RedisConfig{
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvAsInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		GitLab: GitLabConfig{
			URL:          getEnv("GITLAB_URL", "https://gitlab.com"),
			Token:        getEnv("GITLAB_TOKEN", ""),
			ProjectPath:  getEnv("GITLAB_PROJECT_PATH", ""),
			ArtifactPath: getEnv("GITLAB_ARTIFACT_PATH", "output/data.json"),
			Timeout:      time.Duration(getEnvAsInt("GITLAB_TIMEOUT_SECONDS", 30)) * time.Second,
		},
		Ingestion: IngestionConfig{
			ChunkSize: getEnvAsInt("INGEST_CHUNK_SIZE", 50),
			TimeZone:  getEnv("INGEST_TIMEZONE", "UTC"),
			SeedDir:   getEnv("INGEST_SEED_DIR", "data"),
		},
		OTEL: OTELConfig{
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "waiting-times-ingest"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "1.0.0"),
			Endpoint:       getEnv("OTEL_ENDPOINT", ""),
			Enabled:        getEnvAsBool("OTEL_ENABLED", false),
		},
	}

	if cfg.Ingestion.ChunkSize <= 0 {
		return nil, fmt.Errorf("INGEST_CHUNK_SIZE must be positive, got %d", cfg.Ingestion.ChunkSize)
	}
	if _, err := cfg.Ingestion.Location(); err != nil {
		return nil, err
	}
	switch cfg.Database.Driver {
	case "postgres", "sqlite":
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.Database.Driver)
	}

	return cfg, nil
}

// IsProduction reports whether the process runs in production
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// DatabaseDSN returns the connection string for the configured driver
func (c *DatabaseConfig) DatabaseDSN() string {
	if c.Driver == "sqlite" {
		return fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", c.Path)
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// RedisAddr returns the Redis address
func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Location resolves the time zone used to derive a job's calendar date
func (c *IngestionConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("invalid INGEST_TIMEZONE %q: %w", c.TimeZone, err)
	}
	return loc, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
