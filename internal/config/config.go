// Package config loads the service configuration.
//
// Values come from three layers, later ones winning:
//   - built-in defaults (Defaults)
//   - the YAML file (config/config.yaml, or CONFIG_PATH)
//   - environment variables, optionally from a .env file
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultPath is where the YAML file is looked up when CONFIG_PATH is unset
const DefaultPath = "config/config.yaml"

// Config represents the application configuration
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Whisper     WhisperConfig     `yaml:"whisper"`
	Workers     WorkersConfig     `yaml:"workers"`
	Retry       RetryConfig       `yaml:"retry"`
	Storage     StorageConfig     `yaml:"storage"`
	Cleanup     CleanupConfig     `yaml:"cleanup"`
	GoogleDrive GoogleDriveConfig `yaml:"google_drive"`
	MinIO       MinIOConfig       `yaml:"minio"`
	Redis       RedisConfig       `yaml:"redis"`
	Limits      LimitsConfig      `yaml:"limits"`
	Log         LogConfig         `yaml:"log"`
}

type ServerConfig struct {
	Port int    `yaml:"port" env:"PORT"`
	Host string `yaml:"host" env:"HOST"`
}

type WhisperConfig struct {
	Command  string   `yaml:"command" env:"WHISPER_COMMAND"`
	Args     []string `yaml:"args" env:"WHISPER_ARGS" envSeparator:" "`
	Model    string   `yaml:"model" env:"WHISPER_MODEL"`
	Device   string   `yaml:"device" env:"WHISPER_DEVICE"`
	Threads  int      `yaml:"threads" env:"WHISPER_THREADS"`
	Language string   `yaml:"language" env:"WHISPER_LANGUAGE"`
}

type WorkersConfig struct {
	Count int `yaml:"count" env:"MAX_WORKERS"`
}

type RetryConfig struct {
	MaxRetries int             `yaml:"max_retries" env:"MAX_RETRIES"`
	Delays     []time.Duration `yaml:"delays" env:"RETRY_DELAYS" envSeparator:","`
}

type StorageConfig struct {
	// Driver is "sqlite" or "postgres"
	Driver      string `yaml:"driver" env:"DB_DRIVER"`
	Database    string `yaml:"database" env:"DB_PATH"`
	PostgresDSN string `yaml:"postgres_dsn" env:"DATABASE_URL"`
	UploadDir   string `yaml:"upload_dir" env:"UPLOAD_DIR"`
	TempDir     string `yaml:"temp_dir" env:"TEMP_DIR"`
	OutputDir   string `yaml:"output_dir" env:"OUTPUT_DIR"`
	// ExportLocal writes transcripts under OutputDir when a job completes
	ExportLocal bool `yaml:"export_local" env:"EXPORT_LOCAL"`
}

type CleanupConfig struct {
	IntervalMinutes int `yaml:"interval_minutes" env:"CLEANUP_INTERVAL_MINUTES"`
	MaxAgeHours     int `yaml:"max_age_hours" env:"CLEANUP_MAX_AGE_HOURS"`
}

type GoogleDriveConfig struct {
	Enabled         bool   `yaml:"enabled" env:"GDRIVE_ENABLED"`
	CredentialsFile string `yaml:"credentials_file" env:"GDRIVE_CREDENTIALS_FILE"`
	TokenFile       string `yaml:"token_file" env:"GDRIVE_TOKEN_FILE"`
	FolderName      string `yaml:"folder_name" env:"GDRIVE_FOLDER_NAME"`
}

type MinIOConfig struct {
	Enabled   bool   `yaml:"enabled" env:"MINIO_ENABLED"`
	Endpoint  string `yaml:"endpoint" env:"MINIO_ENDPOINT"`
	AccessKey string `yaml:"access_key" env:"MINIO_ACCESS_KEY"`
	SecretKey string `yaml:"secret_key" env:"MINIO_SECRET_KEY"`
	Bucket    string `yaml:"bucket" env:"MINIO_BUCKET"`
	Region    string `yaml:"region" env:"MINIO_REGION"`
	UseSSL    bool   `yaml:"use_ssl" env:"MINIO_USE_SSL"`
	Prefix    string `yaml:"prefix" env:"MINIO_PREFIX"`
}

type RedisConfig struct {
	Enabled   bool          `yaml:"enabled" env:"REDIS_ENABLED"`
	Addr      string        `yaml:"addr" env:"REDIS_ADDR"`
	Password  string        `yaml:"password" env:"REDIS_PASSWORD"`
	DB        int           `yaml:"db" env:"REDIS_DB"`
	Channel   string        `yaml:"channel" env:"REDIS_CHANNEL"`
	KeyPrefix string        `yaml:"key_prefix" env:"REDIS_KEY_PREFIX"`
	StatusTTL time.Duration `yaml:"status_ttl" env:"REDIS_STATUS_TTL"`
}

type LimitsConfig struct {
	MaxFileSizeMB int `yaml:"max_file_size_mb" env:"MAX_FILE_SIZE_MB"`
}

type LogConfig struct {
	Level string `yaml:"level" env:"LOG_LEVEL"`
}

// Defaults returns the configuration used when nothing overrides it
func Defaults() Config {
	return Config{
		Server:  ServerConfig{Port: 8000, Host: "0.0.0.0"},
		Whisper: WhisperConfig{Model: "base", Device: "cpu"},
		Workers: WorkersConfig{Count: 3},
		Retry: RetryConfig{
			MaxRetries: 3,
			Delays:     []time.Duration{10 * time.Second, 30 * time.Second, 90 * time.Second},
		},
		Storage: StorageConfig{
			Driver:    "sqlite",
			Database:  "storage/jobs.db",
			UploadDir: "storage/uploads",
			TempDir:   "temp",
			OutputDir: "outputs",
		},
		Cleanup:     CleanupConfig{IntervalMinutes: 60, MaxAgeHours: 24},
		GoogleDrive: GoogleDriveConfig{FolderName: "Transcripts"},
		MinIO:       MinIOConfig{Bucket: "transcripts"},
		Redis:       RedisConfig{Addr: "localhost:6379", StatusTTL: 24 * time.Hour},
		Limits:      LimitsConfig{MaxFileSizeMB: 500},
		Log:         LogConfig{Level: "info"},
	}
}

// Load builds the configuration from defaults, the YAML file at path (a
// missing file is not an error), .env and the environment.
func Load(path string) (*Config, error) {
	config := Defaults()

	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = DefaultPath
	}

	file, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(file, &config); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	// Load .env file if it exists (development)
	if err := godotenv.Load(); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return nil, fmt.Errorf("load .env file: %w", err)
		}
	}

	if err := env.Parse(&config); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	config.Sanitize()
	return &config, config.Validate()
}

// Sanitize clamps values that would make the service misbehave
func (c *Config) Sanitize() {
	if c.Workers.Count < 1 {
		c.Workers.Count = 1
	}
	if c.Retry.MaxRetries < 0 {
		c.Retry.MaxRetries = 0
	}
	delays := c.Retry.Delays[:0:0]
	for _, d := range c.Retry.Delays {
		if d < 0 {
			d = 0
		}
		delays = append(delays, d)
	}
	c.Retry.Delays = delays
	if c.Limits.MaxFileSizeMB <= 0 {
		c.Limits.MaxFileSizeMB = 500
	}
	if c.Cleanup.IntervalMinutes <= 0 {
		c.Cleanup.IntervalMinutes = 60
	}
	if c.Cleanup.MaxAgeHours <= 0 {
		c.Cleanup.MaxAgeHours = 24
	}
	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
}

// Validate reports settings that cannot work together
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "sqlite":
		if c.Storage.Database == "" {
			return errors.New("storage.database is required for the sqlite driver")
		}
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return errors.New("storage.postgres_dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.MinIO.Enabled && c.MinIO.Endpoint == "" {
		return errors.New("minio.endpoint is required when minio is enabled")
	}
	return nil
}

// LogLevel maps the configured level name onto slog
func (c *Config) LogLevel() slog.Level {
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Addr is the listen address
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
