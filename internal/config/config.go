package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"labbooking/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App         AppConfig        `yaml:"app"`
	Storage     StorageConfig    `yaml:"storage"`
	Database    DatabaseConfig   `yaml:"database"`
	Redis       RedisConfig      `yaml:"redis"`
	Backup      BackupConfig     `yaml:"backup"`
	Monitoring  MonitoringConfig `yaml:"monitoring"`
	Logging     LoggingConfig    `yaml:"logging"`
	Tracing     TracingConfig    `yaml:"tracing"`
	API         APIConfig        `yaml:"api"`
	CatalogPath string           `yaml:"catalog_path"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

// StorageConfig locates the reservation record directory.
type StorageConfig struct {
	Dir string `yaml:"dir"`
}

// DatabaseConfig locates the SQLite audit journal. With AsyncAudit the
// journal is written by a background worker instead of the request path.
type DatabaseConfig struct {
	Path       string `yaml:"path"`
	AsyncAudit bool   `yaml:"async_audit"`
	AuditQueue int    `yaml:"audit_queue"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

// TracingConfig controls OTLP trace export. Endpoint is host:port of an
// OTLP/gRPC collector.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

type APIConfig struct {
	HTTP      APIHTTPConfig      `yaml:"http"`
	GRPC      APIGRPCConfig      `yaml:"grpc"`
	CORS      APICORSConfig      `yaml:"cors"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Port         int   `yaml:"port"`
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
}

type APIGRPCConfig struct {
	Enabled    bool `yaml:"enabled"`
	Port       int  `yaml:"port"`
	Reflection bool `yaml:"reflection"`
}

type APICORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// APIRateLimitConfig allows Requests per Window seconds per client.
// Requests == 0 disables limiting.
type APIRateLimitConfig struct {
	Requests int `yaml:"requests"`
	Window   int `yaml:"window"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional; variables may come from the environment directly
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Storage.Dir) == "" {
		return errors.New("storage dir is required")
	}
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}
	if c.Backup.Enabled && c.Backup.StoragePath == "" {
		return errors.New("backup storage_path is required when backup is enabled")
	}
	if c.API.RateLimit.Requests < 0 || c.API.RateLimit.Window < 0 {
		return errors.New("rate limit values must not be negative")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return errors.New("tracing sample_ratio must be between 0 and 1")
	}
	return nil
}

// ValidateCatalog rejects duplicate labs and duplicate exam codes within a lab.
func ValidateCatalog(labs []models.Lab) error {
	seen := make(map[string]bool, len(labs))
	for _, lab := range labs {
		name := strings.ToLower(strings.TrimSpace(lab.Name))
		if name == "" {
			return errors.New("lab with empty name")
		}
		if seen[name] {
			return fmt.Errorf("duplicate lab found: %s", lab.Name)
		}
		seen[name] = true

		if len(lab.Exams) == 0 {
			return fmt.Errorf("lab '%s' has no exams", lab.Name)
		}
		codes := make(map[string]bool, len(lab.Exams))
		for _, exam := range lab.Exams {
			code := strings.ToLower(strings.TrimSpace(exam.Code))
			if code == "" {
				return fmt.Errorf("lab '%s' has an exam without code", lab.Name)
			}
			if codes[code] {
				return fmt.Errorf("duplicate exam code %s in lab '%s'", exam.Code, lab.Name)
			}
			codes[code] = true
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "labbooking"
	}
	if c.Storage.Dir == "" {
		c.Storage.Dir = "data/prenotazioni"
	}
	if c.Database.Path == "" {
		c.Database.Path = "data/audit.db"
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 5000
	}
	if c.API.HTTP.MaxBodyBytes == 0 {
		c.API.HTTP.MaxBodyBytes = 1 << 20
	}
	if c.API.GRPC.Port == 0 {
		c.API.GRPC.Port = 5001
	}
	if c.API.RateLimit.Requests > 0 && c.API.RateLimit.Window == 0 {
		c.API.RateLimit.Window = 60
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.Backup.Schedule == "" {
		c.Backup.Schedule = "24h"
	}
	if c.Tracing.Enabled {
		if c.Tracing.Endpoint == "" {
			c.Tracing.Endpoint = "localhost:4317"
		}
		if c.Tracing.SampleRatio == 0 {
			c.Tracing.SampleRatio = 1
		}
	}
	if c.Database.AuditQueue == 0 {
		c.Database.AuditQueue = 256
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 10
	}
}
