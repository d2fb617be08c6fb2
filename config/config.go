package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Logging     LoggingConfig
	Metrics     MetricsConfig
	Admin       AdminConfig
	Redis       RedisConfig
	RateLimit   RateLimitConfig
	Tracks      TracksConfig
	Cache       CacheConfig
	Geocoding   GeocodingConfig
	Processor   ProcessorConfig
	Pipeline    PipelineConfig
	Maintenance MaintenanceConfig
}

type ServerConfig struct {
	Host                    string
	Port                    int
	ReadTimeout             time.Duration
	WriteTimeout            time.Duration
	IdleTimeout             time.Duration
	GracefulShutdownTimeout time.Duration
	CORSOrigins             []string
}

type DatabaseConfig struct {
	URL             string
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

type LoggingConfig struct {
	Level  string
	Format string // json or text
}

type MetricsConfig struct {
	Enabled bool
	Port    int
	Path    string
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
}

type AdminConfig struct {
	// AdminSecret is compared as plain text unless it is a bcrypt hash.
	AdminSecret string
}

// RateLimitConfig bounds public API requests per client IP.
type RateLimitConfig struct {
	RequestsPerMinute int
	Burst             int
}

// TracksConfig controls the rolling track store.
type TracksConfig struct {
	File             string
	RetentionMinutes int
	MaxCount         int
	BackupCount      int
	AutoSaveInterval time.Duration
}

// CacheConfig controls the persisted geocode cache.
type CacheConfig struct {
	Dir         string
	PositiveTTL time.Duration
	NegativeTTL time.Duration
	MaxNegative int
}

// ProviderConfig is one HTTP geocoder.
type ProviderConfig struct {
	URL        string
	APIKey     string
	Enabled    bool
	Timeout    time.Duration
	RatePerSec float64
	DailyQuota int
}

type GeocodingConfig struct {
	// Strategy selects "smart" (context-aware, learns corrections) or
	// "chain" (plain priority chain).
	Strategy string
	// CitiesFile and SettlementsFile override the embedded gazetteer.
	CitiesFile       string
	SettlementsFile  string
	LearningFile     string
	UserAgent        string
	SmartNegativeCap int
	SmartNegativeTTL time.Duration
	LookupTimeout    time.Duration
	Photon           ProviderConfig
	OpenCage         ProviderConfig
	Nominatim        ProviderConfig
}

type ProcessorConfig struct {
	Enabled      bool
	BatchSize    int
	BatchDelay   time.Duration
	GeocodeDelay time.Duration
	IdleInterval time.Duration
}

type PipelineConfig struct {
	HistorySize   int
	TextLimit     int
	RelayURL      string
	RelayInterval time.Duration
	RelayWorkers  int
	// Feeds lists channel=url pairs of RSS channel renditions.
	Feeds []string
}

type MaintenanceConfig struct {
	Interval time.Duration
}

// Load loads configuration from environment variables with sensible
// defaults. A .env file in the working directory is read first when
// present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	dataDir := getEnv("DATA_DIR", "data")

	cfg := &Config{
		Server: ServerConfig{
			Host:                    getEnv("SERVER_HOST", "0.0.0.0"),
			Port:                    getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:             getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:            getEnvDuration("SERVER_WRITE_TIMEOUT", 0),
			IdleTimeout:             getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
			GracefulShutdownTimeout: getEnvDuration("SERVER_GRACEFUL_SHUTDOWN_TIMEOUT", 30*time.Second),
			CORSOrigins:             getEnvList("CORS_ORIGINS", []string{"*"}),
		},
		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxConns:        getEnvInt("DB_MAX_CONNS", 10),
			MinConns:        getEnvInt("DB_MIN_CONNS", 1),
			MaxConnLifetime: getEnvDuration("DB_MAX_CONN_LIFETIME", 1*time.Hour),
			MaxConnIdleTime: getEnvDuration("DB_MAX_CONN_IDLE_TIME", 30*time.Minute),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvBool("METRICS_ENABLED", true),
			Port:    getEnvInt("METRICS_PORT", 9090),
			Path:    getEnv("METRICS_PATH", "/metrics"),
		},
		Redis: RedisConfig{
			URL:      getEnv("REDIS_URL", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Admin: AdminConfig{
			AdminSecret: getEnv("ADMIN_SECRET", ""),
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: getEnvInt("API_RATE_LIMIT_RPM", 120),
			Burst:             getEnvInt("API_RATE_LIMIT_BURST", 20),
		},
		Tracks: TracksConfig{
			File:             getEnv("TRACKS_FILE", filepath.Join(dataDir, "tracks.json")),
			RetentionMinutes: getEnvInt("TRACKS_RETENTION_MINUTES", 1440),
			MaxCount:         getEnvInt("TRACKS_MAX_COUNT", 500),
			BackupCount:      getEnvInt("TRACKS_BACKUP_COUNT", 3),
			AutoSaveInterval: getEnvDuration("TRACKS_AUTO_SAVE_INTERVAL", 60*time.Second),
		},
		Cache: CacheConfig{
			Dir:         getEnv("GEOCODE_CACHE_DIR", dataDir),
			PositiveTTL: getEnvDuration("GEOCODE_CACHE_TTL", 30*24*time.Hour),
			NegativeTTL: getEnvDuration("GEOCODE_NEGATIVE_TTL", 3*24*time.Hour),
			MaxNegative: getEnvInt("GEOCODE_MAX_NEGATIVE", 500),
		},
		Geocoding: GeocodingConfig{
			Strategy:         getEnv("GEOCODER_STRATEGY", "smart"),
			CitiesFile:       getEnv("GEOCODE_CITIES_FILE", ""),
			SettlementsFile:  getEnv("GEOCODE_SETTLEMENTS_FILE", ""),
			LearningFile:     getEnv("GEOCODE_LEARNING_FILE", filepath.Join(dataDir, "geocode_learning.json")),
			UserAgent:        getEnv("GEOCODE_USER_AGENT", "neptun-map/1.0"),
			SmartNegativeCap: getEnvInt("GEOCODE_SMART_NEGATIVE_CAP", 5000),
			SmartNegativeTTL: getEnvDuration("GEOCODE_SMART_NEGATIVE_TTL", 3*24*time.Hour),
			LookupTimeout:    getEnvDuration("GEOCODE_LOOKUP_TIMEOUT", 30*time.Second),
			Photon: ProviderConfig{
				URL:        getEnv("PHOTON_URL", ""),
				Enabled:    getEnvBool("PHOTON_ENABLED", true),
				Timeout:    getEnvDuration("PHOTON_TIMEOUT", 5*time.Second),
				RatePerSec: getEnvFloat("PHOTON_RATE", 2),
			},
			OpenCage: ProviderConfig{
				URL:        getEnv("OPENCAGE_URL", ""),
				APIKey:     getEnv("OPENCAGE_API_KEY", ""),
				Enabled:    getEnvBool("OPENCAGE_ENABLED", true),
				Timeout:    getEnvDuration("OPENCAGE_TIMEOUT", 5*time.Second),
				RatePerSec: getEnvFloat("OPENCAGE_RATE", 1),
				DailyQuota: getEnvInt("OPENCAGE_DAILY_QUOTA", 2500),
			},
			Nominatim: ProviderConfig{
				URL:        getEnv("NOMINATIM_URL", ""),
				Enabled:    getEnvBool("NOMINATIM_ENABLED", true),
				Timeout:    getEnvDuration("NOMINATIM_TIMEOUT", 5*time.Second),
				RatePerSec: getEnvFloat("NOMINATIM_RATE", 1),
			},
		},
		Processor: ProcessorConfig{
			Enabled:      getEnvBool("PROCESSOR_ENABLED", true),
			BatchSize:    getEnvInt("PROCESSOR_BATCH_SIZE", 10),
			BatchDelay:   getEnvDuration("PROCESSOR_BATCH_DELAY", 2*time.Second),
			GeocodeDelay: getEnvDuration("PROCESSOR_GEOCODE_DELAY", 500*time.Millisecond),
			IdleInterval: getEnvDuration("PROCESSOR_IDLE_INTERVAL", 5*time.Second),
		},
		Pipeline: PipelineConfig{
			HistorySize:   getEnvInt("PIPELINE_HISTORY_SIZE", 1000),
			TextLimit:     getEnvInt("PIPELINE_TEXT_LIMIT", 500),
			RelayURL:      getEnv("RELAY_URL", ""),
			RelayInterval: getEnvDuration("RELAY_INTERVAL", 30*time.Second),
			RelayWorkers:  getEnvInt("RELAY_WORKERS", 2),
			Feeds:         getEnvList("CHANNEL_FEEDS", nil),
		},
		Maintenance: MaintenanceConfig{
			Interval: getEnvDuration("MAINTENANCE_INTERVAL", 5*time.Minute),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Database.MaxConns < 1 {
		return fmt.Errorf("database max connections must be at least 1")
	}
	if c.Tracks.RetentionMinutes < 1 {
		return fmt.Errorf("track retention must be at least 1 minute")
	}
	if c.Tracks.MaxCount < 1 {
		return fmt.Errorf("track max count must be at least 1")
	}
	if c.Tracks.BackupCount < 0 {
		return fmt.Errorf("track backup count must not be negative")
	}
	if c.Cache.NegativeTTL > c.Cache.PositiveTTL {
		return fmt.Errorf("negative cache ttl %s exceeds positive ttl %s", c.Cache.NegativeTTL, c.Cache.PositiveTTL)
	}
	if c.Geocoding.Strategy != "smart" && c.Geocoding.Strategy != "chain" {
		return fmt.Errorf("unknown geocoder strategy: %q", c.Geocoding.Strategy)
	}
	if c.Processor.BatchSize < 1 {
		return fmt.Errorf("processor batch size must be at least 1")
	}
	if c.Pipeline.HistorySize < 1 {
		return fmt.Errorf("pipeline history size must be at least 1")
	}
	if c.Pipeline.RelayWorkers < 1 {
		return fmt.Errorf("relay workers must be at least 1")
	}
	return nil
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
