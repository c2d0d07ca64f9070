// Package config loads configuration from an optional YAML file, a .env
// file and environment variables, in that order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultDailyQuota is the daily transfer ceiling (250 GiB).
const DefaultDailyQuota int64 = 250 * 1024 * 1024 * 1024

// Config holds all daemon configuration.
type Config struct {
	// Directories
	DataDir  string `yaml:"data_dir"`
	CacheDir string `yaml:"cache_dir"`

	// Listeners
	APIAddr     string `yaml:"api_addr"`
	StreamAddr  string `yaml:"stream_addr"`
	MetricsAddr string `yaml:"metrics_addr"`

	// Logging
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Command API auth. Empty means a random secret per process.
	APISecret   string        `yaml:"api_secret"`
	APITokenTTL time.Duration `yaml:"api_token_ttl"`

	// Telegram. A non-zero AppID connects at startup.
	AppID int `yaml:"app_id"`

	// Bandwidth
	DailyQuota         int64         `yaml:"daily_quota"`
	BandwidthStore     string        `yaml:"bandwidth_store"` // "file" or "postgres"
	DatabaseURL        string        `yaml:"database_url"`
	BandwidthRetention time.Duration `yaml:"bandwidth_retention"`

	// Session lifecycle
	ListenerGrace time.Duration `yaml:"listener_grace"`
	MaxFloodWait  time.Duration `yaml:"max_flood_wait"`

	// Folder scan
	ScanRate  float64 `yaml:"scan_rate"` // full-info calls per second
	ScanBurst int     `yaml:"scan_burst"`

	// Connectivity probe
	ProbeAddr    string        `yaml:"probe_addr"`
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	dataDir := "tgdrive-data"
	if dir, err := os.UserConfigDir(); err == nil {
		dataDir = filepath.Join(dir, "telegram-drive")
	}
	cacheDir := filepath.Join(dataDir, "cache")
	if dir, err := os.UserCacheDir(); err == nil {
		cacheDir = filepath.Join(dir, "telegram-drive")
	}

	return &Config{
		DataDir:            dataDir,
		CacheDir:           cacheDir,
		APIAddr:            "127.0.0.1:8321",
		StreamAddr:         "127.0.0.1:14200",
		MetricsAddr:        "127.0.0.1:9321",
		LogLevel:           "info",
		LogFormat:          "console",
		APITokenTTL:        30 * 24 * time.Hour,
		DailyQuota:         DefaultDailyQuota,
		BandwidthStore:     "file",
		BandwidthRetention: 90 * 24 * time.Hour,
		ListenerGrace:      500 * time.Millisecond,
		MaxFloodWait:       60 * time.Second,
		ScanRate:           5,
		ScanBurst:          3,
		ProbeAddr:          "149.154.167.50:443",
		ProbeTimeout:       2 * time.Second,
	}
}

// Load builds the configuration. TGDRIVE_CONFIG names an optional YAML file;
// a .env file in the working directory is read when present.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if path := os.Getenv("TGDRIVE_CONFIG"); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	cfg.DataDir = envOr("TGDRIVE_DATA_DIR", cfg.DataDir)
	cfg.CacheDir = envOr("TGDRIVE_CACHE_DIR", cfg.CacheDir)
	cfg.APIAddr = envOr("TGDRIVE_API_ADDR", cfg.APIAddr)
	cfg.StreamAddr = envOr("TGDRIVE_STREAM_ADDR", cfg.StreamAddr)
	cfg.MetricsAddr = envOr("TGDRIVE_METRICS_ADDR", cfg.MetricsAddr)
	cfg.LogLevel = envOr("TGDRIVE_LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = envOr("TGDRIVE_LOG_FORMAT", cfg.LogFormat)
	cfg.APISecret = envOr("TGDRIVE_API_SECRET", cfg.APISecret)
	cfg.APITokenTTL = envDuration("TGDRIVE_API_TOKEN_TTL", cfg.APITokenTTL)
	cfg.AppID = envInt("TGDRIVE_APP_ID", cfg.AppID)
	cfg.DailyQuota = envInt64("TGDRIVE_DAILY_QUOTA", cfg.DailyQuota)
	cfg.BandwidthStore = envOr("TGDRIVE_BANDWIDTH_STORE", cfg.BandwidthStore)
	cfg.DatabaseURL = envOr("TGDRIVE_DATABASE_URL", cfg.DatabaseURL)
	cfg.BandwidthRetention = envDuration("TGDRIVE_BANDWIDTH_RETENTION", cfg.BandwidthRetention)
	cfg.ListenerGrace = envDuration("TGDRIVE_LISTENER_GRACE", cfg.ListenerGrace)
	cfg.MaxFloodWait = envDuration("TGDRIVE_MAX_FLOOD_WAIT", cfg.MaxFloodWait)
	cfg.ScanRate = envFloat("TGDRIVE_SCAN_RATE", cfg.ScanRate)
	cfg.ScanBurst = envInt("TGDRIVE_SCAN_BURST", cfg.ScanBurst)
	cfg.ProbeAddr = envOr("TGDRIVE_PROBE_ADDR", cfg.ProbeAddr)
	cfg.ProbeTimeout = envDuration("TGDRIVE_PROBE_TIMEOUT", cfg.ProbeTimeout)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field combinations that cannot work.
func (c *Config) Validate() error {
	switch c.BandwidthStore {
	case "file":
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("TGDRIVE_DATABASE_URL is required for the postgres bandwidth store")
		}
	default:
		return fmt.Errorf("unknown bandwidth store %q", c.BandwidthStore)
	}
	if c.DataDir == "" {
		return fmt.Errorf("data dir is required")
	}
	if c.APIAddr == "" || c.StreamAddr == "" {
		return fmt.Errorf("api and stream addresses are required")
	}
	if c.DailyQuota <= 0 {
		return fmt.Errorf("daily quota must be positive")
	}
	return nil
}

// SessionPath is the persisted session store location.
func (c *Config) SessionPath() string {
	return filepath.Join(c.DataDir, "telegram.session")
}

// BandwidthPath is the JSON bandwidth record location.
func (c *Config) BandwidthPath() string {
	return filepath.Join(c.DataDir, "bandwidth.json")
}

// TokenPath is where the daemon writes the command API token for local clients.
func (c *Config) TokenPath() string {
	return filepath.Join(c.DataDir, "api-token")
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}

func envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
