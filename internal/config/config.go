package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Inference InferenceConfig `yaml:"inference"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Raster    RasterConfig    `yaml:"raster"`
	Claims    ClaimsConfig    `yaml:"claims"`
	Sink      SinkConfig      `yaml:"sink"`
	Watch     WatchConfig     `yaml:"watch"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Port           string `yaml:"port"`
	APIKey         string `yaml:"api_key"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite3 | postgres
	DSN    string `yaml:"dsn"`
}

type InferenceConfig struct {
	Provider          string        `yaml:"provider"` // gemini | openrouter
	APIKey            string        `yaml:"api_key"`
	Model             string        `yaml:"model"`
	BaseURL           string        `yaml:"base_url"`
	CallTimeout       time.Duration `yaml:"call_timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"` // 0 disables the limiter
	Burst             int           `yaml:"burst"`
	MaxContextTokens  int           `yaml:"max_context_tokens"`
}

type PipelineConfig struct {
	Concurrency       int           `yaml:"concurrency"`
	MaxAttempts       int           `yaml:"max_attempts"`
	BackoffBase       time.Duration `yaml:"backoff_base"`
	BackoffMax        time.Duration `yaml:"backoff_max"`
	PageFailurePolicy string        `yaml:"page_failure_policy"` // abort | placeholder
	WorkerCount       int           `yaml:"worker_count"`
	MaxQueueSize      int           `yaml:"max_queue_size"`
	JobTTL            time.Duration `yaml:"job_ttl"`
}

type RasterConfig struct {
	Engine      string `yaml:"engine"` // fitz | poppler
	DPI         int    `yaml:"dpi"`
	MaxWidth    int    `yaml:"max_width"`
	JPEGQuality int    `yaml:"jpeg_quality"`
	MaxPages    int    `yaml:"max_pages"` // 0 = unlimited
}

type ClaimsConfig struct {
	Driver string        `yaml:"driver"` // ledger | redis
	TTL    time.Duration `yaml:"ttl"`
	Redis  RedisConfig   `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type SinkConfig struct {
	Driver          string `yaml:"driver"` // none | local | drive | gcs
	CredentialsFile string `yaml:"credentials_file"`
	FolderID        string `yaml:"folder_id"` // Drive folder ID, directory, or bucket/prefix
	DeliverResults  bool   `yaml:"deliver_results"`
}

type WatchConfig struct {
	Interval time.Duration `yaml:"interval"`
	TagFiles bool          `yaml:"tag_files"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json | text
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:           "8090",
			MaxUploadBytes: 104857600, // 100MB
		},
		Database: DatabaseConfig{
			Driver: "sqlite3",
			DSN:    "irdigest.db",
		},
		Inference: InferenceConfig{
			Provider:         "gemini",
			Model:            "gemini-2.5-pro",
			BaseURL:          "https://openrouter.ai/api/v1",
			CallTimeout:      3 * time.Minute,
			Burst:            1,
			MaxContextTokens: 900000,
		},
		Pipeline: PipelineConfig{
			Concurrency:       15,
			MaxAttempts:       3,
			BackoffBase:       1 * time.Second,
			BackoffMax:        30 * time.Second,
			PageFailurePolicy: "abort",
			WorkerCount:       2,
			MaxQueueSize:      50,
			JobTTL:            1 * time.Hour,
		},
		Raster: RasterConfig{
			Engine:      "fitz",
			DPI:         120,
			MaxWidth:    1600,
			JPEGQuality: 85,
		},
		Claims: ClaimsConfig{
			Driver: "ledger",
			TTL:    30 * time.Minute,
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: "irdigest:claim:",
			},
		},
		Sink: SinkConfig{
			Driver:          "none",
			CredentialsFile: "service_account.json",
		},
		Watch: WatchConfig{
			Interval: 30 * time.Second,
			TagFiles: true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file at
// path, a .env file in the working directory, and environment variables,
// in that order of increasing precedence.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	// A missing .env is normal outside development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("load .env: %w", err)
	}

	applyEnv(&cfg)
	cfg.clamp()
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Server.Port = envOr("PORT", cfg.Server.Port)
	cfg.Server.APIKey = envOr("IRDIGEST_API_KEY", cfg.Server.APIKey)
	cfg.Server.MaxUploadBytes = envInt64("IRDIGEST_MAX_UPLOAD_BYTES", cfg.Server.MaxUploadBytes)

	cfg.Database.Driver = envOr("IRDIGEST_DB_DRIVER", cfg.Database.Driver)
	cfg.Database.DSN = envOr("DATABASE_URL", cfg.Database.DSN)

	cfg.Inference.Provider = envOr("IRDIGEST_PROVIDER", cfg.Inference.Provider)
	cfg.Inference.Model = envOr("IRDIGEST_MODEL", cfg.Inference.Model)
	cfg.Inference.BaseURL = envOr("IRDIGEST_BASE_URL", cfg.Inference.BaseURL)
	cfg.Inference.CallTimeout = envDuration("IRDIGEST_CALL_TIMEOUT", cfg.Inference.CallTimeout)
	cfg.Inference.RequestsPerSecond = envFloat("IRDIGEST_REQUESTS_PER_SECOND", cfg.Inference.RequestsPerSecond)
	cfg.Inference.MaxContextTokens = envInt("IRDIGEST_MAX_CONTEXT_TOKENS", cfg.Inference.MaxContextTokens)
	switch cfg.Inference.Provider {
	case "openrouter":
		cfg.Inference.APIKey = envOr("OPENROUTER_API_KEY", cfg.Inference.APIKey)
	default:
		cfg.Inference.APIKey = envOr("GEMINI_API_KEY", cfg.Inference.APIKey)
	}

	cfg.Pipeline.Concurrency = envInt("IRDIGEST_CONCURRENCY", cfg.Pipeline.Concurrency)
	cfg.Pipeline.MaxAttempts = envInt("IRDIGEST_MAX_ATTEMPTS", cfg.Pipeline.MaxAttempts)
	cfg.Pipeline.PageFailurePolicy = envOr("IRDIGEST_PAGE_FAILURE_POLICY", cfg.Pipeline.PageFailurePolicy)
	cfg.Pipeline.WorkerCount = envInt("IRDIGEST_WORKER_COUNT", cfg.Pipeline.WorkerCount)
	cfg.Pipeline.MaxQueueSize = envInt("IRDIGEST_MAX_QUEUE_SIZE", cfg.Pipeline.MaxQueueSize)
	cfg.Pipeline.JobTTL = envDuration("IRDIGEST_JOB_TTL", cfg.Pipeline.JobTTL)

	cfg.Raster.Engine = envOr("IRDIGEST_RASTER_ENGINE", cfg.Raster.Engine)
	cfg.Raster.DPI = envInt("IRDIGEST_DPI", cfg.Raster.DPI)
	cfg.Raster.MaxPages = envInt("IRDIGEST_MAX_PAGES", cfg.Raster.MaxPages)

	cfg.Claims.Driver = envOr("IRDIGEST_CLAIMS_DRIVER", cfg.Claims.Driver)
	cfg.Claims.TTL = envDuration("IRDIGEST_CLAIM_TTL", cfg.Claims.TTL)
	cfg.Claims.Redis.Addr = envOr("REDIS_ADDR", cfg.Claims.Redis.Addr)
	cfg.Claims.Redis.Password = envOr("REDIS_PASSWORD", cfg.Claims.Redis.Password)

	cfg.Sink.Driver = envOr("IRDIGEST_SINK", cfg.Sink.Driver)
	cfg.Sink.CredentialsFile = envOr("GOOGLE_APPLICATION_CREDENTIALS", cfg.Sink.CredentialsFile)
	cfg.Sink.FolderID = envOr("IRDIGEST_FOLDER_ID", cfg.Sink.FolderID)
	cfg.Sink.DeliverResults = envBool("IRDIGEST_DELIVER_RESULTS", cfg.Sink.DeliverResults)

	cfg.Watch.Interval = envDuration("IRDIGEST_WATCH_INTERVAL", cfg.Watch.Interval)
	cfg.Watch.TagFiles = envBool("IRDIGEST_TAG_FILES", cfg.Watch.TagFiles)

	cfg.Log.Level = envOr("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = envOr("LOG_FORMAT", cfg.Log.Format)
}

func (c *Config) clamp() {
	def := Default()
	if c.Server.MaxUploadBytes <= 0 {
		c.Server.MaxUploadBytes = def.Server.MaxUploadBytes
	}
	if c.Inference.CallTimeout <= 0 {
		c.Inference.CallTimeout = def.Inference.CallTimeout
	}
	if c.Inference.Burst <= 0 {
		c.Inference.Burst = 1
	}
	if c.Pipeline.Concurrency <= 0 {
		c.Pipeline.Concurrency = def.Pipeline.Concurrency
	}
	if c.Pipeline.MaxAttempts <= 0 {
		c.Pipeline.MaxAttempts = 1
	}
	if c.Pipeline.BackoffBase <= 0 {
		c.Pipeline.BackoffBase = def.Pipeline.BackoffBase
	}
	if c.Pipeline.BackoffMax < c.Pipeline.BackoffBase {
		c.Pipeline.BackoffMax = c.Pipeline.BackoffBase
	}
	if c.Pipeline.WorkerCount <= 0 {
		c.Pipeline.WorkerCount = def.Pipeline.WorkerCount
	}
	if c.Pipeline.MaxQueueSize <= 0 {
		c.Pipeline.MaxQueueSize = def.Pipeline.MaxQueueSize
	}
	if c.Pipeline.JobTTL <= 0 {
		c.Pipeline.JobTTL = def.Pipeline.JobTTL
	}
	if c.Raster.DPI <= 0 {
		c.Raster.DPI = def.Raster.DPI
	}
	if c.Raster.MaxWidth <= 0 {
		c.Raster.MaxWidth = def.Raster.MaxWidth
	}
	if c.Raster.JPEGQuality <= 0 || c.Raster.JPEGQuality > 100 {
		c.Raster.JPEGQuality = def.Raster.JPEGQuality
	}
	if c.Claims.TTL <= 0 {
		c.Claims.TTL = def.Claims.TTL
	}
	if c.Watch.Interval <= 0 {
		c.Watch.Interval = def.Watch.Interval
	}
}

// Validate checks settings needed by any command that runs an analysis.
func (c Config) Validate() error {
	switch c.Inference.Provider {
	case "gemini":
		if c.Inference.APIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required")
		}
	case "openrouter":
		if c.Inference.APIKey == "" {
			return fmt.Errorf("OPENROUTER_API_KEY is required")
		}
	default:
		return fmt.Errorf("unknown inference provider %q", c.Inference.Provider)
	}
	switch c.Pipeline.PageFailurePolicy {
	case "abort", "placeholder":
	default:
		return fmt.Errorf("page_failure_policy must be abort or placeholder, got %q", c.Pipeline.PageFailurePolicy)
	}
	switch c.Raster.Engine {
	case "fitz", "poppler":
	default:
		return fmt.Errorf("unknown raster engine %q", c.Raster.Engine)
	}
	return c.ValidateStorage()
}

// ValidateStorage checks only what read-only commands (history, redeliver)
// need.
func (c Config) ValidateStorage() error {
	switch c.Database.Driver {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		return fmt.Errorf("database dsn is required")
	}
	switch c.Claims.Driver {
	case "ledger", "redis":
	default:
		return fmt.Errorf("unknown claims driver %q", c.Claims.Driver)
	}
	switch c.Sink.Driver {
	case "none":
	case "local", "drive", "gcs":
		if c.Sink.FolderID == "" {
			return fmt.Errorf("sink folder_id is required for %s", c.Sink.Driver)
		}
	default:
		return fmt.Errorf("unknown sink driver %q", c.Sink.Driver)
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
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
