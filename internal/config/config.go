// Package config provides unified configuration loading for Paper Whisperer.
// Supports YAML files, a .env file, environment variables and programmatic overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for Paper Whisperer.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	LLM           LLMConfig           `yaml:"llm"`
	PDF           PDFConfig           `yaml:"pdf"`
	Analyzer      AnalyzerConfig      `yaml:"analyzer"`
	Content       ContentConfig       `yaml:"content"`
	Render        RenderConfig        `yaml:"render"`
	Store         StoreConfig         `yaml:"store"`
	Artifact      ArtifactConfig      `yaml:"artifact"`
	Worker        WorkerConfig        `yaml:"worker"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
	AllowedOrigins   []string      `yaml:"allowed_origins"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LLMConfig holds provider selection and call policy.
type LLMConfig struct {
	Provider       string        `yaml:"provider"` // openai or qwen
	OpenAI         OpenAIConfig  `yaml:"openai"`
	Qwen           QwenConfig    `yaml:"qwen"`
	MaxRetries     int           `yaml:"max_retries"`
	Timeout        time.Duration `yaml:"timeout"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	MaxTokens      int           `yaml:"max_tokens"`
}

// OpenAIConfig holds settings for any OpenAI-compatible endpoint.
type OpenAIConfig struct {
	APIKey      string `yaml:"api_key"`
	BaseURL     string `yaml:"base_url"`
	Model       string `yaml:"model"`
	VisionModel string `yaml:"vision_model"`
}

// QwenConfig holds DashScope settings.
type QwenConfig struct {
	APIKey      string `yaml:"api_key"`
	BaseURL     string `yaml:"base_url"`
	Model       string `yaml:"model"`
	VisionModel string `yaml:"vision_model"`
}

// PDFConfig holds upload limits and extraction settings.
type PDFConfig struct {
	MaxFileSize  int64  `yaml:"max_file_size"`
	MaxPages     int    `yaml:"max_pages"`
	RenderImages bool   `yaml:"render_images"`
	MaxImageDim  int    `yaml:"max_image_dim"`
	UploadDir    string `yaml:"upload_dir"`
	TempDir      string `yaml:"temp_dir"`
}

// AnalyzerConfig holds chunking and prompting settings.
type AnalyzerConfig struct {
	PagesPerChunk int  `yaml:"pages_per_chunk"`
	MaxChunkChars int  `yaml:"max_chunk_chars"`
	Concurrency   int  `yaml:"concurrency"`
	UseVision     bool `yaml:"use_vision"`
	KeyInfoChars  int  `yaml:"key_info_chars"`
	SummaryChars  int  `yaml:"summary_chars"`
}

// ContentConfig holds content generation settings.
type ContentConfig struct {
	UseLLM bool `yaml:"use_llm"`
}

// RenderConfig holds note card rendering settings.
type RenderConfig struct {
	Width      int           `yaml:"width"`
	Height     int           `yaml:"height"`
	ChromePath string        `yaml:"chrome_path"`
	Timeout    time.Duration `yaml:"timeout"`
}

// StoreConfig holds task store settings.
type StoreConfig struct {
	Driver   string         `yaml:"driver"` // memory, sqlite, postgres or redis
	MaxTasks int            `yaml:"max_tasks"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
	Redis    RedisConfig    `yaml:"redis"`
}

// SQLiteConfig holds SQLite-specific settings.
type SQLiteConfig struct {
	Path         string `yaml:"path"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	JournalMode  string `yaml:"journal_mode"`
}

// PostgresConfig holds Postgres-specific settings.
type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	PoolSize  int           `yaml:"pool_size"`
	KeyPrefix string        `yaml:"key_prefix"`
	TTL       time.Duration `yaml:"ttl"`
}

// ArtifactConfig holds artifact storage settings.
type ArtifactConfig struct {
	Driver    string      `yaml:"driver"` // local or minio
	OutputDir string      `yaml:"output_dir"`
	Minio     MinioConfig `yaml:"minio"`
}

// MinioConfig holds MinIO / S3 settings.
type MinioConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// WorkerConfig holds background pool settings.
type WorkerConfig struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	ServiceName string `yaml:"service_name"`
}

// Load reads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// LoadDotEnv loads variables from the given .env files (default ".env") into the
// process environment. Missing files are ignored; existing variables win.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// DefaultConfig returns a configuration with sensible defaults for development.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8000,
			ReadTimeout:      60 * time.Second,
			WriteTimeout:     60 * time.Second,
			IdleTimeout:      120 * time.Second,
			GracefulShutdown: 15 * time.Second,
			AllowedOrigins:   []string{"*"},
		},
		LLM: LLMConfig{
			Provider: "openai",
			OpenAI: OpenAIConfig{
				BaseURL:     "https://api.302.ai/v1",
				Model:       "gpt-4o",
				VisionModel: "gpt-4o",
			},
			Qwen: QwenConfig{
				BaseURL:     "https://dashscope.aliyuncs.com/api/v1",
				Model:       "qwen-max",
				VisionModel: "qwen-vl-max",
			},
			MaxRetries:     1,
			Timeout:        120 * time.Second,
			InitialBackoff: 1 * time.Second,
			MaxBackoff:     10 * time.Second,
			MaxTokens:      4000,
		},
		PDF: PDFConfig{
			MaxFileSize:  100 * 1024 * 1024,
			MaxPages:     100,
			RenderImages: false,
			MaxImageDim:  1000,
			UploadDir:    "uploads",
			TempDir:      "temp",
		},
		Analyzer: AnalyzerConfig{
			PagesPerChunk: 5,
			MaxChunkChars: 12000,
			Concurrency:   1,
			UseVision:     false,
			KeyInfoChars:  3000,
			SummaryChars:  2000,
		},
		Content: ContentConfig{
			UseLLM: true,
		},
		Render: RenderConfig{
			Width:   1080,
			Height:  1920,
			Timeout: 30 * time.Second,
		},
		Store: StoreConfig{
			Driver:   "memory",
			MaxTasks: 1000,
			SQLite: SQLiteConfig{
				Path:         "paper-whisperer.db",
				MaxOpenConns: 1,
				JournalMode:  "WAL",
			},
			Postgres: PostgresConfig{
				MaxOpenConns:    10,
				MaxIdleConns:    5,
				ConnMaxLifetime: 5 * time.Minute,
			},
			Redis: RedisConfig{
				Addr:      "localhost:6379",
				PoolSize:  10,
				KeyPrefix: "pw:task:",
				TTL:       7 * 24 * time.Hour,
			},
		},
		Artifact: ArtifactConfig{
			Driver:    "local",
			OutputDir: "outputs",
			Minio: MinioConfig{
				Endpoint: "localhost:9000",
				Bucket:   "paper-whisperer",
				Region:   "us-east-1",
			},
		},
		Worker: WorkerConfig{
			Workers:   2,
			QueueSize: 64,
		},
		Observability: ObservabilityConfig{
			LogLevel:    "info",
			LogFormat:   "json",
			ServiceName: "paper-whisperer",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	switch c.LLM.Provider {
	case "openai", "qwen":
	default:
		return fmt.Errorf("invalid llm provider: %s", c.LLM.Provider)
	}

	if c.LLM.MaxRetries < 0 {
		return fmt.Errorf("llm max_retries must not be negative")
	}

	if c.PDF.MaxFileSize <= 0 {
		return fmt.Errorf("max_file_size must be positive")
	}

	if c.PDF.MaxPages < 1 {
		return fmt.Errorf("max_pages must be at least 1")
	}

	if c.Analyzer.PagesPerChunk < 1 {
		return fmt.Errorf("pages_per_chunk must be at least 1")
	}

	if c.Analyzer.MaxChunkChars < 100 {
		return fmt.Errorf("max_chunk_chars must be at least 100")
	}

	if c.Analyzer.Concurrency < 1 {
		return fmt.Errorf("analyzer concurrency must be at least 1")
	}

	if c.Render.Width < 1 || c.Render.Height < 1 {
		return fmt.Errorf("invalid render size: %dx%d", c.Render.Width, c.Render.Height)
	}

	switch c.Store.Driver {
	case "memory", "sqlite", "redis":
	case "postgres":
		if c.Store.Postgres.DSN == "" {
			return fmt.Errorf("postgres store requires a dsn")
		}
	default:
		return fmt.Errorf("invalid store driver: %s", c.Store.Driver)
	}

	switch c.Artifact.Driver {
	case "local":
	case "minio":
		if c.Artifact.Minio.Endpoint == "" || c.Artifact.Minio.Bucket == "" {
			return fmt.Errorf("minio artifact store requires endpoint and bucket")
		}
	default:
		return fmt.Errorf("invalid artifact driver: %s", c.Artifact.Driver)
	}

	if c.Worker.Workers < 1 {
		return fmt.Errorf("workers must be at least 1")
	}

	if c.Worker.QueueSize < 1 {
		return fmt.Errorf("queue_size must be at least 1")
	}

	return nil
}

// APIKey returns the key of the selected provider.
func (c *Config) APIKey() string {
	if c.LLM.Provider == "qwen" {
		return c.LLM.Qwen.APIKey
	}
	return c.LLM.OpenAI.APIKey
}

// StoreDSN returns the connection string for the SQL store drivers.
func (c *Config) StoreDSN() string {
	if c.Store.Driver == "sqlite" {
		return c.Store.SQLite.Path
	}
	return c.Store.Postgres.DSN
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(cfg *Config) {
	envString("SERVER_HOST", &cfg.Server.Host)
	envInt("SERVER_PORT", &cfg.Server.Port)
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = splitList(v)
	}

	envString("LLM_PROVIDER", &cfg.LLM.Provider)
	envString("OPENAI_API_KEY", &cfg.LLM.OpenAI.APIKey)
	envString("OPENAI_BASE_URL", &cfg.LLM.OpenAI.BaseURL)
	envString("DEFAULT_MODEL", &cfg.LLM.OpenAI.Model)
	envString("DEFAULT_VISION_MODEL", &cfg.LLM.OpenAI.VisionModel)
	envString("QWEN_API_KEY", &cfg.LLM.Qwen.APIKey)
	envString("QWEN_BASE_URL", &cfg.LLM.Qwen.BaseURL)
	envString("QWEN_MODEL", &cfg.LLM.Qwen.VisionModel)
	envString("QWEN_TEXT_MODEL", &cfg.LLM.Qwen.Model)
	envInt("LLM_MAX_RETRIES", &cfg.LLM.MaxRetries)
	envDuration("LLM_TIMEOUT", &cfg.LLM.Timeout)

	envInt64("MAX_FILE_SIZE", &cfg.PDF.MaxFileSize)
	envInt("MAX_PAGES", &cfg.PDF.MaxPages)
	envBool("RENDER_PAGE_IMAGES", &cfg.PDF.RenderImages)
	envString("UPLOAD_DIR", &cfg.PDF.UploadDir)
	envString("TEMP_DIR", &cfg.PDF.TempDir)

	envInt("CHUNK_SIZE", &cfg.Analyzer.PagesPerChunk)
	envInt("ANALYZER_CONCURRENCY", &cfg.Analyzer.Concurrency)
	envBool("USE_VISION", &cfg.Analyzer.UseVision)

	envInt("IMAGE_WIDTH", &cfg.Render.Width)
	envInt("IMAGE_HEIGHT", &cfg.Render.Height)
	envString("CHROME_PATH", &cfg.Render.ChromePath)

	envString("STORE_DRIVER", &cfg.Store.Driver)
	if v := os.Getenv("DATABASE_URL"); v != "" {
		if strings.HasPrefix(v, "sqlite:") {
			cfg.Store.Driver = "sqlite"
			cfg.Store.SQLite.Path = strings.TrimPrefix(v, "sqlite:")
		} else if strings.HasPrefix(v, "postgres") {
			cfg.Store.Driver = "postgres"
			cfg.Store.Postgres.DSN = v
		}
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		// redis://host:port
		cfg.Store.Redis.Addr = strings.TrimPrefix(v, "redis://")
		if os.Getenv("STORE_DRIVER") == "" && os.Getenv("DATABASE_URL") == "" {
			cfg.Store.Driver = "redis"
		}
	}
	envString("REDIS_PASSWORD", &cfg.Store.Redis.Password)

	envString("ARTIFACT_DRIVER", &cfg.Artifact.Driver)
	envString("OUTPUT_DIR", &cfg.Artifact.OutputDir)
	envString("MINIO_ENDPOINT", &cfg.Artifact.Minio.Endpoint)
	envString("MINIO_ACCESS_KEY", &cfg.Artifact.Minio.AccessKey)
	envString("MINIO_SECRET_KEY", &cfg.Artifact.Minio.SecretKey)
	envString("MINIO_BUCKET", &cfg.Artifact.Minio.Bucket)
	envString("MINIO_REGION", &cfg.Artifact.Minio.Region)
	envBool("MINIO_USE_SSL", &cfg.Artifact.Minio.UseSSL)

	envInt("WORKERS", &cfg.Worker.Workers)
	envInt("QUEUE_SIZE", &cfg.Worker.QueueSize)

	envString("LOG_LEVEL", &cfg.Observability.LogLevel)
	envString("LOG_FORMAT", &cfg.Observability.LogFormat)
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			*dst = n
		}
	}
}

func envInt64(key string, dst *int64) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			*dst = b
		}
	}
}

// envDuration accepts Go durations ("90s") or a bare number of seconds.
func envDuration(key string, dst *time.Duration) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(n) * time.Second
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ResolveRelativePath resolves a path relative to the config file location.
func ResolveRelativePath(configPath, targetPath string) string {
	if filepath.IsAbs(targetPath) || configPath == "" {
		return targetPath
	}
	return filepath.Join(filepath.Dir(configPath), targetPath)
}
