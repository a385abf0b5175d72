// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
	"github.com/shopspring/decimal"
)

// Synthesizer backends a provider can be served by.
const (
	BackendMock   = "mock"
	BackendHTTP   = "http"
	BackendExec   = "exec"
	BackendYandex = "yandex"
)

// Static errors for configuration validation.
var (
	// ErrUnknownBackend is returned when PROVIDER_BACKENDS names an unsupported backend.
	ErrUnknownBackend = errors.New("config: unknown synthesizer backend")
	// ErrSynthHTTPBaseURLRequired is returned when a provider uses the http backend without SYNTH_HTTP_BASE_URL.
	ErrSynthHTTPBaseURLRequired = errors.New("config: SYNTH_HTTP_BASE_URL is required for the http backend")
	// ErrSynthExecCommandRequired is returned when a provider uses the exec backend without SYNTH_EXEC_COMMAND.
	ErrSynthExecCommandRequired = errors.New("config: SYNTH_EXEC_COMMAND is required for the exec backend")
	// ErrYandexCredentialsRequired is returned when the yandex backend lacks YANDEX_API_KEY or YANDEX_FOLDER_ID.
	ErrYandexCredentialsRequired = errors.New("config: YANDEX_API_KEY and YANDEX_FOLDER_ID are required for the yandex backend")
	// ErrInvalidCostPerCredit is returned when COST_PER_CREDIT is not a positive decimal.
	ErrInvalidCostPerCredit = errors.New("config: COST_PER_CREDIT must be a positive decimal")
	// ErrInvalidSegmentSizes is returned when MIN_SEGMENT_SIZE is not below MAX_SEGMENT_SIZE.
	ErrInvalidSegmentSizes = errors.New("config: MIN_SEGMENT_SIZE must be smaller than MAX_SEGMENT_SIZE")
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port        int    `env:"PORT, default=8080" json:"port"`
	Environment string `env:"ENVIRONMENT, default=development" json:"environment"`

	// Storage settings
	TempDir      string `env:"TEMP_DIR, default=/tmp/narration" json:"temp_dir"`
	OutputDir    string `env:"OUTPUT_DIR, default=/tmp/narration/output" json:"output_dir"`
	DatabasePath string `env:"DATABASE_PATH" json:"database_path,omitempty"` // empty selects the in-memory store

	// Orchestration settings
	MaxConcurrentSegments int           `env:"MAX_CONCURRENT_SEGMENTS, default=3" json:"max_concurrent_segments"`
	MaxSegmentRetries     int           `env:"MAX_SEGMENT_RETRIES, default=3" json:"max_segment_retries"`
	RetryBaseBackoff      time.Duration `env:"RETRY_BASE_BACKOFF, default=500ms" json:"retry_base_backoff"`
	RetryMaxBackoff       time.Duration `env:"RETRY_MAX_BACKOFF, default=10s" json:"retry_max_backoff"`
	MaxConcurrentMerges   int           `env:"MAX_CONCURRENT_MERGES, default=2" json:"max_concurrent_merges"`

	// Chunking settings
	MaxSegmentSize int `env:"MAX_SEGMENT_SIZE, default=5000" json:"max_segment_size"`
	MinSegmentSize int `env:"MIN_SEGMENT_SIZE, default=100" json:"min_segment_size"`

	// Audio settings
	SilenceBetweenSegmentsMs int    `env:"SILENCE_BETWEEN_SEGMENTS_MS, default=0" json:"silence_between_segments_ms"`
	OutputFormat             string `env:"OUTPUT_FORMAT, default=mp3" json:"output_format"`
	AudioBitrateKbps         int    `env:"AUDIO_BITRATE_KBPS, default=128" json:"audio_bitrate_kbps"`
	FFmpegPath               string `env:"FFMPEG_PATH, default=ffmpeg" json:"ffmpeg_path"`
	FFprobePath              string `env:"FFPROBE_PATH, default=ffprobe" json:"ffprobe_path"`

	// Routing and pricing settings
	PreferredBonus float64 `env:"PREFERRED_BONUS, default=0.1" json:"preferred_bonus"`
	CostPerCredit  string  `env:"COST_PER_CREDIT, default=0.01" json:"cost_per_credit"`
	Currency       string  `env:"CURRENCY, default=USD" json:"currency"`
	ProvidersFile  string  `env:"PROVIDERS_FILE" json:"providers_file,omitempty"`

	// Provider settings
	EnabledProviders []string          `env:"ENABLED_PROVIDERS" json:"enabled_providers,omitempty"` // empty enables every catalog provider
	ProviderBackends map[string]string `env:"PROVIDER_BACKENDS" json:"provider_backends,omitempty"` // provider:backend pairs, default mock
	MockLatency      time.Duration     `env:"MOCK_LATENCY, default=0s" json:"mock_latency"`

	SynthHTTPBaseURL string `env:"SYNTH_HTTP_BASE_URL" json:"synth_http_base_url,omitempty"`
	SynthHTTPAPIKey  string `env:"SYNTH_HTTP_API_KEY" json:"-"` // Masked in JSON

	SynthExecCommand    string `env:"SYNTH_EXEC_COMMAND" json:"synth_exec_command,omitempty"`
	SynthExecSampleRate int    `env:"SYNTH_EXEC_SAMPLE_RATE, default=22050" json:"synth_exec_sample_rate"`

	YandexAPIKey   string `env:"YANDEX_API_KEY" json:"-"` // Masked in JSON
	YandexFolderID string `env:"YANDEX_FOLDER_ID" json:"yandex_folder_id,omitempty"`
	YandexEndpoint string `env:"YANDEX_ENDPOINT" json:"yandex_endpoint,omitempty"`
	YandexModel    string `env:"YANDEX_MODEL" json:"yandex_model,omitempty"`

	// Notification settings
	NATSURL      string `env:"NATS_URL" json:"nats_url,omitempty"`
	NATSEmbedded bool   `env:"NATS_EMBEDDED, default=false" json:"nats_embedded"`
	NATSPort     int    `env:"NATS_PORT, default=4222" json:"nats_port"`
	NATSStoreDir string `env:"NATS_STORE_DIR" json:"nats_store_dir,omitempty"`

	// Telemetry settings
	TraceExporter string `env:"TRACE_EXPORTER, default=none" json:"trace_exporter"` // "none", "stdout" or "otlp"
	OTLPEndpoint  string `env:"OTLP_ENDPOINT" json:"otlp_endpoint,omitempty"`
	OTLPInsecure  bool   `env:"OTLP_INSECURE, default=true" json:"otlp_insecure"`

	// Optional S3 settings
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	S3PublicBaseURL    string `env:"S3_PUBLIC_BASE_URL" json:"s3_public_base_url,omitempty"`
	S3KeyPrefix        string `env:"S3_KEY_PREFIX" json:"s3_key_prefix,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// NATSEnabled returns true if events should be published on NATS.
func (c *Config) NATSEnabled() bool {
	return c.NATSURL != "" || c.NATSEmbedded
}

// BackendFor returns the synthesizer backend configured for a provider.
func (c *Config) BackendFor(providerID string) string {
	if b, ok := c.ProviderBackends[providerID]; ok && b != "" {
		return strings.ToLower(b)
	}
	return BackendMock
}

// CostPerCreditDecimal returns COST_PER_CREDIT as a decimal.
func (c *Config) CostPerCreditDecimal() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(c.CostPerCredit))
	if err != nil || !d.IsPositive() {
		return decimal.Zero, ErrInvalidCostPerCredit
	}
	return d, nil
}

// Load reads configuration from environment variables using go-envconfig.
// A .env file in the working directory is applied first when present;
// variables already set in the environment win.
func Load() (*Config, error) {
	return LoadFrom(".env")
}

// LoadFrom is Load with an explicit dotenv path.
func LoadFrom(dotenvPath string) (*Config, error) {
	if dotenvPath != "" {
		if err := godotenv.Load(dotenvPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config: load %s: %w", dotenvPath, err)
		}
	}

	cfg := &Config{}
	if err := envconfig.Process(context.Background(), cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is consistent.
func (c *Config) Validate() error {
	if _, err := c.CostPerCreditDecimal(); err != nil {
		return err
	}
	if c.MinSegmentSize >= c.MaxSegmentSize {
		return ErrInvalidSegmentSizes
	}

	for id, backend := range c.ProviderBackends {
		switch strings.ToLower(backend) {
		case BackendMock:
		case BackendHTTP:
			if c.SynthHTTPBaseURL == "" {
				return ErrSynthHTTPBaseURLRequired
			}
		case BackendExec:
			if c.SynthExecCommand == "" {
				return ErrSynthExecCommandRequired
			}
		case BackendYandex:
			if c.YandexAPIKey == "" || c.YandexFolderID == "" {
				return ErrYandexCredentialsRequired
			}
		default:
			return fmt.Errorf("%w: %s for provider %s", ErrUnknownBackend, backend, id)
		}
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, TempDir: %s, OutputDir: %s, DatabasePath: %s, MaxConcurrentSegments: %d, MaxSegmentRetries: %d, "+
			"MaxSegmentSize: %d, OutputFormat: %s, ProviderBackends: %v, NATSURL: %s, NATSEmbedded: %t, "+
			"S3Bucket: %s, S3Region: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.TempDir,
		c.OutputDir,
		c.DatabasePath,
		c.MaxConcurrentSegments,
		c.MaxSegmentRetries,
		c.MaxSegmentSize,
		c.OutputFormat,
		c.ProviderBackends,
		c.NATSURL,
		c.NATSEmbedded,
		c.S3Bucket,
		c.S3Region,
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
