package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/narration-api/internal/provider"
)

// unsetEnv clears a variable for the duration of the test.
func unsetEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
}

func TestLoad_Defaults(t *testing.T) {
	unsetEnv(t, "PORT", "TEMP_DIR", "MAX_CONCURRENT_SEGMENTS", "PROVIDER_BACKENDS", "DATABASE_PATH", "LOG_FORMAT", "LOG_LEVEL")

	cfg, err := LoadFrom("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "/tmp/narration", cfg.TempDir)
	assert.Equal(t, "/tmp/narration/output", cfg.OutputDir)
	assert.Empty(t, cfg.DatabasePath)
	assert.Equal(t, 3, cfg.MaxConcurrentSegments)
	assert.Equal(t, 3, cfg.MaxSegmentRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.RetryBaseBackoff)
	assert.Equal(t, 10*time.Second, cfg.RetryMaxBackoff)
	assert.Equal(t, 2, cfg.MaxConcurrentMerges)
	assert.Equal(t, 5000, cfg.MaxSegmentSize)
	assert.Equal(t, 100, cfg.MinSegmentSize)
	assert.Equal(t, "mp3", cfg.OutputFormat)
	assert.Equal(t, 128, cfg.AudioBitrateKbps)
	assert.InDelta(t, 0.1, cfg.PreferredBonus, 1e-9)
	assert.Equal(t, "USD", cfg.Currency)
	assert.Equal(t, "none", cfg.TraceExporter)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, BackendMock, cfg.BackendFor("openai"))
}

func TestLoad_CustomValues(t *testing.T) {
	t.Setenv("PORT", "3000")
	t.Setenv("TEMP_DIR", "/custom/temp")
	t.Setenv("MAX_CONCURRENT_SEGMENTS", "5")
	t.Setenv("RETRY_BASE_BACKOFF", "2s")
	t.Setenv("ENABLED_PROVIDERS", "openai,polly")
	t.Setenv("PROVIDER_BACKENDS", "openai:http,polly:mock")
	t.Setenv("SYNTH_HTTP_BASE_URL", "http://tts.internal")
	t.Setenv("S3_BUCKET", "my-bucket")
	t.Setenv("S3_REGION", "us-east-1")
	t.Setenv("AWS_ACCESS_KEY_ID", "access-key")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "secret-key")
	t.Setenv("NATS_EMBEDDED", "true")
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := LoadFrom("")
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Port)
	assert.Equal(t, "/custom/temp", cfg.TempDir)
	assert.Equal(t, 5, cfg.MaxConcurrentSegments)
	assert.Equal(t, 2*time.Second, cfg.RetryBaseBackoff)
	assert.Equal(t, []string{"openai", "polly"}, cfg.EnabledProviders)
	assert.Equal(t, BackendHTTP, cfg.BackendFor("openai"))
	assert.Equal(t, BackendMock, cfg.BackendFor("polly"))
	assert.Equal(t, BackendMock, cfg.BackendFor("google"))
	assert.True(t, cfg.S3Enabled())
	assert.True(t, cfg.NATSEnabled())
	assert.Equal(t, "access-key", cfg.AWSAccessKeyID)
	assert.Equal(t, "secret-key", cfg.AWSSecretAccessKey)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_InvalidInteger(t *testing.T) {
	t.Setenv("PORT", "not-a-number")

	// go-envconfig returns an error when parsing fails
	_, err := LoadFrom("")
	require.Error(t, err)
}

func TestLoad_DotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("PORT=9090\nLOG_LEVEL=warn\n"), 0o600))

	unsetEnv(t, "PORT")
	t.Setenv("LOG_LEVEL", "error")

	cfg, err := LoadFrom(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "error", cfg.LogLevel, "environment wins over .env")
}

func TestLoad_MissingDotEnvIgnored(t *testing.T) {
	_, err := LoadFrom(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		return &Config{CostPerCredit: "0.01", MinSegmentSize: 100, MaxSegmentSize: 5000}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"valid config", func(*Config) {}, nil},
		{"zero cost per credit", func(c *Config) { c.CostPerCredit = "0" }, ErrInvalidCostPerCredit},
		{"malformed cost per credit", func(c *Config) { c.CostPerCredit = "cheap" }, ErrInvalidCostPerCredit},
		{"min not below max", func(c *Config) { c.MinSegmentSize = 5000 }, ErrInvalidSegmentSizes},
		{"unknown backend", func(c *Config) { c.ProviderBackends = map[string]string{"openai": "carrier-pigeon"} }, ErrUnknownBackend},
		{"http without base url", func(c *Config) { c.ProviderBackends = map[string]string{"openai": "http"} }, ErrSynthHTTPBaseURLRequired},
		{"exec without command", func(c *Config) { c.ProviderBackends = map[string]string{"local": "exec"} }, ErrSynthExecCommandRequired},
		{"yandex without credentials", func(c *Config) {
			c.ProviderBackends = map[string]string{"yandex": "yandex"}
			c.YandexAPIKey = "key"
		}, ErrYandexCredentialsRequired},
		{"backends satisfied", func(c *Config) {
			c.ProviderBackends = map[string]string{"openai": "HTTP", "local": "exec", "yandex": "yandex"}
			c.SynthHTTPBaseURL = "http://tts"
			c.SynthExecCommand = "piper"
			c.YandexAPIKey = "key"
			c.YandexFolderID = "folder"
		}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestConfig_CostPerCreditDecimal(t *testing.T) {
	cfg := &Config{CostPerCredit: " 0.02 "}
	d, err := cfg.CostPerCreditDecimal()
	require.NoError(t, err)
	assert.True(t, d.Equal(decimal.RequireFromString("0.02")))
}

func TestConfig_S3Enabled(t *testing.T) {
	tests := []struct {
		name     string
		bucket   string
		region   string
		expected bool
	}{
		{"both set", "bucket", "region", true},
		{"only bucket", "bucket", "", false},
		{"only region", "", "region", false},
		{"neither set", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				S3Bucket: tt.bucket,
				S3Region: tt.region,
			}
			assert.Equal(t, tt.expected, cfg.S3Enabled())
		})
	}
}

func TestConfig_String(t *testing.T) {
	cfg := &Config{
		Port:               8080,
		TempDir:            "/tmp/test",
		SynthHTTPAPIKey:    "secret-key",
		YandexAPIKey:       "yandex-secret",
		AWSSecretAccessKey: "aws-secret",
		S3Bucket:           "bucket",
		S3Region:           "region",
		LogFormat:          "json",
		LogLevel:           "info",
	}

	str := cfg.String()

	// Should contain non-sensitive values
	assert.Contains(t, str, "8080")
	assert.Contains(t, str, "/tmp/test")
	assert.Contains(t, str, "bucket")

	// Should NOT contain sensitive values
	assert.NotContains(t, str, "secret-key")
	assert.NotContains(t, str, "yandex-secret")
	assert.NotContains(t, str, "aws-secret")
}

func TestConfig_NewLogger(t *testing.T) {
	for _, format := range []string{"json", "text"} {
		cfg := &Config{LogFormat: format, LogLevel: "debug"}
		logger := cfg.NewLogger()
		require.NotNil(t, logger)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo}, // defaults to info
		{"", slog.LevelInfo},        // defaults to info
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLogLevel(tt.input))
		})
	}
}

func TestParseProviderTable(t *testing.T) {
	data := []byte(`
providers:
  - id: openai
    cost_per_thousand_chars: "0.020"
    avg_latency_ms: 450
    quality_rating: 0.9
  - id: acme
    cost_per_thousand_chars: "0.005"
    avg_latency_ms: 200
    quality_rating: 0.5
rates:
  providers:
    polly: "0.0045"
  voices:
    rachel: "0.35"
voices:
  - id: oracle
    name: Oracle
    preset: calm
    exclusive: acme
    provider_voices:
      acme: oracle-v2
`)

	table, err := ParseProviderTable(data)
	require.NoError(t, err)

	require.Len(t, table.Providers, 2)
	assert.Equal(t, provider.OpenAI, table.Providers[0].ID)
	assert.True(t, table.Providers[0].Characteristics.CostPerThousandChars.Equal(decimal.RequireFromString("0.02")))
	assert.Equal(t, 450, table.Providers[0].Characteristics.AvgLatencyMs)
	assert.Equal(t, provider.ID("acme"), table.Providers[1].ID)

	assert.True(t, table.ProviderRates[provider.Polly].Equal(decimal.RequireFromString("0.0045")))
	assert.True(t, table.VoiceRates["rachel"].Equal(decimal.RequireFromString("0.35")))

	require.Len(t, table.Voices, 1)
	v := table.Voices[0]
	assert.Equal(t, "oracle", v.ID)
	assert.Equal(t, provider.PresetCalm, v.Preset)
	assert.Equal(t, provider.ID("acme"), v.Lock())
	assert.Equal(t, "oracle-v2", v.VendorVoice("acme"))

	catalog, err := provider.NewCatalog(table.Providers...)
	require.NoError(t, err)
	assert.True(t, catalog.Has("acme"))
}

func TestParseProviderTable_Errors(t *testing.T) {
	tests := map[string]string{
		"bad yaml":          "providers: [",
		"missing id":        "providers:\n  - cost_per_thousand_chars: \"0.1\"\n",
		"bad cost":          "providers:\n  - id: x\n    cost_per_thousand_chars: cheap\n",
		"bad provider rate": "rates:\n  providers:\n    openai: free\n",
		"bad voice rate":    "rates:\n  voices:\n    rachel: free\n",
		"voice without id":  "voices:\n  - name: Nobody\n",
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseProviderTable([]byte(data))
			assert.Error(t, err)
		})
	}
}

func TestLoadProviderTable_MissingFile(t *testing.T) {
	_, err := LoadProviderTable(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
