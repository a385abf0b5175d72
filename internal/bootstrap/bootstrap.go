// Package bootstrap provides dependency initialization for the narration API.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maauso/narration-api/internal/audio"
	"github.com/maauso/narration-api/internal/chunker"
	"github.com/maauso/narration-api/internal/config"
	"github.com/maauso/narration-api/internal/generation"
	"github.com/maauso/narration-api/internal/natsserver"
	"github.com/maauso/narration-api/internal/notify"
	"github.com/maauso/narration-api/internal/pricing"
	"github.com/maauso/narration-api/internal/provider"
	"github.com/maauso/narration-api/internal/router"
	"github.com/maauso/narration-api/internal/storage"
	"github.com/maauso/narration-api/internal/store"
	"github.com/maauso/narration-api/internal/synth/execsynth"
	"github.com/maauso/narration-api/internal/synth/httpsynth"
	synthmock "github.com/maauso/narration-api/internal/synth/mock"
	"github.com/maauso/narration-api/internal/synth/yandex"
	"github.com/maauso/narration-api/internal/telemetry"
)

const natsConnectTimeout = 5 * time.Second

// ErrUnknownProvider is returned when ENABLED_PROVIDERS names a provider the
// catalog does not know.
var ErrUnknownProvider = errors.New("bootstrap: unknown provider")

// ErrNATSDisconnected is reported by the NATS health check.
var ErrNATSDisconnected = errors.New("nats: not connected")

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	GenerationService *generation.Service
	Telemetry         *telemetry.Telemetry
	// HealthChecks are the dependency checks exposed on GET /health.
	HealthChecks map[string]func(context.Context) error

	closers []func(context.Context) error
}

// NewDependencies creates and initializes all dependencies for the application.
// On failure everything opened so far is closed again.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (deps *Dependencies, err error) {
	deps = &Dependencies{HealthChecks: make(map[string]func(context.Context) error)}
	defer func() {
		if err != nil {
			_ = deps.Close(context.WithoutCancel(ctx))
			deps = nil
		}
	}()

	tel, err := telemetry.Setup(ctx, telemetry.Config{
		Environment:   cfg.Environment,
		TraceExporter: cfg.TraceExporter,
		OTLPEndpoint:  cfg.OTLPEndpoint,
		OTLPInsecure:  cfg.OTLPInsecure,
	}, logger)
	if err != nil {
		return deps, fmt.Errorf("setup telemetry: %w", err)
	}
	deps.Telemetry = tel
	deps.onClose(tel.Shutdown)

	catalog, voices, pricingCfg, err := initCatalog(cfg, logger)
	if err != nil {
		return deps, err
	}

	registry, err := deps.initRegistry(cfg, catalog, logger)
	if err != nil {
		return deps, err
	}

	audioStore, err := initStorage(cfg, logger)
	if err != nil {
		return deps, err
	}

	jobs, segments, err := deps.initStores(ctx, cfg, logger)
	if err != nil {
		return deps, err
	}

	notifier, err := deps.initNotifier(cfg, logger)
	if err != nil {
		return deps, err
	}

	merger := audio.NewMerger(audio.NewFFmpegEncoder(cfg.FFmpegPath, cfg.FFprobePath), cfg.TempDir, logger)

	chunkOpts := chunker.DefaultOptions()
	chunkOpts.MaxSegmentSize = cfg.MaxSegmentSize
	chunkOpts.MinSegmentSize = cfg.MinSegmentSize

	svc, err := generation.NewService(generation.Dependencies{
		Jobs:     jobs,
		Segments: segments,
		Catalog:  catalog,
		Registry: registry,
		Voices:   voices,
		Router:   router.New(catalog, router.WithPreferredBonus(cfg.PreferredBonus)),
		Pricer:   pricing.New(catalog, pricingCfg),
		Merger:   merger,
		Storage:  audioStore,
		Notifier: notifier,
	}, logger,
		generation.WithMaxConcurrentSegments(cfg.MaxConcurrentSegments),
		generation.WithMaxSegmentRetries(cfg.MaxSegmentRetries),
		generation.WithRetryBackoff(cfg.RetryBaseBackoff, cfg.RetryMaxBackoff),
		generation.WithMaxConcurrentMerges(cfg.MaxConcurrentMerges),
		generation.WithChunkOptions(chunkOpts),
		generation.WithMergeOptions(audio.MergeOptions{
			OutputFormat:             cfg.OutputFormat,
			SilenceBetweenSegmentsMs: cfg.SilenceBetweenSegmentsMs,
			BitrateKbps:              cfg.AudioBitrateKbps,
		}),
	)
	if err != nil {
		return deps, fmt.Errorf("create generation service: %w", err)
	}
	deps.GenerationService = svc

	return deps, nil
}

// Close releases resources in reverse order of acquisition.
func (d *Dependencies) Close(ctx context.Context) error {
	if d == nil {
		return nil
	}
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}

func (d *Dependencies) onClose(fn func(context.Context) error) {
	d.closers = append(d.closers, fn)
}

// initCatalog builds the provider catalog, the voice catalog and the pricing
// configuration, applying PROVIDERS_FILE when set.
func initCatalog(cfg *config.Config, logger *slog.Logger) (*provider.Catalog, *provider.VoiceCatalog, pricing.Config, error) {
	costPerCredit, err := cfg.CostPerCreditDecimal()
	if err != nil {
		return nil, nil, pricing.Config{}, err
	}
	pricingCfg := pricing.DefaultConfig()
	pricingCfg.Currency = cfg.Currency
	pricingCfg.CostPerCredit = costPerCredit

	voices := provider.DefaultVoices()
	var overrides []provider.Entry

	if cfg.ProvidersFile != "" {
		table, err := config.LoadProviderTable(cfg.ProvidersFile)
		if err != nil {
			return nil, nil, pricing.Config{}, err
		}
		overrides = table.Providers
		voices = append(voices, table.Voices...)
		pricingCfg.ProviderRates = table.ProviderRates
		pricingCfg.VoiceRates = table.VoiceRates
		logger.Info("provider table loaded",
			slog.String("path", cfg.ProvidersFile),
			slog.Int("providers", len(table.Providers)),
			slog.Int("voices", len(table.Voices)),
		)
	}

	catalog, err := provider.NewCatalog(overrides...)
	if err != nil {
		return nil, nil, pricing.Config{}, fmt.Errorf("build provider catalog: %w", err)
	}
	return catalog, provider.NewVoiceCatalog(voices), pricingCfg, nil
}

// initRegistry registers a synthesizer for every enabled provider using the
// backend configured for it.
func (d *Dependencies) initRegistry(cfg *config.Config, catalog *provider.Catalog, logger *slog.Logger) (*provider.Registry, error) {
	enabled := catalog.Providers()
	if len(cfg.EnabledProviders) > 0 {
		enabled = make([]provider.ID, 0, len(cfg.EnabledProviders))
		for _, name := range cfg.EnabledProviders {
			id := provider.ID(name)
			if !catalog.Has(id) {
				return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
			}
			enabled = append(enabled, id)
		}
	}

	registry := provider.NewRegistry()
	for _, id := range enabled {
		synth, err := d.newSynthesizer(cfg, id)
		if err != nil {
			return nil, fmt.Errorf("create synthesizer for %s: %w", id, err)
		}
		registry.Register(id, synth)
		logger.Info("synthesizer registered",
			slog.String("provider", string(id)),
			slog.String("backend", cfg.BackendFor(string(id))),
		)
	}
	return registry, nil
}

func (d *Dependencies) newSynthesizer(cfg *config.Config, id provider.ID) (provider.Synthesizer, error) {
	switch backend := cfg.BackendFor(string(id)); backend {
	case config.BackendMock:
		return synthmock.New(id, synthmock.WithLatency(cfg.MockLatency)), nil
	case config.BackendHTTP:
		return httpsynth.NewClient(id, cfg.SynthHTTPBaseURL, httpsynth.WithAPIKey(cfg.SynthHTTPAPIKey))
	case config.BackendExec:
		return execsynth.New(execsynth.Config{
			Command:    cfg.SynthExecCommand,
			SampleRate: cfg.SynthExecSampleRate,
		})
	case config.BackendYandex:
		s, err := yandex.New(yandex.Config{
			APIKey:   cfg.YandexAPIKey,
			FolderID: cfg.YandexFolderID,
			Endpoint: cfg.YandexEndpoint,
			Model:    cfg.YandexModel,
		})
		if err != nil {
			return nil, err
		}
		d.onClose(func(context.Context) error { return s.Close() })
		return s, nil
	default:
		return nil, fmt.Errorf("%w: %s", config.ErrUnknownBackend, backend)
	}
}

// initStorage creates the appropriate storage backend based on configuration.
func initStorage(cfg *config.Config, logger *slog.Logger) (generation.AudioStorage, error) {
	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
			PublicBaseURL:   cfg.S3PublicBaseURL,
			KeyPrefix:       cfg.S3KeyPrefix,
		}
		s3Store, err := storage.NewS3Storage(cfg.TempDir, s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 storage configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
		return s3Store, nil
	}

	localStore, err := storage.NewLocalStorage(cfg.TempDir, cfg.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}
	logger.Info("local storage configured",
		slog.String("temp_dir", cfg.TempDir),
		slog.String("output_dir", localStore.OutputDir()),
	)
	return localStore, nil
}

// initStores opens SQLite when DATABASE_PATH is set and falls back to memory.
func (d *Dependencies) initStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (generation.JobStore, generation.SegmentStore, error) {
	if cfg.DatabasePath == "" {
		logger.Info("in-memory generation store configured")
		mem := generation.NewMemoryStore()
		return mem, mem, nil
	}

	db, err := store.OpenSQLite(ctx, cfg.DatabasePath, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("open sqlite store: %w", err)
	}
	d.onClose(func(context.Context) error { return db.Close() })
	d.HealthChecks["database"] = db.Ping
	return db, db, nil
}

// initNotifier always logs events and also publishes them on NATS when enabled.
func (d *Dependencies) initNotifier(cfg *config.Config, logger *slog.Logger) (notify.Notifier, error) {
	logNotifier := notify.NewLogNotifier(logger)
	if !cfg.NATSEnabled() {
		return logNotifier, nil
	}

	url := cfg.NATSURL
	if cfg.NATSEmbedded {
		ns, err := natsserver.Start(natsserver.Options{
			Port:     cfg.NATSPort,
			StoreDir: cfg.NATSStoreDir,
		}, logger)
		if err != nil {
			return nil, err
		}
		d.onClose(func(context.Context) error {
			ns.Shutdown()
			return nil
		})
		url = ns.ClientURL()
	}

	nn, err := notify.ConnectNATS(url, natsConnectTimeout, logger)
	if err != nil {
		return nil, err
	}
	d.onClose(func(context.Context) error {
		nn.Close()
		return nil
	})
	d.HealthChecks["nats"] = func(context.Context) error {
		if !nn.Healthy() {
			return ErrNATSDisconnected
		}
		return nil
	}

	return notify.Multi{logNotifier, nn}, nil
}
