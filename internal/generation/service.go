package generation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/maauso/narration-api/internal/audio"
	"github.com/maauso/narration-api/internal/chunker"
	"github.com/maauso/narration-api/internal/notify"
	"github.com/maauso/narration-api/internal/pricing"
	"github.com/maauso/narration-api/internal/provider"
	"github.com/maauso/narration-api/internal/router"
)

// Static errors for the generation workflow.
var (
	// ErrInvalidInput is returned when a request is rejected before a job exists.
	ErrInvalidInput = errors.New("invalid generation input")
	// ErrNotPending is returned when Process is called on a job that already left PENDING.
	ErrNotPending = errors.New("generation is not pending")
	// ErrAlreadyRunning is returned when Process is called twice for the same job.
	ErrAlreadyRunning = errors.New("generation is already running")
	// ErrAlreadyTerminal is returned when cancelling a finished job.
	ErrAlreadyTerminal = errors.New("generation already finished")
	// ErrCancelled is returned by Process when the job was cancelled while running.
	ErrCancelled = errors.New("generation cancelled")
	// ErrSegmentFailed is returned when a segment exhausts its retries.
	ErrSegmentFailed = errors.New("segment synthesis failed")
	// ErrNoSegments is returned when chunking yields nothing.
	ErrNoSegments = errors.New("chunking produced no segments")
	// ErrMissingDependency is returned by NewService when a collaborator is nil.
	ErrMissingDependency = errors.New("generation: missing dependency")
)

// Defaults for Service options.
const (
	DefaultMaxConcurrentSegments = 3
	DefaultMaxSegmentRetries     = 3
	DefaultRetryBaseBackoff      = 500 * time.Millisecond
	DefaultRetryMaxBackoff       = 10 * time.Second
	DefaultMaxConcurrentMerges   = 2
)

// Merger combines segment audio in order.
type Merger interface {
	Merge(ctx context.Context, segments [][]byte, opts audio.MergeOptions) (*audio.MergeResult, error)
}

// AudioStorage persists the final audio and returns its location.
type AudioStorage interface {
	SaveAudio(ctx context.Context, key, contentType string, data io.Reader) (string, error)
}

// Dependencies are the collaborators of a Service. All are required.
type Dependencies struct {
	Jobs     JobStore
	Segments SegmentStore
	Catalog  *provider.Catalog
	Registry *provider.Registry
	Voices   *provider.VoiceCatalog
	Router   *router.Router
	Pricer   *pricing.Pricer
	Merger   Merger
	Storage  AudioStorage
	Notifier notify.Notifier
}

func (d Dependencies) validate() error {
	checks := []struct {
		name    string
		missing bool
	}{
		{"jobs", d.Jobs == nil},
		{"segments", d.Segments == nil},
		{"catalog", d.Catalog == nil},
		{"registry", d.Registry == nil},
		{"voices", d.Voices == nil},
		{"router", d.Router == nil},
		{"pricer", d.Pricer == nil},
		{"merger", d.Merger == nil},
		{"storage", d.Storage == nil},
	}
	for _, c := range checks {
		if c.missing {
			return fmt.Errorf("%w: %s", ErrMissingDependency, c.name)
		}
	}
	return nil
}

// Option configures a Service.
type Option func(*Service)

// WithMaxConcurrentSegments bounds parallel synthesis calls per job.
func WithMaxConcurrentSegments(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxConcurrentSegments = n
		}
	}
}

// WithMaxSegmentRetries sets how many failed attempts make a segment fail permanently.
func WithMaxSegmentRetries(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxSegmentRetries = n
		}
	}
}

// WithRetryBackoff sets the exponential backoff between segment attempts.
func WithRetryBackoff(base, maxInterval time.Duration) Option {
	return func(s *Service) {
		if base > 0 {
			s.retryBaseBackoff = base
		}
		if maxInterval >= s.retryBaseBackoff {
			s.retryMaxBackoff = maxInterval
		}
	}
}

// WithMaxConcurrentMerges sets the number of merge slots shared by all jobs.
func WithMaxConcurrentMerges(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxConcurrentMerges = n
		}
	}
}

// WithMergeOptions sets the merge defaults. OutputFormat is the default
// format for jobs that do not request one.
func WithMergeOptions(opts audio.MergeOptions) Option {
	return func(s *Service) {
		s.mergeOpts = opts
	}
}

// WithChunkOptions sets the chunking options applied to every job.
func WithChunkOptions(opts chunker.Options) Option {
	return func(s *Service) {
		s.chunkOpts = opts
	}
}

// CreateInput is a request for a new generation.
type CreateInput struct {
	UserID            string
	Text              string
	VoiceID           string
	Preference        router.Preference
	PreferredProvider provider.ID
	OutputFormat      string
}

// QuoteInput is a request for a price before a job is created.
type QuoteInput struct {
	Text              string
	VoiceID           string
	Preference        router.Preference
	PreferredProvider provider.ID
}

// Quote prices a text without creating a job.
type Quote struct {
	// VoiceID is the resolved voice; the default voice when none was requested.
	VoiceID string
	// Preference is the resolved routing preference.
	Preference        router.Preference
	CharacterCount    int
	EstimatedSegments int
	Decision          router.Decision
	Estimate          pricing.Estimate
	Alternatives      []pricing.Estimate
}

// Service orchestrates generations: chunking, per-segment routing and
// synthesis with retries, ordered merging, storage and pricing.
type Service struct {
	jobs     JobStore
	segments SegmentStore
	catalog  *provider.Catalog
	registry *provider.Registry
	voices   *provider.VoiceCatalog
	router   *router.Router
	pricer   *pricing.Pricer
	merger   Merger
	storage  AudioStorage
	notifier *notify.BestEffort
	logger   *slog.Logger

	chunkOpts             chunker.Options
	mergeOpts             audio.MergeOptions
	maxConcurrentSegments int
	maxSegmentRetries     int
	retryBaseBackoff      time.Duration
	retryMaxBackoff       time.Duration
	maxConcurrentMerges   int
	mergeSlots            *semaphore.Weighted

	tracer  trace.Tracer
	metrics *instruments

	mu   sync.Mutex
	runs map[string]*run
}

// NewService creates a Service.
func NewService(deps Dependencies, logger *slog.Logger, opts ...Option) (*Service, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Service{
		jobs:                  deps.Jobs,
		segments:              deps.Segments,
		catalog:               deps.Catalog,
		registry:              deps.Registry,
		voices:                deps.Voices,
		router:                deps.Router,
		pricer:                deps.Pricer,
		merger:                deps.Merger,
		storage:               deps.Storage,
		notifier:              notify.NewBestEffort(deps.Notifier, logger),
		logger:                logger,
		chunkOpts:             chunker.DefaultOptions(),
		mergeOpts:             audio.MergeOptions{OutputFormat: audio.DefaultFormat, BitrateKbps: audio.DefaultBitrateKbps},
		maxConcurrentSegments: DefaultMaxConcurrentSegments,
		maxSegmentRetries:     DefaultMaxSegmentRetries,
		retryBaseBackoff:      DefaultRetryBaseBackoff,
		retryMaxBackoff:       DefaultRetryMaxBackoff,
		maxConcurrentMerges:   DefaultMaxConcurrentMerges,
		tracer:                newTracer(),
		runs:                  make(map[string]*run),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.mergeSlots = semaphore.NewWeighted(int64(s.maxConcurrentMerges))

	metrics, err := newInstruments()
	if err != nil {
		logger.Warn("failed to register generation instruments", slog.String("error", err.Error()))
	}
	s.metrics = metrics

	return s, nil
}

// run is the live state of a generation being processed.
type run struct {
	gen   *Generation
	voice provider.Voice

	// saveMu serialises snapshots of gen to the job store.
	saveMu sync.Mutex

	// mu guards the fields below and orders progress updates.
	mu    sync.Mutex
	audio [][]byte
	usage []pricing.Usage
}

func (r *run) cancelled() bool {
	return r.gen.GetStatus() == StatusCancelled
}

func (r *run) save(ctx context.Context, jobs JobStore) error {
	r.saveMu.Lock()
	defer r.saveMu.Unlock()
	return jobs.Save(ctx, r.gen)
}

// CreateGeneration validates the request, routes the whole text once to quote
// it, and persists a PENDING generation.
func (s *Service) CreateGeneration(ctx context.Context, in CreateInput) (*Generation, error) {
	if err := chunker.Validate(in.Text); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	format := audio.NormalizeFormat(in.OutputFormat)
	if in.OutputFormat == "" {
		format = audio.NormalizeFormat(s.mergeOpts.OutputFormat)
	}
	if !audio.SupportedFormat(format) {
		return nil, fmt.Errorf("%w: unsupported output format %q", ErrInvalidInput, in.OutputFormat)
	}

	q, err := s.Quote(ctx, QuoteInput{
		Text:              in.Text,
		VoiceID:           in.VoiceID,
		Preference:        in.Preference,
		PreferredProvider: in.PreferredProvider,
	})
	if err != nil {
		return nil, err
	}

	g := New(in.UserID, in.Text)
	g.VoiceID = q.VoiceID
	g.Preference = q.Preference
	g.PreferredProvider = in.PreferredProvider
	g.Provider = q.Decision.Provider
	g.OutputFormat = format
	g.EstimatedCost = q.Estimate.EstimatedCost
	g.Currency = q.Estimate.Currency

	s.logger.Info("creating new generation",
		slog.String("generation_id", g.ID),
		slog.String("user_id", g.UserID),
		slog.Int("characters", g.CharacterCount),
		slog.String("provider", string(g.Provider)),
		slog.String("preference", string(g.Preference)),
	)

	if err := s.jobs.Save(ctx, g); err != nil {
		s.logger.Error("failed to save generation",
			slog.String("generation_id", g.ID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	s.notifier.Status(ctx, g.UserID, g.ID, string(StatusPending))
	return g.Clone(), nil
}

// Quote routes the whole text under the requested preference and prices it on
// the chosen provider and on every catalog provider.
func (s *Service) Quote(_ context.Context, in QuoteInput) (*Quote, error) {
	if err := chunker.Validate(in.Text); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	pref, err := router.ParsePreference(string(in.Preference))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	voice, err := s.voices.Lookup(in.VoiceID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	chars := len([]rune(in.Text))
	decision, err := s.router.SelectProvider(router.Context{
		CharacterCount:    chars,
		Preference:        pref,
		LockedProvider:    voice.Lock(),
		PreferredProvider: in.PreferredProvider,
		Available:         s.registry.Available(s.catalog),
	})
	if err != nil {
		return nil, err
	}

	pc := pricing.Context{CharacterCount: chars, Provider: decision.Provider, VoiceID: voice.ID}
	return &Quote{
		VoiceID:           voice.ID,
		Preference:        pref,
		CharacterCount:    chars,
		EstimatedSegments: chunker.EstimateCount(in.Text, s.chunkOpts),
		Decision:          decision,
		Estimate:          s.pricer.Estimate(pc),
		Alternatives:      s.pricer.AllProviderEstimates(pc),
	}, nil
}

// GetGeneration returns a snapshot of a generation. Jobs being processed are
// read from their live state.
func (s *Service) GetGeneration(ctx context.Context, genID string) (*Generation, error) {
	s.mu.Lock()
	r, running := s.runs[genID]
	s.mu.Unlock()
	if running {
		return r.gen.Clone(), nil
	}
	return s.jobs.FindByID(ctx, genID)
}

// ListGenerations returns a user's generations, newest first.
func (s *Service) ListGenerations(ctx context.Context, userID string) ([]*Generation, error) {
	return s.jobs.ListByUser(ctx, userID)
}

// ListSegments returns the segments of a generation ordered by index.
func (s *Service) ListSegments(ctx context.Context, genID string) ([]*Segment, error) {
	if _, err := s.GetGeneration(ctx, genID); err != nil {
		return nil, err
	}
	return s.segments.ListSegments(ctx, genID)
}

// Cancel moves a generation to CANCELLED. A running job stops dispatching new
// segments; results of calls already in flight are discarded.
func (s *Service) Cancel(ctx context.Context, genID string) (*Generation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r, running := s.runs[genID]; running {
		if err := r.gen.Cancel(); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyTerminal, r.gen.GetStatus())
		}
		if err := r.save(ctx, s.jobs); err != nil {
			return nil, fmt.Errorf("save generation: %w", err)
		}
		s.logger.Info("generation cancelled while running", slog.String("generation_id", genID))
		s.notifier.Status(ctx, r.gen.UserID, genID, string(StatusCancelled))
		return r.gen.Clone(), nil
	}

	g, err := s.jobs.FindByID(ctx, genID)
	if err != nil {
		return nil, err
	}
	if err := g.Cancel(); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyTerminal, g.GetStatus())
	}
	if err := s.jobs.Save(ctx, g); err != nil {
		return nil, fmt.Errorf("save generation: %w", err)
	}
	s.logger.Info("generation cancelled", slog.String("generation_id", genID))
	s.notifier.Status(ctx, g.UserID, genID, string(StatusCancelled))
	return g.Clone(), nil
}

// Process runs a PENDING generation to a terminal state. It returns nil on
// completion, ErrCancelled when the job was cancelled meanwhile, and the fatal
// error otherwise; in that case the job is FAILED with the error message.
func (s *Service) Process(ctx context.Context, genID string) error {
	r, err := s.startRun(ctx, genID)
	if err != nil {
		return err
	}
	defer s.endRun(genID)

	ctx, span := s.tracer.Start(ctx, "generation.process", trace.WithAttributes(
		attribute.String("generation.id", genID),
		attribute.Int("generation.characters", r.gen.CharacterCount),
	))
	defer span.End()

	start := time.Now()
	err = s.process(ctx, r)
	switch {
	case err == nil:
		s.logger.Info("generation completed",
			slog.String("generation_id", genID),
			slog.Int("segments", r.gen.SegmentCount),
			slog.Duration("elapsed", time.Since(start)),
		)
		return nil
	case errors.Is(err, ErrCancelled) || r.cancelled():
		span.AddEvent("cancelled")
		s.logger.Info("generation processing stopped after cancellation", slog.String("generation_id", genID))
		return ErrCancelled
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	s.fail(ctx, r, err)
	return err
}

func (s *Service) startRun(ctx context.Context, genID string) (*run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, running := s.runs[genID]; running {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRunning, genID)
	}

	g, err := s.jobs.FindByID(ctx, genID)
	if err != nil {
		return nil, err
	}
	if status := g.GetStatus(); status != StatusPending {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotPending, genID, status)
	}

	r := &run{gen: g}
	s.runs[genID] = r
	return r, nil
}

func (s *Service) endRun(genID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.runs, genID)
}

func (s *Service) process(ctx context.Context, r *run) error {
	g := r.gen

	if err := s.advance(ctx, r, StatusAnalyzing); err != nil {
		return err
	}
	if err := chunker.Validate(g.Text); err != nil {
		return err
	}
	voice, err := s.voices.Lookup(g.VoiceID)
	if err != nil {
		return err
	}
	r.voice = voice

	if err := s.advance(ctx, r, StatusChunking); err != nil {
		return err
	}
	chunks := chunker.Split(g.Text, s.chunkOpts)
	if len(chunks) == 0 {
		return ErrNoSegments
	}

	segments := make([]*Segment, len(chunks))
	for i, c := range chunks {
		segments[i] = NewSegment(g.ID, c)
	}
	if err := s.segments.SaveSegments(ctx, segments); err != nil {
		return fmt.Errorf("persist segments: %w", err)
	}
	g.SetSegmentCount(len(segments))
	r.audio = make([][]byte, len(segments))

	s.logger.Info("text chunked",
		slog.String("generation_id", g.ID),
		slog.Int("segments", len(segments)),
	)

	if err := s.advance(ctx, r, StatusProcessing); err != nil {
		return err
	}
	if err := s.synthesizeAll(ctx, r, segments); err != nil {
		return err
	}
	if r.cancelled() {
		return ErrCancelled
	}

	if err := s.advance(ctx, r, StatusMerging); err != nil {
		return err
	}
	return s.mergeAndStore(ctx, r)
}

// advance transitions the live generation, persists it and notifies the user.
func (s *Service) advance(ctx context.Context, r *run, status Status) error {
	if err := r.gen.TransitionTo(status); err != nil {
		if r.cancelled() {
			return ErrCancelled
		}
		return fmt.Errorf("transition to %s: %w", status, err)
	}
	if err := r.save(ctx, s.jobs); err != nil {
		return fmt.Errorf("save generation: %w", err)
	}
	s.notifier.Status(ctx, r.gen.UserID, r.gen.ID, string(status))
	return nil
}

// synthesizeAll dispatches segments with bounded concurrency and waits for all
// of them. Cancellation is checked between dispatches.
func (s *Service) synthesizeAll(ctx context.Context, r *run, segments []*Segment) error {
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(s.maxConcurrentSegments)

	for _, seg := range segments {
		if r.cancelled() || egCtx.Err() != nil {
			break
		}
		eg.Go(func() error {
			return s.synthesizeSegment(egCtx, r, seg)
		})
	}

	if err := eg.Wait(); err != nil {
		return err
	}
	if r.cancelled() {
		return ErrCancelled
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for i, a := range r.audio {
		if a == nil {
			return fmt.Errorf("segment %d has no audio", i)
		}
	}
	return nil
}

func (s *Service) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.retryBaseBackoff
	b.MaxInterval = s.retryMaxBackoff
	b.Reset()
	return b
}

// synthesizeSegment routes and renders one segment, retrying in place until it
// succeeds or exhausts its attempts.
func (s *Service) synthesizeSegment(ctx context.Context, r *run, seg *Segment) error {
	ctx, span := s.tracer.Start(ctx, "generation.segment", trace.WithAttributes(
		attribute.String("generation.id", seg.GenerationID),
		attribute.Int("segment.index", seg.Index),
		attribute.Int("segment.characters", seg.CharacterCount),
	))
	defer span.End()

	g := r.gen
	bo := s.newBackOff()

	for {
		if r.cancelled() {
			return nil
		}

		decision, err := s.router.SelectProvider(router.Context{
			CharacterCount:    seg.CharacterCount,
			Preference:        g.Preference,
			LockedProvider:    r.voice.Lock(),
			PreferredProvider: g.PreferredProvider,
			Available:         s.registry.Available(s.catalog),
		})
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("route segment %d: %w", seg.Index, err)
		}
		synth, err := s.registry.Get(decision.Provider)
		if err != nil {
			return fmt.Errorf("route segment %d: %w", seg.Index, err)
		}

		if err := seg.Start(decision.Provider); err != nil {
			return fmt.Errorf("start segment %d: %w", seg.Index, err)
		}
		if err := s.segments.UpdateSegment(ctx, seg); err != nil {
			return fmt.Errorf("save segment %d: %w", seg.Index, err)
		}

		res, err := synth.Synthesize(ctx, provider.Request{
			Text:         seg.Text,
			VoiceID:      r.voice.VendorVoice(decision.Provider),
			Settings:     provider.SettingsFor(r.voice.Preset, decision.Provider),
			OutputFormat: g.OutputFormat,
		})
		if err == nil && (res == nil || len(res.Audio) == 0) {
			err = provider.ErrEmptyAudio
		}

		if err == nil {
			return s.completeSegment(ctx, r, seg, decision.Provider, res)
		}
		if r.cancelled() {
			return nil
		}

		_ = seg.Fail(err.Error())
		if ctx.Err() != nil {
			_ = s.segments.UpdateSegment(context.WithoutCancel(ctx), seg)
			return ctx.Err()
		}

		attrs := metric.WithAttributes(attribute.String("provider", string(decision.Provider)))
		if seg.RetryCount >= s.maxSegmentRetries {
			s.metrics.segmentsFailed.Add(ctx, 1, attrs)
			if uerr := s.segments.UpdateSegment(ctx, seg); uerr != nil {
				s.logger.Warn("failed to save failed segment",
					slog.String("segment_id", seg.ID),
					slog.String("error", uerr.Error()),
				)
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("%w: segment %d after %d attempts: %w", ErrSegmentFailed, seg.Index, seg.RetryCount, err)
		}

		delay := bo.NextBackOff()
		s.logger.Warn("segment synthesis failed, retrying",
			slog.String("generation_id", g.ID),
			slog.Int("segment", seg.Index),
			slog.String("provider", string(decision.Provider)),
			slog.Int("attempt", seg.RetryCount),
			slog.Duration("backoff", delay),
			slog.String("error", err.Error()),
		)

		_ = seg.Retry()
		g.RecordRetry()
		s.metrics.segmentRetries.Add(ctx, 1, attrs)
		if err := s.segments.UpdateSegment(ctx, seg); err != nil {
			return fmt.Errorf("save segment %d: %w", seg.Index, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// completeSegment records a successful attempt and pushes progress. Progress
// updates are serialised so notifications never go backwards.
func (s *Service) completeSegment(ctx context.Context, r *run, seg *Segment, p provider.ID, res *provider.Result) error {
	duration := res.DurationMs
	if duration <= 0 {
		if info, err := audio.ProbeBytes(res.Audio); err == nil {
			duration = info.DurationMs
		}
	}
	// Providers may ignore the requested format; record what the bytes are.
	format := audio.DetectFormat(res.Audio)
	if format == "" {
		format = res.Format
	}
	cost := pricing.Cost(seg.CharacterCount, s.pricer.RateFor(p, r.voice.ID))

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancelled() {
		return nil
	}

	if err := seg.Complete(res.Audio, format, duration, cost); err != nil {
		return fmt.Errorf("complete segment %d: %w", seg.Index, err)
	}
	if err := s.segments.UpdateSegment(ctx, seg); err != nil {
		return fmt.Errorf("save segment %d: %w", seg.Index, err)
	}

	r.audio[seg.Index] = res.Audio
	r.usage = append(r.usage, pricing.Usage{Provider: p, VoiceID: r.voice.ID, CharacterCount: seg.CharacterCount})
	completed, progress := r.gen.RecordSegmentCompleted()

	if err := r.save(ctx, s.jobs); err != nil {
		return fmt.Errorf("save generation: %w", err)
	}

	s.metrics.segmentsCompleted.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", string(p))))
	s.notifier.Progress(ctx, r.gen.UserID, r.gen.ID, notify.Progress{
		SegmentsCompleted: completed,
		SegmentCount:      r.gen.SegmentCount,
		Percent:           progress,
	})
	return nil
}

// mergeAndStore merges segment audio in index order in a merge slot, stores
// the result, prices the provider mix and completes the job.
func (s *Service) mergeAndStore(ctx context.Context, r *run) error {
	g := r.gen

	ctx, span := s.tracer.Start(ctx, "generation.merge", trace.WithAttributes(
		attribute.String("generation.id", g.ID),
		attribute.Int("generation.segments", len(r.audio)),
	))
	defer span.End()

	if err := s.mergeSlots.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire merge slot: %w", err)
	}
	defer s.mergeSlots.Release(1)

	if r.cancelled() {
		return ErrCancelled
	}

	opts := s.mergeOpts
	opts.OutputFormat = g.OutputFormat

	start := time.Now()
	res, err := s.merger.Merge(ctx, r.audio, opts)
	s.metrics.mergeDuration.Record(ctx, float64(time.Since(start).Milliseconds()))
	if err != nil {
		return fmt.Errorf("merge audio: %w", err)
	}
	if r.cancelled() {
		return ErrCancelled
	}

	url, err := s.storage.SaveAudio(ctx, audioKey(g.UserID, g.ID, g.OutputFormat), res.ContentType, bytes.NewReader(res.AudioData))
	if err != nil {
		return fmt.Errorf("store audio: %w", err)
	}

	actual := s.pricer.ActualCost(r.usage)
	g.SetAudio(url, g.OutputFormat, res.DurationMs, res.SizeBytes)
	g.SetActualCost(actual)

	if err := g.Complete(); err != nil {
		if r.cancelled() {
			return ErrCancelled
		}
		return fmt.Errorf("complete generation: %w", err)
	}
	if err := r.save(ctx, s.jobs); err != nil {
		return fmt.Errorf("save generation: %w", err)
	}

	s.metrics.generationsCompleted.Add(ctx, 1)
	s.notifier.Completed(ctx, g.UserID, g.ID, notify.Completion{
		AudioURL:   url,
		Format:     g.OutputFormat,
		DurationMs: res.DurationMs,
		SizeBytes:  res.SizeBytes,
		ActualCost: actual.String(),
		Currency:   g.Currency,
	})
	return nil
}

// fail moves the job to FAILED and pushes the failure notification.
func (s *Service) fail(ctx context.Context, r *run, cause error) {
	g := r.gen
	ctx = context.WithoutCancel(ctx)

	if err := g.Fail(cause.Error()); err != nil {
		s.logger.Warn("could not mark generation failed",
			slog.String("generation_id", g.ID),
			slog.String("status", string(g.GetStatus())),
			slog.String("error", cause.Error()),
		)
		return
	}

	s.logger.Error("generation failed",
		slog.String("generation_id", g.ID),
		slog.String("error", cause.Error()),
	)

	if err := r.save(ctx, s.jobs); err != nil {
		s.logger.Error("failed to save failed generation",
			slog.String("generation_id", g.ID),
			slog.String("error", err.Error()),
		)
	}
	s.metrics.generationsFailed.Add(ctx, 1)
	s.notifier.Failed(ctx, g.UserID, g.ID, cause.Error())
}

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// audioKey is the storage key of a generation's final audio.
func audioKey(userID, genID, format string) string {
	user := unsafeKeyChars.ReplaceAllString(userID, "_")
	if user == "" {
		user = "anonymous"
	}
	return fmt.Sprintf("generations/%s/%s.%s", user, genID, format)
}
