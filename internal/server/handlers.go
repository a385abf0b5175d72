package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/narration-api/internal/generation"
	"github.com/maauso/narration-api/internal/provider"
	"github.com/maauso/narration-api/internal/router"
)

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	service            *generation.Service
	validator          *validator.Validate
	logger             *slog.Logger
	enableAsyncProcess bool
	metrics            http.Handler
	checks             map[string]HealthCheck
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithAsyncProcessing enables or disables background processing.
// When disabled, CreateGeneration only persists the generation and returns
// without starting the orchestrator.
func WithAsyncProcessing(enabled bool) HandlerOption {
	return func(h *Handlers) {
		h.enableAsyncProcess = enabled
	}
}

// WithMetricsHandler exposes the given handler on GET /metrics.
func WithMetricsHandler(handler http.Handler) HandlerOption {
	return func(h *Handlers) {
		h.metrics = handler
	}
}

// WithHealthCheck adds a named dependency check to GET /health.
func WithHealthCheck(name string, check HealthCheck) HandlerOption {
	return func(h *Handlers) {
		if check != nil {
			h.checks[name] = check
		}
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(service *generation.Service, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		service:            service,
		validator:          validator.New(),
		logger:             logger,
		enableAsyncProcess: true,
		checks:             make(map[string]HealthCheck),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	if len(h.checks) == 0 {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	resp := HealthResponse{Status: "ok", Checks: make(map[string]string, len(names))}
	status := http.StatusOK
	for _, name := range names {
		if err := h.checks[name](r.Context()); err != nil {
			h.logger.Warn("health check failed",
				slog.String("check", name),
				slog.String("error", err.Error()),
			)
			resp.Checks[name] = err.Error()
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	writeJSON(w, status, resp)
}

// Metrics handles GET /metrics requests.
func (h *Handlers) Metrics(w http.ResponseWriter, r *http.Request) {
	if h.metrics == nil {
		writeError(w, http.StatusNotFound, "metrics are not enabled", "METRICS_DISABLED")
		return
	}
	h.metrics.ServeHTTP(w, r)
}

// CreateGeneration handles POST /generations requests.
func (h *Handlers) CreateGeneration(w http.ResponseWriter, r *http.Request) {
	var req CreateGenerationRequest
	if !h.decode(w, r, &req) {
		return
	}

	created, err := h.service.CreateGeneration(r.Context(), generation.CreateInput{
		UserID:            r.Header.Get(UserIDHeader),
		Text:              req.Text,
		VoiceID:           req.VoiceID,
		Preference:        router.Preference(req.Preference),
		PreferredProvider: provider.ID(req.PreferredProvider),
		OutputFormat:      req.OutputFormat,
	})
	if err != nil {
		h.writeServiceError(w, err, "failed to create generation", "GENERATION_CREATION_FAILED")
		return
	}

	// The orchestrator outlives the request.
	if h.enableAsyncProcess {
		go func(ctx context.Context, genID string) {
			processErr := h.service.Process(ctx, genID)
			switch {
			case processErr == nil:
			case errors.Is(processErr, generation.ErrCancelled):
				h.logger.Info("background processing stopped by cancellation",
					slog.String("generation_id", genID),
				)
			default:
				h.logger.Error("background processing failed",
					slog.String("generation_id", genID),
					slog.String("error", processErr.Error()),
				)
			}
		}(context.WithoutCancel(r.Context()), created.ID)
	}

	h.logger.Info("generation created",
		slog.String("generation_id", created.ID),
		slog.String("provider", string(created.Provider)),
		slog.Int("characters", created.CharacterCount),
	)

	writeJSON(w, http.StatusAccepted, CreateGenerationResponse{
		ID:            created.ID,
		Status:        string(created.Status),
		Provider:      string(created.Provider),
		EstimatedCost: created.EstimatedCost.String(),
		Currency:      created.Currency,
	})
}

// ListGenerations handles GET /generations requests for the calling user.
func (h *Handlers) ListGenerations(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(UserIDHeader)
	if userID == "" {
		writeError(w, http.StatusBadRequest, UserIDHeader+" header is required", "MISSING_USER_ID")
		return
	}

	gens, err := h.service.ListGenerations(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, err, "failed to list generations", "GENERATION_FETCH_FAILED")
		return
	}

	resp := GenerationListResponse{Generations: make([]GenerationResponse, 0, len(gens))}
	for _, g := range gens {
		resp.Generations = append(resp.Generations, newGenerationResponse(g))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetGeneration handles GET /generations/{id} requests.
func (h *Handlers) GetGeneration(w http.ResponseWriter, r *http.Request) {
	g, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newGenerationResponse(g))
}

// ListSegments handles GET /generations/{id}/segments requests.
func (h *Handlers) ListSegments(w http.ResponseWriter, r *http.Request) {
	g, ok := h.lookup(w, r)
	if !ok {
		return
	}

	segs, err := h.service.ListSegments(r.Context(), g.ID)
	if err != nil {
		h.writeServiceError(w, err, "failed to list segments", "SEGMENT_FETCH_FAILED")
		return
	}

	resp := SegmentListResponse{GenerationID: g.ID, Segments: make([]SegmentResponse, 0, len(segs))}
	for _, s := range segs {
		resp.Segments = append(resp.Segments, newSegmentResponse(s))
	}
	writeJSON(w, http.StatusOK, resp)
}

// CancelGeneration handles POST /generations/{id}/cancel requests.
func (h *Handlers) CancelGeneration(w http.ResponseWriter, r *http.Request) {
	g, ok := h.lookup(w, r)
	if !ok {
		return
	}

	cancelled, err := h.service.Cancel(r.Context(), g.ID)
	if err != nil {
		h.writeServiceError(w, err, "failed to cancel generation", "GENERATION_CANCEL_FAILED")
		return
	}
	writeJSON(w, http.StatusOK, newGenerationResponse(cancelled))
}

// CreateQuote handles POST /quotes requests.
func (h *Handlers) CreateQuote(w http.ResponseWriter, r *http.Request) {
	var req QuoteRequest
	if !h.decode(w, r, &req) {
		return
	}

	q, err := h.service.Quote(r.Context(), generation.QuoteInput{
		Text:              req.Text,
		VoiceID:           req.VoiceID,
		Preference:        router.Preference(req.Preference),
		PreferredProvider: provider.ID(req.PreferredProvider),
	})
	if err != nil {
		h.writeServiceError(w, err, "failed to quote text", "QUOTE_FAILED")
		return
	}

	writeJSON(w, http.StatusOK, QuoteResponse{
		VoiceID:           q.VoiceID,
		Preference:        string(q.Preference),
		CharacterCount:    q.CharacterCount,
		EstimatedSegments: q.EstimatedSegments,
		Provider:          string(q.Decision.Provider),
		Reason:            q.Decision.Reason,
		Estimate:          q.Estimate,
		Alternatives:      q.Alternatives,
	})
}

// decode reads and validates a JSON body, writing the error response itself.
func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return false
	}

	if err := h.validator.Struct(dst); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return false
	}
	return true
}

// lookup loads the generation named in the path. A generation owned by another
// user is reported as not found.
func (h *Handlers) lookup(w http.ResponseWriter, r *http.Request) (*generation.Generation, bool) {
	genID := r.PathValue("id")
	if genID == "" {
		writeError(w, http.StatusBadRequest, "generation ID is required", "MISSING_GENERATION_ID")
		return nil, false
	}

	g, err := h.service.GetGeneration(r.Context(), genID)
	if err != nil {
		h.writeServiceError(w, err, "failed to get generation", "GENERATION_FETCH_FAILED")
		return nil, false
	}

	if userID := r.Header.Get(UserIDHeader); userID != "" && g.UserID != userID {
		writeError(w, http.StatusNotFound, "generation not found", "GENERATION_NOT_FOUND")
		return nil, false
	}
	return g, true
}

// writeServiceError maps service errors to HTTP responses.
func (h *Handlers) writeServiceError(w http.ResponseWriter, err error, message, code string) {
	switch {
	case errors.Is(err, generation.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error(), "INVALID_INPUT")
	case errors.Is(err, generation.ErrGenerationNotFound):
		writeError(w, http.StatusNotFound, "generation not found", "GENERATION_NOT_FOUND")
	case errors.Is(err, generation.ErrAlreadyTerminal):
		writeError(w, http.StatusConflict, err.Error(), "GENERATION_FINISHED")
	case errors.Is(err, router.ErrNoProvidersAvailable):
		writeError(w, http.StatusServiceUnavailable, err.Error(), "NO_PROVIDERS_AVAILABLE")
	default:
		h.logger.Error(message, slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, message, code)
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
