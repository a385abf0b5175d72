// Package generation provides the Generation aggregate for long-text narration
// jobs, its segments, persistence ports and the Service that orchestrates
// chunking, routing, synthesis, merging and pricing.
package generation

import (
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/maauso/narration-api/internal/generation/id"
	"github.com/maauso/narration-api/internal/provider"
	"github.com/maauso/narration-api/internal/router"
)

// Status represents the current state of a Generation.
type Status string

const (
	// StatusPending indicates the job was accepted and waits for processing.
	StatusPending Status = "PENDING"
	// StatusAnalyzing indicates the input is being validated.
	StatusAnalyzing Status = "ANALYZING"
	// StatusChunking indicates segments are being produced and persisted.
	StatusChunking Status = "CHUNKING"
	// StatusProcessing indicates segments are being synthesized.
	StatusProcessing Status = "PROCESSING"
	// StatusMerging indicates segment audio is being combined.
	StatusMerging Status = "MERGING"
	// StatusCompleted indicates the final audio is available.
	StatusCompleted Status = "COMPLETED"
	// StatusFailed indicates the job stopped on a fatal error.
	StatusFailed Status = "FAILED"
	// StatusCancelled indicates the job was cancelled on request.
	StatusCancelled Status = "CANCELLED"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// validTransitions defines which state transitions are allowed.
var validTransitions = map[Status][]Status{
	StatusPending:    {StatusAnalyzing, StatusFailed, StatusCancelled},
	StatusAnalyzing:  {StatusChunking, StatusFailed, StatusCancelled},
	StatusChunking:   {StatusProcessing, StatusFailed, StatusCancelled},
	StatusProcessing: {StatusMerging, StatusFailed, StatusCancelled},
	StatusMerging:    {StatusCompleted, StatusFailed, StatusCancelled},
	StatusCompleted:  {},
	StatusFailed:     {},
	StatusCancelled:  {},
}

// canTransition checks if a transition from one status to another is valid.
func canTransition(from, to Status) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether s is a final state.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Generation is a text-to-audio job aggregate.
// It is mutated only through its methods while a Service owns it.
type Generation struct {
	mu sync.RWMutex

	// ID is the unique identifier for this generation.
	ID string
	// UserID is the owner of the job.
	UserID string
	// Text is the full input text.
	Text string
	// CharacterCount is the input length in characters.
	CharacterCount int
	// VoiceID is the narration voice requested.
	VoiceID string
	// Preference is the routing preference for every segment.
	Preference router.Preference
	// PreferredProvider receives the routing bonus when set.
	PreferredProvider provider.ID
	// Provider is the provider selected for the job when it was accepted.
	Provider provider.ID
	// OutputFormat is the requested container of the final audio.
	OutputFormat string
	// Status is the current job state.
	Status Status

	// AudioURL is where the final audio can be fetched.
	AudioURL string
	// AudioFormat is the container of the final audio.
	AudioFormat string
	// AudioDurationMs is the duration of the final audio.
	AudioDurationMs int64
	// AudioSizeBytes is the size of the final audio.
	AudioSizeBytes int64

	// EstimatedCost is the price quoted when the job was accepted.
	EstimatedCost decimal.Decimal
	// ActualCost is the price of the provider mix actually used.
	ActualCost decimal.Decimal
	// Currency of both costs.
	Currency string

	// SegmentCount is the number of segments the text was split into.
	SegmentCount int
	// SegmentsCompleted is the number of segments with audio.
	SegmentsCompleted int
	// Progress is the percentage of completion (0-100).
	Progress int
	// Error contains the message of the fatal error, if any.
	Error string
	// RetryCount is the total number of segment retries.
	RetryCount int

	CreatedAt   time.Time
	UpdatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
}

// New creates a PENDING generation with a generated ID.
func New(userID, text string) *Generation {
	return NewWithID(id.Generation(), userID, text)
}

// NewWithID creates a PENDING generation with the given ID.
func NewWithID(genID, userID, text string) *Generation {
	now := time.Now()
	return &Generation{
		ID:             genID,
		UserID:         userID,
		Text:           text,
		CharacterCount: len([]rune(text)),
		Preference:     router.PreferenceBalanced,
		Status:         StatusPending,
		EstimatedCost:  decimal.Zero,
		ActualCost:     decimal.Zero,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// TransitionTo attempts to change the job status.
// Returns ErrInvalidTransition if the transition is not allowed.
func (g *Generation) TransitionTo(status Status) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.transitionLocked(status)
}

func (g *Generation) transitionLocked(status Status) error {
	if !canTransition(g.Status, status) {
		return ErrInvalidTransition
	}

	g.Status = status
	g.UpdatedAt = time.Now()

	switch status {
	case StatusAnalyzing:
		g.StartedAt = g.UpdatedAt
	case StatusCompleted, StatusFailed, StatusCancelled:
		g.CompletedAt = g.UpdatedAt
	}

	return nil
}

// Complete transitions the job to COMPLETED and pins progress to 100.
func (g *Generation) Complete() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.transitionLocked(StatusCompleted); err != nil {
		return err
	}
	g.Progress = 100
	return nil
}

// Fail transitions the job to FAILED with an error message.
// The message is only recorded when the transition is allowed.
func (g *Generation) Fail(errMsg string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.transitionLocked(StatusFailed); err != nil {
		return err
	}
	g.Error = errMsg
	return nil
}

// Cancel transitions the job to CANCELLED.
func (g *Generation) Cancel() error {
	return g.TransitionTo(StatusCancelled)
}

// GetStatus returns the current job status (thread-safe).
func (g *Generation) GetStatus() Status {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.Status
}

// IsTerminal returns true if the job is in a terminal state.
func (g *Generation) IsTerminal() bool {
	return g.GetStatus().IsTerminal()
}

// SetSegmentCount records how many segments the job has.
func (g *Generation) SetSegmentCount(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.SegmentCount = n
	g.UpdatedAt = time.Now()
}

// RecordSegmentCompleted increments the completed counter and recomputes
// progress as floor(100 * completed / count). It returns the new counter and
// progress. The counter never exceeds SegmentCount.
func (g *Generation) RecordSegmentCompleted() (completed, progress int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.SegmentsCompleted < g.SegmentCount {
		g.SegmentsCompleted++
	}
	if g.SegmentCount > 0 {
		g.Progress = 100 * g.SegmentsCompleted / g.SegmentCount
	}
	g.UpdatedAt = time.Now()
	return g.SegmentsCompleted, g.Progress
}

// RecordRetry increments the job-wide retry counter.
func (g *Generation) RecordRetry() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.RetryCount++
	g.UpdatedAt = time.Now()
}

// SetAudio records the final audio.
func (g *Generation) SetAudio(url, format string, durationMs, sizeBytes int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.AudioURL = url
	g.AudioFormat = format
	g.AudioDurationMs = durationMs
	g.AudioSizeBytes = sizeBytes
	g.UpdatedAt = time.Now()
}

// SetActualCost records the final cost.
func (g *Generation) SetActualCost(cost decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ActualCost = cost
	g.UpdatedAt = time.Now()
}

// Clone creates a copy of the generation for safe reads.
func (g *Generation) Clone() *Generation {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return &Generation{
		ID:                g.ID,
		UserID:            g.UserID,
		Text:              g.Text,
		CharacterCount:    g.CharacterCount,
		VoiceID:           g.VoiceID,
		Preference:        g.Preference,
		PreferredProvider: g.PreferredProvider,
		Provider:          g.Provider,
		OutputFormat:      g.OutputFormat,
		Status:            g.Status,
		AudioURL:          g.AudioURL,
		AudioFormat:       g.AudioFormat,
		AudioDurationMs:   g.AudioDurationMs,
		AudioSizeBytes:    g.AudioSizeBytes,
		EstimatedCost:     g.EstimatedCost,
		ActualCost:        g.ActualCost,
		Currency:          g.Currency,
		SegmentCount:      g.SegmentCount,
		SegmentsCompleted: g.SegmentsCompleted,
		Progress:          g.Progress,
		Error:             g.Error,
		RetryCount:        g.RetryCount,
		CreatedAt:         g.CreatedAt,
		UpdatedAt:         g.UpdatedAt,
		StartedAt:         g.StartedAt,
		CompletedAt:       g.CompletedAt,
	}
}
