package generation

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/maauso/narration-api/internal/chunker"
	"github.com/maauso/narration-api/internal/generation/id"
	"github.com/maauso/narration-api/internal/provider"
)

// SegmentStatus represents the processing state of a single segment.
type SegmentStatus string

const (
	// SegmentPending indicates the segment waits for dispatch.
	SegmentPending SegmentStatus = "PENDING"
	// SegmentProcessing indicates a provider call is in flight.
	SegmentProcessing SegmentStatus = "PROCESSING"
	// SegmentCompleted indicates the segment has audio.
	SegmentCompleted SegmentStatus = "COMPLETED"
	// SegmentFailed indicates the last attempt failed.
	SegmentFailed SegmentStatus = "FAILED"
	// SegmentRetrying indicates the segment waits for another attempt.
	SegmentRetrying SegmentStatus = "RETRYING"
)

var validSegmentTransitions = map[SegmentStatus][]SegmentStatus{
	SegmentPending:    {SegmentProcessing},
	SegmentProcessing: {SegmentCompleted, SegmentFailed},
	SegmentFailed:     {SegmentRetrying},
	SegmentRetrying:   {SegmentProcessing},
	SegmentCompleted:  {},
}

// Segment is one synthesis unit of a generation. A segment is owned by a
// single worker at a time and is retried in place.
type Segment struct {
	ID             string
	GenerationID   string
	Index          int
	Text           string
	StartOffset    int
	EndOffset      int
	CharacterCount int
	Status         SegmentStatus

	// Provider is the provider of the latest attempt.
	Provider provider.ID
	// Audio is the synthesized audio once completed.
	Audio       []byte
	AudioFormat string
	DurationMs  int64
	Cost        decimal.Decimal
	Error       string
	RetryCount  int

	CreatedAt   time.Time
	UpdatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
}

// NewSegment creates a PENDING segment from a chunk of the generation text.
func NewSegment(generationID string, c chunker.Segment) *Segment {
	now := time.Now()
	return &Segment{
		ID:             id.Segment(),
		GenerationID:   generationID,
		Index:          c.Index,
		Text:           c.Text,
		StartOffset:    c.StartOffset,
		EndOffset:      c.EndOffset,
		CharacterCount: len([]rune(c.Text)),
		Status:         SegmentPending,
		Cost:           decimal.Zero,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func (s *Segment) transition(to SegmentStatus) error {
	for _, allowed := range validSegmentTransitions[s.Status] {
		if allowed == to {
			s.Status = to
			s.UpdatedAt = time.Now()
			return nil
		}
	}
	return ErrInvalidTransition
}

// Start marks an attempt on provider p as in flight.
func (s *Segment) Start(p provider.ID) error {
	if err := s.transition(SegmentProcessing); err != nil {
		return err
	}
	s.Provider = p
	s.Error = ""
	if s.StartedAt.IsZero() {
		s.StartedAt = s.UpdatedAt
	}
	return nil
}

// Complete stores the audio of a successful attempt.
func (s *Segment) Complete(audio []byte, format string, durationMs int64, cost decimal.Decimal) error {
	if err := s.transition(SegmentCompleted); err != nil {
		return err
	}
	s.Audio = audio
	s.AudioFormat = format
	s.DurationMs = durationMs
	s.Cost = cost
	s.CompletedAt = s.UpdatedAt
	return nil
}

// Fail records a failed attempt and increments RetryCount.
func (s *Segment) Fail(errMsg string) error {
	if err := s.transition(SegmentFailed); err != nil {
		return err
	}
	s.Error = errMsg
	s.RetryCount++
	return nil
}

// Retry schedules another attempt.
func (s *Segment) Retry() error {
	return s.transition(SegmentRetrying)
}

// Clone returns a copy. Audio bytes are shared since they are never mutated.
func (s *Segment) Clone() *Segment {
	c := *s
	return &c
}
