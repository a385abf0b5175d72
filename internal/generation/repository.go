package generation

import (
	"context"
	"errors"
)

// Static errors for persistence lookups.
var (
	// ErrGenerationNotFound is returned when a generation cannot be found by ID.
	ErrGenerationNotFound = errors.New("generation not found")
	// ErrSegmentNotFound is returned when a segment cannot be found by ID.
	ErrSegmentNotFound = errors.New("segment not found")
)

// JobStore persists generations.
type JobStore interface {
	// Save creates or updates a generation.
	Save(ctx context.Context, g *Generation) error

	// FindByID retrieves a generation by its unique identifier.
	// Returns ErrGenerationNotFound if it does not exist.
	FindByID(ctx context.Context, id string) (*Generation, error)

	// ListByUser returns the generations of a user, newest first.
	ListByUser(ctx context.Context, userID string) ([]*Generation, error)
}

// SegmentStore persists segments. It is the source of truth for segment status.
type SegmentStore interface {
	// SaveSegments creates the segments of a generation.
	SaveSegments(ctx context.Context, segments []*Segment) error

	// UpdateSegment replaces a stored segment.
	// Returns ErrSegmentNotFound if it does not exist.
	UpdateSegment(ctx context.Context, s *Segment) error

	// ListSegments returns the segments of a generation ordered by index.
	ListSegments(ctx context.Context, generationID string) ([]*Segment, error)
}
