// Package notify delivers generation lifecycle events to users.
//
// Delivery is best-effort: a lost status or progress update never affects the
// outcome of a generation. Producers talk to a BestEffort, which logs and
// discards every delivery error.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Event types.
const (
	EventStatus    = "status"
	EventProgress  = "progress"
	EventCompleted = "completed"
	EventFailed    = "failed"
)

// Progress is a segment completion snapshot.
type Progress struct {
	SegmentsCompleted int `json:"segments_completed"`
	SegmentCount      int `json:"segment_count"`
	Percent           int `json:"percent"`
}

// Completion describes the final audio of a generation.
type Completion struct {
	AudioURL   string `json:"audio_url"`
	Format     string `json:"format"`
	DurationMs int64  `json:"duration_ms"`
	SizeBytes  int64  `json:"size_bytes"`
	ActualCost string `json:"actual_cost"`
	Currency   string `json:"currency"`
}

// Event is the serialized form of a notification.
type Event struct {
	Type         string      `json:"type"`
	UserID       string      `json:"user_id"`
	GenerationID string      `json:"generation_id"`
	Status       string      `json:"status,omitempty"`
	Progress     *Progress   `json:"progress,omitempty"`
	Completion   *Completion `json:"completion,omitempty"`
	Error        string      `json:"error,omitempty"`
	Timestamp    time.Time   `json:"timestamp"`
}

// Notifier pushes events scoped to a user and a generation.
type Notifier interface {
	NotifyStatus(ctx context.Context, userID, generationID, status string) error
	NotifyProgress(ctx context.Context, userID, generationID string, p Progress) error
	NotifyCompleted(ctx context.Context, userID, generationID string, c Completion) error
	NotifyFailed(ctx context.Context, userID, generationID, message string) error
}

// BestEffort wraps a Notifier and swallows its errors after logging them.
// Its methods never fail.
type BestEffort struct {
	next   Notifier
	logger *slog.Logger
}

// NewBestEffort wraps n. A nil n discards every event.
func NewBestEffort(n Notifier, logger *slog.Logger) *BestEffort {
	if logger == nil {
		logger = slog.Default()
	}
	return &BestEffort{next: n, logger: logger}
}

// Status delivers a status change.
func (b *BestEffort) Status(ctx context.Context, userID, generationID, status string) {
	if b.next == nil {
		return
	}
	b.report(EventStatus, generationID, b.next.NotifyStatus(ctx, userID, generationID, status))
}

// Progress delivers a progress update.
func (b *BestEffort) Progress(ctx context.Context, userID, generationID string, p Progress) {
	if b.next == nil {
		return
	}
	b.report(EventProgress, generationID, b.next.NotifyProgress(ctx, userID, generationID, p))
}

// Completed delivers the completion event.
func (b *BestEffort) Completed(ctx context.Context, userID, generationID string, c Completion) {
	if b.next == nil {
		return
	}
	b.report(EventCompleted, generationID, b.next.NotifyCompleted(ctx, userID, generationID, c))
}

// Failed delivers the failure event.
func (b *BestEffort) Failed(ctx context.Context, userID, generationID, message string) {
	if b.next == nil {
		return
	}
	b.report(EventFailed, generationID, b.next.NotifyFailed(ctx, userID, generationID, message))
}

func (b *BestEffort) report(event, generationID string, err error) {
	if err == nil {
		return
	}
	b.logger.Warn("notification delivery failed",
		slog.String("event", event),
		slog.String("generation_id", generationID),
		slog.String("error", err.Error()),
	)
}

// Multi fans events out to several notifiers. Every notifier is called; the
// errors are joined.
type Multi []Notifier

// Compile-time check that Multi implements Notifier.
var _ Notifier = Multi(nil)

// NotifyStatus implements Notifier.
func (m Multi) NotifyStatus(ctx context.Context, userID, generationID, status string) error {
	var errs []error
	for _, n := range m {
		errs = append(errs, n.NotifyStatus(ctx, userID, generationID, status))
	}
	return errors.Join(errs...)
}

// NotifyProgress implements Notifier.
func (m Multi) NotifyProgress(ctx context.Context, userID, generationID string, p Progress) error {
	var errs []error
	for _, n := range m {
		errs = append(errs, n.NotifyProgress(ctx, userID, generationID, p))
	}
	return errors.Join(errs...)
}

// NotifyCompleted implements Notifier.
func (m Multi) NotifyCompleted(ctx context.Context, userID, generationID string, c Completion) error {
	var errs []error
	for _, n := range m {
		errs = append(errs, n.NotifyCompleted(ctx, userID, generationID, c))
	}
	return errors.Join(errs...)
}

// NotifyFailed implements Notifier.
func (m Multi) NotifyFailed(ctx context.Context, userID, generationID, message string) error {
	var errs []error
	for _, n := range m {
		errs = append(errs, n.NotifyFailed(ctx, userID, generationID, message))
	}
	return errors.Join(errs...)
}
