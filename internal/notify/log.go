package notify

import (
	"context"
	"log/slog"
)

// Compile-time check that LogNotifier implements Notifier.
var _ Notifier = (*LogNotifier)(nil)

// LogNotifier writes events to a structured logger. It is the default when no
// message bus is configured.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// NotifyStatus implements Notifier.
func (n *LogNotifier) NotifyStatus(ctx context.Context, userID, generationID, status string) error {
	n.logger.InfoContext(ctx, "generation status changed",
		slog.String("user_id", userID),
		slog.String("generation_id", generationID),
		slog.String("status", status),
	)
	return nil
}

// NotifyProgress implements Notifier.
func (n *LogNotifier) NotifyProgress(ctx context.Context, userID, generationID string, p Progress) error {
	n.logger.InfoContext(ctx, "generation progress",
		slog.String("user_id", userID),
		slog.String("generation_id", generationID),
		slog.Int("segments_completed", p.SegmentsCompleted),
		slog.Int("segment_count", p.SegmentCount),
		slog.Int("progress", p.Percent),
	)
	return nil
}

// NotifyCompleted implements Notifier.
func (n *LogNotifier) NotifyCompleted(ctx context.Context, userID, generationID string, c Completion) error {
	n.logger.InfoContext(ctx, "generation completed",
		slog.String("user_id", userID),
		slog.String("generation_id", generationID),
		slog.String("audio_url", c.AudioURL),
		slog.Int64("duration_ms", c.DurationMs),
		slog.String("actual_cost", c.ActualCost),
	)
	return nil
}

// NotifyFailed implements Notifier.
func (n *LogNotifier) NotifyFailed(ctx context.Context, userID, generationID, message string) error {
	n.logger.WarnContext(ctx, "generation failed",
		slog.String("user_id", userID),
		slog.String("generation_id", generationID),
		slog.String("error", message),
	)
	return nil
}
