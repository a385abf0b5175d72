package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

const (
	// DefaultFormat is the output format when none is requested.
	DefaultFormat = "mp3"
	// DefaultBitrateKbps is the re-encode bitrate when none is requested.
	DefaultBitrateKbps = 128
)

// ErrNoSegments is returned when a merge is requested for an empty segment list.
var ErrNoSegments = errors.New("audio: no segments to merge")

// MergeOptions configures a merge.
type MergeOptions struct {
	// OutputFormat is the container of the merged file, e.g. "mp3".
	OutputFormat string
	// SilenceBetweenSegmentsMs inserts silence between adjacent segments when positive.
	SilenceBetweenSegmentsMs int
	// BitrateKbps is used when segments must be re-encoded.
	BitrateKbps int
}

// MergeResult is the merged audio.
type MergeResult struct {
	AudioData   []byte
	ContentType string
	DurationMs  int64
	SizeBytes   int64
}

// MergeError is returned when both the copy and the re-encode strategies fail.
type MergeError struct {
	CopyErr     error
	ReencodeErr error
}

func (e *MergeError) Error() string {
	return fmt.Sprintf("audio merge failed: stream copy: %v; re-encode: %v", e.CopyErr, e.ReencodeErr)
}

func (e *MergeError) Unwrap() []error {
	return []error{e.CopyErr, e.ReencodeErr}
}

// Merger concatenates audio segments through an Encoder.
type Merger struct {
	encoder Encoder
	tempDir string
	logger  *slog.Logger
}

// NewMerger creates a Merger. Scratch directories are created under tempDir,
// or the system temp directory when empty.
func NewMerger(encoder Encoder, tempDir string, logger *slog.Logger) *Merger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Merger{encoder: encoder, tempDir: tempDir, logger: logger}
}

// Merge joins segments in order. A single segment already in the output
// format is returned unchanged; any other segment set is concatenated and,
// when the segments are not in the output format, re-encoded.
// Every call works in its own scratch directory, removed before returning.
func (m *Merger) Merge(ctx context.Context, segments [][]byte, opts MergeOptions) (*MergeResult, error) {
	if len(segments) == 0 {
		return nil, ErrNoSegments
	}

	format := NormalizeFormat(opts.OutputFormat)
	if opts.BitrateKbps <= 0 {
		opts.BitrateKbps = DefaultBitrateKbps
	}

	if m.tempDir != "" {
		if err := os.MkdirAll(m.tempDir, 0750); err != nil {
			return nil, fmt.Errorf("create temp directory: %w", err)
		}
	}
	scratch, err := os.MkdirTemp(m.tempDir, "merge-*")
	if err != nil {
		return nil, fmt.Errorf("create scratch directory: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			m.logger.Warn("failed to remove merge scratch directory",
				slog.String("dir", scratch),
				slog.String("error", err.Error()),
			)
		}
	}()

	paths := make([]string, len(segments))
	formats := make([]string, len(segments))
	copyable := true
	for i, data := range segments {
		formats[i] = segmentFormat(data, format)
		if formats[i] != format {
			copyable = false
		}
		paths[i] = filepath.Join(scratch, fmt.Sprintf("segment_%04d.%s", i, formats[i]))
		if err := os.WriteFile(paths[i], data, 0600); err != nil {
			return nil, fmt.Errorf("write segment %d: %w", i, err)
		}
	}

	if len(segments) == 1 && copyable {
		info, err := m.encoder.Probe(ctx, paths[0])
		if err != nil {
			return nil, fmt.Errorf("probe segment: %w", err)
		}
		return &MergeResult{
			AudioData:   segments[0],
			ContentType: ContentTypeFor(format),
			DurationMs:  info.DurationMs,
			SizeBytes:   int64(len(segments[0])),
		}, nil
	}

	if !copyable {
		m.logger.Debug("segments differ from output format, re-encoding",
			slog.String("segment_format", formats[0]),
			slog.String("output_format", format),
		)
	}

	inputs := paths
	if opts.SilenceBetweenSegmentsMs > 0 && len(paths) > 1 {
		inputs, err = m.interleaveSilence(ctx, scratch, paths, int64(opts.SilenceBetweenSegmentsMs), formats[0])
		if err != nil {
			return nil, err
		}
	}

	output := filepath.Join(scratch, "merged."+format)
	if err := m.concat(ctx, inputs, output, format, opts.BitrateKbps, copyable); err != nil {
		return nil, err
	}

	info, err := m.encoder.Probe(ctx, output)
	if err != nil {
		return nil, fmt.Errorf("probe merged output: %w", err)
	}

	data, err := os.ReadFile(output) // #nosec G304 - output is inside our scratch directory
	if err != nil {
		return nil, fmt.Errorf("read merged output: %w", err)
	}

	return &MergeResult{
		AudioData:   data,
		ContentType: ContentTypeFor(format),
		DurationMs:  info.DurationMs,
		SizeBytes:   int64(len(data)),
	}, nil
}

// segmentFormat is the container detected in data, or fallback when the bytes
// are not recognised.
func segmentFormat(data []byte, fallback string) string {
	if f := DetectFormat(data); f != "" {
		return f
	}
	return fallback
}

// interleaveSilence generates one silence clip in the codec and container of
// the first segment and places it between every adjacent pair of segments.
func (m *Merger) interleaveSilence(ctx context.Context, scratch string, paths []string, silenceMs int64, format string) ([]string, error) {
	like, err := m.encoder.Probe(ctx, paths[0])
	if err != nil {
		return nil, fmt.Errorf("probe first segment: %w", err)
	}

	silence := filepath.Join(scratch, "silence."+format)
	if err := m.encoder.GenerateSilence(ctx, silence, silenceMs, like, format); err != nil {
		return nil, fmt.Errorf("generate silence: %w", err)
	}

	out := make([]string, 0, 2*len(paths)-1)
	for i, p := range paths {
		if i > 0 {
			out = append(out, silence)
		}
		out = append(out, p)
	}
	return out, nil
}

// concat tries a stream copy first and falls back to re-encoding. Without
// allowCopy it re-encodes straight away.
func (m *Merger) concat(ctx context.Context, inputs []string, output, format string, bitrateKbps int, allowCopy bool) error {
	reencode := ConcatOptions{Mode: ConcatReencode, Format: format, BitrateKbps: bitrateKbps}
	if !allowCopy {
		if err := m.encoder.Concat(ctx, inputs, output, reencode); err != nil {
			return fmt.Errorf("re-encode to %s: %w", format, err)
		}
		return nil
	}

	copyErr := m.encoder.Concat(ctx, inputs, output, ConcatOptions{Mode: ConcatCopy, Format: format})
	if copyErr == nil {
		return nil
	}
	if ctx.Err() != nil {
		return copyErr
	}

	m.logger.Warn("stream copy concat failed, re-encoding",
		slog.Int("inputs", len(inputs)),
		slog.String("error", copyErr.Error()),
	)

	reencodeErr := m.encoder.Concat(ctx, inputs, output, reencode)
	if reencodeErr == nil {
		return nil
	}

	return &MergeError{CopyErr: copyErr, ReencodeErr: reencodeErr}
}
