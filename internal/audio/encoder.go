// Package audio merges independently synthesized audio segments into a single
// file. Encoding work is delegated to an Encoder so the merge algorithm can be
// exercised without a real transcoder.
package audio

import (
	"context"
	"strings"
)

// Info describes an encoded audio file.
type Info struct {
	DurationMs int64
	SampleRate int
	Channels   int
	Codec      string
}

// ConcatMode selects how segments are joined.
type ConcatMode int

const (
	// ConcatCopy joins segments without re-encoding.
	ConcatCopy ConcatMode = iota
	// ConcatReencode decodes and re-encodes every segment.
	ConcatReencode
)

func (m ConcatMode) String() string {
	if m == ConcatReencode {
		return "reencode"
	}
	return "copy"
}

// ConcatOptions configures a concat call.
type ConcatOptions struct {
	Mode        ConcatMode
	Format      string
	BitrateKbps int
}

// Encoder is the transcode/concat capability used by Merger.
type Encoder interface {
	// Probe reads duration and stream parameters of a file.
	Probe(ctx context.Context, path string) (Info, error)

	// GenerateSilence writes a silent clip in the format container matching
	// like's codec, sample rate and channels.
	GenerateSilence(ctx context.Context, path string, durationMs int64, like Info, format string) error

	// Concat joins inputs in order into output.
	Concat(ctx context.Context, inputs []string, output string, opts ConcatOptions) error
}

var contentTypes = map[string]string{
	"mp3":  "audio/mpeg",
	"wav":  "audio/wav",
	"ogg":  "audio/ogg",
	"opus": "audio/ogg",
	"flac": "audio/flac",
	"aac":  "audio/aac",
	"m4a":  "audio/mp4",
}

// ContentTypeFor returns the MIME type for an output format.
func ContentTypeFor(format string) string {
	if ct, ok := contentTypes[NormalizeFormat(format)]; ok {
		return ct
	}
	return "application/octet-stream"
}

// SupportedFormat reports whether format is a known output format.
func SupportedFormat(format string) bool {
	_, ok := contentTypes[NormalizeFormat(format)]
	return ok
}

// NormalizeFormat lowercases a format name and strips a leading dot.
// Empty input selects DefaultFormat.
func NormalizeFormat(format string) string {
	f := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(format), "."))
	if f == "" {
		return DefaultFormat
	}
	return f
}
