package audio

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrFFprobeExecution is returned when ffprobe fails.
var ErrFFprobeExecution = errors.New("ffprobe execution failed")

// FFmpegEncoder implements Encoder using the ffmpeg and ffprobe CLIs.
type FFmpegEncoder struct {
	ffmpegPath  string
	ffprobePath string
}

// Compile-time check that FFmpegEncoder implements Encoder.
var _ Encoder = (*FFmpegEncoder)(nil)

// NewFFmpegEncoder creates an encoder. Empty paths default to the binaries found in PATH.
func NewFFmpegEncoder(ffmpegPath, ffprobePath string) *FFmpegEncoder {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFmpegEncoder{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath}
}

type probeOutput struct {
	Streams []struct {
		CodecName  string `json:"codec_name"`
		SampleRate string `json:"sample_rate"`
		Channels   int    `json:"channels"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe returns the duration and first audio stream parameters of a file.
func (e *FFmpegEncoder) Probe(ctx context.Context, path string) (Info, error) {
	// #nosec G204 - ffprobePath is set by the application, not user input
	cmd := exec.CommandContext(ctx, e.ffprobePath,
		"-v", "error",
		"-select_streams", "a:0",
		"-show_entries", "format=duration:stream=codec_name,sample_rate,channels",
		"-of", "json",
		path,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return Info{}, fmt.Errorf("ffprobe cancelled: %w", ctx.Err())
		}
		return Info{}, fmt.Errorf("%w: %w, stderr: %s", ErrFFprobeExecution, err, stderr.String())
	}

	return parseProbeOutput(stdout.Bytes())
}

func parseProbeOutput(data []byte) (Info, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return Info{}, fmt.Errorf("parse ffprobe output: %w", err)
	}

	seconds, err := strconv.ParseFloat(strings.TrimSpace(out.Format.Duration), 64)
	if err != nil {
		return Info{}, fmt.Errorf("parse duration %q: %w", out.Format.Duration, err)
	}

	info := Info{DurationMs: int64(seconds*1000 + 0.5)}
	if len(out.Streams) > 0 {
		s := out.Streams[0]
		info.Codec = s.CodecName
		info.Channels = s.Channels
		info.SampleRate, _ = strconv.Atoi(s.SampleRate)
	}
	return info, nil
}

// GenerateSilence renders durationMs of silence with the codec, sample rate
// and channel layout of like, in the format container.
func (e *FFmpegEncoder) GenerateSilence(ctx context.Context, path string, durationMs int64, like Info, format string) error {
	sampleRate := like.SampleRate
	if sampleRate <= 0 {
		sampleRate = 44100
	}
	layout := "mono"
	if like.Channels >= 2 {
		layout = "stereo"
	}

	args := []string{
		"-y",
		"-f", "lavfi",
		"-i", fmt.Sprintf("anullsrc=channel_layout=%s:sample_rate=%d", layout, sampleRate),
		"-t", fmt.Sprintf("%.3f", float64(durationMs)/1000),
	}
	args = append(args, silenceCodecArgs(like, format)...)
	args = append(args, path)

	return e.runFFmpeg(ctx, args)
}

// Concat joins inputs with the concat demuxer, either by stream copy or by re-encoding.
func (e *FFmpegEncoder) Concat(ctx context.Context, inputs []string, output string, opts ConcatOptions) error {
	if len(inputs) == 0 {
		return ErrNoSegments
	}

	listFile, err := createConcatList(filepath.Dir(output), inputs)
	if err != nil {
		return fmt.Errorf("create concat list: %w", err)
	}
	defer func() { _ = os.Remove(listFile) }()

	args := []string{
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", listFile,
	}
	if opts.Mode == ConcatCopy {
		args = append(args, "-c", "copy")
	} else {
		args = append(args, codecArgs(opts.Format, opts.BitrateKbps)...)
	}
	args = append(args, output)

	return e.runFFmpeg(ctx, args)
}

// codecArgs returns the encoder flags for a container format.
func codecArgs(format string, bitrateKbps int) []string {
	if bitrateKbps <= 0 {
		bitrateKbps = DefaultBitrateKbps
	}
	bitrate := fmt.Sprintf("%dk", bitrateKbps)

	switch NormalizeFormat(format) {
	case "wav":
		return []string{"-c:a", "pcm_s16le"}
	case "flac":
		return []string{"-c:a", "flac"}
	case "ogg", "opus":
		return []string{"-c:a", "libopus", "-b:a", bitrate}
	case "aac", "m4a":
		return []string{"-c:a", "aac", "-b:a", bitrate}
	default:
		return []string{"-c:a", "libmp3lame", "-b:a", bitrate}
	}
}

// silenceCodecArgs picks the encoder for like's codec, falling back to the
// default encoder of format when the codec is unknown.
func silenceCodecArgs(like Info, format string) []string {
	codec := strings.ToLower(like.Codec)
	switch {
	case codec == "pcm":
		return []string{"-c:a", "pcm_s16le"}
	case strings.HasPrefix(codec, "pcm_"), codec == "aac", codec == "flac":
		return []string{"-c:a", codec}
	case codec == "mp3":
		return []string{"-c:a", "libmp3lame"}
	case codec == "opus":
		return []string{"-c:a", "libopus"}
	case codec == "vorbis":
		return []string{"-c:a", "libvorbis"}
	}
	return codecArgs(format, 0)
}

// createConcatList writes the concat demuxer list file into dir.
func createConcatList(dir string, paths []string) (string, error) {
	f, err := os.CreateTemp(dir, "concat-*.txt")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer func() { _ = f.Close() }()

	for _, path := range paths {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("get absolute path for %s: %w", path, err)
		}
		escapedPath := strings.ReplaceAll(absPath, "'", "'\\''")
		if _, err := fmt.Fprintf(f, "file '%s'\n", escapedPath); err != nil {
			return "", fmt.Errorf("write to concat list: %w", err)
		}
	}

	return f.Name(), nil
}

// runFFmpeg executes ffmpeg and returns an FFmpegError carrying stderr on failure.
func (e *FFmpegEncoder) runFFmpeg(ctx context.Context, args []string) error {
	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, e.ffmpegPath, append([]string{"-hide_banner", "-loglevel", "error"}, args...)...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("ffmpeg cancelled: %w", ctx.Err())
		}
		return &FFmpegError{
			Args:   args,
			Stderr: stderr.String(),
			Err:    err,
		}
	}

	return nil
}

// FFmpegError represents an error from running ffmpeg, including the stderr output.
type FFmpegError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *FFmpegError) Error() string {
	return fmt.Sprintf("ffmpeg error: %v\nargs: %v\nstderr: %s", e.Err, e.Args, e.Stderr)
}

func (e *FFmpegError) Unwrap() error {
	return e.Err
}
