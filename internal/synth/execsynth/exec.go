// Package execsynth runs a local speech engine as a child process.
//
// The engine reads one JSON request on stdin and writes newline-delimited JSON
// chunks carrying base64 PCM on stdout. Chunks are assembled into a WAV file.
package execsynth

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/mattn/go-shellwords"
	"golang.org/x/sync/semaphore"

	"github.com/maauso/narration-api/internal/audio"
	"github.com/maauso/narration-api/internal/provider"
)

// ErrEmptyCommand is returned when the engine command line is empty.
var ErrEmptyCommand = errors.New("execsynth: command is empty")

var _ provider.Synthesizer = (*Synth)(nil)

// Config configures the engine process.
type Config struct {
	// Command is the engine command line, parsed with shell quoting rules.
	Command string
	// SampleRate is the PCM sample rate the engine is asked to produce.
	SampleRate int
	// Channels is the PCM channel count.
	Channels int
	// Parallelism bounds concurrent engine processes. Defaults to 1.
	Parallelism int
	// Voices are reported by ListVoices.
	Voices []provider.VoiceInfo
}

// Synth is a provider.Synthesizer backed by a local command.
type Synth struct {
	cmd        []string
	sampleRate int
	channels   int
	voices     []provider.VoiceInfo
	sem        *semaphore.Weighted
}

type execRequest struct {
	Text       string            `json:"text"`
	Voice      string            `json:"voice"`
	SampleRate int               `json:"sample_rate"`
	Channels   int               `json:"channels"`
	Settings   provider.Settings `json:"settings"`
}

type execResponse struct {
	PCMBase64 string `json:"pcm_base64"`
	Final     bool   `json:"final"`
	Error     string `json:"error,omitempty"`
}

// New parses the command line and returns a synthesizer.
func New(cfg Config) (*Synth, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse synth command: %w", err)
	}
	if len(args) == 0 {
		return nil, ErrEmptyCommand
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 22050
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 1
	}
	return &Synth{
		cmd:        args,
		sampleRate: cfg.SampleRate,
		channels:   cfg.Channels,
		voices:     cfg.Voices,
		sem:        semaphore.NewWeighted(int64(cfg.Parallelism)),
	}, nil
}

// Synthesize runs the engine for one request and returns WAV audio.
func (s *Synth) Synthesize(ctx context.Context, req provider.Request) (*provider.Result, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("execsynth: %w", err)
	}
	defer s.sem.Release(1)

	payload, err := json.Marshal(execRequest{
		Text:       req.Text,
		Voice:      req.VoiceID,
		SampleRate: s.sampleRate,
		Channels:   s.channels,
		Settings:   req.Settings,
	})
	if err != nil {
		return nil, fmt.Errorf("execsynth: marshal request: %w", err)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, s.cmd[0], s.cmd[1:]...)
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("execsynth: %s: %w: %s", s.cmd[0], err, strings.TrimSpace(stderr.String()))
	}

	pcm, err := readChunks(&stdout)
	if err != nil {
		return nil, err
	}
	if len(pcm) == 0 {
		return nil, provider.ErrEmptyAudio
	}

	samples := audio.PCM16ToSamples(pcm)
	wavData, err := audio.EncodeWAV(samples, s.sampleRate, s.channels)
	if err != nil {
		return nil, fmt.Errorf("execsynth: %w", err)
	}

	frames := int64(len(samples) / s.channels)
	return &provider.Result{
		Audio:      wavData,
		Format:     "wav",
		DurationMs: frames * 1000 / int64(s.sampleRate),
	}, nil
}

func readChunks(stdout *bytes.Buffer) ([]byte, error) {
	var pcm []byte
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp execResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			return nil, fmt.Errorf("execsynth: decode chunk: %w", err)
		}
		if resp.Error != "" {
			return nil, fmt.Errorf("execsynth: engine error: %s", resp.Error)
		}
		chunk, err := base64.StdEncoding.DecodeString(resp.PCMBase64)
		if err != nil {
			return nil, fmt.Errorf("execsynth: decode pcm: %w", err)
		}
		pcm = append(pcm, chunk...)
		if resp.Final {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("execsynth: read output: %w", err)
	}
	return pcm, nil
}

// ListVoices returns the configured voices.
func (s *Synth) ListVoices(context.Context) ([]provider.VoiceInfo, error) {
	return s.voices, nil
}
