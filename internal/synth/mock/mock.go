// Package mock provides a deterministic synthesizer that renders a quiet tone
// whose length follows the text length. It is used for local development and
// when no vendor credentials are configured.
package mock

import (
	"context"
	"math"
	"time"
	"unicode/utf8"

	"github.com/maauso/narration-api/internal/audio"
	"github.com/maauso/narration-api/internal/provider"
)

const (
	defaultSampleRate  = 16000
	defaultCharsPerSec = 15
	minDurationMs      = 200
	toneFrequencyHz    = 220.0
	toneAmplitude      = 1200.0
)

var _ provider.Synthesizer = (*Synth)(nil)

// Synth renders WAV audio without any external service.
type Synth struct {
	id          provider.ID
	sampleRate  int
	charsPerSec int
	latency     time.Duration
}

// Option configures a Synth.
type Option func(*Synth)

// WithLatency delays every call, honouring context cancellation.
func WithLatency(d time.Duration) Option {
	return func(s *Synth) {
		s.latency = d
	}
}

// WithSampleRate sets the output sample rate.
func WithSampleRate(rate int) Option {
	return func(s *Synth) {
		if rate > 0 {
			s.sampleRate = rate
		}
	}
}

// New returns a mock synthesizer standing in for provider id.
func New(id provider.ID, opts ...Option) *Synth {
	s := &Synth{id: id, sampleRate: defaultSampleRate, charsPerSec: defaultCharsPerSec}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DurationFor returns the audio length rendered for text.
func (s *Synth) DurationFor(text string) time.Duration {
	ms := int64(utf8.RuneCountInString(text)) * 1000 / int64(s.charsPerSec)
	if ms < minDurationMs {
		ms = minDurationMs
	}
	return time.Duration(ms) * time.Millisecond
}

// Synthesize renders a tone as long as the text would take to read.
func (s *Synth) Synthesize(ctx context.Context, req provider.Request) (*provider.Result, error) {
	if s.latency > 0 {
		timer := time.NewTimer(s.latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dur := s.DurationFor(req.Text)
	n := int(dur.Milliseconds()) * s.sampleRate / 1000
	samples := make([]int, n)
	for i := range samples {
		samples[i] = int(toneAmplitude * math.Sin(2*math.Pi*toneFrequencyHz*float64(i)/float64(s.sampleRate)))
	}

	data, err := audio.EncodeWAV(samples, s.sampleRate, 1)
	if err != nil {
		return nil, err
	}
	return &provider.Result{Audio: data, Format: "wav", DurationMs: dur.Milliseconds()}, nil
}

// ListVoices reports a single voice named after the provider.
func (s *Synth) ListVoices(context.Context) ([]provider.VoiceInfo, error) {
	return []provider.VoiceInfo{{ID: string(s.id) + "-mock", Name: "Mock " + string(s.id), Language: "en"}}, nil
}
