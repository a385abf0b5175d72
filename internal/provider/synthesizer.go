package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Static errors for synthesizer lookups.
var (
	// ErrNotRegistered is returned when no synthesizer is registered for a provider.
	ErrNotRegistered = errors.New("provider: synthesizer not registered")
	// ErrEmptyAudio is returned by adapters when the vendor returned no audio.
	ErrEmptyAudio = errors.New("provider: empty audio returned")
)

// Request is a single synthesis call.
type Request struct {
	// Text is the segment text to render.
	Text string
	// VoiceID is the vendor-specific voice identifier.
	VoiceID string
	// Settings are the vendor-neutral voice settings for the call.
	Settings Settings
	// OutputFormat is the requested container, e.g. "mp3" or "wav".
	OutputFormat string
}

// Result is the audio produced for one request.
type Result struct {
	Audio      []byte
	Format     string
	DurationMs int64
}

// VoiceInfo describes a voice as reported by a vendor.
type VoiceInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Language string `json:"language,omitempty"`
}

// Synthesizer renders text to audio for one vendor.
type Synthesizer interface {
	// Synthesize renders the request text and returns the encoded audio.
	Synthesize(ctx context.Context, req Request) (*Result, error)

	// ListVoices returns the vendor voice catalog.
	ListVoices(ctx context.Context) ([]VoiceInfo, error)
}

// Registry maps provider IDs to their synthesizer adapters.
type Registry struct {
	mu    sync.RWMutex
	synth map[ID]Synthesizer
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{synth: make(map[ID]Synthesizer)}
}

// Register adds or replaces the synthesizer for a provider.
func (r *Registry) Register(id ID, s Synthesizer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.synth[id] = s
}

// Get returns the synthesizer registered for id.
func (r *Registry) Get(id ID) (Synthesizer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.synth[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, id)
	}
	return s, nil
}

// Available returns registered providers in catalog enumeration order.
// Providers unknown to the catalog are not reported.
func (r *Registry) Available(c *Catalog) []ID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ID, 0, len(r.synth))
	for _, id := range c.Providers() {
		if _, ok := r.synth[id]; ok {
			out = append(out, id)
		}
	}
	return out
}
