package provider

import (
	"errors"
	"fmt"
)

// ErrVoiceNotFound is returned when a narration voice is unknown.
var ErrVoiceNotFound = errors.New("provider: voice not found")

// Preset is a named delivery style for a narration voice.
type Preset string

// Voice presets.
const (
	PresetNeutral    Preset = "neutral"
	PresetNarrative  Preset = "narrative"
	PresetExpressive Preset = "expressive"
	PresetCalm       Preset = "calm"
)

// Settings are the vendor-neutral knobs passed with every synthesis request.
// Adapters translate them to their own request shape.
type Settings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	Speed           float64 `json:"speed"`
}

type settingsKey struct {
	preset   Preset
	provider ID
}

// neutralSettings apply when no table entry matches.
var neutralSettings = Settings{Stability: 0.5, SimilarityBoost: 0.75, Style: 0, Speed: 1.0}

// settingsTable maps (preset, provider) to the settings that produce the preset on that vendor.
// A zero provider key is the preset default for any vendor.
var settingsTable = map[settingsKey]Settings{
	{PresetNeutral, ""}:    neutralSettings,
	{PresetNarrative, ""}:  {Stability: 0.6, SimilarityBoost: 0.75, Style: 0.1, Speed: 0.95},
	{PresetExpressive, ""}: {Stability: 0.35, SimilarityBoost: 0.8, Style: 0.6, Speed: 1.05},
	{PresetCalm, ""}:       {Stability: 0.8, SimilarityBoost: 0.7, Style: 0, Speed: 0.9},

	{PresetNarrative, ElevenLabs}:  {Stability: 0.55, SimilarityBoost: 0.8, Style: 0.2, Speed: 1.0},
	{PresetExpressive, ElevenLabs}: {Stability: 0.3, SimilarityBoost: 0.85, Style: 0.7, Speed: 1.0},
	{PresetNarrative, OpenAI}:      {Speed: 0.95},
	{PresetExpressive, OpenAI}:     {Speed: 1.1},
	{PresetCalm, OpenAI}:           {Speed: 0.85},
	{PresetNarrative, Polly}:       {Speed: 0.9},
	{PresetCalm, Yandex}:           {Speed: 0.85},
}

// SettingsFor returns the settings for a preset on a provider, falling back to
// the preset default and then to neutral settings.
func SettingsFor(preset Preset, id ID) Settings {
	if s, ok := settingsTable[settingsKey{preset, id}]; ok {
		return s
	}
	if s, ok := settingsTable[settingsKey{preset, ""}]; ok {
		return s
	}
	return neutralSettings
}

// Voice is a narration voice offered to users.
type Voice struct {
	// ID is the public voice identifier.
	ID string
	// Name is a display name.
	Name string
	// Preset is the delivery style used to derive settings.
	Preset Preset
	// Exclusive, when set, restricts the voice to a single provider.
	Exclusive ID
	// ProviderVoices maps providers to their vendor voice identifiers.
	ProviderVoices map[ID]string
}

// Lock returns the provider the voice is locked to, or "" when unrestricted.
func (v Voice) Lock() ID {
	return v.Exclusive
}

// VendorVoice returns the vendor identifier for the voice on a provider.
func (v Voice) VendorVoice(id ID) string {
	if vv, ok := v.ProviderVoices[id]; ok && vv != "" {
		return vv
	}
	return v.ID
}

// VoiceCatalog is a read-only lookup of narration voices.
type VoiceCatalog struct {
	voices map[string]Voice
	def    string
}

// DefaultVoices returns the built-in narration voices.
func DefaultVoices() []Voice {
	return []Voice{
		{
			ID:     "narrator",
			Name:   "Narrator",
			Preset: PresetNarrative,
			ProviderVoices: map[ID]string{
				ElevenLabs: "21m00Tcm4TlvDq8ikWAM",
				OpenAI:     "onyx",
				Google:     "en-US-Studio-O",
				Azure:      "en-US-GuyNeural",
				Polly:      "Matthew",
				Yandex:     "john",
				Local:      "en_US-lessac-medium",
			},
		},
		{
			ID:     "storyteller",
			Name:   "Storyteller",
			Preset: PresetExpressive,
			ProviderVoices: map[ID]string{
				ElevenLabs: "EXAVITQu4vr4xnSDxMaL",
				OpenAI:     "fable",
				Google:     "en-US-Neural2-F",
				Azure:      "en-US-JennyNeural",
				Polly:      "Joanna",
				Yandex:     "marina",
				Local:      "en_US-amy-medium",
			},
		},
		{
			ID:        "rachel",
			Name:      "Rachel",
			Preset:    PresetCalm,
			Exclusive: ElevenLabs,
			ProviderVoices: map[ID]string{
				ElevenLabs: "21m00Tcm4TlvDq8ikWAM",
			},
		},
		{
			ID:        "alena",
			Name:      "Alena",
			Preset:    PresetNeutral,
			Exclusive: Yandex,
			ProviderVoices: map[ID]string{
				Yandex: "alena",
			},
		},
	}
}

// NewVoiceCatalog builds a catalog; the first voice is the default.
func NewVoiceCatalog(voices []Voice) *VoiceCatalog {
	c := &VoiceCatalog{voices: make(map[string]Voice, len(voices))}
	for i, v := range voices {
		if i == 0 {
			c.def = v.ID
		}
		c.voices[v.ID] = v
	}
	return c
}

// Lookup returns a voice by ID. An empty ID selects the default voice.
func (c *VoiceCatalog) Lookup(id string) (Voice, error) {
	if id == "" {
		id = c.def
	}
	v, ok := c.voices[id]
	if !ok {
		return Voice{}, fmt.Errorf("%w: %s", ErrVoiceNotFound, id)
	}
	return v, nil
}
