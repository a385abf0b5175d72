package config

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/maauso/narration-api/internal/provider"
)

// ProviderTable is the content of PROVIDERS_FILE: catalog overrides, rate
// overrides and extra narration voices, applied once at startup.
type ProviderTable struct {
	Providers     []provider.Entry
	ProviderRates map[provider.ID]decimal.Decimal
	VoiceRates    map[string]decimal.Decimal
	Voices        []provider.Voice
}

type providersFile struct {
	Providers []struct {
		ID                   string  `yaml:"id"`
		CostPerThousandChars string  `yaml:"cost_per_thousand_chars"`
		AvgLatencyMs         int     `yaml:"avg_latency_ms"`
		QualityRating        float64 `yaml:"quality_rating"`
	} `yaml:"providers"`
	Rates struct {
		Providers map[string]string `yaml:"providers"`
		Voices    map[string]string `yaml:"voices"`
	} `yaml:"rates"`
	Voices []struct {
		ID             string            `yaml:"id"`
		Name           string            `yaml:"name"`
		Preset         string            `yaml:"preset"`
		Exclusive      string            `yaml:"exclusive"`
		ProviderVoices map[string]string `yaml:"provider_voices"`
	} `yaml:"voices"`
}

// LoadProviderTable reads and parses a providers file.
func LoadProviderTable(path string) (*ProviderTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read providers file: %w", err)
	}
	return ParseProviderTable(data)
}

// ParseProviderTable parses providers file content.
func ParseProviderTable(data []byte) (*ProviderTable, error) {
	var raw providersFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("config: parse providers file: %w", err)
	}

	t := &ProviderTable{
		ProviderRates: make(map[provider.ID]decimal.Decimal, len(raw.Rates.Providers)),
		VoiceRates:    make(map[string]decimal.Decimal, len(raw.Rates.Voices)),
	}

	for _, p := range raw.Providers {
		if p.ID == "" {
			return nil, fmt.Errorf("config: providers file: provider without id")
		}
		cost, err := decimal.NewFromString(p.CostPerThousandChars)
		if err != nil {
			return nil, fmt.Errorf("config: provider %s cost: %w", p.ID, err)
		}
		t.Providers = append(t.Providers, provider.Entry{
			ID: provider.ID(p.ID),
			Characteristics: provider.Characteristics{
				CostPerThousandChars: cost,
				AvgLatencyMs:         p.AvgLatencyMs,
				QualityRating:        p.QualityRating,
			},
		})
	}

	for id, rate := range raw.Rates.Providers {
		d, err := decimal.NewFromString(rate)
		if err != nil {
			return nil, fmt.Errorf("config: rate for provider %s: %w", id, err)
		}
		t.ProviderRates[provider.ID(id)] = d
	}
	for id, rate := range raw.Rates.Voices {
		d, err := decimal.NewFromString(rate)
		if err != nil {
			return nil, fmt.Errorf("config: rate for voice %s: %w", id, err)
		}
		t.VoiceRates[id] = d
	}

	for _, v := range raw.Voices {
		if v.ID == "" {
			return nil, fmt.Errorf("config: providers file: voice without id")
		}
		voices := make(map[provider.ID]string, len(v.ProviderVoices))
		for p, vendor := range v.ProviderVoices {
			voices[provider.ID(p)] = vendor
		}
		preset := provider.Preset(v.Preset)
		if preset == "" {
			preset = provider.PresetNeutral
		}
		t.Voices = append(t.Voices, provider.Voice{
			ID:             v.ID,
			Name:           v.Name,
			Preset:         preset,
			Exclusive:      provider.ID(v.Exclusive),
			ProviderVoices: voices,
		})
	}

	return t, nil
}
