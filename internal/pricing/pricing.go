// Package pricing computes character-based synthesis costs and credit counts.
package pricing

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/maauso/narration-api/internal/provider"
)

var thousand = decimal.NewFromInt(1000)

// Config holds the pricing configuration.
type Config struct {
	// Currency is the ISO code reported on estimates.
	Currency string
	// CostPerCredit converts monetary cost to credits.
	CostPerCredit decimal.Decimal
	// GenericRate is the per-1K rate used when nothing else matches.
	GenericRate decimal.Decimal
	// ProviderRates override the catalog rate per provider.
	ProviderRates map[provider.ID]decimal.Decimal
	// VoiceRates override every other rate for a voice.
	VoiceRates map[string]decimal.Decimal
}

// DefaultConfig returns USD pricing with one credit per cent.
func DefaultConfig() Config {
	return Config{
		Currency:      "USD",
		CostPerCredit: decimal.RequireFromString("0.01"),
		GenericRate:   decimal.RequireFromString("0.015"),
	}
}

// Context is the input for one estimate.
type Context struct {
	CharacterCount int
	Provider       provider.ID
	VoiceID        string
}

// Estimate is the price of synthesizing a number of characters.
type Estimate struct {
	Provider        provider.ID     `json:"provider"`
	CharacterCount  int             `json:"character_count"`
	RatePerThousand decimal.Decimal `json:"rate_per_thousand"`
	EstimatedCost   decimal.Decimal `json:"estimated_cost"`
	Currency        string          `json:"currency"`
	CreditsRequired int64           `json:"credits_required"`
}

// Usage is the characters actually synthesized by one provider.
type Usage struct {
	Provider       provider.ID
	VoiceID        string
	CharacterCount int
}

// Pricer prices synthesis work against an immutable provider catalog.
type Pricer struct {
	catalog *provider.Catalog
	cfg     Config
}

// New creates a Pricer. Zero-valued config fields take their defaults.
func New(catalog *provider.Catalog, cfg Config) *Pricer {
	def := DefaultConfig()
	if cfg.Currency == "" {
		cfg.Currency = def.Currency
	}
	if !cfg.CostPerCredit.IsPositive() {
		cfg.CostPerCredit = def.CostPerCredit
	}
	if !cfg.GenericRate.IsPositive() {
		cfg.GenericRate = def.GenericRate
	}
	return &Pricer{catalog: catalog, cfg: cfg}
}

// Currency returns the configured currency code.
func (p *Pricer) Currency() string {
	return p.cfg.Currency
}

// RateFor resolves the per-1K rate: voice override, then provider override,
// then the catalog rate, then the generic rate.
func (p *Pricer) RateFor(id provider.ID, voiceID string) decimal.Decimal {
	if voiceID != "" {
		if r, ok := p.cfg.VoiceRates[voiceID]; ok {
			return r
		}
	}
	if r, ok := p.cfg.ProviderRates[id]; ok {
		return r
	}
	if ch, ok := p.catalog.Characteristics(id); ok {
		return ch.CostPerThousandChars
	}
	return p.cfg.GenericRate
}

// Cost returns the cost of a number of characters at a per-1K rate.
func Cost(chars int, ratePerThousand decimal.Decimal) decimal.Decimal {
	return ratePerThousand.Mul(decimal.NewFromInt(int64(chars))).Div(thousand)
}

// Estimate prices a context.
func (p *Pricer) Estimate(c Context) Estimate {
	rate := p.RateFor(c.Provider, c.VoiceID)
	cost := Cost(c.CharacterCount, rate)
	return Estimate{
		Provider:        c.Provider,
		CharacterCount:  c.CharacterCount,
		RatePerThousand: rate,
		EstimatedCost:   cost,
		Currency:        p.cfg.Currency,
		CreditsRequired: p.CreditsFor(cost),
	}
}

// AllProviderEstimates prices the context on every catalog provider, available
// or not, sorted ascending by cost. Equal costs keep catalog order.
func (p *Pricer) AllProviderEstimates(c Context) []Estimate {
	ids := p.catalog.Providers()
	out := make([]Estimate, 0, len(ids))
	for _, id := range ids {
		c.Provider = id
		out = append(out, p.Estimate(c))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].EstimatedCost.LessThan(out[j].EstimatedCost)
	})
	return out
}

// CreditsFor converts a cost to credits, rounding up. Non-positive costs are free.
func (p *Pricer) CreditsFor(cost decimal.Decimal) int64 {
	if !cost.IsPositive() {
		return 0
	}
	return cost.Div(p.cfg.CostPerCredit).Ceil().IntPart()
}

// ActualCost sums the cost of the characters each provider synthesized.
func (p *Pricer) ActualCost(usage []Usage) decimal.Decimal {
	total := decimal.Zero
	for _, u := range usage {
		total = total.Add(Cost(u.CharacterCount, p.RateFor(u.Provider, u.VoiceID)))
	}
	return total
}
