// Package provider describes the interchangeable speech-synthesis vendors:
// their identifiers, routing/pricing characteristics, voices and the
// Synthesizer capability each vendor adapter implements.
package provider

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ID identifies a synthesis provider.
type ID string

// Known providers.
const (
	ElevenLabs ID = "elevenlabs"
	OpenAI     ID = "openai"
	Google     ID = "google"
	Azure      ID = "azure"
	Polly      ID = "polly"
	Yandex     ID = "yandex"
	Local      ID = "local"
)

// Characteristics are the static properties the router and pricer reason about.
type Characteristics struct {
	// CostPerThousandChars is the vendor list price per 1000 characters.
	CostPerThousandChars decimal.Decimal
	// AvgLatencyMs is the typical time to first audio for one request.
	AvgLatencyMs int
	// QualityRating is a subjective rating in [0, 1].
	QualityRating float64
}

// Entry pairs a provider with its characteristics.
type Entry struct {
	ID              ID
	Characteristics Characteristics
}

// DefaultEntries returns the built-in provider table in enumeration order.
func DefaultEntries() []Entry {
	return []Entry{
		{ElevenLabs, Characteristics{decimal.RequireFromString("0.30"), 800, 0.95}},
		{OpenAI, Characteristics{decimal.RequireFromString("0.015"), 500, 0.85}},
		{Google, Characteristics{decimal.RequireFromString("0.016"), 300, 0.80}},
		{Azure, Characteristics{decimal.RequireFromString("0.016"), 350, 0.82}},
		{Polly, Characteristics{decimal.RequireFromString("0.004"), 250, 0.70}},
		{Yandex, Characteristics{decimal.RequireFromString("0.012"), 400, 0.78}},
		{Local, Characteristics{decimal.Zero, 900, 0.60}},
	}
}

// Catalog is the immutable provider table shared by the router and the pricer.
// It is built once at startup; overrides are merged at construction time.
type Catalog struct {
	order []ID
	byID  map[ID]Characteristics
}

// NewCatalog builds a catalog from the default entries with overrides applied.
// Overrides for providers not in the defaults are appended in order of appearance.
func NewCatalog(overrides ...Entry) (*Catalog, error) {
	return NewCatalogFrom(DefaultEntries(), overrides...)
}

// NewCatalogFrom builds a catalog from base entries with overrides applied.
func NewCatalogFrom(base []Entry, overrides ...Entry) (*Catalog, error) {
	c := &Catalog{byID: make(map[ID]Characteristics, len(base)+len(overrides))}

	for _, e := range append(append([]Entry{}, base...), overrides...) {
		if e.ID == "" {
			return nil, fmt.Errorf("provider: empty provider id")
		}
		if e.Characteristics.QualityRating < 0 || e.Characteristics.QualityRating > 1 {
			return nil, fmt.Errorf("provider %s: quality rating %.2f outside [0,1]", e.ID, e.Characteristics.QualityRating)
		}
		if e.Characteristics.CostPerThousandChars.IsNegative() {
			return nil, fmt.Errorf("provider %s: negative cost", e.ID)
		}
		if _, seen := c.byID[e.ID]; !seen {
			c.order = append(c.order, e.ID)
		}
		c.byID[e.ID] = e.Characteristics
	}

	return c, nil
}

// Providers returns every provider in stable enumeration order.
func (c *Catalog) Providers() []ID {
	out := make([]ID, len(c.order))
	copy(out, c.order)
	return out
}

// Characteristics returns the characteristics of a provider.
func (c *Catalog) Characteristics(id ID) (Characteristics, bool) {
	ch, ok := c.byID[id]
	return ch, ok
}

// Has reports whether the catalog knows the provider.
func (c *Catalog) Has(id ID) bool {
	_, ok := c.byID[id]
	return ok
}
