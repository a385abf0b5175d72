// Package router selects a synthesis provider for a generation by scoring
// every known provider against a preference-weighted objective.
package router

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/maauso/narration-api/internal/provider"
)

// Static errors for routing.
var (
	// ErrNoProvidersAvailable is returned when no provider is eligible for a context.
	ErrNoProvidersAvailable = errors.New("router: no providers available")
	// ErrUnknownPreference is returned by ParsePreference for unrecognised values.
	ErrUnknownPreference = errors.New("router: unknown preference")
)

// Preference is a named weighting strategy.
type Preference string

// Routing preferences.
const (
	PreferenceCost     Preference = "cost"
	PreferenceSpeed    Preference = "speed"
	PreferenceQuality  Preference = "quality"
	PreferenceBalanced Preference = "balanced"
)

// ParsePreference converts user input to a Preference. Empty input selects balanced.
func ParsePreference(s string) (Preference, error) {
	p := Preference(strings.ToLower(strings.TrimSpace(s)))
	if p == "" {
		return PreferenceBalanced, nil
	}
	if _, ok := weightTable[p]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownPreference, s)
	}
	return p, nil
}

// Weights are the relative importance of cost, speed and quality.
type Weights struct {
	Cost    float64
	Speed   float64
	Quality float64
}

var weightTable = map[Preference]Weights{
	PreferenceCost:     {Cost: 0.7, Speed: 0.1, Quality: 0.2},
	PreferenceSpeed:    {Cost: 0.1, Speed: 0.7, Quality: 0.2},
	PreferenceQuality:  {Cost: 0.1, Speed: 0.2, Quality: 0.7},
	PreferenceBalanced: {Cost: 0.33, Speed: 0.33, Quality: 0.34},
}

// WeightsFor returns the weights for a preference; unknown preferences are balanced.
func WeightsFor(p Preference) Weights {
	if w, ok := weightTable[p]; ok {
		return w
	}
	return weightTable[PreferenceBalanced]
}

const (
	// DefaultPreferredBonus is added to the score of the context's preferred provider.
	DefaultPreferredBonus = 0.1

	// costCeiling is the cost per 1K characters that scores zero.
	costCeiling = 0.35
	// latencyCeilingMs is the latency that scores zero.
	latencyCeilingMs = 1000.0
)

// Context carries the constraints for one routing call.
type Context struct {
	CharacterCount    int
	Preference        Preference
	LockedProvider    provider.ID
	PreferredProvider provider.ID
	Available         []provider.ID
}

// Score is the evaluation of one provider.
type Score struct {
	Provider     provider.ID
	Score        float64
	Available    bool
	CostScore    float64
	SpeedScore   float64
	QualityScore float64
}

// Decision is the outcome of SelectProvider.
type Decision struct {
	Provider           provider.ID
	Reason             string
	Score              float64
	EstimatedCost      decimal.Decimal
	EstimatedLatencyMs int
}

// Router scores providers from an immutable catalog.
type Router struct {
	catalog        *provider.Catalog
	preferredBonus float64
}

// Option configures a Router.
type Option func(*Router)

// WithPreferredBonus overrides the preferred-provider bonus.
func WithPreferredBonus(b float64) Option {
	return func(r *Router) {
		if b >= 0 {
			r.preferredBonus = b
		}
	}
}

// New creates a Router over the catalog.
func New(catalog *provider.Catalog, opts ...Option) *Router {
	r := &Router{
		catalog:        catalog,
		preferredBonus: DefaultPreferredBonus,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ScoreProviders scores every catalog provider in enumeration order.
// Ineligible providers are reported with a zero score and Available=false.
func (r *Router) ScoreProviders(rc Context) []Score {
	w := WeightsFor(rc.Preference)

	available := make(map[provider.ID]struct{}, len(rc.Available))
	for _, id := range rc.Available {
		available[id] = struct{}{}
	}

	ids := r.catalog.Providers()
	scores := make([]Score, 0, len(ids))
	for _, id := range ids {
		_, ok := available[id]
		eligible := ok && (rc.LockedProvider == "" || rc.LockedProvider == id)
		if !eligible {
			scores = append(scores, Score{Provider: id})
			continue
		}

		ch, _ := r.catalog.Characteristics(id)
		s := Score{
			Provider:     id,
			Available:    true,
			CostScore:    1 - min(ch.CostPerThousandChars.InexactFloat64()/costCeiling, 1),
			SpeedScore:   1 - min(float64(ch.AvgLatencyMs)/latencyCeilingMs, 1),
			QualityScore: ch.QualityRating,
		}
		s.Score = w.Cost*s.CostScore + w.Speed*s.SpeedScore + w.Quality*s.QualityScore
		if id == rc.PreferredProvider {
			s.Score += r.preferredBonus
		}
		s.Score = max(0, min(s.Score, 1))

		scores = append(scores, s)
	}

	return scores
}

// SelectProvider returns the highest-scoring eligible provider. Ties go to the
// provider enumerated first. It never falls back to an ineligible provider.
func (r *Router) SelectProvider(rc Context) (Decision, error) {
	scores := r.ScoreProviders(rc)

	best := -1
	for i, s := range scores {
		if !s.Available {
			continue
		}
		if best < 0 || s.Score > scores[best].Score {
			best = i
		}
	}
	if best < 0 {
		if rc.LockedProvider != "" {
			return Decision{}, fmt.Errorf("%w: voice requires %s", ErrNoProvidersAvailable, rc.LockedProvider)
		}
		return Decision{}, ErrNoProvidersAvailable
	}

	id := scores[best].Provider
	ch, _ := r.catalog.Characteristics(id)

	return Decision{
		Provider:           id,
		Reason:             reason(rc, id, ch),
		Score:              scores[best].Score,
		EstimatedCost:      ch.CostPerThousandChars.Mul(decimal.NewFromInt(int64(rc.CharacterCount))).Div(decimal.NewFromInt(1000)),
		EstimatedLatencyMs: ch.AvgLatencyMs,
	}, nil
}

func reason(rc Context, id provider.ID, ch provider.Characteristics) string {
	var metric string
	switch rc.Preference {
	case PreferenceCost:
		metric = fmt.Sprintf("cheapest rate at %s per 1K characters", ch.CostPerThousandChars.String())
	case PreferenceSpeed:
		metric = fmt.Sprintf("lowest latency at %dms average", ch.AvgLatencyMs)
	case PreferenceQuality:
		metric = fmt.Sprintf("highest quality rating of %.2f", ch.QualityRating)
	default:
		metric = fmt.Sprintf("best balance of cost (%s per 1K), latency (%dms) and quality (%.2f)",
			ch.CostPerThousandChars.String(), ch.AvgLatencyMs, ch.QualityRating)
	}

	if rc.LockedProvider != "" {
		return fmt.Sprintf("%s: voice is exclusive to this provider, %s", id, metric)
	}
	return fmt.Sprintf("%s: %s", id, metric)
}
