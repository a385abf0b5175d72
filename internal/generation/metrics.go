package generation

import (
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/maauso/narration-api/internal/generation"

type instruments struct {
	segmentsCompleted    metric.Int64Counter
	segmentsFailed       metric.Int64Counter
	segmentRetries       metric.Int64Counter
	generationsCompleted metric.Int64Counter
	generationsFailed    metric.Int64Counter
	mergeDuration        metric.Float64Histogram
}

// newInstruments registers the orchestrator instruments on the global meter
// provider. Instruments that fail to register fall back to no-ops.
func newInstruments() (*instruments, error) {
	meter := otel.Meter(instrumentationName)

	var errs []error
	counter := func(name, desc, unit string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit(unit))
		errs = append(errs, err)
		return c
	}

	in := &instruments{
		segmentsCompleted:    counter("narration.segments.completed", "Segments synthesized successfully", "{segment}"),
		segmentsFailed:       counter("narration.segments.failed", "Segments that exhausted their retries", "{segment}"),
		segmentRetries:       counter("narration.segments.retries", "Segment synthesis retries", "{retry}"),
		generationsCompleted: counter("narration.generations.completed", "Generations completed", "{generation}"),
		generationsFailed:    counter("narration.generations.failed", "Generations failed", "{generation}"),
	}

	h, err := meter.Float64Histogram("narration.merge.duration",
		metric.WithDescription("Time spent merging segment audio"),
		metric.WithUnit("ms"),
	)
	errs = append(errs, err)
	in.mergeDuration = h

	return in, errors.Join(errs...)
}

func newTracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}
