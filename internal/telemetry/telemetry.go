// Package telemetry provides a fire-and-forget event sink for the memory
// core. Every component emits named events with measurements and metadata;
// Emit never blocks the producer and never returns an error.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// Event names emitted by the memory core.
const (
	EventStored         = "memory.stored"
	EventRetrieved      = "memory.retrieved"
	EventExpired        = "memory.expired"
	EventEvicted        = "memory.evicted"
	EventConsolidated   = "memory.consolidated"
	EventDecayed        = "memory.decayed"
	EventAccessFlushed  = "memory.access_flushed"
	EventAnchorCreated  = "memory.anchor_created"
	EventTripleIngested = "memory.triple_ingested"
	EventPassCompleted  = "inference.pass_completed"
	EventRetrieval      = "retrieval.completed"
	EventRouted         = "retrieval.routed"
)

// Emitter records named events. Implementations must be safe for concurrent
// use and must never block.
type Emitter interface {
	Emit(event string, measurements map[string]float64, metadata map[string]string)
}

// Sink is the default Emitter: always logs through zap at debug level and,
// when a meter is attached, records an OTel counter per event name plus any
// float measurements as histograms.
type Sink struct {
	logger *zap.Logger
	meter  metric.Meter

	counter metric.Int64Counter
	values  metric.Float64Histogram
}

// NewSink creates a Sink. meter may be nil, in which case only zap is used.
func NewSink(logger *zap.Logger, meter metric.Meter) *Sink {
	s := &Sink{logger: logger, meter: meter}
	if meter != nil {
		// Instrument creation failures degrade to log-only; they do not
		// stop the producing components.
		if c, err := meter.Int64Counter("mimo.events",
			metric.WithDescription("Memory core events by name"),
			metric.WithUnit("1")); err == nil {
			s.counter = c
		} else {
			logger.Warn("create event counter failed", zap.Error(err))
		}
		if h, err := meter.Float64Histogram("mimo.event_values",
			metric.WithDescription("Event measurement values"),
			metric.WithUnit("1")); err == nil {
			s.values = h
		} else {
			logger.Warn("create event histogram failed", zap.Error(err))
		}
	}
	return s
}

// Emit records one event. Never blocks, never fails.
func (s *Sink) Emit(event string, measurements map[string]float64, metadata map[string]string) {
	if s == nil {
		return
	}

	fields := make([]zap.Field, 0, len(measurements)+len(metadata))
	for k, v := range measurements {
		fields = append(fields, zap.Float64(k, v))
	}
	for k, v := range metadata {
		fields = append(fields, zap.String(k, v))
	}
	s.logger.Debug(event, fields...)

	if s.counter == nil {
		return
	}
	ctx := context.Background()
	attrs := make([]attribute.KeyValue, 0, len(metadata)+2)
	attrs = append(attrs, attribute.String("event", event))
	for k, v := range metadata {
		attrs = append(attrs, attribute.String(k, v))
	}
	s.counter.Add(ctx, 1, metric.WithAttributes(attrs...))
	if s.values != nil {
		for k, v := range measurements {
			s.values.Record(ctx, v, metric.WithAttributes(
				attribute.String("event", event),
				attribute.String("measurement", k)))
		}
	}
}

// Nop is an Emitter that discards everything. Useful in tests.
type Nop struct{}

func (Nop) Emit(string, map[string]float64, map[string]string) {}
