package metrics

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Builder guard errors returned when a builder is used without a backing instrument.
var (
	ErrNilCounter   = errors.New("counter instrument cannot be nil")
	ErrNilHistogram = errors.New("histogram instrument cannot be nil")
)

// CounterBuilder provides a fluent API for counter metrics.
type CounterBuilder struct {
	factory    *MetricsFactory
	counter    metric.Int64Counter
	name       string
	attributes []attribute.KeyValue
}

// WithAttributes returns a copy of the builder carrying the given attributes.
// The receiver is not modified, so a builder can be shared and specialized
// per call site.
func (cb *CounterBuilder) WithAttributes(attrs ...attribute.KeyValue) *CounterBuilder {
	newAttributes := make([]attribute.KeyValue, 0, len(cb.attributes)+len(attrs))
	newAttributes = append(newAttributes, cb.attributes...)
	newAttributes = append(newAttributes, attrs...)

	return &CounterBuilder{
		factory:    cb.factory,
		counter:    cb.counter,
		name:       cb.name,
		attributes: newAttributes,
	}
}

// Add increments the counter by the given value.
func (cb *CounterBuilder) Add(ctx context.Context, value int64) error {
	if cb.counter == nil {
		return ErrNilCounter
	}

	cb.counter.Add(ctx, value, metric.WithAttributes(cb.attributes...))

	return nil
}

// AddOne increments the counter by 1.
func (cb *CounterBuilder) AddOne(ctx context.Context) error {
	return cb.Add(ctx, 1)
}

// HistogramBuilder provides a fluent API for histogram metrics.
type HistogramBuilder struct {
	factory    *MetricsFactory
	histogram  metric.Int64Histogram
	name       string
	attributes []attribute.KeyValue
}

// WithAttributes returns a copy of the builder carrying the given attributes.
func (hb *HistogramBuilder) WithAttributes(attrs ...attribute.KeyValue) *HistogramBuilder {
	newAttributes := make([]attribute.KeyValue, 0, len(hb.attributes)+len(attrs))
	newAttributes = append(newAttributes, hb.attributes...)
	newAttributes = append(newAttributes, attrs...)

	return &HistogramBuilder{
		factory:    hb.factory,
		histogram:  hb.histogram,
		name:       hb.name,
		attributes: newAttributes,
	}
}

// Record records a value in the histogram.
func (hb *HistogramBuilder) Record(ctx context.Context, value int64) error {
	if hb.histogram == nil {
		return ErrNilHistogram
	}

	hb.histogram.Record(ctx, value, metric.WithAttributes(hb.attributes...))

	return nil
}
