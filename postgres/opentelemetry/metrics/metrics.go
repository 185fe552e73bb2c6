package metrics

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/LerianStudio/lib-postgres/v2/postgres/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// MetricsFactory provides a thread-safe factory for creating and managing
// OpenTelemetry metrics with lazy initialization using sync.Map for
// high-performance concurrent access.
type MetricsFactory struct {
	meter              metric.Meter
	counters           sync.Map // string -> metric.Int64Counter
	histograms         sync.Map // string -> metric.Int64Histogram
	observables        sync.Map // string -> metric.Int64ObservableGauge
	observableCounters sync.Map // string -> metric.Int64ObservableCounter
	logger             log.Logger
}

// ErrNilMeter indicates that a nil OTEL meter was provided.
var ErrNilMeter = errors.New("metric meter cannot be nil")

// ErrNoObservables indicates that a callback registration was attempted
// without any observable instruments.
var ErrNoObservables = errors.New("at least one observable instrument is required")

// Metric represents a metric that can be collected from the database layer.
type Metric struct {
	Name        string
	Description string
	Unit        string
	// For histograms: bucket boundaries
	Buckets []float64
}

// Pre-configured metrics that can be used to create metrics with default options.
var (
	// MetricPoolConnectionsOpen reports the total connections currently held
	// by a pool (idle, in use, or being constructed).
	MetricPoolConnectionsOpen = Metric{
		Name:        "postgres_pool_connections_open",
		Unit:        "1",
		Description: "Total connections currently held by the pool.",
	}

	// MetricPoolConnectionsInUse reports connections currently acquired by callers.
	MetricPoolConnectionsInUse = Metric{
		Name:        "postgres_pool_connections_in_use",
		Unit:        "1",
		Description: "Connections currently acquired from the pool.",
	}

	// MetricPoolConnectionsIdle reports connections sitting idle in the pool.
	MetricPoolConnectionsIdle = Metric{
		Name:        "postgres_pool_connections_idle",
		Unit:        "1",
		Description: "Idle connections currently held by the pool.",
	}

	// MetricPoolConnectionsMax reports the configured upper bound of the pool.
	MetricPoolConnectionsMax = Metric{
		Name:        "postgres_pool_connections_max",
		Unit:        "1",
		Description: "Maximum connections the pool is allowed to hold.",
	}

	// MetricPoolAcquires reports cumulative connection acquires from the pool.
	MetricPoolAcquires = Metric{
		Name:        "postgres_pool_acquires",
		Unit:        "1",
		Description: "Cumulative connection acquires from the pool.",
	}

	// MetricPoolEmptyAcquires reports cumulative acquires that had to wait
	// because the pool was empty.
	MetricPoolEmptyAcquires = Metric{
		Name:        "postgres_pool_empty_acquires",
		Unit:        "1",
		Description: "Cumulative acquires that waited for a free connection.",
	}

	// MetricInitAttempts counts database initialization attempts by outcome.
	MetricInitAttempts = Metric{
		Name:        "postgres_init_attempts",
		Unit:        "1",
		Description: "Measures the number of database initialization attempts by outcome.",
	}

	// MetricInitDuration measures how long database initialization took.
	MetricInitDuration = Metric{
		Name:        "postgres_init_duration_ms",
		Unit:        "ms",
		Description: "Measures the duration of database initialization in milliseconds.",
		Buckets:     DefaultInitDurationBuckets,
	}
)

// Default histogram bucket configurations.
var (
	// DefaultLatencyBuckets for latency measurements (in seconds)
	DefaultLatencyBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

	// DefaultInitDurationBuckets for initialization timings (in milliseconds).
	// Initialization includes a network round trip, so the range is wider than
	// per-query latency buckets.
	DefaultInitDurationBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}
)

// NewMetricsFactory creates a new MetricsFactory instance.
func NewMetricsFactory(meter metric.Meter, logger log.Logger) (*MetricsFactory, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}

	return &MetricsFactory{
		meter:  meter,
		logger: logger,
	}, nil
}

// NewNopFactory returns a MetricsFactory backed by OpenTelemetry's no-op meter.
// It is safe for use as a fallback when a real meter is unavailable.
func NewNopFactory() *MetricsFactory {
	return &MetricsFactory{
		meter:  noop.NewMeterProvider().Meter("nop"),
		logger: log.NewNop(),
	}
}

// Counter creates or retrieves a counter metric and returns a builder for fluent API usage.
func (f *MetricsFactory) Counter(m Metric) (*CounterBuilder, error) {
	counter, err := f.getOrCreateCounter(m)
	if err != nil {
		return nil, err
	}

	return &CounterBuilder{
		factory: f,
		counter: counter,
		name:    m.Name,
	}, nil
}

// Histogram creates or retrieves a histogram metric and returns a builder for fluent API usage.
func (f *MetricsFactory) Histogram(m Metric) (*HistogramBuilder, error) {
	// Set default buckets if not provided
	if m.Buckets == nil {
		m.Buckets = DefaultLatencyBuckets
	}

	histogram, err := f.getOrCreateHistogram(m)
	if err != nil {
		return nil, err
	}

	return &HistogramBuilder{
		factory:   f,
		histogram: histogram,
		name:      m.Name,
	}, nil
}

// ObservableGauge creates or retrieves an asynchronous gauge instrument.
// Values for observable gauges are produced by callbacks registered through
// RegisterCallback rather than recorded synchronously.
func (f *MetricsFactory) ObservableGauge(m Metric) (metric.Int64ObservableGauge, error) {
	if gauge, exists := f.observables.Load(m.Name); exists {
		if g, ok := gauge.(metric.Int64ObservableGauge); ok {
			return g, nil
		}

		return nil, fmt.Errorf("observable gauge cache contains invalid type for %q", m.Name)
	}

	gauge, err := f.meter.Int64ObservableGauge(m.Name, f.addObservableGaugeOptions(m)...)
	if err != nil {
		if f.logger != nil {
			f.logger.Log(context.Background(), log.LevelError, "failed to create observable gauge metric", log.String("metric_name", m.Name), log.Err(err))
		}

		return nil, fmt.Errorf("create observable gauge %q: %w", m.Name, err)
	}

	if actual, loaded := f.observables.LoadOrStore(m.Name, gauge); loaded {
		// Another goroutine created it first, use that one
		if g, ok := actual.(metric.Int64ObservableGauge); ok {
			return g, nil
		}

		return nil, fmt.Errorf("observable gauge cache contains invalid type for %q", m.Name)
	}

	return gauge, nil
}

// ObservableCounter creates or retrieves an asynchronous monotonic counter.
// Like observable gauges, values are produced by callbacks registered through
// RegisterCallback.
func (f *MetricsFactory) ObservableCounter(m Metric) (metric.Int64ObservableCounter, error) {
	if counter, exists := f.observableCounters.Load(m.Name); exists {
		if c, ok := counter.(metric.Int64ObservableCounter); ok {
			return c, nil
		}

		return nil, fmt.Errorf("observable counter cache contains invalid type for %q", m.Name)
	}

	counter, err := f.meter.Int64ObservableCounter(m.Name, f.addObservableCounterOptions(m)...)
	if err != nil {
		if f.logger != nil {
			f.logger.Log(context.Background(), log.LevelError, "failed to create observable counter metric", log.String("metric_name", m.Name), log.Err(err))
		}

		return nil, fmt.Errorf("create observable counter %q: %w", m.Name, err)
	}

	if actual, loaded := f.observableCounters.LoadOrStore(m.Name, counter); loaded {
		// Another goroutine created it first, use that one
		if c, ok := actual.(metric.Int64ObservableCounter); ok {
			return c, nil
		}

		return nil, fmt.Errorf("observable counter cache contains invalid type for %q", m.Name)
	}

	return counter, nil
}

// RegisterCallback registers fn to produce values for the given observable
// instruments on each collection cycle. The returned registration must be
// unregistered when the observed resource is closed.
func (f *MetricsFactory) RegisterCallback(fn metric.Callback, observables ...metric.Observable) (metric.Registration, error) {
	if len(observables) == 0 {
		return nil, ErrNoObservables
	}

	registration, err := f.meter.RegisterCallback(fn, observables...)
	if err != nil {
		return nil, fmt.Errorf("register metrics callback: %w", err)
	}

	return registration, nil
}

// RecordInitAttempt records one database initialization attempt: a counter
// increment tagged with the outcome plus the elapsed duration histogram.
// Instrument creation failures are logged and swallowed so metrics problems
// never break initialization.
func (f *MetricsFactory) RecordInitAttempt(ctx context.Context, outcome string, elapsed time.Duration, attrs ...attribute.KeyValue) {
	allAttrs := make([]attribute.KeyValue, 0, len(attrs)+1)
	allAttrs = append(allAttrs, attribute.String("outcome", outcome))
	allAttrs = append(allAttrs, attrs...)

	counter, err := f.Counter(MetricInitAttempts)
	if err == nil {
		_ = counter.WithAttributes(allAttrs...).AddOne(ctx)
	} else if f.logger != nil {
		f.logger.Log(ctx, log.LevelWarn, "failed to record init attempt counter", log.Err(err))
	}

	histogram, err := f.Histogram(MetricInitDuration)
	if err == nil {
		_ = histogram.WithAttributes(allAttrs...).Record(ctx, elapsed.Milliseconds())
	} else if f.logger != nil {
		f.logger.Log(ctx, log.LevelWarn, "failed to record init duration histogram", log.Err(err))
	}
}

// getOrCreateCounter lazily creates or retrieves an existing counter
func (f *MetricsFactory) getOrCreateCounter(m Metric) (metric.Int64Counter, error) {
	if counter, exists := f.counters.Load(m.Name); exists {
		if c, ok := counter.(metric.Int64Counter); ok {
			return c, nil
		}

		return nil, fmt.Errorf("counter cache contains invalid type for %q", m.Name)
	}

	counter, err := f.meter.Int64Counter(m.Name, f.addCounterOptions(m)...)
	if err != nil {
		if f.logger != nil {
			f.logger.Log(context.Background(), log.LevelError, "failed to create counter metric", log.String("metric_name", m.Name), log.Err(err))
		}

		return nil, fmt.Errorf("create counter %q: %w", m.Name, err)
	}

	// Store in sync.Map for future use
	if actual, loaded := f.counters.LoadOrStore(m.Name, counter); loaded {
		// Another goroutine created it first, use that one
		if c, ok := actual.(metric.Int64Counter); ok {
			return c, nil
		}

		return nil, fmt.Errorf("counter cache contains invalid type for %q", m.Name)
	}

	return counter, nil
}

// getOrCreateHistogram lazily creates or retrieves an existing histogram.
// Uses a composite key (name + buckets hash) to ensure different bucket configs
// result in different histograms.
func (f *MetricsFactory) getOrCreateHistogram(m Metric) (metric.Int64Histogram, error) {
	cacheKey := histogramCacheKey(m.Name, m.Buckets)

	if histogram, exists := f.histograms.Load(cacheKey); exists {
		if h, ok := histogram.(metric.Int64Histogram); ok {
			return h, nil
		}

		return nil, fmt.Errorf("histogram cache contains invalid type for %q", cacheKey)
	}

	histogram, err := f.meter.Int64Histogram(m.Name, f.addHistogramOptions(m)...)
	if err != nil {
		if f.logger != nil {
			f.logger.Log(context.Background(), log.LevelError, "failed to create histogram metric", log.String("metric_name", m.Name), log.Err(err))
		}

		return nil, fmt.Errorf("create histogram %q: %w", m.Name, err)
	}

	// Store in sync.Map for future use
	if actual, loaded := f.histograms.LoadOrStore(cacheKey, histogram); loaded {
		// Another goroutine created it first, use that one
		if h, ok := actual.(metric.Int64Histogram); ok {
			return h, nil
		}

		return nil, fmt.Errorf("histogram cache contains invalid type for %q", cacheKey)
	}

	return histogram, nil
}

// histogramCacheKey generates a unique cache key based on name and bucket configuration.
func histogramCacheKey(name string, buckets []float64) string {
	if len(buckets) == 0 {
		return name
	}

	sortedBuckets := make([]float64, len(buckets))
	copy(sortedBuckets, buckets)
	sort.Float64s(sortedBuckets)

	bucketStrings := make([]string, len(sortedBuckets))
	for i, b := range sortedBuckets {
		bucketStrings[i] = strconv.FormatFloat(b, 'g', -1, 64)
	}

	return fmt.Sprintf("%s:%s", name, strings.Join(bucketStrings, ","))
}

func (f *MetricsFactory) addCounterOptions(m Metric) []metric.Int64CounterOption {
	var opts []metric.Int64CounterOption
	if m.Description != "" {
		opts = append(opts, metric.WithDescription(m.Description))
	}

	if m.Unit != "" {
		opts = append(opts, metric.WithUnit(m.Unit))
	}

	return opts
}

func (f *MetricsFactory) addHistogramOptions(m Metric) []metric.Int64HistogramOption {
	var opts []metric.Int64HistogramOption
	if m.Description != "" {
		opts = append(opts, metric.WithDescription(m.Description))
	}

	if m.Unit != "" {
		opts = append(opts, metric.WithUnit(m.Unit))
	}

	if m.Buckets != nil {
		opts = append(opts, metric.WithExplicitBucketBoundaries(m.Buckets...))
	}

	return opts
}

func (f *MetricsFactory) addObservableGaugeOptions(m Metric) []metric.Int64ObservableGaugeOption {
	var opts []metric.Int64ObservableGaugeOption
	if m.Description != "" {
		opts = append(opts, metric.WithDescription(m.Description))
	}

	if m.Unit != "" {
		opts = append(opts, metric.WithUnit(m.Unit))
	}

	return opts
}

func (f *MetricsFactory) addObservableCounterOptions(m Metric) []metric.Int64ObservableCounterOption {
	var opts []metric.Int64ObservableCounterOption
	if m.Description != "" {
		opts = append(opts, metric.WithDescription(m.Description))
	}

	if m.Unit != "" {
		opts = append(opts, metric.WithUnit(m.Unit))
	}

	return opts
}
