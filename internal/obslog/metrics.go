package obslog

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics is the counter/histogram contract every component depends on.
type Metrics interface {
	IncCounter(name string, labels map[string]string)
	ObserveHistogram(name string, value float64, labels map[string]string)
}

// OtelMetrics implements Metrics on top of an OpenTelemetry meter,
// caching instruments by name with double-checked locking.
type OtelMetrics struct {
	meter      metric.Meter
	mu         sync.RWMutex
	counters   map[string]metric.Int64Counter
	histograms map[string]metric.Float64Histogram
}

// NewOtelMetrics builds a Metrics implementation under the "recall" meter
// name. Call with a configured MeterProvider already installed via
// otel.SetMeterProvider, or the no-op global default.
func NewOtelMetrics() *OtelMetrics {
	return &OtelMetrics{
		meter:      otel.Meter("recall"),
		counters:   make(map[string]metric.Int64Counter),
		histograms: make(map[string]metric.Float64Histogram),
	}
}

func (m *OtelMetrics) IncCounter(name string, labels map[string]string) {
	c := m.getCounter(name)
	if c == nil {
		return
	}
	c.Add(context.Background(), 1, metric.WithAttributes(toAttrs(labels)...))
}

func (m *OtelMetrics) ObserveHistogram(name string, value float64, labels map[string]string) {
	h := m.getHistogram(name)
	if h == nil {
		return
	}
	h.Record(context.Background(), value, metric.WithAttributes(toAttrs(labels)...))
}

func (m *OtelMetrics) getCounter(name string) metric.Int64Counter {
	m.mu.RLock()
	c, ok := m.counters[name]
	m.mu.RUnlock()
	if ok {
		return c
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.counters[name]; ok {
		return c
	}
	c, err := m.meter.Int64Counter(name)
	if err != nil {
		return nil
	}
	m.counters[name] = c
	return c
}

func (m *OtelMetrics) getHistogram(name string) metric.Float64Histogram {
	m.mu.RLock()
	h, ok := m.histograms[name]
	m.mu.RUnlock()
	if ok {
		return h
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.histograms[name]; ok {
		return h
	}
	h, err := m.meter.Float64Histogram(name)
	if err != nil {
		return nil
	}
	m.histograms[name] = h
	return h
}

func toAttrs(labels map[string]string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(labels))
	for k, v := range labels {
		attrs = append(attrs, attribute.String(k, v))
	}
	return attrs
}

// NoopMetrics discards everything; the zero value is ready to use.
type NoopMetrics struct{}

func (NoopMetrics) IncCounter(string, map[string]string)            {}
func (NoopMetrics) ObserveHistogram(string, float64, map[string]string) {}
