package core

import (
	"context"
	"sort"
	"strings"
	"sync"
)

const (
	metricPrefix          = "accountlink."
	MetricTelemetryEvents = metricPrefix + "telemetry.events"
)

// OperationCounterName is the counter incremented once per observed service
// operation, e.g. accountlink.create_binding.total.
func OperationCounterName(operation string) string {
	return metricPrefix + strings.TrimSpace(operation) + ".total"
}

func OperationDurationName(operation string) string {
	return metricPrefix + strings.TrimSpace(operation) + ".duration_ms"
}

type NopMetricsRecorder struct{}

func (NopMetricsRecorder) IncCounter(context.Context, string, int64, map[string]string) {}

func (NopMetricsRecorder) ObserveHistogram(context.Context, string, float64, map[string]string) {}

// MemoryMetricsRecorder keeps counter totals and the last histogram sample
// per name and tag set.
type MemoryMetricsRecorder struct {
	mu         sync.Mutex
	counters   map[string]int64
	histograms map[string]float64
}

func (m *MemoryMetricsRecorder) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counters == nil {
		m.counters = map[string]int64{}
	}
	m.counters[seriesKey(name, tags)] += value
}

func (m *MemoryMetricsRecorder) ObserveHistogram(_ context.Context, name string, value float64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.histograms == nil {
		m.histograms = map[string]float64{}
	}
	m.histograms[seriesKey(name, tags)] = value
}

func (m *MemoryMetricsRecorder) Counter(name string, tags map[string]string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[seriesKey(name, tags)]
}

func (m *MemoryMetricsRecorder) Histogram(name string, tags map[string]string) (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.histograms[seriesKey(name, tags)]
	return value, ok
}

func seriesKey(name string, tags map[string]string) string {
	keys := make([]string, 0, len(tags))
	for key := range tags {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(strings.TrimSpace(name))
	for _, key := range keys {
		b.WriteByte('|')
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(tags[key])
	}
	return b.String()
}

func cloneTags(tags map[string]string) map[string]string {
	copied := make(map[string]string, len(tags))
	for key, value := range tags {
		copied[key] = value
	}
	return copied
}
