package observability

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"hedgepool/core/events"
)

type eventMetrics struct {
	emitted *prometheus.CounterVec
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the metrics registry tracking structured protocol events.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			emitted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "events",
				Name:      "emitted_total",
				Help:      "Count of protocol events segmented by type and asset.",
			}, []string{"type", "asset"}),
		}
		prometheus.MustRegister(eventRegistry.emitted)
	})
	return eventRegistry
}

// Record increments the counter for the supplied event type and asset.
func (m *eventMetrics) Record(eventType, asset string) {
	if m == nil {
		return
	}
	normalized := strings.TrimSpace(strings.ToUpper(asset))
	if normalized == "" {
		normalized = "NONE"
	}
	m.emitted.WithLabelValues(eventType, normalized).Inc()
}

// EventLogger writes every protocol event to the structured log and counts
// it.
type EventLogger struct {
	logger *slog.Logger
}

// NewEventLogger returns an emitter backed by logger, or slog.Default when
// nil.
func NewEventLogger(logger *slog.Logger) *EventLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventLogger{logger: logger}
}

// Emit implements events.Emitter.
func (l *EventLogger) Emit(evt events.Event) {
	if l == nil || evt == nil {
		return
	}
	flat := events.Flatten(evt)
	attrs := make([]any, 0, 2*len(flat.Attributes)+2)
	attrs = append(attrs, "event", flat.Type)
	for _, key := range flat.Keys() {
		attrs = append(attrs, key, flat.Attributes[key])
	}
	l.logger.Info("protocol event", attrs...)
	Events().Record(flat.Type, flat.Attributes["asset"])
}
