package metrics

import "github.com/prometheus/client_golang/prometheus"

// ChatMetrics exposes counters/histograms for the chat pipeline. Labels never
// carry user text.
type ChatMetrics struct {
	requestsTotal    *prometheus.CounterVec
	moderationTotal  *prometheus.CounterVec
	retrievalTotal   *prometheus.CounterVec
	toolCallsTotal   *prometheus.CounterVec
	generationErrors *prometheus.CounterVec
	searchCacheTotal *prometheus.CounterVec
	streamDuration   *prometheus.HistogramVec
}

func NewChatMetrics(reg prometheus.Registerer) *ChatMetrics {
	m := &ChatMetrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "greanly",
			Subsystem: "chat",
			Name:      "requests_total",
			Help:      "Chat requests by terminal outcome",
		}, []string{"outcome"}),
		moderationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "greanly",
			Subsystem: "moderation",
			Name:      "checks_total",
			Help:      "Moderation checks by result",
		}, []string{"result"}),
		retrievalTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "greanly",
			Subsystem: "retrieval",
			Name:      "queries_total",
			Help:      "Context retrievals by result",
		}, []string{"result"}),
		toolCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "greanly",
			Subsystem: "chat",
			Name:      "tool_calls_total",
			Help:      "Model tool invocations by tool and status",
		}, []string{"tool", "status"}),
		generationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "greanly",
			Subsystem: "chat",
			Name:      "generation_errors_total",
			Help:      "Generation failures by stage",
		}, []string{"stage"}),
		searchCacheTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "greanly",
			Subsystem: "websearch",
			Name:      "cache_total",
			Help:      "Web search cache lookups by result",
		}, []string{"result"}),
		streamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "greanly",
			Subsystem: "chat",
			Name:      "stream_duration_seconds",
			Help:      "Wall time from request receipt to finish event",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30, 60},
		}, []string{"outcome"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.requestsTotal,
		m.moderationTotal,
		m.retrievalTotal,
		m.toolCallsTotal,
		m.generationErrors,
		m.searchCacheTotal,
		m.streamDuration,
	)
	return m
}

// ObserveRequest records a finished request and how long its stream stayed open.
func (m *ChatMetrics) ObserveRequest(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(outcome).Inc()
	m.streamDuration.WithLabelValues(outcome).Observe(seconds)
}

func (m *ChatMetrics) ObserveModeration(result string) {
	if m == nil {
		return
	}
	m.moderationTotal.WithLabelValues(result).Inc()
}

func (m *ChatMetrics) ObserveRetrieval(result string) {
	if m == nil {
		return
	}
	m.retrievalTotal.WithLabelValues(result).Inc()
}

func (m *ChatMetrics) ObserveToolCall(tool string, ok bool) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "error"
	}
	m.toolCallsTotal.WithLabelValues(tool, status).Inc()
}

func (m *ChatMetrics) ObserveGenerationError(stage string) {
	if m == nil {
		return
	}
	m.generationErrors.WithLabelValues(stage).Inc()
}

func (m *ChatMetrics) ObserveSearchCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.searchCacheTotal.WithLabelValues(result).Inc()
}
