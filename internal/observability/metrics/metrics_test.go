package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestChatMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewChatMetrics(reg)

	m.ObserveRequest("grounded", 1.2)
	m.ObserveRequest("grounded", 0.4)
	m.ObserveModeration("flagged")
	m.ObserveRetrieval("hit")
	m.ObserveToolCall("webSearch", false)
	m.ObserveGenerationError("construct")
	m.ObserveSearchCache(true)

	if got := testutil.ToFloat64(m.requestsTotal.WithLabelValues("grounded")); got != 2 {
		t.Fatalf("expected 2 grounded requests, got %v", got)
	}
	if got := testutil.ToFloat64(m.toolCallsTotal.WithLabelValues("webSearch", "error")); got != 1 {
		t.Fatalf("expected 1 failed tool call, got %v", got)
	}
	if got := testutil.ToFloat64(m.searchCacheTotal.WithLabelValues("hit")); got != 1 {
		t.Fatalf("expected 1 cache hit, got %v", got)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var hist *dto.MetricFamily
	for _, f := range families {
		if f.GetName() == "greanly_chat_stream_duration_seconds" {
			hist = f
		}
	}
	if hist == nil {
		t.Fatal("stream duration histogram not registered")
	}
	if count := hist.GetMetric()[0].GetHistogram().GetSampleCount(); count != 2 {
		t.Fatalf("expected 2 duration samples, got %d", count)
	}
}

func TestChatMetricsDefaultRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	prev := prometheus.DefaultRegisterer
	prometheus.DefaultRegisterer = reg
	defer func() { prometheus.DefaultRegisterer = prev }()

	m := NewChatMetrics(nil)
	m.ObserveModeration("clear")
	if got := testutil.ToFloat64(m.moderationTotal.WithLabelValues("clear")); got != 1 {
		t.Fatalf("expected 1 clear check, got %v", got)
	}
}

func TestChatMetricsNilSafe(t *testing.T) {
	var m *ChatMetrics
	m.ObserveRequest("faulted", 0.1)
	m.ObserveModeration("error")
	m.ObserveRetrieval("error")
	m.ObserveToolCall("webSearch", true)
	m.ObserveGenerationError("stream")
	m.ObserveSearchCache(false)
}
