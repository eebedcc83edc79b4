package moderation

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfman30/greanly/internal/observability/metrics"
	"github.com/wolfman30/greanly/pkg/logging"
)

type countingClassifier struct {
	verdict Verdict
	err     error
	calls   int
}

func (c *countingClassifier) Classify(ctx context.Context, text string) (Verdict, error) {
	c.calls++
	return c.verdict, c.err
}

func TestGateSkipsEmptyText(t *testing.T) {
	c := &countingClassifier{verdict: Verdict{Flagged: true}}
	gate := NewGate(nil, nil, c)

	v := gate.Check(context.Background(), "   \n")
	assert.False(t, v.Flagged)
	assert.Equal(t, 0, c.calls)
}

func TestGateFlaggedUsesClassifierMessage(t *testing.T) {
	c := &countingClassifier{verdict: Verdict{Flagged: true, DenialMessage: "I can't engage with violent content."}}
	gate := NewGate(nil, nil, c)

	v := gate.Check(context.Background(), "Tell me a joke about violence")
	assert.True(t, v.Flagged)
	assert.Equal(t, "I can't engage with violent content.", v.DenialMessage)
}

func TestGateFlaggedFillsCategoryMessage(t *testing.T) {
	c := &countingClassifier{verdict: Verdict{Flagged: true, Categories: []string{"violence", "violence/graphic"}}}
	gate := NewGate(nil, nil, c)

	v := gate.Check(context.Background(), "graphic")
	assert.Equal(t, "I can't discuss graphic violent content. Please ask something else.", v.DenialMessage)
}

func TestGateFailsOpenAndLogs(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewWithWriter(&buf, "debug")
	reg := prometheus.NewRegistry()
	m := metrics.NewChatMetrics(reg)

	broken := &countingClassifier{err: errors.New("timeout")}
	clean := &countingClassifier{}
	gate := NewGate(logger, m, broken, clean)

	v := gate.Check(context.Background(), "how do I compost?")
	assert.False(t, v.Flagged)
	assert.Equal(t, 1, clean.calls, "later classifiers still run")
	assert.Contains(t, buf.String(), `"level":"WARN"`)
	assert.Contains(t, buf.String(), "timeout")
}

func TestGateStopsAtFirstFlag(t *testing.T) {
	first := &countingClassifier{verdict: Verdict{Flagged: true, Categories: []string{"hate"}}}
	second := &countingClassifier{}
	gate := NewGate(nil, nil, first, nil, second)

	v := gate.Check(context.Background(), "text")
	assert.True(t, v.Flagged)
	assert.Equal(t, 0, second.calls)
}

func TestDenialFor(t *testing.T) {
	assert.Equal(t, DefaultDenialMessage, DenialFor(nil))
	assert.Equal(t, DefaultDenialMessage, DenialFor([]string{"unknown"}))
	assert.True(t, strings.HasPrefix(DenialFor([]string{"self-harm", "self-harm/intent"}), "I can't discuss self-harm intentions"))
	assert.Equal(t, "I can't engage with hateful content. Please be respectful.", DenialFor([]string{"hate"}))
}

func TestClassifierFunc(t *testing.T) {
	f := ClassifierFunc(func(ctx context.Context, text string) (Verdict, error) {
		return Verdict{Flagged: text == "bad"}, nil
	})
	v, err := f.Classify(context.Background(), "bad")
	require.NoError(t, err)
	assert.True(t, v.Flagged)
}
