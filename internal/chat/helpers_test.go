package chat

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/wolfman30/greanly/internal/llm"
	"github.com/wolfman30/greanly/internal/moderation"
	"github.com/wolfman30/greanly/internal/retrieval"
)

// scriptedModel plays back one chunk list per model step. The last script
// repeats once the list runs out.
type scriptedModel struct {
	mu       sync.Mutex
	turns    [][]llm.StreamChunk
	openErr  error
	requests []llm.TurnRequest
}

func (m *scriptedModel) StreamTurn(ctx context.Context, req llm.TurnRequest) (<-chan llm.StreamChunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := make([]llm.Message, len(req.Messages))
	copy(msgs, req.Messages)
	req.Messages = msgs
	m.requests = append(m.requests, req)
	if m.openErr != nil {
		return nil, m.openErr
	}
	idx := len(m.requests) - 1
	if idx >= len(m.turns) {
		idx = len(m.turns) - 1
	}
	script := m.turns[idx]
	ch := make(chan llm.StreamChunk, len(script))
	for _, c := range script {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func (m *scriptedModel) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// stallingModel sends one text chunk and then waits for cancellation.
type stallingModel struct{}

func (stallingModel) StreamTurn(ctx context.Context, req llm.TurnRequest) (<-chan llm.StreamChunk, error) {
	ch := make(chan llm.StreamChunk, 1)
	go func() {
		defer close(ch)
		ch <- llm.StreamChunk{Text: "Hel"}
		<-ctx.Done()
	}()
	return ch, nil
}

type stubTool struct {
	name   string
	output any
	err    error
	mu     sync.Mutex
	args   []string
}

func (t *stubTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{Name: t.name, Description: "stub", Parameters: map[string]any{"type": "object"}}
}

func (t *stubTool) Call(ctx context.Context, arguments string) (any, error) {
	t.mu.Lock()
	t.args = append(t.args, arguments)
	t.mu.Unlock()
	return t.output, t.err
}

type moderatorFunc func(ctx context.Context, text string) moderation.Verdict

func (f moderatorFunc) Check(ctx context.Context, text string) moderation.Verdict { return f(ctx, text) }

type retrieverFunc func(ctx context.Context, query string) []retrieval.Candidate

func (f retrieverFunc) Retrieve(ctx context.Context, query string) []retrieval.Candidate {
	return f(ctx, query)
}

type captureRecorder struct {
	records chan Record
}

func (r *captureRecorder) Record(ctx context.Context, rec Record) error {
	r.records <- rec
	return nil
}

func textTurn(parts ...string) []llm.StreamChunk {
	out := make([]llm.StreamChunk, 0, len(parts)+1)
	for _, p := range parts {
		out = append(out, llm.StreamChunk{Text: p})
	}
	return append(out, llm.StreamChunk{Done: true, FinishReason: "stop"})
}

func toolTurn(id, name, args string) []llm.StreamChunk {
	return []llm.StreamChunk{
		{ToolCall: &llm.ToolCall{ID: id, Name: name, Arguments: args}},
		{Done: true, FinishReason: "tool_calls"},
	}
}

func fixedNow() time.Time {
	return time.Date(2026, time.March, 14, 9, 30, 0, 0, time.UTC)
}

func collect(t *testing.T, events <-chan StreamEvent) []StreamEvent {
	t.Helper()
	var out []StreamEvent
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatalf("stream did not close; got %d events", len(out))
			return out
		}
	}
}

func types(events []StreamEvent) []EventType {
	out := make([]EventType, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

// renderedText joins every text delta, block by block.
func renderedText(events []StreamEvent) string {
	var b strings.Builder
	for _, ev := range events {
		if ev.Type == EventTextDelta {
			b.WriteString(ev.Delta)
		}
	}
	return b.String()
}

// requireEnvelope checks the stream framing rules: one start first, one
// finish last, and text and reasoning blocks that open before use and close
// before anything else happens.
func requireEnvelope(t *testing.T, events []StreamEvent) {
	t.Helper()
	require.NotEmpty(t, events)
	require.Equal(t, EventStart, events[0].Type, "first event must be start")
	require.Equal(t, EventFinish, events[len(events)-1].Type, "last event must be finish")

	openID, reasonID := "", ""
	for i, ev := range events {
		if i > 0 {
			require.NotEqual(t, EventStart, ev.Type, "start repeated at %d", i)
		}
		if i < len(events)-1 {
			require.NotEqual(t, EventFinish, ev.Type, "finish before end at %d", i)
		}
		switch ev.Type {
		case EventTextStart:
			require.Empty(t, openID, "text block opened while another is open")
			require.NotEmpty(t, ev.ID)
			openID = ev.ID
		case EventTextDelta:
			require.Equal(t, openID, ev.ID, "text delta outside its block")
		case EventTextEnd:
			require.Equal(t, openID, ev.ID, "text-end for a block that is not open")
			openID = ""
		case EventReasoningStart:
			require.Empty(t, openID, "reasoning opened inside a text block")
			require.Empty(t, reasonID, "reasoning block opened while another is open")
			require.NotEmpty(t, ev.ID)
			reasonID = ev.ID
		case EventReasoningDelta:
			require.NotEmpty(t, reasonID, "reasoning delta outside a block")
			require.Equal(t, reasonID, ev.ID, "reasoning delta outside its block")
		case EventReasoningEnd:
			require.Equal(t, reasonID, ev.ID, "reasoning-end for a block that is not open")
			reasonID = ""
		default:
			require.Empty(t, openID, "%s inside an open text block", ev.Type)
			require.Empty(t, reasonID, "%s inside an open reasoning block", ev.Type)
		}
	}
}
