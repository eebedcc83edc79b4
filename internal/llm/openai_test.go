package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStreamingServer(t *testing.T, captured *openai.ChatCompletionRequest, events ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		if captured != nil {
			if err := json.NewDecoder(r.Body).Decode(captured); err != nil {
				t.Errorf("decode request: %v", err)
			}
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, ev := range events {
			fmt.Fprintf(w, "data: %s\n\n", ev)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestOpenAIModel(srv *httptest.Server) *OpenAIModel {
	cfg := openai.DefaultConfig("test-key")
	cfg.BaseURL = srv.URL + "/v1"
	return NewOpenAIModel(openai.NewClientWithConfig(cfg), "gpt-4o-mini")
}

func collect(t *testing.T, ch <-chan StreamChunk) []StreamChunk {
	t.Helper()
	var out []StreamChunk
	for c := range ch {
		out = append(out, c)
	}
	return out
}

func TestOpenAIModelStreamsTextAndUsage(t *testing.T) {
	var req openai.ChatCompletionRequest
	srv := newStreamingServer(t, &req,
		`{"id":"c1","choices":[{"index":0,"delta":{"content":"Hello"}}]}`,
		`{"id":"c1","choices":[{"index":0,"delta":{"content":" world"},"finish_reason":"stop"}]}`,
		`{"id":"c1","choices":[],"usage":{"prompt_tokens":7,"completion_tokens":2,"total_tokens":9}}`,
	)
	model := newTestOpenAIModel(srv)

	ch, err := model.StreamTurn(context.Background(), TurnRequest{
		System:   "be brief",
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	chunks := collect(t, ch)

	var text strings.Builder
	for _, c := range chunks {
		text.WriteString(c.Text)
	}
	assert.Equal(t, "Hello world", text.String())

	last := chunks[len(chunks)-1]
	assert.True(t, last.Done)
	assert.NoError(t, last.Error)
	assert.Equal(t, "stop", last.FinishReason)
	assert.Equal(t, int32(9), last.Usage.TotalTokens)

	require.Len(t, req.Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, req.Messages[0].Role)
	assert.Equal(t, "be brief", req.Messages[0].Content)
	assert.True(t, req.Stream)
	assert.Empty(t, req.Tools)
}

func TestOpenAIModelAssemblesToolCalls(t *testing.T) {
	var req openai.ChatCompletionRequest
	srv := newStreamingServer(t, &req,
		`{"id":"c2","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"webSearch","arguments":"{\"query\":"}}]}}]}`,
		`{"id":"c2","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"bamboo\"}"}}]}}]}`,
		`{"id":"c2","choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`,
	)
	model := newTestOpenAIModel(srv)

	ch, err := model.StreamTurn(context.Background(), TurnRequest{
		Messages: []Message{{Role: RoleUser, Content: "find suppliers"}},
		Tools: []ToolSpec{{
			Name:       "webSearch",
			Parameters: map[string]any{"type": "object"},
		}},
		Options: Options{ParallelToolCalls: false, ReasoningEffort: "low"},
	})
	require.NoError(t, err)
	chunks := collect(t, ch)

	var calls []ToolCall
	for _, c := range chunks {
		if c.ToolCall != nil {
			calls = append(calls, *c.ToolCall)
		}
	}
	require.Len(t, calls, 1)
	assert.Equal(t, "call_1", calls[0].ID)
	assert.Equal(t, "webSearch", calls[0].Name)

	var args struct {
		Query string `json:"query"`
	}
	require.NoError(t, calls[0].DecodeArguments(&args))
	assert.Equal(t, "bamboo", args.Query)
	assert.Equal(t, "tool_calls", chunks[len(chunks)-1].FinishReason)

	require.Len(t, req.Tools, 1)
	assert.Equal(t, false, req.ParallelToolCalls)
	assert.Equal(t, "low", req.ReasoningEffort)
}

func TestOpenAIMessagesRequiresConversation(t *testing.T) {
	_, err := openAIMessages(TurnRequest{System: "sys", Messages: []Message{{Role: RoleUser, Content: "   "}}})
	assert.True(t, errors.Is(err, ErrEmptyConversation))
}

func TestOpenAIMessagesCarriesToolResults(t *testing.T) {
	msgs, err := openAIMessages(TurnRequest{Messages: []Message{
		{Role: RoleUser, Content: "q"},
		{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "c1", Name: "webSearch", Arguments: `{"query":"q"}`}}},
		{Role: RoleTool, ToolCallID: "c1", ToolName: "webSearch", Content: `[]`},
	}})
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "c1", msgs[1].ToolCalls[0].ID)
	assert.Equal(t, openai.ChatMessageRoleTool, msgs[2].Role)
	assert.Equal(t, "c1", msgs[2].ToolCallID)
}

func TestToolCallAssemblerOrdersByIndexAndSkipsNameless(t *testing.T) {
	a := newToolCallAssembler()
	a.add(1, "b", "second", "{}")
	a.add(0, "a", "first", "{")
	a.add(0, "", "", "}")
	a.add(2, "c", "", "{}")

	calls := a.complete()
	require.Len(t, calls, 2)
	assert.Equal(t, "first", calls[0].Name)
	assert.Equal(t, "{}", calls[0].Arguments)
	assert.Equal(t, "second", calls[1].Name)
}
