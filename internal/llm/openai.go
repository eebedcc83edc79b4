package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

type chatStreamAPI interface {
	CreateChatCompletionStream(ctx context.Context, request openai.ChatCompletionRequest) (*openai.ChatCompletionStream, error)
}

// OpenAIModel streams chat completions through the OpenAI API.
type OpenAIModel struct {
	api   chatStreamAPI
	model string
}

// NewOpenAIModel wraps an OpenAI client for a single model id.
func NewOpenAIModel(api chatStreamAPI, model string) *OpenAIModel {
	if api == nil {
		panic("llm: openai client cannot be nil")
	}
	if strings.TrimSpace(model) == "" {
		model = "gpt-5.1"
	}
	return &OpenAIModel{api: api, model: model}
}

// StreamTurn implements Model.
func (m *OpenAIModel) StreamTurn(ctx context.Context, req TurnRequest) (<-chan StreamChunk, error) {
	messages, err := openAIMessages(req)
	if err != nil {
		return nil, err
	}

	creq := openai.ChatCompletionRequest{
		Model:         m.model,
		Messages:      messages,
		Stream:        true,
		StreamOptions: &openai.StreamOptions{IncludeUsage: true},
	}
	if len(req.Tools) > 0 {
		creq.Tools = openAITools(req.Tools)
		creq.ParallelToolCalls = req.Options.ParallelToolCalls
	}
	if req.Options.ReasoningEffort != "" {
		creq.ReasoningEffort = req.Options.ReasoningEffort
	}
	if req.Options.MaxTokens > 0 {
		creq.MaxCompletionTokens = int(req.Options.MaxTokens)
	}

	stream, err := m.api.CreateChatCompletionStream(ctx, creq)
	if err != nil {
		return nil, fmt.Errorf("llm: openai stream: %w", err)
	}

	chunks := make(chan StreamChunk, 32)
	go func() {
		defer close(chunks)
		defer stream.Close()

		calls := newToolCallAssembler()
		var usage TokenUsage
		finish := ""
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				send(ctx, chunks, StreamChunk{Error: fmt.Errorf("llm: openai recv: %w", err), Done: true})
				return
			}
			if resp.Usage != nil {
				usage = TokenUsage{
					InputTokens:  int32(resp.Usage.PromptTokens),
					OutputTokens: int32(resp.Usage.CompletionTokens),
					TotalTokens:  int32(resp.Usage.TotalTokens),
				}
			}
			for _, choice := range resp.Choices {
				delta := choice.Delta
				if delta.ReasoningContent != "" {
					if !send(ctx, chunks, StreamChunk{Reasoning: delta.ReasoningContent}) {
						return
					}
				}
				if delta.Content != "" {
					if !send(ctx, chunks, StreamChunk{Text: delta.Content}) {
						return
					}
				}
				for _, tc := range delta.ToolCalls {
					idx := 0
					if tc.Index != nil {
						idx = *tc.Index
					}
					calls.add(idx, tc.ID, tc.Function.Name, tc.Function.Arguments)
				}
				if choice.FinishReason != "" {
					finish = string(choice.FinishReason)
				}
			}
		}

		for _, call := range calls.complete() {
			if !send(ctx, chunks, StreamChunk{ToolCall: &call}) {
				return
			}
		}
		send(ctx, chunks, StreamChunk{Done: true, FinishReason: finish, Usage: usage})
	}()

	return chunks, nil
}

func openAIMessages(req TurnRequest) ([]openai.ChatCompletionMessage, error) {
	out := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if strings.TrimSpace(req.System) != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	conversational := 0
	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			if strings.TrimSpace(msg.Content) == "" {
				continue
			}
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: msg.Content})
		case RoleUser:
			if strings.TrimSpace(msg.Content) == "" {
				continue
			}
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: msg.Content})
			conversational++
		case RoleAssistant:
			if strings.TrimSpace(msg.Content) == "" && len(msg.ToolCalls) == 0 {
				continue
			}
			cm := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: msg.Content}
			for _, call := range msg.ToolCalls {
				cm.ToolCalls = append(cm.ToolCalls, openai.ToolCall{
					ID:   call.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      call.Name,
						Arguments: call.Arguments,
					},
				})
			}
			out = append(out, cm)
			conversational++
		case RoleTool:
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    msg.Content,
				ToolCallID: msg.ToolCallID,
				Name:       msg.ToolName,
			})
		default:
			return nil, fmt.Errorf("llm: unsupported role %q", msg.Role)
		}
	}
	if conversational == 0 {
		return nil, ErrEmptyConversation
	}
	return out, nil
}

func openAITools(specs []ToolSpec) []openai.Tool {
	tools := make([]openai.Tool, 0, len(specs))
	for _, spec := range specs {
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  spec.Parameters,
			},
		})
	}
	return tools
}

// toolCallAssembler stitches streamed tool-call fragments back together by index.
type toolCallAssembler struct {
	byIndex map[int]*ToolCall
}

func newToolCallAssembler() *toolCallAssembler {
	return &toolCallAssembler{byIndex: make(map[int]*ToolCall)}
}

func (a *toolCallAssembler) add(index int, id, name, argsFragment string) {
	call, ok := a.byIndex[index]
	if !ok {
		call = &ToolCall{}
		a.byIndex[index] = call
	}
	if id != "" {
		call.ID = id
	}
	if name != "" {
		call.Name = name
	}
	call.Arguments += argsFragment
}

func (a *toolCallAssembler) complete() []ToolCall {
	if len(a.byIndex) == 0 {
		return nil
	}
	indexes := make([]int, 0, len(a.byIndex))
	for idx := range a.byIndex {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)
	out := make([]ToolCall, 0, len(indexes))
	for _, idx := range indexes {
		call := a.byIndex[idx]
		if call.Name == "" {
			continue
		}
		out = append(out, *call)
	}
	return out
}
