package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ErrEmptyConversation is returned when a turn has no usable messages.
var ErrEmptyConversation = errors.New("llm: conversation has no messages")

// Message is the provider-neutral conversation entry sent to a model.
type Message struct {
	Role    string
	Content string

	// Reasoning is the signed reasoning an assistant turn produced before its
	// tool calls. Providers that verify reasoning on replay need it back.
	Reasoning []ReasoningBlock
	// ToolCalls is set on assistant messages that requested tools.
	ToolCalls []ToolCall
	// ToolCallID and ToolName are set on tool-result messages.
	ToolCallID string
	ToolName   string
}

// ReasoningBlock is one complete reasoning segment and the provider signature
// that closed it.
type ReasoningBlock struct {
	Text      string
	Signature string
}

// ToolCall is one fully assembled tool invocation requested by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // raw JSON object
}

// DecodeArguments unmarshals the call arguments into v.
func (c ToolCall) DecodeArguments(v any) error {
	if c.Arguments == "" {
		return json.Unmarshal([]byte("{}"), v)
	}
	return json.Unmarshal([]byte(c.Arguments), v)
}

// ToolSpec declares a callable tool. Parameters is a JSON schema object.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Options carries provider-level directives.
type Options struct {
	ParallelToolCalls bool
	ReasoningEffort   string // "", "low", "medium", "high"
	MaxTokens         int32
}

// TurnRequest is a single model step: one streamed response, possibly ending in tool calls.
type TurnRequest struct {
	System   string
	Messages []Message
	Tools    []ToolSpec
	Options  Options
}

type TokenUsage struct {
	InputTokens  int32
	OutputTokens int32
	TotalTokens  int32
}

// StreamChunk is one increment of a streamed turn. Exactly one of Text,
// Reasoning, ReasoningSignature or ToolCall is set on non-terminal chunks;
// the final chunk has Done set and carries either Usage or Error.
type StreamChunk struct {
	Text      string
	Reasoning string
	// ReasoningSignature closes the reasoning streamed since the previous
	// signature.
	ReasoningSignature string
	ToolCall           *ToolCall
	Done               bool
	FinishReason       string
	Usage              TokenUsage
	Error              error
}

// Model streams one turn of a conversation.
//
// A returned error means the stream could not be constructed. Once a channel
// is returned the provider closes it after the terminal chunk, or early when
// ctx is cancelled.
type Model interface {
	StreamTurn(ctx context.Context, req TurnRequest) (<-chan StreamChunk, error)
}

// send delivers a chunk unless ctx is done. It reports whether the consumer
// is still listening.
func send(ctx context.Context, out chan<- StreamChunk, chunk StreamChunk) bool {
	select {
	case out <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

// encodeArguments renders provider-decoded arguments back to a JSON object string.
func encodeArguments(args map[string]any) (string, error) {
	if args == nil {
		return "{}", nil
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("llm: encode tool arguments: %w", err)
	}
	return string(raw), nil
}
