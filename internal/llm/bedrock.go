package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

type bedrockConverseStreamAPI interface {
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
}

// BedrockModel streams turns through Bedrock's ConverseStream API.
type BedrockModel struct {
	api     bedrockConverseStreamAPI
	modelID string
}

func NewBedrockModel(api bedrockConverseStreamAPI, modelID string) *BedrockModel {
	if api == nil {
		panic("llm: bedrock converse client cannot be nil")
	}
	return &BedrockModel{api: api, modelID: modelID}
}

// StreamTurn implements Model.
func (m *BedrockModel) StreamTurn(ctx context.Context, req TurnRequest) (<-chan StreamChunk, error) {
	if strings.TrimSpace(m.modelID) == "" {
		return nil, errors.New("llm: bedrock model id is required")
	}
	input, err := m.converseInput(req)
	if err != nil {
		return nil, err
	}

	out, err := m.api.ConverseStream(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("llm: bedrock converse stream: %w", err)
	}
	stream := out.GetStream()
	if stream == nil {
		return nil, errors.New("llm: bedrock stream is nil")
	}

	chunks := make(chan StreamChunk, 32)
	go func() {
		defer close(chunks)
		defer stream.Close()
		consumeBedrockEvents(ctx, stream.Events(), stream.Err, chunks)
	}()
	return chunks, nil
}

func (m *BedrockModel) converseInput(req TurnRequest) (*bedrockruntime.ConverseStreamInput, error) {
	var system []brtypes.SystemContentBlock
	if strings.TrimSpace(req.System) != "" {
		system = append(system, &brtypes.SystemContentBlockMemberText{Value: req.System})
	}

	messages, extraSystem, err := bedrockMessages(req.Messages)
	if err != nil {
		return nil, err
	}
	for _, block := range extraSystem {
		system = append(system, &brtypes.SystemContentBlockMemberText{Value: block})
	}

	input := &bedrockruntime.ConverseStreamInput{
		ModelId:  aws.String(m.modelID),
		System:   system,
		Messages: messages,
	}
	if req.Options.MaxTokens > 0 {
		input.InferenceConfig = &brtypes.InferenceConfiguration{MaxTokens: aws.Int32(req.Options.MaxTokens)}
	}
	if len(req.Tools) > 0 {
		input.ToolConfig = bedrockToolConfig(req.Tools)
	}
	if budget := thinkingBudget(req.Options.ReasoningEffort); budget > 0 && strings.Contains(m.modelID, "anthropic") {
		// The output cap has to leave room for the answer after thinking.
		if input.InferenceConfig != nil && aws.ToInt32(input.InferenceConfig.MaxTokens) <= int32(budget) {
			input.InferenceConfig.MaxTokens = aws.Int32(int32(budget) + req.Options.MaxTokens)
		}
		input.AdditionalModelRequestFields = document.NewLazyDocument(map[string]any{
			"thinking": map[string]any{"type": "enabled", "budget_tokens": budget},
		})
	}
	return input, nil
}

// bedrockMessages converts the conversation, merging consecutive same-role
// entries because Converse requires strict user/assistant alternation.
func bedrockMessages(msgs []Message) ([]brtypes.Message, []string, error) {
	var out []brtypes.Message
	var system []string

	appendBlocks := func(role brtypes.ConversationRole, blocks ...brtypes.ContentBlock) {
		if len(blocks) == 0 {
			return
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content = append(out[n-1].Content, blocks...)
			return
		}
		out = append(out, brtypes.Message{Role: role, Content: blocks})
	}

	for _, msg := range msgs {
		content := strings.TrimSpace(msg.Content)
		switch msg.Role {
		case RoleSystem:
			if content != "" {
				system = append(system, content)
			}
		case RoleUser:
			if content != "" {
				appendBlocks(brtypes.ConversationRoleUser, &brtypes.ContentBlockMemberText{Value: content})
			}
		case RoleAssistant:
			var blocks []brtypes.ContentBlock
			// Thinking must lead the assistant turn, unchanged, when tool
			// results follow it.
			for _, r := range msg.Reasoning {
				if r.Signature == "" {
					continue
				}
				blocks = append(blocks, &brtypes.ContentBlockMemberReasoningContent{
					Value: &brtypes.ReasoningContentBlockMemberReasoningText{Value: brtypes.ReasoningTextBlock{
						Text:      aws.String(r.Text),
						Signature: aws.String(r.Signature),
					}},
				})
			}
			if content != "" {
				blocks = append(blocks, &brtypes.ContentBlockMemberText{Value: content})
			}
			for _, call := range msg.ToolCalls {
				var args map[string]any
				if err := call.DecodeArguments(&args); err != nil {
					return nil, nil, fmt.Errorf("llm: tool call %s arguments: %w", call.ID, err)
				}
				blocks = append(blocks, &brtypes.ContentBlockMemberToolUse{Value: brtypes.ToolUseBlock{
					ToolUseId: aws.String(call.ID),
					Name:      aws.String(call.Name),
					Input:     document.NewLazyDocument(args),
				}})
			}
			appendBlocks(brtypes.ConversationRoleAssistant, blocks...)
		case RoleTool:
			appendBlocks(brtypes.ConversationRoleUser, &brtypes.ContentBlockMemberToolResult{Value: brtypes.ToolResultBlock{
				ToolUseId: aws.String(msg.ToolCallID),
				Content: []brtypes.ToolResultContentBlock{
					&brtypes.ToolResultContentBlockMemberText{Value: msg.Content},
				},
			}})
		default:
			return nil, nil, fmt.Errorf("llm: unsupported role %q", msg.Role)
		}
	}
	if len(out) == 0 {
		return nil, nil, ErrEmptyConversation
	}
	return out, system, nil
}

func bedrockToolConfig(specs []ToolSpec) *brtypes.ToolConfiguration {
	tools := make([]brtypes.Tool, 0, len(specs))
	for _, spec := range specs {
		tools = append(tools, &brtypes.ToolMemberToolSpec{Value: brtypes.ToolSpecification{
			Name:        aws.String(spec.Name),
			Description: aws.String(spec.Description),
			InputSchema: &brtypes.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(spec.Parameters)},
		}})
	}
	return &brtypes.ToolConfiguration{
		Tools:      tools,
		ToolChoice: &brtypes.ToolChoiceMemberAuto{Value: brtypes.AutoToolChoice{}},
	}
}

func thinkingBudget(effort string) int {
	switch effort {
	case "low":
		return 1024
	case "medium":
		return 4096
	case "high":
		return 16384
	default:
		return 0
	}
}

// consumeBedrockEvents translates ConverseStream events into chunks. Tool
// input arrives as JSON fragments keyed by content block index.
func consumeBedrockEvents(ctx context.Context, events <-chan brtypes.ConverseStreamOutput, streamErr func() error, chunks chan<- StreamChunk) {
	type pendingTool struct {
		id, name string
		input    strings.Builder
	}
	pending := make(map[int32]*pendingTool)
	var order []int32
	var usage TokenUsage
	finish := ""

	for {
		var event brtypes.ConverseStreamOutput
		var ok bool
		select {
		case <-ctx.Done():
			return
		case event, ok = <-events:
		}
		if !ok {
			break
		}

		switch v := event.(type) {
		case *brtypes.ConverseStreamOutputMemberContentBlockStart:
			if start, ok := v.Value.Start.(*brtypes.ContentBlockStartMemberToolUse); ok {
				idx := aws.ToInt32(v.Value.ContentBlockIndex)
				pending[idx] = &pendingTool{
					id:   aws.ToString(start.Value.ToolUseId),
					name: aws.ToString(start.Value.Name),
				}
				order = append(order, idx)
			}
		case *brtypes.ConverseStreamOutputMemberContentBlockDelta:
			switch delta := v.Value.Delta.(type) {
			case *brtypes.ContentBlockDeltaMemberText:
				if !send(ctx, chunks, StreamChunk{Text: delta.Value}) {
					return
				}
			case *brtypes.ContentBlockDeltaMemberReasoningContent:
				var chunk StreamChunk
				switch r := delta.Value.(type) {
				case *brtypes.ReasoningContentBlockDeltaMemberText:
					chunk.Reasoning = r.Value
				case *brtypes.ReasoningContentBlockDeltaMemberSignature:
					chunk.ReasoningSignature = r.Value
				default:
					continue
				}
				if !send(ctx, chunks, chunk) {
					return
				}
			case *brtypes.ContentBlockDeltaMemberToolUse:
				if tool, ok := pending[aws.ToInt32(v.Value.ContentBlockIndex)]; ok {
					tool.input.WriteString(aws.ToString(delta.Value.Input))
				}
			}
		case *brtypes.ConverseStreamOutputMemberMessageStop:
			finish = string(v.Value.StopReason)
		case *brtypes.ConverseStreamOutputMemberMetadata:
			if v.Value.Usage != nil {
				usage = TokenUsage{
					InputTokens:  aws.ToInt32(v.Value.Usage.InputTokens),
					OutputTokens: aws.ToInt32(v.Value.Usage.OutputTokens),
					TotalTokens:  aws.ToInt32(v.Value.Usage.TotalTokens),
				}
			}
		}
	}

	if streamErr != nil {
		if err := streamErr(); err != nil {
			send(ctx, chunks, StreamChunk{Error: fmt.Errorf("llm: bedrock stream: %w", err), Done: true})
			return
		}
	}

	for _, idx := range order {
		tool := pending[idx]
		args := tool.input.String()
		if strings.TrimSpace(args) == "" {
			args = "{}"
		}
		if !json.Valid([]byte(args)) {
			send(ctx, chunks, StreamChunk{Error: fmt.Errorf("llm: bedrock tool %s returned invalid json input", tool.name), Done: true})
			return
		}
		if !send(ctx, chunks, StreamChunk{ToolCall: &ToolCall{ID: tool.id, Name: tool.name, Arguments: args}}) {
			return
		}
	}
	send(ctx, chunks, StreamChunk{Done: true, FinishReason: finish, Usage: usage})
}
