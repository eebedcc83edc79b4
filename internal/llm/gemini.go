package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GeminiModel streams turns through Google's Gemini API.
type GeminiModel struct {
	client  *genai.Client
	modelID string
}

// NewGeminiModel dials Gemini with an API key.
func NewGeminiModel(ctx context.Context, apiKey, modelID string) (*GeminiModel, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("llm: gemini api key is required")
	}
	if strings.TrimSpace(modelID) == "" {
		modelID = "gemini-2.5-flash"
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("llm: create gemini client: %w", err)
	}
	return &GeminiModel{client: client, modelID: modelID}, nil
}

// StreamTurn implements Model. Gemini does not assign tool call ids, so
// each requested call gets a fresh uuid.
func (m *GeminiModel) StreamTurn(ctx context.Context, req TurnRequest) (<-chan StreamChunk, error) {
	system, contents, err := geminiContents(req)
	if err != nil {
		return nil, err
	}

	model := m.client.GenerativeModel(m.modelID)
	if system != "" {
		model.SystemInstruction = genai.NewUserContent(genai.Text(system))
	}
	if req.Options.MaxTokens > 0 {
		model.SetMaxOutputTokens(req.Options.MaxTokens)
	}
	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, spec := range req.Tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  geminiSchema(spec.Parameters),
			})
		}
		model.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	cs := model.StartChat()
	cs.History = contents[:len(contents)-1]
	last := contents[len(contents)-1]
	iter := cs.SendMessageStream(ctx, last.Parts...)

	chunks := make(chan StreamChunk, 32)
	go func() {
		defer close(chunks)

		var calls []ToolCall
		var usage TokenUsage
		finish := ""
		for {
			resp, err := iter.Next()
			if errors.Is(err, iterator.Done) {
				break
			}
			if err != nil {
				send(ctx, chunks, StreamChunk{Error: fmt.Errorf("llm: gemini stream: %w", err), Done: true})
				return
			}
			if resp.UsageMetadata != nil {
				usage = TokenUsage{
					InputTokens:  resp.UsageMetadata.PromptTokenCount,
					OutputTokens: resp.UsageMetadata.CandidatesTokenCount,
					TotalTokens:  resp.UsageMetadata.TotalTokenCount,
				}
			}
			if len(resp.Candidates) == 0 {
				continue
			}
			candidate := resp.Candidates[0]
			if candidate.FinishReason != genai.FinishReasonUnspecified {
				finish = candidate.FinishReason.String()
			}
			if candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				switch p := part.(type) {
				case genai.Text:
					if !send(ctx, chunks, StreamChunk{Text: string(p)}) {
						return
					}
				case genai.FunctionCall:
					args, err := encodeArguments(p.Args)
					if err != nil {
						send(ctx, chunks, StreamChunk{Error: err, Done: true})
						return
					}
					calls = append(calls, ToolCall{ID: uuid.NewString(), Name: p.Name, Arguments: args})
				}
			}
		}

		for _, call := range calls {
			if !send(ctx, chunks, StreamChunk{ToolCall: &call}) {
				return
			}
		}
		send(ctx, chunks, StreamChunk{Done: true, FinishReason: finish, Usage: usage})
	}()
	return chunks, nil
}

// Close releases the underlying client.
func (m *GeminiModel) Close() error {
	if m.client != nil {
		return m.client.Close()
	}
	return nil
}

// geminiContents flattens the conversation into Gemini's user/model turns.
// System entries are folded into the system instruction.
func geminiContents(req TurnRequest) (string, []*genai.Content, error) {
	systemParts := []string{}
	if s := strings.TrimSpace(req.System); s != "" {
		systemParts = append(systemParts, s)
	}

	var contents []*genai.Content
	appendParts := func(role string, parts ...genai.Part) {
		if len(parts) == 0 {
			return
		}
		if n := len(contents); n > 0 && contents[n-1].Role == role {
			contents[n-1].Parts = append(contents[n-1].Parts, parts...)
			return
		}
		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}

	for _, msg := range req.Messages {
		text := strings.TrimSpace(msg.Content)
		switch msg.Role {
		case RoleSystem:
			if text != "" {
				systemParts = append(systemParts, text)
			}
		case RoleUser:
			if text != "" {
				appendParts("user", genai.Text(text))
			}
		case RoleAssistant:
			var parts []genai.Part
			if text != "" {
				parts = append(parts, genai.Text(text))
			}
			for _, call := range msg.ToolCalls {
				var args map[string]any
				if err := call.DecodeArguments(&args); err != nil {
					return "", nil, fmt.Errorf("llm: tool call %s arguments: %w", call.ID, err)
				}
				parts = append(parts, genai.FunctionCall{Name: call.Name, Args: args})
			}
			appendParts("model", parts...)
		case RoleTool:
			appendParts("user", genai.FunctionResponse{
				Name:     msg.ToolName,
				Response: map[string]any{"content": msg.Content},
			})
		default:
			return "", nil, fmt.Errorf("llm: unsupported role %q", msg.Role)
		}
	}
	if len(contents) == 0 {
		return "", nil, ErrEmptyConversation
	}
	if contents[len(contents)-1].Role != "user" {
		return "", nil, errors.New("llm: gemini conversation must end with a user turn")
	}
	return strings.Join(systemParts, "\n\n"), contents, nil
}

// geminiSchema converts a JSON schema map into Gemini's typed schema. Only
// the keywords tool declarations use are carried over.
func geminiSchema(raw map[string]any) *genai.Schema {
	if raw == nil {
		return nil
	}
	schema := &genai.Schema{}
	switch raw["type"] {
	case "object":
		schema.Type = genai.TypeObject
	case "string":
		schema.Type = genai.TypeString
	case "integer":
		schema.Type = genai.TypeInteger
	case "number":
		schema.Type = genai.TypeNumber
	case "boolean":
		schema.Type = genai.TypeBoolean
	case "array":
		schema.Type = genai.TypeArray
	}
	if desc, ok := raw["description"].(string); ok {
		schema.Description = desc
	}
	if props, ok := raw["properties"].(map[string]any); ok {
		schema.Properties = make(map[string]*genai.Schema, len(props))
		for name, prop := range props {
			if m, ok := prop.(map[string]any); ok {
				schema.Properties[name] = geminiSchema(m)
			}
		}
	}
	switch req := raw["required"].(type) {
	case []string:
		schema.Required = append(schema.Required, req...)
	case []any:
		for _, r := range req {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	if items, ok := raw["items"].(map[string]any); ok {
		schema.Items = geminiSchema(items)
	}
	return schema
}
