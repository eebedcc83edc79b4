package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/wolfman30/greanly/internal/llm"
	"github.com/wolfman30/greanly/internal/observability/metrics"
	"github.com/wolfman30/greanly/pkg/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var chatTracer = otel.Tracer("greanly.chat")

// errEmptyTurn is reported when a model step produces nothing at all.
var errEmptyTurn = errors.New("chat: model returned an empty response")

// GenerationResult summarizes one streamed answer for logging and audit.
type GenerationResult struct {
	Steps     int
	ToolCalls int
	Usage     llm.TokenUsage
	Failed    bool
	Cancelled bool
	// StepLimitHit is set when the model still wanted tools on the last step.
	StepLimitHit bool
}

// Adapter drives the model through a GenerationRequest and turns its output
// into stream events.
type Adapter struct {
	model     llm.Model
	maxTokens int32
	logger    *logging.Logger
	metrics   *metrics.ChatMetrics
}

func NewAdapter(model llm.Model, maxTokens int32, logger *logging.Logger, m *metrics.ChatMetrics) *Adapter {
	if model == nil {
		panic("chat: model cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Adapter{model: model, maxTokens: maxTokens, logger: logger, metrics: m}
}

// Stream runs req and returns its events. The channel always carries a start
// and a finish event and is closed after finish. Callers must drain it.
func (a *Adapter) Stream(ctx context.Context, req GenerationRequest) <-chan StreamEvent {
	out := make(chan StreamEvent, 16)
	go func() {
		defer close(out)
		em := newEmitter(out)
		defer em.finish()
		defer func() {
			if r := recover(); r != nil {
				a.logger.Error("generation panicked", "panic", fmt.Sprint(r))
				em.fail()
			}
		}()
		em.start()
		a.run(ctx, req, em, a.logger)
	}()
	return out
}

// run streams req into em. It never emits finish; the caller owns the end of
// the envelope.
func (a *Adapter) run(ctx context.Context, req GenerationRequest, em *emitter, logger *logging.Logger) GenerationResult {
	if logger == nil {
		logger = a.logger
	}
	ctx, span := chatTracer.Start(ctx, "chat.generate")
	defer span.End()
	span.SetAttributes(attribute.String("chat.branch", string(req.Branch)))

	var result GenerationResult
	tools := make(map[string]Tool, len(req.Tools))
	specs := make([]llm.ToolSpec, 0, len(req.Tools))
	for _, t := range req.Tools {
		spec := t.Spec()
		tools[spec.Name] = t
		specs = append(specs, spec)
	}

	turn := llm.TurnRequest{
		System:   req.SystemPrompt,
		Messages: modelMessages(req.Messages),
		Tools:    specs,
		Options: llm.Options{
			ParallelToolCalls: req.Options.ParallelToolCalls,
			ReasoningEffort:   req.Options.ReasoningEffort,
			MaxTokens:         a.maxTokens,
		},
	}

	var filter *disclosureFilter
	if req.Branch == BranchGrounded {
		filter = &disclosureFilter{}
	}

	stepLimit := req.StepLimit
	if stepLimit <= 0 {
		stepLimit = 1
	}

	for step := 1; step <= stepLimit; step++ {
		result.Steps = step
		outcome, err := a.step(ctx, turn, req.Options.SendReasoning, filter, em)
		result.Usage.InputTokens += outcome.usage.InputTokens
		result.Usage.OutputTokens += outcome.usage.OutputTokens
		result.Usage.TotalTokens += outcome.usage.TotalTokens

		if ctx.Err() != nil {
			result.Cancelled = true
			logger.Info("generation cancelled", "step", step, "reason", ctx.Err())
			em.closeBlocks()
			return result
		}
		if err != nil {
			result.Failed = true
			span.RecordError(err)
			span.SetStatus(codes.Error, "generation failed")
			a.metrics.ObserveGenerationError(outcome.stage)
			logger.Error("generation failed", "error", err, "stage", outcome.stage, "step", step, "branch", req.Branch)
			em.fail()
			return result
		}
		if filter != nil {
			em.text(filter.flush())
		}
		if len(outcome.calls) == 0 || len(tools) == 0 {
			em.closeBlocks()
			return result
		}
		if step == stepLimit {
			result.StepLimitHit = true
			logger.Info("step limit reached, finishing with current text", "step_limit", stepLimit)
			em.closeBlocks()
			return result
		}

		turn.Messages = append(turn.Messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   outcome.text,
			Reasoning: outcome.reasoning,
			ToolCalls: outcome.calls,
		})
		for _, call := range outcome.calls {
			if ctx.Err() != nil {
				result.Cancelled = true
				em.closeBlocks()
				return result
			}
			result.ToolCalls++
			turn.Messages = append(turn.Messages, a.callTool(ctx, tools, call, em, logger))
		}
	}
	em.closeBlocks()
	return result
}

type stepOutcome struct {
	text      string
	reasoning []llm.ReasoningBlock
	calls     []llm.ToolCall
	usage     llm.TokenUsage
	stage     string
}

// step consumes a single model turn, forwarding text and reasoning as they
// arrive and collecting tool calls.
func (a *Adapter) step(ctx context.Context, turn llm.TurnRequest, sendReasoning bool, filter *disclosureFilter, em *emitter) (stepOutcome, error) {
	var outcome stepOutcome
	chunks, err := a.model.StreamTurn(ctx, turn)
	if err != nil {
		outcome.stage = "construct"
		return outcome, err
	}

	outcome.stage = "stream"
	produced := false
	var text, thinking []byte
	for {
		var chunk llm.StreamChunk
		var ok bool
		select {
		case <-ctx.Done():
			return outcome, ctx.Err()
		case chunk, ok = <-chunks:
		}
		if !ok {
			break
		}
		if chunk.Error != nil {
			outcome.text = string(text)
			return outcome, chunk.Error
		}
		if chunk.Reasoning != "" {
			produced = true
			thinking = append(thinking, chunk.Reasoning...)
			if sendReasoning {
				em.reasoning(chunk.Reasoning)
			}
		}
		if chunk.ReasoningSignature != "" {
			outcome.reasoning = append(outcome.reasoning, llm.ReasoningBlock{
				Text:      string(thinking),
				Signature: chunk.ReasoningSignature,
			})
			thinking = thinking[:0]
		}
		if chunk.Text != "" {
			produced = true
			text = append(text, chunk.Text...)
			if filter != nil {
				em.text(filter.push(chunk.Text))
			} else {
				em.text(chunk.Text)
			}
		}
		if chunk.ToolCall != nil {
			produced = true
			outcome.calls = append(outcome.calls, *chunk.ToolCall)
		}
		if chunk.Done {
			outcome.usage = chunk.Usage
			break
		}
	}
	outcome.text = string(text)
	if !produced {
		return outcome, errEmptyTurn
	}
	return outcome, nil
}

// callTool runs one tool call and reports it to the client. Tool failures are
// handed back to the model as an error payload rather than ending the answer.
func (a *Adapter) callTool(ctx context.Context, tools map[string]Tool, call llm.ToolCall, em *emitter, logger *logging.Logger) llm.Message {
	em.toolCall(call.ID, call.Name, call.Arguments)

	var output any
	tool, ok := tools[call.Name]
	if !ok {
		logger.Warn("model called unknown tool", "tool", call.Name)
		output = map[string]string{"error": fmt.Sprintf("unknown tool %q", call.Name)}
		a.metrics.ObserveToolCall(call.Name, false)
	} else {
		ctx, span := chatTracer.Start(ctx, "chat.tool")
		span.SetAttributes(attribute.String("tool.name", call.Name))
		res, err := tool.Call(ctx, call.Arguments)
		span.End()
		if err != nil {
			logger.Warn("tool call failed", "tool", call.Name, "error", err)
			output = map[string]string{"error": err.Error()}
		} else {
			output = res
		}
		a.metrics.ObserveToolCall(call.Name, err == nil)
	}

	em.toolResult(call.ID, call.Name, output)

	payload, err := json.Marshal(output)
	if err != nil {
		payload = []byte(`{"error":"tool output could not be encoded"}`)
	}
	return llm.Message{
		Role:       llm.RoleTool,
		Content:    string(payload),
		ToolCallID: call.ID,
		ToolName:   call.Name,
	}
}
