package chat

import (
	"context"
	"time"

	"github.com/wolfman30/greanly/internal/llm"
	"github.com/wolfman30/greanly/internal/retrieval"
)

const (
	DefaultThreshold = 0.70
	DefaultStepLimit = 10
)

type Branch string

const (
	BranchGrounded Branch = "grounded"
	BranchGeneral  Branch = "general"
)

// Tool is something the model may call during a general answer.
type Tool interface {
	Spec() llm.ToolSpec
	Call(ctx context.Context, arguments string) (any, error)
}

type GenerationOptions struct {
	ParallelToolCalls bool
	ReasoningEffort   string
	SendReasoning     bool
}

// GenerationRequest is everything the adapter needs to produce one answer.
type GenerationRequest struct {
	Branch       Branch
	SystemPrompt string
	Messages     []ChatMessage
	Tools        []Tool
	StepLimit    int
	Options      GenerationOptions
}

// Composer decides between a grounded and a general answer.
type Composer struct {
	Threshold float64
	StepLimit int
	Tools     []Tool
	Now       func() time.Time
}

func NewComposer(threshold float64, stepLimit int, tools ...Tool) *Composer {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if stepLimit <= 0 {
		stepLimit = DefaultStepLimit
	}
	return &Composer{Threshold: threshold, StepLimit: stepLimit, Tools: tools, Now: time.Now}
}

// Compose inspects only the top candidate. A score at or above the
// threshold grounds the answer in that candidate's content.
func (c *Composer) Compose(candidates []retrieval.Candidate, messages []ChatMessage) GenerationRequest {
	if len(candidates) > 0 && candidates[0].Score >= c.Threshold {
		return GenerationRequest{
			Branch:       BranchGrounded,
			SystemPrompt: GroundedPrompt(candidates[0].Content),
			Messages:     messages,
			StepLimit:    1,
		}
	}

	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	tools := make([]Tool, len(c.Tools))
	copy(tools, c.Tools)
	return GenerationRequest{
		Branch:       BranchGeneral,
		SystemPrompt: SystemPrompt(now()),
		Messages:     messages,
		Tools:        tools,
		StepLimit:    c.StepLimit,
		Options: GenerationOptions{
			ParallelToolCalls: false,
			ReasoningEffort:   "low",
			SendReasoning:     true,
		},
	}
}
