package moderation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	openai "github.com/sashabaranov/go-openai"
)

type moderationAPI interface {
	Moderations(ctx context.Context, request openai.ModerationRequest) (openai.ModerationResponse, error)
}

// OpenAIClassifier calls the hosted moderation endpoint.
type OpenAIClassifier struct {
	api   moderationAPI
	model string
}

func NewOpenAIClassifier(api moderationAPI, model string) *OpenAIClassifier {
	if api == nil {
		panic("moderation: openai client cannot be nil")
	}
	return &OpenAIClassifier{api: api, model: model}
}

func (c *OpenAIClassifier) Classify(ctx context.Context, text string) (Verdict, error) {
	resp, err := c.api.Moderations(ctx, openai.ModerationRequest{Input: text, Model: c.model})
	if err != nil {
		return Verdict{}, fmt.Errorf("moderation: openai: %w", err)
	}
	if len(resp.Results) == 0 {
		return Verdict{}, errors.New("moderation: openai returned no results")
	}
	result := resp.Results[0]
	if !result.Flagged {
		return Verdict{}, nil
	}
	categories, err := flaggedCategories(result.Categories)
	if err != nil {
		return Verdict{}, err
	}
	return Verdict{Flagged: true, Categories: categories}, nil
}

// flaggedCategories reads category names from their wire tags so new
// categories added by the SDK are picked up without code changes.
func flaggedCategories(categories openai.ResultCategories) ([]string, error) {
	raw, err := json.Marshal(categories)
	if err != nil {
		return nil, fmt.Errorf("moderation: encode categories: %w", err)
	}
	var byName map[string]bool
	if err := json.Unmarshal(raw, &byName); err != nil {
		return nil, fmt.Errorf("moderation: decode categories: %w", err)
	}
	var out []string
	for name, on := range byName {
		if on {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out, nil
}
