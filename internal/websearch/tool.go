package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/wolfman30/greanly/internal/llm"
	"github.com/wolfman30/greanly/pkg/logging"
)

// ToolName is the name the model calls the search tool by.
const ToolName = "webSearch"

// Tool exposes a Searcher to the model. Search failures become a friendly
// payload instead of an error so the model can keep answering.
type Tool struct {
	searcher Searcher
	logger   *logging.Logger
}

func NewTool(searcher Searcher, logger *logging.Logger) *Tool {
	if searcher == nil {
		panic("websearch: searcher cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Tool{searcher: searcher, logger: logger}
}

func (t *Tool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name: ToolName,
		Description: "Search the web for up-to-date information such as sustainable suppliers, " +
			"materials, certifications, regulations and prices. Returns titles, links and snippets.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "Search terms, including location or industry when relevant.",
				},
			},
			"required":             []string{"query"},
			"additionalProperties": false,
		},
	}
}

// Call runs the search. Only malformed arguments are reported as errors.
func (t *Tool) Call(ctx context.Context, arguments string) (any, error) {
	var args struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		return nil, fmt.Errorf("websearch: decode arguments: %w", err)
	}
	if strings.TrimSpace(args.Query) == "" {
		return nil, ErrEmptyQuery
	}

	results, err := t.searcher.Search(ctx, args.Query)
	if err != nil {
		t.logger.Warn("web search failed", "error", err)
		return Response{Results: []Result{}, Error: FriendlyError}, nil
	}
	if results == nil {
		results = []Result{}
	}
	return Response{Results: results}, nil
}
