package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/greanly/internal/chat"
	appconfig "github.com/wolfman30/greanly/internal/config"
	"github.com/wolfman30/greanly/internal/llm"
	"github.com/wolfman30/greanly/internal/moderation"
	"github.com/wolfman30/greanly/internal/observability/metrics"
	"github.com/wolfman30/greanly/internal/retrieval"
	"github.com/wolfman30/greanly/internal/websearch"
	"github.com/wolfman30/greanly/pkg/logging"
)

// BuildModerator composes the local prompt guard with the hosted classifier
// when it is enabled and an OpenAI key is present.
func BuildModerator(cfg *appconfig.Config, logger *logging.Logger, m *metrics.ChatMetrics) *moderation.Gate {
	classifiers := []moderation.Classifier{moderation.PromptGuard{}}
	if cfg != nil && cfg.ModerationEnabled {
		if client := NewOpenAIClient(cfg); client != nil {
			classifiers = append(classifiers, moderation.NewOpenAIClassifier(client, cfg.ModerationModel))
		} else if logger != nil {
			logger.Warn("hosted moderation enabled but OPENAI_API_KEY is empty; using prompt guard only")
		}
	}
	return moderation.NewGate(logger, m, classifiers...)
}

// BuildWebSearchTool returns nil when Google search credentials are missing.
// Results are cached in Redis when a client is available.
func BuildWebSearchTool(ctx context.Context, cfg *appconfig.Config, redisClient *redis.Client, logger *logging.Logger, m *metrics.ChatMetrics) (chat.Tool, error) {
	if cfg == nil || strings.TrimSpace(cfg.GoogleAPIKey) == "" || strings.TrimSpace(cfg.GoogleCX) == "" {
		if logger != nil {
			logger.Warn("web search not configured; general branch runs without tools")
		}
		return nil, nil
	}
	google, err := websearch.NewGoogleSearcher(ctx, cfg.GoogleAPIKey, cfg.GoogleCX, cfg.WebSearchResults, cfg.WebSearchRPS)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: web search: %w", err)
	}
	var searcher websearch.Searcher = google
	if redisClient != nil {
		searcher = websearch.NewCachedSearcher(google, redisClient, cfg.WebSearchCacheTTL, logger, m)
	}
	return websearch.NewTool(searcher, logger), nil
}

// ChatDeps are the collaborators BuildChat needs beyond config.
type ChatDeps struct {
	Model     llm.Model
	Index     retrieval.Index
	WebSearch chat.Tool
	Recorder  chat.Recorder
	Metrics   *metrics.ChatMetrics
	Logger    *logging.Logger
}

// BuildChat assembles the orchestrator and its HTTP handler.
func BuildChat(cfg *appconfig.Config, deps ChatDeps) (*chat.Handler, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if deps.Model == nil {
		return nil, fmt.Errorf("bootstrap: llm model is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.Default()
	}

	var tools []chat.Tool
	if deps.WebSearch != nil {
		tools = append(tools, deps.WebSearch)
	}
	index := deps.Index
	if index == nil {
		index = retrieval.Nop{}
	}

	orchestrator := chat.NewOrchestrator(
		BuildModerator(cfg, logger, deps.Metrics),
		retrieval.NewFailClosed(index, cfg.RetrievalTopK, logger, deps.Metrics),
		chat.NewComposer(cfg.AdmissionThreshold, cfg.StepLimit, tools...),
		chat.NewAdapter(deps.Model, cfg.MaxOutputTokens, logger, deps.Metrics),
		chat.OrchestratorOptions{
			Timeout:  cfg.RequestTimeout,
			Recorder: deps.Recorder,
			Logger:   logger,
			Metrics:  deps.Metrics,
		},
	)
	logger.Info("chat pipeline ready",
		"threshold", cfg.AdmissionThreshold,
		"step_limit", cfg.StepLimit,
		"tools", len(tools),
		"retrieval_backend", cfg.RetrievalBackend,
	)
	return chat.NewHandler(orchestrator, logger), nil
}
