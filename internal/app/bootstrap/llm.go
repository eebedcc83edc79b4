package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	openai "github.com/sashabaranov/go-openai"

	appconfig "github.com/wolfman30/greanly/internal/config"
	"github.com/wolfman30/greanly/internal/llm"
	"github.com/wolfman30/greanly/pkg/logging"
)

// NewOpenAIClient returns nil when no API key is configured.
func NewOpenAIClient(cfg *appconfig.Config) *openai.Client {
	if cfg == nil || strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
		return nil
	}
	clientCfg := openai.DefaultConfig(cfg.OpenAIAPIKey)
	if base := strings.TrimSpace(cfg.OpenAIBaseURL); base != "" {
		clientCfg.BaseURL = base
	}
	return openai.NewClientWithConfig(clientCfg)
}

// BuildModel wires the configured primary provider, wrapped with the
// fallback provider when one is set. The returned cleanup releases provider
// clients that hold connections.
func BuildModel(ctx context.Context, cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) (llm.Model, func(), error) {
	if cfg == nil {
		return nil, nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	var closers []func()
	cleanup := func() {
		for _, c := range closers {
			c()
		}
	}

	primary, closer, err := buildProvider(ctx, cfg.LLMProvider, cfg, awsCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("bootstrap: primary llm: %w", err)
	}
	if closer != nil {
		closers = append(closers, closer)
	}
	logger.Info("llm provider configured", "provider", cfg.LLMProvider)

	if cfg.FallbackLLMProvider == "" || cfg.FallbackLLMProvider == cfg.LLMProvider {
		return primary, cleanup, nil
	}
	fallback, closer, err := buildProvider(ctx, cfg.FallbackLLMProvider, cfg, awsCfg)
	if err != nil {
		logger.Warn("fallback llm unavailable; continuing without it", "provider", cfg.FallbackLLMProvider, "error", err)
		return primary, cleanup, nil
	}
	if closer != nil {
		closers = append(closers, closer)
	}
	logger.Info("fallback llm provider configured", "provider", cfg.FallbackLLMProvider)
	return llm.NewFallbackModel(primary, fallback, logger.Logger), cleanup, nil
}

func buildProvider(ctx context.Context, provider string, cfg *appconfig.Config, awsCfg aws.Config) (llm.Model, func(), error) {
	switch provider {
	case "openai":
		client := NewOpenAIClient(cfg)
		if client == nil {
			return nil, nil, fmt.Errorf("OPENAI_API_KEY is required for provider openai")
		}
		return llm.NewOpenAIModel(client, cfg.OpenAIModel), nil, nil
	case "bedrock":
		if strings.TrimSpace(cfg.BedrockModelID) == "" {
			return nil, nil, fmt.Errorf("BEDROCK_MODEL_ID is required for provider bedrock")
		}
		return llm.NewBedrockModel(bedrockruntime.NewFromConfig(awsCfg), cfg.BedrockModelID), nil, nil
	case "gemini":
		if strings.TrimSpace(cfg.GeminiAPIKey) == "" {
			return nil, nil, fmt.Errorf("GEMINI_API_KEY is required for provider gemini")
		}
		model, err := llm.NewGeminiModel(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, nil, err
		}
		return model, func() { _ = model.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown llm provider %q", provider)
	}
}
