package bootstrap

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/wolfman30/greanly/internal/config"
	"github.com/wolfman30/greanly/internal/retrieval"
	"github.com/wolfman30/greanly/pkg/logging"
)

// Ingester appends passages to the knowledge index.
type Ingester interface {
	Ingest(ctx context.Context, namespace string, docs []string) error
}

// defaultKnowledge seeds an empty namespace so a fresh deployment has
// something to ground answers on.
var defaultKnowledge = []string{
	"Restaurants can cut food waste by tracking what is thrown away for two weeks, then adjusting prep quantities and menu sizes to match actual demand.",
	"Switching to LED lighting typically uses at least 75% less energy than incandescent bulbs and lasts up to 25 times longer.",
	"Compostable packaging only breaks down as intended in industrial composting facilities; check local collection before switching from recyclable materials.",
}

// BuildIndex wires the configured knowledge index. The returned Ingester is
// nil when the backend does not accept writes.
func BuildIndex(ctx context.Context, cfg *appconfig.Config, awsCfg aws.Config, redisClient *redis.Client, pool *pgxpool.Pool, logger *logging.Logger) (retrieval.Index, Ingester, error) {
	if cfg == nil {
		return nil, nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	switch cfg.RetrievalBackend {
	case "none":
		logger.Info("retrieval disabled; every request uses the general branch")
		return retrieval.Nop{}, nil, nil
	case "weaviate":
		index, err := retrieval.NewWeaviateIndex(cfg.WeaviateHost, cfg.WeaviateScheme, cfg.WeaviateClass, cfg.KnowledgeNamespace)
		if err != nil {
			return nil, nil, fmt.Errorf("bootstrap: %w", err)
		}
		logger.Info("using weaviate knowledge index", "host", cfg.WeaviateHost, "class", cfg.WeaviateClass)
		return index, index, nil
	}

	embedder, err := buildEmbedder(cfg, awsCfg)
	if err != nil {
		return nil, nil, err
	}
	repo, err := buildKnowledgeRepository(cfg, redisClient, pool)
	if err != nil {
		return nil, nil, err
	}
	if cfg.SeedKnowledge {
		if err := ensureDefaultKnowledge(ctx, repo, cfg.KnowledgeNamespace); err != nil {
			logger.Warn("failed to seed default knowledge", "error", err)
		}
	}

	store := retrieval.NewMemoryStore(embedder, logger)
	index := retrieval.NewHydratingIndex(repo, store, cfg.KnowledgeNamespace, logger)
	logger.Info("using in-memory knowledge index",
		"embedding_provider", cfg.EmbeddingProvider,
		"knowledge_store", cfg.KnowledgeStore,
		"namespace", cfg.KnowledgeNamespace,
	)
	return index, index, nil
}

func buildEmbedder(cfg *appconfig.Config, awsCfg aws.Config) (retrieval.Embedder, error) {
	switch cfg.EmbeddingProvider {
	case "bedrock":
		if cfg.BedrockEmbeddingModelID == "" {
			return nil, fmt.Errorf("bootstrap: BEDROCK_EMBEDDING_MODEL_ID is required for bedrock embeddings")
		}
		return retrieval.NewBedrockEmbedder(bedrockruntime.NewFromConfig(awsCfg), cfg.BedrockEmbeddingModelID), nil
	default:
		client := NewOpenAIClient(cfg)
		if client == nil {
			return nil, fmt.Errorf("bootstrap: OPENAI_API_KEY is required for openai embeddings")
		}
		return retrieval.NewOpenAIEmbedder(client, cfg.OpenAIEmbeddingModel), nil
	}
}

func buildKnowledgeRepository(cfg *appconfig.Config, redisClient *redis.Client, pool *pgxpool.Pool) (retrieval.KnowledgeRepository, error) {
	switch cfg.KnowledgeStore {
	case "postgres":
		if pool == nil {
			return nil, fmt.Errorf("bootstrap: postgres knowledge store requires a reachable DATABASE_URL")
		}
		return retrieval.NewPostgresKnowledgeRepository(pool), nil
	default:
		if redisClient == nil {
			return nil, fmt.Errorf("bootstrap: redis knowledge store requires a reachable REDIS_ADDR")
		}
		return retrieval.NewRedisKnowledgeRepository(redisClient), nil
	}
}

func ensureDefaultKnowledge(ctx context.Context, repo retrieval.KnowledgeRepository, namespace string) error {
	existing, err := repo.GetDocuments(ctx, namespace)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	return repo.AppendDocuments(ctx, namespace, defaultKnowledge)
}
