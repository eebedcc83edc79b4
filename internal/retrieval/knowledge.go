package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

const (
	knowledgeKeyPrefix        = "knowledge:docs:"
	knowledgeVersionKeyPrefix = "knowledge:ver:"
)

// KnowledgeRepository persists raw knowledge passages per namespace.
type KnowledgeRepository interface {
	AppendDocuments(ctx context.Context, namespace string, docs []string) error
	GetDocuments(ctx context.Context, namespace string) ([]string, error)
	LoadAll(ctx context.Context) (map[string][]string, error)
}

// KnowledgeReplacer overwrites a namespace.
type KnowledgeReplacer interface {
	ReplaceDocuments(ctx context.Context, namespace string, docs []string) error
}

// KnowledgeVersioner tracks a monotonically bumped version per namespace so
// readers can detect replacements.
type KnowledgeVersioner interface {
	GetVersion(ctx context.Context, namespace string) (int64, error)
	BumpVersion(ctx context.Context, namespace string) (int64, error)
}

// RedisKnowledgeRepository stores passages in Redis lists.
type RedisKnowledgeRepository struct {
	client *redis.Client
}

func NewRedisKnowledgeRepository(client *redis.Client) *RedisKnowledgeRepository {
	if client == nil {
		panic("retrieval: redis client cannot be nil")
	}
	return &RedisKnowledgeRepository{client: client}
}

func (r *RedisKnowledgeRepository) AppendDocuments(ctx context.Context, namespace string, docs []string) error {
	if len(docs) == 0 {
		return nil
	}
	if err := r.client.RPush(ctx, knowledgeKey(namespace), toArgs(docs)...).Err(); err != nil {
		return fmt.Errorf("retrieval: push knowledge: %w", err)
	}
	return nil
}

// ReplaceDocuments overwrites the namespace and bumps its version in one transaction.
func (r *RedisKnowledgeRepository) ReplaceDocuments(ctx context.Context, namespace string, docs []string) error {
	key := knowledgeKey(namespace)
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, key)
	if len(docs) > 0 {
		pipe.RPush(ctx, key, toArgs(docs)...)
	}
	pipe.Incr(ctx, knowledgeVersionKey(namespace))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("retrieval: replace knowledge: %w", err)
	}
	return nil
}

func (r *RedisKnowledgeRepository) GetDocuments(ctx context.Context, namespace string) ([]string, error) {
	docs, err := r.client.LRange(ctx, knowledgeKey(namespace), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("retrieval: read knowledge: %w", err)
	}
	return docs, nil
}

func (r *RedisKnowledgeRepository) GetVersion(ctx context.Context, namespace string) (int64, error) {
	val, err := r.client.Get(ctx, knowledgeVersionKey(namespace)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("retrieval: get knowledge version: %w", err)
	}
	version, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("retrieval: parse knowledge version: %w", err)
	}
	return version, nil
}

func (r *RedisKnowledgeRepository) BumpVersion(ctx context.Context, namespace string) (int64, error) {
	v, err := r.client.Incr(ctx, knowledgeVersionKey(namespace)).Result()
	if err != nil {
		return 0, fmt.Errorf("retrieval: bump knowledge version: %w", err)
	}
	return v, nil
}

// LoadAll returns every namespace's passages.
func (r *RedisKnowledgeRepository) LoadAll(ctx context.Context) (map[string][]string, error) {
	var cursor uint64
	result := make(map[string][]string)
	for {
		keys, next, err := r.client.Scan(ctx, cursor, knowledgeKeyPrefix+"*", 50).Result()
		if err != nil {
			return nil, fmt.Errorf("retrieval: scan knowledge keys: %w", err)
		}
		for _, key := range keys {
			namespace := strings.TrimPrefix(key, knowledgeKeyPrefix)
			docs, err := r.client.LRange(ctx, key, 0, -1).Result()
			if err != nil {
				return nil, fmt.Errorf("retrieval: fetch knowledge %s: %w", namespace, err)
			}
			result[namespace] = docs
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return result, nil
}

func knowledgeKey(namespace string) string {
	return knowledgeKeyPrefix + namespace
}

func knowledgeVersionKey(namespace string) string {
	return knowledgeVersionKeyPrefix + namespace
}

func toArgs(docs []string) []any {
	args := make([]any, len(docs))
	for i, d := range docs {
		args[i] = d
	}
	return args
}
