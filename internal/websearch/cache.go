package websearch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/wolfman30/greanly/internal/observability/metrics"
	"github.com/wolfman30/greanly/pkg/logging"
)

const cacheKeyPrefix = "websearch:"

// CachedSearcher memoizes results in Redis. Cache failures are logged and
// fall through to the wrapped searcher; failed searches are not cached.
type CachedSearcher struct {
	next    Searcher
	client  *redis.Client
	ttl     time.Duration
	logger  *logging.Logger
	metrics *metrics.ChatMetrics
}

func NewCachedSearcher(next Searcher, client *redis.Client, ttl time.Duration, logger *logging.Logger, m *metrics.ChatMetrics) *CachedSearcher {
	if next == nil {
		panic("websearch: searcher cannot be nil")
	}
	if client == nil {
		panic("websearch: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &CachedSearcher{next: next, client: client, ttl: ttl, logger: logger, metrics: m}
}

func (c *CachedSearcher) Search(ctx context.Context, query string) ([]Result, error) {
	key := cacheKey(query)

	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var cached []Result
		if jsonErr := json.Unmarshal(raw, &cached); jsonErr == nil {
			c.metrics.ObserveSearchCache(true)
			return cached, nil
		}
		c.logger.Warn("discarding corrupt web search cache entry", "key", key)
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("web search cache read failed", "error", err)
	}
	c.metrics.ObserveSearchCache(false)

	results, err := c.next.Search(ctx, query)
	if err != nil {
		return nil, err
	}
	if payload, err := json.Marshal(results); err == nil {
		if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
			c.logger.Warn("web search cache write failed", "error", err)
		}
	}
	return results, nil
}

// cacheKey hashes the normalized query so keys stay short and free of user text.
func cacheKey(query string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(query)), " ")
	sum := sha256.Sum256([]byte(normalized))
	return cacheKeyPrefix + hex.EncodeToString(sum[:])
}
