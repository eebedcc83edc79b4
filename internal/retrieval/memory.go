package retrieval

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"

	"github.com/wolfman30/greanly/pkg/logging"
	"golang.org/x/sync/errgroup"
)

const embedBatchSize = 64

// MemoryStore keeps embeddings in process and ranks by cosine similarity.
// Documents live in namespaces; the "" namespace is shared by every query.
type MemoryStore struct {
	embedder Embedder
	logger   *logging.Logger

	mu        sync.RWMutex
	documents map[string][]storedDocument
}

type storedDocument struct {
	content   string
	embedding []float32
}

func NewMemoryStore(embedder Embedder, logger *logging.Logger) *MemoryStore {
	if embedder == nil {
		panic("retrieval: embedder cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &MemoryStore{
		embedder:  embedder,
		logger:    logger,
		documents: make(map[string][]storedDocument),
	}
}

// AddDocuments embeds contents in batches and appends them to namespace.
// Nothing is stored unless every batch succeeds.
func (s *MemoryStore) AddDocuments(ctx context.Context, namespace string, contents []string) error {
	docs, err := s.embedAll(ctx, contents)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		return nil
	}
	s.mu.Lock()
	s.documents[namespace] = append(s.documents[namespace], docs...)
	s.mu.Unlock()
	return nil
}

// ReplaceDocuments swaps the namespace contents atomically.
func (s *MemoryStore) ReplaceDocuments(ctx context.Context, namespace string, contents []string) error {
	docs, err := s.embedAll(ctx, contents)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.documents[namespace] = docs
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) embedAll(ctx context.Context, contents []string) ([]storedDocument, error) {
	if len(contents) == 0 {
		return nil, nil
	}
	docs := make([]storedDocument, len(contents))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for start := 0; start < len(contents); start += embedBatchSize {
		end := min(start+embedBatchSize, len(contents))
		g.Go(func() error {
			batch := contents[start:end]
			vectors, err := s.embedder.Embed(gctx, batch)
			if err != nil {
				return err
			}
			if len(vectors) != len(batch) {
				return errors.New("retrieval: embedding response size mismatch")
			}
			for i, vec := range vectors {
				docs[start+i] = storedDocument{content: batch[i], embedding: vec}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return docs, nil
}

// Query ranks namespace documents (plus shared ones) against query.
func (s *MemoryStore) Query(ctx context.Context, namespace, query string, topK int) ([]Candidate, error) {
	if topK <= 0 {
		topK = 3
	}
	s.mu.RLock()
	total := len(s.documents[namespace])
	if namespace != "" {
		total += len(s.documents[""])
	}
	s.mu.RUnlock()
	if total == 0 {
		return nil, nil
	}

	vectors, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, nil
	}
	queryVec := vectors[0]

	s.mu.RLock()
	candidates := append([]storedDocument(nil), s.documents[namespace]...)
	if namespace != "" {
		candidates = append(candidates, s.documents[""]...)
	}
	s.mu.RUnlock()

	results := make([]Candidate, 0, len(candidates))
	for _, doc := range candidates {
		results = append(results, Candidate{
			Content: doc.content,
			Score:   cosineSimilarity(queryVec, doc.embedding),
		})
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// Len reports how many documents a namespace holds, excluding shared ones.
func (s *MemoryStore) Len(namespace string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.documents[namespace])
}

// cosineSimilarity is clamped to [0, 1]; opposing vectors count as unrelated.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	return math.Max(0, math.Min(1, sim))
}
