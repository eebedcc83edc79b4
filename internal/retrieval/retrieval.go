package retrieval

import (
	"context"
	"errors"
	"strings"

	"github.com/wolfman30/greanly/internal/observability/metrics"
	"github.com/wolfman30/greanly/pkg/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var retrievalTracer = otel.Tracer("greanly.retrieval")

var (
	// ErrEmptyQuery is returned by indexes asked to search for blank text.
	ErrEmptyQuery = errors.New("retrieval: query is empty")
	// ErrNoIndex is returned when the backing index does not exist yet.
	ErrNoIndex = errors.New("retrieval: index not found")
)

// Candidate is one ranked passage. Score is a similarity in [0, 1].
type Candidate struct {
	Content string
	Score   float64
}

// Index is a ranked search over knowledge passages. Results are ordered by
// descending score.
type Index interface {
	Search(ctx context.Context, query string, topK int) ([]Candidate, error)
}

// Retriever is what the chat pipeline consumes: it never fails, it only
// returns fewer (or zero) candidates.
type Retriever interface {
	Retrieve(ctx context.Context, query string) []Candidate
}

// FailClosed turns an Index into a Retriever. Errors, missing indexes and
// empty results all collapse to an empty list.
type FailClosed struct {
	index   Index
	topK    int
	logger  *logging.Logger
	metrics *metrics.ChatMetrics
}

func NewFailClosed(index Index, topK int, logger *logging.Logger, m *metrics.ChatMetrics) *FailClosed {
	if topK <= 0 {
		topK = 3
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &FailClosed{index: index, topK: topK, logger: logger, metrics: m}
}

func (r *FailClosed) Retrieve(ctx context.Context, query string) []Candidate {
	if r.index == nil || strings.TrimSpace(query) == "" {
		r.metrics.ObserveRetrieval("empty")
		return nil
	}

	ctx, span := retrievalTracer.Start(ctx, "retrieval.search")
	defer span.End()

	candidates, err := r.index.Search(ctx, query, r.topK)
	if err != nil {
		if errors.Is(err, ErrNoIndex) {
			r.logger.Warn("retrieval index missing, continuing without context")
		} else {
			r.logger.Warn("retrieval failed, continuing without context", "error", err)
		}
		span.SetAttributes(attribute.Bool("retrieval.error", true))
		r.metrics.ObserveRetrieval("error")
		return nil
	}
	if len(candidates) == 0 {
		r.metrics.ObserveRetrieval("empty")
		return nil
	}
	span.SetAttributes(attribute.Int("retrieval.candidates", len(candidates)))
	r.metrics.ObserveRetrieval("hit")
	return candidates
}

// ContextSource produces a single pre-assembled context string.
type ContextSource interface {
	Context(ctx context.Context, query string) (string, error)
}

// StaticScore adapts a ContextSource into an Index returning at most one
// candidate with a fixed score.
type StaticScore struct {
	Source ContextSource
	Score  float64
}

func (s StaticScore) Search(ctx context.Context, query string, _ int) ([]Candidate, error) {
	text, err := s.Source.Context(ctx, query)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	return []Candidate{{Content: text, Score: s.Score}}, nil
}

// Nop is an Index with no documents.
type Nop struct{}

func (Nop) Search(context.Context, string, int) ([]Candidate, error) { return nil, nil }
