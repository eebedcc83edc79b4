package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
)

// WeaviateIndex searches a Weaviate class with nearText. The class must have
// a text2vec module configured; certainty is used as the candidate score.
type WeaviateIndex struct {
	client    *weaviate.Client
	class     string
	namespace string
}

func NewWeaviateIndex(host, scheme, class, namespace string) (*WeaviateIndex, error) {
	if strings.TrimSpace(class) == "" {
		return nil, errors.New("retrieval: weaviate class is required")
	}
	if scheme == "" {
		scheme = "http"
	}
	client, err := weaviate.NewClient(weaviate.Config{Host: host, Scheme: scheme})
	if err != nil {
		return nil, fmt.Errorf("retrieval: create weaviate client: %w", err)
	}
	return &WeaviateIndex{client: client, class: class, namespace: namespace}, nil
}

// Search implements Index.
func (w *WeaviateIndex) Search(ctx context.Context, query string, topK int) ([]Candidate, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	if topK <= 0 {
		topK = 3
	}

	nearText := w.client.GraphQL().NearTextArgBuilder().WithConcepts([]string{query})
	get := w.client.GraphQL().Get().
		WithClassName(w.class).
		WithFields(
			graphql.Field{Name: "content"},
			graphql.Field{Name: "_additional { certainty distance }"},
		).
		WithNearText(nearText).
		WithLimit(topK)
	if w.namespace != "" {
		get = get.WithWhere(filters.Where().
			WithPath([]string{"namespace"}).
			WithOperator(filters.Equal).
			WithValueString(w.namespace))
	}

	result, err := get.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("retrieval: weaviate search: %w", err)
	}
	return parseWeaviateCandidates(result, w.class)
}

// Ingest stores passages under namespace, or the index namespace when empty.
func (w *WeaviateIndex) Ingest(ctx context.Context, namespace string, docs []string) error {
	if namespace == "" {
		namespace = w.namespace
	}
	for i, doc := range docs {
		_, err := w.client.Data().Creator().
			WithClassName(w.class).
			WithProperties(map[string]any{
				"content":   doc,
				"namespace": namespace,
			}).
			Do(ctx)
		if err != nil {
			return fmt.Errorf("retrieval: weaviate insert %d: %w", i, err)
		}
	}
	return nil
}

func parseWeaviateCandidates(result *models.GraphQLResponse, class string) ([]Candidate, error) {
	if result == nil {
		return nil, nil
	}
	if len(result.Errors) > 0 {
		msg := result.Errors[0].Message
		if strings.Contains(msg, "Cannot query field") || (strings.Contains(msg, "class") && strings.Contains(msg, "not found")) {
			return nil, fmt.Errorf("%w: %s", ErrNoIndex, msg)
		}
		return nil, fmt.Errorf("retrieval: weaviate search error: %s", msg)
	}
	data, ok := result.Data["Get"].(map[string]any)
	if !ok {
		return nil, nil
	}
	objects, ok := data[class].([]any)
	if !ok {
		return nil, nil
	}

	out := make([]Candidate, 0, len(objects))
	for _, obj := range objects {
		m, ok := obj.(map[string]any)
		if !ok {
			continue
		}
		content, _ := m["content"].(string)
		if strings.TrimSpace(content) == "" {
			continue
		}
		score := 0.0
		if additional, ok := m["_additional"].(map[string]any); ok {
			if certainty, ok := additional["certainty"].(float64); ok {
				score = certainty
			} else if distance, ok := additional["distance"].(float64); ok {
				score = 1 - distance/2
			}
		}
		out = append(out, Candidate{Content: content, Score: score})
	}
	return out, nil
}
