package websearch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/time/rate"
	"google.golang.org/api/customsearch/v1"
	"google.golang.org/api/option"
)

// GoogleSearcher queries a Programmable Search Engine.
type GoogleSearcher struct {
	svc     *customsearch.Service
	cx      string
	num     int64
	limiter *rate.Limiter
}

// NewGoogleSearcher builds a searcher. rps <= 0 disables client-side limiting.
// Extra client options (endpoint, http client) are passed through.
func NewGoogleSearcher(ctx context.Context, apiKey, cx string, num int64, rps float64, opts ...option.ClientOption) (*GoogleSearcher, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("websearch: google api key is required")
	}
	if strings.TrimSpace(cx) == "" {
		return nil, errors.New("websearch: google search engine id is required")
	}
	if num <= 0 || num > 10 {
		num = 5
	}
	svc, err := customsearch.NewService(ctx, append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("websearch: create custom search client: %w", err)
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
	return &GoogleSearcher{svc: svc, cx: cx, num: num, limiter: limiter}, nil
}

func (g *GoogleSearcher) Search(ctx context.Context, query string) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("websearch: rate limit: %w", err)
	}

	resp, err := g.svc.Cse.List().Q(query).Cx(g.cx).Num(g.num).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("websearch: google search: %w", err)
	}
	results := make([]Result, 0, len(resp.Items))
	for _, item := range resp.Items {
		results = append(results, Result{Title: item.Title, Link: item.Link, Snippet: item.Snippet})
	}
	return results, nil
}
