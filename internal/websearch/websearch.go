package websearch

import (
	"context"
	"errors"
)

// ErrEmptyQuery is returned when asked to search for blank text.
var ErrEmptyQuery = errors.New("websearch: query is empty")

// FriendlyError is the message the model sees when a search fails.
const FriendlyError = "Could not fetch supplier information."

// Result is one web hit.
type Result struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}

// Response is the tool output handed back to the model.
type Response struct {
	Results []Result `json:"results"`
	Error   string   `json:"error,omitempty"`
}

// Searcher runs a web search.
type Searcher interface {
	Search(ctx context.Context, query string) ([]Result, error)
}
