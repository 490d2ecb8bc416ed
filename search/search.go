package search

import (
	"context"
	"errors"
)

// ErrRateLimited marks a provider failure caused by upstream throttling.
// The aggregator waits longer before retrying such failures.
var ErrRateLimited = errors.New("search rate limited")

// Result is one search hit. URL is the uniqueness key.
type Result struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

// Provider runs a single text query.
type Provider interface {
	Search(ctx context.Context, query string, maxResults int) ([]Result, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, query string, maxResults int) ([]Result, error)

// Search implements Provider.
func (f ProviderFunc) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	return f(ctx, query, maxResults)
}
