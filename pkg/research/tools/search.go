package tools

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// SearchResult represents a single search result
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Searcher runs one search query and returns ranked results.
type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]SearchResult, error)
}

const (
	ProviderArxiv  = "arxiv"
	ProviderSerper = "serper"
)

var ErrUnsupportedProvider = errors.New("unsupported search provider")

// NewSearcher selects a search backend by provider name.
func NewSearcher(provider, apiKey string, timeout time.Duration) (Searcher, error) {
	client := &http.Client{Timeout: timeout}
	switch provider {
	case ProviderArxiv:
		return &Arxiv{Client: client}, nil
	case ProviderSerper:
		if apiKey == "" {
			return nil, fmt.Errorf("SERPER_API_KEY is not set")
		}
		return &Serper{APIKey: apiKey, Client: client}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, provider)
	}
}

// Format renders results as ranked text for a model.
func Format(query string, results []SearchResult) string {
	if len(results) == 0 {
		return "No results found for query: " + query
	}

	var b strings.Builder
	for i, r := range results {
		fmt.Fprintf(&b, "%d. %s\n", i+1, strings.TrimSpace(r.Title))
		if r.URL != "" {
			fmt.Fprintf(&b, "   URL: %s\n", r.URL)
		}
		if s := strings.TrimSpace(r.Snippet); s != "" {
			fmt.Fprintf(&b, "   %s\n", s)
		}
	}
	return b.String()
}
