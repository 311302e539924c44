// Package search provides the web search collaborator used by the
// web_search tool: a provider-neutral Searcher interface, Tavily and Google
// Custom Search clients and an LRU-backed cache.
package search

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"
)

// ErrEmptyResult is returned when a provider answered successfully but found
// nothing for the query.
var ErrEmptyResult = errors.New("search returned no results")

// MaxResultsCap is the largest result count any provider is asked for.
const MaxResultsCap = 10

// Result is one search hit.
type Result struct {
	Title   string  `json:"title" yaml:"title"`
	URL     string  `json:"url" yaml:"url"`
	Snippet string  `json:"snippet" yaml:"snippet"`
	Score   float64 `json:"score,omitempty" yaml:"score,omitempty"`
}

// Response is the outcome of one query. Answer is a provider generated
// summary, when the provider offers one.
type Response struct {
	Query   string   `json:"query" yaml:"query"`
	Answer  string   `json:"answer,omitempty" yaml:"answer,omitempty"`
	Results []Result `json:"results" yaml:"results"`
}

// Searcher runs web searches.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) (Response, error)
}

// Func adapts a function into a Searcher.
type Func func(ctx context.Context, query string, maxResults int) (Response, error)

// Search implements Searcher.
func (f Func) Search(ctx context.Context, query string, maxResults int) (Response, error) {
	return f(ctx, query, maxResults)
}

// StatusError reports a non-2xx answer from a search provider.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Provider, e.StatusCode, truncate(e.Body, 200))
}

// HTTPStatus returns the upstream status code.
func (e *StatusError) HTTPStatus() int { return e.StatusCode }

func clampResults(n int) int {
	if n <= 0 {
		return 5
	}
	if n > MaxResultsCap {
		return MaxResultsCap
	}
	return n
}

// truncate shortens s to at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
