package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// TavilyOptions configure the Tavily client.
type TavilyOptions struct {
	APIKey      string
	BaseURL     string
	Timeout     time.Duration
	Retries     int
	SearchDepth string // "basic" or "advanced"
}

// Tavily queries the Tavily search API. Its generated answer is surfaced as
// Response.Answer.
type Tavily struct {
	client *resty.Client
	opts   TavilyOptions
}

// NewTavily creates a Tavily client.
func NewTavily(optFns ...func(o *TavilyOptions)) *Tavily {
	opts := TavilyOptions{
		BaseURL:     "https://api.tavily.com",
		Timeout:     20 * time.Second,
		Retries:     2,
		SearchDepth: "basic",
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Tavily{client: newRestyClient(opts.BaseURL, opts.Timeout, opts.Retries), opts: opts}
}

type tavilyRequest struct {
	Query         string `json:"query"`
	MaxResults    int    `json:"max_results"`
	SearchDepth   string `json:"search_depth,omitempty"`
	IncludeAnswer bool   `json:"include_answer"`
}

type tavilyResponse struct {
	Answer  string `json:"answer"`
	Results []struct {
		Title   string  `json:"title"`
		URL     string  `json:"url"`
		Content string  `json:"content"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

// Search implements Searcher.
func (t *Tavily) Search(ctx context.Context, query string, maxResults int) (Response, error) {
	body := tavilyRequest{
		Query:         query,
		MaxResults:    clampResults(maxResults),
		SearchDepth:   t.opts.SearchDepth,
		IncludeAnswer: true,
	}

	resp, err := t.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetAuthToken(t.opts.APIKey).
		SetBody(body).
		Post("/search")
	if err != nil {
		return Response{}, fmt.Errorf("tavily request: %w", err)
	}
	if resp.IsError() {
		return Response{}, &StatusError{Provider: "tavily", StatusCode: resp.StatusCode(), Body: resp.String()}
	}

	var out tavilyResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return Response{}, fmt.Errorf("tavily decode: %w", err)
	}

	r := Response{Query: query, Answer: out.Answer}
	for _, item := range out.Results {
		r.Results = append(r.Results, Result{Title: item.Title, URL: item.URL, Snippet: item.Content, Score: item.Score})
	}
	if len(r.Results) == 0 && r.Answer == "" {
		return r, fmt.Errorf("tavily %q: %w", query, ErrEmptyResult)
	}
	return r, nil
}

// newRestyClient builds the shared HTTP client configuration. Provider
// throttling (429) and server errors are retried by resty itself.
func newRestyClient(baseURL string, timeout time.Duration, retries int) *resty.Client {
	client := resty.New()
	client.SetBaseURL(baseURL)
	client.SetTimeout(timeout)
	client.SetRetryCount(retries)
	client.SetRetryWaitTime(200 * time.Millisecond)
	client.SetRetryMaxWaitTime(2 * time.Second)
	client.AddRetryCondition(func(r *resty.Response, err error) bool {
		if err != nil || r == nil {
			return false
		}
		return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= http.StatusInternalServerError
	})
	return client
}
