package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
)

// GoogleOptions configure the Google Custom Search client.
type GoogleOptions struct {
	APIKey   string
	EngineID string // the "cx" parameter
	BaseURL  string
	Timeout  time.Duration
	Retries  int
}

// Google queries the Google Custom Search JSON API. The API returns at most
// ten items per request.
type Google struct {
	client *resty.Client
	opts   GoogleOptions
}

// NewGoogle creates a Google Custom Search client.
func NewGoogle(optFns ...func(o *GoogleOptions)) *Google {
	opts := GoogleOptions{
		BaseURL: "https://www.googleapis.com",
		Timeout: 20 * time.Second,
		Retries: 2,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Google{client: newRestyClient(opts.BaseURL, opts.Timeout, opts.Retries), opts: opts}
}

type googleResponse struct {
	Items []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
	} `json:"items"`
}

// Search implements Searcher.
func (g *Google) Search(ctx context.Context, query string, maxResults int) (Response, error) {
	resp, err := g.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"key": g.opts.APIKey,
			"cx":  g.opts.EngineID,
			"q":   query,
			"num": strconv.Itoa(clampResults(maxResults)),
		}).
		Get("/customsearch/v1")
	if err != nil {
		return Response{}, fmt.Errorf("google request: %w", err)
	}
	if resp.IsError() {
		return Response{}, &StatusError{Provider: "google", StatusCode: resp.StatusCode(), Body: resp.String()}
	}

	var out googleResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return Response{}, fmt.Errorf("google decode: %w", err)
	}

	r := Response{Query: query}
	for _, item := range out.Items {
		r.Results = append(r.Results, Result{Title: item.Title, URL: item.Link, Snippet: item.Snippet})
	}
	if len(r.Results) == 0 {
		return r, fmt.Errorf("google %q: %w", query, ErrEmptyResult)
	}
	return r, nil
}
