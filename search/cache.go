package search

import (
	"context"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Cached memoizes successful responses of another Searcher in a bounded LRU.
// Failures are never cached so a transient outage does not stick.
type Cached struct {
	next  Searcher
	cache *lru.Cache[string, Response]
}

// NewCached wraps s with an LRU of the given size.
func NewCached(s Searcher, size int) (*Cached, error) {
	c, err := lru.New[string, Response](size)
	if err != nil {
		return nil, fmt.Errorf("search cache: %w", err)
	}
	return &Cached{next: s, cache: c}, nil
}

func cacheKey(query string, maxResults int) string {
	return fmt.Sprintf("%d|%s", clampResults(maxResults), strings.ToLower(strings.TrimSpace(query)))
}

// Search implements Searcher.
func (c *Cached) Search(ctx context.Context, query string, maxResults int) (Response, error) {
	key := cacheKey(query, maxResults)
	if r, ok := c.cache.Get(key); ok {
		return r, nil
	}
	r, err := c.next.Search(ctx, query, maxResults)
	if err != nil {
		return r, err
	}
	c.cache.Add(key, r)
	return r, nil
}

// Len returns the number of cached entries.
func (c *Cached) Len() int { return c.cache.Len() }
