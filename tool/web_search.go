package tool

import (
	"context"
	"strings"

	"github.com/hupe1980/researchmesh/search"
)

// WebSearchName is the registered name of the web search tool.
const WebSearchName = "web_search"

// WebSearchOptions configure the web_search tool.
type WebSearchOptions struct {
	// DefaultMaxResults applies when the model omits max_results (default 5).
	DefaultMaxResults int
}

// NewWebSearch exposes a search.Searcher as the web_search tool. The payload
// is a search.Response; an empty answer with no hits is reported as a
// collaborator failure so the agent can retry with a different query.
func NewWebSearch(s search.Searcher, optFns ...func(o *WebSearchOptions)) *FunctionTool {
	opts := WebSearchOptions{DefaultMaxResults: 5}
	for _, fn := range optFns {
		fn(&opts)
	}

	params := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"minLength":   1,
				"description": "The search query. Be specific; include entities, places and time ranges.",
			},
			"max_results": map[string]any{
				"type":        "integer",
				"minimum":     1,
				"maximum":     search.MaxResultsCap,
				"description": "Maximum number of results to return.",
			},
		},
		"required":             []string{"query"},
		"additionalProperties": false,
	}

	return NewFunctionTool(
		WebSearchName,
		"Search the web for up-to-date information. Returns a short answer (when available) and a list of results with title, url and snippet.",
		params,
		func(ctx context.Context, args map[string]any) (any, error) {
			query := strings.TrimSpace(stringArg(args, "query"))
			if query == "" {
				return nil, NewToolError(WebSearchName, "query must not be blank", ClassInvalidArguments)
			}
			return s.Search(ctx, query, intArg(args, "max_results", opts.DefaultMaxResults))
		},
	)
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

// intArg reads an integer argument that may have been decoded from JSON
// (float64) or set directly by Go code.
func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return def
	}
}
