package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"gptbridge/pkg/search"

	"github.com/google/jsonschema-go/jsonschema"
	jsoniter "github.com/json-iterator/go"
)

// WebSearchName is the name the model uses to request a web search.
const WebSearchName = "web_search"

type webSearchArgs struct {
	Query string `json:"query"`
}

// NewWebSearch returns the web_search tool backed by searcher. Search
// failures are returned as result text so the model can still answer.
func NewWebSearch(searcher search.Searcher) Tool {
	return Tool{
		Name:        WebSearchName,
		Description: "Search for information on the web using Google",
		Schema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"query": {
					Type:        "string",
					Description: "The search query",
					MinLength:   jsonschema.Ptr(1),
				},
			},
			Required: []string{"query"},
		},
		Handler: func(ctx context.Context, raw jsoniter.RawMessage) (string, error) {
			var args webSearchArgs
			if err := json.Unmarshal(raw, &args); err != nil {
				return "", fmt.Errorf("%w: %v", ErrInvalidArguments, err)
			}

			slog.InfoContext(ctx, "Searching the web", "query", args.Query)

			results, err := searcher.Search(ctx, args.Query)
			if err != nil {
				slog.WarnContext(ctx, "Web search failed", "query", args.Query, "error", err)
				return fmt.Sprintf("Error al buscar %q: %v", args.Query, err), nil
			}
			return FormatResults(args.Query, results), nil
		},
	}
}

// FormatResults renders at most search.MaxResults hits as numbered entries,
// or a "no results" sentence when there are none.
func FormatResults(query string, results []search.Result) string {
	if len(results) == 0 {
		return fmt.Sprintf("No se encontraron resultados para %q.", query)
	}
	if len(results) > search.MaxResults {
		results = results[:search.MaxResults]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Resultados de búsqueda para %q:\n\n", query)
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "%d. %s\n %s\n %s", i+1, r.Title, r.Snippet, r.Link)
	}
	return b.String()
}
