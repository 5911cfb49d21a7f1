package tools

import (
	"context"
	"fmt"
	"net/url"

	"github.com/pouyahbb/polaris/pkg/ai"
)

// URLFetcher retrieves a web page as plain text.
type URLFetcher interface {
	Fetch(ctx context.Context, rawURL string) (string, error)
}

type scrapeURLsTool struct {
	fetcher URLFetcher
}

func (scrapeURLsTool) Definition() ai.ToolDefinition {
	return ai.ToolDefinition{
		Name:        "scrapeUrls",
		Description: "Fetch one or more web pages and return their text content. Use this to read documentation or reference material the user links to.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"urls": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "Absolute http or https URLs to fetch.",
				},
			},
			"required": []string{"urls"},
		},
	}
}

func (t scrapeURLsTool) Invoke(ctx context.Context, _ Env, args map[string]any) string {
	urls, ok := stringSliceArg(args, "urls")
	if !ok || len(urls) == 0 {
		return "Error: urls must be a non-empty array of URLs"
	}
	var lines []string
	for _, rawURL := range urls {
		if _, err := url.ParseRequestURI(rawURL); err != nil {
			lines = append(lines, fmt.Sprintf("Error fetching %s: invalid URL", rawURL))
			continue
		}
		text, err := t.fetcher.Fetch(ctx, rawURL)
		if err != nil {
			lines = append(lines, fmt.Sprintf("Error fetching %s: %s", rawURL, err.Error()))
			continue
		}
		lines = append(lines, fmt.Sprintf("=== %s ===\n%s", rawURL, text))
	}
	return joinLines(lines)
}
