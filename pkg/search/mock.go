package search

import (
	"context"
	"fmt"
)

// MockBackend returns two placeholder results per query. It stands in for a
// real search engine during local runs and tests.
type MockBackend struct{}

// Search implements Backend.
func (MockBackend) Search(ctx context.Context, query string) ([]Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return []Result{
		{Title: "Mock Result 1", URL: "https://example.com/1", Snippet: fmt.Sprintf("Information about %q...", query)},
		{Title: "Mock Result 2", URL: "https://example.com/2", Snippet: fmt.Sprintf("More details on %q...", query)},
	}, nil
}
