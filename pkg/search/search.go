package search

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	cyerrors "github.com/forzax/cycleloop/pkg/errors"
)

// Result is one hit returned by a search backend.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"content"`
}

// Searcher aggregates a batch of queries into one findings text.
type Searcher interface {
	BatchSearch(ctx context.Context, queries []string) (string, error)
}

// Backend runs a single query.
type Backend interface {
	Search(ctx context.Context, query string) ([]Result, error)
}

// Batcher adapts a Backend to Searcher. Queries run in order; a query that
// fails is logged and left out of the findings. The batch only fails when
// every query failed or the context was cancelled.
type Batcher struct {
	backend Backend
	logger  *zap.Logger
}

// NewBatcher wraps backend.
func NewBatcher(backend Backend, logger *zap.Logger) *Batcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Batcher{backend: backend, logger: logger.Named("search")}
}

// BatchSearch implements Searcher. An empty query list returns "".
func (b *Batcher) BatchSearch(ctx context.Context, queries []string) (string, error) {
	if len(queries) == 0 {
		return "", nil
	}
	blocks := make([]string, 0, len(queries))
	var lastErr error
	for _, q := range queries {
		results, err := b.backend.Search(ctx, q)
		if err != nil {
			if ctx.Err() != nil {
				return "", cyerrors.Wrap(ctx.Err(), cyerrors.ErrCancelled, "search cancelled")
			}
			b.logger.Warn("query failed", zap.String("query", q), zap.Error(err))
			lastErr = err
			continue
		}
		blocks = append(blocks, FormatResults(q, results))
	}
	if len(blocks) == 0 {
		return "", cyerrors.Wrap(lastErr, cyerrors.ErrSearchFailed, fmt.Sprintf("all %d queries failed", len(queries)))
	}
	return strings.Join(blocks, "\n\n"), nil
}

// FormatResults renders one query's results for summarization.
func FormatResults(query string, results []Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Query: %q\nResults:", query)
	for _, r := range results {
		fmt.Fprintf(&b, "\n- %s: %s", r.Title, r.Snippet)
	}
	return b.String()
}
