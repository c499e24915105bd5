package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	cyerrors "github.com/forzax/cycleloop/pkg/errors"
	"github.com/forzax/cycleloop/pkg/retry"
)

const DefaultSearXNGURL = "http://localhost:8888"

// SearXNGBackend queries a SearXNG instance through its JSON API.
type SearXNGBackend struct {
	baseURL    string
	maxResults int
	client     *http.Client
	retry      retry.Config
}

// NewSearXNGBackend creates a backend for baseURL keeping at most maxResults
// hits per query.
func NewSearXNGBackend(baseURL string, maxResults int) *SearXNGBackend {
	if baseURL == "" {
		baseURL = DefaultSearXNGURL
	}
	if maxResults <= 0 {
		maxResults = 5
	}
	return &SearXNGBackend{
		baseURL:    strings.TrimRight(baseURL, "/"),
		maxResults: maxResults,
		client:     &http.Client{Timeout: 30 * time.Second},
		retry:      retry.Default(),
	}
}

// WithRetry replaces the retry policy applied to each query.
func (s *SearXNGBackend) WithRetry(cfg retry.Config) *SearXNGBackend {
	s.retry = cfg
	return s
}

type searxngResponse struct {
	Results []Result `json:"results"`
}

// Search implements Backend. Transport failures and non-200 statuses are
// retried; malformed bodies are not.
func (s *SearXNGBackend) Search(ctx context.Context, query string) ([]Result, error) {
	return retry.Do(ctx, s.retry, func(ctx context.Context) ([]Result, error) {
		return s.search(ctx, query)
	})
}

func (s *SearXNGBackend) search(ctx context.Context, query string) ([]Result, error) {
	u := s.baseURL + "/search?" + url.Values{"q": {query}, "format": {"json"}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, cyerrors.Wrap(err, cyerrors.ErrSearchFailed, "searxng request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, cyerrors.New(cyerrors.ErrBackendStatus,
			fmt.Sprintf("searxng returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var out searxngResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, cyerrors.Wrap(err, cyerrors.ErrMalformedResponse, "decode searxng response")
	}
	if len(out.Results) > s.maxResults {
		out.Results = out.Results[:s.maxResults]
	}
	return out.Results, nil
}
