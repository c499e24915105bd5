package search

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cyerrors "github.com/forzax/cycleloop/pkg/errors"
	"github.com/forzax/cycleloop/pkg/retry"
)

func TestBatchSearchEmpty(t *testing.T) {
	out, err := NewBatcher(MockBackend{}, nil).BatchSearch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestBatchSearchMockFormatting(t *testing.T) {
	out, err := NewBatcher(MockBackend{}, nil).BatchSearch(context.Background(), []string{"cheap snacks", "trial offers"})
	require.NoError(t, err)
	want := "Query: \"cheap snacks\"\nResults:\n" +
		"- Mock Result 1: Information about \"cheap snacks\"...\n" +
		"- Mock Result 2: More details on \"cheap snacks\"...\n\n" +
		"Query: \"trial offers\"\nResults:\n" +
		"- Mock Result 1: Information about \"trial offers\"...\n" +
		"- Mock Result 2: More details on \"trial offers\"..."
	assert.Equal(t, want, out)
}

type flakyBackend struct{ fail map[string]bool }

func (f flakyBackend) Search(ctx context.Context, q string) ([]Result, error) {
	if f.fail[q] {
		return nil, errors.New("boom")
	}
	return []Result{{Title: q, Snippet: "ok"}}, nil
}

func TestBatchSearchSkipsFailedQueries(t *testing.T) {
	b := NewBatcher(flakyBackend{fail: map[string]bool{"bad": true}}, nil)
	out, err := b.BatchSearch(context.Background(), []string{"bad", "good"})
	require.NoError(t, err)
	assert.Equal(t, "Query: \"good\"\nResults:\n- good: ok", out)

	_, err = b.BatchSearch(context.Background(), []string{"bad"})
	require.Error(t, err)
	assert.Equal(t, cyerrors.ErrSearchFailed, cyerrors.Code(err))
}

func TestBatchSearchCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewBatcher(MockBackend{}, nil).BatchSearch(ctx, []string{"q"})
	require.Error(t, err)
	assert.True(t, cyerrors.IsCancellation(err))
}

func TestSearXNGBackend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		q := r.URL.Query().Get("q")
		fmt.Fprintf(w, `{"results":[{"title":"A","url":"u1","content":"about %s"},{"title":"B","url":"u2","content":"b"},{"title":"C","url":"u3","content":"c"}]}`, q)
	}))
	defer srv.Close()

	results, err := NewSearXNGBackend(srv.URL, 2).Search(context.Background(), "acme rival")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, Result{Title: "A", URL: "u1", Snippet: "about acme rival"}, results[0])
}

func TestSearXNGBackendErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") == "broken" {
			fmt.Fprint(w, "not json")
			return
		}
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	b := NewSearXNGBackend(srv.URL, 0).WithRetry(retry.Config{MaxAttempts: 1})
	_, err := b.Search(context.Background(), "x")
	assert.Equal(t, cyerrors.ErrBackendStatus, cyerrors.Code(err))

	_, err = b.Search(context.Background(), "broken")
	assert.True(t, cyerrors.Is(err, cyerrors.KindMalformed))
}

func TestSearXNGBackendRetriesStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"results":[{"title":"A","url":"u1","content":"a"}]}`)
	}))
	defer srv.Close()

	b := NewSearXNGBackend(srv.URL, 5).WithRetry(retry.Config{
		MaxAttempts: 3,
		Strategy:    retry.ExponentialBackoff{InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1},
	})
	results, err := b.Search(context.Background(), "acme")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, int32(2), calls.Load())
}
