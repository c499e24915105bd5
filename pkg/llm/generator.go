// Package llm streams text from generation backends.
package llm

import (
	"context"
	"iter"
	"strings"

	cyerrors "github.com/forzax/cycleloop/pkg/errors"
)

// Request is one generation call.
type Request struct {
	Prompt string
	System string
	Model  string
	// OnChunk, when set, observes each streamed chunk in order.
	OnChunk func(chunk string)
}

// Generator returns the fully assembled text for a request. Implementations
// must return an error classified as cancellation when ctx is cancelled.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Streamer yields text chunks for a request. A stream is finite and can be
// restarted from scratch; it cannot resume mid-way.
type Streamer interface {
	Stream(ctx context.Context, req Request) iter.Seq2[string, error]
}

// Pinger checks that a backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Collect drains a stream, forwarding chunks to onChunk, and returns the
// concatenated text. Cancellation is reported distinctly from completion even
// when the stream ends quietly after ctx is done.
func Collect(ctx context.Context, seq iter.Seq2[string, error], onChunk func(string)) (string, error) {
	var b strings.Builder
	for chunk, err := range seq {
		if err != nil {
			return "", err
		}
		b.WriteString(chunk)
		if onChunk != nil {
			onChunk(chunk)
		}
	}
	if err := ctx.Err(); err != nil {
		return "", cyerrors.Wrap(err, cyerrors.ErrCancelled, "generation cancelled")
	}
	return b.String(), nil
}

// classify turns a transport error into an engine error, preferring
// cancellation when the caller's context is done.
func classify(ctx context.Context, err error, code, msg string) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return cyerrors.Wrap(ctxErr, cyerrors.ErrCancelled, "generation cancelled")
	}
	return cyerrors.Wrap(err, code, msg)
}
