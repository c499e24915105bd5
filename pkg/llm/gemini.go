package llm

import (
	"context"
	"fmt"
	"iter"

	"go.uber.org/zap"
	"google.golang.org/genai"

	cyerrors "github.com/forzax/cycleloop/pkg/errors"
)

const DefaultGeminiModel = "gemini-2.5-flash"

// GeminiClient streams completions from the Gemini API.
type GeminiClient struct {
	client *genai.Client
	model  string
	logger *zap.Logger
}

// NewGeminiClient creates a Gemini-backed generator.
func NewGeminiClient(ctx context.Context, apiKey, model string, logger *zap.Logger) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, cyerrors.New(cyerrors.ErrMissingRequired, "gemini API key is required")
	}
	if model == "" {
		model = DefaultGeminiModel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GeminiClient{client: client, model: model, logger: logger.Named("gemini")}, nil
}

// Generate implements Generator.
func (g *GeminiClient) Generate(ctx context.Context, req Request) (string, error) {
	return Collect(ctx, g.Stream(ctx, req), req.OnChunk)
}

// Stream implements Streamer.
func (g *GeminiClient) Stream(ctx context.Context, req Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		model := req.Model
		if model == "" {
			model = g.model
		}
		var cfg *genai.GenerateContentConfig
		if req.System != "" {
			cfg = &genai.GenerateContentConfig{
				SystemInstruction: genai.NewContentFromText(req.System, genai.RoleUser),
			}
		}
		for resp, err := range g.client.Models.GenerateContentStream(ctx, model, genai.Text(req.Prompt), cfg) {
			if err != nil {
				yield("", classify(ctx, err, cyerrors.ErrGenerationFailed, "gemini stream failed"))
				return
			}
			if text := resp.Text(); text != "" && !yield(text, nil) {
				return
			}
		}
	}
}

// Ping checks that the configured model is visible to the API key.
func (g *GeminiClient) Ping(ctx context.Context) error {
	if _, err := g.client.Models.Get(ctx, g.model, nil); err != nil {
		return cyerrors.Wrap(err, cyerrors.ErrGenerationFailed, "gemini unreachable")
	}
	return nil
}
