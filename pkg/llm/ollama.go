package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	cyerrors "github.com/forzax/cycleloop/pkg/errors"
)

const (
	DefaultOllamaHost  = "http://localhost:11434"
	DefaultOllamaModel = "mistral"
)

// OllamaClient streams completions from an Ollama server.
type OllamaClient struct {
	host   string
	model  string
	client *http.Client
	logger *zap.Logger
}

// NewOllamaClient creates a client for host. Empty values fall back to the
// local defaults.
func NewOllamaClient(host, model string, logger *zap.Logger) *OllamaClient {
	if host == "" {
		host = DefaultOllamaHost
	}
	if model == "" {
		model = DefaultOllamaModel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OllamaClient{
		host:  strings.TrimRight(host, "/"),
		model: model,
		// No overall timeout: generations stream for minutes and are bounded
		// by the caller's context instead.
		client: &http.Client{},
		logger: logger.Named("ollama"),
	}
}

type ollamaGenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaChunk struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error"`
}

// Generate implements Generator.
func (c *OllamaClient) Generate(ctx context.Context, req Request) (string, error) {
	return Collect(ctx, c.Stream(ctx, req), req.OnChunk)
}

// Stream implements Streamer. The system instruction is prepended to the
// prompt. Lines that are not valid JSON are skipped.
func (c *OllamaClient) Stream(ctx context.Context, req Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		model := req.Model
		if model == "" {
			model = c.model
		}
		body, err := json.Marshal(ollamaGenerateRequest{
			Model:   model,
			Prompt:  req.System + "\n\n" + req.Prompt,
			Stream:  true,
			Options: map[string]any{"temperature": 0.7, "top_p": 0.9},
		})
		if err != nil {
			yield("", cyerrors.Wrap(err, cyerrors.ErrInternal, "marshal request"))
			return
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/api/generate", bytes.NewReader(body))
		if err != nil {
			yield("", cyerrors.Wrap(err, cyerrors.ErrInternal, "create request"))
			return
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Accept", "application/json")

		start := time.Now()
		resp, err := c.client.Do(httpReq)
		if err != nil {
			yield("", classify(ctx, err, cyerrors.ErrGenerationFailed, "ollama request failed"))
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			yield("", cyerrors.New(cyerrors.ErrBackendStatus,
				fmt.Sprintf("ollama returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))))
			return
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var chunk ollamaChunk
			if err := json.Unmarshal(line, &chunk); err != nil {
				continue
			}
			if chunk.Error != "" {
				yield("", cyerrors.New(cyerrors.ErrGenerationFailed, "ollama: "+chunk.Error))
				return
			}
			if chunk.Response != "" && !yield(chunk.Response, nil) {
				return
			}
			if chunk.Done {
				c.logger.Debug("generation complete",
					zap.String("model", model),
					zap.Duration("elapsed", time.Since(start)))
				return
			}
		}
		if err := scanner.Err(); err != nil {
			yield("", classify(ctx, err, cyerrors.ErrGenerationFailed, "read ollama stream"))
		}
	}
}

// Ping checks the server by listing local models.
func (c *OllamaClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.host+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return cyerrors.Wrap(err, cyerrors.ErrGenerationFailed, "ollama unreachable")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return cyerrors.New(cyerrors.ErrBackendStatus, fmt.Sprintf("ollama returned status %d", resp.StatusCode))
	}
	return nil
}
