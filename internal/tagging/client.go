// Package tagging generates short descriptive tags for extracted content
// through a chat-completion capability. Tagging is strictly best-effort:
// every failure path ends in an empty tag list, never in a job failure.
package tagging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionOptions bound a single completion call.
type CompletionOptions struct {
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// Completer is the text-in/text-out capability the tagger consumes.
type Completer interface {
	Complete(ctx context.Context, messages []Message, opts CompletionOptions) (string, error)
}

// ErrProvider marks a non-2xx or malformed response from the completion
// backend.
var ErrProvider = errors.New("completion provider error")

// OpenAIConfig configures the chat/completions client.
type OpenAIConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

// OpenAIClient implements Completer over an OpenAI-compatible
// /chat/completions endpoint.
type OpenAIClient struct {
	cfg        OpenAIConfig
	httpClient *http.Client
	log        *slog.Logger
}

func NewOpenAIClient(cfg OpenAIConfig, logger *slog.Logger) *OpenAIClient {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	return &OpenAIClient{
		cfg:        cfg,
		httpClient: &http.Client{},
		log:        logger,
	}
}

func (c *OpenAIClient) Complete(ctx context.Context, messages []Message, opts CompletionOptions) (string, error) {
	rid := uuid.New().String()
	start := time.Now()

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	body := map[string]any{
		"model":       c.cfg.Model,
		"temperature": opts.Temperature,
		"messages":    messages,
	}
	if opts.MaxTokens > 0 {
		body["max_tokens"] = opts.MaxTokens
	}

	c.log.Info("tagging.complete.start",
		"req_id", rid,
		"model", c.cfg.Model,
		"temp", opts.Temperature,
		"max_tokens", opts.MaxTokens,
	)

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	raw, err := c.post(ctx, endpoint, body)
	if err != nil {
		c.log.Error("tagging.complete.http_error",
			"req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return "", err
	}

	var cc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		c.log.Error("tagging.complete.decode_error",
			"req_id", rid, "error", err, "raw_bytes", len(raw),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return "", fmt.Errorf("%w: decode response: %v", ErrProvider, err)
	}
	if len(cc.Choices) == 0 {
		c.log.Error("tagging.complete.no_choices",
			"req_id", rid,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return "", fmt.Errorf("%w: no choices in response", ErrProvider)
	}

	c.log.Info("tagging.complete.ok",
		"req_id", rid,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return cc.Choices[0].Message.Content, nil
}

func (c *OpenAIClient) post(ctx context.Context, url string, body map[string]any) ([]byte, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func(body io.ReadCloser) {
		if err := body.Close(); err != nil {
			c.log.Warn("completion response body close error", "error", err)
		}
	}(resp.Body)

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d: %s", ErrProvider, resp.StatusCode, string(raw))
	}
	return raw, nil
}
