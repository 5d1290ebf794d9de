// Package llm talks to an OpenAI-compatible chat and embeddings API.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/JakeFAU/pressroom/internal/core"
	"github.com/JakeFAU/pressroom/internal/httpx"
	"github.com/JakeFAU/pressroom/internal/metrics"
	"github.com/JakeFAU/pressroom/internal/retry"
	"github.com/JakeFAU/pressroom/internal/telemetry"
)

// Config configures a Client.
type Config struct {
	BaseURL    string
	APIKey     string
	Model      string
	EmbedModel string
	Timeout    time.Duration
	Limiter    httpx.Waiter
	HTTP       *http.Client
	Retry      retry.Policy
}

// Client implements chat completions in JSON mode and embeddings.
type Client struct {
	http       *httpx.Client
	model      string
	embedModel string
	retry      retry.Policy
	logger     *zap.Logger
}

// New builds a Client. BaseURL defaults to the public OpenAI endpoint.
func New(cfg Config, logger *zap.Logger) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = "https://api.openai.com"
	}
	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	embedModel := cfg.EmbedModel
	if embedModel == "" {
		embedModel = "text-embedding-3-small"
	}
	return &Client{
		http: httpx.New(httpx.Config{
			BaseURL: base,
			Timeout: cfg.Timeout,
			Headers: map[string]string{"Authorization": "Bearer " + cfg.APIKey},
			Limiter: cfg.Limiter,
			HTTP:    cfg.HTTP,
		}),
		model:      model,
		embedModel: embedModel,
		retry:      cfg.Retry,
		logger:     logger.Named("llm"),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	ResponseFormat map[string]string `json:"response_format"`
	Temperature    float64           `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// ChatJSON sends a system and user message and decodes the model's JSON answer into out.
// Transport failures are retried under the client policy. An unparsable answer
// returns core.ErrMalformedResponse without retrying.
func (c *Client) ChatJSON(ctx context.Context, system, user string, out any) error {
	ctx, span := telemetry.Tracer("llm").Start(ctx, "llm.chat")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", c.model))

	req := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		ResponseFormat: map[string]string{"type": "json_object"},
	}
	policy := c.retry.WithOnRetry(func(err error, wait time.Duration) {
		c.logger.Warn("retrying chat completion", zap.Error(err), zap.Duration("wait", wait))
	})
	resp, err := retry.DoValue(ctx, policy, func(ctx context.Context) (chatResponse, error) {
		var resp chatResponse
		err := c.http.DoJSON(ctx, "chat completion", http.MethodPost, "/v1/chat/completions", req, &resp)
		return resp, err
	})
	if err != nil {
		metrics.ObserveLLM("chat", "error")
		span.RecordError(err)
		span.SetStatus(codes.Error, "chat completion failed")
		return err
	}
	if len(resp.Choices) == 0 {
		metrics.ObserveLLM("chat", "malformed")
		return fmt.Errorf("chat completion: no choices: %w", core.ErrMalformedResponse)
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(stripCodeFence(content)), out); err != nil {
		metrics.ObserveLLM("chat", "malformed")
		return fmt.Errorf("chat completion: decode answer: %w: %w", core.ErrMalformedResponse, err)
	}
	metrics.ObserveLLM("chat", "ok")
	return nil
}

// stripCodeFence removes a ```json fence some models add despite JSON mode.
func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed returns one vector per input, in input order. It makes a single
// attempt; callers own the retry policy for embeddings.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	ctx, span := telemetry.Tracer("llm").Start(ctx, "llm.embed")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", c.embedModel), attribute.Int("llm.inputs", len(texts)))

	var resp embedResponse
	if err := c.http.DoJSON(ctx, "embeddings", http.MethodPost, "/v1/embeddings",
		embedRequest{Model: c.embedModel, Input: texts}, &resp); err != nil {
		metrics.ObserveLLM("embed", "error")
		span.RecordError(err)
		span.SetStatus(codes.Error, "embeddings failed")
		return nil, err
	}
	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			metrics.ObserveLLM("embed", "malformed")
			return nil, fmt.Errorf("embeddings: index %d out of range: %w", d.Index, core.ErrMalformedResponse)
		}
		out[d.Index] = d.Embedding
	}
	for i, v := range out {
		if v == nil {
			metrics.ObserveLLM("embed", "malformed")
			return nil, fmt.Errorf("embeddings: missing vector %d: %w", i, core.ErrMalformedResponse)
		}
	}
	metrics.ObserveLLM("embed", "ok")
	return out, nil
}
