// Package httpapi provides a generic HTTP-backed Generator: a model-
// agnostic JSON chat-completion client any collaborator endpoint can be
// bent to fit, demonstrating how a real provider client would own its own
// retry/backoff and rate limiting rather than leaning on the engine for
// either.
package httpapi

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cairn-labs/wbench/pkg/convo"
	"github.com/cairn-labs/wbench/pkg/generators"
	"github.com/cairn-labs/wbench/pkg/ratelimit"
	"github.com/cairn-labs/wbench/pkg/registry"
	"github.com/cairn-labs/wbench/pkg/retry"
	"github.com/cairn-labs/wbench/pkg/types"
)

func init() {
	generators.Register("httpapi.Generator", New)
}

// Generator talks to a single JSON chat-completion endpoint over HTTP,
// owning its own connection pooling, rate limiting, and retry policy.
type Generator struct {
	cfg     Config
	client  *http.Client
	limiter *ratelimit.Limiter
}

// New constructs a Generator from registry configuration, implementing the
// factory signature pkg/generators.Register expects.
func New(m registry.Config) (generators.Generator, error) {
	cfg, err := ConfigFromMap(m)
	if err != nil {
		return nil, err
	}

	g := &Generator{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.RequestTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 100,
				IdleConnTimeout:     90 * time.Second,
				TLSClientConfig:     &tls.Config{InsecureSkipVerify: false},
			},
		},
	}
	if cfg.RateLimit > 0 {
		capacity := cfg.RateLimit
		if capacity < 1 {
			capacity = 1
		}
		g.limiter = ratelimit.NewLimiter(capacity, cfg.RateLimit)
	}
	return g, nil
}

type requestBody struct {
	Model       string          `json:"model"`
	System      string          `json:"system,omitempty"`
	Messages    []convo.Message `json:"messages"`
	Temperature *float64        `json:"temperature,omitempty"`
	MaxTokens   *int            `json:"max_tokens,omitempty"`
	Schema      map[string]any  `json:"response_schema,omitempty"`
}

// Generate implements types.Generator by POSTing the conversation to the
// configured endpoint and parsing the JSON response. Transport errors, 429
// and 5xx responses are retried with jittered exponential backoff; the engine
// itself never wraps this call in retry logic.
func (g *Generator) Generate(ctx context.Context, modelID string, conv *convo.Conversation, opts types.GenerateOptions) (types.Completion, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return types.Completion{}, fmt.Errorf("httpapi: rate limit wait cancelled: %w", err)
		}
	}

	body := requestBody{
		Model:       modelID,
		Messages:    conv.ToMessages(),
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxOutputTokens,
		Schema:      opts.StructuredSchema,
	}
	if conv.System != nil {
		body.System = conv.System.Content
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return types.Completion{}, fmt.Errorf("httpapi: encode request: %w", err)
	}

	retryCfg := retry.Config{
		MaxAttempts:  g.cfg.RetryAttempts,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.2,
		RetryableFunc: func(err error) bool {
			var status httpStatusError
			if errors.As(err, &status) {
				return status.code == http.StatusTooManyRequests || status.code >= 500
			}
			return true
		},
	}

	var completion types.Completion
	err = retry.Do(ctx, retryCfg, func() error {
		c, callErr := g.call(ctx, payload)
		if callErr != nil {
			return callErr
		}
		completion = c
		return nil
	})
	if err != nil {
		return types.Completion{}, err
	}
	return completion, nil
}

type httpStatusError struct {
	code int
	msg  string
}

func (e httpStatusError) Error() string { return e.msg }

func (g *Generator) call(ctx context.Context, payload []byte) (types.Completion, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.URI, bytes.NewReader(payload))
	if err != nil {
		return types.Completion{}, fmt.Errorf("httpapi: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range g.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return types.Completion{}, fmt.Errorf("httpapi: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return types.Completion{}, fmt.Errorf("httpapi: read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return types.Completion{}, httpStatusError{code: resp.StatusCode, msg: fmt.Sprintf("httpapi: %d %s: %s", resp.StatusCode, resp.Status, strings.TrimSpace(string(respBody)))}
	}

	return g.parseResponse(respBody)
}

type responseUsage struct {
	InputTokens      int `json:"input_tokens"`
	OutputTokens     int `json:"output_tokens"`
	CacheReadTokens  int `json:"cache_read_tokens"`
	CacheWriteTokens int `json:"cache_write_tokens"`
}

func (g *Generator) parseResponse(body []byte) (types.Completion, error) {
	var data map[string]any
	if err := json.Unmarshal(body, &data); err != nil {
		return types.Completion{}, fmt.Errorf("httpapi: parse JSON response: %w", err)
	}

	text, ok := data[g.cfg.TextField].(string)
	if !ok {
		return types.Completion{}, fmt.Errorf("httpapi: response missing text field %q", g.cfg.TextField)
	}

	finishReason := types.FinishReasonStop
	if raw, ok := data[g.cfg.FinishReasonField].(string); ok {
		switch raw {
		case "length", "max_tokens":
			finishReason = types.FinishReasonLength
		case "stop", "end_turn", "":
			finishReason = types.FinishReasonStop
		default:
			finishReason = types.FinishReasonOther
		}
	}

	var usage responseUsage
	if raw, ok := data["usage"]; ok {
		if encoded, err := json.Marshal(raw); err == nil {
			_ = json.Unmarshal(encoded, &usage)
		}
	}

	return types.Completion{
		Text:         text,
		FinishReason: finishReason,
		Usage: types.Usage{
			InputTokens:      usage.InputTokens,
			OutputTokens:     usage.OutputTokens,
			CacheReadTokens:  usage.CacheReadTokens,
			CacheWriteTokens: usage.CacheWriteTokens,
		},
	}, nil
}

// Name implements types.Generator.
func (g *Generator) Name() string { return "httpapi.Generator" }
