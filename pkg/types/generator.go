// Package types provides shared interfaces used across wbench packages.
package types

import (
	"context"

	"github.com/cairn-labs/wbench/pkg/convo"
)

// Usage reports token accounting for a single generator call.
type Usage struct {
	InputTokens      int `json:"inputTokens"`
	OutputTokens     int `json:"outputTokens"`
	CacheReadTokens  int `json:"cacheReadTokens,omitempty"`
	CacheWriteTokens int `json:"cacheWriteTokens,omitempty"`
}

// FinishReason describes why a generator call stopped producing tokens.
type FinishReason string

const (
	FinishReasonStop   FinishReason = "stop"
	FinishReasonLength FinishReason = "length"
	FinishReasonOther  FinishReason = "other"
)

// Completion is the result of a single generator call.
type Completion struct {
	Text         string
	FinishReason FinishReason
	Usage        Usage
}

// GenerateOptions carries the optional parameters of the generator contract.
// Zero values mean "use the generator's default".
type GenerateOptions struct {
	Temperature      *float64
	MaxOutputTokens  *int
	StructuredSchema map[string]any
}

// Generator is the single external collaborator this engine depends on: an
// LLM client wrapping a model id, a system prompt, and a user prompt into a
// completion. Implementations own their own retry/backoff and rate
// limiting; the engine never retries a generator call itself.
type Generator interface {
	// Generate sends a conversation (system + single user prompt) to the
	// model identified by modelID.
	Generate(ctx context.Context, modelID string, conv *convo.Conversation, opts GenerateOptions) (Completion, error)
	// Name returns the generator's fully qualified name (e.g. "httpapi.Claude").
	Name() string
}
