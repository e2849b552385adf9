package httpapi

import (
	"fmt"
	"time"

	"github.com/cairn-labs/wbench/pkg/registry"
)

// Config holds typed configuration for an httpapi generator instance: one
// instance talks to one HTTP endpoint, so the model id passed to Generate
// is carried in the request body rather than selecting between endpoints.
type Config struct {
	URI               string
	Headers           map[string]string
	TextField         string
	FinishReasonField string
	RequestTimeout    time.Duration
	RateLimit         float64 // requests per second, 0 = unlimited
	RetryAttempts     int
}

// DefaultConfig returns sensible defaults matching a typical JSON chat-
// completion endpoint shape.
func DefaultConfig() Config {
	return Config{
		Headers:           make(map[string]string),
		TextField:         "text",
		FinishReasonField: "finish_reason",
		RequestTimeout:    60 * time.Second,
		RetryAttempts:     3,
	}
}

// ConfigFromMap parses a registry.Config map into a typed Config.
func ConfigFromMap(m registry.Config) (Config, error) {
	cfg := DefaultConfig()

	uri, ok := m["uri"].(string)
	if !ok || uri == "" {
		return cfg, fmt.Errorf("httpapi generator requires 'uri' configuration")
	}
	cfg.URI = uri

	if headers, ok := m["headers"].(map[string]any); ok {
		for k, v := range headers {
			if vs, ok := v.(string); ok {
				cfg.Headers[k] = vs
			}
		}
	}
	if field, ok := m["text_field"].(string); ok && field != "" {
		cfg.TextField = field
	}
	if field, ok := m["finish_reason_field"].(string); ok && field != "" {
		cfg.FinishReasonField = field
	}
	if timeout, ok := m["request_timeout_seconds"].(float64); ok && timeout > 0 {
		cfg.RequestTimeout = time.Duration(timeout * float64(time.Second))
	}
	if rate, ok := m["rate_limit"].(float64); ok && rate > 0 {
		cfg.RateLimit = rate
	}
	if attempts, ok := m["retry_attempts"].(float64); ok && attempts >= 0 {
		cfg.RetryAttempts = int(attempts)
	}

	return cfg, nil
}
