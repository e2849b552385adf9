package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cairn-labs/wbench/pkg/convo"
	"github.com/cairn-labs/wbench/pkg/registry"
	"github.com/cairn-labs/wbench/pkg/types"
)

func TestGenerate_ParsesTextAndUsage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req requestBody
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "claude", req.Model)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"text":          "a poem about rivers",
			"finish_reason": "stop",
			"usage":         map[string]any{"input_tokens": 10, "output_tokens": 20},
		})
	}))
	defer server.Close()

	g, err := New(registry.Config{"uri": server.URL})
	require.NoError(t, err)

	completion, err := g.Generate(context.Background(), "claude", convo.NewConversation("write a poem"), types.GenerateOptions{})
	require.NoError(t, err)
	assert.Equal(t, "a poem about rivers", completion.Text)
	assert.Equal(t, types.FinishReasonStop, completion.FinishReason)
	assert.Equal(t, 10, completion.Usage.InputTokens)
	assert.Equal(t, 20, completion.Usage.OutputTokens)
}

func TestGenerate_TruncationMapsToLengthFinishReason(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"text": "cut off", "finish_reason": "max_tokens"})
	}))
	defer server.Close()

	g, err := New(registry.Config{"uri": server.URL})
	require.NoError(t, err)

	completion, err := g.Generate(context.Background(), "claude", convo.NewConversation("write"), types.GenerateOptions{})
	require.NoError(t, err)
	assert.Equal(t, types.FinishReasonLength, completion.FinishReason)
}

func TestGenerate_RetriesOn500ThenSucceeds(t *testing.T) {
	var attempts int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt64(&attempts, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"text": "ok", "finish_reason": "stop"})
	}))
	defer server.Close()

	g, err := New(registry.Config{"uri": server.URL, "retry_attempts": float64(3)})
	require.NoError(t, err)

	completion, err := g.Generate(context.Background(), "claude", convo.NewConversation("write"), types.GenerateOptions{})
	require.NoError(t, err)
	assert.Equal(t, "ok", completion.Text)
	assert.EqualValues(t, 2, atomic.LoadInt64(&attempts))
}

func TestGenerate_ClientErrorNotRetried(t *testing.T) {
	var attempts int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&attempts, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bad request"}`))
	}))
	defer server.Close()

	g, err := New(registry.Config{"uri": server.URL, "retry_attempts": float64(3)})
	require.NoError(t, err)

	_, err = g.Generate(context.Background(), "claude", convo.NewConversation("write"), types.GenerateOptions{})
	assert.Error(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt64(&attempts))
}

func TestNew_RequiresURI(t *testing.T) {
	_, err := New(registry.Config{})
	assert.Error(t, err)
}

func TestName(t *testing.T) {
	g, err := New(registry.Config{"uri": "http://example.invalid"})
	require.NoError(t, err)
	assert.Equal(t, "httpapi.Generator", g.Name())
}
