// Package testutil provides deterministic test doubles shared across
// package test suites.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cairn-labs/wbench/pkg/convo"
	"github.com/cairn-labs/wbench/pkg/types"
)

// FakeGenerator is a deterministic types.Generator: its output is a
// function of (modelID, conv), never random, so tests can assert on exact
// text and call counts. Swap ReplyFunc for custom behavior; by default it
// echoes the prompt back prefixed with the model id.
type FakeGenerator struct {
	mu sync.Mutex

	// ReplyFunc, if set, overrides the default echo behavior.
	ReplyFunc func(modelID string, conv *convo.Conversation) (types.Completion, error)

	calls int64
	// Calls records every invocation in order, for assertions about
	// coalescing (a singleflight group should prevent duplicates here).
	Calls []FakeCall
}

// FakeCall is one recorded Generate invocation.
type FakeCall struct {
	ModelID string
	Conv    *convo.Conversation
}

// NewFakeGenerator returns a FakeGenerator with the default echo behavior.
func NewFakeGenerator() *FakeGenerator {
	return &FakeGenerator{}
}

// Generate implements types.Generator.
func (f *FakeGenerator) Generate(_ context.Context, modelID string, conv *convo.Conversation, _ types.GenerateOptions) (types.Completion, error) {
	f.mu.Lock()
	f.Calls = append(f.Calls, FakeCall{ModelID: modelID, Conv: conv})
	f.mu.Unlock()
	atomic.AddInt64(&f.calls, 1)

	if f.ReplyFunc != nil {
		return f.ReplyFunc(modelID, conv)
	}

	msgs := conv.ToMessages()
	prompt := ""
	if len(msgs) > 0 {
		prompt = msgs[len(msgs)-1].Content
	}
	return types.Completion{
		Text:         fmt.Sprintf("[%s] %s", modelID, prompt),
		FinishReason: types.FinishReasonStop,
	}, nil
}

// Name implements types.Generator.
func (f *FakeGenerator) Name() string { return "testutil.Fake" }

// CallCount returns the number of Generate calls observed so far.
func (f *FakeGenerator) CallCount() int {
	return int(atomic.LoadInt64(&f.calls))
}
