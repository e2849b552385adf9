package cache

import (
	"testing"

	"github.com/cairn-labs/wbench/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddGetWriteRoundTrip(t *testing.T) {
	c := New(t.TempDir())
	sample := model.Sample{CacheID: "cid-1", Model: "claude", Text: "a draft", Stage: model.StageInitial}

	require.NoError(t, c.AddWrite("claude", "write a haiku", sample, 0))

	writes := c.GetWrites("claude", "write a haiku")
	require.Len(t, writes, 1)
	assert.Equal(t, "cid-1", writes[0].CacheID)
}

func TestAddGetWriteConcurrentDistinctIndices(t *testing.T) {
	c := New(t.TempDir())
	for i := 0; i < 5; i++ {
		sample := model.Sample{CacheID: "cid-" + string(rune('a'+i)), Model: "gpt", Stage: model.StageInitial}
		require.NoError(t, c.AddWrite("gpt", "a prompt", sample, i))
	}
	writes := c.GetWrites("gpt", "a prompt")
	require.Len(t, writes, 5)
	for i, w := range writes {
		assert.Equal(t, i, w.OutputIndex)
	}
}

func TestJudgmentSwapOnRetrieval(t *testing.T) {
	c := New(t.TempDir())
	j := model.Judgment{
		CacheID:   "j1",
		Stage:     model.JudgmentInitial,
		SampleAID: "zzz",
		SampleBID: "aaa",
		Winner:    model.WinnerA,
	}
	require.NoError(t, c.AddJudgment("judge1", j))

	got, ok := c.GetJudgment("judge1", model.JudgmentInitial, "aaa", "zzz")
	require.True(t, ok)
	assert.Equal(t, "aaa", got.SampleAID)
	assert.Equal(t, "zzz", got.SampleBID)
	assert.Equal(t, model.WinnerB, got.Winner)
}

func TestFeedbackAndRevisionRoundTrip(t *testing.T) {
	c := New(t.TempDir())
	fb := model.Feedback{CacheID: "fb1", SourceModel: "gpt", TargetSampleID: "write1", Text: "be more concise"}
	require.NoError(t, c.AddFeedback("gpt", "write1", fb))

	got, ok := c.GetFeedback("gpt", "write1")
	require.True(t, ok)
	assert.Equal(t, "fb1", got.CacheID)

	revision := model.Sample{CacheID: "rev1", Model: "claude", Stage: model.StageRevised, FeedbackID: "fb1"}
	require.NoError(t, c.AddRevision("claude", "fb1", revision))

	gotRev, ok := c.GetRevision("claude", "fb1")
	require.True(t, ok)
	assert.Equal(t, "rev1", gotRev.CacheID)
}

func TestTrimCascadesThroughFeedbackRevisionsJudgments(t *testing.T) {
	c := New(t.TempDir())

	for i := 0; i < 3; i++ {
		sample := model.Sample{CacheID: "write" + string(rune('0'+i)), Model: "claude", Stage: model.StageInitial, OutputIndex: i}
		require.NoError(t, c.AddWrite("claude", "prompt text", sample, i))
	}

	fb := model.Feedback{CacheID: "fb2", SourceModel: "gpt", TargetSampleID: "write2"}
	require.NoError(t, c.AddFeedback("gpt", "write2", fb))

	revision := model.Sample{CacheID: "rev2", Model: "claude", Stage: model.StageRevised, FeedbackID: "fb2"}
	require.NoError(t, c.AddRevision("claude", "fb2", revision))

	j := model.Judgment{CacheID: "j1", Stage: model.JudgmentInitial, SampleAID: "write0", SampleBID: "write2", Winner: model.WinnerA}
	require.NoError(t, c.AddJudgment("judge1", j))

	require.NoError(t, c.Trim("claude", 2))

	writes := c.GetWrites("claude", "prompt text")
	require.Len(t, writes, 2, "writes at index >= 2 must be removed")

	_, ok := c.GetFeedback("gpt", "write2")
	assert.False(t, ok, "feedback for a trimmed write must cascade-delete")

	_, ok = c.GetRevision("claude", "fb2")
	assert.False(t, ok, "revision for trimmed feedback must cascade-delete")

	_, ok = c.GetJudgment("judge1", model.JudgmentInitial, "write0", "write2")
	assert.False(t, ok, "judgment referencing a trimmed write must be pruned")
}

func TestCombineRenumbersWritesAndSkipsDuplicates(t *testing.T) {
	c := New(t.TempDir())

	require.NoError(t, c.AddWrite("model-a", "shared prompt", model.Sample{CacheID: "a0", OutputIndex: 0}, 0))
	require.NoError(t, c.AddWrite("model-b", "shared prompt", model.Sample{CacheID: "b0", OutputIndex: 0}, 0))
	require.NoError(t, c.AddWrite("model-b", "shared prompt", model.Sample{CacheID: "a0", OutputIndex: 0}, 1))

	require.NoError(t, c.Combine("model-b", "model-a"))

	writes := c.GetWrites("model-a", "shared prompt")
	ids := make(map[string]bool)
	for _, w := range writes {
		ids[w.CacheID] = true
	}
	assert.True(t, ids["a0"])
	assert.True(t, ids["b0"])
	assert.Len(t, writes, 2, "the duplicate cache-ID a0 from model-b must be skipped")
}
