package cascade

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/cairn-labs/wbench/internal/cache"
	"github.com/cairn-labs/wbench/internal/model"
	"github.com/cairn-labs/wbench/internal/testutil"
	"github.com/cairn-labs/wbench/pkg/convo"
	"github.com/cairn-labs/wbench/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCascade(t *testing.T, gen types.Generator) *Cascade {
	t.Helper()
	c := cache.New(t.TempDir())
	return New(c, model.NewStore(), gen)
}

func TestEnsureSampleGeneratesAndCaches(t *testing.T) {
	gen := testutil.NewFakeGenerator()
	casc := newCascade(t, gen)
	prompt := model.Prompt{ID: "p1", Content: "write a haiku"}

	s1, err := casc.EnsureSample(context.Background(), "writerA", prompt, 0, false)
	require.NoError(t, err)
	assert.Equal(t, "writerA", s1.Model)
	assert.Equal(t, model.StageInitial, s1.Stage)
	assert.Equal(t, 1, gen.CallCount())

	s2, err := casc.EnsureSample(context.Background(), "writerA", prompt, 0, false)
	require.NoError(t, err)
	assert.Equal(t, s1.CacheID, s2.CacheID, "second call must be served from the store, not regenerated")
	assert.Equal(t, 1, gen.CallCount(), "no extra generator call on repeat request")
}

func TestEnsureSampleCacheOnlyMissReturnsErrNotAvailable(t *testing.T) {
	gen := testutil.NewFakeGenerator()
	casc := newCascade(t, gen)
	prompt := model.Prompt{ID: "p1", Content: "write a haiku"}

	_, err := casc.EnsureSample(context.Background(), "writerA", prompt, 0, true)
	assert.ErrorIs(t, err, ErrNotAvailable)
	assert.Equal(t, 0, gen.CallCount())
}

func TestEnsureSampleCoalescesConcurrentCalls(t *testing.T) {
	gen := testutil.NewFakeGenerator()
	casc := newCascade(t, gen)
	prompt := model.Prompt{ID: "p1", Content: "write a haiku"}

	var wg sync.WaitGroup
	results := make([]model.Sample, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			s, err := casc.EnsureSample(context.Background(), "writerA", prompt, 0, false)
			require.NoError(t, err)
			results[idx] = s
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		assert.Equal(t, results[0].CacheID, r.CacheID)
	}
	assert.Equal(t, 1, gen.CallCount(), "singleflight must coalesce concurrent identical requests")
}

func TestEnsureFeedbackRoundTrip(t *testing.T) {
	gen := testutil.NewFakeGenerator()
	casc := newCascade(t, gen)
	prompt := model.Prompt{ID: "p1", Content: "write a haiku", FeedbackPrompt: "critique this"}

	target, err := casc.EnsureSample(context.Background(), "writerA", prompt, 0, false)
	require.NoError(t, err)

	fb, err := casc.EnsureFeedback(context.Background(), "writerB", target, prompt, false)
	require.NoError(t, err)
	assert.Equal(t, "writerB", fb.SourceModel)
	assert.Equal(t, target.CacheID, fb.TargetSampleID)

	fb2, err := casc.EnsureFeedback(context.Background(), "writerB", target, prompt, false)
	require.NoError(t, err)
	assert.Equal(t, fb.CacheID, fb2.CacheID)
	assert.Equal(t, 2, gen.CallCount(), "one call for the sample, one for the feedback")
}

func TestEnsureRevisionRoundTrip(t *testing.T) {
	gen := testutil.NewFakeGenerator()
	casc := newCascade(t, gen)
	prompt := model.Prompt{ID: "p1", Content: "write a haiku", FeedbackPrompt: "critique this", RevisionPrompt: "revise using the feedback"}

	original, err := casc.EnsureSample(context.Background(), "writerA", prompt, 0, false)
	require.NoError(t, err)
	fb, err := casc.EnsureFeedback(context.Background(), "writerB", original, prompt, false)
	require.NoError(t, err)

	rev, err := casc.EnsureRevision(context.Background(), "writerA", original, fb, prompt, false)
	require.NoError(t, err)
	assert.Equal(t, model.StageRevised, rev.Stage)
	assert.Equal(t, original.CacheID, rev.OriginSampleID)
	assert.Equal(t, fb.CacheID, rev.FeedbackID)
	assert.Equal(t, fb.SourceModel, rev.FeedbackModel)
}

// judgeFavoringSampleA always votes for whichever presented slot (A or B)
// carries sampleA's own text, regardless of where the coin flip placed it.
// Since EnsureJudgment must flip the verdict back to the caller's
// (sampleA, sampleB) orientation, the winner it returns should always be
// model.WinnerA no matter how the position was randomized internally.
func judgeFavoringSampleA(_ string, conv *convo.Conversation) (types.Completion, error) {
	msgs := conv.ToMessages()
	user := msgs[len(msgs)-1].Content
	idxB := strings.Index(user, "\n\nB:")
	idxPoemA := strings.Index(user, "poem A")

	winner := "B"
	if idxPoemA != -1 && (idxB == -1 || idxPoemA < idxB) {
		winner = "A"
	}
	return types.Completion{
		Text:         fmt.Sprintf(`{"winner":%q,"reasoning":"poem A is clearer"}`, winner),
		FinishReason: types.FinishReasonStop,
	}, nil
}

func TestEnsureJudgmentDerandomizesPosition(t *testing.T) {
	prompt := model.Prompt{ID: "p1", Content: "write a haiku", JudgingCriteria: []string{"clarity"}}
	sampleA := model.Sample{CacheID: "cid-a", Text: "poem A"}
	sampleB := model.Sample{CacheID: "cid-b", Text: "poem B"}

	// Repeat across fresh caches so the coin flip gets exercised both ways.
	for i := 0; i < 20; i++ {
		gen := testutil.NewFakeGenerator()
		gen.ReplyFunc = judgeFavoringSampleA
		casc := newCascade(t, gen)

		j, err := casc.EnsureJudgment(context.Background(), "judgeModel", prompt, sampleA, sampleB, model.JudgmentInitial, false)
		require.NoError(t, err)
		assert.Equal(t, model.WinnerA, j.Winner, "verdict must be de-randomized back to sampleA's orientation")
		assert.Equal(t, sampleA.CacheID, j.SampleAID)
		assert.Equal(t, sampleB.CacheID, j.SampleBID)
	}
}

func TestEnsureJudgmentCacheOnlyMiss(t *testing.T) {
	gen := testutil.NewFakeGenerator()
	casc := newCascade(t, gen)
	prompt := model.Prompt{ID: "p1"}
	sampleA := model.Sample{CacheID: "cid-a", Text: "poem A"}
	sampleB := model.Sample{CacheID: "cid-b", Text: "poem B"}

	_, err := casc.EnsureJudgment(context.Background(), "judgeModel", prompt, sampleA, sampleB, model.JudgmentInitial, true)
	assert.ErrorIs(t, err, ErrNotAvailable)
	assert.Equal(t, 0, gen.CallCount())
}

func TestEnsureJudgmentRejectsUnparseableResponse(t *testing.T) {
	gen := testutil.NewFakeGenerator()
	gen.ReplyFunc = func(string, *convo.Conversation) (types.Completion, error) {
		return types.Completion{Text: "I refuse to pick a winner.", FinishReason: types.FinishReasonStop}, nil
	}
	casc := newCascade(t, gen)
	prompt := model.Prompt{ID: "p1"}
	sampleA := model.Sample{CacheID: "cid-a", Text: "poem A"}
	sampleB := model.Sample{CacheID: "cid-b", Text: "poem B"}

	_, err := casc.EnsureJudgment(context.Background(), "judgeModel", prompt, sampleA, sampleB, model.JudgmentInitial, false)
	assert.Error(t, err)
}
