package loop

import (
	"context"
	"fmt"
	"testing"

	"github.com/cairn-labs/wbench/internal/cache"
	"github.com/cairn-labs/wbench/internal/cascade"
	"github.com/cairn-labs/wbench/internal/model"
	"github.com/cairn-labs/wbench/internal/needs"
	"github.com/cairn-labs/wbench/internal/testutil"
	"github.com/cairn-labs/wbench/pkg/convo"
	"github.com/cairn-labs/wbench/pkg/metrics"
	"github.com/cairn-labs/wbench/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newFakeJudgeGenerator echoes writer/feedback calls like the default fake
// but answers any judge model's call with a fixed, always-parseable
// verdict, so judgment needs resolve deterministically.
func newFakeJudgeGenerator(judges []string) *testutil.FakeGenerator {
	judgeSet := make(map[string]bool, len(judges))
	for _, j := range judges {
		judgeSet[j] = true
	}
	gen := testutil.NewFakeGenerator()
	gen.ReplyFunc = func(modelID string, conv *convo.Conversation) (types.Completion, error) {
		if judgeSet[modelID] {
			return types.Completion{Text: `{"winner":"A","reasoning":"A reads better."}`, FinishReason: types.FinishReasonStop}, nil
		}
		msgs := conv.ToMessages()
		return types.Completion{
			Text:         "[" + modelID + "] " + msgs[len(msgs)-1].Content,
			FinishReason: types.FinishReasonStop,
		}, nil
	}
	return gen
}

func testConfig() Config {
	prompt := model.Prompt{
		ID: "p1", Content: "Write a short poem about rivers.",
		Tags: []string{"poetry"}, JudgingCriteria: []string{"clarity", "imagery"},
		FeedbackPrompt: "Give one paragraph of feedback.",
		RevisionPrompt: "Revise using the feedback.",
	}
	cfg := DefaultConfig([]string{"w1", "w2"}, []string{"judge"}, []model.Prompt{prompt})
	cfg.MaxOutputsPerModel = 1
	cfg.MaxRounds = 5
	cfg.BatchSize = 10
	cfg.Concurrency = 4
	// With only two writers the candidate space is small enough that
	// every need completes within a round or two; pin MinPairsPerModel
	// high so the run's natural stop is the dry batch, not convergence.
	cfg.MinPairsPerModel = 100
	return cfg
}

func newTestLoop(t *testing.T, dir string, cfg Config) (*Loop, *model.Store, *testutil.FakeGenerator) {
	t.Helper()
	c := cache.New(dir)
	store := model.NewStore()
	gen := newFakeJudgeGenerator(cfg.Judges)
	return New(cascade.New(c, store, gen), store, cfg, metrics.New()), store, gen
}

func TestRunProducesRatingsAndJudgments(t *testing.T) {
	l, store, _ := newTestLoop(t, t.TempDir(), testConfig())

	result, err := l.Run(context.Background())
	require.NoError(t, err)

	assert.NotEmpty(t, store.Judgments())
	assert.Contains(t, result.Ratings, needs.DimensionWriting)
	assert.Contains(t, result.Ratings, needs.DimensionFeedback)
	assert.NotEmpty(t, result.WritingGames)
	assert.NotEmpty(t, result.FeedbackGames)
}

func TestRunStopsOnDryBatchRatherThanMaxRounds(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRounds = 1000
	l, _, _ := newTestLoop(t, t.TempDir(), cfg)

	result, err := l.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, result.Progress.Converged)
	assert.Less(t, result.Progress.Round, 1000)
}

func TestSeedLoadsJudgmentsFromCacheWithoutGenerating(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig()

	l1, store1, _ := newTestLoop(t, dir, cfg)
	_, err := l1.Run(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, store1.Judgments())

	l2, store2, gen2 := newTestLoop(t, dir, cfg)
	require.NoError(t, l2.seed(context.Background()))

	assert.Equal(t, 0, gen2.CallCount(), "seed must be cache-only and never call the generator")
	assert.Equal(t, len(store1.Judgments()), len(store2.Judgments()))
}

func TestRunRecordsPerNeedErrorsAndStopsRetrying(t *testing.T) {
	cfg := testConfig()
	l, store, gen := newTestLoop(t, t.TempDir(), cfg)
	gen.ReplyFunc = func(modelID string, conv *convo.Conversation) (types.Completion, error) {
		if modelID == "judge" {
			return types.Completion{}, fmt.Errorf("judge unavailable")
		}
		msgs := conv.ToMessages()
		return types.Completion{
			Text:         "[" + modelID + "] " + msgs[len(msgs)-1].Content,
			FinishReason: types.FinishReasonStop,
		}, nil
	}

	result, err := l.Run(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, result.Errors, "judge failures must surface on the result instead of vanishing")
	assert.Empty(t, store.Judgments(), "no judgment should land when the judge always errors")
}

func TestFeedbackGameCreditsProviderOnRevisionWin(t *testing.T) {
	store := model.NewStore()
	store.PutInitialSample(model.SampleKey{Model: "w1", PromptID: "p1"}, model.Sample{
		CacheID: "s-initial", Model: "w1", Stage: model.StageInitial,
	})
	store.PutRevisedSample(model.RevisedSampleKey{Writer: "w1", OriginSampleID: "s-initial", FeedbackID: "fb1"}, model.Sample{
		CacheID: "s-revised", Model: "w1", Stage: model.StageRevised, FeedbackModel: "w2",
	})

	j := model.Judgment{
		CacheID: "j1", Stage: model.JudgmentImprovement,
		SampleAID: "s-initial", SampleBID: "s-revised", Winner: model.WinnerB,
	}
	ratings := tabulateRatings(store, []model.Judgment{j}, map[string]float64{"j1": 1})

	fb := ratings[needs.DimensionFeedback]
	assert.Greater(t, fb["w2"].Elo, fb["self"].Elo, "the feedback provider should be rated above self when its revision wins")
}
