package loop

import (
	"github.com/cairn-labs/wbench/internal/cumulative"
	"github.com/cairn-labs/wbench/internal/judgequality"
	"github.com/cairn-labs/wbench/internal/model"
	"github.com/cairn-labs/wbench/internal/needs"
	"github.com/cairn-labs/wbench/internal/whr"
)

// tabulateRatings resolves every recorded judgment back to the writer or
// feedback-provider labels WHR rates and solves each of the three rating
// dimensions independently. A judgment whose samples can no longer be
// resolved is skipped rather than treated as an error — it should not
// happen within a single run since the store is append-only, but a skip is
// cheaper to reason about than a panic over a stale rating pass.
func tabulateRatings(store *model.Store, judgments []model.Judgment, weights map[string]float64) map[needs.Dimension]map[string]whr.Rating {
	var writing, revised, feedback []whr.Game

	for _, j := range judgments {
		weight := weights[j.CacheID]
		if weight <= 0 {
			weight = judgequality.WMin
		}

		switch j.Stage {
		case model.JudgmentInitial:
			if g, ok := writerGame(store, j, weight); ok {
				writing = append(writing, g)
			}
		case model.JudgmentRevised:
			if g, ok := writerGame(store, j, weight); ok {
				revised = append(revised, g)
			}
		case model.JudgmentImprovement:
			if g, ok := feedbackGame(store, j, weight); ok {
				feedback = append(feedback, g)
			}
		}
	}

	return map[needs.Dimension]map[string]whr.Rating{
		needs.DimensionWriting:  whr.Solve(writing),
		needs.DimensionRevised:  whr.Solve(revised),
		needs.DimensionFeedback: whr.Solve(feedback),
	}
}

// writerGame resolves both sides of an initial or revised judgment to the
// writer labels WHR rates on the writing/revised dimensions.
func writerGame(store *model.Store, j model.Judgment, weight float64) (whr.Game, bool) {
	sa, okA := store.SampleByID(j.SampleAID)
	sb, okB := store.SampleByID(j.SampleBID)
	if !okA || !okB {
		return whr.Game{}, false
	}
	return whr.Game{ModelA: sa.Model, ModelB: sb.Model, Winner: whr.Winner(j.Winner), Weight: weight}, true
}

// feedbackGame resolves an improvement judgment (a writer's initial sample
// against its own revision, per fulfillNeed's sampleA=initial/sampleB=
// revised convention) to a (self, feedback-provider) game: the revision's
// recorded FeedbackModel names the provider being rated, winner A means the
// unrevised sample held up (the provider's feedback didn't help), winner B
// credits the provider.
func feedbackGame(store *model.Store, j model.Judgment, weight float64) (whr.Game, bool) {
	revised, ok := store.SampleByID(j.SampleBID)
	if !ok || revised.FeedbackModel == "" {
		return whr.Game{}, false
	}
	return whr.Game{ModelA: selfWriter, ModelB: revised.FeedbackModel, Winner: mapWinner(j.Winner), Weight: weight}, true
}

func mapWinner(w model.Winner) whr.Winner {
	switch w {
	case model.WinnerA:
		return whr.WinnerA
	case model.WinnerB:
		return whr.WinnerB
	default:
		return whr.WinnerTie
	}
}

// CumulativeGames converts every recorded judgment into the cumulative
// store's pairwise-outcome shape: writing games (initial and revised
// judgments both compare writing quality, just at different pipeline
// stages, so both feed the same cumulative "writing" dimension) tagged with
// the originating prompt's tags, and feedback-giving games (improvement
// judgments, framed as provider vs self).
func CumulativeGames(store *model.Store, judgments []model.Judgment, prompts []model.Prompt) (writing, feedbackGiving []cumulative.Game) {
	tags := make(map[string][]string, len(prompts))
	for _, p := range prompts {
		tags[p.ID] = p.Tags
	}

	for _, j := range judgments {
		switch j.Stage {
		case model.JudgmentInitial, model.JudgmentRevised:
			sa, okA := store.SampleByID(j.SampleAID)
			sb, okB := store.SampleByID(j.SampleBID)
			if !okA || !okB {
				continue
			}
			writing = append(writing, cumulative.Game{
				ModelA: sa.Model, ModelB: sb.Model,
				Winner: mapWinner(j.Winner), Tags: tags[j.PromptID],
			})
		case model.JudgmentImprovement:
			revised, ok := store.SampleByID(j.SampleBID)
			if !ok || revised.FeedbackModel == "" {
				continue
			}
			feedbackGiving = append(feedbackGiving, cumulative.Game{
				ModelA: selfWriter, ModelB: revised.FeedbackModel, Winner: mapWinner(j.Winner),
			})
		}
	}
	return writing, feedbackGiving
}
