package loop

import (
	"github.com/cairn-labs/wbench/internal/model"
	"github.com/cairn-labs/wbench/internal/needs"
)

// selfWriter mirrors needs' internal pseudo-participant label for a
// writer's own unrevised sample, used whenever a judgment or rating is
// framed as feedback-provider vs self.
const selfWriter = "self"

// keyForNeed builds the completed-work key for a need, reproducing
// needs.Identify's own key shape exactly so the store's completed-work set
// (consulted by the next round's candidate filtering) agrees with what this
// round just fulfilled.
func keyForNeed(n needs.Need) model.JudgmentKey {
	a, b := n.ModelA, n.ModelB
	idxA, idxB := n.OutIdxA, n.OutIdxB
	if n.Kind == needs.KindImprovementJudgment {
		a, b = n.FbModel, selfWriter
		idxB = idxA
	}
	if b < a {
		a, b = b, a
		idxA, idxB = idxB, idxA
	}
	stage := stageForKind(n.Kind)
	return model.JudgmentKey{
		Stage: stage, ModelA: a, ModelB: b,
		PromptID: n.PromptID, FeedbackModel: n.FbModel, JudgeModel: n.Judge,
		OutputIndexA: idxA, OutputIndexB: idxB,
	}
}

func stageForKind(k needs.Kind) model.JudgmentStage {
	switch k {
	case needs.KindRevisedJudgment:
		return model.JudgmentRevised
	case needs.KindImprovementJudgment:
		return model.JudgmentImprovement
	default:
		return model.JudgmentInitial
	}
}
