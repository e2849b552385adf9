// Package needs scores and selects the most informative next judgments
// across the three rating dimensions, subject to batch size and
// diversification constraints.
package needs

// Dimension is one of the three coupled rating axes.
type Dimension string

const (
	DimensionWriting  Dimension = "writing"
	DimensionRevised  Dimension = "revised"
	DimensionFeedback Dimension = "feedback"
)

// Kind tags which of the three candidate shapes a Need carries.
type Kind string

const (
	KindInitialJudgment     Kind = "initial"
	KindImprovementJudgment Kind = "improvement"
	KindRevisedJudgment     Kind = "revised"
)

// Need is a prioritized candidate judgment the adaptive loop should try to
// fulfill next.
type Need struct {
	Kind      Kind
	Dimension Dimension

	ModelA string
	ModelB string
	// FbModel is the feedback-provider, set for Improvement and Revised
	// needs. For Improvement needs, ModelB is unused and the comparison is
	// framed as writer's initial vs its own revision.
	FbModel string

	OutIdxA int
	OutIdxB int

	PromptID string
	Judge    string

	// Score is the information-gain heuristic used to rank and select
	// candidates; higher is more valuable.
	Score float64
}

// pairGroupKey groups candidates for diversification: (dimension,
// model-pair, prompt).
type pairGroupKey struct {
	dimension Dimension
	modelA    string
	modelB    string
	promptID  string
}

func groupKeyFor(n Need) pairGroupKey {
	a, b := n.ModelA, n.ModelB
	if n.Kind == KindImprovementJudgment {
		a, b = n.FbModel, "self"
	}
	if b < a {
		a, b = b, a
	}
	return pairGroupKey{dimension: n.Dimension, modelA: a, modelB: b, promptID: n.PromptID}
}
