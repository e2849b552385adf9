package needs

import (
	"math"
	"sort"

	"github.com/cairn-labs/wbench/internal/model"
	"github.com/cairn-labs/wbench/internal/whr"
)

// selfWriter is the pseudo-participant label used on the feedback
// dimension's WHR games to represent a writer's own null feedback.
const selfWriter = "self"

// DefaultDimensionWeights favors writing most, with revised and feedback
// weighted progressively less since cascade cost rises with depth.
func DefaultDimensionWeights() map[Dimension]float64 {
	return map[Dimension]float64{
		DimensionWriting:  1.0,
		DimensionRevised:  0.4,
		DimensionFeedback: 0.25,
	}
}

// Config parameterizes need scoring, selection, and convergence.
type Config struct {
	DimensionWeights map[Dimension]float64
	CIThreshold      float64
	MinPairsPerModel int
	BatchSize        int
}

// DefaultConfig returns spec defaults plus the caller-supplied convergence
// knobs (there is no universal default for these — they depend on run
// scale, so callers are expected to set CIThreshold/MinPairsPerModel/
// BatchSize explicitly).
func DefaultConfig(ciThreshold float64, minPairsPerModel, batchSize int) Config {
	return Config{
		DimensionWeights: DefaultDimensionWeights(),
		CIThreshold:      ciThreshold,
		MinPairsPerModel: minPairsPerModel,
		BatchSize:        batchSize,
	}
}

// JudgeInfo is a judge's reliability weight, as produced by
// internal/judgequality.
type JudgeInfo struct {
	Label   string
	Weight  float64
	Pruned  bool
}

// CompletedWork reports what the engine already knows is done or
// unobtainable this run. *model.Store satisfies this directly.
type CompletedWork interface {
	IsCompleted(model.JudgmentKey) bool
	IsMissingSample(model.SampleKey) bool
	IsMissingFeedback(model.FeedbackKey) bool
	IsMissingRevision(model.RevisedSampleKey) bool
	IsMissingJudgment(model.JudgmentKey) bool
}

// Prompt is the subset of prompt metadata the identifier needs.
type Prompt struct {
	ID string
}

// Input bundles everything Identify needs for one scoring pass.
type Input struct {
	Writers []string
	Judges  []JudgeInfo
	Prompts []Prompt

	// Ratings holds the current WHR posterior per dimension, including a
	// "self" entry on the feedback dimension where applicable.
	Ratings map[Dimension]map[string]whr.Rating

	// EffectiveOutputs is min(configured, currentMaxOutputCount+1): the
	// output-index ceiling for this round, ramping up by one per round so
	// early rounds compare a single output per model before deeper outputs
	// unlock.
	EffectiveOutputs int

	Completed CompletedWork
}

// Identify produces a prioritized, diversified batch of Needs, capped at
// cfg.BatchSize, from the current ratings and completed-work state.
func Identify(in Input, cfg Config) []Need {
	candidates := generateCandidates(in)
	candidates = scoreAndFilter(candidates, in, cfg)
	return diversify(candidates, cfg)
}

func generateCandidates(in Input) []Need {
	var out []Need

	for _, p := range in.Prompts {
		out = append(out, writingCandidates(in, p)...)
		out = append(out, revisedCandidates(in, p)...)
		out = append(out, improvementCandidates(in, p)...)
	}
	return out
}

func writingCandidates(in Input, p Prompt) []Need {
	var out []Need
	for i := 0; i < len(in.Writers); i++ {
		for j := i + 1; j < len(in.Writers); j++ {
			for idx := 0; idx < in.EffectiveOutputs; idx++ {
				for _, judge := range in.Judges {
					out = append(out, Need{
						Kind: KindInitialJudgment, Dimension: DimensionWriting,
						ModelA: in.Writers[i], ModelB: in.Writers[j],
						OutIdxA: idx, OutIdxB: idx,
						PromptID: p.ID, Judge: judge.Label,
					})
				}
			}
		}
	}
	return out
}

func revisedCandidates(in Input, p Prompt) []Need {
	var out []Need
	for _, fb := range in.Writers {
		for i := 0; i < len(in.Writers); i++ {
			for j := i + 1; j < len(in.Writers); j++ {
				if in.Writers[i] == fb || in.Writers[j] == fb {
					continue
				}
				for idx := 0; idx < in.EffectiveOutputs; idx++ {
					for _, judge := range in.Judges {
						out = append(out, Need{
							Kind: KindRevisedJudgment, Dimension: DimensionRevised,
							ModelA: in.Writers[i], ModelB: in.Writers[j], FbModel: fb,
							OutIdxA: idx, OutIdxB: idx,
							PromptID: p.ID, Judge: judge.Label,
						})
					}
				}
			}
		}
	}
	return out
}

func improvementCandidates(in Input, p Prompt) []Need {
	var out []Need
	for _, writer := range in.Writers {
		for _, fb := range in.Writers {
			if fb == writer {
				continue
			}
			for idx := 0; idx < in.EffectiveOutputs; idx++ {
				for _, judge := range in.Judges {
					out = append(out, Need{
						Kind: KindImprovementJudgment, Dimension: DimensionFeedback,
						ModelA: writer, FbModel: fb,
						OutIdxA: idx,
						PromptID: p.ID, Judge: judge.Label,
					})
				}
			}
		}
	}
	return out
}

func scoreAndFilter(candidates []Need, in Input, cfg Config) []Need {
	judgeByLabel := make(map[string]JudgeInfo, len(in.Judges))
	for _, j := range in.Judges {
		judgeByLabel[j.Label] = j
	}
	onlyJudge := len(in.Judges) == 1

	var out []Need
	for _, n := range candidates {
		judge := judgeByLabel[n.Judge]
		if judge.Pruned && !onlyJudge {
			continue
		}

		key := judgmentKeyFor(n)
		if in.Completed.IsCompleted(key) || in.Completed.IsMissingJudgment(key) || hasMissingArtifact(n, in.Completed) {
			continue
		}

		a, b := n.ModelA, n.ModelB
		if n.Kind == KindImprovementJudgment {
			a, b = n.FbModel, selfWriter
		}
		ratings := in.Ratings[n.Dimension]
		ra, okA := ratings[a]
		rb, okB := ratings[b]
		if !okA {
			ra = whr.Rating{CI95: math.Inf(1)}
		}
		if !okB {
			rb = whr.Rating{CI95: math.Inf(1)}
		}

		if resolved(ra, rb, cfg.CIThreshold) {
			continue
		}

		score := informationGain(ra, rb) * dimensionWeight(n.Dimension, cfg) * depthPenalty(n) * judge.Weight
		n.Score = score
		out = append(out, n)
	}
	return out
}

// judgmentKeyFor builds the completed-work key for a candidate: (stage,
// sorted models, prompt, feedback-model when revised, judge, sorted
// output-indexes), matching how the store and loop key completed judgments.
func judgmentKeyFor(n Need) model.JudgmentKey {
	a, b := n.ModelA, n.ModelB
	idxA, idxB := n.OutIdxA, n.OutIdxB
	if n.Kind == KindImprovementJudgment {
		a, b = n.FbModel, selfWriter
		idxB = idxA
	}
	if b < a {
		a, b = b, a
		idxA, idxB = idxB, idxA
	}
	stage := model.JudgmentInitial
	switch n.Kind {
	case KindRevisedJudgment:
		stage = model.JudgmentRevised
	case KindImprovementJudgment:
		stage = model.JudgmentImprovement
	}
	return model.JudgmentKey{
		Stage: stage, ModelA: a, ModelB: b,
		PromptID: n.PromptID, FeedbackModel: n.FbModel, JudgeModel: n.Judge,
		OutputIndexA: idxA, OutputIndexB: idxB,
	}
}

func hasMissingArtifact(n Need, completed CompletedWork) bool {
	switch n.Kind {
	case KindInitialJudgment:
		return completed.IsMissingSample(model.SampleKey{Model: n.ModelA, PromptID: n.PromptID, OutputIndex: n.OutIdxA}) ||
			completed.IsMissingSample(model.SampleKey{Model: n.ModelB, PromptID: n.PromptID, OutputIndex: n.OutIdxB})
	case KindRevisedJudgment:
		return completed.IsMissingFeedback(model.FeedbackKey{SourceModel: n.FbModel, TargetSampleID: n.ModelA}) ||
			completed.IsMissingFeedback(model.FeedbackKey{SourceModel: n.FbModel, TargetSampleID: n.ModelB})
	case KindImprovementJudgment:
		return completed.IsMissingRevision(model.RevisedSampleKey{Writer: n.ModelA, FeedbackID: n.FbModel})
	}
	return false
}

// resolved reports whether two models are distinguishable enough that a
// comparison between them yields no further information.
func resolved(a, b whr.Rating, ciThreshold float64) bool {
	if a.Games == 0 || b.Games == 0 {
		return false
	}
	separated := math.Abs(a.Elo-b.Elo) >= a.CI95+b.CI95
	bothPrecise := a.CI95 < ciThreshold && b.CI95 < ciThreshold
	return separated || bothPrecise
}

// informationGain is the base heuristic: (varA + varB) * p * (1 - p), where
// variances are taken in WHR's natural units.
func informationGain(a, b whr.Rating) float64 {
	p := 1.0 / (1.0 + math.Exp(b.LogStrength()-a.LogStrength()))
	varA, varB := naturalVariance(a), naturalVariance(b)
	return (varA + varB) * p * (1 - p)
}

func naturalVariance(r whr.Rating) float64 {
	if math.IsInf(r.CI95, 1) {
		// A model with zero games has no posterior variance estimate yet;
		// treat it as maximally informative rather than infinite to keep
		// scoring finite and comparable across candidates.
		return 1.0
	}
	return r.Variance()
}

func dimensionWeight(d Dimension, cfg Config) float64 {
	if w, ok := cfg.DimensionWeights[d]; ok {
		return w
	}
	return 1.0
}

func depthPenalty(n Need) float64 {
	if n.Kind == KindImprovementJudgment {
		return 1.0 / (1.0 + float64(n.OutIdxA))
	}
	maxIdx := n.OutIdxA
	if n.OutIdxB > maxIdx {
		maxIdx = n.OutIdxB
	}
	return 1.0 / (1.0 + float64(maxIdx))
}

// diversify groups candidates by (dimension, model-pair, prompt) and
// selects round-robin, highest score first within each group, respecting a
// per-pair cap, until batchSize is reached or groups are exhausted.
func diversify(candidates []Need, cfg Config) []Need {
	groups := make(map[pairGroupKey][]Need)
	for _, n := range candidates {
		k := groupKeyFor(n)
		groups[k] = append(groups[k], n)
	}

	keys := make([]pairGroupKey, 0, len(groups))
	for k, group := range groups {
		sort.Slice(group, func(i, j int) bool { return group[i].Score > group[j].Score })
		groups[k] = group
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].dimension != keys[j].dimension {
			return keys[i].dimension < keys[j].dimension
		}
		if keys[i].modelA != keys[j].modelA {
			return keys[i].modelA < keys[j].modelA
		}
		return keys[i].modelB < keys[j].modelB
	})

	numModels := 0
	modelSeen := make(map[string]struct{})
	for k := range groups {
		modelSeen[k.modelA] = struct{}{}
		modelSeen[k.modelB] = struct{}{}
	}
	numModels = len(modelSeen)
	pairCap := ceilDiv(cfg.BatchSize, max(numModels, 1))
	if pairCap < 2 {
		pairCap = 2
	}

	keysByDimension := make(map[Dimension][]pairGroupKey)
	for _, k := range keys {
		keysByDimension[k.dimension] = append(keysByDimension[k.dimension], k)
	}
	totalWeight := 0.0
	for d := range keysByDimension {
		totalWeight += dimensionWeight(d, cfg)
	}

	selected := make(map[pairGroupKey]int)
	cursor := make(map[pairGroupKey]int)
	var result []Need

	take := func(k pairGroupKey) bool {
		if selected[k] >= pairCap {
			return false
		}
		idx := cursor[k]
		group := groups[k]
		if idx >= len(group) {
			return false
		}
		result = append(result, group[idx])
		cursor[k] = idx + 1
		selected[k]++
		return true
	}

	// Reserve each dimension a minimum share of the batch proportional to
	// its weight, so a dimension with few high-scoring candidates (revised,
	// feedback) still converges instead of being starved by a dimension
	// with many (writing).
	if totalWeight > 0 {
		for _, d := range sortedDimensions(keysByDimension) {
			if len(result) >= cfg.BatchSize {
				break
			}
			share := int(math.Ceil(float64(cfg.BatchSize) * dimensionWeight(d, cfg) / totalWeight))
			filled := 0
			for filled < share && len(result) < cfg.BatchSize {
				progressed := false
				for _, k := range keysByDimension[d] {
					if filled >= share || len(result) >= cfg.BatchSize {
						break
					}
					if take(k) {
						filled++
						progressed = true
					}
				}
				if !progressed {
					break
				}
			}
		}
	}

	// Fill whatever slots remain by uniform round-robin across every group,
	// regardless of dimension, highest score first.
	for len(result) < cfg.BatchSize {
		progressed := false
		for _, k := range keys {
			if len(result) >= cfg.BatchSize {
				break
			}
			if take(k) {
				progressed = true
			}
		}
		if !progressed {
			break
		}
	}

	return result
}

func sortedDimensions(m map[Dimension][]pairGroupKey) []Dimension {
	out := make([]Dimension, 0, len(m))
	for d := range m {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func ceilDiv(a, b int) int {
	if b == 0 {
		return a
	}
	return (a + b - 1) / b
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
