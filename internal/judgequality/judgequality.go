// Package judgequality computes per-judge reliability weights and bias
// correction factors fed back into WHR as edge weights.
package judgequality

import (
	"math"

	"github.com/cairn-labs/wbench/internal/model"
)

const (
	// WMin is the floor every effective edge weight is clamped to.
	WMin = 0.1
	// DefaultDecayRate parameterizes the exponential decay kernel used to
	// damp early swings in a judge's agreement-rate estimate.
	DefaultDecayRate = 2.0
	// selfBiasDeadZone is the minimum biasDelta before a correction applies.
	selfBiasDeadZone = 0.05
	// minSelfJudgments is the minimum decisive self-judgment count before
	// self-preference correction kicks in.
	minSelfJudgments = 8
)

// Config parameterizes the quality/bias computation. ComposePositionBias
// defaults to false: position bias is measured and reported, but left out
// of EffectiveWeight unless a caller opts in.
type Config struct {
	DecayRate           float64
	PruneThreshold      float64
	ComposePositionBias bool
}

// DefaultConfig returns the spec-default parameterization.
func DefaultConfig() Config {
	return Config{DecayRate: DefaultDecayRate, PruneThreshold: 0.3, ComposePositionBias: false}
}

// JudgeReport is one judge's reliability and bias summary for a run.
type JudgeReport struct {
	Judge string
	// Weight is the normalized (max=1), decay-damped consensus agreement
	// rate: the per-judge reliability multiplier before bias correction.
	Weight float64
	// Pruned reports whether this judge falls below the prune threshold
	// (and is therefore excluded from candidate generation unless it's
	// the only judge).
	Pruned bool
	// SelfBiasDelta is (self-win-rate - expected-win-rate) for judgments
	// involving the judge's own writer samples; 0 if insufficient data.
	SelfBiasDelta float64
	// PositionBiasDeviation is the presented-A win rate minus 0.5,
	// reported but not composed into weights by default.
	PositionBiasDeviation float64
}

// pairKey groups judgments by the unordered model pair they compare, the
// grouping used both for consensus computation and for the self-preference
// "expected" baseline.
type pairKey struct{ a, b string }

func newPairKey(a, b string) pairKey {
	if b < a {
		a, b = b, a
	}
	return pairKey{a, b}
}

// sampleResolver resolves a sample's cache ID back to the model that wrote
// it, so self-preference bias can be detected regardless of which judgment
// stage it shows up on. *model.Store satisfies this directly.
type sampleResolver interface {
	SampleByID(id string) (model.Sample, bool)
}

// Compute derives a JudgeReport for every judge appearing in judgments,
// plus the per-judgment effective weight map keyed by judgment cache-ID.
// store resolves each judgment's two sample IDs back to their writer
// models, which self-bias detection needs to tell a self-judgment from an
// ordinary one on any stage.
func Compute(judgments []model.Judgment, cfg Config, store sampleResolver) (map[string]JudgeReport, map[string]float64) {
	agreement := computeAgreementWeights(judgments, cfg.DecayRate)
	selfBias := computeSelfBiasDeltas(judgments, store)
	positionBias := computePositionBiasDeviations(judgments)

	judges := make(map[string]struct{})
	for _, j := range judgments {
		judges[j.JudgeModel] = struct{}{}
	}

	maxWeight := 0.0
	for _, w := range agreement {
		if w > maxWeight {
			maxWeight = w
		}
	}
	if maxWeight == 0 {
		maxWeight = 1
	}

	reports := make(map[string]JudgeReport, len(judges))
	for judge := range judges {
		normalized := agreement[judge] / maxWeight
		reports[judge] = JudgeReport{
			Judge:                 judge,
			Weight:                normalized,
			Pruned:                normalized < cfg.PruneThreshold,
			SelfBiasDelta:         selfBias[judge],
			PositionBiasDeviation: positionBias[judge],
		}
	}

	// The only-remaining-judge exception: if pruning would remove every
	// judge, nobody is pruned.
	if allPruned(reports) {
		for judge, r := range reports {
			r.Pruned = false
			reports[judge] = r
		}
	}

	effectiveWeights := make(map[string]float64, len(judgments))
	for _, j := range judgments {
		effectiveWeights[j.CacheID] = EffectiveWeight(j, reports[j.JudgeModel], cfg, store)
	}

	return reports, effectiveWeights
}

func allPruned(reports map[string]JudgeReport) bool {
	if len(reports) == 0 {
		return false
	}
	for _, r := range reports {
		if !r.Pruned {
			return false
		}
	}
	return true
}

// EffectiveWeight composes a single judgment's contribution to WHR:
// max(w_min, judgeWeight * selfBiasCorrection [* positionBiasCorrection if
// composed]).
func EffectiveWeight(j model.Judgment, report JudgeReport, cfg Config, store sampleResolver) float64 {
	weight := report.Weight

	if isSelfJudgment(j, store) && report.SelfBiasDelta > selfBiasDeadZone {
		weight *= math.Max(WMin, 1-report.SelfBiasDelta)
	}

	if cfg.ComposePositionBias {
		correction := 1 - math.Abs(report.PositionBiasDeviation)
		weight *= math.Max(WMin, correction)
	}

	return math.Max(WMin, weight)
}

// isSelfJudgment reports whether the judge is the writer of one of the two
// samples it is comparing — a self-judgment can occur on any stage
// (initial, revised, or improvement) whenever judges default to the models
// list, not just on the improvement stage.
func isSelfJudgment(j model.Judgment, store sampleResolver) bool {
	sa, okA := store.SampleByID(j.SampleAID)
	sb, okB := store.SampleByID(j.SampleBID)
	if !okA || !okB {
		return false
	}
	return j.JudgeModel == sa.Model || j.JudgeModel == sb.Model
}

func computeAgreementWeights(judgments []model.Judgment, decayRate float64) map[string]float64 {
	overlap := make(map[pairKey][]model.Judgment)
	for _, j := range judgments {
		key := newPairKey(j.SampleAID, j.SampleBID)
		overlap[key] = append(overlap[key], j)
	}

	agreeCount := make(map[string]int)
	totalCount := make(map[string]int)

	for _, group := range overlap {
		if len(group) < 2 {
			continue
		}
		consensus := weightedMajority(group)
		for _, j := range group {
			totalCount[j.JudgeModel]++
			if string(j.Winner) == consensus {
				agreeCount[j.JudgeModel]++
			}
		}
	}

	weights := make(map[string]float64, len(totalCount))
	for judge, n := range totalCount {
		rate := float64(agreeCount[judge]) / float64(n)
		weights[judge] = rate * math.Exp(-decayRate/float64(n))
	}

	// Judges with no multi-judge overlap get a neutral weight of 1 before
	// normalization (nothing to disagree with yet).
	for _, j := range judgments {
		if _, ok := weights[j.JudgeModel]; !ok {
			weights[j.JudgeModel] = 1.0
		}
	}

	return weights
}

// weightedMajority picks the consensus winner for a judgment group by vote
// count, each judgment counting once regardless of its judge's weight. When
// two winners have the same count, which one is returned is not defined.
func weightedMajority(group []model.Judgment) string {
	tally := map[string]float64{}
	for _, j := range group {
		tally[string(j.Winner)]++
	}
	best, bestWeight := "", -1.0
	for winner, w := range tally {
		if w > bestWeight {
			best, bestWeight = winner, w
		}
	}
	return best
}

// winStat tallies how often one writer won a decisive judgment, as seen by
// one particular judge.
type winStat struct{ wins, total int }

// computeSelfBiasDeltas measures, for every judge that ever judges a
// comparison involving one of its own writer samples, how much more often
// it favors its own output than other judges do on the exact same
// model-pair — self-rate minus an expected baseline drawn only from other
// judges' verdicts on that pair, so a biased judge's own votes never
// pollute its own baseline.
func computeSelfBiasDeltas(judgments []model.Judgment, store sampleResolver) map[string]float64 {
	// stats[pair][writer][judge] records how often writer won this pair's
	// decisive judgments, as judged by judge.
	stats := make(map[pairKey]map[string]map[string]*winStat)

	record := func(pair pairKey, writer, judge string, won bool) {
		byWriter, ok := stats[pair]
		if !ok {
			byWriter = make(map[string]map[string]*winStat)
			stats[pair] = byWriter
		}
		byJudge, ok := byWriter[writer]
		if !ok {
			byJudge = make(map[string]*winStat)
			byWriter[writer] = byJudge
		}
		s, ok := byJudge[judge]
		if !ok {
			s = &winStat{}
			byJudge[judge] = s
		}
		s.total++
		if won {
			s.wins++
		}
	}

	for _, j := range judgments {
		if j.Winner == model.WinnerTie {
			continue
		}
		sa, okA := store.SampleByID(j.SampleAID)
		sb, okB := store.SampleByID(j.SampleBID)
		if !okA || !okB || sa.Model == sb.Model {
			continue
		}
		pair := newPairKey(sa.Model, sb.Model)
		record(pair, sa.Model, j.JudgeModel, j.Winner == model.WinnerA)
		record(pair, sb.Model, j.JudgeModel, j.Winner == model.WinnerB)
	}

	selfWins := make(map[string]int)
	selfTotal := make(map[string]int)
	expWins := make(map[string]int)
	expTotal := make(map[string]int)

	for _, byWriter := range stats {
		for writer, byJudge := range byWriter {
			self, ok := byJudge[writer]
			if !ok {
				continue
			}
			selfWins[writer] += self.wins
			selfTotal[writer] += self.total
			for judge, s := range byJudge {
				if judge == writer {
					continue
				}
				expWins[writer] += s.wins
				expTotal[writer] += s.total
			}
		}
	}

	deltas := make(map[string]float64, len(selfTotal))
	for judge, n := range selfTotal {
		if n < minSelfJudgments {
			continue
		}
		selfRate := float64(selfWins[judge]) / float64(n)
		expected := 0.5
		if expTotal[judge] > 0 {
			expected = float64(expWins[judge]) / float64(expTotal[judge])
		}
		deltas[judge] = selfRate - expected
	}
	return deltas
}

func computePositionBiasDeviations(judgments []model.Judgment) map[string]float64 {
	presentedAWins := make(map[string]int)
	total := make(map[string]int)

	for _, j := range judgments {
		presentedWinner := j.Winner
		if j.PositionSwapped {
			presentedWinner = j.Winner.Flip()
		}
		total[j.JudgeModel]++
		if presentedWinner == model.WinnerA {
			presentedAWins[j.JudgeModel]++
		}
	}

	deviations := make(map[string]float64, len(total))
	for judge, n := range total {
		if n == 0 {
			continue
		}
		deviations[judge] = float64(presentedAWins[judge])/float64(n) - 0.5
	}
	return deviations
}
