// Package loop implements the adaptive iteration that drives a benchmark
// run: a cache-only seed pass followed by repeated rounds of rating
// recomputation, judge-quality weighting, convergence checking, need
// identification, and concurrent need fulfillment through the cascade.
package loop

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/cairn-labs/wbench/internal/cascade"
	"github.com/cairn-labs/wbench/internal/cumulative"
	"github.com/cairn-labs/wbench/internal/judgequality"
	"github.com/cairn-labs/wbench/internal/model"
	"github.com/cairn-labs/wbench/internal/needs"
	"github.com/cairn-labs/wbench/internal/whr"
	"github.com/cairn-labs/wbench/pkg/metrics"
	"github.com/cairn-labs/wbench/pkg/ratelimit"
	"golang.org/x/sync/errgroup"
)

// Config parameterizes one run of the adaptive loop.
type Config struct {
	Writers []string
	Judges  []string
	Prompts []model.Prompt

	// MaxOutputsPerModel caps the output-index range seeded and compared.
	// EffectiveOutputs ramps up to this ceiling by one per round
	// (min(configured, currentMaxOutputCount+1)), so early rounds compare
	// a single output per model before deeper outputs are unlocked.
	MaxOutputsPerModel int
	// MaxRounds is a safety valve against runaway iteration; 0 means
	// unbounded (the loop then only stops on convergence or a dry batch).
	MaxRounds   int
	BatchSize   int
	Concurrency int

	CIThreshold      float64
	MinPairsPerModel int
	DimensionWeights map[needs.Dimension]float64

	JudgeQuality judgequality.Config
}

// DefaultConfig returns reasonable defaults for the knobs that have no
// universal default (CIThreshold, MinPairsPerModel, batch/concurrency
// sizing depend on run scale) alongside the default dimension weights and
// judge-quality parameterization.
func DefaultConfig(writers, judges []string, prompts []model.Prompt) Config {
	return Config{
		Writers:            writers,
		Judges:             judges,
		Prompts:            prompts,
		MaxOutputsPerModel: 3,
		MaxRounds:          200,
		BatchSize:          20,
		Concurrency:        8,
		CIThreshold:        50,
		MinPairsPerModel:   5,
		DimensionWeights:   needs.DefaultDimensionWeights(),
		JudgeQuality:       judgequality.DefaultConfig(),
	}
}

// Progress is a snapshot of one round's outcome, exposing both overall and
// per-dimension convergence so a caller can tell which axis is still open.
type Progress struct {
	Round              int
	Converged          bool
	DimensionConverged map[needs.Dimension]bool
}

// Result is everything the adaptive loop produced over the run: the final
// per-dimension ratings, judge reliability reports, the resolved games
// ready to fold into the cumulative cross-run store, and any per-need
// failures tolerated along the way.
type Result struct {
	Ratings       map[needs.Dimension]map[string]whr.Rating
	JudgeReports  map[string]judgequality.JudgeReport
	Progress      Progress
	WritingGames  []cumulative.Game
	FeedbackGames []cumulative.Game
	Errors        []error
}

// Loop drives one run's adaptive iteration over a shared cascade and store.
type Loop struct {
	cascade  *cascade.Cascade
	store    *model.Store
	cfg      Config
	metrics  *metrics.Metrics
	throttle *ratelimit.Limiter

	errMu sync.Mutex
	errs  []error
}

// New creates a Loop. metrics may be nil; a nil metrics sink simply skips
// instrumentation.
func New(c *cascade.Cascade, store *model.Store, cfg Config, m *metrics.Metrics) *Loop {
	return &Loop{
		cascade: c,
		store:   store,
		cfg:     cfg,
		metrics: m,
		// 1 token refilling at 10/sec caps rating recomputation to once
		// per 100ms of wall time.
		throttle: ratelimit.NewLimiter(1, 10),
	}
}

// Run executes the seed pass and then the adaptive iteration until
// convergence, a dry batch, or MaxRounds is reached.
func (l *Loop) Run(ctx context.Context) (Result, error) {
	if err := l.seed(ctx); err != nil {
		return Result{}, fmt.Errorf("loop: seed: %w", err)
	}

	prompts := toNeedsPrompts(l.cfg.Prompts)
	needsCfg := needs.Config{
		DimensionWeights: l.cfg.DimensionWeights,
		CIThreshold:      l.cfg.CIThreshold,
		MinPairsPerModel: l.cfg.MinPairsPerModel,
		BatchSize:        l.cfg.BatchSize,
	}

	var ratings map[needs.Dimension]map[string]whr.Rating
	var reports map[string]judgequality.JudgeReport
	converged := false
	round := 0

	for {
		round++
		if l.cfg.MaxRounds > 0 && round > l.cfg.MaxRounds {
			break
		}
		if err := l.throttle.Wait(ctx); err != nil {
			return Result{}, err
		}

		judgments := l.store.Judgments()
		var weights map[string]float64
		reports, weights = judgequality.Compute(judgments, l.cfg.JudgeQuality, l.store)
		ratings = tabulateRatings(l.store, judgments, weights)
		l.recordCI(ratings)

		if needs.AllConverged(l.cfg.Writers, ratings, l.cfg.CIThreshold, l.cfg.MinPairsPerModel) {
			converged = true
			break
		}

		currentMax := 0
		for _, w := range l.cfg.Writers {
			for _, p := range l.cfg.Prompts {
				for idx := currentMax; idx < l.cfg.MaxOutputsPerModel; idx++ {
					if _, ok := l.store.GetInitialSample(model.SampleKey{Model: w, PromptID: p.ID, OutputIndex: idx}); !ok {
						break
					}
					currentMax = idx + 1
				}
			}
		}
		effectiveOutputs := min(l.cfg.MaxOutputsPerModel, currentMax+1)

		batch := needs.Identify(needs.Input{
			Writers:          l.cfg.Writers,
			Judges:           toJudgeInfo(l.cfg.Judges, reports),
			Prompts:          prompts,
			Ratings:          ratings,
			EffectiveOutputs: effectiveOutputs,
			Completed:        l.store,
		}, needsCfg)

		if len(batch) == 0 {
			break
		}
		if l.metrics != nil {
			l.metrics.RecordNeedsIdentified(len(batch))
		}

		l.fulfillBatch(ctx, batch)

		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
	}

	judgments := l.store.Judgments()
	writingGames, feedbackGames := CumulativeGames(l.store, judgments, l.cfg.Prompts)

	return Result{
		Ratings:      ratings,
		JudgeReports: reports,
		Progress: Progress{
			Round:              round,
			Converged:          converged,
			DimensionConverged: l.dimensionConvergence(ratings),
		},
		WritingGames:  writingGames,
		FeedbackGames: feedbackGames,
		Errors:        l.errs,
	}, nil
}

func (l *Loop) dimensionConvergence(ratings map[needs.Dimension]map[string]whr.Rating) map[needs.Dimension]bool {
	out := make(map[needs.Dimension]bool, 3)
	for _, dim := range []needs.Dimension{needs.DimensionWriting, needs.DimensionRevised, needs.DimensionFeedback} {
		out[dim] = needs.Converged(l.cfg.Writers, ratings[dim], l.cfg.CIThreshold, l.cfg.MinPairsPerModel)
	}
	return out
}

func (l *Loop) recordCI(ratings map[needs.Dimension]map[string]whr.Rating) {
	if l.metrics == nil {
		return
	}
	for dim, rs := range ratings {
		var maxCI float64
		for _, r := range rs {
			if math.IsInf(r.CI95, 1) {
				continue
			}
			if r.CI95 > maxCI {
				maxCI = r.CI95
			}
		}
		l.metrics.SetCI(string(dim), maxCI)
	}
}

// fulfillBatch fulfills every need in the batch concurrently, tolerating
// per-need failures so one bad generator call never aborts the round — the
// same "return nil to continue" pattern the cascade's callers use elsewhere
// in this benchmark. Failures are recorded on the Loop rather than dropped,
// so the run's final Result still reports what went wrong.
func (l *Loop) fulfillBatch(ctx context.Context, batch []needs.Need) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.cfg.Concurrency)

	promptByID := make(map[string]model.Prompt, len(l.cfg.Prompts))
	for _, p := range l.cfg.Prompts {
		promptByID[p.ID] = p
	}

	for _, n := range batch {
		g.Go(func() error {
			prompt, ok := promptByID[n.PromptID]
			if !ok {
				return nil
			}
			j, err := l.fulfillNeed(gctx, n, prompt)
			if l.metrics != nil {
				l.metrics.RecordNeedFulfilled(err == nil)
			}
			if err != nil {
				l.recordError(fmt.Errorf("loop: need %s/%s %s vs %s: %w", n.Kind, n.Dimension, n.ModelA, n.ModelB, err))
				return nil
			}
			l.store.AddJudgment(j, keyForNeed(n))
			return nil
		})
	}
	_ = g.Wait()
}

// recordError appends a per-need failure to the run's error list, safe for
// concurrent use by fulfillBatch's goroutines.
func (l *Loop) recordError(err error) {
	l.errMu.Lock()
	defer l.errMu.Unlock()
	l.errs = append(l.errs, err)
}

// fulfillNeed drives whatever sample/feedback/revision chain a need
// requires and ends with the judgment call itself.
func (l *Loop) fulfillNeed(ctx context.Context, n needs.Need, prompt model.Prompt) (model.Judgment, error) {
	switch n.Kind {
	case needs.KindInitialJudgment:
		a, err := l.cascade.EnsureSample(ctx, n.ModelA, prompt, n.OutIdxA, false)
		if err != nil {
			return model.Judgment{}, err
		}
		b, err := l.cascade.EnsureSample(ctx, n.ModelB, prompt, n.OutIdxB, false)
		if err != nil {
			return model.Judgment{}, err
		}
		return l.ensureJudgment(ctx, n, prompt, a, b, model.JudgmentInitial)

	case needs.KindRevisedJudgment:
		revA, err := l.reviseOnce(ctx, n.ModelA, n.FbModel, prompt, n.OutIdxA)
		if err != nil {
			return model.Judgment{}, err
		}
		revB, err := l.reviseOnce(ctx, n.ModelB, n.FbModel, prompt, n.OutIdxB)
		if err != nil {
			return model.Judgment{}, err
		}
		return l.ensureJudgment(ctx, n, prompt, revA, revB, model.JudgmentRevised)

	case needs.KindImprovementJudgment:
		initial, err := l.cascade.EnsureSample(ctx, n.ModelA, prompt, n.OutIdxA, false)
		if err != nil {
			return model.Judgment{}, err
		}
		revised, err := l.reviseOnce(ctx, n.ModelA, n.FbModel, prompt, n.OutIdxA)
		if err != nil {
			return model.Judgment{}, err
		}
		return l.ensureJudgment(ctx, n, prompt, initial, revised, model.JudgmentImprovement)
	}
	return model.Judgment{}, fmt.Errorf("loop: unknown need kind %q", n.Kind)
}

// ensureJudgment calls the cascade's judgment step and, on failure, records
// the need's key in the store's missing-judgments set so it is filtered out
// of every subsequent round's candidates instead of being retried forever.
func (l *Loop) ensureJudgment(ctx context.Context, n needs.Need, prompt model.Prompt, a, b model.Sample, stage model.JudgmentStage) (model.Judgment, error) {
	j, err := l.cascade.EnsureJudgment(ctx, n.Judge, prompt, a, b, stage, false)
	if err != nil {
		l.store.MarkMissingJudgment(keyForNeed(n))
		return model.Judgment{}, err
	}
	return j, nil
}

// reviseOnce drives the write -> feedback -> revision chain for one writer
// under one feedback-provider, shared by revised- and improvement-judgment
// needs alike.
func (l *Loop) reviseOnce(ctx context.Context, writer, fbModel string, prompt model.Prompt, outIdx int) (model.Sample, error) {
	original, err := l.cascade.EnsureSample(ctx, writer, prompt, outIdx, false)
	if err != nil {
		return model.Sample{}, err
	}
	fb, err := l.cascade.EnsureFeedback(ctx, fbModel, original, prompt, false)
	if err != nil {
		return model.Sample{}, err
	}
	return l.cascade.EnsureRevision(ctx, writer, original, fb, prompt, false)
}

func toJudgeInfo(judges []string, reports map[string]judgequality.JudgeReport) []needs.JudgeInfo {
	out := make([]needs.JudgeInfo, 0, len(judges))
	for _, j := range judges {
		if r, ok := reports[j]; ok {
			out = append(out, needs.JudgeInfo{Label: j, Weight: r.Weight, Pruned: r.Pruned})
			continue
		}
		out = append(out, needs.JudgeInfo{Label: j, Weight: 1})
	}
	return out
}

func toNeedsPrompts(prompts []model.Prompt) []needs.Prompt {
	out := make([]needs.Prompt, len(prompts))
	for i, p := range prompts {
		out[i] = needs.Prompt{ID: p.ID}
	}
	return out
}
