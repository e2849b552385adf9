// Package engine is wbench's single public entry point: Run(config) wires
// the cache, in-memory stores, adaptive loop, and cumulative rating store
// together into one benchmark run.
package engine

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/cairn-labs/wbench/internal/cache"
	"github.com/cairn-labs/wbench/internal/cascade"
	"github.com/cairn-labs/wbench/internal/cumulative"
	"github.com/cairn-labs/wbench/internal/judgequality"
	"github.com/cairn-labs/wbench/internal/loop"
	"github.com/cairn-labs/wbench/internal/model"
	"github.com/cairn-labs/wbench/internal/needs"
	"github.com/cairn-labs/wbench/internal/whr"
	"github.com/cairn-labs/wbench/pkg/config"
	"github.com/cairn-labs/wbench/pkg/metrics"
	"github.com/cairn-labs/wbench/pkg/types"
)

// RunResult is everything a completed run produced: this run's ratings and
// judge reports, its progress snapshot, and the cumulative cross-run
// standings after this run's games were merged in.
type RunResult struct {
	RunID     string
	StartedAt time.Time
	Duration  time.Duration

	Ratings      map[needs.Dimension]map[string]whr.Rating
	JudgeReports map[string]judgequality.JudgeReport
	Progress     loop.Progress

	Cumulative *cumulative.Snapshot

	// Errors collects non-fatal per-need failures surfaced during the run
	// (the generator's own retries were already exhausted by the time one
	// of these appears). The run still completes; nothing here aborted it.
	Errors []error
}

// Options configures one Run beyond what's already resolved into a
// config.Config (the prompt set, since loading prompt files is
// pkg/promptfile's job, and the generator, the one external collaborator).
type Options struct {
	Config         *config.Config
	Prompts        []model.Prompt
	Generator      types.Generator
	Metrics        *metrics.Metrics
	CumulativePath string
}

// Run executes one full benchmark run: seed, adaptive-iterate to
// convergence or exhaustion, then merge this run's games into the
// cumulative on-disk store.
func Run(ctx context.Context, opts Options) (RunResult, error) {
	if opts.Config == nil {
		return RunResult{}, fmt.Errorf("engine: config is required")
	}
	if opts.Generator == nil {
		return RunResult{}, fmt.Errorf("engine: generator is required")
	}
	if len(opts.Prompts) == 0 {
		return RunResult{}, fmt.Errorf("engine: at least one prompt is required")
	}

	cfg := opts.Config
	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}

	runID := uuid.NewString()
	startedAt := time.Now()

	cacheDir := cfg.Cache.Dir
	if cfg.Cache.NoCache {
		tmp, err := os.MkdirTemp("", "wbench-nocache-*")
		if err != nil {
			return RunResult{}, fmt.Errorf("engine: create ephemeral cache dir: %w", err)
		}
		defer os.RemoveAll(tmp)
		cacheDir = tmp
	}
	c := cache.New(cacheDir)
	store := model.NewStore()
	casc := cascade.New(c, store, opts.Generator)

	loopCfg := loop.DefaultConfig(cfg.Run.Writers, cfg.Judges(), opts.Prompts)
	loopCfg.MaxOutputsPerModel = cfg.Run.MaxOutputsPerModel
	loopCfg.MaxRounds = cfg.Run.MaxRounds
	loopCfg.BatchSize = cfg.Run.BatchSize
	loopCfg.Concurrency = cfg.Run.Concurrency
	loopCfg.CIThreshold = cfg.Judging.CIThreshold
	loopCfg.MinPairsPerModel = cfg.Judging.MinPairsPerModel
	if len(cfg.Judging.DimensionWeights) > 0 {
		loopCfg.DimensionWeights = toDimensionWeights(cfg.Judging.DimensionWeights)
	}
	loopCfg.JudgeQuality = judgequality.Config{
		DecayRate:           cfg.Judging.DecayRate,
		PruneThreshold:      cfg.Judging.PruneThreshold,
		ComposePositionBias: cfg.Judging.ComposePositionBias,
	}

	l := loop.New(casc, store, loopCfg, m)
	result, err := l.Run(ctx)
	if err != nil {
		return RunResult{}, fmt.Errorf("engine: run: %w", err)
	}

	snapshot, err := mergeCumulative(opts.CumulativePath, runID, startedAt, result)
	if err != nil {
		return RunResult{}, fmt.Errorf("engine: cumulative merge: %w", err)
	}

	return RunResult{
		RunID:        runID,
		StartedAt:    startedAt,
		Duration:     time.Since(startedAt),
		Ratings:      result.Ratings,
		JudgeReports: result.JudgeReports,
		Progress:     result.Progress,
		Cumulative:   snapshot,
		Errors:       result.Errors,
	}, nil
}

func mergeCumulative(path, runID string, startedAt time.Time, result loop.Result) (*cumulative.Snapshot, error) {
	if path == "" {
		return nil, nil
	}

	store, err := cumulative.Load(path)
	if err != nil {
		return nil, err
	}
	store.Merge(runID, startedAt.UTC().Format(time.RFC3339), result.WritingGames, result.FeedbackGames)
	if err := store.Save(path); err != nil {
		return nil, err
	}
	snap := cumulative.Snapshot{
		Writing:        store.Writing,
		FeedbackGiving: store.FeedbackGiving,
		WritingByTag:   store.WritingByTag,
	}
	return &snap, nil
}

func toDimensionWeights(m map[string]float64) map[needs.Dimension]float64 {
	out := make(map[needs.Dimension]float64, len(m))
	for k, v := range m {
		out[needs.Dimension(k)] = v
	}
	return out
}
