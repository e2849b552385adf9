package loop

import (
	"context"
	"errors"

	"github.com/cairn-labs/wbench/internal/cascade"
	"github.com/cairn-labs/wbench/internal/model"
	"github.com/cairn-labs/wbench/internal/needs"
	"golang.org/x/sync/errgroup"
)

// seed performs the cache-only warm-up pass: every previously cached
// sample, feedback, revision, and judgment this run could possibly need is
// loaded into the in-memory store before a single generator call is made.
// Layers run in dependency order — writes, then feedback, then revisions,
// then judgments — since each layer's traversal depends on the samples the
// previous layer loaded; work within a layer runs concurrently.
func (l *Loop) seed(ctx context.Context) error {
	if err := l.seedWrites(ctx); err != nil {
		return err
	}
	if err := l.seedFeedback(ctx); err != nil {
		return err
	}
	if err := l.seedRevisions(ctx); err != nil {
		return err
	}
	return l.seedJudgments(ctx)
}

func (l *Loop) seedWrites(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.cfg.Concurrency)
	for _, writer := range l.cfg.Writers {
		for _, prompt := range l.cfg.Prompts {
			for idx := 0; idx < l.cfg.MaxOutputsPerModel; idx++ {
				writer, prompt, idx := writer, prompt, idx
				g.Go(func() error {
					_, err := l.cascade.EnsureSample(gctx, writer, prompt, idx, true)
					return ignoreNotAvailable(err)
				})
			}
		}
	}
	return g.Wait()
}

func (l *Loop) seedFeedback(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.cfg.Concurrency)
	for _, source := range l.cfg.Writers {
		for _, target := range l.cfg.Writers {
			if source == target {
				continue
			}
			for _, prompt := range l.cfg.Prompts {
				for idx := 0; idx < l.cfg.MaxOutputsPerModel; idx++ {
					source, target, prompt, idx := source, target, prompt, idx
					g.Go(func() error {
						sample, ok := l.store.GetInitialSample(model.SampleKey{Model: target, PromptID: prompt.ID, OutputIndex: idx})
						if !ok {
							return nil
						}
						_, err := l.cascade.EnsureFeedback(gctx, source, sample, prompt, true)
						return ignoreNotAvailable(err)
					})
				}
			}
		}
	}
	return g.Wait()
}

func (l *Loop) seedRevisions(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.cfg.Concurrency)
	for _, writer := range l.cfg.Writers {
		for _, fb := range l.cfg.Writers {
			if fb == writer {
				continue
			}
			for _, prompt := range l.cfg.Prompts {
				for idx := 0; idx < l.cfg.MaxOutputsPerModel; idx++ {
					writer, fb, prompt, idx := writer, fb, prompt, idx
					g.Go(func() error {
						original, ok := l.store.GetInitialSample(model.SampleKey{Model: writer, PromptID: prompt.ID, OutputIndex: idx})
						if !ok {
							return nil
						}
						feedback, ok := l.store.GetFeedback(model.FeedbackKey{SourceModel: fb, TargetSampleID: original.CacheID})
						if !ok {
							return nil
						}
						_, err := l.cascade.EnsureRevision(gctx, writer, original, feedback, prompt, true)
						return ignoreNotAvailable(err)
					})
				}
			}
		}
	}
	return g.Wait()
}

// seedJudgments walks the same three candidate shapes needs.Identify scores
// (initial, revised, improvement), cache-only, recording any hit into the
// store's completed-work set so the first adaptive round sees it as done.
func (l *Loop) seedJudgments(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.cfg.Concurrency)

	for _, prompt := range l.cfg.Prompts {
		prompt := prompt
		for _, judge := range l.cfg.Judges {
			judge := judge

			for i := 0; i < len(l.cfg.Writers); i++ {
				for j := i + 1; j < len(l.cfg.Writers); j++ {
					for idx := 0; idx < l.cfg.MaxOutputsPerModel; idx++ {
						n := needs.Need{
							Kind: needs.KindInitialJudgment, Dimension: needs.DimensionWriting,
							ModelA: l.cfg.Writers[i], ModelB: l.cfg.Writers[j],
							OutIdxA: idx, OutIdxB: idx,
							PromptID: prompt.ID, Judge: judge,
						}
						g.Go(func() error { return l.seedOneJudgment(gctx, n, prompt) })
					}
				}
			}

			for _, fb := range l.cfg.Writers {
				fb := fb
				for i := 0; i < len(l.cfg.Writers); i++ {
					for j := i + 1; j < len(l.cfg.Writers); j++ {
						if l.cfg.Writers[i] == fb || l.cfg.Writers[j] == fb {
							continue
						}
						for idx := 0; idx < l.cfg.MaxOutputsPerModel; idx++ {
							n := needs.Need{
								Kind: needs.KindRevisedJudgment, Dimension: needs.DimensionRevised,
								ModelA: l.cfg.Writers[i], ModelB: l.cfg.Writers[j], FbModel: fb,
								OutIdxA: idx, OutIdxB: idx,
								PromptID: prompt.ID, Judge: judge,
							}
							g.Go(func() error { return l.seedOneJudgment(gctx, n, prompt) })
						}
					}
				}
			}

			for _, writer := range l.cfg.Writers {
				writer := writer
				for _, fb := range l.cfg.Writers {
					if fb == writer {
						continue
					}
					fb := fb
					for idx := 0; idx < l.cfg.MaxOutputsPerModel; idx++ {
						n := needs.Need{
							Kind: needs.KindImprovementJudgment, Dimension: needs.DimensionFeedback,
							ModelA: writer, FbModel: fb,
							OutIdxA: idx,
							PromptID: prompt.ID, Judge: judge,
						}
						g.Go(func() error { return l.seedOneJudgment(gctx, n, prompt) })
					}
				}
			}
		}
	}

	return g.Wait()
}

func (l *Loop) seedOneJudgment(ctx context.Context, n needs.Need, prompt model.Prompt) error {
	sampleA, sampleB, ok := l.resolveSeedSamples(n)
	if !ok {
		return nil
	}
	j, err := l.cascade.EnsureJudgment(ctx, n.Judge, prompt, sampleA, sampleB, stageForKind(n.Kind), true)
	if err != nil {
		return ignoreNotAvailable(err)
	}
	l.store.AddJudgment(j, keyForNeed(n))
	return nil
}

// resolveSeedSamples looks up the two samples a cache-only judgment needs
// from whatever earlier seed layers already loaded into the store, without
// ever calling the generator.
func (l *Loop) resolveSeedSamples(n needs.Need) (model.Sample, model.Sample, bool) {
	switch n.Kind {
	case needs.KindInitialJudgment:
		a, ok := l.store.GetInitialSample(model.SampleKey{Model: n.ModelA, PromptID: n.PromptID, OutputIndex: n.OutIdxA})
		if !ok {
			return model.Sample{}, model.Sample{}, false
		}
		b, ok := l.store.GetInitialSample(model.SampleKey{Model: n.ModelB, PromptID: n.PromptID, OutputIndex: n.OutIdxB})
		if !ok {
			return model.Sample{}, model.Sample{}, false
		}
		return a, b, true

	case needs.KindRevisedJudgment:
		originA, ok := l.store.GetInitialSample(model.SampleKey{Model: n.ModelA, PromptID: n.PromptID, OutputIndex: n.OutIdxA})
		if !ok {
			return model.Sample{}, model.Sample{}, false
		}
		originB, ok := l.store.GetInitialSample(model.SampleKey{Model: n.ModelB, PromptID: n.PromptID, OutputIndex: n.OutIdxB})
		if !ok {
			return model.Sample{}, model.Sample{}, false
		}
		fbA, ok := l.store.GetFeedback(model.FeedbackKey{SourceModel: n.FbModel, TargetSampleID: originA.CacheID})
		if !ok {
			return model.Sample{}, model.Sample{}, false
		}
		fbB, ok := l.store.GetFeedback(model.FeedbackKey{SourceModel: n.FbModel, TargetSampleID: originB.CacheID})
		if !ok {
			return model.Sample{}, model.Sample{}, false
		}
		revA, ok := l.store.GetRevisedSample(model.RevisedSampleKey{Writer: n.ModelA, OriginSampleID: originA.CacheID, FeedbackID: fbA.CacheID})
		if !ok {
			return model.Sample{}, model.Sample{}, false
		}
		revB, ok := l.store.GetRevisedSample(model.RevisedSampleKey{Writer: n.ModelB, OriginSampleID: originB.CacheID, FeedbackID: fbB.CacheID})
		if !ok {
			return model.Sample{}, model.Sample{}, false
		}
		return revA, revB, true

	case needs.KindImprovementJudgment:
		initial, ok := l.store.GetInitialSample(model.SampleKey{Model: n.ModelA, PromptID: n.PromptID, OutputIndex: n.OutIdxA})
		if !ok {
			return model.Sample{}, model.Sample{}, false
		}
		fb, ok := l.store.GetFeedback(model.FeedbackKey{SourceModel: n.FbModel, TargetSampleID: initial.CacheID})
		if !ok {
			return model.Sample{}, model.Sample{}, false
		}
		revised, ok := l.store.GetRevisedSample(model.RevisedSampleKey{Writer: n.ModelA, OriginSampleID: initial.CacheID, FeedbackID: fb.CacheID})
		if !ok {
			return model.Sample{}, model.Sample{}, false
		}
		return initial, revised, true
	}
	return model.Sample{}, model.Sample{}, false
}

func ignoreNotAvailable(err error) error {
	if err == nil || errors.Is(err, cascade.ErrNotAvailable) {
		return nil
	}
	return err
}
