// Package cascade implements the idempotent, dedup-coalesced lazy
// materialization of samples, feedback, revisions, and judgments: the
// single point through which the engine obtains artifacts, either from
// cache or by calling the external generator.
package cascade

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/cairn-labs/wbench/internal/cache"
	"github.com/cairn-labs/wbench/internal/model"
	"github.com/cairn-labs/wbench/pkg/convo"
	"github.com/cairn-labs/wbench/pkg/types"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// ErrNotAvailable is returned when cacheOnly is set and no cached artifact
// satisfies the request.
var ErrNotAvailable = errors.New("cascade: artifact not available in cache")

// Cascade is the ensure-cascade: one singleflight group per artifact
// category coalesces concurrent calls for the same logical key into a
// single in-flight operation, preventing duplicate generator calls and
// duplicate cache writes.
type Cascade struct {
	cache *cache.Cache
	store *model.Store
	gen   types.Generator

	sfSample   singleflight.Group
	sfFeedback singleflight.Group
	sfRevision singleflight.Group
	sfJudgment singleflight.Group
}

// New creates a Cascade backed by the given cache, in-memory store, and
// generator.
func New(c *cache.Cache, store *model.Store, gen types.Generator) *Cascade {
	return &Cascade{cache: c, store: store, gen: gen}
}

func nowISO() string { return time.Now().UTC().Format(time.RFC3339) }

// EnsureSample returns an initial sample for (model, prompt, outIdx),
// serving from the in-memory store, then the cache, then the generator.
func (c *Cascade) EnsureSample(ctx context.Context, writer string, prompt model.Prompt, outIdx int, cacheOnly bool) (model.Sample, error) {
	key := model.SampleKey{Model: writer, PromptID: prompt.ID, OutputIndex: outIdx}
	sfKey := fmt.Sprintf("%s:%s:%d", writer, prompt.ID, outIdx)

	v, err, _ := c.sfSample.Do(sfKey, func() (any, error) {
		if s, ok := c.store.GetInitialSample(key); ok {
			return s, nil
		}
		cached := c.cache.GetWrites(writer, prompt.Content)
		for _, s := range cached {
			if s.OutputIndex == outIdx {
				c.store.PutInitialSample(key, s)
				return s, nil
			}
		}
		if cacheOnly {
			return model.Sample{}, ErrNotAvailable
		}

		completion, genErr := c.gen.Generate(ctx, writer, asConvo("", prompt.Content), types.GenerateOptions{})
		if genErr != nil || completion.FinishReason == types.FinishReasonLength {
			c.store.MarkMissingSample(key)
			if genErr != nil {
				return model.Sample{}, fmt.Errorf("cascade: generate sample: %w", genErr)
			}
			return model.Sample{}, fmt.Errorf("cascade: generate sample: %w", errTruncated)
		}

		sample := model.Sample{
			CacheID: uuid.NewString(), Model: writer, PromptID: prompt.ID,
			OutputIndex: outIdx, Text: completion.Text, Stage: model.StageInitial,
			Usage:     model.Usage(completion.Usage),
			CreatedAt: nowISO(),
		}
		if err := c.cache.AddWrite(writer, prompt.Content, sample, outIdx); err != nil {
			return model.Sample{}, fmt.Errorf("cascade: persist sample: %w", err)
		}
		c.store.PutInitialSample(key, sample)
		return sample, nil
	})
	if err != nil {
		return model.Sample{}, err
	}
	return v.(model.Sample), nil
}

// EnsureFeedback returns feedback from sourceModel about target, keyed by
// (sourceModel, target.CacheID).
func (c *Cascade) EnsureFeedback(ctx context.Context, sourceModel string, target model.Sample, prompt model.Prompt, cacheOnly bool) (model.Feedback, error) {
	key := model.FeedbackKey{SourceModel: sourceModel, TargetSampleID: target.CacheID}
	sfKey := fmt.Sprintf("%s:%s", sourceModel, target.CacheID)

	v, err, _ := c.sfFeedback.Do(sfKey, func() (any, error) {
		if fb, ok := c.store.GetFeedback(key); ok {
			return fb, nil
		}
		if fb, ok := c.cache.GetFeedback(sourceModel, target.CacheID); ok {
			c.store.PutFeedback(key, fb)
			return fb, nil
		}
		if cacheOnly {
			return model.Feedback{}, ErrNotAvailable
		}

		completion, genErr := c.gen.Generate(ctx, sourceModel, asConvo(prompt.FeedbackPrompt, target.Text), types.GenerateOptions{})
		if genErr != nil || completion.FinishReason == types.FinishReasonLength {
			c.store.MarkMissingFeedback(key)
			if genErr != nil {
				return model.Feedback{}, fmt.Errorf("cascade: generate feedback: %w", genErr)
			}
			return model.Feedback{}, fmt.Errorf("cascade: generate feedback: %w", errTruncated)
		}

		fb := model.Feedback{
			CacheID: uuid.NewString(), SourceModel: sourceModel, TargetSampleID: target.CacheID,
			Text: completion.Text, Usage: model.Usage(completion.Usage), CreatedAt: nowISO(),
		}
		if err := c.cache.AddFeedback(sourceModel, target.CacheID, fb); err != nil {
			return model.Feedback{}, fmt.Errorf("cascade: persist feedback: %w", err)
		}
		c.store.PutFeedback(key, fb)
		return fb, nil
	})
	if err != nil {
		return model.Feedback{}, err
	}
	return v.(model.Feedback), nil
}

// EnsureRevision returns writer's revision of original using feedback,
// keyed by (writer, original.CacheID, feedback.CacheID).
func (c *Cascade) EnsureRevision(ctx context.Context, writer string, original model.Sample, feedback model.Feedback, prompt model.Prompt, cacheOnly bool) (model.Sample, error) {
	key := model.RevisedSampleKey{Writer: writer, OriginSampleID: original.CacheID, FeedbackID: feedback.CacheID}
	sfKey := fmt.Sprintf("%s:%s:%s", writer, original.CacheID, feedback.CacheID)

	v, err, _ := c.sfRevision.Do(sfKey, func() (any, error) {
		if s, ok := c.store.GetRevisedSample(key); ok {
			return s, nil
		}
		if s, ok := c.cache.GetRevision(writer, feedback.CacheID); ok {
			c.store.PutRevisedSample(key, s)
			return s, nil
		}
		if cacheOnly {
			return model.Sample{}, ErrNotAvailable
		}

		user := original.Text + "\n\n" + feedback.Text
		completion, genErr := c.gen.Generate(ctx, writer, asConvo(prompt.RevisionPrompt, user), types.GenerateOptions{})
		if genErr != nil || completion.FinishReason == types.FinishReasonLength {
			c.store.MarkMissingRevision(key)
			if genErr != nil {
				return model.Sample{}, fmt.Errorf("cascade: generate revision: %w", genErr)
			}
			return model.Sample{}, fmt.Errorf("cascade: generate revision: %w", errTruncated)
		}

		sample := model.Sample{
			CacheID: uuid.NewString(), Model: writer, PromptID: prompt.ID,
			OutputIndex: original.OutputIndex, Text: completion.Text, Stage: model.StageRevised,
			OriginSampleID: original.CacheID, FeedbackID: feedback.CacheID, FeedbackModel: feedback.SourceModel,
			Usage: model.Usage(completion.Usage), CreatedAt: nowISO(),
		}
		if err := c.cache.AddRevision(writer, feedback.CacheID, sample); err != nil {
			return model.Sample{}, fmt.Errorf("cascade: persist revision: %w", err)
		}
		c.store.PutRevisedSample(key, sample)
		return sample, nil
	})
	if err != nil {
		return model.Sample{}, err
	}
	return v.(model.Sample), nil
}

// EnsureJudgment returns judge's verdict between sampleA and sampleB for
// the given stage, keyed by (judge, stage, sampleA.CacheID,
// sampleB.CacheID). Position is randomized before any fresh generator call
// and de-randomized on the way back so the recorded judgment is always in
// canonical (A, B) order with an honest position-swapped flag.
func (c *Cascade) EnsureJudgment(ctx context.Context, judge string, prompt model.Prompt, sampleA, sampleB model.Sample, stage model.JudgmentStage, cacheOnly bool) (model.Judgment, error) {
	sfKey := fmt.Sprintf("%s:%s:%s:%s", judge, stage, sampleA.CacheID, sampleB.CacheID)

	v, err, _ := c.sfJudgment.Do(sfKey, func() (any, error) {
		if j, ok := c.cache.GetJudgment(judge, stage, sampleA.CacheID, sampleB.CacheID); ok {
			return j, nil
		}
		if cacheOnly {
			return model.Judgment{}, ErrNotAvailable
		}

		swapped := rand.Intn(2) == 1
		presentedA, presentedB := sampleA, sampleB
		if swapped {
			presentedA, presentedB = sampleB, sampleA
		}

		system := judgeSystemPrompt(prompt, stage)
		user := fmt.Sprintf("A:\n%s\n\nB:\n%s", presentedA.Text, presentedB.Text)
		completion, genErr := c.gen.Generate(ctx, judge, asConvo(system, user), types.GenerateOptions{
			StructuredSchema: judgmentSchema(),
		})
		if genErr != nil || completion.FinishReason == types.FinishReasonLength {
			if genErr != nil {
				return model.Judgment{}, fmt.Errorf("cascade: generate judgment: %w", genErr)
			}
			return model.Judgment{}, fmt.Errorf("cascade: generate judgment: %w", errTruncated)
		}

		presentedWinner, reasoning, parseErr := ParseJudgment(completion.Text)
		if parseErr != nil {
			return model.Judgment{}, fmt.Errorf("cascade: parse judgment: %w", parseErr)
		}

		winner := presentedWinner
		if swapped {
			winner = presentedWinner.Flip()
		}

		j := model.Judgment{
			CacheID: uuid.NewString(), JudgeModel: judge, PromptID: prompt.ID,
			SampleAID: sampleA.CacheID, SampleBID: sampleB.CacheID, Winner: winner, Stage: stage,
			Usage: model.Usage(completion.Usage), Reasoning: reasoning, PositionSwapped: swapped,
			CreatedAt: nowISO(),
		}
		if err := c.cache.AddJudgment(judge, j); err != nil {
			return model.Judgment{}, fmt.Errorf("cascade: persist judgment: %w", err)
		}
		return j, nil
	})
	if err != nil {
		return model.Judgment{}, err
	}
	return v.(model.Judgment), nil
}

func judgeSystemPrompt(prompt model.Prompt, stage model.JudgmentStage) string {
	return fmt.Sprintf("Judge which of two responses to the prompt %q better satisfies: %v (stage=%s)",
		prompt.ID, prompt.JudgingCriteria, stage)
}

// asConvo frames a system+user prompt pair as the conversation every
// generator call is made through.
func asConvo(system, user string) *convo.Conversation {
	c := convo.NewConversation(user)
	if system != "" {
		c = c.WithSystem(system)
	}
	return c
}

var errTruncated = errors.New("generator returned a truncated completion")
