// Package model defines the core data types of the benchmark: models,
// prompts, writing samples, feedback, and judgments, plus the in-memory
// stores that own them for the lifetime of a run.
package model

// Stage distinguishes an initial write from a revision made after feedback.
type Stage string

const (
	StageInitial Stage = "initial"
	StageRevised Stage = "revised"
)

// JudgmentStage distinguishes the three comparison shapes a judge can see.
type JudgmentStage string

const (
	// JudgmentInitial compares two initial samples from different writers.
	JudgmentInitial JudgmentStage = "initial"
	// JudgmentRevised compares two revised samples sharing one feedback-provider.
	JudgmentRevised JudgmentStage = "revised"
	// JudgmentImprovement compares a writer's initial sample against its own
	// revision, attributing quality to the feedback-provider.
	JudgmentImprovement JudgmentStage = "improvement"
)

// Winner identifies which side of a judgment prevailed.
type Winner string

const (
	WinnerA   Winner = "A"
	WinnerB   Winner = "B"
	WinnerTie Winner = "tie"
)

// Flip returns the winner as seen from the opposite (B, A) orientation.
func (w Winner) Flip() Winner {
	switch w {
	case WinnerA:
		return WinnerB
	case WinnerB:
		return WinnerA
	default:
		return WinnerTie
	}
}

// Model is a writer/judge participant in the benchmark, identified by a
// stable label. Models are static for the lifetime of a run.
type Model struct {
	Label string `json:"label"`
}

// Prompt is an immutable task description. Content is the cache key for
// prompt-hash lookups, so it must never be mutated after load.
type Prompt struct {
	ID              string   `json:"id"`
	Content         string   `json:"content"`
	Tags            []string `json:"tags"`
	JudgingCriteria []string `json:"judgingCriteria"`
	FeedbackPrompt  string   `json:"feedbackPrompt,omitempty"`
	RevisionPrompt  string   `json:"revisionPrompt,omitempty"`
	MaxWords        int      `json:"maxWords,omitempty"`
}

// Usage mirrors the generator contract's token accounting, stored alongside
// every artifact that required a generator call.
type Usage struct {
	InputTokens      int `json:"inputTokens"`
	OutputTokens     int `json:"outputTokens"`
	CacheReadTokens  int `json:"cacheReadTokens,omitempty"`
	CacheWriteTokens int `json:"cacheWriteTokens,omitempty"`
}

// Sample is a single writing artifact: an initial write or a revision made
// from feedback. Revisions carry provenance back to their origin sample and
// the feedback that produced them.
type Sample struct {
	CacheID        string `json:"cacheId"`
	Model          string `json:"model"`
	PromptID       string `json:"promptId"`
	OutputIndex    int    `json:"outputIndex"`
	Text           string `json:"text"`
	Stage          Stage  `json:"stage"`
	OriginSampleID string `json:"originSampleId,omitempty"`
	FeedbackID     string `json:"feedbackId,omitempty"`
	FeedbackModel  string `json:"feedbackModel,omitempty"`
	Usage          Usage  `json:"usage"`
	CreatedAt      string `json:"createdAt"`
}

// Feedback is critique text a source model produced about another model's
// sample.
type Feedback struct {
	CacheID        string `json:"cacheId"`
	SourceModel    string `json:"sourceModel"`
	TargetSampleID string `json:"targetSampleId"`
	Text           string `json:"text"`
	Usage          Usage  `json:"usage"`
	CreatedAt      string `json:"createdAt"`
}

// Judgment is a judge's pairwise verdict between two samples.
type Judgment struct {
	CacheID         string        `json:"cacheId"`
	JudgeModel      string        `json:"judgeModel"`
	PromptID        string        `json:"promptId"`
	SampleAID       string        `json:"sampleAId"`
	SampleBID       string        `json:"sampleBId"`
	Winner          Winner        `json:"winner"`
	Stage           JudgmentStage `json:"stage"`
	Usage           Usage         `json:"usage"`
	Reasoning       string        `json:"reasoning,omitempty"`
	PositionSwapped bool          `json:"positionSwapped"`
	CreatedAt       string        `json:"createdAt"`
}

// Flipped returns a copy of the judgment as seen from the (B, A)
// orientation: winner flipped, sample ids swapped.
func (j Judgment) Flipped() Judgment {
	flipped := j
	flipped.SampleAID, flipped.SampleBID = j.SampleBID, j.SampleAID
	flipped.Winner = j.Winner.Flip()
	return flipped
}
