package model

import "sync"

// SampleKey identifies an initial sample by (model, prompt, output-index).
type SampleKey struct {
	Model       string
	PromptID    string
	OutputIndex int
}

// RevisedSampleKey identifies a revised sample by (writer, origin-sample-id,
// feedback-id) — the triple that uniquely determines it.
type RevisedSampleKey struct {
	Writer         string
	OriginSampleID string
	FeedbackID     string
}

// FeedbackKey identifies feedback by (source-model, target-sample-id).
type FeedbackKey struct {
	SourceModel    string
	TargetSampleID string
}

// JudgmentKey identifies completed work for convergence/dedup accounting.
// ModelA and ModelB hold the two writer labels in sorted order (or, for
// improvement judgments, the feedback-provider vs "self"). OutputIndexA and
// OutputIndexB mirror that ordering for output indices.
type JudgmentKey struct {
	Stage          JudgmentStage
	ModelA         string
	ModelB         string
	PromptID       string
	FeedbackModel  string
	JudgeModel     string
	OutputIndexA   int
	OutputIndexB   int
}

// Store holds every artifact produced during a run, keyed so the cascade
// and need identifier can look up completed work in O(1). All methods are
// safe for concurrent use.
type Store struct {
	mu sync.RWMutex

	initialSamples map[SampleKey]Sample
	revisedSamples map[RevisedSampleKey]Sample
	samplesByID    map[string]Sample

	feedback     map[FeedbackKey]Feedback
	feedbackByID map[string]Feedback

	judgments        []Judgment
	completedWork    map[JudgmentKey]struct{}
	missingSamples   map[SampleKey]struct{}
	missingFeedback  map[FeedbackKey]struct{}
	missingRevisions map[RevisedSampleKey]struct{}
	missingJudgments map[JudgmentKey]struct{}
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		initialSamples:   make(map[SampleKey]Sample),
		revisedSamples:   make(map[RevisedSampleKey]Sample),
		samplesByID:      make(map[string]Sample),
		feedback:         make(map[FeedbackKey]Feedback),
		feedbackByID:     make(map[string]Feedback),
		completedWork:    make(map[JudgmentKey]struct{}),
		missingSamples:   make(map[SampleKey]struct{}),
		missingFeedback:  make(map[FeedbackKey]struct{}),
		missingRevisions: make(map[RevisedSampleKey]struct{}),
		missingJudgments: make(map[JudgmentKey]struct{}),
	}
}

// PutInitialSample records a freshly obtained or cache-loaded initial sample.
func (s *Store) PutInitialSample(key SampleKey, sample Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initialSamples[key] = sample
	s.samplesByID[sample.CacheID] = sample
}

// GetInitialSample looks up an initial sample by its (model, prompt,
// output-index) key.
func (s *Store) GetInitialSample(key SampleKey) (Sample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.initialSamples[key]
	return v, ok
}

// PutRevisedSample records a freshly obtained or cache-loaded revision.
func (s *Store) PutRevisedSample(key RevisedSampleKey, sample Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revisedSamples[key] = sample
	s.samplesByID[sample.CacheID] = sample
}

// GetRevisedSample looks up a revision by its (writer, origin, feedback) key.
func (s *Store) GetRevisedSample(key RevisedSampleKey) (Sample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.revisedSamples[key]
	return v, ok
}

// SampleByID resolves any sample (initial or revised) by its cache ID.
func (s *Store) SampleByID(id string) (Sample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.samplesByID[id]
	return v, ok
}

// PutFeedback records feedback keyed by (source-model, target-sample-id).
func (s *Store) PutFeedback(key FeedbackKey, fb Feedback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feedback[key] = fb
	s.feedbackByID[fb.CacheID] = fb
}

// GetFeedback looks up feedback by its key.
func (s *Store) GetFeedback(key FeedbackKey) (Feedback, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.feedback[key]
	return v, ok
}

// FeedbackByID resolves feedback by its cache ID.
func (s *Store) FeedbackByID(id string) (Feedback, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.feedbackByID[id]
	return v, ok
}

// AddJudgment appends a judgment to the append-only completed-work set and
// records its key so future candidates are filtered as already-done.
func (s *Store) AddJudgment(j Judgment, key JudgmentKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.judgments = append(s.judgments, j)
	s.completedWork[key] = struct{}{}
}

// Judgments returns a snapshot of every judgment recorded so far.
func (s *Store) Judgments() []Judgment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Judgment, len(s.judgments))
	copy(out, s.judgments)
	return out
}

// IsCompleted reports whether a judgment-key has already landed.
func (s *Store) IsCompleted(key JudgmentKey) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.completedWork[key]
	return ok
}

// MarkMissingSample records a sample the generator failed to produce.
func (s *Store) MarkMissingSample(key SampleKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.missingSamples[key] = struct{}{}
}

// IsMissingSample reports whether a sample is known-unobtainable this run.
func (s *Store) IsMissingSample(key SampleKey) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.missingSamples[key]
	return ok
}

// MarkMissingFeedback records feedback the generator failed to produce.
func (s *Store) MarkMissingFeedback(key FeedbackKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.missingFeedback[key] = struct{}{}
}

// IsMissingFeedback reports whether feedback is known-unobtainable this run.
func (s *Store) IsMissingFeedback(key FeedbackKey) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.missingFeedback[key]
	return ok
}

// MarkMissingRevision records a revision the generator failed to produce.
func (s *Store) MarkMissingRevision(key RevisedSampleKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.missingRevisions[key] = struct{}{}
}

// IsMissingRevision reports whether a revision is known-unobtainable this run.
func (s *Store) IsMissingRevision(key RevisedSampleKey) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.missingRevisions[key]
	return ok
}

// MarkMissingJudgment records a judgment the generator failed to produce, so
// need identification stops re-selecting it every round.
func (s *Store) MarkMissingJudgment(key JudgmentKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.missingJudgments[key] = struct{}{}
}

// IsMissingJudgment reports whether a judgment is known-unobtainable this run.
func (s *Store) IsMissingJudgment(key JudgmentKey) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.missingJudgments[key]
	return ok
}
