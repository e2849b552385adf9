// Package cache implements the content-addressed, append-only on-disk
// store that deduplicates writes, feedback, revisions, and judgments across
// runs. Every artifact gets a stable cache-ID at creation; downstream
// artifacts reference it, forming a provenance DAG on disk.
package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/cairn-labs/wbench/internal/model"
)

// Cache is a content-addressed on-disk store rooted at a single directory.
// All operations are idempotent; failures on read are swallowed (the
// artifact is treated as absent and regenerated), failures on write
// propagate to the caller.
type Cache struct {
	root string
}

// New creates a cache rooted at dir. The directory is created lazily on
// first write.
func New(dir string) *Cache {
	return &Cache{root: dir}
}

func (c *Cache) writesDir(modelKey, promptHash string) string {
	return filepath.Join(c.root, "writes", modelKey, promptHash)
}

func (c *Cache) feedbackDir(fbModelKey string) string {
	return filepath.Join(c.root, "feedback", fbModelKey)
}

func (c *Cache) revisionsDir(writerKey string) string {
	return filepath.Join(c.root, "revisions", writerKey)
}

func (c *Cache) judgmentsDir(judgeKey string) string {
	return filepath.Join(c.root, "judgments", judgeKey)
}

// GetWrites returns every cached write for (model, promptText), ordered by
// output index. Missing or corrupt files are skipped, never raised.
func (c *Cache) GetWrites(modelLabel, promptText string) []model.Sample {
	dir := c.writesDir(ModelKey(modelLabel), PromptHash(promptText))
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	var samples []model.Sample
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), "sample_") || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		var s model.Sample
		ok, _ := readJSON(filepath.Join(dir, e.Name()), &s)
		if ok {
			samples = append(samples, s)
		}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i].OutputIndex < samples[j].OutputIndex })
	return samples
}

// AddWrite persists a sample at output index n, atomically. Concurrent
// writes at distinct n never collide; the adaptive loop's in-flight dedup
// map is responsible for avoiding same-n races.
func (c *Cache) AddWrite(modelLabel, promptText string, sample model.Sample, n int) error {
	dir := c.writesDir(ModelKey(modelLabel), PromptHash(promptText))
	path := filepath.Join(dir, fmt.Sprintf("sample_%d.json", n))
	return writeJSONAtomic(path, sample)
}

// GetFeedback returns cached feedback keyed by (fb-model, write-cache-id).
func (c *Cache) GetFeedback(fbModelLabel, writeCacheID string) (model.Feedback, bool) {
	path := filepath.Join(c.feedbackDir(ModelKey(fbModelLabel)), writeCacheID+".json")
	var fb model.Feedback
	ok, _ := readJSON(path, &fb)
	return fb, ok
}

// AddFeedback persists feedback keyed by (fb-model, write-cache-id).
func (c *Cache) AddFeedback(fbModelLabel, writeCacheID string, fb model.Feedback) error {
	path := filepath.Join(c.feedbackDir(ModelKey(fbModelLabel)), writeCacheID+".json")
	return writeJSONAtomic(path, fb)
}

// GetRevision returns a cached revision keyed by (writer, feedback-cache-id).
func (c *Cache) GetRevision(writerLabel, feedbackCacheID string) (model.Sample, bool) {
	path := filepath.Join(c.revisionsDir(ModelKey(writerLabel)), feedbackCacheID+".json")
	var s model.Sample
	ok, _ := readJSON(path, &s)
	return s, ok
}

// AddRevision persists a revision keyed by (writer, feedback-cache-id).
func (c *Cache) AddRevision(writerLabel, feedbackCacheID string, sample model.Sample) error {
	path := filepath.Join(c.revisionsDir(ModelKey(writerLabel)), feedbackCacheID+".json")
	return writeJSONAtomic(path, sample)
}

// GetJudgment returns the stored judgment for (judge, stage, cidA, cidB),
// re-oriented to the caller's requested (cidA, cidB) order regardless of
// how it was stored.
func (c *Cache) GetJudgment(judgeLabel string, stage model.JudgmentStage, cidA, cidB string) (model.Judgment, bool) {
	path := filepath.Join(c.judgmentsDir(ModelKey(judgeLabel)), PairHash(string(stage), cidA, cidB)+".json")
	var j model.Judgment
	ok, _ := readJSON(path, &j)
	if !ok {
		return model.Judgment{}, false
	}
	if j.SampleAID != cidA {
		j = j.Flipped()
	}
	return j, true
}

// AddJudgment normalizes the judgment's orientation relative to the sorted
// (cidA, cidB) pair before writing, so get_judgment(A,B) and
// get_judgment(B,A) both resolve to the same file.
func (c *Cache) AddJudgment(judgeLabel string, j model.Judgment) error {
	normalized := j
	if j.SampleBID < j.SampleAID {
		normalized = j.Flipped()
	}
	path := filepath.Join(c.judgmentsDir(ModelKey(judgeLabel)), PairHash(string(j.Stage), j.SampleAID, j.SampleBID)+".json")
	return writeJSONAtomic(path, normalized)
}

// Trim deletes writes at output index >= n for modelLabel's prompt
// directories and cascades the deletion through feedback, revisions, and
// judgments that reference the removed writes.
func (c *Cache) Trim(modelLabel string, n int) error {
	modelKey := ModelKey(modelLabel)
	writesRoot := filepath.Join(c.root, "writes", modelKey)
	promptDirs, err := os.ReadDir(writesRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("cache: read writes dir for trim: %w", err)
	}

	tombstones := make(map[string]struct{})
	for _, pd := range promptDirs {
		if !pd.IsDir() {
			continue
		}
		dir := filepath.Join(writesRoot, pd.Name())
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			idx, ok := parseSampleIndex(e.Name())
			if !ok || idx < n {
				continue
			}
			var s model.Sample
			path := filepath.Join(dir, e.Name())
			if ok, _ := readJSON(path, &s); ok {
				tombstones[s.CacheID] = struct{}{}
			}
			os.Remove(path)
		}
	}

	feedbackTombstones := c.cascadeDelete(filepath.Join(c.root, "feedback"), tombstones)
	revisionTombstones := c.cascadeDelete(filepath.Join(c.root, "revisions"), feedbackTombstones)

	allTombstones := make(map[string]struct{})
	for id := range tombstones {
		allTombstones[id] = struct{}{}
	}
	for id := range feedbackTombstones {
		allTombstones[id] = struct{}{}
	}
	for id := range revisionTombstones {
		allTombstones[id] = struct{}{}
	}

	return c.pruneJudgments(allTombstones)
}

// cascadeDelete removes every "<tombstone>.json" file under any immediate
// subdirectory of root, returning the cache-IDs of the files it removed
// (the next tombstone set).
func (c *Cache) cascadeDelete(root string, tombstones map[string]struct{}) map[string]struct{} {
	next := make(map[string]struct{})
	dirs, err := os.ReadDir(root)
	if err != nil {
		return next
	}
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		sub := filepath.Join(root, d.Name())
		for id := range tombstones {
			path := filepath.Join(sub, id+".json")
			var entry struct {
				CacheID string `json:"cacheId"`
			}
			if ok, _ := readJSON(path, &entry); ok {
				next[entry.CacheID] = struct{}{}
				os.Remove(path)
			}
		}
	}
	return next
}

// pruneJudgments deletes every judgment file whose pair-hash involves any
// deleted cache-ID. Since judgment files are named by pair-hash (not by
// cache-ID directly), this walks the surviving judgments to find matches.
func (c *Cache) pruneJudgments(tombstones map[string]struct{}) error {
	if len(tombstones) == 0 {
		return nil
	}
	judgmentsRoot := filepath.Join(c.root, "judgments")
	judgeDirs, err := os.ReadDir(judgmentsRoot)
	if err != nil {
		return nil
	}
	for _, jd := range judgeDirs {
		if !jd.IsDir() {
			continue
		}
		dir := filepath.Join(judgmentsRoot, jd.Name())
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			path := filepath.Join(dir, e.Name())
			var j model.Judgment
			ok, _ := readJSON(path, &j)
			if !ok {
				continue
			}
			_, aGone := tombstones[j.SampleAID]
			_, bGone := tombstones[j.SampleBID]
			if aGone || bGone {
				os.Remove(path)
			}
		}
	}
	return nil
}

// Combine merges sourceModel's cache entries into targetModel, where both
// are writer model labels. Writes are renumbered to avoid index collision,
// skipping source entries whose cache-ID already exists at target.
// Revisions (keyed by writer) are copied by feedback-cache-id filename,
// skipping duplicates, and dropped rather than overwritten when the target
// writer already has a revision for that feedback-ID, preserving the
// invariant that each (writer, feedback-ID) pair has at most one revision.
// Feedback and judgments are addressed by sample cache-ID rather than by
// writer model-key, so once a write's cache-ID survives under the target
// writer, every feedback/judgment file already referencing it remains
// valid without relocation.
func (c *Cache) Combine(sourceModel, targetModel string) error {
	srcKey, tgtKey := ModelKey(sourceModel), ModelKey(targetModel)

	targetCacheIDs := make(map[string]struct{})
	srcWritesRoot := filepath.Join(c.root, "writes", srcKey)
	tgtWritesRoot := filepath.Join(c.root, "writes", tgtKey)

	promptDirs, err := os.ReadDir(srcWritesRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("cache: read source writes for combine: %w", err)
	}

	for _, pd := range promptDirs {
		if !pd.IsDir() {
			continue
		}
		srcDir := filepath.Join(srcWritesRoot, pd.Name())
		tgtDir := filepath.Join(tgtWritesRoot, pd.Name())

		existing, _ := os.ReadDir(tgtDir)
		nextIndex := 0
		for _, e := range existing {
			var s model.Sample
			if ok, _ := readJSON(filepath.Join(tgtDir, e.Name()), &s); ok {
				targetCacheIDs[s.CacheID] = struct{}{}
				if s.OutputIndex >= nextIndex {
					nextIndex = s.OutputIndex + 1
				}
			}
		}

		srcEntries, _ := os.ReadDir(srcDir)
		for _, e := range srcEntries {
			var s model.Sample
			srcPath := filepath.Join(srcDir, e.Name())
			if ok, _ := readJSON(srcPath, &s); ok {
				if _, dup := targetCacheIDs[s.CacheID]; dup {
					continue
				}
				s.OutputIndex = nextIndex
				if err := writeJSONAtomic(filepath.Join(tgtDir, fmt.Sprintf("sample_%d.json", nextIndex)), s); err != nil {
					return err
				}
				targetCacheIDs[s.CacheID] = struct{}{}
				nextIndex++
			}
		}
	}

	return c.combineRevisions(srcKey, tgtKey)
}

// combineRevisions copies revision files from the source writer's directory
// into the target writer's directory by feedback-cache-id filename,
// skipping any feedback-ID the target writer already has a revision for.
func (c *Cache) combineRevisions(srcModelKey, tgtModelKey string) error {
	srcDir := c.revisionsDir(srcModelKey)
	tgtDir := c.revisionsDir(tgtModelKey)

	entries, err := os.ReadDir(srcDir)
	if err != nil {
		return nil
	}
	for _, e := range entries {
		tgtPath := filepath.Join(tgtDir, e.Name())
		if _, err := os.Stat(tgtPath); err == nil {
			continue
		}
		var s model.Sample
		if ok, _ := readJSON(filepath.Join(srcDir, e.Name()), &s); ok {
			if err := writeJSONAtomic(tgtPath, s); err != nil {
				return err
			}
		}
	}
	return nil
}

func parseSampleIndex(filename string) (int, bool) {
	if !strings.HasPrefix(filename, "sample_") || !strings.HasSuffix(filename, ".json") {
		return 0, false
	}
	trimmed := strings.TrimSuffix(strings.TrimPrefix(filename, "sample_"), ".json")
	n, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, false
	}
	return n, true
}
