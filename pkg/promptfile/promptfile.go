// Package promptfile loads the TOML prompt file format the engine consumes
// as input: name, tags, description, prompt content, judging criteria, and
// optional feedback/revision prompts and a max-word cap.
package promptfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"

	"github.com/cairn-labs/wbench/internal/model"
)

// File is the on-disk shape of a prompt file.
type File struct {
	Name            string   `toml:"name" validate:"required"`
	Tags            []string `toml:"tags" validate:"required,min=1"`
	Description     string   `toml:"description"`
	Prompt          string   `toml:"prompt" validate:"required"`
	JudgingCriteria []string `toml:"judging_criteria" validate:"required,min=1"`
	FeedbackPrompt  string   `toml:"feedback_prompt,omitempty"`
	RevisionPrompt  string   `toml:"revision_prompt,omitempty"`
	MaxWords        int      `toml:"max_words,omitempty" validate:"gte=0"`
}

// Load parses one prompt file, using its basename (without extension) as
// the prompt id.
func Load(path string) (model.Prompt, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Prompt{}, fmt.Errorf("promptfile: read %s: %w", path, err)
	}

	var f File
	if err := toml.Unmarshal(data, &f); err != nil {
		return model.Prompt{}, fmt.Errorf("promptfile: parse %s: %w", path, err)
	}
	if err := validator.New().Struct(&f); err != nil {
		return model.Prompt{}, fmt.Errorf("promptfile: invalid %s: %w", path, err)
	}
	if f.MaxWords < 0 {
		return model.Prompt{}, fmt.Errorf("promptfile: %s: max_words must not be negative, got %d", path, f.MaxWords)
	}

	base := filepath.Base(path)
	id := strings.TrimSuffix(base, filepath.Ext(base))

	return model.Prompt{
		ID:              id,
		Content:         f.Prompt,
		Tags:            f.Tags,
		JudgingCriteria: f.JudgingCriteria,
		FeedbackPrompt:  f.FeedbackPrompt,
		RevisionPrompt:  f.RevisionPrompt,
		MaxWords:        f.MaxWords,
	}, nil
}

// LoadDir loads every *.toml file directly inside dir (non-recursive),
// aborting on the first invalid prompt rather than skipping it silently.
func LoadDir(dir string) ([]model.Prompt, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("promptfile: read dir %s: %w", dir, err)
	}

	var prompts []model.Prompt
	seen := make(map[string]string, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".toml" {
			continue
		}
		path := filepath.Join(dir, e.Name())
		p, err := Load(path)
		if err != nil {
			return nil, err
		}
		if prior, ok := seen[p.ID]; ok {
			return nil, fmt.Errorf("promptfile: duplicate prompt id %q from %s and %s", p.ID, prior, path)
		}
		seen[p.ID] = path
		prompts = append(prompts, p)
	}
	if len(prompts) == 0 {
		return nil, fmt.Errorf("promptfile: no prompt files found in %s", dir)
	}
	return prompts, nil
}
