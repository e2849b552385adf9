package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_BasicYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
run:
  writers:
    - claude
    - gpt
  prompts_dir: ./prompts
  max_rounds: 50
judging:
  ci_threshold: 40
output:
  format: json
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0644))

	cfg, err := Load(configPath, nil)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, []string{"claude", "gpt"}, cfg.Run.Writers)
	assert.Equal(t, "./prompts", cfg.Run.PromptsDir)
	assert.Equal(t, 50, cfg.Run.MaxRounds)
	assert.Equal(t, 40.0, cfg.Judging.CIThreshold)
	assert.Equal(t, "json", cfg.Output.Format)
	// Fields left unset in the file keep their default.
	assert.Equal(t, 20, cfg.Run.BatchSize)
}

func TestLoad_DefaultsWithNoFile(t *testing.T) {
	cfg, err := Load("", &Config{Run: RunConfig{Writers: []string{"a", "b"}, PromptsDir: "p"}})
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Run.MaxOutputsPerModel)
	assert.Equal(t, 200, cfg.Run.MaxRounds)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_EnvironmentVariablesOverrideFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	yamlContent := `
run:
  writers: [a, b]
  prompts_dir: ./prompts
  max_rounds: 10
output:
  format: json
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0644))

	os.Setenv("WBENCH_RUN__MAX_ROUNDS", "25")
	os.Setenv("WBENCH_OUTPUT__FORMAT", "table")
	defer os.Unsetenv("WBENCH_RUN__MAX_ROUNDS")
	defer os.Unsetenv("WBENCH_OUTPUT__FORMAT")

	cfg, err := Load(configPath, nil)
	require.NoError(t, err)
	assert.Equal(t, 25, cfg.Run.MaxRounds)
	assert.Equal(t, "table", cfg.Output.Format)
	// File value without an env override remains.
	assert.Equal(t, []string{"a", "b"}, cfg.Run.Writers)
}

func TestLoad_CLIOverridesBeatEverything(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("run:\n  max_rounds: 10\n"), 0644))

	os.Setenv("WBENCH_RUN__MAX_ROUNDS", "25")
	defer os.Unsetenv("WBENCH_RUN__MAX_ROUNDS")

	cfg, err := Load(configPath, &Config{
		Run: RunConfig{Writers: []string{"a", "b"}, PromptsDir: "p", MaxRounds: 99},
	})
	require.NoError(t, err)
	assert.Equal(t, 99, cfg.Run.MaxRounds)
}

func TestLoad_ValidationFailsWithoutWriters(t *testing.T) {
	cfg, err := Load("", &Config{Run: RunConfig{PromptsDir: "p"}})
	assert.Error(t, err)
	assert.Nil(t, cfg)
}

func TestLoad_ValidationFailsOnBadOutputFormat(t *testing.T) {
	cfg, err := Load("", &Config{
		Run:    RunConfig{Writers: []string{"a", "b"}, PromptsDir: "p"},
		Output: OutputConfig{Format: "xml"},
	})
	assert.Error(t, err)
	assert.Nil(t, cfg)
}

func TestLoad_NonexistentFile(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.yaml", nil)
	assert.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "failed to load config file")
}

func TestJudgesDefaultsToWriters(t *testing.T) {
	cfg := &Config{Run: RunConfig{Writers: []string{"a", "b", "c"}}}
	assert.Equal(t, []string{"a", "b", "c"}, cfg.Judges())

	cfg.Run.Judges = []string{"a"}
	assert.Equal(t, []string{"a"}, cfg.Judges())
}
