// Package config defines wbench's run configuration and its load/validate
// pipeline, built on a koanf-based loader that layers defaults, a YAML file,
// environment variables, and CLI flags.
package config

import "fmt"

// Config is the complete wbench configuration: everything a run needs,
// loaded from defaults, a YAML file, environment variables, and CLI flags,
// in that ascending precedence order.
type Config struct {
	Run     RunConfig     `yaml:"run" koanf:"run"`
	Cache   CacheConfig   `yaml:"cache" koanf:"cache"`
	Judging JudgingConfig `yaml:"judging" koanf:"judging"`
	Output  OutputConfig  `yaml:"output" koanf:"output"`
	Logging LoggingConfig `yaml:"logging" koanf:"logging"`
}

// RunConfig parameterizes one benchmark run: which models write and judge,
// where their prompts live, and how hard the adaptive loop works.
type RunConfig struct {
	Writers []string `yaml:"writers" koanf:"writers" validate:"required,min=2"`
	// Judges defaults to Writers when empty.
	Judges     []string `yaml:"judges,omitempty" koanf:"judges"`
	PromptsDir string   `yaml:"prompts_dir" koanf:"prompts_dir" validate:"required"`

	MaxOutputsPerModel int `yaml:"max_outputs_per_model" koanf:"max_outputs_per_model" validate:"gte=0"`
	MaxRounds          int `yaml:"max_rounds" koanf:"max_rounds" validate:"gte=0"`
	BatchSize          int `yaml:"batch_size" koanf:"batch_size" validate:"gte=1"`
	Concurrency        int `yaml:"concurrency" koanf:"concurrency" validate:"gte=1"`
}

// CacheConfig locates the on-disk artifact cache.
type CacheConfig struct {
	Dir     string `yaml:"dir" koanf:"dir" validate:"required"`
	NoCache bool   `yaml:"no_cache,omitempty" koanf:"no_cache"`
}

// JudgingConfig holds convergence thresholds and judge-quality parameters.
type JudgingConfig struct {
	CIThreshold      float64            `yaml:"ci_threshold" koanf:"ci_threshold" validate:"gt=0"`
	MinPairsPerModel int                `yaml:"min_pairs_per_model" koanf:"min_pairs_per_model" validate:"gte=1"`
	DimensionWeights map[string]float64 `yaml:"dimension_weights,omitempty" koanf:"dimension_weights"`

	WMin                float64 `yaml:"w_min" koanf:"w_min" validate:"gt=0,lte=1"`
	PruneThreshold      float64 `yaml:"prune_threshold" koanf:"prune_threshold" validate:"gte=0"`
	DecayRate           float64 `yaml:"decay_rate" koanf:"decay_rate" validate:"gt=0"`
	ComposePositionBias bool    `yaml:"compose_position_bias,omitempty" koanf:"compose_position_bias"`
}

// OutputConfig controls how the final RunResult / cumulative snapshot is
// reported.
type OutputConfig struct {
	Format string `yaml:"format" koanf:"format" validate:"omitempty,oneof=json table"`
	Path   string `yaml:"path,omitempty" koanf:"path"`
}

// LoggingConfig selects slog level and handler format.
type LoggingConfig struct {
	Level  string `yaml:"level" koanf:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format" koanf:"format" validate:"omitempty,oneof=json text"`
}

// Default returns the configuration's baseline values: everything the
// loader falls back to before a file, env var, or flag overrides it.
func Default() *Config {
	return &Config{
		Run: RunConfig{
			MaxOutputsPerModel: 3,
			MaxRounds:          200,
			BatchSize:          20,
			Concurrency:        8,
		},
		Cache: CacheConfig{
			Dir: ".wbench-cache",
		},
		Judging: JudgingConfig{
			CIThreshold:      50,
			MinPairsPerModel: 5,
			WMin:             0.1,
			PruneThreshold:   0.3,
			DecayRate:        2.0,
		},
		Output: OutputConfig{
			Format: "table",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks cross-field rules the validator struct tags can't
// express.
func (c *Config) Validate() error {
	if len(c.Run.Writers) < 2 {
		return fmt.Errorf("run.writers must list at least two models, got: %d", len(c.Run.Writers))
	}
	if c.Run.PromptsDir == "" {
		return fmt.Errorf("run.prompts_dir is required")
	}
	if c.Run.BatchSize < 1 {
		return fmt.Errorf("run.batch_size must be positive, got: %d", c.Run.BatchSize)
	}
	if c.Run.Concurrency < 1 {
		return fmt.Errorf("run.concurrency must be positive, got: %d", c.Run.Concurrency)
	}
	if c.Judging.CIThreshold <= 0 {
		return fmt.Errorf("judging.ci_threshold must be positive, got: %f", c.Judging.CIThreshold)
	}
	if c.Judging.MinPairsPerModel < 1 {
		return fmt.Errorf("judging.min_pairs_per_model must be positive, got: %d", c.Judging.MinPairsPerModel)
	}
	if c.Judging.WMin <= 0 || c.Judging.WMin > 1 {
		return fmt.Errorf("judging.w_min must be in (0, 1], got: %f", c.Judging.WMin)
	}
	if c.Output.Format != "" && c.Output.Format != "json" && c.Output.Format != "table" {
		return fmt.Errorf("invalid output.format: %s (valid: json, table)", c.Output.Format)
	}
	return nil
}

// Judges returns the configured judges, defaulting to the writer set when
// no judges were configured.
func (c *Config) Judges() []string {
	if len(c.Run.Judges) > 0 {
		return c.Run.Judges
	}
	return c.Run.Writers
}

// Merge overlays other onto c, with other's non-zero fields taking
// precedence — used to apply CLI-flag overrides on top of a file+env
// loaded config.
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}
	if len(other.Run.Writers) > 0 {
		c.Run.Writers = other.Run.Writers
	}
	if len(other.Run.Judges) > 0 {
		c.Run.Judges = other.Run.Judges
	}
	if other.Run.PromptsDir != "" {
		c.Run.PromptsDir = other.Run.PromptsDir
	}
	if other.Run.MaxOutputsPerModel != 0 {
		c.Run.MaxOutputsPerModel = other.Run.MaxOutputsPerModel
	}
	if other.Run.MaxRounds != 0 {
		c.Run.MaxRounds = other.Run.MaxRounds
	}
	if other.Run.BatchSize != 0 {
		c.Run.BatchSize = other.Run.BatchSize
	}
	if other.Run.Concurrency != 0 {
		c.Run.Concurrency = other.Run.Concurrency
	}
	if other.Cache.Dir != "" {
		c.Cache.Dir = other.Cache.Dir
	}
	if other.Cache.NoCache {
		c.Cache.NoCache = true
	}
	if other.Judging.CIThreshold != 0 {
		c.Judging.CIThreshold = other.Judging.CIThreshold
	}
	if other.Judging.MinPairsPerModel != 0 {
		c.Judging.MinPairsPerModel = other.Judging.MinPairsPerModel
	}
	if len(other.Judging.DimensionWeights) > 0 {
		c.Judging.DimensionWeights = other.Judging.DimensionWeights
	}
	if other.Judging.WMin != 0 {
		c.Judging.WMin = other.Judging.WMin
	}
	if other.Judging.PruneThreshold != 0 {
		c.Judging.PruneThreshold = other.Judging.PruneThreshold
	}
	if other.Judging.DecayRate != 0 {
		c.Judging.DecayRate = other.Judging.DecayRate
	}
	if other.Judging.ComposePositionBias {
		c.Judging.ComposePositionBias = true
	}
	if other.Output.Format != "" {
		c.Output.Format = other.Output.Format
	}
	if other.Output.Path != "" {
		c.Output.Path = other.Output.Path
	}
	if other.Logging.Level != "" {
		c.Logging.Level = other.Logging.Level
	}
	if other.Logging.Format != "" {
		c.Logging.Format = other.Logging.Format
	}
}
