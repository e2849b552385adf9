package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Load builds a Config with precedence CLI flags > env vars > config file >
// defaults. configPath may be empty to skip the file layer; overrides may
// be nil to skip the flag layer.
func Load(configPath string, overrides *Config) (*Config, error) {
	k := koanf.New(".")

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// WBENCH_RUN__MAX_ROUNDS -> run.max_rounds (double underscore becomes
	// dot, single underscore preserved).
	err := k.Load(env.Provider("WBENCH_", ".", func(s string) string {
		s = strings.TrimPrefix(s, "WBENCH_")
		s = strings.ReplaceAll(s, "__", ".")
		s = strings.ToLower(s)
		return s
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	// Unmarshal into an empty struct first so only fields actually present
	// in the file or environment are non-zero, then layer that onto the
	// baseline defaults and any CLI-flag overrides via Merge's
	// non-zero-wins semantics.
	var loaded Config
	if err := k.UnmarshalWithConf("", &loaded, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("config unmarshal failed: %w", err)
	}

	cfg := *Default()
	cfg.Merge(&loaded)
	cfg.Merge(overrides)

	v := validator.New()
	if err := v.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	return &cfg, nil
}
