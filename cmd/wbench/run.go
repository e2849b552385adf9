package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/cairn-labs/wbench/internal/needs"
	"github.com/cairn-labs/wbench/pkg/config"
	"github.com/cairn-labs/wbench/pkg/engine"
	"github.com/cairn-labs/wbench/pkg/generators"
	"github.com/cairn-labs/wbench/pkg/logging"
	"github.com/cairn-labs/wbench/pkg/metrics"
	"github.com/cairn-labs/wbench/pkg/promptfile"
	"github.com/cairn-labs/wbench/pkg/registry"
)

func (r *RunCmd) execute() error {
	level := logging.ParseLevel("info")
	if CLI.Debug {
		level = logging.ParseLevel("debug")
	}
	logging.Configure(level, "text", os.Stderr)

	cfg, err := r.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	prompts, err := promptfile.LoadDir(r.PromptsDir)
	if err != nil {
		return fmt.Errorf("load prompts: %w", err)
	}

	genCfg, err := r.generatorConfig()
	if err != nil {
		return err
	}
	gen, err := generators.Create(r.Generator, genCfg)
	if err != nil {
		return fmt.Errorf("create generator %s: %w", r.Generator, err)
	}

	ctx, cancel := r.setupContext()
	defer cancel()

	result, err := engine.Run(ctx, engine.Options{
		Config:         cfg,
		Prompts:        prompts,
		Generator:      gen,
		Metrics:        metrics.New(),
		CumulativePath: r.CumulativeFile,
	})
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}

	return r.report(result)
}

func (r *RunCmd) setupContext() (context.Context, context.CancelFunc) {
	baseCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	ctx, cancel := context.WithTimeout(baseCtx, r.Timeout)
	return ctx, func() { cancel(); stop() }
}

func (r *RunCmd) loadConfig() (*config.Config, error) {
	overrides := &config.Config{}
	overrides.Run = config.RunConfig{
		Writers:            r.Writer,
		Judges:             r.Judge,
		PromptsDir:         r.PromptsDir,
		MaxOutputsPerModel: r.MaxOutputs,
		MaxRounds:          r.MaxRounds,
		BatchSize:          r.BatchSize,
		Concurrency:        r.Concurrency,
	}
	overrides.Cache = config.CacheConfig{Dir: r.CacheDir, NoCache: r.NoCache}
	overrides.Output = config.OutputConfig{Format: r.Format, Path: r.Output}

	path := r.ConfigFile
	cfg, err := config.Load(path, overrides)
	if err != nil {
		return nil, err
	}
	if len(cfg.Run.Writers) < 2 {
		return nil, fmt.Errorf("at least two --writer model ids are required")
	}
	return cfg, nil
}

func (r *RunCmd) generatorConfig() (registry.Config, error) {
	if r.ConfigFile != "" && r.Config != "" {
		return nil, fmt.Errorf("cannot use both --config-file and --config")
	}
	if r.Config == "" {
		return registry.Config{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(r.Config), &m); err != nil {
		return nil, fmt.Errorf("parse --config JSON: %w", err)
	}
	return registry.Config(m), nil
}

func (r *RunCmd) report(result engine.RunResult) error {
	out := os.Stdout
	if r.Output != "" {
		f, err := os.Create(r.Output)
		if err != nil {
			return fmt.Errorf("open output file: %w", err)
		}
		defer f.Close()
		out = f
	}

	if r.Format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	printTable(out, result)
	return nil
}

func printTable(out *os.File, result engine.RunResult) {
	fmt.Fprintln(out, "wbench Run Results")
	fmt.Fprintln(out, "==================")
	fmt.Fprintf(out, "Run ID:   %s\n", result.RunID)
	fmt.Fprintf(out, "Duration: %s\n", result.Duration.Round(time.Second))
	fmt.Fprintf(out, "Round:    %d (converged=%t)\n", result.Progress.Round, result.Progress.Converged)

	dims := []needs.Dimension{needs.DimensionWriting, needs.DimensionRevised, needs.DimensionFeedback}
	for _, dim := range dims {
		ratings, ok := result.Ratings[dim]
		if !ok || len(ratings) == 0 {
			continue
		}
		fmt.Fprintf(out, "\n%s\n", dim)
		fmt.Fprintln(out, "---")

		models := make([]string, 0, len(ratings))
		for m := range ratings {
			models = append(models, m)
		}
		sort.Slice(models, func(i, j int) bool { return ratings[models[i]].Elo > ratings[models[j]].Elo })

		for _, m := range models {
			rating := ratings[m]
			fmt.Fprintf(out, "  %-24s elo=%.1f ci95=%.1f wins=%d losses=%d\n",
				m, rating.Elo, rating.CI95, rating.Wins, rating.Losses)
		}
	}

	if len(result.JudgeReports) > 0 {
		fmt.Fprintln(out, "\nJudge Reliability")
		fmt.Fprintln(out, "---")
		for judge, report := range result.JudgeReports {
			fmt.Fprintf(out, "  %-24s weight=%.2f pruned=%t\n", judge, report.Weight, report.Pruned)
		}
	}

	if len(result.Errors) > 0 {
		fmt.Fprintln(out, "\nErrors")
		fmt.Fprintln(out, "---")
		for _, e := range result.Errors {
			fmt.Fprintf(out, "  %v\n", e)
		}
	}
}
