package main

import (
	"fmt"
	"time"

	"github.com/alecthomas/kong"
)

// CLI is the wbench command-line interface.
var CLI struct {
	Debug      bool          `help:"Enable debug logging." short:"d" env:"WBENCH_DEBUG"`
	Version    VersionCmd    `cmd:"" help:"Print version information."`
	Help       HelpCmd       `cmd:"" hidden:"" default:"1"`
	List       ListCmd       `cmd:"" help:"List registered generators."`
	Run        RunCmd        `cmd:"" help:"Run a benchmark tournament against a set of writer models."`
	Completion CompletionCmd `cmd:"" help:"Generate shell completion scripts."`
}

// VersionCmd prints version information.
type VersionCmd struct{}

func (v *VersionCmd) Run() error {
	fmt.Printf("wbench %s\n", version)
	return nil
}

// HelpCmd prints top-level help.
type HelpCmd struct{}

func (h *HelpCmd) Run(ctx *kong.Context) error {
	appCtx := *ctx
	if len(appCtx.Path) > 1 {
		appCtx.Path = appCtx.Path[:1]
	}
	return appCtx.PrintUsage(false)
}

// ListCmd lists registered generator implementations.
type ListCmd struct{}

func (l *ListCmd) Run() error {
	listCapabilities()
	return nil
}

// RunCmd runs a tournament: a population of writer models compose and
// revise outputs against a prompt set, judges cast pairwise verdicts, and
// ratings are solved and merged into the cumulative leaderboard.
type RunCmd struct {
	Generator string `arg:"" help:"Generator name (e.g., httpapi.Generator)." required:""`

	Writer []string `help:"Writer model ids (repeatable, at least two)." short:"w" name:"writer"`
	Judge  []string `help:"Judge model ids (repeatable); defaults to the writer set." name:"judge"`

	PromptsDir string `help:"Directory of .toml prompt files." name:"prompts-dir" type:"existingdir" required:""`

	ConfigFile string `help:"YAML config file path." type:"existingfile" name:"config-file"`
	Config     string `help:"JSON config for the generator." short:"c"`

	CumulativeFile string `help:"Path to the cumulative ratings JSON file, merged and rewritten after the run." name:"cumulative-file" default:".wbench-cumulative.json"`
	CacheDir       string `help:"Cache directory for generator outputs." name:"cache-dir" default:".wbench-cache"`
	NoCache        bool   `help:"Disable on-disk caching; every call regenerates." name:"no-cache"`

	MaxOutputs  int           `help:"Max outputs per model considered." name:"max-outputs" default:"3"`
	MaxRounds   int           `help:"Safety valve on round count; 0 is ignored and the config file, env or default value applies." name:"max-rounds" default:"200"`
	BatchSize   int           `help:"Needs processed per round." name:"batch-size" default:"20"`
	Concurrency int           `help:"Max concurrent generator calls." name:"concurrency" default:"8" env:"WBENCH_CONCURRENCY"`
	Timeout     time.Duration `help:"Overall run timeout." default:"30m"`

	Format  string `help:"Output format." enum:"table,json" default:"table" short:"f"`
	Output  string `help:"Output file path; stdout when empty." short:"o" type:"path"`
	Verbose bool   `help:"Verbose output." short:"v"`
}

func (r *RunCmd) Run() error {
	return r.execute()
}

func (r *RunCmd) Validate() error {
	if r.Generator == "" {
		return fmt.Errorf("generator argument is required")
	}
	if r.ConfigFile != "" && r.Config != "" {
		return fmt.Errorf("cannot use both --config-file and --config")
	}
	return nil
}

// CompletionCmd generates shell completion scripts.
type CompletionCmd struct {
	Shell string `arg:"" enum:"bash,zsh,fish" help:"Shell type (bash, zsh, fish)."`
}

func (c *CompletionCmd) Run() error {
	switch c.Shell {
	case "bash":
		fmt.Println("# Bash completion for wbench")
		fmt.Println("# Add to ~/.bashrc:")
		fmt.Println("# eval \"$(wbench completion bash)\"")
	case "zsh":
		fmt.Println("# Zsh completion for wbench")
		fmt.Println("# Add to ~/.zshrc:")
		fmt.Println("# eval \"$(wbench completion zsh)\"")
	case "fish":
		fmt.Println("# Fish completion for wbench")
		fmt.Println("# Run: wbench completion fish | source")
	}
	return nil
}
