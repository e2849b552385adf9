package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	_ "github.com/cairn-labs/wbench/internal/generators/httpapi"
)

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name("wbench"),
		kong.Description("wbench - adaptive LLM writing benchmark"),
		kong.UsageOnError(),
		kong.Vars{"version": version},
		kong.Exit(func(code int) {
			if code != 0 {
				os.Exit(2)
			}
			os.Exit(0)
		}),
	)

	err := ctx.Run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
