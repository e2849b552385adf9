package main

import (
	"fmt"

	"github.com/cairn-labs/wbench/pkg/generators"
)

const version = "0.1.0"

func listCapabilities() {
	fmt.Println("Registered Generators")
	fmt.Println("======================")
	fmt.Println()

	fmt.Printf("Generators (%d):\n", generators.Registry.Count())
	for _, name := range generators.List() {
		fmt.Printf("  - %s\n", name)
	}
}
