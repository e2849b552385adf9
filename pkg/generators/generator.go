// Package generators is the registry of writer/judge model implementations
// available to a run, built over wbench's own types.Generator contract.
package generators

import (
	"github.com/cairn-labs/wbench/pkg/registry"
	"github.com/cairn-labs/wbench/pkg/types"
)

// Generator is a type alias for backward-compat call sites that spell out
// the registry package; see types.Generator for the canonical definition.
type Generator = types.Generator

// Registry is the global generator registry. Implementations register
// themselves from an init() function in their own package.
var Registry = registry.New[Generator]("generators")

// Register adds a generator factory to the global registry.
func Register(name string, factory func(registry.Config) (Generator, error)) {
	Registry.Register(name, factory)
}

// List returns all registered generator names.
func List() []string {
	return Registry.List()
}

// Get retrieves a generator factory by name.
func Get(name string) (func(registry.Config) (Generator, error), bool) {
	return Registry.Get(name)
}

// Create instantiates a generator by name.
func Create(name string, cfg registry.Config) (Generator, error) {
	return Registry.Create(name, cfg)
}
