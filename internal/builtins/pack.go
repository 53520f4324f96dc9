// ABOUTME: Pack type grouping built-in tools and their registration into a tools.Registry
// ABOUTME: Converts mcp-go tool definitions into registry definitions with raw JSON schemas

package builtins

import (
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/2389/beacon/internal/tools"
)

// Pack is a named group of built-in tools.
type Pack struct {
	ID    string
	Tools []Tool
}

// Tool pairs an advertised definition with its capability.
type Tool struct {
	Definition tools.Definition
	Capability tools.Capability
}

// newTool builds a Tool from an mcp-go definition.
func newTool(def mcp.Tool, c tools.Capability) Tool {
	return Tool{
		Definition: tools.Definition{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: schemaOf(def),
		},
		Capability: c,
	}
}

// schemaOf renders the tool's input schema. Schemas are static, so a
// marshalling failure is a programming error.
func schemaOf(def mcp.Tool) json.RawMessage {
	data, err := json.Marshal(def.InputSchema)
	if err != nil {
		panic(fmt.Sprintf("builtins: schema for %s: %v", def.Name, err))
	}
	return data
}

// Register adds every tool of every pack to reg, stopping at the first error.
func Register(reg *tools.Registry, packs ...*Pack) error {
	for _, p := range packs {
		for _, t := range p.Tools {
			if err := reg.Register(t.Definition, t.Capability); err != nil {
				return fmt.Errorf("registering %s from %s: %w", t.Definition.Name, p.ID, err)
			}
		}
	}
	return nil
}
