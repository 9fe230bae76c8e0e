// Package tools provides the tool registry the driver consults when a
// model requests function calls mid-conversation.
//
// A registry is explicit per-engine state, never a package singleton, so
// concurrent program runs cannot cross-contaminate. Execution failures
// are reported as errors to the caller; the driver folds them back into
// the conversation as tool-result error strings rather than aborting.
package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/everydev1618/goloom/llm"
)

// Standard errors
var (
	// ErrToolNotFound is returned when a tool is not registered.
	ErrToolNotFound = errors.New("tool not found")

	// ErrToolAlreadyRegistered is returned when registering a duplicate tool name.
	ErrToolAlreadyRegistered = errors.New("tool already registered")
)

// ToolError wraps an execution failure with tool context.
type ToolError struct {
	ToolName string
	Err      error
}

func (e *ToolError) Error() string {
	return "tool " + e.ToolName + ": " + e.Err.Error()
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

// Func is the signature for tool execution.
type Func func(ctx context.Context, args map[string]any) (string, error)

// ParamDef defines one tool parameter for the model-facing schema.
type ParamDef struct {
	Type        string   `json:"type" yaml:"type"`
	Description string   `json:"description" yaml:"description"`
	Required    bool     `json:"required" yaml:"required"`
	Enum        []string `json:"enum,omitempty" yaml:"enum,omitempty"`
}

// Def declares a tool: its description, parameters, and executor.
type Def struct {
	Description string
	Params      map[string]ParamDef
	Fn          Func
}

// Registry is a collection of callable tools.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]registered
}

type registered struct {
	def    Def
	schema llm.ToolSchema
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]registered)}
}

// Register adds a tool. Registering an existing name fails with
// ErrToolAlreadyRegistered.
func (r *Registry) Register(name string, def Def) error {
	if def.Fn == nil {
		return fmt.Errorf("tool %s: nil executor", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("%w: %s", ErrToolAlreadyRegistered, name)
	}
	r.tools[name] = registered{def: def, schema: buildSchema(name, def)}
	return nil
}

// Execute runs a registered tool. An unknown name fails with
// ErrToolNotFound; an executor failure is wrapped in *ToolError.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (string, error) {
	r.mu.RLock()
	entry, ok := r.tools[name]
	r.mu.RUnlock()

	if !ok {
		return "", fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}

	result, err := entry.def.Fn(ctx, args)
	if err != nil {
		return "", &ToolError{ToolName: name, Err: err}
	}
	return result, nil
}

// Has reports whether a tool is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Schema returns the model-facing schemas for the named tools. Unknown
// names are skipped: the model simply never sees them.
func (r *Registry) Schema(names []string) []llm.ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var schemas []llm.ToolSchema
	for _, name := range names {
		if entry, ok := r.tools[name]; ok {
			schemas = append(schemas, entry.schema)
		}
	}
	return schemas
}

// buildSchema converts a Def into the JSON-schema form providers expect.
func buildSchema(name string, def Def) llm.ToolSchema {
	properties := make(map[string]any, len(def.Params))
	var required []string

	for paramName, p := range def.Params {
		prop := map[string]any{
			"type":        p.Type,
			"description": p.Description,
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		properties[paramName] = prop
		if p.Required {
			required = append(required, paramName)
		}
	}

	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}

	return llm.ToolSchema{
		Name:        name,
		Description: def.Description,
		InputSchema: schema,
	}
}
