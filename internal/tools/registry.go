// Package tools implements the tool registry the model calls into during
// turn orchestration. Schemas are reflected from typed argument structs;
// trusted parameters are hidden from the model and injected by the host.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tasklane/tasklane/internal/llm"
	"github.com/tasklane/tasklane/internal/logging"
)

// HandlerFunc executes a tool with fully merged arguments.
type HandlerFunc func(ctx context.Context, args json.RawMessage) (any, error)

// Definition describes a tool available to the model.
type Definition struct {
	Name        string
	Description string
	Args        any      // argument struct prototype, reflected to JSON Schema
	Trusted     []string // parameters injected by the host, never model-visible
	Handler     HandlerFunc
}

type registeredTool struct {
	def    Definition
	schema json.RawMessage // trusted params stripped
}

// Registry holds the tools available during a turn.
type Registry struct {
	log   *logging.Logger
	order []string
	tools map[string]*registeredTool
}

// NewRegistry creates an empty tool registry.
func NewRegistry(log *logging.Logger) *Registry {
	return &Registry{
		log:   log.Sub("tools"),
		tools: make(map[string]*registeredTool),
	}
}

// Register adds a tool. Fails fast on duplicate names and missing handlers.
func (r *Registry) Register(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name must not be empty")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool %q has no handler", def.Name)
	}
	if _, exists := r.tools[def.Name]; exists {
		return fmt.Errorf("tool %q already registered", def.Name)
	}

	schema, err := reflectSchema(def.Args, def.Trusted)
	if err != nil {
		return fmt.Errorf("tool %q: %w", def.Name, err)
	}

	r.tools[def.Name] = &registeredTool{def: def, schema: schema}
	r.order = append(r.order, def.Name)
	return nil
}

// Schemas returns model-ready tool definitions in registration order.
func (r *Registry) Schemas() []llm.ToolDefinition {
	defs := make([]llm.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		defs = append(defs, llm.ToolDefinition{
			Name:        t.def.Name,
			Description: t.def.Description,
			InputSchema: t.schema,
		})
	}
	return defs
}

// Names returns registered tool names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Dispatch parses model-provided arguments, merges trusted values over
// them, and executes the tool. All failures are returned to the model as
// a JSON payload with an "error" key; Dispatch never panics the turn.
func (r *Registry) Dispatch(ctx context.Context, name, argsJSON string, trusted map[string]any) string {
	t, ok := r.tools[name]
	if !ok {
		r.log.Warn().Str("tool", name).Msg("unknown tool requested")
		return errorPayload(fmt.Sprintf("unknown tool: %s", name))
	}

	parsed := map[string]any{}
	if argsJSON != "" {
		if err := json.Unmarshal([]byte(argsJSON), &parsed); err != nil {
			r.log.Warn().Str("tool", name).Err(err).Msg("malformed tool arguments")
			return errorPayload(fmt.Sprintf("invalid arguments: %v", err))
		}
	}

	// Trusted values are merged after parsing so the model cannot
	// override them.
	for k, v := range trusted {
		parsed[k] = v
	}

	merged, err := json.Marshal(parsed)
	if err != nil {
		return errorPayload(fmt.Sprintf("invalid arguments: %v", err))
	}

	r.log.Debug().Str("tool", name).Msg("dispatching tool")
	result, err := t.def.Handler(ctx, merged)
	if err != nil {
		r.log.Warn().Str("tool", name).Err(err).Msg("tool failed")
		return errorPayload(err.Error())
	}

	out, err := json.Marshal(result)
	if err != nil {
		return errorPayload(fmt.Sprintf("failed to encode result: %v", err))
	}
	return string(out)
}

func errorPayload(msg string) string {
	out, _ := json.Marshal(map[string]string{"error": msg})
	return string(out)
}
